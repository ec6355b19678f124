package recorder

import "errors"

// ErrOversize is returned by the blob entry points when a payload exceeds
// the build's hard cap and the build is not configured to truncate.
var ErrOversize = errors.New("rtedbg: message exceeds max_message_bytes")

// ErrBadFormatID is returned when a format ID conflicts with the build's
// extended-data bit reservation (spec.md section 7's static validation).
var ErrBadFormatID = errors.New("rtedbg: format ID conflicts with extended-data bits")
