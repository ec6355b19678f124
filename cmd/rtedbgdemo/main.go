// Command rtedbgdemo loads a recorder build configuration, emits a burst
// of representative messages, and prints a summary of the resulting
// header and buffer — a minimal host-side stand-in for attaching a real
// debug probe to a target's memory.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/relog-dev/rtedbg/config"
	"github.com/relog-dev/rtedbg/header"
	"github.com/relog-dev/rtedbg/recorder"
	"github.com/relog-dev/rtedbg/timer"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML build configuration (optional; defaults are used when empty)")
	burst := flag.Int("burst", 32, "number of demo messages to emit before summarizing")
	flag.Parse()

	if err := run(*configPath, *burst); err != nil {
		log.Fatal(err)
	}
}

func run(configPath string, burst int) error {
	var p config.Params
	var err error
	if configPath != "" {
		p, err = config.Load(configPath)
	} else {
		p = config.DefaultParams()
	}
	if err != nil {
		return fmt.Errorf("rtedbgdemo: %w", err)
	}

	t := timer.NewCounter(p.TimestampCounterBits)
	r, err := recorder.Init(p, t, recorder.ForceEnableAll, binary.LittleEndian, nil)
	if err != nil {
		return fmt.Errorf("rtedbgdemo: %w", err)
	}

	r.AnnounceTimestampFrequency(1_000_000)
	for i := 0; i < burst; i++ {
		switch i % 4 {
		case 0:
			r.Msg0(uint8(i%32), 0x100)
		case 1:
			r.Msg1(uint8(i%32), 0x101, uint32(i))
		case 2:
			r.Msg2(uint8(i%32), 0x102, uint32(i), uint32(-i))
		case 3:
			r.String(uint8(i%32), 0x103, []byte(fmt.Sprintf("iteration %d", i)))
		}
	}
	r.AdvanceLongTimestamp(false)

	h := header.Header{
		WriteIndex:        r.WriteIndex(),
		FilterMask:        r.GetFilter(),
		ConfigWord:        r.ConfigWord(),
		TimestampHz:       r.TimestampHz(),
		LastNonzeroFilter: r.GetFilter(),
		BufferSize:        r.BufferSize(),
	}

	dst := make([]byte, header.FieldCount*4+4)
	if err := header.EncodeWithCRC(h, dst, binary.LittleEndian); err != nil {
		return fmt.Errorf("rtedbgdemo: %w", err)
	}

	fmt.Fprintf(os.Stdout, "config_word=%#010x filter_mask=%#010x buffer_size=%d capacity=%d\n",
		h.ConfigWord, h.FilterMask, h.BufferSize, r.Capacity())

	nonErased := 0
	for _, w := range r.Buffer() {
		if w != 0xFFFF_FFFF {
			nonErased++
		}
	}
	fmt.Fprintf(os.Stdout, "%d of %d buffer words written\n", nonErased, len(r.Buffer()))
	return nil
}
