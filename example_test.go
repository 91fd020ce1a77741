package atlas_test

import (
	"context"
	"errors"
	"fmt"
	"testing/fstest"

	"github.com/atlasboot/atlas"
	"github.com/atlasboot/atlas/efi"
	"github.com/atlasboot/atlas/efi/emu"
	"github.com/atlasboot/atlas/handoff"
)

func ExampleLoader_firmware() {
	fw, err := emu.New(emu.Config{
		MemorySize: 16 << 20,
		PoolBase:   0x400000,
		PoolSize:   1 << 20,
		Files: fstest.MapFS{
			"ATLAS.CFG": {Data: []byte("title=Example\n[entry]\nname=Kernel\nkernel_x64=K64.BIN\n[entry]\nname=Legacy only\nkernel_x86=K32.BIN\n")},
			"K64.BIN":   {Data: []byte{0xEB, 0xFE}},
		},
	})
	if err != nil {
		panic(err)
	}
	mem := handoff.NewFlatMemory(16 << 20)
	fw.Input().Push(efi.InputKey{UnicodeChar: efi.CharReturn})
	cpu := &recordingCPU{mem: mem}

	l := &atlas.Loader{
		Platform: atlas.NewFirmware(fw.SystemTable(), fw.ImageHandle(), mem, nil),
		CPU:      cpu,
	}
	err = l.Run(context.Background())
	for _, e := range l.Menu().Entries {
		fmt.Println("entry:", e.Name, e.Path)
	}
	fmt.Printf("called %#x with %#x\n", cpu.entry, cpu.arg)
	fmt.Println("image returned:", errors.Is(err, handoff.ErrImageReturned))
	// Output:
	// entry: Kernel K64.BIN
	// called 0x200000 with 0xb8000
	// image returned: true
}
