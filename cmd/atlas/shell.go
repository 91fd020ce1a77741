package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/abiosoft/ishell"
	"github.com/spf13/cobra"

	"github.com/atlasboot/atlas/config"
	"github.com/atlasboot/atlas/console"
	"github.com/atlasboot/atlas/fat32"
	"github.com/atlasboot/atlas/internal/diskimg"
)

func (a *app) shellCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shell disk.img",
		Short: "Inspect a boot disk image interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := a.openImage(args[0])
			if err != nil {
				return err
			}
			a.runShell(img)
			return nil
		},
	}
}

// image is a disk image opened for inspection.
type image struct {
	lba uint32
	bs  fat32.BootSector
	vol *fat32.Volume
}

// memBlocks serves volume sectors of an in-memory disk from a partition
// start given in disk sectors.
type memBlocks struct {
	disk  []byte
	start int64
	bps   int64
}

func (m memBlocks) ReadBlocks(dst []byte, startBlock int64) error {
	off := m.start*diskimg.SectorSize + startBlock*m.bps
	if off < 0 || off+int64(len(dst)) > int64(len(m.disk)) {
		return errors.New("read beyond end of image")
	}
	copy(dst, m.disk[off:])
	return nil
}

func (a *app) openImage(path string) (*image, error) {
	disk, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(disk) < diskimg.SectorSize {
		return nil, fmt.Errorf("%s: not a disk image", path)
	}
	return mountImage(disk, a.log)
}

func mountImage(disk []byte, log *slog.Logger) (*image, error) {
	lba, err := diskimg.FindVolume(disk[:diskimg.SectorSize])
	if err != nil {
		return nil, err
	}
	off := int(lba) * diskimg.SectorSize
	if off+diskimg.SectorSize > len(disk) {
		return nil, errors.New("volume starts beyond end of image")
	}
	vbr := disk[off : off+diskimg.SectorSize]
	bs, _ := fat32.ToBootSector(vbr)
	params, err := fat32.ParseBootSector(vbr)
	if err != nil {
		return nil, err
	}
	vol := fat32.New(memBlocks{disk: disk, start: int64(lba), bps: int64(params.BytesPerSector)})
	vol.SetLogger(log)
	if err := vol.Init(params); err != nil {
		return nil, err
	}
	return &image{lba: lba, bs: bs, vol: vol}, nil
}

func (a *app) runShell(img *image) {
	shell := ishell.New()
	shell.SetPrompt("atlas> ")
	shell.Set("image", img)
	shell.Println("Volume at sector", img.lba, "- type help for commands")
	shell.AddCmd(&ishell.Cmd{
		Name: "bpb",
		Help: "print the BIOS parameter block",
		Func: shellFunc(func(w io.Writer, img *image, _ []string) error {
			return writeBPB(w, img)
		}),
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "ls",
		Help: "list the root directory",
		Func: shellFunc(func(w io.Writer, img *image, _ []string) error {
			return listRoot(w, img.vol)
		}),
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "load",
		Help: "load NAME: read a file the way the loader does",
		Func: shellFunc(func(w io.Writer, img *image, args []string) error {
			if len(args) != 1 {
				return errors.New("expected 1 argument")
			}
			return loadFile(w, img.vol, args[0])
		}),
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "menu",
		Help: "menu [x86|x64]: show the boot menu built from " + config.FileName,
		Func: shellFunc(func(w io.Writer, img *image, args []string) error {
			arch := config.ArchX86
			if len(args) > 0 {
				switch args[0] {
				case "x86":
				case "x64":
					arch = config.ArchX64
				default:
					return fmt.Errorf("unknown architecture %q", args[0])
				}
			}
			return showMenu(w, img.vol, arch)
		}),
	})
	shell.Run()
}

// shellFunc adapts a command writing to w into an ishell handler.
func shellFunc(fn func(w io.Writer, img *image, args []string) error) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		var sb strings.Builder
		err := fn(&sb, c.Get("image").(*image), c.Args)
		c.Print(sb.String())
		if err != nil {
			c.Err(err)
		}
	}
}

func writeBPB(w io.Writer, img *image) error {
	_, err := fmt.Fprintf(w, "%s\nVolumeLBA:%d\n", img.bs.String(), img.lba)
	return err
}

func listRoot(w io.Writer, vol *fat32.Volume) error {
	return vol.ForEachEntry(func(e fat32.Entry) error {
		kind := "FILE "
		switch {
		case e.Attr.IsVolumeLabel():
			kind = "LABEL"
		case e.Attr.IsSubdirectory():
			kind = "DIR  "
		}
		sn := e.ShortName()
		_, err := fmt.Fprintf(w, "%s %-12s %q cluster=%d size=%d\n", kind, e.Name(), sn[:], e.Cluster, e.Size)
		return err
	})
}

func loadFile(w io.Writer, vol *fat32.Volume, name string) error {
	buf := make([]byte, 1<<20)
	n, err := vol.FindAndRead(name, buf)
	if err != nil && !errors.Is(err, fat32.ErrShortBuffer) {
		return err
	}
	fmt.Fprintf(w, "%s: %d bytes (%d clusters)\n", fat32.Normalize(name).String(), n, n/vol.ClusterSize())
	fmt.Fprintf(w, "%s\n", console.HexBytes(buf[:min(16, n)]))
	if err != nil {
		fmt.Fprintf(w, "truncated: %v\n", err)
	}
	return nil
}

func showMenu(w io.Writer, vol *fat32.Volume, arch config.Arch) error {
	buf := make([]byte, config.BufferSize)
	if _, err := vol.FindAndRead(config.FileName, buf); err != nil && !errors.Is(err, fat32.ErrShortBuffer) {
		fmt.Fprintf(w, "Warning: %s: %v\n", config.FileName, err)
		clear(buf)
	}
	cfg, err := config.Parse(buf, arch)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s (%s)\n", cfg.Title, arch)
	for i, e := range cfg.Entries {
		if e.Placeholder() {
			fmt.Fprintf(w, "  %d. %s\n", i+1, e.Name)
			continue
		}
		fmt.Fprintf(w, "  %d. %s -> %s\n", i+1, e.Name, e.Path)
	}
	return nil
}
