package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/atlasboot/atlas/config"
	"github.com/atlasboot/atlas/internal/diskimg"
)

type mkimageFlags struct {
	output     string
	config     string
	mbr        bool
	label      string
	bootSector string
	stage2     string
	sectors    uint32
	sectorSize int
}

func (a *app) mkimageCommand() *cobra.Command {
	var f mkimageFlags
	cmd := &cobra.Command{
		Use:   "mkimage [NAME=path ...]",
		Short: "Build a FAT32 boot disk image",
		Long: "Build a FAT32 boot disk image holding " + config.FileName + " and the given files.\n" +
			"NAME is the path on the volume, path the host file to copy.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.mkimage(f, args)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&f.output, "output", "o", "disk.img", "output image file")
	flags.StringVar(&f.config, "config", "", "boot configuration to store as "+config.FileName)
	flags.BoolVar(&f.mbr, "mbr", false, "wrap the volume in an MBR partitioned disk")
	flags.StringVar(&f.label, "label", diskimg.DefaultLabel, "volume label (<=11 ASCII)")
	flags.StringVar(&f.bootSector, "boot-sector", "", "volume boot record code to install")
	flags.StringVar(&f.stage2, "stage2", "", "second stage loader to install in the reserved sectors")
	flags.Uint32Var(&f.sectors, "sectors", diskimg.TotalSectors, "volume size in volume sectors")
	flags.IntVar(&f.sectorSize, "sector-size", diskimg.SectorSize, "volume sector size in bytes (512 to 4096)")
	return cmd
}

func (a *app) mkimage(f mkimageFlags, args []string) error {
	opts := diskimg.Options{
		BytesPerSector: f.sectorSize,
		TotalSectors:   f.sectors,
		Label:          f.label,
		MBR:            f.mbr,
		Logger:         a.log,
	}
	var err error
	if f.bootSector != "" {
		if opts.BootSector, err = os.ReadFile(f.bootSector); err != nil {
			return err
		}
	}
	if f.stage2 != "" {
		if opts.Stage2, err = os.ReadFile(f.stage2); err != nil {
			return err
		}
	}
	files, err := parseFileArgs(args)
	if err != nil {
		return err
	}
	if f.config != "" {
		files = append([]fileArg{{name: config.FileName, path: f.config}}, files...)
	}

	img, err := diskimg.New(opts)
	if err != nil {
		return err
	}
	for _, fa := range files {
		data, err := os.ReadFile(fa.path)
		if err != nil {
			return err
		}
		if err := img.Add(fa.name, data); err != nil {
			return err
		}
	}
	if err := os.WriteFile(f.output, img.Bytes(), 0o644); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Created %s with %d files.\n", f.output, img.Files())
	return nil
}

type fileArg struct {
	name, path string
}

var errFileArg = errors.New("file arguments take the form NAME=path")

func parseFileArgs(args []string) ([]fileArg, error) {
	files := make([]fileArg, 0, len(args))
	for _, arg := range args {
		name, path, ok := strings.Cut(arg, "=")
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("%w: %q", errFileArg, arg)
		}
		files = append(files, fileArg{name: name, path: path})
	}
	return files, nil
}
