// Command atlas builds boot disk images and runs the boot loader against them
// on emulated hardware.
//
//	atlas mkimage -o disk.img --config ATLAS.CFG KERNEL.BIN=build/kernel.bin
//	atlas boot --mode legacy disk.img
//	atlas boot --mode uefi esp/
//	atlas shell disk.img
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
)

type app struct {
	logLevel string
	log      *slog.Logger
	stdin    *os.File
	stdout   io.Writer
	stderr   io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	a := &app{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	err := a.command().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func (a *app) command() *cobra.Command {
	root := &cobra.Command{
		Use:           "atlas",
		Short:         "Atlas boot loader tools",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := parseLevel(a.logLevel)
			if err != nil {
				return err
			}
			a.log = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level}))
			return nil
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "log level: debug|info|warn|error|off")
	root.AddCommand(a.mkimageCommand(), a.bootCommand(), a.shellCommand())
	return root
}

// levelOff is above every level used by the loader.
const levelOff = slog.Level(100)

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning", "":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	case "off", "none":
		return levelOff, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}
