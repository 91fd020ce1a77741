package atlas

import (
	"context"
	"errors"
	"log/slog"

	"github.com/atlasboot/atlas/config"
	"github.com/atlasboot/atlas/console"
	"github.com/atlasboot/atlas/fat32"
	"github.com/atlasboot/atlas/handoff"
	"github.com/atlasboot/atlas/menu"
	"github.com/atlasboot/atlas/volume"
)

// Loader drives the boot menu on a Platform until an entry hands off.
type Loader struct {
	Platform Platform
	CPU      handoff.CPU
	// Idle is called when no input is pending. A non-nil error stops Run
	// and is returned. A nil Idle busy-polls.
	Idle func() error

	console *console.Console
	menu    *menu.Menu
	nav     *menu.Navigator
	log     *slog.Logger
}

// SetLogger sets the logger handed to the loader components. A nil logger
// disables logging.
func (l *Loader) SetLogger(lg *slog.Logger) { l.log = lg }

// Menu returns the boot menu once Run has built it.
func (l *Loader) Menu() *menu.Menu { return l.menu }

// Console returns the console once Run has built it.
func (l *Loader) Console() *console.Console { return l.console }

// Load reads the configuration file into a zeroed heap buffer and parses it.
// A missing file leaves the buffer empty and yields the default menu. Only a
// parser allocation failure is returned as an error.
func (l *Loader) Load() (config.Config, error) {
	p := l.Platform
	h := p.Heap()
	var buf []byte
	blk, err := h.Allocate(config.BufferSize)
	if err == nil {
		buf, err = p.Memory().Slice(blk.Addr, config.BufferSize)
	}
	if err != nil {
		l.print("Error: Failed to allocate config buffer.\n")
		l.warn("loader:config buffer", slog.String("err", err.Error()))
	} else {
		clear(buf)
		n, err := p.Volume().FindAndRead(config.FileName, buf)
		switch {
		case errors.Is(err, fat32.ErrShortBuffer):
			l.warn("loader:config truncated", slog.Int("bytes", n))
		case errors.Is(err, volume.ErrNotFound):
			clear(buf)
			l.print("Warning: " + config.FileName + " not found.\n")
			l.warn("loader:config missing", slog.String("err", err.Error()))
		case err != nil:
			clear(buf)
			l.print("Warning: " + config.FileName + " unreadable.\n")
			l.warn("loader:config unreadable", slog.String("err", err.Error()))
		default:
			l.debug("loader:config", slog.Int("bytes", n))
		}
	}

	parser := config.Parser{Arch: p.Arch(), Heap: h}
	parser.SetLogger(l.log)
	cfg, perr := parser.Parse(buf)
	if perr != nil {
		l.print("Error: Out of memory!")
		l.logerror("loader:config table", slog.String("err", perr.Error()))
		return cfg, perr
	}
	return cfg, nil
}

// Run initializes the heap, loads the configuration, draws the menu and
// dispatches input events. It returns when a handoff fails fatally, when the
// menu cannot be built, when ctx is done or when Idle fails.
func (l *Loader) Run(ctx context.Context) error {
	p := l.Platform
	l.console = console.New(p.Screen())
	if err := p.Heap().Init(); err != nil {
		return err
	}
	l.info("loader:start", slog.String("platform", p.Name()), slog.String("arch", p.Arch().String()))

	cfg, err := l.Load()
	if err != nil {
		return err
	}
	l.menu = menu.New(cfg)
	r := &frameRenderer{c: l.console, stale: true}
	r.DrawMenu(l.menu)

	ctrl := &handoff.Controller{
		Target:  p.Target(),
		Volume:  p.Volume(),
		Memory:  p.Memory(),
		CPU:     l.CPU,
		Display: l.console,
	}
	ctrl.SetLogger(l.log)
	l.nav = &menu.Navigator{Menu: l.menu, Renderer: r, Booter: ctrl}
	l.nav.SetLogger(l.log)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev := p.PollEvent()
		if ev == menu.None {
			if l.Idle != nil {
				if err := l.Idle(); err != nil {
					return err
				}
			}
			continue
		}
		err := l.nav.Handle(ev)
		if err == nil {
			continue
		}
		var herr *handoff.Error
		if errors.As(err, &herr) && !herr.Kind.Fatal() {
			// The status screen stays up until the next keypress.
			r.stale = true
			l.warn("loader:boot failed", slog.String("err", handoff.Describe(err)))
			continue
		}
		l.logerror("loader:halt", slog.String("err", err.Error()))
		return err
	}
}

// frameRenderer redraws the frame before the menu after the screen was
// taken over by a status message.
type frameRenderer struct {
	c     *console.Console
	stale bool
}

func (r *frameRenderer) DrawMenu(m *menu.Menu) {
	if r.stale {
		r.c.DrawFrame()
		r.stale = false
	}
	r.c.DrawMenu(m)
}

func (l *Loader) print(s string) {
	if l.console != nil {
		l.console.PutString(s, console.AttrDefault)
	}
}

func (l *Loader) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if l.log != nil {
		l.log.LogAttrs(context.Background(), level, msg, attrs...)
	}
}

func (l *Loader) debug(msg string, attrs ...slog.Attr) {
	l.logattrs(slog.LevelDebug, msg, attrs...)
}
func (l *Loader) info(msg string, attrs ...slog.Attr) {
	l.logattrs(slog.LevelInfo, msg, attrs...)
}
func (l *Loader) warn(msg string, attrs ...slog.Attr) {
	l.logattrs(slog.LevelWarn, msg, attrs...)
}
func (l *Loader) logerror(msg string, attrs ...slog.Attr) {
	l.logattrs(slog.LevelError, msg, attrs...)
}
