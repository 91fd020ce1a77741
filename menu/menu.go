// Package menu holds the boot menu state and the navigation state machine
// driven by three logical key events.
package menu

import (
	"context"
	"log/slog"

	"github.com/atlasboot/atlas/config"
)

// Event is a logical navigation event.
type Event uint8

const (
	None Event = iota
	Up
	Down
	Enter
)

func (ev Event) String() string {
	switch ev {
	case Up:
		return "up"
	case Down:
		return "down"
	case Enter:
		return "enter"
	}
	return "none"
}

// Set-1 make codes delivered by the legacy keyboard controller.
const (
	ScancodeUp    = 0x48
	ScancodeDown  = 0x50
	ScancodeEnter = 0x1C
)

// ScancodeEvent maps a legacy scancode to an event. Unmapped codes yield None.
func ScancodeEvent(sc uint8) Event {
	switch sc {
	case ScancodeUp:
		return Up
	case ScancodeDown:
		return Down
	case ScancodeEnter:
		return Enter
	}
	return None
}

// Menu is the boot menu. Selected always indexes Entries.
type Menu struct {
	Title    string
	Entries  []config.Entry
	Selected int
}

// New returns a menu over the parsed configuration with the first entry selected.
func New(cfg config.Config) *Menu {
	return &Menu{Title: cfg.Title, Entries: cfg.Entries}
}

// Current returns the selected entry.
func (m *Menu) Current() config.Entry {
	return m.Entries[m.Selected]
}

// Renderer draws the menu.
type Renderer interface {
	DrawMenu(m *Menu)
}

// Booter starts the given entry. It only returns on failure.
type Booter interface {
	Boot(e config.Entry) error
}

// Navigator applies events to a menu.
type Navigator struct {
	Menu     *Menu
	Renderer Renderer
	Booter   Booter
	log      *slog.Logger
}

// SetLogger sets the logger. A nil logger disables logging.
func (n *Navigator) SetLogger(l *slog.Logger) { n.log = l }

// Handle applies ev. Up and Down clamp the selection and redraw, Enter boots
// the selected entry and returns the boot error.
func (n *Navigator) Handle(ev Event) error {
	m := n.Menu
	if m == nil || len(m.Entries) == 0 {
		return nil
	}
	switch ev {
	case Up:
		if m.Selected > 0 {
			m.Selected--
		}
		n.Renderer.DrawMenu(m)
	case Down:
		if m.Selected < len(m.Entries)-1 {
			m.Selected++
		}
		n.Renderer.DrawMenu(m)
	case Enter:
		e := m.Current()
		n.debug("menu:boot", slog.String("name", e.Name), slog.String("path", e.Path))
		return n.Booter.Boot(e)
	default:
		return nil
	}
	n.debug("menu:select", slog.String("event", ev.String()), slog.Int("selected", m.Selected))
	return nil
}

func (n *Navigator) debug(msg string, attrs ...slog.Attr) {
	if n.log != nil {
		n.log.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
	}
}
