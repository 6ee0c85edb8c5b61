// Package main is a terminal jog pendant for galvosrv.
//
// Arrow keys jog the pointer, + and - change the step, h homes, r makes the
// current position home, space stops, s saves the position under a name,
// g goes to a saved location, and q quits.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/labpointer/galvo/galvo"
)

// RequestTimeout bounds each call to the server
const RequestTimeout = 10 * time.Second

// Server is the part of galvo.Client the pendant uses
type Server interface {
	Position(context.Context) (galvo.Position, error)
	Jog(ctx context.Context, direction string, step int) error
	Home(context.Context) (galvo.Position, error)
	ResetHome(context.Context) (galvo.Position, error)
	Stop(context.Context) error
	SaveLocation(ctx context.Context, name string) error
	Locations(context.Context) (map[string]galvo.Position, error)
	Goto(ctx context.Context, name string) error
}

type posMsg galvo.Position

type locsMsg []string

type statusMsg string

type savedMsg struct {
	name string
	locs []string
}

type errMsg struct{ error }

const (
	modeJog  = "jog"
	modeSave = "save"
	modeGoto = "goto"
)

// Pendant is the bubbletea model
type Pendant struct {
	srv    Server
	addr   string
	pos    galvo.Position
	known  bool
	step   int
	mode   string
	input  string
	status string
	err    error
	locs   []string
}

// NewPendant returns a pendant in jog mode
func NewPendant(srv Server, addr string) Pendant {
	return Pendant{srv: srv, addr: addr, step: galvo.DefaultStepSize, mode: modeJog}
}

func (m Pendant) call(f func(context.Context) (tea.Msg, error)) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), RequestTimeout)
		defer cancel()
		msg, err := f(ctx)
		if err != nil {
			return errMsg{err}
		}
		return msg
	}
}

func (m Pendant) refresh() tea.Cmd {
	return m.call(func(ctx context.Context) (tea.Msg, error) {
		p, err := m.srv.Position(ctx)
		return posMsg(p), err
	})
}

func (m Pendant) jog(dir string) tea.Cmd {
	step := m.step
	return m.call(func(ctx context.Context) (tea.Msg, error) {
		if err := m.srv.Jog(ctx, dir, step); err != nil {
			return nil, err
		}
		p, err := m.srv.Position(ctx)
		return posMsg(p), err
	})
}

func (m Pendant) names(ctx context.Context) ([]string, error) {
	locs, err := m.srv.Locations(ctx)
	names := make([]string, 0, len(locs))
	for k := range locs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names, err
}

func (m Pendant) listLocations() tea.Cmd {
	return m.call(func(ctx context.Context) (tea.Msg, error) {
		names, err := m.names(ctx)
		return locsMsg(names), err
	})
}

// Init fetches the position and saved locations
func (m Pendant) Init() tea.Cmd {
	return tea.Batch(m.refresh(), m.listLocations())
}

// Update handles key presses and server replies
func (m Pendant) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case posMsg:
		m.pos = galvo.Position(msg)
		m.known = true
		m.err = nil
	case locsMsg:
		m.locs = msg
	case statusMsg:
		m.status = string(msg)
		m.err = nil
	case savedMsg:
		m.status = "saved " + msg.name
		m.locs = msg.locs
		m.err = nil
	case errMsg:
		m.err = msg.error
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		if m.mode != modeJog {
			return m.updateInput(msg)
		}
		return m.updateJog(msg)
	}
	return m, nil
}

func (m Pendant) updateJog(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyUp:
		return m, m.jog("up")
	case tea.KeyDown:
		return m, m.jog("down")
	case tea.KeyLeft:
		return m, m.jog("left")
	case tea.KeyRight:
		return m, m.jog("right")
	case tea.KeySpace:
		return m, m.call(func(ctx context.Context) (tea.Msg, error) {
			return statusMsg("stopped"), m.srv.Stop(ctx)
		})
	case tea.KeyRunes:
		switch string(msg.Runes) {
		case "q":
			return m, tea.Quit
		case "+", "=":
			m.step *= 2
		case "-", "_":
			if m.step > 1 {
				m.step /= 2
			}
		case "h":
			return m, m.call(func(ctx context.Context) (tea.Msg, error) {
				p, err := m.srv.Home(ctx)
				return posMsg(p), err
			})
		case "r":
			return m, m.call(func(ctx context.Context) (tea.Msg, error) {
				p, err := m.srv.ResetHome(ctx)
				return statusMsg(fmt.Sprintf("home is now (%d, %d)", p.X, p.Y)), err
			})
		case "s":
			m.mode, m.input = modeSave, ""
		case "g":
			m.mode, m.input = modeGoto, ""
		}
	}
	return m, nil
}

func (m Pendant) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.mode, m.input = modeJog, ""
	case tea.KeyBackspace:
		if len(m.input) > 0 {
			r := []rune(m.input)
			m.input = string(r[:len(r)-1])
		}
	case tea.KeySpace:
		m.input += " "
	case tea.KeyRunes:
		m.input += string(msg.Runes)
	case tea.KeyEnter:
		name := strings.TrimSpace(m.input)
		mode := m.mode
		m.mode, m.input = modeJog, ""
		if name == "" {
			return m, nil
		}
		if mode == modeSave {
			return m, m.call(func(ctx context.Context) (tea.Msg, error) {
				if err := m.srv.SaveLocation(ctx, name); err != nil {
					return nil, err
				}
				names, err := m.names(ctx)
				return savedMsg{name: name, locs: names}, err
			})
		}
		return m, m.call(func(ctx context.Context) (tea.Msg, error) {
			if err := m.srv.Goto(ctx, name); err != nil {
				return nil, err
			}
			p, err := m.srv.Position(ctx)
			return posMsg(p), err
		})
	}
	return m, nil
}

// View draws the pendant
func (m Pendant) View() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("galvojog  %s\n\n", m.addr))
	if m.known {
		b.WriteString(fmt.Sprintf("position  x=%d  y=%d\n", m.pos.X, m.pos.Y))
	} else {
		b.WriteString("position  unknown\n")
	}
	b.WriteString(fmt.Sprintf("step      %d\n", m.step))
	if len(m.locs) > 0 {
		b.WriteString(fmt.Sprintf("saved     %s\n", strings.Join(m.locs, ", ")))
	}
	b.WriteString("\n")

	switch m.mode {
	case modeSave:
		b.WriteString(fmt.Sprintf("save as> %s\n", m.input))
	case modeGoto:
		b.WriteString(fmt.Sprintf("go to> %s\n", m.input))
	}
	if m.err != nil {
		b.WriteString(fmt.Sprintf("error: %v\n", m.err))
	} else if m.status != "" {
		b.WriteString(m.status + "\n")
	}

	if m.mode == modeJog {
		b.WriteString("\n(arrows jog, +/- step, h home, r set home, space stop, s save, g goto, q quit)")
	} else {
		b.WriteString("\n(Enter to submit, Esc to cancel)")
	}
	return b.String()
}

func main() {
	def := os.Getenv("GALVO_SERVER")
	if def == "" {
		def = "localhost:5000"
	}
	addr := flag.String("addr", def, "address of galvosrv")
	flag.Parse()

	c := galvo.NewClient(*addr)
	program := tea.NewProgram(NewPendant(c, c.Addr), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		fmt.Printf("Error running program: %v\n", err)
		os.Exit(1)
	}
}
