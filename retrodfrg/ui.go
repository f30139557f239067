// Package retrodfrg draws the live terminal view of a running operation: a
// title, summary lines, the sector map, phase checklist and status block.
package retrodfrg

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
)

// reserved is the number of rows kept below the map for phases and status.
const reserved = 8

// UI owns the tcell screen. All setters are safe to call from any goroutine;
// nothing is drawn until LayoutAndDraw.
type UI struct {
	mu       sync.Mutex
	s        tcell.Screen
	stopChan chan struct{}
	once     sync.Once
	done     chan struct{}

	title        string
	phases       []string
	phaseDoneMap map[string]bool
	summaryLines []string
	legendLines  []string
	statusLines  []string
	sectors      *SectorMap
}

// NewUI initializes the terminal and starts reading keys.
func NewUI() (*UI, error) {
	s, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}
	return NewUIWithScreen(s)
}

// NewUIWithScreen is NewUI over a caller-supplied screen, such as a
// simulation screen.
func NewUIWithScreen(s tcell.Screen) (*UI, error) {
	if err := s.Init(); err != nil {
		return nil, err
	}
	s.DisableMouse()
	u := &UI{
		s:            s,
		stopChan:     make(chan struct{}),
		done:         make(chan struct{}),
		phaseDoneMap: make(map[string]bool),
	}
	go u.eventLoop(s)
	return u, nil
}

// Close restores the terminal. It is safe to call more than once.
func (u *UI) Close() {
	u.mu.Lock()
	s := u.s
	u.s = nil
	u.mu.Unlock()
	if s == nil {
		return
	}
	_ = s.PostEvent(tcell.NewEventInterrupt(nil))
	<-u.done
	s.Fini()
}

// RequestStop signals that the user asked to stop. It can be called many
// times.
func (u *UI) RequestStop() {
	u.once.Do(func() { close(u.stopChan) })
}

// Stopped is closed once a stop was requested.
func (u *UI) Stopped() <-chan struct{} { return u.stopChan }

// IsStopped reports whether a stop was requested.
func (u *UI) IsStopped() bool {
	select {
	case <-u.stopChan:
		return true
	default:
		return false
	}
}

// Size returns the current screen width and height.
func (u *UI) Size() (width, height int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.s == nil {
		return 0, 0
	}
	return u.s.Size()
}

func putStr(s tcell.Screen, x, y int, str string, style tcell.Style) {
	w, _ := s.Size()
	for i, r := range []rune(str) {
		pos := x + i
		if pos >= w {
			break
		}
		s.SetContent(pos, y, r, nil, style)
	}
}

func mapStyle(r rune) tcell.Style {
	switch r {
	case GlyphFault:
		return tcell.StyleDefault.Foreground(tcell.ColorRed).Bold(true)
	case GlyphCurrent:
		return tcell.StyleDefault.Foreground(tcell.ColorYellow)
	case GlyphDone:
		return tcell.StyleDefault.Foreground(tcell.ColorGreen)
	}
	return tcell.StyleDefault
}

// LayoutAndDraw redraws the whole screen from the current state.
func (u *UI) LayoutAndDraw() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.s == nil {
		return
	}
	u.s.Clear()
	w, h := u.s.Size()
	y := 0

	if u.title != "" {
		putStr(u.s, 0, y, strings.Repeat("═", w), tcell.StyleDefault)
		putStr(u.s, max((w-len([]rune(u.title)))/2, 0), y, u.title, tcell.StyleDefault.Bold(true))
		y++
	}
	for _, line := range append(append([]string(nil), u.summaryLines...), u.legendLines...) {
		if y >= h {
			break
		}
		putStr(u.s, 0, y, line, tcell.StyleDefault)
		y++
	}

	if u.sectors != nil {
		rows := max(h-y-reserved, 1)
		for _, line := range u.sectors.Lines(w, rows) {
			if y >= h {
				break
			}
			for x, r := range []rune(line) {
				u.s.SetContent(x, y, r, nil, mapStyle(r))
			}
			y++
		}
	}

	if len(u.phases) > 0 && y < h {
		putStr(u.s, 0, y, strings.Repeat("─", w), tcell.StyleDefault)
		putStr(u.s, 2, y, " Phase ", tcell.StyleDefault)
		y++
		b := strings.Builder{}
		for i, p := range u.phases {
			if i > 0 {
				b.WriteByte(' ')
			}
			mark := ' '
			if u.phaseDoneMap[strings.ToLower(p)] {
				mark = '✓'
			}
			fmt.Fprintf(&b, "[%c]%s", mark, p)
		}
		putStr(u.s, 0, y, b.String(), tcell.StyleDefault)
		y++
	}

	if len(u.statusLines) > 0 && y < h {
		putStr(u.s, 0, y, strings.Repeat("─", w), tcell.StyleDefault)
		putStr(u.s, 2, y, " Status ", tcell.StyleDefault)
		y++
		for _, line := range u.statusLines {
			if y >= h {
				break
			}
			putStr(u.s, 0, y, line, tcell.StyleDefault)
			y++
		}
	}

	u.s.Show()
}

// SetPhaseDone marks a phase complete. Names are case-insensitive.
func (u *UI) SetPhaseDone(p string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.phaseDoneMap[strings.ToLower(p)] = true
}

// AddPhase appends a phase label unless it is already listed.
func (u *UI) AddPhase(label string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, p := range u.phases {
		if strings.EqualFold(p, label) {
			return
		}
	}
	u.phases = append(u.phases, label)
}

func (u *UI) SetPhases(labels []string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.phases = append([]string(nil), labels...)
}

func (u *UI) SetTitle(t string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.title = t
}

func (u *UI) SetSummaryLines(lines []string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.summaryLines = append([]string(nil), lines...)
}

func (u *UI) SetLegend(lines []string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.legendLines = append([]string(nil), lines...)
}

func (u *UI) SetStatusLines(lines []string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.statusLines = append([]string(nil), lines...)
}

// SetSectorMap attaches the map drawn between the legend and the phases.
func (u *UI) SetSectorMap(m *SectorMap) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.sectors = m
}

func (u *UI) eventLoop(s tcell.Screen) {
	defer close(u.done)
	for {
		switch ev := s.PollEvent().(type) {
		case *tcell.EventKey:
			switch {
			case ev.Key() == tcell.KeyCtrlC, ev.Key() == tcell.KeyEscape:
				u.RequestStop()
			case ev.Key() == tcell.KeyRune && (ev.Rune() == 'q' || ev.Rune() == 'Q'):
				u.RequestStop()
			}
		case *tcell.EventResize:
			s.Sync()
		case *tcell.EventInterrupt, nil:
			return
		}
	}
}
