// Package monitor draws a live terminal dashboard of bus activity.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/Alnajaar/nilelink-sub003/internal/event"
)

// DefaultInterval is the redraw period.
const DefaultInterval = 500 * time.Millisecond

// Source is what the dashboard reads. *event.Bus satisfies it.
type Source interface {
	Metrics() event.Metrics
	EventHistory(filter event.FilterFunc, limit int) []event.Event
}

var (
	styleTitle   = tcell.StyleDefault.Reverse(true).Bold(true)
	styleLabel   = tcell.StyleDefault.Foreground(tcell.ColorGray)
	styleValue   = tcell.StyleDefault.Bold(true)
	styleHeading = tcell.StyleDefault.Bold(true).Underline(true)
	styleError   = tcell.StyleDefault.Foreground(tcell.ColorRed)
	styleUrgent  = tcell.StyleDefault.Foreground(tcell.ColorYellow)
	styleNormal  = tcell.StyleDefault
)

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the redraw period.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithTitle sets the title bar text.
func WithTitle(title string) Option {
	return func(m *Monitor) { m.title = title }
}

// WithOnDraw calls fn on the Run goroutine after every completed draw.
func WithOnDraw(fn func()) Option {
	return func(m *Monitor) { m.onDraw = fn }
}

// Monitor renders bus metrics and recent events on a tcell screen.
type Monitor struct {
	screen   tcell.Screen
	src      Source
	interval time.Duration
	title    string
	onDraw   func()
}

// New creates a monitor that draws on screen. Run initializes the screen.
func New(screen tcell.Screen, src Source, opts ...Option) *Monitor {
	m := &Monitor{
		screen:   screen,
		src:      src,
		interval: DefaultInterval,
		title:    "nilebus",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewTerminal creates a monitor on the controlling terminal.
func NewTerminal(src Source, opts ...Option) (*Monitor, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, fmt.Errorf("opening terminal: %w", err)
	}
	return New(screen, src, opts...), nil
}

// Run draws until ctx is done or the user presses q, Esc or Ctrl-C.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.screen.Init(); err != nil {
		return fmt.Errorf("initializing screen: %w", err)
	}
	defer m.screen.Fini()

	events := make(chan tcell.Event, 16)
	go func() {
		for {
			ev := m.screen.PollEvent()
			if ev == nil {
				close(events)
				return
			}
			events <- ev
		}
	}()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.redraw()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.redraw()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev := ev.(type) {
			case *tcell.EventKey:
				if quits(ev) {
					return nil
				}
			case *tcell.EventResize:
				m.screen.Sync()
				m.redraw()
			}
		}
	}
}

func quits(ev *tcell.EventKey) bool {
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return true
	case tcell.KeyRune:
		if ev.Modifiers()&tcell.ModCtrl != 0 {
			return ev.Rune() == 'c' || ev.Rune() == 'C'
		}
		return ev.Rune() == 'q' || ev.Rune() == 'Q'
	}
	return false
}

func (m *Monitor) draw() {
	s := m.screen
	s.Clear()
	width, height := s.Size()

	fill(s, 0, width, styleTitle)
	drawText(s, 1, 0, width-1, styleTitle, m.title+" monitor")
	help := "q quit"
	drawText(s, width-len(help)-1, 0, width, styleTitle, help)

	mt := m.src.Metrics()
	drawPairs(s, 1, 2, width, []pair{
		{"published", fmt.Sprint(mt.Published)},
		{"processed", fmt.Sprint(mt.Processed)},
		{"failed", fmt.Sprint(mt.Failed)},
		{"dropped", fmt.Sprint(mt.Dropped)},
	})
	drawPairs(s, 1, 3, width, []pair{
		{"queue", fmt.Sprint(mt.QueueDepth)},
		{"history", fmt.Sprint(mt.HistorySize)},
		{"subscriptions", fmt.Sprint(mt.Subscriptions)},
		{"rules", fmt.Sprint(mt.Rules)},
		{"avg", fmt.Sprintf("%.2fms", mt.AvgProcessingTime)},
	})

	const top = 6
	drawText(s, 1, top-1, width, styleHeading, "recent events")
	rows := height - top
	if rows <= 0 {
		s.Show()
		return
	}
	recent := m.src.EventHistory(nil, rows)
	for i := range recent {
		// newest at the top
		e := recent[len(recent)-1-i]
		drawText(s, 1, top+i, width, rowStyle(e), formatRow(e))
	}
	s.Show()
}

// redraw draws and then runs the draw hook.
func (m *Monitor) redraw() {
	m.draw()
	if m.onDraw != nil {
		m.onDraw()
	}
}

type pair struct {
	label, value string
}

func drawPairs(s tcell.Screen, x, y, width int, pairs []pair) {
	for _, p := range pairs {
		x = drawText(s, x, y, width, styleLabel, p.label+" ")
		x = drawText(s, x, y, width, styleValue, p.value)
		x += 3
	}
}

func formatRow(e event.Event) string {
	return fmt.Sprintf("%s  %-8s  %-28s  %-12s  %s",
		e.Time().Format("15:04:05.000"), e.Metadata.Priority, e.Type, e.Metadata.Source, e.Metadata.ID)
}

func rowStyle(e event.Event) tcell.Style {
	switch {
	case event.IsDiagnostic(e.Type):
		return styleError
	case e.Metadata.Priority.Rank() >= event.PriorityHigh.Rank():
		return styleUrgent
	default:
		return styleNormal
	}
}

// drawText writes str from x, clipped at width, and returns the next column.
func drawText(s tcell.Screen, x, y, width int, style tcell.Style, str string) int {
	for _, r := range str {
		if x >= width {
			break
		}
		if x >= 0 {
			s.SetContent(x, y, r, nil, style)
		}
		x++
	}
	return x
}

func fill(s tcell.Screen, y, width int, style tcell.Style) {
	for x := 0; x < width; x++ {
		s.SetContent(x, y, ' ', nil, style)
	}
}
