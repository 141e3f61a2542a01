package ui

import (
	"FlowSpectra/internal/model"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Source exposes the collectors and their latest exports.
type Source interface {
	Collectors() []model.Collector
	Latest(name string) (*model.Snapshot, bool)
}

// viewState is the per-collector selection of the screen.
type viewState struct {
	sort    int
	reverse bool
	display int
}

// Screen is the interactive terminal renderer.
type Screen struct {
	app    *tview.Application
	header *tview.TextView
	table  *tview.Table
	help   *tview.TextView

	source Source
	status func() string

	mu      sync.Mutex
	current int
	states  map[string]*viewState
}

// NewScreen creates the screen. status may be nil.
func NewScreen(source Source, status func() string) *Screen {
	s := &Screen{
		app:    tview.NewApplication(),
		source: source,
		status: status,
		states: make(map[string]*viewState),
	}
	s.setupUI()
	return s
}

func (s *Screen) setupUI() {
	s.header = tview.NewTextView().
		SetDynamicColors(true)
	s.header.SetBorder(true).
		SetTitle(" FlowSpectra ")

	s.table = tview.NewTable().
		SetFixed(1, 0).
		SetSelectable(false, false)
	s.table.SetBorder(true)

	s.help = tview.NewTextView().
		SetDynamicColors(true).
		SetText("[yellow]←/→[white] collector  [yellow]d[white] display  [yellow]s/S[white] sort field  [yellow]r[white] reverse  [yellow]q[white] quit")

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(s.header, 4, 1, false).
		AddItem(s.table, 0, 1, false).
		AddItem(s.help, 1, 1, false)

	s.app.SetRoot(layout, true).
		SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
			if s.HandleKey(event) {
				s.app.Stop()
				return nil
			}
			s.redraw()
			return nil
		})
}

// Run blocks until the user quits or Stop is called.
func (s *Screen) Run() error {
	s.redraw()
	return s.app.Run()
}

func (s *Screen) Stop() {
	s.app.Stop()
}

// Update is called after every export.
func (s *Screen) Update(snapshots []*model.Snapshot) {
	s.app.QueueUpdateDraw(s.redraw)
}

func (s *Screen) collector() (model.Collector, *viewState) {
	collectors := s.source.Collectors()
	if len(collectors) == 0 {
		return nil, nil
	}
	c := collectors[s.current%len(collectors)]
	st, ok := s.states[c.Name()]
	if !ok {
		st = &viewState{}
		s.states[c.Name()] = st
	}
	return c, st
}

// HandleKey applies a key press and reports whether the user asked to quit.
// Sort and display changes take effect on the next export.
func (s *Screen) HandleKey(event *tcell.EventKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.source.Collectors())
	if n == 0 {
		return event.Key() == tcell.KeyEsc || event.Rune() == 'q'
	}
	switch event.Key() {
	case tcell.KeyEsc:
		return true
	case tcell.KeyRight, tcell.KeyTab:
		s.current = (s.current + 1) % n
		return false
	case tcell.KeyLeft, tcell.KeyBacktab:
		s.current = (s.current + n - 1) % n
		return false
	case tcell.KeyRune:
	default:
		return false
	}

	c, st := s.collector()
	switch event.Rune() {
	case 'q':
		return true
	case 'd':
		if pairs := len(c.DisplayPairs()); pairs > 0 {
			st.display = (st.display + 1) % pairs
			c.SetDisplay(st.display)
		}
	case 's', 'S':
		fields := c.SortFields()
		if len(fields) == 0 {
			break
		}
		step := 1
		if event.Rune() == 'S' {
			step = len(fields) - 1
		}
		st.sort = (st.sort + step) % len(fields)
		c.SetSortField(fields[st.sort], st.reverse)
	case 'r':
		fields := c.SortFields()
		if len(fields) == 0 {
			break
		}
		st.reverse = !st.reverse
		c.SetSortField(fields[st.sort], st.reverse)
	}
	return false
}

// HeaderText renders the header lines for the current collector.
func (s *Screen) HeaderText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, st := s.collector()
	if c == nil {
		return "no collectors"
	}

	var names []string
	for i, other := range s.source.Collectors() {
		if i == s.current%len(s.source.Collectors()) {
			names = append(names, "[black:white]"+other.Name()+"[-:-]")
		} else {
			names = append(names, other.Name())
		}
	}

	sortName := "FQDN"
	if fields := c.SortFields(); len(fields) > 0 {
		sortName = fields[st.sort%len(fields)].String()
	}
	if st.reverse {
		sortName += " (reverse)"
	}
	display := ""
	if pairs := c.DisplayPairs(); len(pairs) > 0 {
		display = pairs[st.display%len(pairs)].Name
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s  live flows: %d\n", time.Now().Format(time.DateTime), strings.Join(names, " "), c.LiveFlows())
	fmt.Fprintf(&b, "display: [green]%s[white]  sort: [green]%s[white]", display, sortName)
	if s.status != nil {
		if status := s.status(); status != "" {
			b.WriteString("  " + status)
		}
	}
	return b.String()
}

func (s *Screen) redraw() {
	s.header.SetText(s.HeaderText())
	s.table.Clear()

	s.mu.Lock()
	c, _ := s.collector()
	s.mu.Unlock()
	if c == nil {
		return
	}
	s.table.SetTitle(" " + c.Name() + " ")

	snap, ok := s.source.Latest(c.Name())
	if !ok {
		s.table.SetCell(0, 0, tview.NewTableCell("waiting for the first export..."))
		return
	}
	out := snap.Output
	headers := append(append([]string{}, out.KeyHeaders...), out.ValueHeaders...)
	for col, h := range headers {
		s.table.SetCell(0, col, tview.NewTableCell(strings.TrimSpace(h)).
			SetTextColor(tcell.ColorYellow).
			SetSelectable(false))
	}
	for i, row := range out.Rows {
		cells := append(append([]string{}, row.Keys...), row.Values...)
		for col, v := range cells {
			cell := tview.NewTableCell(strings.TrimSpace(v))
			if i < 2 {
				// Total rows.
				cell.SetAttributes(tcell.AttrBold)
			}
			s.table.SetCell(i+1, col, cell)
		}
	}
}
