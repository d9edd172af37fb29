package replay

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
	"github.com/muesli/reflow/wordwrap"
)

// Pager is an interactive terminal pager for replays and reports.
type Pager struct {
	title string
}

var (
	barTitleStyle = lipgloss.NewStyle().Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)
	barStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// pagerKeys are the bindings outside search input.
var pagerKeys = struct {
	Quit, Clear, Top, Bottom, Search, Next, Prev key.Binding
}{
	Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c")),
	Clear:  key.NewBinding(key.WithKeys("esc")),
	Top:    key.NewBinding(key.WithKeys("g", "home")),
	Bottom: key.NewBinding(key.WithKeys("G", "f", "end")),
	Search: key.NewBinding(key.WithKeys("/")),
	Next:   key.NewBinding(key.WithKeys("n")),
	Prev:   key.NewBinding(key.WithKeys("N")),
}

// settleDelay lets a writer finish appending before the file is re-read.
const settleDelay = 100 * time.Millisecond

// NewPager creates a pager with the given title.
func NewPager(title string) *Pager {
	return &Pager{title: title}
}

// Run shows content until the user quits.
func (p *Pager) Run(content string) error {
	return runProgram(&pagerModel{title: p.title, content: content})
}

// RunLive shows render's output and re-renders whenever path is written.
func (p *Pager) RunLive(path string, render func() (string, error)) error {
	content, err := render()
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	defer w.Close()
	if err := w.Add(path); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	return runProgram(&pagerModel{title: p.title, content: content, render: render, watcher: w})
}

func runProgram(m *pagerModel) error {
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion()).Run()
	return err
}

// sessionWritten signals that the followed session file changed.
type sessionWritten struct{}

// waitForWrite blocks until w reports a write or create, or closes.
func waitForWrite(w *fsnotify.Watcher) tea.Cmd {
	return func() tea.Msg {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return nil
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					time.Sleep(settleDelay)
					return sessionWritten{}
				}
			case _, ok := <-w.Errors:
				if !ok {
					return nil
				}
			}
		}
	}
}

// search tracks the active query and the wrapped lines it matched.
type search struct {
	input   textinput.Model
	editing bool
	query   string
	hits    []int
	current int
}

func (s *search) open() tea.Cmd {
	s.editing = true
	s.input = textinput.New()
	s.input.Placeholder = "Search..."
	s.input.CharLimit = 100
	s.input.Width = 40
	s.input.SetValue(s.query)
	s.input.Focus()
	return textinput.Blink
}

func (s *search) reset() {
	s.query, s.hits, s.current = "", nil, 0
}

func (s *search) run(content string) {
	s.hits = searchLines(content, s.query)
	s.current = 0
}

func (s *search) missed() bool {
	return s.query != "" && len(s.hits) == 0
}

// step moves the current hit by delta, wrapping around.
func (s *search) step(delta int) (int, bool) {
	if len(s.hits) == 0 {
		return 0, false
	}
	s.current = (s.current + delta + len(s.hits)) % len(s.hits)
	return s.hits[s.current], true
}

type pagerModel struct {
	title   string
	content string
	wrapped string
	vp      viewport.Model
	ready   bool
	find    search

	// set in live mode
	render  func() (string, error)
	watcher *fsnotify.Watcher
}

func (m *pagerModel) Init() tea.Cmd {
	if m.watcher != nil {
		return waitForWrite(m.watcher)
	}
	return nil
}

func (m *pagerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.find.editing {
		return m.updateSearchInput(msg)
	}

	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case sessionWritten:
		if content, err := m.render(); err == nil {
			offset := m.vp.YOffset
			m.setContent(content)
			m.vp.SetYOffset(offset)
		}
		cmds = append(cmds, waitForWrite(m.watcher))

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, pagerKeys.Quit):
			return m, tea.Quit
		case key.Matches(msg, pagerKeys.Clear):
			if m.find.query == "" {
				return m, tea.Quit
			}
			m.find.reset()
		case key.Matches(msg, pagerKeys.Top):
			m.vp.GotoTop()
		case key.Matches(msg, pagerKeys.Bottom):
			m.vp.GotoBottom()
		case key.Matches(msg, pagerKeys.Search):
			return m, m.find.open()
		case key.Matches(msg, pagerKeys.Next):
			m.stepSearch(1)
		case key.Matches(msg, pagerKeys.Prev):
			m.stepSearch(-1)
		}

	case tea.WindowSizeMsg:
		// one row each for the title bar and the status bar
		if m.ready {
			m.vp.Width, m.vp.Height = msg.Width, msg.Height-2
		} else {
			m.vp = viewport.New(msg.Width, msg.Height-2)
			m.vp.YPosition = 1
			m.ready = true
		}
		m.setContent(m.content)
	}

	var cmd tea.Cmd
	m.vp, cmd = m.vp.Update(msg)
	return m, tea.Batch(append(cmds, cmd)...)
}

func (m *pagerModel) updateSearchInput(msg tea.Msg) (tea.Model, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.String() {
		case "enter":
			m.find.editing = false
			m.find.query = m.find.input.Value()
			m.find.run(m.wrapped)
			m.find.current = -1
			m.stepSearch(1)
			return m, nil
		case "esc", "ctrl+c":
			m.find.editing = false
			m.find.reset()
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.find.input, cmd = m.find.input.Update(msg)
	return m, cmd
}

// stepSearch scrolls so the next hit sits mid-screen.
func (m *pagerModel) stepSearch(delta int) {
	line, ok := m.find.step(delta)
	if !ok {
		return
	}
	m.vp.SetYOffset(max(0, line-m.vp.Height/2))
}

func (m *pagerModel) setContent(content string) {
	m.content = content
	m.wrapped = wrapContent(content, m.vp.Width)
	m.vp.SetContent(m.wrapped)
	if m.find.query != "" {
		m.find.run(m.wrapped)
	}
}

func (m *pagerModel) View() string {
	if !m.ready {
		return "\n  Loading..."
	}
	return m.titleBar() + "\n" + m.vp.View() + "\n" + m.statusBar()
}

func (m *pagerModel) titleBar() string {
	title := barTitleStyle.Render(m.title)
	return title + barStyle.Render(strings.Repeat("─", max(0, m.vp.Width-lipgloss.Width(title))))
}

func (m *pagerModel) statusBar() string {
	if m.find.editing {
		return warnStyle.Render("/") + m.find.input.View()
	}
	var help string
	switch {
	case m.find.missed():
		help = " " + errorStyle.Render("Pattern not found") + " │ /: search "
	case len(m.find.hits) > 0:
		pos := fmt.Sprintf("[%d/%d]", m.find.current+1, len(m.find.hits))
		help = " " + warnStyle.Render(pos) + " │ n/N: next/prev │ esc: clear "
	case m.watcher != nil:
		help = " " + successStyle.Bold(true).Render("● LIVE") + " │ q: quit │ /: search │ f: follow "
	default:
		help = " q: quit │ /: search │ n/N: next/prev │ g/G: top/bottom "
	}
	pct := fmt.Sprintf(" %3.f%% ", m.vp.ScrollPercent()*100)
	fill := max(0, m.vp.Width-lipgloss.Width(help)-lipgloss.Width(pct))
	return barStyle.Render(help + strings.Repeat("─", fill) + pct)
}

// searchLines returns the indexes of lines containing query, case-insensitively.
func searchLines(content, query string) []int {
	if query == "" {
		return nil
	}
	needle := strings.ToLower(query)
	var hits []int
	for i, line := range strings.Split(content, "\n") {
		if strings.Contains(strings.ToLower(line), needle) {
			hits = append(hits, i)
		}
	}
	return hits
}

// wrapContent wraps lines to width. A timeline row's continuation lines stay
// aligned with its content column, the text after the last gutter.
func wrapContent(content string, width int) string {
	if width <= 0 {
		return content
	}
	var out []string
	for _, line := range strings.Split(content, "\n") {
		if lipgloss.Width(line) <= width {
			out = append(out, line)
			continue
		}
		prefix, body := splitGutter(line)
		if prefix == "" {
			out = append(out, strings.Split(wordwrap.String(line, width), "\n")...)
			continue
		}
		pw := lipgloss.Width(prefix)
		parts := strings.Split(wordwrap.String(body, max(20, width-pw)), "\n")
		out = append(out, prefix+parts[0])
		pad := strings.Repeat(" ", pw)
		for _, p := range parts[1:] {
			out = append(out, pad+p)
		}
	}
	return strings.Join(out, "\n")
}

// splitGutter splits a timeline row after its last "│" and following spaces.
// Rows without a gutter, or ending at it, return an empty prefix.
func splitGutter(line string) (prefix, body string) {
	i := strings.LastIndex(line, "│")
	if i <= 0 || i+len("│") >= len(line) {
		return "", line
	}
	start := i + len("│")
	for start < len(line) && line[start] == ' ' {
		start++
	}
	return line[:start], line[start:]
}
