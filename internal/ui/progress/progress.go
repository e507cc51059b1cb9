// Package progress is the interactive walk view: a spinner and a scrolling
// log of slot banners while the table is walked, then a browsable list of the
// records once it is done.
package progress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/v2/list"
	"github.com/charmbracelet/bubbles/v2/spinner"
	"github.com/charmbracelet/bubbles/v2/viewport"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss/v2"

	"tablewalk/internal/report"
	"tablewalk/internal/ui/colorize"
	"tablewalk/internal/walker"
)

// Message types
type (
	// MessageMsg is a monitor status line.
	MessageMsg struct{ Text string }
	// RecordMsg carries one finished record.
	RecordMsg struct{ Record walker.Record }
	// DoneMsg ends the walk.
	DoneMsg struct {
		Records []walker.Record
		Stats   walker.Stats
		Err     error
	}
)

// Monitor forwards walk progress to a running program.
type Monitor struct {
	send func(tea.Msg)
}

// NewMonitor returns a Monitor that delivers messages through send, usually
// (*tea.Program).Send.
func NewMonitor(send func(tea.Msg)) *Monitor {
	return &Monitor{send: send}
}

func (m *Monitor) SetMessage(msg string) { m.send(MessageMsg{Text: msg}) }

// Record is a walker.Options.OnRecord callback.
func (m *Monitor) Record(rec walker.Record) { m.send(RecordMsg{Record: rec}) }

type viewMode int

const (
	viewLog viewMode = iota
	viewRecords
	viewDetail
)

type recordItem struct {
	rec walker.Record
}

func (i recordItem) Title() string {
	return fmt.Sprintf("%s  %s  %s", i.rec.QueryCode, i.rec.Address, i.rec.Name)
}

func (i recordItem) Description() string { return i.rec.Signature }

func (i recordItem) FilterValue() string {
	return i.rec.QueryCode + " " + i.rec.Name + " " + i.rec.KnownName
}

type itemDelegate struct{}

func (d itemDelegate) Height() int                               { return 1 }
func (d itemDelegate) Spacing() int                              { return 0 }
func (d itemDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d itemDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(recordItem)
	if !ok {
		return
	}

	indicator := " "
	codeStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	if index == m.Index() {
		indicator = ">"
		codeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))
	}

	name := i.rec.Name
	if i.rec.Signature != "" {
		name = colorize.Signature(i.rec.Signature)
	} else if i.rec.Error != "" {
		name = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render(name)
	}
	fmt.Fprintf(w, " %s  %s  %s", indicator, codeStyle.Render(i.rec.QueryCode), name)
}

// Model is the bubbletea model for a walk.
type Model struct {
	spinner spinner.Model
	log     viewport.Model
	records list.Model
	detail  viewport.Model
	mode    viewMode
	title   string
	status  string
	logBuf  *bytes.Buffer
	total   int
	seen    int
	done    bool
	stats   walker.Stats
	err     error
	width   int
	height  int
}

// New returns a model for a walk over total slots.
func New(title string, total int) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))

	lv := viewport.New()
	lv.SetWidth(80)
	lv.SetHeight(22)
	dv := viewport.New()
	dv.SetWidth(80)
	dv.SetHeight(22)

	recs := list.New([]list.Item{}, itemDelegate{}, 80, 22)
	recs.SetShowStatusBar(false)
	recs.SetFilteringEnabled(true)
	recs.Title = "Records"
	recs.Styles.Title = lipgloss.NewStyle().
		Foreground(lipgloss.Color("99")).
		MarginLeft(2)

	return Model{
		spinner: s,
		log:     lv,
		records: recs,
		detail:  dv,
		title:   title,
		status:  "Reading table",
		logBuf:  &bytes.Buffer{},
		total:   total,
		width:   80,
		height:  24,
	}
}

// Done reports whether the walk has finished.
func (m Model) Done() bool { return m.done }

// Seen is the number of records received so far.
func (m Model) Seen() int { return m.seen }

// Stats and Err are the walk's outcome once Done.
func (m Model) Stats() walker.Stats { return m.stats }
func (m Model) Err() error          { return m.err }

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case MessageMsg:
		m.status = msg.Text
		return m, nil

	case RecordMsg:
		m.seen++
		report.Banner(m.logBuf, msg.Record, colorize.Enabled())
		m.log.SetContent(m.logBuf.String())
		m.log.GotoBottom()
		return m, nil

	case DoneMsg:
		m.done = true
		m.stats = msg.Stats
		m.err = msg.Err
		if msg.Err != nil {
			m.status = "Walk failed: " + msg.Err.Error()
			return m, nil
		}
		m.status = fmt.Sprintf("Walked %d slots", msg.Stats.Slots)
		items := make([]list.Item, 0, len(msg.Records))
		for _, r := range msg.Records {
			items = append(items, recordItem{rec: r})
		}
		m.mode = viewRecords
		return m, m.records.SetItems(items)

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.log.SetWidth(msg.Width)
		m.log.SetHeight(msg.Height - 2)
		m.records.SetWidth(msg.Width)
		m.records.SetHeight(msg.Height - 2)
		m.detail.SetWidth(msg.Width)
		m.detail.SetHeight(msg.Height - 2)
		return m, nil

	case tea.KeyMsg:
		if m.mode == viewRecords && m.records.FilterState() == list.Filtering {
			if msg.String() == "ctrl+c" {
				return m.quit()
			}
			break
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m.quit()
		case "esc":
			if m.mode == viewDetail {
				m.mode = viewRecords
				return m, nil
			}
		case "l":
			if m.done {
				m.mode = viewLog
				return m, nil
			}
		case "tab":
			if m.done && m.mode == viewLog {
				m.mode = viewRecords
				return m, nil
			}
		case "enter":
			if m.mode == viewRecords {
				if it, ok := m.records.SelectedItem().(recordItem); ok {
					var b bytes.Buffer
					report.Banner(&b, it.rec, colorize.Enabled())
					m.detail.SetContent(b.String())
					m.detail.GotoTop()
					m.mode = viewDetail
				}
				return m, nil
			}
		}
	}

	switch m.mode {
	case viewRecords:
		m.records, cmd = m.records.Update(msg)
	case viewDetail:
		m.detail, cmd = m.detail.Update(msg)
	default:
		m.log, cmd = m.log.Update(msg)
	}
	return m, cmd
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	return m, tea.Quit
}

func (m Model) View() string {
	var content string
	switch m.mode {
	case viewRecords:
		content = m.records.View()
	case viewDetail:
		content = m.detail.View()
	default:
		content = m.log.View()
	}

	var status string
	if m.done {
		status = " " + m.status + " "
	} else {
		status = fmt.Sprintf(" %s %s: %s (%d/%d) ", m.spinner.View(), m.title, m.status, m.seen, m.total)
	}

	var menu string
	switch {
	case !m.done:
		menu = "Q: quit"
	case m.mode == viewDetail:
		menu = "Esc: back • Q: quit"
	case m.mode == viewLog:
		menu = "Tab: records • Q: quit"
	default:
		menu = "Enter: details • L: log • /: filter • Q: quit"
	}

	menuStyle := lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Foreground(lipgloss.Color("252")).
		Padding(0, 1).
		Width(m.width)

	return content + "\n" + menuStyle.Render(status+"│ "+menu)
}

// WalkFunc runs the walk, reporting through mon.
type WalkFunc func(ctx context.Context, mon *Monitor) ([]walker.Record, walker.Stats, error)

type result struct {
	records []walker.Record
	stats   walker.Stats
	err     error
}

// Run shows the walk view while walk runs in the background. Quitting before
// the walk finishes cancels it. The view stays open after the walk so the
// records can be browsed.
func Run(ctx context.Context, title string, total int, walk WalkFunc, opts ...tea.ProgramOption) ([]walker.Record, walker.Stats, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	program := tea.NewProgram(New(title, total), opts...)
	mon := NewMonitor(program.Send)

	results := make(chan result, 1)
	go func() {
		recs, st, err := walk(ctx, mon)
		program.Send(DoneMsg{Records: recs, Stats: st, Err: err})
		results <- result{records: recs, stats: st, err: err}
	}()

	_, runErr := program.Run()
	cancel()
	res := <-results
	if res.err != nil {
		return nil, res.stats, res.err
	}
	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		return res.records, res.stats, fmt.Errorf("progress view: %w", runErr)
	}
	return res.records, res.stats, nil
}
