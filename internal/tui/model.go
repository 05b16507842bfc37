// Package tui implements the terminal front end of livescribe.
//
// The user types into an input pane and sees the transcription of the whole
// text in the output pane while typing. Transcription runs on a
// [worker.Worker]; its results reach the bubbletea program as messages
// through [Bridge], so the UI never blocks on rule application.
package tui

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/filepicker"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/livescribe/internal/worker"
)

// Transcriber is the part of a [worker.Worker] the UI drives.
type Transcriber interface {
	Names() []string
	Selected() string
	Select(name string) error
	Path() string
	LoadRuleset(path string) error
	SubmitTranscription(text string)
	RequestReload()
	RequestExit(onExit func())
}

var _ Transcriber = (*worker.Worker)(nil)

// Messages delivered by [Bridge] and by the model's own commands.
type (
	transcribedMsg struct{ text string }
	statusMsg      struct{ status worker.Status }
	rulesetsMsg    struct {
		names    []string
		selected string
	}
	statusExpiredMsg struct{ seq int }
	exitedMsg        struct{}
)

type mode int

const (
	modeEdit mode = iota
	modePicker
	modeList
)

// rulesetItem is a rule set name in the selection list.
type rulesetItem string

func (i rulesetItem) FilterValue() string { return string(i) }
func (i rulesetItem) Title() string       { return string(i) }
func (i rulesetItem) Description() string { return "" }

// Option configures a [Model].
type Option func(*Model)

// WithFilePicker opens the file picker in dir on start, as if the user had
// asked for a rules file. An empty dir means the working directory.
func WithFilePicker(dir string) Option {
	return func(m *Model) {
		m.mode = modePicker
		m.startDir = dir
	}
}

// WithStatusHold sets how long status messages produced by the UI itself
// stay visible. Worker statuses carry their own hold.
func WithStatusHold(d time.Duration) Option {
	return func(m *Model) {
		if d > 0 {
			m.hold = d
		}
	}
}

// Model is the bubbletea model of the terminal UI.
type Model struct {
	tr     Transcriber
	keys   keyMap
	styles styles
	hold   time.Duration

	input  textarea.Model
	output viewport.Model
	picker filepicker.Model
	list   list.Model
	help   help.Model

	mode     mode
	startDir string

	names    []string
	selected string
	path     string
	text     string
	result   string

	status    worker.Status
	statusSeq int
	exiting   bool

	width  int
	height int
}

// New returns a model driving tr.
func New(tr Transcriber, opts ...Option) Model {
	input := textarea.New()
	input.Placeholder = "Type here, the transcription follows as you type..."
	input.ShowLineNumbers = false
	input.Focus()

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = false
	l := list.New(nil, delegate, 0, 0)
	l.Title = "Rulesets"
	l.SetShowStatusBar(false)

	m := Model{
		tr:       tr,
		keys:     defaultKeys(),
		styles:   defaultStyles(),
		hold:     worker.DefaultStatusHold,
		input:    input,
		output:   viewport.New(0, 0),
		list:     l,
		help:     help.New(),
		names:    tr.Names(),
		selected: tr.Selected(),
		path:     tr.Path(),
	}
	for _, o := range opts {
		o(&m)
	}
	if m.mode == modePicker {
		m.picker = m.newPicker()
	}
	return m
}

// Init starts the cursor blink and, when asked for, the file picker.
func (m Model) Init() tea.Cmd {
	if m.mode == modePicker {
		return tea.Batch(textarea.Blink, m.picker.Init())
	}
	return textarea.Blink
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case transcribedMsg:
		m.result = msg.text
		m.refreshOutput()
		return m, nil

	case rulesetsMsg:
		m.names, m.selected = msg.names, msg.selected
		m.path = m.tr.Path()
		return m, nil

	case statusMsg:
		cmd := m.showStatus(msg.status)
		return m, cmd

	case statusExpiredMsg:
		if msg.seq == m.statusSeq {
			m.status = worker.Status{}
		}
		return m, nil

	case exitedMsg:
		return m, tea.Quit

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			return m.quit()
		}
	}

	switch m.mode {
	case modePicker:
		return m.updatePicker(msg)
	case modeList:
		return m.updateList(msg)
	default:
		return m.updateEdit(msg)
	}
}

func (m Model) updateEdit(msg tea.Msg) (tea.Model, tea.Cmd) {
	if km, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(km, m.keys.Next):
			return m.cycle(1)
		case key.Matches(km, m.keys.Prev):
			return m.cycle(-1)
		case key.Matches(km, m.keys.Reload):
			m.tr.RequestReload()
			return m, nil
		case key.Matches(km, m.keys.Open):
			m.mode = modePicker
			m.picker = m.newPicker()
			return m, m.picker.Init()
		case key.Matches(km, m.keys.Rulesets):
			return m.openList()
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if v := m.input.Value(); v != m.text {
		m.text = v
		m.tr.SubmitTranscription(v)
	}
	return m, cmd
}

func (m Model) updatePicker(msg tea.Msg) (tea.Model, tea.Cmd) {
	if km, ok := msg.(tea.KeyMsg); ok && key.Matches(km, m.keys.Cancel) {
		m.mode = modeEdit
		cmd := m.showStatus(worker.Status{Message: "no file chosen, rules left unchanged", Hold: m.hold})
		return m, cmd
	}

	var cmd tea.Cmd
	m.picker, cmd = m.picker.Update(msg)
	if ok, path := m.picker.DidSelectFile(msg); ok {
		m.mode = modeEdit
		loadCmd := m.loadFile(path)
		return m, tea.Batch(cmd, loadCmd)
	}
	if ok, path := m.picker.DidSelectDisabledFile(msg); ok {
		statusCmd := m.showStatus(worker.Status{
			Message: fmt.Sprintf("%s is not a rules file", path),
			Hold:    m.hold,
		})
		return m, tea.Batch(cmd, statusCmd)
	}
	return m, cmd
}

func (m Model) updateList(msg tea.Msg) (tea.Model, tea.Cmd) {
	if km, ok := msg.(tea.KeyMsg); ok && m.list.FilterState() != list.Filtering {
		switch {
		case key.Matches(km, m.keys.Cancel):
			m.mode = modeEdit
			return m, nil
		case key.Matches(km, m.keys.Confirm):
			m.mode = modeEdit
			if item, ok := m.list.SelectedItem().(rulesetItem); ok {
				return m.selectRuleset(string(item))
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// quit asks the worker to stop and ends the program once it has. A second
// request quits right away.
func (m Model) quit() (tea.Model, tea.Cmd) {
	if m.exiting {
		return m, tea.Quit
	}
	m.exiting = true
	done := make(chan struct{})
	m.tr.RequestExit(func() { close(done) })
	return m, func() tea.Msg {
		<-done
		return exitedMsg{}
	}
}

// cycle selects the rule set step positions away from the current one.
func (m Model) cycle(step int) (tea.Model, tea.Cmd) {
	if len(m.names) == 0 {
		cmd := m.showStatus(worker.Status{Message: "no rulesets loaded", Hold: m.hold})
		return m, cmd
	}
	i := slices.Index(m.names, m.selected)
	next := (i + step + len(m.names)) % len(m.names)
	return m.selectRuleset(m.names[next])
}

// selectRuleset switches the rule set and re-renders the current text with it.
func (m Model) selectRuleset(name string) (tea.Model, tea.Cmd) {
	if err := m.tr.Select(name); err != nil {
		cmd := m.showStatus(worker.Status{Message: err.Error(), Hold: m.hold, Err: err})
		return m, cmd
	}
	m.selected = name
	m.tr.SubmitTranscription(m.text)
	return m, nil
}

func (m Model) openList() (tea.Model, tea.Cmd) {
	items := make([]list.Item, len(m.names))
	for i, n := range m.names {
		items[i] = rulesetItem(n)
	}
	cmd := m.list.SetItems(items)
	if i := slices.Index(m.names, m.selected); i >= 0 {
		m.list.Select(i)
	}
	m.mode = modeList
	return m, cmd
}

// loadFile installs the rules file at path. Success is announced by the
// worker; failures are shown right away.
func (m *Model) loadFile(path string) tea.Cmd {
	if err := m.tr.LoadRuleset(path); err != nil {
		return m.showStatus(worker.Status{Message: "loading rules failed: " + err.Error(), Hold: m.hold, Err: err})
	}
	// Render the current text with the new table.
	m.tr.SubmitTranscription(m.text)
	return nil
}

// showStatus displays s and schedules its removal after s.Hold. A later
// status replaces it earlier.
func (m *Model) showStatus(s worker.Status) tea.Cmd {
	if s.Hold <= 0 {
		s.Hold = m.hold
	}
	m.status = s
	m.statusSeq++
	seq := m.statusSeq
	return tea.Tick(s.Hold, func(time.Time) tea.Msg {
		return statusExpiredMsg{seq: seq}
	})
}

func (m Model) newPicker() filepicker.Model {
	fp := filepicker.New()
	fp.AllowedTypes = []string{".yaml", ".yml"}
	if m.startDir != "" {
		fp.CurrentDirectory = m.startDir
	}
	if m.height > 0 {
		fp.Height = max(m.height-4, 3)
	}
	return fp
}

func (m *Model) resize(w, h int) {
	m.width, m.height = max(w, 0), max(h, 0)

	// header, two pane borders each, status bar and help line
	paneH := max((m.height-7)/2, 1)
	paneW := max(m.width-2, 1)

	m.input.SetWidth(paneW)
	m.input.SetHeight(paneH)
	m.output.Width = paneW
	m.output.Height = paneH
	m.list.SetSize(m.width, max(m.height-2, 1))
	m.picker.Height = max(m.height-4, 3)
	m.help.Width = m.width
	m.refreshOutput()
}

func (m *Model) refreshOutput() {
	text := m.result
	if m.output.Width > 0 {
		text = lipgloss.NewStyle().Width(m.output.Width).Render(text)
	}
	m.output.SetContent(text)
	m.output.GotoBottom()
}

// View renders the UI.
func (m Model) View() string {
	switch m.mode {
	case modePicker:
		return lipgloss.JoinVertical(lipgloss.Left,
			m.styles.Title.Render("Choose a rules file"),
			m.picker.View(),
			m.styles.Label.Render("enter: open • esc: continue without a new file"),
		)
	case modeList:
		return m.list.View()
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.header(),
		m.styles.Pane.Render(m.input.View()),
		m.styles.Pane.Render(m.output.View()),
		m.statusBar(),
		m.help.View(m.keys),
	)
}

func (m Model) header() string {
	var b strings.Builder
	b.WriteString(m.styles.Title.Render("livescribe"))
	b.WriteString("  ")
	switch {
	case m.selected == "":
		b.WriteString(m.styles.Label.Render("no ruleset"))
	default:
		i := slices.Index(m.names, m.selected)
		b.WriteString(m.styles.Ruleset.Render(m.selected))
		b.WriteString(m.styles.Label.Render(fmt.Sprintf(" (%d/%d)", i+1, len(m.names))))
	}
	if m.path != "" {
		b.WriteString(m.styles.Label.Render("  " + m.path))
	}
	return b.String()
}

func (m Model) statusBar() string {
	style := m.styles.Status
	if m.status.Err != nil {
		style = m.styles.StatusError
	}
	if m.width > 0 {
		style = style.Width(m.width)
	}
	return style.Render(m.status.Message)
}
