// Package ui implements the interactive player: a scrolling list of script
// lines with playback controls and a status bar.
package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/charmbracelet/x/editor"
	"github.com/chatcast/chatcast/internal/playback"
	"github.com/chatcast/chatcast/internal/script"
	"github.com/chatcast/chatcast/internal/ttypes"
	"github.com/muesli/termenv"
)

const (
	statusBarHeight      = 1
	statusMessageTimeout = time.Second * 3 // how long to show status messages like "copied"
	ellipsis             = "…"
)

// Controller is what the UI drives. *app.App implements it.
type Controller interface {
	Owner() *playback.Owner
	Events() <-chan playback.Event
	Reload(s ttypes.Script) ([]string, error)
	Voices(refresh bool) ([]ttypes.Voice, error)
	EngineName() string
	Path() string
}

// NewProgram returns a new Tea program.
func NewProgram(cfg Config, ctrl Controller) *tea.Program {
	log.Debug(
		"Starting chatcast",
		"path", cfg.Path,
		"engine", ctrl.EngineName(),
		"watch", cfg.WatchScript,
	)
	opts := []tea.ProgramOption{tea.WithAltScreen()}
	if cfg.EnableMouse {
		opts = append(opts, tea.WithMouseCellMotion())
	}
	return tea.NewProgram(newModel(cfg, ctrl), opts...)
}

type errMsg struct{ err error }

func (e errMsg) Error() string { return e.err.Error() }

type (
	playbackEventMsg playback.Event
	transitionDoneMsg struct {
		action string
		err    error
	}
	voicesMsg struct {
		voices  []ttypes.Voice
		refresh bool
		err     error
	}
	scriptReloadedMsg struct {
		script ttypes.Script
		err    error
	}
	watchStoppedMsg         struct{ err error }
	editorFinishedMsg       struct{ err error }
	statusMessageTimeoutMsg struct{}
)

// state is the top-level application state.
type state int

const (
	stateBrowse state = iota
	stateStatusMessage
)

type statusMessage struct {
	message string
	isError bool
}

type model struct {
	cfg    Config
	ctrl   Controller
	ctx    context.Context
	cancel context.CancelFunc

	state    state
	fatalErr error

	width    int
	height   int
	viewport viewport.Model
	spinner  spinner.Model
	spinning bool
	keys     keyMap
	help     help.Model
	showHelp bool

	script   ttypes.Script
	offsets  []int
	cursor   int
	follow   bool
	pending  bool
	snapshot playback.Snapshot
	voices   int

	statusMessage      statusMessage
	statusMessageTimer *time.Timer

	reloads chan scriptReloadedMsg
}

func newModel(cfg Config, ctrl Controller) model {
	ctx, cancel := context.WithCancel(context.Background())
	if cfg.Path == "" {
		cfg.Path = ctrl.Path()
	}

	vp := viewport.New(0, 0)
	vp.YPosition = 0

	m := model{
		cfg:      cfg,
		ctrl:     ctrl,
		ctx:      ctx,
		cancel:   cancel,
		viewport: vp,
		spinner:  spinner.New(spinner.WithSpinner(spinner.MiniDot), spinner.WithStyle(spinnerStyle)),
		keys:     newKeyMap(),
		help:     help.New(),
		script:   ctrl.Owner().Script(),
		snapshot: ctrl.Owner().Snapshot(),
		follow:   true,
		reloads:  make(chan scriptReloadedMsg),
	}
	m.cursor = m.clamp(cfg.StartIndex)
	return m
}

func (m model) Init() tea.Cmd {
	if len(m.script.Segments) == 0 {
		return func() tea.Msg { return errMsg{errors.New("no script loaded")} }
	}
	cmds := []tea.Cmd{listen(m.ctrl.Events()), loadVoices(m.ctrl, false)}
	if m.cfg.WatchScript && m.cfg.Path != "" {
		cmds = append(cmds, m.watchScript(), waitForReload(m.reloads))
	}
	return tea.Batch(cmds...)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.fatalErr != nil {
			cmd := m.quit()
			return m, cmd
		}
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.setSize()
		m.render()

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case playbackEventMsg:
		cmd := m.handleEvent(playback.Event(msg))
		return m, tea.Batch(cmd, listen(m.ctrl.Events()))

	case transitionDoneMsg:
		m.pending = false
		m.snapshot = m.ctrl.Owner().Snapshot()
		m.render()
		if msg.err != nil && !errors.Is(msg.err, playback.ErrBusy) && !errors.Is(msg.err, context.Canceled) {
			log.Error("Playback request failed", "action", msg.action, "err", msg.err)
			cmd := m.showStatusMessage(statusMessage{msg.err.Error(), true})
			return m, cmd
		}
		cmd := m.startSpinner()
		return m, cmd

	case voicesMsg:
		if msg.err != nil {
			log.Warn("Could not list voices", "err", msg.err)
			cmd := m.showStatusMessage(statusMessage{"Voices unavailable: " + msg.err.Error(), true})
			return m, cmd
		}
		m.voices = len(msg.voices)
		if msg.refresh {
			cmd := m.showStatusMessage(statusMessage{fmt.Sprintf("%d voices from %s", m.voices, m.ctrl.EngineName()), false})
			return m, cmd
		}

	case scriptReloadedMsg:
		next := waitForReload(m.reloads)
		if msg.err != nil {
			log.Warn("Could not reload script", "err", msg.err)
			cmd := tea.Batch(next, m.showStatusMessage(statusMessage{"Reload failed: " + msg.err.Error(), true}))
			return m, cmd
		}
		missing, err := m.ctrl.Reload(msg.script)
		if err != nil {
			cmd := tea.Batch(next, m.showStatusMessage(statusMessage{"Reload failed: " + err.Error(), true}))
			return m, cmd
		}
		m.script = m.ctrl.Owner().Script()
		m.cursor = m.clamp(m.cursor)
		m.render()
		note := "Reloaded script"
		if len(missing) > 0 {
			note += ", no voice for " + strings.Join(missing, ", ")
		}
		cmd := tea.Batch(next, m.showStatusMessage(statusMessage{note, len(missing) > 0}))
		return m, cmd

	case watchStoppedMsg:
		if msg.err != nil {
			log.Warn("Stopped watching script", "err", msg.err)
			cmd := m.showStatusMessage(statusMessage{"Not watching script: " + msg.err.Error(), true})
			return m, cmd
		}

	case editorFinishedMsg:
		if msg.err != nil {
			log.Error("Editor failed", "err", msg.err)
			cmd := m.showStatusMessage(statusMessage{"Editor failed: " + msg.err.Error(), true})
			return m, cmd
		}

	case spinner.TickMsg:
		if !m.active() {
			m.spinning = false
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case statusMessageTimeoutMsg:
		m.state = stateBrowse

	case errMsg:
		m.fatalErr = msg.err
	}

	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	owner := m.ctrl.Owner()

	switch {
	case key.Matches(msg, m.keys.Quit):
		cmd := m.quit()
		return m, cmd

	case key.Matches(msg, m.keys.Back):
		if m.showHelp {
			m.toggleHelp()
		}
		m.state = stateBrowse

	case key.Matches(msg, m.keys.Help):
		m.toggleHelp()

	case key.Matches(msg, m.keys.Toggle):
		i := m.cursor
		cmd := m.transition("toggle", func(ctx context.Context) error { return owner.Toggle(ctx, i) })
		return m, cmd

	case key.Matches(msg, m.keys.Play):
		i := m.cursor
		cmd := m.transition("play", func(ctx context.Context) error { return owner.Seek(ctx, i) })
		return m, cmd

	case key.Matches(msg, m.keys.Stop):
		cmd := m.transition("stop", owner.Stop)
		return m, cmd

	case key.Matches(msg, m.keys.Next):
		cmd := m.step(1)
		return m, cmd

	case key.Matches(msg, m.keys.Prev):
		cmd := m.step(-1)
		return m, cmd

	case key.Matches(msg, m.keys.Up):
		m.moveCursor(m.cursor - 1)
	case key.Matches(msg, m.keys.Down):
		m.moveCursor(m.cursor + 1)
	case key.Matches(msg, m.keys.HalfUp):
		m.moveCursor(m.cursor - max(1, m.viewport.Height/2))
	case key.Matches(msg, m.keys.HalfDown):
		m.moveCursor(m.cursor + max(1, m.viewport.Height/2))
	case key.Matches(msg, m.keys.Top):
		m.moveCursor(0)
	case key.Matches(msg, m.keys.Bottom):
		m.moveCursor(len(m.script.Segments) - 1)

	case key.Matches(msg, m.keys.Copy):
		if len(m.script.Segments) == 0 {
			return m, nil
		}
		text := m.script.Segments[m.cursor].Text()
		// Copy using OSC 52
		termenv.Copy(text)
		// Copy using native system clipboard
		_ = clipboard.WriteAll(text)
		cmd := m.showStatusMessage(statusMessage{fmt.Sprintf("Copied line %d", m.cursor+1), false})
		return m, cmd

	case key.Matches(msg, m.keys.Edit):
		if m.cfg.Path == "" {
			return m, nil
		}
		log.Info("Opening editor", "file", m.cfg.Path)
		return m, openEditor(m.cfg.Path)

	case key.Matches(msg, m.keys.Voices):
		return m, loadVoices(m.ctrl, true)
	}

	return m, nil
}

// handleEvent refreshes the view from the owner after a playback event.
func (m *model) handleEvent(ev playback.Event) tea.Cmd {
	var cmd tea.Cmd
	switch ev.Kind {
	case playback.EventSegmentStart:
		if m.follow {
			m.cursor = m.clamp(ev.Index)
		}
	case playback.EventError:
		cmd = m.showStatusMessage(statusMessage{ev.Message, true})
	}
	m.snapshot = m.ctrl.Owner().Snapshot()
	m.render()
	return tea.Batch(cmd, m.startSpinner())
}

// transition runs fn off the update loop. Keys pressed while a request is
// in flight are dropped; the owner rejects overlaps as well.
func (m *model) transition(action string, fn func(context.Context) error) tea.Cmd {
	if m.pending {
		log.Debug("Ignoring key while busy", "action", action)
		return nil
	}
	m.pending = true
	m.follow = true
	ctx := m.ctx
	return tea.Batch(
		func() tea.Msg { return transitionDoneMsg{action: action, err: fn(ctx)} },
		m.startSpinner(),
	)
}

// step moves playback by delta lines, or the cursor when stopped.
func (m *model) step(delta int) tea.Cmd {
	if m.snapshot.State == playback.StateStopped || !m.snapshot.HasIndex {
		m.moveCursor(m.cursor + delta)
		return nil
	}
	i := m.clamp(m.snapshot.Index + delta)
	m.cursor = i
	owner := m.ctrl.Owner()
	return m.transition("seek", func(ctx context.Context) error { return owner.Seek(ctx, i) })
}

func (m *model) moveCursor(i int) {
	i = m.clamp(i)
	if i == m.cursor {
		return
	}
	m.cursor = i
	m.follow = false
	m.render()
}

func (m model) clamp(i int) int {
	n := len(m.script.Segments)
	if n == 0 || i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func (m model) active() bool {
	return m.pending || m.snapshot.State == playback.StatePlaying
}

func (m *model) startSpinner() tea.Cmd {
	if m.spinning || !m.active() {
		return nil
	}
	m.spinning = true
	return m.spinner.Tick
}

func (m *model) setSize() {
	m.help.Width = m.width
	m.viewport.Width = m.width
	m.viewport.Height = m.height - statusBarHeight
	if m.showHelp {
		m.viewport.Height -= strings.Count(m.helpView(), "\n") + 1
	}
	m.viewport.Height = max(0, m.viewport.Height)
}

func (m *model) toggleHelp() {
	m.showHelp = !m.showHelp
	m.setSize()
	m.scrollToCursor()
}

// Show a message in the status bar until it times out.
func (m *model) showStatusMessage(msg statusMessage) tea.Cmd {
	m.state = stateStatusMessage
	m.statusMessage = msg
	if m.statusMessageTimer != nil {
		m.statusMessageTimer.Stop()
	}
	m.statusMessageTimer = time.NewTimer(statusMessageTimeout)

	return waitForStatusMessageTimeout(m.statusMessageTimer)
}

func (m *model) quit() tea.Cmd {
	if m.statusMessageTimer != nil {
		m.statusMessageTimer.Stop()
	}
	m.cancel()
	return tea.Quit
}

// COMMANDS

func listen(events <-chan playback.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return playbackEventMsg(ev)
	}
}

func loadVoices(ctrl Controller, refresh bool) tea.Cmd {
	return func() tea.Msg {
		voices, err := ctrl.Voices(refresh)
		return voicesMsg{voices: voices, refresh: refresh, err: err}
	}
}

// watchScript blocks until the model's context ends, forwarding each
// reload to the model's reload channel.
func (m model) watchScript() tea.Cmd {
	ctx, path, ch := m.ctx, m.cfg.Path, m.reloads
	return func() tea.Msg {
		err := script.Watch(ctx, path, log.Default(), func(s ttypes.Script, err error) {
			select {
			case ch <- scriptReloadedMsg{script: s, err: err}:
			case <-ctx.Done():
			}
		})
		return watchStoppedMsg{err}
	}
}

func waitForReload(ch <-chan scriptReloadedMsg) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}

func openEditor(path string) tea.Cmd {
	cb := func(err error) tea.Msg {
		return editorFinishedMsg{err}
	}
	c, err := editor.Cmd("chatcast", path)
	if err != nil {
		return func() tea.Msg { return cb(err) }
	}
	return tea.ExecProcess(c, cb)
}

func waitForStatusMessageTimeout(t *time.Timer) tea.Cmd {
	return func() tea.Msg {
		<-t.C
		return statusMessageTimeoutMsg{}
	}
}
