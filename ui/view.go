package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/chatcast/chatcast/internal/playback"
	"github.com/chatcast/chatcast/internal/ttypes"
	runewidth "github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/ansi"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"
)

const (
	maxSpeakerWidth = 16
	minTextWidth    = 10
)

func (m model) View() string {
	if m.fatalErr != nil {
		return errorView(m.fatalErr, true)
	}

	var b strings.Builder
	fmt.Fprint(&b, m.viewport.View()+"\n")

	// Footer
	m.statusBarView(&b)

	if m.showHelp {
		fmt.Fprint(&b, "\n"+m.helpView())
	}

	return b.String()
}

// render rebuilds the viewport content and records where each line of the
// script starts so the cursor can be kept in view.
func (m *model) render() {
	width := m.width
	if m.cfg.MaxWidth > 0 && (width == 0 || width > m.cfg.MaxWidth) {
		width = m.cfg.MaxWidth
	}

	nameWidth := 0
	for _, speaker := range m.script.Speakers() {
		nameWidth = max(nameWidth, runewidth.StringWidth(m.displayName(speaker)))
	}
	nameWidth = min(nameWidth, maxSpeakerWidth)

	var b strings.Builder
	m.offsets = m.offsets[:0]
	line := 0
	for i, seg := range m.script.Segments {
		m.offsets = append(m.offsets, line)
		block := m.segmentView(i, seg, width, nameWidth)
		b.WriteString(block)
		b.WriteString("\n")
		line += strings.Count(block, "\n") + 1
	}
	m.offsets = append(m.offsets, line)

	m.viewport.SetContent(strings.TrimSuffix(b.String(), "\n"))
	m.scrollToCursor()
}

func (m model) segmentView(i int, seg ttypes.Segment, width, nameWidth int) string {
	marker := "  "
	if i == m.cursor {
		marker = cursorStyle.Render("▸ ")
	}

	nameStyle, textStyle := speakerStyle, lipgloss.NewStyle()
	if v, ok := m.script.Voices.Lookup(seg.Speaker); !ok || v.VoiceID == "" {
		nameStyle, textStyle = mutedStyle, mutedStyle
	}
	if m.isCurrent(i) {
		textStyle = currentStyle
	}

	name := truncate.StringWithTail(m.displayName(seg.Speaker), uint(nameWidth), ellipsis) //nolint:gosec
	name = runewidth.FillRight(name, nameWidth)
	prefix := marker + indexStyle.Render(fmt.Sprintf("%3d ", i+1)) + nameStyle.Render(name) + "  "
	pw := ansi.PrintableRuneWidth(prefix)

	lines := strings.Split(wordwrap.String(seg.Text(), max(minTextWidth, width-pw)), "\n")
	for j := range lines {
		lines[j] = textStyle.Render(lines[j])
	}
	return prefix + strings.Join(lines, "\n"+strings.Repeat(" ", pw))
}

func (m model) displayName(speaker string) string {
	if v, ok := m.script.Voices.Lookup(speaker); ok && v.Name != "" {
		return v.Name
	}
	return speaker
}

// isCurrent reports whether segment i is the one being spoken.
func (m model) isCurrent(i int) bool {
	return m.snapshot.HasIndex && m.snapshot.Index == i && m.snapshot.State != playback.StateStopped
}

func (m *model) scrollToCursor() {
	if m.cursor+1 >= len(m.offsets) || m.viewport.Height <= 0 {
		return
	}
	top, bottom := m.offsets[m.cursor], m.offsets[m.cursor+1]
	switch {
	case top < m.viewport.YOffset:
		m.viewport.SetYOffset(top)
	case bottom > m.viewport.YOffset+m.viewport.Height:
		m.viewport.SetYOffset(bottom - m.viewport.Height)
	}
}

// position is the 1-based line shown in the status bar.
func (m model) position() int {
	if m.isCurrent(m.snapshot.Index) {
		return m.snapshot.Index + 1
	}
	return m.cursor + 1
}

func (m model) stateNote() string {
	switch {
	case m.pending:
		return m.spinner.View() + " working"
	case m.snapshot.State == playback.StatePlaying:
		return m.spinner.View() + " playing"
	case m.snapshot.State == playback.StatePaused:
		return "paused"
	case m.snapshot.LastError != "":
		return "stopped: " + m.snapshot.LastError
	default:
		return "stopped"
	}
}

func (m model) statusBarView(b *strings.Builder) {
	showStatusMessage := m.state == stateStatusMessage

	// Logo
	logo := logoStyle.Render(" chatcast ")

	// Position
	pos := fmt.Sprintf(" %d/%d ", m.position(), len(m.script.Segments))
	if showStatusMessage {
		pos = statusBarMessagePosStyle.Render(pos)
	} else {
		pos = statusBarPosStyle.Render(pos)
	}

	// "Help" note
	var helpNote string
	if showStatusMessage {
		helpNote = statusBarMessageHelpStyle.Render(" ? Help ")
	} else {
		helpNote = statusBarHelpStyle.Render(" ? Help ")
	}

	noteStyle := statusBarNoteStyle
	var note string
	switch {
	case showStatusMessage && m.statusMessage.isError:
		note = m.statusMessage.message
		noteStyle = statusBarErrorStyle
	case showStatusMessage:
		note = m.statusMessage.message
		noteStyle = statusBarMessageStyle
	default:
		note = m.script.Title + " · " + m.stateNote() + " · " + m.ctrl.EngineName()
	}
	note = truncate.StringWithTail(" "+note+" ", uint(max(0, //nolint:gosec
		m.width-
			ansi.PrintableRuneWidth(logo)-
			ansi.PrintableRuneWidth(pos)-
			ansi.PrintableRuneWidth(helpNote),
	)), ellipsis)
	note = noteStyle.Render(note)

	// Empty space
	padding := max(0,
		m.width-
			ansi.PrintableRuneWidth(logo)-
			ansi.PrintableRuneWidth(note)-
			ansi.PrintableRuneWidth(pos)-
			ansi.PrintableRuneWidth(helpNote),
	)
	emptySpace := noteStyle.Render(strings.Repeat(" ", padding))

	fmt.Fprintf(b, "%s%s%s%s%s",
		logo,
		note,
		emptySpace,
		pos,
		helpNote,
	)
}

func (m model) helpView() string {
	s := "\n" + m.help.FullHelpView(m.keys.FullHelp()) + "\n"
	s = indent(s, 2)

	// Fill up empty cells with spaces for background coloring
	if m.width > 0 {
		lines := strings.Split(s, "\n")
		for i := 0; i < len(lines); i++ {
			l := ansi.PrintableRuneWidth(lines[i])
			n := max(m.width-l, 0)
			lines[i] += strings.Repeat(" ", n)
		}

		s = strings.Join(lines, "\n")
	}

	return helpViewStyle.Render(s)
}

func errorView(err error, fatal bool) string {
	exitMsg := "press any key to "
	if fatal {
		exitMsg += "exit"
	} else {
		exitMsg += "return"
	}
	s := fmt.Sprintf("%s\n\n%v\n\n%s",
		errorTitleStyle.Render("ERROR"),
		err,
		subtleStyle.Render(exitMsg),
	)
	return "\n" + indent(s, 3)
}

// Lightweight version of reflow's indent function.
func indent(s string, n int) string {
	if n <= 0 || s == "" {
		return s
	}
	l := strings.Split(s, "\n")
	b := strings.Builder{}
	i := strings.Repeat(" ", n)
	for _, v := range l {
		fmt.Fprintf(&b, "%s%s\n", i, v)
	}
	return b.String()
}
