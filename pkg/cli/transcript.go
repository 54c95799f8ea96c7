package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/haivivi/voxid/pkg/pipeline"
	"github.com/haivivi/voxid/pkg/speaker"
)

// Theme defines the transcript colors.
type Theme struct {
	Known    lipgloss.Color // high confidence speaker
	Medium   lipgloss.Color // tentative match
	Conflict lipgloss.Color
	Unknown  lipgloss.Color
	Dim      lipgloss.Color // timestamps, help text
	Error    lipgloss.Color
}

// DefaultTheme is the default bright green theme.
var DefaultTheme = Theme{
	Known:    lipgloss.Color("#00ff9f"),
	Medium:   lipgloss.Color("#e3b341"),
	Conflict: lipgloss.Color("#ff7b72"),
	Unknown:  lipgloss.Color("#a5a5ff"),
	Dim:      lipgloss.Color("#6e7681"),
	Error:    lipgloss.Color("#f85149"),
}

// Styles holds all styles derived from a theme.
type Styles struct {
	Time     lipgloss.Style
	Known    lipgloss.Style
	Medium   lipgloss.Style
	Conflict lipgloss.Style
	Unknown  lipgloss.Style
	Failed   lipgloss.Style
	Title    lipgloss.Style
	Box      lipgloss.Style
	Help     lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Time:     lipgloss.NewStyle().Foreground(t.Dim),
		Known:    lipgloss.NewStyle().Bold(true).Foreground(t.Known),
		Medium:   lipgloss.NewStyle().Bold(true).Foreground(t.Medium),
		Conflict: lipgloss.NewStyle().Bold(true).Foreground(t.Conflict),
		Unknown:  lipgloss.NewStyle().Foreground(t.Unknown),
		Failed:   lipgloss.NewStyle().Italic(true).Foreground(t.Error),
		Title:    lipgloss.NewStyle().Bold(true).Foreground(t.Known),
		Box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(t.Known).
			Padding(0, 1),
		Help: lipgloss.NewStyle().Foreground(t.Dim),
	}
}

// PlainStyles renders without any escape sequences.
func PlainStyles() Styles {
	s := lipgloss.NewStyle()
	return Styles{Time: s, Known: s, Medium: s, Conflict: s, Unknown: s, Failed: s, Title: s, Box: s, Help: s}
}

// Label renders the speaker label of ev in the style of its confidence.
func (s Styles) Label(ev pipeline.Event) string {
	label := ev.Label
	if label == "" {
		label = "Unknown"
	}
	switch {
	case !ev.Known():
		return s.Unknown.Render(label)
	case ev.Conflict:
		return s.Conflict.Render(label)
	case ev.Confidence == speaker.Medium:
		return s.Medium.Render(label)
	default:
		return s.Known.Render(label)
	}
}

// Event renders ev as one transcript line:
//
//	00:03.4  Alice: hello there
func (s Styles) Event(ev pipeline.Event) string {
	ts := s.Time.Render(FormatTimestamp(ev.Start.Duration()))
	text := ev.Text
	if ev.Failed {
		text = s.Failed.Render("(transcription failed)")
	}
	return fmt.Sprintf("%s  %s: %s", ts, s.Label(ev), text)
}

// Summary renders session statistics in a bordered box.
func (s Styles) Summary(st pipeline.Stats) string {
	rows := [][2]string{
		{"audio", FormatDuration(st.Audio)},
		{"segments", fmt.Sprintf("%d (%d emitted, %d skipped, %d failed)", st.Segments, st.Emitted, st.Skipped, st.Failed)},
		{"learned", fmt.Sprint(st.Learned)},
		{"dropped", fmt.Sprintf("%d of %d frames", st.Dropped, st.Frames)},
		{"rtf", fmt.Sprintf("%.3f", st.RTF())},
	}
	if st.Interrupted {
		rows = append(rows, [2]string{"ended", "interrupted"})
	}
	width := 0
	for _, r := range rows {
		width = max(width, len(r[0]))
	}
	lines := []string{s.Title.Render("session " + st.SessionID)}
	for _, r := range rows {
		lines = append(lines, s.Help.Render(r[0]+strings.Repeat(" ", width-len(r[0])))+"  "+r[1])
	}
	return s.Box.Render(strings.Join(lines, "\n"))
}
