package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// CallSummary is what the call screen collected by the time it closed.
type CallSummary struct {
	Room      string
	Duration  time.Duration
	PeersSeen int
	Messages  int
	Dropped   int
	Failures  int
}

// RenderCallSummary writes s as a two-column table.
func RenderCallSummary(w io.Writer, s CallSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("📊 Call Summary")
	t.SetStyle(table.StyleRounded)
	t.Style().Title.Align = text.AlignCenter
	t.Style().Color.Header = text.Colors{text.FgCyan, text.Bold}

	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Room", s.Room},
		{"Duration", formatDuration(s.Duration)},
		{"Participants met", s.PeersSeen},
		{"Chat messages", s.Messages},
		{"Links dropped", s.Dropped},
		{"Negotiation failures", s.Failures},
	})
	t.Render()
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
