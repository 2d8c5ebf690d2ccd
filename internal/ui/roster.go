package ui

import (
	"fmt"
	"strings"

	"github.com/BioHazard786/meshcall/internal/mesh"
	"github.com/BioHazard786/meshcall/internal/peer"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

const (
	maxNameWidth = 24
	shortIDLen   = 8
)

// RosterView renders the remote participants as a table, one row per link.
func RosterView(peers []mesh.PeerInfo) string {
	if len(peers) == 0 {
		return MutedStyle.Render("Nobody else is here yet")
	}

	rows := make([][]string, 0, len(peers))
	for _, p := range peers {
		rows = append(rows, []string{
			truncate(p.DisplayName(), maxNameWidth),
			shortID(p.ID),
			stateLabel(p.State),
			mediaFlags(p),
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Name", "ID", "Link", "Media").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case col == 2:
				return stateStyle(peers[row].State)
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

func stateLabel(s peer.State) string {
	switch s {
	case peer.Connected:
		return "connected"
	case peer.Degraded:
		return "reconnecting"
	case peer.Failed:
		return "failed"
	case peer.Closed:
		return "closed"
	default:
		return "connecting"
	}
}

func stateStyle(s peer.State) lipgloss.Style {
	switch s {
	case peer.Connected:
		return tableCellStyle.Foreground(Success)
	case peer.Degraded:
		return tableCellStyle.Foreground(Warning)
	case peer.Failed, peer.Closed:
		return tableCellStyle.Foreground(Error)
	default:
		return tableCellStyle.Foreground(Muted)
	}
}

func mediaFlags(p mesh.PeerInfo) string {
	var flags []string
	if p.HasAudio && !p.Media.AudioMuted {
		flags = append(flags, IconMic)
	}
	if p.Media.ScreenSharing {
		flags = append(flags, IconScreen)
	} else if p.HasVideo && !p.Media.VideoMuted {
		flags = append(flags, IconCamera)
	}
	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, " ")
}

// RoomInfo is the box printed once the room is joined.
type RoomInfo struct {
	Room string
	Self string
	Name string
}

func (r RoomInfo) View() string {
	content := fmt.Sprintf("%s Joined %s\n\n%s You:     %s\n%s Invite:  %s",
		IconRoom, BoldStyle.Foreground(Primary).Render(r.Room),
		IconPeer, r.Name+MutedStyle.Render(" ("+shortID(r.Self)+")"),
		IconCopy, MutedStyle.Render("meshcall join "+r.Room),
	)
	return RoomBoxStyle.Render(content)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

func shortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[:shortIDLen]
}
