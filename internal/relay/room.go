package relay

import (
	"slices"
	"strings"
	"time"

	"github.com/BioHazard786/meshcall/internal/signaling"
)

// Room is a multi-party signaling scope.
type Room struct {
	ID      string
	members map[string]*member
}

// member outlives its connection for the resume window. client is nil while
// the peer is away.
type member struct {
	id     string
	name   string
	client *Client
	away   *time.Timer
	gen    int
}

func newRoom(id string) *Room {
	return &Room{ID: id, members: make(map[string]*member)}
}

// participants lists everyone except exclude, sorted by id.
func (r *Room) participants(exclude string) []signaling.Participant {
	out := make([]signaling.Participant, 0, len(r.members))
	for id, m := range r.members {
		if id == exclude {
			continue
		}
		out = append(out, signaling.Participant{ID: id, Name: m.name})
	}
	slices.SortFunc(out, func(a, b signaling.Participant) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (r *Room) present(exclude string) []*Client {
	var out []*Client
	for id, m := range r.members {
		if id != exclude && m.client != nil {
			out = append(out, m.client)
		}
	}
	return out
}
