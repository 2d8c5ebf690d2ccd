package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/mesh"
	"github.com/BioHazard786/meshcall/internal/peer"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	maxLogLines     = 10
	refreshInterval = time.Second
	renameCommand   = "/name "
)

// Controller is the part of a call session the screen drives.
type Controller interface {
	Events() <-chan mesh.Event
	Peers() []mesh.PeerInfo
	MediaState() media.State
	Room() string
	Self() string
	Name() string
	ToggleAudio() bool
	ToggleVideo() bool
	ToggleScreenShare(ctx context.Context) error
	SendChat(text string) error
	SetName(name string) error
}

type (
	eventMsg     mesh.Event
	eventsDone   struct{}
	refreshMsg   time.Time
	actionErrMsg struct{ err error }
)

type logLine struct {
	at   time.Time
	text string
}

// CallModel is the interactive call screen: roster, activity log and chat.
type CallModel struct {
	ctx  context.Context
	ctrl Controller

	input   textinput.Model
	spinner spinner.Model

	peers    []mesh.PeerInfo
	local    media.State
	log      []logLine
	chatting bool
	quitting bool
	width    int

	started  time.Time
	seen     map[string]bool
	messages int
	dropped  int
	failures int
}

func NewCallModel(ctx context.Context, ctrl Controller) *CallModel {
	in := textinput.New()
	in.Placeholder = "say something, or /name <new name>"
	in.CharLimit = 500
	in.Width = 60
	in.Prompt = IconChat + " "

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &CallModel{
		ctx:     ctx,
		ctrl:    ctrl,
		input:   in,
		spinner: s,
		peers:   ctrl.Peers(),
		local:   ctrl.MediaState(),
		started: time.Now(),
		seen:    make(map[string]bool),
	}
}

func (m *CallModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listen(), refresh())
}

func (m *CallModel) listen() tea.Cmd {
	events := m.ctrl.Events()
	return func() tea.Msg {
		e, ok := <-events
		if !ok {
			return eventsDone{}
		}
		return eventMsg(e)
	}
}

func refresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func (m *CallModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}
		if m.chatting {
			return m.updateChat(msg)
		}
		return m.updateKeys(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = max(20, msg.Width-8)

	case eventMsg:
		m.handle(mesh.Event(msg))
		m.sync()
		return m, m.listen()

	case eventsDone:
		m.quitting = true
		return m, tea.Quit

	case refreshMsg:
		m.sync()
		return m, refresh()

	case actionErrMsg:
		m.addLog(ErrorStyle.Render(IconError + " " + msg.err.Error()))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *CallModel) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		m.quitting = true
		return m, tea.Quit
	case "a":
		if m.ctrl.ToggleAudio() {
			m.addLog(MutedStyle.Render(IconMic + " microphone muted"))
		} else {
			m.addLog(IconMic + " microphone on")
		}
		m.sync()
	case "v":
		if m.ctrl.ToggleVideo() {
			m.addLog(MutedStyle.Render(IconCamera + " camera off"))
		} else {
			m.addLog(IconCamera + " camera on")
		}
		m.sync()
	case "s":
		return m, m.toggleShare()
	case "enter", "c", "/":
		m.chatting = true
		return m, m.input.Focus()
	}
	return m, nil
}

func (m *CallModel) toggleShare() tea.Cmd {
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		if err := ctrl.ToggleScreenShare(ctx); err != nil {
			return actionErrMsg{err: fmt.Errorf("screen share: %w", err)}
		}
		return refreshMsg(time.Now())
	}
}

func (m *CallModel) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.chatting = false
		m.input.Blur()
		return m, nil
	case "enter":
		text := strings.TrimSpace(m.input.Value())
		m.input.Reset()
		m.input.Blur()
		m.chatting = false
		m.submit(text)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *CallModel) submit(text string) {
	switch {
	case text == "":
	case strings.HasPrefix(text, renameCommand):
		name := strings.TrimSpace(strings.TrimPrefix(text, renameCommand))
		if name == "" {
			return
		}
		if err := m.ctrl.SetName(name); err != nil {
			m.addLog(FormatError(err))
			return
		}
		m.addLog(fmt.Sprintf("%s you are now %s", IconPeer, BoldStyle.Render(name)))
	default:
		if err := m.ctrl.SendChat(text); err != nil {
			m.addLog(FormatError(err))
			return
		}
		m.messages++
		m.addLog(ChatNameStyle.Render("you") + ": " + text)
	}
}

func (m *CallModel) handle(e mesh.Event) {
	switch e.Type {
	case mesh.EventPeerJoined:
		m.seen[e.PeerID] = true
		m.addLog(fmt.Sprintf("%s %s joined", IconPeer, m.nameOf(e)))
	case mesh.EventPeerLeft:
		switch e.Reason {
		case mesh.ReasonShutdown, mesh.ReasonRejoined:
			return
		case mesh.ReasonFailed, mesh.ReasonTimeout, mesh.ReasonRemoteDrop, mesh.ReasonNoConnect:
			m.dropped++
			m.addLog(WarningStyle.Render(fmt.Sprintf("%s %s dropped (%s)", IconLeft, m.nameOf(e), e.Reason)))
		default:
			m.addLog(fmt.Sprintf("%s %s left", IconLeft, m.nameOf(e)))
		}
	case mesh.EventConnectionDegraded:
		m.addLog(WarningStyle.Render(fmt.Sprintf("%s connection to %s is unstable", IconConnect, m.nameOf(e))))
	case mesh.EventConnectionRestored:
		m.addLog(SuccessStyle.Render(fmt.Sprintf("%s connection to %s restored", IconConnect, m.nameOf(e))))
	case mesh.EventPeerRenamed:
		m.addLog(fmt.Sprintf("%s %s is now %s", IconPeer, shortID(e.PeerID), BoldStyle.Render(e.Name)))
	case mesh.EventChatReceived:
		m.messages++
		m.addLog(ChatNameStyle.Render(m.nameOf(e)) + ": " + e.Text)
	case mesh.EventNegotiationFailed:
		m.failures++
		m.addLog(ErrorStyle.Render(fmt.Sprintf("%s could not connect to %s", IconError, m.nameOf(e))))
	case mesh.EventSessionError:
		text := e.Text
		if text == "" && e.Err != nil {
			text = e.Err.Error()
		}
		m.addLog(ErrorStyle.Render(IconError + " " + text))
	}
}

func (m *CallModel) nameOf(e mesh.Event) string {
	if e.Name != "" {
		return e.Name
	}
	for _, p := range m.peers {
		if p.ID == e.PeerID {
			return p.DisplayName()
		}
	}
	return shortID(e.PeerID)
}

func (m *CallModel) sync() {
	m.peers = m.ctrl.Peers()
	m.local = m.ctrl.MediaState()
}

func (m *CallModel) addLog(text string) {
	m.log = append(m.log, logLine{at: time.Now(), text: text})
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
}

// Summary returns the numbers collected so far.
func (m *CallModel) Summary() CallSummary {
	return CallSummary{
		Room:      m.ctrl.Room(),
		Duration:  time.Since(m.started),
		PeersSeen: len(m.seen),
		Messages:  m.messages,
		Dropped:   m.dropped,
		Failures:  m.failures,
	}
}

func (m *CallModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(HeaderStyle.Render(fmt.Sprintf("%s %s  %s", IconRoom, m.ctrl.Room(), MutedStyle.Render(m.ctrl.Name()))))
	b.WriteString("\n")
	b.WriteString(m.statusBar())
	b.WriteString("\n\n")

	connecting := 0
	for _, p := range m.peers {
		if p.State == peer.Idle || p.State == peer.Negotiating {
			connecting++
		}
	}
	if connecting > 0 {
		b.WriteString(fmt.Sprintf("%s connecting to %d participant(s)\n", m.spinner.View(), connecting))
	}
	b.WriteString(RosterView(m.peers))
	b.WriteString("\n")

	if len(m.log) > 0 {
		lines := make([]string, len(m.log))
		for i, l := range m.log {
			lines[i] = MutedStyle.Render(l.at.Format("15:04")) + " " + l.text
		}
		box := BoxStyle
		if m.width > 4 {
			box = box.Width(m.width - 4)
		}
		b.WriteString(box.Render(strings.Join(lines, "\n")))
		b.WriteString("\n")
	}

	if m.chatting {
		b.WriteString(m.input.View())
		b.WriteString("\n")
		b.WriteString(FooterStyle.Render("enter send • esc cancel"))
	} else {
		b.WriteString(FooterStyle.Render("a mic • v camera • s share screen • enter chat • q leave"))
	}
	return b.String()
}

func (m *CallModel) statusBar() string {
	toggle := func(icon, label string, off bool) string {
		if off {
			return OffStyle.Render(icon + " " + label + " off")
		}
		return StatusStyle.Render(icon + " " + label)
	}
	parts := []string{
		toggle(IconMic, "mic", m.local.AudioMuted),
		toggle(IconCamera, "camera", m.local.VideoMuted),
	}
	if m.local.ScreenSharing {
		parts = append(parts, StatusStyle.Render(IconScreen+" sharing"))
	}
	return strings.Join(parts, " ")
}
