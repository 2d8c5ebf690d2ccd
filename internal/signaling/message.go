package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Relay event names.
const (
	TypeJoin         = "joinRoom"
	TypeNewPeer      = "new-user"
	TypeRoster       = "allParticipants"
	TypeRename       = "set-name"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeIceCandidate = "ice-candidate"
	TypeLeave        = "user-left"
	TypeChat         = "chat-message"
	TypeError        = "error"
)

// Envelope is the JSON frame exchanged with the relay.
type Envelope struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"roomId,omitempty"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message is the tagged union of everything that travels over the channel.
// Consumers switch on the concrete type.
type Message interface {
	Type() string
	Room() string
	isMessage()
}

// Participant is one roster entry.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Join announces presence in a room. PeerID asks the relay to resume a
// previous identity after a reconnect.
type Join struct {
	RoomID string
	Name   string
	PeerID string
}

// Roster is the relay's answer to Join: the caller's id and everyone else.
// Resumed is set when the relay reattached the caller to a seat it still
// held; the rest of the room was not told the caller had gone.
type Roster struct {
	RoomID       string
	You          string
	Participants []Participant
	Resumed      bool
}

// NewPeer tells existing members about a newcomer.
type NewPeer struct {
	RoomID string
	PeerID string
	Name   string
}

// Rename associates a display name with From.
type Rename struct {
	RoomID string
	From   string
	Name   string
}

type Offer struct {
	RoomID string
	From   string
	To     string
	SDP    string
}

type Answer struct {
	RoomID string
	From   string
	To     string
	SDP    string
}

type IceCandidate struct {
	RoomID    string
	From      string
	To        string
	Candidate webrtc.ICECandidateInit
}

// Leave reports a departure. Sent by a client it is an explicit leave.
type Leave struct {
	RoomID string
	PeerID string
}

type Chat struct {
	RoomID     string
	From       string
	Message    string
	Sender     string
	SenderName string
}

// Error is a relay-side rejection.
type Error struct {
	RoomID string
	Reason string
}

func (Join) Type() string         { return TypeJoin }
func (Roster) Type() string       { return TypeRoster }
func (NewPeer) Type() string      { return TypeNewPeer }
func (Rename) Type() string       { return TypeRename }
func (Offer) Type() string        { return TypeOffer }
func (Answer) Type() string       { return TypeAnswer }
func (IceCandidate) Type() string { return TypeIceCandidate }
func (Leave) Type() string        { return TypeLeave }
func (Chat) Type() string         { return TypeChat }
func (Error) Type() string        { return TypeError }

func (m Join) Room() string         { return m.RoomID }
func (m Roster) Room() string       { return m.RoomID }
func (m NewPeer) Room() string      { return m.RoomID }
func (m Rename) Room() string       { return m.RoomID }
func (m Offer) Room() string        { return m.RoomID }
func (m Answer) Room() string       { return m.RoomID }
func (m IceCandidate) Room() string { return m.RoomID }
func (m Leave) Room() string        { return m.RoomID }
func (m Chat) Room() string         { return m.RoomID }
func (m Error) Room() string        { return m.RoomID }

func (Join) isMessage()         {}
func (Roster) isMessage()       {}
func (NewPeer) isMessage()      {}
func (Rename) isMessage()       {}
func (Offer) isMessage()        {}
func (Answer) isMessage()       {}
func (IceCandidate) isMessage() {}
func (Leave) isMessage()        {}
func (Chat) isMessage()         {}
func (Error) isMessage()        {}

type joinPayload struct {
	Name   string `json:"name,omitempty"`
	PeerID string `json:"peerId,omitempty"`
}

type rosterPayload struct {
	You          string        `json:"you"`
	Participants []Participant `json:"participants"`
	Resumed      bool          `json:"resumed,omitempty"`
}

type newPeerPayload struct {
	PeerID string `json:"peerId"`
	Name   string `json:"name,omitempty"`
}

type renamePayload struct {
	RoomID string `json:"roomId,omitempty"`
	Name   string `json:"name"`
}

type description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type offerPayload struct {
	Offer description `json:"offer"`
}

type answerPayload struct {
	Answer description `json:"answer"`
}

type candidatePayload struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type leavePayload struct {
	SocketID string `json:"socketId"`
}

type chatPayload struct {
	Message    string `json:"message"`
	Sender     string `json:"sender,omitempty"`
	SenderName string `json:"senderName,omitempty"`
}

type errorPayload struct {
	Error string `json:"error"`
}

// Encode converts a typed message into its wire envelope.
func Encode(m Message) (*Envelope, error) {
	env := &Envelope{Type: m.Type(), RoomID: m.Room()}

	var payload any
	switch v := m.(type) {
	case Join:
		payload = joinPayload{Name: v.Name, PeerID: v.PeerID}
	case Roster:
		participants := v.Participants
		if participants == nil {
			participants = []Participant{}
		}
		payload = rosterPayload{You: v.You, Participants: participants, Resumed: v.Resumed}
	case NewPeer:
		payload = newPeerPayload{PeerID: v.PeerID, Name: v.Name}
	case Rename:
		env.From = v.From
		payload = renamePayload{RoomID: v.RoomID, Name: v.Name}
	case Offer:
		env.From, env.To = v.From, v.To
		payload = offerPayload{Offer: description{Type: "offer", SDP: v.SDP}}
	case Answer:
		env.From, env.To = v.From, v.To
		payload = answerPayload{Answer: description{Type: "answer", SDP: v.SDP}}
	case IceCandidate:
		env.From, env.To = v.From, v.To
		payload = candidatePayload{Candidate: v.Candidate}
	case Leave:
		payload = leavePayload{SocketID: v.PeerID}
	case Chat:
		env.From = v.From
		payload = chatPayload{Message: v.Message, Sender: v.Sender, SenderName: v.SenderName}
	case Error:
		payload = errorPayload{Error: v.Reason}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, m)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", env.Type, err)
	}
	env.Payload = raw
	return env, nil
}

// Decode converts a wire envelope into its typed message.
func Decode(env *Envelope) (Message, error) {
	switch env.Type {
	case TypeJoin:
		var p joinPayload
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		return Join{RoomID: env.RoomID, Name: p.Name, PeerID: p.PeerID}, nil

	case TypeRoster:
		var p rosterPayload
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		return Roster{RoomID: env.RoomID, You: p.You, Participants: p.Participants, Resumed: p.Resumed}, nil

	case TypeNewPeer:
		var p newPeerPayload
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		if p.PeerID == "" {
			return nil, fmt.Errorf("%w: %s without peerId", ErrMalformed, env.Type)
		}
		return NewPeer{RoomID: env.RoomID, PeerID: p.PeerID, Name: p.Name}, nil

	case TypeRename:
		var p renamePayload
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		room := env.RoomID
		if room == "" {
			room = p.RoomID
		}
		return Rename{RoomID: room, From: env.From, Name: p.Name}, nil

	case TypeOffer:
		var p offerPayload
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		if p.Offer.SDP == "" {
			return nil, fmt.Errorf("%w: offer without sdp", ErrMalformed)
		}
		return Offer{RoomID: env.RoomID, From: env.From, To: env.To, SDP: p.Offer.SDP}, nil

	case TypeAnswer:
		var p answerPayload
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		if p.Answer.SDP == "" {
			return nil, fmt.Errorf("%w: answer without sdp", ErrMalformed)
		}
		return Answer{RoomID: env.RoomID, From: env.From, To: env.To, SDP: p.Answer.SDP}, nil

	case TypeIceCandidate:
		var p candidatePayload
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		return IceCandidate{RoomID: env.RoomID, From: env.From, To: env.To, Candidate: p.Candidate}, nil

	case TypeLeave:
		var p leavePayload
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		return Leave{RoomID: env.RoomID, PeerID: p.SocketID}, nil

	case TypeChat:
		var p chatPayload
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		return Chat{RoomID: env.RoomID, From: env.From, Message: p.Message, Sender: p.Sender, SenderName: p.SenderName}, nil

	case TypeError:
		var p errorPayload
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		return Error{RoomID: env.RoomID, Reason: p.Error}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
}

// Marshal encodes m as a JSON frame.
func Marshal(m Message) ([]byte, error) {
	env, err := Encode(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Unmarshal decodes a JSON frame.
func Unmarshal(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return Decode(&env)
}

func unmarshalPayload(env *Envelope, v any) error {
	if len(env.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Type, err)
	}
	return nil
}
