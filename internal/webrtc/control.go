package webrtc

import (
	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/vmihailenco/msgpack/v5"
)

// Control channel message types.
const (
	ControlHello      = "hello"
	ControlMediaState = "media_state"
)

// ControlMessage is the frame exchanged on the negotiated control channel.
type ControlMessage struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// HelloPayload is sent by both sides once the control channel opens.
type HelloPayload struct {
	Client  string `msgpack:"client"`
	Version string `msgpack:"version"`
}

// MediaStatePayload mirrors media.State on the wire.
type MediaStatePayload struct {
	AudioMuted    bool `msgpack:"audio_muted"`
	VideoMuted    bool `msgpack:"video_muted"`
	ScreenSharing bool `msgpack:"screen_sharing"`
}

func (p MediaStatePayload) State() media.State {
	return media.State{AudioMuted: p.AudioMuted, VideoMuted: p.VideoMuted, ScreenSharing: p.ScreenSharing}
}

// DecodePayload decodes the message payload into v.
func (m ControlMessage) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}

// NewControlMessage wraps payload in a message of type t.
func NewControlMessage(t string, payload any) (ControlMessage, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return ControlMessage{}, err
	}
	return ControlMessage{Type: t, Payload: b}, nil
}

// EncodeControl builds and marshals a control frame.
func EncodeControl(t string, payload any) ([]byte, error) {
	msg, err := NewControlMessage(t, payload)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(msg)
}

// DecodeControl unmarshals a control frame.
func DecodeControl(b []byte) (ControlMessage, error) {
	var msg ControlMessage
	err := msgpack.Unmarshal(b, &msg)
	return msg, err
}
