package signaling

import (
	"encoding/json"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_RelayWireFormat(t *testing.T) {
	data, err := Marshal(Offer{RoomID: "room-1", From: "p1", To: "p2", SDP: "v=0\r\n"})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "offer",
		"roomId": "room-1",
		"from": "p1",
		"to": "p2",
		"payload": {"offer": {"type": "offer", "sdp": "v=0\r\n"}}
	}`, string(data))

	data, err = Marshal(Leave{RoomID: "room-1", PeerID: "p9"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"user-left","roomId":"room-1","payload":{"socketId":"p9"}}`, string(data))

	data, err = Marshal(Roster{RoomID: "room-1", You: "p1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"allParticipants","roomId":"room-1","payload":{"you":"p1","participants":[]}}`, string(data))

	data, err = Marshal(Roster{RoomID: "room-1", You: "p1", Resumed: true})
	require.NoError(t, err)
	msg, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, Roster{RoomID: "room-1", You: "p1", Participants: []Participant{}, Resumed: true}, msg)
}

func TestDecode_IceCandidate(t *testing.T) {
	raw := `{"type":"ice-candidate","roomId":"r","from":"p2","to":"p1",
		"payload":{"candidate":{"candidate":"candidate:1 1 UDP 1 10.0.0.1 5000 typ host","sdpMid":"0","sdpMLineIndex":0}}}`

	msg, err := Unmarshal([]byte(raw))
	require.NoError(t, err)

	c, ok := msg.(IceCandidate)
	require.True(t, ok)
	assert.Equal(t, "p2", c.From)
	assert.Equal(t, "p1", c.To)
	require.NotNil(t, c.Candidate.SDPMid)
	assert.Equal(t, "0", *c.Candidate.SDPMid)
	assert.Equal(t, "candidate:1 1 UDP 1 10.0.0.1 5000 typ host", c.Candidate.Candidate)
}

func TestDecode_Rename_RoomFromPayload(t *testing.T) {
	msg, err := Unmarshal([]byte(`{"type":"set-name","from":"p3","payload":{"roomId":"r","name":"Bo"}}`))
	require.NoError(t, err)
	assert.Equal(t, Rename{RoomID: "r", From: "p3", Name: "Bo"}, msg)
}

func TestDecode_Rejects(t *testing.T) {
	_, err := Unmarshal([]byte(`{"type":"whiteboard-stroke","roomId":"r"}`))
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = Unmarshal([]byte(`{"type":"new-user","roomId":"r","payload":{}}`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Unmarshal([]byte(`{"type":"answer","payload":{"answer":{"type":"answer"}}}`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Unmarshal([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Unmarshal([]byte(`{"type":"offer","payload":"oops"}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestCandidateSurvivesEnvelope(t *testing.T) {
	mid := "1"
	idx := uint16(1)
	in := IceCandidate{RoomID: "r", From: "a", To: "b", Candidate: webrtc.ICECandidateInit{
		Candidate: "candidate:2 1 udp 2 192.0.2.1 4000 typ srflx", SDPMid: &mid, SDPMLineIndex: &idx,
	}}

	env, err := Encode(in)
	require.NoError(t, err)
	data, err := json.Marshal(env)
	require.NoError(t, err)

	out, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
