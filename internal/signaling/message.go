// Package signaling implements the wire protocol and message plumbing of the
// call core: the typed message model, the receiver that demultiplexes inbound
// messages to listeners, and the two transport instances (external WebSocket,
// internal HTTP polling). Wire formats must stay bit-for-bit compatible with
// the existing server-side signaling backend.
package signaling

import "encoding/json"

// ── Envelope ──────────────────────────────────────────────────────────────────
// Every frame on the wire is {"type": "...", "<type>": {...}}. Exactly one of
// the payload pointers is set, matching Type.

type ServerMessage struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type"`

	Hello   *HelloMessage `json:"hello,omitempty"`
	Room    *RoomMessage  `json:"room,omitempty"`
	Message *DataMessage  `json:"message,omitempty"`
	Event   *EventMessage `json:"event,omitempty"`
	Error   *ErrorMessage `json:"error,omitempty"`
	Bye     *ByeMessage   `json:"bye,omitempty"`
}

// ── Hello handshake ───────────────────────────────────────────────────────────

type HelloMessage struct {
	Version   string   `json:"version,omitempty"`
	ResumeID  string   `json:"resumeid,omitempty"`
	SessionID string   `json:"sessionid,omitempty"`
	Features  []string `json:"features,omitempty"`

	Auth *HelloAuth `json:"auth,omitempty"`
}

type HelloAuth struct {
	URL    string          `json:"url,omitempty"`
	Type   string          `json:"type,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// FeatureMCU in a hello-response announces server-side media bridging;
// transports surface it via HasMCU.
const FeatureMCU = "mcu"

// ── Room join ─────────────────────────────────────────────────────────────────

type RoomMessage struct {
	RoomID    string `json:"roomid"`
	SessionID string `json:"sessionid,omitempty"`
}

// ── Call messages ─────────────────────────────────────────────────────────────
// A "message" envelope carries one peer-to-peer call message: SDP negotiation
// (offer/answer/candidate/requestoffer), media state (mute/unmute) or
// interaction state (raiseHand, unshareScreen).

type DataMessage struct {
	Sender    *MessageActor `json:"sender,omitempty"`
	Recipient *MessageActor `json:"recipient,omitempty"`
	Data      *CallMessage  `json:"data,omitempty"`
}

type MessageActor struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionid,omitempty"`
	UserID    string `json:"userid,omitempty"`
}

const (
	CallMessageOffer         = "offer"
	CallMessageAnswer        = "answer"
	CallMessageCandidate     = "candidate"
	CallMessageRequestOffer  = "requestoffer"
	CallMessageMute          = "mute"
	CallMessageUnmute        = "unmute"
	CallMessageRaiseHand     = "raiseHand"
	CallMessageUnshareScreen = "unshareScreen"
)

type CallMessage struct {
	To       string `json:"to,omitempty"`
	From     string `json:"from,omitempty"`
	Type     string `json:"type"`
	RoomType string `json:"roomType,omitempty"`
	SID      string `json:"sid,omitempty"`

	Payload *CallMessagePayload `json:"payload,omitempty"`
}

// CallMessagePayload is the variant payload of a call message. Fields are
// populated according to CallMessage.Type: SDP for offer/answer, Candidate
// for candidate, Name for mute/unmute ("audio" or "video"), State+Timestamp
// for raiseHand.
type CallMessagePayload struct {
	Nick      string         `json:"nick,omitempty"`
	Type      string         `json:"type,omitempty"`
	SDP       string         `json:"sdp,omitempty"`
	Candidate *CandidateInfo `json:"candidate,omitempty"`

	Name string `json:"name,omitempty"`

	State     *bool `json:"state,omitempty"`
	Timestamp int64 `json:"timestamp,omitempty"`
}

type CandidateInfo struct {
	Candidate     string `json:"candidate"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
	SDPMid        string `json:"sdpMid"`
}

// ── Participant events ────────────────────────────────────────────────────────
// External signaling delivers participant changes as events targeting
// "participants"; the update carries either the full current user set or an
// all-participants flag broadcast.

const (
	EventTargetParticipants = "participants"
	EventTargetRoom         = "room"
	EventTypeUpdate         = "update"
)

type EventMessage struct {
	Target string       `json:"target"`
	Type   string       `json:"type"`
	Update *EventUpdate `json:"update,omitempty"`
}

type EventUpdate struct {
	RoomID string            `json:"roomid,omitempty"`
	All    bool              `json:"all,omitempty"`
	InCall int               `json:"incall,omitempty"`
	Users  []ParticipantInfo `json:"users,omitempty"`
}

// ParticipantInfo is the wire-level participant entry inside a participant
// update (external signaling) or a usersInRoom snapshot (internal signaling).
// The two backends use different key casings for the same fields; both are
// mapped here.
type ParticipantInfo struct {
	ActorType       string `json:"actorType,omitempty"`
	ActorID         string `json:"actorId,omitempty"`
	UserID          string `json:"userId,omitempty"`
	SessionID       string `json:"sessionId,omitempty"`
	InCall          int    `json:"inCall"`
	LastPing        int64  `json:"lastPing,omitempty"`
	ParticipantType int    `json:"participantType,omitempty"`
	Internal        bool   `json:"internal,omitempty"`
}

// ── Errors and teardown ───────────────────────────────────────────────────────

const (
	ErrorNoSuchSession = "no_such_session"
	ErrorHelloExpected = "hello_expected"
)

type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
	Details string `json:"details,omitempty"`
}

type ByeMessage struct{}

// ── Data channel payloads ─────────────────────────────────────────────────────
// Peer-to-peer state messages exchanged over the negotiated data channel as
// UTF-8 JSON text frames.

const (
	DataChannelAudioOn         = "audioOn"
	DataChannelAudioOff        = "audioOff"
	DataChannelVideoOn         = "videoOn"
	DataChannelVideoOff        = "videoOff"
	DataChannelNickChanged     = "nickChanged"
	DataChannelSpeaking        = "speaking"
	DataChannelStoppedSpeaking = "stoppedSpeaking"
)

type DataChannelMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NickPayload is the payload of a nickChanged data-channel message.
type NickPayload struct {
	Name string `json:"name"`
}
