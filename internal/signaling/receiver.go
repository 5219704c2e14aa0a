package signaling

import (
	"sync"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("signaling")

// ParticipantListListener receives every participant-list event, regardless
// of which session it concerns.
type ParticipantListListener interface {
	// OnUsersInRoom delivers the full current room membership snapshot
	// (internal signaling; includes participants not in the call).
	OnUsersInRoom(users []ParticipantInfo)

	// OnParticipantsUpdate delivers the full current participant set with
	// call flags (external signaling; sent on every change).
	OnParticipantsUpdate(users []ParticipantInfo)

	// OnAllParticipantsUpdate delivers a flag change applied to every known
	// participant at once.
	OnAllParticipantsUpdate(inCall int)
}

// CallMessageListener receives call messages addressed to one session.
type CallMessageListener interface {
	OnRaiseHand(state bool, timestamp int64)
	OnUnshareScreen()
}

// WebRTCMessageListener receives the SDP negotiation messages addressed to
// one session. Peer connection wrappers register one per remote session.
type WebRTCMessageListener interface {
	OnOffer(sdp string, nick string)
	OnAnswer(sdp string, nick string)
	OnCandidate(candidate *CandidateInfo)
	OnRequestOffer()
}

// Receiver demultiplexes raw signaling messages into typed callbacks.
// Transports push parsed messages in; listeners register by family and,
// for call and WebRTC messages, by session id. Delivering an event with no
// registered listeners is a no-op.
//
// A listener instance holds at most one registration; re-adding replaces the
// previous session scope. Dispatch order across sibling listeners is
// unspecified, but a single listener sees events in receipt order (all
// dispatch happens on the transport's signaling goroutine).
type Receiver struct {
	mu                   sync.Mutex
	participantListeners map[ParticipantListListener]struct{}
	callListeners        map[CallMessageListener]string
	webrtcListeners      map[WebRTCMessageListener]string
}

func NewReceiver() *Receiver {
	return &Receiver{
		participantListeners: make(map[ParticipantListListener]struct{}),
		callListeners:        make(map[CallMessageListener]string),
		webrtcListeners:      make(map[WebRTCMessageListener]string),
	}
}

func (r *Receiver) AddParticipantListListener(l ParticipantListListener) {
	r.mu.Lock()
	r.participantListeners[l] = struct{}{}
	r.mu.Unlock()
}

// AddCallMessageListener registers l for call messages addressed to
// sessionID. Messages for other sessions are not delivered to it.
func (r *Receiver) AddCallMessageListener(l CallMessageListener, sessionID string) {
	r.mu.Lock()
	r.callListeners[l] = sessionID
	r.mu.Unlock()
}

// AddWebRTCMessageListener registers l for SDP negotiation messages
// addressed to sessionID.
func (r *Receiver) AddWebRTCMessageListener(l WebRTCMessageListener, sessionID string) {
	r.mu.Lock()
	r.webrtcListeners[l] = sessionID
	r.mu.Unlock()
}

// RemoveListener removes any prior registration of l, whichever family it
// belongs to. Removing an unregistered listener is a no-op.
func (r *Receiver) RemoveListener(l any) {
	r.mu.Lock()
	if pl, ok := l.(ParticipantListListener); ok {
		delete(r.participantListeners, pl)
	}
	if cl, ok := l.(CallMessageListener); ok {
		delete(r.callListeners, cl)
	}
	if wl, ok := l.(WebRTCMessageListener); ok {
		delete(r.webrtcListeners, wl)
	}
	r.mu.Unlock()
}

// ProcessUsersInRoom fans out a full room membership snapshot.
func (r *Receiver) ProcessUsersInRoom(users []ParticipantInfo) {
	for _, l := range r.participantListenerSnapshot() {
		dispatch(func() { l.OnUsersInRoom(users) })
	}
}

// ProcessParticipantsUpdate fans out a participant-update event. An update
// with All set is a broadcast flag change; anything else carries the full
// user set.
func (r *Receiver) ProcessParticipantsUpdate(update *EventUpdate) {
	if update == nil {
		return
	}
	if update.All {
		for _, l := range r.participantListenerSnapshot() {
			dispatch(func() { l.OnAllParticipantsUpdate(update.InCall) })
		}
		return
	}
	for _, l := range r.participantListenerSnapshot() {
		dispatch(func() { l.OnParticipantsUpdate(update.Users) })
	}
}

// ProcessCallMessage routes one call message from senderSessionID to the
// listeners registered for that session.
func (r *Receiver) ProcessCallMessage(senderSessionID string, msg *CallMessage) {
	if msg == nil {
		return
	}
	switch msg.Type {
	case CallMessageRaiseHand:
		if msg.Payload == nil || msg.Payload.State == nil {
			log.Debugw("raiseHand message without state, dropping", "session", senderSessionID)
			return
		}
		state, ts := *msg.Payload.State, msg.Payload.Timestamp
		for _, l := range r.callListenerSnapshot(senderSessionID) {
			dispatch(func() { l.OnRaiseHand(state, ts) })
		}

	case CallMessageUnshareScreen:
		for _, l := range r.callListenerSnapshot(senderSessionID) {
			dispatch(func() { l.OnUnshareScreen() })
		}

	case CallMessageOffer, CallMessageAnswer:
		if msg.Payload == nil {
			return
		}
		sdp, nick := msg.Payload.SDP, msg.Payload.Nick
		isOffer := msg.Type == CallMessageOffer
		for _, l := range r.webrtcListenerSnapshot(senderSessionID) {
			if isOffer {
				dispatch(func() { l.OnOffer(sdp, nick) })
			} else {
				dispatch(func() { l.OnAnswer(sdp, nick) })
			}
		}

	case CallMessageCandidate:
		if msg.Payload == nil || msg.Payload.Candidate == nil {
			return
		}
		candidate := msg.Payload.Candidate
		for _, l := range r.webrtcListenerSnapshot(senderSessionID) {
			dispatch(func() { l.OnCandidate(candidate) })
		}

	case CallMessageRequestOffer:
		for _, l := range r.webrtcListenerSnapshot(senderSessionID) {
			dispatch(func() { l.OnRequestOffer() })
		}

	default:
		log.Debugw("unhandled call message type", "type", msg.Type, "session", senderSessionID)
	}
}

func (r *Receiver) participantListenerSnapshot() []ParticipantListListener {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ParticipantListListener, 0, len(r.participantListeners))
	for l := range r.participantListeners {
		out = append(out, l)
	}
	return out
}

func (r *Receiver) callListenerSnapshot(sessionID string) []CallMessageListener {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CallMessageListener
	for l, sid := range r.callListeners {
		if sid == sessionID {
			out = append(out, l)
		}
	}
	return out
}

func (r *Receiver) webrtcListenerSnapshot(sessionID string) []WebRTCMessageListener {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []WebRTCMessageListener
	for l, sid := range r.webrtcListeners {
		if sid == sessionID {
			out = append(out, l)
		}
	}
	return out
}

// dispatch isolates a listener invocation so a panicking listener cannot
// take down the signaling dispatch loop.
func dispatch(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorw("listener panicked", "panic", rec)
		}
	}()
	fn()
}
