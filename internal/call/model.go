package call

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// MediaStream is the handle to the remote media a peer connection currently
// delivers: the set of received tracks for one logical stream.
type MediaStream struct {
	Tracks []*webrtc.TrackRemote
}

// HasVideo reports whether at least one video track is present.
func (s *MediaStream) HasVideo() bool {
	if s == nil {
		return false
	}
	for _, t := range s.Tracks {
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			return true
		}
	}
	return false
}

// RaisedHand is the raised-hand state of a participant together with the
// timestamp (milliseconds) at which it was raised or lowered.
type RaisedHand struct {
	State     bool
	Timestamp int64
}

// ModelObserver is notified once per observable change of a call
// participant model. After the notification, reads of any field return a
// value at least as new as the one that triggered it, possibly newer; there
// is no per-notification snapshot.
type ModelObserver interface {
	OnCallParticipantChanged(model *CallParticipantModel)
}

// CallParticipantModel is the read-only observable state of one remote call
// participant, keyed by session id. Mutation goes through the
// CallParticipantUpdater handle held by the owning CallParticipant; everyone
// else gets this read view.
type CallParticipantModel struct {
	sessionID string
	observers *observerSet[ModelObserver]

	mu             sync.Mutex
	userID         string
	nick           string
	internal       bool
	iceState       webrtc.ICEConnectionState
	stream         *MediaStream
	audioAvailable Availability
	videoAvailable Availability
	raisedHand     RaisedHand
	screenIceState webrtc.ICEConnectionState
	screenStream   *MediaStream
}

// CallParticipantUpdater is the write capability for one model. Only the
// owning CallParticipant holds it.
type CallParticipantUpdater struct {
	m *CallParticipantModel
}

// NewCallParticipantModel creates the model for a session and returns the
// read view together with its update handle.
func NewCallParticipantModel(sessionID string) (*CallParticipantModel, *CallParticipantUpdater) {
	m := &CallParticipantModel{
		sessionID:      sessionID,
		observers:      newObserverSet[ModelObserver](),
		iceState:       webrtc.ICEConnectionStateNew,
		screenIceState: webrtc.ICEConnectionStateNew,
	}
	return m, &CallParticipantUpdater{m: m}
}

func (m *CallParticipantModel) SessionID() string { return m.sessionID }

func (m *CallParticipantModel) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID
}

func (m *CallParticipantModel) Nick() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nick
}

// IsInternal reports whether this is a bridge-only participant.
func (m *CallParticipantModel) IsInternal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.internal
}

func (m *CallParticipantModel) IceConnectionState() webrtc.ICEConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.iceState
}

func (m *CallParticipantModel) Stream() *MediaStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

func (m *CallParticipantModel) AudioAvailable() Availability {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audioAvailable
}

func (m *CallParticipantModel) VideoAvailable() Availability {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.videoAvailable
}

func (m *CallParticipantModel) RaisedHand() RaisedHand {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.raisedHand
}

func (m *CallParticipantModel) ScreenIceConnectionState() webrtc.ICEConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screenIceState
}

func (m *CallParticipantModel) ScreenStream() *MediaStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screenStream
}

// AddObserver registers o with an optional execution context. Re-adding an
// already-registered observer replaces its executor.
func (m *CallParticipantModel) AddObserver(o ModelObserver, exec Executor) {
	m.observers.add(o, exec)
}

func (m *CallParticipantModel) RemoveObserver(o ModelObserver) {
	m.observers.remove(o)
}

func (m *CallParticipantModel) notifyChanged() {
	m.observers.notify(func(o ModelObserver) { o.OnCallParticipantChanged(m) })
}

// ── Update handle ─────────────────────────────────────────────────────────────
// Every setter is a no-op when the new value equals the current one;
// otherwise it stores the value and triggers exactly one change
// notification. Notification happens outside the model lock so synchronous
// observers can read any getter from the callback.

func (u *CallParticipantUpdater) Model() *CallParticipantModel { return u.m }

func (u *CallParticipantUpdater) SetUserID(userID string) {
	m := u.m
	m.mu.Lock()
	if m.userID == userID {
		m.mu.Unlock()
		return
	}
	m.userID = userID
	m.mu.Unlock()
	m.notifyChanged()
}

func (u *CallParticipantUpdater) SetNick(nick string) {
	m := u.m
	m.mu.Lock()
	if m.nick == nick {
		m.mu.Unlock()
		return
	}
	m.nick = nick
	m.mu.Unlock()
	m.notifyChanged()
}

func (u *CallParticipantUpdater) SetInternal(internal bool) {
	m := u.m
	m.mu.Lock()
	if m.internal == internal {
		m.mu.Unlock()
		return
	}
	m.internal = internal
	m.mu.Unlock()
	m.notifyChanged()
}

// SetIceConnectionState updates the ICE cell. Entering NEW or CHECKING
// forces audio and video availability back to Unknown: before an
// established connection, capability cannot be asserted either way.
func (u *CallParticipantUpdater) SetIceConnectionState(state webrtc.ICEConnectionState) {
	m := u.m
	m.mu.Lock()
	if m.iceState == state {
		m.mu.Unlock()
		return
	}
	m.iceState = state
	if state == webrtc.ICEConnectionStateNew || state == webrtc.ICEConnectionStateChecking {
		m.audioAvailable = AvailabilityUnknown
		m.videoAvailable = AvailabilityUnknown
	}
	m.mu.Unlock()
	m.notifyChanged()
}

func (u *CallParticipantUpdater) SetStream(stream *MediaStream) {
	m := u.m
	m.mu.Lock()
	if m.stream == stream {
		m.mu.Unlock()
		return
	}
	m.stream = stream
	m.mu.Unlock()
	m.notifyChanged()
}

func (u *CallParticipantUpdater) SetAudioAvailable(a Availability) {
	m := u.m
	m.mu.Lock()
	if m.audioAvailable == a {
		m.mu.Unlock()
		return
	}
	m.audioAvailable = a
	m.mu.Unlock()
	m.notifyChanged()
}

func (u *CallParticipantUpdater) SetVideoAvailable(a Availability) {
	m := u.m
	m.mu.Lock()
	if m.videoAvailable == a {
		m.mu.Unlock()
		return
	}
	m.videoAvailable = a
	m.mu.Unlock()
	m.notifyChanged()
}

func (u *CallParticipantUpdater) SetRaisedHand(state bool, timestamp int64) {
	m := u.m
	rh := RaisedHand{State: state, Timestamp: timestamp}
	m.mu.Lock()
	if m.raisedHand == rh {
		m.mu.Unlock()
		return
	}
	m.raisedHand = rh
	m.mu.Unlock()
	m.notifyChanged()
}

func (u *CallParticipantUpdater) SetScreenIceConnectionState(state webrtc.ICEConnectionState) {
	m := u.m
	m.mu.Lock()
	if m.screenIceState == state {
		m.mu.Unlock()
		return
	}
	m.screenIceState = state
	m.mu.Unlock()
	m.notifyChanged()
}

func (u *CallParticipantUpdater) SetScreenStream(stream *MediaStream) {
	m := u.m
	m.mu.Lock()
	if m.screenStream == stream {
		m.mu.Unlock()
		return
	}
	m.screenStream = stream
	m.mu.Unlock()
	m.notifyChanged()
}
