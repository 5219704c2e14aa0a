package call

import (
	"encoding/json"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/avdwal/callcore/internal/signaling"
)

// CallParticipant binds one remote participant's model to its signaling
// registration and its peer connection wrapper(s): a primary camera/mic
// wrapper and an optional screen-share wrapper. Low-level events flow in,
// model mutations flow out; UI and audio routing observe the model.
type CallParticipant struct {
	model    *CallParticipantModel
	updater  *CallParticipantUpdater
	receiver *signaling.Receiver

	// UnshareScreenFunc, if set, runs when the participant stops sharing
	// their screen. The model's screen cells are driven by the screen
	// wrapper, not by this hook.
	UnshareScreenFunc func()

	mainHandler   *wrapperHandler
	screenHandler *wrapperHandler

	mu            sync.Mutex
	wrapper       *PeerConnectionWrapper
	screenWrapper *PeerConnectionWrapper
	destroyed     bool
}

// NewCallParticipant creates the participant for sessionID, registering it
// for that session's call messages.
func NewCallParticipant(sessionID string, receiver *signaling.Receiver) *CallParticipant {
	model, updater := NewCallParticipantModel(sessionID)
	p := &CallParticipant{
		model:    model,
		updater:  updater,
		receiver: receiver,
	}
	p.mainHandler = &wrapperHandler{p: p, screen: false}
	p.screenHandler = &wrapperHandler{p: p, screen: true}
	receiver.AddCallMessageListener(p, sessionID)
	return p
}

// Model returns the read-only observable state.
func (p *CallParticipant) Model() *CallParticipantModel { return p.model }

// SetParticipantData applies identity fields from a reconciled Participant.
func (p *CallParticipant) SetParticipantData(userID, nick string, internal bool) {
	p.updater.SetUserID(userID)
	if nick != "" {
		p.updater.SetNick(nick)
	}
	p.updater.SetInternal(internal)
}

// OnRaiseHand implements signaling.CallMessageListener.
func (p *CallParticipant) OnRaiseHand(state bool, timestamp int64) {
	p.updater.SetRaisedHand(state, timestamp)
}

// OnUnshareScreen implements signaling.CallMessageListener.
func (p *CallParticipant) OnUnshareScreen() {
	if p.UnshareScreenFunc != nil {
		p.UnshareScreenFunc()
	}
}

// SetPeerConnectionWrapper replaces the primary wrapper (nil detaches). The
// old wrapper's observers are removed first so nothing is delivered twice;
// the new wrapper's current ICE state and stream are pulled into the model
// before subscribing, so the model never lags the wrapper at attach time.
func (p *CallParticipant) SetPeerConnectionWrapper(w *PeerConnectionWrapper) {
	p.mu.Lock()
	old := p.wrapper
	p.wrapper = w
	p.mu.Unlock()

	if old != nil {
		old.RemoveObserver(p.mainHandler)
	}
	if w == nil {
		return
	}
	p.updater.SetIceConnectionState(w.IceConnectionState())
	p.applyStream(w.Stream(), false)
	w.AddObserver(p.mainHandler)
}

// SetScreenPeerConnectionWrapper replaces the screen-share wrapper with the
// same attach/detach discipline as the primary one.
func (p *CallParticipant) SetScreenPeerConnectionWrapper(w *PeerConnectionWrapper) {
	p.mu.Lock()
	old := p.screenWrapper
	p.screenWrapper = w
	p.mu.Unlock()

	if old != nil {
		old.RemoveObserver(p.screenHandler)
	}
	if w == nil {
		return
	}
	p.updater.SetScreenIceConnectionState(w.IceConnectionState())
	p.applyStream(w.Stream(), true)
	w.AddObserver(p.screenHandler)
}

// Destroy unregisters from the receiver and detaches from both wrappers.
// Safe to call more than once; the wrappers themselves are owned and closed
// by whoever created them.
func (p *CallParticipant) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	wrapper, screen := p.wrapper, p.screenWrapper
	p.wrapper, p.screenWrapper = nil, nil
	p.mu.Unlock()

	p.receiver.RemoveListener(p)
	if wrapper != nil {
		wrapper.RemoveObserver(p.mainHandler)
	}
	if screen != nil {
		screen.RemoveObserver(p.screenHandler)
	}
}

// applyStream folds a stream change into the model. For the primary wrapper
// video availability tracks "at least one video track present"; screen-share
// media is always considered available once a stream exists, so the screen
// cells carry no tri-state.
func (p *CallParticipant) applyStream(stream *MediaStream, screen bool) {
	if screen {
		p.updater.SetScreenStream(stream)
		return
	}
	p.updater.SetStream(stream)
	if stream == nil {
		p.updater.SetVideoAvailable(AvailabilityNo)
		return
	}
	p.updater.SetVideoAvailable(availabilityOf(stream.HasVideo()))
}

func (p *CallParticipant) onDataChannelMessage(msg *signaling.DataChannelMessage) {
	switch msg.Type {
	case signaling.DataChannelAudioOn:
		p.updater.SetAudioAvailable(AvailabilityYes)
	case signaling.DataChannelAudioOff:
		p.updater.SetAudioAvailable(AvailabilityNo)
	case signaling.DataChannelVideoOn:
		p.updater.SetVideoAvailable(AvailabilityYes)
	case signaling.DataChannelVideoOff:
		p.updater.SetVideoAvailable(AvailabilityNo)
	case signaling.DataChannelNickChanged:
		var nick signaling.NickPayload
		if err := json.Unmarshal(msg.Payload, &nick); err != nil {
			// Older peers send the nick as a bare string payload.
			var plain string
			if err := json.Unmarshal(msg.Payload, &plain); err != nil {
				log.Warnw("malformed nickChanged payload", "session", p.model.SessionID())
				return
			}
			nick.Name = plain
		}
		p.updater.SetNick(nick.Name)
	case signaling.DataChannelSpeaking, signaling.DataChannelStoppedSpeaking:
		// Remote speaking indication is not modeled yet.
	default:
		log.Debugw("unhandled data channel message", "type", msg.Type, "session", p.model.SessionID())
	}
}

// wrapperHandler adapts PeerConnectionObserver callbacks for either the
// primary or the screen wrapper of its participant.
type wrapperHandler struct {
	p      *CallParticipant
	screen bool
}

func (h *wrapperHandler) OnStreamAdded(stream *MediaStream) {
	h.p.applyStream(stream, h.screen)
}

func (h *wrapperHandler) OnStreamRemoved(*MediaStream) {
	h.p.applyStream(nil, h.screen)
}

func (h *wrapperHandler) OnIceConnectionStateChanged(state webrtc.ICEConnectionState) {
	if h.screen {
		h.p.updater.SetScreenIceConnectionState(state)
		return
	}
	h.p.updater.SetIceConnectionState(state)
}

func (h *wrapperHandler) OnDataChannelMessage(msg *signaling.DataChannelMessage) {
	if h.screen {
		// Screen wrappers carry no data channel binding.
		return
	}
	h.p.onDataChannelMessage(msg)
}

func (h *wrapperHandler) OnNickDetected(nick string) {
	if h.screen {
		return
	}
	h.p.updater.SetNick(nick)
}
