package call

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/avdwal/callcore/internal/signaling"
)

// Video stream types carried in signaling messages. A wrapper is either a
// camera/mic connection or a screen-share connection.
const (
	StreamTypeVideo  = "video"
	StreamTypeScreen = "screen"
)

const statusDataChannelLabel = "status"

// PeerConnectionObserver receives wrapper-level events. CallParticipant
// registers one per wrapper and translates the events into model mutations.
type PeerConnectionObserver interface {
	OnStreamAdded(stream *MediaStream)
	OnStreamRemoved(stream *MediaStream)
	OnIceConnectionStateChanged(state webrtc.ICEConnectionState)
	OnDataChannelMessage(msg *signaling.DataChannelMessage)
	OnNickDetected(nick string)
}

// PeerConnectionWrapper owns one transport peer connection to a remote
// session plus an optional data channel, and runs the SDP negotiation state
// machine for it.
//
// Candidate handling: remote candidates arriving before the remote
// description are queued and drained once it is set; local candidates
// discovered before the remote description exists are queued and flushed as
// signaling messages once it is safe to send.
//
// The data channel for a pair of peers is created by exactly one side, the
// one with the lexicographically lower session id; the other side receives
// it through the remote's OnDataChannel.
type PeerConnectionWrapper struct {
	pc       *webrtc.PeerConnection
	sender   signaling.Sender
	receiver *signaling.Receiver

	localSessionID  string
	sessionID       string
	videoStreamType string
	localNick       string
	localModel      *LocalCallParticipantModel

	observers *observerSet[PeerConnectionObserver]

	mu                      sync.Mutex
	dataChannel             *webrtc.DataChannel
	stream                  *MediaStream
	iceState                webrtc.ICEConnectionState
	pendingRemoteCandidates []webrtc.ICECandidateInit
	pendingLocalCandidates  []*signaling.CandidateInfo
	closed                  bool
}

// NewPeerConnectionWrapper creates the wrapper and registers it for SDP
// negotiation messages from sessionID. It does not start negotiating; call
// InitiateOffer (or wait for the remote offer / a requestoffer).
func NewPeerConnectionWrapper(factory *PeerConnectionFactory, sender signaling.Sender,
	receiver *signaling.Receiver, localSessionID, sessionID, videoStreamType, localNick string,
	localModel *LocalCallParticipantModel) (*PeerConnectionWrapper, error) {

	pc, err := factory.NewPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("creating peer connection for %s: %w", sessionID, err)
	}

	w := &PeerConnectionWrapper{
		pc:              pc,
		sender:          sender,
		receiver:        receiver,
		localSessionID:  localSessionID,
		sessionID:       sessionID,
		videoStreamType: videoStreamType,
		localNick:       localNick,
		localModel:      localModel,
		observers:       newObserverSet[PeerConnectionObserver](),
		iceState:        webrtc.ICEConnectionStateNew,
	}

	pc.OnICECandidate(w.onLocalCandidate)
	pc.OnICEConnectionStateChange(w.onIceStateChange)
	pc.OnTrack(w.onTrack)
	pc.OnDataChannel(w.onRemoteDataChannel)

	receiver.AddWebRTCMessageListener(w, sessionID)
	return w, nil
}

// SessionID returns the remote session this wrapper is paired with.
func (w *PeerConnectionWrapper) SessionID() string { return w.sessionID }

// VideoStreamType reports whether this is a camera/mic or screen wrapper.
func (w *PeerConnectionWrapper) VideoStreamType() string { return w.videoStreamType }

// IceConnectionState returns the current ICE state, for observers attaching
// mid-flight.
func (w *PeerConnectionWrapper) IceConnectionState() webrtc.ICEConnectionState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.iceState
}

// Stream returns the current remote media stream, if any.
func (w *PeerConnectionWrapper) Stream() *MediaStream {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stream
}

func (w *PeerConnectionWrapper) AddObserver(o PeerConnectionObserver) {
	w.observers.add(o, nil)
}

func (w *PeerConnectionWrapper) RemoveObserver(o PeerConnectionObserver) {
	w.observers.remove(o)
}

// isOfferer reports whether the local peer creates the offer and the data
// channel for this pair. Lower session id creates; both sides compare the
// same two ids so the choice is consistent. The bridge publisher leg is
// keyed by the local session id itself and is always the offerer, hence the
// inclusive comparison.
func (w *PeerConnectionWrapper) isOfferer() bool {
	return w.localSessionID <= w.sessionID
}

// InitiateOffer starts a fresh offer cycle: the offerer side opens the
// status data channel (once) and sends its local description as an offer.
func (w *PeerConnectionWrapper) InitiateOffer() {
	if w.isOfferer() {
		w.ensureDataChannel()
	}

	offer, err := w.pc.CreateOffer(nil)
	if err != nil {
		log.Errorw("create offer failed", "session", w.sessionID, "error", err)
		return
	}
	if err := w.pc.SetLocalDescription(offer); err != nil {
		log.Errorw("set local offer failed", "session", w.sessionID, "error", err)
		return
	}
	w.onLocalDescriptionSet()
}

// OnOffer implements signaling.WebRTCMessageListener.
func (w *PeerConnectionWrapper) OnOffer(sdp string, nick string) {
	w.notifyNick(nick)

	err := w.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	})
	if err != nil {
		log.Errorw("set remote offer failed", "session", w.sessionID, "error", err)
		return
	}
	w.onRemoteDescriptionSet()

	if w.pc.LocalDescription() != nil {
		// Renegotiation race: our description already exists, re-send it.
		w.sendLocalDescription()
		return
	}

	answer, err := w.pc.CreateAnswer(nil)
	if err != nil {
		log.Errorw("create answer failed", "session", w.sessionID, "error", err)
		return
	}
	if err := w.pc.SetLocalDescription(answer); err != nil {
		log.Errorw("set local answer failed", "session", w.sessionID, "error", err)
		return
	}
	w.onLocalDescriptionSet()
}

// OnAnswer implements signaling.WebRTCMessageListener.
func (w *PeerConnectionWrapper) OnAnswer(sdp string, nick string) {
	w.notifyNick(nick)

	err := w.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
	if err != nil {
		log.Errorw("set remote answer failed", "session", w.sessionID, "error", err)
		return
	}
	w.onRemoteDescriptionSet()
}

// OnCandidate implements signaling.WebRTCMessageListener. Candidates that
// arrive before the remote description are queued.
func (w *PeerConnectionWrapper) OnCandidate(candidate *signaling.CandidateInfo) {
	mlineIndex := uint16(candidate.SDPMLineIndex)
	mid := candidate.SDPMid
	init := webrtc.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &mlineIndex,
	}

	w.mu.Lock()
	if w.pc.RemoteDescription() == nil {
		w.pendingRemoteCandidates = append(w.pendingRemoteCandidates, init)
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	if err := w.pc.AddICECandidate(init); err != nil {
		log.Warnw("add remote candidate failed", "session", w.sessionID, "error", err)
	}
}

// OnRequestOffer implements signaling.WebRTCMessageListener: the remote (or
// the bridge) asks for a fresh offer cycle.
func (w *PeerConnectionWrapper) OnRequestOffer() {
	w.InitiateOffer()
}

// SendDataChannelMessage sends msg on the status data channel as a UTF-8
// JSON text frame. Dropped silently when no channel is open yet; the
// broadcaster's repeat strategy covers MCU peers and signaling-layer
// mute/unmute covers the rest.
func (w *PeerConnectionWrapper) SendDataChannelMessage(msg *signaling.DataChannelMessage) {
	w.mu.Lock()
	dc := w.dataChannel
	w.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Errorw("marshal data channel message", "error", err)
		return
	}
	if err := dc.SendText(string(data)); err != nil {
		log.Warnw("data channel send failed", "session", w.sessionID, "error", err)
	}
}

// Close tears the wrapper down: unregisters from the receiver, closes the
// data channel and the peer connection, and emits a final stream removal.
// Safe to call more than once.
func (w *PeerConnectionWrapper) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	dc := w.dataChannel
	stream := w.stream
	w.stream = nil
	w.mu.Unlock()

	w.receiver.RemoveListener(w)
	if dc != nil {
		dc.Close()
	}
	w.pc.Close()

	if stream != nil {
		w.observers.notify(func(o PeerConnectionObserver) { o.OnStreamRemoved(stream) })
	}
}

// ── Negotiation internals ─────────────────────────────────────────────────────

// onLocalDescriptionSet sends the stored local description and, once the
// remote description also exists, drains queued remote candidates and
// flushes queued local ones.
func (w *PeerConnectionWrapper) onLocalDescriptionSet() {
	if w.pc.RemoteDescription() == nil {
		w.sendLocalDescription()
		return
	}
	w.sendLocalDescription()
	w.drainRemoteCandidates()
	w.flushLocalCandidates()
}

func (w *PeerConnectionWrapper) onRemoteDescriptionSet() {
	w.drainRemoteCandidates()
	if w.pc.LocalDescription() != nil {
		w.flushLocalCandidates()
	}
}

func (w *PeerConnectionWrapper) sendLocalDescription() {
	desc := w.pc.LocalDescription()
	if desc == nil {
		return
	}
	msgType := signaling.CallMessageOffer
	if desc.Type == webrtc.SDPTypeAnswer {
		msgType = signaling.CallMessageAnswer
	}
	w.sender.SendCallMessage(w.sessionID, &signaling.CallMessage{
		To:       w.sessionID,
		Type:     msgType,
		RoomType: w.videoStreamType,
		Payload: &signaling.CallMessagePayload{
			Type: msgType,
			SDP:  desc.SDP,
			Nick: w.localNick,
		},
	})
}

func (w *PeerConnectionWrapper) drainRemoteCandidates() {
	w.mu.Lock()
	pending := w.pendingRemoteCandidates
	w.pendingRemoteCandidates = nil
	w.mu.Unlock()

	for _, c := range pending {
		if err := w.pc.AddICECandidate(c); err != nil {
			log.Warnw("add queued candidate failed", "session", w.sessionID, "error", err)
		}
	}
}

func (w *PeerConnectionWrapper) flushLocalCandidates() {
	w.mu.Lock()
	pending := w.pendingLocalCandidates
	w.pendingLocalCandidates = nil
	w.mu.Unlock()

	for _, c := range pending {
		w.sendCandidate(c)
	}
}

func (w *PeerConnectionWrapper) sendCandidate(c *signaling.CandidateInfo) {
	w.sender.SendCallMessage(w.sessionID, &signaling.CallMessage{
		To:       w.sessionID,
		Type:     signaling.CallMessageCandidate,
		RoomType: w.videoStreamType,
		Payload:  &signaling.CallMessagePayload{Candidate: c},
	})
}

// ── Engine callbacks ──────────────────────────────────────────────────────────

func (w *PeerConnectionWrapper) onLocalCandidate(c *webrtc.ICECandidate) {
	if c == nil {
		return
	}
	j := c.ToJSON()
	info := &signaling.CandidateInfo{Candidate: j.Candidate}
	if j.SDPMid != nil {
		info.SDPMid = *j.SDPMid
	}
	if j.SDPMLineIndex != nil {
		info.SDPMLineIndex = int(*j.SDPMLineIndex)
	}

	w.mu.Lock()
	if w.pc.RemoteDescription() == nil {
		w.pendingLocalCandidates = append(w.pendingLocalCandidates, info)
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()
	w.sendCandidate(info)
}

func (w *PeerConnectionWrapper) onIceStateChange(state webrtc.ICEConnectionState) {
	w.mu.Lock()
	w.iceState = state
	w.mu.Unlock()
	log.Debugw("ice state", "session", w.sessionID, "type", w.videoStreamType, "state", state.String())
	w.observers.notify(func(o PeerConnectionObserver) { o.OnIceConnectionStateChanged(state) })
}

func (w *PeerConnectionWrapper) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	w.mu.Lock()
	if w.stream == nil {
		w.stream = &MediaStream{}
	}
	w.stream.Tracks = append(w.stream.Tracks, track)
	stream := w.stream
	w.mu.Unlock()

	log.Debugw("track added", "session", w.sessionID, "kind", track.Kind().String())
	w.observers.notify(func(o PeerConnectionObserver) { o.OnStreamAdded(stream) })
}

// ensureDataChannel creates the status channel on the offerer side.
func (w *PeerConnectionWrapper) ensureDataChannel() {
	w.mu.Lock()
	if w.dataChannel != nil {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	dc, err := w.pc.CreateDataChannel(statusDataChannelLabel, nil)
	if err != nil {
		log.Errorw("create data channel failed", "session", w.sessionID, "error", err)
		return
	}
	w.attachDataChannel(dc)
}

// onRemoteDataChannel accepts the channel created by the lower-session-id
// peer.
func (w *PeerConnectionWrapper) onRemoteDataChannel(dc *webrtc.DataChannel) {
	w.attachDataChannel(dc)
}

func (w *PeerConnectionWrapper) attachDataChannel(dc *webrtc.DataChannel) {
	w.mu.Lock()
	w.dataChannel = dc
	w.mu.Unlock()

	dc.OnOpen(w.announceStatus)
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if msg.IsString {
			w.onDataChannelText(msg.Data)
		}
	})
}

// announceStatus sends the minimal readiness announcement once the channel
// opens: audio and video state reflecting actual local capability. The
// richer LocalStateBroadcaster supersedes this, but peers that joined before
// the broadcaster attached still learn the baseline.
func (w *PeerConnectionWrapper) announceStatus() {
	audio, video := signaling.DataChannelAudioOff, signaling.DataChannelVideoOff
	if w.localModel != nil && w.localModel.AudioEnabled() {
		audio = signaling.DataChannelAudioOn
	}
	if w.localModel != nil && w.localModel.VideoEnabled() {
		video = signaling.DataChannelVideoOn
	}
	w.SendDataChannelMessage(&signaling.DataChannelMessage{Type: audio})
	w.SendDataChannelMessage(&signaling.DataChannelMessage{Type: video})
}

func (w *PeerConnectionWrapper) onDataChannelText(data []byte) {
	var msg signaling.DataChannelMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warnw("malformed data channel message dropped", "session", w.sessionID, "error", err)
		return
	}
	w.observers.notify(func(o PeerConnectionObserver) { o.OnDataChannelMessage(&msg) })
}

func (w *PeerConnectionWrapper) notifyNick(nick string) {
	if nick == "" {
		return
	}
	w.observers.notify(func(o PeerConnectionObserver) { o.OnNickDetected(nick) })
}
