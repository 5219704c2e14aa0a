package call

import (
	"sync"
	"time"

	"github.com/avdwal/callcore/internal/signaling"
)

// localState is the broadcast-relevant slice of the local model. Speaking
// while muted stays local; the remote side only ever learns about voice
// activity on an open microphone.
type localState struct {
	audioEnabled bool
	videoEnabled bool
	speaking     bool
}

func snapshotLocalState(m *LocalCallParticipantModel) localState {
	return localState{
		audioEnabled: m.AudioEnabled(),
		videoEnabled: m.VideoEnabled(),
		speaking:     m.Speaking(),
	}
}

// LocalStateBroadcaster mirrors local model changes to the other call
// participants. Audio and video toggles go out twice, as a data channel
// message for peers with an open channel and as a mute/unmute signaling
// message for peers still negotiating; speaking changes are data channel
// only.
type LocalStateBroadcaster struct {
	model  *LocalCallParticipantModel
	sender MessageSender

	mu        sync.Mutex
	prev      localState
	destroyed bool
}

func NewLocalStateBroadcaster(model *LocalCallParticipantModel, sender MessageSender) *LocalStateBroadcaster {
	b := &LocalStateBroadcaster{
		model:  model,
		sender: sender,
		prev:   snapshotLocalState(model),
	}
	model.AddObserver(b, nil)
	return b
}

// Destroy stops mirroring. Safe to call more than once.
func (b *LocalStateBroadcaster) Destroy() {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.destroyed = true
	b.mu.Unlock()
	b.model.RemoveObserver(b)
}

// OnLocalParticipantChanged implements LocalModelObserver. The notification
// carries no field information, so the change is recovered by diffing against
// the previous snapshot.
func (b *LocalStateBroadcaster) OnLocalParticipantChanged(m *LocalCallParticipantModel) {
	current := snapshotLocalState(m)

	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	prev := b.prev
	b.prev = current
	b.mu.Unlock()

	if current.audioEnabled != prev.audioEnabled {
		b.sendAudioState(current.audioEnabled)
	}
	if current.videoEnabled != prev.videoEnabled {
		b.sendVideoState(current.videoEnabled)
	}
	if current.speaking != prev.speaking {
		b.sendSpeakingState(current.speaking)
	}
}

// broadcastState resends the full current state regardless of diffs, for
// peers that joined after the last change.
func (b *LocalStateBroadcaster) broadcastState() {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	current := snapshotLocalState(b.model)
	b.sendAudioState(current.audioEnabled)
	b.sendVideoState(current.videoEnabled)
	if current.speaking {
		b.sendSpeakingState(true)
	}
}

func (b *LocalStateBroadcaster) sendAudioState(enabled bool) {
	typ := signaling.DataChannelAudioOff
	if enabled {
		typ = signaling.DataChannelAudioOn
	}
	b.sender.SendDataChannelMessage(&signaling.DataChannelMessage{Type: typ})
	b.sender.SendSignalingMessage(muteMessage(enabled, "audio"))
}

func (b *LocalStateBroadcaster) sendVideoState(enabled bool) {
	typ := signaling.DataChannelVideoOff
	if enabled {
		typ = signaling.DataChannelVideoOn
	}
	b.sender.SendDataChannelMessage(&signaling.DataChannelMessage{Type: typ})
	b.sender.SendSignalingMessage(muteMessage(enabled, "video"))
}

func (b *LocalStateBroadcaster) sendSpeakingState(speaking bool) {
	typ := signaling.DataChannelStoppedSpeaking
	if speaking {
		typ = signaling.DataChannelSpeaking
	}
	b.sender.SendDataChannelMessage(&signaling.DataChannelMessage{Type: typ})
}

func muteMessage(enabled bool, name string) *signaling.CallMessage {
	typ := signaling.CallMessageMute
	if enabled {
		typ = signaling.CallMessageUnmute
	}
	return &signaling.CallMessage{
		Type:    typ,
		Payload: &signaling.CallMessagePayload{Name: name},
	}
}

// mcuResendDelays spreads state resends over the window in which a newly
// joined subscriber is likely to come online behind the MCU.
var mcuResendDelays = []time.Duration{
	0,
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
}

// LocalStateBroadcasterMCU adds join-triggered resends. With an MCU the data
// channel to the publisher is long lived, so a peer joining mid-call would
// otherwise never hear the current state; the broadcaster repeats it on a
// back-off schedule because the exact moment the subscriber becomes reachable
// is unknown.
type LocalStateBroadcasterMCU struct {
	*LocalStateBroadcaster

	timerMu sync.Mutex
	timers  []*time.Timer
}

func NewLocalStateBroadcasterMCU(model *LocalCallParticipantModel, sender MessageSender) *LocalStateBroadcasterMCU {
	return &LocalStateBroadcasterMCU{
		LocalStateBroadcaster: NewLocalStateBroadcaster(model, sender),
	}
}

// HandleCallParticipantAdded restarts the resend schedule. Calling it again
// before the schedule finishes abandons the remaining resends and starts
// over.
func (b *LocalStateBroadcasterMCU) HandleCallParticipantAdded() {
	b.timerMu.Lock()
	defer b.timerMu.Unlock()
	b.stopTimersLocked()
	for _, delay := range mcuResendDelays {
		b.timers = append(b.timers, time.AfterFunc(delay, b.broadcastState))
	}
}

func (b *LocalStateBroadcasterMCU) Destroy() {
	b.timerMu.Lock()
	b.stopTimersLocked()
	b.timerMu.Unlock()
	b.LocalStateBroadcaster.Destroy()
}

func (b *LocalStateBroadcasterMCU) stopTimersLocked() {
	for _, t := range b.timers {
		t.Stop()
	}
	b.timers = nil
}
