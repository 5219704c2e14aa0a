package call

import "sync"

// LocalModelObserver is notified once per observable change of the local
// participant model.
type LocalModelObserver interface {
	OnLocalParticipantChanged(model *LocalCallParticipantModel)
}

// LocalCallParticipantModel holds the local user's own media state. All
// fields default to false.
//
// Speaking and speaking-while-muted are mutually exclusive in effect:
// toggling audio transfers the current speaking value into the matching slot
// (enabling audio moves speaking-while-muted into speaking and clears it;
// disabling audio does the reverse).
type LocalCallParticipantModel struct {
	observers *observerSet[LocalModelObserver]

	mu                 sync.Mutex
	audioEnabled       bool
	videoEnabled       bool
	speaking           bool
	speakingWhileMuted bool
}

func NewLocalCallParticipantModel() *LocalCallParticipantModel {
	return &LocalCallParticipantModel{observers: newObserverSet[LocalModelObserver]()}
}

func (m *LocalCallParticipantModel) AudioEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audioEnabled
}

func (m *LocalCallParticipantModel) VideoEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.videoEnabled
}

func (m *LocalCallParticipantModel) Speaking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speaking
}

func (m *LocalCallParticipantModel) SpeakingWhileMuted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speakingWhileMuted
}

func (m *LocalCallParticipantModel) AddObserver(o LocalModelObserver, exec Executor) {
	m.observers.add(o, exec)
}

func (m *LocalCallParticipantModel) RemoveObserver(o LocalModelObserver) {
	m.observers.remove(o)
}

// SetAudioEnabled flips the microphone state and transfers the speaking
// value between the speaking and speaking-while-muted slots.
func (m *LocalCallParticipantModel) SetAudioEnabled(enabled bool) {
	m.mu.Lock()
	if m.audioEnabled == enabled {
		m.mu.Unlock()
		return
	}
	m.audioEnabled = enabled
	if enabled {
		m.speaking = m.speakingWhileMuted
		m.speakingWhileMuted = false
	} else {
		m.speakingWhileMuted = m.speaking
		m.speaking = false
	}
	m.mu.Unlock()
	m.notifyChanged()
}

func (m *LocalCallParticipantModel) SetVideoEnabled(enabled bool) {
	m.mu.Lock()
	if m.videoEnabled == enabled {
		m.mu.Unlock()
		return
	}
	m.videoEnabled = enabled
	m.mu.Unlock()
	m.notifyChanged()
}

// SetSpeaking records voice activity. While audio is muted the value lands
// in speaking-while-muted instead, so the UI can hint "you are muted".
func (m *LocalCallParticipantModel) SetSpeaking(speaking bool) {
	m.mu.Lock()
	if m.audioEnabled {
		if m.speaking == speaking {
			m.mu.Unlock()
			return
		}
		m.speaking = speaking
	} else {
		if m.speakingWhileMuted == speaking {
			m.mu.Unlock()
			return
		}
		m.speakingWhileMuted = speaking
	}
	m.mu.Unlock()
	m.notifyChanged()
}

func (m *LocalCallParticipantModel) notifyChanged() {
	m.observers.notify(func(o LocalModelObserver) { o.OnLocalParticipantChanged(m) })
}
