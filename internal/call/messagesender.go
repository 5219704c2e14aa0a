package call

import (
	"sync"

	"github.com/avdwal/callcore/internal/signaling"
)

// MessageSender fans local state messages out to the peers in the call. The
// two implementations differ in topology: without an MCU every peer holds a
// direct connection, with an MCU the local publisher connection is the only
// one that carries outgoing state.
type MessageSender interface {
	SendDataChannelMessage(msg *signaling.DataChannelMessage)
	SendSignalingMessage(msg *signaling.CallMessage)
}

// wrapperRegistry tracks the live peer connection wrappers a sender fans out
// to. Wrappers are added when a participant's connection is created and
// removed when it is torn down.
type wrapperRegistry struct {
	mu       sync.Mutex
	wrappers []*PeerConnectionWrapper
}

func (r *wrapperRegistry) AddWrapper(w *PeerConnectionWrapper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.wrappers {
		if existing == w {
			return
		}
	}
	r.wrappers = append(r.wrappers, w)
}

func (r *wrapperRegistry) RemoveWrapper(w *PeerConnectionWrapper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.wrappers {
		if existing == w {
			r.wrappers = append(r.wrappers[:i], r.wrappers[i+1:]...)
			return
		}
	}
}

func (r *wrapperRegistry) snapshot() []*PeerConnectionWrapper {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*PeerConnectionWrapper, len(r.wrappers))
	copy(out, r.wrappers)
	return out
}

// MessageSenderNoMCU sends to every camera/mic wrapper; screen wrappers carry
// media only and are skipped.
type MessageSenderNoMCU struct {
	wrapperRegistry
	sender signaling.Sender
}

func NewMessageSenderNoMCU(sender signaling.Sender) *MessageSenderNoMCU {
	return &MessageSenderNoMCU{sender: sender}
}

func (s *MessageSenderNoMCU) SendDataChannelMessage(msg *signaling.DataChannelMessage) {
	for _, w := range s.snapshot() {
		if w.VideoStreamType() != StreamTypeVideo {
			continue
		}
		w.SendDataChannelMessage(msg)
	}
}

func (s *MessageSenderNoMCU) SendSignalingMessage(msg *signaling.CallMessage) {
	for _, w := range s.snapshot() {
		if w.VideoStreamType() != StreamTypeVideo {
			continue
		}
		s.sender.SendCallMessage(w.SessionID(), msg)
	}
}

// MessageSenderMCU sends through the local publisher connection only; the
// MCU relays to the subscribers.
type MessageSenderMCU struct {
	wrapperRegistry
	sender         signaling.Sender
	localSessionID string
}

func NewMessageSenderMCU(sender signaling.Sender, localSessionID string) *MessageSenderMCU {
	return &MessageSenderMCU{sender: sender, localSessionID: localSessionID}
}

func (s *MessageSenderMCU) SendDataChannelMessage(msg *signaling.DataChannelMessage) {
	for _, w := range s.snapshot() {
		if w.SessionID() == s.localSessionID {
			w.SendDataChannelMessage(msg)
			return
		}
	}
}

func (s *MessageSenderMCU) SendSignalingMessage(msg *signaling.CallMessage) {
	s.sender.SendCallMessage(s.localSessionID, msg)
}
