package call

import (
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/avdwal/callcore/internal/signaling"
)

type sentMessage struct {
	recipient string
	msg       *signaling.CallMessage
}

type fakeSignalSender struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (s *fakeSignalSender) SendCallMessage(recipientSessionID string, data *signaling.CallMessage) {
	s.mu.Lock()
	s.sent = append(s.sent, sentMessage{recipient: recipientSessionID, msg: data})
	s.mu.Unlock()
}

func (s *fakeSignalSender) messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

func newWrapperUnderTest(t *testing.T, localSessionID, remoteSessionID string) (*PeerConnectionWrapper, *fakeSignalSender) {
	t.Helper()
	factory, err := NewPeerConnectionFactory(nil)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	sender := &fakeSignalSender{}
	receiver := signaling.NewReceiver()
	model := NewLocalCallParticipantModel()
	w, err := NewPeerConnectionWrapper(factory, sender, receiver,
		localSessionID, remoteSessionID, StreamTypeVideo, "bob", model)
	if err != nil {
		t.Fatalf("wrapper: %v", err)
	}
	t.Cleanup(w.Close)
	return w, sender
}

func remoteOfferSDP(t *testing.T) string {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("aux peer connection: %v", err)
	}
	t.Cleanup(func() { pc.Close() })
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio); err != nil {
		t.Fatalf("add transceiver: %v", err)
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	return offer.SDP
}

func TestLowerSessionIDIsOfferer(t *testing.T) {
	lower, _ := newWrapperUnderTest(t, "aaa", "bbb")
	if !lower.isOfferer() {
		t.Fatalf("lower session id must be the offerer")
	}
	higher, _ := newWrapperUnderTest(t, "bbb", "aaa")
	if higher.isOfferer() {
		t.Fatalf("higher session id must not be the offerer")
	}
}

func TestPublisherLegCreatesDataChannel(t *testing.T) {
	// The bridge publisher connection is keyed by the local session id: both
	// ids are equal, and this side still must open the status channel or
	// data-channel broadcasts to the bridge go nowhere.
	w, sender := newWrapperUnderTest(t, "self-session", "self-session")
	if !w.isOfferer() {
		t.Fatalf("publisher leg must be the offerer")
	}

	w.InitiateOffer()

	w.mu.Lock()
	dc := w.dataChannel
	w.mu.Unlock()
	if dc == nil {
		t.Fatalf("publisher leg did not create the status data channel")
	}
	if dc.Label() != statusDataChannelLabel {
		t.Fatalf("data channel label = %q, want %q", dc.Label(), statusDataChannelLabel)
	}
	if msgs := sender.messages(); len(msgs) == 0 || msgs[0].msg.Type != signaling.CallMessageOffer {
		t.Fatalf("publisher leg did not send an offer")
	}
}

func TestInitiateOfferSendsOffer(t *testing.T) {
	w, sender := newWrapperUnderTest(t, "aaa", "bbb")

	w.InitiateOffer()

	msgs := sender.messages()
	if len(msgs) == 0 {
		t.Fatalf("no messages sent")
	}
	first := msgs[0]
	if first.recipient != "bbb" || first.msg.To != "bbb" {
		t.Fatalf("offer addressed to %q/%q, want bbb", first.recipient, first.msg.To)
	}
	if first.msg.Type != signaling.CallMessageOffer {
		t.Fatalf("type = %q, want offer", first.msg.Type)
	}
	if first.msg.RoomType != StreamTypeVideo {
		t.Fatalf("room type = %q, want video", first.msg.RoomType)
	}
	if first.msg.Payload == nil || first.msg.Payload.SDP == "" {
		t.Fatalf("offer has no sdp")
	}
	if first.msg.Payload.Nick != "bob" {
		t.Fatalf("nick = %q, want bob", first.msg.Payload.Nick)
	}
}

func TestAnswererRespondsToOffer(t *testing.T) {
	w, sender := newWrapperUnderTest(t, "bbb", "aaa")

	w.OnOffer(remoteOfferSDP(t), "alice")

	var answer *signaling.CallMessage
	for _, m := range sender.messages() {
		if m.msg.Type == signaling.CallMessageAnswer {
			answer = m.msg
			break
		}
	}
	if answer == nil {
		t.Fatalf("no answer sent, messages: %d", len(sender.messages()))
	}
	if answer.To != "aaa" || answer.Payload == nil || answer.Payload.SDP == "" {
		t.Fatalf("answer = %+v", answer)
	}
}

func TestRemoteCandidatesQueueUntilDescription(t *testing.T) {
	w, _ := newWrapperUnderTest(t, "bbb", "aaa")

	w.OnCandidate(&signaling.CandidateInfo{
		Candidate:     "candidate:1 1 udp 2130706431 127.0.0.1 54321 typ host",
		SDPMLineIndex: 0,
		SDPMid:        "0",
	})

	w.mu.Lock()
	queued := len(w.pendingRemoteCandidates)
	w.mu.Unlock()
	if queued != 1 {
		t.Fatalf("pending remote candidates = %d, want 1", queued)
	}

	w.OnOffer(remoteOfferSDP(t), "alice")

	w.mu.Lock()
	queued = len(w.pendingRemoteCandidates)
	w.mu.Unlock()
	if queued != 0 {
		t.Fatalf("pending remote candidates = %d after remote description, want 0", queued)
	}
}

func TestRequestOfferTriggersOfferCycle(t *testing.T) {
	w, sender := newWrapperUnderTest(t, "aaa", "bbb")

	w.OnRequestOffer()

	msgs := sender.messages()
	if len(msgs) == 0 || msgs[0].msg.Type != signaling.CallMessageOffer {
		t.Fatalf("requestoffer did not produce an offer")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	w, _ := newWrapperUnderTest(t, "aaa", "bbb")
	w.Close()
	w.Close()
}
