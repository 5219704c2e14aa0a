package call

import (
	"sync"
	"testing"
	"time"

	"github.com/avdwal/callcore/internal/signaling"
)

type fakeSender struct {
	mu        sync.Mutex
	dataTypes []string
	sigTypes  []string
	sigNames  []string
	wakeup    chan struct{}
}

func newFakeSender() *fakeSender {
	return &fakeSender{wakeup: make(chan struct{}, 64)}
}

func (s *fakeSender) SendDataChannelMessage(msg *signaling.DataChannelMessage) {
	s.mu.Lock()
	s.dataTypes = append(s.dataTypes, msg.Type)
	s.mu.Unlock()
	s.wakeup <- struct{}{}
}

func (s *fakeSender) SendSignalingMessage(msg *signaling.CallMessage) {
	s.mu.Lock()
	s.sigTypes = append(s.sigTypes, msg.Type)
	if msg.Payload != nil {
		s.sigNames = append(s.sigNames, msg.Payload.Name)
	}
	s.mu.Unlock()
	s.wakeup <- struct{}{}
}

func (s *fakeSender) snapshot() (data, sig, names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.dataTypes...),
		append([]string(nil), s.sigTypes...),
		append([]string(nil), s.sigNames...)
}

func (s *fakeSender) waitForMessages(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		s.mu.Lock()
		total := len(s.dataTypes) + len(s.sigTypes)
		s.mu.Unlock()
		if total >= n {
			return
		}
		select {
		case <-s.wakeup:
		case <-deadline:
			t.Fatalf("timed out waiting for %d messages, have %d", n, total)
		}
	}
}

func TestBroadcasterSendsAudioToggle(t *testing.T) {
	model := NewLocalCallParticipantModel()
	sender := newFakeSender()
	b := NewLocalStateBroadcaster(model, sender)
	defer b.Destroy()

	model.SetAudioEnabled(true)

	data, sig, names := sender.snapshot()
	if len(data) != 1 || data[0] != signaling.DataChannelAudioOn {
		t.Fatalf("data = %v, want [audioOn]", data)
	}
	if len(sig) != 1 || sig[0] != signaling.CallMessageUnmute || names[0] != "audio" {
		t.Fatalf("signaling = %v names = %v, want unmute audio", sig, names)
	}

	model.SetAudioEnabled(false)

	data, sig, _ = sender.snapshot()
	if data[len(data)-1] != signaling.DataChannelAudioOff {
		t.Fatalf("data = %v, want audioOff last", data)
	}
	if sig[len(sig)-1] != signaling.CallMessageMute {
		t.Fatalf("signaling = %v, want mute last", sig)
	}
}

func TestBroadcasterSendsVideoToggle(t *testing.T) {
	model := NewLocalCallParticipantModel()
	sender := newFakeSender()
	b := NewLocalStateBroadcaster(model, sender)
	defer b.Destroy()

	model.SetVideoEnabled(true)

	data, sig, names := sender.snapshot()
	if len(data) != 1 || data[0] != signaling.DataChannelVideoOn {
		t.Fatalf("data = %v, want [videoOn]", data)
	}
	if len(sig) != 1 || sig[0] != signaling.CallMessageUnmute || names[0] != "video" {
		t.Fatalf("signaling = %v names = %v, want unmute video", sig, names)
	}
}

func TestBroadcasterSpeakingIsDataChannelOnly(t *testing.T) {
	model := NewLocalCallParticipantModel()
	model.SetAudioEnabled(true)
	sender := newFakeSender()
	b := NewLocalStateBroadcaster(model, sender)
	defer b.Destroy()

	model.SetSpeaking(true)
	model.SetSpeaking(false)

	data, sig, _ := sender.snapshot()
	if len(data) != 2 || data[0] != signaling.DataChannelSpeaking || data[1] != signaling.DataChannelStoppedSpeaking {
		t.Fatalf("data = %v, want [speaking stoppedSpeaking]", data)
	}
	if len(sig) != 0 {
		t.Fatalf("signaling = %v, want none for speaking", sig)
	}
}

func TestBroadcasterMuteTransferDoesNotLeakSpeaking(t *testing.T) {
	model := NewLocalCallParticipantModel()
	model.SetAudioEnabled(true)
	model.SetSpeaking(true)
	sender := newFakeSender()
	b := NewLocalStateBroadcaster(model, sender)
	defer b.Destroy()

	// Muting moves speaking into speaking-while-muted; the remote side sees
	// audioOff plus stoppedSpeaking, never a bare speaking-while-muted.
	model.SetAudioEnabled(false)

	data, _, _ := sender.snapshot()
	want := map[string]bool{
		signaling.DataChannelAudioOff:        false,
		signaling.DataChannelStoppedSpeaking: false,
	}
	for _, typ := range data {
		if _, ok := want[typ]; !ok {
			t.Fatalf("unexpected data channel message %q in %v", typ, data)
		}
		want[typ] = true
	}
	for typ, seen := range want {
		if !seen {
			t.Fatalf("missing data channel message %q in %v", typ, data)
		}
	}
}

func TestBroadcasterDestroyStopsMirroring(t *testing.T) {
	model := NewLocalCallParticipantModel()
	sender := newFakeSender()
	b := NewLocalStateBroadcaster(model, sender)

	b.Destroy()
	model.SetAudioEnabled(true)

	data, sig, _ := sender.snapshot()
	if len(data)+len(sig) != 0 {
		t.Fatalf("messages after destroy: data=%v sig=%v", data, sig)
	}
}

func TestMCUBroadcasterResendsOnParticipantAdded(t *testing.T) {
	model := NewLocalCallParticipantModel()
	model.SetAudioEnabled(true)
	model.SetVideoEnabled(true)
	sender := newFakeSender()
	b := NewLocalStateBroadcasterMCU(model, sender)
	defer b.Destroy()

	b.HandleCallParticipantAdded()

	// The first resend of the schedule fires immediately: audio + video, each
	// as data channel and signaling message.
	sender.waitForMessages(t, 4)
	data, sig, _ := sender.snapshot()
	if data[0] != signaling.DataChannelAudioOn || data[1] != signaling.DataChannelVideoOn {
		t.Fatalf("data = %v, want [audioOn videoOn]", data)
	}
	if sig[0] != signaling.CallMessageUnmute || sig[1] != signaling.CallMessageUnmute {
		t.Fatalf("signaling = %v, want two unmutes", sig)
	}
}

func TestMCUBroadcasterDestroyCancelsSchedule(t *testing.T) {
	model := NewLocalCallParticipantModel()
	model.SetAudioEnabled(true)
	sender := newFakeSender()
	b := NewLocalStateBroadcasterMCU(model, sender)

	b.HandleCallParticipantAdded()
	sender.waitForMessages(t, 2)
	b.Destroy()

	data1, sig1, _ := sender.snapshot()
	time.Sleep(1200 * time.Millisecond)
	data2, sig2, _ := sender.snapshot()

	if len(data2) != len(data1) || len(sig2) != len(sig1) {
		t.Fatalf("resends after destroy: before data=%d sig=%d, after data=%d sig=%d",
			len(data1), len(sig1), len(data2), len(sig2))
	}
}
