package call

import (
	"testing"

	"github.com/pion/webrtc/v4"
)

type modelRecorder struct {
	notifications int
}

func (r *modelRecorder) OnCallParticipantChanged(*CallParticipantModel) {
	r.notifications++
}

func TestModelNotifiesOncePerChange(t *testing.T) {
	model, updater := NewCallParticipantModel("s1")
	rec := &modelRecorder{}
	model.AddObserver(rec, nil)

	updater.SetNick("alice")
	if rec.notifications != 1 {
		t.Fatalf("notifications = %d, want 1", rec.notifications)
	}

	updater.SetNick("alice")
	if rec.notifications != 1 {
		t.Fatalf("notifications = %d after identical set, want 1", rec.notifications)
	}

	updater.SetNick("bob")
	if rec.notifications != 2 {
		t.Fatalf("notifications = %d, want 2", rec.notifications)
	}
	if model.Nick() != "bob" {
		t.Fatalf("nick = %q, want bob", model.Nick())
	}
}

func TestModelIdenticalSetsAreSilent(t *testing.T) {
	model, updater := NewCallParticipantModel("s1")
	updater.SetAudioAvailable(AvailabilityYes)
	rec := &modelRecorder{}
	model.AddObserver(rec, nil)

	updater.SetAudioAvailable(AvailabilityYes)
	updater.SetVideoAvailable(AvailabilityUnknown)
	updater.SetInternal(false)
	updater.SetRaisedHand(false, 0)

	if rec.notifications != 0 {
		t.Fatalf("notifications = %d, want 0", rec.notifications)
	}
	_ = model
}

func TestIceRestartResetsAvailability(t *testing.T) {
	model, updater := NewCallParticipantModel("s1")
	updater.SetIceConnectionState(webrtc.ICEConnectionStateConnected)
	updater.SetAudioAvailable(AvailabilityYes)
	updater.SetVideoAvailable(AvailabilityNo)

	for _, state := range []webrtc.ICEConnectionState{
		webrtc.ICEConnectionStateNew,
		webrtc.ICEConnectionStateChecking,
	} {
		updater.SetAudioAvailable(AvailabilityYes)
		updater.SetVideoAvailable(AvailabilityNo)

		updater.SetIceConnectionState(state)

		if model.AudioAvailable() != AvailabilityUnknown {
			t.Fatalf("audio availability after %v = %v, want unknown", state, model.AudioAvailable())
		}
		if model.VideoAvailable() != AvailabilityUnknown {
			t.Fatalf("video availability after %v = %v, want unknown", state, model.VideoAvailable())
		}
	}
}

func TestIceStateChangeToConnectedKeepsAvailability(t *testing.T) {
	model, updater := NewCallParticipantModel("s1")
	updater.SetIceConnectionState(webrtc.ICEConnectionStateChecking)
	updater.SetAudioAvailable(AvailabilityYes)

	updater.SetIceConnectionState(webrtc.ICEConnectionStateConnected)

	if model.AudioAvailable() != AvailabilityYes {
		t.Fatalf("audio availability = %v, want yes", model.AudioAvailable())
	}
}

func TestModelExecutorSchedulesNotification(t *testing.T) {
	model, updater := NewCallParticipantModel("s1")
	rec := &modelRecorder{}
	var scheduled []func()
	model.AddObserver(rec, func(fn func()) { scheduled = append(scheduled, fn) })

	updater.SetNick("alice")

	if rec.notifications != 0 {
		t.Fatalf("notification fired synchronously despite executor")
	}
	if len(scheduled) != 1 {
		t.Fatalf("scheduled = %d, want 1", len(scheduled))
	}
	scheduled[0]()
	if rec.notifications != 1 {
		t.Fatalf("notifications = %d after running executor, want 1", rec.notifications)
	}
}

func TestRemovedObserverGetsNothing(t *testing.T) {
	model, updater := NewCallParticipantModel("s1")
	rec := &modelRecorder{}
	model.AddObserver(rec, nil)
	model.RemoveObserver(rec)

	updater.SetNick("alice")

	if rec.notifications != 0 {
		t.Fatalf("notifications = %d, want 0", rec.notifications)
	}
}
