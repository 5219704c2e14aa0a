package call

import (
	"testing"

	"github.com/avdwal/callcore/internal/signaling"
)

type listRecorder struct {
	events []string

	joined    []*Participant
	updated   []*Participant
	left      []*Participant
	unchanged []*Participant
	batches   int
	ended     int
}

func (r *listRecorder) OnCallParticipantsChanged(joined, updated, left, unchanged []*Participant) {
	r.events = append(r.events, "batch")
	r.joined, r.updated, r.left, r.unchanged = joined, updated, left, unchanged
	r.batches++
}

func (r *listRecorder) OnCallEndedForAll() {
	r.events = append(r.events, "ended")
	r.ended++
}

func newListUnderTest(t *testing.T) (*ParticipantList, *listRecorder) {
	t.Helper()
	receiver := signaling.NewReceiver()
	list := NewParticipantList(receiver)
	t.Cleanup(list.Destroy)
	rec := &listRecorder{}
	list.AddObserver(rec)
	return list, rec
}

func user(session string, inCall int) signaling.ParticipantInfo {
	return signaling.ParticipantInfo{
		ActorType: "users",
		UserID:    "user-" + session,
		SessionID: session,
		InCall:    inCall,
	}
}

func sessionIDs(ps []*Participant) map[string]bool {
	out := make(map[string]bool, len(ps))
	for _, p := range ps {
		out[p.SessionID] = true
	}
	return out
}

func TestUnknownSessionJoins(t *testing.T) {
	list, rec := newListUnderTest(t)

	list.OnUsersInRoom([]signaling.ParticipantInfo{
		user("a", int(FlagInCall|FlagWithAudio)),
		user("b", int(FlagDisconnected)),
	})

	if rec.batches != 1 {
		t.Fatalf("batches = %d, want 1", rec.batches)
	}
	if len(rec.joined) != 1 || rec.joined[0].SessionID != "a" {
		t.Fatalf("joined = %v, want exactly session a", sessionIDs(rec.joined))
	}
	if len(rec.updated)+len(rec.left)+len(rec.unchanged) != 0 {
		t.Fatalf("unexpected non-joined entries: updated=%d left=%d unchanged=%d",
			len(rec.updated), len(rec.left), len(rec.unchanged))
	}
}

func TestUnknownDisconnectedSessionEmitsNothing(t *testing.T) {
	list, rec := newListUnderTest(t)

	list.OnUsersInRoom([]signaling.ParticipantInfo{user("a", 0)})

	if rec.batches != 0 {
		t.Fatalf("batches = %d, want 0", rec.batches)
	}
}

func TestDisconnectedSessionJoinsOnLaterSnapshot(t *testing.T) {
	list, rec := newListUnderTest(t)

	// A disconnected stranger is ignored, not remembered.
	list.OnUsersInRoom([]signaling.ParticipantInfo{user("a", int(FlagDisconnected))})
	// The same session entering the call is a plain join.
	list.OnUsersInRoom([]signaling.ParticipantInfo{user("a", int(FlagInCall | FlagWithAudio))})

	if rec.batches != 1 {
		t.Fatalf("batches = %d, want 1", rec.batches)
	}
	if len(rec.joined) != 1 || rec.joined[0].SessionID != "a" {
		t.Fatalf("joined = %v, want exactly session a", sessionIDs(rec.joined))
	}
	if rec.joined[0].InCall != FlagInCall|FlagWithAudio {
		t.Fatalf("joined flags = %v, want in-call with audio", rec.joined[0].InCall)
	}
	if len(rec.updated)+len(rec.left)+len(rec.unchanged) != 0 {
		t.Fatalf("unexpected non-joined entries: updated=%d left=%d unchanged=%d",
			len(rec.updated), len(rec.left), len(rec.unchanged))
	}
}

func TestLeaveByFlagAndByOmissionAreEquivalent(t *testing.T) {
	for name, second := range map[string][]signaling.ParticipantInfo{
		"flag":     {user("a", 0)},
		"omission": {},
	} {
		t.Run(name, func(t *testing.T) {
			list, rec := newListUnderTest(t)
			list.OnUsersInRoom([]signaling.ParticipantInfo{user("a", int(FlagInCall))})

			list.OnUsersInRoom(second)

			if rec.batches != 2 {
				t.Fatalf("batches = %d, want 2", rec.batches)
			}
			if len(rec.left) != 1 || rec.left[0].SessionID != "a" {
				t.Fatalf("left = %v, want exactly session a", sessionIDs(rec.left))
			}
			if rec.left[0].InCall != FlagDisconnected {
				t.Fatalf("left participant flags = %v, want disconnected", rec.left[0].InCall)
			}

			// Once gone, the same session joining again is a fresh join.
			list.OnUsersInRoom([]signaling.ParticipantInfo{user("a", int(FlagInCall))})
			if len(rec.joined) != 1 {
				t.Fatalf("rejoin not reported as joined")
			}
		})
	}
}

func TestFlagChangeIsUpdate(t *testing.T) {
	list, rec := newListUnderTest(t)
	list.OnUsersInRoom([]signaling.ParticipantInfo{user("a", int(FlagInCall))})

	list.OnUsersInRoom([]signaling.ParticipantInfo{user("a", int(FlagInCall | FlagWithVideo))})

	if rec.batches != 2 {
		t.Fatalf("batches = %d, want 2", rec.batches)
	}
	if len(rec.updated) != 1 || rec.updated[0].SessionID != "a" {
		t.Fatalf("updated = %v, want exactly session a", sessionIDs(rec.updated))
	}
	if rec.updated[0].InCall != FlagInCall|FlagWithVideo {
		t.Fatalf("updated flags = %v", rec.updated[0].InCall)
	}
}

func TestNonFlagChurnIsNotAnUpdate(t *testing.T) {
	list, rec := newListUnderTest(t)
	first := user("a", int(FlagInCall))
	first.LastPing = 100
	list.OnUsersInRoom([]signaling.ParticipantInfo{first})

	second := user("a", int(FlagInCall))
	second.LastPing = 200
	list.OnUsersInRoom([]signaling.ParticipantInfo{second})

	// Only unchanged entries: no notification at all.
	if rec.batches != 1 {
		t.Fatalf("batches = %d, want 1 (identical snapshot must be silent)", rec.batches)
	}
}

func TestCallEndedForAllPrecedesLeftBatch(t *testing.T) {
	list, rec := newListUnderTest(t)
	list.OnUsersInRoom([]signaling.ParticipantInfo{
		user("a", int(FlagInCall)),
		user("b", int(FlagInCall)),
	})

	list.OnAllParticipantsUpdate(0)

	if rec.ended != 1 {
		t.Fatalf("ended = %d, want 1", rec.ended)
	}
	want := []string{"batch", "ended", "batch"}
	if len(rec.events) != len(want) {
		t.Fatalf("events = %v, want %v", rec.events, want)
	}
	for i := range want {
		if rec.events[i] != want[i] {
			t.Fatalf("events = %v, want %v", rec.events, want)
		}
	}
	if got := sessionIDs(rec.left); !got["a"] || !got["b"] || len(got) != 2 {
		t.Fatalf("left = %v, want a and b", got)
	}
}

func TestCallEndedForAllWithEmptyListEmitsNoBatch(t *testing.T) {
	list, rec := newListUnderTest(t)

	list.OnAllParticipantsUpdate(0)

	if rec.ended != 1 || rec.batches != 0 {
		t.Fatalf("ended = %d batches = %d, want 1 and 0", rec.ended, rec.batches)
	}
}

func TestCallEndedForAllIgnoresActiveFlags(t *testing.T) {
	list, rec := newListUnderTest(t)
	list.OnUsersInRoom([]signaling.ParticipantInfo{user("a", int(FlagInCall))})

	list.OnAllParticipantsUpdate(int(FlagInCall | FlagWithAudio))

	if rec.ended != 0 || rec.batches != 1 {
		t.Fatalf("ended = %d batches = %d, want 0 and 1", rec.ended, rec.batches)
	}
}

func TestObserverMutationDoesNotCorruptInternalState(t *testing.T) {
	list, rec := newListUnderTest(t)
	list.OnUsersInRoom([]signaling.ParticipantInfo{user("a", int(FlagInCall))})

	// Observers own their copies; scribbling on them must not leak back.
	rec.joined[0].InCall = FlagInCall | FlagWithVideo

	list.OnUsersInRoom([]signaling.ParticipantInfo{user("a", int(FlagInCall))})

	if rec.batches != 1 {
		t.Fatalf("batches = %d, want 1 (mutated copy must not fake an update)", rec.batches)
	}
}

func TestLeftEntriesAreTheStoredInstances(t *testing.T) {
	list, rec := newListUnderTest(t)
	list.OnUsersInRoom([]signaling.ParticipantInfo{user("a", int(FlagInCall | FlagWithAudio))})
	stored := rec.joined[0]

	list.OnUsersInRoom(nil)

	left := rec.left[0]
	if left == stored {
		// joined delivered a copy, so pointer equality with it would mean
		// the copy leaked into the map.
		t.Fatalf("left entry aliases the joined copy")
	}
	if left.SessionID != "a" || left.InCall != FlagDisconnected {
		t.Fatalf("left = %+v, want session a disconnected", left)
	}
}

func TestMixedBatch(t *testing.T) {
	list, rec := newListUnderTest(t)
	list.OnUsersInRoom([]signaling.ParticipantInfo{
		user("stay", int(FlagInCall)),
		user("change", int(FlagInCall)),
		user("go", int(FlagInCall)),
	})

	list.OnUsersInRoom([]signaling.ParticipantInfo{
		user("stay", int(FlagInCall)),
		user("change", int(FlagInCall|FlagWithAudio)),
		user("new", int(FlagInCall)),
	})

	if got := sessionIDs(rec.joined); len(got) != 1 || !got["new"] {
		t.Fatalf("joined = %v, want new", got)
	}
	if got := sessionIDs(rec.updated); len(got) != 1 || !got["change"] {
		t.Fatalf("updated = %v, want change", got)
	}
	if got := sessionIDs(rec.left); len(got) != 1 || !got["go"] {
		t.Fatalf("left = %v, want go", got)
	}
	if got := sessionIDs(rec.unchanged); len(got) != 1 || !got["stay"] {
		t.Fatalf("unchanged = %v, want stay", got)
	}
}
