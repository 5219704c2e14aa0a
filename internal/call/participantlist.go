package call

import (
	logging "github.com/ipfs/go-log/v2"

	"github.com/avdwal/callcore/internal/signaling"
)

var log = logging.Logger("call")

// ParticipantListObserver receives reconciled call membership changes.
type ParticipantListObserver interface {
	// OnCallParticipantsChanged delivers one reconciliation batch. Entries
	// in joined, updated and unchanged are copies the observer may retain;
	// entries in left are the no-longer-referenced stored instances, already
	// flagged disconnected.
	OnCallParticipantsChanged(joined, updated, left, unchanged []*Participant)

	// OnCallEndedForAll fires when the backend disconnects every
	// participant at once, strictly before the accompanying
	// OnCallParticipantsChanged batch (if any).
	OnCallEndedForAll()
}

// ParticipantList reconciles participant-list signaling events against the
// previously known call membership and emits joined/updated/left/unchanged
// batches.
//
// The known map is owned exclusively by the signaling dispatch context: all
// participant-list events arrive sequentially on the transport's signaling
// goroutine, so the diff needs no locking of its own. Only the observer
// registry is synchronized.
type ParticipantList struct {
	receiver  *signaling.Receiver
	observers *observerSet[ParticipantListObserver]

	// known holds only sessions currently in the call (inCall != 0),
	// keyed by session id. Kept strictly in sync with emitted events.
	known map[string]*Participant
}

// NewParticipantList creates the list and registers it for participant-list
// events on receiver.
func NewParticipantList(receiver *signaling.Receiver) *ParticipantList {
	l := &ParticipantList{
		receiver:  receiver,
		observers: newObserverSet[ParticipantListObserver](),
		known:     make(map[string]*Participant),
	}
	receiver.AddParticipantListListener(l)
	return l
}

// Destroy unregisters from the receiver. Safe to call more than once.
func (l *ParticipantList) Destroy() {
	l.receiver.RemoveListener(l)
}

func (l *ParticipantList) AddObserver(o ParticipantListObserver) {
	l.observers.add(o, nil)
}

func (l *ParticipantList) RemoveObserver(o ParticipantListObserver) {
	l.observers.remove(o)
}

// OnUsersInRoom implements signaling.ParticipantListListener for the
// internal backend's full room snapshots.
func (l *ParticipantList) OnUsersInRoom(users []signaling.ParticipantInfo) {
	l.reconcile(users)
}

// OnParticipantsUpdate implements signaling.ParticipantListListener for the
// external backend's participant updates.
func (l *ParticipantList) OnParticipantsUpdate(users []signaling.ParticipantInfo) {
	l.reconcile(users)
}

// OnAllParticipantsUpdate handles a flag change broadcast to every known
// participant. The only meaningful broadcast is the mass disconnect ("call
// ended for everyone"); anything else is ignored defensively.
func (l *ParticipantList) OnAllParticipantsUpdate(inCall int) {
	if InCallFlags(inCall).InCall() {
		log.Warnw("ignoring all-participants update with active flags", "flags", inCall)
		return
	}

	// Contract: end-of-call notification strictly precedes the batch.
	l.observers.notify(func(o ParticipantListObserver) { o.OnCallEndedForAll() })

	if len(l.known) == 0 {
		return
	}
	left := make([]*Participant, 0, len(l.known))
	for sid, stored := range l.known {
		stored.InCall = FlagDisconnected
		left = append(left, stored)
		delete(l.known, sid)
	}
	l.notifyChanged(nil, nil, left, nil)
}

// reconcile diffs one full snapshot against the known membership. A session
// absent from the snapshot is structurally equivalent to one reported
// disconnected.
func (l *ParticipantList) reconcile(users []signaling.ParticipantInfo) {
	knownNotFound := make(map[string]*Participant, len(l.known))
	for sid, p := range l.known {
		knownNotFound[sid] = p
	}

	var joined, updated, left, unchanged []*Participant

	for _, info := range users {
		incoming := ParticipantFromInfo(info)
		sid := incoming.SessionID
		stored, isKnown := l.known[sid]

		if !isKnown {
			if incoming.InCall.InCall() {
				l.known[sid] = incoming.Copy()
				joined = append(joined, incoming.Copy())
			}
			continue
		}
		delete(knownNotFound, sid)

		switch {
		case !incoming.InCall.InCall():
			delete(l.known, sid)
			stored.InCall = FlagDisconnected
			left = append(left, stored)

		case incoming.InCall != stored.InCall:
			// Only the call flags are compared: last-ping and participant
			// type churn on every snapshot and is not an update.
			stored.InCall = incoming.InCall
			updated = append(updated, stored.Copy())

		default:
			unchanged = append(unchanged, stored.Copy())
		}
	}

	// Sessions that vanished from the snapshot entirely left the call.
	for sid, stored := range knownNotFound {
		delete(l.known, sid)
		stored.InCall = FlagDisconnected
		left = append(left, stored)
	}

	if len(joined) == 0 && len(updated) == 0 && len(left) == 0 {
		return
	}
	l.notifyChanged(joined, updated, left, unchanged)
}

func (l *ParticipantList) notifyChanged(joined, updated, left, unchanged []*Participant) {
	l.observers.notify(func(o ParticipantListObserver) {
		o.OnCallParticipantsChanged(joined, updated, left, unchanged)
	})
}
