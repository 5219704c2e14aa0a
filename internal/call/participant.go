package call

import "github.com/avdwal/callcore/internal/signaling"

// Participant is the wire-level snapshot of one session as reported by the
// signaling backend. The session id is the join key: one user may hold
// several sessions (several devices) at once.
//
// Instances are constructed fresh from each signaling snapshot. The
// reconciler never mutates an incoming Participant, and only mutates its own
// stored copies (flag updates, marking DISCONNECTED before emitting a
// leave).
type Participant struct {
	ActorType       string
	ActorID         string
	UserID          string
	SessionID       string
	ParticipantType int
	InCall          InCallFlags
	LastPing        int64
	Internal        bool
}

// Copy returns an independent copy, safe for an observer to retain.
func (p *Participant) Copy() *Participant {
	c := *p
	return &c
}

// ParticipantFromInfo converts a wire entry into a Participant.
func ParticipantFromInfo(info signaling.ParticipantInfo) *Participant {
	return &Participant{
		ActorType:       info.ActorType,
		ActorID:         info.ActorID,
		UserID:          info.UserID,
		SessionID:       info.SessionID,
		ParticipantType: info.ParticipantType,
		InCall:          InCallFlags(info.InCall),
		LastPing:        info.LastPing,
		Internal:        info.Internal,
	}
}
