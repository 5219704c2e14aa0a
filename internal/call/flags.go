// Package call tracks who is in a call and with which capabilities: the
// participant models, the snapshot reconciliation engine, the per-peer
// WebRTC connection wrappers and the local-state broadcast machinery.
package call

// InCallFlags is the bitmask describing how a session participates in the
// call. Flags combine, e.g. FlagInCall|FlagWithAudio|FlagWithVideo.
type InCallFlags int

const (
	FlagDisconnected InCallFlags = 0
	FlagInCall       InCallFlags = 1
	FlagWithAudio    InCallFlags = 2
	FlagWithVideo    InCallFlags = 4
	FlagWithPhone    InCallFlags = 8
)

// InCall reports whether the flags describe an active call participation.
func (f InCallFlags) InCall() bool {
	return f != FlagDisconnected
}

// Actor types as they appear on the wire.
const (
	ActorTypeUser  = "users"
	ActorTypeGuest = "guests"
)

// Availability is the tri-state answer to "does this participant send
// audio/video?". Before a connection is established the answer is Unknown,
// and consumers must treat that as a first-class state rather than guessing.
type Availability int

const (
	AvailabilityUnknown Availability = iota
	AvailabilityYes
	AvailabilityNo
)

func (a Availability) String() string {
	switch a {
	case AvailabilityYes:
		return "yes"
	case AvailabilityNo:
		return "no"
	default:
		return "unknown"
	}
}

// availabilityOf maps a known boolean onto the tri-state.
func availabilityOf(b bool) Availability {
	if b {
		return AvailabilityYes
	}
	return AvailabilityNo
}
