package app

import (
	"sync"

	"github.com/avdwal/callcore/internal/call"
	"github.com/avdwal/callcore/internal/config"
	"github.com/avdwal/callcore/internal/signaling"
)

// Transport is the slice of a signaling transport the session needs. Both
// the external websocket transport and the internal polling transport
// satisfy it.
type Transport interface {
	signaling.Sender
	SessionID() string
	HasMCU() bool
	JoinRoom(roomID string)
	Close()
}

// messageSender is a fan-out sender whose wrapper registry the session
// maintains as participants come and go.
type messageSender interface {
	call.MessageSender
	AddWrapper(w *call.PeerConnectionWrapper)
	RemoveWrapper(w *call.PeerConnectionWrapper)
}

// Session owns the per-call object graph: one call participant, model and
// peer connection wrapper per remote session, plus the local state
// broadcaster. It reacts to reconciled membership batches.
//
// Topology depends on the backend. Without an MCU each remote session gets a
// direct connection and the lower session id sends the offer. With an MCU
// the local session publishes through one connection and subscribes to each
// remote through its own, requesting offers from the MCU side.
type Session struct {
	cfg        config.Config
	receiver   *signaling.Receiver
	transport  Transport
	factory    *call.PeerConnectionFactory
	localModel *call.LocalCallParticipantModel
	list       *call.ParticipantList

	mu             sync.Mutex
	sender         messageSender
	broadcaster    *call.LocalStateBroadcaster
	mcuBroadcaster *call.LocalStateBroadcasterMCU
	participants   map[string]*sessionParticipant
	closed         bool
}

type sessionParticipant struct {
	participant *call.CallParticipant
	wrapper     *call.PeerConnectionWrapper
}

func NewSession(cfg config.Config, receiver *signaling.Receiver, transport Transport,
	factory *call.PeerConnectionFactory, localModel *call.LocalCallParticipantModel) *Session {

	s := &Session{
		cfg:          cfg,
		receiver:     receiver,
		transport:    transport,
		factory:      factory,
		localModel:   localModel,
		participants: make(map[string]*sessionParticipant),
	}
	s.list = call.NewParticipantList(receiver)
	s.list.AddObserver(s)
	return s
}

// LocalModel returns the local participant model the session broadcasts from.
func (s *Session) LocalModel() *call.LocalCallParticipantModel { return s.localModel }

// Close tears down all participants and stops broadcasting. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	parts := make([]*sessionParticipant, 0, len(s.participants))
	for _, sp := range s.participants {
		parts = append(parts, sp)
	}
	s.participants = make(map[string]*sessionParticipant)
	broadcaster := s.broadcaster
	mcu := s.mcuBroadcaster
	s.mu.Unlock()

	s.list.RemoveObserver(s)
	s.list.Destroy()
	if mcu != nil {
		mcu.Destroy()
	} else if broadcaster != nil {
		broadcaster.Destroy()
	}
	for _, sp := range parts {
		s.teardown(sp)
	}
}

// OnCallParticipantsChanged implements call.ParticipantListObserver.
func (s *Session) OnCallParticipantsChanged(joined, updated, left, unchanged []*call.Participant) {
	log.Infow("participants changed",
		"joined", len(joined), "updated", len(updated),
		"left", len(left), "unchanged", len(unchanged))

	for _, p := range joined {
		s.handleJoined(p)
	}
	for _, p := range left {
		s.handleLeft(p)
	}
}

// OnCallEndedForAll implements call.ParticipantListObserver. The left batch
// that follows tears the participants down; nothing to do here beyond
// surfacing the event.
func (s *Session) OnCallEndedForAll() {
	log.Infow("call ended for everyone")
}

func (s *Session) handleJoined(p *call.Participant) {
	localSessionID := s.transport.SessionID()
	hasMCU := s.transport.HasMCU()
	isSelf := p.SessionID == localSessionID

	// Without an MCU there is no connection to ourselves.
	if isSelf && !hasMCU {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, exists := s.participants[p.SessionID]; exists {
		s.mu.Unlock()
		return
	}
	sender := s.ensureSenderLocked(localSessionID, hasMCU)
	s.mu.Unlock()

	wrapper, err := call.NewPeerConnectionWrapper(s.factory, s.transport, s.receiver,
		localSessionID, p.SessionID, call.StreamTypeVideo, s.cfg.User.Nick, s.localModel)
	if err != nil {
		log.Errorw("peer connection setup failed", "session", p.SessionID, "err", err)
		return
	}

	participant := call.NewCallParticipant(p.SessionID, s.receiver)
	participant.SetParticipantData(p.UserID, "", p.Internal)
	participant.SetPeerConnectionWrapper(wrapper)
	participant.Model().AddObserver(&modelLogger{}, nil)
	sender.AddWrapper(wrapper)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		participant.Destroy()
		sender.RemoveWrapper(wrapper)
		wrapper.Close()
		return
	}
	s.participants[p.SessionID] = &sessionParticipant{participant: participant, wrapper: wrapper}
	mcu := s.mcuBroadcaster
	s.mu.Unlock()

	switch {
	case hasMCU && isSelf:
		// Publisher leg: we always offer towards the MCU.
		wrapper.InitiateOffer()
	case hasMCU:
		// Subscriber leg: the MCU sends the offer on request.
		s.transport.SendCallMessage(p.SessionID, &signaling.CallMessage{
			Type:     signaling.CallMessageRequestOffer,
			RoomType: call.StreamTypeVideo,
		})
	case localSessionID < p.SessionID:
		wrapper.InitiateOffer()
	}

	if mcu != nil && !isSelf {
		mcu.HandleCallParticipantAdded()
	}
}

func (s *Session) handleLeft(p *call.Participant) {
	s.mu.Lock()
	sp, ok := s.participants[p.SessionID]
	if ok {
		delete(s.participants, p.SessionID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.teardown(sp)
}

func (s *Session) teardown(sp *sessionParticipant) {
	sp.participant.Destroy()
	s.mu.Lock()
	sender := s.sender
	s.mu.Unlock()
	if sender != nil {
		sender.RemoveWrapper(sp.wrapper)
	}
	sp.wrapper.Close()
}

// ensureSenderLocked builds the message sender and broadcaster on first use.
// They need the local session id, which only exists after the hello
// handshake; the first membership batch cannot arrive before that.
func (s *Session) ensureSenderLocked(localSessionID string, hasMCU bool) messageSender {
	if s.sender != nil {
		return s.sender
	}
	if hasMCU {
		sender := call.NewMessageSenderMCU(s.transport, localSessionID)
		s.sender = sender
		s.mcuBroadcaster = call.NewLocalStateBroadcasterMCU(s.localModel, sender)
	} else {
		sender := call.NewMessageSenderNoMCU(s.transport)
		s.sender = sender
		s.broadcaster = call.NewLocalStateBroadcaster(s.localModel, sender)
	}
	return s.sender
}

// modelLogger surfaces remote participant state for the CLI probe.
type modelLogger struct{}

func (modelLogger) OnCallParticipantChanged(m *call.CallParticipantModel) {
	log.Infow("participant state",
		"session", m.SessionID(),
		"nick", m.Nick(),
		"ice", m.IceConnectionState().String(),
		"audio", m.AudioAvailable().String(),
		"video", m.VideoAvailable().String(),
	)
}
