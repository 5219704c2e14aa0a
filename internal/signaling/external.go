package signaling

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Sender is the outbound surface a transport exposes to the call layer.
type Sender interface {
	// SendCallMessage sends one call message to the session identified by
	// recipientSessionID. Fire-and-forget: while the transport is
	// disconnected the message is queued and flushed after the next
	// successful hello handshake.
	SendCallMessage(recipientSessionID string, data *CallMessage)
}

// Transport state. Transitions are driven entirely by the signaling
// goroutine; reads from other goroutines go through the mutex.
const (
	StateDisconnected = iota
	StateConnecting
	StateConnected
)

const (
	helloVersion       = "1.0"
	handshakeTimeout   = 30 * time.Second
	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 16 * time.Second
)

// ExternalTransport is the persistent-WebSocket signaling instance. It owns
// the hello/resume session lifecycle, queues outbound messages while
// disconnected, and demultiplexes inbound frames into a Receiver.
type ExternalTransport struct {
	receiver *Receiver

	url        string
	backendURL string
	ticket     string

	// RoomJoinedFunc, if set before Start, is invoked (on the signaling
	// goroutine) whenever a room join is confirmed, including the local
	// short-circuit for a room that is already joined.
	RoomJoinedFunc func(roomID string)

	mu         sync.Mutex
	conn       *websocket.Conn
	state      int
	sessionID  string
	resumeID   string
	hasMCU     bool
	queue      []*ServerMessage
	joinedRoom string
	wantedRoom string

	msgID    atomic.Int64
	restarts int

	cancel context.CancelFunc
	done   chan struct{}
	closed atomic.Bool
}

// NewExternalTransport creates a transport for the signaling server at url.
// backendURL and ticket are passed verbatim in the hello auth params.
func NewExternalTransport(receiver *Receiver, url, backendURL, ticket string) *ExternalTransport {
	return &ExternalTransport{
		receiver:   receiver,
		url:        url,
		backendURL: backendURL,
		ticket:     ticket,
		done:       make(chan struct{}),
	}
}

// Start launches the signaling goroutine. It returns immediately; connection
// establishment, hello and all reconnects happen in the background.
func (t *ExternalTransport) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	go t.runLoop(ctx)
}

// Close sends bye if connected and stops the signaling goroutine. Safe to
// call more than once.
func (t *ExternalTransport) Close() {
	if !t.closed.CompareAndSwap(false, true) {
		return
	}
	t.mu.Lock()
	if t.conn != nil {
		t.writeLocked(&ServerMessage{Type: "bye", Bye: &ByeMessage{}})
		t.conn.Close()
	}
	t.mu.Unlock()
	if t.cancel == nil {
		return
	}
	t.cancel()
	<-t.done
}

// SessionID returns the signaling session id assigned by the last hello
// response, or "" when no session is established.
func (t *ExternalTransport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// HasMCU reports whether the hello response announced a media bridge.
func (t *ExternalTransport) HasMCU() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasMCU
}

// JoinRoom requests a join of roomID. Joining the room that is already
// joined short-circuits locally: the joined callback fires without a round
// trip.
func (t *ExternalTransport) JoinRoom(roomID string) {
	t.mu.Lock()
	t.wantedRoom = roomID
	already := t.joinedRoom == roomID && roomID != ""
	t.mu.Unlock()

	if already {
		log.Debugw("already joined, skipping room message", "room", roomID)
		if t.RoomJoinedFunc != nil {
			t.RoomJoinedFunc(roomID)
		}
		return
	}
	t.send(&ServerMessage{Type: "room", Room: &RoomMessage{RoomID: roomID}})
}

// SendCallMessage implements Sender.
func (t *ExternalTransport) SendCallMessage(recipientSessionID string, data *CallMessage) {
	t.send(&ServerMessage{
		Type: "message",
		Message: &DataMessage{
			Recipient: &MessageActor{Type: "session", SessionID: recipientSessionID},
			Data:      data,
		},
	})
}

// send writes msg if connected, otherwise appends it to the FIFO queue that
// is flushed after the next hello response.
func (t *ExternalTransport) send(msg *ServerMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateConnected || t.conn == nil {
		t.queue = append(t.queue, msg)
		return
	}
	t.writeLocked(msg)
}

func (t *ExternalTransport) writeLocked(msg *ServerMessage) {
	msg.ID = strconv.FormatInt(t.msgID.Add(1), 10)
	data, err := json.Marshal(msg)
	if err != nil {
		log.Errorw("marshal outbound message", "error", err)
		return
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Warnw("write failed", "error", err)
	}
}

// runLoop connects, runs the read loop and reconnects until ctx is
// cancelled. The restart counter backs successive reconnect attempts off
// exponentially; a completed hello handshake resets it.
func (t *ExternalTransport) runLoop(ctx context.Context) {
	defer close(t.done)
	for {
		if err := t.connectOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warnw("signaling connection lost", "error", err, "restarts", t.restarts)
		}
		if ctx.Err() != nil {
			return
		}

		t.restarts++
		delay := reconnectBaseDelay << uint(t.restarts-1)
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// connectOnce dials, performs the hello handshake and reads frames until the
// connection fails or a protocol error forces a reconnect.
func (t *ExternalTransport) connectOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.state = StateConnecting
	resumeID := t.resumeID
	t.mu.Unlock()

	connCtx, connDone := context.WithCancel(ctx)
	defer connDone()
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	hello := &ServerMessage{Type: "hello", Hello: &HelloMessage{Version: helloVersion}}
	if resumeID != "" {
		hello.Hello.ResumeID = resumeID
	} else {
		params, _ := json.Marshal(map[string]string{"ticket": t.ticket})
		hello.Hello.Auth = &HelloAuth{URL: t.backendURL, Params: params}
	}
	t.mu.Lock()
	t.writeLocked(hello)
	t.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.markDisconnected()
			return err
		}
		var msg ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Single malformed frame: log and drop, nothing else changes.
			log.Warnw("malformed frame dropped", "error", err)
			continue
		}
		if stop := t.handleMessage(&msg); stop {
			t.markDisconnected()
			conn.Close()
			return nil
		}
	}
}

// handleMessage processes one inbound frame on the signaling goroutine.
// Returns true when the connection must be torn down and re-established.
func (t *ExternalTransport) handleMessage(msg *ServerMessage) (reconnect bool) {
	switch msg.Type {
	case "hello":
		t.onHelloResponse(msg.Hello)

	case "error":
		code := ""
		if msg.Error != nil {
			code = msg.Error.Code
		}
		switch code {
		case ErrorNoSuchSession:
			log.Infow("session expired, reconnecting fresh")
			t.mu.Lock()
			t.resumeID = ""
			t.sessionID = ""
			t.joinedRoom = ""
			t.mu.Unlock()
			return true
		case ErrorHelloExpected:
			log.Infow("server expected hello, reconnecting")
			return true
		default:
			log.Warnw("signaling error", "code", code)
		}

	case "bye":
		log.Infow("received bye")
		t.mu.Lock()
		t.resumeID = ""
		t.joinedRoom = ""
		t.mu.Unlock()
		return true

	case "room":
		if msg.Room != nil {
			t.mu.Lock()
			t.joinedRoom = msg.Room.RoomID
			t.mu.Unlock()
			if t.RoomJoinedFunc != nil {
				t.RoomJoinedFunc(msg.Room.RoomID)
			}
		}

	case "event":
		if msg.Event != nil && msg.Event.Target == EventTargetParticipants && msg.Event.Type == EventTypeUpdate {
			t.receiver.ProcessParticipantsUpdate(msg.Event.Update)
		}

	case "message":
		if msg.Message != nil && msg.Message.Sender != nil {
			t.receiver.ProcessCallMessage(msg.Message.Sender.SessionID, msg.Message.Data)
		}

	default:
		log.Debugw("unhandled frame type", "type", msg.Type)
	}
	return false
}

// onHelloResponse stores the new session, flushes the queue in FIFO order
// and re-issues the pending room join.
func (t *ExternalTransport) onHelloResponse(hello *HelloMessage) {
	if hello == nil {
		return
	}
	t.mu.Lock()
	resumed := t.sessionID != "" && hello.SessionID == t.sessionID
	t.sessionID = hello.SessionID
	if hello.ResumeID != "" {
		t.resumeID = hello.ResumeID
	}
	t.hasMCU = false
	for _, f := range hello.Features {
		if f == FeatureMCU {
			t.hasMCU = true
		}
	}
	t.state = StateConnected
	t.restarts = 0

	pending := t.queue
	t.queue = nil
	for _, m := range pending {
		t.writeLocked(m)
	}
	wanted, joined := t.wantedRoom, t.joinedRoom
	hasMCU := t.hasMCU
	t.mu.Unlock()

	log.Infow("hello handshake complete", "session", hello.SessionID, "resumed", resumed, "mcu", hasMCU)

	// A fresh session is not in any room; re-join the wanted one.
	if wanted != "" && (!resumed || joined != wanted) {
		t.send(&ServerMessage{Type: "room", Room: &RoomMessage{RoomID: wanted}})
	}
}

func (t *ExternalTransport) markDisconnected() {
	t.mu.Lock()
	t.state = StateDisconnected
	t.joinedRoom = ""
	t.conn = nil
	t.mu.Unlock()
}
