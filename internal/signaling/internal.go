package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InternalTransport is the HTTP-polling signaling instance used when no
// standalone signaling server is configured. It periodically pulls the full
// room membership snapshot and any queued call messages from the backend,
// feeding both into the Receiver, and POSTs outbound call messages.
//
// The same queue-while-disconnected contract as the external transport
// applies: sends never block the caller, and a failed POST re-queues the
// batch for the next cycle.
type InternalTransport struct {
	receiver *Receiver

	baseURL  string
	http     *http.Client
	interval time.Duration

	mu         sync.Mutex
	sessionID  string
	joinedRoom string
	queue      []*internalSend

	// RoomJoinedFunc, if set before Start, is invoked after a join request
	// succeeds (or short-circuits for an already-joined room).
	RoomJoinedFunc func(roomID string)

	cancel context.CancelFunc
	done   chan struct{}
}

// internalSend is one queued outbound message with the id it keeps across
// retries, so the backend can deduplicate.
type internalSend struct {
	ID        string       `json:"id"`
	Recipient string       `json:"sessionId"`
	Data      *CallMessage `json:"data"`
}

// pollResponse is the body of a poll cycle: the full room snapshot plus any
// call messages addressed to this session.
type pollResponse struct {
	Users    []ParticipantInfo `json:"users"`
	Messages []struct {
		Sender string       `json:"sessionId"`
		Data   *CallMessage `json:"data"`
	} `json:"messages"`
}

// NewInternalTransport creates a polling transport against the backend at
// baseURL, polling every interval.
func NewInternalTransport(receiver *Receiver, baseURL string, interval time.Duration) *InternalTransport {
	if interval <= 0 {
		interval = time.Second
	}
	return &InternalTransport{
		receiver: receiver,
		baseURL:  baseURL,
		http:     &http.Client{Timeout: 10 * time.Second},
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start launches the polling goroutine.
func (t *InternalTransport) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	go t.pollLoop(ctx)
}

// Close stops polling. Safe to call more than once.
func (t *InternalTransport) Close() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	<-t.done
	t.cancel = nil
}

// SessionID returns the backend session id for this client.
func (t *InternalTransport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// HasMCU is always false for the internal backend; it relays signaling only.
func (t *InternalTransport) HasMCU() bool { return false }

// SetSessionID records the session id obtained from the room join REST call.
// The internal backend issues session ids out of band, not via hello.
func (t *InternalTransport) SetSessionID(sessionID string) {
	t.mu.Lock()
	t.sessionID = sessionID
	t.mu.Unlock()
}

// JoinRoom records the room to poll. Joining the already-joined room
// short-circuits locally.
func (t *InternalTransport) JoinRoom(roomID string) {
	t.mu.Lock()
	already := t.joinedRoom == roomID && roomID != ""
	t.joinedRoom = roomID
	t.mu.Unlock()
	if already {
		log.Debugw("already joined, skipping", "room", roomID)
	}
	if t.RoomJoinedFunc != nil && roomID != "" {
		t.RoomJoinedFunc(roomID)
	}
}

// SendCallMessage implements Sender.
func (t *InternalTransport) SendCallMessage(recipientSessionID string, data *CallMessage) {
	t.mu.Lock()
	t.queue = append(t.queue, &internalSend{
		ID:        uuid.NewString(),
		Recipient: recipientSessionID,
		Data:      data,
	})
	t.mu.Unlock()
}

func (t *InternalTransport) pollLoop(ctx context.Context) {
	defer close(t.done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.cycle(ctx)
		}
	}
}

// cycle flushes queued sends and polls for the current room snapshot.
func (t *InternalTransport) cycle(ctx context.Context) {
	t.mu.Lock()
	room := t.joinedRoom
	session := t.sessionID
	pending := t.queue
	t.queue = nil
	t.mu.Unlock()

	if room == "" {
		return
	}

	if len(pending) > 0 {
		if err := t.flush(ctx, room, pending); err != nil {
			log.Warnw("send batch failed, re-queueing", "error", err, "count", len(pending))
			t.mu.Lock()
			t.queue = append(pending, t.queue...)
			t.mu.Unlock()
		}
	}

	resp, err := t.poll(ctx, room, session)
	if err != nil {
		log.Warnw("poll failed", "error", err, "room", room)
		return
	}

	t.receiver.ProcessUsersInRoom(resp.Users)
	for _, m := range resp.Messages {
		t.receiver.ProcessCallMessage(m.Sender, m.Data)
	}
}

func (t *InternalTransport) flush(ctx context.Context, room string, batch []*internalSend) error {
	body, err := json.Marshal(map[string]any{"messages": batch})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/signaling/"+room, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("content-type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("send status %s", resp.Status)
	}
	return nil
}

func (t *InternalTransport) poll(ctx context.Context, room, session string) (*pollResponse, error) {
	url := t.baseURL + "/signaling/" + room + "?session=" + session
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("poll status %s", resp.Status)
	}
	var out pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
