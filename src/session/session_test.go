package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quickna/socket/src/hub"
	"github.com/quickna/socket/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockConn records everything written to it.
type mockConn struct {
	mu      sync.Mutex
	written []any
	closed  bool
}

func (m *mockConn) ReadMessage() ([]byte, error) {
	return nil, errors.New("not used in tests")
}

func (m *mockConn) WriteJSON(v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written = append(m.written, v)
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConn) getWritten() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]any, len(m.written))
	copy(cp, m.written)
	return cp
}

// mockStore is an in-memory persistence gateway with switchable failures.
type mockStore struct {
	mu        sync.Mutex
	history   map[string][]types.Message
	nextID    int64
	failFetch bool
	failSave  bool
	lastLimit int
}

func newMockStore() *mockStore {
	return &mockStore{history: make(map[string][]types.Message)}
}

func (s *mockStore) RecentMessages(_ context.Context, roomID string, limit int) ([]types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastLimit = limit
	if s.failFetch {
		return nil, errors.New("store down")
	}
	msgs := s.history[roomID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	cp := make([]types.Message, len(msgs))
	copy(cp, msgs)
	return cp, nil
}

func (s *mockStore) SaveMessage(_ context.Context, roomID, content string, author *string) (types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave {
		return types.Message{}, errors.New("store down")
	}
	s.nextID++
	msg := types.Message{
		ID:        s.nextID,
		RoomID:    roomID,
		Content:   content,
		Author:    author,
		CreatedAt: time.Now(),
	}
	s.history[roomID] = append(s.history[roomID], msg)
	return msg, nil
}

func (s *mockStore) savedCount(roomID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history[roomID])
}

func newTestSession(t *testing.T) (*Session, *hub.Hub, *mockStore) {
	t.Helper()
	h := hub.New(zerolog.Nop())
	store := newMockStore()
	return New(h, store, 50, time.Second, zerolog.Nop()), h, store
}

// connect registers a client with a running write pump and drops the
// initial connection event from the recorded writes.
func connect(t *testing.T, sess *Session, id string) (*hub.Client, *mockConn) {
	t.Helper()
	conn := &mockConn{}
	client := hub.NewClient(id, conn)
	sess.Connected(client)
	go client.WritePump()
	t.Cleanup(client.Close)

	events := waitWritten(t, conn, 1)
	ev, ok := events[0].(types.ConnectionEvent)
	require.True(t, ok, "first event must be the connection confirmation")
	require.Equal(t, "connection", ev.Type)
	require.Equal(t, id, ev.Data.ClientID)
	return client, conn
}

func waitWritten(t *testing.T, conn *mockConn, n int) []any {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(conn.getWritten()) >= n
	}, time.Second, 5*time.Millisecond)
	return conn.getWritten()
}

func join(t *testing.T, sess *Session, c *hub.Client, roomID string) {
	t.Helper()
	sess.HandleFrame(c, []byte(`{"type":"join_room","roomId":"`+roomID+`"}`))
}

func lastError(t *testing.T, conn *mockConn, n int) types.ErrorEvent {
	t.Helper()
	events := waitWritten(t, conn, n)
	ev, ok := events[n-1].(types.ErrorEvent)
	require.True(t, ok, "expected error event, got %T", events[n-1])
	return ev
}

func TestJoinRoomDeliversHistory(t *testing.T) {
	sess, h, store := newTestSession(t)

	author := "alice"
	_, err := store.SaveMessage(context.Background(), "AAAAA", "first", &author)
	require.NoError(t, err)
	_, err = store.SaveMessage(context.Background(), "AAAAA", "second", nil)
	require.NoError(t, err)

	c, conn := connect(t, sess, "c1")
	join(t, sess, c, "AAAAA")

	events := waitWritten(t, conn, 2)
	joined, ok := events[1].(types.RoomJoinedEvent)
	require.True(t, ok)
	assert.Equal(t, "room_joined", joined.Type)
	assert.Equal(t, "AAAAA", joined.RoomID)
	require.Len(t, joined.Messages, 2)
	assert.Equal(t, "first", joined.Messages[0].Content)
	assert.Equal(t, "second", joined.Messages[1].Content)

	roomID, ok := h.RoomOf("c1")
	require.True(t, ok)
	assert.Equal(t, "AAAAA", roomID)
}

func TestJoinEmptyRoomDeliversEmptyHistory(t *testing.T) {
	sess, _, _ := newTestSession(t)
	c, conn := connect(t, sess, "c1")

	join(t, sess, c, "AAAAA")

	events := waitWritten(t, conn, 2)
	joined := events[1].(types.RoomJoinedEvent)
	require.NotNil(t, joined.Messages)
	assert.Empty(t, joined.Messages)
}

func TestJoinRequestsConfiguredHistoryLimit(t *testing.T) {
	h := hub.New(zerolog.Nop())
	store := newMockStore()
	sess := New(h, store, 2, time.Second, zerolog.Nop())

	for _, content := range []string{"first", "second", "third"} {
		_, err := store.SaveMessage(context.Background(), "AAAAA", content, nil)
		require.NoError(t, err)
	}

	c, conn := connect(t, sess, "c1")
	join(t, sess, c, "AAAAA")

	events := waitWritten(t, conn, 2)
	joined, ok := events[1].(types.RoomJoinedEvent)
	require.True(t, ok)
	require.Len(t, joined.Messages, 2)
	assert.Equal(t, "second", joined.Messages[0].Content)
	assert.Equal(t, "third", joined.Messages[1].Content)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, 2, store.lastLimit, "store must be asked for exactly the configured limit")
}

func TestJoinWithoutRoomIDFails(t *testing.T) {
	sess, h, _ := newTestSession(t)
	c, conn := connect(t, sess, "c1")

	sess.HandleFrame(c, []byte(`{"type":"join_room"}`))

	assert.Equal(t, "Room ID is required", lastError(t, conn, 2).Error)
	_, ok := h.RoomOf("c1")
	assert.False(t, ok)
}

func TestJoinSurvivesHistoryFetchFailure(t *testing.T) {
	sess, h, store := newTestSession(t)
	store.failFetch = true

	c, conn := connect(t, sess, "c1")
	join(t, sess, c, "AAAAA")

	events := waitWritten(t, conn, 2)
	joined, ok := events[1].(types.RoomJoinedEvent)
	require.True(t, ok, "join must succeed despite the fetch failure")
	assert.Empty(t, joined.Messages)

	roomID, ok := h.RoomOf("c1")
	require.True(t, ok)
	assert.Equal(t, "AAAAA", roomID)
}

func TestRoomSwitchEmitsLeftThenJoined(t *testing.T) {
	sess, h, _ := newTestSession(t)
	c, conn := connect(t, sess, "c1")

	join(t, sess, c, "AAAAA")
	join(t, sess, c, "BBBBB")

	events := waitWritten(t, conn, 4)
	left, ok := events[2].(types.RoomLeftEvent)
	require.True(t, ok, "room_left must precede room_joined")
	assert.Equal(t, "AAAAA", left.RoomID)
	joined, ok := events[3].(types.RoomJoinedEvent)
	require.True(t, ok)
	assert.Equal(t, "BBBBB", joined.RoomID)

	assert.Empty(t, h.Members("AAAAA"))
	require.Len(t, h.Members("BBBBB"), 1)
}

func TestLeaveRoom(t *testing.T) {
	sess, h, _ := newTestSession(t)
	c, conn := connect(t, sess, "c1")

	join(t, sess, c, "AAAAA")
	sess.HandleFrame(c, []byte(`{"type":"leave_room"}`))

	events := waitWritten(t, conn, 3)
	left, ok := events[2].(types.RoomLeftEvent)
	require.True(t, ok)
	assert.Equal(t, "AAAAA", left.RoomID)
	assert.Empty(t, h.Rooms())
}

func TestLeaveWhileIdleIsNoop(t *testing.T) {
	sess, _, _ := newTestSession(t)
	c, conn := connect(t, sess, "c1")

	sess.HandleFrame(c, []byte(`{"type":"leave_room"}`))

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, conn.getWritten(), 1, "no response expected for idle leave")
}

func TestSendMessageBroadcastsToRoomIncludingSender(t *testing.T) {
	sess, _, store := newTestSession(t)
	c1, conn1 := connect(t, sess, "c1")
	c2, conn2 := connect(t, sess, "c2")
	c3, conn3 := connect(t, sess, "c3")

	join(t, sess, c1, "AAAAA")
	join(t, sess, c2, "AAAAA")
	join(t, sess, c3, "BBBBB")

	sess.HandleFrame(c1, []byte(`{"type":"send_message","content":"hello","author":"alice"}`))

	for _, conn := range []*mockConn{conn1, conn2} {
		events := waitWritten(t, conn, 3)
		msg, ok := events[2].(types.NewMessageEvent)
		require.True(t, ok)
		assert.Equal(t, "new_message", msg.Type)
		assert.Equal(t, "AAAAA", msg.RoomID)
		assert.Equal(t, "hello", msg.Message.Content)
		assert.Equal(t, int64(1), msg.Message.ID, "broadcast carries the persisted id")
		require.NotNil(t, msg.Message.Author)
		assert.Equal(t, "alice", *msg.Message.Author)
	}

	// Members of other rooms observe nothing.
	waitWritten(t, conn3, 2)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, conn3.getWritten(), 2)
	assert.Equal(t, 1, store.savedCount("AAAAA"))
}

func TestSendMessageWhileIdleFails(t *testing.T) {
	sess, _, store := newTestSession(t)
	c, conn := connect(t, sess, "c1")

	sess.HandleFrame(c, []byte(`{"type":"send_message","content":"hello"}`))

	assert.Equal(t, "Not connected to any room", lastError(t, conn, 2).Error)
	assert.Equal(t, 0, store.savedCount("AAAAA"))
}

func TestSendEmptyContentFails(t *testing.T) {
	sess, _, store := newTestSession(t)
	c, conn := connect(t, sess, "c1")
	join(t, sess, c, "AAAAA")

	for i, frame := range []string{
		`{"type":"send_message","content":""}`,
		`{"type":"send_message","content":"   \t\n"}`,
	} {
		sess.HandleFrame(c, []byte(frame))
		assert.Equal(t, "Message content is required", lastError(t, conn, 3+i).Error)
	}
	assert.Equal(t, 0, store.savedCount("AAAAA"))
}

func TestSendPersistFailureAbortsBroadcast(t *testing.T) {
	sess, _, store := newTestSession(t)
	c1, conn1 := connect(t, sess, "c1")
	c2, conn2 := connect(t, sess, "c2")
	join(t, sess, c1, "AAAAA")
	join(t, sess, c2, "AAAAA")
	waitWritten(t, conn2, 2)

	store.failSave = true
	sess.HandleFrame(c1, []byte(`{"type":"send_message","content":"hello"}`))

	assert.Equal(t, "Failed to send message", lastError(t, conn1, 3).Error)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, conn2.getWritten(), 2, "no partial broadcast on persist failure")
}

func TestMalformedFrame(t *testing.T) {
	sess, _, _ := newTestSession(t)
	c, conn := connect(t, sess, "c1")

	sess.HandleFrame(c, []byte(`{not json`))

	assert.Equal(t, "Invalid message format", lastError(t, conn, 2).Error)
}

func TestUnknownMessageType(t *testing.T) {
	sess, _, _ := newTestSession(t)
	c, conn := connect(t, sess, "c1")

	sess.HandleFrame(c, []byte(`{"type":"dance"}`))

	assert.Equal(t, "Unknown message type", lastError(t, conn, 2).Error)
}

func TestDisconnectPrunesSoleMemberRoom(t *testing.T) {
	sess, h, _ := newTestSession(t)
	c, _ := connect(t, sess, "c1")
	join(t, sess, c, "AAAAA")

	sess.HandleDisconnect(c)

	assert.Empty(t, h.Members("AAAAA"))
	assert.Empty(t, h.Rooms())
	assert.Equal(t, 0, h.ClientCount())
}

func TestNoEventsAfterDisconnect(t *testing.T) {
	sess, h, _ := newTestSession(t)
	c1, _ := connect(t, sess, "c1")
	c2, conn2 := connect(t, sess, "c2")
	join(t, sess, c1, "AAAAA")
	join(t, sess, c2, "AAAAA")
	waitWritten(t, conn2, 2)

	sess.HandleDisconnect(c2)

	sess.HandleFrame(c1, []byte(`{"type":"send_message","content":"hello"}`))

	// The disconnected member silently misses the broadcast.
	require.Eventually(t, func() bool {
		return h.ClientCount() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, conn2.getWritten(), 2)
}

func TestMembershipSymmetryAcrossSequences(t *testing.T) {
	sess, h, _ := newTestSession(t)
	c1, _ := connect(t, sess, "c1")
	c2, _ := connect(t, sess, "c2")

	join(t, sess, c1, "AAAAA")
	join(t, sess, c2, "AAAAA")
	join(t, sess, c1, "BBBBB")
	sess.HandleFrame(c2, []byte(`{"type":"leave_room"}`))
	join(t, sess, c2, "BBBBB")
	sess.HandleDisconnect(c1)

	// After the dust settles: c2 in BBBBB, AAAAA gone.
	for room, count := range h.Rooms() {
		members := h.Members(room)
		require.Len(t, members, count)
		for _, m := range members {
			got, ok := h.RoomOf(m.ID)
			require.True(t, ok)
			assert.Equal(t, room, got)
		}
	}
	assert.Equal(t, map[string]int{"BBBBB": 1}, h.Rooms())
}
