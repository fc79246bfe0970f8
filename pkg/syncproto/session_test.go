package syncproto

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/notesync/pkg/notes"
	"github.com/astromechza/notesync/pkg/registry"
)

type harness struct {
	store *notes.Store
	subs  *registry.Registry
	h     *Handler
	srv   *httptest.Server
}

func newHarness(t *testing.T) *harness {
	store := notes.NewStore(nil)
	subs := registry.New(nil)
	h := NewHandler(store, subs, nil, nil)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = h.NewSession(conn, r.URL.Query().Get("id"), SessionOptions{}).Serve(r.Context())
	}))
	t.Cleanup(srv.Close)
	return &harness{store: store, subs: subs, h: h, srv: srv}
}

func (hs *harness) dial(t *testing.T, id string) *websocket.Conn {
	u := "ws" + strings.TrimPrefix(hs.srv.URL, "http") + "/?id=" + id
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readOutbound(t *testing.T, conn *websocket.Conn, within time.Duration) (Outbound, error) {
	_ = conn.SetReadDeadline(time.Now().Add(within))
	_, p, err := conn.ReadMessage()
	if err != nil {
		return Outbound{}, err
	}
	var out Outbound
	require.NoError(t, json.Unmarshal(p, &out))
	return out, nil
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

func TestSession_InitialContentOnConnect(t *testing.T) {
	hs := newHarness(t)
	_, err := hs.store.Update("ab12cd", "seed")
	require.NoError(t, err)

	conn := hs.dial(t, "ab12cd")
	msg, err := readOutbound(t, conn, time.Second)
	require.NoError(t, err)
	assert.Equal(t, TypeInitialContent, msg.Type)
	assert.Equal(t, "seed", msg.Content)
	assert.NotEmpty(t, msg.Sender)
}

func TestSession_UpdateReachesOthersButNotSender(t *testing.T) {
	hs := newHarness(t)
	a := hs.dial(t, "ab12cd")
	b := hs.dial(t, "ab12cd")
	_, err := readOutbound(t, a, time.Second)
	require.NoError(t, err)
	_, err = readOutbound(t, b, time.Second)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hs.subs.Count("ab12cd") == 2 }, time.Second, 5*time.Millisecond)

	send(t, a, map[string]any{"type": TypeContentUpdate, "content": "from a", "sender": "client-a"})

	got, err := readOutbound(t, b, time.Second)
	require.NoError(t, err)
	assert.Equal(t, TypeContentUpdate, got.Type)
	assert.Equal(t, "from a", got.Content)

	_, err = readOutbound(t, a, 200*time.Millisecond)
	assert.Error(t, err, "sender must not receive its own echo")

	n, err := hs.store.Get("ab12cd")
	require.NoError(t, err)
	assert.Equal(t, "from a", n.Content)
}

func TestSession_GetContentAndMalformedMessages(t *testing.T) {
	hs := newHarness(t)
	conn := hs.dial(t, "ab12cd")
	_, err := readOutbound(t, conn, time.Second)
	require.NoError(t, err)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{{{ not json")))
	send(t, conn, map[string]any{"type": TypeContentUpdate, "content": 12})
	errMsg, err := readOutbound(t, conn, time.Second)
	require.NoError(t, err)
	assert.Equal(t, TypeError, errMsg.Type)

	n, err := hs.store.Get("ab12cd")
	require.NoError(t, err)
	assert.Equal(t, "", n.Content, "non-textual content must not mutate the note")

	send(t, conn, map[string]any{"type": TypeGetContent})
	msg, err := readOutbound(t, conn, time.Second)
	require.NoError(t, err, "connection stays open after malformed input")
	assert.Equal(t, TypeInitialContent, msg.Type)
}

func TestSession_InvalidIDIsRejected(t *testing.T) {
	hs := newHarness(t)
	conn := hs.dial(t, "AB")

	_, err := readOutbound(t, conn, time.Second)
	require.Error(t, err)
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Equal(t, CloseReasonInvalidID, closeErr.Text)
	assert.Equal(t, 0, hs.store.Len())
	assert.Equal(t, 0, hs.subs.Len())
}

func TestSession_DisconnectLeavesRegistry(t *testing.T) {
	hs := newHarness(t)
	conn := hs.dial(t, "ab12cd")
	_, err := readOutbound(t, conn, time.Second)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hs.subs.Count("ab12cd") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hs.subs.IsEmpty("ab12cd") }, 2*time.Second, 10*time.Millisecond)
}

func TestSession_StateTransitions(t *testing.T) {
	h := NewHandler(notes.NewStore(nil), registry.New(nil), nil, nil)
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "closed", StateClosed.String())

	s := h.NewSession(nil, "ab12cd", SessionOptions{})
	assert.Equal(t, StateConnecting, s.State())
	assert.NotEmpty(t, s.SessionID())
}
