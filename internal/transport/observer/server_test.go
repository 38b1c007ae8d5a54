package observer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"nightshift.ai/internal/protocol"
	"nightshift.ai/internal/sim/nightshift"
)

func testInfo() Info {
	return Info{
		StoreID: "main",
		Params:  protocol.StoreParams{TickRateHz: 20, DayTicks: 12000, Seed: 1},
		Catalogs: protocol.CatalogDigests{
			ProductsDigest: strings.Repeat("a", 64),
			LayoutDigest:   strings.Repeat("b", 64),
		},
		Tick: func() uint64 { return 77 },
	}
}

func dial(t *testing.T, srv *httptest.Server, sub protocol.SubscribeMsg) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.WriteJSON(sub))
	return conn
}

func readJSON[T any](t *testing.T, conn *websocket.Conn) T {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var v T
	require.NoError(t, conn.ReadJSON(&v))
	return v
}

func TestWSHandler_FiltersByKind(t *testing.T) {
	s := NewServer(testInfo(), nil)
	srv := httptest.NewServer(s.WSHandler())
	defer srv.Close()

	conn := dial(t, srv, protocol.SubscribeMsg{
		Type: protocol.TypeSubscribe, ProtocolVersion: protocol.Version, Kinds: []string{"finished"},
	})
	welcome := readJSON[protocol.WelcomeMsg](t, conn)
	require.Equal(t, protocol.TypeWelcome, welcome.Type)
	require.Equal(t, "O1", welcome.SessionID)
	require.Equal(t, 12000, welcome.StoreParams.DayTicks)
	require.Eventually(t, func() bool { return s.Observers() == 1 }, 2*time.Second, 5*time.Millisecond)

	at := time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)
	s.OnEvent(nightshift.Event{Time: at, Kind: nightshift.EventScheduled, RunID: "r1", Day: 2})
	s.OnEvent(nightshift.Event{Time: at, Kind: nightshift.EventHeartbeat, Day: 2})
	s.OnEvent(nightshift.Event{Time: at, Kind: nightshift.EventFinished, RunID: "r1", Day: 2,
		Result: &nightshift.RunResult{RunID: "r1", Day: 2, State: nightshift.StateDone}})

	msg := readJSON[protocol.EventMsg](t, conn)
	require.Equal(t, protocol.TypeEvent, msg.Type)
	require.Equal(t, uint64(3), msg.Seq)
	require.Equal(t, nightshift.EventFinished, msg.Event.Kind)
	require.Equal(t, nightshift.StateDone, msg.Event.Result.State)

	// Widen the filter and ask for heartbeats.
	require.NoError(t, conn.WriteJSON(protocol.SubscribeMsg{
		Type: protocol.TypeSubscribe, ProtocolVersion: protocol.Version, Heartbeats: true,
	}))
	require.Eventually(t, func() bool {
		s.mu.Lock()
		st := s.subs[welcome.SessionID]
		s.mu.Unlock()
		return st != nil && st.wants(nightshift.EventHeartbeat)
	}, 2*time.Second, 5*time.Millisecond)
	s.OnEvent(nightshift.Event{Time: at, Kind: nightshift.EventHeartbeat, Day: 2})
	msg = readJSON[protocol.EventMsg](t, conn)
	require.Equal(t, nightshift.EventHeartbeat, msg.Event.Kind)
	require.Equal(t, uint64(4), msg.Seq)
}

func TestWSHandler_RejectsBadHandshake(t *testing.T) {
	s := NewServer(testInfo(), nil)
	srv := httptest.NewServer(s.WSHandler())
	defer srv.Close()

	conn := dial(t, srv, protocol.SubscribeMsg{Type: "HELLO", ProtocolVersion: protocol.Version})
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, websocket.ClosePolicyViolation, ce.Code)
	require.Zero(t, s.Observers())
}

func TestOnEvent_DropsWhenQueueFull(t *testing.T) {
	s := NewServer(testInfo(), nil)
	st := &subscriber{out: make(chan []byte, 1)}
	s.subs["O9"] = st

	for i := 0; i < 3; i++ {
		s.OnEvent(nightshift.Event{Kind: nightshift.EventPhase, Day: 1})
	}
	require.Len(t, st.out, 1)
	require.Equal(t, uint64(2), s.Dropped())

	var first protocol.EventMsg
	require.NoError(t, json.Unmarshal(<-st.out, &first))
	require.Equal(t, uint64(1), first.Seq)
}

func TestBootstrapHandler(t *testing.T) {
	s := NewServer(testInfo(), nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/v1/observer/bootstrap", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	s.BootstrapHandler()(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp protocol.BootstrapResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "main", resp.StoreID)
	require.Equal(t, uint64(77), resp.Tick)
	require.Equal(t, protocol.Version, resp.ProtocolVersion)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/admin/v1/observer/bootstrap", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	s.BootstrapHandler()(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/admin/v1/observer/bootstrap", nil)
	s.BootstrapHandler()(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
