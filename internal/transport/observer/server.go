package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"nightshift.ai/internal/protocol"
	"nightshift.ai/internal/sim/nightshift"
)

// Info is what the bootstrap endpoint and WELCOME describe.
type Info struct {
	StoreID  string
	Params   protocol.StoreParams
	Catalogs protocol.CatalogDigests
	// Tick reports the current host tick; it must be safe to call from any
	// goroutine.
	Tick func() uint64
}

// Server fans night shift events out to websocket observers. It is an
// EventSink; OnEvent never blocks, slow observers lose events instead.
type Server struct {
	info Info
	log  *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu   sync.Mutex
	seq  uint64
	subs map[string]*subscriber

	dropped atomic.Uint64
}

type subscriber struct {
	out chan []byte

	mu         sync.Mutex
	kinds      map[nightshift.EventKind]struct{}
	heartbeats bool
}

func NewServer(info Info, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		info: info,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only anyway
		},
		subs: map[string]*subscriber{},
	}
}

// Observers returns the number of connected observers.
func (s *Server) Observers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Dropped counts events not delivered because an observer queue was full.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

func (s *Server) OnEvent(e nightshift.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if len(s.subs) == 0 {
		return
	}
	b, err := json.Marshal(protocol.NewEventMsg(s.seq, e))
	if err != nil {
		s.log.Printf("observer: encode %s: %v", e.Kind, err)
		return
	}
	for _, sub := range s.subs {
		if !sub.wants(e.Kind) {
			continue
		}
		select {
		case sub.out <- b:
		default:
			s.dropped.Add(1)
		}
	}
}

func (sub *subscriber) wants(kind nightshift.EventKind) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if kind == nightshift.EventHeartbeat && !sub.heartbeats {
		return false
	}
	if len(sub.kinds) == 0 {
		return true
	}
	_, ok := sub.kinds[kind]
	return ok
}

func (sub *subscriber) apply(msg protocol.SubscribeMsg) {
	kinds := make(map[nightshift.EventKind]struct{}, len(msg.Kinds))
	for _, k := range msg.Kinds {
		kinds[nightshift.EventKind(strings.ToUpper(strings.TrimSpace(k)))] = struct{}{}
	}
	sub.mu.Lock()
	sub.kinds = kinds
	sub.heartbeats = msg.Heartbeats
	sub.mu.Unlock()
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		resp := protocol.BootstrapResponse{
			ProtocolVersion: protocol.Version,
			StoreID:         s.info.StoreID,
			StoreParams:     s.info.Params,
			Catalogs:        s.info.Catalogs,
		}
		if s.info.Tick != nil {
			resp.Tick = s.info.Tick()
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := decodeSubscribe(msg)
		if !ok {
			closeWith(conn, websocket.ClosePolicyViolation, "expected SUBSCRIBE")
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		welcome, err := json.Marshal(protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			SessionID:       sid,
			StoreParams:     s.info.Params,
		})
		if err != nil {
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, welcome); err != nil {
			return
		}

		st := &subscriber{out: make(chan []byte, 256)}
		st.apply(sub)
		s.mu.Lock()
		s.subs[sid] = st
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.subs, sid)
			s.mu.Unlock()
		}()
		s.log.Printf("observer %s subscribed kinds=%v", sid, sub.Kinds)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-st.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if upd, ok := decodeSubscribe(msg); ok {
				st.apply(upd)
			}
		}

		cancel()
		closeWith(conn, websocket.CloseNormalClosure, "bye")

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func decodeSubscribe(msg []byte) (protocol.SubscribeMsg, bool) {
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeSubscribe || base.ProtocolVersion != protocol.Version {
		return protocol.SubscribeMsg{}, false
	}
	var sub protocol.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return protocol.SubscribeMsg{}, false
	}
	return sub, true
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
