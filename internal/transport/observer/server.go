// Package observer exposes a session's statistics over a local websocket
// so external dashboards can watch a running viewer without being part of
// its render or data loops.
package observer

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"terrastream.dev/internal/stats"
)

const Version = 1

// SubscribeMsg is the handshake and update message: a client must send one
// before any frames are streamed and may resend it to change the interval.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion int    `json:"protocolVersion"`
	IntervalMs      int    `json:"intervalMs"`
}

// BootstrapResponse describes the session to a connecting client.
type BootstrapResponse struct {
	ProtocolVersion int    `json:"protocolVersion"`
	SessionId       string `json:"sessionId"`
	ConfigUrl       string `json:"configUrl"`
	StartedAt       string `json:"startedAt"`
}

// FrameMsg wraps one statistics snapshot on the wire.
type FrameMsg struct {
	Type  string      `json:"type"`
	Stats stats.Stats `json:"stats"`
}

// Source provides statistics snapshots; implementations must be safe to
// call from the observer goroutines.
type Source interface {
	Snapshot() stats.Stats
}

type Server struct {
	src  Source
	boot BootstrapResponse
	log  *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(src Source, sessionId, configUrl string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		src: src,
		boot: BootstrapResponse{
			ProtocolVersion: Version,
			SessionId:       sessionId,
			ConfigUrl:       configUrl,
			StartedAt:       time.Now().UTC().Format(time.RFC3339),
		},
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only
		},
	}
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
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(s.boot)
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
		var sub SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			closeWith(conn, websocket.ClosePolicyViolation, "bad subscribe")
			return
		}
		if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != Version {
			closeWith(conn, websocket.ClosePolicyViolation, "expected SUBSCRIBE")
			return
		}
		normalizeSubscribe(&sub)

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		s.log.Printf("[observer] %s connected from %s", sid, r.RemoteAddr)

		interval := make(chan time.Duration, 1)
		done := make(chan struct{})

		// Writer goroutine: one frame per interval.
		writeErr := make(chan error, 1)
		go func() {
			t := time.NewTicker(time.Duration(sub.IntervalMs) * time.Millisecond)
			defer t.Stop()
			for {
				select {
				case <-done:
					writeErr <- nil
					return
				case d := <-interval:
					t.Reset(d)
				case <-t.C:
					frame := FrameMsg{Type: "FRAME", Stats: s.src.Snapshot()}
					b, err := json.Marshal(frame)
					if err != nil {
						writeErr <- err
						return
					}
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
			var sub SubscribeMsg
			if err := json.Unmarshal(msg, &sub); err != nil {
				continue
			}
			if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != Version {
				continue
			}
			normalizeSubscribe(&sub)
			select {
			case interval <- time.Duration(sub.IntervalMs) * time.Millisecond:
			default:
				// Drop updates under load; the client may resend.
			}
		}

		close(done)
		closeWith(conn, websocket.CloseNormalClosure, "bye")

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		s.log.Printf("[observer] %s disconnected", sid)
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

func normalizeSubscribe(sub *SubscribeMsg) {
	if sub.IntervalMs <= 0 {
		sub.IntervalMs = 1000
	}
	if sub.IntervalMs < 100 {
		sub.IntervalMs = 100
	}
	if sub.IntervalMs > 60000 {
		sub.IntervalMs = 60000
	}
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
