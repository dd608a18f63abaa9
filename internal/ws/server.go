package ws

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/tasksync/backend/internal/config"
)

// Server handles the websocket handshake and the HTTP surface around it.
// A connection authenticates during the upgrade request: user_id is
// required, device_id optional. A request without user_id is refused before
// the session ever becomes active.
type Server struct {
	cfg            *config.Config
	broadcaster    *Broadcaster
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
	started        time.Time
	proc           *process.Process
}

func NewServer(cfg *config.Config, broadcaster *Broadcaster) *Server {
	s := &Server{
		cfg:            cfg,
		broadcaster:    broadcaster,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      cfg.Server.AuthToken,
		started:        time.Now(),
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		s.proc = proc
	}

	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/healthz", securityHeaders(http.HandlerFunc(s.handleHealth)))
	mux.Handle("/stats", securityHeaders(http.HandlerFunc(s.handleStats)))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	userID := r.URL.Query().Get("user_id")
	deviceID := r.URL.Query().Get("device_id")
	if userID == "" {
		log.Printf("ws: connection rejected from %s: missing user_id", r.RemoteAddr)
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade error: %v", err)
		return
	}

	c, err := s.broadcaster.AddClient(conn, userID, deviceID)
	if err != nil {
		log.Printf("ws: rejecting %s: %v", r.RemoteAddr, err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server full"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	go c.writePump()

	ack, _ := json.Marshal(Message{
		Type: MsgConnected,
		Payload: ConnectedPayload{
			Message:  "connected to real-time sync",
			DeviceID: deviceID,
		},
	})
	c.enqueue(ack)

	go c.readPump()

	log.Printf("ws: session %s connected (user: %s, device: %s)", c.id, userID, deviceID)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(HealthResponse{
		Status:      "healthy",
		Service:     "websocket-service",
		Connections: s.broadcaster.ClientCount(),
		Uptime:      time.Since(s.started).Seconds(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	delivered, dropped, publishes, deliveries := s.broadcaster.stats()
	resp := StatsResponse{
		Connections:      s.broadcaster.ClientCount(),
		Users:            s.broadcaster.reg.UserCount(),
		Delivered:        delivered,
		DroppedSends:     dropped,
		BridgePublishes:  publishes,
		BridgeDeliveries: deliveries,
		Uptime:           time.Since(s.started).Seconds(),
	}

	if s.proc != nil {
		if pct, err := s.proc.CPUPercent(); err == nil {
			resp.CPUPercent = pct
		}
		if mem, err := s.proc.MemoryInfo(); err == nil {
			resp.MemoryMB = float64(mem.RSS) / 1024 / 1024
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

func ListenAndServe(host string, port int, mux *http.ServeMux) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Printf("Server listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}
