package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gateway-fm/stringstore/pkg/types"
)

// writeWait bounds a single frame write to a client.
const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Allow requests without Origin header (same-origin or direct)
		}

		originURL, err := url.Parse(origin)
		if err != nil {
			return false
		}

		// Allow same origin (same host)
		if originURL.Host == r.Host {
			return true
		}

		// Allow localhost connections (common for development)
		if originURL.Hostname() == "localhost" || originURL.Hostname() == "127.0.0.1" {
			return true
		}

		return false
	},
}

// ClientGauge receives the number of connected WebSocket clients.
type ClientGauge interface {
	SetWSClients(n int)
}

// WebSocketServer streams state snapshots to WebSocket clients. Each client
// receives the current state on connect and every change after that.
type WebSocketServer struct {
	api    StringStoreAPI
	logger *slog.Logger
	gauge  ClientGauge

	// Connected clients. Writes to a conn happen only with clientsMu held.
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex

	unsubscribe func()
	stopOnce    sync.Once

	// Done channel for shutdown
	done chan struct{}
}

// NewWebSocketServer creates a new WebSocket server.
func NewWebSocketServer(api StringStoreAPI, logger *slog.Logger) *WebSocketServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketServer{
		api:     api,
		logger:  logger,
		clients: make(map[*websocket.Conn]bool),
		done:    make(chan struct{}),
	}
}

// Handler returns the WebSocket HTTP handler.
func (ws *WebSocketServer) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			ws.logger.Error("WebSocket upgrade failed", slog.String("error", err.Error()))
			return
		}

		// Register client and send the current state before any broadcast can
		// reach it, so the first frame is never stale.
		ws.clientsMu.Lock()
		ws.writeState(conn, ws.api.State())
		ws.clients[conn] = true
		total := len(ws.clients)
		ws.reportClients(total)
		ws.clientsMu.Unlock()

		ws.logger.Debug("WebSocket client connected", slog.Int("total_clients", total))

		defer func() {
			ws.clientsMu.Lock()
			delete(ws.clients, conn)
			total := len(ws.clients)
			ws.reportClients(total)
			ws.clientsMu.Unlock()
			conn.Close()

			ws.logger.Debug("WebSocket client disconnected", slog.Int("total_clients", total))
		}()

		// Read messages (mainly for ping/pong and close)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					ws.logger.Debug("WebSocket read error", slog.String("error", err.Error()))
				}
				break
			}
		}
	}
}

// Start subscribes to state changes and begins broadcasting.
func (ws *WebSocketServer) Start() {
	updates, unsubscribe := ws.api.Subscribe()
	ws.unsubscribe = unsubscribe
	go ws.broadcastLoop(updates)
}

// Stop stops the WebSocket server.
func (ws *WebSocketServer) Stop() {
	ws.stopOnce.Do(func() {
		close(ws.done)
		if ws.unsubscribe != nil {
			ws.unsubscribe()
		}

		ws.clientsMu.Lock()
		for conn := range ws.clients {
			conn.Close()
		}
		ws.clients = make(map[*websocket.Conn]bool)
		ws.reportClients(0)
		ws.clientsMu.Unlock()
	})
}

// broadcastLoop forwards state snapshots to all connected clients.
// Snapshots older than the last one sent are skipped.
func (ws *WebSocketServer) broadcastLoop(updates <-chan types.State) {
	var lastVersion uint64
	for {
		select {
		case <-ws.done:
			return
		case state, ok := <-updates:
			if !ok {
				return
			}
			if state.Version <= lastVersion {
				continue
			}
			lastVersion = state.Version
			ws.broadcastState(state)
		}
	}
}

// broadcastState sends a state snapshot to all connected clients.
func (ws *WebSocketServer) broadcastState(state types.State) {
	ws.clientsMu.Lock()
	defer ws.clientsMu.Unlock()

	for conn := range ws.clients {
		// Failed clients are cleaned up by their read loop.
		ws.writeState(conn, state)
	}
}

func (ws *WebSocketServer) writeState(conn *websocket.Conn, state types.State) {
	data, err := json.Marshal(state)
	if err != nil {
		ws.logger.Error("Failed to marshal state", slog.String("error", err.Error()))
		return
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		ws.logger.Debug("Failed to write to WebSocket", slog.String("error", err.Error()))
	}
}

func (ws *WebSocketServer) reportClients(n int) {
	if ws.gauge != nil {
		ws.gauge.SetWSClients(n)
	}
}
