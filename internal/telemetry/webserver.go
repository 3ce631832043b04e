package telemetry

import (
	"context"
	"embed"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openoct/GoOCT/internal/logging"
)

//go:embed static/*
var staticFiles embed.FS

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1 << 16,
	// The viewer is served from this process; same-origin checks add
	// nothing on a lab network.
	CheckOrigin: func(*http.Request) bool { return true },
}

// WebServer serves the embedded live viewer plus frame history and live
// frame streaming over websocket.
type WebServer struct {
	srv *http.Server
	hub *Hub
	log logging.Logger
}

// NewWebServer builds the HTTP server around hub.
func NewWebServer(addr string, hub *Hub, log logging.Logger) *WebServer {
	if log == nil {
		log = logging.Default()
	}
	ws := &WebServer{hub: hub, log: log}

	mux := http.NewServeMux()
	mux.Handle("/static/", http.FileServer(http.FS(staticFiles)))
	mux.HandleFunc("/api/history", ws.handleHistory)
	mux.HandleFunc("/api/stats", ws.handleStats)
	mux.HandleFunc("/api/live", ws.handleLive)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFileFS(w, r, staticFiles, "static/index.html")
	})

	ws.srv = &http.Server{Addr: addr, Handler: mux}
	return ws
}

// Start listens until ctx is canceled.
func (w *WebServer) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := w.srv.Shutdown(shutdownCtx); err != nil {
			w.log.Warn("display server shutdown", logging.F("err", err))
		}
	}()

	w.log.Info("display server listening", logging.F("addr", w.srv.Addr))
	if err := w.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		w.log.Error("display server error", logging.F("err", err))
	}
}

func (w *WebServer) handleHistory(rw http.ResponseWriter, _ *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(w.hub.History())
}

func (w *WebServer) handleStats(rw http.ResponseWriter, _ *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(w.hub.StatsSnapshot())
}

func (w *WebServer) handleLive(rw http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.log.Warn("websocket upgrade failed", logging.F("err", err))
		return
	}
	defer conn.Close()

	ch, cancel := w.hub.Subscribe()
	defer cancel()

	// Drain client messages so pings and close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		select {
		case frame, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
