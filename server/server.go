// Package server exposes the turn engine over a WebSocket front end:
// one JSON frame per turn on /ws, plus a /health probe. Each frame is
// processed through the engine exactly like a CLI turn; the server adds
// nothing but transport.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/monikatyab/anaya-m2m/core"
	"github.com/monikatyab/anaya-m2m/engine"
)

// writeTimeout bounds each outbound frame write.
const writeTimeout = 10 * time.Second

// Config wires the server.
type Config struct {
	// Engine processes every inbound turn frame. Required.
	Engine *engine.Engine

	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// Server serves /ws and /health.
type Server struct {
	engine   *engine.Engine
	logger   *zap.Logger
	upgrader websocket.Upgrader
	httpSrv  *http.Server
	mux      *http.ServeMux
}

// turnFrame is one reply on the WebSocket. Type is "response" for a
// processed turn and "error" when the frame itself was unusable.
type turnFrame struct {
	Type       string     `json:"type"`
	SessionID  string     `json:"session_id,omitempty"`
	TurnID     string     `json:"turn_id,omitempty"`
	Response   string     `json:"response,omitempty"`
	Phase      core.Phase `json:"phase,omitempty"`
	CrisisFlag bool       `json:"crisis_flag"`
	Error      string     `json:"error,omitempty"`
}

// New creates the server.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: engine is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		engine: cfg.Engine,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Front ends run on separate origins during development.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", s.handleHealth)
	s.mux = mux
	s.httpSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	return s, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run listens on addr until Shutdown. A clean shutdown returns nil.
func (s *Server) Run(addr string) error {
	s.httpSrv.Addr = addr
	s.logger.Info("server listening",
		zap.String("addr", addr),
		zap.String("ws", "/ws"),
		zap.String("health", "/health"))
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// handleWS runs the per-connection frame loop. Frames without a
// session_id get one minted per (connection, user) so a bare client
// still holds a coherent conversation.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	s.logger.Info("client connected", zap.String("remote", conn.RemoteAddr().String()))

	minted := make(map[string]string)
	for {
		var in core.TurnInput
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		if in.SessionID == "" && in.UserID != "" {
			sid, ok := minted[in.UserID]
			if !ok {
				sid = uuid.New().String()
				minted[in.UserID] = sid
			}
			in.SessionID = sid
		}

		out, err := s.engine.ProcessTurn(r.Context(), &in)
		if err != nil {
			if werr := s.write(conn, turnFrame{
				Type:      "error",
				SessionID: in.SessionID,
				Error:     err.Error(),
			}); werr != nil {
				return
			}
			continue
		}

		frame := turnFrame{
			Type:       "response",
			SessionID:  in.SessionID,
			Response:   out.Response,
			Phase:      out.Phase,
			CrisisFlag: out.CrisisFlag,
		}
		if out.Turn != nil {
			frame.TurnID = out.Turn.TurnID
		}
		if err := s.write(conn, frame); err != nil {
			return
		}
	}
}

func (s *Server) write(conn *websocket.Conn, frame turnFrame) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(frame); err != nil {
		s.logger.Warn("websocket write failed", zap.Error(err))
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
