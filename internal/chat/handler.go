package chat

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/intake-chat/internal/api"
	"github.com/ashureev/intake-chat/internal/identity"
	"github.com/ashureev/intake-chat/internal/intake"
	"github.com/ashureev/intake-chat/internal/metrics"
	"github.com/ashureev/intake-chat/internal/store"
	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
)

// Greeting is the first frame sent on every connection.
const Greeting = "Connection Established"

// Error codes sent as {"error": code}.
const (
	ErrCodeInvalidMessage     = "invalid_message"
	ErrCodeTurnFailed         = "turn_failed"
	ErrCodeSessionComplete    = "session_complete"
	ErrCodeSessionUnavailable = "session_unavailable"
)

const writeTimeout = 10 * time.Second

// Options configures a Handler.
type Options struct {
	AllowedOrigin string
	IsDev         bool
	TurnTimeout   time.Duration
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	MachineOpts   []intake.Option
}

// Handler upgrades requests to WebSocket and runs one intake session per
// connection.
type Handler struct {
	repo          store.Repository
	extractor     intake.Extractor
	registry      *Registry
	metrics       *metrics.Metrics
	logger        *slog.Logger
	allowedOrigin string
	isDev         bool
	turnTimeout   time.Duration
	machineOpts   []intake.Option
}

// NewHandler creates a chat handler.
func NewHandler(repo store.Repository, extractor intake.Extractor, registry *Registry, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	turnTimeout := opts.TurnTimeout
	if turnTimeout <= 0 {
		turnTimeout = time.Minute
	}
	return &Handler{
		repo:          repo,
		extractor:     extractor,
		registry:      registry,
		metrics:       opts.Metrics,
		logger:        logger,
		allowedOrigin: opts.AllowedOrigin,
		isDev:         opts.IsDev,
		turnTimeout:   turnTimeout,
		machineOpts:   opts.MachineOpts,
	}
}

type inboundFrame struct {
	Message *string `json:"message"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := identity.ClientIDFromContext(r.Context())
	h.logger.Info("Chat connection request", "client_id", clientID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		api.Error(w, http.StatusForbidden, "origin not allowed")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "client_id", clientID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	ctx := r.Context()

	session, err := h.repo.CreateSession(ctx, clientID)
	if err != nil {
		h.logger.Error("Failed to create session", "error", err, "client_id", clientID)
		h.writeFrame(ws, map[string]string{"error": ErrCodeSessionUnavailable})
		return
	}

	logger := h.logger.With("session_id", session.ID)
	opts := append([]intake.Option{intake.WithLogger(logger)}, h.machineOpts...)
	machine := intake.NewMachine(session, h.repo, h.extractor, opts...)

	h.registry.Register(machine.SessionID(), ws)
	defer h.registry.Unregister(machine.SessionID(), ws)
	h.metrics.ConnectionOpened()
	defer h.metrics.ConnectionClosed()

	if err := h.writeFrame(ws, map[string]string{"message": Greeting}); err != nil {
		logger.Debug("Failed to send greeting", "error", err)
		return
	}

	h.readLoop(ctx, ws, machine, logger)
	logger.Info("Chat session ended", "complete", machine.Complete(), "step", machine.State().Step)
}

// readLoop processes frames strictly one after another.
func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, machine *intake.Machine, logger *slog.Logger) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				logger.Debug("WebSocket closed by client")
			} else if ctx.Err() == nil {
				logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var frame inboundFrame
		if err := sonic.Unmarshal(data, &frame); err != nil || frame.Message == nil {
			h.metrics.Turn(metrics.OutcomeInvalidMessage)
			logger.Debug("Rejected malformed frame", "size", len(data))
			if err := h.writeFrame(ws, map[string]string{"error": ErrCodeInvalidMessage}); err != nil {
				return
			}
			continue
		}

		out := h.runTurn(ctx, machine, *frame.Message, logger)
		if err := h.writeFrame(ws, out); err != nil {
			logger.Debug("Failed to write reply", "error", err)
			return
		}
	}
}

func (h *Handler) runTurn(ctx context.Context, machine *intake.Machine, input string, logger *slog.Logger) map[string]string {
	turnCtx, cancel := context.WithTimeout(ctx, h.turnTimeout)
	defer cancel()

	reply, err := machine.Handle(turnCtx, input)
	switch {
	case errors.Is(err, intake.ErrSessionComplete):
		h.metrics.Turn(metrics.OutcomeComplete)
		return map[string]string{"error": ErrCodeSessionComplete}
	case err != nil:
		h.metrics.Turn(metrics.OutcomeFailed)
		logger.Error("Turn failed", "step", machine.State().Step, "error", err)
		return map[string]string{"error": ErrCodeTurnFailed}
	}

	h.metrics.Turn(metrics.OutcomeOK)
	if reply.Complete {
		h.metrics.SessionCompleted()
	}
	return map[string]string{"message": reply.Text}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) writeFrame(ws *websocket.Conn, v interface{}) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
