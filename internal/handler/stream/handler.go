package stream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	chatService "github.com/zhouzirui/heritage-guide/backend/internal/service/chat"
	"github.com/zhouzirui/heritage-guide/backend/pkg/utils"
)

// DefaultHeartbeat keeps idle proxies from closing the stream.
const DefaultHeartbeat = 15 * time.Second

// Handler pushes session views to the page via Server-Sent Events
type Handler struct {
	chatSvc   *chatService.Service
	heartbeat time.Duration
}

// New creates a new stream handler
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc, heartbeat: DefaultHeartbeat}
}

// RegisterRoutes registers the SSE endpoint
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{sessionID}", func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")
		if err := h.HandleStreamRequest(r.Context(), w, sessionID); err != nil {
			if errors.Is(err, chatService.ErrSessionNotFound) {
				utils.RespondError(w, http.StatusNotFound, "session not found")
				return
			}
			if errors.Is(err, errStreamingUnsupported) {
				utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
				return
			}
			log.Printf("[sse] stream for session=%s ended: %v", sessionID, err)
		}
	})
}

var errStreamingUnsupported = errors.New("streaming unsupported")

// HandleStreamRequest sends a "state" event with every new view of the session
// until the client disconnects or the session is closed.
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, sessionID string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return errStreamingUnsupported
	}

	conv, err := h.chatSvc.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	views, cancel := conv.Subscribe()
	defer cancel()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	log.Printf("[sse] opening state stream for session=%s", sessionID)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[sse] closing state stream for session=%s", sessionID)
			return nil
		case view, ok := <-views:
			if !ok {
				_ = utils.SendSSEEvent(w, flusher, "closed", map[string]string{"sessionId": sessionID})
				return nil
			}
			if err := utils.SendSSEEvent(w, flusher, "state", view); err != nil {
				return fmt.Errorf("send state: %w", err)
			}
		case t := <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat "+t.UTC().Format(time.RFC3339)); err != nil {
				return fmt.Errorf("send heartbeat: %w", err)
			}
		}
	}
}
