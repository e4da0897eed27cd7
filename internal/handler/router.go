package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/heritage-guide/backend/internal/handler/chat"
	"github.com/zhouzirui/heritage-guide/backend/internal/handler/speech"
	"github.com/zhouzirui/heritage-guide/backend/internal/handler/stream"
	voiceHandler "github.com/zhouzirui/heritage-guide/backend/internal/handler/voice"
	middlewarePkg "github.com/zhouzirui/heritage-guide/backend/internal/middleware"
	"github.com/zhouzirui/heritage-guide/backend/internal/model/voice"
	chatService "github.com/zhouzirui/heritage-guide/backend/internal/service/chat"
	"github.com/zhouzirui/heritage-guide/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(voices voice.Store, chatSvc *chatService.Service, speechSvc speech.SpeechService, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(allowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"sessions": chatSvc.Len(),
		})
	})

	r.Route("/api", func(api chi.Router) {
		voiceHandler.New(voices).RegisterRoutes(api)
		chat.New(chatSvc).RegisterRoutes(api)
		stream.New(chatSvc).RegisterRoutes(api)
		speech.NewWebSocketHandler(chatSvc, allowedOrigins).RegisterWebSocketRoutes(api)

		if speechSvc != nil {
			speech.New(speechSvc, chatSvc, voices).RegisterRoutes(api)
		} else {
			api.HandleFunc("/speech/*", func(w http.ResponseWriter, _ *http.Request) {
				utils.RespondError(w, http.StatusServiceUnavailable, "speech service unavailable")
			})
		}
	})

	return r
}
