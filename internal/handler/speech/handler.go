package speech

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/heritage-guide/backend/internal/model/speech"
	"github.com/zhouzirui/heritage-guide/backend/internal/model/voice"
	chatservice "github.com/zhouzirui/heritage-guide/backend/internal/service/chat"
	speechsvc "github.com/zhouzirui/heritage-guide/backend/internal/service/speech"
	"github.com/zhouzirui/heritage-guide/backend/pkg/utils"
)

// SpeechService 抽象语音业务，便于测试与替换实现
type SpeechService interface {
	Synthesize(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error)
	Provider() string
}

// Handler 语音服务的HTTP处理器
type Handler struct {
	speechSvc SpeechService
	chatSvc   *chatservice.Service
	voices    voice.Store
}

// New 创建语音处理器
func New(speechSvc SpeechService, chatSvc *chatservice.Service, voices voice.Store) *Handler {
	return &Handler{
		speechSvc: speechSvc,
		chatSvc:   chatSvc,
		voices:    voices,
	}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/speech", func(speechRouter chi.Router) {
		speechRouter.Post("/synthesize", h.handleSynthesize)
		speechRouter.Get("/health", h.handleHealth)
	})
}

type synthesizeRequest struct {
	Text      string `json:"text"`
	Voice     string `json:"voice"`
	SessionID string `json:"sessionId"`
}

// handleSynthesize 文本转语音，直接返回音频字节
func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var payload synthesizeRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(payload.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	v, err := h.resolveVoice(r.Context(), payload.Voice, payload.SessionID)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessionID := payload.SessionID
	if sessionID == "" {
		sessionID = "default"
	}

	resp, err := h.speechSvc.Synthesize(r.Context(), &speech.TTSRequest{
		SessionID: sessionID,
		Text:      payload.Text,
		Voice:     v.VoiceID,
		Language:  v.Code,
	})
	if err != nil {
		log.Printf("[speech] TTS error: %v", err)
		utils.RespondError(w, http.StatusBadGateway, "speech synthesis failed")
		return
	}

	if len(resp.AudioData) == 0 {
		utils.RespondError(w, http.StatusBadGateway, "speech synthesis returned no audio")
		return
	}

	format := resp.Format
	if format == "" {
		format = "octet-stream"
	}
	w.Header().Set("Content-Type", "audio/"+format)
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.AudioData)))
	w.Header().Set("Content-Disposition", "attachment; filename=speech."+format)
	if resp.Duration > 0 {
		w.Header().Set("X-Audio-Duration-Ms", strconv.FormatInt(resp.Duration, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp.AudioData); err != nil {
		log.Printf("failed to write audio response: %v", err)
	}
}

// resolveVoice 显式 voice 优先，其次使用会话当前的 voice，最后使用默认 voice
func (h *Handler) resolveVoice(ctx context.Context, code, sessionID string) (voice.Voice, error) {
	if strings.TrimSpace(code) != "" {
		v, ok := h.voices.FindByCode(code)
		if !ok {
			return voice.Voice{}, speechsvc.ErrInvalidVoiceSelection
		}
		return v, nil
	}

	if h.chatSvc != nil && strings.TrimSpace(sessionID) != "" {
		conv, err := h.chatSvc.Get(ctx, sessionID)
		if err == nil {
			return conv.View().Playback.Voice, nil
		}
		if !errors.Is(err, chatservice.ErrSessionNotFound) {
			return voice.Voice{}, err
		}
	}

	return h.voices.Default(), nil
}

// handleHealth 健康检查端点
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"status":   "healthy",
		"service":  "speech",
		"provider": h.speechSvc.Provider(),
	})
}
