package chat

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	chatService "github.com/zhouzirui/heritage-guide/backend/internal/service/chat"
	speechService "github.com/zhouzirui/heritage-guide/backend/internal/service/speech"
	"github.com/zhouzirui/heritage-guide/backend/pkg/utils"
)

// Handler 聊天挂件会话的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session", h.handleCreateSession)
	r.Route("/session/{sessionID}", func(sr chi.Router) {
		sr.Get("/", h.handleGetSession)
		sr.Delete("/", h.handleCloseSession)
		sr.Post("/messages", h.handleSubmit)
		sr.Delete("/messages", h.handleClear)
		sr.Put("/draft", h.handleDraft)
		sr.Put("/tts", h.handleToggleTTS)
		sr.Put("/voice", h.handleSelectVoice)
		sr.Post("/messages/{messageID}/play", h.handlePlay)
		sr.Post("/playback/stop", h.handleStop)
	})
}

// handleCreateSession 创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Voice string `json:"voice"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conv, err := h.chatSvc.CreateSession(r.Context(), payload.Voice)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, conv.View())
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, conv.View())
}

func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.Close(chi.URLParam(r, "sessionID")); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSubmit 提交用户消息，回复稍后异步追加
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// 空白输入与禁用的发送按钮等价：不报错，状态不变
	if _, err := conv.Submit(payload.Text); err != nil && !errors.Is(err, chatService.ErrEmptyInput) {
		respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusAccepted, conv.View())
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}
	conv.Clear()
	utils.RespondJSON(w, http.StatusOK, conv.View())
}

func (h *Handler) handleDraft(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conv.SetDraft(payload.Text)
	utils.RespondJSON(w, http.StatusOK, conv.View())
}

func (h *Handler) handleToggleTTS(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}

	var payload struct {
		Enabled *bool `json:"enabled"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// 未携带 enabled 时按开关语义取反
	enabled := !conv.View().Playback.TTSEnabled
	if payload.Enabled != nil {
		enabled = *payload.Enabled
	}
	conv.SetTTSEnabled(enabled)
	utils.RespondJSON(w, http.StatusOK, conv.View())
}

func (h *Handler) handleSelectVoice(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}

	var payload struct {
		Code string `json:"code"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := conv.SelectVoice(payload.Code); err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, conv.View())
}

// handlePlay 手动朗读一条机器人消息，不受自动朗读开关影响
func (h *Handler) handlePlay(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}

	if err := conv.Play(r.Context(), chi.URLParam(r, "messageID")); err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, conv.View())
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}
	conv.StopPlayback()
	utils.RespondJSON(w, http.StatusOK, conv.View())
}

func (h *Handler) conversation(w http.ResponseWriter, r *http.Request) (*chatService.Conversation, bool) {
	conv, err := h.chatSvc.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return nil, false
	}
	return conv, true
}

// respondServiceError 将服务层错误映射为HTTP状态码
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound),
		errors.Is(err, chatService.ErrMessageNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, speechService.ErrInvalidVoiceSelection),
		errors.Is(err, speechService.ErrEmptyText):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, speechService.ErrPlaybackBusy):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, speechService.ErrControllerClosed):
		utils.RespondError(w, http.StatusGone, err.Error())
	default:
		log.Printf("[chat] unexpected error: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
