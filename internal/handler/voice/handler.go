package voice

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/heritage-guide/backend/internal/model/voice"
	"github.com/zhouzirui/heritage-guide/backend/pkg/utils"
)

// Handler voice 列表的HTTP处理器
type Handler struct {
	voices voice.Store
}

// New 创建 voice 处理器
func New(voices voice.Store) *Handler {
	return &Handler{voices: voices}
}

// RegisterRoutes 注册 voice 相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/voices", h.handleListVoices)
}

type listResponse struct {
	Voices  []voice.Voice `json:"voices"`
	Default string        `json:"default"`
}

// handleListVoices 列出支持的朗读语言
func (h *Handler) handleListVoices(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, listResponse{
		Voices:  h.voices.List(),
		Default: h.voices.Default().Code,
	})
}
