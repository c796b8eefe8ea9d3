package persona

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/persona-chat/backend/internal/model/persona"
	"github.com/zhouzirui/persona-chat/backend/pkg/utils"
)

// Catalog 提供persona列表与标签解析
type Catalog interface {
	persona.Store
	Resolve(label string) (persona.Persona, error)
}

// Handler persona服务的HTTP处理器
type Handler struct {
	personas Catalog
}

// New 创建persona处理器
func New(personas Catalog) *Handler {
	return &Handler{
		personas: personas,
	}
}

// RegisterRoutes 注册persona相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/personas", h.handleListPersonas)
	r.Get("/personas/resolve", h.handleResolvePersona)
}

// handleListPersonas 列出所有persona
func (h *Handler) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.personas.List())
}

// handleResolvePersona 将历史标签或别名解析为规范persona；无法识别时不做猜测
func (h *Handler) handleResolvePersona(w http.ResponseWriter, r *http.Request) {
	label := strings.TrimSpace(r.URL.Query().Get("label"))
	if label == "" {
		utils.RespondError(w, http.StatusBadRequest, "label query parameter is required")
		return
	}

	p, err := h.personas.Resolve(label)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, p)
}
