package chat

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/persona-chat/backend/internal/middleware"
	chatModel "github.com/zhouzirui/persona-chat/backend/internal/model/chat"
	"github.com/zhouzirui/persona-chat/backend/internal/model/persona"
	chatService "github.com/zhouzirui/persona-chat/backend/internal/service/chat"
	sessionService "github.com/zhouzirui/persona-chat/backend/internal/service/session"
	"github.com/zhouzirui/persona-chat/backend/pkg/utils"
)

// Handler 会话与聊天的HTTP处理器
type Handler struct {
	sessions *sessionService.Service
	chatSvc  *chatService.Service
	limiter  *middleware.LimiterPool
}

// New 创建聊天处理器。limiter 为空时使用默认的每会话限流。
func New(sessions *sessionService.Service, chatSvc *chatService.Service, limiter *middleware.LimiterPool) *Handler {
	if limiter == nil {
		limiter = middleware.NewLimiterPool(0, 0)
	}
	return &Handler{
		sessions: sessions,
		chatSvc:  chatSvc,
		limiter:  limiter,
	}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleLogin)
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", h.handleGetSession)
		r.Delete("/", h.handleLogout)
		r.Put("/persona", h.handleSetPersona)
		r.Get("/share", h.handleShareLink)
		r.Get("/history", h.handleHistory)
		r.With(middleware.RateLimit(h.limiter, h.limitKey)).Post("/messages", h.handleSendMessage)
	})
}

func sessionKey(r *http.Request) string {
	return chi.URLParam(r, "sessionID")
}

// limitKey 只为存在的会话分配令牌桶，未知会话直接交给处理器返回404。
func (h *Handler) limitKey(r *http.Request) string {
	id := sessionKey(r)
	if _, err := h.sessions.Get(r.Context(), id); err != nil {
		return ""
	}
	return id
}

type sessionResponse struct {
	Session   chatModel.Session `json:"session"`
	Locked    bool              `json:"personaLocked"`
	ShareLink string            `json:"shareLink,omitempty"`
	Warnings  []string          `json:"warnings,omitempty"`
}

func newSessionResponse(sess chatModel.Session, warnings []string) sessionResponse {
	return sessionResponse{
		Session:   sess,
		Locked:    sess.PersonaLocked(),
		ShareLink: sessionService.ShareLink(sess),
		Warnings:  warnings,
	}
}

// handleLogin 登录并创建会话。查询参数按分享链接处理，只补全表单中为空的字段。
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var form sessionService.LoginForm
	if err := utils.DecodeJSON(r, &form); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, warnings, err := h.sessions.Login(r.Context(), form, r.URL.Query())
	if err != nil {
		utils.RespondErrorWithWarnings(w, http.StatusBadRequest, err.Error(), warnings)
		return
	}

	if sess.ConversationID != "" {
		sess, err = h.sessions.Update(r.Context(), sess.ID, func(s chatModel.Session) (chatModel.Session, error) {
			aligned, alignWarnings := h.chatSvc.AlignPersona(r.Context(), s)
			warnings = append(warnings, alignWarnings...)
			return aligned, nil
		})
		if err != nil {
			h.respondSessionError(w, err)
			return
		}
	}

	utils.RespondJSON(w, http.StatusCreated, newSessionResponse(sess, warnings))
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.Context(), sessionKey(r))
	if err != nil {
		h.respondSessionError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, newSessionResponse(sess, nil))
}

// handleLogout 注销会话，返回初始状态
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionKey(r)
	reset, err := h.sessions.Logout(r.Context(), sessionID)
	if err != nil {
		h.respondSessionError(w, err)
		return
	}
	h.limiter.Forget(sessionID)
	utils.RespondJSON(w, http.StatusOK, newSessionResponse(reset, nil))
}

func (h *Handler) handleSetPersona(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Persona string `json:"persona"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Persona == "" {
		utils.RespondError(w, http.StatusBadRequest, "persona is required")
		return
	}

	sess, err := h.sessions.SetPersona(r.Context(), sessionKey(r), payload.Persona)
	if err != nil {
		h.respondSessionError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, newSessionResponse(sess, nil))
}

func (h *Handler) handleShareLink(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.Context(), sessionKey(r))
	if err != nil {
		h.respondSessionError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"link": sessionService.ShareLink(sess)})
}

// handleHistory 返回会话的历史消息：已分配会话ID时读取日志，否则返回本地缓冲。
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.Context(), sessionKey(r))
	if err != nil {
		h.respondSessionError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"conversationId": sess.ConversationID,
		"turns":          h.chatSvc.History(r.Context(), sess),
	})
}

type sendResponse struct {
	Session       chatModel.Session `json:"session"`
	Turns         []chatModel.Turn  `json:"turns"`
	Warnings      []string          `json:"warnings,omitempty"`
	Refresh       bool              `json:"refresh"`
	EndpointError string            `json:"endpointError,omitempty"`
	ShareLink     string            `json:"shareLink,omitempty"`
}

// handleSendMessage 发送一条消息；同一会话的请求依次执行。
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Message string `json:"message"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var outcome chatService.Outcome
	sess, err := h.sessions.Update(r.Context(), sessionKey(r), func(s chatModel.Session) (chatModel.Session, error) {
		next, out := h.chatSvc.Send(r.Context(), s, payload.Message)
		outcome = out
		if out.Err != nil {
			return s, out.Err
		}
		return next, nil
	})
	if err != nil {
		h.respondSessionError(w, err)
		return
	}

	resp := sendResponse{
		Session:   sess,
		Turns:     outcome.Turns,
		Warnings:  outcome.Warnings,
		Refresh:   outcome.Refresh,
		ShareLink: sessionService.ShareLink(sess),
	}
	if outcome.EndpointErr != nil {
		resp.EndpointError = outcome.EndpointErr.Error()
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

func (h *Handler) respondSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sessionService.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, sessionService.ErrPersonaLocked),
		errors.Is(err, chatService.ErrConversationConflict):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, persona.ErrMissingCredential):
		log.Printf("[chat] persona not configured: %v", err)
		utils.RespondError(w, http.StatusServiceUnavailable, "persona is not configured on this server: "+err.Error())
	case errors.Is(err, persona.ErrUnresolved),
		errors.Is(err, chatService.ErrEmptyMessage),
		errors.Is(err, chatService.ErrInputTooLong),
		errors.Is(err, chatService.ErrPersonaRequired):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("[chat] request failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
