package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mostrador/mostrador/internal/platform/httpx"
	"github.com/mostrador/mostrador/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	sessions    *shared.SessionManager
	csrf        *shared.CSRFManager
	permissions PermissionSource
	validator   *httpx.Validator
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager, csrf *shared.CSRFManager, permissions PermissionSource) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:      logger,
		service:     service,
		sessions:    sessions,
		csrf:        csrf,
		permissions: permissions,
		validator:   httpx.NewValidator(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.login)
	r.Post("/logout", h.logout)
	r.Get("/me", h.me)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type meView struct {
	ID          int64    `json:"id"`
	Email       string   `json:"email"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	CSRFToken   string   `json:"csrfToken"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		httpx.RespondError(w, errors.New("session missing"))
		return
	}

	user, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if errors.Is(err, shared.ErrInvalidCredentials) {
		h.logger.Warn("login rejected", slog.String("email", req.Email))
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	if err != nil {
		h.logger.Error("login", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	if err := h.sessions.Renew(r.Context(), sess); err != nil {
		h.logger.Error("renew session", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	sess.SetUser(strconv.FormatInt(user.ID, 10))
	if err := h.service.RegisterSession(r.Context(), SessionRecord{
		ID:        sess.ID,
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(h.sessions.TTL()),
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}); err != nil {
		h.logger.Warn("register session", slog.Any("error", err))
	}
	h.respondMe(w, r, user, sess)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil && sess.User() != "" {
		if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
			h.logger.Warn("remove session", slog.Any("error", err))
		}
		h.sessions.Destroy(sess)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	userID, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	user, err := h.service.User(r.Context(), userID)
	if errors.Is(err, ErrUserNotFound) {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	if err != nil {
		h.logger.Error("load user", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.respondMe(w, r, user, shared.SessionFromContext(r.Context()))
}

func (h *Handler) respondMe(w http.ResponseWriter, r *http.Request, user User, sess *shared.Session) {
	view := meView{ID: user.ID, Email: user.Email, Name: user.Name, Permissions: []string{}}
	if h.permissions != nil {
		perms, err := h.permissions.EffectivePermissions(r.Context(), user.ID)
		if err != nil {
			h.logger.Error("effective permissions", slog.Int64("user_id", user.ID), slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		if perms != nil {
			view.Permissions = perms
		}
	}
	if sess != nil {
		view.CSRFToken, _ = h.csrf.Token(sess)
	}
	httpx.JSON(w, http.StatusOK, view)
}
