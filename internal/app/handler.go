package app

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/contextapp/internal/ccow"
	"github.com/ehr/contextapp/internal/contextsync"
	"github.com/ehr/contextapp/internal/directory"
	"github.com/ehr/contextapp/internal/platform/session"
)

// Handler serves the browser's context API.
type Handler struct {
	app      *Application
	sessions *session.Manager
	// userHeader names the request header the SSO front sets to the
	// authenticated user. Clients must not be able to set it directly.
	userHeader string
}

func NewHandler(app *Application, sessions *session.Manager, userHeader string) *Handler {
	return &Handler{app: app, sessions: sessions, userHeader: userHeader}
}

// RegisterRoutes mounts the context API on api. Sessions are only issued to
// the SSO-authenticated context user; mutating routes require one.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/context", h.GetContext)
	api.POST("/session", h.CreateSession)

	api.DELETE("/session", h.EndSession, session.RequireSession(h.sessions))

	g := api.Group("/context", session.RequireSession(h.sessions))
	g.POST("/join", h.Join)
	g.POST("/patient", h.SelectPatient, h.requireContextUser)
	g.POST("/suspend", h.Suspend, h.requireContextUser)
	g.POST("/resume", h.Resume, h.requireContextUser)
	g.POST("/logoff", h.Logoff, h.requireContextUser)
}

// requireContextUser rejects sessions issued to a user other than the one
// currently in the common context.
func (h *Handler) requireContextUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims, ok := session.ClaimsFrom(c)
		if !ok || !ccow.SameValue(claims.User, h.app.CurrentUser()) {
			return echo.NewHTTPError(http.StatusForbidden, "session does not belong to the context user")
		}
		return next(c)
	}
}

type statusResponse struct {
	Status string `json:"status"`
	State  string `json:"state"`
	Error  string `json:"error,omitempty"`
}

func (h *Handler) reply(c echo.Context, st ccow.Status, err error) error {
	resp := statusResponse{Status: st.String(), State: h.app.Snapshot().State}
	switch {
	case errors.Is(err, contextsync.ErrNotJoined), errors.Is(err, contextsync.ErrSuspended):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, directory.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetContext(c echo.Context) error {
	return c.JSON(http.StatusOK, h.app.Snapshot())
}

type sessionResponse struct {
	Token     string `json:"token"`
	User      string `json:"user"`
	ExpiresAt int64  `json:"expiresAt"`
}

// CreateSession issues an access token to the user named by the SSO header
// and sets it as a cookie. That user must be the current context user.
func (h *Handler) CreateSession(c echo.Context) error {
	user := c.Request().Header.Get(h.userHeader)
	if h.userHeader == "" || user == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	if !ccow.SameValue(user, h.app.CurrentUser()) {
		return echo.NewHTTPError(http.StatusForbidden, "user is not the context user")
	}
	token, claims, err := h.sessions.Issue(user)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not issue session")
	}
	session.SetCookie(c, token, claims)
	return c.JSON(http.StatusCreated, sessionResponse{
		Token:     token,
		User:      claims.User,
		ExpiresAt: claims.ExpiresAt.Unix(),
	})
}

// EndSession revokes the caller's token only.
func (h *Handler) EndSession(c echo.Context) error {
	if claims, ok := session.ClaimsFrom(c); ok {
		h.sessions.Revoke(claims)
	}
	session.ClearCookie(c)
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Join(c echo.Context) error {
	if err := h.app.Init(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, h.app.Snapshot())
}

type selectRequest struct {
	ID string `json:"id" form:"id"`
}

func (h *Handler) SelectPatient(c echo.Context) error {
	var req selectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "id is required")
	}
	st, err := h.app.PatientSelected(c.Request().Context(), req.ID)
	return h.reply(c, st, err)
}

func (h *Handler) Suspend(c echo.Context) error {
	st, err := h.app.Suspend(c.Request().Context())
	return h.reply(c, st, err)
}

func (h *Handler) Resume(c echo.Context) error {
	st, err := h.app.Resume(c.Request().Context())
	return h.reply(c, st, err)
}

func (h *Handler) Logoff(c echo.Context) error {
	st := h.app.OnLogoff(c.Request().Context())
	session.ClearCookie(c)
	return h.reply(c, st, nil)
}
