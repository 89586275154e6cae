package ccow

import (
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ParticipantHandler receives the Contextor's callbacks on the
// ContextParticipant interface and forwards them to a Participant.
type ParticipantHandler struct {
	participant Participant
	logger      zerolog.Logger
}

// NewParticipantHandler creates a handler bound to p.
func NewParticipantHandler(p Participant, logger zerolog.Logger) *ParticipantHandler {
	return &ParticipantHandler{
		participant: p,
		logger:      logger.With().Str("component", "participant").Logger(),
	}
}

// RegisterRoutes mounts the callback endpoint. The Contextor may use either
// GET with a query string or a form POST.
func (h *ParticipantHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/participant", h.Handle)
	g.POST("/participant", h.Handle)
}

// Handle dispatches one callback by its method parameter.
func (h *ParticipantHandler) Handle(c echo.Context) error {
	method := c.FormValue("method")
	proposal := Proposal{ContextCoupon: c.FormValue("contextCoupon")}
	ctx := c.Request().Context()

	h.logger.Debug().Str("method", method).Str("context_coupon", proposal.ContextCoupon).Msg("notification")

	switch method {
	case "ContextChangesPending":
		reason := h.participant.ContextChangesPending(ctx, proposal)
		return formReply(c, url.Values{"decision": {"accept"}, "reason": {reason}})
	case "ContextChangesAccepted":
		h.participant.ContextChangesAccepted(ctx, proposal)
	case "ContextChangesCanceled":
		h.participant.ContextChangesCanceled(ctx, proposal)
	case "CommonContextTerminated":
		h.participant.CommonContextTerminated(ctx)
	case "Ping":
	default:
		return formReplyStatus(c, http.StatusBadRequest, url.Values{
			"exception":        {string(ExceptionGeneral)},
			"exceptionMessage": {"unknown method " + method},
		})
	}
	return formReply(c, url.Values{})
}

func formReply(c echo.Context, v url.Values) error {
	return formReplyStatus(c, http.StatusOK, v)
}

func formReplyStatus(c echo.Context, code int, v url.Values) error {
	return c.Blob(code, "application/x-www-form-urlencoded", []byte(v.Encode()))
}
