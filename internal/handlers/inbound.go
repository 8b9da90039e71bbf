package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/opsdeskhq/opsdesk/internal/inbound"
)

// ErrorResponse is the error body returned by the API handlers.
type ErrorResponse struct {
	Error string `json:"error"`
}

// InboundRequest is the generic inbound-message submission body. Channels
// with their own webhook endpoints (Twilio) do not use it.
type InboundRequest struct {
	Channel           string         `json:"channel" validate:"required,oneof=sms email dm call web"`
	Body              string         `json:"body"`
	Subject           string         `json:"subject"`
	FromAddress       string         `json:"from_address" validate:"required"`
	ToAddress         string         `json:"to_address"`
	Provider          string         `json:"provider"`
	ProviderMessageID string         `json:"provider_message_id"`
	MediaURLs         []string       `json:"media_urls"`
	Metadata          map[string]any `json:"metadata"`
	ReceivedAt        time.Time      `json:"received_at"`
	SenderName        string         `json:"sender_name"`
	ContactPhone      string         `json:"contact_phone"`
	ContactEmail      string         `json:"contact_email"`
}

// InboundHandler exposes the inbound recording engine over HTTP.
type InboundHandler struct {
	service *inbound.Service
	logger  *slog.Logger
}

func NewInboundHandler(log *slog.Logger, service *inbound.Service) *InboundHandler {
	return &InboundHandler{
		service: service,
		logger:  log.With(slog.String("handler", "inbound")),
	}
}

func (h *InboundHandler) Register(e *echo.Echo) {
	e.POST("/api/inbound/messages", h.Record)
}

// Record accepts one inbound message and returns what it resolved to.
// Redelivered provider messages return the original identifiers with
// duplicate set.
func (h *InboundHandler) Record(c echo.Context) error {
	var req InboundRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := h.service.RecordInboundMessage(c.Request().Context(), inbound.Input{
		Channel:           inbound.Channel(req.Channel),
		Body:              req.Body,
		Subject:           req.Subject,
		FromAddress:       req.FromAddress,
		ToAddress:         req.ToAddress,
		Provider:          req.Provider,
		ProviderMessageID: req.ProviderMessageID,
		MediaURLs:         req.MediaURLs,
		Metadata:          req.Metadata,
		ReceivedAt:        req.ReceivedAt,
		SenderName:        req.SenderName,
		ContactPhone:      req.ContactPhone,
		ContactEmail:      req.ContactEmail,
	})
	if err != nil {
		return h.mapError(c, err)
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	return c.JSON(status, result)
}

func (h *InboundHandler) mapError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, inbound.ErrUnknownChannel),
		errors.Is(err, inbound.ErrInvalidPhone):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("inbound recording failed",
			slog.String("path", c.Path()),
			slog.Any("error", err),
		)
		return echo.NewHTTPError(http.StatusInternalServerError, "recording failed")
	}
}
