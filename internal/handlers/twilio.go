package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/opsdeskhq/opsdesk/internal/inbound"
)

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// TwilioWebhookHandler handles Twilio's form-encoded SMS and voice status
// callbacks and feeds them into the inbound engine.
type TwilioWebhookHandler struct {
	service *inbound.Service
	logger  *slog.Logger
}

func NewTwilioWebhookHandler(log *slog.Logger, service *inbound.Service) *TwilioWebhookHandler {
	return &TwilioWebhookHandler{
		service: service,
		logger:  log.With(slog.String("handler", "twilio_webhook")),
	}
}

func (h *TwilioWebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhooks/twilio/sms", h.HandleSMS)
	e.POST("/webhooks/twilio/voice", h.HandleVoice)
}

// HandleSMS records an inbound SMS or MMS. Twilio retries deliveries, so the
// MessageSid doubles as the idempotency key.
func (h *TwilioWebhookHandler) HandleSMS(c echo.Context) error {
	from := strings.TrimSpace(c.FormValue("From"))
	if from == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "From is required")
	}

	input := inbound.Input{
		Channel:           inbound.ChannelSMS,
		Body:              c.FormValue("Body"),
		FromAddress:       from,
		ToAddress:         strings.TrimSpace(c.FormValue("To")),
		Provider:          "twilio",
		ProviderMessageID: strings.TrimSpace(c.FormValue("MessageSid")),
		MediaURLs:         mediaURLs(c),
	}

	result, err := h.service.RecordInboundMessage(c.Request().Context(), input)
	if err != nil {
		if errors.Is(err, inbound.ErrInvalidPhone) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		h.logger.Error("sms webhook failed",
			slog.String("message_sid", input.ProviderMessageID),
			slog.Any("error", err),
		)
		return echo.NewHTTPError(http.StatusInternalServerError, "recording failed")
	}

	h.logger.Info("sms recorded",
		slog.String("message_sid", input.ProviderMessageID),
		slog.String("thread_id", result.ThreadID),
		slog.Bool("duplicate", result.Duplicate),
	)
	return c.XMLBlob(http.StatusOK, []byte(emptyTwiML))
}

// HandleVoice records missed and completed calls as call-channel messages so
// the conversation timeline shows them. Twilio posts status callbacks per
// call leg; only terminal states are recorded.
func (h *TwilioWebhookHandler) HandleVoice(c echo.Context) error {
	from := strings.TrimSpace(c.FormValue("From"))
	if from == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "From is required")
	}

	status := strings.ToLower(strings.TrimSpace(c.FormValue("CallStatus")))
	switch status {
	case "completed", "no-answer", "busy", "failed":
	default:
		return c.XMLBlob(http.StatusOK, []byte(emptyTwiML))
	}

	input := inbound.Input{
		Channel:           inbound.ChannelCall,
		Body:              callBody(status, c.FormValue("CallDuration")),
		FromAddress:       from,
		ToAddress:         strings.TrimSpace(c.FormValue("To")),
		Provider:          "twilio",
		ProviderMessageID: strings.TrimSpace(c.FormValue("CallSid")),
		Metadata: map[string]any{
			"call_status": status,
		},
	}

	result, err := h.service.RecordInboundMessage(c.Request().Context(), input)
	if err != nil {
		if errors.Is(err, inbound.ErrInvalidPhone) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		h.logger.Error("voice webhook failed",
			slog.String("call_sid", input.ProviderMessageID),
			slog.Any("error", err),
		)
		return echo.NewHTTPError(http.StatusInternalServerError, "recording failed")
	}

	h.logger.Info("call recorded",
		slog.String("call_sid", input.ProviderMessageID),
		slog.String("thread_id", result.ThreadID),
		slog.Bool("duplicate", result.Duplicate),
	)
	return c.XMLBlob(http.StatusOK, []byte(emptyTwiML))
}

// mediaURLs collects MediaUrl0..MediaUrlN form fields per NumMedia.
func mediaURLs(c echo.Context) []string {
	count, err := strconv.Atoi(strings.TrimSpace(c.FormValue("NumMedia")))
	if err != nil || count <= 0 {
		return nil
	}
	urls := make([]string, 0, count)
	for i := 0; i < count; i++ {
		if u := strings.TrimSpace(c.FormValue(fmt.Sprintf("MediaUrl%d", i))); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

func callBody(status, duration string) string {
	if status == "completed" {
		if d := strings.TrimSpace(duration); d != "" {
			return fmt.Sprintf("Inbound call, %ss", d)
		}
		return "Inbound call"
	}
	return "Missed call"
}
