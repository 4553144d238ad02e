package http

import (
	"net/http"
	"strconv"

	"VoiceCoachService/internal/call"
	"VoiceCoachService/pkg/server"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const xmlContentType = "application/xml"

// Ответы на случай, когда построить TwiML не удалось
const (
	emptyTwiML    = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`
	fallbackTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response><Say>` + call.ErrorLine + `</Say><Hangup/></Response>`
)

// callEvent собирает параметры webhook; user_id приходит в query из URL, заданного при звонке
func callEvent(c *gin.Context) call.Event {
	ev := call.Event{
		CallSID:   c.PostForm("CallSid"),
		Direction: c.PostForm("Direction"),
		From:      c.PostForm("From"),
		To:        c.PostForm("To"),
	}
	if raw := c.Query("user_id"); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
			ev.UserID = uint(id)
		}
	}
	return ev
}

// respond всегда отвечает 200 с TwiML
func (h *Handler) respond(c *gin.Context, ins call.Instructions) {
	body, err := h.renderer.Render(ins)
	if err != nil {
		server.WithRequestID(c.Request.Context(), h.logger).Error("Failed to render TwiML", zap.Error(err))
		body = fallbackTwiML
	}
	c.Data(http.StatusOK, xmlContentType, []byte(body))
}

func (h *Handler) webhookPanic(c *gin.Context, recovered any) {
	server.WithRequestID(c.Request.Context(), h.logger).Error("Webhook handler panicked",
		zap.String("path", c.Request.URL.Path),
		zap.Any("panic", recovered))
	c.Data(http.StatusOK, xmlContentType, []byte(fallbackTwiML))
	c.Abort()
}

// TwilioCall POST /twilio-call: абонент ответил
func (h *Handler) TwilioCall(c *gin.Context) {
	h.respond(c, h.calls.OnCallAnswered(c.Request.Context(), callEvent(c)))
}

// TwilioRecording POST /twilio-recording: запись ответа готова
func (h *Handler) TwilioRecording(c *gin.Context) {
	u := call.Utterance{Recorded: true, RecordingURL: c.PostForm("RecordingUrl")}
	h.respond(c, h.calls.OnSpeechCaptured(c.Request.Context(), callEvent(c), u))
}

// TwilioResponse POST /twilio-response: телефония распознала речь
func (h *Handler) TwilioResponse(c *gin.Context) {
	u := call.Utterance{Text: c.PostForm("SpeechResult")}
	h.respond(c, h.calls.OnSpeechCaptured(c.Request.Context(), callEvent(c), u))
}

// TwilioStatus POST /twilio-status: статус звонка; завершенный звонок закрывает сессию
func (h *Handler) TwilioStatus(c *gin.Context) {
	status := c.PostForm("CallStatus")
	if call.TerminalStatus(status) {
		h.calls.OnHangup(c.Request.Context(), c.PostForm("CallSid"))
	}
	c.Data(http.StatusOK, xmlContentType, []byte(emptyTwiML))
}
