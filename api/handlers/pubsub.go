package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/services/realtime"
)

// maxPushBody bounds the push envelope; real notifications are a few hundred bytes.
const maxPushBody = 64 << 10

type PubSubHandler struct {
	trigger interfaces.RealtimeTrigger
}

func NewPubSubHandler(trigger interfaces.RealtimeTrigger) *PubSubHandler {
	return &PubSubHandler{trigger: trigger}
}

// Push receives gmail notifications from Pub/Sub. It always answers 200 so the
// subscription never redelivers.
func (h *PubSubHandler) Push() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "PubSubHandler.Push", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPushBody))
		if err != nil {
			tracing.TraceErr(span, err)
			c.String(http.StatusOK, realtime.AckResponse)
			return
		}

		c.String(http.StatusOK, h.trigger.OnPush(ctx, body))
	}
}
