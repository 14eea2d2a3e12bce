package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"gramflow/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Handler is the HTTP edge for Meta webhook deliveries.
type Handler struct {
	dispatcher  *Dispatcher
	verifyToken string
	appSecret   string
	log         *slog.Logger
}

func NewHandler(d *Dispatcher, verifyToken, appSecret string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{dispatcher: d, verifyToken: verifyToken, appSecret: appSecret, log: log}
}

// Verify answers Meta's subscription handshake. The challenge is echoed back
// as plain text only when the verify token matches.
func (h *Handler) Verify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode != "subscribe" || token != h.verifyToken {
		c.String(http.StatusForbidden, "verification failed")
		return
	}
	c.String(http.StatusOK, challenge)
}

// Receive handles a webhook delivery. Internal failures still ack 200 so Meta
// does not retry a payload we have already captured; only a bad signature or
// an unreadable payload is refused.
func (h *Handler) Receive(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	if !h.signatureValid(c.GetHeader("X-Hub-Signature-256"), body) {
		logger.FromGin(c).Warn("webhook signature mismatch")
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
		return
	}

	res, err := h.dispatcher.ProcessPayload(c.Request.Context(), body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	if res.Errors > 0 {
		logger.FromGin(c).Warn("webhook processed with errors",
			"processed", res.Processed, "queued", res.Queued, "errors", res.Errors)
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) signatureValid(header string, body []byte) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.appSecret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(sig), []byte(want))
}
