package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Webhook bodies are small JSON documents; anything larger is abuse.
const maxWebhookBody = 1 << 20

// HandleSubscriptionWebhook ingests one billing provider callback. The
// response is 200 for applied, ignored, and duplicate events alike so the
// provider never retries an outcome the ledger already settled.
func (s *Server) HandleSubscriptionWebhook(c *gin.Context) {
	provider := c.Param("provider")

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.processor.Ingest(c.Request.Context(), provider, c.Request.Header, body)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
