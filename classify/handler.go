package classify

import (
	"encoding/base64"
	"net/http"

	"bitbucket.org/cedarledger/statements_backend/config"
	"bitbucket.org/cedarledger/statements_backend/utils"
	"github.com/gin-gonic/gin"
)

// pushEnvelope is the wrapper Cloud Pub/Sub wraps around pushed messages.
type pushEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageId string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// PushHandler processes classification jobs delivered by a pub/sub push
// subscription. Non-retryable problems return 200 so pub/sub stops
// redelivering; worker errors return 500 for redelivery.
func PushHandler(worker *Worker) gin.HandlerFunc {
	logger := config.GetLogger()
	return func(c *gin.Context) {
		var envelope pushEnvelope
		if err := c.ShouldBindJSON(&envelope); err != nil {
			config.LogError(logger, "handler.go", "PushHandler", "decode push envelope", nil, err)
			c.JSON(http.StatusOK, gin.H{"status": "discarded"})
			return
		}

		data, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
		if err != nil {
			config.LogError(logger, "handler.go", "PushHandler", "decode message data", envelope.Message.MessageId, err)
			c.JSON(http.StatusOK, gin.H{"status": "discarded"})
			return
		}

		var msg DispatchMessage
		if err := utils.UnmarshalFromJSON(data, &msg); err != nil || msg.BankStatementId == 0 {
			config.LogError(logger, "handler.go", "PushHandler", "decode dispatch message", string(data), err)
			c.JSON(http.StatusOK, gin.H{"status": "discarded"})
			return
		}

		result, err := worker.Classify(c.Request.Context(), msg.BankStatementId)
		if err != nil {
			config.LogError(logger, "handler.go", "PushHandler", "classify statement", msg.BankStatementId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "classification failed"})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}
