package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"bitbucket.org/cedarledger/statements_backend/config"
	"bitbucket.org/cedarledger/statements_backend/ingest"
	"bitbucket.org/cedarledger/statements_backend/models"
	"bitbucket.org/cedarledger/statements_backend/utils"
	"github.com/gin-gonic/gin"
)

// processStatementHandler is the non-streaming ingestion endpoint. Events are
// drained internally; the caller gets one JSON envelope.
func processStatementHandler(pipeline *ingest.Pipeline) gin.HandlerFunc {
	logger := config.GetLogger()
	return func(c *gin.Context) {
		var input ingest.ProcessInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "statementText and submittingUserId are required"})
			return
		}
		if err := utils.ValidateStruct(input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "errors": utils.ProcessValidationErrors(err)})
			return
		}

		reporter := ingest.NewReporter()
		go func() {
			for range reporter.Events() {
			}
		}()

		output, err := pipeline.Run(c.Request.Context(), input, reporter)
		if err != nil {
			config.LogError(logger, "statements.go", "processStatementHandler", "pipeline run", input.FileName, err)
			status := http.StatusInternalServerError
			if errors.Is(err, ingest.ErrMissingStatementText) || errors.Is(err, ingest.ErrMissingSubmitter) {
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"success": false, "error": ingest.UserFacingMessage(err)})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": output})
	}
}

// processStatementStreamHandler streams pipeline progress as server-sent
// events. The pipeline keeps running when the client disconnects; committed
// statements stay committed and the reporter just drops the rest.
func processStatementStreamHandler(pipeline *ingest.Pipeline) gin.HandlerFunc {
	logger := config.GetLogger()
	return func(c *gin.Context) {
		var input ingest.ProcessInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "statementText and submittingUserId are required"})
			return
		}
		if err := utils.ValidateStruct(input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "errors": utils.ProcessValidationErrors(err)})
			return
		}

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")

		reporter := ingest.NewReporter()

		// Detach from the request context so a dropped client does not abort
		// in-flight persistence.
		runCtx := context.WithoutCancel(c.Request.Context())
		go func() {
			if _, err := pipeline.Run(runCtx, input, reporter); err != nil {
				config.LogError(logger, "statements.go", "processStatementStreamHandler", "pipeline run", input.FileName, err)
			}
		}()

		clientGone := c.Request.Context().Done()
		c.Stream(func(w io.Writer) bool {
			select {
			case <-clientGone:
				return false
			case ev, ok := <-reporter.Events():
				if !ok {
					return false
				}
				c.SSEvent(string(ev.Type), ev)
				return true
			}
		})
	}
}

func listBanksHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		banks, err := models.ListBanks(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "could not list banks"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": banks})
	}
}

func getBankHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid bank id"})
			return
		}

		bank, err := models.GetBankById(c.Request.Context(), id)
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "bank not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "could not load bank"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": bank})
	}
}

func listStatementsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		bankId, _ := strconv.Atoi(c.Query("bankId"))
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

		statements, total, err := models.ListBankStatements(c.Request.Context(), models.ListBankStatementsInput{
			BankId:        bankId,
			AccountNumber: c.Query("accountNumber"),
			Limit:         limit,
			Offset:        offset,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "could not list statements"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": statements, "total": total})
	}
}

func getStatementHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid statement id"})
			return
		}

		stmt, err := models.GetBankStatement(c.Request.Context(), id)
		if errors.Is(err, models.ErrStatementNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "statement not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "could not load statement"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": stmt})
	}
}

// validateStatementHandler re-runs the balance check on demand.
func validateStatementHandler(validator *ingest.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid statement id"})
			return
		}

		result, err := validator.Validate(c.Request.Context(), id)
		if errors.Is(err, models.ErrStatementNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "statement not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "validation could not run"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": result})
	}
}
