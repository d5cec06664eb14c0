package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/cedarledger/statements_backend/config"
	"bitbucket.org/cedarledger/statements_backend/models"
	"github.com/sirupsen/logrus"
)

// ClassificationDispatcher detaches transaction classification from the
// ingestion lifecycle. Dispatch failures are logged, never propagated.
type ClassificationDispatcher interface {
	Dispatch(ctx context.Context, statementId int) error
}

// KnownBankSource supplies the reference bank names injected into the
// extraction prompt.
type KnownBankSource interface {
	KnownBankNames(ctx context.Context) []string
}

// ProcessInput is one statement-document submission.
type ProcessInput struct {
	StatementText    string `json:"statementText" binding:"required"`
	FileName         string `json:"fileName"`
	FileUrl          string `json:"fileUrl"`
	SubmittingUserId int    `json:"submittingUserId" binding:"required"`
}

// ProcessSummary counts the persistence decisions across one document.
type ProcessSummary struct {
	Processed  int `json:"processed"`
	Created    int `json:"created"`
	Appended   int `json:"appended"`
	Merged     int `json:"merged"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

// ProcessOutput is the terminal payload of one pipeline run.
type ProcessOutput struct {
	TotalChunks  int                   `json:"total_chunks"`
	FailedChunks int                   `json:"failed_chunks"`
	Statements   []*CanonicalStatement `json:"statements"`
	Results      []*ProcessingResult   `json:"results"`
	Validations  []*ValidationResult   `json:"validations"`
	Summary      ProcessSummary        `json:"summary"`
}

var (
	ErrMissingStatementText = errors.New("statement text is required")
	ErrMissingSubmitter     = errors.New("submitting user id is required")
	ErrNothingExtracted     = errors.New("no account statements could be extracted from the document")
)

// Pipeline wires the ingestion stages together. One Run processes one
// document end to end and owns the reporter's lifecycle.
type Pipeline struct {
	Extractor  *Extractor
	Merger     *Merger
	Persister  *Persister
	Validator  *Validator
	Classifier ClassificationDispatcher
	Banks      KnownBankSource
	Logger     *logrus.Logger

	// ChunkDelay spaces out model calls so multi-chunk documents stay under
	// provider rate limits.
	ChunkDelay time.Duration
}

// Run executes the full pipeline, streaming progress to the reporter. The
// reporter is always closed, terminal event emitted exactly once, even on
// panic. Committed statements stay committed when a later stage fails.
func (p *Pipeline) Run(ctx context.Context, input ProcessInput, reporter *Reporter) (output *ProcessOutput, err error) {
	defer reporter.Close()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
			config.LogError(p.Logger, "pipeline.go", "Run", "recovered panic", input.FileName, err)
			reporter.Emit(EventError, UserFacingMessage(err), map[string]any{"error": err.Error()})
			output = nil
		}
	}()

	if input.StatementText == "" {
		reporter.Emit(EventError, ErrMissingStatementText.Error(), nil)
		return nil, ErrMissingStatementText
	}
	if input.SubmittingUserId == 0 {
		reporter.Emit(EventError, ErrMissingSubmitter.Error(), nil)
		return nil, ErrMissingSubmitter
	}

	reporter.Emit(EventStatus, "processing started", map[string]any{"file_name": input.FileName})

	chunks := SplitChunks(input.StatementText)
	pageRanges := make([]string, 0, len(chunks))
	for _, c := range chunks {
		pageRanges = append(pageRanges, c.PageRange)
	}
	reporter.Emit(EventChunksPrepared, fmt.Sprintf("prepared %d chunks", len(chunks)), map[string]any{
		"total_chunks": len(chunks),
		"page_ranges":  pageRanges,
	})

	var knownBanks []string
	if p.Banks != nil {
		knownBanks = p.Banks.KnownBankNames(ctx)
	}

	results, failedChunks := p.extractAll(ctx, chunks, knownBanks, reporter)

	statements := p.Merger.Merge(ctx, results, input.FileName)
	reporter.Emit(EventMergeComplete, fmt.Sprintf("merged into %d account statements", len(statements)), map[string]any{
		"statement_count": len(statements),
	})
	if len(statements) == 0 {
		reporter.Emit(EventError, UserFacingMessage(ErrNothingExtracted), map[string]any{"error": ErrNothingExtracted.Error()})
		return nil, ErrNothingExtracted
	}

	output = &ProcessOutput{
		TotalChunks:  len(chunks),
		FailedChunks: failedChunks,
		Statements:   statements,
	}

	persistInput := PersistInput{
		SubmittedByUserId: input.SubmittingUserId,
		FileName:          input.FileName,
		FileUrl:           input.FileUrl,
		RawText:           input.StatementText,
	}

	for _, stmt := range statements {
		output.Summary.Processed++
		reporter.Emit(EventStatementStart, fmt.Sprintf("saving statement for account %s", stmt.AccountNumber), map[string]any{
			"account_number": stmt.AccountNumber,
			"bank_name":      stmt.BankName,
		})

		result, perr := p.Persister.Persist(ctx, stmt, persistInput)
		if perr != nil {
			output.Summary.Failed++
			result = &ProcessingResult{
				BankName:      stmt.BankName,
				AccountNumber: stmt.AccountNumber,
				Error:         perr.Error(),
				Message:       UserFacingMessage(perr),
			}
			output.Results = append(output.Results, result)
			config.LogError(p.Logger, "pipeline.go", "Run", "persist statement", stmt.AccountNumber, perr)
			reporter.Emit(EventStatementError, result.Message, map[string]any{
				"account_number": stmt.AccountNumber,
				"error":          perr.Error(),
			})
			continue
		}

		output.Results = append(output.Results, result)
		switch result.Action {
		case models.PersistActionCreateNew:
			output.Summary.Created++
		case models.PersistActionAddToExistingBank:
			output.Summary.Appended++
		case models.PersistActionMergeDifferentPeriod:
			output.Summary.Merged++
		case models.PersistActionSkipDuplicate:
			output.Summary.Duplicates++
		}
		reporter.Emit(EventStatementComplete, result.Message, map[string]any{
			"action":            string(result.Action),
			"bank_statement_id": result.BankStatementId,
			"bank_name":         result.BankName,
			"account_number":    result.AccountNumber,
			"transaction_count": result.TransactionCount,
			"file_name":         input.FileName,
		})

		if result.Action == models.PersistActionSkipDuplicate {
			continue
		}

		p.validateStatement(ctx, result, output, reporter)
		p.triggerClassification(ctx, result.BankStatementId, reporter)
	}

	reporter.Emit(EventComplete, "processing complete", map[string]any{
		"total_chunks":  output.TotalChunks,
		"failed_chunks": output.FailedChunks,
		"statements":    output.Statements,
		"results":       output.Results,
		"validations":   output.Validations,
		"summary":       output.Summary,
	})
	return output, nil
}

// extractAll runs the extractor over every chunk. A failed chunk contributes
// an empty result and the run continues.
func (p *Pipeline) extractAll(ctx context.Context, chunks []RawChunk, knownBanks []string, reporter *Reporter) ([]*ChunkResult, int) {
	results := make([]*ChunkResult, 0, len(chunks))
	failed := 0

	for i, chunk := range chunks {
		if i > 0 && p.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(p.ChunkDelay):
			}
		}

		reporter.Emit(EventChunkStart, fmt.Sprintf("extracting chunk %d of %d", chunk.SequenceNumber, len(chunks)), map[string]any{
			"sequence":   chunk.SequenceNumber,
			"page_range": chunk.PageRange,
		})

		result, err := p.Extractor.ExtractChunk(ctx, chunk, len(chunks), knownBanks)
		if err != nil {
			failed++
			config.LogError(p.Logger, "pipeline.go", "extractAll", "chunk extraction", chunk.SequenceNumber, err)
			reporter.Emit(EventChunkError, UserFacingMessage(err), map[string]any{
				"sequence":   chunk.SequenceNumber,
				"page_range": chunk.PageRange,
				"error":      err.Error(),
			})
			results = append(results, &ChunkResult{
				SequenceNumber: chunk.SequenceNumber,
				PageRange:      chunk.PageRange,
				Failed:         true,
				FailureReason:  err.Error(),
			})
			continue
		}

		reporter.Emit(EventChunkComplete, fmt.Sprintf("chunk %d extracted", chunk.SequenceNumber), map[string]any{
			"sequence":        chunk.SequenceNumber,
			"page_range":      chunk.PageRange,
			"statement_count": len(result.AccountStatements),
		})
		results = append(results, result)
	}
	return results, failed
}

// validateStatement runs the balance check. A validation crash leaves the
// statement unvalidated and the batch continues.
func (p *Pipeline) validateStatement(ctx context.Context, result *ProcessingResult, output *ProcessOutput, reporter *Reporter) {
	reporter.Emit(EventValidationStart, "validating balances", map[string]any{
		"bank_statement_id": result.BankStatementId,
	})

	validation, err := p.Validator.Validate(ctx, result.BankStatementId)
	if err != nil {
		config.LogError(p.Logger, "pipeline.go", "validateStatement", "balance validation", result.BankStatementId, err)
		reporter.Emit(EventValidationError, "balance validation could not run", map[string]any{
			"bank_statement_id": result.BankStatementId,
			"error":             err.Error(),
		})
		return
	}

	output.Validations = append(output.Validations, validation)
	reporter.Emit(EventValidationComplete, validation.Notes, map[string]any{
		"bank_statement_id": validation.BankStatementId,
		"status":            string(validation.Status),
		"discrepancy":       validation.Discrepancy.StringFixed(2),
	})
}

// triggerClassification hands the statement to the detached classifier.
func (p *Pipeline) triggerClassification(ctx context.Context, statementId int, reporter *Reporter) {
	if p.Classifier == nil {
		return
	}

	reporter.Emit(EventClassificationStart, "submitting transactions for classification", map[string]any{
		"bank_statement_id": statementId,
	})

	if err := p.Classifier.Dispatch(ctx, statementId); err != nil {
		config.LogError(p.Logger, "pipeline.go", "triggerClassification", "dispatch", statementId, err)
		reporter.Emit(EventClassificationError, "classification could not be scheduled", map[string]any{
			"bank_statement_id": statementId,
			"error":             err.Error(),
		})
		return
	}

	reporter.Emit(EventClassificationTriggered, "classification scheduled", map[string]any{
		"bank_statement_id": statementId,
	})
}
