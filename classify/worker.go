package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	"bitbucket.org/cedarledger/statements_backend/config"
	"bitbucket.org/cedarledger/statements_backend/ingest"
	"bitbucket.org/cedarledger/statements_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Categories is the fixed taxonomy transactions are classified into. The
// model must pick from this list; anything else is ignored.
var Categories = []string{
	"Income",
	"Transfer",
	"Payroll",
	"Rent",
	"Utilities",
	"Supplies",
	"Travel",
	"Meals",
	"Bank Fees",
	"Taxes",
	"Loan Payment",
	"Refund",
	"Other",
}

// TransactionStore is the persistence surface the worker needs. The gorm
// implementation is the default; tests supply fakes.
type TransactionStore interface {
	LoadUnclassified(ctx context.Context, statementId int) (total int, pending []models.StatementTransaction, err error)
	SaveClassification(ctx context.Context, transactionId int, category string, confidence decimal.Decimal, at time.Time) error
}

// Result reports how many of a statement's transactions were classified.
type Result struct {
	BankStatementId   int `json:"bank_statement_id"`
	ClassifiedCount   int `json:"classified_count"`
	TotalTransactions int `json:"total_transactions"`
}

// Worker classifies a stored statement's transactions with the shared Gemini
// client. It is only ever invoked detached from ingestion.
type Worker struct {
	Generator ingest.Generator
	Models    []string
	Store     TransactionStore
	Logger    *logrus.Logger
}

func NewWorker(gen ingest.Generator, modelIds []string, store TransactionStore, logger *logrus.Logger) *Worker {
	return &Worker{Generator: gen, Models: modelIds, Store: store, Logger: logger}
}

type classifiedRow struct {
	Id         int     `json:"id"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// Classify categorizes every not-yet-classified transaction of a statement.
// Rows the model skips or mislabels stay unclassified for the next run.
func (w *Worker) Classify(ctx context.Context, statementId int) (*Result, error) {
	total, pending, err := w.Store.LoadUnclassified(ctx, statementId)
	if err != nil {
		return nil, err
	}
	result := &Result{BankStatementId: statementId, TotalTransactions: total}
	if len(pending) == 0 {
		return result, nil
	}

	rows, err := w.classifyBatch(ctx, pending)
	if err != nil {
		return nil, err
	}

	valid := make(map[string]bool, len(Categories))
	for _, c := range Categories {
		valid[c] = true
	}
	byId := make(map[int]bool, len(pending))
	for i := range pending {
		byId[pending[i].ID] = true
	}

	now := time.Now().UTC()
	for _, row := range rows {
		if !byId[row.Id] || !valid[row.Category] {
			continue
		}
		confidence := decimal.NewFromFloat(row.Confidence)
		if err := w.Store.SaveClassification(ctx, row.Id, row.Category, confidence, now); err != nil {
			config.LogError(w.Logger, "worker.go", "Classify", "save classification", row.Id, err)
			continue
		}
		result.ClassifiedCount++
	}
	return result, nil
}

func (w *Worker) classifyBatch(ctx context.Context, pending []models.StatementTransaction) ([]classifiedRow, error) {
	prompt := buildClassificationPrompt(pending)

	var lastErr error
	for _, modelId := range w.Models {
		raw, err := w.Generator.Generate(ctx, modelId, prompt)
		if err != nil {
			lastErr = err
			w.Logger.WithFields(logrus.Fields{"model": modelId}).
				WithError(err).Warn("classification model call failed")
			continue
		}
		rows, err := parseClassificationResponse(raw)
		if err != nil {
			lastErr = err
			continue
		}
		return rows, nil
	}
	return nil, fmt.Errorf("all classification models failed: %w", lastErr)
}

func buildClassificationPrompt(pending []models.StatementTransaction) string {
	var b strings.Builder
	b.WriteString("Classify each bank transaction into exactly one of these categories:\n")
	b.WriteString(strings.Join(Categories, ", "))
	b.WriteString("\n\nRespond with a JSON array only, one object per transaction:\n")
	b.WriteString(`[{"id": <transaction id>, "category": "<category>", "confidence": <0.0-1.0>}]`)
	b.WriteString("\n\nTransactions:\n")
	for i := range pending {
		tx := &pending[i]
		date := ""
		if tx.TransactionDate != nil {
			date = tx.TransactionDate.Format("2006-01-02")
		}
		fmt.Fprintf(&b, "id=%d date=%s description=%q entity=%q credit=%s debit=%s\n",
			tx.ID, date, tx.Description, tx.EntityName,
			tx.CreditAmount.String(), tx.DebitAmount.String())
	}
	return b.String()
}

func parseClassificationResponse(raw string) ([]classifiedRow, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var rows []classifiedRow
	if err := json.Unmarshal([]byte(raw), &rows); err == nil {
		return rows, nil
	}

	repaired, err := jsonrepair.RepairJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("classification response could not be parsed: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &rows); err != nil {
		return nil, fmt.Errorf("classification response could not be parsed after repair: %w", err)
	}
	return rows, nil
}
