package ingest

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"bitbucket.org/cedarledger/statements_backend/models"
)

// continuationValue is the sentinel the model emits for fields that are not
// visible in the current chunk. It is folded into Field's unset state at
// decode time so merge rules never compare raw strings.
const continuationValue = "CONTINUATION"

// UnknownAmount marks an amount the model could not read. Never zero: a zero
// balance has financial meaning.
const UnknownAmount = "unknown"

// RawChunk is one page-bounded slice of the raw statement text.
// SequenceNumber is the sole ordering authority for the merge.
type RawChunk struct {
	Content        string `json:"content"`
	PageRange      string `json:"page_range"`
	SequenceNumber int    `json:"sequence_number"`
}

// Field is a per-chunk extracted value that distinguishes "not visible in
// this chunk" from a real value. JSON nulls, empty strings and the
// continuation sentinel all decode to the unset state.
type Field struct {
	value string
	known bool
}

func NewField(v string) Field {
	v = strings.TrimSpace(v)
	if v == "" || v == continuationValue {
		return Field{}
	}
	return Field{value: v, known: true}
}

// Known reports whether the chunk actually carried a value.
func (f Field) Known() bool { return f.known }

func (f Field) Value() string { return f.value }

func (f Field) Or(fallback string) string {
	if f.known {
		return f.value
	}
	return fallback
}

// Int converts the field to an integer, returning 0 when unset or malformed.
func (f Field) Int() int {
	if !f.known {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(f.value))
	if err != nil {
		return 0
	}
	return n
}

func (f *Field) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = Field{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = NewField(s)
		return nil
	}
	// Numbers and booleans are kept as their literal text.
	*f = NewField(string(b))
	return nil
}

func (f Field) MarshalJSON() ([]byte, error) {
	if !f.known {
		return []byte("null"), nil
	}
	return json.Marshal(f.value)
}

// ExtractedTransaction is one statement line as returned for a single chunk.
type ExtractedTransaction struct {
	Date         Field `json:"date"`
	CreditAmount Field `json:"creditAmount"`
	DebitAmount  Field `json:"debitAmount"`
	Description  Field `json:"description"`
	Balance      Field `json:"balance"`
	PageNumber   Field `json:"pageNumber"`
	EntityName   Field `json:"entityName"`
}

// ExtractedAccountStatement is the possibly partial view of one account as
// seen in a single chunk.
type ExtractedAccountStatement struct {
	BankName        Field                  `json:"bankName"`
	AccountNumber   Field                  `json:"accountNumber"`
	PeriodStart     Field                  `json:"periodStart"`
	PeriodEnd       Field                  `json:"periodEnd"`
	AccountType     Field                  `json:"accountType"`
	AccountCurrency Field                  `json:"accountCurrency"`
	StartingBalance Field                  `json:"startingBalance"`
	EndingBalance   Field                  `json:"endingBalance"`
	Transactions    []ExtractedTransaction `json:"transactions"`
}

type chunkPayload struct {
	AccountStatements []ExtractedAccountStatement `json:"accountStatements"`
}

// ChunkResult is the extraction output for one chunk. A chunk whose
// extraction failed contributes an empty result; the pipeline continues.
type ChunkResult struct {
	SequenceNumber    int                         `json:"sequence_number"`
	PageRange         string                      `json:"page_range"`
	AccountStatements []ExtractedAccountStatement `json:"account_statements"`
	Failed            bool                        `json:"failed,omitempty"`
	FailureReason     string                      `json:"failure_reason,omitempty"`
}

// CanonicalTransaction is a merged transaction with its ingestion order
// pinned by (ChunkSequence, RowOrder).
type CanonicalTransaction struct {
	Date          string `json:"date"`
	CreditAmount  string `json:"credit_amount"`
	DebitAmount   string `json:"debit_amount"`
	Description   string `json:"description"`
	Balance       string `json:"balance"`
	PageNumber    int    `json:"page_number"`
	EntityName    string `json:"entity_name"`
	ChunkSequence int    `json:"chunk_sequence"`
	RowOrder      int    `json:"row_order"`
}

// CanonicalStatement is the merged per-account view of the whole document.
// AccountNumber is the identity key across chunks; bank names are too
// inconsistently extracted to key on.
type CanonicalStatement struct {
	BankName        string                 `json:"bank_name"`
	AccountNumber   string                 `json:"account_number"`
	AccountType     string                 `json:"account_type"`
	AccountCurrency string                 `json:"account_currency"`
	PeriodStart     string                 `json:"period_start"`
	PeriodEnd       string                 `json:"period_end"`
	StartingBalance string                 `json:"starting_balance"`
	EndingBalance   string                 `json:"ending_balance"`
	Transactions    []CanonicalTransaction `json:"transactions"`
}

// ProcessingResult is the persister's decision for one canonical statement.
type ProcessingResult struct {
	Action           models.PersistAction `json:"action"`
	BankStatementId  int                  `json:"bank_statement_id"`
	BankName         string               `json:"bank_name"`
	AccountNumber    string               `json:"account_number"`
	TransactionCount int                  `json:"transaction_count"`
	Message          string               `json:"message"`
	Error            string               `json:"error,omitempty"`
}
