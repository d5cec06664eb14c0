package ingest

import (
	"context"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// AliasResolver normalizes raw extracted bank names against the known-banks
// reference list.
type AliasResolver interface {
	ResolveDisplayName(ctx context.Context, rawName string) (string, bool)
}

const fallbackBankName = "Unknown Bank"

// Merger combines per-chunk extraction results into one coherent statement
// per account number. Chunk sequence order is the only ordering authority;
// completion order of the extraction calls never matters.
type Merger struct {
	Resolver AliasResolver
	Logger   *logrus.Logger
}

func NewMerger(resolver AliasResolver, logger *logrus.Logger) *Merger {
	return &Merger{Resolver: resolver, Logger: logger}
}

// Merge folds the chunk results (re-sorted by sequence number) into
// canonical statements. Merging the same results twice yields identical
// output: all decisions depend only on the inputs.
func (m *Merger) Merge(ctx context.Context, results []*ChunkResult, fileName string) []*CanonicalStatement {
	sorted := make([]*ChunkResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SequenceNumber < sorted[j].SequenceNumber
	})

	docBank := m.documentBankName(ctx, sorted, fileName)

	byAccount := make(map[string]*CanonicalStatement)
	order := make([]string, 0)

	for _, chunk := range sorted {
		for _, extracted := range chunk.AccountStatements {
			accountNumber := usableValue(extracted.AccountNumber)
			if accountNumber == "" {
				// Account number is the mandatory merge key; a statement
				// fragment without one cannot be attributed.
				continue
			}

			stmt, exists := byAccount[accountNumber]
			if !exists {
				stmt = &CanonicalStatement{AccountNumber: accountNumber}
				byAccount[accountNumber] = stmt
				order = append(order, accountNumber)
			}

			if name := usableValue(extracted.BankName); name != "" {
				stmt.BankName = m.normalizeBankName(ctx, name)
			}
			stmt.AccountType = mergeScalar(stmt.AccountType, extracted.AccountType)
			stmt.AccountCurrency = mergeScalar(stmt.AccountCurrency, extracted.AccountCurrency)
			stmt.PeriodStart = mergeScalar(stmt.PeriodStart, extracted.PeriodStart)
			stmt.PeriodEnd = mergeScalar(stmt.PeriodEnd, extracted.PeriodEnd)
			stmt.StartingBalance = mergeBalance(stmt.StartingBalance, extracted.StartingBalance)
			stmt.EndingBalance = mergeBalance(stmt.EndingBalance, extracted.EndingBalance)

			for i, tx := range extracted.Transactions {
				stmt.Transactions = append(stmt.Transactions, CanonicalTransaction{
					Date:          tx.Date.Or(""),
					CreditAmount:  tx.CreditAmount.Or(UnknownAmount),
					DebitAmount:   tx.DebitAmount.Or(UnknownAmount),
					Description:   tx.Description.Or(""),
					Balance:       tx.Balance.Or(UnknownAmount),
					PageNumber:    transactionPage(tx, chunk.PageRange),
					EntityName:    tx.EntityName.Or(""),
					ChunkSequence: chunk.SequenceNumber,
					RowOrder:      i,
				})
			}
		}
	}

	statements := make([]*CanonicalStatement, 0, len(order))
	for _, accountNumber := range order {
		statements = append(statements, byAccount[accountNumber])
	}

	m.fillMissingFields(statements, docBank)
	return statements
}

// documentBankName scans the chunks in order for the first usable bank name,
// then falls back to the source file name, then to a generic placeholder.
func (m *Merger) documentBankName(ctx context.Context, sorted []*ChunkResult, fileName string) string {
	for _, chunk := range sorted {
		for _, extracted := range chunk.AccountStatements {
			if name := usableValue(extracted.BankName); name != "" {
				return m.normalizeBankName(ctx, name)
			}
		}
	}
	if fileName != "" {
		base := strings.TrimSuffix(path.Base(fileName), path.Ext(fileName))
		if base != "" {
			return base
		}
	}
	return fallbackBankName
}

func (m *Merger) normalizeBankName(ctx context.Context, raw string) string {
	if m.Resolver != nil {
		if display, ok := m.Resolver.ResolveDisplayName(ctx, raw); ok {
			return display
		}
	}
	return raw
}

// fillMissingFields assigns the document bank name to statements that never
// saw one, and the longest observed date range to statements missing period
// dates. The date-range heuristic can misattribute ranges in multi-account
// documents; it is logged so product can audit it.
func (m *Merger) fillMissingFields(statements []*CanonicalStatement, docBank string) {
	var longestStart, longestEnd string
	var longestSpan time.Duration

	for _, stmt := range statements {
		start, okStart := parseFlexibleDate(stmt.PeriodStart)
		end, okEnd := parseFlexibleDate(stmt.PeriodEnd)
		if okStart && okEnd && end.After(start) {
			if span := end.Sub(start); span > longestSpan {
				longestSpan = span
				longestStart = stmt.PeriodStart
				longestEnd = stmt.PeriodEnd
			}
		}
	}

	for _, stmt := range statements {
		if stmt.BankName == "" {
			stmt.BankName = docBank
		}
		if (stmt.PeriodStart == "" || stmt.PeriodEnd == "") && longestStart != "" {
			if len(statements) > 1 && m.Logger != nil {
				m.Logger.WithFields(logrus.Fields{
					"module":         "merger.go",
					"account_number": stmt.AccountNumber,
				}).Warn("assigning longest observed date range to statement with missing period in multi-account document")
			}
			if stmt.PeriodStart == "" {
				stmt.PeriodStart = longestStart
			}
			if stmt.PeriodEnd == "" {
				stmt.PeriodEnd = longestEnd
			}
		}
	}
}

// usableValue returns the field value unless it is unset, a continuation, or
// an unknown placeholder.
func usableValue(f Field) string {
	if !f.Known() {
		return ""
	}
	v := f.Value()
	if strings.EqualFold(v, UnknownAmount) || strings.EqualFold(v, "n/a") {
		return ""
	}
	return v
}

// mergeScalar overwrites only with a concrete later value; continuations and
// empty values never clobber earlier data.
func mergeScalar(existing string, incoming Field) string {
	if v := usableValue(incoming); v != "" {
		return v
	}
	return existing
}

// mergeBalance treats a literal zero as a placeholder: a later zero may fill
// an empty or placeholder slot but never replaces a concrete balance, since
// "0" from the model is indistinguishable from "not extracted".
func mergeBalance(existing string, incoming Field) string {
	v := usableValue(incoming)
	if v == "" {
		return existing
	}
	if isZeroAmount(v) && hasConcreteAmount(existing) {
		return existing
	}
	return v
}

func hasConcreteAmount(s string) bool {
	if s == "" || strings.EqualFold(s, UnknownAmount) {
		return false
	}
	return !isZeroAmount(s)
}

func isZeroAmount(s string) bool {
	d, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(s), ",", ""))
	if err != nil {
		return false
	}
	return d.IsZero()
}

func transactionPage(tx ExtractedTransaction, pageRange string) int {
	if n := tx.PageNumber.Int(); n > 0 {
		return n
	}
	// Fall back to the first page of the chunk's range ("3-4" -> 3).
	digits := strings.FieldsFunc(pageRange, func(r rune) bool {
		return r < '0' || r > '9'
	})
	if len(digits) > 0 {
		if n, err := strconv.Atoi(digits[0]); err == nil {
			return n
		}
	}
	return 0
}

var dateLayouts = []string{"2006-01-02", "02/01/2006", "01/02/2006", "2 Jan 2006", "2 January 2006", "Jan 2, 2006"}

func parseFlexibleDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
