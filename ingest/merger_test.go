package ingest

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

type stubResolver map[string]string

func (r stubResolver) ResolveDisplayName(_ context.Context, raw string) (string, bool) {
	v, ok := r[strings.ToUpper(strings.TrimSpace(raw))]
	return v, ok
}

func newTestMerger() *Merger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewMerger(stubResolver{"HSBC BANK PLC": "HSBC"}, logger)
}

func twoChunkResults() []*ChunkResult {
	return []*ChunkResult{
		{
			SequenceNumber: 1,
			PageRange:      "1-2",
			AccountStatements: []ExtractedAccountStatement{{
				BankName:        NewField("hsbc bank plc"),
				AccountNumber:   NewField("12345678"),
				PeriodStart:     NewField("2024-01-01"),
				PeriodEnd:       NewField("CONTINUATION"),
				AccountCurrency: NewField("GBP"),
				StartingBalance: NewField("1000.00"),
				Transactions: []ExtractedTransaction{
					{Date: NewField("2024-01-02"), CreditAmount: NewField("500.00"), DebitAmount: NewField("0"), Description: NewField("SALARY")},
					{Date: NewField("2024-01-03"), DebitAmount: NewField("40.00"), Description: NewField("GROCERIES")},
				},
			}},
		},
		{
			SequenceNumber: 2,
			PageRange:      "3-4",
			AccountStatements: []ExtractedAccountStatement{{
				BankName:      Field{}, // not visible in this chunk
				AccountNumber: NewField("12345678"),
				PeriodEnd:     NewField("2024-01-31"),
				EndingBalance: NewField("1460.00"),
				Transactions: []ExtractedTransaction{
					{Date: NewField("2024-01-20"), CreditAmount: NewField("0"), DebitAmount: NewField("0"), Description: NewField("INTEREST")},
				},
			}},
		},
	}
}

func TestMergeTwoChunksSameAccount(t *testing.T) {
	m := newTestMerger()

	statements := m.Merge(context.Background(), twoChunkResults(), "jan.pdf")
	if len(statements) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(statements))
	}

	stmt := statements[0]
	if stmt.BankName != "HSBC" {
		t.Errorf("bank name %q, want HSBC", stmt.BankName)
	}
	if stmt.AccountNumber != "12345678" {
		t.Errorf("account number %q", stmt.AccountNumber)
	}
	if stmt.PeriodStart != "2024-01-01" || stmt.PeriodEnd != "2024-01-31" {
		t.Errorf("period %q..%q", stmt.PeriodStart, stmt.PeriodEnd)
	}
	if stmt.StartingBalance != "1000.00" || stmt.EndingBalance != "1460.00" {
		t.Errorf("balances %q..%q", stmt.StartingBalance, stmt.EndingBalance)
	}
	if len(stmt.Transactions) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(stmt.Transactions))
	}

	// Transactions keep document order pinned by (ChunkSequence, RowOrder).
	wantDescriptions := []string{"SALARY", "GROCERIES", "INTEREST"}
	for i, tx := range stmt.Transactions {
		if tx.Description != wantDescriptions[i] {
			t.Errorf("transaction %d: %q, want %q", i, tx.Description, wantDescriptions[i])
		}
	}
	if stmt.Transactions[0].ChunkSequence != 1 || stmt.Transactions[0].RowOrder != 0 {
		t.Errorf("first transaction position (%d,%d)", stmt.Transactions[0].ChunkSequence, stmt.Transactions[0].RowOrder)
	}
	if stmt.Transactions[2].ChunkSequence != 2 || stmt.Transactions[2].RowOrder != 0 {
		t.Errorf("last transaction position (%d,%d)", stmt.Transactions[2].ChunkSequence, stmt.Transactions[2].RowOrder)
	}
}

func TestMergeOrderInvariantUnderInputShuffle(t *testing.T) {
	m := newTestMerger()

	inOrder := m.Merge(context.Background(), twoChunkResults(), "jan.pdf")

	shuffled := twoChunkResults()
	shuffled[0], shuffled[1] = shuffled[1], shuffled[0]
	outOfOrder := m.Merge(context.Background(), shuffled, "jan.pdf")

	if !reflect.DeepEqual(inOrder, outOfOrder) {
		t.Errorf("merge output depends on input ordering")
	}
}

func TestMergeIsDeterministic(t *testing.T) {
	m := newTestMerger()

	first := m.Merge(context.Background(), twoChunkResults(), "jan.pdf")
	second := m.Merge(context.Background(), twoChunkResults(), "jan.pdf")

	if !reflect.DeepEqual(first, second) {
		t.Errorf("merging the same results twice produced different output")
	}
}

func TestMergeNeverOverwritesConcreteWithUnset(t *testing.T) {
	m := newTestMerger()

	results := []*ChunkResult{
		{
			SequenceNumber: 1,
			AccountStatements: []ExtractedAccountStatement{{
				AccountNumber:   NewField("999"),
				AccountType:     NewField("Current"),
				StartingBalance: NewField("250.00"),
			}},
		},
		{
			SequenceNumber: 2,
			AccountStatements: []ExtractedAccountStatement{{
				AccountNumber:   NewField("999"),
				AccountType:     NewField("CONTINUATION"),
				StartingBalance: NewField("0"), // placeholder, must not win
			}},
		},
	}

	statements := m.Merge(context.Background(), results, "")
	if len(statements) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(statements))
	}
	if statements[0].AccountType != "Current" {
		t.Errorf("account type %q, continuation must not clear it", statements[0].AccountType)
	}
	if statements[0].StartingBalance != "250.00" {
		t.Errorf("starting balance %q, zero placeholder must not replace it", statements[0].StartingBalance)
	}
}

func TestMergeZeroBalanceFillsEmptySlot(t *testing.T) {
	m := newTestMerger()

	results := []*ChunkResult{{
		SequenceNumber: 1,
		AccountStatements: []ExtractedAccountStatement{{
			AccountNumber:   NewField("42"),
			StartingBalance: NewField("0.00"),
		}},
	}}

	statements := m.Merge(context.Background(), results, "")
	if statements[0].StartingBalance != "0.00" {
		t.Errorf("zero balance should fill an empty slot, got %q", statements[0].StartingBalance)
	}
}

func TestMergeSkipsStatementsWithoutAccountNumber(t *testing.T) {
	m := newTestMerger()

	results := []*ChunkResult{{
		SequenceNumber: 1,
		AccountStatements: []ExtractedAccountStatement{
			{BankName: NewField("Some Bank")},
			{AccountNumber: NewField("CONTINUATION")},
			{AccountNumber: NewField("77"), Transactions: []ExtractedTransaction{{Description: NewField("X")}}},
		},
	}}

	statements := m.Merge(context.Background(), results, "")
	if len(statements) != 1 {
		t.Fatalf("expected only the attributable statement, got %d", len(statements))
	}
	if statements[0].AccountNumber != "77" {
		t.Errorf("account number %q", statements[0].AccountNumber)
	}
}

func TestMergeFallsBackToFileNameBank(t *testing.T) {
	m := newTestMerger()

	results := []*ChunkResult{{
		SequenceNumber: 1,
		AccountStatements: []ExtractedAccountStatement{{
			AccountNumber: NewField("55"),
		}},
	}}

	statements := m.Merge(context.Background(), results, "statements/barclays-march.pdf")
	if statements[0].BankName != "barclays-march" {
		t.Errorf("bank name %q, want file-derived name", statements[0].BankName)
	}

	statements = m.Merge(context.Background(), results, "")
	if statements[0].BankName != "Unknown Bank" {
		t.Errorf("bank name %q, want placeholder", statements[0].BankName)
	}
}

func TestMergeAssignsLongestDateRangeToMissingPeriods(t *testing.T) {
	m := newTestMerger()

	results := []*ChunkResult{{
		SequenceNumber: 1,
		AccountStatements: []ExtractedAccountStatement{
			{
				AccountNumber: NewField("1"),
				PeriodStart:   NewField("2024-01-01"),
				PeriodEnd:     NewField("2024-03-31"),
			},
			{
				AccountNumber: NewField("2"),
			},
		},
	}}

	statements := m.Merge(context.Background(), results, "doc.pdf")
	if len(statements) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(statements))
	}
	if statements[1].PeriodStart != "2024-01-01" || statements[1].PeriodEnd != "2024-03-31" {
		t.Errorf("statement without period got %q..%q", statements[1].PeriodStart, statements[1].PeriodEnd)
	}
}

func TestMergeFailedChunkContributesNothing(t *testing.T) {
	m := newTestMerger()

	results := twoChunkResults()
	results = append(results, &ChunkResult{SequenceNumber: 3, Failed: true, FailureReason: "all models failed"})

	statements := m.Merge(context.Background(), results, "jan.pdf")
	if len(statements) != 1 || len(statements[0].Transactions) != 3 {
		t.Errorf("failed chunk must not change the merge output")
	}
}
