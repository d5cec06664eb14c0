package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"bitbucket.org/cedarledger/statements_backend/config"
	"bitbucket.org/cedarledger/statements_backend/ingest"
	"bitbucket.org/cedarledger/statements_backend/models"
)

func main() {
	statementID := flag.Int("statement-id", 0, "Optional: revalidate only one statement. If 0, revalidates every statement.")
	failedOnly := flag.Bool("failed-only", false, "Only revalidate statements whose last check failed.")
	flag.Parse()

	ctx := context.Background()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	logger := config.GetLogger()
	validator := ingest.NewValidator(ingest.NewGormStatementStore(), logger)

	var ids []int
	if *statementID > 0 {
		ids = []int{*statementID}
	} else {
		q := db.WithContext(ctx).Model(&models.BankStatement{})
		if *failedOnly {
			q = q.Where("validation_status = ?", models.ValidationStatusFailed)
		}
		if err := q.Order("id ASC").Pluck("id", &ids).Error; err != nil {
			fmt.Fprintln(os.Stderr, "could not list statements:", err)
			os.Exit(1)
		}
	}

	passed, failed, errored := 0, 0, 0
	for _, id := range ids {
		result, err := validator.Validate(ctx, id)
		if err != nil {
			errored++
			fmt.Fprintf(os.Stderr, "statement %d: %v\n", id, err)
			continue
		}
		if result.Status == models.ValidationStatusPassed {
			passed++
		} else {
			failed++
			fmt.Printf("statement %d: %s\n", id, result.Notes)
		}
	}

	fmt.Printf("revalidated %d statements: %d passed, %d failed, %d errored\n",
		len(ids), passed, failed, errored)
}
