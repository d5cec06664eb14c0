package main

import (
	"context"
	"fmt"
	"os"

	"bitbucket.org/cedarledger/statements_backend/config"
	"bitbucket.org/cedarledger/statements_backend/models"
)

func main() {
	ctx := context.Background()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	config.ConnectRedisWithRetry()

	// Ensure schema is up-to-date (creates known_banks if missing).
	models.MigrateTable()

	if err := models.SeedKnownBanks(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "seed failed:", err)
		os.Exit(1)
	}

	names, err := models.ListKnownBankNames(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "seeded but could not list:", err)
		os.Exit(1)
	}
	fmt.Printf("known banks seeded (%d total)\n", len(names))
	for _, n := range names {
		fmt.Println(" -", n)
	}
}
