package models

import (
	"log"

	"bitbucket.org/cedarledger/statements_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Bank{},
		&BankStatement{}, &StatementTransaction{},
		&KnownBank{}, &KnownBankAlias{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
