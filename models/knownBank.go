package models

import (
	"context"
	"strings"
	"time"

	"bitbucket.org/cedarledger/statements_backend/config"
)

// KnownBank is the reference list used to normalize the bank names the model
// extracts ("HSBC UK Bank plc", "hsbc" -> "HSBC").
type KnownBank struct {
	ID          int              `gorm:"primary_key" json:"id"`
	DisplayName string           `gorm:"size:255;not null;uniqueIndex" json:"display_name"`
	Aliases     []KnownBankAlias `gorm:"foreignKey:KnownBankId;constraint:OnDelete:CASCADE" json:"aliases,omitempty"`
	CreatedAt   time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type KnownBankAlias struct {
	ID          int    `gorm:"primary_key" json:"id"`
	KnownBankId int    `gorm:"index;not null" json:"known_bank_id"`
	Alias       string `gorm:"size:255;not null;uniqueIndex" json:"alias"`
}

const knownBankAliasCacheKey = "knownBankAliasMap"

// NormalizeBankAlias folds a raw extracted bank name into the alias-table key
// form: upper case, single spaces, no surrounding punctuation.
func NormalizeBankAlias(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.Trim(s, ".,;:")
	return strings.Join(strings.Fields(s), " ")
}

// ResolveBankDisplayName looks a raw name up against the known-banks table.
// The alias map is cached in redis; a cache miss falls back to the DB
// (same pattern as the transaction-prefix cache).
func ResolveBankDisplayName(ctx context.Context, rawName string) (string, bool) {
	key := NormalizeBankAlias(rawName)
	if key == "" {
		return "", false
	}

	aliasMap := make(map[string]string) // normalized alias => display name
	exists, err := config.GetRedisObject(knownBankAliasCacheKey, &aliasMap)
	if err != nil || !exists {
		aliasMap, err = loadAliasMap(ctx)
		if err != nil {
			config.LogError(config.GetLogger(), "knownBank.go", "ResolveBankDisplayName", "loadAliasMap", rawName, err)
			return "", false
		}
		if err := config.SetRedisObject(knownBankAliasCacheKey, &aliasMap, time.Hour); err != nil {
			config.LogError(config.GetLogger(), "knownBank.go", "ResolveBankDisplayName", "SetRedisObject", knownBankAliasCacheKey, err)
		}
	}

	display, ok := aliasMap[key]
	return display, ok
}

func loadAliasMap(ctx context.Context) (map[string]string, error) {
	db := config.GetDB()

	var banks []KnownBank
	if err := db.WithContext(ctx).Preload("Aliases").Find(&banks).Error; err != nil {
		return nil, err
	}

	aliasMap := make(map[string]string, len(banks)*3)
	for _, kb := range banks {
		aliasMap[NormalizeBankAlias(kb.DisplayName)] = kb.DisplayName
		for _, a := range kb.Aliases {
			aliasMap[NormalizeBankAlias(a.Alias)] = kb.DisplayName
		}
	}
	return aliasMap, nil
}

// ListKnownBankNames returns the display names for extraction prompts.
func ListKnownBankNames(ctx context.Context) ([]string, error) {
	db := config.GetDB()

	names := make([]string, 0)
	err := db.WithContext(ctx).Model(&KnownBank{}).
		Order("display_name ASC").
		Pluck("display_name", &names).Error
	if err != nil {
		return nil, err
	}
	return names, nil
}

// SeedKnownBanks inserts the starter reference list. Existing display names
// are left untouched, so re-running the seeder is safe.
func SeedKnownBanks(ctx context.Context) error {
	db := config.GetDB()

	seed := map[string][]string{
		"HSBC":            {"HSBC UK", "HSBC BANK PLC", "HSBC UK BANK PLC"},
		"Barclays":        {"BARCLAYS BANK", "BARCLAYS BANK UK PLC", "BARCLAYS PLC"},
		"Lloyds":          {"LLOYDS BANK", "LLOYDS BANK PLC", "LLOYDS TSB"},
		"NatWest":         {"NATIONAL WESTMINSTER BANK", "NATWEST BANK", "NATIONAL WESTMINSTER BANK PLC"},
		"Santander":       {"SANTANDER UK", "SANTANDER UK PLC"},
		"Monzo":           {"MONZO BANK", "MONZO BANK LTD"},
		"Starling":        {"STARLING BANK", "STARLING BANK LIMITED"},
		"Revolut":         {"REVOLUT LTD", "REVOLUT BANK UAB"},
		"Halifax":         {"HALIFAX BANK", "HALIFAX PLC"},
		"Nationwide":      {"NATIONWIDE BUILDING SOCIETY"},
		"Metro Bank":      {"METRO BANK PLC"},
		"TSB":             {"TSB BANK", "TSB BANK PLC"},
		"Co-operative":    {"THE CO-OPERATIVE BANK", "CO-OP BANK", "THE CO-OPERATIVE BANK PLC"},
		"Standard Chartered": {"STANDARD CHARTERED BANK"},
	}

	for displayName, aliases := range seed {
		var kb KnownBank
		err := db.WithContext(ctx).Where("display_name = ?", displayName).First(&kb).Error
		if err == nil {
			continue
		}
		kb = KnownBank{DisplayName: displayName}
		for _, a := range aliases {
			kb.Aliases = append(kb.Aliases, KnownBankAlias{Alias: NormalizeBankAlias(a)})
		}
		if err := db.WithContext(ctx).Create(&kb).Error; err != nil {
			return err
		}
	}

	// Force the resolver to pick up the new rows.
	return config.RemoveRedisKey(knownBankAliasCacheKey)
}
