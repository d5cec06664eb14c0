package models

// ValidationStatus records the outcome of the automatic balance check.
type ValidationStatus string

const (
	ValidationStatusPending ValidationStatus = "pending"
	ValidationStatusPassed  ValidationStatus = "passed"
	ValidationStatusFailed  ValidationStatus = "failed"
)

// PersistAction is the decision taken for one merged statement.
type PersistAction string

const (
	PersistActionCreateNew            PersistAction = "CREATE_NEW"
	PersistActionAddToExistingBank    PersistAction = "ADD_TO_EXISTING_BANK"
	PersistActionSkipDuplicate        PersistAction = "SKIP_DUPLICATE"
	PersistActionMergeDifferentPeriod PersistAction = "MERGE_DIFFERENT_PERIOD"
)
