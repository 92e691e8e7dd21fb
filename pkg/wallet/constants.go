package wallet

const (
	operationCreateWallet   = "create_wallet"
	operationRecordMovement = "record_movement"
	operationQuoteBurn      = "quote_burn"
	operationConfirmBurn    = "confirm_burn"
	operationUpsertSettings = "upsert_settings"
	operationUnlock         = "unlock"
	operationExpire         = "expire"
	operationNotify         = "notify_burn"
	operationAudit          = "audit"

	systemActor = "system"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	// SourceTypeBurnRule marks entries created by the quote flow.
	SourceTypeBurnRule = "burn_rule"
	// SourceTypeCoupon marks entries created while redeeming a coupon.
	SourceTypeCoupon = "coupon"
	// SourceTypeLedgerEntry marks expire entries pointing at the cohort they retire.
	SourceTypeLedgerEntry = "ledger_entry"

	annualDateLayout   = "01-02"
	percentDenominator = 100

	defaultSweepBatchSize = 500
)
