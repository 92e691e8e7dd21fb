package httpapi

import (
	"encoding/json"
	"time"

	"github.com/MarkoPoloResearchLab/pointswallet/internal/scheduler"
	"github.com/MarkoPoloResearchLab/pointswallet/pkg/wallet"
	"github.com/shopspring/decimal"
)

type createWalletRequest struct {
	TenantID       string `json:"tenant_id"`
	BusinessUnitID string `json:"business_unit_id"`
	CustomerID     string `json:"customer_id"`
}

type movementRequest struct {
	BusinessUnitID string          `json:"business_unit_id"`
	Type           string          `json:"type"`
	Status         string          `json:"status"`
	Amount         decimal.Decimal `json:"amount"`
	CouponCode     string          `json:"coupon_code"`
	ExpiryDate     *time.Time      `json:"expiry_date"`
	SourceType     string          `json:"source_type"`
	SourceID       string          `json:"source_id"`
	Description    string          `json:"description"`
	Metadata       json.RawMessage `json:"metadata"`
}

type quoteRequest struct {
	TenantID       string          `json:"tenant_id"`
	BusinessUnitID string          `json:"business_unit_id"`
	CustomerID     string          `json:"customer_id"`
	Phone          string          `json:"phone"`
	SpendAmount    decimal.Decimal `json:"spend_amount"`
	Language       string          `json:"language"`
}

type confirmRequest struct {
	BusinessUnitID string          `json:"business_unit_id"`
	BurnPoints     decimal.Decimal `json:"burn_points"`
}

type settingsRequest struct {
	PendingMethod        string `json:"pending_method"`
	PendingDays          int    `json:"pending_days"`
	ExpirationMethod     string `json:"expiration_method"`
	ExpirationValue      string `json:"expiration_value"`
	AllowNegativeBalance bool   `json:"allow_negative_balance"`
}

type maintenanceRequest struct {
	AsOf *time.Time `json:"as_of"`
}

type walletPayload struct {
	WalletID         string          `json:"wallet_id"`
	TenantID         string          `json:"tenant_id"`
	BusinessUnitID   string          `json:"business_unit_id"`
	CustomerID       string          `json:"customer_id"`
	TotalBalance     decimal.Decimal `json:"total_balance"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	LockedBalance    decimal.Decimal `json:"locked_balance"`
	PointsBurned     decimal.Decimal `json:"points_burned"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type entryPayload struct {
	EntryID             string          `json:"entry_id"`
	WalletID            string          `json:"wallet_id"`
	BusinessUnitID      string          `json:"business_unit_id"`
	CustomerID          string          `json:"customer_id,omitempty"`
	Type                string          `json:"type"`
	Status              string          `json:"status"`
	Amount              decimal.Decimal `json:"amount"`
	PrevAvailablePoints decimal.Decimal `json:"prev_available_points"`
	PointBalance        decimal.Decimal `json:"point_balance"`
	UnlockDate          *time.Time      `json:"unlock_date,omitempty"`
	ExpiryDate          *time.Time      `json:"expiry_date,omitempty"`
	SourceType          string          `json:"source_type,omitempty"`
	SourceID            string          `json:"source_id,omitempty"`
	Description         string          `json:"description,omitempty"`
	Metadata            json.RawMessage `json:"metadata"`
	CreatedAt           time.Time       `json:"created_at"`
}

type quotePayload struct {
	EntryID            string          `json:"entry_id"`
	WalletID           string          `json:"wallet_id"`
	RuleID             string          `json:"rule_id"`
	RuleName           string          `json:"rule_name"`
	SpendAmount        decimal.Decimal `json:"spend_amount"`
	Points             decimal.Decimal `json:"points"`
	Discount           decimal.Decimal `json:"discount"`
	MaxAllowedDiscount decimal.Decimal `json:"max_allowed_discount"`
}

type burnPayload struct {
	EntryID          string          `json:"entry_id"`
	WalletID         string          `json:"wallet_id"`
	SpendAmount      decimal.Decimal `json:"spend_amount"`
	FinalAmount      decimal.Decimal `json:"final_amount"`
	PointsBurned     decimal.Decimal `json:"points_burned"`
	Discount         decimal.Decimal `json:"discount"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
}

type settingsPayload struct {
	BusinessUnitID       string    `json:"business_unit_id"`
	PendingMethod        string    `json:"pending_method"`
	PendingDays          int       `json:"pending_days"`
	ExpirationMethod     string    `json:"expiration_method"`
	ExpirationValue      string    `json:"expiration_value"`
	AllowNegativeBalance bool      `json:"allow_negative_balance"`
	UpdatedAt            time.Time `json:"updated_at"`
}

type sweepPayload struct {
	Job       string          `json:"job"`
	AsOf      time.Time       `json:"as_of"`
	Scanned   int             `json:"scanned"`
	Processed int             `json:"processed"`
	Skipped   int             `json:"skipped"`
	Failed    int             `json:"failed"`
	Points    decimal.Decimal `json:"points"`
	Error     string          `json:"error,omitempty"`
}

func newWalletPayload(record wallet.Wallet) walletPayload {
	return walletPayload{
		WalletID:         record.ID.String(),
		TenantID:         record.TenantID.String(),
		BusinessUnitID:   record.BusinessUnitID.String(),
		CustomerID:       record.CustomerID.String(),
		TotalBalance:     record.TotalBalance,
		AvailableBalance: record.AvailableBalance,
		LockedBalance:    record.LockedBalance,
		PointsBurned:     record.PointsBurned,
		CreatedAt:        record.CreatedAt,
		UpdatedAt:        record.UpdatedAt,
	}
}

func newEntryPayload(entry wallet.Entry) entryPayload {
	return entryPayload{
		EntryID:             entry.ID.String(),
		WalletID:            entry.WalletID.String(),
		BusinessUnitID:      entry.BusinessUnitID.String(),
		CustomerID:          entry.CustomerID.String(),
		Type:                entry.Type.String(),
		Status:              entry.Status.String(),
		Amount:              entry.Amount,
		PrevAvailablePoints: entry.PrevAvailablePoints,
		PointBalance:        entry.PointBalance,
		UnlockDate:          entry.UnlockDate,
		ExpiryDate:          entry.ExpiryDate,
		SourceType:          entry.SourceType,
		SourceID:            entry.SourceID,
		Description:         entry.Description,
		Metadata:            json.RawMessage(entry.Metadata.String()),
		CreatedAt:           entry.CreatedAt,
	}
}

func newSettingsPayload(settings wallet.Settings) settingsPayload {
	return settingsPayload{
		BusinessUnitID:       settings.BusinessUnitID.String(),
		PendingMethod:        string(settings.PendingMethod),
		PendingDays:          settings.PendingDays,
		ExpirationMethod:     string(settings.ExpirationMethod),
		ExpirationValue:      settings.ExpirationValue,
		AllowNegativeBalance: settings.AllowNegativeBalance,
		UpdatedAt:            settings.UpdatedAt,
	}
}

func newSweepPayload(result scheduler.Result) sweepPayload {
	payload := sweepPayload{
		Job:       result.Job,
		AsOf:      result.AsOf,
		Scanned:   result.Report.Scanned,
		Processed: result.Report.Processed,
		Skipped:   result.Report.Skipped,
		Failed:    result.Report.Failed,
		Points:    result.Report.Points,
	}
	if result.Err != nil {
		payload.Error = result.Err.Error()
	}
	return payload
}
