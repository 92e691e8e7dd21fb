package gormstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Wallet represents the wallets table.
type Wallet struct {
	ID               string          `gorm:"type:uuid;primaryKey"`
	TenantID         string          `gorm:"not null;index:idx_wallets_tenant_unit_customer,unique,priority:1"`
	BusinessUnitID   string          `gorm:"not null;index:idx_wallets_tenant_unit_customer,unique,priority:2"`
	CustomerID       string          `gorm:"not null;index:idx_wallets_tenant_unit_customer,unique,priority:3"`
	TotalBalance     decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	AvailableBalance decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	LockedBalance    decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	PointsBurned     decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	Version          int64           `gorm:"not null"`
	CreatedAt        time.Time       `gorm:"not null"`
	UpdatedAt        time.Time       `gorm:"not null"`
}

func (Wallet) TableName() string { return "wallets" }

func (wallet *Wallet) BeforeCreate(tx *gorm.DB) error {
	if wallet.ID == "" {
		wallet.ID = uuid.NewString()
	}
	return nil
}

// WalletEntry mirrors the wallet_entries table.
type WalletEntry struct {
	ID                  string          `gorm:"type:uuid;primaryKey"`
	WalletID            string          `gorm:"type:uuid;not null;index:idx_entries_wallet_created,priority:1"`
	BusinessUnitID      string          `gorm:"not null"`
	CustomerID          string          `gorm:""`
	Type                string          `gorm:"not null"`
	Status              string          `gorm:"not null;index:idx_entries_status_unlock,priority:1;index:idx_entries_status_expiry,priority:1"`
	Amount              decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	PrevAvailablePoints decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	PointBalance        decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	UnlockDate          *time.Time      `gorm:"index:idx_entries_status_unlock,priority:2"`
	ExpiryDate          *time.Time      `gorm:"index:idx_entries_status_expiry,priority:2"`
	SourceType          string          `gorm:""`
	SourceID            string          `gorm:""`
	Description         string          `gorm:""`
	Metadata            datatypes.JSON  `gorm:"type:jsonb;not null"`
	CreatedAt           time.Time       `gorm:"not null;index:idx_entries_wallet_created,priority:2"`
	UpdatedAt           time.Time       `gorm:"not null"`
}

func (WalletEntry) TableName() string { return "wallet_entries" }

func (entry *WalletEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	return nil
}

// WalletSettings mirrors the wallet_settings table.
type WalletSettings struct {
	BusinessUnitID       string    `gorm:"primaryKey"`
	PendingMethod        string    `gorm:"not null"`
	PendingDays          int       `gorm:"not null"`
	ExpirationMethod     string    `gorm:"not null"`
	ExpirationValue      string    `gorm:""`
	AllowNegativeBalance bool      `gorm:"not null"`
	UpdatedAt            time.Time `gorm:"not null"`
}

func (WalletSettings) TableName() string { return "wallet_settings" }

// BurnRule mirrors the burn_rules table.
type BurnRule struct {
	ID                       string          `gorm:"primaryKey"`
	TenantID                 string          `gorm:"not null;index:idx_burn_rules_scope,priority:1"`
	BusinessUnitID           string          `gorm:"not null;index:idx_burn_rules_scope,priority:2"`
	Name                     string          `gorm:"not null"`
	Language                 string          `gorm:""`
	MinAmountSpent           decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	MaxRedemptionPointsLimit decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	PointsConversionFactor   decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	MaxBurnPercentOnInvoice  decimal.Decimal `gorm:"type:numeric(7,4);not null"`
	Active                   bool            `gorm:"not null"`
	Priority                 int             `gorm:"not null"`
	CreatedAt                time.Time       `gorm:"not null"`
}

func (BurnRule) TableName() string { return "burn_rules" }

func (rule *BurnRule) BeforeCreate(tx *gorm.DB) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	return nil
}

// Coupon mirrors the coupons table.
type Coupon struct {
	ID             string     `gorm:"primaryKey"`
	BusinessUnitID string     `gorm:"not null;index:idx_coupons_unit_code,unique,priority:1"`
	Code           string     `gorm:"not null;index:idx_coupons_unit_code,unique,priority:2"`
	Redeemed       bool       `gorm:"not null"`
	RedeemedAt     *time.Time `gorm:""`
	ExpiresAt      *time.Time `gorm:""`
	CreatedAt      time.Time  `gorm:"not null"`
}

func (Coupon) TableName() string { return "coupons" }

func (coupon *Coupon) BeforeCreate(tx *gorm.DB) error {
	if coupon.ID == "" {
		coupon.ID = uuid.NewString()
	}
	return nil
}

// Customer mirrors the customers table.
type Customer struct {
	ID                   string    `gorm:"primaryKey"`
	TenantID             string    `gorm:"not null;index:idx_customers_scope_phone,priority:1"`
	BusinessUnitID       string    `gorm:"not null;index:idx_customers_scope_phone,priority:2"`
	Phone                string    `gorm:"index:idx_customers_scope_phone,priority:3"`
	Language             string    `gorm:""`
	NotificationsEnabled bool      `gorm:"not null"`
	CreatedAt            time.Time `gorm:"not null"`
}

func (Customer) TableName() string { return "customers" }

// AuditEvent mirrors the audit_events table.
type AuditEvent struct {
	ID             string         `gorm:"type:uuid;primaryKey"`
	Operation      string         `gorm:"not null"`
	Actor          string         `gorm:""`
	BusinessUnitID string         `gorm:"index"`
	WalletID       string         `gorm:"index"`
	EntryID        string         `gorm:""`
	Payload        datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt      time.Time      `gorm:"not null"`
}

func (AuditEvent) TableName() string { return "audit_events" }

func (event *AuditEvent) BeforeCreate(tx *gorm.DB) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	return nil
}

// Models lists every table the store reads or writes, in migration order.
func Models() []any {
	return []any{&Wallet{}, &WalletEntry{}, &WalletSettings{}, &BurnRule{}, &Coupon{}, &Customer{}, &AuditEvent{}}
}
