package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// WalletID identifies a wallet.
type WalletID struct {
	value string
}

// EntryID identifies a ledger entry.
type EntryID struct {
	value string
}

// TenantID identifies the owning tenant.
type TenantID struct {
	value string
}

// BusinessUnitID identifies a business unit inside a tenant.
type BusinessUnitID struct {
	value string
}

// CustomerID identifies a loyalty customer.
type CustomerID struct {
	value string
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// NewWalletID validates and normalizes a wallet id.
func NewWalletID(raw string) (WalletID, error) {
	value, err := normalizeIdentifier(raw, ErrInvalidWalletID)
	return WalletID{value: value}, err
}

// String returns the normalized identifier.
func (id WalletID) String() string {
	return id.value
}

// NewEntryID validates and normalizes an entry id.
func NewEntryID(raw string) (EntryID, error) {
	value, err := normalizeIdentifier(raw, ErrInvalidEntryID)
	return EntryID{value: value}, err
}

// String returns the normalized identifier.
func (id EntryID) String() string {
	return id.value
}

// NewTenantID validates and normalizes a tenant id.
func NewTenantID(raw string) (TenantID, error) {
	value, err := normalizeIdentifier(raw, ErrInvalidTenantID)
	return TenantID{value: value}, err
}

// String returns the normalized identifier.
func (id TenantID) String() string {
	return id.value
}

// IsZero reports whether the id was left unset.
func (id TenantID) IsZero() bool {
	return id.value == ""
}

// NewBusinessUnitID validates and normalizes a business unit id.
func NewBusinessUnitID(raw string) (BusinessUnitID, error) {
	value, err := normalizeIdentifier(raw, ErrInvalidBusinessUnitID)
	return BusinessUnitID{value: value}, err
}

// String returns the normalized identifier.
func (id BusinessUnitID) String() string {
	return id.value
}

// IsZero reports whether the id was left unset.
func (id BusinessUnitID) IsZero() bool {
	return id.value == ""
}

// NewCustomerID validates and normalizes a customer id.
func NewCustomerID(raw string) (CustomerID, error) {
	value, err := normalizeIdentifier(raw, ErrInvalidCustomerID)
	return CustomerID{value: value}, err
}

// String returns the normalized identifier.
func (id CustomerID) String() string {
	return id.value
}

// IsZero reports whether the id was left unset.
func (id CustomerID) IsZero() bool {
	return id.value == ""
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// NewPositivePoints validates that an amount is strictly positive.
func NewPositivePoints(raw decimal.Decimal) (decimal.Decimal, error) {
	if !raw.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return raw, nil
}

func normalizeIdentifier(raw string, sentinel error) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty value", sentinel)
	}
	return trimmed, nil
}

// EntryType enumerates ledger movement kinds.
type EntryType string

const (
	EntryEarn       EntryType = "earn"
	EntryBurn       EntryType = "burn"
	EntryExpire     EntryType = "expire"
	EntryAdjustment EntryType = "adjustment"
	EntryOrder      EntryType = "order"
)

// ParseEntryType validates a raw entry type.
func ParseEntryType(raw string) (EntryType, error) {
	switch EntryType(strings.ToLower(strings.TrimSpace(raw))) {
	case EntryEarn:
		return EntryEarn, nil
	case EntryBurn:
		return EntryBurn, nil
	case EntryExpire:
		return EntryExpire, nil
	case EntryAdjustment:
		return EntryAdjustment, nil
	case EntryOrder:
		return EntryOrder, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEntryType, raw)
}

// String returns the stored representation.
func (entryType EntryType) String() string {
	return string(entryType)
}

// EntryStatus defines the ledger entry lifecycle.
type EntryStatus string

const (
	StatusNotConfirmed EntryStatus = "not_confirmed"
	StatusPending      EntryStatus = "pending"
	StatusActive       EntryStatus = "active"
	StatusExpired      EntryStatus = "expired"
)

// ParseEntryStatus validates a raw entry status. Empty input yields an empty status.
func ParseEntryStatus(raw string) (EntryStatus, error) {
	switch EntryStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case "":
		return "", nil
	case StatusNotConfirmed:
		return StatusNotConfirmed, nil
	case StatusPending:
		return StatusPending, nil
	case StatusActive:
		return StatusActive, nil
	case StatusExpired:
		return StatusExpired, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEntryStatus, raw)
}

// String returns the stored representation.
func (status EntryStatus) String() string {
	return string(status)
}

// Wallet is the balance record for one customer in one business unit.
type Wallet struct {
	ID               WalletID
	TenantID         TenantID
	BusinessUnitID   BusinessUnitID
	CustomerID       CustomerID
	TotalBalance     decimal.Decimal
	AvailableBalance decimal.Decimal
	LockedBalance    decimal.Decimal
	PointsBurned     decimal.Decimal
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Consistent reports whether total equals available plus locked.
func (wallet Wallet) Consistent() bool {
	return wallet.TotalBalance.Equal(wallet.AvailableBalance.Add(wallet.LockedBalance))
}

func (wallet Wallet) credit(amount decimal.Decimal) Wallet {
	wallet.TotalBalance = wallet.TotalBalance.Add(amount)
	wallet.AvailableBalance = wallet.AvailableBalance.Add(amount)
	return wallet
}

func (wallet Wallet) debit(amount decimal.Decimal) Wallet {
	wallet.TotalBalance = wallet.TotalBalance.Sub(amount)
	wallet.AvailableBalance = wallet.AvailableBalance.Sub(amount)
	return wallet
}

func (wallet Wallet) lock(amount decimal.Decimal) Wallet {
	wallet.TotalBalance = wallet.TotalBalance.Add(amount)
	wallet.LockedBalance = wallet.LockedBalance.Add(amount)
	return wallet
}

func (wallet Wallet) unlock(amount decimal.Decimal) Wallet {
	wallet.LockedBalance = wallet.LockedBalance.Sub(amount)
	wallet.AvailableBalance = wallet.AvailableBalance.Add(amount)
	return wallet
}

// Entry is one recorded point movement.
type Entry struct {
	ID                  EntryID
	WalletID            WalletID
	BusinessUnitID      BusinessUnitID
	CustomerID          CustomerID
	Type                EntryType
	Status              EntryStatus
	Amount              decimal.Decimal
	PrevAvailablePoints decimal.Decimal
	// PointBalance is the redeemed point count for quote-flow burns and the
	// available balance after the movement for everything else.
	PointBalance decimal.Decimal
	UnlockDate   *time.Time
	ExpiryDate   *time.Time
	SourceType   string
	SourceID     string
	Description  string
	Metadata     MetadataJSON
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EntryTransition moves an entry between statuses with a compare-and-set guard.
type EntryTransition struct {
	EntryID             EntryID
	From                EntryStatus
	To                  EntryStatus
	PrevAvailablePoints *decimal.Decimal
	PointBalance        *decimal.Decimal
	At                  time.Time
}

// Coupon is a redeemable code referenced by a movement.
type Coupon struct {
	ID             string
	Code           string
	BusinessUnitID BusinessUnitID
	Redeemed       bool
	ExpiresAt      *time.Time
}

// Customer is the resolved loyalty customer.
type Customer struct {
	ID                   CustomerID
	TenantID             TenantID
	BusinessUnitID       BusinessUnitID
	Phone                string
	Language             string
	NotificationsEnabled bool
}

// CustomerLookup identifies a customer by id or phone number.
type CustomerLookup struct {
	TenantID       TenantID
	BusinessUnitID BusinessUnitID
	CustomerID     CustomerID
	Phone          string
}

// Actor is the caller on whose behalf an operation runs.
type Actor struct {
	Subject string
	Token   string
}

// Notification describes a user-facing message emitted after a burn.
type Notification struct {
	TenantID       TenantID
	BusinessUnitID BusinessUnitID
	CustomerID     CustomerID
	Phone          string
	Language       string
	EntryID        EntryID
	PointsBurned   decimal.Decimal
	Discount       decimal.Decimal
	FinalAmount    decimal.Decimal
	Available      decimal.Decimal
	CreatedAt      time.Time
}

// AuditEvent is emitted after every committed mutation.
type AuditEvent struct {
	Operation      string
	Actor          string
	BusinessUnitID BusinessUnitID
	WalletID       WalletID
	EntryID        EntryID
	Payload        map[string]any
	At             time.Time
}

// WalletFilter narrows ListWallets. A zero BusinessUnitID lists every business unit.
type WalletFilter struct {
	TenantID       TenantID
	BusinessUnitID BusinessUnitID
	Limit          int
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	CreateWallet(ctx context.Context, wallet Wallet) (Wallet, error)
	FindWallet(ctx context.Context, tenantID TenantID, businessUnitID BusinessUnitID, customerID CustomerID) (Wallet, error)
	GetWallet(ctx context.Context, walletID WalletID) (Wallet, error)
	LockWallet(ctx context.Context, walletID WalletID) (Wallet, error)
	UpdateWallet(ctx context.Context, wallet Wallet) (Wallet, error)
	ListWallets(ctx context.Context, filter WalletFilter) ([]Wallet, error)
	InsertEntry(ctx context.Context, entry Entry) (Entry, error)
	LockEntry(ctx context.Context, entryID EntryID) (Entry, error)
	TransitionEntry(ctx context.Context, transition EntryTransition) error
	ListEntries(ctx context.Context, walletID WalletID, before time.Time, limit int) ([]Entry, error)
	ListDueUnlocks(ctx context.Context, asOf time.Time, limit int) ([]Entry, error)
	ListDueExpiries(ctx context.Context, asOf time.Time, limit int) ([]Entry, error)
	SumCreditsBetween(ctx context.Context, walletID WalletID, after time.Time, through time.Time, excludeEntryID EntryID) (decimal.Decimal, error)
	GetSettings(ctx context.Context, businessUnitID BusinessUnitID) (Settings, error)
	UpsertSettings(ctx context.Context, settings Settings) (Settings, error)
	LockCoupon(ctx context.Context, businessUnitID BusinessUnitID, code string) (Coupon, error)
	MarkCouponRedeemed(ctx context.Context, couponID string, at time.Time) error
}

// AccessChecker decides whether an actor may write ledger entries for a business unit.
type AccessChecker interface {
	CheckAccess(ctx context.Context, actor Actor, businessUnitID BusinessUnitID) (bool, error)
}

// CustomerResolver maps an external customer reference to a customer.
type CustomerResolver interface {
	ResolveCustomer(ctx context.Context, lookup CustomerLookup) (Customer, error)
}

// RuleLookup returns burn rules in evaluation order.
type RuleLookup interface {
	ActiveBurnRules(ctx context.Context, tenantID TenantID, businessUnitID BusinessUnitID, language string) ([]BurnRule, error)
	BurnRule(ctx context.Context, ruleID string) (BurnRule, error)
}

// NotificationDispatcher hands a notification to an outbound queue. It must not block.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, notification Notification) error
}

// AuditSink receives audit events after successful mutations.
type AuditSink interface {
	RecordAudit(ctx context.Context, event AuditEvent) error
}
