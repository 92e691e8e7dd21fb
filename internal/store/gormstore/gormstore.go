package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/pointswallet/pkg/wallet"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultMetadataJSON   = "{}"
	defaultListLimit      = 100
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	errorOperationStore   = "store"
	errorSubjectWallet    = "wallet"
	errorSubjectEntry     = "entry"
	errorSubjectSettings  = "settings"
	errorSubjectCoupon    = "coupon"
	errorSubjectCustomer  = "customer"
	errorSubjectRule      = "rule"
	errorSubjectAudit     = "audit"
	errorCodeCreate       = "create"
	errorCodeDuplicate    = "duplicate"
	errorCodeGet          = "get"
	errorCodeLock         = "lock"
	errorCodeInsert       = "insert"
	errorCodeInvalid      = "invalid"
	errorCodeList         = "list"
	errorCodeLookup       = "lookup"
	errorCodeSumCredits   = "sum_credits"
	errorCodeUpdate       = "update"
	errorCodeUpdateStatus = "update_status"
	errorCodeUpsert       = "upsert"
)

// Store implements wallet.Store using GORM. It also serves customer, burn
// rule and audit lookups for standalone deployments.
type Store struct {
	db *gorm.DB
}

var (
	_ wallet.Store            = (*Store)(nil)
	_ wallet.RuleLookup       = (*Store)(nil)
	_ wallet.CustomerResolver = (*Store)(nil)
)

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates every table the store uses.
func Migrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(Models()...)
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wallet.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) CreateWallet(ctx context.Context, walletRecord wallet.Wallet) (wallet.Wallet, error) {
	model := Wallet{
		TenantID:         walletRecord.TenantID.String(),
		BusinessUnitID:   walletRecord.BusinessUnitID.String(),
		CustomerID:       walletRecord.CustomerID.String(),
		TotalBalance:     walletRecord.TotalBalance,
		AvailableBalance: walletRecord.AvailableBalance,
		LockedBalance:    walletRecord.LockedBalance,
		PointsBurned:     walletRecord.PointsBurned,
		Version:          1,
		CreatedAt:        walletRecord.CreatedAt,
		UpdatedAt:        walletRecord.UpdatedAt,
	}
	// The savepoint keeps an enclosing postgres transaction usable after a conflict.
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return transaction.Create(&model).Error
	})
	if isUniqueConflict(err) {
		return wallet.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeDuplicate, wallet.ErrWalletExists)
	}
	if err != nil {
		return wallet.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeCreate, err)
	}
	return mapWallet(model)
}

func (store *Store) FindWallet(ctx context.Context, tenantID wallet.TenantID, businessUnitID wallet.BusinessUnitID, customerID wallet.CustomerID) (wallet.Wallet, error) {
	var model Wallet
	err := store.db.WithContext(ctx).
		Where("tenant_id = ? AND business_unit_id = ? AND customer_id = ?", tenantID.String(), businessUnitID.String(), customerID.String()).
		Take(&model).Error
	if err != nil {
		return wallet.Wallet{}, walletLookupError(errorCodeLookup, err)
	}
	return mapWallet(model)
}

func (store *Store) GetWallet(ctx context.Context, walletID wallet.WalletID) (wallet.Wallet, error) {
	var model Wallet
	err := store.db.WithContext(ctx).Where("id = ?", walletID.String()).Take(&model).Error
	if err != nil {
		return wallet.Wallet{}, walletLookupError(errorCodeGet, err)
	}
	return mapWallet(model)
}

// LockWallet loads the wallet with a row lock held until the transaction ends.
func (store *Store) LockWallet(ctx context.Context, walletID wallet.WalletID) (wallet.Wallet, error) {
	var model Wallet
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", walletID.String()).
		Take(&model).Error
	if err != nil {
		return wallet.Wallet{}, walletLookupError(errorCodeLock, err)
	}
	return mapWallet(model)
}

// UpdateWallet writes the balances when the stored version still matches.
func (store *Store) UpdateWallet(ctx context.Context, walletRecord wallet.Wallet) (wallet.Wallet, error) {
	if !walletRecord.Consistent() {
		return wallet.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeInvalid, wallet.ErrInvalidBalance)
	}
	updatedAt := walletRecord.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	result := store.db.WithContext(ctx).
		Model(&Wallet{}).
		Where("id = ? AND version = ?", walletRecord.ID.String(), walletRecord.Version).
		Updates(map[string]interface{}{
			"total_balance":     walletRecord.TotalBalance,
			"available_balance": walletRecord.AvailableBalance,
			"locked_balance":    walletRecord.LockedBalance,
			"points_burned":     walletRecord.PointsBurned,
			"version":           walletRecord.Version + 1,
			"updated_at":        updatedAt,
		})
	if result.Error != nil {
		return wallet.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wallet.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeUpdate, wallet.ErrConcurrentUpdate)
	}
	walletRecord.Version++
	walletRecord.UpdatedAt = updatedAt
	return walletRecord, nil
}

func (store *Store) ListWallets(ctx context.Context, filter wallet.WalletFilter) ([]wallet.Wallet, error) {
	query := store.db.WithContext(ctx).Model(&Wallet{})
	if !filter.TenantID.IsZero() {
		query = query.Where("tenant_id = ?", filter.TenantID.String())
	}
	if !filter.BusinessUnitID.IsZero() {
		query = query.Where("business_unit_id = ?", filter.BusinessUnitID.String())
	}
	var rows []Wallet
	if err := query.Order("created_at ASC").Limit(limitOrDefault(filter.Limit)).Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectWallet, errorCodeList, err)
	}
	wallets := make([]wallet.Wallet, 0, len(rows))
	for _, row := range rows {
		walletRecord, err := mapWallet(row)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, walletRecord)
	}
	return wallets, nil
}

func (store *Store) InsertEntry(ctx context.Context, entry wallet.Entry) (wallet.Entry, error) {
	model := WalletEntry{
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
		Metadata:            datatypesJSON(entry.Metadata.String()),
		CreatedAt:           entry.CreatedAt,
		UpdatedAt:           entry.UpdatedAt,
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	if model.UpdatedAt.IsZero() {
		model.UpdatedAt = model.CreatedAt
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wallet.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return mapEntry(model)
}

// LockEntry loads an entry with a row lock held until the transaction ends.
func (store *Store) LockEntry(ctx context.Context, entryID wallet.EntryID) (wallet.Entry, error) {
	var model WalletEntry
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", entryID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return wallet.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeLock, wallet.ErrEntryNotFound)
		}
		return wallet.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeLock, err)
	}
	return mapEntry(model)
}

// TransitionEntry moves an entry from one status to another. It fails with
// wallet.ErrAlreadyProcessed when the entry has left the expected status.
func (store *Store) TransitionEntry(ctx context.Context, transition wallet.EntryTransition) error {
	updates := map[string]interface{}{
		"status":     transition.To.String(),
		"updated_at": transition.At,
	}
	if transition.PrevAvailablePoints != nil {
		updates["prev_available_points"] = *transition.PrevAvailablePoints
	}
	if transition.PointBalance != nil {
		updates["point_balance"] = *transition.PointBalance
	}
	result := store.db.WithContext(ctx).
		Model(&WalletEntry{}).
		Where("id = ? AND status = ?", transition.EntryID.String(), transition.From.String()).
		Updates(updates)
	if result.Error != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}
	var count int64
	if err := store.db.WithContext(ctx).Model(&WalletEntry{}).Where("id = ?", transition.EntryID.String()).Count(&count).Error; err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeUpdateStatus, err)
	}
	if count == 0 {
		return wrapStoreError(errorSubjectEntry, errorCodeUpdateStatus, wallet.ErrEntryNotFound)
	}
	return wrapStoreError(errorSubjectEntry, errorCodeUpdateStatus, wallet.ErrAlreadyProcessed)
}

func (store *Store) ListEntries(ctx context.Context, walletID wallet.WalletID, before time.Time, limit int) ([]wallet.Entry, error) {
	if before.IsZero() {
		before = time.Now().UTC().Add(time.Second)
	}
	var rows []WalletEntry
	err := store.db.WithContext(ctx).
		Where("wallet_id = ? AND created_at < ?", walletID.String(), before).
		Order("created_at DESC").
		Limit(limitOrDefault(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return mapEntries(rows)
}

// ListDueUnlocks returns pending earn entries whose unlock date is on or before asOf.
func (store *Store) ListDueUnlocks(ctx context.Context, asOf time.Time, limit int) ([]wallet.Entry, error) {
	var rows []WalletEntry
	err := store.db.WithContext(ctx).
		Where("type = ? AND status = ? AND unlock_date IS NOT NULL AND unlock_date <= ?", wallet.EntryEarn.String(), wallet.StatusPending.String(), asOf).
		Order("unlock_date ASC").
		Order("created_at ASC").
		Limit(limitOrDefault(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return mapEntries(rows)
}

// ListDueExpiries returns active earn entries whose expiry date is on or before asOf, oldest expiry first.
func (store *Store) ListDueExpiries(ctx context.Context, asOf time.Time, limit int) ([]wallet.Entry, error) {
	var rows []WalletEntry
	err := store.db.WithContext(ctx).
		Where("type = ? AND status = ? AND expiry_date IS NOT NULL AND expiry_date <= ?", wallet.EntryEarn.String(), wallet.StatusActive.String(), asOf).
		Order("expiry_date ASC").
		Order("created_at ASC").
		Limit(limitOrDefault(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return mapEntries(rows)
}

// SumCreditsBetween totals active positive earn and adjustment credits created
// strictly between after and through.
func (store *Store) SumCreditsBetween(ctx context.Context, walletID wallet.WalletID, after time.Time, through time.Time, excludeEntryID wallet.EntryID) (decimal.Decimal, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&WalletEntry{}).
		Select("coalesce(sum(amount),0) as total").
		Where("wallet_id = ? AND id <> ?", walletID.String(), excludeEntryID.String()).
		Where("status = ? AND type IN ?", wallet.StatusActive.String(), []string{wallet.EntryEarn.String(), wallet.EntryAdjustment.String()}).
		Where("amount > 0 AND created_at > ? AND created_at < ?", after, through).
		Scan(&sum).Error
	if err != nil {
		return decimal.Zero, wrapStoreError(errorSubjectEntry, errorCodeSumCredits, err)
	}
	return sum.Total, nil
}

func (store *Store) GetSettings(ctx context.Context, businessUnitID wallet.BusinessUnitID) (wallet.Settings, error) {
	var model WalletSettings
	err := store.db.WithContext(ctx).Where("business_unit_id = ?", businessUnitID.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return wallet.Settings{}, wrapStoreError(errorSubjectSettings, errorCodeGet, wallet.ErrSettingsNotFound)
		}
		return wallet.Settings{}, wrapStoreError(errorSubjectSettings, errorCodeGet, err)
	}
	return mapSettings(model)
}

func (store *Store) UpsertSettings(ctx context.Context, settings wallet.Settings) (wallet.Settings, error) {
	model := WalletSettings{
		BusinessUnitID:       settings.BusinessUnitID.String(),
		PendingMethod:        string(settings.PendingMethod),
		PendingDays:          settings.PendingDays,
		ExpirationMethod:     string(settings.ExpirationMethod),
		ExpirationValue:      settings.ExpirationValue,
		AllowNegativeBalance: settings.AllowNegativeBalance,
		UpdatedAt:            settings.UpdatedAt,
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "business_unit_id"}},
			UpdateAll: true,
		}).
		Create(&model).Error
	if err != nil {
		return wallet.Settings{}, wrapStoreError(errorSubjectSettings, errorCodeUpsert, err)
	}
	return mapSettings(model)
}

// LockCoupon loads a coupon by code with a row lock held until the transaction ends.
func (store *Store) LockCoupon(ctx context.Context, businessUnitID wallet.BusinessUnitID, code string) (wallet.Coupon, error) {
	var model Coupon
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_unit_id = ? AND code = ?", businessUnitID.String(), code).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return wallet.Coupon{}, wrapStoreError(errorSubjectCoupon, errorCodeLock, wallet.ErrInvalidCoupon)
		}
		return wallet.Coupon{}, wrapStoreError(errorSubjectCoupon, errorCodeLock, err)
	}
	parsedUnit, err := wallet.NewBusinessUnitID(model.BusinessUnitID)
	if err != nil {
		return wallet.Coupon{}, wrapStoreError(errorSubjectCoupon, errorCodeInvalid, err)
	}
	return wallet.Coupon{
		ID:             model.ID,
		Code:           model.Code,
		BusinessUnitID: parsedUnit,
		Redeemed:       model.Redeemed,
		ExpiresAt:      utcPointer(model.ExpiresAt),
	}, nil
}

func (store *Store) MarkCouponRedeemed(ctx context.Context, couponID string, at time.Time) error {
	result := store.db.WithContext(ctx).
		Model(&Coupon{}).
		Where("id = ? AND redeemed = ?", couponID, false).
		Updates(map[string]interface{}{"redeemed": true, "redeemed_at": at})
	if result.Error != nil {
		return wrapStoreError(errorSubjectCoupon, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectCoupon, errorCodeUpdateStatus, wallet.ErrInvalidCoupon)
	}
	return nil
}

// ResolveCustomer finds a customer by id, or by phone when no id is given.
func (store *Store) ResolveCustomer(ctx context.Context, lookup wallet.CustomerLookup) (wallet.Customer, error) {
	query := store.db.WithContext(ctx).
		Where("tenant_id = ? AND business_unit_id = ?", lookup.TenantID.String(), lookup.BusinessUnitID.String())
	switch {
	case !lookup.CustomerID.IsZero():
		query = query.Where("id = ?", lookup.CustomerID.String())
	case lookup.Phone != "":
		query = query.Where("phone = ?", lookup.Phone)
	default:
		return wallet.Customer{}, wrapStoreError(errorSubjectCustomer, errorCodeLookup, wallet.ErrCustomerNotFound)
	}
	var model Customer
	if err := query.Order("created_at ASC").Take(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return wallet.Customer{}, wrapStoreError(errorSubjectCustomer, errorCodeLookup, wallet.ErrCustomerNotFound)
		}
		return wallet.Customer{}, wrapStoreError(errorSubjectCustomer, errorCodeLookup, err)
	}
	customerID, err := wallet.NewCustomerID(model.ID)
	if err != nil {
		return wallet.Customer{}, wrapStoreError(errorSubjectCustomer, errorCodeInvalid, err)
	}
	return wallet.Customer{
		ID:                   customerID,
		TenantID:             lookup.TenantID,
		BusinessUnitID:       lookup.BusinessUnitID,
		Phone:                model.Phone,
		Language:             model.Language,
		NotificationsEnabled: model.NotificationsEnabled,
	}, nil
}

// ActiveBurnRules returns active rules for the scope in priority order. Rules
// without a language apply to every language.
func (store *Store) ActiveBurnRules(ctx context.Context, tenantID wallet.TenantID, businessUnitID wallet.BusinessUnitID, language string) ([]wallet.BurnRule, error) {
	query := store.db.WithContext(ctx).
		Where("tenant_id = ? AND business_unit_id = ? AND active = ?", tenantID.String(), businessUnitID.String(), true)
	if language != "" {
		query = query.Where("(language = ? OR language = '')", language)
	}
	var rows []BurnRule
	if err := query.Order("priority ASC").Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectRule, errorCodeList, err)
	}
	rules := make([]wallet.BurnRule, 0, len(rows))
	for _, row := range rows {
		rule, err := mapBurnRule(row)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (store *Store) BurnRule(ctx context.Context, ruleID string) (wallet.BurnRule, error) {
	var model BurnRule
	if err := store.db.WithContext(ctx).Where("id = ?", ruleID).Take(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return wallet.BurnRule{}, wrapStoreError(errorSubjectRule, errorCodeGet, wallet.ErrRuleNotFound)
		}
		return wallet.BurnRule{}, wrapStoreError(errorSubjectRule, errorCodeGet, err)
	}
	return mapBurnRule(model)
}

// RecordAudit persists an audit event.
func (store *Store) RecordAudit(ctx context.Context, event wallet.AuditEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return wrapStoreError(errorSubjectAudit, errorCodeInvalid, err)
	}
	if event.Payload == nil {
		payload = []byte(defaultMetadataJSON)
	}
	createdAt := event.At.UTC()
	if event.At.IsZero() {
		createdAt = time.Now().UTC()
	}
	model := AuditEvent{
		Operation:      event.Operation,
		Actor:          event.Actor,
		BusinessUnitID: event.BusinessUnitID.String(),
		WalletID:       event.WalletID.String(),
		EntryID:        event.EntryID.String(),
		Payload:        datatypes.JSON(payload),
		CreatedAt:      createdAt,
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectAudit, errorCodeInsert, err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return wallet.WrapError(errorOperationStore, subject, code, err)
}

func walletLookupError(code string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wrapStoreError(errorSubjectWallet, code, wallet.ErrWalletNotFound)
	}
	return wrapStoreError(errorSubjectWallet, code, err)
}

type sqlSum struct {
	Total decimal.Decimal
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}

func mapWallet(row Wallet) (wallet.Wallet, error) {
	walletID, err := wallet.NewWalletID(row.ID)
	if err != nil {
		return wallet.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeInvalid, err)
	}
	tenantID, err := wallet.NewTenantID(row.TenantID)
	if err != nil {
		return wallet.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeInvalid, err)
	}
	businessUnitID, err := wallet.NewBusinessUnitID(row.BusinessUnitID)
	if err != nil {
		return wallet.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeInvalid, err)
	}
	customerID, err := wallet.NewCustomerID(row.CustomerID)
	if err != nil {
		return wallet.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeInvalid, err)
	}
	return wallet.Wallet{
		ID:               walletID,
		TenantID:         tenantID,
		BusinessUnitID:   businessUnitID,
		CustomerID:       customerID,
		TotalBalance:     row.TotalBalance,
		AvailableBalance: row.AvailableBalance,
		LockedBalance:    row.LockedBalance,
		PointsBurned:     row.PointsBurned,
		Version:          row.Version,
		CreatedAt:        row.CreatedAt.UTC(),
		UpdatedAt:        row.UpdatedAt.UTC(),
	}, nil
}

func mapEntries(rows []WalletEntry) ([]wallet.Entry, error) {
	entries := make([]wallet.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapEntry(row)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func mapEntry(row WalletEntry) (wallet.Entry, error) {
	entryID, err := wallet.NewEntryID(row.ID)
	if err != nil {
		return wallet.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	walletID, err := wallet.NewWalletID(row.WalletID)
	if err != nil {
		return wallet.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	businessUnitID, err := wallet.NewBusinessUnitID(row.BusinessUnitID)
	if err != nil {
		return wallet.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	var customerID wallet.CustomerID
	if row.CustomerID != "" {
		customerID, err = wallet.NewCustomerID(row.CustomerID)
		if err != nil {
			return wallet.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
	}
	entryType, err := wallet.ParseEntryType(row.Type)
	if err != nil {
		return wallet.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	status, err := wallet.ParseEntryStatus(row.Status)
	if err != nil {
		return wallet.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	metadata, err := wallet.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return wallet.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return wallet.Entry{
		ID:                  entryID,
		WalletID:            walletID,
		BusinessUnitID:      businessUnitID,
		CustomerID:          customerID,
		Type:                entryType,
		Status:              status,
		Amount:              row.Amount,
		PrevAvailablePoints: row.PrevAvailablePoints,
		PointBalance:        row.PointBalance,
		UnlockDate:          utcPointer(row.UnlockDate),
		ExpiryDate:          utcPointer(row.ExpiryDate),
		SourceType:          row.SourceType,
		SourceID:            row.SourceID,
		Description:         row.Description,
		Metadata:            metadata,
		CreatedAt:           row.CreatedAt.UTC(),
		UpdatedAt:           row.UpdatedAt.UTC(),
	}, nil
}

func mapSettings(row WalletSettings) (wallet.Settings, error) {
	businessUnitID, err := wallet.NewBusinessUnitID(row.BusinessUnitID)
	if err != nil {
		return wallet.Settings{}, wrapStoreError(errorSubjectSettings, errorCodeInvalid, err)
	}
	pendingMethod, err := wallet.ParsePendingMethod(row.PendingMethod)
	if err != nil {
		return wallet.Settings{}, wrapStoreError(errorSubjectSettings, errorCodeInvalid, err)
	}
	expirationMethod, err := wallet.ParseExpirationMethod(row.ExpirationMethod)
	if err != nil {
		return wallet.Settings{}, wrapStoreError(errorSubjectSettings, errorCodeInvalid, err)
	}
	return wallet.Settings{
		BusinessUnitID:       businessUnitID,
		PendingMethod:        pendingMethod,
		PendingDays:          row.PendingDays,
		ExpirationMethod:     expirationMethod,
		ExpirationValue:      row.ExpirationValue,
		AllowNegativeBalance: row.AllowNegativeBalance,
		UpdatedAt:            row.UpdatedAt.UTC(),
	}, nil
}

func mapBurnRule(row BurnRule) (wallet.BurnRule, error) {
	tenantID, err := wallet.NewTenantID(row.TenantID)
	if err != nil {
		return wallet.BurnRule{}, wrapStoreError(errorSubjectRule, errorCodeInvalid, err)
	}
	businessUnitID, err := wallet.NewBusinessUnitID(row.BusinessUnitID)
	if err != nil {
		return wallet.BurnRule{}, wrapStoreError(errorSubjectRule, errorCodeInvalid, err)
	}
	return wallet.BurnRule{
		ID:                       row.ID,
		TenantID:                 tenantID,
		BusinessUnitID:           businessUnitID,
		Name:                     row.Name,
		Language:                 row.Language,
		MinAmountSpent:           row.MinAmountSpent,
		MaxRedemptionPointsLimit: row.MaxRedemptionPointsLimit,
		PointsConversionFactor:   row.PointsConversionFactor,
		MaxBurnPercentOnInvoice:  row.MaxBurnPercentOnInvoice,
		Active:                   row.Active,
		Priority:                 row.Priority,
	}, nil
}

func utcPointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	utc := value.UTC()
	return &utc
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
