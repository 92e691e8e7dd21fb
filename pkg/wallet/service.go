package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Service contains the domain logic over a Store.
type Service struct {
	store          Store
	nowFn          func() time.Time
	loggers        []OperationLogger
	access         AccessChecker
	customers      CustomerResolver
	rules          RuleLookup
	notifier       NotificationDispatcher
	audit          AuditSink
	sweepBatchSize int
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now, sweepBatchSize: defaultSweepBatchSize}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if service.access == nil {
		return nil, fmt.Errorf("%w: access checker dependency is nil", ErrInvalidServiceConfig)
	}
	return service, nil
}

// MovementRequest describes a single point movement.
type MovementRequest struct {
	WalletID       WalletID
	BusinessUnitID BusinessUnitID
	Type           EntryType
	// Status is optional. Earn movements default to pending when the business
	// unit has a pending window and to active otherwise.
	Status         EntryStatus
	Amount         decimal.Decimal
	CouponCode     string
	ExpiryOverride *time.Time
	SourceType     string
	SourceID       string
	Description    string
	Metadata       MetadataJSON
}

// CreateWallet returns the wallet for the customer, creating an empty one on first request.
func (service *Service) CreateWallet(ctx context.Context, actor Actor, customerID CustomerID, businessUnitID BusinessUnitID, tenantID TenantID) (Wallet, error) {
	var created Wallet
	operationError := service.authorize(ctx, actor, businessUnitID)
	if operationError == nil {
		operationError = validateWalletOwner(customerID, businessUnitID, tenantID)
	}
	if operationError == nil {
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			existing, err := transactionStore.FindWallet(ctx, tenantID, businessUnitID, customerID)
			if err == nil {
				created = existing
				return nil
			}
			if !errors.Is(err, ErrWalletNotFound) {
				return err
			}
			nowUTC := service.nowFn().UTC()
			created, err = transactionStore.CreateWallet(ctx, Wallet{
				TenantID:         tenantID,
				BusinessUnitID:   businessUnitID,
				CustomerID:       customerID,
				TotalBalance:     decimal.Zero,
				AvailableBalance: decimal.Zero,
				LockedBalance:    decimal.Zero,
				PointsBurned:     decimal.Zero,
				CreatedAt:        nowUTC,
				UpdatedAt:        nowUTC,
			})
			if errors.Is(err, ErrWalletExists) {
				created, err = transactionStore.FindWallet(ctx, tenantID, businessUnitID, customerID)
			}
			return err
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation:      operationCreateWallet,
		Actor:          actor.Subject,
		BusinessUnitID: businessUnitID,
		WalletID:       created.ID,
		Error:          operationError,
	})
	if operationError != nil {
		return Wallet{}, operationError
	}
	service.recordAudit(ctx, AuditEvent{
		Operation:      operationCreateWallet,
		Actor:          actor.Subject,
		BusinessUnitID: businessUnitID,
		WalletID:       created.ID,
		Payload:        map[string]any{"customer_id": customerID.String(), "tenant_id": tenantID.String()},
	})
	return created, nil
}

// GetWallet returns a wallet by id.
func (service *Service) GetWallet(ctx context.Context, actor Actor, walletID WalletID) (Wallet, error) {
	walletRecord, err := service.store.GetWallet(ctx, walletID)
	if err != nil {
		return Wallet{}, err
	}
	if err := service.authorize(ctx, actor, walletRecord.BusinessUnitID); err != nil {
		return Wallet{}, err
	}
	return walletRecord, nil
}

// RecordMovement writes a ledger entry and updates the wallet aggregates in one transaction.
func (service *Service) RecordMovement(ctx context.Context, actor Actor, request MovementRequest) (Entry, error) {
	var stored Entry
	operationError := service.authorize(ctx, actor, request.BusinessUnitID)
	if operationError == nil {
		operationError = validateMovement(request)
	}
	if operationError == nil {
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			var err error
			stored, err = service.recordMovement(ctx, transactionStore, request)
			return err
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation:      operationRecordMovement,
		Actor:          actor.Subject,
		BusinessUnitID: request.BusinessUnitID,
		WalletID:       request.WalletID,
		EntryID:        stored.ID,
		EntryType:      request.Type,
		EntryStatus:    stored.Status,
		Amount:         request.Amount,
		Error:          operationError,
	})
	if operationError != nil {
		return Entry{}, operationError
	}
	service.recordAudit(ctx, AuditEvent{
		Operation:      operationRecordMovement,
		Actor:          actor.Subject,
		BusinessUnitID: stored.BusinessUnitID,
		WalletID:       stored.WalletID,
		EntryID:        stored.ID,
		Payload: map[string]any{
			"type":   stored.Type.String(),
			"status": stored.Status.String(),
			"amount": stored.Amount.String(),
		},
	})
	return stored, nil
}

func (service *Service) recordMovement(ctx context.Context, transactionStore Store, request MovementRequest) (Entry, error) {
	walletRecord, err := transactionStore.LockWallet(ctx, request.WalletID)
	if err != nil {
		return Entry{}, err
	}
	if walletRecord.BusinessUnitID != request.BusinessUnitID {
		return Entry{}, ErrWalletNotFound
	}
	settings, err := resolveSettings(ctx, transactionStore, request.BusinessUnitID)
	if err != nil {
		return Entry{}, err
	}
	now := service.nowFn().UTC()
	sourceType, sourceID := request.SourceType, request.SourceID
	if request.CouponCode != "" {
		coupon, err := redeemCoupon(ctx, transactionStore, request.BusinessUnitID, request.CouponCode, now)
		if err != nil {
			return Entry{}, err
		}
		if sourceType == "" {
			sourceType, sourceID = SourceTypeCoupon, coupon.ID
		}
	}
	status, unlockDate, expiryDate, err := planMovement(settings, request, now)
	if err != nil {
		return Entry{}, err
	}
	updated, err := applyMovement(walletRecord, request.Type, status, request.Amount, settings.AllowNegativeBalance)
	if err != nil {
		return Entry{}, err
	}
	entry, err := transactionStore.InsertEntry(ctx, Entry{
		WalletID:            walletRecord.ID,
		BusinessUnitID:      walletRecord.BusinessUnitID,
		CustomerID:          walletRecord.CustomerID,
		Type:                request.Type,
		Status:              status,
		Amount:              request.Amount,
		PrevAvailablePoints: walletRecord.AvailableBalance,
		PointBalance:        updated.AvailableBalance,
		UnlockDate:          unlockDate,
		ExpiryDate:          expiryDate,
		SourceType:          sourceType,
		SourceID:            sourceID,
		Description:         request.Description,
		Metadata:            request.Metadata,
		CreatedAt:           now,
		UpdatedAt:           now,
	})
	if err != nil {
		return Entry{}, err
	}
	if status == StatusActive || status == StatusPending {
		updated.UpdatedAt = now
		if _, err := transactionStore.UpdateWallet(ctx, updated); err != nil {
			return Entry{}, err
		}
	}
	return entry, nil
}

// ListMovements returns the newest entries of a wallet created before the cutoff.
func (service *Service) ListMovements(ctx context.Context, actor Actor, walletID WalletID, before time.Time, limit int) ([]Entry, error) {
	walletRecord, err := service.store.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if err := service.authorize(ctx, actor, walletRecord.BusinessUnitID); err != nil {
		return nil, err
	}
	if before.IsZero() {
		before = service.nowFn().UTC().Add(time.Second)
	}
	return service.store.ListEntries(ctx, walletID, before, limit)
}

// ListWallets lists wallets, optionally scoped to a business unit.
func (service *Service) ListWallets(ctx context.Context, actor Actor, filter WalletFilter) ([]Wallet, error) {
	if err := service.authorize(ctx, actor, filter.BusinessUnitID); err != nil {
		return nil, err
	}
	return service.store.ListWallets(ctx, filter)
}

// GetSettings returns the stored settings of a business unit.
func (service *Service) GetSettings(ctx context.Context, actor Actor, businessUnitID BusinessUnitID) (Settings, error) {
	if err := service.authorize(ctx, actor, businessUnitID); err != nil {
		return Settings{}, err
	}
	return service.store.GetSettings(ctx, businessUnitID)
}

// UpsertSettings validates and stores the settings of a business unit.
func (service *Service) UpsertSettings(ctx context.Context, actor Actor, settings Settings) (Settings, error) {
	var stored Settings
	operationError := service.authorize(ctx, actor, settings.BusinessUnitID)
	if operationError == nil {
		operationError = settings.Validate()
	}
	if operationError == nil {
		settings.UpdatedAt = service.nowFn().UTC()
		stored, operationError = service.store.UpsertSettings(ctx, settings)
	}
	service.logOperation(ctx, OperationLog{
		Operation:      operationUpsertSettings,
		Actor:          actor.Subject,
		BusinessUnitID: settings.BusinessUnitID,
		Error:          operationError,
	})
	if operationError != nil {
		return Settings{}, operationError
	}
	service.recordAudit(ctx, AuditEvent{
		Operation:      operationUpsertSettings,
		Actor:          actor.Subject,
		BusinessUnitID: stored.BusinessUnitID,
		Payload: map[string]any{
			"pending_method":         string(stored.PendingMethod),
			"pending_days":           stored.PendingDays,
			"expiration_method":      string(stored.ExpirationMethod),
			"expiration_value":       stored.ExpirationValue,
			"allow_negative_balance": stored.AllowNegativeBalance,
		},
	})
	return stored, nil
}

func (service *Service) authorize(ctx context.Context, actor Actor, businessUnitID BusinessUnitID) error {
	allowed, err := service.access.CheckAccess(ctx, actor, businessUnitID)
	if err != nil {
		return WrapError("service", "access", "check", fmt.Errorf("%w: %v", ErrUnauthorized, err))
	}
	if !allowed {
		return ErrUnauthorized
	}
	return nil
}

func validateWalletOwner(customerID CustomerID, businessUnitID BusinessUnitID, tenantID TenantID) error {
	switch {
	case customerID.IsZero():
		return fmt.Errorf("%w: empty value", ErrInvalidCustomerID)
	case businessUnitID.IsZero():
		return fmt.Errorf("%w: empty value", ErrInvalidBusinessUnitID)
	case tenantID.IsZero():
		return fmt.Errorf("%w: empty value", ErrInvalidTenantID)
	}
	return nil
}

func validateMovement(request MovementRequest) error {
	if request.BusinessUnitID.IsZero() {
		return fmt.Errorf("%w: empty value", ErrInvalidBusinessUnitID)
	}
	if request.Type == EntryAdjustment {
		if request.Amount.IsZero() {
			return fmt.Errorf("%w: adjustment must be non-zero", ErrInvalidAmount)
		}
	} else if _, err := NewPositivePoints(request.Amount); err != nil {
		return err
	}
	switch request.Status {
	case "", StatusActive:
	case StatusPending:
		if request.Type != EntryEarn {
			return fmt.Errorf("%w: only earn movements can be pending", ErrInvalidEntryStatus)
		}
	case StatusNotConfirmed:
		if request.Type != EntryBurn {
			return fmt.Errorf("%w: only burn movements can await confirmation", ErrInvalidEntryStatus)
		}
	default:
		return fmt.Errorf("%w: cannot create %s entries", ErrInvalidEntryStatus, request.Status)
	}
	return nil
}

// planMovement resolves the status and dates an entry is written with.
func planMovement(settings Settings, request MovementRequest, now time.Time) (EntryStatus, *time.Time, *time.Time, error) {
	unlockDate, expiryDate, err := settings.EntryDates(request.Type, now)
	if err != nil {
		return "", nil, nil, err
	}
	status := request.Status
	if status == "" {
		status = StatusActive
		if unlockDate != nil {
			status = StatusPending
		}
	}
	if status == StatusPending && unlockDate == nil {
		return "", nil, nil, fmt.Errorf("%w: business unit has no pending window", ErrInvalidEntryStatus)
	}
	if status != StatusPending && unlockDate != nil {
		immediate := settings
		immediate.PendingMethod = PendingNone
		unlockDate, expiryDate, err = immediate.EntryDates(request.Type, now)
		if err != nil {
			return "", nil, nil, err
		}
	}
	if request.ExpiryOverride != nil {
		override := StartOfDay(*request.ExpiryOverride)
		expiryDate = &override
	}
	return status, unlockDate, expiryDate, nil
}

// applyMovement returns the wallet after the movement. Only active and pending
// entries touch the aggregates.
func applyMovement(walletRecord Wallet, entryType EntryType, status EntryStatus, amount decimal.Decimal, allowNegative bool) (Wallet, error) {
	updated := walletRecord
	switch status {
	case StatusPending:
		updated = walletRecord.lock(amount)
	case StatusActive:
		switch entryType {
		case EntryEarn:
			updated = walletRecord.credit(amount)
		case EntryAdjustment:
			if amount.IsNegative() {
				if err := ensureSpendable(walletRecord, amount.Neg(), allowNegative); err != nil {
					return Wallet{}, err
				}
			}
			updated = walletRecord.credit(amount)
		case EntryBurn, EntryExpire:
			if err := ensureSpendable(walletRecord, amount, allowNegative); err != nil {
				return Wallet{}, err
			}
			updated = walletRecord.debit(amount)
		}
	}
	if !updated.Consistent() {
		return Wallet{}, WrapError("service", "balance", "inconsistent", ErrInvalidBalance)
	}
	return updated, nil
}

func ensureSpendable(walletRecord Wallet, amount decimal.Decimal, allowNegative bool) error {
	if allowNegative {
		return nil
	}
	if walletRecord.AvailableBalance.LessThan(amount) {
		return ErrInsufficientBalance
	}
	return nil
}

func redeemCoupon(ctx context.Context, transactionStore Store, businessUnitID BusinessUnitID, code string, now time.Time) (Coupon, error) {
	coupon, err := transactionStore.LockCoupon(ctx, businessUnitID, code)
	if err != nil {
		return Coupon{}, err
	}
	if coupon.Redeemed {
		return Coupon{}, fmt.Errorf("%w: already redeemed", ErrInvalidCoupon)
	}
	if coupon.ExpiresAt != nil && !now.Before(*coupon.ExpiresAt) {
		return Coupon{}, ErrCouponExpired
	}
	if err := transactionStore.MarkCouponRedeemed(ctx, coupon.ID, now); err != nil {
		return Coupon{}, err
	}
	return coupon, nil
}
