package wallet

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// QuoteRequest asks how many points a customer can redeem against a spend.
type QuoteRequest struct {
	TenantID       TenantID
	BusinessUnitID BusinessUnitID
	CustomerID     CustomerID
	Phone          string
	SpendAmount    decimal.Decimal
	Language       string
}

// Quote is the provisional outcome of a burn request.
type Quote struct {
	EntryID            EntryID
	WalletID           WalletID
	RuleID             string
	RuleName           string
	SpendAmount        decimal.Decimal
	Points             decimal.Decimal
	Discount           decimal.Decimal
	MaxAllowedDiscount decimal.Decimal
}

// ConfirmRequest finalizes a quoted burn.
type ConfirmRequest struct {
	BusinessUnitID BusinessUnitID
	EntryID        EntryID
	BurnPoints     decimal.Decimal
}

// BurnResult is the outcome of a confirmed burn.
type BurnResult struct {
	EntryID          EntryID
	WalletID         WalletID
	SpendAmount      decimal.Decimal
	FinalAmount      decimal.Decimal
	PointsBurned     decimal.Decimal
	Discount         decimal.Decimal
	AvailableBalance decimal.Decimal
}

// QuoteBurn matches a burn rule and records a not-confirmed burn entry. Wallet
// balances are not touched until ConfirmBurn.
func (service *Service) QuoteBurn(ctx context.Context, actor Actor, request QuoteRequest) (Quote, error) {
	var quote Quote
	operationError := service.authorize(ctx, actor, request.BusinessUnitID)
	if operationError == nil {
		quote, operationError = service.quoteBurn(ctx, request)
	}
	service.logOperation(ctx, OperationLog{
		Operation:      operationQuoteBurn,
		Actor:          actor.Subject,
		BusinessUnitID: request.BusinessUnitID,
		WalletID:       quote.WalletID,
		EntryID:        quote.EntryID,
		EntryType:      EntryBurn,
		EntryStatus:    StatusNotConfirmed,
		Amount:         request.SpendAmount,
		Error:          operationError,
	})
	if operationError != nil {
		return Quote{}, operationError
	}
	service.recordAudit(ctx, AuditEvent{
		Operation:      operationQuoteBurn,
		Actor:          actor.Subject,
		BusinessUnitID: request.BusinessUnitID,
		WalletID:       quote.WalletID,
		EntryID:        quote.EntryID,
		Payload: map[string]any{
			"rule_id":      quote.RuleID,
			"spend_amount": quote.SpendAmount.String(),
			"points":       quote.Points.String(),
			"discount":     quote.Discount.String(),
		},
	})
	return quote, nil
}

func (service *Service) quoteBurn(ctx context.Context, request QuoteRequest) (Quote, error) {
	if service.customers == nil || service.rules == nil {
		return Quote{}, fmt.Errorf("%w: burn flow requires customer resolver and rule lookup", ErrInvalidServiceConfig)
	}
	spendAmount, err := NewPositivePoints(request.SpendAmount)
	if err != nil {
		return Quote{}, err
	}
	customer, err := service.customers.ResolveCustomer(ctx, CustomerLookup{
		TenantID:       request.TenantID,
		BusinessUnitID: request.BusinessUnitID,
		CustomerID:     request.CustomerID,
		Phone:          request.Phone,
	})
	if err != nil {
		return Quote{}, err
	}
	walletRecord, err := service.store.FindWallet(ctx, request.TenantID, request.BusinessUnitID, customer.ID)
	if err != nil {
		return Quote{}, err
	}
	rules, err := service.rules.ActiveBurnRules(ctx, request.TenantID, request.BusinessUnitID, request.Language)
	if err != nil {
		return Quote{}, err
	}
	if len(rules) == 0 {
		return Quote{}, ErrRuleNotFound
	}
	rule, err := SelectBurnRule(rules, spendAmount)
	if err != nil {
		return Quote{}, err
	}
	redemption, err := QuoteRedemption(rule, walletRecord.AvailableBalance, spendAmount)
	if err != nil {
		return Quote{}, err
	}
	now := service.nowFn().UTC()
	var entry Entry
	err = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		var insertErr error
		entry, insertErr = transactionStore.InsertEntry(ctx, Entry{
			WalletID:            walletRecord.ID,
			BusinessUnitID:      walletRecord.BusinessUnitID,
			CustomerID:          customer.ID,
			Type:                EntryBurn,
			Status:              StatusNotConfirmed,
			Amount:              spendAmount,
			PrevAvailablePoints: walletRecord.AvailableBalance,
			PointBalance:        redemption.Points,
			SourceType:          SourceTypeBurnRule,
			SourceID:            rule.ID,
			Description:         fmt.Sprintf("burn quote under rule %s", rule.ID),
			CreatedAt:           now,
			UpdatedAt:           now,
		})
		return insertErr
	})
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		EntryID:            entry.ID,
		WalletID:           walletRecord.ID,
		RuleID:             rule.ID,
		RuleName:           rule.Name,
		SpendAmount:        spendAmount,
		Points:             redemption.Points,
		Discount:           redemption.Discount,
		MaxAllowedDiscount: MaxAllowedDiscount(rule, spendAmount),
	}, nil
}

// ConfirmBurn debits the wallet for a quoted burn. A second confirmation of the
// same entry fails with ErrAlreadyProcessed.
func (service *Service) ConfirmBurn(ctx context.Context, actor Actor, request ConfirmRequest) (BurnResult, error) {
	var (
		result     BurnResult
		walletInfo Wallet
		customerID CustomerID
	)
	operationError := service.authorize(ctx, actor, request.BusinessUnitID)
	if operationError == nil {
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			var err error
			result, walletInfo, customerID, err = service.confirmBurn(ctx, transactionStore, request)
			return err
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation:      operationConfirmBurn,
		Actor:          actor.Subject,
		BusinessUnitID: request.BusinessUnitID,
		WalletID:       result.WalletID,
		EntryID:        request.EntryID,
		EntryType:      EntryBurn,
		EntryStatus:    StatusActive,
		Amount:         result.PointsBurned,
		Error:          operationError,
	})
	if operationError != nil {
		return BurnResult{}, operationError
	}
	service.recordAudit(ctx, AuditEvent{
		Operation:      operationConfirmBurn,
		Actor:          actor.Subject,
		BusinessUnitID: request.BusinessUnitID,
		WalletID:       result.WalletID,
		EntryID:        result.EntryID,
		Payload: map[string]any{
			"points_burned": result.PointsBurned.String(),
			"discount":      result.Discount.String(),
			"final_amount":  result.FinalAmount.String(),
		},
	})
	service.notifyBurn(ctx, walletInfo, customerID, result)
	return result, nil
}

func (service *Service) confirmBurn(ctx context.Context, transactionStore Store, request ConfirmRequest) (BurnResult, Wallet, CustomerID, error) {
	if service.rules == nil {
		return BurnResult{}, Wallet{}, CustomerID{}, fmt.Errorf("%w: burn flow requires rule lookup", ErrInvalidServiceConfig)
	}
	burnPoints, err := NewPositivePoints(request.BurnPoints)
	if err != nil {
		return BurnResult{}, Wallet{}, CustomerID{}, err
	}
	entry, err := transactionStore.LockEntry(ctx, request.EntryID)
	if err != nil {
		return BurnResult{}, Wallet{}, CustomerID{}, err
	}
	if entry.BusinessUnitID != request.BusinessUnitID || entry.Type != EntryBurn {
		return BurnResult{}, Wallet{}, CustomerID{}, ErrEntryNotFound
	}
	if entry.Status != StatusNotConfirmed {
		return BurnResult{}, Wallet{}, CustomerID{}, ErrAlreadyProcessed
	}
	walletRecord, err := transactionStore.LockWallet(ctx, entry.WalletID)
	if err != nil {
		return BurnResult{}, Wallet{}, CustomerID{}, err
	}
	rules := service.rules
	// Read the rule on the transaction's connection when the store can serve it.
	if transactionRules, ok := transactionStore.(RuleLookup); ok {
		rules = transactionRules
	}
	rule, err := rules.BurnRule(ctx, entry.SourceID)
	if err != nil {
		return BurnResult{}, Wallet{}, CustomerID{}, err
	}
	if walletRecord.AvailableBalance.LessThan(burnPoints) {
		return BurnResult{}, Wallet{}, CustomerID{}, ErrInsufficientBalance
	}
	redemption, err := ConfirmRedemption(rule, burnPoints, walletRecord.AvailableBalance, entry.Amount)
	if err != nil {
		return BurnResult{}, Wallet{}, CustomerID{}, err
	}
	finalAmount := entry.Amount.Sub(redemption.Discount)
	if finalAmount.IsNegative() {
		finalAmount = decimal.Zero
	}
	now := service.nowFn().UTC()
	previousAvailable := walletRecord.AvailableBalance
	updated := walletRecord.debit(redemption.Points)
	updated.PointsBurned = updated.PointsBurned.Add(redemption.Points)
	updated.UpdatedAt = now
	if !updated.Consistent() {
		return BurnResult{}, Wallet{}, CustomerID{}, WrapError("service", "balance", "inconsistent", ErrInvalidBalance)
	}
	points := redemption.Points
	if err := transactionStore.TransitionEntry(ctx, EntryTransition{
		EntryID:             entry.ID,
		From:                StatusNotConfirmed,
		To:                  StatusActive,
		PrevAvailablePoints: &previousAvailable,
		PointBalance:        &points,
		At:                  now,
	}); err != nil {
		return BurnResult{}, Wallet{}, CustomerID{}, err
	}
	stored, err := transactionStore.UpdateWallet(ctx, updated)
	if err != nil {
		return BurnResult{}, Wallet{}, CustomerID{}, err
	}
	return BurnResult{
		EntryID:          entry.ID,
		WalletID:         stored.ID,
		SpendAmount:      entry.Amount,
		FinalAmount:      finalAmount,
		PointsBurned:     redemption.Points,
		Discount:         redemption.Discount,
		AvailableBalance: stored.AvailableBalance,
	}, stored, entry.CustomerID, nil
}

// notifyBurn hands the burn to the outbound queue. Failures are logged and
// never reach the caller; the debit has already committed.
func (service *Service) notifyBurn(ctx context.Context, walletRecord Wallet, customerID CustomerID, result BurnResult) {
	if service.notifier == nil || service.customers == nil || customerID.IsZero() {
		return
	}
	customer, err := service.customers.ResolveCustomer(ctx, CustomerLookup{
		TenantID:       walletRecord.TenantID,
		BusinessUnitID: walletRecord.BusinessUnitID,
		CustomerID:     customerID,
	})
	if err == nil && customer.NotificationsEnabled {
		err = service.notifier.Dispatch(ctx, Notification{
			TenantID:       walletRecord.TenantID,
			BusinessUnitID: walletRecord.BusinessUnitID,
			CustomerID:     customer.ID,
			Phone:          customer.Phone,
			Language:       customer.Language,
			EntryID:        result.EntryID,
			PointsBurned:   result.PointsBurned,
			Discount:       result.Discount,
			FinalAmount:    result.FinalAmount,
			Available:      result.AvailableBalance,
			CreatedAt:      service.nowFn().UTC(),
		})
	}
	if err != nil {
		service.logOperation(ctx, OperationLog{
			Operation:      operationNotify,
			BusinessUnitID: walletRecord.BusinessUnitID,
			WalletID:       walletRecord.ID,
			EntryID:        result.EntryID,
			Amount:         result.PointsBurned,
			Error:          err,
		})
	}
}
