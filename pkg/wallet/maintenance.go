package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var errEntrySkipped = errors.New("entry no longer eligible")

// SweepReport summarizes one maintenance run.
type SweepReport struct {
	Scanned   int
	Processed int
	Skipped   int
	Failed    int
	// Points is the total unlocked or forfeited by the run.
	Points decimal.Decimal
}

type dueLister func(ctx context.Context, asOf time.Time, limit int) ([]Entry, error)

type entryProcessor func(ctx context.Context, transactionStore Store, entry Entry, asOf time.Time) (decimal.Decimal, error)

// UnlockDue moves pending earn entries whose unlock date has arrived into the
// available balance. Each entry commits in its own transaction; a failure is
// logged and leaves the entry pending for the next run.
func (service *Service) UnlockDue(ctx context.Context, asOf time.Time) (SweepReport, error) {
	return service.sweep(ctx, operationUnlock, StartOfDay(asOf), service.store.ListDueUnlocks, service.unlockEntry)
}

// ExpireDue retires active earn entries whose expiry date has arrived, oldest
// expiry first. Points still covered by credits received after the entry are
// kept; only the remainder is forfeited through an expire entry.
func (service *Service) ExpireDue(ctx context.Context, asOf time.Time) (SweepReport, error) {
	return service.sweep(ctx, operationExpire, StartOfDay(asOf), service.store.ListDueExpiries, service.expireEntry)
}

func (service *Service) sweep(ctx context.Context, operation string, asOf time.Time, list dueLister, process entryProcessor) (SweepReport, error) {
	report := SweepReport{Points: decimal.Zero}
	seen := make(map[EntryID]struct{})
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		// Failed and skipped entries can still be due, so widen the window past them.
		limit := service.sweepBatchSize + report.Failed + report.Skipped
		batch, err := list(ctx, asOf, limit)
		if err != nil {
			return report, WrapError("service", operation, "list", err)
		}
		fresh := 0
		for _, candidate := range batch {
			if _, done := seen[candidate.ID]; done {
				continue
			}
			seen[candidate.ID] = struct{}{}
			fresh++
			report.Scanned++
			var points decimal.Decimal
			processErr := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
				var err error
				points, err = process(ctx, transactionStore, candidate, asOf)
				return err
			})
			switch {
			case errors.Is(processErr, errEntrySkipped):
				report.Skipped++
				continue
			case processErr != nil:
				report.Failed++
			default:
				report.Processed++
				report.Points = report.Points.Add(points)
			}
			service.logOperation(ctx, OperationLog{
				Operation:      operation,
				Actor:          systemActor,
				BusinessUnitID: candidate.BusinessUnitID,
				WalletID:       candidate.WalletID,
				EntryID:        candidate.ID,
				EntryType:      candidate.Type,
				EntryStatus:    candidate.Status,
				Amount:         points,
				Error:          processErr,
			})
		}
		if fresh == 0 || len(batch) < limit {
			return report, nil
		}
	}
}

func (service *Service) unlockEntry(ctx context.Context, transactionStore Store, candidate Entry, asOf time.Time) (decimal.Decimal, error) {
	entry, err := transactionStore.LockEntry(ctx, candidate.ID)
	if err != nil {
		return decimal.Zero, err
	}
	if entry.Status != StatusPending || entry.UnlockDate == nil || entry.UnlockDate.After(asOf) {
		return decimal.Zero, errEntrySkipped
	}
	walletRecord, err := transactionStore.LockWallet(ctx, entry.WalletID)
	if err != nil {
		return decimal.Zero, err
	}
	if walletRecord.LockedBalance.LessThan(entry.Amount) {
		return decimal.Zero, fmt.Errorf("%w: locked balance %s below pending amount %s", ErrInvalidBalance, walletRecord.LockedBalance, entry.Amount)
	}
	now := service.nowFn().UTC()
	updated := walletRecord.unlock(entry.Amount)
	updated.UpdatedAt = now
	if err := transactionStore.TransitionEntry(ctx, EntryTransition{
		EntryID: entry.ID,
		From:    StatusPending,
		To:      StatusActive,
		At:      now,
	}); err != nil {
		return decimal.Zero, err
	}
	if _, err := transactionStore.UpdateWallet(ctx, updated); err != nil {
		return decimal.Zero, err
	}
	return entry.Amount, nil
}

func (service *Service) expireEntry(ctx context.Context, transactionStore Store, candidate Entry, asOf time.Time) (decimal.Decimal, error) {
	entry, err := transactionStore.LockEntry(ctx, candidate.ID)
	if err != nil {
		return decimal.Zero, err
	}
	if entry.Status != StatusActive || entry.Type != EntryEarn || entry.ExpiryDate == nil || entry.ExpiryDate.After(asOf) {
		return decimal.Zero, errEntrySkipped
	}
	walletRecord, err := transactionStore.LockWallet(ctx, entry.WalletID)
	if err != nil {
		return decimal.Zero, err
	}
	protected, err := transactionStore.SumCreditsBetween(ctx, walletRecord.ID, entry.CreatedAt, addDays(StartOfDay(*entry.ExpiryDate), 1), entry.ID)
	if err != nil {
		return decimal.Zero, err
	}
	now := service.nowFn().UTC()
	expired := EntryTransition{EntryID: entry.ID, From: StatusActive, To: StatusExpired, At: now}
	leftover := walletRecord.AvailableBalance.Sub(protected)
	if !leftover.IsPositive() {
		return decimal.Zero, transactionStore.TransitionEntry(ctx, expired)
	}
	forfeit := decimal.Min(leftover, entry.Amount)
	updated := walletRecord.debit(forfeit)
	updated.UpdatedAt = now
	if !updated.Consistent() {
		return decimal.Zero, WrapError("service", "balance", "inconsistent", ErrInvalidBalance)
	}
	if _, err := transactionStore.InsertEntry(ctx, Entry{
		WalletID:            walletRecord.ID,
		BusinessUnitID:      walletRecord.BusinessUnitID,
		CustomerID:          walletRecord.CustomerID,
		Type:                EntryExpire,
		Status:              StatusActive,
		Amount:              forfeit,
		PrevAvailablePoints: walletRecord.AvailableBalance,
		PointBalance:        updated.AvailableBalance,
		SourceType:          SourceTypeLedgerEntry,
		SourceID:            entry.ID.String(),
		Description:         fmt.Sprintf("points from entry %s expired", entry.ID),
		CreatedAt:           now,
		UpdatedAt:           now,
	}); err != nil {
		return decimal.Zero, err
	}
	if err := transactionStore.TransitionEntry(ctx, expired); err != nil {
		return decimal.Zero, err
	}
	if _, err := transactionStore.UpdateWallet(ctx, updated); err != nil {
		return decimal.Zero, err
	}
	return forfeit, nil
}
