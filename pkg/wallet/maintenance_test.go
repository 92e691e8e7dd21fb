package wallet

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUnlockDueReleasesPendingPoints(test *testing.T) {
	test.Parallel()
	testFixture := newFixture(test)
	walletRecord := testFixture.mustCreateWallet(test)
	testFixture.store.settings[testFixture.unit] = Settings{
		BusinessUnitID: testFixture.unit,
		PendingMethod:  PendingFixedDays,
		PendingDays:    3,
	}
	entry := testFixture.mustRecord(test, walletRecord.ID, EntryEarn, "100")

	early, err := testFixture.service.UnlockDue(context.Background(), time.Date(2024, time.January, 3, 23, 0, 0, 0, time.UTC))
	if err != nil {
		test.Fatalf("early unlock: %v", err)
	}
	if early.Scanned != 0 {
		test.Fatalf("expected nothing due, got %+v", early)
	}

	report, err := testFixture.service.UnlockDue(context.Background(), time.Date(2024, time.January, 4, 0, 5, 0, 0, time.UTC))
	if err != nil {
		test.Fatalf("unlock: %v", err)
	}
	if report.Processed != 1 || report.Failed != 0 {
		test.Fatalf("unexpected report %+v", report)
	}
	assertDecimal(test, "unlocked points", report.Points, "100")
	stored := testFixture.store.mustWallet(test, walletRecord.ID)
	assertDecimal(test, "available", stored.AvailableBalance, "100")
	assertDecimal(test, "locked", stored.LockedBalance, "0")
	assertDecimal(test, "total", stored.TotalBalance, "100")
	if got := testFixture.store.mustEntry(test, entry.ID).Status; got != StatusActive {
		test.Fatalf("expected active entry, got %s", got)
	}

	again, err := testFixture.service.UnlockDue(context.Background(), time.Date(2024, time.January, 5, 0, 0, 0, 0, time.UTC))
	if err != nil {
		test.Fatalf("second unlock: %v", err)
	}
	if again.Scanned != 0 {
		test.Fatalf("expected second run to find nothing, got %+v", again)
	}
}

func TestUnlockDueContinuesPastFailures(test *testing.T) {
	test.Parallel()
	testFixture := newFixture(test, WithSweepBatchSize(1))
	walletRecord := testFixture.mustCreateWallet(test)
	testFixture.store.settings[testFixture.unit] = Settings{
		BusinessUnitID: testFixture.unit,
		PendingMethod:  PendingFixedDays,
		PendingDays:    1,
	}
	failing := testFixture.mustRecord(test, walletRecord.ID, EntryEarn, "40")
	testFixture.mustRecord(test, walletRecord.ID, EntryEarn, "60")
	testFixture.store.transitionErrors[failing.ID] = errors.New("row busy")

	report, err := testFixture.service.UnlockDue(context.Background(), time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		test.Fatalf("unlock: %v", err)
	}
	if report.Scanned != 2 || report.Processed != 1 || report.Failed != 1 {
		test.Fatalf("unexpected report %+v", report)
	}
	stored := testFixture.store.mustWallet(test, walletRecord.ID)
	assertDecimal(test, "available", stored.AvailableBalance, "60")
	assertDecimal(test, "locked", stored.LockedBalance, "40")
	if got := testFixture.store.mustEntry(test, failing.ID).Status; got != StatusPending {
		test.Fatalf("expected failed entry to stay pending, got %s", got)
	}
}

func TestExpireDueForfeitsUncoveredRemainder(test *testing.T) {
	test.Parallel()
	testFixture := newFixture(test)
	walletRecord := testFixture.mustCreateWallet(test)
	testFixture.store.settings[testFixture.unit] = Settings{
		BusinessUnitID:   testFixture.unit,
		ExpirationMethod: ExpirationFixedDays,
		ExpirationValue:  "10",
	}
	expiring := testFixture.mustRecord(test, walletRecord.ID, EntryEarn, "100")
	testFixture.clock.advanceDays(5)
	testFixture.mustRecord(test, walletRecord.ID, EntryEarn, "50")
	testFixture.clock.advanceDays(1)
	testFixture.mustRecord(test, walletRecord.ID, EntryBurn, "30")
	testFixture.clock.advanceDays(4)

	report, err := testFixture.service.ExpireDue(context.Background(), testFixture.clock.now)
	if err != nil {
		test.Fatalf("expire: %v", err)
	}
	if report.Processed != 1 {
		test.Fatalf("unexpected report %+v", report)
	}
	assertDecimal(test, "forfeited points", report.Points, "70")
	stored := testFixture.store.mustWallet(test, walletRecord.ID)
	assertDecimal(test, "available", stored.AvailableBalance, "50")
	assertDecimal(test, "total", stored.TotalBalance, "50")
	if got := testFixture.store.mustEntry(test, expiring.ID).Status; got != StatusExpired {
		test.Fatalf("expected expired entry, got %s", got)
	}
	expireEntries := testFixture.store.entriesOfType(EntryExpire)
	if len(expireEntries) != 1 {
		test.Fatalf("expected one expire entry, got %d", len(expireEntries))
	}
	assertDecimal(test, "expire amount", expireEntries[0].Amount, "70")
	if expireEntries[0].SourceType != SourceTypeLedgerEntry || expireEntries[0].SourceID != expiring.ID.String() {
		test.Fatalf("unexpected expire source %s/%s", expireEntries[0].SourceType, expireEntries[0].SourceID)
	}
}

func TestExpireDueMarksSpentEntryWithoutForfeit(test *testing.T) {
	test.Parallel()
	testFixture := newFixture(test)
	walletRecord := testFixture.mustCreateWallet(test)
	testFixture.store.settings[testFixture.unit] = Settings{
		BusinessUnitID:   testFixture.unit,
		ExpirationMethod: ExpirationFixedDays,
		ExpirationValue:  "10",
	}
	expiring := testFixture.mustRecord(test, walletRecord.ID, EntryEarn, "100")
	testFixture.clock.advanceDays(1)
	testFixture.mustRecord(test, walletRecord.ID, EntryBurn, "100")
	testFixture.clock.advanceDays(1)
	testFixture.mustRecord(test, walletRecord.ID, EntryEarn, "80")
	testFixture.clock.advanceDays(8)

	report, err := testFixture.service.ExpireDue(context.Background(), testFixture.clock.now)
	if err != nil {
		test.Fatalf("expire: %v", err)
	}
	if report.Processed != 1 || !report.Points.IsZero() {
		test.Fatalf("unexpected report %+v", report)
	}
	assertDecimal(test, "available", testFixture.store.mustWallet(test, walletRecord.ID).AvailableBalance, "80")
	if got := testFixture.store.mustEntry(test, expiring.ID).Status; got != StatusExpired {
		test.Fatalf("expected expired entry, got %s", got)
	}
	if got := len(testFixture.store.entriesOfType(EntryExpire)); got != 0 {
		test.Fatalf("expected no expire entries, got %d", got)
	}
}

func TestExpireDueIgnoresFutureExpiries(test *testing.T) {
	test.Parallel()
	testFixture := newFixture(test)
	walletRecord := testFixture.mustCreateWallet(test)
	testFixture.store.settings[testFixture.unit] = Settings{
		BusinessUnitID:   testFixture.unit,
		ExpirationMethod: ExpirationEndOfMonth,
	}
	testFixture.mustRecord(test, walletRecord.ID, EntryEarn, "10")

	report, err := testFixture.service.ExpireDue(context.Background(), time.Date(2024, time.January, 30, 12, 0, 0, 0, time.UTC))
	if err != nil {
		test.Fatalf("expire: %v", err)
	}
	if report.Scanned != 0 {
		test.Fatalf("expected nothing due, got %+v", report)
	}
	report, err = testFixture.service.ExpireDue(context.Background(), time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		test.Fatalf("expire: %v", err)
	}
	assertDecimal(test, "forfeited points", report.Points, "10")
}

func TestSweepLogsEachRecord(test *testing.T) {
	test.Parallel()
	logger := &recorderLogger{}
	testFixture := newFixture(test, WithOperationLogger(logger))
	walletRecord := testFixture.mustCreateWallet(test)
	testFixture.store.settings[testFixture.unit] = Settings{
		BusinessUnitID: testFixture.unit,
		PendingMethod:  PendingFixedDays,
		PendingDays:    1,
	}
	entry := testFixture.mustRecord(test, walletRecord.ID, EntryEarn, "5")
	logger.entries = nil

	if _, err := testFixture.service.UnlockDue(context.Background(), time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC)); err != nil {
		test.Fatalf("unlock: %v", err)
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(logger.entries))
	}
	logged := logger.entries[0]
	if logged.Operation != operationUnlock || logged.Actor != systemActor || logged.EntryID != entry.ID || logged.Status != operationStatusOK {
		test.Fatalf("unexpected log entry %+v", logged)
	}
}
