package wallet

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultTenantValue       = "tenant-1"
	defaultBusinessUnitValue = "bu-1"
	defaultCustomerValue     = "customer-1"
	defaultRuleValue         = "rule-1"
)

type stubStore struct {
	wallets  map[WalletID]Wallet
	entries  []Entry
	settings map[BusinessUnitID]Settings
	coupons  map[string]Coupon
	sequence int

	lockWalletError  error
	insertEntryError error
	updateWalletErr  error
	transitionErrors map[EntryID]error
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		wallets:          make(map[WalletID]Wallet),
		settings:         make(map[BusinessUnitID]Settings),
		coupons:          make(map[string]Coupon),
		transitionErrors: make(map[EntryID]error),
	}
}

// WithTx restores the previous state when fn fails.
func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	wallets := make(map[WalletID]Wallet, len(store.wallets))
	for id, walletRecord := range store.wallets {
		wallets[id] = walletRecord
	}
	entries := append([]Entry(nil), store.entries...)
	coupons := make(map[string]Coupon, len(store.coupons))
	for key, coupon := range store.coupons {
		coupons[key] = coupon
	}
	if err := fn(ctx, store); err != nil {
		store.wallets = wallets
		store.entries = entries
		store.coupons = coupons
		return err
	}
	return nil
}

func (store *stubStore) nextID(prefix string) string {
	store.sequence++
	return fmt.Sprintf("%s-%d", prefix, store.sequence)
}

func (store *stubStore) CreateWallet(ctx context.Context, walletRecord Wallet) (Wallet, error) {
	if _, err := store.FindWallet(ctx, walletRecord.TenantID, walletRecord.BusinessUnitID, walletRecord.CustomerID); err == nil {
		return Wallet{}, ErrWalletExists
	}
	walletRecord.ID = WalletID{value: store.nextID("wallet")}
	walletRecord.Version = 1
	store.wallets[walletRecord.ID] = walletRecord
	return walletRecord, nil
}

func (store *stubStore) FindWallet(ctx context.Context, tenantID TenantID, businessUnitID BusinessUnitID, customerID CustomerID) (Wallet, error) {
	for _, walletRecord := range store.wallets {
		if walletRecord.TenantID == tenantID && walletRecord.BusinessUnitID == businessUnitID && walletRecord.CustomerID == customerID {
			return walletRecord, nil
		}
	}
	return Wallet{}, ErrWalletNotFound
}

func (store *stubStore) GetWallet(ctx context.Context, walletID WalletID) (Wallet, error) {
	walletRecord, ok := store.wallets[walletID]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return walletRecord, nil
}

func (store *stubStore) LockWallet(ctx context.Context, walletID WalletID) (Wallet, error) {
	if store.lockWalletError != nil {
		return Wallet{}, store.lockWalletError
	}
	return store.GetWallet(ctx, walletID)
}

func (store *stubStore) UpdateWallet(ctx context.Context, walletRecord Wallet) (Wallet, error) {
	if store.updateWalletErr != nil {
		return Wallet{}, store.updateWalletErr
	}
	current, ok := store.wallets[walletRecord.ID]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	if current.Version != walletRecord.Version {
		return Wallet{}, ErrConcurrentUpdate
	}
	if !walletRecord.Consistent() {
		return Wallet{}, ErrInvalidBalance
	}
	walletRecord.Version++
	store.wallets[walletRecord.ID] = walletRecord
	return walletRecord, nil
}

func (store *stubStore) ListWallets(ctx context.Context, filter WalletFilter) ([]Wallet, error) {
	var wallets []Wallet
	for _, walletRecord := range store.wallets {
		if !filter.BusinessUnitID.IsZero() && walletRecord.BusinessUnitID != filter.BusinessUnitID {
			continue
		}
		wallets = append(wallets, walletRecord)
	}
	sort.Slice(wallets, func(left, right int) bool { return wallets[left].ID.String() < wallets[right].ID.String() })
	return wallets, nil
}

func (store *stubStore) InsertEntry(ctx context.Context, entry Entry) (Entry, error) {
	if store.insertEntryError != nil {
		return Entry{}, store.insertEntryError
	}
	entry.ID = EntryID{value: store.nextID("entry")}
	store.entries = append(store.entries, entry)
	return entry, nil
}

func (store *stubStore) LockEntry(ctx context.Context, entryID EntryID) (Entry, error) {
	for _, entry := range store.entries {
		if entry.ID == entryID {
			return entry, nil
		}
	}
	return Entry{}, ErrEntryNotFound
}

func (store *stubStore) TransitionEntry(ctx context.Context, transition EntryTransition) error {
	if err := store.transitionErrors[transition.EntryID]; err != nil {
		return err
	}
	for index, entry := range store.entries {
		if entry.ID != transition.EntryID {
			continue
		}
		if entry.Status != transition.From {
			return ErrAlreadyProcessed
		}
		entry.Status = transition.To
		if transition.PrevAvailablePoints != nil {
			entry.PrevAvailablePoints = *transition.PrevAvailablePoints
		}
		if transition.PointBalance != nil {
			entry.PointBalance = *transition.PointBalance
		}
		entry.UpdatedAt = transition.At
		store.entries[index] = entry
		return nil
	}
	return ErrEntryNotFound
}

func (store *stubStore) ListEntries(ctx context.Context, walletID WalletID, before time.Time, limit int) ([]Entry, error) {
	var entries []Entry
	for index := len(store.entries) - 1; index >= 0; index-- {
		entry := store.entries[index]
		if entry.WalletID == walletID && entry.CreatedAt.Before(before) {
			entries = append(entries, entry)
		}
		if limit > 0 && len(entries) == limit {
			break
		}
	}
	return entries, nil
}

func (store *stubStore) ListDueUnlocks(ctx context.Context, asOf time.Time, limit int) ([]Entry, error) {
	var entries []Entry
	for _, entry := range store.entries {
		if entry.Type == EntryEarn && entry.Status == StatusPending && entry.UnlockDate != nil && !entry.UnlockDate.After(asOf) {
			entries = append(entries, entry)
		}
	}
	return truncateEntries(entries, limit), nil
}

func (store *stubStore) ListDueExpiries(ctx context.Context, asOf time.Time, limit int) ([]Entry, error) {
	var entries []Entry
	for _, entry := range store.entries {
		if entry.Type == EntryEarn && entry.Status == StatusActive && entry.ExpiryDate != nil && !entry.ExpiryDate.After(asOf) {
			entries = append(entries, entry)
		}
	}
	sort.SliceStable(entries, func(left, right int) bool { return entries[left].ExpiryDate.Before(*entries[right].ExpiryDate) })
	return truncateEntries(entries, limit), nil
}

func truncateEntries(entries []Entry, limit int) []Entry {
	if limit > 0 && len(entries) > limit {
		return entries[:limit]
	}
	return entries
}

func (store *stubStore) SumCreditsBetween(ctx context.Context, walletID WalletID, after time.Time, through time.Time, excludeEntryID EntryID) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, entry := range store.entries {
		if entry.WalletID != walletID || entry.ID == excludeEntryID || entry.Status != StatusActive {
			continue
		}
		if entry.Type != EntryEarn && entry.Type != EntryAdjustment {
			continue
		}
		if !entry.Amount.IsPositive() || !entry.CreatedAt.After(after) || !entry.CreatedAt.Before(through) {
			continue
		}
		sum = sum.Add(entry.Amount)
	}
	return sum, nil
}

func (store *stubStore) GetSettings(ctx context.Context, businessUnitID BusinessUnitID) (Settings, error) {
	settings, ok := store.settings[businessUnitID]
	if !ok {
		return Settings{}, ErrSettingsNotFound
	}
	return settings, nil
}

func (store *stubStore) UpsertSettings(ctx context.Context, settings Settings) (Settings, error) {
	store.settings[settings.BusinessUnitID] = settings
	return settings, nil
}

func (store *stubStore) LockCoupon(ctx context.Context, businessUnitID BusinessUnitID, code string) (Coupon, error) {
	coupon, ok := store.coupons[businessUnitID.String()+"/"+code]
	if !ok {
		return Coupon{}, ErrInvalidCoupon
	}
	return coupon, nil
}

func (store *stubStore) MarkCouponRedeemed(ctx context.Context, couponID string, at time.Time) error {
	for key, coupon := range store.coupons {
		if coupon.ID == couponID {
			coupon.Redeemed = true
			store.coupons[key] = coupon
			return nil
		}
	}
	return ErrInvalidCoupon
}

func (store *stubStore) addCoupon(coupon Coupon) {
	store.coupons[coupon.BusinessUnitID.String()+"/"+coupon.Code] = coupon
}

func (store *stubStore) mustWallet(test *testing.T, walletID WalletID) Wallet {
	test.Helper()
	walletRecord, ok := store.wallets[walletID]
	if !ok {
		test.Fatalf("wallet %s not found", walletID)
	}
	if !walletRecord.Consistent() {
		test.Fatalf("wallet %s breaks total = available + locked: %+v", walletID, walletRecord)
	}
	return walletRecord
}

func (store *stubStore) mustEntry(test *testing.T, entryID EntryID) Entry {
	test.Helper()
	entry, err := store.LockEntry(context.Background(), entryID)
	if err != nil {
		test.Fatalf("entry %s: %v", entryID, err)
	}
	return entry
}

func (store *stubStore) entriesOfType(entryType EntryType) []Entry {
	var entries []Entry
	for _, entry := range store.entries {
		if entry.Type == entryType {
			entries = append(entries, entry)
		}
	}
	return entries
}

type stubAccess struct {
	denied map[BusinessUnitID]bool
	err    error
}

func (access *stubAccess) CheckAccess(ctx context.Context, actor Actor, businessUnitID BusinessUnitID) (bool, error) {
	if access.err != nil {
		return false, access.err
	}
	return !access.denied[businessUnitID], nil
}

type stubCustomers struct {
	customers map[CustomerID]Customer
}

func (resolver *stubCustomers) ResolveCustomer(ctx context.Context, lookup CustomerLookup) (Customer, error) {
	if !lookup.CustomerID.IsZero() {
		customer, ok := resolver.customers[lookup.CustomerID]
		if !ok {
			return Customer{}, ErrCustomerNotFound
		}
		return customer, nil
	}
	for _, customer := range resolver.customers {
		if lookup.Phone != "" && customer.Phone == lookup.Phone {
			return customer, nil
		}
	}
	return Customer{}, ErrCustomerNotFound
}

type stubRules struct {
	rules []BurnRule
}

func (lookup *stubRules) ActiveBurnRules(ctx context.Context, tenantID TenantID, businessUnitID BusinessUnitID, language string) ([]BurnRule, error) {
	var rules []BurnRule
	for _, rule := range lookup.rules {
		if rule.Active && rule.BusinessUnitID == businessUnitID {
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

func (lookup *stubRules) BurnRule(ctx context.Context, ruleID string) (BurnRule, error) {
	for _, rule := range lookup.rules {
		if rule.ID == ruleID {
			return rule, nil
		}
	}
	return BurnRule{}, ErrRuleNotFound
}

type stubNotifier struct {
	notifications []Notification
	err           error
}

func (notifier *stubNotifier) Dispatch(ctx context.Context, notification Notification) error {
	if notifier.err != nil {
		return notifier.err
	}
	notifier.notifications = append(notifier.notifications, notification)
	return nil
}

type stubAudit struct {
	events []AuditEvent
}

func (sink *stubAudit) RecordAudit(ctx context.Context, event AuditEvent) error {
	sink.events = append(sink.events, event)
	return nil
}

type testClock struct {
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, time.January, 1, 10, 0, 0, 0, time.UTC)}
}

func (clock *testClock) Now() time.Time {
	return clock.now
}

func (clock *testClock) advanceDays(days int) {
	clock.now = clock.now.AddDate(0, 0, days)
}

type fixture struct {
	store     *stubStore
	clock     *testClock
	access    *stubAccess
	customers *stubCustomers
	rules     *stubRules
	notifier  *stubNotifier
	audit     *stubAudit
	service   *Service
	actor     Actor
	tenant    TenantID
	unit      BusinessUnitID
	customer  CustomerID
}

func newFixture(test *testing.T, options ...ServiceOption) *fixture {
	test.Helper()
	tenant := mustTenantID(test, defaultTenantValue)
	unit := mustBusinessUnitID(test, defaultBusinessUnitValue)
	customer := mustCustomerID(test, defaultCustomerValue)
	testFixture := &fixture{
		store:  newStubStore(test),
		clock:  newTestClock(),
		access: &stubAccess{denied: make(map[BusinessUnitID]bool)},
		customers: &stubCustomers{customers: map[CustomerID]Customer{
			customer: {
				ID:                   customer,
				TenantID:             tenant,
				BusinessUnitID:       unit,
				Phone:                "+15550001",
				Language:             "en",
				NotificationsEnabled: true,
			},
		}},
		rules:    &stubRules{},
		notifier: &stubNotifier{},
		audit:    &stubAudit{},
		actor:    Actor{Subject: "cashier-1"},
		tenant:   tenant,
		unit:     unit,
		customer: customer,
	}
	allOptions := append([]ServiceOption{
		WithAccessChecker(testFixture.access),
		WithCustomerResolver(testFixture.customers),
		WithRuleLookup(testFixture.rules),
		WithNotificationDispatcher(testFixture.notifier),
		WithAuditSink(testFixture.audit),
	}, options...)
	service, err := NewService(testFixture.store, testFixture.clock.Now, allOptions...)
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	testFixture.service = service
	return testFixture
}

func (testFixture *fixture) mustCreateWallet(test *testing.T) Wallet {
	test.Helper()
	walletRecord, err := testFixture.service.CreateWallet(context.Background(), testFixture.actor, testFixture.customer, testFixture.unit, testFixture.tenant)
	if err != nil {
		test.Fatalf("create wallet: %v", err)
	}
	return walletRecord
}

func (testFixture *fixture) mustRecord(test *testing.T, walletID WalletID, entryType EntryType, amount string) Entry {
	test.Helper()
	entry, err := testFixture.service.RecordMovement(context.Background(), testFixture.actor, MovementRequest{
		WalletID:       walletID,
		BusinessUnitID: testFixture.unit,
		Type:           entryType,
		Amount:         mustDecimal(test, amount),
	})
	if err != nil {
		test.Fatalf("record %s %s: %v", entryType, amount, err)
	}
	return entry
}

func (testFixture *fixture) addRule(test *testing.T, factor string, limit string, percent string, minSpend string) BurnRule {
	test.Helper()
	rule := BurnRule{
		ID:                       fmt.Sprintf("%s-%d", defaultRuleValue, len(testFixture.rules.rules)),
		TenantID:                 testFixture.tenant,
		BusinessUnitID:           testFixture.unit,
		Name:                     "standard",
		Language:                 "en",
		MinAmountSpent:           mustDecimal(test, minSpend),
		MaxRedemptionPointsLimit: mustDecimal(test, limit),
		PointsConversionFactor:   mustDecimal(test, factor),
		MaxBurnPercentOnInvoice:  mustDecimal(test, percent),
		Active:                   true,
	}
	testFixture.rules.rules = append(testFixture.rules.rules, rule)
	return rule
}

func mustDecimal(test *testing.T, raw string) decimal.Decimal {
	test.Helper()
	value, err := decimal.NewFromString(raw)
	if err != nil {
		test.Fatalf("decimal %q: %v", raw, err)
	}
	return value
}

func mustTenantID(test *testing.T, raw string) TenantID {
	test.Helper()
	id, err := NewTenantID(raw)
	if err != nil {
		test.Fatalf("tenant id: %v", err)
	}
	return id
}

func mustBusinessUnitID(test *testing.T, raw string) BusinessUnitID {
	test.Helper()
	id, err := NewBusinessUnitID(raw)
	if err != nil {
		test.Fatalf("business unit id: %v", err)
	}
	return id
}

func mustCustomerID(test *testing.T, raw string) CustomerID {
	test.Helper()
	id, err := NewCustomerID(raw)
	if err != nil {
		test.Fatalf("customer id: %v", err)
	}
	return id
}

func assertDecimal(test *testing.T, label string, got decimal.Decimal, want string) {
	test.Helper()
	expected, err := decimal.NewFromString(want)
	if err != nil {
		test.Fatalf("decimal %q: %v", want, err)
	}
	if !got.Equal(expected) {
		test.Fatalf("expected %s %s, got %s", label, expected, got)
	}
}
