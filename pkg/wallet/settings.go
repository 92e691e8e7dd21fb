package wallet

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PendingMethod controls whether earned points wait before becoming spendable.
type PendingMethod string

const (
	PendingNone      PendingMethod = "none"
	PendingFixedDays PendingMethod = "fixed_days"
)

// ExpirationMethod controls how the expiry date of earned points is derived.
type ExpirationMethod string

const (
	ExpirationNone       ExpirationMethod = "none"
	ExpirationFixedDays  ExpirationMethod = "fixed_days"
	ExpirationEndOfMonth ExpirationMethod = "end_of_month"
	ExpirationEndOfYear  ExpirationMethod = "end_of_year"
	ExpirationAnnualDate ExpirationMethod = "annual_date"
)

// Settings is the per business unit wallet policy.
type Settings struct {
	BusinessUnitID       BusinessUnitID
	PendingMethod        PendingMethod
	PendingDays          int
	ExpirationMethod     ExpirationMethod
	ExpirationValue      string
	AllowNegativeBalance bool
	UpdatedAt            time.Time
}

// DefaultSettings applies when a business unit has no stored settings.
func DefaultSettings(businessUnitID BusinessUnitID) Settings {
	return Settings{
		BusinessUnitID:   businessUnitID,
		PendingMethod:    PendingNone,
		ExpirationMethod: ExpirationNone,
	}
}

// ParsePendingMethod validates a raw pending method. Empty input means none.
func ParsePendingMethod(raw string) (PendingMethod, error) {
	switch PendingMethod(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PendingNone:
		return PendingNone, nil
	case PendingFixedDays:
		return PendingFixedDays, nil
	}
	return "", fmt.Errorf("%w: unknown pending method %q", ErrInvalidSettings, raw)
}

// ParseExpirationMethod validates a raw expiration method. Empty input means none.
func ParseExpirationMethod(raw string) (ExpirationMethod, error) {
	switch ExpirationMethod(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ExpirationNone:
		return ExpirationNone, nil
	case ExpirationFixedDays:
		return ExpirationFixedDays, nil
	case ExpirationEndOfMonth:
		return ExpirationEndOfMonth, nil
	case ExpirationEndOfYear:
		return ExpirationEndOfYear, nil
	case ExpirationAnnualDate:
		return ExpirationAnnualDate, nil
	}
	return "", fmt.Errorf("%w: unknown expiration method %q", ErrInvalidSettings, raw)
}

// Validate checks that the method/value pairs are coherent.
func (settings Settings) Validate() error {
	if settings.BusinessUnitID.IsZero() {
		return fmt.Errorf("%w: business unit is required", ErrInvalidSettings)
	}
	if settings.PendingMethod == PendingFixedDays && settings.PendingDays <= 0 {
		return fmt.Errorf("%w: pending days must be positive", ErrInvalidSettings)
	}
	switch settings.ExpirationMethod {
	case ExpirationFixedDays:
		if _, err := expirationDays(settings.ExpirationValue); err != nil {
			return err
		}
	case ExpirationAnnualDate:
		if _, _, err := annualDate(settings.ExpirationValue); err != nil {
			return err
		}
	}
	return nil
}

// EntryDates computes unlock and expiry dates for a movement created at now.
// Only earn movements carry dates.
func (settings Settings) EntryDates(entryType EntryType, now time.Time) (*time.Time, *time.Time, error) {
	if entryType != EntryEarn {
		return nil, nil, nil
	}
	today := StartOfDay(now)
	var unlockDate *time.Time
	if settings.PendingMethod == PendingFixedDays && settings.PendingDays > 0 {
		unlock := addDays(today, settings.PendingDays)
		unlockDate = &unlock
	}
	base := today
	if unlockDate != nil {
		base = *unlockDate
	}
	expiry, err := settings.expiryFrom(base)
	if err != nil {
		return nil, nil, err
	}
	return unlockDate, expiry, nil
}

func (settings Settings) expiryFrom(base time.Time) (*time.Time, error) {
	var expiry time.Time
	switch settings.ExpirationMethod {
	case "", ExpirationNone:
		return nil, nil
	case ExpirationFixedDays:
		days, err := expirationDays(settings.ExpirationValue)
		if err != nil {
			return nil, err
		}
		expiry = addDays(base, days)
	case ExpirationEndOfMonth:
		expiry = time.Date(base.Year(), base.Month()+1, 0, 0, 0, 0, 0, time.UTC)
	case ExpirationEndOfYear:
		expiry = time.Date(base.Year(), time.December, 31, 0, 0, 0, 0, time.UTC)
	case ExpirationAnnualDate:
		month, day, err := annualDate(settings.ExpirationValue)
		if err != nil {
			return nil, err
		}
		expiry = time.Date(base.Year(), month, day, 0, 0, 0, 0, time.UTC)
		if expiry.Before(base) {
			expiry = time.Date(base.Year()+1, month, day, 0, 0, 0, 0, time.UTC)
		}
	default:
		return nil, fmt.Errorf("%w: unknown expiration method %q", ErrInvalidSettings, settings.ExpirationMethod)
	}
	return &expiry, nil
}

func expirationDays(raw string) (int, error) {
	days, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || days <= 0 {
		return 0, fmt.Errorf("%w: expiration value %q is not a positive day count", ErrInvalidSettings, raw)
	}
	return days, nil
}

func annualDate(raw string) (time.Month, int, error) {
	parsed, err := time.Parse(annualDateLayout, strings.TrimSpace(raw))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: expiration value %q is not MM-DD", ErrInvalidSettings, raw)
	}
	return parsed.Month(), parsed.Day(), nil
}

// StartOfDay truncates a timestamp to midnight UTC.
func StartOfDay(moment time.Time) time.Time {
	utc := moment.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
}

func addDays(day time.Time, days int) time.Time {
	return day.AddDate(0, 0, days)
}

// resolveSettings returns stored settings or the defaults when none exist.
func resolveSettings(ctx context.Context, store Store, businessUnitID BusinessUnitID) (Settings, error) {
	settings, err := store.GetSettings(ctx, businessUnitID)
	if errors.Is(err, ErrSettingsNotFound) {
		return DefaultSettings(businessUnitID), nil
	}
	if err != nil {
		return Settings{}, err
	}
	return settings, nil
}
