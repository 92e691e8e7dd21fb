package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/pointswallet/pkg/wallet"
	"github.com/golang-jwt/jwt/v5"
)

// AllBusinessUnits grants access to every business unit.
const AllBusinessUnits = "*"

var (
	// ErrInvalidToken reports a bearer token that failed verification.
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidConfig reports a checker constructed without a signing key.
	ErrInvalidConfig = errors.New("invalid auth config")
)

// Claims are the bearer token claims issued to point-of-sale terminals and services.
type Claims struct {
	BusinessUnits []string `json:"business_units"`
	jwt.RegisteredClaims
}

// Config configures token verification.
type Config struct {
	SigningKey string
	Issuer     string
	Leeway     time.Duration
	// Now supplies the verification time. Nil uses the wall clock.
	Now func() time.Time
	// Operators lists session subjects allowed to act on every business unit.
	Operators []string
}

// AccessChecker implements wallet.AccessChecker over HS256 bearer tokens and
// an operator allow-list for cookie sessions.
type AccessChecker struct {
	signingKey []byte
	issuer     string
	leeway     time.Duration
	now        func() time.Time
	operators  map[string]struct{}
}

// NewAccessChecker validates the configuration and returns a checker.
func NewAccessChecker(cfg Config) (*AccessChecker, error) {
	signingKey := strings.TrimSpace(cfg.SigningKey)
	if signingKey == "" {
		return nil, fmt.Errorf("%w: signing key is required", ErrInvalidConfig)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	operators := make(map[string]struct{}, len(cfg.Operators))
	for _, operator := range cfg.Operators {
		trimmed := strings.TrimSpace(operator)
		if trimmed != "" {
			operators[trimmed] = struct{}{}
		}
	}
	return &AccessChecker{
		signingKey: []byte(signingKey),
		issuer:     strings.TrimSpace(cfg.Issuer),
		leeway:     cfg.Leeway,
		now:        now,
		operators:  operators,
	}, nil
}

// Authenticate verifies a bearer token and returns its claims.
func (checker *AccessChecker) Authenticate(token string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(checker.leeway),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(checker.now),
	}
	if checker.issuer != "" {
		options = append(options, jwt.WithIssuer(checker.issuer))
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return checker.signingKey, nil
	}, options...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// CheckAccess reports whether the actor may operate on the business unit. A
// zero business unit asks for access to every unit. Actors without a token are
// cookie sessions authenticated upstream and pass only when listed as operators.
func (checker *AccessChecker) CheckAccess(ctx context.Context, actor wallet.Actor, businessUnitID wallet.BusinessUnitID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if actor.Token == "" {
		_, isOperator := checker.operators[actor.Subject]
		return isOperator, nil
	}
	claims, err := checker.Authenticate(actor.Token)
	if err != nil {
		return false, nil
	}
	if actor.Subject != "" && claims.Subject != "" && actor.Subject != claims.Subject {
		return false, nil
	}
	return grants(claims.BusinessUnits, businessUnitID), nil
}

// IssueToken signs a bearer token for the subject and business units.
func (checker *AccessChecker) IssueToken(subject string, businessUnits []string, now time.Time, ttl time.Duration) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", fmt.Errorf("%w: subject is required", ErrInvalidToken)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("%w: ttl must be positive", ErrInvalidToken)
	}
	claims := Claims{
		BusinessUnits: businessUnits,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    checker.issuer,
			IssuedAt:  jwt.NewNumericDate(now.UTC()),
			ExpiresAt: jwt.NewNumericDate(now.UTC().Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(checker.signingKey)
}

func grants(businessUnits []string, businessUnitID wallet.BusinessUnitID) bool {
	for _, unit := range businessUnits {
		if unit == AllBusinessUnits {
			return true
		}
		if !businessUnitID.IsZero() && unit == businessUnitID.String() {
			return true
		}
	}
	return false
}
