// Package auth issues and validates payer tokens. A payer token is a signed
// proof that the holder created a specific bill; it gates payer-only
// mutations (amounts, line items). Participants never authenticate; they
// self-identify by name.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid or expired payer token")
	ErrMissingToken = errors.New("payer token required")
)

// PayerTokens signs and validates bill-scoped payer tokens.
type PayerTokens struct {
	secretKey []byte
}

// PayerClaims are the custom JWT claims binding a token to one bill.
type PayerClaims struct {
	BillID  string `json:"bill_id"`
	PayerID string `json:"payer_id"`
	jwt.RegisteredClaims
}

// NewPayerTokens creates a token manager with the given signing secret.
// secretKey should be a strong random string (e.g. 32 bytes).
func NewPayerTokens(secretKey string) *PayerTokens {
	return &PayerTokens{secretKey: []byte(secretKey)}
}

// Issue creates a payer token valid for the bill's whole lifetime.
func (m *PayerTokens) Issue(billID, payerID string, expiresAt time.Time) (string, error) {
	claims := &PayerClaims{
		BillID:  billID,
		PayerID: payerID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign payer token: %w", err)
	}
	return signed, nil
}

// Validate parses a payer token and checks it is scoped to the given bill.
func (m *PayerTokens) Validate(tokenString, billID string) (*PayerClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&PayerClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return m.secretKey, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*PayerClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.BillID != billID {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
