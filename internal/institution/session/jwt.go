// Package session validates institution bearer tokens. Tokens are issued by
// the institution service; certledger only verifies them.
package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/requestcontext"
)

// Claims are the institution session claims.
type Claims struct {
	InstitutionID            string `json:"institution_id"`
	InstitutionName          string `json:"institution_name"`
	IsVerified               bool   `json:"is_verified"`
	ActiveSubscriptionPlanID string `json:"active_subscription_plan_id,omitempty"`
	jwt.RegisteredClaims
}

// JWTValidator checks HS256 session tokens.
type JWTValidator struct {
	signingKey []byte
	issuer     string
}

func NewJWTValidator(signingKey, issuer string) (*JWTValidator, error) {
	if signingKey == "" {
		return nil, errors.New("session signing key is required")
	}
	return &JWTValidator{signingKey: []byte(signingKey), issuer: issuer}, nil
}

// Issue signs a session token. Used by tooling and tests.
func (v *JWTValidator) Issue(s requestcontext.InstitutionSession, expiresIn time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		InstitutionID:            s.ID.String(),
		InstitutionName:          s.Name,
		IsVerified:               s.IsVerified,
		ActiveSubscriptionPlanID: string(s.ActiveSubscriptionPlanID),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.ID.String(),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(v.signingKey)
}

func (v *JWTValidator) ValidateToken(tokenString string) (*requestcontext.InstitutionSession, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return v.signingKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}

	instID, err := id.ParseInstitutionID(claims.InstitutionID)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}

	return &requestcontext.InstitutionSession{
		ID:                       instID,
		Name:                     claims.InstitutionName,
		IsVerified:               claims.IsVerified,
		ActiveSubscriptionPlanID: id.PlanID(claims.ActiveSubscriptionPlanID),
	}, nil
}
