package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	id "handoff/pkg/domain"
	dErrors "handoff/pkg/domain-errors"
)

// Claims represents the JWT claims carried by party access tokens. Tokens are
// minted by the identity collaborator; this engine only validates them.
type Claims struct {
	PartyID string `json:"party_id"`
	jwt.RegisteredClaims
}

// JWTService handles JWT validation (and creation, used by tests and dev
// tooling) with a shared HS256 signing key.
type JWTService struct {
	signingKey []byte
	issuer     string
	audience   string
}

func NewJWTService(signingKey string, issuer string, audience string) *JWTService {
	return &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
	}
}

// GeneratePartyToken mints a signed token for the given party.
func (s *JWTService) GeneratePartyToken(partyID id.PartyID, expiresIn time.Duration) (string, error) {
	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		PartyID: partyID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
		},
	})

	signedToken, err := newToken.SignedString(s.signingKey)
	if err != nil {
		return "", err
	}
	return signedToken, nil
}

// ValidatePartyToken validates a token and returns the party it identifies.
func (s *JWTService) ValidatePartyToken(tokenString string) (id.PartyID, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return id.PartyID{}, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return id.PartyID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	if !parsed.Valid {
		return id.PartyID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return id.PartyID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}

	partyID, err := id.ParsePartyID(claims.PartyID)
	if err != nil {
		return id.PartyID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid party claim")
	}
	return partyID, nil
}
