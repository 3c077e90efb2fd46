package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"chathub/internal/domain"
)

var ErrInvalidSubject = errors.New("invalid token subject")

// clockSkew tolerated on exp/iat between the issuing service and this one.
const clockSkew = 30 * time.Second

// TokenService verifies the bearer tokens issued by the auth service. Only
// the subject is read: it is the participant id.
type TokenService struct {
	secret    []byte
	expiresIn time.Duration
	parser    *jwt.Parser
}

func NewTokenService(secret string, expiresIn time.Duration) *TokenService {
	return &TokenService{
		secret:    []byte(secret),
		expiresIn: expiresIn,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithLeeway(clockSkew),
		),
	}
}

// CreateForParticipant issues a token with the default TTL. Production
// tokens come from the auth service; this serves tooling and tests.
func (t *TokenService) CreateForParticipant(id domain.ParticipantID) (string, error) {
	return t.CreateWithTTL(id, t.expiresIn)
}

func (t *TokenService) CreateWithTTL(id domain.ParticipantID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   string(id),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Participant validates the token and resolves the participant it was issued to.
func (t *TokenService) Participant(tokenStr string) (domain.ParticipantID, error) {
	var claims jwt.RegisteredClaims
	_, err := t.parser.ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	})
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", ErrInvalidSubject
	}
	return domain.ParticipantID(claims.Subject), nil
}
