package workflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Заголовки вызова воркфлоу.
const (
	HeaderRunID     = "Workflow-Run-Id"
	HeaderSignature = "Workflow-Signature"
)

const signatureTTL = 5 * time.Minute

// ErrInvalidSignature подпись вызова не прошла проверку.
var ErrInvalidSignature = errors.New("invalid workflow signature")

// Signer подписывает вызовы воркфлоу HS256-токеном, subject которого равен идентификатору запуска.
type Signer struct {
	key []byte
}

// NewSigner создает подписчика с ключом key.
func NewSigner(key string) *Signer {
	return &Signer{key: []byte(key)}
}

// Sign выпускает подпись для запуска runID.
func (s *Signer) Sign(runID string, now time.Time) (string, error) {
	const op = "workflow.Sign"
	claims := jwt.RegisteredClaims{
		Subject:   runID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(signatureTTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return signed, nil
}

// Verify проверяет, что signature подписана нашим ключом, не истекла и выпущена для runID.
func (s *Signer) Verify(signature, runID string) error {
	const op = "workflow.Verify"
	if signature == "" || runID == "" {
		return fmt.Errorf("%s: %w", op, ErrInvalidSignature)
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(signature, claims, func(_ *jwt.Token) (any, error) {
		return s.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired(), jwt.WithSubject(runID))
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrInvalidSignature, err)
	}
	return nil
}
