// Package jwt реализует выпуск и проверку JWT токенов сервиса аутентификации.
//
// Токен несёт ID пользователя в поле sub, а также email и роль.
package jwt

import (
	"errors"
	"time"
)

// ErrInvalidToken токен не прошёл проверку.
var ErrInvalidToken = errors.New("invalid token")

// Maker описывает выпуск и разбор токенов.
type Maker interface {
	GenerateToken(userID, email, role string) (string, error)
	ParseToken(tokenStr string) (*CustomClaims, error)
}

// MakerImpl реализует Maker на основе HS256 и секретного ключа.
type MakerImpl struct {
	secretKey string
	tokenTTL  time.Duration
}

// NewJWTMaker создаёт новый экземпляр MakerImpl на основе секретного ключа и TTL.
func NewJWTMaker(secretKey string, ttl time.Duration) *MakerImpl {
	return &MakerImpl{
		secretKey: secretKey,
		tokenTTL:  ttl,
	}
}
