package crypto

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Ошибки хеширования
var (
	ErrEmptyToken    = errors.New("token cannot be empty")
	ErrTokenMismatch = errors.New("token does not match hash")
	ErrInvalidHash   = errors.New("invalid token hash format")
	ErrTokenTooLong  = errors.New("token exceeds maximum length of 72 bytes")
)

// DefaultCost - стоимость bcrypt по умолчанию
const DefaultCost = 12

// MaxTokenLength - bcrypt ограничен 72 байтами входа
const MaxTokenLength = 72

// HashToken хэширует API токен через bcrypt.
// Хэш хранится в конфигурации, сам токен нигде не сохраняется.
func HashToken(token string) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}
	if len(token) > MaxTokenLength {
		return "", ErrTokenTooLong
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(token), DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyToken проверяет соответствие токена хэшу.
// bcrypt сравнивает за constant time - защита от timing attacks.
func VerifyToken(token, hash string) error {
	if token == "" {
		return ErrEmptyToken
	}
	if hash == "" {
		return ErrInvalidHash
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrTokenMismatch
		}
		return ErrInvalidHash
	}
	return nil
}

// CheckToken - bool-обёртка над VerifyToken для условий
func CheckToken(token, hash string) bool {
	return VerifyToken(token, hash) == nil
}
