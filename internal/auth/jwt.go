// Package auth — JWT-аутентификация административного REST API.
// Токены несут стабильный идентификатор актёра, его группы и флаг
// администратора; выдаются внешней системой аккаунтов с общим секретом.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var jwtSecret []byte

func init() {
	// Случайный секрет до явной установки: токены между перезапусками
	// недействительны, что безопаснее фиксированного секрета по умолчанию.
	jwtSecret = make([]byte, 32)
	if _, err := rand.Read(jwtSecret); err != nil {
		jwtSecret = []byte("development-secret-key-change-in-production")
	}
}

// Claims — полезная нагрузка токена
type Claims struct {
	ActorID string   `json:"actor_id"`
	Groups  []string `json:"groups,omitempty"`
	IsAdmin bool     `json:"is_admin"`
	jwt.RegisteredClaims
}

// GenerateJWT выписывает токен актёру на 24 часа
func GenerateJWT(actorID string, groups []string, isAdmin bool) (string, error) {
	claims := &Claims{
		ActorID: actorID,
		Groups:  groups,
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "mmo-claims",
			Subject:   actorID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

// ValidateJWT проверяет токен и возвращает его полезную нагрузку
func ValidateJWT(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("неожиданный метод подписи")
		}
		return jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("недействительный токен")
	}
	return claims, nil
}

// GenerateSecureSecret генерирует новый секрет для развёртывания
func GenerateSecureSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(b)
}

// SetJWTSecret устанавливает секрет из конфигурации (base64, минимум 32 байта)
func SetJWTSecret(secret string) error {
	decoded, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return err
	}
	if len(decoded) < 32 {
		return errors.New("секрет должен быть не короче 32 байт")
	}
	jwtSecret = decoded
	return nil
}
