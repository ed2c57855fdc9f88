package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Claims совпадают с тем, что выпускает сервис идентификации: идентификатор пользователя в user_id.
// Токены веб-клиента InstaNext несут его в userId.
type Claims struct {
	UserID       string `json:"user_id"`
	LegacyUserID string `json:"userId,omitempty"`
	Username     string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// fillUserID выбирает идентификатор по порядку: user_id, userId, sub.
func (c *Claims) fillUserID() error {
	for _, id := range []string{c.UserID, c.LegacyUserID, c.Subject} {
		if id != "" {
			c.UserID = id
			return nil
		}
	}
	return fmt.Errorf("%w: missing user_id", ErrInvalidToken)
}

func GenerateAccessToken(userID, username, secret, issuer string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func ValidateToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	if err := claims.fillUserID(); err != nil {
		return nil, err
	}
	return claims, nil
}

// ParseUnverified читает claims без проверки подписи. Только для клиента,
// которому нужно узнать свой id из выданного сервером токена.
func ParseUnverified(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if err := claims.fillUserID(); err != nil {
		return nil, err
	}
	return claims, nil
}
