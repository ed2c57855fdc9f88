package client

import (
	"fmt"

	"instanext/pkg/jwt"
	apperrors "instanext/pkg/errors"
)

// UserIDFromToken извлекает id пользователя из токена, выданного сервером.
// Подпись не проверяется, это делает сервер при каждом запросе.
func UserIDFromToken(token string) (string, error) {
	claims, err := jwt.ParseUnverified(token)
	if err != nil {
		return "", fmt.Errorf("%v: %w", err, apperrors.ErrUnauthenticated)
	}
	return claims.UserID, nil
}
