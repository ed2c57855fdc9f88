package service

import (
	"fmt"
	"strings"

	"instanext/internal/config"
	"instanext/pkg/jwt"
	apperrors "instanext/pkg/errors"
)

// IdentityResolver сопоставляет bearer-токен стабильному идентификатору пользователя.
type IdentityResolver interface {
	ResolveUserID(credential string) (string, error)
}

type jwtIdentityResolver struct {
	secret string
}

func NewIdentityResolver(jwtCfg config.JWTConfig) IdentityResolver {
	return &jwtIdentityResolver{secret: jwtCfg.AccessSecret}
}

func (r *jwtIdentityResolver) ResolveUserID(credential string) (string, error) {
	token := strings.TrimSpace(credential)
	if len(token) > len("Bearer ") && strings.EqualFold(token[:len("Bearer ")], "Bearer ") {
		token = strings.TrimSpace(token[len("Bearer "):])
	}
	if token == "" {
		return "", fmt.Errorf("missing credential: %w", apperrors.ErrUnauthenticated)
	}

	claims, err := jwt.ValidateToken(token, r.secret)
	if err != nil {
		return "", fmt.Errorf("%v: %w", err, apperrors.ErrUnauthenticated)
	}

	return claims.UserID, nil
}
