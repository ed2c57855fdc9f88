package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"instanext/internal/config"
	"instanext/internal/domain"
	"instanext/internal/repository"
	apperrors "instanext/pkg/errors"
	"instanext/pkg/jwt"
	"instanext/pkg/logger"

	"golang.org/x/crypto/bcrypt"
)

type AuthService interface {
	Login(ctx context.Context, email, password string) (*LoginResponse, error)
}

type LoginResponse struct {
	User        domain.Profile `json:"user"`
	AccessToken string         `json:"access_token"`
}

type authService struct {
	profileRepo repository.ProfileRepository
	jwtCfg      config.JWTConfig
	log         logger.Logger
}

func NewAuthService(profileRepo repository.ProfileRepository, jwtCfg config.JWTConfig, log logger.Logger) AuthService {
	return &authService{
		profileRepo: profileRepo,
		jwtCfg:      jwtCfg,
		log:         log,
	}
}

func (s *authService) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, fmt.Errorf("email and password are required: %w", apperrors.ErrInvalidArgument)
	}

	account, err := s.profileRepo.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			// Не раскрываем, существует ли пользователь
			return nil, apperrors.ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, apperrors.ErrInvalidCredentials
	}

	accessToken, err := jwt.GenerateAccessToken(account.ID, account.Username, s.jwtCfg.AccessSecret, s.jwtCfg.Issuer, s.jwtCfg.AccessTTL)
	if err != nil {
		s.log.Error("Failed to generate access token", "error", err)
		return nil, fmt.Errorf("failed to generate access token: %w", apperrors.ErrInternalServer)
	}

	s.log.Info("User logged in", "user_id", account.ID)
	return &LoginResponse{User: account.Profile, AccessToken: accessToken}, nil
}
