package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"instanext/internal/domain"
	apperrors "instanext/pkg/errors"
	"instanext/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProfileRepository читает профили внешнего сервиса пользователей
type ProfileRepository interface {
	GetByIDs(ctx context.Context, ids []string) (map[string]domain.Profile, error)
	Exists(ctx context.Context, id string) (bool, error)
	GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error)
}

type profileRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewProfileRepository(db *pgxpool.Pool, log logger.Logger) ProfileRepository {
	return &profileRepository{db: db, log: log}
}

func (r *profileRepository) GetByIDs(ctx context.Context, ids []string) (map[string]domain.Profile, error) {
	profiles := make(map[string]domain.Profile, len(ids))
	if len(ids) == 0 {
		return profiles, nil
	}

	query := `
		SELECT id, username, name, COALESCE(avatar, '')
		FROM profiles
		WHERE id = ANY($1)
	`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		r.log.Error("Failed to get profiles", "error", err)
		return nil, fmt.Errorf("%w: %v", apperrors.ErrPersistence, err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Profile
		if err := rows.Scan(&p.ID, &p.Username, &p.Name, &p.Avatar); err != nil {
			r.log.Error("Failed to scan profile", "error", err)
			return nil, fmt.Errorf("%w: %v", apperrors.ErrPersistence, err)
		}
		profiles[p.ID] = p
	}

	return profiles, rows.Err()
}

func (r *profileRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM profiles WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		r.log.Error("Failed to check profile", "error", err, "user_id", id)
		return false, fmt.Errorf("%w: %v", apperrors.ErrPersistence, err)
	}
	return exists, nil
}

func (r *profileRepository) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	query := `
		SELECT id, username, name, COALESCE(avatar, ''), email, password_hash
		FROM profiles
		WHERE email = $1
	`

	account := &domain.Account{}
	err := r.db.QueryRow(ctx, query, email).Scan(
		&account.ID, &account.Username, &account.Name, &account.Avatar, &account.Email, &account.PasswordHash,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("account %s: %w", email, apperrors.ErrNotFound)
		}
		r.log.Error("Failed to get account by email", "error", err)
		return nil, fmt.Errorf("%w: %v", apperrors.ErrPersistence, err)
	}

	return account, nil
}

// MemoryProfileRepository хранит профили в памяти процесса, для STORE_DRIVER=memory и тестов
type MemoryProfileRepository struct {
	mu       sync.RWMutex
	accounts map[string]domain.Account
}

func NewMemoryProfileRepository(accounts ...domain.Account) *MemoryProfileRepository {
	r := &MemoryProfileRepository{accounts: make(map[string]domain.Account)}
	for _, a := range accounts {
		r.Put(a)
	}
	return r
}

func (r *MemoryProfileRepository) Put(account domain.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account.Email = strings.ToLower(strings.TrimSpace(account.Email))
	r.accounts[account.ID] = account
}

func (r *MemoryProfileRepository) GetByIDs(_ context.Context, ids []string) (map[string]domain.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profiles := make(map[string]domain.Profile, len(ids))
	for _, id := range ids {
		if a, ok := r.accounts[id]; ok {
			profiles[id] = a.Profile
		}
	}
	return profiles, nil
}

func (r *MemoryProfileRepository) Exists(_ context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.accounts[id]
	return ok, nil
}

func (r *MemoryProfileRepository) GetAccountByEmail(_ context.Context, email string) (*domain.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.accounts {
		if a.Email == email {
			account := a
			return &account, nil
		}
	}
	return nil, fmt.Errorf("account %s: %w", email, apperrors.ErrNotFound)
}
