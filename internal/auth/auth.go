// Package auth keeps the operator's backend session: it logs in through the
// backend REST API and remembers the issued token between runs.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"helpdesk/internal/models"
)

var (
	ErrNoToken         = errors.New("not logged in, run helpdesk -login")
	ErrMissingPassword = errors.New("email and password are required")
)

type credentialStore interface {
	SaveCredentials(creds models.Credentials) error
	LoadCredentials() (models.Credentials, error)
	DeleteCredentials() error
}

type loginer interface {
	Login(ctx context.Context, email, password string) (models.Credentials, error)
}

type AuthService struct {
	store   credentialStore
	backend loginer
	log     *slog.Logger

	mu      sync.RWMutex
	current *models.Credentials
}

func NewAuthService(store credentialStore, backend loginer, logger *slog.Logger) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		store:   store,
		backend: backend,
		log:     logger.With("component", "auth"),
	}
}

// Login exchanges email and password for a backend token and persists it.
func (as *AuthService) Login(ctx context.Context, email, password string) (models.Credentials, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return models.Credentials{}, ErrMissingPassword
	}

	creds, err := as.backend.Login(ctx, email, password)
	if err != nil {
		as.log.Warn("login failed", "email", email, "error", err)
		return models.Credentials{}, err
	}
	if creds.Admin.Email == "" {
		creds.Admin.Email = email
	}

	if err := as.store.SaveCredentials(creds); err != nil {
		return models.Credentials{}, fmt.Errorf("failed to save credentials: %w", err)
	}

	as.mu.Lock()
	as.current = &creds
	as.mu.Unlock()

	as.log.Info("logged in", "email", creds.Admin.Email)
	return creds, nil
}

func (as *AuthService) Logoff() error {
	as.mu.Lock()
	as.current = nil
	as.mu.Unlock()
	return as.store.DeleteCredentials()
}

// Credentials returns the stored session, or ErrNoToken when there is none.
func (as *AuthService) Credentials() (models.Credentials, error) {
	as.mu.RLock()
	cur := as.current
	as.mu.RUnlock()
	if cur != nil {
		return *cur, nil
	}

	creds, err := as.store.LoadCredentials()
	if errors.Is(err, models.ErrNotFound) || (err == nil && creds.Token == "") {
		return models.Credentials{}, ErrNoToken
	}
	if err != nil {
		return models.Credentials{}, fmt.Errorf("failed to load credentials: %w", err)
	}

	as.mu.Lock()
	as.current = &creds
	as.mu.Unlock()
	return creds, nil
}

func (as *AuthService) Token() (string, error) {
	creds, err := as.Credentials()
	if err != nil {
		return "", err
	}
	return creds.Token, nil
}
