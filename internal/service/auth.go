package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jornet-server/internal/domain"
)

// AuthService turns out-of-band admin identification into tokens
type AuthService struct {
	store  AdminStore
	tokens TokenIssuer
	logger *slog.Logger
}

// NewAuthService creates a new auth service
func NewAuthService(store AdminStore, tokens TokenIssuer, logger *slog.Logger) *AuthService {
	return &AuthService{
		store:  store,
		tokens: tokens,
		logger: logger,
	}
}

// ByUUID authenticates an admin that identifies with a bare UUID. The
// account is created on first use. Accounts linked to GitHub must sign in
// through GitHub.
func (s *AuthService) ByUUID(ctx context.Context, id uuid.UUID) (string, error) {
	if id == uuid.Nil {
		return "", domain.ErrInvalidRequest
	}

	linked, err := s.store.GitHubIdentity(ctx, id)
	if err != nil {
		return "", fmt.Errorf("looking up linked identity: %w", err)
	}
	if linked != nil {
		return "", fmt.Errorf("%w: account is linked to github", domain.ErrUnauthenticated)
	}

	exists, err := s.store.AdminExists(ctx, id)
	if err != nil {
		return "", fmt.Errorf("checking admin: %w", err)
	}
	if !exists {
		if _, err := s.store.CreateAdmin(ctx, id); err != nil {
			return "", fmt.Errorf("creating admin: %w", err)
		}
		s.logger.Info("admin created", "admin_id", id, "method", "uuid")
	}

	return s.issue(domain.AdminAccount{ID: id})
}

// ByGitHub authenticates an admin the OAuth flow identified as user. An
// unknown GitHub account gets a fresh admin linked to it.
func (s *AuthService) ByGitHub(ctx context.Context, user domain.GitHubUser) (string, error) {
	adminID, err := s.store.AdminByGitHub(ctx, user.ID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrAdminNotFound):
		adminID, err = s.linkNewAdmin(ctx, user)
		if err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("looking up github identity: %w", err)
	}

	return s.issue(domain.AdminAccount{ID: adminID})
}

// linkNewAdmin creates an admin for user. When a concurrent sign-in links
// the account first, its admin wins and the new one stays unlinked.
func (s *AuthService) linkNewAdmin(ctx context.Context, user domain.GitHubUser) (uuid.UUID, error) {
	adminID := uuid.New()
	if _, err := s.store.CreateAdmin(ctx, adminID); err != nil {
		return uuid.Nil, fmt.Errorf("creating admin: %w", err)
	}
	err := s.store.LinkGitHub(ctx, adminID, user)
	switch {
	case err == nil:
		s.logger.Info("admin created", "admin_id", adminID, "method", "github", "github_login", user.Login)
		return adminID, nil
	case errors.Is(err, domain.ErrGitHubLinked):
		winner, lerr := s.store.AdminByGitHub(ctx, user.ID)
		if lerr != nil {
			return uuid.Nil, fmt.Errorf("looking up github identity: %w", lerr)
		}
		s.logger.Info("github identity linked concurrently", "admin_id", winner, "unlinked_admin_id", adminID, "github_login", user.Login)
		return winner, nil
	default:
		return uuid.Nil, fmt.Errorf("linking github identity: %w", err)
	}
}

// WhoAmI describes an authenticated admin
func (s *AuthService) WhoAmI(ctx context.Context, admin domain.AdminAccount) (*domain.Identity, error) {
	linked, err := s.store.GitHubIdentity(ctx, admin.ID)
	if err != nil {
		return nil, fmt.Errorf("looking up linked identity: %w", err)
	}
	return &domain.Identity{Admin: admin, GitHub: linked}, nil
}

func (s *AuthService) issue(admin domain.AdminAccount) (string, error) {
	token, err := s.tokens.Issue(admin)
	if err != nil {
		return "", fmt.Errorf("issuing token: %w", err)
	}
	return token, nil
}
