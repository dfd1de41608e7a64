package users

import (
	"context"
	"strings"

	"github.com/signdesk/signdesk/internal/models"
)

// Service encapsulates user-related business logic
type Service struct {
	repo UserRepository
}

func NewService(r UserRepository) *Service {
	return &Service{repo: r}
}

// UpsertFromClaims creates or updates a user using OIDC claims map
func (s *Service) UpsertFromClaims(ctx context.Context, claims map[string]interface{}) (*models.User, error) {
	u := UserFromClaims(claims)
	if u == nil {
		return nil, nil
	}
	return s.repo.UpsertBySub(ctx, u)
}

func (s *Service) GetBySub(ctx context.Context, sub string) (*models.User, error) {
	return s.repo.GetBySub(ctx, sub)
}

// List returns the signer directory.
func (s *Service) List(ctx context.Context) ([]*models.User, error) {
	return s.repo.List(ctx)
}

// UserFromClaims maps token claims to a user; nil when "sub" is missing.
func UserFromClaims(claims map[string]interface{}) *models.User {
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil
	}
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	if name == "" {
		name, _ = claims["preferred_username"].(string)
	}
	return &models.User{Sub: sub, Email: email, Name: name, Role: RoleFromClaims(claims)}
}

// RoleFromClaims reads a "role" claim or Keycloak realm roles. Anything that
// is not admin or manager is a plain signer.
func RoleFromClaims(claims map[string]interface{}) models.Role {
	roles := []string{}
	if r, ok := claims["role"].(string); ok {
		roles = append(roles, r)
	}
	if ra, ok := claims["realm_access"].(map[string]interface{}); ok {
		if list, ok := ra["roles"].([]interface{}); ok {
			for _, v := range list {
				if s, ok := v.(string); ok {
					roles = append(roles, s)
				}
			}
		}
	}
	best := models.RoleSigner
	for _, r := range roles {
		switch strings.ToLower(strings.TrimSpace(r)) {
		case "admin", "administrator", "administrador":
			return models.RoleAdmin
		case "manager", "gestor":
			best = models.RoleManager
		}
	}
	return best
}
