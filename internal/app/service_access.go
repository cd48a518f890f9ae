package app

import (
	"context"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"corpusgrid/internal/auth"
	"corpusgrid/internal/rbac"
	"corpusgrid/internal/store"
	"corpusgrid/internal/util"
)

type PermissionInput struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type APIKeyInput struct {
	Name string `json:"name"`
}

func (s *Service) ListPermissions(ctx context.Context, session Session, corpusID string) ([]map[string]any, error) {
	if _, _, err := s.corpusAccess(ctx, session, corpusID, rbac.ActionManageCorpus); err != nil {
		return nil, err
	}
	permissions, err := s.store.ListPermissions(ctx, corpusID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(permissions))
	for _, permission := range permissions {
		payload = append(payload, permissionPayload(permission))
	}
	return payload, nil
}

func (s *Service) GrantPermission(ctx context.Context, session Session, corpusID string, input PermissionInput) (map[string]any, error) {
	if _, _, err := s.corpusAccess(ctx, session, corpusID, rbac.ActionManageCorpus); err != nil {
		return nil, err
	}
	role := strings.TrimSpace(input.Role)
	switch rbac.Role(role) {
	case rbac.RoleViewer, rbac.RoleContributor, rbac.RoleMaintainer, rbac.RoleAdmin:
	default:
		return nil, validationError("Unknown role")
	}
	email := strings.TrimSpace(input.Email)
	if email == "" {
		return nil, validationError("Email is required")
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpsertPermission(ctx, store.Permission{
		ID:        util.NewID("perm"),
		CorpusID:  corpusID,
		UserID:    user.ID,
		Role:      role,
		GrantedBy: session.UserID,
	}); err != nil {
		return nil, err
	}

	permissions, err := s.store.ListPermissions(ctx, corpusID)
	if err != nil {
		return nil, err
	}
	for _, permission := range permissions {
		if permission.UserID == user.ID {
			return okEnvelope("Permission granted", permissionPayload(permission)), nil
		}
	}
	return okEnvelope("Permission granted", nil), nil
}

func (s *Service) RevokePermission(ctx context.Context, session Session, corpusID, userID string) (map[string]any, error) {
	if _, _, err := s.corpusAccess(ctx, session, corpusID, rbac.ActionManageCorpus); err != nil {
		return nil, err
	}
	if err := s.store.DeletePermission(ctx, corpusID, userID); err != nil {
		return nil, err
	}
	return okEnvelope("Permission revoked", nil), nil
}

// AllowedActions resolves the caller's role on the corpus and filters
// the static action table with it. The client renders context menus
// straight from this payload instead of hardcoding role checks.
func (s *Service) AllowedActions(ctx context.Context, session Session, corpusID, target string) (map[string]any, error) {
	_, role, err := s.corpusAccess(ctx, session, corpusID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}

	if target != "" {
		t := rbac.Target(target)
		switch t {
		case rbac.TargetCorpus, rbac.TargetDocument, rbac.TargetColumn, rbac.TargetCell:
		default:
			return nil, validationError("Unknown target")
		}
		return map[string]any{
			"role":    role,
			"actions": rbac.AllowedActions(role, t),
		}, nil
	}

	return map[string]any{
		"role": role,
		"actions": map[string]any{
			string(rbac.TargetCorpus):   rbac.AllowedActions(role, rbac.TargetCorpus),
			string(rbac.TargetDocument): rbac.AllowedActions(role, rbac.TargetDocument),
			string(rbac.TargetColumn):   rbac.AllowedActions(role, rbac.TargetColumn),
			string(rbac.TargetCell):     rbac.AllowedActions(role, rbac.TargetCell),
		},
	}, nil
}

// IssueAPIKey mints a key acting as the caller. The full key value is
// returned exactly once; only a bcrypt hash of the secret is stored.
func (s *Service) IssueAPIKey(ctx context.Context, session Session, input APIKeyInput) (map[string]any, error) {
	if session.ViaAPIKey {
		return nil, forbiddenError("API keys cannot mint further keys")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, validationError("Key name is required")
	}

	secret, err := util.NewSecret(32)
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	key := store.APIKey{
		ID:         util.NewID("key"),
		UserID:     session.UserID,
		Name:       name,
		SecretHash: string(hash),
	}
	if err := s.store.InsertAPIKey(ctx, key); err != nil {
		return nil, err
	}

	return okEnvelope("API key created", map[string]any{
		"id":   key.ID,
		"name": key.Name,
		"key":  auth.FormatAPIKey(key.ID, secret),
	}), nil
}

func (s *Service) ListAPIKeys(ctx context.Context, session Session) ([]map[string]any, error) {
	keys, err := s.store.ListAPIKeys(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(keys))
	for _, key := range keys {
		payload = append(payload, apiKeyPayload(key))
	}
	return payload, nil
}

func (s *Service) RevokeAPIKey(ctx context.Context, session Session, keyID string) (map[string]any, error) {
	if err := s.store.DeleteAPIKey(ctx, keyID, session.UserID); err != nil {
		return nil, err
	}
	return okEnvelope("API key revoked", nil), nil
}

func (s *Service) ListUsers(ctx context.Context, session Session) ([]map[string]any, error) {
	if rbac.Normalize(session.Role) != rbac.RoleAdmin {
		return nil, forbiddenError("Forbidden")
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(users))
	for _, user := range users {
		payload = append(payload, userPayload(user))
	}
	return payload, nil
}

func permissionPayload(p store.Permission) map[string]any {
	return map[string]any{
		"id":        p.ID,
		"corpusId":  p.CorpusID,
		"userId":    p.UserID,
		"userName":  p.UserName,
		"userEmail": p.UserEmail,
		"role":      p.Role,
		"grantedBy": p.GrantedBy,
		"grantedAt": p.GrantedAt,
	}
}

func apiKeyPayload(k store.APIKey) map[string]any {
	payload := map[string]any{
		"id":        k.ID,
		"name":      k.Name,
		"createdAt": k.CreatedAt,
	}
	if k.LastUsedAt != nil {
		payload["lastUsedAt"] = *k.LastUsedAt
	}
	return payload
}

func userPayload(u store.User) map[string]any {
	return map[string]any{
		"id":        u.ID,
		"name":      u.DisplayName,
		"email":     u.Email,
		"role":      u.Role,
		"createdAt": u.CreatedAt,
	}
}
