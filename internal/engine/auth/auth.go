package auth

import (
	"fmt"
	"slices"

	"surveyflow/internal/config"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Service resolves permissions from the roles configured in surveyflow.yml.
type Service struct {
	Config *config.Config
}

func (s Service) KnownRole(role string) bool {
	if s.Config == nil {
		return false
	}
	_, ok := s.Config.RBAC.Roles[role]
	return ok
}

// Permissions expands roles and adds the explicitly granted permissions.
func (s Service) Permissions(roles, granted []string) []string {
	var perms []string
	if s.Config != nil {
		perms = s.Config.RolePermissions(roles)
	}
	for _, p := range granted {
		if !slices.Contains(perms, p) {
			perms = append(perms, p)
		}
	}
	return perms
}

// Require returns ForbiddenError unless roles or granted carry perm.
func (s Service) Require(roles, granted []string, perm string) error {
	if slices.Contains(s.Permissions(roles, granted), perm) {
		return nil
	}
	return ForbiddenError{Permission: perm}
}
