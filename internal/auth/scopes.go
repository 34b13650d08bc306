package auth

import "talentgrid/backend/pkg/models"

const (
	ScopeOpenID         = "openid"
	ScopeProfile        = "profile"
	ScopeEmail          = "email"
	ScopeWorkflowsRead  = "workflows:read"
	ScopeWorkflowsWrite = "workflows:write"
)

// AllScopes defines the full set of scopes used by the Swagger UI / Frontend
var AllScopes = []string{
	ScopeOpenID,
	ScopeProfile,
	ScopeEmail,
	ScopeWorkflowsRead,
	ScopeWorkflowsWrite,
}

// rolePermissions are granted on top of the permissions carried by the token.
var rolePermissions = map[models.Role][]string{
	models.RoleAdmin: {
		models.PermissionAdmin,
		models.PermissionUserCreate,
		models.PermissionJobCreate,
		models.PermissionPostCreate,
	},
	models.RoleManager:   {models.PermissionUserCreate, models.PermissionJobCreate, models.PermissionPostCreate},
	models.RoleRecruiter: {models.PermissionJobCreate, models.PermissionPostCreate},
	models.RoleTrainer:   {models.PermissionPostCreate},
	models.RoleMember:    {models.PermissionPostCreate},
}
