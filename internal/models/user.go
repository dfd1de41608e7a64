package models

import "time"

// Role is the caller capability supplied by the identity service.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleSigner  Role = "signer"
)

// User represents an application user (mapped from OIDC claims)
type User struct {
	ID        string    `bson:"_id,omitempty" json:"id"`
	Sub       string    `bson:"sub" json:"sub"` // OIDC subject, used as the signer id
	Email     string    `bson:"email" json:"email"`
	Name      string    `bson:"name" json:"name"`
	Role      Role      `bson:"role" json:"role"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// CanDistribute reports administrator/manager capability.
func (u *User) CanDistribute() bool {
	return u != nil && (u.Role == RoleAdmin || u.Role == RoleManager)
}
