// Package models defines types shared across internal packages.
package models

import (
	"fmt"
	"time"
)

// Role IDs the backend assigns. Only RoleAdmin and RoleRegionalAdmin may
// use the admin dashboard.
const (
	RoleAdmin         = 1
	RoleRegionalAdmin = 5
)

var roleNames = map[int]string{
	RoleAdmin:         "admin",
	RoleRegionalAdmin: "regionalAdmin",
}

// RoleName returns the display name for a role ID. Unknown IDs render as
// "role(N)".
func RoleName(roleID int) string {
	if name, ok := roleNames[roleID]; ok {
		return name
	}

	return fmt.Sprintf("role(%d)", roleID)
}

// RoleIDFromName maps a backend role name to its numeric ID.
func RoleIDFromName(name string) (int, bool) {
	for id, n := range roleNames {
		if n == name {
			return id, true
		}
	}

	return 0, false
}

// IsRecognizedRole reports whether roleID may use the admin dashboard.
func IsRecognizedRole(roleID int) bool {
	_, ok := roleNames[roleID]
	return ok
}

// UserSnapshot is the client-side view of the authenticated principal.
type UserSnapshot struct {
	ID          int64    `json:"id"`
	Role        string   `json:"role"`
	RoleID      int      `json:"role_id"`
	Email       string   `json:"email,omitempty"`
	CityID      *int64   `json:"city_id,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Recognized reports whether the snapshot's role may use the dashboard.
func (u *UserSnapshot) Recognized() bool {
	return u != nil && IsRecognizedRole(u.RoleID)
}

// HasPermission reports whether perm is in the snapshot's permission set.
func (u *UserSnapshot) HasPermission(perm string) bool {
	if u == nil {
		return false
	}

	for _, p := range u.Permissions {
		if p == perm {
			return true
		}
	}

	return false
}

// Clone returns a deep copy so callers never share mutable state with the
// session holder.
func (u *UserSnapshot) Clone() *UserSnapshot {
	if u == nil {
		return nil
	}

	c := *u
	if u.CityID != nil {
		city := *u.CityID
		c.CityID = &city
	}

	if u.Permissions != nil {
		c.Permissions = append([]string(nil), u.Permissions...)
	}

	return &c
}

// CredentialRecord is the persisted login: bearer token, optional expiry,
// optional refresh token, and the user snapshot it was issued for. Token is
// never empty for a stored record.
type CredentialRecord struct {
	Token        string
	ExpiresAt    time.Time // zero when the backend gave no expiry
	RefreshToken string
	User         UserSnapshot
}

// Expired reports whether the record has a deadline that has passed.
func (r *CredentialRecord) Expired(now time.Time) bool {
	return r != nil && !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}
