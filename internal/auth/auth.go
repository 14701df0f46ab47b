// Package auth decides whether a command invoker may change bot settings.
package auth

import "strings"

// Role is the subset of a guild role the authorizer looks at.
type Role struct {
	Name           string
	Position       int
	ManageMessages bool
	Administrator  bool
}

// Invoker identifies who ran a command and the roles they hold in the guild.
type Invoker struct {
	ID    string
	Name  string
	Roles []Role
}

// Authorizer grants admin access. It is stateless; every call re-evaluates
// the invoker's current roles.
type Authorizer struct {
	OwnerID string
}

// New returns an authorizer that also accepts ownerID unconditionally. An
// empty ownerID disables the owner override.
func New(ownerID string) *Authorizer {
	return &Authorizer{OwnerID: ownerID}
}

// Authorized reports whether inv may use admin commands. Any one of these is
// enough:
//   - a role whose name contains "mod" (case-insensitive)
//   - the highest role grants Manage Messages or Administrator
//   - inv.ID equals the configured owner id
func (a *Authorizer) Authorized(inv Invoker) bool {
	for _, r := range inv.Roles {
		if strings.Contains(strings.ToLower(r.Name), "mod") {
			return true
		}
	}

	if top, ok := highest(inv.Roles); ok && (top.ManageMessages || top.Administrator) {
		return true
	}

	return a.OwnerID != "" && inv.ID == a.OwnerID
}

func highest(roles []Role) (Role, bool) {
	if len(roles) == 0 {
		return Role{}, false
	}
	top := roles[0]
	for _, r := range roles[1:] {
		if r.Position > top.Position {
			top = r
		}
	}
	return top, true
}
