package auth

import "errors"

// ErrForbidden is returned when an authenticated principal lacks a required role.
var ErrForbidden = errors.New("auth: forbidden")

// Authorize is the decision half of the authenticate/authorize boundary: it
// succeeds when the principal holds at least one of roles. An empty role list
// only requires an authenticated principal.
func Authorize(p Principal, roles ...string) error {
	if p.UserID == "" {
		return ErrBadCredentials
	}
	if len(roles) == 0 {
		return nil
	}
	for _, role := range roles {
		if p.HasRole(role) {
			return nil
		}
	}
	return ErrForbidden
}
