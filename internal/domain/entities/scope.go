package entities

import (
	"errors"
	"fmt"
)

// UserID identifies the signed-in user of a session
type UserID string

// Role decides how the unread window is scoped
type Role string

const (
	RoleOwner Role = "owner"
	RoleStaff Role = "staff"
)

// Scope is the tenant slice a session observes: a whole salon for owners,
// a single staff member for staff.
type Scope struct {
	Role    Role   `json:"role"`
	SalonID string `json:"salon_id"`
	StaffID string `json:"staff_id,omitempty"`
}

// OwnerScope builds the scope of a salon owner
func OwnerScope(salonID string) Scope {
	return Scope{Role: RoleOwner, SalonID: salonID}
}

// StaffScope builds the scope of a staff member
func StaffScope(salonID, staffID string) Scope {
	return Scope{Role: RoleStaff, SalonID: salonID, StaffID: staffID}
}

// Key returns the feed key of the scope, e.g. "salon.s1" or "staff.u7"
func (s Scope) Key() string {
	if s.Role == RoleStaff {
		return "staff." + s.StaffID
	}
	return "salon." + s.SalonID
}

// Matches reports whether an appointment falls inside this scope.
// Staff scopes match on staff id only so two staff of one salon never see each other's events.
func (s Scope) Matches(salonID, staffID string) bool {
	switch s.Role {
	case RoleOwner:
		return salonID != "" && salonID == s.SalonID
	case RoleStaff:
		return staffID != "" && staffID == s.StaffID
	default:
		return false
	}
}

// Validate ensures the scope carries the id its role filters on
func (s Scope) Validate() error {
	switch s.Role {
	case RoleOwner:
		if s.SalonID == "" {
			return fmt.Errorf("%w: owner scope requires salon id", ErrInvalidScope)
		}
	case RoleStaff:
		if s.StaffID == "" {
			return fmt.Errorf("%w: staff scope requires staff id", ErrInvalidScope)
		}
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidScope, s.Role)
	}
	return nil
}

// Identity is the user plus the scope a session runs under
type Identity struct {
	UserID UserID `json:"user_id"`
	Scope  Scope  `json:"scope"`
}

// Key identifies the live-feed handle owned by this identity
func (i Identity) Key() string {
	return string(i.UserID) + "@" + i.Scope.Key()
}

// Validate ensures both the user and the scope are set
func (i Identity) Validate() error {
	if i.UserID == "" {
		return errors.New("user ID cannot be empty")
	}
	return i.Scope.Validate()
}
