package entity

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Role is the closed set of dashboard roles.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleEmployee Role = "employee"
)

// ErrUnknownRole is returned by ParseRole for values outside the enumeration.
var ErrUnknownRole = errors.New("unknown role")

// ParseRole normalizes and validates a role name.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", errors.Wrapf(ErrUnknownRole, "%q", s)
	}
	return r, nil
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := roleCapabilities[r]
	return ok
}

func (r Role) String() string { return string(r) }

// Capability names an action a role may perform.
type Capability string

const (
	CapManageUsers      Capability = "manage_users"
	CapManageProjects   Capability = "manage_projects"
	CapManageTeams      Capability = "manage_teams"
	CapViewReports      Capability = "view_reports"
	CapSubmitReports    Capability = "submit_reports"
	CapTrackAttendance  Capability = "track_attendance"
	CapManageOwnProfile Capability = "manage_own_profile"
)

var roleCapabilities = map[Role]map[Capability]bool{
	RoleAdmin: {
		CapManageUsers:      true,
		CapManageProjects:   true,
		CapViewReports:      true,
		CapTrackAttendance:  true,
		CapManageOwnProfile: true,
	},
	RoleManager: {
		CapManageProjects:   true,
		CapManageTeams:      true,
		CapViewReports:      true,
		CapTrackAttendance:  true,
		CapManageOwnProfile: true,
	},
	RoleEmployee: {
		CapSubmitReports:    true,
		CapTrackAttendance:  true,
		CapManageOwnProfile: true,
	},
}

// Can reports whether the role grants the capability. Unknown roles grant nothing.
func (r Role) Can(c Capability) bool {
	return roleCapabilities[r][c]
}

// In reports whether r is any of roles.
func (r Role) In(roles ...Role) bool {
	for _, x := range roles {
		if r == x {
			return true
		}
	}
	return false
}
