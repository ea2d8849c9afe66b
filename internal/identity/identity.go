// Package identity holds user identities, roles and the well-known sentinel
// identities used by the support channel and broadcast notifications.
package identity

import "strings"

// UserID identifies a participant. Real users get theirs from the platform's
// user CRUD; the two sentinels below are reserved.
type UserID string

const (
	// Support is the virtual participant on the other side of every support
	// thread. Staff write as Support, users write to Support.
	Support UserID = "support"

	// Broadcast owns notifications that every staff connection sees.
	Broadcast UserID = "admin-broadcast"
)

// IsSentinel reports whether id is one of the reserved identities.
func (id UserID) IsSentinel() bool {
	return id == Support || id == Broadcast
}

func (id UserID) String() string { return string(id) }

// Role is the platform role carried in the bearer credential.
type Role string

const (
	RoleClient     Role = "client"
	RoleFreelancer Role = "freelancer"
	RoleAdmin      Role = "admin"
	RoleSupport    Role = "support"
)

var staffRoles = map[Role]struct{}{
	RoleAdmin:   {},
	RoleSupport: {},
}

// SetStaffRoles replaces the set of roles treated as staff. It is meant to be
// called once at startup, before any connection is served.
func SetStaffRoles(roles []string) {
	if len(roles) == 0 {
		return
	}
	m := make(map[Role]struct{}, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(strings.ToLower(r))
		if r != "" {
			m[Role(r)] = struct{}{}
		}
	}
	staffRoles = m
}

// IsStaff reports whether the role may answer support threads and receives
// broadcast notifications.
func (r Role) IsStaff() bool {
	_, ok := staffRoles[r]
	return ok
}

// Principal is an authenticated caller.
type Principal struct {
	ID   UserID
	Role Role
}

// IsStaff is shorthand for p.Role.IsStaff().
func (p Principal) IsStaff() bool { return p.Role.IsStaff() }

// BadgeOwners lists the notification owners whose unread rows make up the
// principal's badge: staff see their own plus the broadcast owner's.
func (p Principal) BadgeOwners() []UserID {
	if p.IsStaff() {
		return []UserID{p.ID, Broadcast}
	}
	return []UserID{p.ID}
}
