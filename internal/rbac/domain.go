package rbac

import "time"

// Membership links a user to a capability group.
type Membership struct {
	UserID    int64
	Group     string
	CreatedAt time.Time
}

// Actor describes the authenticated principal the workflow engine acts for.
type Actor struct {
	ID     int64
	Groups []string
}

// HasGroup reports whether the actor belongs to the given group.
func (a Actor) HasGroup(name string) bool {
	for _, g := range a.Groups {
		if g == name {
			return true
		}
	}
	return false
}

// HasAnyGroup reports whether the actor belongs to at least one of names.
func (a Actor) HasAnyGroup(names ...string) bool {
	for _, n := range names {
		if a.HasGroup(n) {
			return true
		}
	}
	return false
}
