package auth

// StringSet is a membership-only view over claim arrays.
type StringSet map[string]struct{}

// NewStringSet builds a set from a claim slice; a nil slice yields an
// empty, usable set.
func NewStringSet(values []string) StringSet {
	s := make(StringSet, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

// Contains reports whether v is in the set.
func (s StringSet) Contains(v string) bool {
	_, ok := s[v]
	return ok
}

// Context is the verified identity attached to one connection attempt.
// Roles and Projects are never nil; absent claims default to empty sets.
type Context struct {
	Roles     StringSet
	Projects  StringSet
	UserID    string
	Email     string
	ExpiresAt int64 // unix seconds
}

// HasRole reports whether the identity carries the given role.
func (c *Context) HasRole(role string) bool {
	return c.Roles.Contains(role)
}

// HasProject reports whether the identity is a member of the given project.
func (c *Context) HasProject(projectID string) bool {
	return c.Projects.Contains(projectID)
}
