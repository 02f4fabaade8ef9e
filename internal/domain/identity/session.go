// internal/domain/identity/session.go

package identity

// Session carries the authenticated user for the current process.
// An empty UserID means an anonymous session: feed reading stays
// available, joining and presence publishing do not.
type Session struct {
	UserID string
}

// Authenticated reports whether a user is present
func (s Session) Authenticated() bool {
	return s.UserID != ""
}
