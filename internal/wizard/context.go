package wizard

// SessionContext identifies the caller of a wizard operation: an
// authenticated user id, an anonymous session id, or both (the transient
// state right after sign-in, before migration has cleared the session id).
// It is threaded explicitly through the state machine and the migration
// path instead of living in ambient globals.
type SessionContext struct {
	UserID    string
	SessionID string
}

// Authenticated reports whether the caller has a user identity.
func (c SessionContext) Authenticated() bool { return c.UserID != "" }

// Anonymous reports whether the caller only has a session identity.
func (c SessionContext) Anonymous() bool { return c.UserID == "" && c.SessionID != "" }

// MigrationCandidate reports whether both identities are present, which is
// the precondition for anonymous-to-user progress migration.
func (c SessionContext) MigrationCandidate() bool {
	return c.UserID != "" && c.SessionID != ""
}

// Subject returns the event-stream subject key for the identity.
// Authenticated identity wins when both are present.
func (c SessionContext) Subject() string {
	if c.UserID != "" {
		return "user:" + c.UserID
	}
	if c.SessionID != "" {
		return "anon:" + c.SessionID
	}
	return ""
}
