package domain

// SessionState is the mutable protocol state of one connection. It lives for exactly
// one trial and is never shared between trials.
type SessionState struct {
	// CSeq is the sequence number the next transmitted message will carry.
	CSeq int

	// Token is the sticky session identifier. Empty until a response carries one.
	Token string
}

// NewSessionState returns the state of a fresh connection.
func NewSessionState() *SessionState {
	return &SessionState{CSeq: 1}
}

// Advance records that one message was transmitted.
func (s *SessionState) Advance() {
	s.CSeq++
}

// Stick stores token if no token has been established yet.
// It reports whether the token was adopted.
func (s *SessionState) Stick(token string) bool {
	if s.Token != "" || token == "" {
		return false
	}
	s.Token = token
	return true
}
