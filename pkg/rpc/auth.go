package rpc

import "strings"

// Verifier maps a call's opaque user-data string to the (user_id,
// session_id) pair work should be attributed to, or reports ok=false to
// reject the call. Unauthorised calls commit errs.Unauthorized and never
// enqueue work.
type Verifier interface {
	Verify(userData string) (userID, sessionID string, ok bool)
}

// DefaultVerifier implements the "user:session" convention from the
// original round-robin-reinit-scheduler playground: the string up to the
// first colon is the user id, the remainder is a session name, and the
// session id actually used downstream is "user@session" so the same raw
// session name from two different users never collides.
type DefaultVerifier struct{}

func (DefaultVerifier) Verify(userData string) (userID, sessionID string, ok bool) {
	idx := strings.Index(userData, ":")
	if idx < 0 || idx+1 >= len(userData) {
		return "", "", false
	}
	userID = userData[:idx]
	session := userData[idx+1:]
	if userID == "" || session == "" {
		return "", "", false
	}
	return userID, userID + "@" + session, true
}

// VerifierFunc adapts a plain function to Verifier.
type VerifierFunc func(userData string) (userID, sessionID string, ok bool)

func (f VerifierFunc) Verify(userData string) (string, string, bool) {
	return f(userData)
}
