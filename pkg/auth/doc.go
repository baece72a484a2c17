// Package auth provides password hashing, access tokens and security audit
// logging.
//
// # Passwords
//
// Passwords are hashed with bcrypt (cost 12 by default). PasswordProblems
// reports every signup rule a candidate password breaks:
//
//	if problems := auth.PasswordProblems(pw); len(problems) > 0 {
//		return strings.Join(problems, ", ")
//	}
//	hash, err := auth.HashPassword(pw, auth.DefaultBcryptCost)
//
// A failed login returns ErrInvalidCredentials whether the email or the
// password was wrong.
//
// # Access Tokens
//
// Tokens are HS256 JWTs valid for 24 hours. The subject is the user id;
// Verify rejects other algorithms, a foreign issuer and tokens without an
// expiry.
//
//	tm, err := auth.NewTokenManager(secret, 24*time.Hour)
//	token, expires, err := tm.Issue(user.ID, user.Email)
//	claims, err := tm.Verify(token)
//
// # Audit Logging
//
// AuditLogger writes authentication and billing events as structured log
// lines tagged audit=true:
//
//	auditLogger.LogFromRequest(r, auth.ActionAuthFailure, "session", "", auth.StatusFailure, err)
package auth
