// Package auth authenticates chat connections.
//
// # Identity Gate
//
// Gate.Authenticate turns the credential presented at connect time into an
// identity:
//
//	identity, err := gate.Authenticate(ctx, token)
//
// An empty token fails with ErrMissingCredential. A token the verifier
// rejects, or whose subject is not in the user directory, fails with
// ErrInvalidCredential. Either error means the connection must be closed
// before any session state is created.
//
// # Tokens
//
// Credentials are HS256 JWTs whose "sub" claim is the user id. JWTVerifier
// verifies them and also mints them for the CLI:
//
//	v, err := NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
//	token, err := v.Generate(userID, 24*time.Hour)
//
// # Handshake
//
// TokenFromRequest reads the "token" query parameter, falling back to an
// "Authorization: Bearer" header.
//
// # Passwords
//
// HashPassword and CheckPassword wrap bcrypt for the user directory.
package auth
