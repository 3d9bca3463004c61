package usecase

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/example/face-signup/internal/enrollment"
)

// bcrypt ignores everything past 72 bytes; longer secrets are rejected instead.
const maxSecretBytes = 72

// accountCredentials is the CredentialStore handed to the workflow. The
// account takes ownership of the session's pending face registration.
type accountCredentials struct {
	accounts AccountRepository
	session  *enrollment.Session
	cost     int
}

func (a *accountCredentials) Assign(ctx context.Context, identifier, secret string) (bool, error) {
	if strings.TrimSpace(identifier) == "" || strings.TrimSpace(secret) == "" {
		return false, nil
	}
	if len(secret) > maxSecretBytes {
		return false, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), a.cost)
	if err != nil {
		return false, fmt.Errorf("hash password: %w", err)
	}
	return a.accounts.CreateAccount(ctx, identifier, string(hash), a.session.PendingEnrollmentID)
}
