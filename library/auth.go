package library

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// Authentication failure messages.
const (
	MsgInvalidCredentials = "Invalid credentials."
	MsgInvalidToken       = "Invalid token."
)

// generateTokenKey returns 20 random bytes as 40 hex characters.
func generateTokenKey() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// CreateSuperuser creates an administrator, or resets the password of an
// existing one with the same username.
func (lm *LibraryManager) CreateSuperuser(ctx context.Context, username, password string) (*User, error) {
	username = strings.TrimSpace(username)
	verr := &ValidationError{}
	switch {
	case username == "":
		verr.Add("username", MsgRequired)
	case utf8.RuneCountInString(username) > 150:
		verr.Add("username", "Ensure this field has no more than 150 characters.")
	}
	if password == "" {
		verr.Add("password", MsgRequired)
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), lm.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return lm.db.SaveUser(ctx, username, string(hash))
}

// Login checks the credentials and returns the user's token, issuing one on
// first login.
func (lm *LibraryManager) Login(ctx context.Context, username, password string) (string, error) {
	if username == "" {
		return "", NewValidationError("username", MsgRequired)
	}
	if password == "" {
		return "", NewValidationError("password", MsgRequired)
	}

	user, err := lm.db.UserByUsername(ctx, username)
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return "", &AuthenticationError{Message: MsgInvalidCredentials}
	}
	if err != nil {
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", &AuthenticationError{Message: MsgInvalidCredentials}
	}

	candidate, err := lm.newToken()
	if err != nil {
		return "", err
	}
	return lm.db.TokenFor(ctx, user.ID, candidate)
}

// Authenticate resolves a token key to its principal.
func (lm *LibraryManager) Authenticate(ctx context.Context, key string) (*User, error) {
	user, err := lm.db.UserByToken(ctx, key)
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return nil, &AuthenticationError{Message: MsgInvalidToken}
	}
	return user, err
}
