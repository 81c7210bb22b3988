package pv

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// MinPasswordLength is the shortest password a credential may carry.
const MinPasswordLength = 8

// CredentialInput is the plaintext form submitted when creating a credential.
type CredentialInput struct {
	Service  string
	Username string
	Password string
	Website  string
	Notes    string
}

// CredentialPatch is a partial update. Nil fields are left unchanged.
// A non-nil Password is re-encrypted; the stored ciphertext is otherwise kept.
type CredentialPatch struct {
	Service  *string
	Username *string
	Password *string
	Website  *string
	Notes    *string
}

// Credential is a decrypted credential handed to callers.
type Credential struct {
	ID        string
	Service   string
	Username  string
	Password  string
	Website   string
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Matches reports whether query occurs, case-insensitively, in the service,
// username, website or notes. An empty query matches everything.
func (c *Credential) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	for _, field := range []string{c.Service, c.Username, c.Website, c.Notes} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// CredentialRecord is the persisted form. PasswordCipher is always ciphertext.
// Empty Website and Notes are stored as NULL.
type CredentialRecord struct {
	ID             string
	Service        string
	Username       string
	PasswordCipher []byte
	Website        string
	Notes          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (in CredentialInput) normalize() (CredentialInput, error) {
	out := CredentialInput{
		Service:  strings.TrimSpace(in.Service),
		Username: strings.TrimSpace(in.Username),
		Password: in.Password,
		Website:  strings.TrimSpace(in.Website),
		Notes:    strings.TrimSpace(in.Notes),
	}
	if err := out.validate(); err != nil {
		return CredentialInput{}, err
	}
	return out, nil
}

func (in CredentialInput) validate() error {
	switch {
	case in.Service == "":
		return fmt.Errorf("%w: service is required", ErrInvalidCredential)
	case in.Username == "":
		return fmt.Errorf("%w: username is required", ErrInvalidCredential)
	case strings.TrimSpace(in.Password) == "":
		return fmt.Errorf("%w: password is required", ErrInvalidCredential)
	case utf8.RuneCountInString(in.Password) < MinPasswordLength:
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidCredential, MinPasswordLength)
	}
	if in.Website != "" && !validWebsite(in.Website) {
		return fmt.Errorf("%w: website is not a valid URL", ErrInvalidCredential)
	}
	return nil
}

// validWebsite accepts bare hosts ("example.com") as well as full URLs.
func validWebsite(s string) bool {
	if !strings.HasPrefix(s, "http") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	return err == nil && u.Host != ""
}

// apply returns in with the patch's non-nil fields written over it.
func (p CredentialPatch) apply(in CredentialInput) CredentialInput {
	if p.Service != nil {
		in.Service = *p.Service
	}
	if p.Username != nil {
		in.Username = *p.Username
	}
	if p.Password != nil {
		in.Password = *p.Password
	}
	if p.Website != nil {
		in.Website = *p.Website
	}
	if p.Notes != nil {
		in.Notes = *p.Notes
	}
	return in
}
