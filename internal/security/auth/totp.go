// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// DefaultIssuer labels enrolled authenticator entries when no issuer is given.
const DefaultIssuer = "authguard"

// ErrMFANotEnrolled is returned when verifying a code for a user without a
// second factor.
var ErrMFANotEnrolled = errors.New("mfa not enrolled")

var totpOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// EnrollTOTP generates a new TOTP secret for the user, stores it encrypted
// and returns the otpauth:// URL for the authenticator app. Enrolling again
// replaces the previous secret.
func (s *CredentialStore) EnrollTOTP(username, issuer string) (string, error) {
	key, err := NormalizeUsername(username)
	if err != nil {
		return "", err
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}
	otpKey, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: key,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate mfa secret: %w", err)
	}
	if err := s.mutate(key, func(rec *userRecord) { rec.totpSecret = otpKey.Secret() }); err != nil {
		return "", err
	}
	return otpKey.URL(), nil
}

// HasTOTP reports whether the user has enrolled a second factor.
func (s *CredentialStore) HasTOTP(username string) bool {
	key, err := NormalizeUsername(username)
	if err != nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[key]
	return ok && rec.totpSecret != ""
}

// VerifyTOTP checks code against the user's secret at the current time.
func (s *CredentialStore) VerifyTOTP(username, code string) (bool, error) {
	return s.verifyTOTPAt(username, code, time.Now())
}

func (s *CredentialStore) verifyTOTPAt(username, code string, at time.Time) (bool, error) {
	key, err := NormalizeUsername(username)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	rec, ok := s.users[key]
	secret := ""
	if ok {
		secret = rec.totpSecret
	}
	s.mu.RUnlock()

	if !ok {
		return false, ErrCredentialNotFound
	}
	if secret == "" {
		return false, ErrMFANotEnrolled
	}
	valid, err := totp.ValidateCustom(code, secret, at.UTC(), totpOpts)
	if errors.Is(err, otp.ErrValidateInputInvalidLength) {
		// Malformed codes are a plain mismatch.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("unusable totp secret for %s: %w", key, err)
	}
	return valid, nil
}
