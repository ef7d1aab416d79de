/*
 * Copyright (C) 2025 Nethesis S.r.l.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package store

import (
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/euroscaffolds/session-agent/models"
)

// TokenExpiry reads the exp claim of a JWT without verifying it.
// The backend owns the signing key; this is only used to schedule logout.
func TokenExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}

	claims := jwtv5.MapClaims{}
	parser := jwtv5.NewParser(jwtv5.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// ExpiresAt returns the record expiry, falling back to the token exp claim.
func ExpiresAt(record *models.SessionRecord) (time.Time, bool) {
	if record == nil {
		return time.Time{}, false
	}
	if !record.Expiry.IsZero() {
		return record.Expiry, true
	}
	return TokenExpiry(record.AccessToken())
}

// Expired reports whether the record has an expiry at or before now.
func Expired(record *models.SessionRecord, now time.Time) bool {
	expiry, ok := ExpiresAt(record)
	return ok && !now.Before(expiry)
}
