/*
 * Copyright (C) 2025 Nethesis S.r.l.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package models

import (
	"errors"
	"time"
)

var ErrLegacyTokenOnly = errors.New("session record carries only the legacy jwt field")

// SessionRecord is the authenticated user's credentials and profile snapshot,
// as kept in the session store and serialized into both persistent storages.
type SessionRecord struct {
	Token               string    `json:"token" structs:"token"`
	JWT                 string    `json:"jwt,omitempty" structs:"jwt"` // Deprecated: read-only alias of Token.
	RefreshToken        string    `json:"refreshToken" structs:"refreshToken"`
	Expiry              time.Time `json:"expiry" structs:"expiry"`
	UserID              string    `json:"userId" structs:"userId"`
	TenantID            string    `json:"tenantId" structs:"tenantId"`
	ClientID            string    `json:"clientId,omitempty" structs:"clientId"`
	ProfileID           string    `json:"profileId" structs:"profileId"`
	ProfileName         string    `json:"profileName" structs:"profileName"`
	RoleID              string    `json:"roleId" structs:"roleId"`
	RoleName            string    `json:"roleName" structs:"roleName"`
	UserGroup           string    `json:"userGroup" structs:"userGroup"`
	FirstName           string    `json:"firstName" structs:"firstName"`
	LastName            string    `json:"lastName" structs:"lastName"`
	Username            string    `json:"username" structs:"username"`
	AvatarURL           string    `json:"avatar" structs:"avatar"`
	TrackingInterval    int       `json:"trackingInterval" structs:"trackingInterval"`
	ThemeColour         string    `json:"themeColour" structs:"themeColour"`
	IsNewUser           bool      `json:"isNewUser" structs:"isNewUser"`
	ForcePasswordChange bool      `json:"forcePasswordChange" structs:"forcePasswordChange"`
	CreatedAt           time.Time `json:"createdAt" structs:"createdAt"`
}

// AccessToken returns the canonical token, falling back to the legacy jwt field.
func (r *SessionRecord) AccessToken() string {
	if r == nil {
		return ""
	}
	if r.Token != "" {
		return r.Token
	}
	return r.JWT
}

// Present reports whether the record carries a usable token.
func (r *SessionRecord) Present() bool {
	return r.AccessToken() != ""
}

// Normalize moves a legacy-only jwt value into Token and drops the alias.
func (r *SessionRecord) Normalize() {
	if r == nil {
		return
	}
	if r.Token == "" {
		r.Token = r.JWT
	}
	r.JWT = ""
}

// Validate rejects records that would be written without the canonical field.
func (r *SessionRecord) Validate() error {
	if r.Token == "" && r.JWT != "" {
		return ErrLegacyTokenOnly
	}
	return nil
}

// DisplayName is the name shown in the UI header.
func (r *SessionRecord) DisplayName() string {
	switch {
	case r.FirstName != "" && r.LastName != "":
		return r.FirstName + " " + r.LastName
	case r.FirstName != "":
		return r.FirstName
	default:
		return r.Username
	}
}

// Clone returns a copy safe to hand out of a lock.
func (r *SessionRecord) Clone() *SessionRecord {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}
