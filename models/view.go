/*
 * Copyright (C) 2025 Nethesis S.r.l.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package models

// SessionView is the reconciled {profile, loading, token} triple exposed to consumers.
// Loading means "no confirmed session yet"; Settled turns true after the first storage read.
type SessionView struct {
	Profile *SessionRecord `json:"profile"`
	Loading bool           `json:"loading"`
	Token   string         `json:"-"`
	Settled bool           `json:"settled"`
}

// Authenticated reports whether the view holds a confirmed session.
func (v SessionView) Authenticated() bool {
	return v.Token != "" && !v.Loading
}

type InitGuard struct {
	IsInitialized bool `json:"is_initialized" structs:"is_initialized"`
	IsLoading     bool `json:"is_loading" structs:"is_loading"`
}

// PublicProfile returns the profile without its credentials.
func (v SessionView) PublicProfile() *SessionRecord {
	profile := v.Profile.Clone()
	if profile != nil {
		profile.Token = ""
		profile.JWT = ""
		profile.RefreshToken = ""
	}
	return profile
}
