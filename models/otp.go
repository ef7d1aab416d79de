/*
 * Copyright (C) 2025 Nethesis S.r.l.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package models

import "time"

type OTPState string

const (
	OTPIdle       OTPState = "idle"
	OTPRequesting OTPState = "requesting"
	OTPSent       OTPState = "sent"
	OTPResending  OTPState = "resending"
	OTPVerifying  OTPState = "verifying"
	OTPVerified   OTPState = "verified"
	OTPError      OTPState = "error"
)

// OTPSession is one in-progress two-step login attempt. It is dropped once
// verified, so the verified flag is the machine's OTPVerified state.
type OTPSession struct {
	CorrelationID string    `json:"correlation_id" structs:"correlation_id"`
	Email         string    `json:"email" structs:"email"`
	Loading       bool      `json:"loading" structs:"loading"`
	Error         string    `json:"error,omitempty" structs:"error"`
	Expiry        time.Time `json:"expiry" structs:"expiry"`
	Sent          bool      `json:"sent" structs:"sent"`
	Resent        bool      `json:"resent" structs:"resent"`
}

type OTPRequestJson struct {
	Email string `json:"email" structs:"email" binding:"required,email"`
}

type OTPVerifyJson struct {
	CorrelationID string `json:"correlation_id" structs:"correlation_id" binding:"required"`
	OTP           string `json:"otp" structs:"otp" binding:"required,len=6,numeric"`
}

// OTPRequestResponse is the backend answer to an OTP request.
type OTPRequestResponse struct {
	UserID string `json:"userId"`
}

// VerifyResponse is the profile/token bundle returned by a successful verification.
type VerifyResponse struct {
	Token               string `json:"token"`
	JWT                 string `json:"jwt"`
	RefreshToken        string `json:"refreshToken"`
	Expiry              int64  `json:"expiry"`
	UserID              string `json:"userId"`
	TenantID            string `json:"tenantId"`
	ClientID            string `json:"clientId"`
	ProfileID           string `json:"profileId"`
	ProfileName         string `json:"profileName"`
	RoleID              string `json:"roleId"`
	RoleName            string `json:"roleName"`
	UserGroup           string `json:"userGroup"`
	FirstName           string `json:"firstName"`
	LastName            string `json:"lastName"`
	Username            string `json:"username"`
	Avatar              string `json:"avatar"`
	TrackingInterval    int    `json:"trackingInterval"`
	ThemeColour         string `json:"themeColour"`
	IsNewUser           bool   `json:"isNewUser"`
	ForcePasswordChange bool   `json:"forcePasswordChange"`
}
