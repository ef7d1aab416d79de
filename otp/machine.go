/*
 * Copyright (C) 2025 Nethesis S.r.l.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package otp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/euroscaffolds/session-agent/api"
	"github.com/euroscaffolds/session-agent/logs"
	"github.com/euroscaffolds/session-agent/models"
	"github.com/euroscaffolds/session-agent/store"
)

const DefaultWindow = 300 * time.Second

var (
	ErrVerifyInProgress = errors.New("verification already in progress")
	ErrNoCorrelationID  = errors.New("no otp session to verify")
	ErrNoEmail          = errors.New("no email to send the code to")
	ErrSuperseded       = errors.New("otp session was replaced")
)

// Backend is the external OTP request/verify collaborator.
type Backend interface {
	RequestOTP(ctx context.Context, email string) (string, error)
	VerifyOTP(ctx context.Context, correlationID string, code string) (*models.VerifyResponse, error)
}

// Trigger starts the application data load after login.
type Trigger interface {
	Initialize(ctx context.Context) bool
}

// Snapshot is the OTP state as shown by the login screen.
type Snapshot struct {
	State            models.OTPState    `json:"state" structs:"state"`
	Session          *models.OTPSession `json:"session" structs:"session"`
	RemainingSeconds int                `json:"remaining_seconds" structs:"remaining_seconds"`
	CanResend        bool               `json:"can_resend" structs:"can_resend"`
}

// Machine drives the two-step email + code login.
type Machine struct {
	backend Backend
	store   *store.Store
	trigger Trigger
	window  time.Duration
	timeout time.Duration
	now     func() time.Time

	mutex     sync.Mutex
	state     models.OTPState
	session   *models.OTPSession
	attempt   uint64
	verifying bool
}

func New(backend Backend, st *store.Store, trigger Trigger, window time.Duration, timeout time.Duration) *Machine {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Machine{
		backend: backend,
		store:   st,
		trigger: trigger,
		window:  window,
		timeout: timeout,
		now:     time.Now,
		state:   models.OTPIdle,
	}
}

// RequestOTP discards any previous attempt and asks the backend for a code.
func (m *Machine) RequestOTP(ctx context.Context, email string) error {
	m.mutex.Lock()
	m.attempt++
	attempt := m.attempt
	m.state = models.OTPRequesting
	m.session = &models.OTPSession{Email: email, Loading: true}
	m.mutex.Unlock()

	logs.Log("[INFO][OTP] Requesting code for " + email)
	correlationID, err := m.request(ctx, email)

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if attempt != m.attempt {
		return ErrSuperseded
	}
	if err != nil {
		m.fail(errorMessage(err, "could not send the code"))
		logs.Log("[WARNING][OTP] Code request failed: " + err.Error())
		return err
	}

	m.session.CorrelationID = correlationID
	m.session.Loading = false
	m.session.Sent = true
	m.session.Expiry = m.now().Add(m.window)
	m.state = models.OTPSent
	return nil
}

// ResendOTP requests a new code for email, or for the current session email
// when email is empty. The previous correlation id survives a failure.
func (m *Machine) ResendOTP(ctx context.Context, email string) error {
	m.mutex.Lock()
	if m.session == nil {
		m.session = &models.OTPSession{}
	}
	if email == "" {
		email = m.session.Email
	}
	if email == "" {
		m.mutex.Unlock()
		return ErrNoEmail
	}
	m.attempt++
	attempt := m.attempt
	m.state = models.OTPResending
	m.session.Email = email
	m.session.Loading = true
	m.session.Error = ""
	m.mutex.Unlock()

	logs.Log("[INFO][OTP] Resending code to " + email)
	correlationID, err := m.request(ctx, email)

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if attempt != m.attempt {
		return ErrSuperseded
	}
	if err != nil {
		m.fail(errorMessage(err, "could not resend the code"))
		logs.Log("[WARNING][OTP] Code resend failed: " + err.Error())
		return err
	}

	m.session.CorrelationID = correlationID
	m.session.Loading = false
	m.session.Sent = true
	m.session.Resent = true
	m.session.Expiry = m.now().Add(m.window)
	m.state = models.OTPSent
	return nil
}

func (m *Machine) request(ctx context.Context, email string) (string, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	correlationID, err := m.backend.RequestOTP(ctx, email)
	if err != nil {
		return "", err
	}
	if correlationID == "" {
		return "", api.ErrEmptyCorrelationID
	}
	return correlationID, nil
}

// VerifyOTP checks code against correlationID, or the current session's id
// when correlationID is empty. On success the session is logged in and
// onSuccess receives the new record.
func (m *Machine) VerifyOTP(ctx context.Context, correlationID string, code string, onSuccess func(*models.SessionRecord)) error {
	m.mutex.Lock()
	if m.verifying {
		m.mutex.Unlock()
		return ErrVerifyInProgress
	}
	if correlationID == "" && m.session != nil {
		correlationID = m.session.CorrelationID
	}
	if correlationID == "" {
		m.mutex.Unlock()
		return ErrNoCorrelationID
	}
	if m.session == nil {
		m.session = &models.OTPSession{}
	}
	m.verifying = true
	attempt := m.attempt
	m.state = models.OTPVerifying
	m.session.CorrelationID = correlationID
	m.session.Loading = true
	m.session.Error = ""
	m.mutex.Unlock()

	verifyCtx, cancel := m.withTimeout(ctx)
	response, err := m.backend.VerifyOTP(verifyCtx, correlationID, code)
	cancel()

	if err == nil && response.Token == "" && response.JWT == "" {
		err = api.ErrMissingToken
	}

	if err != nil {
		m.mutex.Lock()
		m.verifying = false
		if attempt == m.attempt {
			m.fail(errorMessage(err, "verification failed"))
		}
		m.mutex.Unlock()
		logs.Log("[WARNING][OTP] Verification failed: " + err.Error())
		return err
	}

	record := RecordFromResponse(response, m.now())
	m.store.Dispatch(store.LoginSucceeded{Record: record})

	m.mutex.Lock()
	m.verifying = false
	m.attempt++
	m.state = models.OTPVerified
	m.session = nil
	m.mutex.Unlock()

	logs.Log(fmt.Sprintf("[INFO][OTP] User %s logged in", record.UserID))

	if m.trigger != nil {
		go m.trigger.Initialize(context.Background())
	}
	if onSuccess != nil {
		onSuccess(record.Clone())
	}
	return nil
}

// Cancel drops the current attempt, as when going back to the login screen.
func (m *Machine) Cancel() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.attempt++
	m.state = models.OTPIdle
	m.session = nil
}

func (m *Machine) State() models.OTPState {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.state
}

// Remaining is the time left before a resend is allowed.
func (m *Machine) Remaining() time.Duration {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.remaining()
}

func (m *Machine) remaining() time.Duration {
	if m.session == nil || m.session.Expiry.IsZero() {
		return 0
	}
	left := m.session.Expiry.Sub(m.now())
	if left < 0 {
		return 0
	}
	return left
}

func (m *Machine) CanResend() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.canResend()
}

func (m *Machine) canResend() bool {
	return m.session != nil && m.session.Sent && !m.session.Loading && m.remaining() == 0
}

// CanVerify reports whether a code can be submitted right now.
func (m *Machine) CanVerify() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.session != nil && m.session.CorrelationID != "" && !m.verifying && m.remaining() > 0
}

func (m *Machine) Snapshot() Snapshot {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	snapshot := Snapshot{
		State:            m.state,
		RemainingSeconds: int((m.remaining() + time.Second - 1) / time.Second),
		CanResend:        m.canResend(),
	}
	if m.session != nil {
		session := *m.session
		snapshot.Session = &session
	}
	return snapshot
}

func (m *Machine) fail(message string) {
	m.state = models.OTPError
	m.session.Loading = false
	m.session.Error = message
}

func (m *Machine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.timeout)
}

// RecordFromResponse maps a verification bundle into a normalized session record.
func RecordFromResponse(response *models.VerifyResponse, now time.Time) *models.SessionRecord {
	record := &models.SessionRecord{
		Token:               response.Token,
		JWT:                 response.JWT,
		RefreshToken:        response.RefreshToken,
		UserID:              response.UserID,
		TenantID:            response.TenantID,
		ClientID:            response.ClientID,
		ProfileID:           response.ProfileID,
		ProfileName:         response.ProfileName,
		RoleID:              response.RoleID,
		RoleName:            response.RoleName,
		UserGroup:           response.UserGroup,
		FirstName:           response.FirstName,
		LastName:            response.LastName,
		Username:            response.Username,
		AvatarURL:           response.Avatar,
		TrackingInterval:    response.TrackingInterval,
		ThemeColour:         response.ThemeColour,
		IsNewUser:           response.IsNewUser,
		ForcePasswordChange: response.ForcePasswordChange,
		CreatedAt:           now.UTC().Truncate(time.Second),
	}
	record.Normalize()

	switch {
	case response.Expiry > 1e12:
		record.Expiry = time.UnixMilli(response.Expiry).UTC()
	case response.Expiry > 0:
		record.Expiry = time.Unix(response.Expiry, 0).UTC()
	default:
		if exp, ok := store.TokenExpiry(record.Token); ok {
			record.Expiry = exp.UTC()
		}
	}
	return record
}

func errorMessage(err error, fallback string) string {
	var statusErr *api.StatusError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	case errors.Is(err, api.ErrEmptyCorrelationID):
		return "the server did not start an otp session"
	case errors.Is(err, api.ErrMissingToken):
		return "the server did not return a session"
	case errors.As(err, &statusErr) && statusErr.Message != "":
		return statusErr.Message
	default:
		return fallback
	}
}
