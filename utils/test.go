/*
 * Copyright (C) 2025 Nethesis S.r.l.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package utils

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgryski/dgoogauth"
	"github.com/gin-gonic/gin"
	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"

	"github.com/euroscaffolds/session-agent/models"
)

type mockUser struct {
	email  string
	secret string
}

// MockBackend is an in-process stand-in for the Euro Scaffolds REST backend.
// Codes are real TOTP codes for a per-request secret; tokens are HS256 JWTs.
type MockBackend struct {
	Server   *httptest.Server
	TokenTTL time.Duration

	signingKey []byte

	mutex         sync.Mutex
	users         map[string]*mockUser
	calls         map[string]int
	authorization map[string]string
	failRequest   bool
	failResources map[string]bool
	verifyDelay   time.Duration
}

func NewMockBackend() *MockBackend {
	m := &MockBackend{
		TokenTTL:      time.Hour,
		signingKey:    []byte(uuid.NewString()),
		users:         make(map[string]*mockUser),
		calls:         make(map[string]int),
		authorization: make(map[string]string),
		failResources: make(map[string]bool),
	}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/auth/otp/request", m.request)
	router.POST("/auth/otp/verify", m.verify)
	router.GET("/:resource", m.resource)

	m.Server = httptest.NewServer(router)
	return m
}

func (m *MockBackend) URL() string {
	return m.Server.URL
}

func (m *MockBackend) Close() {
	m.Server.Close()
}

// CodeFor returns the code currently valid for correlationID.
func (m *MockBackend) CodeFor(correlationID string) string {
	m.mutex.Lock()
	user, ok := m.users[correlationID]
	m.mutex.Unlock()
	if !ok {
		return ""
	}
	return GenerateOTP(user.secret)
}

// Calls returns how many times the route was hit, e.g. "verify" or "leads".
func (m *MockBackend) Calls(name string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.calls[name]
}

// Authorization returns the last Authorization header seen by resource.
func (m *MockBackend) Authorization(resource string) string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.authorization[resource]
}

func (m *MockBackend) FailRequests(fail bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.failRequest = fail
}

func (m *MockBackend) FailResource(resource string, fail bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.failResources[resource] = fail
}

// DelayVerify holds every verify call for d before answering.
func (m *MockBackend) DelayVerify(d time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.verifyDelay = d
}

// IssueToken signs a token for userID the same way a verification does.
func (m *MockBackend) IssueToken(userID string, expiry time.Time) string {
	claims := jwtv5.MapClaims{
		"sub": userID,
		"iat": time.Now().Unix(),
		"exp": expiry.Unix(),
	}
	token, err := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims).SignedString(m.signingKey)
	if err != nil {
		return ""
	}
	return token
}

func (m *MockBackend) count(name string) {
	m.mutex.Lock()
	m.calls[name]++
	m.mutex.Unlock()
}

func (m *MockBackend) request(c *gin.Context) {
	m.count("request")

	var body struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "email is required"})
		return
	}

	m.mutex.Lock()
	fail := m.failRequest
	m.mutex.Unlock()
	if fail {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "mail service unavailable"})
		return
	}

	secret := make([]byte, 20)
	if _, err := rand.Read(secret); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}

	id := uuid.NewString()
	m.mutex.Lock()
	m.users[id] = &mockUser{email: body.Email, secret: base32.StdEncoding.EncodeToString(secret)}
	m.mutex.Unlock()

	c.JSON(http.StatusOK, models.OTPRequestResponse{UserID: id})
}

func (m *MockBackend) verify(c *gin.Context) {
	m.count("verify")

	var body struct {
		UserID string `json:"userId"`
		OTP    string `json:"otp"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "malformed body"})
		return
	}

	m.mutex.Lock()
	user, ok := m.users[body.UserID]
	delay := m.verifyDelay
	m.mutex.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "unknown user"})
		return
	}

	otpc := &dgoogauth.OTPConfig{
		Secret:     user.secret,
		WindowSize: 3,
		UTC:        true,
	}
	valid, err := otpc.Authenticate(body.OTP)
	if err != nil || !valid {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "invalid code"})
		return
	}

	expiry := time.Now().Add(m.TokenTTL)
	name := strings.SplitN(user.email, "@", 2)[0]
	c.JSON(http.StatusOK, models.VerifyResponse{
		Token:            m.IssueToken(body.UserID, expiry),
		RefreshToken:     uuid.NewString(),
		Expiry:           expiry.Unix(),
		UserID:           body.UserID,
		TenantID:         "tenant-1",
		ClientID:         "client-1",
		ProfileID:        "profile-1",
		ProfileName:      "Administrator",
		RoleID:           "role-1",
		RoleName:         "admin",
		UserGroup:        "office",
		FirstName:        name,
		LastName:         "Tester",
		Username:         user.email,
		Avatar:           "https://cdn.euroscaffolds.local/avatar/" + name + ".png",
		TrackingInterval: 30,
		ThemeColour:      "#004b87",
	})
}

func (m *MockBackend) resource(c *gin.Context) {
	name := c.Param("resource")
	m.count(name)

	header := c.GetHeader("Authorization")
	m.mutex.Lock()
	m.authorization[name] = header
	fail := m.failResources[name]
	m.mutex.Unlock()

	if !m.authorized(header) {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "missing or invalid token"})
		return
	}
	if fail {
		c.JSON(http.StatusInternalServerError, gin.H{"message": name + " unavailable"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "100"))

	items := make([]gin.H, 0, 3)
	for i := 1; i <= 3; i++ {
		items = append(items, gin.H{"id": i, "name": fmt.Sprintf("%s-%d", name, i)})
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "page": page, "size": size, "total": len(items)})
}

func (m *MockBackend) authorized(header string) bool {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return false
	}
	_, err := jwtv5.Parse(raw, func(*jwtv5.Token) (interface{}, error) {
		return m.signingKey, nil
	}, jwtv5.WithValidMethods([]string{jwtv5.SigningMethodHS256.Alg()}))
	return err == nil
}

// DecodeJWTPart decodes a JWT base64url part
func DecodeJWTPart(part string) ([]byte, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(part)
	if err != nil {
		decoded, err = base64.URLEncoding.DecodeString(part)
	}
	return decoded, err
}

// GenerateOTP generates a TOTP code for the given secret.
func GenerateOTP(secret string) string {
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		return ""
	}

	return code
}
