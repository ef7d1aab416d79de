/*
 * Copyright (C) 2025 Nethesis S.r.l.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/euroscaffolds/session-agent/logs"
	"github.com/euroscaffolds/session-agent/models"
)

var (
	ErrEmptyCorrelationID = errors.New("backend returned no correlation id")
	ErrMissingToken       = errors.New("backend returned no token")
)

// StatusError is a non-2xx backend answer.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend answered %d", e.Code)
	}
	return fmt.Sprintf("backend answered %d: %s", e.Code, e.Message)
}

// Client talks to the Euro Scaffolds REST backend.
// Every call after SetToken carries the Bearer header.
type Client struct {
	baseURL string
	http    *http.Client

	mutex sync.RWMutex
	token string
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetToken sets the credential used on subsequent calls; "" removes it.
func (c *Client) SetToken(token string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.token = token
}

func (c *Client) Token() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.token
}

// RequestOTP asks the backend to send a code to email and returns the correlation id.
func (c *Client) RequestOTP(ctx context.Context, email string) (string, error) {
	var response models.OTPRequestResponse
	if err := c.do(ctx, http.MethodPost, "/auth/otp/request", map[string]string{"email": email}, &response); err != nil {
		return "", errors.Wrap(err, "otp request")
	}
	if response.UserID == "" {
		return "", ErrEmptyCorrelationID
	}
	return response.UserID, nil
}

// VerifyOTP exchanges the correlation id and code for the session bundle.
func (c *Client) VerifyOTP(ctx context.Context, correlationID string, code string) (*models.VerifyResponse, error) {
	var response models.VerifyResponse
	body := map[string]string{"userId": correlationID, "otp": code}
	if err := c.do(ctx, http.MethodPost, "/auth/otp/verify", body, &response); err != nil {
		return nil, errors.Wrap(err, "otp verify")
	}
	if response.Token == "" && response.JWT == "" {
		return nil, ErrMissingToken
	}
	return &response, nil
}

// FetchPage reads one page of a master-data collection.
func (c *Client) FetchPage(ctx context.Context, resource string, page int, size int) (*models.Page, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("size", strconv.Itoa(size))

	var result models.Page
	if err := c.do(ctx, http.MethodGet, "/"+resource+"?"+query.Encode(), nil, &result); err != nil {
		return nil, errors.Wrapf(err, "fetch %s", resource)
	}
	if result.Page == 0 {
		result.Page = page
	}
	if result.Size == 0 {
		result.Size = size
	}
	if result.Total == 0 {
		result.Total = len(result.Items)
	}
	result.FetchedAt = time.Now().UTC()
	return &result, nil
}

func (c *Client) do(ctx context.Context, method string, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logs.Log(fmt.Sprintf("[WARNING][API] %s %s answered %d", method, path, resp.StatusCode))
		return &StatusError{Code: resp.StatusCode, Message: errorMessage(data)}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

// errorMessage extracts "message" from a JSON error body, else the raw text.
func errorMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	text := strings.TrimSpace(string(data))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}
