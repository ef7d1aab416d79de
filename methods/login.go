/*
 * Copyright (C) 2025 Nethesis S.r.l.
 * SPDX-License-Identifier: GPL-3.0-or-later
 */

package methods

import (
	"net/http"

	"github.com/fatih/structs"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/pkg/errors"

	"github.com/euroscaffolds/session-agent/logs"
	"github.com/euroscaffolds/session-agent/models"
	"github.com/euroscaffolds/session-agent/otp"
	"github.com/euroscaffolds/session-agent/response"
	"github.com/euroscaffolds/session-agent/store"
)

func (h *Handlers) OTPRequest(c *gin.Context) {
	var jsonRequest models.OTPRequestJson
	if err := c.ShouldBindBodyWith(&jsonRequest, binding.JSON); err != nil {
		c.JSON(http.StatusBadRequest, structs.Map(response.StatusBadRequest{
			Code:    400,
			Message: "request fields malformed",
			Data:    err.Error(),
		}))
		return
	}

	if err := h.OTP.RequestOTP(c.Request.Context(), jsonRequest.Email); err != nil {
		h.otpFailure(c, err)
		return
	}

	c.JSON(http.StatusOK, structs.Map(response.StatusOK{
		Code:    200,
		Message: "otp sent",
		Data:    gin.H{"otp": h.OTP.Snapshot()},
	}))
}

func (h *Handlers) OTPResend(c *gin.Context) {
	// the email is optional, the current session email is used otherwise
	var jsonRequest struct {
		Email string `json:"email" binding:"omitempty,email"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindBodyWith(&jsonRequest, binding.JSON); err != nil {
			c.JSON(http.StatusBadRequest, structs.Map(response.StatusBadRequest{
				Code:    400,
				Message: "request fields malformed",
				Data:    err.Error(),
			}))
			return
		}
	}

	if !h.OTP.CanResend() {
		snapshot := h.OTP.Snapshot()
		c.JSON(http.StatusConflict, structs.Map(response.StatusConflict{
			Code:    409,
			Message: "resend not allowed yet",
			Data:    gin.H{"remaining_seconds": snapshot.RemainingSeconds},
		}))
		return
	}

	if err := h.OTP.ResendOTP(c.Request.Context(), jsonRequest.Email); err != nil {
		h.otpFailure(c, err)
		return
	}

	c.JSON(http.StatusOK, structs.Map(response.StatusOK{
		Code:    200,
		Message: "otp resent",
		Data:    gin.H{"otp": h.OTP.Snapshot()},
	}))
}

func (h *Handlers) OTPVerify(c *gin.Context) {
	var jsonOTP models.OTPVerifyJson
	if err := c.ShouldBindBodyWith(&jsonOTP, binding.JSON); err != nil {
		c.JSON(http.StatusBadRequest, structs.Map(response.StatusBadRequest{
			Code:    400,
			Message: "request fields malformed",
			Data:    err.Error(),
		}))
		return
	}

	// a code for the current attempt is only accepted during its countdown
	snapshot := h.OTP.Snapshot()
	if session := snapshot.Session; session != nil && session.Sent &&
		session.CorrelationID == jsonOTP.CorrelationID && snapshot.RemainingSeconds == 0 {
		c.JSON(http.StatusConflict, structs.Map(response.StatusConflict{
			Code:    409,
			Message: "otp expired, request a new code",
			Data:    nil,
		}))
		return
	}

	var record *models.SessionRecord
	err := h.OTP.VerifyOTP(c.Request.Context(), jsonOTP.CorrelationID, jsonOTP.OTP, func(r *models.SessionRecord) {
		record = r
	})

	switch {
	case err == nil:
		c.JSON(http.StatusOK, structs.Map(response.StatusOK{
			Code:    200,
			Message: "otp verified",
			Data:    gin.H{"profile": record, "redirect": h.HomePath},
		}))
	case errors.Is(err, otp.ErrVerifyInProgress):
		c.JSON(http.StatusConflict, structs.Map(response.StatusConflict{
			Code:    409,
			Message: "verification already in progress",
			Data:    nil,
		}))
	default:
		message := "invalid otp"
		if session := h.OTP.Snapshot().Session; session != nil && session.Error != "" {
			message = session.Error
		}
		c.JSON(http.StatusUnauthorized, structs.Map(response.StatusUnauthorized{
			Code:    401,
			Message: message,
			Data:    nil,
		}))
	}
}

func (h *Handlers) OTPStatus(c *gin.Context) {
	c.JSON(http.StatusOK, structs.Map(response.StatusOK{
		Code:    200,
		Message: "success",
		Data:    gin.H{"otp": h.OTP.Snapshot()},
	}))
}

// OTPCancel abandons the current attempt (back to the login screen).
func (h *Handlers) OTPCancel(c *gin.Context) {
	h.OTP.Cancel()

	c.JSON(http.StatusOK, structs.Map(response.StatusOK{
		Code:    200,
		Message: "otp session cleared",
		Data:    nil,
	}))
}

func (h *Handlers) Logout(c *gin.Context) {
	h.OTP.Cancel()
	h.Store.Dispatch(store.LoggedOut{})
	logs.Log("[INFO][AUTH] User logged out")

	c.JSON(http.StatusOK, structs.Map(response.StatusOK{
		Code:    200,
		Message: "logged out",
		Data:    nil,
	}))
}

func (h *Handlers) otpFailure(c *gin.Context, err error) {
	if errors.Is(err, otp.ErrSuperseded) {
		c.JSON(http.StatusConflict, structs.Map(response.StatusConflict{
			Code:    409,
			Message: "otp session was replaced",
			Data:    nil,
		}))
		return
	}

	message := err.Error()
	if session := h.OTP.Snapshot().Session; session != nil && session.Error != "" {
		message = session.Error
	}
	c.JSON(http.StatusBadGateway, structs.Map(response.StatusBadGateway{
		Code:    502,
		Message: message,
		Data:    gin.H{"otp": h.OTP.Snapshot()},
	}))
}
