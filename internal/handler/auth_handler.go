package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/suteetoe/pharmadesk/internal/apperror"
	"github.com/suteetoe/pharmadesk/internal/otp"
	"github.com/suteetoe/pharmadesk/internal/registrar"
	"github.com/suteetoe/pharmadesk/internal/repository"
	"github.com/suteetoe/pharmadesk/pkg/jwtutil"
	"github.com/suteetoe/pharmadesk/pkg/logger"
	"github.com/suteetoe/pharmadesk/prometheus"
)

// AuthHandler serves the unauthenticated signup and login endpoints.
type AuthHandler struct {
	otp       *otp.Service
	registrar *registrar.Registrar
	users     *repository.UserRepository
	tokens    *jwtutil.JWTUtil
	echoCode  bool
}

// NewAuthHandler returns an AuthHandler. echoCode puts issued OTP codes in the
// send-otp response and must stay off in production.
func NewAuthHandler(otpSvc *otp.Service, reg *registrar.Registrar, users *repository.UserRepository, tokens *jwtutil.JWTUtil, echoCode bool) *AuthHandler {
	return &AuthHandler{otp: otpSvc, registrar: reg, users: users, tokens: tokens, echoCode: echoCode}
}

type sendOTPRequest struct {
	Mobile string `json:"mobile"`
}

type sendOTPResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
}

// SendOTP issues a signup passcode for a mobile number.
func (h *AuthHandler) SendOTP(c echo.Context) error {
	log := logger.FromEcho(c)

	var req sendOTPRequest
	if err := c.Bind(&req); err != nil {
		log.Warn("Failed to parse send-otp request", zap.Error(err))
		return respondError(c, errInvalidBody)
	}

	code, err := h.otp.Send(c.Request().Context(), strings.TrimSpace(req.Mobile))
	if err != nil {
		return respondError(c, err)
	}

	resp := sendOTPResponse{Success: true}
	if h.echoCode {
		resp.Code = code
	}
	return c.JSON(http.StatusOK, resp)
}

type verifyOTPRequest struct {
	Mobile string `json:"mobile"`
	Code   string `json:"code"`
}

// VerifyOTP marks a signup passcode as verified.
func (h *AuthHandler) VerifyOTP(c echo.Context) error {
	log := logger.FromEcho(c)

	var req verifyOTPRequest
	if err := c.Bind(&req); err != nil {
		log.Warn("Failed to parse verify-otp request", zap.Error(err))
		return respondError(c, errInvalidBody)
	}

	if err := h.otp.Verify(c.Request().Context(), strings.TrimSpace(req.Mobile), strings.TrimSpace(req.Code)); err != nil {
		return respondError(c, err)
	}

	log.Info("Mobile verified")
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}

// RegisterTenant creates a pharmacy and its owner account.
func (h *AuthHandler) RegisterTenant(c echo.Context) error {
	log := logger.FromEcho(c)

	var req registrar.Registration
	if err := c.Bind(&req); err != nil {
		log.Warn("Failed to parse registration request", zap.Error(err))
		return respondError(c, errInvalidBody)
	}

	result, err := h.registrar.Register(c.Request().Context(), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, result)
}

type loginRequest struct {
	UserID   json.Number `json:"userId"`
	Password string      `json:"password"`
}

type loginUser struct {
	UserID     int64  `json:"userId"`
	TenantCode int64  `json:"tenantCode"`
	Role       string `json:"role"`
	Name       string `json:"name"`
}

type loginResponse struct {
	Token string    `json:"token"`
	User  loginUser `json:"user"`
}

// Login exchanges a user id and password for a session token.
func (h *AuthHandler) Login(c echo.Context) error {
	log := logger.FromEcho(c)

	var req loginRequest
	if err := c.Bind(&req); err != nil {
		log.Warn("Failed to parse login request", zap.Error(err))
		prometheus.RecordLogin("invalid_request")
		return respondError(c, errInvalidBody)
	}
	if req.UserID == "" {
		prometheus.RecordLogin("invalid_request")
		return respondError(c, apperror.Validation("userId", "userId is required"))
	}
	userID, err := req.UserID.Int64()
	if err != nil || userID <= 0 {
		prometheus.RecordLogin("invalid_request")
		return respondError(c, apperror.Validation("userId", "userId must be a positive integer"))
	}
	if req.Password == "" {
		prometheus.RecordLogin("invalid_request")
		return respondError(c, apperror.Validation("password", "password is required"))
	}

	user, err := h.users.FindForLogin(c.Request().Context(), userID)
	if err != nil {
		if errors.Is(err, apperror.ErrUserNotFound) {
			prometheus.RecordLogin("user_not_found")
			prometheus.RecordAuthError("user_not_found")
		}
		return respondError(c, err)
	}

	if !user.MatchPassword(req.Password) {
		log.Warn("Invalid password", zap.Int64("user_id", userID))
		prometheus.RecordLogin("invalid_password")
		prometheus.RecordAuthError("invalid_password")
		return respondError(c, apperror.ErrInvalidPassword)
	}

	token, err := h.tokens.Issue(user)
	if err != nil {
		prometheus.RecordAuthError("token_generation_failed")
		return respondError(c, apperror.Internal("issue token", err))
	}

	prometheus.RecordLogin("success")
	log.Info("User logged in with tenant context",
		zap.Int64("user_id", user.UserID),
		zap.Int64("tenant_code", user.TenantCode),
		zap.String("role", string(user.Role)))

	return c.JSON(http.StatusOK, loginResponse{
		Token: token,
		User: loginUser{
			UserID:     user.UserID,
			TenantCode: user.TenantCode,
			Role:       string(user.Role),
			Name:       user.Name,
		},
	})
}
