package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/coveworks/memberd/config"
	"github.com/coveworks/memberd/internal/api/middleware"
	"github.com/coveworks/memberd/internal/model/dto"
	"github.com/coveworks/memberd/internal/pkg/response"
	"github.com/coveworks/memberd/internal/service"
)

type AuthHandler struct {
	authService *service.AuthService
	cfg         *config.Config
}

func NewAuthHandler(authService *service.AuthService, cfg *config.Config) *AuthHandler {
	return &AuthHandler{authService: authService, cfg: cfg}
}

// Login authenticates and sets the session cookie. When a partner app id is
// given, the redirect URL carries a trust token for that app.
// POST /login
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBind(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.authService.Login(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRateLimited):
			response.RateLimitError(c, err.Error())
		case errors.Is(err, service.ErrUserNotFound),
			errors.Is(err, service.ErrWrongPassword),
			errors.Is(err, service.ErrNotFinished),
			errors.Is(err, service.ErrSuspendedUser):
			response.AuthError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}

	h.setSessionCookie(c, resp.SessionToken, h.cfg.JWT.ExpireHours*3600)
	response.Success(c, resp)
}

// Logout clears the session cookie and revokes any partner-app trust token
// handed along.
// GET /logout
func (h *AuthHandler) Logout(c *gin.Context) {
	if userID, ok := middleware.GetUserID(c); ok {
		appID := c.Query("app_id")
		token := c.Query("token")
		if err := h.authService.Logout(c.Request.Context(), userID, appID, token); err != nil {
			response.ServerError(c, "")
			return
		}
	}

	h.setSessionCookie(c, "", -1)
	response.SuccessWithMessage(c, "logged out", nil)
}

// ValidateToken lets an authorized partner app check a trust token it was
// handed on a login redirect.
// POST /validate_token
func (h *AuthHandler) ValidateToken(c *gin.Context) {
	var req dto.ValidateTokenRequest
	if err := c.ShouldBind(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	valid, err := h.authService.ValidateToken(c.Request.Context(), middleware.GetAppID(c), &req)
	if err != nil {
		response.ServerError(c, "")
		return
	}
	response.Success(c, dto.ValidateTokenResponse{Valid: valid})
}

// ForgotPassword mails a reset link. Unknown addresses are called out; the
// login page already distinguishes them, so there is nothing left to hide
// here.
// POST /forgot_password
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req dto.ForgotPasswordRequest
	if err := c.ShouldBind(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	err := h.authService.ForgotPassword(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			response.ValidationError(c, err.Error())
		} else {
			response.ServerError(c, "")
		}
		return
	}
	response.SuccessWithMessage(c, "password reset mail sent", nil)
}

// CheckResetToken resolves a reset link before the new password is chosen.
// GET /reset_password?user=<hash>&token=<token>
func (h *AuthHandler) CheckResetToken(c *gin.Context) {
	member, err := h.authService.CheckResetToken(c.Query("user"), c.Query("token"))
	if err != nil {
		h.resetError(c, err)
		return
	}
	response.Success(c, gin.H{"first_name": member.FirstName})
}

// ResetPassword consumes the reset token and sets the new password.
// POST /reset_password?user=<hash>&token=<token>
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req dto.ResetPasswordRequest
	if err := c.ShouldBind(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	err := h.authService.ResetPassword(c.Request.Context(), c.Query("user"), c.Query("token"), req.Password)
	if err != nil {
		if errors.Is(err, service.ErrPasswordTooShort) {
			response.ValidationError(c, err.Error())
			return
		}
		h.resetError(c, err)
		return
	}
	response.SuccessWithMessage(c, "password changed", nil)
}

func (h *AuthHandler) resetError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrMemberNotFound):
		response.ValidationError(c, err.Error())
	case errors.Is(err, service.ErrBadResetToken):
		response.AuthError(c, err.Error())
	default:
		response.ServerError(c, "")
	}
}

func (h *AuthHandler) setSessionCookie(c *gin.Context, token string, maxAge int) {
	c.SetCookie(middleware.SessionCookie, token, maxAge, "/", "", h.cfg.Server.IsProd(), true)
}
