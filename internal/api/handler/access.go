package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/coveworks/memberd/internal/api/middleware"
	"github.com/coveworks/memberd/internal/model/dto"
	"github.com/coveworks/memberd/internal/pkg/response"
	"github.com/coveworks/memberd/internal/service"
)

type AccessHandler struct {
	accessService *service.AccessService
}

func NewAccessHandler(accessService *service.AccessService) *AccessHandler {
	return &AccessHandler{accessService: accessService}
}

// Signin counts a front-desk signin by email or workspace address.
// POST /api/signin
func (h *AccessHandler) Signin(c *gin.Context) {
	var req dto.SigninRequest
	if err := c.ShouldBind(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	remaining, err := h.accessService.RecordSignin(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, service.ErrNotActiveMember) {
			response.ValidationError(c, err.Error())
		} else {
			response.ServerError(c, "")
		}
		return
	}
	response.Success(c, dto.SigninResponse{VisitsRemaining: remaining})
}

// RFIDSignin signs a member in by badge tag and returns the kiosk profile.
// POST /api/rfid
func (h *AccessHandler) RFIDSignin(c *gin.Context) {
	var req dto.RFIDSigninRequest
	if err := c.ShouldBind(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.accessService.RFIDSignin(c.Request.Context(), req.ID)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRFIDKey) {
			response.ValidationError(c, err.Error())
		} else {
			response.ServerError(c, "")
		}
		return
	}
	response.Success(c, resp)
}

// Maglock is the active tag list the door controller polls.
// GET /api/maglock/:key
func (h *AccessHandler) Maglock(c *gin.Context) {
	entries, err := h.accessService.MaglockList(c.Param("key"))
	if err != nil {
		if errors.Is(err, service.ErrBadMaglockKey) {
			response.PermissionError(c, err.Error())
		} else {
			response.ServerError(c, "")
		}
		return
	}
	response.Success(c, entries)
}

// RFIDSwipe logs a raw door swipe from the controller.
// POST /api/rfidswipe
func (h *AccessHandler) RFIDSwipe(c *gin.Context) {
	err := h.accessService.RecordSwipe(c.Request.Context(), c.PostForm("key"), c.PostForm("id"))
	if err != nil {
		if errors.Is(err, service.ErrBadMaglockKey) {
			response.PermissionError(c, err.Error())
		} else {
			response.ServerError(c, "")
		}
		return
	}
	response.Success(c, nil)
}

// AssignBadge hands a member an RFID tag or a parking pass.
// POST /api/key
func (h *AccessHandler) AssignBadge(c *gin.Context) {
	memberID, err := strconv.ParseInt(c.PostForm("member_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "bad member id")
		return
	}
	var req dto.BadgeRequest
	if err := c.ShouldBind(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	err = h.accessService.AssignBadge(c.Request.Context(), memberID, &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMemberNotFound):
			response.ValidationError(c, err.Error())
		case errors.Is(err, service.ErrTagTaken):
			response.ValidationError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}
	response.SuccessWithMessage(c, "badge updated", nil)
}

// Pref stores the member's kiosk auto-signin preference.
// POST /pref
func (h *AccessHandler) Pref(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}
	if err := h.accessService.SetAutoSignin(userID, c.PostForm("auto_signin")); err != nil {
		response.ServerError(c, "")
		return
	}
	response.SuccessWithMessage(c, "preference saved", nil)
}
