package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/coveworks/memberd/internal/api/middleware"
	"github.com/coveworks/memberd/internal/model/dto"
	"github.com/coveworks/memberd/internal/pkg/response"
	"github.com/coveworks/memberd/internal/service"
)

type MemberHandler struct {
	memberService    *service.MemberService
	reconcileService *service.ReconcileService
}

func NewMemberHandler(memberService *service.MemberService,
	reconcileService *service.ReconcileService) *MemberHandler {
	return &MemberHandler{memberService: memberService, reconcileService: reconcileService}
}

// List pages through active members by last name.
// GET /memberlist?page=<cursor>
func (h *MemberHandler) List(c *gin.Context) {
	page, err := h.memberService.ListActive(c.Query("page"))
	if err != nil {
		response.ParamError(c, "bad page cursor")
		return
	}
	response.Success(c, page)
}

// TotalPages reports how many pages the active listing spans.
// GET /memberlist/total_pages
func (h *MemberHandler) TotalPages(c *gin.Context) {
	pages, err := h.memberService.TotalPages()
	if err != nil {
		response.ServerError(c, "")
		return
	}
	response.Success(c, gin.H{"total_pages": pages})
}

// Suspended pages through suspended members, freshest first.
// GET /suspended?page=<cursor>
func (h *MemberHandler) Suspended(c *gin.Context) {
	page, err := h.memberService.ListSuspended(c.Query("page"))
	if err != nil {
		response.ParamError(c, "bad page cursor")
		return
	}
	response.Success(c, page)
}

// LeaveReasons lists members who told us why they left.
// GET /leavereasonlist
func (h *MemberHandler) LeaveReasons(c *gin.Context) {
	members, err := h.memberService.LeaveReasons()
	if err != nil {
		response.ServerError(c, "")
		return
	}

	out := make([]gin.H, 0, len(members))
	for _, m := range members {
		out = append(out, gin.H{
			"name":    m.FullName(),
			"email":   m.Email,
			"reason":  m.UnsubscribeReason,
			"updated": m.Updated,
		})
	}
	response.Success(c, out)
}

// Unsubscribe records a leave reason. Reached from a mail link, so no
// session is required.
// POST /unsubscribe/:id
func (h *MemberHandler) Unsubscribe(c *gin.Context) {
	memberID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "bad member id")
		return
	}
	var req dto.UnsubscribeRequest
	if err := c.ShouldBind(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	err = h.memberService.Unsubscribe(memberID, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMemberNotFound):
			response.ValidationError(c, err.Error())
		case errors.Is(err, service.ErrMissingReason):
			response.ValidationError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}
	response.SuccessWithMessage(c, "sorry to see you go", nil)
}

// MyBilling bounces the member to the processor's account page.
// GET /my_billing
func (h *MemberHandler) MyBilling(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	url, err := h.memberService.BillingURLByID(userID)
	if err != nil {
		if errors.Is(err, service.ErrMemberNotFound) {
			response.ValidationError(c, err.Error())
		} else {
			response.ServerError(c, "")
		}
		return
	}
	response.Redirect(c, url)
}

// ChangePlan moves a member onto another plan.
// POST /member/:id/plan
func (h *MemberHandler) ChangePlan(c *gin.Context) {
	memberID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "bad member id")
		return
	}
	var req dto.PlanChangeRequest
	if err := c.ShouldBind(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	if err := h.memberService.ChangePlan(memberID, req.Plan); err != nil {
		if errors.Is(err, service.ErrMemberNotFound) {
			response.ValidationError(c, err.Error())
		} else {
			response.ServerError(c, "")
		}
		return
	}
	response.SuccessWithMessage(c, "plan changed", nil)
}

// Update is the processor's webhook: a list of subscriber ids whose state
// changed. Each one is reconciled off the request path.
// POST /update
func (h *MemberHandler) Update(c *gin.Context) {
	raw := c.PostForm("subscriber_ids")
	if raw == "" {
		response.ParamError(c, "subscriber_ids is required")
		return
	}

	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			response.ParamError(c, "bad subscriber id: "+part)
			return
		}
		ids = append(ids, id)
	}

	if err := h.reconcileService.EnqueueIDs(c.Request.Context(), ids); err != nil {
		response.ServerError(c, "")
		return
	}
	response.Success(c, gin.H{"queued": len(ids)})
}

// UserProperties hands selected member fields to a partner app.
// GET /api/user?username=<u>&properties=<a,b,c>
func (h *MemberHandler) UserProperties(c *gin.Context) {
	username := c.Query("username")
	props := c.Query("properties")
	if username == "" || props == "" {
		response.ParamError(c, "username and properties are required")
		return
	}

	values, err := h.memberService.UserProperties(username, strings.Split(props, ","))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			response.ValidationError(c, err.Error())
		case errors.Is(err, service.ErrUnknownProperty):
			response.ValidationError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}
	response.Success(c, values)
}

// SuspendedNames is the partner-app roster of suspended members.
// GET /api/suspended
func (h *MemberHandler) SuspendedNames(c *gin.Context) {
	names, err := h.memberService.SuspendedNames()
	if err != nil {
		response.ServerError(c, "")
		return
	}
	response.Success(c, names)
}

// Usernames lists every linked account for partner apps.
// GET /api/usernames
func (h *MemberHandler) Usernames(c *gin.Context) {
	usernames, err := h.memberService.Usernames()
	if err != nil {
		response.ServerError(c, "")
		return
	}
	response.Success(c, usernames)
}

// ExportCSV dumps the roster for the bookkeeping spreadsheet.
// GET /api/membercsv?key=<export key>
func (h *MemberHandler) ExportCSV(c *gin.Context) {
	data, err := h.memberService.ExportCSV(c.Query("key"))
	if err != nil {
		if errors.Is(err, service.ErrBadExportKey) {
			response.PermissionError(c, err.Error())
		} else {
			response.ServerError(c, "")
		}
		return
	}
	c.Data(200, "text/csv", data)
}
