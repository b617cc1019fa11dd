package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/coveworks/memberd/internal/api/middleware"
	"github.com/coveworks/memberd/internal/model"
	"github.com/coveworks/memberd/internal/model/dto"
	"github.com/coveworks/memberd/internal/pkg/response"
	"github.com/coveworks/memberd/internal/plan"
	"github.com/coveworks/memberd/internal/service"
)

type SignupHandler struct {
	signupService *service.SignupService
	catalog       *plan.Catalog
}

func NewSignupHandler(signupService *service.SignupService, catalog *plan.Catalog) *SignupHandler {
	return &SignupHandler{signupService: signupService, catalog: catalog}
}

// Start begins a signup.
// POST /
func (h *SignupHandler) Start(c *gin.Context) {
	var req dto.SignupRequest
	if err := c.ShouldBind(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	member, paymentURL, err := h.signupService.StartSignup(&req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMissingFields):
			response.ParamError(c, err.Error())
		case errors.Is(err, service.ErrAlreadyExists), errors.Is(err, service.ErrSuspendedSignup):
			response.ValidationError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}

	// An account without a paid subscription resumes at the payment page.
	if paymentURL != "" {
		response.Redirect(c, paymentURL)
		return
	}
	response.Redirect(c, "/plan/"+member.Hash)
}

func planView(p *plan.Plan) dto.PlanView {
	return dto.PlanView{
		Name:          p.Name,
		HumanName:     p.HumanName,
		PricePerMonth: p.PricePerMonth,
		Description:   p.Description,
		Desk:          p.Desk,
		SigninLimit:   p.SigninLimit,
	}
}

// Plans shows the plan choices for an applicant. A plan query parameter
// records a choice; a bare GET only reads, so reloading the page cannot
// reset an earlier choice.
// GET /plan/:hash
func (h *SignupHandler) Plans(c *gin.Context) {
	hash := c.Param("hash")
	chosen := c.Query("plan")

	var member *model.Member
	var err error
	if chosen == "" {
		member, err = h.signupService.Applicant(hash)
	} else {
		member, err = h.signupService.ChoosePlan(hash, chosen, middleware.IsAdmin(c))
	}
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMemberNotFound),
			errors.Is(err, service.ErrPlanUnavailable):
			response.ValidationError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}

	selectable, unavailable, err := h.catalog.PlansToShow()
	if err != nil {
		response.ServerError(c, "")
		return
	}

	resp := dto.PlanListResponse{
		Selectable:  make([]dto.PlanView, 0, len(selectable)),
		Unavailable: make([]dto.PlanView, 0, len(unavailable)),
	}
	for _, p := range selectable {
		resp.Selectable = append(resp.Selectable, planView(p))
	}
	for _, p := range unavailable {
		resp.Unavailable = append(resp.Unavailable, planView(p))
	}
	response.Success(c, gin.H{
		"plan":  member.Plan,
		"plans": resp,
	})
}

// Account shows the account-creation step: the member's details and a
// suggested username.
// GET /account/:hash
func (h *SignupHandler) Account(c *gin.Context) {
	member, err := h.signupService.ChoosePlan(c.Param("hash"), "", middleware.IsAdmin(c))
	if err != nil {
		if errors.Is(err, service.ErrMemberNotFound) {
			response.ValidationError(c, err.Error())
		} else {
			response.ServerError(c, "")
		}
		return
	}

	// An account without a paid subscription resumes at the payment page
	// rather than collecting credentials again.
	if member.Username != "" && member.SpreedlyToken == "" {
		paymentURL, err := h.signupService.ResumePaymentURL(member)
		if err != nil {
			response.ServerError(c, "")
			return
		}
		response.Redirect(c, paymentURL)
		return
	}

	suggested, err := h.signupService.SuggestUsername(c.Request.Context(), member)
	if err != nil {
		response.ServerError(c, "")
		return
	}
	response.Success(c, gin.H{
		"first_name": member.FirstName,
		"last_name":  member.LastName,
		"email":      member.Email,
		"plan":       member.Plan,
		"username":   suggested,
	})
}

// CreateAccount finishes the signup and redirects to payment, or straight to
// the success page for members who already pay.
// POST /account/:hash
func (h *SignupHandler) CreateAccount(c *gin.Context) {
	var req dto.AccountRequest
	if err := c.ShouldBind(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	redirectURL, err := h.signupService.CreateAccount(c.Request.Context(), c.Param("hash"), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMemberNotFound),
			errors.Is(err, service.ErrPasswordMismatch),
			errors.Is(err, service.ErrPasswordTooShort),
			errors.Is(err, service.ErrAccountExists),
			errors.Is(err, service.ErrGiftCodeFormat),
			errors.Is(err, service.ErrGiftCodeInvalid),
			errors.Is(err, service.ErrGiftCodeUsed):
			response.ValidationError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}

	response.Redirect(c, redirectURL)
}

// Success is where the processor sends the member after payment.
// GET /success/:hash
func (h *SignupHandler) Success(c *gin.Context) {
	member, err := h.signupService.Confirm(c.Request.Context(), c.Param("hash"))
	if err != nil {
		if errors.Is(err, service.ErrMemberNotFound) {
			response.ValidationError(c, err.Error())
		} else {
			response.ServerError(c, "")
		}
		return
	}

	response.SuccessWithMessage(c, "Welcome aboard!", gin.H{
		"first_name": member.FirstName,
		"status":     member.Status,
	})
}
