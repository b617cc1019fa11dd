package dto

type SignupRequest struct {
	FirstName string `form:"first_name" json:"first_name" binding:"required"`
	LastName  string `form:"last_name" json:"last_name" binding:"required"`
	Email     string `form:"email" json:"email" binding:"required"`
	Twitter   string `form:"twitter" json:"twitter"`
	Referrer  string `form:"referrer" json:"referrer"`
	PayPal    bool   `form:"paypal" json:"paypal"`
}

type AccountRequest struct {
	Username        string `form:"username" json:"username"`
	Password        string `form:"password" json:"password" binding:"required"`
	PasswordConfirm string `form:"password_confirm" json:"password_confirm" binding:"required"`
	Plan            string `form:"plan" json:"plan"`
}

type LoginRequest struct {
	Email    string `form:"email" json:"email" binding:"required"`
	Password string `form:"password" json:"password" binding:"required"`
	// URL to redirect to after a successful login.
	URL string `form:"url" json:"url"`
	// AppID is set when a partner app is requesting a cross-app trust token.
	AppID string `form:"app_id" json:"app_id"`
}

type ForgotPasswordRequest struct {
	Email string `form:"email" json:"email" binding:"required"`
}

type ResetPasswordRequest struct {
	Password string `form:"password" json:"password" binding:"required"`
}

type ValidateTokenRequest struct {
	User  int64  `form:"user" json:"user" binding:"required"`
	Token string `form:"token" json:"token" binding:"required"`
}

type UnsubscribeRequest struct {
	Reason string `form:"unsubscribe_reason" json:"unsubscribe_reason" binding:"required"`
}

type SigninRequest struct {
	Email string `form:"email" json:"email" binding:"required"`
}

type RFIDSigninRequest struct {
	ID string `form:"id" json:"id" binding:"required"`
}

type BadgeRequest struct {
	RFIDTag     string `form:"rfid_tag" json:"rfid_tag"`
	Description string `form:"description" json:"description"`
	IsPark      bool   `form:"ispark" json:"ispark"`
	ParkingPass string `form:"parking_pass" json:"parking_pass"`
}

type PlanChangeRequest struct {
	Plan string `form:"plan" json:"plan" binding:"required"`
}
