package dto

import "time"

type MemberInfo struct {
	ID        int64      `json:"id"`
	Email     string     `json:"email"`
	Hash      string     `json:"hash"`
	Username  string     `json:"username"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	Plan      string     `json:"plan"`
	Status    string     `json:"status"`
	Signins   int        `json:"signins"`
	Created   time.Time  `json:"created"`
	Updated   time.Time  `json:"updated"`
	LastSeen  *time.Time `json:"last_signin,omitempty"`
}

type MemberPage struct {
	Members  []MemberInfo `json:"members"`
	NextPage string       `json:"next_page"`
}

type LoginResponse struct {
	SessionToken string `json:"session_token"`
	RedirectURL  string `json:"redirect_url"`
}

type ValidateTokenResponse struct {
	Valid bool `json:"valid"`
}

type MaglockEntry struct {
	Username string `json:"username"`
	RFIDTag  string `json:"rfid_tag"`
}

type SigninResponse struct {
	// VisitsRemaining is null for members on unlimited plans.
	VisitsRemaining *int `json:"visits_remaining"`
}

type RFIDSigninResponse struct {
	Name            string `json:"name"`
	Username        string `json:"username"`
	Email           string `json:"email"`
	Gravatar        string `json:"gravatar"`
	AutoSignin      string `json:"auto_signin"`
	VisitsRemaining *int   `json:"visits_remaining"`
}

type PlanView struct {
	Name          string  `json:"name"`
	HumanName     string  `json:"human_name"`
	PricePerMonth float64 `json:"price_per_month"`
	Description   string  `json:"description"`
	Desk          bool    `json:"desk"`
	SigninLimit   *int    `json:"signin_limit,omitempty"`
}

type PlanListResponse struct {
	Selectable  []PlanView `json:"selectable"`
	Unavailable []PlanView `json:"unavailable"`
}
