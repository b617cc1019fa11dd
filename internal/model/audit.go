package model

import "time"

// UsedCode outcome tags.
const (
	CodeOutcomeOK      = "OK"
	CodeOutcomeInvalid = "invalid code"
	CodeOutcomeReused  = "2nd+ attempt"
)

// UsedCode records every gift-code redemption attempt, including rejected
// repeats, so fraud and eventual success are both visible in the audit trail.
// Append-only.
type UsedCode struct {
	ID      int64     `gorm:"primaryKey" json:"id"`
	Code    string    `gorm:"size:16;index" json:"code"`
	Email   string    `gorm:"size:100" json:"email"`
	Extra   string    `gorm:"size:50" json:"extra"`
	Created time.Time `gorm:"autoCreateTime" json:"created"`
}

func (UsedCode) TableName() string {
	return "used_codes"
}

// RFIDSwipe records every door swipe attempt. Append-only.
type RFIDSwipe struct {
	ID       int64     `gorm:"primaryKey" json:"id"`
	Username string    `gorm:"size:50" json:"username"`
	RFIDTag  string    `gorm:"column:rfid_tag;size:50" json:"rfid_tag"`
	Success  bool      `json:"success"`
	Created  time.Time `gorm:"autoCreateTime" json:"created"`
}

func (RFIDSwipe) TableName() string {
	return "rfid_swipes"
}

// BadgeChange records RFID badge assignments with the member's stated reason.
// Append-only.
type BadgeChange struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	Username    string    `gorm:"size:50;index" json:"username"`
	RFIDTag     string    `gorm:"column:rfid_tag;size:50" json:"rfid_tag"`
	Description string    `gorm:"size:255" json:"description"`
	Created     time.Time `gorm:"autoCreateTime" json:"created"`
}

func (BadgeChange) TableName() string {
	return "badge_changes"
}
