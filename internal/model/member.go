package model

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Member statuses. An empty status means the signup was never completed.
const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
	StatusNoVisits  = "no_visits"
	StatusPayPal    = "paypal"
)

type Member struct {
	ID        int64  `gorm:"primaryKey" json:"id"`
	Email     string `gorm:"size:100;uniqueIndex;not null" json:"email"`
	Hash      string `gorm:"size:32;index" json:"hash"`
	Username  string `gorm:"size:50;index" json:"username"`
	FirstName string `gorm:"size:50;not null" json:"first_name"`
	LastName  string `gorm:"size:50;not null" json:"last_name"`
	Twitter   string `gorm:"size:50" json:"twitter,omitempty"`

	PasswordHash        string     `gorm:"size:255" json:"-"`
	PasswordResetToken  string     `gorm:"size:64" json:"-"`
	PasswordResetIssued *time.Time `json:"-"`

	Plan          string `gorm:"size:30" json:"plan"`
	Status        string `gorm:"size:20;index" json:"status"`
	SpreedlyToken string `gorm:"size:100" json:"-"`
	Referrer      string `gorm:"size:100" json:"referrer,omitempty"`

	Signins    int        `gorm:"default:0" json:"signins"`
	LastSignin *time.Time `json:"last_signin,omitempty"`
	AutoSignin string     `gorm:"size:50" json:"auto_signin,omitempty"`

	IsAdmin           bool    `gorm:"default:false" json:"is_admin"`
	UnsubscribeReason string  `gorm:"type:text" json:"unsubscribe_reason,omitempty"`
	RFIDTag           *string `gorm:"column:rfid_tag;size:50;uniqueIndex" json:"rfid_tag,omitempty"`
	ParkingPass       string  `gorm:"size:50" json:"parking_pass,omitempty"`

	Created time.Time `gorm:"autoCreateTime" json:"created"`
	Updated time.Time `gorm:"autoUpdateTime" json:"updated"`
}

func (Member) TableName() string {
	return "members"
}

func (m *Member) FullName() string {
	return fmt.Sprintf("%s %s", m.FirstName, m.LastName)
}

// Activated reports whether the member ever completed signup. Capacity
// checks and cleanup treat never-activated records specially.
func (m *Member) Activated() bool {
	return m.Status != ""
}

// EmailHash derives the opaque public identifier used in URLs.
func EmailHash(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}
