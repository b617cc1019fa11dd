package testutil

import (
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/coveworks/memberd/config"
	"github.com/coveworks/memberd/internal/model"
)

var fixtureSeq int64

// TestMember creates and persists a member. Defaults to an active member on
// the newfull plan; override with options.
func TestMember(t *testing.T, db *gorm.DB, opts ...func(*model.Member)) *model.Member {
	t.Helper()

	fixtureSeq++
	n := fixtureSeq
	email := fmt.Sprintf("member%d@example.com", n)
	member := &model.Member{
		Email:     email,
		Hash:      model.EmailHash(email),
		Username:  fmt.Sprintf("member.%d", n),
		FirstName: "Test",
		LastName:  fmt.Sprintf("Member%d", n),
		Plan:      "newfull",
		Status:    model.StatusActive,
	}

	for _, opt := range opts {
		opt(member)
	}

	if err := db.Create(member).Error; err != nil {
		t.Fatalf("Failed to create test member: %v", err)
	}

	return member
}

func WithEmail(email string) func(*model.Member) {
	return func(m *model.Member) {
		m.Email = email
		m.Hash = model.EmailHash(email)
	}
}

func WithName(first, last string) func(*model.Member) {
	return func(m *model.Member) {
		m.FirstName = first
		m.LastName = last
	}
}

func WithUsername(username string) func(*model.Member) {
	return func(m *model.Member) {
		m.Username = username
	}
}

func WithPlan(plan string) func(*model.Member) {
	return func(m *model.Member) {
		m.Plan = plan
	}
}

func WithStatus(status string) func(*model.Member) {
	return func(m *model.Member) {
		m.Status = status
	}
}

func WithPasswordHash(hash string) func(*model.Member) {
	return func(m *model.Member) {
		m.PasswordHash = hash
	}
}

func WithProcessorToken(token string) func(*model.Member) {
	return func(m *model.Member) {
		m.SpreedlyToken = token
	}
}

func WithRFIDTag(tag string) func(*model.Member) {
	return func(m *model.Member) {
		m.RFIDTag = &tag
	}
}

func WithAdmin() func(*model.Member) {
	return func(m *model.Member) {
		m.IsAdmin = true
	}
}

func WithSignins(n int) func(*model.Member) {
	return func(m *model.Member) {
		m.Signins = n
	}
}

// Backdate rewrites created/updated after insert, bypassing the auto
// timestamps. Used to age records past grace windows.
func Backdate(t *testing.T, db *gorm.DB, m *model.Member, created, updated time.Time) {
	t.Helper()

	err := db.Model(&model.Member{}).Where("id = ?", m.ID).
		UpdateColumns(map[string]interface{}{"created": created, "updated": updated}).Error
	if err != nil {
		t.Fatalf("Failed to backdate member: %v", err)
	}
	m.Created = created
	m.Updated = updated
}

// TestConfig returns a config with fast, deterministic settings for tests.
func TestConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Mode:    "test",
			BaseURL: "http://localhost:8080",
		},
		JWT: config.JWTConfig{
			Secret:      "test-secret",
			ExpireHours: 24,
		},
		Email: config.EmailConfig{
			From:        "signup@example.com",
			BillingFrom: "billing@example.com",
			OpsEmail:    "ops@example.com",
			HelpEmail:   "help@example.com",
		},
		Billing: config.BillingConfig{
			Account:       "testspace",
			APIBase:       "https://subs.example.com/api/v4",
			SubscribeBase: "https://subs.example.com",
			GiftCredit:    95,
		},
		Signup: config.SignupConfig{
			PlanGraceDays:   30,
			LegacyGraceDays: 30,
			HiveLimit:       3,
			LiteVisits:      10,
			Domain:          "example.com",
			DefaultPlan:     "newfull",
		},
		Auth: config.AuthConfig{
			BcryptCost:      4,
			AuthorizedApps:  []string{"doorbot", "events"},
			ResetTokenHours: 24,
		},
		Hours: config.HoursConfig{
			Open:          9,
			Close:         21,
			CountWeekends: false,
			Timezone:      "UTC",
		},
		Queue: config.QueueConfig{
			TaskQueue:  "memberd:tasks:test",
			MaxWorkers: 1,
			MaxRetries: 5,
		},
		Secrets: config.SecretsConfig{
			MasterKey: "0123456789abcdef0123456789abcdef",
		},
	}
}
