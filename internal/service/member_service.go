package service

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"

	"gorm.io/gorm"

	"github.com/coveworks/memberd/config"
	"github.com/coveworks/memberd/internal/billing"
	"github.com/coveworks/memberd/internal/model"
	"github.com/coveworks/memberd/internal/model/dto"
	"github.com/coveworks/memberd/internal/repository"
	"github.com/coveworks/memberd/internal/secrets"
	"github.com/coveworks/memberd/internal/tokens"
)

var (
	ErrUnknownProperty = errors.New("user has no such property")
	ErrBadExportKey    = errors.New("invalid export key")
	ErrMissingReason   = errors.New("a reason is required")
)

// MemberService backs the admin and inter-app member views.
type MemberService struct {
	members *repository.MemberRepository
	cache   *tokens.Cache
	billing *billing.Client
	store   *secrets.Store
	cfg     *config.Config
}

func NewMemberService(members *repository.MemberRepository, cache *tokens.Cache,
	billingClient *billing.Client, store *secrets.Store, cfg *config.Config) *MemberService {
	return &MemberService{members: members, cache: cache, billing: billingClient, store: store, cfg: cfg}
}

func memberInfo(m *model.Member) dto.MemberInfo {
	return dto.MemberInfo{
		ID:        m.ID,
		Email:     m.Email,
		Hash:      m.Hash,
		Username:  m.Username,
		FirstName: m.FirstName,
		LastName:  m.LastName,
		Plan:      m.Plan,
		Status:    m.Status,
		Signins:   m.Signins,
		Created:   m.Created,
		Updated:   m.Updated,
		LastSeen:  m.LastSignin,
	}
}

// ListActive returns one page of active members by last name.
func (s *MemberService) ListActive(cursor string) (*dto.MemberPage, error) {
	members, next, err := s.members.ListActive(cursor)
	if err != nil {
		return nil, err
	}
	return buildPage(members, next), nil
}

// ListSuspended returns one page of suspended members, freshest first.
func (s *MemberService) ListSuspended(cursor string) (*dto.MemberPage, error) {
	members, next, err := s.members.ListSuspended(cursor)
	if err != nil {
		return nil, err
	}
	return buildPage(members, next), nil
}

func buildPage(members []*model.Member, next string) *dto.MemberPage {
	page := &dto.MemberPage{Members: make([]dto.MemberInfo, 0, len(members)), NextPage: next}
	for _, m := range members {
		page.Members = append(page.Members, memberInfo(m))
	}
	return page
}

// TotalPages reports how many listing pages the active member list spans.
func (s *MemberService) TotalPages() (int, error) {
	count, err := s.members.CountByStatus(model.StatusActive)
	if err != nil {
		return 0, err
	}
	pages := int(count) / repository.PageSize
	if int(count)%repository.PageSize != 0 {
		pages++
	}
	return pages, nil
}

// LeaveReasons lists members who stated why they left.
func (s *MemberService) LeaveReasons() ([]*model.Member, error) {
	return s.members.ListWithLeaveReasons()
}

// SuspendedNames is the inter-app suspended roster: full name and username
// pairs.
func (s *MemberService) SuspendedNames() ([][2]string, error) {
	members, err := s.members.ListByStatus(model.StatusSuspended)
	if err != nil {
		return nil, err
	}
	out := make([][2]string, 0, len(members))
	for _, m := range members {
		out = append(out, [2]string{m.FullName(), m.Username})
	}
	return out, nil
}

// Unsubscribe records the member's leave reason.
func (s *MemberService) Unsubscribe(memberID int64, reason string) error {
	if reason == "" {
		return ErrMissingReason
	}
	_, err := s.members.GetByID(memberID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrMemberNotFound
	}
	if err != nil {
		return err
	}
	return s.members.UpdateFields(memberID, map[string]interface{}{
		"unsubscribe_reason": reason,
	})
}

// ChangePlan moves a member to another plan. Admin-only plans are fine here;
// the caller is an admin.
func (s *MemberService) ChangePlan(memberID int64, planName string) error {
	member, err := s.members.GetByID(memberID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrMemberNotFound
	}
	if err != nil {
		return err
	}
	return s.members.UpdateFields(member.ID, map[string]interface{}{"plan": planName})
}

// BillingURL is where a member manages their own subscription.
func (s *MemberService) BillingURL(username string) (string, error) {
	member, err := s.members.GetByUsername(username)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrMemberNotFound
	}
	if err != nil {
		return "", err
	}
	return s.billingURL(member), nil
}

// BillingURLByID is the same lookup keyed by the session's member id.
func (s *MemberService) BillingURLByID(memberID int64) (string, error) {
	member, err := s.members.GetByID(memberID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrMemberNotFound
	}
	if err != nil {
		return "", err
	}
	return s.billingURL(member), nil
}

func (s *MemberService) billingURL(member *model.Member) string {
	return fmt.Sprintf("%s/%s/subscriber_accounts/%s",
		s.cfg.Billing.SubscribeBase, s.cfg.Billing.Account, member.SpreedlyToken)
}

// UserProperties hands selected member fields to an authorized partner app.
// Only the fields named here are ever exposed; asking for anything else is
// an error rather than an empty answer.
func (s *MemberService) UserProperties(username string, properties []string) (map[string]interface{}, error) {
	member, err := s.members.GetByUsername(username)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	available := map[string]interface{}{
		"id":           member.ID,
		"email":        member.Email,
		"hash":         member.Hash,
		"username":     member.Username,
		"first_name":   member.FirstName,
		"last_name":    member.LastName,
		"twitter":      member.Twitter,
		"plan":         member.Plan,
		"status":       member.Status,
		"signins":      member.Signins,
		"last_signin":  member.LastSignin,
		"auto_signin":  member.AutoSignin,
		"is_admin":     member.IsAdmin,
		"rfid_tag":     member.RFIDTag,
		"parking_pass": member.ParkingPass,
		"created":      member.Created,
		"updated":      member.Updated,
	}

	out := make(map[string]interface{}, len(properties))
	for _, prop := range properties {
		value, ok := available[prop]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProperty, prop)
		}
		out[prop] = value
	}
	return out, nil
}

// ExportCSV dumps the member roster, gated by the export key from the
// secret store.
func (s *MemberService) ExportCSV(key string) ([]byte, error) {
	expected, err := s.store.Get(secrets.KeyMemberCSV)
	if err != nil {
		return nil, err
	}
	if key == "" || key != expected {
		return nil, ErrBadExportKey
	}

	members, err := s.members.ListAll()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"id", "email", "username", "first_name", "last_name",
		"plan", "status", "signins", "created"})
	for _, m := range members {
		_ = w.Write([]string{
			strconv.FormatInt(m.ID, 10),
			m.Email,
			m.Username,
			m.FirstName,
			m.LastName,
			m.Plan,
			m.Status,
			strconv.Itoa(m.Signins),
			m.Created.Format("2006-01-02"),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Usernames is the inter-app list of linked accounts.
func (s *MemberService) Usernames() ([]string, error) {
	return s.members.ListUsernames()
}
