package repository

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/coveworks/memberd/internal/model"
)

// PageSize is the fixed page size for member listings.
const PageSize = 25

type MemberRepository struct {
	db *gorm.DB
}

func NewMemberRepository(db *gorm.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

func (r *MemberRepository) Create(member *model.Member) error {
	return r.db.Create(member).Error
}

func (r *MemberRepository) Save(member *model.Member) error {
	return r.db.Save(member).Error
}

func (r *MemberRepository) Delete(member *model.Member) error {
	return r.db.Delete(member).Error
}

func (r *MemberRepository) GetByID(id int64) (*model.Member, error) {
	var member model.Member
	err := r.db.Where("id = ?", id).First(&member).Error
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *MemberRepository) GetByEmail(email string) (*model.Member, error) {
	var member model.Member
	err := r.db.Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&member).Error
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *MemberRepository) GetByHash(hash string) (*model.Member, error) {
	var member model.Member
	err := r.db.Where("hash = ?", hash).First(&member).Error
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *MemberRepository) GetByUsername(username string) (*model.Member, error) {
	var member model.Member
	err := r.db.Where("username = ?", username).First(&member).Error
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *MemberRepository) GetByRFIDTag(tag string) (*model.Member, error) {
	var member model.Member
	err := r.db.Where("rfid_tag = ?", tag).First(&member).Error
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *MemberRepository) ExistsByUsername(username string) (bool, error) {
	var count int64
	err := r.db.Model(&model.Member{}).Where("username = ?", username).Count(&count).Error
	return count > 0, err
}

// UpdateFields updates columns through gorm hooks, bumping the updated
// timestamp as usual.
func (r *MemberRepository) UpdateFields(id int64, fields map[string]interface{}) error {
	return r.db.Model(&model.Member{}).Where("id = ?", id).Updates(fields).Error
}

// UpdateColumnsQuiet writes columns without touching the updated timestamp.
// Reconciliation relies on `updated` meaning "last membership state change",
// so counters and tokens go through here.
func (r *MemberRepository) UpdateColumnsQuiet(id int64, fields map[string]interface{}) error {
	return r.db.Model(&model.Member{}).Where("id = ?", id).UpdateColumns(fields).Error
}

// CountActiveOnPlans counts members currently active on any of the plans.
func (r *MemberRepository) CountActiveOnPlans(plans []string) (int64, error) {
	var count int64
	err := r.db.Model(&model.Member{}).
		Where("plan IN ? AND status = ?", plans, model.StatusActive).
		Count(&count).Error
	return count, err
}

// CountPendingOnPlans counts suspended and never-activated members on the
// plans whose record changed after the cutoff. They hold a capacity slot
// until the grace window lapses.
func (r *MemberRepository) CountPendingOnPlans(plans []string, updatedAfter time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&model.Member{}).
		Where("plan IN ? AND status IN ? AND updated > ?",
			plans, []string{model.StatusSuspended, ""}, updatedAfter).
		Count(&count).Error
	return count, err
}

func (r *MemberRepository) CountByStatus(status string) (int64, error) {
	var count int64
	err := r.db.Model(&model.Member{}).Where("status = ?", status).Count(&count).Error
	return count, err
}

// ListActive returns one page of active members ordered by last name, with an
// opaque cursor for the next page. An empty cursor starts from the beginning;
// an empty next cursor means the listing is exhausted.
func (r *MemberRepository) ListActive(cursor string) ([]*model.Member, string, error) {
	query := r.db.Where("status = ?", model.StatusActive).
		Order("last_name ASC, id ASC")

	if cursor != "" {
		lastName, id, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		query = query.Where("(last_name > ?) OR (last_name = ? AND id > ?)", lastName, lastName, id)
	}

	var members []*model.Member
	if err := query.Limit(PageSize + 1).Find(&members).Error; err != nil {
		return nil, "", err
	}

	next := ""
	if len(members) > PageSize {
		members = members[:PageSize]
		last := members[PageSize-1]
		next = encodeCursor(last.LastName, last.ID)
	}
	return members, next, nil
}

// ListSuspended returns one page of suspended members, most recently changed
// first.
func (r *MemberRepository) ListSuspended(cursor string) ([]*model.Member, string, error) {
	query := r.db.Where("status = ?", model.StatusSuspended).
		Order("updated DESC, id DESC")

	if cursor != "" {
		key, id, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		updated, err := time.Parse(time.RFC3339Nano, key)
		if err != nil {
			return nil, "", fmt.Errorf("bad cursor: %w", err)
		}
		query = query.Where("(updated < ?) OR (updated = ? AND id < ?)", updated, updated, id)
	}

	var members []*model.Member
	if err := query.Limit(PageSize + 1).Find(&members).Error; err != nil {
		return nil, "", err
	}

	next := ""
	if len(members) > PageSize {
		members = members[:PageSize]
		last := members[PageSize-1]
		next = encodeCursor(last.Updated.UTC().Format(time.RFC3339Nano), last.ID)
	}
	return members, next, nil
}

func (r *MemberRepository) ListByStatus(status string) ([]*model.Member, error) {
	var members []*model.Member
	err := r.db.Where("status = ?", status).Find(&members).Error
	return members, err
}

func (r *MemberRepository) ListAll() ([]*model.Member, error) {
	var members []*model.Member
	err := r.db.Order("last_name ASC, id ASC").Find(&members).Error
	return members, err
}

// ListUsernames returns the usernames of all active members, for the
// username cache consumed by partner apps.
func (r *MemberRepository) ListUsernames() ([]string, error) {
	var usernames []string
	err := r.db.Model(&model.Member{}).
		Where("status = ? AND username <> ''", model.StatusActive).
		Order("username ASC").
		Pluck("username", &usernames).Error
	return usernames, err
}

// ListNeverActivated returns signups that were started before the cutoff and
// never completed. Candidates for cleanup.
func (r *MemberRepository) ListNeverActivated(olderThan time.Time) ([]*model.Member, error) {
	var members []*model.Member
	err := r.db.Where("status = ? AND created < ?", "", olderThan).Find(&members).Error
	return members, err
}

// ListSuspendedBefore returns suspended members whose record last changed
// before the cutoff, for the still-there reminder campaign.
func (r *MemberRepository) ListSuspendedBefore(updatedBefore time.Time) ([]*model.Member, error) {
	var members []*model.Member
	err := r.db.Where("status = ? AND updated < ?", model.StatusSuspended, updatedBefore).
		Find(&members).Error
	return members, err
}

// ListWithProcessorTokens returns members holding a processor customer token,
// the population swept by periodic reconciliation.
func (r *MemberRepository) ListWithProcessorTokens() ([]*model.Member, error) {
	var members []*model.Member
	err := r.db.Where("spreedly_token <> ''").Find(&members).Error
	return members, err
}

func (r *MemberRepository) ListWithLeaveReasons() ([]*model.Member, error) {
	var members []*model.Member
	err := r.db.Where("unsubscribe_reason <> ''").Order("updated DESC").Find(&members).Error
	return members, err
}

// ListMaglock returns active members with an RFID tag assigned.
func (r *MemberRepository) ListMaglock() ([]*model.Member, error) {
	var members []*model.Member
	err := r.db.Where("status = ? AND rfid_tag IS NOT NULL AND rfid_tag <> ''", model.StatusActive).
		Find(&members).Error
	return members, err
}

// ResetAllSignins zeroes every signin counter without bumping timestamps.
func (r *MemberRepository) ResetAllSignins() error {
	return r.db.Model(&model.Member{}).Where("signins > 0").
		UpdateColumn("signins", 0).Error
}

func encodeCursor(key string, id int64) string {
	raw := fmt.Sprintf("%s\x00%d", key, id)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (string, int64, error) {
	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return "", 0, fmt.Errorf("bad cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), "\x00", 2)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("bad cursor")
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("bad cursor: %w", err)
	}
	return parts[0], id, nil
}
