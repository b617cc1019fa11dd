package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/coveworks/memberd/config"
	"github.com/coveworks/memberd/internal/directory"
	"github.com/coveworks/memberd/internal/model"
	"github.com/coveworks/memberd/internal/model/dto"
	"github.com/coveworks/memberd/internal/pkg/tasks"
	"github.com/coveworks/memberd/internal/plan"
	"github.com/coveworks/memberd/internal/repository"
	"github.com/coveworks/memberd/internal/secrets"
)

var (
	ErrNotActiveMember = errors.New("could not find an active member for that email")
	ErrInvalidRFIDKey  = errors.New("this key does not exist, or is suspended")
	ErrBadMaglockKey   = errors.New("invalid maglock key")
	ErrTagTaken        = errors.New("that RFID tag is already assigned")
)

// AccessService covers the physical side of membership: signin counting,
// door swipes, badges and the maglock member list.
type AccessService struct {
	members   *repository.MemberRepository
	swipes    *repository.SwipeRepository
	badges    *repository.BadgeChangeRepository
	catalog   *plan.Catalog
	directory *directory.Client
	queue     *tasks.Queue
	store     *secrets.Store
	cfg       *config.Config

	// Overridable for tests of the operating-hours window.
	now func() time.Time
}

func NewAccessService(members *repository.MemberRepository, swipes *repository.SwipeRepository,
	badges *repository.BadgeChangeRepository, catalog *plan.Catalog,
	directoryClient *directory.Client, queue *tasks.Queue, store *secrets.Store,
	cfg *config.Config) *AccessService {
	return &AccessService{
		members:   members,
		swipes:    swipes,
		badges:    badges,
		catalog:   catalog,
		directory: directoryClient,
		queue:     queue,
		store:     store,
		cfg:       cfg,
		now:       time.Now,
	}
}

// RecordSignin counts a front-desk signin by email or workspace address and
// returns the visits the member has left. Nil means unlimited.
func (s *AccessService) RecordSignin(ctx context.Context, emailOrAddr string) (*int, error) {
	var member *model.Member
	var err error
	workspaceSuffix := "@" + s.cfg.Signup.Domain
	if strings.Contains(emailOrAddr, workspaceSuffix) {
		member, err = s.members.GetByUsername(strings.Replace(emailOrAddr, workspaceSuffix, "", 1))
	} else {
		member, err = s.members.GetByEmail(emailOrAddr)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotActiveMember
	}
	if err != nil {
		return nil, err
	}
	if member.Status != model.StatusActive && member.Status != model.StatusNoVisits {
		return nil, ErrNotActiveMember
	}

	return s.incrementSignins(ctx, member)
}

// RFIDSignin signs a member in at the door by tag and returns the profile
// the kiosk displays.
func (s *AccessService) RFIDSignin(ctx context.Context, tag string) (*dto.RFIDSigninResponse, error) {
	member, err := s.members.GetByRFIDTag(tag)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidRFIDKey
	}
	if err != nil {
		return nil, err
	}
	if member.Status != model.StatusActive && member.Status != model.StatusNoVisits {
		return nil, ErrInvalidRFIDKey
	}

	remaining, err := s.incrementSignins(ctx, member)
	if err != nil {
		return nil, err
	}

	workspaceEmail := strings.ToLower(fmt.Sprintf("%s.%s@%s",
		member.FirstName, member.LastName, s.cfg.Signup.Domain))
	return &dto.RFIDSigninResponse{
		Name:            member.FullName(),
		Username:        member.Username,
		Email:           member.Email,
		Gravatar:        "http://www.gravatar.com/avatar/" + model.EmailHash(workspaceEmail),
		AutoSignin:      member.AutoSignin,
		VisitsRemaining: remaining,
	}, nil
}

// Signins only count during staffed hours; a badge-in on a Sunday night
// should not burn a lite-plan visit.
func (s *AccessService) insideCountingWindow() bool {
	loc, err := time.LoadLocation(s.cfg.Hours.Timezone)
	if err != nil {
		log.Printf("access: bad timezone %q: %v", s.cfg.Hours.Timezone, err)
		loc = time.UTC
	}
	now := s.now().In(loc)

	if !s.cfg.Hours.CountWeekends {
		day := now.Weekday()
		if day == time.Saturday || day == time.Sunday {
			return false
		}
	}
	hour := now.Hour()
	return hour >= s.cfg.Hours.Open && hour <= s.cfg.Hours.Close
}

func (s *AccessService) incrementSignins(ctx context.Context, member *model.Member) (*int, error) {
	if !s.insideCountingWindow() {
		log.Printf("access: outside counting window, not incrementing for %s", member.Username)
		return s.catalog.SigninsRemaining(member)
	}

	member.Signins++
	now := s.now()
	// Counter updates stay off the membership-change timestamp.
	err := s.members.UpdateColumnsQuiet(member.ID, map[string]interface{}{
		"signins":     member.Signins,
		"last_signin": now,
	})
	if err != nil {
		return nil, err
	}

	remaining, err := s.catalog.SigninsRemaining(member)
	if err != nil {
		return nil, err
	}
	log.Printf("access: visits remaining for %s: %v", member.Username, remaining)

	if remaining != nil && *remaining == 0 && member.Status == model.StatusActive {
		// Out of visits until the monthly reset.
		if err := s.members.UpdateFields(member.ID, map[string]interface{}{
			"status": model.StatusNoVisits,
		}); err != nil {
			return nil, err
		}
		member.Status = model.StatusNoVisits
		if err := s.directory.Suspend(ctx, member.Username); err != nil {
			log.Printf("access: suspend %s failed: %v", member.Username, err)
		}
	}
	return remaining, nil
}

// RecordSwipe logs a raw door swipe from the maglock controller. A swipe by
// a lapsed member queues a reactivation mail.
func (s *AccessService) RecordSwipe(ctx context.Context, key, tag string) error {
	if err := s.checkMaglockKey(key); err != nil {
		return err
	}
	if tag == "" {
		return nil
	}

	username := "unknown (" + tag + ")"
	success := false
	member, err := s.members.GetByRFIDTag(tag)
	if err == nil {
		username = member.Username
		success = member.Status == model.StatusActive
		if !success {
			err := s.queue.Enqueue(ctx, tasks.TaskReactivateMail,
				map[string]string{"hash": member.Hash}, 0)
			if err != nil {
				log.Printf("access: queueing reactivate mail for %s failed: %v", member.Email, err)
			}
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	return s.swipes.Create(&model.RFIDSwipe{
		Username: username,
		RFIDTag:  tag,
		Success:  success,
	})
}

// MaglockList is the tag list the door controller polls.
func (s *AccessService) MaglockList(key string) ([]dto.MaglockEntry, error) {
	if err := s.checkMaglockKey(key); err != nil {
		return nil, err
	}

	members, err := s.members.ListMaglock()
	if err != nil {
		return nil, err
	}
	entries := make([]dto.MaglockEntry, 0, len(members))
	for _, m := range members {
		entries = append(entries, dto.MaglockEntry{Username: m.Username, RFIDTag: *m.RFIDTag})
	}
	return entries, nil
}

func (s *AccessService) checkMaglockKey(key string) error {
	expected, err := s.store.Get(secrets.KeyMaglock)
	if err != nil {
		return err
	}
	if key == "" || key != expected {
		return ErrBadMaglockKey
	}
	return nil
}

// AssignBadge gives the member an RFID tag, or a parking pass when the
// request says so. Tag assignments are audited with the member's stated
// reason.
func (s *AccessService) AssignBadge(ctx context.Context, memberID int64, req *dto.BadgeRequest) error {
	member, err := s.members.GetByID(memberID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrMemberNotFound
	}
	if err != nil {
		return err
	}

	if req.IsPark {
		return s.members.UpdateColumnsQuiet(member.ID, map[string]interface{}{
			"parking_pass": req.ParkingPass,
		})
	}

	holder, err := s.members.GetByRFIDTag(req.RFIDTag)
	if err == nil && holder.ID != member.ID {
		return ErrTagTaken
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	err = s.members.UpdateColumnsQuiet(member.ID, map[string]interface{}{
		"rfid_tag": req.RFIDTag,
	})
	if err != nil {
		return err
	}
	return s.badges.Create(&model.BadgeChange{
		Username:    member.Username,
		RFIDTag:     req.RFIDTag,
		Description: req.Description,
	})
}

// SetAutoSignin stores the member's kiosk auto-signin preference.
func (s *AccessService) SetAutoSignin(memberID int64, value string) error {
	return s.members.UpdateColumnsQuiet(memberID, map[string]interface{}{
		"auto_signin": strings.TrimSpace(value),
	})
}
