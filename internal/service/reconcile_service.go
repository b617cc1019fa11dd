package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/coveworks/memberd/config"
	"github.com/coveworks/memberd/internal/billing"
	"github.com/coveworks/memberd/internal/directory"
	"github.com/coveworks/memberd/internal/model"
	"github.com/coveworks/memberd/internal/pkg/email"
	"github.com/coveworks/memberd/internal/pkg/tasks"
	"github.com/coveworks/memberd/internal/plan"
	"github.com/coveworks/memberd/internal/repository"
)

// ReconcileService drives membership state from the payment processor's
// view. The processor is the source of truth; the member record follows it.
type ReconcileService struct {
	members   *repository.MemberRepository
	catalog   *plan.Catalog
	billing   *billing.Client
	directory *directory.Client
	queue     *tasks.Queue
	mail      email.Sender
	cfg       *config.Config
}

func NewReconcileService(members *repository.MemberRepository, catalog *plan.Catalog,
	billingClient *billing.Client, directoryClient *directory.Client,
	queue *tasks.Queue, mail email.Sender, cfg *config.Config) *ReconcileService {
	return &ReconcileService{
		members:   members,
		catalog:   catalog,
		billing:   billingClient,
		directory: directoryClient,
		queue:     queue,
		mail:      mail,
		cfg:       cfg,
	}
}

// Apply folds one processor snapshot into the member record. Idempotent:
// applying the same snapshot twice leaves the record unchanged.
func (s *ReconcileService) Apply(ctx context.Context, member *model.Member, snapshot *billing.Snapshot) error {
	// The processor reports the plan it is actually billing. Trust it when
	// present; a suspended subscriber often reports none.
	if snapshot.FeatureLevel != "" {
		member.Plan = snapshot.FeatureLevel
	}

	if snapshot.Active {
		// Only a blank or suspended record follows the processor back to
		// active. A no_visits member used up their plan allowance; the
		// signin logic owns that status, not the processor.
		if member.Status == "" || member.Status == model.StatusSuspended {
			member.Status = model.StatusActive
		}
		if member.Status == model.StatusActive || member.Status == model.StatusNoVisits {
			member.UnsubscribeReason = ""
		}
	} else {
		member.Status = model.StatusSuspended
		s.maybeDropLegacyPlan(member, snapshot)
	}

	member.SpreedlyToken = snapshot.Token
	if snapshot.Email != "" {
		member.Email = snapshot.Email
		member.Hash = model.EmailHash(snapshot.Email)
	}

	if err := s.members.Save(member); err != nil {
		return err
	}

	if member.Status == model.StatusActive && member.Username == "" {
		err := s.queue.Enqueue(ctx, tasks.TaskCreateUser, map[string]string{"hash": member.Hash}, 3*time.Second)
		if err != nil {
			return err
		}
	}

	// Door and directory follow the membership state. Best effort: the
	// record is already saved, and the next reconciliation repeats this.
	if member.Username != "" {
		switch member.Status {
		case model.StatusActive:
			log.Printf("reconcile: restoring user %s", member.Username)
			if err := s.directory.Restore(ctx, member.Username); err != nil {
				log.Printf("reconcile: restore %s failed: %v", member.Username, err)
			}
		case model.StatusSuspended:
			log.Printf("reconcile: suspending user %s", member.Username)
			if err := s.directory.Suspend(ctx, member.Username); err != nil {
				log.Printf("reconcile: suspend %s failed: %v", member.Username, err)
			}
		}
	}
	return nil
}

// A lapsed member loses a grandfathered rate when the subscription was
// cancelled outright, or when an expired one sat unrenewed past the grace
// window.
func (s *ReconcileService) maybeDropLegacyPlan(member *model.Member, snapshot *billing.Snapshot) {
	current, err := s.catalog.GetByName(member.Plan)
	if err != nil || current.Legacy == "" {
		return
	}

	if !snapshot.ReadyToRenew {
		log.Printf("reconcile: dropping legacy plan for %s: subscription cancelled", member.Email)
		member.Plan = current.Legacy
		return
	}
	if snapshot.ReadyToRenewSince == nil {
		return
	}
	lapsed := time.Since(*snapshot.ReadyToRenewSince)
	grace := time.Duration(s.cfg.Signup.LegacyGraceDays) * 24 * time.Hour
	if lapsed >= grace {
		log.Printf("reconcile: dropping legacy plan for %s: expired %s ago", member.Email, lapsed)
		member.Plan = current.Legacy
	}
}

// ReconcileByID pulls a fresh snapshot for the member and applies it. The
// processor addresses subscribers by our member id.
func (s *ReconcileService) ReconcileByID(ctx context.Context, memberID int64) error {
	member, err := s.members.GetByID(memberID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrMemberNotFound
	}
	if err != nil {
		return err
	}

	snapshot, err := s.billing.SubscriberDetails(ctx, memberID)
	if err != nil {
		return err
	}

	// PayPal members now paying by card need the old subscription cancelled
	// by hand; that is an operator job.
	if member.Status == model.StatusPayPal {
		msg := &email.Message{
			To:      []string{s.cfg.Email.OpsEmail},
			Subject: fmt.Sprintf("Please cancel PayPal subscription for %s", member.FullName()),
			Body:    member.Email,
		}
		if err := s.mail.Send(msg); err != nil {
			log.Printf("reconcile: paypal notice for %s failed: %v", member.Email, err)
		}
	}

	return s.Apply(ctx, member, snapshot)
}

// EnqueueIDs schedules reconciliation for the subscriber ids a processor
// webhook named.
func (s *ReconcileService) EnqueueIDs(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		err := s.queue.Enqueue(ctx, tasks.TaskReconcileMember,
			map[string]string{"id": fmt.Sprintf("%d", id)}, 0)
		if err != nil {
			return err
		}
	}
	return nil
}

// EnqueueSweep schedules a reconciliation task for every member the
// processor knows about.
func (s *ReconcileService) EnqueueSweep(ctx context.Context) (int, error) {
	members, err := s.members.ListWithProcessorTokens()
	if err != nil {
		return 0, err
	}
	for i, member := range members {
		err := s.queue.Enqueue(ctx, tasks.TaskReconcileMember,
			map[string]string{"id": fmt.Sprintf("%d", member.ID)},
			time.Duration(i)*time.Second)
		if err != nil {
			return i, err
		}
	}
	return len(members), nil
}
