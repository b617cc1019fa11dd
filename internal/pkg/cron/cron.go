package cron

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/coveworks/memberd/internal/directory"
	"github.com/coveworks/memberd/internal/model"
	"github.com/coveworks/memberd/internal/pkg/tasks"
	"github.com/coveworks/memberd/internal/repository"
	"github.com/coveworks/memberd/internal/tokens"
)

// Service runs the periodic jobs: monthly signin reset, abandoned-signup
// cleanup, still-there reminders, username cache refresh and the
// reconciliation sweep.
type Service struct {
	members   *repository.MemberRepository
	directory *directory.Client
	queue     *tasks.Queue
	cache     *tokens.Cache
	sweep     func(context.Context) (int, error)
	stopChan  chan struct{}
}

func NewService(members *repository.MemberRepository, directoryClient *directory.Client,
	queue *tasks.Queue, cache *tokens.Cache, sweep func(context.Context) (int, error)) *Service {
	return &Service{
		members:   members,
		directory: directoryClient,
		queue:     queue,
		cache:     cache,
		sweep:     sweep,
		stopChan:  make(chan struct{}),
	}
}

func (s *Service) Start() {
	go s.runDaily()
	go s.runUsernameCacheRefresh()
	log.Println("Cron service started (daily jobs + username cache)")
}

func (s *Service) Stop() {
	close(s.stopChan)
	log.Println("Cron service stopped")
}

func (s *Service) runDaily() {
	now := time.Now().UTC()
	nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	timer := time.NewTimer(nextMidnight.Sub(now))

	for {
		select {
		case <-s.stopChan:
			timer.Stop()
			return
		case <-timer.C:
			s.RunDailyJobs()
			timer.Reset(24 * time.Hour)
		}
	}
}

// RunDailyJobs fires the midnight batch. Exported so an operator can force
// a run.
func (s *Service) RunDailyJobs() {
	ctx := context.Background()

	if time.Now().UTC().Day() == 1 {
		s.ResetMonthlySignins(ctx)
	}
	s.CleanAbandonedSignups(ctx)
	s.SendStillThereReminders(ctx)

	if n, err := s.sweep(ctx); err != nil {
		log.Printf("cron: reconciliation sweep failed: %v", err)
	} else {
		log.Printf("cron: reconciliation sweep queued %d members", n)
	}
}

// ResetMonthlySignins zeroes every signin counter and lets members who ran
// out of visits back in.
func (s *Service) ResetMonthlySignins(ctx context.Context) {
	log.Println("cron: resetting monthly signin counters")
	if err := s.members.ResetAllSignins(); err != nil {
		log.Printf("cron: signin reset failed: %v", err)
		return
	}

	blocked, err := s.members.ListByStatus(model.StatusNoVisits)
	if err != nil {
		log.Printf("cron: listing no_visits members failed: %v", err)
		return
	}
	for _, member := range blocked {
		err := s.members.UpdateFields(member.ID, map[string]interface{}{
			"status": model.StatusActive,
		})
		if err != nil {
			log.Printf("cron: restoring %s failed: %v", member.Email, err)
			continue
		}
		if member.Username != "" {
			if err := s.directory.Restore(ctx, member.Username); err != nil {
				log.Printf("cron: directory restore %s failed: %v", member.Username, err)
			}
		}
	}
}

// CleanAbandonedSignups queues deletion mails for signups started more than
// a day ago and never finished. The spacing keeps the mail volume polite.
func (s *Service) CleanAbandonedSignups(ctx context.Context) {
	stale, err := s.members.ListNeverActivated(time.Now().AddDate(0, 0, -1))
	if err != nil {
		log.Printf("cron: listing abandoned signups failed: %v", err)
		return
	}

	delay := time.Duration(0)
	for _, member := range stale {
		delay += 90 * time.Second
		err := s.queue.Enqueue(ctx, tasks.TaskCleanMember,
			map[string]string{"id": fmt.Sprintf("%d", member.ID)}, delay)
		if err != nil {
			log.Printf("cron: queueing cleanup for %s failed: %v", member.Email, err)
		}
	}
	if len(stale) > 0 {
		log.Printf("cron: queued cleanup for %d abandoned signups", len(stale))
	}
}

// SendStillThereReminders nudges suspended members who never said why they
// left and still have a processor account.
func (s *Service) SendStillThereReminders(ctx context.Context) {
	suspended, err := s.members.ListByStatus(model.StatusSuspended)
	if err != nil {
		log.Printf("cron: listing suspended members failed: %v", err)
		return
	}

	delay := time.Duration(0)
	queued := 0
	for _, member := range suspended {
		if member.UnsubscribeReason != "" || member.SpreedlyToken == "" {
			continue
		}
		if strings.Contains(member.LastName, "Deleted") {
			continue
		}
		delay += 20 * time.Minute
		err := s.queue.Enqueue(ctx, tasks.TaskStillThereMail,
			map[string]string{"id": fmt.Sprintf("%d", member.ID)}, delay)
		if err != nil {
			log.Printf("cron: queueing reminder for %s failed: %v", member.Email, err)
			continue
		}
		queued++
	}
	if queued > 0 {
		log.Printf("cron: queued %d still-there reminders", queued)
	}
}

func (s *Service) runUsernameCacheRefresh() {
	// Prime immediately, then hourly.
	s.RefreshUsernameCache(context.Background())

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.RefreshUsernameCache(context.Background())
		}
	}
}

// RefreshUsernameCache rebuilds the shared username list consumed by signup.
func (s *Service) RefreshUsernameCache(ctx context.Context) {
	usernames, err := s.members.ListUsernames()
	if err != nil {
		log.Printf("cron: listing usernames failed: %v", err)
		return
	}
	if err := s.cache.CacheUsernames(ctx, usernames, 2*time.Hour); err != nil {
		log.Printf("cron: caching usernames failed: %v", err)
	}
}
