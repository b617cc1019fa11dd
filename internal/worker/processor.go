package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
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
	"github.com/coveworks/memberd/internal/service"
	"github.com/coveworks/memberd/internal/tokens"
)

// retryBase is the first retry delay; it doubles per attempt.
const retryBase = 3 * time.Second

// Processor executes queued tasks. A task that keeps failing past the retry
// budget is dropped with an alert to the operators.
type Processor struct {
	members   *repository.MemberRepository
	catalog   *plan.Catalog
	billing   *billing.Client
	directory *directory.Client
	reconcile *service.ReconcileService
	cache     *tokens.Cache
	queue     *tasks.Queue
	mail      email.Sender
	cfg       *config.Config
}

func NewProcessor(members *repository.MemberRepository, catalog *plan.Catalog,
	billingClient *billing.Client, directoryClient *directory.Client,
	reconcile *service.ReconcileService, cache *tokens.Cache,
	queue *tasks.Queue, mail email.Sender, cfg *config.Config) *Processor {
	return &Processor{
		members:   members,
		catalog:   catalog,
		billing:   billingClient,
		directory: directoryClient,
		reconcile: reconcile,
		cache:     cache,
		queue:     queue,
		mail:      mail,
		cfg:       cfg,
	}
}

// Process runs one task and settles retries. It never returns the handler
// error; by the time it returns, the task is done, requeued, or abandoned
// with an alert.
func (p *Processor) Process(ctx context.Context, task *tasks.Task) {
	err := p.dispatch(ctx, task)
	if err == nil {
		return
	}
	log.Printf("worker: task %s (%s) failed: %v", task.Name, task.ID, err)

	if task.Retries >= p.cfg.Queue.MaxRetries {
		p.alert(fmt.Sprintf("Task %s failed permanently", task.Name),
			fmt.Sprintf("task id: %s\nparams: %v\nlast error: %v", task.ID, task.Params, err))
		return
	}

	backoff := retryBase * (1 << task.Retries)
	if err := p.queue.Requeue(ctx, task, backoff); err != nil {
		log.Printf("worker: requeue of %s failed: %v", task.ID, err)
	}
}

func (p *Processor) dispatch(ctx context.Context, task *tasks.Task) error {
	switch task.Name {
	case tasks.TaskCreateUser:
		return p.createUser(ctx, task)
	case tasks.TaskWelcomeMail:
		return p.welcomeMail(task)
	case tasks.TaskResetPasswordMail:
		return p.resetPasswordMail(task)
	case tasks.TaskReactivateMail:
		return p.reactivateMail(task)
	case tasks.TaskStillThereMail:
		return p.stillThereMail(task)
	case tasks.TaskCleanMember:
		return p.cleanMember(task)
	case tasks.TaskReconcileMember:
		return p.reconcileMember(ctx, task)
	default:
		// Unknown tasks are not retried; requeueing them forever helps
		// nobody.
		p.alert("Unknown task "+task.Name, fmt.Sprintf("params: %v", task.Params))
		return nil
	}
}

// createUser provisions the directory account once payment has confirmed.
// The stashed credentials expire after an hour, so a member who stalls on
// the payment page gets an alert instead of a silent no-op.
func (p *Processor) createUser(ctx context.Context, task *tasks.Task) error {
	member, err := p.members.GetByHash(task.Params["hash"])
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if member.Username != "" {
		return nil
	}
	if member.SpreedlyToken == "" {
		log.Printf("worker: no processor token yet for %s, retrying", member.Email)
		return errors.New("no processor token yet")
	}

	username, password, err := p.cache.Credentials(ctx, member.Hash)
	if errors.Is(err, tokens.ErrNoCredentials) {
		p.alert("Account information expired",
			fmt.Sprintf("Account information expired for %s", member.Email))
		return nil
	}
	if err != nil {
		return err
	}

	log.Printf("worker: creating directory user %s", username)
	if err := p.directory.CreateUser(ctx, username, password, member.FirstName, member.LastName); err != nil {
		return err
	}

	if err := p.members.UpdateFields(member.ID, map[string]interface{}{"username": username}); err != nil {
		return err
	}
	if err := p.cache.DropCredentials(ctx, member.Hash); err != nil {
		log.Printf("worker: dropping credentials for %s failed: %v", member.Email, err)
	}

	return p.queue.Enqueue(ctx, tasks.TaskWelcomeMail, map[string]string{"hash": member.Hash}, 0)
}

func (p *Processor) welcomeMail(task *tasks.Task) error {
	member, err := p.members.GetByHash(task.Params["hash"])
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("worker: welcome mail: no member for hash %s", task.Params["hash"])
		return nil
	}
	if err != nil {
		return err
	}

	workspaceAddr := fmt.Sprintf("%s@%s", member.Username, p.cfg.Signup.Domain)
	return p.mail.Send(&email.Message{
		To:      []string{member.Email, workspaceAddr},
		Subject: fmt.Sprintf("Welcome, %s!", member.FirstName),
		Body: fmt.Sprintf("Hi %s,\n\nYour membership is active and your account %s is ready.\n"+
			"Manage your subscription any time at %s/my_billing\n",
			member.FirstName, member.Username, p.cfg.Server.BaseURL),
	})
}

func (p *Processor) resetPasswordMail(task *tasks.Task) error {
	member, err := p.members.GetByHash(task.Params["hash"])
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("worker: reset mail: no member for hash %s", task.Params["hash"])
		return nil
	}
	if err != nil {
		return err
	}
	return p.mail.Send(&email.Message{
		To:      []string{member.Email},
		Subject: "Password reset",
		Body: fmt.Sprintf("Hi %s,\n\nUse this link to reset your password:\n\n%s\n\n"+
			"The link expires in %d hours. If you did not request this, ignore this mail.\n",
			member.FirstName, task.Params["url"], p.cfg.Auth.ResetTokenHours),
	})
}

// reactivateMail follows a failed door swipe by a lapsed member.
func (p *Processor) reactivateMail(task *tasks.Task) error {
	member, err := p.members.GetByHash(task.Params["hash"])
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("worker: reactivate mail: no member for hash %s", task.Params["hash"])
		return nil
	}
	if err != nil {
		return err
	}
	return p.mail.Send(&email.Message{
		From:    p.cfg.Email.BillingFrom,
		To:      []string{member.Email},
		Subject: "Reactivate your RFID key now",
		Body: fmt.Sprintf("Hi %s,\n\nIt looks like you just tried using your RFID key, "+
			"but your membership has lapsed. You can reactivate it here:\n\n%s\n",
			member.FirstName, p.subscribeURL(member)),
	})
}

func (p *Processor) stillThereMail(task *tasks.Task) error {
	id, err := strconv.ParseInt(task.Params["id"], 10, 64)
	if err != nil {
		return err
	}
	member, err := p.members.GetByID(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("worker: still-there mail: member %d is gone", id)
		return nil
	}
	if err != nil {
		return err
	}

	msg := &email.Message{
		From:    p.cfg.Email.BillingFrom,
		To:      []string{member.Email},
		Subject: "Membership: action required",
		Body: fmt.Sprintf("Hi %s,\n\nYour membership is suspended. Rejoin here:\n\n%s\n\n"+
			"If you have left for good, tell us why:\n\n%s/unsubscribe/%d\n",
			member.FirstName, p.subscribeURL(member), p.cfg.Server.BaseURL, member.ID),
	}
	if member.Username != "" {
		msg.Cc = []string{fmt.Sprintf("%s@%s", member.Username, p.cfg.Signup.Domain)}
	}
	return p.mail.Send(msg)
}

// cleanMember says goodbye to an abandoned signup and deletes the row.
func (p *Processor) cleanMember(task *tasks.Task) error {
	id, err := strconv.ParseInt(task.Params["id"], 10, 64)
	if err != nil {
		return err
	}
	member, err := p.members.GetByID(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if member.Activated() {
		// Finished signing up since the cleanup was queued.
		return nil
	}

	err = p.mail.Send(&email.Message{
		To:      []string{member.Email},
		Subject: "Hi again!",
		Body: fmt.Sprintf("Hi %s,\n\nYou started signing up but never finished; "+
			"we would still love to have you. Start again any time at %s\n\n"+
			"We are deleting your address from the signup records now, so ignore "+
			"this mail if you already joined.\n",
			member.FirstName, p.cfg.Server.BaseURL),
	})
	if err != nil {
		log.Printf("worker: goodbye mail for %s failed: %v", member.Email, err)
	}
	return p.members.Delete(member)
}

func (p *Processor) reconcileMember(ctx context.Context, task *tasks.Task) error {
	id, err := strconv.ParseInt(task.Params["id"], 10, 64)
	if err != nil {
		return err
	}
	err = p.reconcile.ReconcileByID(ctx, id)
	if errors.Is(err, service.ErrMemberNotFound) {
		// Retrying cannot bring the member back.
		log.Printf("worker: reconcile: member %d is gone", id)
		return nil
	}
	return err
}

func (p *Processor) subscribeURL(member *model.Member) string {
	planID := ""
	if chosen, err := p.catalog.GetByName(member.Plan); err == nil {
		planID = chosen.ID
	}
	return p.billing.SubscribeURL(member.ID, member.SpreedlyToken, planID, member.Username, nil)
}

func (p *Processor) alert(subject, body string) {
	err := p.mail.Send(&email.Message{
		To:      []string{p.cfg.Email.OpsEmail},
		Subject: subject,
		Body:    body,
	})
	if err != nil {
		log.Printf("worker: operator alert failed: %v", err)
	}
}

// Run polls the queue until the context is cancelled. Multiple instances
// may run concurrently; the queue's claim semantics keep them from doubling
// up on a task.
func (p *Processor) Run(ctx context.Context, workerID int) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("worker %d shutting down", workerID)
			return
		case <-ticker.C:
			for {
				task, err := p.queue.PopDue(ctx)
				if err != nil {
					if ctx.Err() == nil {
						log.Printf("worker %d: pop failed: %v", workerID, err)
					}
					break
				}
				if task == nil {
					break
				}
				log.Printf("worker %d: processing %s (%s)", workerID, task.Name, task.ID)
				p.Process(ctx, task)
			}
		}
	}
}
