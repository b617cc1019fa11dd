package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/coveworks/memberd/internal/billing"
	"github.com/coveworks/memberd/internal/directory"
	"github.com/coveworks/memberd/internal/model"
	"github.com/coveworks/memberd/internal/pkg/email"
	"github.com/coveworks/memberd/internal/pkg/tasks"
	"github.com/coveworks/memberd/internal/plan"
	"github.com/coveworks/memberd/internal/repository"
	"github.com/coveworks/memberd/internal/service"
	"github.com/coveworks/memberd/internal/testutil"
	"github.com/coveworks/memberd/internal/tokens"
)

type mailRecorder struct {
	sent []*email.Message
}

func (m *mailRecorder) Send(msg *email.Message) error {
	m.sent = append(m.sent, msg)
	return nil
}

type workerFixture struct {
	processor *Processor
	members   *repository.MemberRepository
	cache     *tokens.Cache
	queue     *tasks.Queue
	mail      *mailRecorder
	db        *gorm.DB
	dirForms  *[]url.Values
}

func setupProcessor(t *testing.T) (*workerFixture, func()) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	rdb, _ := testutil.SetupTestRedis(t)
	cfg := testutil.TestConfig()

	dirForms := &[]url.Values{}
	dirSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		*dirForms = append(*dirForms, r.PostForm)
	}))
	cfg.Directory.Host = strings.TrimPrefix(dirSrv.URL, "http://")

	memberRepo := repository.NewMemberRepository(db)
	catalog := plan.NewCatalog(cfg, memberRepo, nil)
	billingClient := billing.NewClient(&cfg.Billing, "test-key")
	directoryClient := directory.NewClient(&cfg.Directory, "dir-secret")
	cache := tokens.NewCache(rdb)
	queue := tasks.NewQueue(rdb, cfg.Queue.TaskQueue)
	mail := &mailRecorder{}

	reconcileService := service.NewReconcileService(memberRepo, catalog, billingClient,
		directoryClient, queue, mail, cfg)
	processor := NewProcessor(memberRepo, catalog, billingClient, directoryClient,
		reconcileService, cache, queue, mail, cfg)

	fixture := &workerFixture{
		processor: processor,
		members:   memberRepo,
		cache:     cache,
		queue:     queue,
		mail:      mail,
		db:        db,
		dirForms:  dirForms,
	}
	cleanup := func() {
		dirSrv.Close()
		testutil.CleanupTestDB(t, db)
	}
	return fixture, cleanup
}

func task(name string, params map[string]string) *tasks.Task {
	return &tasks.Task{ID: "test-task", Name: name, Params: params}
}

func TestCreateUser_HappyPath(t *testing.T) {
	f, cleanup := setupProcessor(t)
	defer cleanup()

	member := testutil.TestMember(t, f.db,
		testutil.WithUsername(""),
		testutil.WithProcessorToken("tok-1"),
		testutil.WithName("Ada", "Lovelace"))
	require.NoError(t, f.cache.StashCredentials(context.Background(),
		member.Hash, "ada", "secret-pass", time.Hour))

	f.processor.Process(context.Background(), task(tasks.TaskCreateUser, map[string]string{"hash": member.Hash}))

	// The directory got the account.
	require.Len(t, *f.dirForms, 1)
	form := (*f.dirForms)[0]
	assert.Equal(t, "ada", form.Get("username"))
	assert.Equal(t, "secret-pass", form.Get("password"))
	assert.Equal(t, "Ada", form.Get("first_name"))
	assert.Equal(t, "dir-secret", form.Get("secret"))

	// The username stuck and the welcome mail is queued.
	fresh, err := f.members.GetByID(member.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada", fresh.Username)

	next, err := f.queue.PopDue(context.Background())
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, tasks.TaskWelcomeMail, next.Name)

	// Credentials are gone.
	_, _, err = f.cache.Credentials(context.Background(), member.Hash)
	assert.ErrorIs(t, err, tokens.ErrNoCredentials)
}

func TestCreateUser_WaitsForProcessorToken(t *testing.T) {
	f, cleanup := setupProcessor(t)
	defer cleanup()

	member := testutil.TestMember(t, f.db, testutil.WithUsername(""))

	f.processor.Process(context.Background(), task(tasks.TaskCreateUser, map[string]string{"hash": member.Hash}))

	// Requeued with the retry counter bumped, nothing else happened.
	assert.Empty(t, *f.dirForms)
	n, err := f.queue.Length(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestCreateUser_SkipsLinkedMembers(t *testing.T) {
	f, cleanup := setupProcessor(t)
	defer cleanup()

	member := testutil.TestMember(t, f.db) // already has a username

	f.processor.Process(context.Background(), task(tasks.TaskCreateUser, map[string]string{"hash": member.Hash}))

	assert.Empty(t, *f.dirForms)
	n, err := f.queue.Length(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCreateUser_ExpiredStashAlertsOps(t *testing.T) {
	f, cleanup := setupProcessor(t)
	defer cleanup()

	member := testutil.TestMember(t, f.db,
		testutil.WithUsername(""),
		testutil.WithProcessorToken("tok-1"))
	// No stash: the hour ran out.

	f.processor.Process(context.Background(), task(tasks.TaskCreateUser, map[string]string{"hash": member.Hash}))

	require.Len(t, f.mail.sent, 1)
	assert.Equal(t, []string{"ops@example.com"}, f.mail.sent[0].To)
	assert.Contains(t, f.mail.sent[0].Body, member.Email)

	// Not retried; waiting would not bring the credentials back.
	n, err := f.queue.Length(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRetryBudget(t *testing.T) {
	f, cleanup := setupProcessor(t)
	defer cleanup()

	// A member still waiting on their processor token fails the task on
	// every run.
	member := testutil.TestMember(t, f.db, testutil.WithUsername(""))
	failing := task(tasks.TaskCreateUser, map[string]string{"hash": member.Hash})

	f.processor.Process(context.Background(), failing)
	n, err := f.queue.Length(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "should requeue while retries remain")

	failing.Retries = 5
	f.processor.Process(context.Background(), failing)
	require.Len(t, f.mail.sent, 1)
	assert.Contains(t, f.mail.sent[0].Subject, "failed permanently")
}

func TestReconcileMissingMemberIsDropped(t *testing.T) {
	f, cleanup := setupProcessor(t)
	defer cleanup()

	f.processor.Process(context.Background(), task(tasks.TaskReconcileMember,
		map[string]string{"id": "99999"}))

	// The member is gone for good; no retry, no alert.
	n, err := f.queue.Length(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.mail.sent)
}

func TestMailForMissingMemberIsDropped(t *testing.T) {
	f, cleanup := setupProcessor(t)
	defer cleanup()

	for _, name := range []string{tasks.TaskWelcomeMail, tasks.TaskResetPasswordMail, tasks.TaskReactivateMail} {
		f.processor.Process(context.Background(), task(name, map[string]string{"hash": "no-such-hash"}))
	}
	f.processor.Process(context.Background(), task(tasks.TaskStillThereMail,
		map[string]string{"id": "99999"}))

	assert.Empty(t, f.mail.sent)
	n, err := f.queue.Length(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWelcomeMail(t *testing.T) {
	f, cleanup := setupProcessor(t)
	defer cleanup()

	member := testutil.TestMember(t, f.db,
		testutil.WithUsername("ada"),
		testutil.WithName("Ada", "Lovelace"))

	f.processor.Process(context.Background(), task(tasks.TaskWelcomeMail, map[string]string{"hash": member.Hash}))

	require.Len(t, f.mail.sent, 1)
	msg := f.mail.sent[0]
	assert.Contains(t, msg.To, member.Email)
	assert.Contains(t, msg.To, "ada@example.com")
	assert.Contains(t, msg.Subject, "Ada")
}

func TestStillThereMail(t *testing.T) {
	f, cleanup := setupProcessor(t)
	defer cleanup()

	member := testutil.TestMember(t, f.db,
		testutil.WithStatus(model.StatusSuspended),
		testutil.WithUsername("gone.member"),
		testutil.WithProcessorToken("tok-2"))

	f.processor.Process(context.Background(), task(tasks.TaskStillThereMail,
		map[string]string{"id": strconv.FormatInt(member.ID, 10)}))

	require.Len(t, f.mail.sent, 1)
	msg := f.mail.sent[0]
	assert.Equal(t, "billing@example.com", msg.From)
	assert.Equal(t, []string{member.Email}, msg.To)
	assert.Equal(t, []string{"gone.member@example.com"}, msg.Cc)
	assert.Contains(t, msg.Body, "/unsubscribe/")
}

func TestCleanMember(t *testing.T) {
	f, cleanup := setupProcessor(t)
	defer cleanup()

	abandoned := testutil.TestMember(t, f.db, testutil.WithStatus(""))

	f.processor.Process(context.Background(), task(tasks.TaskCleanMember,
		map[string]string{"id": strconv.FormatInt(abandoned.ID, 10)}))

	_, err := f.members.GetByID(abandoned.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	require.Len(t, f.mail.sent, 1)
	assert.Equal(t, []string{abandoned.Email}, f.mail.sent[0].To)
}

func TestCleanMember_SparesActivatedMembers(t *testing.T) {
	f, cleanup := setupProcessor(t)
	defer cleanup()

	member := testutil.TestMember(t, f.db) // activated since the cleanup was queued

	f.processor.Process(context.Background(), task(tasks.TaskCleanMember,
		map[string]string{"id": strconv.FormatInt(member.ID, 10)}))

	_, err := f.members.GetByID(member.ID)
	assert.NoError(t, err)
	assert.Empty(t, f.mail.sent)
}

func TestUnknownTaskIsDroppedWithAlert(t *testing.T) {
	f, cleanup := setupProcessor(t)
	defer cleanup()

	f.processor.Process(context.Background(), task("no_such_task", nil))

	require.Len(t, f.mail.sent, 1)
	assert.Contains(t, f.mail.sent[0].Subject, "no_such_task")
	n, err := f.queue.Length(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
