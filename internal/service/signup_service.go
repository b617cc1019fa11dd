package service

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/url"
	"regexp"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/coveworks/memberd/config"
	"github.com/coveworks/memberd/internal/billing"
	"github.com/coveworks/memberd/internal/model"
	"github.com/coveworks/memberd/internal/model/dto"
	"github.com/coveworks/memberd/internal/pkg/tasks"
	"github.com/coveworks/memberd/internal/plan"
	"github.com/coveworks/memberd/internal/repository"
	"github.com/coveworks/memberd/internal/secrets"
	"github.com/coveworks/memberd/internal/tokens"
)

var (
	ErrMissingFields    = errors.New("name and email address are required")
	ErrAlreadyExists    = errors.New("account already exists")
	ErrSuspendedSignup  = errors.New("your account is suspended; reactivate it instead")
	ErrPlanUnavailable  = errors.New("that plan is not available")
	ErrPasswordMismatch = errors.New("passwords do not match")
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")
	ErrAccountExists    = errors.New("you already have a user account")
	ErrGiftCodeFormat   = errors.New("gift code must be 16 digits")
	ErrGiftCodeInvalid  = errors.New("gift code is invalid")
	ErrGiftCodeUsed     = errors.New("gift code has already been used")
)

// giftCodeMarker tags a referrer field that carries a gift code rather than
// free-form text.
const giftCodeMarker = "1337"

var (
	nonWordRE  = regexp.MustCompile(`[^\w]`)
	nonDigitRE = regexp.MustCompile(`[^0-9]`)
	hexAlphaRE = regexp.MustCompile(`[a-f]`)
)

type SignupService struct {
	members   *repository.MemberRepository
	usedCodes *repository.UsedCodeRepository
	catalog   *plan.Catalog
	billing   *billing.Client
	cache     *tokens.Cache
	queue     *tasks.Queue
	store     *secrets.Store
	cfg       *config.Config
}

func NewSignupService(members *repository.MemberRepository, usedCodes *repository.UsedCodeRepository,
	catalog *plan.Catalog, billingClient *billing.Client, cache *tokens.Cache,
	queue *tasks.Queue, store *secrets.Store, cfg *config.Config) *SignupService {
	return &SignupService{
		members:   members,
		usedCodes: usedCodes,
		catalog:   catalog,
		billing:   billingClient,
		cache:     cache,
		queue:     queue,
		store:     store,
		cfg:       cfg,
	}
}

// StartSignup records the applicant and returns the member whose hash keys
// the rest of the flow. An unfinished earlier signup for the same email is
// overwritten; finished ones are rejected. A member who created an account
// but never paid gets the payment page URL back instead of a second run
// through credential collection.
func (s *SignupService) StartSignup(req *dto.SignupRequest) (*model.Member, string, error) {
	firstName := strings.TrimSpace(req.FirstName)
	lastName := strings.TrimSpace(req.LastName)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if firstName == "" || lastName == "" || email == "" {
		return nil, "", ErrMissingFields
	}
	twitter := strings.TrimPrefix(strings.TrimSpace(strings.ToLower(req.Twitter)), "@")

	member, err := s.members.GetByEmail(email)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		member = &model.Member{Email: email}
	case err != nil:
		return nil, "", err
	case member.Status == model.StatusSuspended:
		return nil, "", ErrSuspendedSignup
	case member.Status == model.StatusActive, member.Status == model.StatusNoVisits:
		return nil, "", ErrAlreadyExists
	default:
		if member.Username != "" && member.SpreedlyToken == "" {
			log.Printf("signup: %s already has an account, resuming at payment", email)
			paymentURL, err := s.paymentURL(member, member.Username)
			if err != nil {
				return nil, "", err
			}
			return member, paymentURL, nil
		}
		log.Printf("signup: overwriting unfinished signup for %s", email)
	}

	member.FirstName = firstName
	member.LastName = lastName
	member.Twitter = twitter
	member.Hash = model.EmailHash(email)
	if req.PayPal {
		member.Status = model.StatusPayPal
	}
	member.Referrer = normalizeReferrer(req.Referrer)

	if err := s.members.Save(member); err != nil {
		return nil, "", err
	}
	return member, "", nil
}

// Gift codes hide in the referrer field; everything else is kept verbatim
// minus newlines.
func normalizeReferrer(referrer string) string {
	upper := strings.ToUpper(referrer)
	if strings.Contains(upper, giftCodeMarker) {
		return nonDigitRE.ReplaceAllString(upper, "")
	}
	return strings.ReplaceAll(referrer, "\n", " ")
}

// Applicant looks up a signup in progress by its hash.
func (s *SignupService) Applicant(hash string) (*model.Member, error) {
	member, err := s.members.GetByHash(hash)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMemberNotFound
	}
	return member, err
}

// ChoosePlan stores the applicant's plan choice. Unknown plans silently fall
// back to the default; admin-only plans are refused unless an admin is
// driving, and a full plan is refused no matter who asks.
func (s *SignupService) ChoosePlan(hash, planName string, isAdmin bool) (*model.Member, error) {
	member, err := s.Applicant(hash)
	if err != nil {
		return nil, err
	}

	// No explicit choice keeps what was chosen before; the default only
	// fills a blank.
	if planName == "" {
		planName = member.Plan
	}
	if planName == "" {
		planName = s.cfg.Signup.DefaultPlan
	}
	eligibility, err := s.catalog.CanSubscribe(planName)
	if err != nil {
		return nil, err
	}
	switch eligibility {
	case plan.Nonexistent:
		log.Printf("signup: unknown plan %q, falling back to %s", planName, s.cfg.Signup.DefaultPlan)
		planName = s.cfg.Signup.DefaultPlan
	case plan.DeniedFull:
		return nil, ErrPlanUnavailable
	case plan.DeniedAdminOnly:
		if !isAdmin {
			return nil, ErrPlanUnavailable
		}
	}

	member.Plan = planName
	if err := s.members.Save(member); err != nil {
		return nil, err
	}
	return member, nil
}

// SuggestUsername derives a username from the member's name: first word of
// the first name plus the last name, collapsed to a last initial when the
// pair runs long. Collisions fall back to the email local part, then to
// numeric suffixes.
func (s *SignupService) SuggestUsername(ctx context.Context, member *model.Member) (string, error) {
	firstPart := nonWordRE.ReplaceAllString(strings.Split(member.FirstName, " ")[0], "")
	lastPart := nonWordRE.ReplaceAllString(member.LastName, "")
	if len(firstPart)+len(lastPart) >= 15 && lastPart != "" {
		lastPart = lastPart[:1]
	}
	username := strings.ToLower(firstPart + "." + lastPart)

	taken, err := s.usernameTaken(ctx, username)
	if err != nil {
		return "", err
	}
	if !taken {
		return username, nil
	}

	username = strings.ToLower(strings.Split(member.Email, "@")[0])
	taken, err = s.usernameTaken(ctx, username)
	if err != nil {
		return "", err
	}
	if !taken {
		return username, nil
	}

	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s%d", username, i)
		taken, err := s.usernameTaken(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
}

// The redis username cache is preferred; when it is cold the database is
// authoritative.
func (s *SignupService) usernameTaken(ctx context.Context, username string) (bool, error) {
	cached, err := s.cache.HasUsernameCache(ctx)
	if err == nil && cached {
		return s.cache.UsernameTaken(ctx, username)
	}
	return s.members.ExistsByUsername(username)
}

// CreateAccount validates the chosen credentials, stashes them until payment
// confirms, redeems any gift code, and returns where to send the applicant
// next: the success page for already-paying members, the processor's hosted
// payment page otherwise.
func (s *SignupService) CreateAccount(ctx context.Context, hash string, req *dto.AccountRequest) (string, error) {
	if req.Password != req.PasswordConfirm {
		return "", ErrPasswordMismatch
	}
	if len(req.Password) < 8 {
		return "", ErrPasswordTooShort
	}

	member, err := s.Applicant(hash)
	if err != nil {
		return "", err
	}
	if member.Username != "" {
		return "", ErrAccountExists
	}

	username := req.Username
	if username == "" {
		username, err = s.SuggestUsername(ctx, member)
		if err != nil {
			return "", err
		}
	}
	if req.Plan != "" {
		member.Plan = req.Plan
	}
	if member.Plan == "" {
		member.Plan = s.cfg.Signup.DefaultPlan
	}

	hashed, err := hashPassword(req.Password, s.cfg.Auth.BcryptCost)
	if err != nil {
		return "", err
	}
	if err := s.members.UpdateColumnsQuiet(member.ID, map[string]interface{}{
		"plan":          member.Plan,
		"password_hash": hashed,
	}); err != nil {
		return "", err
	}

	// Held until the processor confirms payment and the directory account
	// can be created.
	if err := s.cache.StashCredentials(ctx, member.Hash, username, req.Password, time.Hour); err != nil {
		return "", err
	}

	if member.Status == model.StatusActive {
		// Already paying, e.g. reactivated member. Skip the payment page.
		err := s.queue.Enqueue(ctx, tasks.TaskCreateUser, map[string]string{"hash": member.Hash}, 3*time.Second)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s/success/%s", s.cfg.Server.BaseURL, member.Hash), nil
	}

	if strings.Contains(member.Referrer, giftCodeMarker) {
		if err := s.redeemGiftCode(ctx, member); err != nil {
			return "", err
		}
	}

	return s.paymentURL(member, username)
}

// ResumePaymentURL is the payment page for a member who created an account
// but never completed payment.
func (s *SignupService) ResumePaymentURL(member *model.Member) (string, error) {
	return s.paymentURL(member, member.Username)
}

func (s *SignupService) paymentURL(member *model.Member, username string) (string, error) {
	planName := member.Plan
	if planName == "" {
		planName = s.cfg.Signup.DefaultPlan
	}
	chosen, err := s.catalog.GetByName(planName)
	if err != nil {
		return "", err
	}
	query := url.Values{
		"first_name": {member.FirstName},
		"last_name":  {member.LastName},
		"email":      {member.Email},
		"return_url": {fmt.Sprintf("%s/success/%s", s.cfg.Server.BaseURL, member.Hash)},
	}
	return s.billing.SubscribeURL(member.ID, "", chosen.ID, username, query), nil
}

// Confirm is hit when the processor bounces a new member back to the success
// page. The snapshot fetch runs through the queue so a slow processor cannot
// hang the redirect.
func (s *SignupService) Confirm(ctx context.Context, hash string) (*model.Member, error) {
	member, err := s.Applicant(hash)
	if err != nil {
		return nil, err
	}
	err = s.queue.Enqueue(ctx, tasks.TaskReconcileMember,
		map[string]string{"id": fmt.Sprintf("%d", member.ID)}, 3*time.Second)
	if err != nil {
		return nil, err
	}
	return member, nil
}

// redeemGiftCode verifies the code carried in the referrer field and credits
// the account. Every attempt is recorded, including rejected ones.
func (s *SignupService) redeemGiftCode(ctx context.Context, member *model.Member) error {
	code := member.Referrer
	if len(code) != 16 {
		return ErrGiftCodeFormat
	}

	secret, err := s.store.Get(secrets.KeyGiftCode)
	if err != nil {
		return err
	}
	serial := code[4:8]
	if code[8:16] != giftCodeCheck(serial, secret) {
		s.recordCodeAttempt(code, member.Email, model.CodeOutcomeInvalid)
		return ErrGiftCodeInvalid
	}

	_, err = s.usedCodes.GetByCode(code)
	if err == nil {
		s.recordCodeAttempt(code, member.Email, model.CodeOutcomeReused)
		return ErrGiftCodeUsed
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	if err := s.billing.CreateSubscriber(ctx, member.ID, member.Email); err != nil {
		return err
	}
	if err := s.billing.AddCredit(ctx, member.ID, s.cfg.Billing.GiftCredit); err != nil {
		return err
	}

	s.recordCodeAttempt(code, member.Email, model.CodeOutcomeOK)
	return nil
}

func (s *SignupService) recordCodeAttempt(code, email, outcome string) {
	if err := s.usedCodes.Create(&model.UsedCode{Code: code, Email: email, Extra: outcome}); err != nil {
		log.Printf("signup: failed to record code attempt: %v", err)
	}
}

// giftCodeCheck derives the check digits for a serial: sha1 over serial plus
// secret, hex letters stripped, first eight characters kept.
func giftCodeCheck(serial, secret string) string {
	sum := sha1.Sum([]byte(serial + secret))
	stripped := hexAlphaRE.ReplaceAllString(hex.EncodeToString(sum[:]), "")
	if len(stripped) > 8 {
		stripped = stripped[:8]
	}
	return stripped
}

// GenerateGiftCode mints a redeemable code for the serial, in the same shape
// the printed coupon cards use.
func GenerateGiftCode(serial, secret string) string {
	return giftCodeMarker + serial + giftCodeCheck(serial, secret)
}
