package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/url"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/coveworks/memberd/config"
	"github.com/coveworks/memberd/internal/model"
	"github.com/coveworks/memberd/internal/model/dto"
	"github.com/coveworks/memberd/internal/pkg/jwt"
	"github.com/coveworks/memberd/internal/pkg/tasks"
	"github.com/coveworks/memberd/internal/repository"
	"github.com/coveworks/memberd/internal/tokens"
)

var (
	ErrRateLimited    = errors.New("too many login attempts")
	ErrUserNotFound   = errors.New("user not found")
	ErrWrongPassword  = errors.New("password is incorrect")
	ErrNotFinished    = errors.New("you have not finished signing up")
	ErrSuspendedUser  = errors.New("your account is suspended")
	ErrBadResetToken  = errors.New("invalid password reset token")
	ErrMemberNotFound = errors.New("member not found")
)

type AuthService struct {
	members *repository.MemberRepository
	cache   *tokens.Cache
	queue   *tasks.Queue
	cfg     *config.Config
}

func NewAuthService(members *repository.MemberRepository, cache *tokens.Cache,
	queue *tasks.Queue, cfg *config.Config) *AuthService {
	return &AuthService{members: members, cache: cache, queue: queue, cfg: cfg}
}

// Login checks credentials and issues a session token. When a partner app id
// is given, a trust token rides along on the redirect URL so that app can
// confirm the session through ValidateToken.
//
// The unknown-user and wrong-password paths answer with different messages.
// That leaks which emails have accounts, and it is kept that way on purpose:
// members mistype their email constantly and the support burden of a vague
// message outweighed the leak when this was last revisited.
func (s *AuthService) Login(ctx context.Context, req *dto.LoginRequest) (*dto.LoginResponse, error) {
	allowed, err := s.cache.Allow(ctx, "login:"+req.Email, time.Second)
	if err != nil {
		return nil, err
	}
	if !allowed {
		log.Printf("auth: rate limiting login for %s", req.Email)
		return nil, ErrRateLimited
	}

	member, err := s.members.GetByEmail(req.Email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("auth: unknown user %s", req.Email)
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(member.PasswordHash), []byte(req.Password)) != nil {
		log.Printf("auth: invalid password for %s", req.Email)
		return nil, ErrWrongPassword
	}

	if member.Status == "" {
		return nil, ErrNotFinished
	}
	if member.Status == model.StatusSuspended {
		return nil, ErrSuspendedUser
	}

	session, err := jwt.GenerateToken(member.ID, member.IsAdmin, s.cfg.JWT.Secret, s.cfg.JWT.ExpireHours)
	if err != nil {
		return nil, err
	}

	returnURL := req.URL
	if returnURL == "" {
		returnURL = "/"
	}
	if req.AppID != "" {
		ttl := time.Duration(s.cfg.JWT.ExpireHours) * time.Hour
		trust, err := s.cache.Issue(ctx, member.ID, req.AppID, ttl)
		if err != nil {
			return nil, err
		}
		query := url.Values{"token": {trust}, "user": {fmt.Sprintf("%d", member.ID)}}
		returnURL = returnURL + "?" + query.Encode()
	}

	return &dto.LoginResponse{SessionToken: session, RedirectURL: returnURL}, nil
}

// ValidateToken lets an authorized partner app confirm that a trust token it
// was handed is still live.
func (s *AuthService) ValidateToken(ctx context.Context, appID string, req *dto.ValidateTokenRequest) (bool, error) {
	return s.cache.Verify(ctx, req.User, appID, req.Token)
}

// Logout drops a partner app's trust token. Same-app sessions are stateless
// JWTs; the handler clears the cookie.
func (s *AuthService) Logout(ctx context.Context, userID int64, appID, token string) error {
	if appID == "" {
		return nil
	}
	return s.cache.Delete(ctx, userID, appID, token)
}

// ForgotPassword issues a reset token and queues the reset mail. A token
// issued within the validity window is reused so that a double-click does
// not invalidate the first mail.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	member, err := s.members.GetByEmail(email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}

	token := member.PasswordResetToken
	if token == "" || !s.resetTokenLive(member) {
		raw := make([]byte, 16)
		if _, err := rand.Read(raw); err != nil {
			return err
		}
		token = hex.EncodeToString(raw)
		now := time.Now()
		err = s.members.UpdateColumnsQuiet(member.ID, map[string]interface{}{
			"password_reset_token":  token,
			"password_reset_issued": now,
		})
		if err != nil {
			return err
		}
	}

	query := url.Values{"user": {member.Hash}, "token": {token}}
	resetURL := fmt.Sprintf("%s/reset_password?%s", s.cfg.Server.BaseURL, query.Encode())
	return s.queue.Enqueue(ctx, tasks.TaskResetPasswordMail, map[string]string{
		"hash": member.Hash,
		"url":  resetURL,
	}, 0)
}

// CheckResetToken resolves the reset link parameters without consuming the
// token.
func (s *AuthService) CheckResetToken(hash, token string) (*model.Member, error) {
	member, err := s.members.GetByHash(hash)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, err
	}
	if token == "" || member.PasswordResetToken != token || !s.resetTokenLive(member) {
		return nil, ErrBadResetToken
	}
	return member, nil
}

// ResetPassword consumes a live reset token and sets the new password.
func (s *AuthService) ResetPassword(ctx context.Context, hash, token, password string) error {
	member, err := s.CheckResetToken(hash, token)
	if err != nil {
		return err
	}
	if len(password) < 8 {
		return ErrPasswordTooShort
	}

	hashed, err := s.HashPassword(password)
	if err != nil {
		return err
	}
	return s.members.UpdateColumnsQuiet(member.ID, map[string]interface{}{
		"password_hash":         hashed,
		"password_reset_token":  "",
		"password_reset_issued": nil,
	})
}

func (s *AuthService) HashPassword(password string) (string, error) {
	return hashPassword(password, s.cfg.Auth.BcryptCost)
}

func hashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func (s *AuthService) resetTokenLive(member *model.Member) bool {
	if member.PasswordResetIssued == nil {
		return false
	}
	age := time.Since(*member.PasswordResetIssued)
	return age < time.Duration(s.cfg.Auth.ResetTokenHours)*time.Hour
}
