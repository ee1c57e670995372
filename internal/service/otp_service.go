package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/models"
	"storefront/internal/redisclient"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

var e164 = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)

// OTPService handles phone number login
type OTPService struct {
	store        *store.Store
	otps         OTPStore
	sender       MessageSender
	tokens       TokenIssuer
	ttl          time.Duration
	resendWindow time.Duration
	siteName     string
	logger       *zap.Logger
}

// NewOTPService creates a new OTP service
func NewOTPService(store *store.Store, otps OTPStore, sender MessageSender, tokens TokenIssuer, ttl, resendWindow time.Duration) *OTPService {
	return &OTPService{
		store:        store,
		otps:         otps,
		sender:       sender,
		tokens:       tokens,
		ttl:          ttl,
		resendWindow: resendWindow,
		siteName:     "Storefront",
		logger:       util.Component("otp"),
	}
}

// Session is returned after a successful login
type Session struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// NormalizePhone strips separators and checks the E.164 format
func NormalizePhone(phone string) (string, error) {
	p := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(phone))
	if !e164.MatchString(p) {
		return "", apperr.Validation("phone", "must be in E.164 format, e.g. +919812345678")
	}
	return p, nil
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// RequestOTP sends a one-time code to the phone. Only one code is sent per
// phone within the resend window.
func (s *OTPService) RequestOTP(ctx context.Context, phone string) error {
	ctx, span := util.StartSpan(ctx, "OTPService.RequestOTP")
	defer span.End()

	phone, err := NormalizePhone(phone)
	if err != nil {
		util.OTPRequestsTotal.WithLabelValues("send", "invalid").Inc()
		return err
	}

	allowed, err := s.otps.ThrottleOTP(ctx, phone, s.resendWindow)
	if err != nil {
		return fmt.Errorf("failed to throttle otp: %w", err)
	}
	if !allowed {
		util.OTPRequestsTotal.WithLabelValues("send", "throttled").Inc()
		return &apperr.RateLimitError{Message: fmt.Sprintf("wait %s before requesting another code", s.resendWindow)}
	}

	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("failed to generate otp: %w", err)
	}
	if err := s.otps.SaveOTP(ctx, phone, code, s.ttl); err != nil {
		return fmt.Errorf("failed to store otp: %w", err)
	}

	body := fmt.Sprintf("%s login code: %s. It expires in %d minutes.", s.siteName, code, int(s.ttl.Minutes()))
	if err := s.sender.Send(ctx, phone, body); err != nil {
		util.OTPRequestsTotal.WithLabelValues("send", "failed").Inc()
		util.NotificationFailuresTotal.WithLabelValues("sms").Inc()
		util.RecordError(span, err)
		return &apperr.NotificationError{Channel: "sms", Err: err}
	}

	util.OTPRequestsTotal.WithLabelValues("send", "ok").Inc()
	s.logger.Info("OTP sent", zap.String("phone", maskPhone(phone)))
	return nil
}

// VerifyOTP consumes the code and issues a session for the phone's user,
// creating the user on first login
func (s *OTPService) VerifyOTP(ctx context.Context, phone, code string) (*Session, error) {
	ctx, span := util.StartSpan(ctx, "OTPService.VerifyOTP")
	defer span.End()

	phone, err := NormalizePhone(phone)
	if err != nil {
		return nil, err
	}
	if len(code) != 6 {
		return nil, apperr.Validation("code", "must be 6 digits")
	}

	result, err := s.otps.ConsumeOTP(ctx, phone, code)
	if err != nil {
		return nil, fmt.Errorf("failed to verify otp: %w", err)
	}
	switch result {
	case redisclient.OTPMissing:
		util.OTPRequestsTotal.WithLabelValues("verify", "expired").Inc()
		return nil, apperr.Validation("code", "expired or not requested")
	case redisclient.OTPMismatch:
		util.OTPRequestsTotal.WithLabelValues("verify", "mismatch").Inc()
		return nil, apperr.Validation("code", "incorrect")
	}

	user, err := s.store.GetOrCreateUserByPhone(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	token, exp, err := s.tokens.Issue(user.ID, user.Role, user.Phone)
	if err != nil {
		return nil, err
	}

	util.OTPRequestsTotal.WithLabelValues("verify", "ok").Inc()
	s.logger.Info("User logged in", zap.Int64("user_id", user.ID))
	return &Session{Token: token, ExpiresAt: exp, User: user}, nil
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
