// Package otp issues and verifies one-time passcodes that gate tenant signup.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/suteetoe/pharmadesk/internal/apperror"
	"github.com/suteetoe/pharmadesk/internal/model"
	"github.com/suteetoe/pharmadesk/pkg/logger"
	"github.com/suteetoe/pharmadesk/prometheus"
)

// CodeLength is the number of decimal digits in a passcode.
const CodeLength = 6

var (
	mobilePattern = regexp.MustCompile(`^\+?[0-9]{10,15}$`)
	codePattern   = regexp.MustCompile(`^[0-9]{6}$`)
)

// ValidMobile reports whether mobile is an acceptable phone number.
func ValidMobile(mobile string) bool {
	return mobilePattern.MatchString(mobile)
}

// Options configures a Service. Zero-valued collaborators fall back to no-op implementations.
type Options struct {
	TTL          time.Duration
	Cooldown     time.Duration
	QueryTimeout time.Duration
	Limiter      Limiter
	Dispatcher   Dispatcher
	Now          func() time.Time
	Generate     func() (string, error)
}

// Service persists OTP challenges.
type Service struct {
	db         *gorm.DB
	ttl        time.Duration
	cooldown   time.Duration
	timeout    time.Duration
	limiter    Limiter
	dispatcher Dispatcher
	now        func() time.Time
	generate   func() (string, error)
}

// NewService returns a Service storing challenges in db.
func NewService(db *gorm.DB, opts Options) *Service {
	s := &Service{
		db:         db,
		ttl:        opts.TTL,
		cooldown:   opts.Cooldown,
		timeout:    opts.QueryTimeout,
		limiter:    opts.Limiter,
		dispatcher: opts.Dispatcher,
		now:        opts.Now,
		generate:   opts.Generate,
	}
	if s.ttl <= 0 {
		s.ttl = 5 * time.Minute
	}
	if s.limiter == nil {
		s.limiter = NopLimiter{}
	}
	if s.dispatcher == nil {
		s.dispatcher = NopDispatcher{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.generate == nil {
		s.generate = GenerateCode
	}
	return s
}

// GenerateCode returns a uniformly random zero-padded 6 digit code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Send issues a new signup challenge for mobile and hands the code to the dispatcher.
// Earlier challenges for the same mobile stay valid until they expire.
func (s *Service) Send(ctx context.Context, mobile string) (string, error) {
	log := logger.FromContext(ctx)
	if mobile == "" {
		return "", apperror.Validation("mobile", "mobile is required")
	}
	if !ValidMobile(mobile) {
		return "", apperror.Validation("mobile", "mobile number is invalid")
	}

	held := false
	if s.cooldown > 0 {
		allowed, err := s.limiter.Allow(ctx, mobile, s.cooldown)
		switch {
		case err != nil:
			// Redis being down must not block signups.
			log.Warn("otp cooldown check failed", zap.Error(err))
		case !allowed:
			prometheus.RecordOTP("throttled")
			return "", apperror.ErrOtpCooldown
		default:
			held = true
		}
	}

	code, err := s.issue(ctx, mobile)
	if err != nil {
		// A send that never reached the user must not hold the cooldown.
		if held {
			if relErr := s.limiter.Release(context.WithoutCancel(ctx), mobile); relErr != nil {
				log.Warn("otp cooldown release failed", zap.Error(relErr))
			}
		}
		return "", err
	}
	return code, nil
}

// issue stores a new challenge for mobile and dispatches its code.
func (s *Service) issue(ctx context.Context, mobile string) (string, error) {
	code, err := s.generate()
	if err != nil {
		return "", apperror.Internal("generate otp", err)
	}

	challenge := model.OTPChallenge{
		Mobile:    mobile,
		Purpose:   model.PurposeSignup,
		Code:      code,
		ExpiresAt: s.now().UTC().Add(s.ttl),
	}

	qctx, cancel := s.withTimeout(ctx)
	defer cancel()
	done := prometheus.TrackDBOperation("otp_create")
	err = s.db.WithContext(qctx).Create(&challenge).Error
	done()
	if err != nil {
		return "", apperror.Storage("create otp challenge", err)
	}

	if err := s.dispatcher.Dispatch(ctx, Message{Mobile: mobile, Code: code, ExpiresAt: challenge.ExpiresAt}); err != nil {
		return "", apperror.Internal("dispatch otp", err)
	}

	prometheus.RecordOTP("sent")
	logger.FromContext(ctx).Info("otp issued", zap.Uint("challenge_id", challenge.ID), zap.Time("expires_at", challenge.ExpiresAt))
	return code, nil
}

// Verify marks the challenge matching mobile and code as verified. Verifying an
// already verified challenge succeeds again without changing it.
func (s *Service) Verify(ctx context.Context, mobile, code string) error {
	if mobile == "" {
		return apperror.Validation("mobile", "mobile is required")
	}
	if code == "" {
		return apperror.Validation("code", "code is required")
	}
	now := s.now().UTC()

	qctx, cancel := s.withTimeout(ctx)
	defer cancel()
	db := s.db.WithContext(qctx)

	if !codePattern.MatchString(code) {
		prometheus.RecordOTP("invalid")
		return s.noMatch(db, mobile, now)
	}

	var matches []model.OTPChallenge
	err := db.Where("mobile = ? AND purpose = ? AND code = ?", mobile, model.PurposeSignup, code).
		Order("id DESC").
		Find(&matches).Error
	if err != nil {
		return apperror.Storage("find otp challenge", err)
	}
	if len(matches) == 0 {
		prometheus.RecordOTP("invalid")
		return s.noMatch(db, mobile, now)
	}

	for _, m := range matches {
		if m.Expired(now) {
			continue
		}
		if !m.Verified {
			err := db.Model(&model.OTPChallenge{}).Where("id = ?", m.ID).Update("verified", true).Error
			if err != nil {
				return apperror.Storage("mark otp verified", err)
			}
		}
		prometheus.RecordOTP("verified")
		return nil
	}

	prometheus.RecordOTP("expired")
	return apperror.ErrOtpExpired
}

// noMatch decides between InvalidOtp and OtpExpired when no challenge carries the
// submitted code: an expired newest challenge means the caller is holding a stale code.
func (s *Service) noMatch(db *gorm.DB, mobile string, now time.Time) error {
	var latest model.OTPChallenge
	err := db.Where("mobile = ? AND purpose = ?", mobile, model.PurposeSignup).
		Order("id DESC").
		Take(&latest).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperror.ErrInvalidOtp
	case err != nil:
		return apperror.Storage("find latest otp challenge", err)
	case latest.Expired(now):
		return apperror.ErrOtpExpired
	default:
		return apperror.ErrInvalidOtp
	}
}

// IsVerified reports whether mobile holds a verified, unexpired challenge for purpose.
// db may be a transaction.
func (s *Service) IsVerified(ctx context.Context, db *gorm.DB, mobile, purpose string) (bool, error) {
	now := s.now().UTC()

	var verified []model.OTPChallenge
	err := db.WithContext(ctx).
		Where("mobile = ? AND purpose = ? AND verified = ?", mobile, purpose, true).
		Find(&verified).Error
	if err != nil {
		return false, apperror.Storage("check otp verified", err)
	}
	for _, v := range verified {
		if !v.Expired(now) {
			return true, nil
		}
	}
	return false, nil
}

// Consume deletes every challenge for mobile and purpose. db may be a transaction.
func (s *Service) Consume(ctx context.Context, db *gorm.DB, mobile, purpose string) error {
	err := db.WithContext(ctx).
		Where("mobile = ? AND purpose = ?", mobile, purpose).
		Delete(&model.OTPChallenge{}).Error
	if err != nil {
		return apperror.Storage("consume otp challenges", err)
	}
	return nil
}

// Sweep deletes every expired challenge and returns how many were removed.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	qctx, cancel := s.withTimeout(ctx)
	defer cancel()
	defer prometheus.TrackDBOperation("otp_sweep")()

	res := s.db.WithContext(qctx).
		Where("expires_at < ?", s.now().UTC()).
		Delete(&model.OTPChallenge{})
	if res.Error != nil {
		return 0, apperror.Storage("sweep otp challenges", res.Error)
	}
	if res.RowsAffected > 0 {
		prometheus.RecordOTPs("swept", res.RowsAffected)
	}
	return res.RowsAffected, nil
}
