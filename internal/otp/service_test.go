package otp_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"gorm.io/gorm"

	"github.com/suteetoe/pharmadesk/internal/apperror"
	"github.com/suteetoe/pharmadesk/internal/model"
	"github.com/suteetoe/pharmadesk/internal/otp"
	"github.com/suteetoe/pharmadesk/internal/testutil"
)

const mobile = "9876543210"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func codes(list ...string) func() (string, error) {
	var mu sync.Mutex
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		code := list[0]
		if len(list) > 1 {
			list = list[1:]
		}
		return code, nil
	}
}

type fixture struct {
	db    *gorm.DB
	clock *clock
	svc   *otp.Service
}

func newFixture(t *testing.T, generate func() (string, error)) *fixture {
	db := testutil.NewDB(t)
	clk := &clock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	svc := otp.NewService(db, otp.Options{
		TTL:          5 * time.Minute,
		QueryTimeout: 5 * time.Second,
		Now:          clk.Now,
		Generate:     generate,
	})
	return &fixture{db: db, clock: clk, svc: svc}
}

func TestSendPersistsChallenge(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t, nil)

	code, err := f.svc.Send(context.Background(), mobile)
	c.Assert(err, qt.IsNil)
	c.Assert(code, qt.Matches, `[0-9]{6}`)

	var stored model.OTPChallenge
	c.Assert(f.db.First(&stored, "mobile = ?", mobile).Error, qt.IsNil)
	c.Assert(stored.Code, qt.Equals, code)
	c.Assert(stored.Purpose, qt.Equals, model.PurposeSignup)
	c.Assert(stored.Verified, qt.IsFalse)
	c.Assert(stored.ExpiresAt.Equal(f.clock.Now().Add(5*time.Minute)), qt.IsTrue)
}

func TestSendRejectsBadMobile(t *testing.T) {
	tests := []struct {
		mobile string
		msg    string
	}{
		{"", "mobile is required"},
		{"12345", "mobile number is invalid"},
		{"98765abc10", "mobile number is invalid"},
		{"+1234567890123456", "mobile number is invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.mobile, func(t *testing.T) {
			c := qt.New(t)
			f := newFixture(t, nil)
			_, err := f.svc.Send(context.Background(), tt.mobile)
			var appErr *apperror.Error
			c.Assert(errors.As(err, &appErr), qt.IsTrue)
			c.Assert(appErr.Code, qt.Equals, apperror.CodeValidation)
			c.Assert(appErr.Field, qt.Equals, "mobile")
			c.Assert(appErr.Message, qt.Equals, tt.msg)

			var count int64
			c.Assert(f.db.Model(&model.OTPChallenge{}).Count(&count).Error, qt.IsNil)
			c.Assert(count, qt.Equals, int64(0))
		})
	}
}

func TestValidMobile(t *testing.T) {
	c := qt.New(t)
	c.Assert(otp.ValidMobile("9876543210"), qt.IsTrue)
	c.Assert(otp.ValidMobile("+919876543210"), qt.IsTrue)
	c.Assert(otp.ValidMobile("987654321"), qt.IsFalse)
}

func TestGenerateCode(t *testing.T) {
	c := qt.New(t)
	for i := 0; i < 100; i++ {
		code, err := otp.GenerateCode()
		c.Assert(err, qt.IsNil)
		c.Assert(code, qt.Matches, `[0-9]{6}`)
	}
}

func TestVerifySucceedsAndIsIdempotent(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t, codes("123456"))
	ctx := context.Background()

	_, err := f.svc.Send(ctx, mobile)
	c.Assert(err, qt.IsNil)

	c.Assert(f.svc.Verify(ctx, mobile, "123456"), qt.IsNil)
	c.Assert(f.svc.Verify(ctx, mobile, "123456"), qt.IsNil)

	var all []model.OTPChallenge
	c.Assert(f.db.Find(&all, "mobile = ?", mobile).Error, qt.IsNil)
	c.Assert(all, qt.HasLen, 1)
	c.Assert(all[0].Verified, qt.IsTrue)
	c.Assert(all[0].Code, qt.Equals, "123456")

	ok, err := f.svc.IsVerified(ctx, f.db, mobile, model.PurposeSignup)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)
}

func TestVerifyWrongCode(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t, codes("123456"))
	ctx := context.Background()

	_, err := f.svc.Send(ctx, mobile)
	c.Assert(err, qt.IsNil)

	c.Assert(f.svc.Verify(ctx, mobile, "654321"), qt.ErrorIs, apperror.ErrInvalidOtp)
	c.Assert(f.svc.Verify(ctx, mobile, "12ab"), qt.ErrorIs, apperror.ErrInvalidOtp)
	c.Assert(f.svc.Verify(ctx, "9999999999", "123456"), qt.ErrorIs, apperror.ErrInvalidOtp)

	ok, err := f.svc.IsVerified(ctx, f.db, mobile, model.PurposeSignup)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)
}

func TestVerifyExpired(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t, codes("123456"))
	ctx := context.Background()

	_, err := f.svc.Send(ctx, mobile)
	c.Assert(err, qt.IsNil)
	f.clock.Advance(6 * time.Minute)

	c.Assert(f.svc.Verify(ctx, mobile, "123456"), qt.ErrorIs, apperror.ErrOtpExpired)
	c.Assert(f.svc.Verify(ctx, mobile, "000000"), qt.ErrorIs, apperror.ErrOtpExpired)
}

func TestVerifiedChallengeLapses(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t, codes("123456"))
	ctx := context.Background()

	_, err := f.svc.Send(ctx, mobile)
	c.Assert(err, qt.IsNil)
	c.Assert(f.svc.Verify(ctx, mobile, "123456"), qt.IsNil)

	f.clock.Advance(6 * time.Minute)
	ok, err := f.svc.IsVerified(ctx, f.db, mobile, model.PurposeSignup)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)
}

func TestEarlierChallengeStaysValid(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t, codes("111111", "222222"))
	ctx := context.Background()

	_, err := f.svc.Send(ctx, mobile)
	c.Assert(err, qt.IsNil)
	f.clock.Advance(time.Minute)
	_, err = f.svc.Send(ctx, mobile)
	c.Assert(err, qt.IsNil)

	c.Assert(f.svc.Verify(ctx, mobile, "111111"), qt.IsNil)
}

func TestConsumeRemovesAllChallenges(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t, codes("111111", "222222", "333333"))
	ctx := context.Background()

	for _, m := range []string{mobile, mobile, "9123456789"} {
		_, err := f.svc.Send(ctx, m)
		c.Assert(err, qt.IsNil)
	}
	c.Assert(f.svc.Consume(ctx, f.db, mobile, model.PurposeSignup), qt.IsNil)

	var left []model.OTPChallenge
	c.Assert(f.db.Find(&left).Error, qt.IsNil)
	c.Assert(left, qt.HasLen, 1)
	c.Assert(left[0].Mobile, qt.Equals, "9123456789")
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t, codes("111111", "222222"))
	ctx := context.Background()

	_, err := f.svc.Send(ctx, mobile)
	c.Assert(err, qt.IsNil)
	f.clock.Advance(4 * time.Minute)
	_, err = f.svc.Send(ctx, "9123456789")
	c.Assert(err, qt.IsNil)
	f.clock.Advance(2 * time.Minute)

	n, err := f.svc.Sweep(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, int64(1))

	var left []model.OTPChallenge
	c.Assert(f.db.Find(&left).Error, qt.IsNil)
	c.Assert(left, qt.HasLen, 1)
	c.Assert(left[0].Mobile, qt.Equals, "9123456789")
}

type fakeDispatcher struct {
	mu   sync.Mutex
	sent []otp.Message
	err  error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, msg otp.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, msg)
	return nil
}

func TestSendDispatchesCode(t *testing.T) {
	c := qt.New(t)
	db := testutil.NewDB(t)
	d := &fakeDispatcher{}
	svc := otp.NewService(db, otp.Options{Dispatcher: d, Generate: codes("424242")})

	_, err := svc.Send(context.Background(), mobile)
	c.Assert(err, qt.IsNil)
	c.Assert(d.sent, qt.HasLen, 1)
	c.Assert(d.sent[0].Mobile, qt.Equals, mobile)
	c.Assert(d.sent[0].Code, qt.Equals, "424242")

	d.err = errors.New("gateway down")
	_, err = svc.Send(context.Background(), mobile)
	c.Assert(err, qt.ErrorMatches, `Internal: dispatch otp: gateway down`)
}

type denyLimiter struct{ err error }

func (l denyLimiter) Allow(context.Context, string, time.Duration) (bool, error) {
	return false, l.err
}

func (denyLimiter) Release(context.Context, string) error { return nil }

func TestSendHonoursCooldown(t *testing.T) {
	c := qt.New(t)
	db := testutil.NewDB(t)

	svc := otp.NewService(db, otp.Options{Cooldown: time.Minute, Limiter: denyLimiter{}})
	_, err := svc.Send(context.Background(), mobile)
	c.Assert(err, qt.ErrorIs, apperror.ErrOtpCooldown)

	// A failing limiter lets the send through.
	svc = otp.NewService(db, otp.Options{Cooldown: time.Minute, Limiter: denyLimiter{err: errors.New("redis down")}})
	_, err = svc.Send(context.Background(), mobile)
	c.Assert(err, qt.IsNil)
}

func TestStorageFailure(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t, nil)
	sqlDB, err := f.db.DB()
	c.Assert(err, qt.IsNil)
	c.Assert(sqlDB.Close(), qt.IsNil)

	_, err = f.svc.Send(context.Background(), mobile)
	c.Assert(apperror.As(err).Code, qt.Equals, apperror.CodeStorageUnavailable)
}
