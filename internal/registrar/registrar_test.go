package registrar_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/suteetoe/pharmadesk/internal/apperror"
	"github.com/suteetoe/pharmadesk/internal/model"
	"github.com/suteetoe/pharmadesk/internal/otp"
	"github.com/suteetoe/pharmadesk/internal/registrar"
	"github.com/suteetoe/pharmadesk/internal/sequence"
	"github.com/suteetoe/pharmadesk/internal/testutil"
)

const testCode = "123456"

type fixture struct {
	db  *gorm.DB
	otp *otp.Service
	reg *registrar.Registrar
}

func newFixture(t *testing.T, maxAttempts int) *fixture {
	db := testutil.NewDB(t)
	otpSvc := otp.NewService(db, otp.Options{
		TTL:      5 * time.Minute,
		Generate: func() (string, error) { return testCode, nil },
	})
	alloc := sequence.New(db, sequence.Floors{TenantCode: 100, UserSuffix: 1}, 5*time.Second)
	return &fixture{
		db:  db,
		otp: otpSvc,
		reg: registrar.New(db, alloc, otpSvc, maxAttempts, 10*time.Second),
	}
}

func (f *fixture) verify(c *qt.C, mobile string) {
	_, err := f.otp.Send(context.Background(), mobile)
	c.Assert(err, qt.IsNil)
	c.Assert(f.otp.Verify(context.Background(), mobile, testCode), qt.IsNil)
}

func (f *fixture) counts(c *qt.C) (tenants, users int64) {
	c.Assert(f.db.Model(&model.Tenant{}).Count(&tenants).Error, qt.IsNil)
	c.Assert(f.db.Model(&model.User{}).Count(&users).Error, qt.IsNil)
	return tenants, users
}

func apollo() registrar.Registration {
	return registrar.Registration{
		BusinessName: "Apollo",
		OwnerName:    "Asha",
		Mobile:       "9876543210",
		Email:        "asha@apollo.com",
		LicenseNo:    "LIC1",
		Password:     "secret1",
	}
}

func TestRegisterTenant(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t, 0)
	f.verify(c, "9876543210")

	res, err := f.reg.Register(context.Background(), apollo())
	c.Assert(err, qt.IsNil)
	c.Assert(res, qt.DeepEquals, &registrar.Result{
		TenantCode:   100,
		OwnerUserID:  100001,
		Password:     "secret1",
		OwnerName:    "Asha",
		BusinessName: "Apollo",
	})

	var tenant model.Tenant
	c.Assert(f.db.First(&tenant, "tenant_code = ?", 100).Error, qt.IsNil)
	c.Assert(tenant.PasswordHash, qt.Not(qt.Equals), "secret1")
	c.Assert(tenant.MatchPassword("secret1"), qt.IsTrue)
	c.Assert(tenant.LastUserSuffix, qt.Equals, int64(1))

	var owner model.User
	c.Assert(f.db.First(&owner, "user_id = ?", 100001).Error, qt.IsNil)
	c.Assert(owner.TenantCode, qt.Equals, int64(100))
	c.Assert(owner.Role, qt.Equals, model.RoleAdmin)
	c.Assert(owner.Name, qt.Equals, "Asha")
	c.Assert(owner.MatchPassword("secret1"), qt.IsTrue)

	var challenges int64
	c.Assert(f.db.Model(&model.OTPChallenge{}).Count(&challenges).Error, qt.IsNil)
	c.Assert(challenges, qt.Equals, int64(0))
}

func TestRegisterSecondTenant(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t, 0)
	f.verify(c, "9876543210")
	_, err := f.reg.Register(context.Background(), apollo())
	c.Assert(err, qt.IsNil)

	f.verify(c, "9123456789")
	res, err := f.reg.Register(context.Background(), registrar.Registration{
		BusinessName: "MedPlus",
		OwnerName:    "Ravi",
		Mobile:       "9123456789",
		Email:        "ravi@medplus.com",
		LicenseNo:    "LIC2",
		Password:     "secret2",
	})
	c.Assert(err, qt.IsNil)
	c.Assert(res.TenantCode, qt.Equals, int64(101))
	c.Assert(res.OwnerUserID, qt.Equals, int64(101001))
}

func TestRegisterRequiresVerifiedMobile(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.reg.Register(ctx, apollo())
	c.Assert(err, qt.ErrorIs, apperror.ErrMobileNotVerified)

	// Sent but never verified.
	_, err = f.otp.Send(ctx, "9876543210")
	c.Assert(err, qt.IsNil)
	_, err = f.reg.Register(ctx, apollo())
	c.Assert(err, qt.ErrorIs, apperror.ErrMobileNotVerified)

	var counters int64
	c.Assert(f.db.Model(&model.Counter{}).Count(&counters).Error, qt.IsNil)
	c.Assert(counters, qt.Equals, int64(0))
	tenants, users := f.counts(c)
	c.Assert(tenants, qt.Equals, int64(0))
	c.Assert(users, qt.Equals, int64(0))
}

func TestDuplicateEmailWritesNothing(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t, 0)
	f.verify(c, "9876543210")
	_, err := f.reg.Register(context.Background(), apollo())
	c.Assert(err, qt.IsNil)
	tenantsBefore, usersBefore := f.counts(c)

	f.verify(c, "9123456789")
	dup := apollo()
	dup.Mobile = "9123456789"
	dup.LicenseNo = "LIC2"
	dup.Email = "  ASHA@apollo.com "
	_, err = f.reg.Register(context.Background(), dup)
	c.Assert(err, qt.ErrorIs, apperror.DuplicateField("email"))

	tenants, users := f.counts(c)
	c.Assert(tenants, qt.Equals, tenantsBefore)
	c.Assert(users, qt.Equals, usersBefore)

	// The failed attempt did not burn a tenant code, and the OTP is still usable.
	dup.Email = "ravi@medplus.com"
	res, err := f.reg.Register(context.Background(), dup)
	c.Assert(err, qt.IsNil)
	c.Assert(res.TenantCode, qt.Equals, int64(101))
}

func TestDuplicateFieldsAreNamed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*registrar.Registration)
		field  string
	}{
		{"mobile", func(r *registrar.Registration) { r.Email, r.LicenseNo = "new@x.com", "LIC9" }, "mobile"},
		{"license", func(r *registrar.Registration) { r.Mobile, r.Email = "9000000001", "new@x.com" }, "licenseNo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := qt.New(t)
			f := newFixture(t, 0)
			f.verify(c, "9876543210")
			_, err := f.reg.Register(context.Background(), apollo())
			c.Assert(err, qt.IsNil)

			reg := apollo()
			tt.mutate(&reg)
			f.verify(c, reg.Mobile)
			_, err = f.reg.Register(context.Background(), reg)
			c.Assert(err, qt.ErrorIs, apperror.DuplicateField(tt.field))
		})
	}
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		mutate func(*registrar.Registration)
		field  string
	}{
		{func(r *registrar.Registration) { r.BusinessName = " " }, "businessName"},
		{func(r *registrar.Registration) { r.OwnerName = "" }, "ownerName"},
		{func(r *registrar.Registration) { r.Mobile = "" }, "mobile"},
		{func(r *registrar.Registration) { r.Mobile = "12ab" }, "mobile"},
		{func(r *registrar.Registration) { r.Email = "" }, "email"},
		{func(r *registrar.Registration) { r.Email = "not-an-email" }, "email"},
		{func(r *registrar.Registration) { r.Email = "Asha <asha@apollo.com>" }, "email"},
		{func(r *registrar.Registration) { r.LicenseNo = "" }, "licenseNo"},
		{func(r *registrar.Registration) { r.Password = "" }, "password"},
		{func(r *registrar.Registration) { r.Password = "abc" }, "password"},
		{func(r *registrar.Registration) { r.Password = strings.Repeat("a", 73) }, "password"},
	}
	f := newFixture(t, 0)
	for i, tt := range tests {
		t.Run(fmt.Sprintf("%d_%s", i, tt.field), func(t *testing.T) {
			c := qt.New(t)
			reg := apollo()
			tt.mutate(&reg)
			_, err := f.reg.Register(context.Background(), reg)
			var appErr *apperror.Error
			c.Assert(errors.As(err, &appErr), qt.IsTrue)
			c.Assert(appErr.Code, qt.Equals, apperror.CodeValidation)
			c.Assert(appErr.Field, qt.Equals, tt.field)
		})
	}
}

func TestRegisterRejectsOverlongPassword(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t, 0)
	f.verify(c, "9876543210")
	ctx := context.Background()

	reg := apollo()
	reg.Password = strings.Repeat("a", 80)
	_, err := f.reg.Register(ctx, reg)
	got := apperror.As(err)
	c.Assert(got.Code, qt.Equals, apperror.CodeValidation)
	c.Assert(got.Field, qt.Equals, "password")
	c.Assert(got.Status(), qt.Equals, http.StatusBadRequest)

	var counters int64
	c.Assert(f.db.Model(&model.Counter{}).Count(&counters).Error, qt.IsNil)
	c.Assert(counters, qt.Equals, int64(0))
	tenants, users := f.counts(c)
	c.Assert(tenants, qt.Equals, int64(0))
	c.Assert(users, qt.Equals, int64(0))

	// bcrypt's limit itself is accepted, and the OTP was not consumed.
	reg.Password = strings.Repeat("a", 72)
	res, err := f.reg.Register(ctx, reg)
	c.Assert(err, qt.IsNil)
	c.Assert(res.TenantCode, qt.Equals, int64(100))

	_, err = f.reg.AddUser(ctx, 100, registrar.NewUser{Name: "Ravi", Password: strings.Repeat("b", 73)})
	c.Assert(apperror.As(err).Code, qt.Equals, apperror.CodeValidation)
	c.Assert(apperror.As(err).Field, qt.Equals, "password")
}

func TestRegisterRetriesTenantCodeCollision(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t, 3)

	// A tenant created out of band already holds the code the counter will hand out next.
	squatter := model.Tenant{TenantCode: 100, BusinessName: "Old", OwnerName: "Old", Mobile: "9000000000", Email: "old@x.com", LicenseNo: "OLD"}
	squatter.SetPassword("secret0")
	c.Assert(f.db.Create(&squatter).Error, qt.IsNil)

	f.verify(c, "9876543210")
	res, err := f.reg.Register(context.Background(), apollo())
	c.Assert(err, qt.IsNil)
	c.Assert(res.TenantCode, qt.Equals, int64(101))
	c.Assert(res.OwnerUserID, qt.Equals, int64(101001))
}

func TestRegisterGivesUpAfterMaxAttempts(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t, 2)

	for i, code := range []int64{100, 101} {
		squatter := model.Tenant{
			TenantCode:   code,
			BusinessName: "Old",
			OwnerName:    "Old",
			Mobile:       fmt.Sprintf("900000000%d", i),
			Email:        fmt.Sprintf("old%d@x.com", i),
			LicenseNo:    fmt.Sprintf("OLD%d", i),
		}
		squatter.SetPassword("secret0")
		c.Assert(f.db.Create(&squatter).Error, qt.IsNil)
	}

	f.verify(c, "9876543210")
	_, err := f.reg.Register(context.Background(), apollo())
	c.Assert(err, qt.ErrorIs, apperror.ErrAllocationConflict)
	c.Assert(apperror.As(err).Status(), qt.Equals, 409)

	var users int64
	c.Assert(f.db.Model(&model.User{}).Count(&users).Error, qt.IsNil)
	c.Assert(users, qt.Equals, int64(0))

	// The OTP was not consumed by the failed attempts.
	ok, err := f.otp.IsVerified(context.Background(), f.db, "9876543210", model.PurposeSignup)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)
}

func TestConcurrentRegistrations(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t, 0)
	const n = 20

	for i := 0; i < n; i++ {
		f.verify(c, fmt.Sprintf("98000000%02d", i))
	}

	var (
		mu    sync.Mutex
		codes = map[int64]bool{}
	)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < n; i++ {
		g.Go(func() error {
			res, err := f.reg.Register(ctx, registrar.Registration{
				BusinessName: fmt.Sprintf("Shop %d", i),
				OwnerName:    "Owner",
				Mobile:       fmt.Sprintf("98000000%02d", i),
				Email:        fmt.Sprintf("owner%d@shop.com", i),
				LicenseNo:    fmt.Sprintf("LIC-%d", i),
				Password:     "secret1",
			})
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if codes[res.TenantCode] {
				return fmt.Errorf("tenant code %d issued twice", res.TenantCode)
			}
			codes[res.TenantCode] = true
			if res.OwnerUserID != res.TenantCode*1000+1 {
				return fmt.Errorf("owner id %d does not belong to tenant %d", res.OwnerUserID, res.TenantCode)
			}
			return nil
		})
	}
	c.Assert(g.Wait(), qt.IsNil)
	c.Assert(codes, qt.HasLen, n)
}

func registered(t *testing.T) *fixture {
	c := qt.New(t)
	f := newFixture(t, 3)
	f.verify(c, "9876543210")
	_, err := f.reg.Register(context.Background(), apollo())
	c.Assert(err, qt.IsNil)
	return f
}

func TestAddUser(t *testing.T) {
	c := qt.New(t)
	f := registered(t)
	ctx := context.Background()

	staff, err := f.reg.AddUser(ctx, 100, registrar.NewUser{Name: "Ravi", Password: "secret2"})
	c.Assert(err, qt.IsNil)
	c.Assert(staff.UserID, qt.Equals, int64(100002))
	c.Assert(staff.Role, qt.Equals, model.RoleStaff)
	c.Assert(staff.TenantCode, qt.Equals, int64(100))

	admin, err := f.reg.AddUser(ctx, 100, registrar.NewUser{Name: "Meera", Password: "secret3", Role: model.RoleAdmin})
	c.Assert(err, qt.IsNil)
	c.Assert(admin.UserID, qt.Equals, int64(100003))

	var stored model.User
	c.Assert(f.db.First(&stored, "user_id = ?", 100002).Error, qt.IsNil)
	c.Assert(stored.MatchPassword("secret2"), qt.IsTrue)

	var tenant model.Tenant
	c.Assert(f.db.First(&tenant, "tenant_code = ?", 100).Error, qt.IsNil)
	c.Assert(tenant.LastUserSuffix, qt.Equals, int64(3))
}

func TestAddUserRejects(t *testing.T) {
	c := qt.New(t)
	f := registered(t)
	ctx := context.Background()

	_, err := f.reg.AddUser(ctx, 999, registrar.NewUser{Name: "Ghost", Password: "secret2"})
	c.Assert(err, qt.ErrorIs, apperror.ErrNotFound)

	_, err = f.reg.AddUser(ctx, 100, registrar.NewUser{Name: "", Password: "secret2"})
	c.Assert(apperror.As(err).Field, qt.Equals, "name")

	_, err = f.reg.AddUser(ctx, 100, registrar.NewUser{Name: "Ravi", Password: "abc"})
	c.Assert(apperror.As(err).Field, qt.Equals, "password")

	_, err = f.reg.AddUser(ctx, 100, registrar.NewUser{Name: "Ravi", Password: "secret2", Role: "owner"})
	c.Assert(apperror.As(err).Field, qt.Equals, "role")
}

func TestAddUserSkipsTakenUserID(t *testing.T) {
	c := qt.New(t)
	f := registered(t)

	taken := model.User{TenantCode: 100, UserID: 100002, Name: "Imported", Role: model.RoleStaff}
	taken.SetPassword("secret9")
	c.Assert(f.db.Create(&taken).Error, qt.IsNil)

	u, err := f.reg.AddUser(context.Background(), 100, registrar.NewUser{Name: "Ravi", Password: "secret2"})
	c.Assert(err, qt.IsNil)
	c.Assert(u.UserID, qt.Equals, int64(100003))
}

func TestAddUserCapacityExhausted(t *testing.T) {
	c := qt.New(t)
	f := registered(t)

	c.Assert(f.db.Model(&model.Counter{}).Where(`"key" = ?`, sequence.UserKey(100)).Update("seq", model.MaxUserSuffix).Error, qt.IsNil)

	_, err := f.reg.AddUser(context.Background(), 100, registrar.NewUser{Name: "Ravi", Password: "secret2"})
	c.Assert(err, qt.ErrorIs, apperror.ErrUserCapacityExhausted)

	var users int64
	c.Assert(f.db.Model(&model.User{}).Where("tenant_code = ?", 100).Count(&users).Error, qt.IsNil)
	c.Assert(users, qt.Equals, int64(1))
}
