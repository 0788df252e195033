// Package registrar provisions tenants and the users that belong to them.
package registrar

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/suteetoe/pharmadesk/internal/apperror"
	"github.com/suteetoe/pharmadesk/internal/credential"
	"github.com/suteetoe/pharmadesk/internal/model"
	"github.com/suteetoe/pharmadesk/internal/otp"
	"github.com/suteetoe/pharmadesk/internal/sequence"
	"github.com/suteetoe/pharmadesk/pkg/database"
	"github.com/suteetoe/pharmadesk/pkg/logger"
	"github.com/suteetoe/pharmadesk/pkg/telemetry"
	"github.com/suteetoe/pharmadesk/prometheus"
)

// DefaultMaxAttempts bounds how often a registration is retried after an id collision.
const DefaultMaxAttempts = 3

// errCollision marks a unique violation on a generated identifier rather than on a business field.
var errCollision = errors.New("identifier collision")

// OTPGate is the part of the OTP service registration depends on.
type OTPGate interface {
	IsVerified(ctx context.Context, db *gorm.DB, mobile, purpose string) (bool, error)
	Consume(ctx context.Context, db *gorm.DB, mobile, purpose string) error
}

// Registration is a signup request for a new pharmacy.
type Registration struct {
	BusinessName string `json:"businessName"`
	OwnerName    string `json:"ownerName"`
	Mobile       string `json:"mobile"`
	Email        string `json:"email"`
	LicenseNo    string `json:"licenseNo"`
	Password     string `json:"password"`
}

// Result is returned once to the business owner. Password echoes the caller's own input.
type Result struct {
	TenantCode   int64  `json:"tenantCode"`
	OwnerUserID  int64  `json:"ownerUserId"`
	Password     string `json:"password"`
	OwnerName    string `json:"ownerName"`
	BusinessName string `json:"businessName"`
}

// NewUser describes a user added to an existing tenant.
type NewUser struct {
	Name     string
	Password string
	Role     model.Role
}

// Registrar creates tenants and users.
type Registrar struct {
	db          *gorm.DB
	allocator   *sequence.Allocator
	otp         OTPGate
	maxAttempts int
	timeout     time.Duration
}

// New returns a Registrar. maxAttempts below one is treated as DefaultMaxAttempts.
func New(db *gorm.DB, allocator *sequence.Allocator, gate OTPGate, maxAttempts int, timeout time.Duration) *Registrar {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Registrar{db: db, allocator: allocator, otp: gate, maxAttempts: maxAttempts, timeout: timeout}
}

func (r *Registrar) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (reg *Registration) normalize() {
	reg.BusinessName = strings.TrimSpace(reg.BusinessName)
	reg.OwnerName = strings.TrimSpace(reg.OwnerName)
	reg.Mobile = strings.TrimSpace(reg.Mobile)
	reg.Email = strings.ToLower(strings.TrimSpace(reg.Email))
	reg.LicenseNo = strings.TrimSpace(reg.LicenseNo)
}

func (reg *Registration) validate() error {
	switch {
	case reg.BusinessName == "":
		return apperror.Validation("businessName", "business name is required")
	case reg.OwnerName == "":
		return apperror.Validation("ownerName", "owner name is required")
	case reg.Mobile == "":
		return apperror.Validation("mobile", "mobile is required")
	case !otp.ValidMobile(reg.Mobile):
		return apperror.Validation("mobile", "mobile number is invalid")
	case reg.Email == "":
		return apperror.Validation("email", "email is required")
	case reg.LicenseNo == "":
		return apperror.Validation("licenseNo", "license number is required")
	}
	if addr, err := mail.ParseAddress(reg.Email); err != nil || addr.Address != reg.Email {
		return apperror.Validation("email", "email is invalid")
	}
	return validatePassword(reg.Password)
}

func validatePassword(password string) error {
	if password == "" {
		return apperror.Validation("password", "password is required")
	}
	if len(password) < credential.MinPasswordLength {
		return apperror.Validation("password", fmt.Sprintf("password must be at least %d characters", credential.MinPasswordLength))
	}
	if len(password) > credential.MaxPasswordLength {
		return apperror.Validation("password", fmt.Sprintf("password must be at most %d bytes", credential.MaxPasswordLength))
	}
	return nil
}

// Register creates a tenant and its admin owner. Nothing is written unless the
// mobile was verified and mobile, email and license number are all unused; the
// tenant and its owner are committed together or not at all.
func (r *Registrar) Register(ctx context.Context, reg Registration) (result *Result, err error) {
	reg.normalize()
	if err := reg.validate(); err != nil {
		prometheus.RecordRegistration("invalid")
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "registrar.register")
	defer func() { telemetry.EndSpan(span, err) }()
	log := logger.FromContext(ctx)

	for attempt := 1; ; attempt++ {
		result, err = r.registerOnce(ctx, reg)
		if err == nil {
			span.SetAttributes(attribute.Int64("tenant.code", result.TenantCode))
			prometheus.RecordRegistration("success")
			log.Info("tenant registered",
				zap.Int64("tenant_code", result.TenantCode),
				zap.Int64("owner_user_id", result.OwnerUserID),
				zap.Int("attempt", attempt))
			return result, nil
		}
		if !errors.Is(err, errCollision) {
			prometheus.RecordRegistration(outcomeOf(err))
			return nil, err
		}
		log.Warn("registration hit an identifier collision", zap.Int("attempt", attempt), zap.Error(err))
		if attempt >= r.maxAttempts {
			prometheus.RecordRegistration("conflict")
			return nil, apperror.With(apperror.ErrAllocationConflict, err)
		}
	}
}

func (r *Registrar) registerOnce(ctx context.Context, reg Registration) (*Result, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.precheck(ctx, r.db, reg); err != nil {
		return nil, err
	}

	// The tenant code commits on its own so a retry after a collision draws a fresh value.
	tenantCode, err := r.allocator.NextTenantCode(ctx)
	if err != nil {
		return nil, err
	}

	var ownerUserID int64
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Re-check inside the transaction to narrow the window for a concurrent signup.
		if err := r.precheck(ctx, tx, reg); err != nil {
			return err
		}

		tenant := model.Tenant{
			TenantCode:   tenantCode,
			BusinessName: reg.BusinessName,
			OwnerName:    reg.OwnerName,
			Mobile:       reg.Mobile,
			Email:        reg.Email,
			LicenseNo:    reg.LicenseNo,
		}
		tenant.SetPassword(reg.Password)
		if err := tx.Create(&tenant).Error; err != nil {
			return fmt.Errorf("create tenant: %w", err)
		}

		// The owner counter belongs to this tenant alone, so it rolls back with it.
		suffix, err := r.allocator.WithTx(tx).NextUserSuffix(ctx, tenantCode)
		if err != nil {
			return err
		}
		owner, err := createUser(tx, tenantCode, suffix, NewUser{
			Name:     reg.OwnerName,
			Password: reg.Password,
			Role:     model.RoleAdmin,
		})
		if err != nil {
			return err
		}
		ownerUserID = owner.UserID

		return r.otp.Consume(ctx, tx, reg.Mobile, model.PurposeSignup)
	})
	if err != nil {
		return nil, r.classify(ctx, reg, err)
	}

	return &Result{
		TenantCode:   tenantCode,
		OwnerUserID:  ownerUserID,
		Password:     reg.Password,
		OwnerName:    reg.OwnerName,
		BusinessName: reg.BusinessName,
	}, nil
}

// precheck enforces the registration preconditions against db, which may be a transaction.
func (r *Registrar) precheck(ctx context.Context, db *gorm.DB, reg Registration) error {
	verified, err := r.otp.IsVerified(ctx, db, reg.Mobile, model.PurposeSignup)
	if err != nil {
		return err
	}
	if !verified {
		return apperror.ErrMobileNotVerified
	}

	field, err := duplicateField(ctx, db, reg)
	if err != nil {
		return err
	}
	if field != "" {
		return apperror.DuplicateField(field)
	}
	return nil
}

var uniqueFields = []struct {
	field  string
	column string
	value  func(Registration) string
}{
	{"mobile", "mobile", func(r Registration) string { return r.Mobile }},
	{"email", "email", func(r Registration) string { return r.Email }},
	{"licenseNo", "license_no", func(r Registration) string { return r.LicenseNo }},
}

// duplicateField returns the first business field of reg already held by a tenant, or "".
func duplicateField(ctx context.Context, db *gorm.DB, reg Registration) (string, error) {
	for _, f := range uniqueFields {
		var count int64
		err := db.WithContext(ctx).Model(&model.Tenant{}).
			Where(f.column+" = ?", f.value(reg)).
			Count(&count).Error
		if err != nil {
			return "", apperror.Storage("check tenant "+f.field, err)
		}
		if count > 0 {
			return f.field, nil
		}
	}
	return "", nil
}

// classify turns a failed registration transaction into a client-facing error.
// A unique violation that a fresh lookup can attribute to a business field is a
// duplicate; anything else unique is a collision on a generated id.
func (r *Registrar) classify(ctx context.Context, reg Registration, err error) error {
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return err
	}
	if !database.IsDuplicateKey(err) {
		return apperror.Storage("register tenant", err)
	}
	field, lookupErr := duplicateField(ctx, r.db, reg)
	if lookupErr != nil {
		return lookupErr
	}
	if field != "" {
		return apperror.DuplicateField(field)
	}
	return fmt.Errorf("%w: %v", errCollision, err)
}

// AddUser creates a user in tenantCode with the next free user id.
func (r *Registrar) AddUser(ctx context.Context, tenantCode int64, nu NewUser) (user *model.User, err error) {
	nu.Name = strings.TrimSpace(nu.Name)
	if nu.Name == "" {
		return nil, apperror.Validation("name", "name is required")
	}
	if err := validatePassword(nu.Password); err != nil {
		return nil, err
	}
	if nu.Role == "" {
		nu.Role = model.RoleStaff
	}
	if _, err := model.ParseRole(string(nu.Role)); err != nil {
		return nil, apperror.Validation("role", "role must be admin or staff")
	}

	ctx, span := telemetry.StartSpan(ctx, "registrar.add_user", attribute.Int64("tenant.code", tenantCode))
	defer func() { telemetry.EndSpan(span, err) }()

	for attempt := 1; ; attempt++ {
		user, err = r.addUserOnce(ctx, tenantCode, nu)
		if err == nil {
			prometheus.RecordTenantOperation("user", "create")
			logger.FromContext(ctx).Info("user added",
				zap.Int64("tenant_code", tenantCode),
				zap.Int64("user_id", user.UserID),
				zap.String("role", string(user.Role)))
			return user, nil
		}
		if !errors.Is(err, errCollision) {
			return nil, err
		}
		if attempt >= r.maxAttempts {
			return nil, apperror.With(apperror.ErrAllocationConflict, err)
		}
	}
}

func (r *Registrar) addUserOnce(ctx context.Context, tenantCode int64, nu NewUser) (*model.User, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var count int64
	if err := r.db.WithContext(ctx).Model(&model.Tenant{}).Where("tenant_code = ?", tenantCode).Count(&count).Error; err != nil {
		return nil, apperror.Storage("find tenant", err)
	}
	if count == 0 {
		return nil, apperror.ErrNotFound
	}

	// Committed outside the transaction so a retry after a collision moves past the taken id.
	suffix, err := r.allocator.NextUserSuffix(ctx, tenantCode)
	if err != nil {
		return nil, err
	}

	var user *model.User
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		user, err = createUser(tx, tenantCode, suffix, nu)
		return err
	})
	if err == nil {
		return user, nil
	}
	var appErr *apperror.Error
	switch {
	case errors.As(err, &appErr):
		return nil, err
	case database.IsDuplicateKey(err):
		return nil, fmt.Errorf("%w: %v", errCollision, err)
	default:
		return nil, apperror.Storage("add user", err)
	}
}

// createUser derives the user id for suffix and inserts the user inside tx.
func createUser(tx *gorm.DB, tenantCode, suffix int64, nu NewUser) (*model.User, error) {
	userID, err := model.DeriveUserID(tenantCode, suffix)
	if err != nil {
		return nil, apperror.With(apperror.ErrUserCapacityExhausted, err)
	}

	user := &model.User{
		TenantCode: tenantCode,
		UserID:     userID,
		Name:       nu.Name,
		Role:       nu.Role,
	}
	user.SetPassword(nu.Password)
	if err := tx.Create(user).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	err = tx.Model(&model.Tenant{}).
		Where("tenant_code = ? AND last_user_suffix < ?", tenantCode, suffix).
		Update("last_user_suffix", suffix).Error
	if err != nil {
		return nil, fmt.Errorf("record last user suffix: %w", err)
	}
	return user, nil
}

func outcomeOf(err error) string {
	switch apperror.As(err).Kind {
	case apperror.KindValidation:
		return "rejected"
	case apperror.KindConflict:
		return "duplicate"
	case apperror.KindStorage:
		return "storage_error"
	default:
		return "error"
	}
}
