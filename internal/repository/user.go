package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/suteetoe/pharmadesk/internal/apperror"
	"github.com/suteetoe/pharmadesk/internal/model"
	"github.com/suteetoe/pharmadesk/prometheus"
)

// UserRepository reads and updates users.
type UserRepository struct {
	base
}

// NewUserRepository returns a UserRepository over db.
func NewUserRepository(db *gorm.DB, timeout time.Duration) *UserRepository {
	return &UserRepository{base: newBase(db, timeout)}
}

// FindForLogin looks a user up by user id alone. It is the only unscoped user
// lookup: at login the tenant is not yet known.
func (r *UserRepository) FindForLogin(ctx context.Context, userID int64) (*model.User, error) {
	db, cancel := r.session(ctx)
	defer cancel()
	defer prometheus.TrackDBOperation("user_find_login")()

	var user model.User
	if err := db.Where("user_id = ?", userID).Take(&user).Error; err != nil {
		return nil, lookupErr("find user", err, apperror.ErrUserNotFound)
	}
	return &user, nil
}

// Get returns the user with userID inside tenantCode.
func (r *UserRepository) Get(ctx context.Context, tenantCode, userID int64) (*model.User, error) {
	db, cancel := r.scoped(ctx, tenantCode)
	defer cancel()
	defer prometheus.TrackDBOperation("user_get")()

	var user model.User
	if err := db.Where("user_id = ?", userID).Take(&user).Error; err != nil {
		return nil, lookupErr("get user", err, apperror.ErrUserNotFound)
	}
	return &user, nil
}

// List returns the users of tenantCode ordered by user id, without password hashes.
func (r *UserRepository) List(ctx context.Context, tenantCode int64) ([]model.User, error) {
	db, cancel := r.scoped(ctx, tenantCode)
	defer cancel()
	defer prometheus.TrackDBOperation("user_list")()

	var users []model.User
	if err := db.Order("user_id").Find(&users).Error; err != nil {
		return nil, apperror.Storage("list users", err)
	}
	for i := range users {
		users[i] = users[i].Sanitized()
	}
	return users, nil
}

// ChangePassword replaces the password of userID in tenantCode after checking current.
func (r *UserRepository) ChangePassword(ctx context.Context, tenantCode, userID int64, current, next string) error {
	user, err := r.Get(ctx, tenantCode, userID)
	if err != nil {
		return err
	}
	if !user.MatchPassword(current) {
		return apperror.ErrInvalidPassword
	}

	db, cancel := r.scoped(ctx, tenantCode)
	defer cancel()
	defer prometheus.TrackDBOperation("user_change_password")()

	user.SetPassword(next)
	if err := db.Save(user).Error; err != nil {
		return apperror.Storage("save user", err)
	}
	return nil
}
