package repository

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/suteetoe/pharmadesk/internal/apperror"
	"github.com/suteetoe/pharmadesk/internal/model"
	"github.com/suteetoe/pharmadesk/pkg/cache"
	"github.com/suteetoe/pharmadesk/pkg/logger"
	"github.com/suteetoe/pharmadesk/prometheus"
)

// TenantProfile is the public view of a tenant.
type TenantProfile struct {
	TenantCode   int64     `json:"tenantCode"`
	BusinessName string    `json:"businessName"`
	OwnerName    string    `json:"ownerName"`
	Mobile       string    `json:"mobile"`
	Email        string    `json:"email"`
	LicenseNo    string    `json:"licenseNo"`
	UserCount    int64     `json:"userCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

// TenantRepository reads tenant profiles through an optional cache.
type TenantRepository struct {
	base
	cache *cache.Cache
}

// NewTenantRepository returns a TenantRepository. c may be nil.
func NewTenantRepository(db *gorm.DB, timeout time.Duration, c *cache.Cache) *TenantRepository {
	return &TenantRepository{base: newBase(db, timeout), cache: c}
}

func profileKey(tenantCode int64) string {
	return "tenant:" + strconv.FormatInt(tenantCode, 10)
}

// Profile returns the profile of tenantCode.
func (r *TenantRepository) Profile(ctx context.Context, tenantCode int64) (*TenantProfile, error) {
	key := profileKey(tenantCode)
	if r.cache != nil {
		if data, ok := r.cache.Get(key); ok {
			var p TenantProfile
			if err := json.Unmarshal(data, &p); err == nil {
				return &p, nil
			}
			r.cache.Delete(key)
		}
	}

	db, cancel := r.session(ctx)
	defer cancel()
	defer prometheus.TrackDBOperation("tenant_profile")()

	var tenant model.Tenant
	if err := db.Scopes(TenantScope(tenantCode)).Take(&tenant).Error; err != nil {
		return nil, lookupErr("get tenant", err, apperror.ErrNotFound)
	}

	var users int64
	if err := db.Model(&model.User{}).Scopes(TenantScope(tenantCode)).Count(&users).Error; err != nil {
		return nil, apperror.Storage("count tenant users", err)
	}

	p := &TenantProfile{
		TenantCode:   tenant.TenantCode,
		BusinessName: tenant.BusinessName,
		OwnerName:    tenant.OwnerName,
		Mobile:       tenant.Mobile,
		Email:        tenant.Email,
		LicenseNo:    tenant.LicenseNo,
		UserCount:    users,
		CreatedAt:    tenant.CreatedAt,
	}
	if r.cache != nil {
		if data, err := json.Marshal(p); err == nil {
			r.cache.Set(key, data)
		} else {
			logger.FromContext(ctx).Warn("tenant profile not cached", zap.Error(err))
		}
	}
	return p, nil
}

// Invalidate drops the cached profile of tenantCode.
func (r *TenantRepository) Invalidate(tenantCode int64) {
	if r.cache != nil {
		r.cache.Delete(profileKey(tenantCode))
	}
}
