// Package repository holds tenant-scoped data access. Every query against
// tenant-owned rows takes the tenant code as a required argument.
package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/suteetoe/pharmadesk/internal/apperror"
)

// DefaultQueryTimeout bounds a repository call when no timeout is configured.
const DefaultQueryTimeout = 15 * time.Second

// TenantScope restricts a query to rows owned by tenantCode.
func TenantScope(tenantCode int64) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("tenant_code = ?", tenantCode)
	}
}

type base struct {
	db      *gorm.DB
	timeout time.Duration
}

func newBase(db *gorm.DB, timeout time.Duration) base {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return base{db: db, timeout: timeout}
}

// session returns a db handle bound to ctx with the query timeout applied.
func (b base) session(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	return b.db.WithContext(ctx), cancel
}

// scoped is session plus TenantScope.
func (b base) scoped(ctx context.Context, tenantCode int64) (*gorm.DB, context.CancelFunc) {
	db, cancel := b.session(ctx)
	return db.Scopes(TenantScope(tenantCode)), cancel
}

// lookupErr maps a single-row lookup failure, reporting a missing row as notFound.
func lookupErr(op string, err error, notFound *apperror.Error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound
	}
	return apperror.Storage(op, err)
}
