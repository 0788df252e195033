// Package sequence hands out strictly increasing integers per named counter.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/suteetoe/pharmadesk/internal/apperror"
	"github.com/suteetoe/pharmadesk/pkg/telemetry"
	"github.com/suteetoe/pharmadesk/prometheus"
)

// TenantCodeKey names the global tenant code counter.
const TenantCodeKey = "tenantCode"

const userKeyPrefix = "user-"

// UserKey names the per-tenant user suffix counter.
func UserKey(tenantCode int64) string {
	return userKeyPrefix + strconv.FormatInt(tenantCode, 10)
}

// upsertIncrement is the only statement that touches counter rows: it creates
// the row at its floor or bumps it, and returns the new value in one round trip.
const upsertIncrement = `INSERT INTO counters ("key", seq) VALUES (?, ?) ` +
	`ON CONFLICT ("key") DO UPDATE SET seq = counters.seq + 1 ` +
	`RETURNING seq`

// Floors holds the first value of each counter family.
type Floors struct {
	TenantCode int64
	UserSuffix int64
}

// Allocator allocates values from counters stored in the database.
type Allocator struct {
	db      *gorm.DB
	floors  Floors
	timeout time.Duration
}

// New returns an allocator. timeout bounds each allocation; zero means no bound
// beyond the caller's context.
func New(db *gorm.DB, floors Floors, timeout time.Duration) *Allocator {
	return &Allocator{db: db, floors: floors, timeout: timeout}
}

// WithTx returns an allocator whose increments join tx, so they roll back with it.
func (a *Allocator) WithTx(tx *gorm.DB) *Allocator {
	cp := *a
	cp.db = tx
	return &cp
}

// NextTenantCode allocates a new tenant code.
func (a *Allocator) NextTenantCode(ctx context.Context) (int64, error) {
	return a.Allocate(ctx, TenantCodeKey, a.floors.TenantCode)
}

// NextUserSuffix allocates the next user suffix inside tenantCode.
func (a *Allocator) NextUserSuffix(ctx context.Context, tenantCode int64) (int64, error) {
	return a.Allocate(ctx, UserKey(tenantCode), a.floors.UserSuffix)
}

// Allocate returns a value never before returned for key. The first call for a
// key returns floor. Failures are returned as-is without retrying.
func (a *Allocator) Allocate(ctx context.Context, key string, floor int64) (seq int64, err error) {
	if key == "" {
		return 0, errors.New("sequence: empty key")
	}
	family := familyOf(key)

	ctx, span := telemetry.StartSpan(ctx, "sequence.allocate", attribute.String("sequence.family", family))
	defer func() { telemetry.EndSpan(span, err) }()

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	defer prometheus.TrackDBOperation("sequence_allocate")()
	row := a.db.WithContext(ctx).Raw(upsertIncrement, key, floor).Row()
	if scanErr := row.Scan(&seq); scanErr != nil {
		prometheus.RecordAllocation(family, "error")
		return 0, apperror.Storage(fmt.Sprintf("allocate %s", key), scanErr)
	}

	prometheus.RecordAllocation(family, "ok")
	return seq, nil
}

func familyOf(key string) string {
	if strings.HasPrefix(key, userKeyPrefix) {
		return "user"
	}
	return key
}
