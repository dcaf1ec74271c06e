// Package postgres persists orders and checkout holds in PostgreSQL through gorm.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/printhaus/api/internal/domain"
	"github.com/printhaus/api/internal/repositories"
	"github.com/printhaus/api/internal/repositories/holdcodec"
)

type txKey struct{}

// Open connects to PostgreSQL and migrates the schema.
func Open(ctx context.Context, dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&orderRow{}, &pendingCheckoutRow{}); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return db, nil
}

// Registry exposes the gorm repositories behind repositories.Registry.
type Registry struct {
	db     *gorm.DB
	orders *OrderRepository
	holds  repositories.PendingCheckoutRepository
	health repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wires the repositories onto db. A nil holds keeps holds in PostgreSQL.
func NewRegistry(db *gorm.DB, holds repositories.PendingCheckoutRepository, clock func() time.Time, checks ...repositories.DependencyCheck) (*Registry, error) {
	if db == nil {
		return nil, errors.New("postgres registry requires a database handle")
	}
	if clock == nil {
		clock = time.Now
	}
	if holds == nil {
		holds = NewPendingCheckoutRepository(db, clock)
	}
	probes := append([]repositories.DependencyCheck{{
		Name: "postgres",
		Check: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}}, checks...)
	health, err := repositories.NewDependencyHealthRepository(probes, repositories.WithDependencyClock(clock))
	if err != nil {
		return nil, err
	}
	return &Registry{db: db, orders: NewOrderRepository(db), holds: holds, health: health}, nil
}

func (r *Registry) Orders() repositories.OrderRepository                     { return r.orders }
func (r *Registry) PendingCheckouts() repositories.PendingCheckoutRepository { return r.holds }
func (r *Registry) Health() repositories.HealthRepository                    { return r.health }

// RunInTx runs fn in a database transaction carried on ctx.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func (r *Registry) Close(context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}

func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return repositories.NotFound(op)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return repositories.Conflict(op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return repositories.Unavailable(op, err)
	}
	return repositories.Failed(op, err)
}

// OrderRepository stores orders in the orders table.
type OrderRepository struct {
	db *gorm.DB
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs the gorm order repository.
func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	row := toOrderRow(order)
	return wrapError("postgres.orders.insert", conn(ctx, r.db).Create(&row).Error)
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	var row orderRow
	if err := conn(ctx, r.db).Where("id = ?", orderID).Take(&row).Error; err != nil {
		return domain.Order{}, wrapError("postgres.orders.find", err)
	}
	return row.toDomain(), nil
}

func (r *OrderRepository) FindBySuffix(ctx context.Context, suffix string) (domain.Order, error) {
	var row orderRow
	err := conn(ctx, r.db).
		Where("id_suffix = ?", strings.ToLower(strings.TrimSpace(suffix))).
		Order("created_at DESC").Order("id DESC").
		Take(&row).Error
	if err != nil {
		return domain.Order{}, wrapError("postgres.orders.find_suffix", err)
	}
	return row.toDomain(), nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	query := conn(ctx, r.db).Model(&orderRow{})
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	var rows []orderRow
	if err := query.Order("created_at DESC").Order("id DESC").Find(&rows).Error; err != nil {
		return nil, wrapError("postgres.orders.list", err)
	}
	orders := make([]domain.Order, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, row.toDomain())
	}
	return orders, nil
}

// Update locks the row and applies the patch.
func (r *OrderRepository) Update(ctx context.Context, orderID string, patch repositories.OrderPatch) (domain.Order, error) {
	var row orderRow
	err := conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", orderID).Take(&row).Error; err != nil {
			return err
		}
		updates := map[string]any{}
		if patch.Status != nil {
			row.Status = string(*patch.Status)
			updates["status"] = row.Status
		}
		if patch.TrackingID != nil {
			row.TrackingID = strings.TrimSpace(*patch.TrackingID)
			updates["tracking_id"] = row.TrackingID
		}
		if !patch.UpdatedAt.IsZero() {
			row.UpdatedAt = patch.UpdatedAt.UTC()
			updates["updated_at"] = row.UpdatedAt
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(&orderRow{}).Where("id = ?", orderID).UpdateColumns(updates).Error
	})
	if err != nil {
		return domain.Order{}, wrapError("postgres.orders.update", err)
	}
	return row.toDomain(), nil
}

func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	result := conn(ctx, r.db).Where("id = ?", orderID).Delete(&orderRow{})
	if result.Error != nil {
		return wrapError("postgres.orders.delete", result.Error)
	}
	if result.RowsAffected == 0 {
		return repositories.NotFound("postgres.orders.delete")
	}
	return nil
}

// PendingCheckoutRepository stores holds as encoded payload rows.
type PendingCheckoutRepository struct {
	db  *gorm.DB
	now func() time.Time
}

var _ repositories.PendingCheckoutRepository = (*PendingCheckoutRepository)(nil)

// NewPendingCheckoutRepository constructs the gorm holding area.
func NewPendingCheckoutRepository(db *gorm.DB, clock func() time.Time) *PendingCheckoutRepository {
	if clock == nil {
		clock = time.Now
	}
	return &PendingCheckoutRepository{db: db, now: clock}
}

func (r *PendingCheckoutRepository) Save(ctx context.Context, hold domain.PendingCheckout) error {
	if strings.TrimSpace(hold.Ref) == "" {
		return repositories.Failed("postgres.holds.save", errors.New("ref is required"))
	}
	payload, err := holdcodec.Marshal(hold)
	if err != nil {
		return repositories.Failed("postgres.holds.save", err)
	}
	row := pendingCheckoutRow{
		Ref:       hold.Ref,
		Payload:   payload,
		CreatedAt: hold.CreatedAt.UTC(),
		ExpiresAt: hold.ExpiresAt.UTC(),
	}
	if hold.SessionID != "" {
		session := hold.SessionID
		row.SessionID = &session
	}
	err = conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ref"}},
		DoUpdates: clause.AssignmentColumns([]string{"session_id", "payload", "expires_at"}),
	}).Create(&row).Error
	return wrapError("postgres.holds.save", err)
}

func (r *PendingCheckoutRepository) FindByRef(ctx context.Context, ref string) (domain.PendingCheckout, error) {
	return r.find(ctx, "postgres.holds.get", "ref = ?", ref)
}

func (r *PendingCheckoutRepository) FindBySessionID(ctx context.Context, sessionID string) (domain.PendingCheckout, error) {
	if strings.TrimSpace(sessionID) == "" {
		return domain.PendingCheckout{}, repositories.NotFound("postgres.holds.find_by_session")
	}
	return r.find(ctx, "postgres.holds.find_by_session", "session_id = ?", sessionID)
}

func (r *PendingCheckoutRepository) Delete(ctx context.Context, ref string) error {
	result := conn(ctx, r.db).Where("ref = ?", ref).Delete(&pendingCheckoutRow{})
	if result.Error != nil {
		return wrapError("postgres.holds.delete", result.Error)
	}
	if result.RowsAffected == 0 {
		return repositories.NotFound("postgres.holds.delete")
	}
	return nil
}

func (r *PendingCheckoutRepository) DeleteExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	db := conn(ctx, r.db)
	expired := db.Model(&pendingCheckoutRow{}).Select("ref").Where("expires_at <= ?", now.UTC()).Order("expires_at")
	if limit > 0 {
		expired = expired.Limit(limit)
	}
	result := db.Where("ref IN (?)", expired).Delete(&pendingCheckoutRow{})
	if result.Error != nil {
		return 0, wrapError("postgres.holds.sweep", result.Error)
	}
	return int(result.RowsAffected), nil
}

func (r *PendingCheckoutRepository) find(ctx context.Context, op, where string, arg string) (domain.PendingCheckout, error) {
	var row pendingCheckoutRow
	err := conn(ctx, r.db).Where(where, arg).Where("expires_at > ?", r.now().UTC()).Take(&row).Error
	if err != nil {
		return domain.PendingCheckout{}, wrapError(op, err)
	}
	hold, err := holdcodec.Unmarshal(row.Payload)
	if err != nil {
		return domain.PendingCheckout{}, repositories.Failed(op, fmt.Errorf("decode hold %s: %w", row.Ref, err))
	}
	return hold, nil
}
