package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/tournevent/courier/internal/ndr"
	"github.com/tournevent/courier/internal/outbox"
	"github.com/tournevent/courier/internal/shipment"
	"github.com/tournevent/courier/pkg/courier"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ============================================================================
// Rows
// ============================================================================

type shipmentRow struct {
	ID                 string                  `gorm:"type:uuid;primaryKey"`
	TenantID           string                  `gorm:"type:varchar(64);not null;uniqueIndex:idx_shipments_tenant_order"`
	OrderReference     string                  `gorm:"type:varchar(128);not null;uniqueIndex:idx_shipments_tenant_order"`
	AccountID          string                  `gorm:"type:varchar(128)"`
	Provider           string                  `gorm:"type:varchar(32);not null;index:idx_shipments_awb"`
	AWB                string                  `gorm:"type:varchar(64);index:idx_shipments_awb"`
	ProviderShipmentID string                  `gorm:"type:varchar(128)"`
	TrackingURL        string                  `gorm:"type:varchar(1024)"`
	COD                bool                    `gorm:"not null"`
	CODAmount          float64                 `gorm:"not null"`
	Status             string                  `gorm:"type:varchar(32);not null"`
	History            []shipment.HistoryEntry `gorm:"serializer:json;type:jsonb"`
	Restocked          bool                    `gorm:"not null"`
	Version            int64                   `gorm:"not null"`
	CreatedAt          time.Time               `gorm:"autoCreateTime:false"`
	UpdatedAt          time.Time               `gorm:"autoUpdateTime:false"`
}

func (shipmentRow) TableName() string { return "shipments" }

type caseRow struct {
	ID              string         `gorm:"type:uuid;primaryKey"`
	ShipmentID      string         `gorm:"type:uuid;not null;index"`
	TenantID        string         `gorm:"type:varchar(64);not null;index"`
	AWB             string         `gorm:"type:varchar(64)"`
	Reason          string         `gorm:"type:varchar(48);not null"`
	Status          string         `gorm:"type:varchar(32);not null;index"`
	AssignedAgent   string         `gorm:"type:varchar(128)"`
	Actions         []ndr.Action   `gorm:"serializer:json;type:jsonb"`
	Log             []ndr.LogEntry `gorm:"serializer:json;type:jsonb"`
	Remarks         string         `gorm:"type:text"`
	NextReattemptAt *time.Time
	FailedAttempts  int `gorm:"not null"`
	MaxAttempts     int `gorm:"not null"`
	OpenedAt        time.Time
	ResolvedAt      *time.Time
	UpdatedAt       time.Time `gorm:"autoUpdateTime:false"`
	Version         int64     `gorm:"not null"`
}

func (caseRow) TableName() string { return "ndr_cases" }

type eventRow struct {
	ID            string    `gorm:"type:uuid;primaryKey"`
	Type          string    `gorm:"type:varchar(64);not null"`
	TenantID      string    `gorm:"type:varchar(64)"`
	AggregateID   string    `gorm:"type:varchar(64);not null"`
	Payload       []byte    `gorm:"type:jsonb"`
	Attempts      int       `gorm:"not null"`
	NextAttemptAt time.Time `gorm:"not null;index"`
	CreatedAt     time.Time `gorm:"autoCreateTime:false"`
	PublishedAt   *time.Time
	DeadLettered  bool   `gorm:"not null"`
	LastError     string `gorm:"type:text"`
}

func (eventRow) TableName() string { return "outbox_events" }

// ============================================================================
// Store
// ============================================================================

// Postgres is a Store backed by PostgreSQL through GORM. MutateShipment locks
// the shipment row with SELECT ... FOR UPDATE and bumps its version.
type Postgres struct {
	db *gorm.DB
}

// OpenPostgres connects to dsn.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewPostgres(db), nil
}

// NewPostgres wraps an existing GORM handle.
func NewPostgres(db *gorm.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates or updates the tables.
func (p *Postgres) Migrate(ctx context.Context) error {
	return p.db.WithContext(ctx).AutoMigrate(&shipmentRow{}, &caseRow{}, &eventRow{})
}

func (p *Postgres) CreateShipment(ctx context.Context, s *shipment.Shipment, events ...outbox.Event) (*shipment.Shipment, bool, error) {
	var (
		out     *shipment.Shipment
		created bool
	)
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing shipmentRow
		err := tx.Where("tenant_id = ? AND order_reference = ?", s.TenantID, s.OrderReference).First(&existing).Error
		if err == nil {
			out = existing.toShipment()
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		row := shipmentRowFrom(s)
		row.Version = 1
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if err := insertEvents(tx, events); err != nil {
			return err
		}
		out = row.toShipment()
		created = true
		return nil
	})
	if isUniqueViolation(err) {
		// A concurrent create for the same order won the insert.
		existing, ferr := p.FindShipmentByOrder(ctx, s.TenantID, s.OrderReference)
		if ferr == nil {
			return existing, false, nil
		}
	}
	if err != nil {
		return nil, false, fmt.Errorf("create shipment %s: %w", s.OrderReference, err)
	}
	return out, created, nil
}

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (p *Postgres) GetShipment(ctx context.Context, id string) (*shipment.Shipment, error) {
	return p.findShipment(ctx, "id = ?", id)
}

func (p *Postgres) FindShipmentByOrder(ctx context.Context, tenantID, orderReference string) (*shipment.Shipment, error) {
	return p.findShipment(ctx, "tenant_id = ? AND order_reference = ?", tenantID, orderReference)
}

func (p *Postgres) FindShipmentByAWB(ctx context.Context, provider, awb string) (*shipment.Shipment, error) {
	return p.findShipment(ctx, "provider = ? AND awb = ?", provider, awb)
}

func (p *Postgres) findShipment(ctx context.Context, query string, args ...any) (*shipment.Shipment, error) {
	var row shipmentRow
	if err := p.db.WithContext(ctx).Where(query, args...).First(&row).Error; err != nil {
		return nil, notFound(err, "shipment")
	}
	return row.toShipment(), nil
}

func (p *Postgres) MutateShipment(ctx context.Context, id string, fn func(u *Unit) error) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row shipmentRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&row).Error
		if err != nil {
			return notFound(err, "shipment "+id)
		}
		var caseRows []caseRow
		if err := tx.Where("shipment_id = ?", id).Order("opened_at").Find(&caseRows).Error; err != nil {
			return err
		}
		cases := make([]*ndr.Case, 0, len(caseRows))
		for i := range caseRows {
			cases = append(cases, caseRows[i].toCase())
		}

		u := newUnit(row.toShipment(), cases)
		if err := fn(u); err != nil {
			return err
		}

		next := shipmentRowFrom(u.Shipment)
		next.Version = row.Version + 1
		res := tx.Model(&shipmentRow{}).
			Where("id = ? AND version = ?", id, row.Version).
			Select("*").
			Updates(&next)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("shipment %s: %w", id, ErrConflict)
		}

		for _, c := range u.dirtyCases() {
			cr := caseRowFrom(c)
			cr.Version = c.Version + 1
			res := tx.Model(&caseRow{}).
				Where("id = ? AND version = ?", c.ID, c.Version).
				Select("*").
				Updates(&cr)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("ndr case %s: %w", c.ID, ErrConflict)
			}
		}
		for _, c := range u.added {
			cr := caseRowFrom(c)
			cr.Version = 1
			if err := tx.Create(&cr).Error; err != nil {
				return err
			}
		}
		return insertEvents(tx, u.events)
	})
}

func (p *Postgres) GetCase(ctx context.Context, id string) (*ndr.Case, error) {
	var row caseRow
	if err := p.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, notFound(err, "ndr case "+id)
	}
	return row.toCase(), nil
}

func (p *Postgres) ListCases(ctx context.Context, f CaseFilter) ([]*ndr.Case, error) {
	q := p.db.WithContext(ctx).Model(&caseRow{})
	if f.TenantID != "" {
		q = q.Where("tenant_id = ?", f.TenantID)
	}
	if f.ShipmentID != "" {
		q = q.Where("shipment_id = ?", f.ShipmentID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if f.OpenOnly {
		q = q.Where("status NOT IN ?", resolvedStatuses())
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var rows []caseRow
	if err := q.Order("opened_at, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*ndr.Case, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toCase())
	}
	return out, nil
}

func (p *Postgres) MutateCase(ctx context.Context, id string, fn func(u *Unit, c *ndr.Case) error) error {
	return mutateCase(ctx, p, id, fn)
}

func (p *Postgres) PendingEvents(ctx context.Context, now time.Time, limit int) ([]outbox.Event, error) {
	var rows []eventRow
	q := p.db.WithContext(ctx).
		Where("published_at IS NULL AND dead_lettered = ? AND next_attempt_at <= ?", false, now).
		Order("created_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]outbox.Event, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toEvent())
	}
	return out, nil
}

func (p *Postgres) MarkPublished(ctx context.Context, id string, at time.Time) error {
	return p.updateEvent(ctx, id, map[string]any{"published_at": at})
}

func (p *Postgres) MarkFailed(ctx context.Context, id string, attempts int, next time.Time, lastErr string, dead bool) error {
	return p.updateEvent(ctx, id, map[string]any{
		"attempts":        attempts,
		"next_attempt_at": next,
		"last_error":      lastErr,
		"dead_lettered":   dead,
	})
}

func (p *Postgres) updateEvent(ctx context.Context, id string, fields map[string]any) error {
	res := p.db.WithContext(ctx).Model(&eventRow{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	return nil
}

// ============================================================================
// Helpers
// ============================================================================

func insertEvents(tx *gorm.DB, events []outbox.Event) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]eventRow, 0, len(events))
	for _, e := range events {
		rows = append(rows, eventRowFrom(e))
	}
	return tx.Create(&rows).Error
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

func resolvedStatuses() []string {
	return []string{
		string(ndr.StatusClosedDelivered),
		string(ndr.StatusClosedRTO),
		string(ndr.StatusClosedAddressUpdated),
		string(ndr.StatusDelivered),
	}
}

func shipmentRowFrom(s *shipment.Shipment) shipmentRow {
	return shipmentRow{
		ID:                 s.ID,
		TenantID:           s.TenantID,
		OrderReference:     s.OrderReference,
		AccountID:          s.AccountID,
		Provider:           s.Provider,
		AWB:                s.AWB,
		ProviderShipmentID: s.ProviderShipmentID,
		TrackingURL:        s.TrackingURL,
		COD:                s.COD,
		CODAmount:          s.CODAmount,
		Status:             string(s.Status),
		History:            s.History,
		Restocked:          s.Restocked,
		Version:            s.Version,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}
}

func (r *shipmentRow) toShipment() *shipment.Shipment {
	return &shipment.Shipment{
		ID:                 r.ID,
		TenantID:           r.TenantID,
		OrderReference:     r.OrderReference,
		AccountID:          r.AccountID,
		Provider:           r.Provider,
		AWB:                r.AWB,
		ProviderShipmentID: r.ProviderShipmentID,
		TrackingURL:        r.TrackingURL,
		COD:                r.COD,
		CODAmount:          r.CODAmount,
		Status:             courier.Status(r.Status),
		History:            r.History,
		Restocked:          r.Restocked,
		Version:            r.Version,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func caseRowFrom(c *ndr.Case) caseRow {
	return caseRow{
		ID:              c.ID,
		ShipmentID:      c.ShipmentID,
		TenantID:        c.TenantID,
		AWB:             c.AWB,
		Reason:          string(c.Reason),
		Status:          string(c.Status),
		AssignedAgent:   c.AssignedAgent,
		Actions:         c.Actions,
		Log:             c.Log,
		Remarks:         c.Remarks,
		NextReattemptAt: c.NextReattemptAt,
		FailedAttempts:  c.FailedAttempts,
		MaxAttempts:     c.MaxAttempts,
		OpenedAt:        c.OpenedAt,
		ResolvedAt:      c.ResolvedAt,
		UpdatedAt:       c.UpdatedAt,
		Version:         c.Version,
	}
}

func (r *caseRow) toCase() *ndr.Case {
	return &ndr.Case{
		ID:              r.ID,
		ShipmentID:      r.ShipmentID,
		TenantID:        r.TenantID,
		AWB:             r.AWB,
		Reason:          courier.NDRReason(r.Reason),
		Status:          ndr.Status(r.Status),
		AssignedAgent:   r.AssignedAgent,
		Actions:         r.Actions,
		Log:             r.Log,
		Remarks:         r.Remarks,
		NextReattemptAt: r.NextReattemptAt,
		FailedAttempts:  r.FailedAttempts,
		MaxAttempts:     r.MaxAttempts,
		OpenedAt:        r.OpenedAt,
		ResolvedAt:      r.ResolvedAt,
		UpdatedAt:       r.UpdatedAt,
		Version:         r.Version,
	}
}

func eventRowFrom(e outbox.Event) eventRow {
	return eventRow{
		ID:            e.ID,
		Type:          e.Type,
		TenantID:      e.TenantID,
		AggregateID:   e.AggregateID,
		Payload:       e.Payload,
		Attempts:      e.Attempts,
		NextAttemptAt: e.NextAttemptAt,
		CreatedAt:     e.CreatedAt,
		PublishedAt:   e.PublishedAt,
		DeadLettered:  e.DeadLettered,
		LastError:     e.LastError,
	}
}

func (r eventRow) toEvent() outbox.Event {
	return outbox.Event{
		ID:            r.ID,
		Type:          r.Type,
		TenantID:      r.TenantID,
		AggregateID:   r.AggregateID,
		Payload:       r.Payload,
		Attempts:      r.Attempts,
		NextAttemptAt: r.NextAttemptAt,
		CreatedAt:     r.CreatedAt,
		PublishedAt:   r.PublishedAt,
		DeadLettered:  r.DeadLettered,
		LastError:     r.LastError,
	}
}

var _ Store = (*Postgres)(nil)
