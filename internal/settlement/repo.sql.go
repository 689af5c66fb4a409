package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/utilibill/utilibill/internal/platform/db"
)

const itemColumns = `id, org_id, kind, connection_id, pay_type, gross_amount, status, batch_id, settled_batch_id,
approved_amount, is_active, is_valid, is_deleted, payment_status, newer_bill_id,
due_date, discount_date, discount_rebate, due_date_rebate, penalty_amount, recharge_date,
version, created_at, updated_at`

const batchColumns = `id, org_id, kind, status, validate_at, created_at, updated_at, updated_by, version`

// PGRepository persists settlement state in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
	loc  *time.Location
}

// NewPGRepository constructs the repository. DATE columns are read as
// midnight in loc.
func NewPGRepository(pool *pgxpool.Pool, loc *time.Location) *PGRepository {
	if loc == nil {
		loc = time.UTC
	}
	return &PGRepository{pool: pool, loc: loc}
}

var _ Repository = (*PGRepository)(nil)
var _ TxRepository = (*pgTxRepository)(nil)

type pgTxRepository struct {
	tx  pgx.Tx
	loc *time.Location
}

type rowScanner interface {
	Scan(dest ...any) error
}

// WithTx runs fn in a serializable transaction. Aborts caused by concurrent
// writers surface as ErrConcurrentModification and rows the schema refuses
// as ErrValidation.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("settlement repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, db.Serializable, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx, loc: r.loc})
	})
	switch {
	case errors.Is(err, db.ErrSerialization):
		return fmt.Errorf("%w: %v", ErrConcurrentModification, err)
	case errors.Is(err, db.ErrConstraint):
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return err
}

func (r *PGRepository) GetBatch(ctx context.Context, id uuid.UUID) (Batch, error) {
	return scanBatch(r.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM settlement_batches WHERE id=$1`, id), r.loc)
}

func (r *PGRepository) ListBatchMembers(ctx context.Context, batchID uuid.UUID) ([]BillableItem, error) {
	return queryItems(ctx, r.pool, r.loc, `SELECT `+itemColumns+` FROM billable_items WHERE batch_id=$1 ORDER BY id`, batchID)
}

func (r *PGRepository) GetItem(ctx context.Context, id int64) (BillableItem, error) {
	return scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM billable_items WHERE id=$1`, id), r.loc)
}

func (r *PGRepository) ListItems(ctx context.Context, filter ItemFilter) ([]BillableItem, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.OrgID != 0 {
		add("org_id=$%d", filter.OrgID)
	}
	if filter.Kind != "" {
		add("kind=$%d", string(filter.Kind))
	}
	if filter.PayType != "" {
		add("pay_type=$%d", string(filter.PayType))
	}
	if filter.BatchID != nil {
		add("batch_id=$%d", *filter.BatchID)
	} else if filter.Unbatched {
		where = append(where, "batch_id IS NULL")
	}
	if !filter.IncludeInactive {
		where = append(where, "(is_active OR kind='recharge')")
	}
	if !filter.IncludeDeleted {
		where = append(where, "NOT is_deleted")
	}
	if !filter.DueFrom.IsZero() {
		add("COALESCE(due_date, recharge_date) >= $%d", dateArg(filter.DueFrom))
	}
	if !filter.DueTo.IsZero() {
		add("COALESCE(due_date, recharge_date) < $%d", dateArg(filter.DueTo))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query := `SELECT ` + itemColumns + ` FROM billable_items`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY COALESCE(due_date, recharge_date) NULLS LAST, id LIMIT $%d`, len(args))
	return queryItems(ctx, r.pool, r.loc, query, args...)
}

func (r *PGRepository) ListExpiredBatches(ctx context.Context, before time.Time) ([]Batch, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+batchColumns+` FROM settlement_batches
WHERE status='unpaid' AND validate_at < $1
ORDER BY validate_at, id`, dateArg(before))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	batches := []Batch{}
	for rows.Next() {
		b, err := scanBatch(rows, r.loc)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (r *pgTxRepository) GetBatchForUpdate(ctx context.Context, id uuid.UUID) (Batch, error) {
	return scanBatch(r.tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM settlement_batches WHERE id=$1 FOR UPDATE`, id), r.loc)
}

func (r *pgTxRepository) InsertBatch(ctx context.Context, batch Batch) (Batch, error) {
	return scanBatch(r.tx.QueryRow(ctx, `INSERT INTO settlement_batches (id, org_id, kind, status, validate_at, created_at, updated_at, updated_by, version)
VALUES ($1,$2,$3,$4,$5,NOW(),NOW(),$6,1)
RETURNING `+batchColumns, batch.ID, batch.OrgID, string(batch.Kind), string(batch.Status), dateArg(batch.ValidateAt), nullInt(batch.UpdatedBy)), r.loc)
}

func (r *pgTxRepository) UpdateBatch(ctx context.Context, batch Batch) (Batch, error) {
	updated, err := scanBatch(r.tx.QueryRow(ctx, `UPDATE settlement_batches
SET status=$3, validate_at=$4, updated_by=$5, updated_at=NOW(), version=version+1
WHERE id=$1 AND version=$2
RETURNING `+batchColumns, batch.ID, batch.Version, string(batch.Status), dateArg(batch.ValidateAt), nullInt(batch.UpdatedBy)), r.loc)
	if errors.Is(err, ErrBatchNotFound) {
		return Batch{}, fmt.Errorf("%w: batch %s", ErrConcurrentModification, batch.ID)
	}
	return updated, err
}

func (r *pgTxRepository) DeleteBatch(ctx context.Context, id uuid.UUID, version int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM settlement_batches WHERE id=$1 AND version=$2`, id, version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: batch %s", ErrConcurrentModification, id)
	}
	return nil
}

func (r *pgTxRepository) GetItemForUpdate(ctx context.Context, id int64) (BillableItem, error) {
	return scanItem(r.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM billable_items WHERE id=$1 FOR UPDATE`, id), r.loc)
}

func (r *pgTxRepository) UpdateItem(ctx context.Context, item BillableItem) (BillableItem, error) {
	updated, err := scanItem(r.tx.QueryRow(ctx, `UPDATE billable_items
SET status=$3, batch_id=$4, settled_batch_id=$5, approved_amount=$6, payment_status=$7, newer_bill_id=$8,
    updated_at=NOW(), version=version+1
WHERE id=$1 AND version=$2
RETURNING `+itemColumns,
		item.ID, item.Version, string(item.Status), nullUUID(item.BatchID), nullUUID(item.SettledBatchID),
		item.ApprovedAmount, item.PaymentStatus, nullInt64Ptr(item.NewerBillID)), r.loc)
	if errors.Is(err, ErrItemNotFound) {
		return BillableItem{}, fmt.Errorf("%w: item %d", ErrConcurrentModification, item.ID)
	}
	return updated, err
}

func (r *pgTxRepository) ListBatchMembers(ctx context.Context, batchID uuid.UUID) ([]BillableItem, error) {
	return queryItems(ctx, r.tx, r.loc, `SELECT `+itemColumns+` FROM billable_items WHERE batch_id=$1 ORDER BY id`, batchID)
}

func (r *pgTxRepository) CheckThreshold(ctx context.Context, orgID int64) (OrgThreshold, error) {
	var out OrgThreshold
	err := r.tx.QueryRow(ctx, `SELECT t.threshold,
       COALESCE((SELECT SUM(i.approved_amount) FROM billable_items i WHERE i.org_id=t.org_id AND i.status='payment'), 0)
FROM org_thresholds t
WHERE t.org_id=$1`, orgID).Scan(&out.Threshold, &out.TotalApproved)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return OrgThreshold{}, fmt.Errorf("%w: threshold for organisation %d", ErrNotFound, orgID)
		}
		return OrgThreshold{}, err
	}
	return out, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryItems(ctx context.Context, q querier, loc *time.Location, sql string, args ...any) ([]BillableItem, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []BillableItem{}
	for rows.Next() {
		item, err := scanItem(rows, loc)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanBatch(row rowScanner, loc *time.Location) (Batch, error) {
	var (
		b         Batch
		kind      string
		status    string
		validate  pgtype.Date
		updatedBy pgtype.Int8
	)
	if err := row.Scan(&b.ID, &b.OrgID, &kind, &status, &validate, &b.CreatedAt, &b.UpdatedAt, &updatedBy, &b.Version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, ErrBatchNotFound
		}
		return Batch{}, err
	}
	b.Kind = ItemKind(kind)
	b.Status = BatchStatus(status)
	b.ValidateAt = inLocation(validate.Time, loc)
	b.UpdatedBy = updatedBy.Int64
	return b, nil
}

func scanItem(row rowScanner, loc *time.Location) (BillableItem, error) {
	var (
		item           BillableItem
		kind, payType  string
		status         string
		batchID        pgtype.UUID
		settledBatchID pgtype.UUID
		newerBillID    pgtype.Int8
		dueDate        pgtype.Date
		discountDate   pgtype.Date
		rechargeDate   pgtype.Date
		discountRebate decimal.NullDecimal
		dueDateRebate  decimal.NullDecimal
		penalty        decimal.NullDecimal
	)
	err := row.Scan(&item.ID, &item.OrgID, &kind, &item.ConnectionID, &payType, &item.Gross, &status, &batchID, &settledBatchID,
		&item.ApprovedAmount, &item.IsActive, &item.IsValid, &item.IsDeleted, &item.PaymentStatus, &newerBillID,
		&dueDate, &discountDate, &discountRebate, &dueDateRebate, &penalty, &rechargeDate,
		&item.Version, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BillableItem{}, ErrItemNotFound
		}
		return BillableItem{}, err
	}
	item.Kind = ItemKind(kind)
	item.PayType = PayType(payType)
	item.Status = ItemStatus(status)
	item.BatchID = uuidPtr(batchID)
	item.SettledBatchID = uuidPtr(settledBatchID)
	if newerBillID.Valid {
		id := newerBillID.Int64
		item.NewerBillID = &id
	}
	switch item.Kind {
	case KindBill:
		item.Bill = &BillTerms{
			DueDate:        datePtr(dueDate, loc),
			DiscountDate:   datePtr(discountDate, loc),
			DiscountRebate: discountRebate.Decimal,
			DueDateRebate:  dueDateRebate.Decimal,
			Penalty:        penalty.Decimal,
		}
	case KindRecharge:
		item.Recharge = &RechargeTerms{}
		if rechargeDate.Valid {
			item.Recharge.RechargeDate = inLocation(rechargeDate.Time, loc)
		}
	}
	return item, nil
}

func uuidPtr(v pgtype.UUID) *uuid.UUID {
	if !v.Valid {
		return nil
	}
	id := uuid.UUID(v.Bytes)
	return &id
}

func datePtr(v pgtype.Date, loc *time.Location) *time.Time {
	if !v.Valid {
		return nil
	}
	t := inLocation(v.Time, loc)
	return &t
}

// inLocation reinterprets a DATE value as midnight of the same calendar day in loc.
func inLocation(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func dateArg(t time.Time) pgtype.Date {
	y, m, d := t.Date()
	return pgtype.Date{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC), Valid: true}
}

func nullUUID(id *uuid.UUID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: *id, Valid: true}
}

func nullInt(v int64) pgtype.Int8 {
	return pgtype.Int8{Int64: v, Valid: v != 0}
}

func nullInt64Ptr(v *int64) pgtype.Int8 {
	if v == nil {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: *v, Valid: true}
}
