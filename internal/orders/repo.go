package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PgStore keeps orders and intents in Postgres. Money columns are numeric and travel as
// text so decimal values round-trip exactly.
type PgStore struct{ DB *pgxpool.Pool }

const orderColumns = `
	o.id, COALESCE(o.external_id, ''), o.cart, o.customer, o.channel,
	o.shipping_cost::text, o.discount::text, o.advance_payment::text, o.total::text,
	o.status, o.consignment_id, o.restocked, o.created_by, o.updated_by, o.version, o.created_at, o.updated_at,
	(SELECT COUNT(*) FROM order_intents i WHERE i.order_id = o.id AND i.state = 'pending')`

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o                           Order
		cart, customer              []byte
		shipping, discount, advance string
		total, status               string
		pending                     int
	)
	err := row.Scan(&o.ID, &o.ExternalID, &cart, &customer, &o.Channel,
		&shipping, &discount, &advance, &total,
		&status, &o.ConsignmentID, &o.Restocked, &o.CreatedBy, &o.UpdatedBy, &o.Version, &o.CreatedAt, &o.UpdatedAt,
		&pending)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(cart, &o.Cart); err != nil {
		return nil, fmt.Errorf("decode cart of %s: %w", o.ID, err)
	}
	if err := json.Unmarshal(customer, &o.Customer); err != nil {
		return nil, fmt.Errorf("decode customer of %s: %w", o.ID, err)
	}
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{{&o.ShippingCost, shipping}, {&o.Discount, discount}, {&o.AdvancePayment, advance}, {&o.Total, total}} {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return nil, fmt.Errorf("decode amount of %s: %w", o.ID, err)
		}
		*f.dst = d
	}
	o.Status = Status(status)
	o.PendingEffects = pending
	return &o, nil
}

// Create is idempotent on external_id: a replay returns the stored order.
func (r *PgStore) Create(ctx context.Context, o *Order, in *Intent) (*Order, bool, error) {
	if o.ExternalID != "" {
		existing, err := r.byExternalID(ctx, r.DB, o.ExternalID)
		if err == nil {
			return existing, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, err
		}
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cart, customer, err := encodeDocs(o)
	if err != nil {
		return nil, false, err
	}
	ct, err := tx.Exec(ctx, `
		INSERT INTO orders(id, external_id, cart, customer, channel,
			shipping_cost, discount, advance_payment, total,
			status, consignment_id, restocked, created_by, updated_by, version, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9::numeric,
			$10, $11, $12, $13, $14, $15, $16, $16)
		ON CONFLICT (external_id) DO NOTHING`,
		o.ID, o.ExternalID, cart, customer, o.Channel,
		o.ShippingCost.String(), o.Discount.String(), o.AdvancePayment.String(), o.Total.String(),
		string(o.Status), o.ConsignmentID, o.Restocked, o.CreatedBy, o.UpdatedBy, o.Version, o.CreatedAt)
	if err != nil {
		return nil, false, err
	}
	if ct.RowsAffected() == 0 {
		// lost the race to a concurrent create with the same external id
		_ = tx.Rollback(ctx)
		existing, err := r.byExternalID(ctx, r.DB, o.ExternalID)
		if err != nil {
			return nil, false, err
		}
		return existing, true, nil
	}
	if err := insertIntent(ctx, tx, in); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}

	out := o.Clone()
	if in != nil {
		out.PendingEffects = 1
	}
	return out, false, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *PgStore) byExternalID(ctx context.Context, q querier, externalID string) (*Order, error) {
	return scanOrder(q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders o WHERE o.external_id=$1`, externalID))
}

func (r *PgStore) Get(ctx context.Context, id string) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders o WHERE o.id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return o, err
}

// lockCurrent reads the row FOR UPDATE and checks its version.
func lockCurrent(ctx context.Context, tx pgx.Tx, id string, expectedVersion int64) (*Order, error) {
	cur, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders o WHERE o.id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if cur.Version != expectedVersion {
		return nil, fmt.Errorf("%w: %s is at version %d, not %d", ErrVersionConflict, id, cur.Version, expectedVersion)
	}
	return cur, nil
}

func (r *PgStore) Update(ctx context.Context, id string, expectedVersion int64, mutate Mutation) (*Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := lockCurrent(ctx, tx, id, expectedVersion)
	if err != nil {
		return nil, err
	}
	prev := cur.Status
	in, err := mutate(cur)
	if errors.Is(err, errUnchanged) {
		return cur, errUnchanged
	}
	if err != nil {
		return nil, err
	}

	cur.Version = expectedVersion + 1
	cur.UpdatedAt = time.Now().UTC()
	cart, customer, err := encodeDocs(cur)
	if err != nil {
		return nil, err
	}
	ct, err := tx.Exec(ctx, `
		UPDATE orders SET cart=$3, customer=$4, channel=$5,
			shipping_cost=$6::numeric, discount=$7::numeric, advance_payment=$8::numeric, total=$9::numeric,
			status=$10, consignment_id=$11, restocked=$12, updated_by=$13, version=$14, updated_at=$15
		WHERE id=$1 AND version=$2`,
		id, expectedVersion, cart, customer, cur.Channel,
		cur.ShippingCost.String(), cur.Discount.String(), cur.AdvancePayment.String(), cur.Total.String(),
		string(cur.Status), cur.ConsignmentID, cur.Restocked, cur.UpdatedBy, cur.Version, cur.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if ct.RowsAffected() != 1 {
		return nil, fmt.Errorf("%w: %s", ErrVersionConflict, id)
	}
	if cur.Status != prev {
		n, err := supersedeBookings(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		cur.PendingEffects -= n
	}
	if err := insertIntent(ctx, tx, in); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	if in != nil {
		cur.PendingEffects++
	}
	return cur, nil
}

// supersedeBookings closes the order's pending intents whose only open stage is the
// courier booking. Intents that still owe ledger deltas stay pending.
func supersedeBookings(ctx context.Context, tx pgx.Tx, orderID string) (int, error) {
	ct, err := tx.Exec(ctx, `
		UPDATE order_intents
		SET state=$2, last_error=$3, updated_at=now()
		WHERE order_id=$1 AND state='pending' AND consign AND consignment_id=''
			AND (ledger_applied OR deltas IN ('null'::jsonb, '[]'::jsonb))`,
		orderID, string(IntentSuperseded), supersededReason)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

func (r *PgStore) Delete(ctx context.Context, id string, expectedVersion int64, mutate Mutation) (*Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := lockCurrent(ctx, tx, id, expectedVersion)
	if err != nil {
		return nil, err
	}
	in, err := mutate(cur)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM orders WHERE id=$1 AND version=$2`, id, expectedVersion); err != nil {
		return nil, err
	}
	if err := insertIntent(ctx, tx, in); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return cur, nil
}

func (r *PgStore) SetConsignment(ctx context.Context, orderID, consignmentID string) error {
	ct, err := r.DB.Exec(ctx, `UPDATE orders SET consignment_id=$2, updated_at=now() WHERE id=$1`, orderID, consignmentID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, orderID)
	}
	return nil
}

const intentColumns = `id, order_id, kind, deltas, consign, ledger_applied, consignment_id,
	state, attempts, last_error, created_at, updated_at`

func scanIntent(row pgx.Row) (*Intent, error) {
	var (
		in          Intent
		kind, state string
		deltas      []byte
	)
	if err := row.Scan(&in.ID, &in.OrderID, &kind, &deltas, &in.Consign, &in.LedgerApplied, &in.ConsignmentID,
		&state, &in.Attempts, &in.LastError, &in.CreatedAt, &in.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(deltas, &in.Deltas); err != nil {
		return nil, fmt.Errorf("decode deltas of intent %s: %w", in.ID, err)
	}
	in.Kind, in.State = IntentKind(kind), IntentState(state)
	return &in, nil
}

func insertIntent(ctx context.Context, tx pgx.Tx, in *Intent) error {
	if in == nil {
		return nil
	}
	deltas, err := json.Marshal(in.Deltas)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO order_intents(`+intentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		in.ID, in.OrderID, string(in.Kind), deltas, in.Consign, in.LedgerApplied, in.ConsignmentID,
		string(in.State), in.Attempts, in.LastError, in.CreatedAt, in.UpdatedAt)
	return err
}

func (r *PgStore) Intent(ctx context.Context, id string) (*Intent, error) {
	in, err := scanIntent(r.DB.QueryRow(ctx, `SELECT `+intentColumns+` FROM order_intents WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: intent %s", ErrNotFound, id)
	}
	return in, err
}

// SaveIntent writes the progress fields; the planned work is immutable.
func (r *PgStore) SaveIntent(ctx context.Context, in *Intent) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE order_intents
		SET ledger_applied=$2, consignment_id=$3, state=$4, attempts=$5, last_error=$6, updated_at=now()
		WHERE id=$1`,
		in.ID, in.LedgerApplied, in.ConsignmentID, string(in.State), in.Attempts, in.LastError)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: intent %s", ErrNotFound, in.ID)
	}
	return nil
}

func (r *PgStore) PendingIntents(ctx context.Context, limit int) ([]*Intent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.Query(ctx, `
		SELECT `+intentColumns+` FROM order_intents
		WHERE state='pending'
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Intent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func encodeDocs(o *Order) (cart, customer []byte, err error) {
	if cart, err = json.Marshal(o.Cart); err != nil {
		return nil, nil, err
	}
	if customer, err = json.Marshal(o.Customer); err != nil {
		return nil, nil, err
	}
	return cart, customer, nil
}
