package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgLedger stores counters in variant_stock, one row per (product, variant, size).
// Size is empty for free and none size types.
type PgLedger struct{ DB *pgxpool.Pool }

func (r *PgLedger) Product(ctx context.Context, productID string) (*Product, error) {
	p := &Product{ID: productID}
	var sizeType string
	err := r.DB.QueryRow(ctx, `SELECT name, size_type FROM products WHERE id=$1`, productID).Scan(&p.Name, &sizeType)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	if err != nil {
		return nil, err
	}
	p.SizeType = SizeType(sizeType)

	rows, err := r.DB.Query(ctx, `
		SELECT variant_id, size, availability
		FROM variant_stock
		WHERE product_id=$1
		ORDER BY variant_id, position, size`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	idx := map[string]int{}
	for rows.Next() {
		var variantID, size string
		var n int
		if err := rows.Scan(&variantID, &size, &n); err != nil {
			return nil, err
		}
		i, ok := idx[variantID]
		if !ok {
			p.Variants = append(p.Variants, Variant{ID: variantID})
			i = len(p.Variants) - 1
			idx[variantID] = i
		}
		if p.SizeType.Sized() {
			p.Variants[i].Sizes = append(p.Variants[i].Sizes, SizeStock{Size: size, Availability: n})
		} else {
			p.Variants[i].Availability = n
		}
	}
	return p, rows.Err()
}

func (r *PgLedger) Availability(ctx context.Context, k Key) (int, error) {
	var n int
	err := r.DB.QueryRow(ctx, `
		SELECT availability FROM variant_stock
		WHERE product_id=$1 AND variant_id=$2 AND size=$3`, k.ProductID, k.VariantID, k.Size).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrKeyNotFound, k)
	}
	return n, err
}

// Apply records applicationID and moves every counter in one transaction. Each counter
// moves with `availability = availability + n`, never read-modify-write. Rows are
// updated in key order whatever order the caller used.
func (r *PgLedger) Apply(ctx context.Context, applicationID string, deltas []Delta) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if applicationID != "" {
		ct, err := tx.Exec(ctx, `
			INSERT INTO ledger_applications(id, deltas) VALUES ($1, $2)
			ON CONFLICT (id) DO NOTHING`, applicationID, len(deltas))
		if err != nil {
			return false, err
		}
		if ct.RowsAffected() == 0 {
			return false, nil // applied earlier
		}
	}

	for _, d := range Merge(deltas) {
		ct, err := tx.Exec(ctx, `
			UPDATE variant_stock
			SET availability = availability + $4, updated_at = now()
			WHERE product_id=$1 AND variant_id=$2 AND size=$3`,
			d.ProductID, d.VariantID, d.Size, d.Quantity)
		if err != nil {
			return false, err
		}
		if ct.RowsAffected() != 1 {
			return false, fmt.Errorf("%w: %s", ErrKeyNotFound, d.Key)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}
