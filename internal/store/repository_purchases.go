package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const purchaseColumns = `id, account_id, credits_purchased, amount_charged, discount_applied, final_amount, status,
	gateway_ref, deficit_amount, failure_reason, created_at, updated_at, completed_at, refunded_at`

func scanPurchase(row pgx.Row) (Purchase, error) {
	var p Purchase
	var status string
	var ref, reason pgtype.Text
	var completed, refunded pgtype.Timestamptz
	if err := row.Scan(&p.ID, &p.AccountID, &p.CreditsPurchased, &p.AmountCharged, &p.DiscountApplied, &p.FinalAmount,
		&status, &ref, &p.DeficitAmount, &reason, &p.CreatedAt, &p.UpdatedAt, &completed, &refunded); err != nil {
		return Purchase{}, mapPgError(err)
	}
	p.Status = PurchaseStatus(status)
	p.GatewayRef = textVal(ref)
	p.FailureReason = textVal(reason)
	p.CompletedAt = timePtrVal(completed)
	p.RefundedAt = timePtrVal(refunded)
	return p, nil
}

func (s *Store) CreatePurchase(ctx context.Context, p Purchase) (Purchase, error) {
	var out Purchase
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := ensureAccountTx(ctx, tx, p.AccountID); err != nil {
			return err
		}
		var err error
		out, err = scanPurchase(tx.QueryRow(ctx, `
			INSERT INTO purchases (id, account_id, credits_purchased, amount_charged, discount_applied, final_amount, status, gateway_ref)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			RETURNING `+purchaseColumns,
			p.ID, p.AccountID, p.CreditsPurchased, p.AmountCharged, p.DiscountApplied, p.FinalAmount,
			string(p.Status), textParam(p.GatewayRef)))
		return err
	})
	return out, err
}

func (s *Store) GetPurchase(ctx context.Context, id string) (*Purchase, error) {
	p, err := scanPurchase(s.Pool.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetPurchaseByGatewayRef(ctx context.Context, ref string) (*Purchase, error) {
	p, err := scanPurchase(s.Pool.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE gateway_ref = $1`, ref))
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// MutatePurchase applies fn to the locked purchase row and persists it.
func (s *Store) MutatePurchase(ctx context.Context, id string, fn func(*Purchase) error) (Purchase, error) {
	var out Purchase
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		p, err := scanPurchase(tx.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if err := fn(&p); err != nil {
			return err
		}
		out, err = scanPurchase(tx.QueryRow(ctx, `
			UPDATE purchases
			SET status = $2, gateway_ref = $3, deficit_amount = $4, failure_reason = $5,
			    completed_at = $6, refunded_at = $7, updated_at = now()
			WHERE id = $1
			RETURNING `+purchaseColumns,
			p.ID, string(p.Status), textParam(p.GatewayRef), p.DeficitAmount, textParam(p.FailureReason),
			timeParam(p.CompletedAt), timeParam(p.RefundedAt)))
		return err
	})
	return out, err
}
