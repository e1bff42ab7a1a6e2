package bankid

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// PGOrders implements OrderStore on PostgreSQL.
type PGOrders struct {
	db *sql.DB
}

// NewPGOrders constructs a PGOrders over an open connection pool.
func NewPGOrders(db *sql.DB) *PGOrders {
	return &PGOrders{db: db}
}

func (s *PGOrders) Create(ctx context.Context, order *Order) error {
	_, err := s.db.ExecContext(ctx,
		`insert into bankid_orders(order_ref, auto_start_token, qr_start_token, qr_start_secret, created_at)
		 values($1,$2,$3,$4,$5)`,
		order.OrderRef, order.AutoStartToken, order.QRStartToken, order.QRStartSecret, order.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return errors.New("bankid: order reference already exists")
	}
	return err
}

func (s *PGOrders) Find(ctx context.Context, orderRef string) (*Order, error) {
	row := s.db.QueryRowContext(ctx,
		`select order_ref, auto_start_token, qr_start_token, qr_start_secret, created_at
		 from bankid_orders where order_ref=$1`, orderRef)
	var o Order
	if err := row.Scan(&o.OrderRef, &o.AutoStartToken, &o.QRStartToken, &o.QRStartSecret, &o.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &o, nil
}

func (s *PGOrders) Delete(ctx context.Context, orderRef string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `delete from bankid_orders where order_ref=$1`, orderRef)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
