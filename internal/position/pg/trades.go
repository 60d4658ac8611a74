package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"atm_algo/internal/models"
	"atm_algo/pkg/db"
)

const insertTrade = `
INSERT INTO trades (id, symbol, exchange, token, side, quantity, entry_price, stop_loss,
                    take_profit, status, open_time, order_id, notes)
VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9::numeric, $10, $11, $12, $13)`

const updateTrade = `
UPDATE trades
SET status = $2, close_time = $3, close_price = $4::numeric, close_reason = $5, notes = $6
WHERE id = $1`

const selectOpen = `
SELECT id, symbol, exchange, token, side, quantity, entry_price::text, stop_loss::text,
       take_profit::text, open_time, order_id, notes
FROM trades
WHERE status = 'OPEN'
ORDER BY open_time`

// Trades stores the trade log in Postgres.
type Trades struct {
	db *db.PgTxManager
}

func NewTrades(txm *db.PgTxManager) *Trades {
	return &Trades{db: txm}
}

func (t *Trades) Append(ctx context.Context, p models.Position) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Trades.Append: %w", err)
		}
	}()
	return t.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctxTx, insertTrade,
			p.ID, p.Symbol, p.Exchange, p.Token, string(p.Side), p.Quantity,
			p.EntryPrice.String(), p.StopLoss.String(), p.TakeProfit.String(),
			string(p.Status), p.OpenTime, p.OrderID, p.Notes,
		)
		return err
	})
}

func (t *Trades) Update(ctx context.Context, p models.Position) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Trades.Update: %w", err)
		}
	}()
	return t.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctxTx, updateTrade,
			p.ID, string(p.Status), p.CloseTime, p.ClosePrice.String(), string(p.CloseReason), p.Notes,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("trade %s not found", p.ID)
		}
		return nil
	})
}

func (t *Trades) LoadOpen(ctx context.Context) (out []models.Position, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Trades.LoadOpen: %w", err)
		}
	}()
	rows, err := t.db.Conn().Query(ctx, selectOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p             models.Position
			side          string
			entry, sl, tp string
			openTime      time.Time
		)
		if err := rows.Scan(&p.ID, &p.Symbol, &p.Exchange, &p.Token, &side, &p.Quantity,
			&entry, &sl, &tp, &openTime, &p.OrderID, &p.Notes); err != nil {
			return nil, err
		}
		if p.EntryPrice, err = decimal.NewFromString(entry); err != nil {
			return nil, err
		}
		if p.StopLoss, err = decimal.NewFromString(sl); err != nil {
			return nil, err
		}
		if p.TakeProfit, err = decimal.NewFromString(tp); err != nil {
			return nil, err
		}
		if p.Side, err = models.ParseSide(side); err != nil {
			return nil, err
		}
		p.Status = models.StatusOpen
		p.OpenTime = openTime.UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}
