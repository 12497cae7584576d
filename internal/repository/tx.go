package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/plateful/internal/database"
)

// SQLTxRunner はdatabase.DBのトランザクションにリポジトリを束縛して実行する。
type SQLTxRunner struct {
	db *database.DB
}

// NewSQLTxRunner はSQLTxRunnerを生成する。
func NewSQLTxRunner(db *database.DB) *SQLTxRunner {
	return &SQLTxRunner{db: db}
}

// RunInTx はトランザクション内でfnを実行する。
// fnが受け取るリポジトリは全てそのトランザクション上で動作する。
func (r *SQLTxRunner) RunInTx(ctx context.Context, fn func(stores TxStores) error) error {
	return r.db.TransactionContext(ctx, func(tx *sqlx.Tx) error {
		return fn(TxStores{
			Items:    NewSQLFoodItemRepo(tx),
			Messages: NewSQLMessageRepo(tx),
		})
	})
}

// compile-time interface check
var _ TxRunner = (*SQLTxRunner)(nil)
