package database

import (
	"path/filepath"
	"testing"
)

// NewTestDB は一時ディレクトリにSQLiteデータベースを作成し、マイグレーションを適用して返す。
// テスト終了時に自動でクローズされる。
// インメモリDBは接続ごとに別のDBになるため、並行アクセスを検証できるようファイルを使用する。
func NewTestDB(t testing.TB) *DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "plateful_test.db")
	db, err := Open("sqlite://" + path)
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}

	if err := Migrate(db); err != nil {
		db.Close()
		t.Fatalf("migrating test database: %v", err)
	}

	t.Cleanup(func() { db.Close() })

	return db
}
