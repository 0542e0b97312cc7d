package migration

import (
	"context"
	"database/sql"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

// openTestDB はテスト用のインメモリSQLiteを開く。
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	// インメモリDBは接続ごとに別物になるため1接続に固定する
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// TestRun はマイグレーションの適用を検証する。
func TestRun(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"migrations/000002_add_index.up.sql":      {Data: []byte(`CREATE INDEX idx_items_name ON items(name);`)},
		"migrations/000001_create_items.up.sql":   {Data: []byte(`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT);`)},
		"migrations/000001_create_items.down.sql": {Data: []byte(`DROP TABLE items;`)},
		"migrations/README.md":                    {Data: []byte(`ignored`)},
	}

	t.Run("未適用のマイグレーションをバージョン順に適用すること", func(t *testing.T) {
		t.Parallel()

		db := openTestDB(t)
		n, err := Run(context.Background(), db, fsys, "migrations")
		if err != nil {
			t.Fatalf("Run()でエラーが発生: %v", err)
		}
		if n != 2 {
			t.Errorf("適用件数 = %d, want 2", n)
		}
		if _, err := db.Exec(`INSERT INTO items (name) VALUES ('a')`); err != nil {
			t.Errorf("テーブルが作成されていない: %v", err)
		}
	})

	t.Run("2回目の実行では何も適用しないこと", func(t *testing.T) {
		t.Parallel()

		db := openTestDB(t)
		if _, err := Run(context.Background(), db, fsys, "migrations"); err != nil {
			t.Fatalf("Run()でエラーが発生: %v", err)
		}
		n, err := Run(context.Background(), db, fsys, "migrations")
		if err != nil {
			t.Fatalf("Run()でエラーが発生: %v", err)
		}
		if n != 0 {
			t.Errorf("適用件数 = %d, want 0", n)
		}
	})

	t.Run("不正なSQLは適用されず記録もされないこと", func(t *testing.T) {
		t.Parallel()

		db := openTestDB(t)
		broken := fstest.MapFS{
			"m/000001_broken.up.sql": {Data: []byte(`CREATE TABLE (`)},
		}
		if _, err := Run(context.Background(), db, broken, "m"); err == nil {
			t.Fatal("エラーが返らなかった")
		}
		var count int
		if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
			t.Fatalf("件数の取得に失敗: %v", err)
		}
		if count != 0 {
			t.Errorf("記録件数 = %d, want 0", count)
		}
	})

	t.Run("バージョンが重複している場合はエラーになること", func(t *testing.T) {
		t.Parallel()

		db := openTestDB(t)
		dup := fstest.MapFS{
			"m/000001_a.up.sql": {Data: []byte(`SELECT 1;`)},
			"m/000001_b.up.sql": {Data: []byte(`SELECT 1;`)},
		}
		if _, err := Run(context.Background(), db, dup, "m"); err == nil {
			t.Error("エラーが返らなかった")
		}
	})
}
