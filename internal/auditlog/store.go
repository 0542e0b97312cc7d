package auditlog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nao1215/bffgate/pkg/event"
	"github.com/nao1215/bffgate/pkg/migration"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrationsFS embed.FS

// timeLayout は created_at の保存形式。文字列順が時刻順と一致するよう桁数を固定する。
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Recorder は監査イベントの記録先。
type Recorder interface {
	// Record はイベントを1件記録する。
	Record(ctx context.Context, e *event.Event) error
}

// Nop は何も記録しないRecorder。
type Nop struct{}

// Record は何もしない。
func (Nop) Record(context.Context, *event.Event) error { return nil }

// Store はSQLiteに監査イベントを保存するRecorder。
type Store struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// Open はSQLiteデータベースを開き、スキーマを適用したStoreを返す。
// pathに ":memory:" を渡すとインメモリDBになる。
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != ":memory:" && !strings.Contains(path, "?") {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if path == ":memory:" {
		// インメモリDBは接続ごとに別物になるため1接続に固定する
		db.SetMaxOpenConns(1)
	}

	if _, err := migration.Run(ctx, db, migrationsFS, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return &Store{db: db}, nil
}

// Record はイベントを gateway_events テーブルに追記する。
func (s *Store) Record(ctx context.Context, e *event.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gateway_events (id, event_type, subject_id, method, path, request_id, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, string(e.EventType), e.SubjectID, e.Method, e.Path, e.RequestID, string(e.Data), e.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("監査イベントの保存に失敗: %w", err)
	}
	return nil
}

// Recent は新しい順に最大limit件のイベントを返す。
func (s *Store) Recent(ctx context.Context, limit int) ([]*event.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, subject_id, method, path, request_id, data, created_at
		FROM gateway_events
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("監査イベントの取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*event.Event
	for rows.Next() {
		var (
			e         event.Event
			eventType string
			data      string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &eventType, &e.SubjectID, &e.Method, &e.Path, &e.RequestID, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("監査イベントの読み取りに失敗: %w", err)
		}
		e.EventType = event.Type(eventType)
		e.Data = []byte(data)
		e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("作成日時の解析に失敗: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// Close はデータベース接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// Emit はイベントを生成して記録する。失敗はログに残すだけで呼び出し元には返さない。
func Emit(ctx context.Context, r Recorder, eventType event.Type, src event.Source, data any) {
	e, err := event.New(eventType, src, data)
	if err != nil {
		log.Printf("[Audit] イベントの生成に失敗: type=%s error=%v", eventType, err)
		return
	}
	if err := r.Record(context.WithoutCancel(ctx), e); err != nil {
		log.Printf("[Audit] イベントの記録に失敗: type=%s error=%v", eventType, err)
	}
}
