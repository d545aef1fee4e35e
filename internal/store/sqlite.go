package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/yourorg/cavelog/pkg/types"
)

type SQLiteStore struct {
	db *sql.DB

	// wmu serializes writers so a pending insert and its update never interleave.
	wmu sync.Mutex

	smu  sync.RWMutex
	subs []func()
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fault("open", err)
	}
	if dsn == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}
	s := &SQLiteStore{db: db}
	if err := s.Init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Init() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fault("init", err)
	}
	if _, err := s.db.Exec(`PRAGMA busy_timeout=5000;`); err != nil {
		return fault("init", err)
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS exchanges (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			url TEXT NOT NULL,
			method TEXT NOT NULL,
			request_headers TEXT,
			request_body TEXT,
			request_content_type TEXT,
			request_content_length TEXT,
			status_code INTEGER,
			response_body TEXT,
			start_time INTEGER,
			end_time INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_exchanges_key ON exchanges(url, method);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fault("init", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Subscribe(fn func()) {
	if fn == nil {
		return
	}
	s.smu.Lock()
	s.subs = append(s.subs, fn)
	s.smu.Unlock()
}

func (s *SQLiteStore) notify() {
	s.smu.RLock()
	subs := append([]func(){}, s.subs...)
	s.smu.RUnlock()
	for _, fn := range subs {
		fn()
	}
}

// Insert appends e as a pending record and sets e.ID.
func (s *SQLiteStore) Insert(ctx context.Context, e *types.Exchange) (int64, error) {
	if e == nil {
		return 0, errors.New("exchange is nil")
	}
	var headers sql.NullString
	if len(e.RequestHeaders) > 0 {
		b, err := json.Marshal(e.RequestHeaders)
		if err != nil {
			return 0, fmt.Errorf("encode request headers: %w", err)
		}
		headers = sql.NullString{String: string(b), Valid: true}
	}

	s.wmu.Lock()
	res, err := s.db.ExecContext(ctx, `INSERT INTO exchanges(url,method,request_headers,request_body,request_content_type,request_content_length,status_code,response_body,start_time,end_time) VALUES(?,?,?,?,?,?,?,?,?,?)`,
		e.URL, e.Method, headers, nullString(e.RequestBody), nullString(e.RequestContentType), nullString(e.RequestContentLength),
		nullInt(e.StatusCode), nullString(e.ResponseBody), nullInt64(e.StartTime), nullInt64(e.EndTime))
	s.wmu.Unlock()
	if err != nil {
		return 0, fault("insert", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fault("insert", err)
	}
	e.ID = id
	s.notify()
	return id, nil
}

// UpdateByKey completes the most recently inserted pending record for (url, method).
// A miss is reported as false, not as an error.
func (s *SQLiteStore) UpdateByKey(ctx context.Context, url, method string, statusCode int, responseBody *string, endTime int64) (bool, error) {
	s.wmu.Lock()
	res, err := s.db.ExecContext(ctx, `UPDATE exchanges SET status_code=?, response_body=?, end_time=?
		WHERE id = (SELECT id FROM exchanges WHERE url=? AND method=? AND status_code IS NULL ORDER BY id DESC LIMIT 1)`,
		statusCode, nullString(responseBody), endTime, url, method)
	s.wmu.Unlock()
	if err != nil {
		return false, fault("update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fault("update", err)
	}
	if n == 0 {
		return false, nil
	}
	s.notify()
	return true, nil
}

const selectColumns = `SELECT id,url,method,request_headers,request_body,request_content_type,request_content_length,status_code,response_body,start_time,end_time FROM exchanges`

// ListAll returns every record, newest first.
func (s *SQLiteStore) ListAll(ctx context.Context) ([]types.Exchange, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY id DESC`)
	if err != nil {
		return nil, fault("list", err)
	}
	defer rows.Close()
	out := make([]types.Exchange, 0)
	for rows.Next() {
		e, err := scanExchange(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fault("list", err)
	}
	return out, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id int64) (*types.Exchange, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id=?`, id)
	e, err := scanExchange(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	s.wmu.Lock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM exchanges WHERE id=?`, id)
	s.wmu.Unlock()
	if err != nil {
		return fault("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fault("delete", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.notify()
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	s.wmu.Lock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM exchanges`)
	s.wmu.Unlock()
	if err != nil {
		return fault("clear", err)
	}
	s.notify()
	return nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return errors.New("store is nil")
	}
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExchange(sc scanner) (*types.Exchange, error) {
	var (
		e                                   types.Exchange
		headers, reqBody, reqCT, reqCL, rsp sql.NullString
		status                              sql.NullInt64
		start, end                          sql.NullInt64
	)
	if err := sc.Scan(&e.ID, &e.URL, &e.Method, &headers, &reqBody, &reqCT, &reqCL, &status, &rsp, &start, &end); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fault("scan", err)
	}
	if headers.Valid && headers.String != "" {
		_ = json.Unmarshal([]byte(headers.String), &e.RequestHeaders)
	}
	e.RequestBody = fromNullString(reqBody)
	e.RequestContentType = fromNullString(reqCT)
	e.RequestContentLength = fromNullString(reqCL)
	e.ResponseBody = fromNullString(rsp)
	if status.Valid {
		e.StatusCode = types.Int(int(status.Int64))
	}
	if start.Valid {
		e.StartTime = types.Int64(start.Int64)
	}
	if end.Valid {
		e.EndTime = types.Int64(end.Int64)
	}
	return &e, nil
}

func fault(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageFault, op, err)
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func fromNullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return types.String(v.String)
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}
