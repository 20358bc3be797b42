package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

const taskColumns = `id, user_id, kind, description, feature, status, files_json, errors_json, error,
	plugin_name, plugin_dir, integrated_files_json, moves_json, created_at, updated_at`

// Store persists tasks in SQLite. Every read goes to the database; nothing
// is cached in memory.
type Store struct {
	db    *sql.DB
	locks idLocks

	idMu   sync.Mutex
	lastID int64
	now    func() time.Time
}

// NewStore creates a task store over an opened database.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:    db,
		locks: idLocks{m: make(map[int64]*idLock)},
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Status Status
	UserID *int64
}

// NewID mints a time-derived id that is strictly greater than every id
// this store has seen, so ids are never reused.
func (s *Store) NewID(ctx context.Context) (int64, error) {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	if s.lastID == 0 {
		var maxID sql.NullInt64
		if err := s.db.QueryRowContext(ctx, `SELECT MAX(id) FROM tasks`).Scan(&maxID); err != nil {
			return 0, fmt.Errorf("read max task id: %w", err)
		}
		s.lastID = maxID.Int64
	}
	id := s.now().UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return id, nil
}

// Append durably adds a new task. The id must not exist yet.
func (s *Store) Append(ctx context.Context, t Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = s.now()
	}
	t.UpdatedAt = t.Timestamp

	unlock := s.locks.lock(t.ID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin append task: %w", err)
	}
	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE id=?`, t.ID).Scan(&exists); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("check task id: %w", err)
	}
	if exists > 0 {
		_ = tx.Rollback()
		return fmt.Errorf("append task %d: %w", t.ID, ErrDuplicateID)
	}
	cols, err := encodeTask(t)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, cols...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert task: %w", err)
	}
	if err := insertEvent(ctx, tx, t.ID, "", t.Status, "created", t.Timestamp); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append task: %w", err)
	}
	s.bumpLastID(t.ID)
	return nil
}

func (s *Store) bumpLastID(id int64) {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	if id > s.lastID {
		s.lastID = id
	}
}

// Get fetches a task by id. It returns ErrNotFound when the id is unknown.
func (s *Store) Get(ctx context.Context, id int64) (Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, fmt.Errorf("task %d: %w", id, ErrNotFound)
		}
		return Task{}, fmt.Errorf("read task: %w", err)
	}
	return t, nil
}

// List returns tasks matching f in creation order.
func (s *Store) List(ctx context.Context, f Filter) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	args := []any{}
	if f.Status != "" {
		query += " AND status=?"
		args = append(args, string(f.Status))
	}
	if f.UserID != nil {
		query += " AND user_id=?"
		args = append(args, *f.UserID)
	}
	query += " ORDER BY seq"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return out, nil
}

// Pending returns the user's sandboxed tasks, most recent last.
func (s *Store) Pending(ctx context.Context, userID int64) ([]Task, error) {
	return s.List(ctx, Filter{Status: StatusSandboxed, UserID: &userID})
}

// Update performs a read-modify-write of task id inside one transaction.
// Updates to the same id are serialized. If mutate returns an error, or the
// write fails, the stored record is left as it was. A status change must be
// a lifecycle edge and is recorded as an event with reason.
//
// mutate runs while the store holds its only connection, so it must not call
// back into the store.
func (s *Store) Update(ctx context.Context, id int64, reason string, mutate func(*Task) error) (Task, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return Task{}, fmt.Errorf("begin update task: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	current, err := scanTask(row.Scan)
	if err != nil {
		rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, fmt.Errorf("task %d: %w", id, ErrNotFound)
		}
		return Task{}, fmt.Errorf("read task: %w", err)
	}

	next := current.Clone()
	if err := mutate(&next); err != nil {
		rollback()
		return current, err
	}
	next.ID = current.ID
	next.Timestamp = current.Timestamp
	if next.Status != current.Status && !CanTransition(current.Status, next.Status) {
		rollback()
		return current, fmt.Errorf("task %d %s -> %s: %w", id, current.Status, next.Status, ErrIllegalTransition)
	}
	if err := next.Validate(); err != nil {
		rollback()
		return current, err
	}
	next.UpdatedAt = s.now()

	cols, err := encodeTask(next)
	if err != nil {
		rollback()
		return current, err
	}
	// cols[0] is the id; move it to the WHERE clause.
	args := append(cols[1:], id)
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET user_id=?, kind=?, description=?, feature=?, status=?,
		files_json=?, errors_json=?, error=?, plugin_name=?, plugin_dir=?, integrated_files_json=?, moves_json=?,
		created_at=?, updated_at=? WHERE id=?`, args...); err != nil {
		rollback()
		return current, fmt.Errorf("update task: %w", err)
	}
	if next.Status != current.Status {
		if err := insertEvent(ctx, tx, id, current.Status, next.Status, reason, next.UpdatedAt); err != nil {
			rollback()
			return current, err
		}
	}
	if err := tx.Commit(); err != nil {
		return current, fmt.Errorf("commit update task: %w", err)
	}
	return next, nil
}

// Events returns the status history of a task in order.
func (s *Store) Events(ctx context.Context, id int64) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT task_id, seq, ts, from_status, to_status, reason
		FROM task_events WHERE task_id=? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query task events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var ev Event
		var ts string
		var from, reason sql.NullString
		var to string
		if err := rows.Scan(&ev.TaskID, &ev.Seq, &ts, &from, &to, &reason); err != nil {
			return nil, fmt.Errorf("scan task event: %w", err)
		}
		ev.At, _ = time.Parse(time.RFC3339Nano, ts)
		ev.From = Status(from.String)
		ev.To = Status(to)
		ev.Reason = reason.String
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task events: %w", err)
	}
	return out, nil
}

// RetentionPolicy controls which finished task records Prune may drop.
type RetentionPolicy struct {
	KeepLast int
	KeepDays int
}

// PruneResult summarizes a prune operation.
type PruneResult struct {
	Considered int
	Kept       int
	Deleted    int
}

// Prune deletes cleaned and reverted task records, with their events, that
// fall outside policy. Sandboxed and integrated tasks are always kept.
func (s *Store) Prune(ctx context.Context, policy RetentionPolicy, dryRun bool) (PruneResult, error) {
	if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
		return PruneResult{}, nil
	}
	cutoff := time.Time{}
	if policy.KeepDays > 0 {
		cutoff = s.now().Add(-time.Duration(policy.KeepDays) * 24 * time.Hour)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, status, updated_at FROM tasks
		WHERE status IN (?, ?) ORDER BY seq DESC`, string(StatusCleaned), string(StatusReverted))
	if err != nil {
		return PruneResult{}, fmt.Errorf("list finished tasks: %w", err)
	}
	type row struct {
		id        int64
		updatedAt time.Time
		parseErr  error
	}
	var candidates []row
	for rows.Next() {
		var id int64
		var status, updatedAt string
		if err := rows.Scan(&id, &status, &updatedAt); err != nil {
			_ = rows.Close()
			return PruneResult{}, fmt.Errorf("scan task: %w", err)
		}
		parsed, parseErr := time.Parse(time.RFC3339Nano, updatedAt)
		candidates = append(candidates, row{id: id, updatedAt: parsed, parseErr: parseErr})
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return PruneResult{}, fmt.Errorf("iterate tasks: %w", err)
	}
	_ = rows.Close()

	res := PruneResult{Considered: len(candidates)}
	for idx, c := range candidates {
		keep := policy.KeepLast > 0 && idx < policy.KeepLast
		if !keep && policy.KeepDays > 0 && (c.parseErr != nil || c.updatedAt.After(cutoff)) {
			keep = true
		}
		if keep {
			res.Kept++
			continue
		}
		if dryRun {
			res.Deleted++
			continue
		}
		if err := s.deleteTask(ctx, c.id); err != nil {
			return res, err
		}
		res.Deleted++
	}
	return res, nil
}

func (s *Store) deleteTask(ctx context.Context, id int64) error {
	unlock := s.locks.lock(id)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin delete task: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_events WHERE task_id=?`, id); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete task %d events: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete task: %w", err)
	}
	return nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, id int64, from, to Status, reason string, at time.Time) error {
	var seq int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM task_events WHERE task_id=?`, id).Scan(&seq); err != nil {
		return fmt.Errorf("read event seq: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO task_events(task_id, seq, ts, from_status, to_status, reason)
		VALUES(?, ?, ?, ?, ?, ?)`,
		id, seq+1, at.UTC().Format(time.RFC3339Nano), nullableString(string(from)), string(to), nullableString(reason)); err != nil {
		return fmt.Errorf("insert task event: %w", err)
	}
	return nil
}

func encodeTask(t Task) ([]any, error) {
	files, err := marshalList(t.Files)
	if err != nil {
		return nil, fmt.Errorf("marshal files: %w", err)
	}
	errs, err := marshalList(t.Errors)
	if err != nil {
		return nil, fmt.Errorf("marshal errors: %w", err)
	}
	integrated, err := marshalList(t.IntegratedFiles)
	if err != nil {
		return nil, fmt.Errorf("marshal integrated files: %w", err)
	}
	moves, err := marshalList(t.Moves)
	if err != nil {
		return nil, fmt.Errorf("marshal moves: %w", err)
	}
	return []any{
		t.ID, t.UserID, string(t.Kind), t.Description, t.Feature, string(t.Status),
		files, errs, t.Error, t.PluginName, t.PluginDir, integrated, moves,
		t.Timestamp.UTC().Format(time.RFC3339Nano), t.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

func marshalList[T any](items []T) (string, error) {
	if items == nil {
		items = []T{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func scanTask(scan func(dest ...any) error) (Task, error) {
	var t Task
	var kind, status, files, errs, integrated, moves, createdAt, updatedAt string
	if err := scan(&t.ID, &t.UserID, &kind, &t.Description, &t.Feature, &status, &files, &errs, &t.Error,
		&t.PluginName, &t.PluginDir, &integrated, &moves, &createdAt, &updatedAt); err != nil {
		return Task{}, err
	}
	t.Kind = Kind(kind)
	t.Status = Status(status)
	if err := json.Unmarshal([]byte(files), &t.Files); err != nil {
		return Task{}, fmt.Errorf("parse files: %w", err)
	}
	if err := json.Unmarshal([]byte(errs), &t.Errors); err != nil {
		return Task{}, fmt.Errorf("parse errors: %w", err)
	}
	if err := json.Unmarshal([]byte(integrated), &t.IntegratedFiles); err != nil {
		return Task{}, fmt.Errorf("parse integrated files: %w", err)
	}
	if err := json.Unmarshal([]byte(moves), &t.Moves); err != nil {
		return Task{}, fmt.Errorf("parse moves: %w", err)
	}
	var err error
	if t.Timestamp, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Task{}, fmt.Errorf("parse created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return Task{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return t, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

type idLock struct {
	mu   sync.Mutex
	refs int
}

// idLocks hands out one mutex per task id and forgets it once unused.
type idLocks struct {
	mu sync.Mutex
	m  map[int64]*idLock
}

func (l *idLocks) lock(id int64) func() {
	l.mu.Lock()
	entry, ok := l.m[id]
	if !ok {
		entry = &idLock{}
		l.m[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.m, id)
		}
		l.mu.Unlock()
	}
}
