package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initTaskSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initTaskSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS challenges (
			id BIGINT PRIMARY KEY,
			project_id BIGINT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id BIGSERIAL PRIMARY KEY,
			parent_id BIGINT NOT NULL,
			name TEXT NOT NULL,
			instruction TEXT NOT NULL DEFAULT '',
			geometry JSONB NULL,
			status INTEGER NOT NULL DEFAULT 0,
			priority INTEGER NOT NULL DEFAULT 0,
			location_lon DOUBLE PRECISION NULL,
			location_lat DOUBLE PRECISION NULL,
			mapped_on TIMESTAMPTZ NULL,
			created TIMESTAMPTZ NOT NULL,
			modified TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_parent_id ON tasks (parent_id, id);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks (status);`,
		`CREATE TABLE IF NOT EXISTS task_locks (
			task_id BIGINT PRIMARY KEY REFERENCES tasks(id) ON DELETE CASCADE,
			user_id BIGINT NOT NULL,
			token TEXT NOT NULL,
			locked_at TIMESTAMPTZ NOT NULL,
			expires TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_task_locks_expires ON task_locks (expires);`,
		`CREATE TABLE IF NOT EXISTS task_audit (
			task_id BIGINT PRIMARY KEY REFERENCES tasks(id) ON DELETE CASCADE,
			osm_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			display_name TEXT NOT NULL,
			modified_at TIMESTAMPTZ NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init task schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const taskColumns = `id, parent_id, name, instruction, geometry, status, priority, location_lon, location_lat, mapped_on, created, modified`

func (s *PostgresStore) Create(ctx context.Context, t Task) (Task, error) {
	now := time.Now().UTC()
	if t.Created.IsZero() {
		t.Created = now
	}
	if t.Modified.IsZero() {
		t.Modified = now
	}
	var lon, lat *float64
	if t.Location != nil {
		lon, lat = &t.Location.Lon, &t.Location.Lat
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO tasks (parent_id, name, instruction, geometry, status, priority,
		                    location_lon, location_lat, mapped_on, created, modified)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		 RETURNING id`,
		t.ParentID, t.Name, t.Instruction, []byte(t.Geometry), int(t.Status), int(t.Priority),
		lon, lat, t.MappedOn, t.Created, t.Modified,
	).Scan(&t.ID)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id int64) (Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id=$1`, id)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrStoreNotFound
		}
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) SetStatus(ctx context.Context, id int64, status Status, byUser UserSummary) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	var mappedOn *time.Time
	if status != StatusCreated {
		mappedOn = &now
	}
	tag, err := tx.Exec(ctx,
		`UPDATE tasks SET status=$2, modified=$3, mapped_on=COALESCE($4, mapped_on) WHERE id=$1`,
		id, int(status), now, mappedOn,
	)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStoreNotFound
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO task_audit (task_id, osm_id, user_id, display_name, modified_at)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (task_id) DO UPDATE SET
			osm_id=EXCLUDED.osm_id,
			user_id=EXCLUDED.user_id,
			display_name=EXCLUDED.display_name,
			modified_at=EXCLUDED.modified_at`,
		id, byUser.OSMID, byUser.ID, byUser.DisplayName, now,
	)
	if err != nil {
		return fmt.Errorf("upsert task audit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) RandomCandidates(ctx context.Context, params SearchParameters, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 50
	}
	statuses := make([]int32, 0, len(params.EffectiveStatuses()))
	for _, st := range params.EffectiveStatuses() {
		statuses = append(statuses, int32(st))
	}

	query := `SELECT t.` + strings.ReplaceAll(taskColumns, ", ", ", t.") + `
	   FROM tasks t`
	args := []any{statuses}
	where := []string{`t.status = ANY($1)`}
	if params.ProjectID != nil {
		query += ` JOIN challenges c ON c.id = t.parent_id`
		args = append(args, *params.ProjectID)
		where = append(where, fmt.Sprintf("c.project_id = $%d", len(args)))
	}
	if params.ChallengeID != nil {
		args = append(args, *params.ChallengeID)
		where = append(where, fmt.Sprintf("t.parent_id = $%d", len(args)))
	}
	if params.Priority != nil {
		args = append(args, int(*params.Priority))
		where = append(where, fmt.Sprintf("t.priority = $%d", len(args)))
	}
	args = append(args, limit)
	query += ` WHERE ` + strings.Join(where, " AND ") +
		fmt.Sprintf(` ORDER BY random() LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("random candidates: %w", err)
	}
	defer rows.Close()

	out := make([]Task, 0, limit)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidate rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SequenceNeighbor(ctx context.Context, parentID, currentID int64, dir Direction, statuses []Status) (Task, error) {
	compare, order := ">", "ASC"
	if dir == DirectionPrevious {
		compare, order = "<", "DESC"
	}
	query := `SELECT ` + taskColumns + ` FROM tasks
	   WHERE parent_id=$1 AND id ` + compare + ` $2`
	args := []any{parentID, currentID}
	if len(statuses) > 0 {
		codes := make([]int32, 0, len(statuses))
		for _, st := range statuses {
			codes = append(codes, int32(st))
		}
		args = append(args, codes)
		query += fmt.Sprintf(` AND status = ANY($%d)`, len(args))
	}
	query += ` ORDER BY id ` + order + ` LIMIT 1`

	row := s.pool.QueryRow(ctx, query, args...)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrStoreNotFound
		}
		return Task{}, fmt.Errorf("sequence neighbor: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) SequenceBoundary(ctx context.Context, parentID int64, dir Direction, statuses []Status) (Task, error) {
	order := "ASC"
	if dir == DirectionPrevious {
		order = "DESC"
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE parent_id=$1`
	args := []any{parentID}
	if len(statuses) > 0 {
		codes := make([]int32, 0, len(statuses))
		for _, st := range statuses {
			codes = append(codes, int32(st))
		}
		args = append(args, codes)
		query += fmt.Sprintf(` AND status = ANY($%d)`, len(args))
	}
	query += ` ORDER BY id ` + order + ` LIMIT 1`

	row := s.pool.QueryRow(ctx, query, args...)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrStoreNotFound
		}
		return Task{}, fmt.Errorf("sequence boundary: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) CurrentLock(ctx context.Context, taskID int64) (Lock, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT task_id, user_id, token, locked_at, expires
		   FROM task_locks WHERE task_id=$1 AND expires > now()`,
		taskID,
	)
	lock, err := scanLock(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Lock{TaskID: taskID}, nil
		}
		return Lock{}, fmt.Errorf("current lock: %w", err)
	}
	return lock, nil
}

func (s *PostgresStore) AcquireLock(ctx context.Context, taskID, userID int64, ttl time.Duration) (Lock, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tasks WHERE id=$1)`, taskID).Scan(&exists); err != nil {
		return Lock{}, fmt.Errorf("check task exists: %w", err)
	}
	if !exists {
		return Lock{}, ErrStoreNotFound
	}

	now := time.Now().UTC()
	expires := now.Add(ttl)
	// The conditional upsert lets the holder refresh its own lock and lets
	// anyone replace an expired one; a live lock by another user yields no
	// row, which maps to ErrLockHeld.
	row := s.pool.QueryRow(ctx,
		`INSERT INTO task_locks (task_id, user_id, token, locked_at, expires)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (task_id) DO UPDATE SET
			user_id=EXCLUDED.user_id,
			token=EXCLUDED.token,
			locked_at=EXCLUDED.locked_at,
			expires=EXCLUDED.expires
		 WHERE task_locks.user_id = EXCLUDED.user_id OR task_locks.expires <= now()
		 RETURNING task_id, user_id, token, locked_at, expires`,
		taskID, userID, uuid.NewString(), now, expires,
	)
	lock, err := scanLock(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Lock{}, ErrLockHeld
		}
		return Lock{}, fmt.Errorf("acquire lock: %w", err)
	}
	return lock, nil
}

func (s *PostgresStore) ReleaseLock(ctx context.Context, taskID, userID int64) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM task_locks WHERE task_id=$1 AND user_id=$2 AND expires > now()`,
		taskID, userID,
	)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLockNotHeld
	}
	return nil
}

func (s *PostgresStore) ReleaseExpiredLocks(ctx context.Context) ([]Lock, error) {
	rows, err := s.pool.Query(ctx,
		`DELETE FROM task_locks WHERE expires <= now()
		 RETURNING task_id, user_id, token, locked_at, expires`,
	)
	if err != nil {
		return nil, fmt.Errorf("release expired locks: %w", err)
	}
	defer rows.Close()

	var released []Lock
	for rows.Next() {
		lock, err := scanLock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan released lock: %w", err)
		}
		released = append(released, lock)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate released locks: %w", err)
	}
	return released, nil
}

func (s *PostgresStore) LastModifiedUser(ctx context.Context, taskID int64) (UserSummary, error) {
	var user UserSummary
	err := s.pool.QueryRow(ctx,
		`SELECT osm_id, user_id, display_name FROM task_audit WHERE task_id=$1`,
		taskID,
	).Scan(&user.OSMID, &user.ID, &user.DisplayName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserSummary{}, ErrStoreNotFound
		}
		return UserSummary{}, fmt.Errorf("last modified user: %w", err)
	}
	return user, nil
}

func scanTask(row pgx.Row) (Task, error) {
	var (
		t        Task
		status   int
		priority int
		geometry []byte
		lon, lat *float64
	)
	if err := row.Scan(
		&t.ID,
		&t.ParentID,
		&t.Name,
		&t.Instruction,
		&geometry,
		&status,
		&priority,
		&lon,
		&lat,
		&t.MappedOn,
		&t.Created,
		&t.Modified,
	); err != nil {
		return Task{}, err
	}
	t.Status = Status(status)
	t.Priority = Priority(priority)
	t.Geometry = geometry
	if lon != nil && lat != nil {
		t.Location = &Point{Lon: *lon, Lat: *lat}
	}
	return t, nil
}

func scanLock(row pgx.Row) (Lock, error) {
	var (
		lock     Lock
		lockedAt time.Time
		expires  time.Time
	)
	if err := row.Scan(&lock.TaskID, &lock.UserID, &lock.Token, &lockedAt, &expires); err != nil {
		return Lock{}, err
	}
	lock.LockedAt = &lockedAt
	lock.Expires = &expires
	return lock, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
