package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/sportscave1/task-manager/domain"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tasks (
	id        BIGSERIAL PRIMARY KEY,
	user_id   TEXT NOT NULL DEFAULT '',
	task      TEXT NOT NULL CHECK (task <> ''),
	due_date  TEXT NOT NULL DEFAULT '',
	priority  TEXT NOT NULL CHECK (priority IN ('High', 'Medium', 'Low')),
	category  TEXT NOT NULL,
	completed BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS tasks_user_id_idx ON tasks (user_id);
`

// Postgres persists tasks and users in PostgreSQL tables.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects to dsn and creates the schema when missing.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

const taskColumns = `id, user_id, task, due_date, priority, category, completed`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var prio string
	if err := row.Scan(&t.ID, &t.OwnerID, &t.Description, &t.DueDate, &prio, &t.Category, &t.Completed); err != nil {
		return domain.Task{}, err
	}
	t.Priority = domain.Priority(prio)
	return t, nil
}

func (p *Postgres) InsertTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO tasks (user_id, task, due_date, priority, category, completed)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		t.OwnerID, t.Description, t.DueDate, string(t.Priority), t.Category, t.Completed,
	).Scan(&t.ID)
	if err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (p *Postgres) GetTask(ctx context.Context, id int64) (*domain.Task, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (p *Postgres) ListTasks(ctx context.Context, ownerID string) ([]domain.Task, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if ownerID == "" {
		rows, err = p.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY id`)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE user_id = $1 ORDER BY id`, ownerID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (p *Postgres) UpdateTask(ctx context.Context, t domain.Task) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE tasks SET task = $2, due_date = $3, priority = $4, category = $5, completed = $6 WHERE id = $1`,
		t.ID, t.Description, t.DueDate, string(t.Priority), t.Category, t.Completed,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NotFoundError{ID: t.ID}
	}
	return nil
}

func (p *Postgres) DeleteTask(ctx context.Context, t domain.Task) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, t.ID)
	return err
}

func (p *Postgres) InsertUser(ctx context.Context, u domain.User) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash) VALUES ($1, $2, $3)`,
		u.ID, u.Username, u.PasswordHash,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return domain.ConflictError{Username: u.Username}
	}
	return err
}

func (p *Postgres) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var u domain.User
	err := p.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash FROM users WHERE username = $1`, username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
