package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"github.com/Masterminds/squirrel"
	"github.com/antluqmol1/openid-authentication/internal/api/portal/session"
	"github.com/antluqmol1/openid-authentication/internal/secret"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"time"
)

//go:embed migrations/*.sql
var migrations embed.FS

var tokenLength = 48

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// Driver represents the PostgreSQL session storage driver
type Driver struct {
	dsn string
	db  *pgxpool.Pool
}

var _ session.Storage = (*Driver)(nil)

// New creates a new PostgreSQL session storage driver.
// Use Initialize to open the database connection.
func New(dsn string) *Driver {
	return &Driver{
		dsn: dsn,
	}
}

// Initialize opens the database connection and migrates the database
func (driver *Driver) Initialize(ctx context.Context) error {
	// Perform SQL migrations
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}
	migrator, err := migrate.NewWithSourceInstance("iofs", source, driver.dsn)
	if err != nil {
		return err
	}
	defer migrator.Close()
	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	// Initialize the database connection pool
	pool, err := pgxpool.Connect(ctx, driver.dsn)
	if err != nil {
		return err
	}
	driver.db = pool
	return nil
}

// GetByRawToken retrieves a non-expired session by its raw (prior hashing) token
func (driver *Driver) GetByRawToken(ctx context.Context, rawToken string) (*session.Session, error) {
	hash, err := secret.Hash(rawToken)
	if err != nil {
		return nil, nil
	}

	sql, vals, err := psql.Select("data").
		From("sessions").
		Where(squirrel.Eq{"token": hash}).
		Where(squirrel.Gt{"expires": time.Now().Unix()}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var data []byte
	if err := driver.db.QueryRow(ctx, sql, vals...).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	ses := new(session.Session)
	if err := json.Unmarshal(data, ses); err != nil {
		return nil, err
	}
	ses.Token = hash
	return ses, nil
}

// Create creates a new empty session
func (driver *Driver) Create(ctx context.Context, expires int64) (string, *session.Session, error) {
	rawToken, token := secret.MustNew(tokenLength)
	ses := &session.Session{
		Token:   token,
		Expires: expires,
	}

	data, err := json.Marshal(ses)
	if err != nil {
		return "", nil, err
	}
	sql, vals, err := psql.Insert("sessions").
		Columns("token", "expires", "data").
		Values(token, expires, string(data)).
		ToSql()
	if err != nil {
		return "", nil, err
	}
	if _, err := driver.db.Exec(ctx, sql, vals...); err != nil {
		return "", nil, err
	}
	return rawToken, ses, nil
}

// Update replaces the stored state of an existing session
func (driver *Driver) Update(ctx context.Context, ses *session.Session) error {
	data, err := json.Marshal(ses)
	if err != nil {
		return err
	}
	sql, vals, err := psql.Update("sessions").
		Set("expires", ses.Expires).
		Set("data", string(data)).
		Where(squirrel.Eq{"token": ses.Token}).
		ToSql()
	if err != nil {
		return err
	}
	tag, err := driver.db.Exec(ctx, sql, vals...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return session.ErrNotFound
	}
	return nil
}

// Terminate terminates a session by its (hashed) token
func (driver *Driver) Terminate(ctx context.Context, token string) error {
	_, err := driver.db.Exec(ctx, "DELETE FROM sessions WHERE token = $1", token)
	return err
}

// TerminateExpired terminates all sessions that are expired
func (driver *Driver) TerminateExpired(ctx context.Context) (int, error) {
	tag, err := driver.db.Exec(ctx, "DELETE FROM sessions WHERE expires <= $1", time.Now().Unix())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Close closes the database connection
func (driver *Driver) Close() {
	if driver.db != nil {
		driver.db.Close()
		driver.db = nil
	}
}
