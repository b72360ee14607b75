package inmem

import (
	"context"
	"github.com/antluqmol1/openid-authentication/internal/api/portal/session"
	"github.com/antluqmol1/openid-authentication/internal/secret"
	"github.com/hashicorp/go-memdb"
	"time"
)

var tokenLength = 48

var dbSchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		"sessions": {
			Name: "sessions",
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:         "id",
					Unique:       true,
					AllowMissing: false,
					Indexer:      &memdb.StringFieldIndex{Field: "Token"},
				},
				"expires": {
					Name:         "expires",
					Unique:       false,
					AllowMissing: false,
					Indexer:      &memdb.IntFieldIndex{Field: "Expires"},
				},
			},
		},
	},
}

// Driver represents the in-memory session storage driver built using hashicorp/go-memdb
type Driver struct {
	db *memdb.MemDB
}

var _ session.Storage = (*Driver)(nil)

// New creates a new empty in-memory session storage driver
func New() (*Driver, error) {
	db, err := memdb.NewMemDB(dbSchema)
	if err != nil {
		return nil, err
	}
	return &Driver{db}, nil
}

// GetByRawToken retrieves a non-expired session by its raw (prior hashing) token
func (driver *Driver) GetByRawToken(_ context.Context, rawToken string) (*session.Session, error) {
	hash, err := secret.Hash(rawToken)
	if err != nil {
		return nil, nil
	}

	txn := driver.db.Txn(false)
	obj, err := txn.First("sessions", "id", hash)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, nil
	}

	ses := obj.(*session.Session)
	if ses.IsExpired(time.Now()) {
		return nil, nil
	}
	// Stored objects must never be mutated in place
	return ses.Clone(), nil
}

// Create creates a new empty session
func (driver *Driver) Create(_ context.Context, expires int64) (string, *session.Session, error) {
	rawToken, token := secret.MustNew(tokenLength)

	ses := &session.Session{
		Token:   token,
		Expires: expires,
	}

	txn := driver.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert("sessions", ses.Clone()); err != nil {
		return "", nil, err
	}
	txn.Commit()

	return rawToken, ses, nil
}

// Update replaces the stored state of an existing session
func (driver *Driver) Update(_ context.Context, ses *session.Session) error {
	txn := driver.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First("sessions", "id", ses.Token)
	if err != nil {
		return err
	}
	if existing == nil {
		return session.ErrNotFound
	}
	if err := txn.Insert("sessions", ses.Clone()); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// Terminate terminates a session by its (hashed) token
func (driver *Driver) Terminate(_ context.Context, token string) error {
	txn := driver.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll("sessions", "id", token); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// TerminateExpired terminates all sessions that are expired
func (driver *Driver) TerminateExpired(_ context.Context) (int, error) {
	txn := driver.db.Txn(true)
	defer txn.Abort()

	// The varint encoding of the expires index is not ordered numerically, so every session has to be checked
	it, err := txn.Get("sessions", "expires")
	if err != nil {
		return 0, err
	}

	now := time.Now()
	var expired []*session.Session
	for obj := it.Next(); obj != nil; obj = it.Next() {
		ses := obj.(*session.Session)
		if ses.IsExpired(now) {
			expired = append(expired, ses)
		}
	}
	for _, ses := range expired {
		if err := txn.Delete("sessions", ses); err != nil {
			return 0, err
		}
	}

	txn.Commit()
	return len(expired), nil
}

// Close is a no-op for the in-memory driver
func (driver *Driver) Close() {}
