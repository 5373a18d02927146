package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore is the server backend, for deployments shared by several
// users.
type PostgresStore struct {
	sqlStore
}

// NewPostgresStore connects to PostgreSQL with a lib/pq connection string
// and initializes the schema.
func NewPostgresStore(dataSourceName string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &PostgresStore{sqlStore{db: db, dialect: dialect{
		name:              "postgres",
		timestampType:     "TIMESTAMPTZ",
		numberedParams:    true,
		isUniqueViolation: isPostgresUniqueViolation,
	}}}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return s, nil
}

func isPostgresUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
