package pg

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"identra.org/internal/auth"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Store implements auth.Store on Postgres.
type Store struct {
	db *sql.DB
}

var _ auth.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection, used by tests with sqlmock.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Users() auth.UserStore                      { return (*userStore)(s) }
func (s *Store) Clients() auth.ClientStore                  { return (*clientStore)(s) }
func (s *Store) AuthCodes() auth.AuthCodeStore              { return (*authCodeStore)(s) }
func (s *Store) RefreshTokens() auth.RefreshTokenStore      { return (*refreshTokenStore)(s) }
func (s *Store) Verifications() auth.VerificationTokenStore { return (*verificationStore)(s) }
func (s *Store) RecoveryCodes() auth.RecoveryCodeStore      { return (*recoveryCodeStore)(s) }
func (s *Store) Roles() auth.RoleStore                      { return (*roleStore)(s) }
func (s *Store) Policies() auth.PolicyStore                 { return (*policyStore)(s) }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
