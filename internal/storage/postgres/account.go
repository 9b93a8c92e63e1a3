package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/cory-johannsen/floe/internal/auth"
	"github.com/cory-johannsen/floe/internal/datamodel"
)

// Account represents a player account in the database. The account id is
// the player id used on the wire.
type Account struct {
	ID           int64
	Username     string
	Nickname     string
	PasswordHash string
	CreatedAt    time.Time
}

// ErrAccountNotFound is returned when an account lookup yields no results.
var ErrAccountNotFound = errors.New("account not found")

// ErrAccountExists is returned when attempting to create a duplicate username.
var ErrAccountExists = errors.New("account already exists")

// ErrInvalidCredentials is returned when authentication fails.
var ErrInvalidCredentials = errors.New("invalid credentials")

// AccountRepository provides account persistence operations.
type AccountRepository struct {
	db *pgxpool.Pool
}

// NewAccountRepository creates an AccountRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewAccountRepository(db *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, username, nickname, password_hash, created_at`

func scanAccount(row pgx.Row) (Account, error) {
	var acct Account
	err := row.Scan(&acct.ID, &acct.Username, &acct.Nickname, &acct.PasswordHash, &acct.CreatedAt)
	return acct, err
}

// Create inserts a new account with a bcrypt-hashed password. An empty
// nickname defaults to the username.
//
// Precondition: username must be non-empty; password must be non-empty.
// Postcondition: Returns the created Account with ID and CreatedAt set,
// ErrAccountExists if the username is taken, or datamodel.ErrInvalidNickname
// if the resulting nickname could not be sent to clients.
func (r *AccountRepository) Create(ctx context.Context, username, nickname, password string) (Account, error) {
	if nickname == "" {
		nickname = username
	}
	if err := datamodel.ValidateNickname(nickname); err != nil {
		return Account{}, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return Account{}, fmt.Errorf("hashing password: %w", err)
	}

	acct, err := scanAccount(r.db.QueryRow(ctx,
		`INSERT INTO accounts (username, nickname, password_hash)
		 VALUES ($1, $2, $3)
		 RETURNING `+accountColumns,
		username, nickname, hash,
	))
	if err != nil {
		if isDuplicateKeyError(err) {
			return Account{}, ErrAccountExists
		}
		return Account{}, fmt.Errorf("inserting account: %w", err)
	}
	return acct, nil
}

// Authenticate verifies credentials and returns the matching account.
//
// Precondition: username and password must be non-empty.
// Postcondition: Returns the Account if credentials are valid,
// ErrAccountNotFound if the username doesn't exist,
// or ErrInvalidCredentials if the password is wrong.
func (r *AccountRepository) Authenticate(ctx context.Context, username, password string) (Account, error) {
	acct, err := r.GetByUsername(ctx, username)
	if err != nil {
		return Account{}, err
	}
	if !CheckPassword(password, acct.PasswordHash) {
		return Account{}, ErrInvalidCredentials
	}
	return acct, nil
}

// Validate implements auth.CredentialValidator.
//
// Postcondition: Maps ErrAccountNotFound to auth.ErrUnknownUser and
// ErrInvalidCredentials to auth.ErrWrongPassword; other errors are returned wrapped.
func (r *AccountRepository) Validate(ctx context.Context, username, password string) (auth.Identity, error) {
	acct, err := r.Authenticate(ctx, username, password)
	switch {
	case errors.Is(err, ErrAccountNotFound):
		return auth.Identity{}, fmt.Errorf("%q: %w", username, auth.ErrUnknownUser)
	case errors.Is(err, ErrInvalidCredentials):
		return auth.Identity{}, fmt.Errorf("%q: %w", username, auth.ErrWrongPassword)
	case err != nil:
		return auth.Identity{}, fmt.Errorf("validating %q: %w", username, err)
	}
	return auth.Identity{
		PlayerID: datamodel.PlayerID(acct.ID),
		Username: acct.Username,
		Nickname: acct.Nickname,
	}, nil
}

// GetByUsername retrieves an account by username, ignoring case.
//
// Precondition: username must be non-empty.
// Postcondition: Returns the Account or ErrAccountNotFound.
func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (Account, error) {
	acct, err := scanAccount(r.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE lower(username) = lower($1)`,
		username,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("querying account: %w", err)
	}
	return acct, nil
}

// SetPassword replaces the password of the given account.
//
// Postcondition: The hash is updated, or ErrAccountNotFound is returned.
func (r *AccountRepository) SetPassword(ctx context.Context, accountID int64, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE accounts SET password_hash = $1 WHERE id = $2`,
		hash, accountID,
	)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// SetNickname updates the display name of the given account.
//
// Postcondition: The nickname is updated, or ErrAccountNotFound or
// datamodel.ErrInvalidNickname is returned.
func (r *AccountRepository) SetNickname(ctx context.Context, accountID int64, nickname string) error {
	if err := datamodel.ValidateNickname(nickname); err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE accounts SET nickname = $1 WHERE id = $2`,
		nickname, accountID,
	)
	if err != nil {
		return fmt.Errorf("updating nickname: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// HashPassword creates a bcrypt hash of the given password.
//
// Precondition: password must be non-empty.
// Postcondition: Returns a bcrypt hash string.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash.
//
// Postcondition: Returns true if password matches the hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	// SQLSTATE 23505 is unique_violation.
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}

var _ auth.CredentialValidator = (*AccountRepository)(nil)
