package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/urd-project/urd/internal/account"
	"github.com/urd-project/urd/internal/protocol"
)

// Account field limits imposed by the LoginRequest layout (24-byte
// regions including the terminating NUL).
const (
	MaxUserIDLen   = protocol.UserIDSize - 1
	MaxPasswordLen = protocol.PasswordSize - 1
)

// ErrAccountExists is returned by Create for a taken user id.
var ErrAccountExists = errors.New("account already exists")

// AccountsDatabase stores login accounts with bcrypt password hashes.
// It implements account.Store and account.Recorder.
type AccountsDatabase struct {
	db   *Database
	cost int
	now  func() time.Time
}

// NewAccount describes an account to create.
type NewAccount struct {
	UserID    string
	Password  string
	Level     uint32
	Sex       protocol.Sex
	ExpiresAt time.Time
}

// NewAccountsDatabase creates the account store on top of d.
func NewAccountsDatabase(d *Database) *AccountsDatabase {
	return &AccountsDatabase{
		db:   d,
		cost: bcrypt.DefaultCost,
		now:  time.Now,
	}
}

// SetHashCost sets the bcrypt cost for new password hashes.
func (a *AccountsDatabase) SetHashCost(cost int) {
	a.cost = cost
}

const accountColumns = `id, userid, level, sex, state, expires_at, banned_until,
	login_count, last_login, last_ip, created_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row scanner, extra ...interface{}) (account.Account, error) {
	var (
		acc                                 account.Account
		sex                                 string
		expires, banned, lastLogin, created int64
	)
	dest := []interface{}{
		&acc.ID, &acc.UserID, &acc.Level, &sex, &acc.State,
		&expires, &banned, &acc.LoginCount, &lastLogin, &acc.LastIP, &created,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return account.Account{}, err
	}

	acc.Sex = protocol.ParseSex(sex)
	acc.ExpiresAt = fromUnix(expires)
	acc.BannedUntil = fromUnix(banned)
	acc.LastLogin = fromUnix(lastLogin)
	acc.CreatedAt = fromUnix(created)
	return acc, nil
}

func validateCredentials(userID, password string) error {
	if userID == "" {
		return fmt.Errorf("user id must not be empty")
	}
	if len(userID) > MaxUserIDLen {
		return fmt.Errorf("user id %q is longer than %d bytes", userID, MaxUserIDLen)
	}
	if strings.ContainsRune(userID, 0) {
		return fmt.Errorf("user id contains a NUL byte")
	}
	if len(password) > MaxPasswordLen {
		return fmt.Errorf("password is longer than %d bytes", MaxPasswordLen)
	}
	return nil
}

// Create inserts a new account and returns it with its assigned id.
// Ids start at account.FirstAccountID.
func (a *AccountsDatabase) Create(ctx context.Context, na NewAccount) (account.Account, error) {
	if err := validateCredentials(na.UserID, na.Password); err != nil {
		return account.Account{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(na.Password), a.cost)
	if err != nil {
		return account.Account{}, fmt.Errorf("failed to hash password: %w", err)
	}

	created := a.now().UTC().Truncate(time.Second)
	var id uint32

	err = a.db.Transaction(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM accounts WHERE userid = ?", na.UserID).Scan(&exists); err != nil {
			return err
		}
		if exists > 0 {
			return ErrAccountExists
		}

		if err := tx.QueryRowContext(ctx,
			"SELECT COALESCE(MAX(id) + 1, ?) FROM accounts", account.FirstAccountID).Scan(&id); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO accounts (id, userid, password_hash, level, sex, expires_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, na.UserID, string(hash), na.Level, na.Sex.Char(), toUnix(na.ExpiresAt), created.Unix())
		return err
	})
	if err != nil {
		if errors.Is(err, ErrAccountExists) {
			return account.Account{}, err
		}
		return account.Account{}, fmt.Errorf("failed to create account: %w", err)
	}

	log.Info().
		Str("userid", na.UserID).
		Uint32("account_id", id).
		Msg("account created")

	return account.Account{
		ID:        id,
		UserID:    na.UserID,
		Level:     na.Level,
		Sex:       na.Sex,
		ExpiresAt: na.ExpiresAt,
		CreatedAt: created,
	}, nil
}

// Get returns the account for userID or account.ErrUnknownAccount.
func (a *AccountsDatabase) Get(ctx context.Context, userID string) (account.Account, error) {
	row := a.db.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE userid = ?", userID)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return account.Account{}, account.ErrUnknownAccount
	}
	if err != nil {
		return account.Account{}, fmt.Errorf("failed to load account %q: %w", userID, err)
	}
	return acc, nil
}

// List returns all accounts ordered by id.
func (a *AccountsDatabase) List(ctx context.Context) ([]account.Account, error) {
	rows, err := a.db.Query(ctx, "SELECT "+accountColumns+" FROM accounts ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []account.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

// Delete removes the account for userID.
func (a *AccountsDatabase) Delete(ctx context.Context, userID string) error {
	return a.update(ctx, userID, "DELETE FROM accounts WHERE userid = ?", userID)
}

// SetState blocks or unblocks an account.
func (a *AccountsDatabase) SetState(ctx context.Context, userID string, state account.State) error {
	return a.update(ctx, userID, "UPDATE accounts SET state = ? WHERE userid = ?", state, userID)
}

// SetBan prohibits logins until the given time. A zero time lifts the ban.
func (a *AccountsDatabase) SetBan(ctx context.Context, userID string, until time.Time) error {
	return a.update(ctx, userID, "UPDATE accounts SET banned_until = ? WHERE userid = ?", toUnix(until), userID)
}

// SetExpiry sets the account expiry. A zero time means it never expires.
func (a *AccountsDatabase) SetExpiry(ctx context.Context, userID string, at time.Time) error {
	return a.update(ctx, userID, "UPDATE accounts SET expires_at = ? WHERE userid = ?", toUnix(at), userID)
}

// SetPassword replaces the password hash.
func (a *AccountsDatabase) SetPassword(ctx context.Context, userID, password string) error {
	if err := validateCredentials(userID, password); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	return a.update(ctx, userID, "UPDATE accounts SET password_hash = ? WHERE userid = ?", string(hash), userID)
}

func (a *AccountsDatabase) update(ctx context.Context, userID, query string, args ...interface{}) error {
	res, err := a.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update account %q: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return account.ErrUnknownAccount
	}
	return nil
}

// Authenticate implements account.Store.
func (a *AccountsDatabase) Authenticate(ctx context.Context, userID, password string) (account.Account, error) {
	row := a.db.QueryRow(ctx,
		"SELECT "+accountColumns+", password_hash FROM accounts WHERE userid = ?", userID)

	var hash string
	acc, err := scanAccount(row, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return account.Account{}, account.ErrUnknownAccount
	}
	if err != nil {
		return account.Account{}, fmt.Errorf("failed to load account %q: %w", userID, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return account.Account{}, account.ErrBadPassword
		}
		return account.Account{}, fmt.Errorf("failed to verify password for %q: %w", userID, err)
	}

	if err := acc.Check(a.now()); err != nil {
		return account.Account{}, err
	}
	return acc, nil
}

// RecordLogin implements account.Recorder.
func (a *AccountsDatabase) RecordLogin(ctx context.Context, accountID uint32, remote string) error {
	_, err := a.db.Exec(ctx, `
		UPDATE accounts
		SET login_count = login_count + 1, last_login = ?, last_ip = ?
		WHERE id = ?`,
		a.now().Unix(), remote, accountID)
	if err != nil {
		return fmt.Errorf("failed to record login for account %d: %w", accountID, err)
	}
	return nil
}
