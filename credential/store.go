package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/MrEthical07/goTrust/credential/migrations"
)

// Credential is one stored hardware-authenticator credential, decrypted.
type Credential struct {
	CredentialID      string
	Subject           string
	PublicKey         []byte
	AAGUID            []byte
	SignCount         uint32
	Transports        []string
	AttestationFormat string
	UserVerified      bool
	CreatedAt         time.Time
	LastUsedAt        *time.Time

	// KeyID names the encryption key that sealed this row.
	KeyID string
}

// Store persists credentials in SQLite, sealing public keys and AAGUIDs with
// the keyring before they touch disk. Safe for concurrent use.
type Store struct {
	db      *sql.DB
	keyring *Keyring
	clock   func() time.Time
}

// Open creates a [Store] on the given SQLite DSN. Call
// [Store.ApplyMigrations] before first use.
func Open(dsn string, keyring *Keyring) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// SQLite allows a single writer; one pooled connection serializes
	// transactions instead of surfacing SQLITE_BUSY to callers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return NewStore(db, keyring)
}

// NewStore wraps an existing database handle.
func NewStore(db *sql.DB, keyring *Keyring) (*Store, error) {
	if keyring == nil {
		return nil, fmt.Errorf("%w: keyring required", ErrValidation)
	}
	return &Store{db: db, keyring: keyring, clock: time.Now}, nil
}

// SetClock overrides the wall clock, for tests.
func (s *Store) SetClock(clock func() time.Time) {
	s.clock = clock
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// ApplyMigrations applies any pending schema migrations from the embedded
// migration files.
func (s *Store) ApplyMigrations() error {
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return err
	}

	src, err := iofs.New(migrations.Migrations, ".")
	if err != nil {
		return err
	}

	instance, err := migrate.NewWithInstance("iofs", src, "", driver)
	if err != nil {
		return err
	}

	if err := instance.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// StoreCredential seals the public key and AAGUID independently, each under
// its own fresh nonce, and inserts the row. Storing an id that already
// exists fails with [ErrDuplicateCredential].
func (s *Store) StoreCredential(ctx context.Context, cred Credential) error {
	if cred.CredentialID == "" {
		return fmt.Errorf("%w: empty credential id", ErrValidation)
	}
	if cred.Subject == "" {
		return fmt.Errorf("%w: empty subject", ErrValidation)
	}

	keyID, pkCipher, pkNonce, err := s.keyring.Encrypt(cred.PublicKey)
	if err != nil {
		return err
	}

	var aaguidCipher, aaguidNonce []byte
	if len(cred.AAGUID) > 0 {
		if _, aaguidCipher, aaguidNonce, err = s.keyring.Encrypt(cred.AAGUID); err != nil {
			return err
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (
			credential_id, subject,
			public_key_cipher, public_key_nonce,
			aaguid_cipher, aaguid_nonce,
			key_id, sign_count, transports, attestation_format,
			user_verified, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cred.CredentialID, cred.Subject,
		pkCipher, pkNonce,
		aaguidCipher, aaguidNonce,
		keyID, cred.SignCount, strings.Join(cred.Transports, " "),
		cred.AttestationFormat, cred.UserVerified, s.clock().Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateCredential, cred.CredentialID)
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return nil
}

// GetCredential returns the decrypted credential, or (nil, nil) when the id
// is unknown. An AEAD open failure surfaces as [ErrIntegrity].
func (s *Store) GetCredential(ctx context.Context, credentialID string) (*Credential, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE credential_id = ?`, credentialID)

	cred, err := s.scanCredential(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return cred, nil
}

// GetCredentialsForSubject returns every credential registered to the
// subject, each independently decrypted, oldest first.
func (s *Store) GetCredentialsForSubject(ctx context.Context, subject string) ([]*Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` WHERE subject = ? ORDER BY created_at, credential_id`, subject)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var creds []*Credential
	for rows.Next() {
		cred, err := s.scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return creds, nil
}

// UpdateSignCount advances the stored signature counter to newCount and
// stamps last_used_at, returning the prior value. The read and write run in
// one transaction, serializing concurrent updates to the same credential.
//
// A newCount that does not strictly exceed the stored counter is rejected
// with a [CounterRegressionError] and mutates nothing. Callers must treat
// that error as a possible cloning incident, not a transient failure.
func (s *Store) UpdateSignCount(ctx context.Context, credentialID string, newCount uint32) (uint32, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer func() {
		_ = tx.Rollback() // no-op after commit
	}()

	var stored uint32
	err = tx.QueryRowContext(ctx,
		`SELECT sign_count FROM credentials WHERE credential_id = ?`, credentialID).Scan(&stored)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, credentialID)
		}
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if newCount <= stored {
		return stored, &CounterRegressionError{
			CredentialID: credentialID,
			Stored:       stored,
			Provided:     newCount,
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE credentials SET sign_count = ?, last_used_at = ? WHERE credential_id = ?`,
		newCount, s.clock().Unix(), credentialID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return stored, nil
}

// DeleteCredential removes the row and reports whether it existed.
// Idempotent: deleting a missing credential returns (false, nil).
func (s *Store) DeleteCredential(ctx context.Context, credentialID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE credential_id = ?`, credentialID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

// CountCredentialsForSubject reports how many credentials the subject has
// registered, supporting "at least one must remain" policies.
func (s *Store) CountCredentialsForSubject(ctx context.Context, subject string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM credentials WHERE subject = ?`, subject).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

const selectColumns = `
	SELECT credential_id, subject,
	       public_key_cipher, public_key_nonce,
	       aaguid_cipher, aaguid_nonce,
	       key_id, sign_count, transports, attestation_format,
	       user_verified, created_at, last_used_at
	FROM credentials`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanCredential(row rowScanner) (*Credential, error) {
	var (
		cred         Credential
		pkCipher     []byte
		pkNonce      []byte
		aaguidCipher []byte
		aaguidNonce  []byte
		transports   string
		createdAt    int64
		lastUsedAt   sql.NullInt64
	)

	err := row.Scan(
		&cred.CredentialID, &cred.Subject,
		&pkCipher, &pkNonce,
		&aaguidCipher, &aaguidNonce,
		&cred.KeyID, &cred.SignCount, &transports, &cred.AttestationFormat,
		&cred.UserVerified, &createdAt, &lastUsedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if cred.PublicKey, err = s.keyring.Decrypt(cred.KeyID, pkCipher, pkNonce); err != nil {
		return nil, err
	}
	if len(aaguidCipher) > 0 {
		if cred.AAGUID, err = s.keyring.Decrypt(cred.KeyID, aaguidCipher, aaguidNonce); err != nil {
			return nil, err
		}
	}

	if transports != "" {
		cred.Transports = strings.Split(transports, " ")
	}
	cred.CreatedAt = time.Unix(createdAt, 0)
	if lastUsedAt.Valid {
		t := time.Unix(lastUsedAt.Int64, 0)
		cred.LastUsedAt = &t
	}

	return &cred, nil
}

// The modernc driver reports constraint violations as plain errors; the
// message is the only stable discriminator.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
