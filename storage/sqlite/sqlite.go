// Package sqlite provides a relational implementation of all storage
// interfaces over SQLite. Consumption of challenges and claims is a single
// conditional UPDATE, so the exactly-one-winner guarantee holds across
// processes sharing the database file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/accelist/authgateway/principal"
	"github.com/accelist/authgateway/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS login_challenges (
	id          TEXT PRIMARY KEY,
	valid       INTEGER NOT NULL,
	valid_until INTEGER NOT NULL,
	return_url  TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS login_claims (
	id                    TEXT PRIMARY KEY,
	challenge_id          TEXT NOT NULL REFERENCES login_challenges(id),
	valid                 INTEGER NOT NULL,
	valid_until           INTEGER NOT NULL,
	subject               TEXT NOT NULL,
	remember_me           INTEGER NOT NULL,
	address               TEXT,
	birthdate             INTEGER,
	email                 TEXT,
	email_verified        INTEGER,
	family_name           TEXT,
	gender                TEXT,
	given_name            TEXT,
	locale                TEXT,
	middle_name           TEXT,
	name                  TEXT,
	nickname              TEXT,
	phone_number          TEXT,
	phone_number_verified INTEGER,
	picture               TEXT,
	preferred_username    TEXT,
	profile               TEXT,
	updated_at            INTEGER,
	website               TEXT,
	zoneinfo              TEXT,
	created_at            INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id             TEXT PRIMARY KEY,
	principal_json TEXT NOT NULL,
	persistent     INTEGER NOT NULL,
	created_at     INTEGER NOT NULL,
	expires_at     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS machine_clients (
	client_id   TEXT PRIMARY KEY,
	secret_hash TEXT NOT NULL,
	name        TEXT NOT NULL,
	scopes      TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);
`

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store implements gateway persistence over SQLite.
type Store struct {
	db *sql.DB
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.ChallengeStore = (*Store)(nil)
	_ storage.ClaimsStore    = (*Store)(nil)
	_ storage.SessionStore   = (*Store)(nil)
	_ storage.ClientStore    = (*Store)(nil)
	_ storage.Reaper         = (*Store)(nil)
	_ storage.Counter        = (*Store)(nil)
)

// Open opens a SQLite store at path and applies the schema. WAL keeps
// concurrent readers from blocking the single writer; the busy timeout covers
// write contention between gateway instances sharing the file.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// SQLite allows one writer at a time; a single pooled connection keeps
	// concurrent consumption attempts queued instead of failing with
	// SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CountChallenges returns the number of stored challenges, or 0 on error.
func (s *Store) CountChallenges() int64 {
	return s.countRows("login_challenges")
}

// CountClaims returns the number of stored claims records, or 0 on error.
func (s *Store) CountClaims() int64 {
	return s.countRows("login_claims")
}

// CountSessions returns the number of stored sessions, or 0 on error.
func (s *Store) CountSessions() int64 {
	return s.countRows("sessions")
}

func (s *Store) countRows(table string) int64 {
	var count int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
		return 0
	}
	return count
}

// SaveChallenge persists a new challenge.
func (s *Store) SaveChallenge(ctx context.Context, challenge *storage.LoginChallenge) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO login_challenges (id, valid, valid_until, return_url, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		challenge.ID, boolToInt(challenge.Valid), toMillis(challenge.ValidUntil),
		challenge.ReturnURL, toMillis(challenge.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert login challenge: %w", err)
	}
	return nil
}

// GetChallenge retrieves a challenge by ID regardless of validity.
func (s *Store) GetChallenge(ctx context.Context, id string) (*storage.LoginChallenge, error) {
	var challenge storage.LoginChallenge
	var valid int
	var validUntil, createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, valid, valid_until, return_url, created_at
		FROM login_challenges WHERE id = ?`,
		id,
	).Scan(&challenge.ID, &valid, &validUntil, &challenge.ReturnURL, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("select login challenge: %w", err)
	}
	challenge.Valid = valid != 0
	challenge.ValidUntil = fromMillis(validUntil)
	challenge.CreatedAt = fromMillis(createdAt)
	return &challenge, nil
}

// AtomicConsumeChallenge invalidates a consumable challenge and returns it.
// The conditional UPDATE is the race gate: zero rows affected means another
// consumer won, the challenge expired, or it never existed.
func (s *Store) AtomicConsumeChallenge(ctx context.Context, id string, now time.Time) (*storage.LoginChallenge, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE login_challenges SET valid = 0
		WHERE id = ? AND valid = 1 AND valid_until > ?`,
		id, toMillis(now),
	)
	if err != nil {
		return nil, fmt.Errorf("consume login challenge: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("consume login challenge: %w", err)
	}
	if rows != 1 {
		return nil, storage.ErrNotConsumable
	}
	return s.GetChallenge(ctx, id)
}

// SaveClaims persists a new claims record.
func (s *Store) SaveClaims(ctx context.Context, claims *storage.LoginClaims) error {
	attrs := claims.Attributes
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO login_claims (
			id, challenge_id, valid, valid_until, subject, remember_me,
			address, birthdate, email, email_verified, family_name, gender,
			given_name, locale, middle_name, name, nickname, phone_number,
			phone_number_verified, picture, preferred_username, profile,
			updated_at, website, zoneinfo, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		claims.ID, claims.ChallengeID, boolToInt(claims.Valid), toMillis(claims.ValidUntil),
		claims.Subject, boolToInt(claims.RememberMe),
		nullString(attrs.Address), nullMillis(attrs.Birthdate),
		nullString(attrs.Email), nullBool(attrs.EmailVerified),
		nullString(attrs.FamilyName), nullString(attrs.Gender),
		nullString(attrs.GivenName), nullString(attrs.Locale),
		nullString(attrs.MiddleName), nullString(attrs.Name),
		nullString(attrs.Nickname), nullString(attrs.PhoneNumber),
		nullBool(attrs.PhoneNumberVerified), nullString(attrs.Picture),
		nullString(attrs.PreferredUsername), nullString(attrs.Profile),
		nullMillis(attrs.UpdatedAt), nullString(attrs.Website),
		nullString(attrs.Zoneinfo), toMillis(claims.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert login claims: %w", err)
	}
	return nil
}

// AtomicConsumeClaims invalidates a consumable claims record and returns it.
func (s *Store) AtomicConsumeClaims(ctx context.Context, id string, now time.Time) (*storage.LoginClaims, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE login_claims SET valid = 0
		WHERE id = ? AND valid = 1 AND valid_until > ?`,
		id, toMillis(now),
	)
	if err != nil {
		return nil, fmt.Errorf("consume login claims: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("consume login claims: %w", err)
	}
	if rows != 1 {
		return nil, storage.ErrNotConsumable
	}
	return s.getClaims(ctx, id)
}

func (s *Store) getClaims(ctx context.Context, id string) (*storage.LoginClaims, error) {
	var claims storage.LoginClaims
	var valid, rememberMe int
	var validUntil, createdAt int64
	var address, email, familyName, gender, givenName, locale sql.NullString
	var middleName, name, nickname, phoneNumber, picture sql.NullString
	var preferredUsername, profile, website, zoneinfo sql.NullString
	var birthdate, updatedAt sql.NullInt64
	var emailVerified, phoneNumberVerified sql.NullBool

	err := s.db.QueryRowContext(ctx,
		`SELECT id, challenge_id, valid, valid_until, subject, remember_me,
			address, birthdate, email, email_verified, family_name, gender,
			given_name, locale, middle_name, name, nickname, phone_number,
			phone_number_verified, picture, preferred_username, profile,
			updated_at, website, zoneinfo, created_at
		FROM login_claims WHERE id = ?`,
		id,
	).Scan(
		&claims.ID, &claims.ChallengeID, &valid, &validUntil, &claims.Subject, &rememberMe,
		&address, &birthdate, &email, &emailVerified, &familyName, &gender,
		&givenName, &locale, &middleName, &name, &nickname, &phoneNumber,
		&phoneNumberVerified, &picture, &preferredUsername, &profile,
		&updatedAt, &website, &zoneinfo, &createdAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("select login claims: %w", err)
	}

	claims.Valid = valid != 0
	claims.RememberMe = rememberMe != 0
	claims.ValidUntil = fromMillis(validUntil)
	claims.CreatedAt = fromMillis(createdAt)
	claims.Attributes = principal.ProfileAttributes{
		Address:             stringPtr(address),
		Birthdate:           timePtrFrom(birthdate),
		Email:               stringPtr(email),
		EmailVerified:       boolPtrFrom(emailVerified),
		FamilyName:          stringPtr(familyName),
		Gender:              stringPtr(gender),
		GivenName:           stringPtr(givenName),
		Locale:              stringPtr(locale),
		MiddleName:          stringPtr(middleName),
		Name:                stringPtr(name),
		Nickname:            stringPtr(nickname),
		PhoneNumber:         stringPtr(phoneNumber),
		PhoneNumberVerified: boolPtrFrom(phoneNumberVerified),
		Picture:             stringPtr(picture),
		PreferredUsername:   stringPtr(preferredUsername),
		Profile:             stringPtr(profile),
		UpdatedAt:           timePtrFrom(updatedAt),
		Website:             stringPtr(website),
		Zoneinfo:            stringPtr(zoneinfo),
	}
	return &claims, nil
}

// SaveSession persists a session with the principal serialized as JSON.
func (s *Store) SaveSession(ctx context.Context, session *storage.Session) error {
	principalJSON, err := json.Marshal(session.Principal)
	if err != nil {
		return fmt.Errorf("marshal session principal: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, principal_json, persistent, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)`,
		session.ID, string(principalJSON), boolToInt(session.Persistent),
		toMillis(session.CreatedAt), toMillis(session.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession retrieves an unexpired session.
func (s *Store) GetSession(ctx context.Context, id string) (*storage.Session, error) {
	var session storage.Session
	var principalJSON string
	var persistent int
	var createdAt, expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, principal_json, persistent, created_at, expires_at
		FROM sessions WHERE id = ? AND expires_at > ?`,
		id, toMillis(time.Now()),
	).Scan(&session.ID, &principalJSON, &persistent, &createdAt, &expiresAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("select session: %w", err)
	}
	if err := json.Unmarshal([]byte(principalJSON), &session.Principal); err != nil {
		return nil, fmt.Errorf("unmarshal session principal: %w", err)
	}
	session.Persistent = persistent != 0
	session.CreatedAt = fromMillis(createdAt)
	session.ExpiresAt = fromMillis(expiresAt)
	return &session, nil
}

// DeleteSession removes a session.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// SaveClient persists a machine client registration. Scopes are stored
// space-joined, matching the OAuth scope parameter encoding.
func (s *Store) SaveClient(ctx context.Context, client *storage.MachineClient) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO machine_clients (client_id, secret_hash, name, scopes, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(client_id) DO UPDATE SET
			secret_hash = excluded.secret_hash,
			name = excluded.name,
			scopes = excluded.scopes`,
		client.ClientID, client.SecretHash, client.Name,
		strings.Join(client.Scopes, " "), toMillis(client.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert machine client: %w", err)
	}
	return nil
}

// GetClient retrieves a machine client by ID.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.MachineClient, error) {
	var client storage.MachineClient
	var scopes string
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT client_id, secret_hash, name, scopes, created_at
		FROM machine_clients WHERE client_id = ?`,
		clientID,
	).Scan(&client.ClientID, &client.SecretHash, &client.Name, &scopes, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("select machine client: %w", err)
	}
	if scopes != "" {
		client.Scopes = strings.Fields(scopes)
	}
	client.CreatedAt = fromMillis(createdAt)
	return &client, nil
}

// ValidateClientSecret checks a client's secret against its bcrypt hash.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		return err
	}
	return bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(clientSecret))
}

// DeleteExpired removes challenges, claims, and sessions past their validity
// window. Hygiene only; consumption never depends on it.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var removed int64
	millis := toMillis(now)

	// Claims reference challenges, so expired claims go first.
	for _, q := range []string{
		`DELETE FROM login_claims WHERE valid_until <= ?`,
		`DELETE FROM login_challenges WHERE valid_until <= ?
			AND id NOT IN (SELECT challenge_id FROM login_claims)`,
		`DELETE FROM sessions WHERE expires_at <= ?`,
	} {
		result, err := s.db.ExecContext(ctx, q, millis)
		if err != nil {
			return removed, fmt.Errorf("delete expired rows: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return removed, fmt.Errorf("delete expired rows: %w", err)
		}
		removed += rows
	}
	return removed, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

func nullBool(value *bool) sql.NullBool {
	if value == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *value, Valid: true}
}

func nullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func stringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func boolPtrFrom(value sql.NullBool) *bool {
	if !value.Valid {
		return nil
	}
	v := value.Bool
	return &v
}

func timePtrFrom(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	v := fromMillis(value.Int64)
	return &v
}
