package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/keyhaven/guardian-recovery-backend/interfaces"
)

const recordSchema = `
CREATE TABLE IF NOT EXISTS setups (
	owner_id            TEXT PRIMARY KEY,
	owner_contact       TEXT NOT NULL,
	owner_key           TEXT NOT NULL,
	threshold           INTEGER NOT NULL,
	total_guardians     INTEGER NOT NULL,
	recovery_delay_secs INTEGER NOT NULL,
	inactivity_secs     INTEGER NOT NULL,
	validity_secs       INTEGER NOT NULL,
	last_check_in       TEXT NOT NULL,
	master_key          BLOB NOT NULL,
	key_version         INTEGER NOT NULL,
	pending_secret      BLOB,
	split_done          INTEGER NOT NULL DEFAULT 0,
	created_at          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS guardians (
	guardian_id          TEXT PRIMARY KEY,
	owner_id             TEXT NOT NULL REFERENCES setups(owner_id),
	identity             TEXT NOT NULL,
	display_name         TEXT NOT NULL,
	status               TEXT NOT NULL CHECK(status IN ('pending', 'accepted', 'declined', 'revoked')),
	verification_key     TEXT NOT NULL,
	fragment_index       INTEGER,
	fragment_key_version INTEGER,
	fragment_vault_id    TEXT,
	added_at             TEXT NOT NULL,
	accepted_at          TEXT,
	last_verified        TEXT
);

CREATE INDEX IF NOT EXISTS idx_guardians_owner ON guardians(owner_id);

CREATE TABLE IF NOT EXISTS requests (
	request_id         TEXT PRIMARY KEY,
	owner_id           TEXT NOT NULL REFERENCES setups(owner_id),
	initiator_id       TEXT NOT NULL,
	status             TEXT NOT NULL CHECK(status IN ('pending', 'disputed', 'completed', 'cancelled')),
	required_approvals INTEGER NOT NULL,
	initiated_at       TEXT NOT NULL,
	expires_at         TEXT NOT NULL,
	completed_at       TEXT,
	disputed_by        TEXT,
	dispute_reason     TEXT,
	archive_id         TEXT,
	version            INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_requests_owner ON requests(owner_id);
CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status);

CREATE TABLE IF NOT EXISTS approvals (
	request_id  TEXT NOT NULL REFERENCES requests(request_id),
	guardian_id TEXT NOT NULL,
	approved_at TEXT NOT NULL,
	signature   BLOB NOT NULL,
	PRIMARY KEY (request_id, guardian_id)
);
`

// SQLiteStore implements interfaces.Store on a single SQLite database.
//
// Recovery request rows carry a version counter. UpdateRequest and
// AppendApproval apply only when the stored version matches the caller's
// expected version, so concurrent mutations of the same request serialize
// into exactly one winner per version.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the recovery database at dbPath, creating the file
// and schema as needed.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+
		"?_pragma=journal_mode(WAL)"+
		"&_pragma=foreign_keys(ON)"+
		"&_pragma=busy_timeout(5000)"+ // Wait up to 5s on lock instead of returning SQLITE_BUSY immediately
		"&_pragma=synchronous(NORMAL)"+
		"&_pragma=wal_autocheckpoint(1000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Limit connection pool - SQLite handles concurrent writes poorly
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(recordSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func encodeNullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: encodeTime(t), Valid: true}
}

func decodeTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		slog.Warn("failed to parse stored timestamp", "value", value, "error", err)
		return time.Time{}
	}
	return t
}

func decodeNullTime(value sql.NullString) time.Time {
	if !value.Valid {
		return time.Time{}
	}
	return decodeTime(value.String)
}

func encodeNullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func encodeNullContentID(id interfaces.ContentID) sql.NullString {
	if id == (interfaces.ContentID{}) {
		return sql.NullString{}
	}
	return sql.NullString{String: id.String(), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// CreateSetup persists a new guardian setup for an owner.
func (s *SQLiteStore) CreateSetup(ctx context.Context, setup *interfaces.GuardianSetup) error {
	ownerKey, err := json.Marshal(setup.OwnerKey)
	if err != nil {
		return fmt.Errorf("encode owner key: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO setups (owner_id, owner_contact, owner_key, threshold, total_guardians,
		   recovery_delay_secs, inactivity_secs, validity_secs, last_check_in,
		   master_key, key_version, pending_secret, split_done, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		setup.Owner.String(), setup.Contact, string(ownerKey), setup.Threshold, setup.TotalGuardians,
		int64(setup.RecoveryDelay/time.Second), int64(setup.InactivityPeriod/time.Second),
		int64(setup.RequestValidity/time.Second), encodeTime(setup.LastCheckIn),
		setup.MasterKey, int64(setup.KeyVersion), setup.PendingSecret,
		boolToInt(setup.SplitDone), encodeTime(setup.CreatedAt))
	return err
}

// UpdateSetup overwrites the owner's setup.
func (s *SQLiteStore) UpdateSetup(ctx context.Context, setup *interfaces.GuardianSetup) error {
	ownerKey, err := json.Marshal(setup.OwnerKey)
	if err != nil {
		return fmt.Errorf("encode owner key: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE setups SET owner_contact = ?, owner_key = ?, threshold = ?, total_guardians = ?,
		   recovery_delay_secs = ?, inactivity_secs = ?, validity_secs = ?,
		   last_check_in = ?, master_key = ?, key_version = ?, pending_secret = ?,
		   split_done = ?
		 WHERE owner_id = ?`,
		setup.Contact, string(ownerKey), setup.Threshold, setup.TotalGuardians,
		int64(setup.RecoveryDelay/time.Second), int64(setup.InactivityPeriod/time.Second),
		int64(setup.RequestValidity/time.Second), encodeTime(setup.LastCheckIn),
		setup.MasterKey, int64(setup.KeyVersion), setup.PendingSecret,
		boolToInt(setup.SplitDone), setup.Owner.String())
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

// SetupByOwner retrieves the owner's setup.
func (s *SQLiteStore) SetupByOwner(ctx context.Context, owner interfaces.OwnerID) (*interfaces.GuardianSetup, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT owner_id, owner_contact, owner_key, threshold, total_guardians,
		   recovery_delay_secs, inactivity_secs, validity_secs, last_check_in,
		   master_key, key_version, pending_secret, split_done, created_at
		 FROM setups WHERE owner_id = ?`, owner.String())

	setup, err := scanSetup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	return setup, err
}

// Setups lists all guardian setups, oldest first.
func (s *SQLiteStore) Setups(ctx context.Context) ([]*interfaces.GuardianSetup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT owner_id, owner_contact, owner_key, threshold, total_guardians,
		   recovery_delay_secs, inactivity_secs, validity_secs, last_check_in,
		   master_key, key_version, pending_secret, split_done, created_at
		 FROM setups ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var setups []*interfaces.GuardianSetup
	for rows.Next() {
		setup, err := scanSetup(rows)
		if err != nil {
			return nil, err
		}
		setups = append(setups, setup)
	}
	return setups, rows.Err()
}

func scanSetup(row rowScanner) (*interfaces.GuardianSetup, error) {
	var (
		setup                              interfaces.GuardianSetup
		ownerID, ownerKey                  string
		delaySecs, inactiveSecs, validSecs int64
		lastCheckIn, createdAt             string
		keyVersion                         int64
		splitDone                          int
	)

	err := row.Scan(&ownerID, &setup.Contact, &ownerKey, &setup.Threshold, &setup.TotalGuardians,
		&delaySecs, &inactiveSecs, &validSecs, &lastCheckIn,
		&setup.MasterKey, &keyVersion, &setup.PendingSecret, &splitDone, &createdAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(ownerKey), &setup.OwnerKey); err != nil {
		return nil, fmt.Errorf("decode owner key: %w", err)
	}

	setup.Owner = interfaces.OwnerID(ownerID)
	setup.RecoveryDelay = time.Duration(delaySecs) * time.Second
	setup.InactivityPeriod = time.Duration(inactiveSecs) * time.Second
	setup.RequestValidity = time.Duration(validSecs) * time.Second
	setup.LastCheckIn = decodeTime(lastCheckIn)
	setup.KeyVersion = uint64(keyVersion)
	setup.SplitDone = splitDone != 0
	setup.CreatedAt = decodeTime(createdAt)
	return &setup, nil
}

// CreateGuardian persists a newly invited guardian.
func (s *SQLiteStore) CreateGuardian(ctx context.Context, g *interfaces.Guardian) error {
	key, err := json.Marshal(g.Key)
	if err != nil {
		return fmt.Errorf("encode verification key: %w", err)
	}

	var fragIndex, fragKeyVersion sql.NullInt64
	var fragVault sql.NullString
	if g.Fragment != nil {
		fragIndex = sql.NullInt64{Int64: int64(g.Fragment.Index), Valid: true}
		fragKeyVersion = sql.NullInt64{Int64: int64(g.Fragment.KeyVersion), Valid: true}
		fragVault = sql.NullString{String: g.Fragment.VaultID.String(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO guardians (guardian_id, owner_id, identity, display_name, status,
		   verification_key, fragment_index, fragment_key_version, fragment_vault_id,
		   added_at, accepted_at, last_verified)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID.String(), g.Owner.String(), g.Identity, g.DisplayName, g.Status.String(),
		string(key), fragIndex, fragKeyVersion, fragVault,
		encodeTime(g.AddedAt), encodeNullTime(g.AcceptedAt), encodeNullTime(g.LastVerified))
	return err
}

// UpdateGuardian overwrites a guardian record.
func (s *SQLiteStore) UpdateGuardian(ctx context.Context, g *interfaces.Guardian) error {
	key, err := json.Marshal(g.Key)
	if err != nil {
		return fmt.Errorf("encode verification key: %w", err)
	}

	var fragIndex, fragKeyVersion sql.NullInt64
	var fragVault sql.NullString
	if g.Fragment != nil {
		fragIndex = sql.NullInt64{Int64: int64(g.Fragment.Index), Valid: true}
		fragKeyVersion = sql.NullInt64{Int64: int64(g.Fragment.KeyVersion), Valid: true}
		fragVault = sql.NullString{String: g.Fragment.VaultID.String(), Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE guardians SET identity = ?, display_name = ?, status = ?,
		   verification_key = ?, fragment_index = ?, fragment_key_version = ?,
		   fragment_vault_id = ?, accepted_at = ?, last_verified = ?
		 WHERE guardian_id = ?`,
		g.Identity, g.DisplayName, g.Status.String(), string(key),
		fragIndex, fragKeyVersion, fragVault,
		encodeNullTime(g.AcceptedAt), encodeNullTime(g.LastVerified), g.ID.String())
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

// GuardianByID retrieves a guardian.
func (s *SQLiteStore) GuardianByID(ctx context.Context, id interfaces.GuardianID) (*interfaces.Guardian, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT guardian_id, owner_id, identity, display_name, status,
		   verification_key, fragment_index, fragment_key_version, fragment_vault_id,
		   added_at, accepted_at, last_verified
		 FROM guardians WHERE guardian_id = ?`, id.String())

	g, err := scanGuardian(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	return g, err
}

// GuardiansByOwner lists all guardians for an owner, in invitation order.
func (s *SQLiteStore) GuardiansByOwner(ctx context.Context, owner interfaces.OwnerID) ([]*interfaces.Guardian, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT guardian_id, owner_id, identity, display_name, status,
		   verification_key, fragment_index, fragment_key_version, fragment_vault_id,
		   added_at, accepted_at, last_verified
		 FROM guardians WHERE owner_id = ? ORDER BY added_at, guardian_id`, owner.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var guardians []*interfaces.Guardian
	for rows.Next() {
		g, err := scanGuardian(rows)
		if err != nil {
			return nil, err
		}
		guardians = append(guardians, g)
	}
	return guardians, rows.Err()
}

func scanGuardian(row rowScanner) (*interfaces.Guardian, error) {
	var (
		g                        interfaces.Guardian
		guardianID, ownerID      string
		status, key              string
		fragIndex, fragKeyVer    sql.NullInt64
		fragVault                sql.NullString
		addedAt                  string
		acceptedAt, lastVerified sql.NullString
	)

	err := row.Scan(&guardianID, &ownerID, &g.Identity, &g.DisplayName, &status,
		&key, &fragIndex, &fragKeyVer, &fragVault,
		&addedAt, &acceptedAt, &lastVerified)
	if err != nil {
		return nil, err
	}

	g.ID = interfaces.GuardianID(guardianID)
	g.Owner = interfaces.OwnerID(ownerID)

	g.Status, err = interfaces.ParseGuardianStatus(status)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(key), &g.Key); err != nil {
		return nil, fmt.Errorf("decode verification key: %w", err)
	}

	if fragIndex.Valid {
		vaultID, err := interfaces.NewContentIDFromHex(fragVault.String)
		if err != nil {
			return nil, fmt.Errorf("decode fragment vault id: %w", err)
		}
		g.Fragment = &interfaces.FragmentRef{
			Index:      int(fragIndex.Int64),
			KeyVersion: uint64(fragKeyVer.Int64),
			VaultID:    vaultID,
		}
	}

	g.AddedAt = decodeTime(addedAt)
	g.AcceptedAt = decodeNullTime(acceptedAt)
	g.LastVerified = decodeNullTime(lastVerified)
	return &g, nil
}

// CreateRequest persists a new recovery request at version 1 and reflects
// the version on the passed struct.
func (s *SQLiteStore) CreateRequest(ctx context.Context, req *interfaces.RecoveryRequest) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO requests (request_id, owner_id, initiator_id, status,
		   required_approvals, initiated_at, expires_at, completed_at,
		   disputed_by, dispute_reason, archive_id, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		req.ID.String(), req.Owner.String(), req.Initiator.String(), req.Status.String(),
		req.RequiredApprovals, encodeTime(req.InitiatedAt), encodeTime(req.ExpiresAt),
		encodeNullTime(req.CompletedAt), encodeNullString(req.DisputedBy),
		encodeNullString(req.DisputeReason), encodeNullContentID(req.ArchiveID))
	if err != nil {
		return err
	}
	req.Version = 1
	return nil
}

// RequestByID retrieves a request with its approvals.
func (s *SQLiteStore) RequestByID(ctx context.Context, id interfaces.RequestID) (*interfaces.RecoveryRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT request_id, owner_id, initiator_id, status, required_approvals,
		   initiated_at, expires_at, completed_at, disputed_by, dispute_reason,
		   archive_id, version
		 FROM requests WHERE request_id = ?`, id.String())

	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	req.Approvals, err = s.loadApprovals(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// RequestsByOwner lists an owner's requests, newest first.
func (s *SQLiteStore) RequestsByOwner(ctx context.Context, owner interfaces.OwnerID) ([]*interfaces.RecoveryRequest, error) {
	return s.listRequests(ctx,
		`SELECT request_id, owner_id, initiator_id, status, required_approvals,
		   initiated_at, expires_at, completed_at, disputed_by, dispute_reason,
		   archive_id, version
		 FROM requests WHERE owner_id = ? ORDER BY initiated_at DESC`, owner.String())
}

// RequestsByStatus lists requests in a given status, oldest first.
func (s *SQLiteStore) RequestsByStatus(ctx context.Context, status interfaces.RequestStatus) ([]*interfaces.RecoveryRequest, error) {
	return s.listRequests(ctx,
		`SELECT request_id, owner_id, initiator_id, status, required_approvals,
		   initiated_at, expires_at, completed_at, disputed_by, dispute_reason,
		   archive_id, version
		 FROM requests WHERE status = ? ORDER BY initiated_at`, status.String())
}

func (s *SQLiteStore) listRequests(ctx context.Context, query string, args ...any) ([]*interfaces.RecoveryRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []*interfaces.RecoveryRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, req := range requests {
		req.Approvals, err = s.loadApprovals(ctx, req.ID)
		if err != nil {
			return nil, err
		}
	}
	return requests, nil
}

func scanRequest(row rowScanner) (*interfaces.RecoveryRequest, error) {
	var (
		req                      interfaces.RecoveryRequest
		requestID, ownerID       string
		initiatorID, status      string
		initiatedAt, expiresAt   string
		completedAt, disputedBy  sql.NullString
		disputeReason, archiveID sql.NullString
		version                  int64
	)

	err := row.Scan(&requestID, &ownerID, &initiatorID, &status, &req.RequiredApprovals,
		&initiatedAt, &expiresAt, &completedAt, &disputedBy, &disputeReason,
		&archiveID, &version)
	if err != nil {
		return nil, err
	}

	req.ID = interfaces.RequestID(requestID)
	req.Owner = interfaces.OwnerID(ownerID)
	req.Initiator = interfaces.GuardianID(initiatorID)

	req.Status, err = interfaces.ParseRequestStatus(status)
	if err != nil {
		return nil, err
	}

	req.InitiatedAt = decodeTime(initiatedAt)
	req.ExpiresAt = decodeTime(expiresAt)
	req.CompletedAt = decodeNullTime(completedAt)
	if disputedBy.Valid {
		req.DisputedBy = disputedBy.String
	}
	if disputeReason.Valid {
		req.DisputeReason = disputeReason.String
	}
	if archiveID.Valid {
		req.ArchiveID, err = interfaces.NewContentIDFromHex(archiveID.String)
		if err != nil {
			return nil, fmt.Errorf("decode archive id: %w", err)
		}
	}
	req.Version = uint64(version)
	return &req, nil
}

func (s *SQLiteStore) loadApprovals(ctx context.Context, id interfaces.RequestID) ([]interfaces.Approval, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT guardian_id, approved_at, signature
		 FROM approvals WHERE request_id = ? ORDER BY approved_at, guardian_id`, id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var approvals []interfaces.Approval
	for rows.Next() {
		var guardianID, approvedAt string
		var approval interfaces.Approval
		if err := rows.Scan(&guardianID, &approvedAt, &approval.Signature); err != nil {
			return nil, err
		}
		approval.Guardian = interfaces.GuardianID(guardianID)
		approval.ApprovedAt = decodeTime(approvedAt)
		approvals = append(approvals, approval)
	}
	return approvals, rows.Err()
}

// UpdateRequest persists the request's mutable fields if the stored version
// equals expectedVersion, then reflects the incremented version on req.
// Approvals are not written here; use AppendApproval.
func (s *SQLiteStore) UpdateRequest(ctx context.Context, req *interfaces.RecoveryRequest, expectedVersion uint64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE requests SET status = ?, expires_at = ?, completed_at = ?,
		   disputed_by = ?, dispute_reason = ?, archive_id = ?, version = version + 1
		 WHERE request_id = ? AND version = ?`,
		req.Status.String(), encodeTime(req.ExpiresAt), encodeNullTime(req.CompletedAt),
		encodeNullString(req.DisputedBy), encodeNullString(req.DisputeReason),
		encodeNullContentID(req.ArchiveID), req.ID.String(), int64(expectedVersion))
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.requestMissingOrMoved(ctx, req.ID)
	}

	req.Version = expectedVersion + 1
	return nil
}

// AppendApproval atomically records an approval and increments the request
// version. The primary key on (request_id, guardian_id) backs the duplicate
// check inside the same transaction.
func (s *SQLiteStore) AppendApproval(ctx context.Context, id interfaces.RequestID, approval interfaces.Approval, expectedVersion uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var version int64
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM requests WHERE request_id = ?`, id.String()).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.ErrNotFound
	}
	if err != nil {
		return err
	}
	if uint64(version) != expectedVersion {
		return interfaces.ErrVersionConflict
	}

	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM approvals WHERE request_id = ? AND guardian_id = ?`,
		id.String(), approval.Guardian.String()).Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return interfaces.ErrDuplicateApproval
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO approvals (request_id, guardian_id, approved_at, signature)
		 VALUES (?, ?, ?, ?)`,
		id.String(), approval.Guardian.String(), encodeTime(approval.ApprovedAt),
		approval.Signature); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE requests SET version = version + 1 WHERE request_id = ? AND version = ?`,
		id.String(), int64(expectedVersion))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return interfaces.ErrVersionConflict
	}

	return tx.Commit()
}

// MarkRequestArchived records the archive blob written for a terminal request.
func (s *SQLiteStore) MarkRequestArchived(ctx context.Context, id interfaces.RequestID, archive interfaces.ContentID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE requests SET archive_id = ?, version = version + 1 WHERE request_id = ?`,
		archive.String(), id.String())
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) requestMissingOrMoved(ctx context.Context, id interfaces.RequestID) error {
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM requests WHERE request_id = ?`, id.String()).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		return interfaces.ErrNotFound
	}
	return interfaces.ErrVersionConflict
}
