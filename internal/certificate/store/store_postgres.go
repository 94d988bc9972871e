package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"certledger/internal/certificate/models"
	"certledger/internal/platform/postgres"
	id "certledger/pkg/domain"
	"certledger/pkg/platform/sentinel"
	txcontext "certledger/pkg/platform/tx"
	"certledger/pkg/requestcontext"
)

// PostgresStore persists certificates in PostgreSQL. It joins the ambient
// transaction carried by pkg/platform/tx when one is present.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const certificateColumns = `id, student_address, student_name, course_name, grade, content_hash,
	completion_date, certificate_type, issuer_id, issuer_name, issued_at,
	is_valid, revoked_at, revoked_by, mint_state, token_id, minted_to_address, minted_at, tx_hash`

func (s *PostgresStore) Create(ctx context.Context, cert *models.Certificate) (*models.Certificate, error) {
	if cert.ID.IsNil() {
		cert.ID = id.NewCertificateID()
	}
	query := `INSERT INTO certificates (` + certificateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING ` + certificateColumns

	args := []any{
		uuid.UUID(cert.ID), string(cert.StudentAddress), cert.StudentName, cert.CourseName, cert.Grade,
		string(cert.ContentHash), cert.CompletionDate, cert.CertificateType, uuid.UUID(cert.IssuerID),
		cert.IssuerName, cert.IssuedAt, cert.IsValid, cert.RevokedAt, nullString(cert.RevokedBy),
		string(cert.MintState),
	}
	if b := cert.Binding; b != nil {
		args = append(args, string(b.TokenID), string(b.MintedTo), b.MintedAt, nullString(b.TxHash))
	} else {
		args = append(args, nil, nil, nil, nil)
	}

	created, err := scanCertificate(s.execer(ctx).QueryRowContext(ctx, query, args...))
	if err != nil {
		if postgres.IsUniqueViolation(err, "") {
			return nil, fmt.Errorf("insert certificate: %w", sentinel.ErrConflict)
		}
		return nil, fmt.Errorf("insert certificate: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, certID id.CertificateID) (*models.Certificate, error) {
	return s.findOne(ctx, `WHERE id = $1`, uuid.UUID(certID))
}

func (s *PostgresStore) FindByContentHash(ctx context.Context, hash id.ContentHash) (*models.Certificate, error) {
	return s.findOne(ctx, `WHERE content_hash = $1`, string(hash))
}

func (s *PostgresStore) FindByToken(ctx context.Context, tokenID id.TokenID) (*models.Certificate, error) {
	return s.findOne(ctx, `WHERE token_id = $1`, string(tokenID))
}

func (s *PostgresStore) FindByOwner(ctx context.Context, owner id.WalletAddress) ([]*models.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates
		WHERE lower(student_address) = lower($1)
		ORDER BY issued_at DESC, id`
	rows, err := s.execer(ctx).QueryContext(ctx, query, string(owner))
	if err != nil {
		return nil, fmt.Errorf("list certificates by owner: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Certificate, 0)
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan certificate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate certificates: %w", err)
	}
	return out, nil
}

// Revoke sets is_valid=false once. changed reports whether this call did
// the revocation; a concurrent revoker blocks on the row lock and then
// matches no row.
func (s *PostgresStore) Revoke(ctx context.Context, certID id.CertificateID, actor string) (*models.Certificate, bool, error) {
	query := `UPDATE certificates
		SET is_valid = FALSE,
			revoked_at = $2,
			revoked_by = $3
		WHERE id = $1 AND is_valid
		RETURNING ` + certificateColumns
	c, err := scanCertificate(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(certID), requestcontext.Now(ctx), actor))
	if err == nil {
		return c, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("revoke certificate: %w", err)
	}
	c, err = s.FindByID(ctx, certID)
	if err != nil {
		return nil, false, err
	}
	return c, false, nil
}

// BindToken is a single conditional UPDATE: exactly one concurrent caller
// sees a returned row. Losers are told why by re-reading the record.
func (s *PostgresStore) BindToken(ctx context.Context, certID id.CertificateID, binding models.Binding) (*models.Certificate, error) {
	query := `UPDATE certificates
		SET mint_state = 'minted',
			token_id = $2,
			minted_to_address = student_address,
			minted_at = $4,
			tx_hash = $5
		WHERE id = $1
			AND mint_state = 'unminted'
			AND lower(student_address) = lower($3)
		RETURNING ` + certificateColumns

	c, err := scanCertificate(s.execer(ctx).QueryRowContext(ctx, query,
		uuid.UUID(certID), string(binding.TokenID), string(binding.MintedTo), binding.MintedAt, nullString(binding.TxHash)))
	if err == nil {
		return c, nil
	}
	if postgres.IsUniqueViolation(err, "idx_certificates_token_id") {
		return nil, fmt.Errorf("token %s: %w", binding.TokenID, sentinel.ErrConflict)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("bind token: %w", err)
	}

	current, findErr := s.FindByID(ctx, certID)
	if findErr != nil {
		return nil, findErr
	}
	if err := current.CanBind(binding.MintedTo); err != nil {
		return nil, bindError(err)
	}
	// Row was unminted and matching on re-read: the update raced a
	// concurrent writer that has since rolled back. Report as a conflict.
	return nil, fmt.Errorf("bind token: %w", sentinel.ErrConflict)
}

func (s *PostgresStore) findOne(ctx context.Context, where string, arg any) (*models.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates ` + where
	c, err := scanCertificate(s.execer(ctx).QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find certificate: %w", err)
	}
	return c, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCertificate(row rowScanner) (*models.Certificate, error) {
	var (
		c              models.Certificate
		certID         uuid.UUID
		issuerID       uuid.UUID
		studentAddress string
		contentHash    string
		mintState      string
		revokedAt      sql.NullTime
		revokedBy      sql.NullString
		tokenID        sql.NullString
		mintedTo       sql.NullString
		mintedAt       sql.NullTime
		txHash         sql.NullString
	)
	err := row.Scan(
		&certID, &studentAddress, &c.StudentName, &c.CourseName, &c.Grade, &contentHash,
		&c.CompletionDate, &c.CertificateType, &issuerID, &c.IssuerName, &c.IssuedAt,
		&c.IsValid, &revokedAt, &revokedBy, &mintState, &tokenID, &mintedTo, &mintedAt, &txHash,
	)
	if err != nil {
		return nil, err
	}
	c.ID = id.CertificateID(certID)
	c.IssuerID = id.InstitutionID(issuerID)
	c.StudentAddress = id.WalletAddress(studentAddress)
	c.ContentHash = id.ContentHash(contentHash)
	c.MintState = models.MintState(mintState)
	if revokedAt.Valid {
		t := revokedAt.Time
		c.RevokedAt = &t
	}
	c.RevokedBy = revokedBy.String
	if tokenID.Valid {
		c.Binding = &models.Binding{
			TokenID:  id.TokenID(tokenID.String),
			MintedTo: id.WalletAddress(mintedTo.String),
			MintedAt: mintedAt.Time,
			TxHash:   txHash.String,
		}
	}
	return &c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
