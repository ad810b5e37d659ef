// Package gateway provides the concrete SQL-based implementations of
// the gateway domain repositories (catalog, completion ledger, dispatches).
package gateway

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/NexusProtocols/gateway-go/internal/domain/entities/gateway"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/persistence/database"
	"github.com/NexusProtocols/gateway-go/internal/infrastructure/security"
)

// SQLGatewayRepository is the SQL-based implementation of the gateway catalog.
type SQLGatewayRepository struct {
	db *database.DB
}

// NewSQLGatewayRepository creates a new instance of the repository.
func NewSQLGatewayRepository(db *database.DB) *SQLGatewayRepository {
	return &SQLGatewayRepository{db: db}
}

// FindByID retrieves a gateway definition by its unique identifier.
func (r *SQLGatewayRepository) FindByID(id string) (*gateway.Definition, error) {
	const query = `
		SELECT id, title, creator_id, creator_email, definition, postback_secret_hash, created_at
		FROM gateways
		WHERE id = ?`

	row := r.db.QueryRow(query, id)
	return r.scanDefinition(row)
}

// FindAll retrieves every gateway definition, newest first.
func (r *SQLGatewayRepository) FindAll() ([]*gateway.Definition, error) {
	const query = `
		SELECT id, title, creator_id, creator_email, definition, postback_secret_hash, created_at
		FROM gateways
		ORDER BY created_at DESC`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var definitions []*gateway.Definition
	for rows.Next() {
		def, err := r.scanDefinitionFromRows(rows)
		if err != nil {
			return nil, err
		}
		definitions = append(definitions, def)
	}

	return definitions, rows.Err()
}

// Create saves a new gateway definition. The postback secret is stored as a
// bcrypt hash; the plaintext never touches the database.
func (r *SQLGatewayRepository) Create(def *gateway.Definition, postbackSecret string) error {
	const query = `
		INSERT INTO gateways (id, title, creator_id, creator_email, definition, postback_secret_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	body, err := json.Marshal(def)
	if err != nil {
		return err
	}

	var secretHash *string
	if postbackSecret != "" {
		hash, err := security.HashSecret(postbackSecret)
		if err != nil {
			return err
		}
		secretHash = &hash
	}

	_, err = r.db.Exec(
		query,
		def.ID,
		def.Title,
		def.CreatorID,
		def.CreatorEmail,
		string(body),
		secretHash,
		def.Created,
	)
	return err
}

// VerifyPostbackSecret checks a provider-supplied secret against the stored hash.
func (r *SQLGatewayRepository) VerifyPostbackSecret(gatewayID, secret string) (bool, error) {
	const query = `SELECT postback_secret_hash FROM gateways WHERE id = ?`

	var hash sql.NullString
	err := r.db.QueryRow(query, gatewayID).Scan(&hash)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	if !hash.Valid {
		return false, nil
	}

	return security.VerifySecret(secret, hash.String), nil
}

// scanDefinition is a helper function to scan a sql.Row into a Definition.
func (r *SQLGatewayRepository) scanDefinition(row *sql.Row) (*gateway.Definition, error) {
	var (
		id, title, creatorID string
		creatorEmail         sql.NullString
		body                 string
		secretHash           sql.NullString
		createdAtStr         string
	)

	err := row.Scan(&id, &title, &creatorID, &creatorEmail, &body, &secretHash, &createdAtStr)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, err
	}

	return r.buildDefinition(id, title, creatorID, creatorEmail, body, secretHash, createdAtStr)
}

// scanDefinitionFromRows is a helper function to scan from sql.Rows.
func (r *SQLGatewayRepository) scanDefinitionFromRows(rows *sql.Rows) (*gateway.Definition, error) {
	var (
		id, title, creatorID string
		creatorEmail         sql.NullString
		body                 string
		secretHash           sql.NullString
		createdAtStr         string
	)

	err := rows.Scan(&id, &title, &creatorID, &creatorEmail, &body, &secretHash, &createdAtStr)
	if err != nil {
		return nil, err
	}

	return r.buildDefinition(id, title, creatorID, creatorEmail, body, secretHash, createdAtStr)
}

func (r *SQLGatewayRepository) buildDefinition(id, title, creatorID string, creatorEmail sql.NullString, body string, secretHash sql.NullString, createdAtStr string) (*gateway.Definition, error) {
	var def gateway.Definition
	if err := json.Unmarshal([]byte(body), &def); err != nil {
		return nil, err
	}

	// Column values are authoritative over whatever the JSON blob carries.
	def.ID = id
	def.Title = title
	def.CreatorID = creatorID
	if creatorEmail.Valid {
		def.CreatorEmail = &creatorEmail.String
	}
	if secretHash.Valid {
		def.PostbackSecret = &secretHash.String
	}

	createdAt, err := time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		// Try alternative timestamp format if RFC3339 fails
		createdAt, err = time.Parse("2006-01-02 15:04:05", createdAtStr)
		if err != nil {
			return nil, err
		}
	}
	def.Created = createdAt

	return &def, nil
}
