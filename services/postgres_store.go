package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flashbots/kanon/protocol"
	_ "github.com/lib/pq"
)

const (
	queryTimeout   = 5 * time.Second
	migrateTimeout = 30 * time.Second
)

var errMissingID = errors.New("message has no id")

// PostgresStore implements protocol.MessageStore and protocol.ParameterStore
// with PostgreSQL persistence.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return newPostgresStoreWithDB(db)
}

func newPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	store := &PostgresStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return store, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS kanon_messages (
	id BIGSERIAL PRIMARY KEY,
	ad_selection_id BIGINT NOT NULL,
	hash_set TEXT NOT NULL,
	status VARCHAR(32) NOT NULL,
	corresponding_client_params_expiry TIMESTAMP WITH TIME ZONE,
	created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_kanon_messages_hash_set ON kanon_messages(hash_set);
CREATE INDEX IF NOT EXISTS idx_kanon_messages_status ON kanon_messages(status, created_at DESC);

CREATE TABLE IF NOT EXISTS kanon_client_parameters (
	client_id UUID NOT NULL,
	version TEXT NOT NULL,
	private_params BYTEA NOT NULL,
	public_params BYTEA NOT NULL,
	expiry TIMESTAMP WITH TIME ZONE NOT NULL
);

CREATE TABLE IF NOT EXISTS kanon_server_parameters (
	version TEXT NOT NULL,
	public_params BYTEA NOT NULL,
	creation TIMESTAMP WITH TIME ZONE NOT NULL,
	join_expiry TIMESTAMP WITH TIME ZONE NOT NULL,
	sign_expiry TIMESTAMP WITH TIME ZONE NOT NULL
);
`

func (s *PostgresStore) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), migrateTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// InsertNew persists messages and assigns their IDs and creation times.
func (s *PostgresStore) InsertNew(ctx context.Context, messages []*protocol.Message) error {
	if len(messages) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO kanon_messages (ad_selection_id, hash_set, status, corresponding_client_params_expiry)
	VALUES ($1, $2, $3, $4)
	RETURNING id, created_at
	`

	ids := make([]int64, len(messages))
	created := make([]time.Time, len(messages))
	for i, m := range messages {
		status := m.Status
		if status == "" {
			status = protocol.StatusNotProcessed
		}
		err := tx.QueryRowContext(ctx, query,
			int64(m.AdSelectionID),
			m.HashSet,
			string(status),
			nullTime(m.CorrespondingClientParamsExpiry),
		).Scan(&ids[i], &created[i])
		if err != nil {
			return fmt.Errorf("inserting message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing messages: %w", err)
	}

	for i, m := range messages {
		id := ids[i]
		m.ID = &id
		m.CreatedAt = created[i]
		if m.Status == "" {
			m.Status = protocol.StatusNotProcessed
		}
	}
	return nil
}

const selectMessages = `
SELECT id, ad_selection_id, hash_set, status, corresponding_client_params_expiry, created_at
FROM kanon_messages
`

// FetchByHash returns all messages for a hash set, newest first.
func (s *PostgresStore) FetchByHash(ctx context.Context, hashSet string) ([]*protocol.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, selectMessages+`WHERE hash_set = $1 ORDER BY created_at DESC, id DESC`, hashSet)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// FetchNWithStatus returns at most n messages in status, newest first.
func (s *PostgresStore) FetchNWithStatus(ctx context.Context, n int, status protocol.MessageStatus) ([]*protocol.Message, error) {
	if n <= 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, selectMessages+`WHERE status = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, string(status), n)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]*protocol.Message, error) {
	defer rows.Close()

	var result []*protocol.Message
	for rows.Next() {
		var (
			id            int64
			adSelectionID int64
			hashSet       string
			status        string
			expiry        sql.NullTime
			createdAt     time.Time
		)
		if err := rows.Scan(&id, &adSelectionID, &hashSet, &status, &expiry, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		m := &protocol.Message{
			ID:            &id,
			AdSelectionID: uint64(adSelectionID),
			HashSet:       hashSet,
			Status:        protocol.MessageStatus(status),
			CreatedAt:     createdAt,
		}
		if expiry.Valid {
			t := expiry.Time
			m.CorrespondingClientParamsExpiry = &t
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// UpdateStatus sets status on the stored messages. The corresponding client
// parameters expiry is only overwritten when the message carries one.
func (s *PostgresStore) UpdateStatus(ctx context.Context, messages []*protocol.Message, status protocol.MessageStatus) error {
	if len(messages) == 0 {
		return nil
	}
	for _, m := range messages {
		if m.ID == nil {
			return fmt.Errorf("updating status of %q: %w", m.HashSet, errMissingID)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	UPDATE kanon_messages
	SET status = $1,
		corresponding_client_params_expiry = COALESCE($2, corresponding_client_params_expiry)
	WHERE id = $3
	`
	for _, m := range messages {
		if _, err := tx.ExecContext(ctx, query, string(status), nullTime(m.CorrespondingClientParamsExpiry), *m.ID); err != nil {
			return fmt.Errorf("updating message %d: %w", *m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing status update: %w", err)
	}

	for _, m := range messages {
		m.Status = status
	}
	return nil
}

// ActiveClientParameters returns the latest-expiring client parameters
// still valid at now, or nil.
func (s *PostgresStore) ActiveClientParameters(ctx context.Context, now time.Time) (*protocol.ClientParameters, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	p := &protocol.ClientParameters{}
	err := s.db.QueryRowContext(ctx, `
		SELECT client_id, version, private_params, public_params, expiry
		FROM kanon_client_parameters
		WHERE expiry > $1
		ORDER BY expiry DESC
		LIMIT 1
	`, now).Scan(&p.ClientID, &p.Version, &p.PrivateParams, &p.PublicParams, &p.Expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading client parameters: %w", err)
	}
	return p, nil
}

// ActiveServerParameters returns server parameters whose sign expiry is after now.
func (s *PostgresStore) ActiveServerParameters(ctx context.Context, now time.Time) ([]*protocol.ServerParameters, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT version, public_params, creation, join_expiry, sign_expiry
		FROM kanon_server_parameters
		WHERE sign_expiry > $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*protocol.ServerParameters
	for rows.Next() {
		p := &protocol.ServerParameters{}
		if err := rows.Scan(&p.Version, &p.PublicParams, &p.Creation, &p.JoinExpiry, &p.SignExpiry); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func deleteAllClientParameters(ctx context.Context, e execer) error {
	_, err := e.ExecContext(ctx, "DELETE FROM kanon_client_parameters")
	return err
}

func deleteAllServerParameters(ctx context.Context, e execer) error {
	_, err := e.ExecContext(ctx, "DELETE FROM kanon_server_parameters")
	return err
}

func insertClientParameters(ctx context.Context, e execer, p *protocol.ClientParameters) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO kanon_client_parameters (client_id, version, private_params, public_params, expiry)
		VALUES ($1, $2, $3, $4, $5)
	`, p.ClientID, p.Version, p.PrivateParams, p.PublicParams, p.Expiry)
	return err
}

func insertServerParameters(ctx context.Context, e execer, p *protocol.ServerParameters) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO kanon_server_parameters (version, public_params, creation, join_expiry, sign_expiry)
		VALUES ($1, $2, $3, $4, $5)
	`, p.Version, p.PublicParams, p.Creation, p.JoinExpiry, p.SignExpiry)
	return err
}

func (s *PostgresStore) DeleteAllClientParameters(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return deleteAllClientParameters(ctx, s.db)
}

func (s *PostgresStore) DeleteAllServerParameters(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return deleteAllServerParameters(ctx, s.db)
}

func (s *PostgresStore) InsertClientParameters(ctx context.Context, p *protocol.ClientParameters) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return insertClientParameters(ctx, s.db, p)
}

func (s *PostgresStore) InsertServerParameters(ctx context.Context, p *protocol.ServerParameters) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return insertServerParameters(ctx, s.db, p)
}

// ReplaceParameters swaps both parameter tables in a single transaction.
func (s *PostgresStore) ReplaceParameters(ctx context.Context, client *protocol.ClientParameters, server *protocol.ServerParameters) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteAllClientParameters(ctx, tx); err != nil {
		return fmt.Errorf("deleting client parameters: %w", err)
	}
	if err := deleteAllServerParameters(ctx, tx); err != nil {
		return fmt.Errorf("deleting server parameters: %w", err)
	}
	if err := insertServerParameters(ctx, tx, server); err != nil {
		return fmt.Errorf("inserting server parameters: %w", err)
	}
	if err := insertClientParameters(ctx, tx, client); err != nil {
		return fmt.Errorf("inserting client parameters: %w", err)
	}

	return tx.Commit()
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
