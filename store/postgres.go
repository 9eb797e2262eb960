package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/IsuHapu/smart-agri-project-sub000/protocol"
)

// PostgresStore mirrors readings into PostgreSQL for gateway-class
// deployments that aggregate many field nodes. It covers appends and
// history queries; file listing and topology summaries remain
// file-backed concerns.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
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

// NewPostgresStore opens the database and runs migrations.
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

	store := &PostgresStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS node_readings (
		id BIGSERIAL PRIMARY KEY,
		node_id VARCHAR(64) NOT NULL,
		device_name VARCHAR(128),
		temperature DOUBLE PRECISION,
		humidity DOUBLE PRECISION,
		soil_moisture INTEGER,
		motion_detected BOOLEAN,
		water_level_cm DOUBLE PRECISION,
		relay_on BOOLEAN,
		device_uptime_ms BIGINT NOT NULL,
		received_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_readings_node ON node_readings(node_id, received_at);
	`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// AppendReading persists one snapshot for a node.
func (s *PostgresStore) AppendReading(nodeID string, snap protocol.SensorSnapshot) error {
	if nodeID == "" {
		return fmt.Errorf("node id is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
	INSERT INTO node_readings
		(node_id, device_name, temperature, humidity, soil_moisture, motion_detected, water_level_cm, relay_on, device_uptime_ms)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.db.ExecContext(ctx, query,
		nodeID,
		snap.DeviceName,
		snap.Temperature,
		snap.Humidity,
		snap.SoilMoisture,
		snap.MotionDetected,
		snap.WaterLevelCM,
		snap.RelayOn,
		snap.Timestamp,
	)
	return err
}

// History returns snapshots received for a node within the window,
// oldest first.
func (s *PostgresStore) History(nodeID string, window time.Duration) ([]protocol.SensorSnapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, device_name, temperature, humidity, soil_moisture, motion_detected, water_level_cm, relay_on, device_uptime_ms
		FROM node_readings
		WHERE node_id = $1 AND received_at >= NOW() - $2::interval
		ORDER BY received_at ASC
	`, nodeID, fmt.Sprintf("%d seconds", int(window.Seconds())))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []protocol.SensorSnapshot
	for rows.Next() {
		var snap protocol.SensorSnapshot
		if err := rows.Scan(
			&snap.NodeID,
			&snap.DeviceName,
			&snap.Temperature,
			&snap.Humidity,
			&snap.SoilMoisture,
			&snap.MotionDetected,
			&snap.WaterLevelCM,
			&snap.RelayOn,
			&snap.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
