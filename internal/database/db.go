// Package database persists fetched consumption entries and reading
// snapshots in a local SQLite file, so repeated CLI runs accumulate
// history and the publisher can track what has been pushed already.
package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/smartmeterbn/usms/pkg/models"
)

const timeLayout = "2006-01-02 15:04:05"

// DB wraps the database connection.
type DB struct {
	conn *sql.DB
}

// New creates a new database connection and initializes the schema.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS consumption (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		meter_no TEXT NOT NULL,
		granularity TEXT NOT NULL,
		start_time TEXT NOT NULL,
		value REAL,
		unit TEXT NOT NULL,
		missing INTEGER DEFAULT 0,
		created_at TEXT NOT NULL,
		published INTEGER DEFAULT 0,
		UNIQUE(meter_no, granularity, start_time)
	);
	CREATE INDEX IF NOT EXISTS idx_consumption_meter ON consumption(meter_no);
	CREATE INDEX IF NOT EXISTS idx_consumption_start ON consumption(start_time);
	CREATE INDEX IF NOT EXISTS idx_consumption_published ON consumption(published);

	CREATE TABLE IF NOT EXISTS readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		meter_no TEXT NOT NULL,
		value REAL NOT NULL,
		unit TEXT NOT NULL,
		captured_at TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(meter_no, captured_at)
	);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// InsertSeries inserts all entries of a series for a meter, ignoring
// duplicates. Replaced entries keep their first stored value; the
// portal never rewrites settled history.
func (db *DB) InsertSeries(meterNo string, series models.ConsumptionSeries) (int, error) {
	query := `
	INSERT OR IGNORE INTO consumption (meter_no, granularity, start_time, value, unit, missing, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	createdAt := time.Now().UTC().Format(time.RFC3339)
	inserted := 0
	for _, e := range series.Entries {
		missing := 0
		value := sql.NullFloat64{Float64: e.Value, Valid: !e.Missing}
		if e.Missing {
			missing = 1
		}
		res, err := db.conn.Exec(query,
			meterNo, string(series.Granularity), e.Start.Format(timeLayout),
			value, e.Unit, missing, createdAt)
		if err != nil {
			return inserted, fmt.Errorf("inserting consumption entry: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	return inserted, nil
}

// InsertReading stores an instantaneous reading snapshot, ignoring
// duplicates for the same captured-at timestamp.
func (db *DB) InsertReading(meterNo string, reading models.Reading) error {
	query := `
	INSERT OR IGNORE INTO readings (meter_no, value, unit, captured_at, created_at)
	VALUES (?, ?, ?, ?, ?)
	`
	_, err := db.conn.Exec(query,
		meterNo, reading.Value, reading.Unit,
		reading.CapturedAt.Format(timeLayout),
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting reading: %w", err)
	}
	return nil
}

// ConsumptionRow is one stored consumption entry.
type ConsumptionRow struct {
	ID          int
	MeterNo     string
	Granularity models.Granularity
	Entry       models.ConsumptionEntry
}

// ListConsumption retrieves stored entries for a meter at a granularity,
// in chronological order.
func (db *DB) ListConsumption(meterNo string, granularity models.Granularity) ([]ConsumptionRow, error) {
	query := `
	SELECT id, meter_no, granularity, start_time, value, unit, missing
	FROM consumption
	WHERE meter_no = ? AND granularity = ?
	ORDER BY start_time ASC
	`
	rows, err := db.conn.Query(query, meterNo, string(granularity))
	if err != nil {
		return nil, fmt.Errorf("querying consumption: %w", err)
	}
	defer rows.Close()

	return scanConsumption(rows)
}

// ListUnpublished retrieves stored entries not yet pushed to the broker,
// in chronological order.
func (db *DB) ListUnpublished(meterNo string) ([]ConsumptionRow, error) {
	query := `
	SELECT id, meter_no, granularity, start_time, value, unit, missing
	FROM consumption
	WHERE meter_no = ? AND published = 0 AND missing = 0
	ORDER BY start_time ASC
	`
	rows, err := db.conn.Query(query, meterNo)
	if err != nil {
		return nil, fmt.Errorf("querying unpublished consumption: %w", err)
	}
	defer rows.Close()

	return scanConsumption(rows)
}

// ListMeters returns the distinct meter numbers with stored entries.
func (db *DB) ListMeters() ([]string, error) {
	rows, err := db.conn.Query(`SELECT DISTINCT meter_no FROM consumption ORDER BY meter_no`)
	if err != nil {
		return nil, fmt.Errorf("querying meters: %w", err)
	}
	defer rows.Close()

	var meters []string
	for rows.Next() {
		var no string
		if err := rows.Scan(&no); err != nil {
			return nil, fmt.Errorf("scanning meter: %w", err)
		}
		meters = append(meters, no)
	}
	return meters, rows.Err()
}

// MarkPublished marks a consumption entry as pushed.
func (db *DB) MarkPublished(id int) error {
	_, err := db.conn.Exec(`UPDATE consumption SET published = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("marking entry as published: %w", err)
	}
	return nil
}

func scanConsumption(rows *sql.Rows) ([]ConsumptionRow, error) {
	var results []ConsumptionRow
	for rows.Next() {
		var (
			row      ConsumptionRow
			startStr string
			value    sql.NullFloat64
			missing  int
			gran     string
		)
		if err := rows.Scan(&row.ID, &row.MeterNo, &gran, &startStr, &value, &row.Entry.Unit, &missing); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		start, err := time.ParseInLocation(timeLayout, startStr, models.BruneiTZ)
		if err != nil {
			return nil, fmt.Errorf("parsing start_time: %w", err)
		}
		row.Granularity = models.Granularity(gran)
		row.Entry.Start = start
		row.Entry.Value = value.Float64
		row.Entry.Missing = missing != 0 || !value.Valid
		results = append(results, row)
	}
	return results, rows.Err()
}
