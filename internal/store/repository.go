package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"blueconnect-gateway/internal/state"
)

//go:embed sql/upsert-device.sql
var upsertDeviceSQL string

//go:embed sql/insert-measurement.sql
var insertMeasurementSQL string

//go:embed sql/get-devices.sql
var getDevicesSQL string

//go:embed sql/get-latest-measurements.sql
var getLatestMeasurementsSQL string

//go:embed sql/get-measurements.sql
var getMeasurementsSQL string

// Device is one row of the devices table.
type Device struct {
	Address    string    `json:"address"`
	HardwareID string    `json:"hardware_id"`
	LastSeen   time.Time `json:"last_seen"`
}

// Measurement is one logged field value.
type Measurement struct {
	Field string    `json:"field"`
	Value float64   `json:"value"`
	Unit  string    `json:"unit,omitempty"`
	Time  time.Time `json:"time"`
}

type MeasurementRepository interface {
	RecordUpdate(u state.Update) error
	GetDevices() ([]Device, error)
	GetLatestMeasurements(address string) ([]Measurement, error)
	GetMeasurements(address, field string, from, to time.Time, limit int) ([]Measurement, error)
}

type repositoryImpl struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) MeasurementRepository {
	return &repositoryImpl{db: db}
}

// RecordUpdate logs the changed fields of one snapshot update. Only fields
// named in Changed are inserted; unchanged snapshot values are already on
// record from earlier updates.
func (r *repositoryImpl) RecordUpdate(u state.Update) error {
	lastSeen := u.Snapshot.LastSeen.UTC().Format(time.RFC3339Nano)
	if _, err := r.db.Exec(upsertDeviceSQL, u.Address, u.Snapshot.HardwareID, lastSeen); err != nil {
		return fmt.Errorf("upsert device %s: %w", u.Address, err)
	}

	for _, name := range u.Changed {
		fv, ok := u.Snapshot.Fields[name]
		if !ok {
			continue
		}
		ts := fv.UpdatedAt.UTC().Format(time.RFC3339Nano)
		if _, err := r.db.Exec(insertMeasurementSQL, u.Address, ts, string(name), fv.Value, fv.Unit); err != nil {
			return fmt.Errorf("insert measurement %s/%s: %w", u.Address, name, err)
		}
	}
	return nil
}

func (r *repositoryImpl) GetDevices() ([]Device, error) {
	rows, err := r.db.Query(getDevicesSQL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close devices rows", "error", err)
		}
	}()
	var out []Device
	for rows.Next() {
		var d Device
		var ts string
		if err := rows.Scan(&d.Address, &d.HardwareID, &ts); err != nil {
			return nil, err
		}
		t, err := parseTimestamp(ts)
		if err != nil {
			return nil, err
		}
		d.LastSeen = t
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *repositoryImpl) GetLatestMeasurements(address string) ([]Measurement, error) {
	rows, err := r.db.Query(getLatestMeasurementsSQL, address, address)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close latest measurements rows", "error", err)
		}
	}()
	return scanMeasurements(rows)
}

func (r *repositoryImpl) GetMeasurements(address, field string, from, to time.Time, limit int) ([]Measurement, error) {
	fromStr := from.UTC().Format(time.RFC3339Nano)
	toStr := to.UTC().Format(time.RFC3339Nano)
	rows, err := r.db.Query(getMeasurementsSQL, address, field, fromStr, toStr, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close measurements rows", "error", err)
		}
	}()
	return scanMeasurements(rows)
}

func scanMeasurements(rows *sql.Rows) ([]Measurement, error) {
	var out []Measurement
	for rows.Next() {
		var m Measurement
		var unit sql.NullString
		var ts string
		if err := rows.Scan(&m.Field, &m.Value, &unit, &ts); err != nil {
			return nil, err
		}
		m.Unit = unit.String
		t, err := parseTimestamp(ts)
		if err != nil {
			return nil, err
		}
		m.Time = t
		out = append(out, m)
	}
	return out, rows.Err()
}

func parseTimestamp(ts string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		var err2 error
		t, err2 = time.Parse(time.RFC3339, ts)
		if err2 != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: RFC3339Nano: %w; RFC3339: %w", ts, err, err2)
		}
	}
	return t, nil
}
