package store

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"blueconnect-gateway/internal/codec"
	"blueconnect-gateway/internal/state"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	// Every connection gets its own in-memory database; keep the pool at one.
	db.SetMaxOpenConns(1)
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func testUpdate(ts time.Time) state.Update {
	return state.Update{
		Address: "C0:FF:EE:00:00:01",
		Changed: []codec.FieldName{codec.FieldTemperature, codec.FieldPH},
		Snapshot: state.Snapshot{
			Address:    "C0:FF:EE:00:00:01",
			HardwareID: "blueconnect-go/2",
			Fields: map[codec.FieldName]state.FieldValue{
				codec.FieldTemperature: {Value: 26.45, Unit: "°C", UpdatedAt: ts},
				codec.FieldPH:          {Value: 7.31, UpdatedAt: ts},
				codec.FieldORP:         {Value: 652, Unit: "mV", UpdatedAt: ts.Add(-time.Minute)},
			},
			LastSeen: ts,
		},
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	if err := Migrate(db); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestRecordUpdateAndReadBack(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := repo.RecordUpdate(testUpdate(ts)); err != nil {
		t.Fatalf("record update: %v", err)
	}

	devices, err := repo.GetDevices()
	if err != nil {
		t.Fatalf("get devices: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("expected 1 device, got %d", len(devices))
	}
	d := devices[0]
	if d.Address != "C0:FF:EE:00:00:01" || d.HardwareID != "blueconnect-go/2" {
		t.Errorf("unexpected device row: %+v", d)
	}
	if !d.LastSeen.Equal(ts) {
		t.Errorf("last_seen = %v, want %v", d.LastSeen, ts)
	}

	latest, err := repo.GetLatestMeasurements(d.Address)
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	// Only the two changed fields were logged.
	if len(latest) != 2 {
		t.Fatalf("expected 2 measurements, got %d: %+v", len(latest), latest)
	}
	byField := make(map[string]Measurement)
	for _, m := range latest {
		byField[m.Field] = m
	}
	if m := byField["temperature"]; m.Value != 26.45 || m.Unit != "°C" {
		t.Errorf("unexpected temperature row: %+v", m)
	}
	if m := byField["ph"]; m.Value != 7.31 || m.Unit != "" {
		t.Errorf("unexpected ph row: %+v", m)
	}
}

func TestRecordUpdateDuplicateIsIgnored(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	u := testUpdate(ts)
	if err := repo.RecordUpdate(u); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if err := repo.RecordUpdate(u); err != nil {
		t.Fatalf("replayed record: %v", err)
	}

	latest, err := repo.GetLatestMeasurements(u.Address)
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	if len(latest) != 2 {
		t.Errorf("expected 2 measurements after replay, got %d", len(latest))
	}
}

func TestGetLatestPicksNewestPerField(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)

	t1 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(10 * time.Minute)
	if err := repo.RecordUpdate(testUpdate(t1)); err != nil {
		t.Fatalf("record t1: %v", err)
	}
	u2 := testUpdate(t2)
	u2.Snapshot.Fields[codec.FieldTemperature] = state.FieldValue{Value: 27.10, Unit: "°C", UpdatedAt: t2}
	u2.Changed = []codec.FieldName{codec.FieldTemperature}
	if err := repo.RecordUpdate(u2); err != nil {
		t.Fatalf("record t2: %v", err)
	}

	latest, err := repo.GetLatestMeasurements(u2.Address)
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	byField := make(map[string]Measurement)
	for _, m := range latest {
		byField[m.Field] = m
	}
	if m := byField["temperature"]; m.Value != 27.10 {
		t.Errorf("latest temperature = %v, want 27.10", m.Value)
	}
	if m := byField["ph"]; m.Value != 7.31 {
		t.Errorf("latest ph = %v, want 7.31", m.Value)
	}
}

func TestGetMeasurementsRangeAndLimit(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * time.Hour)
		u := testUpdate(ts)
		u.Changed = []codec.FieldName{codec.FieldTemperature}
		u.Snapshot.Fields[codec.FieldTemperature] = state.FieldValue{Value: 20 + float64(i), Unit: "°C", UpdatedAt: ts}
		if err := repo.RecordUpdate(u); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	got, err := repo.GetMeasurements("C0:FF:EE:00:00:01", "temperature", base, base.Add(3*time.Hour), 2)
	if err != nil {
		t.Fatalf("get measurements: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	// Descending order, bounded by the range end.
	if got[0].Value != 23 || got[1].Value != 22 {
		t.Errorf("unexpected rows: %+v", got)
	}
}
