package state

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"blueconnect-gateway/internal/codec"
	"blueconnect-gateway/internal/profile"
)

const testAddr = "C0:FF:EE:00:00:01"

func measurementEvent(t time.Time, tempC, ph, orpMV float64, condUS, battMV uint16) codec.RawEvent {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint16(buf[1:3], uint16(math.Round(tempC*100)))
	binary.LittleEndian.PutUint16(buf[3:5], uint16(math.Round(2048-(ph-7.2)*232)))
	binary.LittleEndian.PutUint16(buf[5:7], uint16(math.Round((orpMV+5)*4)))
	binary.LittleEndian.PutUint16(buf[7:9], condUS)
	binary.LittleEndian.PutUint16(buf[9:11], battMV)
	return codec.RawEvent{
		Address:    testAddr,
		RSSI:       -67,
		ReceivedAt: t,
		Source:     codec.SourceNotification,
		CharUUID:   profile.NotifyCharUUID,
		Payload:    buf,
	}
}

func summaryEvent(t time.Time, tempC float64, battMV uint16, counter byte) codec.RawEvent {
	buf := make([]byte, 7)
	buf[0] = 0x01
	binary.LittleEndian.PutUint16(buf[1:3], uint16(math.Round(tempC*100)))
	binary.LittleEndian.PutUint16(buf[3:5], battMV)
	buf[5] = counter
	var sum byte
	for _, b := range buf[:6] {
		sum += b
	}
	buf[6] = sum
	return codec.RawEvent{
		Address:    testAddr,
		RSSI:       -71,
		ReceivedAt: t,
		Source:     codec.SourceAdvertisement,
		Payload:    buf,
	}
}

func newTestAggregator() *Aggregator {
	return New(profile.DefaultRegistry())
}

func fieldValue(t *testing.T, a *Aggregator, name codec.FieldName) FieldValue {
	t.Helper()
	snap, ok := a.Snapshot(testAddr)
	if !ok {
		t.Fatalf("device %s not tracked", testAddr)
	}
	fv, ok := snap.Fields[name]
	if !ok {
		t.Fatalf("field %s not in snapshot", name)
	}
	return fv
}

func TestApply_RoundTripIntoSnapshot(t *testing.T) {
	a := newTestAggregator()
	now := time.Now()

	if err := a.Apply(measurementEvent(now, 24.5, 7.2, 650, 1200, 3520)); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	snap, ok := a.Snapshot(testAddr)
	if !ok {
		t.Fatal("expected tracked device")
	}
	if got := snap.Fields[codec.FieldTemperature].Value; math.Abs(got-24.5) > 1e-6 {
		t.Errorf("temperature: got %v, want 24.5", got)
	}
	if got := snap.Fields[codec.FieldBatteryPercent].Value; math.Abs(got-50) > 1e-6 {
		t.Errorf("battery_percent: got %v, want 50", got)
	}
	if _, ok := snap.Fields[codec.FieldSalinity]; !ok {
		t.Error("expected derived salinity")
	}
	if !snap.LastSeen.Equal(now) {
		t.Errorf("last_seen: got %v, want %v", snap.LastSeen, now)
	}
	if snap.DecodeErrors != 0 {
		t.Errorf("decode_errors: got %d, want 0", snap.DecodeErrors)
	}
}

func TestApply_Idempotent(t *testing.T) {
	a := newTestAggregator()
	var updates int
	a.SetUpdateHandler(func(Update) { updates++ })

	ev := measurementEvent(time.Now(), 24.5, 7.2, 650, 1200, 3520)
	if err := a.Apply(ev); err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	first, _ := a.Snapshot(testAddr)

	if err := a.Apply(ev); err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	second, _ := a.Snapshot(testAddr)

	if updates != 1 {
		t.Errorf("updates fired: got %d, want 1 (replay must be a no-op)", updates)
	}
	for name, fv := range first.Fields {
		got := second.Fields[name]
		if got.Value != fv.Value || !got.UpdatedAt.Equal(fv.UpdatedAt) {
			t.Errorf("%s changed on replay: %+v -> %+v", name, fv, got)
		}
	}
}

func TestApply_StaleWriteRejected(t *testing.T) {
	a := newTestAggregator()
	t2 := time.Now()
	t1 := t2.Add(-30 * time.Second)

	if err := a.Apply(measurementEvent(t2, 26.0, 7.2, 650, 1200, 3520)); err != nil {
		t.Fatalf("Apply t2: %v", err)
	}
	if err := a.Apply(measurementEvent(t1, 19.0, 6.8, 600, 900, 3450)); err != nil {
		t.Fatalf("Apply t1: %v", err)
	}

	temp := fieldValue(t, a, codec.FieldTemperature)
	if math.Abs(temp.Value-26.0) > 1e-6 {
		t.Errorf("temperature: got %v, want 26.0 (older packet must not win)", temp.Value)
	}
	if !temp.UpdatedAt.Equal(t2) {
		t.Errorf("timestamp regressed to %v", temp.UpdatedAt)
	}
}

func TestApply_ChecksumRejectionLeavesSnapshotUntouched(t *testing.T) {
	a := newTestAggregator()
	now := time.Now()

	if err := a.Apply(summaryEvent(now, 22.0, 3500, 1)); err != nil {
		t.Fatalf("Apply valid: %v", err)
	}
	before, _ := a.Snapshot(testAddr)

	corrupt := summaryEvent(now.Add(time.Second), 28.0, 3600, 2)
	corrupt.Payload[2] ^= 0x10 // single bit inside the covered span
	err := a.Apply(corrupt)
	if !errors.Is(err, codec.ErrChecksumMismatch) {
		t.Fatalf("got %v, want ErrChecksumMismatch", err)
	}

	after, _ := a.Snapshot(testAddr)
	if after.DecodeErrors != before.DecodeErrors+1 {
		t.Errorf("decode_errors: got %d, want %d", after.DecodeErrors, before.DecodeErrors+1)
	}
	got := after.Fields[codec.FieldTemperature]
	want := before.Fields[codec.FieldTemperature]
	if got.Value != want.Value || !got.UpdatedAt.Equal(want.UpdatedAt) {
		t.Errorf("temperature mutated by rejected frame: %+v -> %+v", want, got)
	}
}

func TestApply_OutOfRangeFieldExcludedSiblingsMerge(t *testing.T) {
	a := newTestAggregator()
	now := time.Now()

	ev := measurementEvent(now, 24.0, 7.2, 650, 1200, 3520)
	// pH raw 0 decodes to ~16.0, outside [0, 14].
	ev.Payload[3], ev.Payload[4] = 0x00, 0x00
	if err := a.Apply(ev); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	snap, ok := a.Snapshot(testAddr)
	if !ok {
		t.Fatal("expected tracked device")
	}
	if _, ok := snap.Fields[codec.FieldPH]; ok {
		t.Error("out-of-range pH must not appear in snapshot")
	}
	if math.Abs(snap.Fields[codec.FieldTemperature].Value-24.0) > 1e-6 {
		t.Error("sibling temperature must still merge")
	}
	if snap.DecodeErrors != 1 {
		t.Errorf("decode_errors: got %d, want 1", snap.DecodeErrors)
	}
}

func TestApply_UnknownDeviceCreatesNothing(t *testing.T) {
	a := newTestAggregator()
	ev := codec.RawEvent{
		Address:    testAddr,
		ReceivedAt: time.Now(),
		Source:     codec.SourceAdvertisement,
		Payload:    []byte{0x7F, 0x01, 0x02},
	}
	err := a.Apply(ev)
	if !errors.Is(err, codec.ErrUnsupportedDevice) {
		t.Fatalf("got %v, want ErrUnsupportedDevice", err)
	}
	if _, ok := a.Snapshot(testAddr); ok {
		t.Error("no snapshot may be created for an unsupported device")
	}
	if got := a.Addresses(); len(got) != 0 {
		t.Errorf("addresses: got %v, want none", got)
	}
}

func TestApply_PartialPacketsFillOneSnapshot(t *testing.T) {
	a := newTestAggregator()
	t0 := time.Now()

	// Summary advertisement first: temperature + battery only.
	if err := a.Apply(summaryEvent(t0, 22.0, 3500, 7)); err != nil {
		t.Fatalf("Apply summary: %v", err)
	}
	snap, _ := a.Snapshot(testAddr)
	if _, ok := snap.Fields[codec.FieldPH]; ok {
		t.Fatal("summary must not supply pH")
	}

	// Later detailed frame fills in the rest without downgrading anything.
	if err := a.Apply(measurementEvent(t0.Add(time.Minute), 22.4, 7.1, 640, 1100, 3490)); err != nil {
		t.Fatalf("Apply measurement: %v", err)
	}
	snap, _ = a.Snapshot(testAddr)
	if _, ok := snap.Fields[codec.FieldPH]; !ok {
		t.Error("detailed frame should add pH")
	}
	if math.Abs(snap.Fields[codec.FieldTemperature].Value-22.4) > 1e-6 {
		t.Error("newer temperature should overwrite")
	}
	if _, ok := snap.Fields[codec.FieldFrameCounter]; !ok {
		t.Error("summary frame counter should persist")
	}
}

func TestUpdateHandler_ReportsChangedFields(t *testing.T) {
	a := newTestAggregator()
	var mu sync.Mutex
	var got []Update
	a.SetUpdateHandler(func(u Update) {
		mu.Lock()
		got = append(got, u)
		mu.Unlock()
	})

	if err := a.Apply(summaryEvent(time.Now(), 21.0, 3510, 3)); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("updates: got %d, want 1", len(got))
	}
	changed := make(map[codec.FieldName]bool)
	for _, name := range got[0].Changed {
		changed[name] = true
	}
	for _, want := range []codec.FieldName{codec.FieldTemperature, codec.FieldBatteryVoltage, codec.FieldBatteryPercent} {
		if !changed[want] {
			t.Errorf("changed set missing %s (got %v)", want, got[0].Changed)
		}
	}
	if got[0].Snapshot.Address != testAddr {
		t.Errorf("address: got %s", got[0].Snapshot.Address)
	}
}

func TestApply_ConcurrentDevicesIndependent(t *testing.T) {
	a := newTestAggregator()
	const devices = 8
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < devices; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				ev := measurementEvent(start.Add(time.Duration(j)*time.Second), 20+float64(i), 7.2, 650, 1000, 3500)
				ev.Address = string(rune('A'+i)) + ":00:00:00:00:00"
				if err := a.Apply(ev); err != nil {
					t.Errorf("Apply: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	if got := len(a.Addresses()); got != devices {
		t.Errorf("tracked devices: got %d, want %d", got, devices)
	}
}
