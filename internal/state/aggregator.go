// Package state owns the mutable per-device view of the decode pipeline:
// one snapshot per physical device, merged from partial, duplicated and
// reordered frames under a per-device single-writer lock.
package state

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"blueconnect-gateway/internal/codec"
	"blueconnect-gateway/internal/metrics"
	"blueconnect-gateway/internal/profile"
)

// Resolver maps an observed event to the hardware identifier to decode it
// with. The default resolver identifies the profile from the frame itself.
type Resolver func(ev codec.RawEvent) (string, error)

// Aggregator turns raw frames into per-device snapshots. Decoding is pure;
// the only shared mutable state is the device map and each device's snapshot,
// so events for distinct devices merge concurrently without coordination.
type Aggregator struct {
	registry *profile.Registry
	resolve  Resolver
	logger   *slog.Logger

	mu       sync.Mutex
	devices  map[string]*device
	onUpdate func(Update)
}

// device carries the single-writer lock for one address. tracked flips once,
// on the first validated field, and never back.
type device struct {
	mu      sync.Mutex
	tracked bool
	snap    Snapshot
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithResolver overrides payload-based profile identification, for hosts that
// know the hardware revision out-of-band.
func WithResolver(r Resolver) Option {
	return func(a *Aggregator) { a.resolve = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

func New(registry *profile.Registry, opts ...Option) *Aggregator {
	a := &Aggregator{
		registry: registry,
		logger:   slog.Default(),
		devices:  make(map[string]*device),
	}
	a.resolve = func(ev codec.RawEvent) (string, error) {
		p, err := registry.Identify(ev)
		if err != nil {
			return "", err
		}
		return p.HardwareID, nil
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SetUpdateHandler registers the push callback fired after each merge that
// changed at least one field. Set before the event stream starts.
func (a *Aggregator) SetUpdateHandler(fn func(Update)) {
	a.mu.Lock()
	a.onUpdate = fn
	a.mu.Unlock()
}

// Apply runs one frame through dispatch, verification, decoding and merge.
// Every rejection is counted and returned for the caller's logging; none of
// them disturb existing snapshot data. An unresolvable device leaves the
// aggregator completely untouched.
func (a *Aggregator) Apply(ev codec.RawEvent) error {
	hardwareID, err := a.resolve(ev)
	if err != nil {
		metrics.DecodeErrors.WithLabelValues(metrics.ReasonUnsupportedDevice).Inc()
		return fmt.Errorf("resolve %s: %w", ev.Address, err)
	}
	prof, err := a.registry.Lookup(hardwareID)
	if err != nil {
		metrics.DecodeErrors.WithLabelValues(metrics.ReasonUnsupportedDevice).Inc()
		return fmt.Errorf("lookup %q: %w", hardwareID, err)
	}

	d := a.deviceFor(ev.Address, prof)
	d.mu.Lock()
	update, err := d.apply(ev, prof)
	d.mu.Unlock()
	if err != nil {
		return err
	}

	if update != nil {
		a.mu.Lock()
		fn := a.onUpdate
		a.mu.Unlock()
		if fn != nil {
			fn(*update)
		}
	}
	return nil
}

func (a *Aggregator) deviceFor(addr string, prof *profile.Profile) *device {
	a.mu.Lock()
	defer a.mu.Unlock()
	d, ok := a.devices[addr]
	if !ok {
		d = &device{
			snap: Snapshot{
				Address:    addr,
				HardwareID: prof.HardwareID,
				Fields:     make(map[codec.FieldName]FieldValue),
			},
		}
		a.devices[addr] = d
	}
	return d
}

// apply decodes and merges one frame. Caller holds d.mu, so readers never
// observe a half-merged snapshot.
func (d *device) apply(ev codec.RawEvent, prof *profile.Profile) (*Update, error) {
	layout, err := codec.SelectLayout(prof.Layouts, ev)
	if err != nil {
		d.reject(metrics.ReasonUnknownKind)
		metrics.PacketsTotal.WithLabelValues("unknown", "rejected").Inc()
		return nil, err
	}

	if err := codec.Verify(ev.Payload, layout); err != nil {
		switch {
		case errors.Is(err, codec.ErrLengthMismatch):
			d.reject(metrics.ReasonLengthMismatch)
		default:
			d.reject(metrics.ReasonChecksumMismatch)
		}
		metrics.PacketsTotal.WithLabelValues(layout.Kind.String(), "rejected").Inc()
		return nil, err
	}

	fields, err := codec.DecodeFields(ev.Payload, layout, ev.ReceivedAt)
	if err != nil {
		d.reject(metrics.ReasonLengthMismatch)
		metrics.PacketsTotal.WithLabelValues(layout.Kind.String(), "rejected").Inc()
		return nil, err
	}
	metrics.PacketsTotal.WithLabelValues(layout.Kind.String(), "accepted").Inc()

	var changed []codec.FieldName
	for _, f := range fields {
		if !f.Valid {
			d.reject(metrics.ReasonFieldOutOfRange)
			continue
		}
		if d.merge(f.Name, FieldValue{Value: f.Value, Unit: f.Unit, UpdatedAt: f.Timestamp}) {
			changed = append(changed, f.Name)
		}
	}
	changed = append(changed, d.applyDerived(prof, ev)...)

	// Liveness reflects packets that reached the merge step, valid or stale.
	d.snap.LastSeen = ev.ReceivedAt
	d.snap.RSSI = ev.RSSI

	if len(changed) > 0 {
		d.tracked = true
		u := Update{Address: d.snap.Address, Changed: changed, Snapshot: d.snap.clone()}
		return &u, nil
	}
	return nil, nil
}

// merge applies the stale-write policy: overwrite only when no prior value
// exists or the incoming timestamp is strictly newer.
func (d *device) merge(name codec.FieldName, fv FieldValue) bool {
	prev, ok := d.snap.Fields[name]
	if ok && !fv.UpdatedAt.After(prev.UpdatedAt) {
		metrics.StaleWrites.Inc()
		return false
	}
	d.snap.Fields[name] = fv
	metrics.FieldUpdates.WithLabelValues(string(name)).Inc()
	return true
}

// applyDerived recomputes the profile's derived measurements from the current
// validated values. Derived values ride the triggering event's timestamp and
// obey the same stale-write policy.
func (d *device) applyDerived(prof *profile.Profile, ev codec.RawEvent) []codec.FieldName {
	var changed []codec.FieldName
	for _, der := range prof.Derived {
		in := make(map[codec.FieldName]float64, len(der.Requires))
		satisfied := true
		for _, req := range der.Requires {
			fv, ok := d.snap.Fields[req]
			if !ok {
				satisfied = false
				break
			}
			in[req] = fv.Value
		}
		if !satisfied {
			continue
		}
		v, ok := der.Compute(in)
		if !ok {
			continue
		}
		if d.merge(der.Name, FieldValue{Value: v, Unit: der.Unit, UpdatedAt: ev.ReceivedAt}) {
			changed = append(changed, der.Name)
		}
	}
	return changed
}

func (d *device) reject(reason string) {
	d.snap.DecodeErrors++
	metrics.DecodeErrors.WithLabelValues(reason).Inc()
}

// Snapshot returns a copy of the device's current state. ok is false until
// the device has at least one validated field.
func (a *Aggregator) Snapshot(addr string) (Snapshot, bool) {
	a.mu.Lock()
	d, exists := a.devices[addr]
	a.mu.Unlock()
	if !exists {
		return Snapshot{}, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.tracked {
		return Snapshot{}, false
	}
	return d.snap.clone(), true
}

// Addresses lists tracked devices.
func (a *Aggregator) Addresses() []string {
	a.mu.Lock()
	devices := make([]*device, 0, len(a.devices))
	for _, d := range a.devices {
		devices = append(devices, d)
	}
	a.mu.Unlock()

	var out []string
	for _, d := range devices {
		d.mu.Lock()
		if d.tracked {
			out = append(out, d.snap.Address)
		}
		d.mu.Unlock()
	}
	return out
}
