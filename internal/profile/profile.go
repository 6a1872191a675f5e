// Package profile holds the static decoding rules for the supported device
// family: one immutable Profile per hardware/firmware revision, resolved
// through a Registry. All mutable per-device state lives elsewhere.
package profile

import (
	"fmt"

	"blueconnect-gateway/internal/codec"
)

// Derived is a measurement computed from already-validated wire fields
// rather than read off the frame. Compute returns ok=false when the inputs
// do not produce a plausible value; such results are discarded silently.
type Derived struct {
	Name     codec.FieldName
	Unit     string
	Requires []codec.FieldName
	Compute  func(in map[codec.FieldName]float64) (float64, bool)
}

// Profile is the full decoding contract of one hardware/firmware revision.
// Immutable once built; safe for concurrent use.
type Profile struct {
	HardwareID string
	Model      string
	Firmware   string
	Layouts    []codec.Layout
	Derived    []Derived
}

// Registry maps hardware identifiers to profiles. Static configuration,
// loaded once at startup; registration order matters for Identify.
type Registry struct {
	profiles map[string]*Profile
	order    []string
}

func NewRegistry(profiles ...*Profile) *Registry {
	r := &Registry{profiles: make(map[string]*Profile, len(profiles))}
	for _, p := range profiles {
		if _, dup := r.profiles[p.HardwareID]; dup {
			continue
		}
		r.profiles[p.HardwareID] = p
		r.order = append(r.order, p.HardwareID)
	}
	return r
}

// Lookup resolves a profile by its hardware identifier.
func (r *Registry) Lookup(hardwareID string) (*Profile, error) {
	p, ok := r.profiles[hardwareID]
	if !ok {
		return nil, fmt.Errorf("%w: hardware id %q", codec.ErrUnsupportedDevice, hardwareID)
	}
	return p, nil
}

// Identify resolves a profile from the identifying bytes of an observed
// frame, for devices whose revision is not known out-of-band. The first
// registered profile with a layout matching the frame wins; register the
// current revision first so ambiguous frames resolve to it.
func (r *Registry) Identify(ev codec.RawEvent) (*Profile, error) {
	for _, id := range r.order {
		p := r.profiles[id]
		if _, err := codec.SelectLayout(p.Layouts, ev); err == nil {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: no profile matches frame (source=%s len=%d)",
		codec.ErrUnsupportedDevice, ev.Source, len(ev.Payload))
}
