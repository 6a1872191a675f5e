package ble

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tinygo.org/x/bluetooth"

	"blueconnect-gateway/internal/codec"
)

type Options struct {
	Adapter   string // "hci0" by default
	CompanyID uint16 // manufacturer ID carried by the probe's advertisements
}

// Listener wraps BlueZ scanning with context cancellation. Matching
// manufacturer frames are handed to the callback as raw events.
type Listener struct {
	adapter *bluetooth.Adapter
	opts    Options
}

func NewListener(opts Options) *Listener {
	if opts.Adapter == "" {
		opts.Adapter = "hci0"
	}

	return &Listener{
		adapter: bluetooth.NewAdapter(opts.Adapter),
		opts:    opts,
	}
}

func (l *Listener) Run(ctx context.Context, onEvent func(codec.RawEvent)) error {
	slog.Info("ble: enabling adapter", "adapter", l.opts.Adapter)
	if err := l.adapter.Enable(); err != nil {
		return fmt.Errorf("ble enable (%s): %w", l.opts.Adapter, err)
	}
	slog.Info("ble: adapter enabled", "adapter", l.opts.Adapter)

	go func() {
		<-ctx.Done()
		_ = l.adapter.StopScan()
	}()

	slog.Info("ble: scanning started",
		"filter_company", fmt.Sprintf("0x%04X", l.opts.CompanyID),
	)

	// adapter.Scan blocks until StopScan() or error.
	err := l.adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
		for _, md := range r.ManufacturerData() {
			if l.opts.CompanyID != 0 && md.CompanyID != l.opts.CompanyID {
				continue
			}

			ev := codec.RawEvent{
				Address:    r.Address.String(),
				RSSI:       r.RSSI,
				ReceivedAt: time.Now(),
				Source:     codec.SourceAdvertisement,
				Payload:    append([]byte(nil), md.Data...),
			}
			if onEvent != nil {
				onEvent(ev)
			}
			return
		}
	})

	// If ctx canceled, treat as clean shutdown.
	if ctx.Err() != nil {
		slog.Info("ble: scanning stopped (context canceled)")
		return nil
	}

	if err != nil {
		return fmt.Errorf("ble scan: %w", err)
	}

	slog.Info("ble: scanning stopped")
	return nil
}
