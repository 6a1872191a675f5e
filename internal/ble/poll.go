package ble

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tinygo.org/x/bluetooth"

	"blueconnect-gateway/internal/codec"
	"blueconnect-gateway/internal/profile"
)

const (
	scanTimeout   = 30 * time.Second
	notifyTimeout = 20 * time.Second
)

type PollOptions struct {
	Adapter   string // "hci0" by default
	Addresses []string
	Interval  time.Duration
}

// Poller connects to each configured probe on a fixed interval, presses the
// virtual button and collects the measurement frame the probe notifies back.
type Poller struct {
	adapter *bluetooth.Adapter
	opts    PollOptions
}

func NewPoller(opts PollOptions) *Poller {
	if opts.Adapter == "" {
		opts.Adapter = "hci0"
	}
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Minute
	}

	return &Poller{
		adapter: bluetooth.NewAdapter(opts.Adapter),
		opts:    opts,
	}
}

func (p *Poller) Run(ctx context.Context, onEvent func(codec.RawEvent)) error {
	if len(p.opts.Addresses) == 0 {
		return nil
	}

	if err := p.adapter.Enable(); err != nil {
		return fmt.Errorf("ble enable (%s): %w", p.opts.Adapter, err)
	}

	slog.Info("ble: polling started",
		"addresses", p.opts.Addresses,
		"interval", p.opts.Interval,
	)

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	p.pollAll(ctx, onEvent)
	for {
		select {
		case <-ctx.Done():
			slog.Info("ble: polling stopped (context canceled)")
			return nil
		case <-ticker.C:
			p.pollAll(ctx, onEvent)
		}
	}
}

func (p *Poller) pollAll(ctx context.Context, onEvent func(codec.RawEvent)) {
	for _, addr := range p.opts.Addresses {
		if ctx.Err() != nil {
			return
		}
		if err := p.pollOne(ctx, addr, onEvent); err != nil {
			slog.Warn("ble: poll failed", "addr", addr, "error", err)
		}
	}
}

func (p *Poller) pollOne(ctx context.Context, addr string, onEvent func(codec.RawEvent)) error {
	target, err := p.findDevice(ctx, addr)
	if err != nil {
		return err
	}

	device, err := p.adapter.Connect(target, bluetooth.ConnectionParams{})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		if err := device.Disconnect(); err != nil {
			slog.Debug("ble: disconnect failed", "addr", addr, "error", err)
		}
	}()

	svcUUID, err := bluetooth.ParseUUID(profile.ServiceUUID)
	if err != nil {
		return fmt.Errorf("parse service uuid: %w", err)
	}
	services, err := device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return fmt.Errorf("discover services: %w", err)
	}
	if len(services) == 0 {
		return fmt.Errorf("service %s not found", profile.ServiceUUID)
	}

	buttonUUID, err := bluetooth.ParseUUID(profile.ButtonCharUUID)
	if err != nil {
		return fmt.Errorf("parse button uuid: %w", err)
	}
	notifyUUID, err := bluetooth.ParseUUID(profile.NotifyCharUUID)
	if err != nil {
		return fmt.Errorf("parse notify uuid: %w", err)
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{buttonUUID, notifyUUID})
	if err != nil {
		return fmt.Errorf("discover characteristics: %w", err)
	}
	if len(chars) < 2 {
		return fmt.Errorf("expected 2 characteristics, found %d", len(chars))
	}

	var button, notify bluetooth.DeviceCharacteristic
	for _, c := range chars {
		switch c.UUID() {
		case buttonUUID:
			button = c
		case notifyUUID:
			notify = c
		}
	}

	frames := make(chan []byte, 4)
	if err := notify.EnableNotifications(func(buf []byte) {
		frames <- append([]byte(nil), buf...)
	}); err != nil {
		return fmt.Errorf("enable notifications: %w", err)
	}

	// Pressing the virtual button makes the probe take a measurement and
	// notify it back on the data characteristic.
	if _, err := button.WriteWithoutResponse([]byte{0x01}); err != nil {
		return fmt.Errorf("write button: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(notifyTimeout):
		return fmt.Errorf("no measurement frame within %s", notifyTimeout)
	case frame := <-frames:
		ev := codec.RawEvent{
			Address:    addr,
			ReceivedAt: time.Now(),
			Source:     codec.SourceNotification,
			CharUUID:   profile.NotifyCharUUID,
			Payload:    frame,
		}
		if onEvent != nil {
			onEvent(ev)
		}
	}
	return nil
}

// findDevice scans until the target address shows up so Connect can reuse
// the platform address from the scan result.
func (p *Poller) findDevice(ctx context.Context, addr string) (bluetooth.Address, error) {
	found := make(chan bluetooth.Address, 1)

	scanCtx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()
	go func() {
		<-scanCtx.Done()
		_ = p.adapter.StopScan()
	}()

	err := p.adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
		if strings.EqualFold(r.Address.String(), addr) {
			select {
			case found <- r.Address:
			default:
			}
			_ = a.StopScan()
		}
	})

	select {
	case target := <-found:
		return target, nil
	default:
	}
	if scanCtx.Err() != nil {
		return bluetooth.Address{}, fmt.Errorf("device %s not seen within %s", addr, scanTimeout)
	}
	if err != nil {
		return bluetooth.Address{}, fmt.Errorf("ble scan: %w", err)
	}
	return bluetooth.Address{}, fmt.Errorf("device %s not found", addr)
}
