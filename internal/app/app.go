package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"blueconnect-gateway/internal/ble"
	"blueconnect-gateway/internal/codec"
	"blueconnect-gateway/internal/config"
	"blueconnect-gateway/internal/httpapi"
	"blueconnect-gateway/internal/mqtt"
	"blueconnect-gateway/internal/profile"
	"blueconnect-gateway/internal/replay"
	"blueconnect-gateway/internal/state"
	"blueconnect-gateway/internal/store"
	"blueconnect-gateway/internal/utils"
)

const healthInterval = time.Minute

func Run(ctx context.Context, cfg config.Config) error {
	slog.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"mqttBroker", cfg.MQTTBroker,
		"mqttPort", cfg.MQTTPort,
		"bleAdapter", cfg.BLEAdapter,
		"pollAddresses", cfg.PollAddresses,
		"pollInterval", cfg.PollInterval,
		"replayPath", cfg.ReplayPath,
		"sqlitePath", cfg.SQLitePath,
	)

	dbConn, err := store.Open(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(dbConn); closeErr != nil {
			slog.Error("db close", "error", closeErr)
		}
	}()

	if err := store.Migrate(dbConn); err != nil {
		return err
	}
	slog.Info("database ready", "path", cfg.SQLitePath)

	repository := store.NewRepository(dbConn)

	mqttClient, err := mqtt.NewClient(cfg)
	if err != nil {
		return err
	}

	registry := profile.DefaultRegistry()
	var opts []state.Option
	if cfg.HardwareID != "" {
		hardwareID := cfg.HardwareID
		opts = append(opts, state.WithResolver(func(ev codec.RawEvent) (string, error) {
			return hardwareID, nil
		}))
	}
	aggregator := state.New(registry, opts...)
	aggregator.SetUpdateHandler(func(u state.Update) {
		if err := repository.RecordUpdate(u); err != nil {
			slog.Error("store update failed", "addr", u.Address, "error", err)
		}
		if err := mqttClient.PublishState(u); err != nil {
			slog.Warn("publish state failed", "addr", u.Address, "error", err)
		}
	})

	// Short timeout for the initial MQTT connect so startup does not block
	// when the broker is down; the client keeps retrying in the background.
	connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
	err = mqttClient.Connect(connectCtx)
	connectCancel()
	if err != nil {
		slog.Warn("mqtt connection failed (continuing without mqtt)", "error", err)
	}
	defer mqttClient.Disconnect()

	onEvent := func(ev codec.RawEvent) {
		if err := aggregator.Apply(ev); err != nil {
			slog.Debug("frame rejected",
				"addr", ev.Address,
				"source", ev.Source.String(),
				"data", utils.BytesToHex(ev.Payload),
				"error", err,
			)
		}
	}

	if cfg.ReplayPath != "" {
		slog.Info("replaying recorded frames", "path", cfg.ReplayPath)
		if err := replay.File(cfg.ReplayPath, onEvent); err != nil {
			return err
		}
	} else {
		listener := ble.NewListener(ble.Options{
			Adapter:   cfg.BLEAdapter,
			CompanyID: cfg.BLECompanyID,
		})
		go func() {
			if err := listener.Run(ctx, onEvent); err != nil {
				slog.Warn("ble listener could not be initialized; gateway continues without scanning",
					"error", err,
				)
			}
		}()

		if len(cfg.PollAddresses) > 0 {
			poller := ble.NewPoller(ble.PollOptions{
				Adapter:   cfg.BLEAdapter,
				Addresses: cfg.PollAddresses,
				Interval:  cfg.PollInterval,
			})
			go func() {
				if err := poller.Run(ctx, onEvent); err != nil {
					slog.Warn("ble poller could not be initialized; gateway continues without polling",
						"error", err,
					)
				}
			}()
		}
	}

	go publishHealthLoop(ctx, aggregator, mqttClient)

	mux := httpapi.NewMux(dbConn, aggregator)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	slog.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	err = <-errCh
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return ctx.Err()
}

// publishHealthLoop republishes the retained liveness document for every
// tracked device. A device is healthy while frames keep arriving within
// three intervals.
func publishHealthLoop(ctx context.Context, aggregator *state.Aggregator, client *mqtt.Client) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, addr := range aggregator.Addresses() {
			snap, ok := aggregator.Snapshot(addr)
			if !ok {
				continue
			}
			health := mqtt.DeviceHealth{
				Address:  addr,
				LastSeen: snap.LastSeen,
				Healthy:  time.Since(snap.LastSeen) < 3*healthInterval,
			}
			if err := client.PublishHealth(health); err != nil {
				slog.Debug("publish health failed", "addr", addr, "error", err)
			}
		}
	}
}
