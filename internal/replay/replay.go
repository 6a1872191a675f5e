// Package replay feeds recorded frames through the decode pipeline. Each
// line of the input file is "<address> <adv|notify> <hex-payload>"; blank
// lines and lines starting with # are skipped.
package replay

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"blueconnect-gateway/internal/codec"
	"blueconnect-gateway/internal/profile"
)

func File(path string, onEvent func(codec.RawEvent)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open replay file: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Error("close replay file", "error", err)
		}
	}()
	return Reader(f, onEvent)
}

func Reader(r io.Reader, onEvent func(codec.RawEvent)) error {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		ev, err := parseLine(line)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if onEvent != nil {
			onEvent(ev)
		}
	}
	return scanner.Err()
}

func parseLine(line string) (codec.RawEvent, error) {
	parts := strings.Fields(line)
	if len(parts) != 3 {
		return codec.RawEvent{}, fmt.Errorf("expected '<address> <adv|notify> <hex>', got %d fields", len(parts))
	}

	ev := codec.RawEvent{
		Address:    strings.ToUpper(parts[0]),
		ReceivedAt: time.Now(),
	}
	switch parts[1] {
	case "adv":
		ev.Source = codec.SourceAdvertisement
	case "notify":
		ev.Source = codec.SourceNotification
		ev.CharUUID = profile.NotifyCharUUID
	default:
		return codec.RawEvent{}, fmt.Errorf("unknown source %q", parts[1])
	}

	payload, err := hex.DecodeString(strings.ToLower(parts[2]))
	if err != nil {
		return codec.RawEvent{}, fmt.Errorf("decode payload: %w", err)
	}
	ev.Payload = payload
	return ev, nil
}
