package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"thermopoll/internal/codec"
)

// WS07 polls WS07 thermo beacons: read the status, then fetch the newest
// data point.
type WS07 struct {
	dev    Device
	env    Env
	logger *slog.Logger
}

func NewWS07(dev Device, env Env, logger *slog.Logger) *WS07 {
	return &WS07{
		dev:    dev,
		env:    env,
		logger: logger.With("handler", TypeWS07),
	}
}

func (w *WS07) Type() string { return TypeWS07 }

func (w *WS07) Poll(ctx context.Context, cfg Config, lastSeen *int) (*Result, error) {
	// Resolve identity first so a bad address never costs a connection.
	mac, err := codec.MACToInt(cfg.Address)
	if err != nil {
		return nil, err
	}

	conn, err := w.dev.Connect(ctx, cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s: %w", ErrDeviceUnreachable, cfg.Address, err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			w.logger.Debug("disconnect failed", "sensor", cfg.Name, "error", cerr)
		}
	}()

	resp, err := w.exchange(ctx, conn, cfg, codec.StatusCommand)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	available, err := codec.Available(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	w.logger.Debug("status read",
		"sensor", cfg.Name,
		"available", available,
		"last_seen", lastSeenAttr(lastSeen),
		"advanced", lastSeen == nil || *lastSeen != int(available),
	)
	if available == 0 {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, ErrNoData)
	}

	// One fetch per cycle, always of the newest point.
	index := available - 1
	resp, err = w.exchange(ctx, conn, cfg, codec.ReadCommand(index))
	if err != nil {
		return nil, fmt.Errorf("read index %d: %w", index, err)
	}
	w.logger.Debug("data read", "sensor", cfg.Name, "index", index, "response", codec.FormatHex(resp))

	values, err := codec.DecodeReadings(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}

	reading, err := NewReading(w.env.now(), mac, w.env.HomeID, values[0], values[1], cfg.Location)
	if err != nil {
		return nil, err
	}
	return &Result{Available: int(available), Reading: reading}, nil
}

// exchange writes cmd to the tx characteristic and reads the rx answer.
func (w *WS07) exchange(ctx context.Context, conn Conn, cfg Config, cmd []byte) ([]byte, error) {
	if err := conn.Write(ctx, cfg.TxChar, cmd); err != nil {
		return nil, transportErr(ctx, "write", err)
	}
	resp, err := conn.Read(ctx, cfg.RxChar)
	if err != nil {
		return nil, transportErr(ctx, "read", err)
	}
	return resp, nil
}

// transportErr classifies link failures and timeouts as unreachable.
func transportErr(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s timed out: %w", ErrDeviceUnreachable, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrDeviceUnreachable, op, err)
}

func lastSeenAttr(lastSeen *int) any {
	if lastSeen == nil {
		return nil
	}
	return *lastSeen
}
