//go:build !linux

package ble

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"thermopoll/internal/sensor"
)

// Central is only backed by hardware on Linux (BlueZ).
type Central struct {
	logger *slog.Logger
}

func NewCentral(adapter string, logger *slog.Logger) *Central {
	return &Central{logger: logger.With("component", "ble", "adapter", adapter)}
}

func (c *Central) Enable() error {
	return fmt.Errorf("%w: unsupported on %s", ErrNotEnabled, runtime.GOOS)
}

func (c *Central) Connect(context.Context, string) (sensor.Conn, error) {
	return nil, c.Enable()
}
