package sensor

import (
	"context"
	"log/slog"
)

// Dummy is a placeholder sensor type: it touches no hardware and records nothing.
type Dummy struct {
	logger *slog.Logger
}

func NewDummy(logger *slog.Logger) *Dummy {
	return &Dummy{logger: logger.With("handler", TypeDummy)}
}

func (d *Dummy) Type() string { return TypeDummy }

func (d *Dummy) Poll(_ context.Context, cfg Config, _ *int) (*Result, error) {
	d.logger.Debug("dummy sensor polled", "sensor", cfg.Name)
	return nil, nil
}
