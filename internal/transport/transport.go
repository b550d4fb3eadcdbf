// Package transport delivers batches of readings to downstream sinks.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"thermopoll/internal/sensor"
)

// Batch is a group of readings from one sensor bound for one table.
type Batch struct {
	ID        string           `json:"batch_id"`
	Dataset   string           `json:"dataset_id"`
	Table     string           `json:"table_id"`
	Sensor    string           `json:"sensor"`
	Records   []sensor.Reading `json:"records"`
	CreatedAt time.Time        `json:"created_at"`
}

// Publisher delivers a batch. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, b Batch) error
	Close() error
}

// Manager fans a batch out to every configured publisher.
type Manager struct {
	publishers map[string]Publisher
	order      []string
	logger     *slog.Logger
}

func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		publishers: make(map[string]Publisher),
		logger:     logger.With("component", "transport"),
	}
}

// Add registers p under name. A name can only be registered once.
func (m *Manager) Add(name string, p Publisher) error {
	if _, exists := m.publishers[name]; exists {
		return fmt.Errorf("transport %q already registered", name)
	}
	m.publishers[name] = p
	m.order = append(m.order, name)
	return nil
}

// Names returns registered publishers in registration order.
func (m *Manager) Names() []string {
	return append([]string(nil), m.order...)
}

// Publish sends b to every publisher. One failing sink does not stop the
// others; all failures are returned joined.
func (m *Manager) Publish(ctx context.Context, b Batch) error {
	if len(m.order) == 0 {
		return errors.New("no transports configured")
	}
	var errs []error
	for _, name := range m.order {
		if err := m.publishers[name].Publish(ctx, b); err != nil {
			m.logger.Error("publish failed",
				"transport", name,
				"batch_id", b.ID,
				"table", b.Table,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		m.logger.Debug("batch published",
			"transport", name,
			"batch_id", b.ID,
			"table", b.Table,
			"records", len(b.Records),
		)
	}
	return errors.Join(errs...)
}

func (m *Manager) Close() error {
	var errs []error
	for _, name := range m.order {
		if err := m.publishers[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
