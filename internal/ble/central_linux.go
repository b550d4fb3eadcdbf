//go:build linux

package ble

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"

	"thermopoll/internal/sensor"
)

// maxAttribute is the largest value a GATT read can return.
const maxAttribute = 512

// Central connects to peripherals through one local adapter. It is safe
// for concurrent use; each Connect opens an independent link.
type Central struct {
	adapter *bluetooth.Adapter
	name    string
	logger  *slog.Logger

	mu      sync.Mutex
	enabled bool
}

func NewCentral(adapter string, logger *slog.Logger) *Central {
	if adapter == "" {
		adapter = "hci0"
	}
	return &Central{
		adapter: bluetooth.NewAdapter(adapter),
		name:    adapter,
		logger:  logger.With("component", "ble", "adapter", adapter),
	}
}

// Enable powers on the adapter. Connect retries it while it keeps failing.
func (c *Central) Enable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled {
		return nil
	}
	if err := c.adapter.Enable(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNotEnabled, c.name, err)
	}
	c.enabled = true
	c.logger.Info("ble adapter enabled")
	return nil
}

func (c *Central) Connect(ctx context.Context, address string) (sensor.Conn, error) {
	if err := c.Enable(); err != nil {
		return nil, err
	}

	mac, err := bluetooth.ParseMAC(address)
	if err != nil {
		return nil, fmt.Errorf("parse address %q: %w", address, err)
	}
	addr := bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}

	dev, err := call(ctx,
		func() (bluetooth.Device, error) {
			return c.adapter.Connect(addr, bluetooth.ConnectionParams{})
		},
		func(d bluetooth.Device) { _ = d.Disconnect() },
	)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", address, err)
	}

	chars, err := call(ctx, func() (map[string]bluetooth.DeviceCharacteristic, error) {
		return discover(dev)
	}, nil)
	if err != nil {
		_ = dev.Disconnect()
		return nil, fmt.Errorf("discover %s: %w", address, err)
	}

	c.logger.Debug("ble connected", "address", address, "characteristics", len(chars))
	return &conn{dev: dev, chars: chars, address: address}, nil
}

func discover(dev bluetooth.Device) (map[string]bluetooth.DeviceCharacteristic, error) {
	services, err := dev.DiscoverServices(nil)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bluetooth.DeviceCharacteristic)
	for _, svc := range services {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", svc.UUID().String(), err)
		}
		for _, ch := range chars {
			out[strings.ToLower(ch.UUID().String())] = ch
		}
	}
	return out, nil
}

type conn struct {
	dev     bluetooth.Device
	chars   map[string]bluetooth.DeviceCharacteristic
	address string

	closeOnce sync.Once
	closeErr  error
}

func (c *conn) characteristic(uuid string) (bluetooth.DeviceCharacteristic, error) {
	ch, ok := c.chars[strings.ToLower(uuid)]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("characteristic %s not found on %s", uuid, c.address)
	}
	return ch, nil
}

func (c *conn) Write(ctx context.Context, char string, p []byte) error {
	ch, err := c.characteristic(char)
	if err != nil {
		return err
	}
	_, err = call(ctx, func() (int, error) { return ch.Write(p) }, nil)
	return err
}

func (c *conn) Read(ctx context.Context, char string) ([]byte, error) {
	ch, err := c.characteristic(char)
	if err != nil {
		return nil, err
	}
	return call(ctx, func() ([]byte, error) {
		buf := make([]byte, maxAttribute)
		n, err := ch.Read(buf)
		if err != nil {
			return nil, err
		}
		return buf[:n], nil
	}, nil)
}

func (c *conn) Close() error {
	c.closeOnce.Do(func() { c.closeErr = c.dev.Disconnect() })
	return c.closeErr
}
