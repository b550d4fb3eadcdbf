package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"thermopoll/internal/sensor"
)

type sensorEntry struct {
	Type       string `mapstructure:"type"`
	MACAddress string `mapstructure:"mac_address"`
	TxCharUUID string `mapstructure:"tx_char_uuid"`
	RxCharUUID string `mapstructure:"rx_char_uuid"`
	Table      string `mapstructure:"table"`
	Location   string `mapstructure:"location"`
}

type sensorsFile struct {
	Sensors map[string]sensorEntry `mapstructure:"sensors"`
}

// LoadSensors reads the sensor file at path and returns one config per
// section, sorted by name. Section names are case-insensitive. A section
// without a type is dispatched by its name.
func LoadSensors(path string) ([]sensor.Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read sensor file %s: %w", path, err)
	}

	var f sensorsFile
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("parse sensor file %s: %w", path, err)
	}
	if len(f.Sensors) == 0 {
		return nil, fmt.Errorf("sensor file %s: no sensors defined", path)
	}

	out := make([]sensor.Config, 0, len(f.Sensors))
	var errs []error
	for name, e := range f.Sensors {
		cfg, err := e.toConfig(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("sensor %q: %w", name, err))
			continue
		}
		out = append(out, cfg)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (e sensorEntry) toConfig(name string) (sensor.Config, error) {
	typ := strings.TrimSpace(e.Type)
	if typ == "" {
		typ = name
	}
	cfg := sensor.Config{
		Name:    name,
		Type:    typ,
		Address: strings.TrimSpace(e.MACAddress),
		TxChar:  strings.ToLower(strings.TrimSpace(e.TxCharUUID)),
		RxChar:  strings.ToLower(strings.TrimSpace(e.RxCharUUID)),
		Table:   strings.TrimSpace(e.Table),
	}
	if cfg.Table == "" {
		cfg.Table = name
	}
	// Types without a handler pass through so the scheduler can skip them.
	if typ != sensor.TypeWS07 {
		return cfg, nil
	}

	// The address is only checked when polled so one bad entry cannot stop
	// the other sensors.
	if cfg.Address == "" {
		return cfg, fmt.Errorf("mac_address is required")
	}
	if cfg.TxChar == "" || cfg.RxChar == "" {
		return cfg, fmt.Errorf("tx_char_uuid and rx_char_uuid are required")
	}
	loc, err := sensor.ParseLocation(e.Location)
	if err != nil {
		return cfg, err
	}
	cfg.Location = loc
	return cfg, nil
}
