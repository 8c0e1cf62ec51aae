package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/drivetrain-rt/drivetrain/internal/channel"
	"github.com/drivetrain-rt/drivetrain/internal/driver"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// Duration wraps time.Duration so both the YAML and TOML decoders accept
// human-readable values like "50ms".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Table is the declarative driver configuration: every scheduled unit the
// runtime creates, with its channel and consumers.
type Table struct {
	Drivers []DriverSpec `yaml:"drivers" toml:"drivers" json:"drivers"`
}

// DriverSpec describes one driver unit.
type DriverSpec struct {
	Name           string         `yaml:"name" toml:"name" json:"name"`
	Source         string         `yaml:"source" toml:"source" json:"source"`
	Period         Duration       `yaml:"period" toml:"period" json:"period"`
	Priority       int            `yaml:"priority" toml:"priority" json:"priority"`
	StackBudget    int            `yaml:"stack_budget" toml:"stack_budget" json:"stack_budget,omitempty"`
	FaultThreshold int            `yaml:"fault_threshold" toml:"fault_threshold" json:"fault_threshold,omitempty"`
	Channel        ChannelSpec    `yaml:"channel" toml:"channel" json:"channel"`
	Consumers      []ConsumerSpec `yaml:"consumers" toml:"consumers" json:"consumers,omitempty"`
}

// ChannelSpec describes a driver's output channel.
type ChannelSpec struct {
	Capacity int    `yaml:"capacity" toml:"capacity" json:"capacity"`
	Policy   string `yaml:"policy" toml:"policy" json:"policy"`
}

// ConsumerSpec describes one consumer unit attached to a driver's channel.
type ConsumerSpec struct {
	Name        string   `yaml:"name" toml:"name" json:"name"`
	Mode        string   `yaml:"mode" toml:"mode" json:"mode"`
	Period      Duration `yaml:"period" toml:"period" json:"period,omitempty"`
	Priority    int      `yaml:"priority" toml:"priority" json:"priority"`
	StackBudget int      `yaml:"stack_budget" toml:"stack_budget" json:"stack_budget,omitempty"`
}

// LoadTable reads and validates a driver table. The format is chosen by
// file extension: .yaml/.yml or .toml.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read driver table: %w", err)
	}

	var t Table
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver table format %q (want .yaml, .yml, or .toml)", ext)
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks the whole table. Validation happens before any unit or
// channel is created, so a bad spec leaves no partial state behind.
func (t *Table) Validate() error {
	if len(t.Drivers) == 0 {
		return fmt.Errorf("driver table is empty")
	}

	names := make(map[string]struct{})
	for i := range t.Drivers {
		d := &t.Drivers[i]
		if err := d.validate(); err != nil {
			return err
		}
		if _, dup := names[d.Name]; dup {
			return fmt.Errorf("driver %q: duplicate name", d.Name)
		}
		names[d.Name] = struct{}{}
		for _, c := range d.Consumers {
			if _, dup := names[c.Name]; dup {
				return fmt.Errorf("consumer %q: duplicate name", c.Name)
			}
			names[c.Name] = struct{}{}
		}
	}
	return nil
}

func (d *DriverSpec) validate() error {
	if d.Name == "" {
		return fmt.Errorf("driver name cannot be empty")
	}
	if d.Source == "" {
		return fmt.Errorf("driver %q: source cannot be empty", d.Name)
	}
	if d.Period <= 0 {
		return fmt.Errorf("driver %q: period must be positive", d.Name)
	}
	if d.Channel.Capacity <= 0 {
		return fmt.Errorf("driver %q: channel capacity must be positive", d.Name)
	}
	if _, err := channel.ParsePolicy(d.Channel.Policy); err != nil {
		return fmt.Errorf("driver %q: %w", d.Name, err)
	}

	receivers := 0
	for i := range d.Consumers {
		c := &d.Consumers[i]
		if c.Name == "" {
			return fmt.Errorf("driver %q: consumer name cannot be empty", d.Name)
		}
		mode, err := driver.ParseConsumerMode(c.Mode)
		if err != nil {
			return fmt.Errorf("consumer %q: %w", c.Name, err)
		}
		if mode == driver.ModeReceive {
			receivers++
		}
		if c.Period < 0 {
			return fmt.Errorf("consumer %q: period cannot be negative", c.Name)
		}
	}
	if receivers > 1 {
		return fmt.Errorf("driver %q: at most one receive consumer per channel, got %d", d.Name, receivers)
	}
	return nil
}
