package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTable(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const yamlTable = `
drivers:
  - name: imu
    source: synthetic
    period: 50ms
    priority: 8
    fault_threshold: 3
    channel:
      capacity: 10
      policy: drop_oldest
    consumers:
      - name: fusion
        mode: receive
        priority: 6
      - name: dashboard
        mode: peek
        period: 200ms
        priority: 2
  - name: baro
    source: sysload
    period: 1s
    priority: 4
    channel:
      capacity: 4
      policy: reject_newest
`

func TestLoadTableYAML(t *testing.T) {
	path := writeTable(t, "drivers.yaml", yamlTable)

	table, err := LoadTable(path)
	require.NoError(t, err)
	require.Len(t, table.Drivers, 2)

	imu := table.Drivers[0]
	assert.Equal(t, "imu", imu.Name)
	assert.Equal(t, "synthetic", imu.Source)
	assert.Equal(t, 50*time.Millisecond, imu.Period.Std())
	assert.Equal(t, 8, imu.Priority)
	assert.Equal(t, 3, imu.FaultThreshold)
	assert.Equal(t, 10, imu.Channel.Capacity)
	assert.Equal(t, "drop_oldest", imu.Channel.Policy)
	require.Len(t, imu.Consumers, 2)
	assert.Equal(t, "fusion", imu.Consumers[0].Name)
	assert.Equal(t, "receive", imu.Consumers[0].Mode)
	assert.Equal(t, "peek", imu.Consumers[1].Mode)
	assert.Equal(t, 200*time.Millisecond, imu.Consumers[1].Period.Std())

	baro := table.Drivers[1]
	assert.Equal(t, "reject_newest", baro.Channel.Policy)
	assert.Empty(t, baro.Consumers)
}

func TestLoadTableTOML(t *testing.T) {
	path := writeTable(t, "drivers.toml", `
[[drivers]]
name = "imu"
source = "synthetic"
period = "50ms"
priority = 8

[drivers.channel]
capacity = 10
policy = "drop_oldest"

[[drivers.consumers]]
name = "fusion"
mode = "receive"
priority = 6
`)

	table, err := LoadTable(path)
	require.NoError(t, err)
	require.Len(t, table.Drivers, 1)
	assert.Equal(t, "imu", table.Drivers[0].Name)
	assert.Equal(t, 50*time.Millisecond, table.Drivers[0].Period.Std())
	assert.Equal(t, 10, table.Drivers[0].Channel.Capacity)
}

func TestLoadTableUnknownExtension(t *testing.T) {
	path := writeTable(t, "drivers.ini", "[drivers]")

	_, err := LoadTable(path)
	assert.ErrorContains(t, err, "unsupported driver table format")
}

func TestLoadTableMissingFile(t *testing.T) {
	_, err := LoadTable(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsTwoReceivers(t *testing.T) {
	path := writeTable(t, "drivers.yaml", `
drivers:
  - name: imu
    source: synthetic
    period: 50ms
    channel:
      capacity: 10
      policy: drop_oldest
    consumers:
      - name: a
        mode: receive
      - name: b
        mode: receive
`)

	_, err := LoadTable(path)
	assert.ErrorContains(t, err, "at most one receive consumer")
}

func TestValidateRejectsBadSpecs(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Table)
		wantErr string
	}{
		{
			name:    "empty table",
			mutate:  func(tb *Table) { tb.Drivers = nil },
			wantErr: "empty",
		},
		{
			name:    "missing name",
			mutate:  func(tb *Table) { tb.Drivers[0].Name = "" },
			wantErr: "name cannot be empty",
		},
		{
			name:    "missing source",
			mutate:  func(tb *Table) { tb.Drivers[0].Source = "" },
			wantErr: "source cannot be empty",
		},
		{
			name:    "zero period",
			mutate:  func(tb *Table) { tb.Drivers[0].Period = 0 },
			wantErr: "period must be positive",
		},
		{
			name:    "zero capacity",
			mutate:  func(tb *Table) { tb.Drivers[0].Channel.Capacity = 0 },
			wantErr: "capacity must be positive",
		},
		{
			name:    "bad policy",
			mutate:  func(tb *Table) { tb.Drivers[0].Channel.Policy = "coalesce" },
			wantErr: "unknown overflow policy",
		},
		{
			name:    "bad consumer mode",
			mutate:  func(tb *Table) { tb.Drivers[0].Consumers[0].Mode = "stream" },
			wantErr: "unknown consumer mode",
		},
		{
			name:    "duplicate unit name",
			mutate:  func(tb *Table) { tb.Drivers[1].Name = "imu" },
			wantErr: "duplicate name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := validTable()
			tt.mutate(table)
			err := table.Validate()
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func validTable() *Table {
	return &Table{
		Drivers: []DriverSpec{
			{
				Name:   "imu",
				Source: "synthetic",
				Period: Duration(50 * time.Millisecond),
				Channel: ChannelSpec{
					Capacity: 10,
					Policy:   "drop_oldest",
				},
				Consumers: []ConsumerSpec{
					{Name: "fusion", Mode: "receive"},
				},
			},
			{
				Name:   "baro",
				Source: "sysload",
				Period: Duration(time.Second),
				Channel: ChannelSpec{
					Capacity: 4,
					Policy:   "reject_newest",
				},
			},
		},
	}
}
