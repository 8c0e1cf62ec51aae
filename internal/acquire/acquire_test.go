package acquire

import (
	"context"
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewByKind(t *testing.T) {
	syn, err := New(KindSynthetic)
	require.NoError(t, err)
	assert.IsType(t, &Synthetic{}, syn)

	load, err := New(KindSysload)
	require.NoError(t, err)
	assert.IsType(t, &Sysload{}, load)

	_, err = New("thermal")
	assert.ErrorContains(t, err, "unknown source kind")
}

func TestSyntheticIsDeterministic(t *testing.T) {
	a := NewSynthetic()
	b := NewSynthetic()

	for i := 0; i < 250; i++ {
		va, err := a.Acquire(context.Background())
		require.NoError(t, err)
		vb, err := b.Acquire(context.Background())
		require.NoError(t, err)
		assert.Equal(t, va, vb)
		assert.LessOrEqual(t, math.Abs(va), 1.0)
	}
}

func TestSyntheticFaultInjection(t *testing.T) {
	s := NewSynthetic()

	_, err := s.Acquire(context.Background())
	require.NoError(t, err)

	s.SetFailing(true)
	_, err = s.Acquire(context.Background())
	assert.ErrorContains(t, err, "injected fault")

	s.SetFailing(false)
	_, err = s.Acquire(context.Background())
	assert.NoError(t, err)
}

func TestSysloadParsesLoadavg(t *testing.T) {
	s := NewSysload()
	s.path = writeFile(t, "0.42 0.37 0.30 1/150 12345\n")

	v, err := s.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.42, v)
}

func TestSysloadRejectsGarbage(t *testing.T) {
	s := NewSysload()

	s.path = writeFile(t, "not-a-number rest\n")
	_, err := s.Acquire(context.Background())
	assert.Error(t, err)

	s.path = "/nonexistent/loadavg"
	_, err = s.Acquire(context.Background())
	assert.Error(t, err)
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := t.TempDir() + "/loadavg"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
