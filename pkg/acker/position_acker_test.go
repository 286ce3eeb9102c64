package acker

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestPositionAckerPersistsAndReloads(t *testing.T) {
	dir := t.TempDir()

	pa, err := NewPositionAcker(dir, "source-a", testLogger())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), pa.Acked())

	pa.Ack(5)
	pa.Ack(3)
	assert.Equal(t, uint64(8), pa.Acked())

	reloaded, err := NewPositionAcker(dir, "source-a", testLogger())
	require.NoError(t, err)
	assert.Equal(t, uint64(8), reloaded.Acked(), "cumulative count must survive a restart")
}

func TestPositionAckerSeparatesSourceKeys(t *testing.T) {
	dir := t.TempDir()

	a, err := NewPositionAcker(dir, "source-a", testLogger())
	require.NoError(t, err)
	b, err := NewPositionAcker(dir, "source-b", testLogger())
	require.NoError(t, err)

	a.Ack(10)
	assert.Equal(t, uint64(10), a.Acked())
	assert.Equal(t, uint64(0), b.Acked(), "one source's position file must not bleed into another's")
}

func TestNewPositionAckerCreatesMissingDir(t *testing.T) {
	dir := t.TempDir() + "/nested/positions"

	_, err := NewPositionAcker(dir, "source-a", testLogger())
	require.NoError(t, err)
}
