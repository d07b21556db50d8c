package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scan-io-git/triageio/internal/config"
	"github.com/scan-io-git/triageio/internal/findings"
)

func sampleEntry() Entry {
	return Entry{
		Status: findings.AnalysisOK,
		Findings: []findings.Finding{{
			ID:         "f1",
			File:       "app/db.go",
			Title:      "SQL injection",
			Severity:   findings.SeverityHigh,
			WeaknessID: "CWE-89",
			Location:   findings.Location{StartLine: 10, EndLine: 12},
			Confidence: 0.9,
		}},
		Enhanced: true,
	}
}

func TestBadgerStoreInMemory(t *testing.T) {
	s, err := OpenBadger(BadgerOptions{InMemory: true})
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, "abc", sampleEntry()))
	got, ok, err := s.Get(ctx, "abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, findings.AnalysisOK, got.Status)
	require.Len(t, got.Findings, 1)
	assert.Equal(t, "CWE-89", got.Findings[0].WeaknessID)
	assert.True(t, got.Enhanced)
	assert.False(t, got.StoredAt.IsZero())

	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBadgerStorePersists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenBadger(BadgerOptions{Path: dir})
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "abc", sampleEntry()))
	require.NoError(t, s.Close())

	s2, err := OpenBadger(BadgerOptions{Path: dir})
	require.NoError(t, err)
	defer s2.Close()
	got, ok, err := s2.Get(ctx, "abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "SQL injection", got.Findings[0].Title)
}

func TestBadgerStoreCancelledContext(t *testing.T) {
	s, err := OpenBadger(BadgerOptions{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Put(ctx, "abc", sampleEntry()), context.Canceled)
	_, _, err = s.Get(ctx, "abc")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenFromConfig(t *testing.T) {
	s, err := Open(config.Cache{}, nil)
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = OpenBadger(BadgerOptions{})
	assert.Error(t, err)

	s, err = Open(config.Cache{Enabled: true, InMemory: true}, nil)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.NoError(t, s.Close())
}

func TestMemoryStore(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, m.Put(ctx, "x", sampleEntry()))
	got, ok, err := m.Get(ctx, "x")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, sampleEntry().Findings, got.Findings)
	assert.Equal(t, 1, m.Len())
}
