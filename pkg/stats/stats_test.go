package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportgrid/pkg/align"
	"reportgrid/pkg/bucket"
	"reportgrid/pkg/normalize"
	"reportgrid/pkg/source"
	"reportgrid/pkg/source/memory"
)

var base = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func sample(offset time.Duration, v float64) source.Sample {
	return source.Sample{Timestamp: base.Add(offset), Value: normalize.FromFloat(v)}
}

func TestSummarize_RoundsAfterAggregation(t *testing.T) {
	store := memory.New(bucket.Default())
	store.Write("temp",
		sample(0, 10.04),
		sample(10*time.Minute, 20.06),
		sample(20*time.Minute, 30.05),
	)

	got, err := New(store).Summarize(context.Background(), []string{"temp"}, base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Contains(t, got, "temp")

	// avg of raw values is 20.05, rounded half-up once at the end.
	assert.Equal(t, Summary{Min: 10.0, Max: 30.1, Avg: 20.1}, got["temp"])
}

func TestSummarize_OmitsEmptySources(t *testing.T) {
	store := memory.New(bucket.Default())
	store.Write("temp", sample(0, 1.0))
	store.Register("idle")

	got, err := New(store).Summarize(context.Background(), []string{"temp", "idle"}, base, base.Add(time.Hour))
	require.NoError(t, err)

	assert.Contains(t, got, "temp")
	assert.NotContains(t, got, "idle", "empty sources are omitted, not zeroed")
}

func TestSummarize_UnknownSourceFails(t *testing.T) {
	store := memory.New(bucket.Default())
	store.Write("temp", sample(0, 1.0))

	_, err := New(store).Summarize(context.Background(), []string{"temp", "missing"}, base, base.Add(time.Hour))
	require.Error(t, err)
	assert.True(t, errors.Is(err, source.ErrUnavailable))
}

func TestSummarize_EmptySourceList(t *testing.T) {
	store := memory.New(bucket.Default())

	_, err := New(store).Summarize(context.Background(), nil, base, base.Add(time.Hour))
	assert.True(t, errors.Is(err, align.ErrInvalidRequest))
}

// plainReader hides the memory store's Aggregate method so the in-process
// fallback path gets exercised too.
type plainReader struct {
	inner source.Reader
}

func (r plainReader) Read(ctx context.Context, id string, from, to time.Time) ([]source.Sample, error) {
	return r.inner.Read(ctx, id, from, to)
}

func (r plainReader) ReadPage(ctx context.Context, id string, from, to time.Time, offset, limit int) ([]source.Sample, error) {
	return r.inner.ReadPage(ctx, id, from, to, offset, limit)
}

func TestSummarize_FallbackWithoutPushdown(t *testing.T) {
	store := memory.New(bucket.Default())
	store.Write("temp",
		sample(0, 10.04),
		sample(10*time.Minute, 20.06),
		sample(20*time.Minute, 30.05),
	)

	got, err := New(plainReader{store}).Summarize(context.Background(), []string{"temp"}, base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, Summary{Min: 10.0, Max: 30.1, Avg: 20.1}, got["temp"])
}
