package windindex

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sailrace/internal/objectstore"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wind_index.sqlite")
	idx, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestUpsert_InsertThenUpdateSamePrimaryKey(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)

	tm := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inserted, err := idx.Upsert(ctx, Report{Time: tm, GribPath: "g1", PNGPath: "p1", Source: "ncar"})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = idx.Upsert(ctx, Report{Time: tm, GribPath: "g2", PNGPath: "p2", Source: "ncar"})
	require.NoError(t, err)
	assert.False(t, inserted)

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	reports, err := idx.Range(ctx, tm, tm)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "g2", reports[0].GribPath)
	assert.Equal(t, "p2", reports[0].PNGPath)
}

func TestExists_FalseForMissingTime(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)
	ok, err := idx.Exists(ctx, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRange_OrdersAscendingAndRespectsBounds(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		tm := base.Add(time.Duration(i) * 6 * time.Hour)
		_, err := idx.Upsert(ctx, Report{Time: tm, GribPath: "g", PNGPath: "p", Source: "s"})
		require.NoError(t, err)
	}

	reports, err := idx.Range(ctx, base.Add(6*time.Hour), base.Add(18*time.Hour))
	require.NoError(t, err)
	require.Len(t, reports, 3)
	assert.True(t, reports[0].Time.Before(reports[1].Time))
	assert.True(t, reports[1].Time.Before(reports[2].Time))
}

type fakeStore struct {
	entries []objectstore.Entry
}

func (f *fakeStore) Get(ctx context.Context, key string) ([]byte, error) { return nil, nil }
func (f *fakeStore) Put(ctx context.Context, key string, data []byte) error { return nil }
func (f *fakeStore) List(ctx context.Context, prefix string) ([]objectstore.Entry, error) {
	return f.entries, nil
}
func (f *fakeStore) Delete(ctx context.Context, key string) error { return nil }
func (f *fakeStore) NewMultipart(ctx context.Context, key string) (objectstore.Multipart, error) {
	return nil, nil
}

func TestRebuild_SkipsMalformedKeysAndIndexesValidOnes(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)

	store := &fakeStore{entries: []objectstore.Entry{
		{Key: "ncar/2026/0301/12/uv.png"},
		{Key: "ncar/not-a-valid-key.png"},
		{Key: "ncar/2026/0301/18/uv.png"},
	}}

	var skipped []string
	count, err := idx.Rebuild(ctx, store, "ncar-rebuild", false, func(key string) {
		skipped = append(skipped, key)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, []string{"ncar/not-a-valid-key.png"}, skipped)

	total, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}
