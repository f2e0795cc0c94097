package ingest

import (
	"context"
	"encoding/binary"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sailrace/internal/apperr"
	"sailrace/internal/objectstore"
	"sailrace/internal/windindex"
)

func TestPlanUnits_CoversInclusiveRangeAtAllFourHours(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	units := PlanUnits(from, to, [4]int{0, 6, 12, 18})
	assert.Len(t, units, 8)
	assert.Equal(t, from, units[0].Time)
	assert.Equal(t, 18, units[7].Time.Hour())
}

func TestPlanUnits_SingleDay(t *testing.T) {
	day := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	units := PlanUnits(day, day, [4]int{0, 6, 12, 18})
	assert.Len(t, units, 4)
}

// --- in-memory fake object store ---

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (m *memStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[key]
	if !ok {
		return nil, apperr.NotFound("not found", nil)
	}
	return d, nil
}

func (m *memStore) Put(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
	return nil
}

func (m *memStore) List(ctx context.Context, prefix string) ([]objectstore.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []objectstore.Entry
	for k, v := range m.data {
		out = append(out, objectstore.Entry{Key: k, Size: int64(len(v))})
	}
	return out, nil
}

func (m *memStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memStore) NewMultipart(ctx context.Context, key string) (objectstore.Multipart, error) {
	return &memMultipart{store: m, key: key}, nil
}

type memMultipart struct {
	store *memStore
	key   string
	buf   []byte
}

func (mp *memMultipart) Write(ctx context.Context, data []byte) error {
	mp.buf = append(mp.buf, data...)
	return nil
}
func (mp *memMultipart) Complete(ctx context.Context) error { return mp.store.Put(ctx, mp.key, mp.buf) }
func (mp *memMultipart) Abort(ctx context.Context) error    { mp.buf = nil; return nil }

// --- minimal wind-bearing GRIB2 message builder, mirrors uvpng's test helper ---

func buildWindGribMessage(t *testing.T, param byte, value float32) []byte {
	t.Helper()
	const nx, ny = 720, 360
	const bits = 8
	ref := float32(-50)
	count := nx * ny
	packed := make([]byte, (count*bits+7)/8)
	x := uint64(math.Round(float64(value - ref)))

	var bitPos uint
	for i := 0; i < count; i++ {
		for b := uint(0); b < bits; b++ {
			bit := (x >> (bits - 1 - uint64(b))) & 1
			byteIdx := bitPos / 8
			shift := 7 - (bitPos % 8)
			packed[byteIdx] |= byte(bit << shift)
			bitPos++
		}
	}

	sec3 := make([]byte, 38)
	binary.BigEndian.PutUint32(sec3[30:34], nx)
	binary.BigEndian.PutUint32(sec3[34:38], ny)

	sec4 := make([]byte, 11)
	sec4[9] = 2 // momentum category
	sec4[10] = param

	sec5 := make([]byte, 20)
	binary.BigEndian.PutUint32(sec5[11:15], math.Float32bits(ref))
	sec5[19] = bits

	sec7 := make([]byte, 5+len(packed))
	copy(sec7[5:], packed)

	var body []byte
	body = append(body, withHeader(sec3, 3)...)
	body = append(body, withHeader(sec4, 4)...)
	body = append(body, withHeader(sec5, 5)...)
	body = append(body, withHeader(sec7, 7)...)

	total := 16 + len(body) + 4
	msg := make([]byte, total)
	copy(msg[0:4], "GRIB")
	binary.BigEndian.PutUint64(msg[8:16], uint64(total))
	copy(msg[16:16+len(body)], body)
	copy(msg[total-4:], "7777")
	return msg
}

func withHeader(body []byte, secNum byte) []byte {
	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(4+len(body)))
	out[4] = secNum
	copy(out[5:], body[5:])
	return out
}

func TestOrchestrator_Import_DownloadsTranscodesAndIndexes(t *testing.T) {
	uMsg := buildWindGribMessage(t, 2, 12.0)
	vMsg := buildWindGribMessage(t, 3, -8.0)
	body := append(append([]byte{}, uMsg...), vMsg...)

	archive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer archive.Close()

	gribStore := newMemStore()
	rasterStore := newMemStore()

	idx, err := windindex.Open(t.TempDir() + "/wind.sqlite")
	require.NoError(t, err)
	defer idx.Close()

	orch := New(gribStore, rasterStore, idx, archive.URL, "test-source", zerolog.Nop())

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	report, err := orch.Import(context.Background(), from, from, 2)
	require.NoError(t, err)

	assert.Equal(t, 4, report.Planned)
	assert.Equal(t, 4, report.Imported)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 0, report.NotFound)

	count, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

func TestOrchestrator_Import_SkipsAlreadyIndexedUnits(t *testing.T) {
	gribStore := newMemStore()
	rasterStore := newMemStore()
	idx, err := windindex.Open(t.TempDir() + "/wind.sqlite")
	require.NoError(t, err)
	defer idx.Close()

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err = idx.Upsert(context.Background(), windindex.Report{Time: from, GribPath: "g", PNGPath: "p", Source: "s"})
	require.NoError(t, err)

	archive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "gfs.0p25.2026030100.f000.grib2") {
			t.Error("archive should not be hit for an already-indexed unit")
		}
		// the day's other three hours are not indexed: report no data there
		w.WriteHeader(http.StatusNotFound)
	}))
	defer archive.Close()

	orch := New(gribStore, rasterStore, idx, archive.URL, "test-source", zerolog.Nop())
	report, err := orch.Import(context.Background(), from, from, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
}

func TestOrchestrator_Import_404IsNotFoundNotFailed(t *testing.T) {
	archive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer archive.Close()

	gribStore := newMemStore()
	rasterStore := newMemStore()
	idx, err := windindex.Open(t.TempDir() + "/wind.sqlite")
	require.NoError(t, err)
	defer idx.Close()

	orch := New(gribStore, rasterStore, idx, archive.URL, "test-source", zerolog.Nop())
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	report, err := orch.Import(context.Background(), from, from, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, report.NotFound)
	assert.Equal(t, 0, report.Failed)
}
