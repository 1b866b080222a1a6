package enrich

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lanwatch/internal/repository"
)

type fakeVendorStore struct {
	mu      sync.Mutex
	vendors map[string]string
}

func newFakeVendorStore() *fakeVendorStore {
	return &fakeVendorStore{vendors: make(map[string]string)}
}

func (f *fakeVendorStore) GetVendorByOUI(_ context.Context, oui string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vendors[oui]
	if !ok {
		return "", repository.ErrNotFound
	}
	return v, nil
}

func (f *fakeVendorStore) UpsertVendor(_ context.Context, oui, vendor string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vendors[oui] = vendor
	return nil
}

func (f *fakeVendorStore) CountVendors(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.vendors), nil
}

type fakeUpdater struct {
	mu      sync.Mutex
	applied map[string]string
}

func newFakeUpdater() *fakeUpdater {
	return &fakeUpdater{applied: make(map[string]string)}
}

func (f *fakeUpdater) ApplyEnrichment(_ context.Context, deviceID, vendor string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied[deviceID] = vendor
	return nil
}

func (f *fakeUpdater) get(deviceID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applied[deviceID]
}

func TestLookupVendorCommonPrefix(t *testing.T) {
	e := New(newFakeVendorStore(), newFakeUpdater(), 1, zerolog.Nop())

	v, err := e.LookupVendor(context.Background(), "b8:27:eb:12:34:56")
	require.NoError(t, err)
	assert.Equal(t, "Raspberry Pi Foundation", v)
}

func TestLocalVendor(t *testing.T) {
	assert.Equal(t, "Raspberry Pi Foundation", LocalVendor("B8:27:EB:12:34:56"))
	assert.Equal(t, "", LocalVendor("aa:bb:cc:00:11:22"))
	assert.Equal(t, "", LocalVendor(""))
}

func TestLookupVendorLocalCache(t *testing.T) {
	store := newFakeVendorStore()
	store.vendors["AA:BB:CC"] = "Cached Corp"
	e := New(store, newFakeUpdater(), 1, zerolog.Nop())

	v, err := e.LookupVendor(context.Background(), "aa:bb:cc:00:11:22")
	require.NoError(t, err)
	assert.Equal(t, "Cached Corp", v)
}

func TestLookupVendorAPIFallbackCachesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Acme Networks\n"))
	}))
	defer srv.Close()

	store := newFakeVendorStore()
	e := New(store, newFakeUpdater(), 1, zerolog.Nop())
	// Point the API tiers at the test server.
	e.client = &http.Client{Transport: rewriteTransport{base: srv.URL}}

	v, err := e.LookupVendor(context.Background(), "de:ad:be:ef:00:01")
	require.NoError(t, err)
	assert.Equal(t, "Acme Networks", v)

	cached, err := store.GetVendorByOUI(context.Background(), "DE:AD:BE")
	require.NoError(t, err)
	assert.Equal(t, "Acme Networks", cached)
}

// rewriteTransport sends every request to the test server regardless of
// the original host.
type rewriteTransport struct {
	base string
}

func (t rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	target, err := http.NewRequest(req.Method, t.base+req.URL.Path, nil)
	if err != nil {
		return nil, err
	}
	return http.DefaultTransport.RoundTrip(target)
}

func TestEnricherAppliesVendor(t *testing.T) {
	store := newFakeVendorStore()
	updater := newFakeUpdater()
	e := New(store, updater, 2, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	e.Enqueue(Request{DeviceID: "dev-1", MAC: "B8:27:EB:AA:BB:CC"})

	require.Eventually(t, func() bool {
		return updater.get("dev-1") == "Raspberry Pi Foundation"
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	e.Wait()
}

func TestEnqueueIgnoresInvalidMAC(t *testing.T) {
	e := New(newFakeVendorStore(), newFakeUpdater(), 1, zerolog.Nop())
	e.Enqueue(Request{DeviceID: "dev-1", MAC: "not-a-mac"})
	assert.Empty(t, e.queue)
}

func TestRefresherParsesRegistry(t *testing.T) {
	const registry = "00-00-00   (hex)\t\tXEROX CORPORATION\n" +
		"00-00-01   (hex)\t\tXEROX CORPORATION\n" +
		"28-6F-B9   (hex)\t\tNokia Shanghai Bell Co., Ltd.\n"

	store := newFakeVendorStore()
	r := NewRefresher(store, zerolog.Nop())

	n, err := r.load(context.Background(), registry)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	v, err := store.GetVendorByOUI(context.Background(), "28:6F:B9")
	require.NoError(t, err)
	assert.Equal(t, "Nokia Shanghai Bell Co., Ltd.", v)
}

func TestRefresherEnsureDataSkipsWhenPopulated(t *testing.T) {
	store := newFakeVendorStore()
	store.vendors["00:00:00"] = "XEROX CORPORATION"
	r := NewRefresher(store, zerolog.Nop())
	// The IEEE URL is unreachable in tests; EnsureData must not try it.
	require.NoError(t, r.EnsureData(context.Background()))
}
