package jobs

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpalmerr/pulsefeed/internal/channel"
	"github.com/jpalmerr/pulsefeed/internal/integration"
	"github.com/jpalmerr/pulsefeed/internal/integration/adapters"
	"github.com/jpalmerr/pulsefeed/internal/jobstatus"
	"github.com/jpalmerr/pulsefeed/internal/poller"
	"github.com/jpalmerr/pulsefeed/internal/requestcache"
	"github.com/jpalmerr/pulsefeed/internal/scheduler"
)

const (
	fakeQueueKind    integration.Kind = "fakeQueue"
	fakeDNSKind      integration.Kind = "fakeDNS"
	fakeCalendarKind integration.Kind = "fakeCalendar"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// syncBuffer is a log sink safe for concurrent job goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) entries(t *testing.T, msg string) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	for sc.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &entry))
		if entry["msg"] == msg {
			out = append(out, entry)
		}
	}
	return out
}

// prefixDecrypter treats "enc:<plain>" as the encrypted form of <plain>.
type prefixDecrypter struct{}

func (prefixDecrypter) Decrypt(s string) (string, error) {
	plain, ok := strings.CutPrefix(s, "enc:")
	if !ok {
		return "", errors.New("decrypt: message authentication failed")
	}
	return plain, nil
}

type fakeClient struct {
	kind   integration.Kind
	record integration.Record
	calls  *atomic.Int32
	fail   func(id string) bool
}

func (c *fakeClient) Kind() integration.Kind { return c.kind }

func (c *fakeClient) call() error {
	c.calls.Add(1)
	if c.fail != nil && c.fail(c.record.ID) {
		return errors.New("dial tcp: connection refused")
	}
	return nil
}

func (c *fakeClient) DownloadQueue(context.Context) (integration.DownloadQueue, error) {
	if err := c.call(); err != nil {
		return integration.DownloadQueue{}, err
	}
	return integration.DownloadQueue{Items: []integration.DownloadItem{{ID: c.record.ID, Name: "linux.iso"}}}, nil
}

func (c *fakeClient) DNSHoleSummary(context.Context) (integration.DNSHoleSummary, error) {
	if err := c.call(); err != nil {
		return integration.DNSHoleSummary{}, err
	}
	return integration.DNSHoleSummary{Enabled: true, AdsBlockedToday: 42}, nil
}

func (c *fakeClient) CalendarEvents(_ context.Context, start, _ time.Time) ([]integration.CalendarEvent, error) {
	if err := c.call(); err != nil {
		return nil, err
	}
	return []integration.CalendarEvent{{Title: c.record.ID, AirDate: start}}, nil
}

type fixture struct {
	broker   *channel.MemoryBroker
	calls    atomic.Int32
	logs     *syncBuffer
	pipeline *Pipeline

	mu     sync.Mutex
	failed map[string]bool
}

func (f *fixture) setFailing(id string, failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = failing
}

func (f *fixture) isFailing(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failed[id]
}

func newFixture(t *testing.T, records []integration.Record, customize ...func(*Deps)) *fixture {
	t.Helper()

	f := &fixture{
		broker: channel.NewMemoryBroker(),
		logs:   &syncBuffer{},
		failed: make(map[string]bool),
	}

	reg := integration.NewRegistry()
	factory := func(kind integration.Kind) integration.Factory {
		return func(rec integration.Record, creds integration.Credentials) (integration.Client, error) {
			if _, err := creds.Require(integration.SecretAPIKey); err != nil {
				return nil, err
			}
			return &fakeClient{kind: kind, record: rec, calls: &f.calls, fail: f.isFailing}, nil
		}
	}
	reg.Register(fakeQueueKind, factory(fakeQueueKind), integration.CapabilityDownloads)
	reg.Register(fakeDNSKind, factory(fakeDNSKind), integration.CapabilityDNSHole)
	reg.Register(fakeCalendarKind, factory(fakeCalendarKind), integration.CapabilityCalendar)

	deps := Deps{
		Integrations: integration.StaticSource(records),
		Registry:     reg,
		Decrypter:    prefixDecrypter{},
		Broker:       f.broker,
		CacheStore:   requestcache.NewMemoryStore(16),
		Logger:       slog.New(slog.NewJSONHandler(f.logs, nil)),
	}
	for _, c := range customize {
		c(&deps)
	}

	p, err := NewPipeline(deps)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	f.pipeline = p
	return f
}

func record(id string, kind integration.Kind) integration.Record {
	return integration.Record{
		ID:      id,
		Kind:    kind,
		Name:    "name-" + id,
		URL:     "http://" + id + ".local",
		Secrets: []integration.Secret{{Kind: integration.SecretAPIKey, EncryptedValue: "enc:key-" + id}},
	}
}

func TestNewPipeline_Validation(t *testing.T) {
	_, err := NewPipeline(Deps{})
	assert.Error(t, err)

	f := newFixture(t, nil)
	deps := f.pipeline.deps
	deps.PingURLs = []string{"ftp://nope"}
	_, err = NewPipeline(deps)
	assert.ErrorContains(t, err, "ftp://nope")
}

func TestDownloadsJob_PartialFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, []integration.Record{record("X", fakeQueueKind), record("Y", fakeQueueKind)})
	chX := channel.ItemAndIntegration[integration.DownloadQueue](f.broker, WidgetDownloads, "X")
	chY := channel.ItemAndIntegration[integration.DownloadQueue](f.broker, WidgetDownloads, "Y")

	require.NoError(t, chX.PublishAndUpdateLastState(ctx, integration.DownloadQueue{Paused: true}))
	before, ok, err := chX.LastState(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	updatesY, stopY, err := chY.Subscribe(ctx)
	require.NoError(t, err)
	defer stopY()

	f.setFailing("X", true)

	status := jobstatus.New(jobstatus.WithLogger(testLogger()))
	s := scheduler.New(scheduler.WithLogger(testLogger()), scheduler.WithHooks(status))
	names, err := Register(s, f.pipeline, nil)
	require.NoError(t, err)
	status.Track(names...)

	s.Start(ctx)
	defer s.Stop()
	require.NoError(t, s.Trigger(ctx, JobDownloads))

	select {
	case v := <-updatesY:
		require.Len(t, v.Value.Items, 1)
		assert.Equal(t, "Y", v.Value.Items[0].ID)
	case <-time.After(2 * time.Second):
		t.Fatal("Y was not published")
	}

	require.Eventually(t, func() bool {
		run, ok := status.Status(JobDownloads)
		return ok && run.LastOutcome == jobstatus.StatusSuccess
	}, 2*time.Second, 10*time.Millisecond)

	after, ok, err := chX.LastState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, before.Value, after.Value)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt), "X's last state must not change")

	failures := f.logs.entries(t, "integration iteration failed")
	require.Len(t, failures, 1)
	assert.Equal(t, "X", failures[0]["integration_id"])
	assert.Equal(t, string(fakeQueueKind), failures[0]["integration_kind"])
	assert.Equal(t, JobDownloads, failures[0]["job"])
	assert.Contains(t, failures[0]["error"], "connection refused")
}

func TestDownloadsJob_AllFailedIsAnError(t *testing.T) {
	f := newFixture(t, []integration.Record{record("X", fakeQueueKind), record("Y", fakeQueueKind)})
	f.setFailing("X", true)
	f.setFailing("Y", true)

	err := f.pipeline.runDownloads(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 items failed")
	assert.Len(t, f.logs.entries(t, "integration iteration failed"), 2)
}

func TestVendorJobs_TransportFailureLogsNoSecrets(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()
	require.NoError(t, ln.Close())

	vendor := func(id string, kind integration.Kind, secret string) integration.Record {
		return integration.Record{
			ID:      id,
			Kind:    kind,
			URL:     base,
			Secrets: []integration.Secret{{Kind: integration.SecretAPIKey, EncryptedValue: "enc:" + secret}},
		}
	}
	f := newFixture(t, []integration.Record{
		vendor("sab", integration.KindSABnzbd, "SABSECRETKEY"),
		vendor("pihole", integration.KindPiHole, "PIHOLETOKEN"),
		vendor("sonarr", integration.KindSonarr, "SONARRSECRET"),
	}, func(d *Deps) { d.Registry = adapters.NewRegistry() })

	ctx := context.Background()
	var runErrs []error
	for _, run := range []func(context.Context) error{f.pipeline.runDownloads, f.pipeline.runDNSHole, f.pipeline.runCalendar} {
		err := run(ctx)
		require.Error(t, err)
		runErrs = append(runErrs, err)
	}

	failures := f.logs.entries(t, "integration iteration failed")
	require.Len(t, failures, 3)
	for _, entry := range failures {
		assert.Contains(t, entry["error"], "connection refused")
	}

	logs := f.logs.String()
	for _, secret := range []string{"SABSECRETKEY", "PIHOLETOKEN", "SONARRSECRET"} {
		assert.NotContains(t, logs, secret)
		for _, err := range runErrs {
			assert.NotContains(t, err.Error(), secret)
		}
	}
}

func TestDNSHoleJob_DecryptionFailureOnlyFailsThatIntegration(t *testing.T) {
	ctx := context.Background()
	bad := record("bad", fakeDNSKind)
	bad.Secrets[0].EncryptedValue = "not-encrypted"
	f := newFixture(t, []integration.Record{bad, record("good", fakeDNSKind), record("q", fakeQueueKind)})

	require.NoError(t, f.pipeline.runDNSHole(ctx))

	got, ok, err := channel.ItemAndIntegration[integration.DNSHoleSummary](f.broker, WidgetDNSHole, "good").LastState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 42, got.Value.AdsBlockedToday)

	_, ok, err = channel.ItemAndIntegration[integration.DNSHoleSummary](f.broker, WidgetDNSHole, "bad").LastState(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, int32(1), f.calls.Load(), "only the good integration reaches its adapter")

	failures := f.logs.entries(t, "integration iteration failed")
	require.Len(t, failures, 1)
	assert.Equal(t, "bad", failures[0]["integration_id"])
	assert.NotContains(t, failures[0]["error"], "not-encrypted")
}

func TestCalendarJob_ForcesRefreshAndOnDemandReadsUseCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	f := newFixture(t, []integration.Record{record("cal", fakeCalendarKind), record("q", fakeQueueKind)},
		func(d *Deps) { d.Now = func() time.Time { return now } })

	events, err := f.pipeline.Calendar(ctx, "cal")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), events[0].AirDate)

	_, err = f.pipeline.Calendar(ctx, "cal")
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.calls.Load(), "second read is served from cache")

	require.NoError(t, f.pipeline.runCalendar(ctx))
	assert.Equal(t, int32(2), f.calls.Load(), "the job always refreshes")

	got, ok, err := channel.ItemAndIntegration[[]integration.CalendarEvent](f.broker, WidgetCalendar, "cal").LastState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "cal", got.Value[0].Title)

	_, err = f.pipeline.Calendar(ctx, "cal")
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.calls.Load())

	_, err = f.pipeline.Calendar(ctx, "missing")
	assert.ErrorIs(t, err, ErrIntegrationNotFound)

	_, err = f.pipeline.Calendar(ctx, "q")
	assert.ErrorIs(t, err, integration.ErrUnsupportedCapability)
}

func TestCalendarJob_FetchErrorKeepsCachedValue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []integration.Record{record("cal", fakeCalendarKind)})

	_, err := f.pipeline.Calendar(ctx, "cal")
	require.NoError(t, err)

	f.setFailing("cal", true)
	err = f.pipeline.runCalendar(ctx)
	require.Error(t, err)
	var fetchErr *requestcache.FetchError
	assert.ErrorAs(t, err, &fetchErr)

	events, err := f.pipeline.Calendar(ctx, "cal")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestPingJob_ProbesRegisteredURLsOnceThenClears(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	hits := make(map[string]int)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits[r.URL.Path]++
		mu.Unlock()
		if r.URL.Path == "/b" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newFixture(t, nil, func(d *Deps) {
		d.Prober = poller.NewProber(poller.WithTimeout(2*time.Second), poller.WithLogger(testLogger()))
	})
	list := channel.NewList[string](f.broker, PingListName)

	require.NoError(t, list.Add(ctx, srv.URL+"/stale"))
	require.NoError(t, f.pipeline.clearPingURLs(ctx))

	urlA, urlB := srv.URL+"/a", srv.URL+"/b"
	require.NoError(t, f.pipeline.RegisterPingURL(ctx, urlA))
	require.NoError(t, f.pipeline.RegisterPingURL(ctx, urlB))
	require.NoError(t, f.pipeline.RegisterPingURL(ctx, urlA))

	got, err := list.GetAll(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{urlA, urlB}, got)

	updatesA, stopA, err := channel.Named[poller.Result](f.broker, PingTopic(urlA)).Subscribe(ctx)
	require.NoError(t, err)
	defer stopA()
	updatesB, stopB, err := channel.Named[poller.Result](f.broker, PingTopic(urlB)).Subscribe(ctx)
	require.NoError(t, err)
	defer stopB()

	require.NoError(t, f.pipeline.runPing(ctx))

	for _, tc := range []struct {
		updates <-chan channel.Timestamped[poller.Result]
		url     string
		status  poller.Status
	}{
		{updatesA, urlA, poller.StatusUp},
		{updatesB, urlB, poller.StatusDown},
	} {
		select {
		case v := <-tc.updates:
			assert.Equal(t, tc.url, v.Value.URL)
			assert.Equal(t, tc.status, v.Value.Status)
		case <-time.After(2 * time.Second):
			t.Fatalf("no result published for %s", tc.url)
		}
	}

	mu.Lock()
	assert.Equal(t, 1, hits["/a"])
	assert.Equal(t, 1, hits["/b"])
	assert.Zero(t, hits["/stale"])
	mu.Unlock()

	got, err = list.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, got, "list is cleared before the next tick")
}

func TestPingJob_ConfiguredURLsSurviveTicks(t *testing.T) {
	ctx := context.Background()
	var probed atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		probed.Add(1)
	}))
	defer srv.Close()

	f := newFixture(t, nil, func(d *Deps) {
		d.PingURLs = []string{srv.URL}
	})

	require.NoError(t, f.pipeline.RegisterPingURL(ctx, srv.URL))
	require.NoError(t, f.pipeline.runPing(ctx))
	require.NoError(t, f.pipeline.runPing(ctx))
	assert.Equal(t, int32(2), probed.Load(), "duplicates are probed once per tick")

	got, ok, err := channel.Named[poller.Result](f.broker, PingTopic(srv.URL)).LastState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, poller.StatusUp, got.Value.Status)
}

func TestRegisterPingURL_RejectsInvalidURL(t *testing.T) {
	f := newFixture(t, nil)
	assert.Error(t, f.pipeline.RegisterPingURL(context.Background(), "not a url"))
}
