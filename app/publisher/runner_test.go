package publisher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/itambient/feedpost/app/cfg"
	"github.com/itambient/feedpost/app/feed"
	"github.com/itambient/feedpost/app/sources"
	"github.com/itambient/feedpost/app/telegram"
)

type fakeSources struct {
	srcs []sources.Source
}

func (f *fakeSources) Load() ([]sources.Source, error) {
	return f.srcs, nil
}

type fakeFetcher struct {
	feeds map[string][]feed.Item
	errs  map[string]error
	calls int
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]feed.Item, error) {
	f.calls++
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	return f.feeds[url], nil
}

type fakeDeliverer struct {
	messages []string
	sentAt   []time.Time
	failOn   map[string]bool
}

func (f *fakeDeliverer) Send(_ context.Context, text string) error {
	for substr := range f.failOn {
		if strings.Contains(text, substr) {
			return errors.New("hard delivery failure")
		}
	}
	f.messages = append(f.messages, text)
	f.sentAt = append(f.sentAt, time.Now())
	return nil
}

func runnerCfg() *cfg.Cfg {
	return &cfg.Cfg{
		MaxPostsPerRun:   3,
		DailyMaxPosts:    30,
		DomainMaxPer24h:  2,
		NightStartHour:   0,
		NightEndHour:     0, // never night
		PostDelaySeconds: 0,
		CooldownSeconds:  0,
	}
}

func items(links ...string) []feed.Item {
	out := make([]feed.Item, 0, len(links))
	for i, link := range links {
		out = append(out, feed.Item{
			Title:   fmt.Sprintf("Title %d", i+1),
			Summary: fmt.Sprintf("Summary %d", i+1),
			Link:    link,
		})
	}
	return out
}

func TestRunner_Run_AdmitsFreshItemsInOrder(t *testing.T) {
	led := openTestLedger(t)
	fetcher := &fakeFetcher{feeds: map[string][]feed.Item{
		"https://feed.example.com/rss": items(
			"https://a.example.com/1",
			"https://b.example.com/1",
			"https://c.example.com/1",
		),
	}}
	deliverer := &fakeDeliverer{}
	runner := NewRunner(runnerCfg(),
		&fakeSources{srcs: []sources.Source{{URL: "https://feed.example.com/rss", Tag: "IT"}}},
		fetcher, deliverer, led)
	runner.postDelay = 20 * time.Millisecond

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(deliverer.messages) != 3 {
		t.Fatalf("Expected 3 deliveries, got %d", len(deliverer.messages))
	}

	// Feed order preserved
	for i, want := range []string{"Title 1", "Title 2", "Title 3"} {
		if !strings.Contains(deliverer.messages[i], want) {
			t.Errorf("Message %d should contain '%s': %s", i, want, deliverer.messages[i])
		}
	}

	// Inter-post delay respected
	for i := 1; i < len(deliverer.sentAt); i++ {
		if gap := deliverer.sentAt[i].Sub(deliverer.sentAt[i-1]); gap < 20*time.Millisecond {
			t.Errorf("Expected at least the inter-post delay between messages, got %s", gap)
		}
	}

	// Exactly one ledger entry per delivery
	stats, err := led.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.TotalEntries != 3 {
		t.Errorf("Expected 3 ledger entries, got %d", stats.TotalEntries)
	}
}

func TestRunner_Run_EmptySources(t *testing.T) {
	led := openTestLedger(t)
	fetcher := &fakeFetcher{}
	runner := NewRunner(runnerCfg(), &fakeSources{}, fetcher, &fakeDeliverer{}, led)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Empty source list should skip the cycle, got: %v", err)
	}
	if fetcher.calls != 0 {
		t.Errorf("Expected no fetches with empty sources, got %d", fetcher.calls)
	}
}

func TestRunner_Run_NightModeSkipsBeforeFetching(t *testing.T) {
	led := openTestLedger(t)
	c := runnerCfg()
	c.NightStartHour = 0
	c.NightEndHour = 7
	fetcher := &fakeFetcher{feeds: map[string][]feed.Item{
		"https://feed.example.com/rss": items("https://a.example.com/1"),
	}}
	runner := NewRunner(c,
		&fakeSources{srcs: []sources.Source{{URL: "https://feed.example.com/rss"}}},
		fetcher, &fakeDeliverer{}, led)
	runner.policy.now = func() time.Time { return time.Date(2026, 3, 15, 3, 0, 0, 0, time.UTC) }

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if fetcher.calls != 0 {
		t.Errorf("Night mode must skip the cycle before any fetch, got %d fetches", fetcher.calls)
	}
}

func TestRunner_Run_DailyCapAdmitsNothing(t *testing.T) {
	led := openTestLedger(t)
	c := runnerCfg()
	c.DailyMaxPosts = 2
	led.Record("https://x.example.com/1", "x1")
	led.Record("https://y.example.com/1", "y1")

	fetcher := &fakeFetcher{feeds: map[string][]feed.Item{
		"https://feed.example.com/rss": items("https://a.example.com/1"),
	}}
	deliverer := &fakeDeliverer{}
	runner := NewRunner(c,
		&fakeSources{srcs: []sources.Source{{URL: "https://feed.example.com/rss"}}},
		fetcher, deliverer, led)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if fetcher.calls != 0 {
		t.Errorf("Exhausted daily cap must skip the cycle before fetching, got %d fetches", fetcher.calls)
	}
	if len(deliverer.messages) != 0 {
		t.Errorf("Expected zero deliveries, got %d", len(deliverer.messages))
	}
}

func TestRunner_Run_DomainCapSkipsOnlySaturatedDomain(t *testing.T) {
	led := openTestLedger(t)
	c := runnerCfg()
	c.DomainMaxPer24h = 1
	led.Record("https://hot.example.com/old", "old")

	fetcher := &fakeFetcher{feeds: map[string][]feed.Item{
		"https://feed.example.com/rss": items(
			"https://hot.example.com/new",
			"https://calm.example.org/new",
		),
	}}
	deliverer := &fakeDeliverer{}
	runner := NewRunner(c,
		&fakeSources{srcs: []sources.Source{{URL: "https://feed.example.com/rss"}}},
		fetcher, deliverer, led)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(deliverer.messages) != 1 {
		t.Fatalf("Expected exactly 1 delivery, got %d", len(deliverer.messages))
	}
	if !strings.Contains(deliverer.messages[0], "calm.example.org") {
		t.Errorf("Expected the unsaturated domain's item, got: %s", deliverer.messages[0])
	}
}

func TestRunner_Run_DuplicatesSkipped(t *testing.T) {
	led := openTestLedger(t)
	led.Record("https://a.example.com/seen", "seen")

	fetcher := &fakeFetcher{feeds: map[string][]feed.Item{
		"https://feed.example.com/rss": items(
			"https://a.example.com/seen",
			"https://b.example.com/fresh",
		),
	}}
	deliverer := &fakeDeliverer{}
	runner := NewRunner(runnerCfg(),
		&fakeSources{srcs: []sources.Source{{URL: "https://feed.example.com/rss"}}},
		fetcher, deliverer, led)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(deliverer.messages) != 1 {
		t.Fatalf("Expected 1 delivery, got %d", len(deliverer.messages))
	}
	if !strings.Contains(deliverer.messages[0], "b.example.com/fresh") {
		t.Errorf("Expected only the fresh item delivered: %s", deliverer.messages[0])
	}
}

func TestRunner_Run_FetchFailureSkipsOnlyThatSource(t *testing.T) {
	led := openTestLedger(t)
	fetcher := &fakeFetcher{
		feeds: map[string][]feed.Item{
			"https://good.example.com/rss": items("https://a.example.com/1"),
		},
		errs: map[string]error{
			"https://bad.example.com/rss": errors.New("connection refused"),
		},
	}
	deliverer := &fakeDeliverer{}
	runner := NewRunner(runnerCfg(),
		&fakeSources{srcs: []sources.Source{
			{URL: "https://bad.example.com/rss"},
			{URL: "https://good.example.com/rss"},
		}},
		fetcher, deliverer, led)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("A single source failure must not abort the cycle, got: %v", err)
	}
	if len(deliverer.messages) != 1 {
		t.Errorf("Expected the healthy source's item delivered, got %d messages", len(deliverer.messages))
	}
}

func TestRunner_Run_DeliveryFailureNotRecorded(t *testing.T) {
	led := openTestLedger(t)
	fetcher := &fakeFetcher{feeds: map[string][]feed.Item{
		"https://feed.example.com/rss": items(
			"https://a.example.com/1",
			"https://b.example.com/1",
		),
	}}
	deliverer := &fakeDeliverer{failOn: map[string]bool{"a.example.com": true}}
	runner := NewRunner(runnerCfg(),
		&fakeSources{srcs: []sources.Source{{URL: "https://feed.example.com/rss"}}},
		fetcher, deliverer, led)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	exists, err := led.Exists("https://a.example.com/1")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("Failed delivery must not be recorded")
	}

	// The failure does not consume run budget, so the next item still fits
	exists, err = led.Exists("https://b.example.com/1")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("Subsequent item should still be delivered and recorded")
	}
}

func TestRunner_Run_RunBudgetStopsAcrossSources(t *testing.T) {
	led := openTestLedger(t)
	c := runnerCfg()
	c.MaxPostsPerRun = 2
	fetcher := &fakeFetcher{feeds: map[string][]feed.Item{
		"https://one.example.com/rss": items("https://a.example.com/1", "https://b.example.com/1"),
		"https://two.example.com/rss": items("https://c.example.com/1"),
	}}
	deliverer := &fakeDeliverer{}
	runner := NewRunner(c,
		&fakeSources{srcs: []sources.Source{
			{URL: "https://one.example.com/rss"},
			{URL: "https://two.example.com/rss"},
		}},
		fetcher, deliverer, led)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(deliverer.messages) != 2 {
		t.Errorf("Expected run cap of 2 to bound deliveries, got %d", len(deliverer.messages))
	}
	if fetcher.calls != 1 {
		t.Errorf("Expected second source never fetched once budget is spent, got %d fetches", fetcher.calls)
	}
}

// blockingDeliverer stays in flight until released and fails if the send is
// aborted through its context.
type blockingDeliverer struct {
	started   chan struct{}
	release   chan struct{}
	delivered bool
}

func (d *blockingDeliverer) Send(ctx context.Context, _ string) error {
	close(d.started)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.release:
		d.delivered = true
		return nil
	}
}

func TestRunner_Run_ShutdownFinishesCurrentItem(t *testing.T) {
	led := openTestLedger(t)
	fetcher := &fakeFetcher{feeds: map[string][]feed.Item{
		"https://feed.example.com/rss": items("https://a.example.com/1"),
	}}
	deliverer := &blockingDeliverer{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	runner := NewRunner(runnerCfg(),
		&fakeSources{srcs: []sources.Source{{URL: "https://feed.example.com/rss"}}},
		fetcher, deliverer, led)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() {
		runErr <- runner.Run(ctx)
	}()

	<-deliverer.started
	cancel()
	close(deliverer.release)

	var err error
	select {
	case err = <-runErr:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	if !deliverer.delivered {
		t.Error("In-flight delivery must complete despite shutdown")
	}
	exists, lerr := led.Exists("https://a.example.com/1")
	if lerr != nil {
		t.Fatalf("Exists failed: %v", lerr)
	}
	if !exists {
		t.Error("Delivered item must be recorded before the loop stops")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected cancellation surfaced at the item boundary, got: %v", err)
	}
}

func TestRunner_Run_EmptyTitleFallsBackToLink(t *testing.T) {
	led := openTestLedger(t)
	fetcher := &fakeFetcher{feeds: map[string][]feed.Item{
		"https://feed.example.com/rss": {
			{Title: "<p></p>", Summary: "A summary", Link: "https://a.example.com/untitled"},
		},
	}}
	deliverer := &fakeDeliverer{}
	runner := NewRunner(runnerCfg(),
		&fakeSources{srcs: []sources.Source{{URL: "https://feed.example.com/rss"}}},
		fetcher, deliverer, led)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(deliverer.messages) != 1 {
		t.Fatalf("Expected 1 delivery, got %d", len(deliverer.messages))
	}
	if !strings.Contains(deliverer.messages[0], "<b>[IT] https://a.example.com/untitled</b>") {
		t.Errorf("Expected link used as title fallback, got: %s", deliverer.messages[0])
	}

	exists, err := led.Exists("https://a.example.com/untitled")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("Item should be recorded under its link-derived title")
	}
}

// End-to-end delivery path: the Telegram client sees a rate limit on the
// first attempt, succeeds on the retry, and the item is recorded exactly
// once.
func TestRunner_Run_RateLimitedDeliveryRecordedOnce(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"ok":false,"parameters":{"retry_after":1}}`))
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	led := openTestLedger(t)
	client := telegram.NewClient(&http.Client{}, "token", "@chat", "test-agent").WithAPIBase(server.URL)
	fetcher := &fakeFetcher{feeds: map[string][]feed.Item{
		"https://feed.example.com/rss": items("https://a.example.com/1"),
	}}
	runner := NewRunner(runnerCfg(),
		&fakeSources{srcs: []sources.Source{{URL: "https://feed.example.com/rss", Tag: "IT"}}},
		fetcher, client, led)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if attempts != 2 {
		t.Errorf("Expected 2 delivery attempts, got %d", attempts)
	}
	stats, err := led.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.TotalEntries != 1 {
		t.Errorf("Expected exactly one ledger entry, got %d", stats.TotalEntries)
	}
}
