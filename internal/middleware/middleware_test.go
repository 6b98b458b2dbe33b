package middleware

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gocloud.dev/blob/memblob"

	"rccrawler/internal/browser"
)

func TestConciseURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.google.com/search#abc", "/search"},
		{"https://www.google.com/search/foo=bar#abc", "/search/foo=bar"},
		{"https://www.google.com/search/foo=bar?hello=world#abc", "/search/foo=bar?hello=world"},
		{"https://www.google.com/search/foo=bar?long_string=" + strings.Repeat("x", 30) + "&hello=world#abc", "/search/foo=bar?hello=world"},
		{"https://www.google.com/search/foo=bar?long_string=" + strings.Repeat("x", 15) + "&hello=world&long_string=" + strings.Repeat("x", 15) + "#abc", "/search/foo=bar?hello=world"},
		{"https://www.google.com/search?blank=&hello=world", "/search?hello=world"},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.url)
		if err != nil {
			t.Fatal(err)
		}
		if got := ConciseURL(u); got != tt.want {
			t.Errorf("ConciseURL(%s) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestPageKey(t *testing.T) {
	key, err := PageKey("https://www.amazon.com/s?k=shoes", 1500000000)
	if err != nil {
		t.Fatalf("PageKey() error = %v", err)
	}
	if key != "amazon/1500000000/L3M_az1zaG9lcw==" {
		t.Fatalf("PageKey() = %q", key)
	}

	key, err = PageKey("https://thieve.co/", 1)
	if err != nil || !strings.HasPrefix(key, "thieve/1/") {
		t.Fatalf("PageKey() = %q, %v", key, err)
	}

	long := "https://www.amazon.com/" + strings.Repeat("p", 200)
	if _, err := PageKey(long, 1); !errors.Is(err, ErrKeyTooLong) {
		t.Fatalf("expected ErrKeyTooLong, got %v", err)
	}
}

type countingFetcher struct {
	calls  atomic.Int32
	result browser.Result
}

func (f *countingFetcher) Fetch(ctx context.Context, req browser.Request) browser.Result {
	f.calls.Add(1)
	return f.result
}

func TestPageStore(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	fetcher := &countingFetcher{result: browser.Result{Outcome: browser.Success, Content: []byte("<html>1</html>")}}
	download := Chain(FromFetcher(fetcher), PageStore(bucket, 42))
	req := browser.Request{URL: "https://www.amazon.com/s", Params: url.Values{"k": {"shoes"}}, ReadFromCache: true}

	first := download(ctx, req)
	if first.FromCache || fetcher.calls.Load() != 1 {
		t.Fatalf("first download should hit the network: %+v", first)
	}
	second := download(ctx, req)
	if !second.FromCache || string(second.Content) != "<html>1</html>" || fetcher.calls.Load() != 1 {
		t.Fatalf("second download should come from the store: %+v", second)
	}

	req.ReadFromCache = false
	third := download(ctx, req)
	if third.FromCache || fetcher.calls.Load() != 2 {
		t.Fatalf("retry download should bypass the store: %+v", third)
	}
}

func TestPageStoreSkipsFailuresAndBinary(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	fetcher := &countingFetcher{result: browser.Result{Outcome: browser.Retry, Reason: "503"}}
	download := Chain(FromFetcher(fetcher), PageStore(bucket, 1))
	download(ctx, browser.Request{URL: "https://www.amazon.com/a"})

	fetcher.result = browser.Result{Outcome: browser.Success, Content: []byte{0x89, 'P', 'N', 'G'}}
	download(ctx, browser.Request{URL: "https://www.amazon.com/captcha.png", Binary: true})

	iter := bucket.List(nil)
	if obj, err := iter.Next(ctx); err == nil {
		t.Fatalf("nothing should be stored, found %s", obj.Key)
	}
}

func TestBucketAcquire(t *testing.T) {
	b, err := NewBucket(Limit{MaxRate: 2, Period: 100 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Acquire(context.Background(), 3); !errors.Is(err, ErrOverCapacity) {
		t.Fatalf("expected ErrOverCapacity, got %v", err)
	}

	start := time.Now()
	for i := 0; i < 4; i++ {
		if err := b.Acquire(context.Background(), 1); err != nil {
			t.Fatal(err)
		}
	}
	// two fit immediately, the other two drain at 20 per second
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Fatalf("bucket did not throttle, elapsed %s", elapsed)
	}
}

func TestBucketHonoursContext(t *testing.T) {
	b, err := NewBucket(Limit{MaxRate: 1, Period: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Acquire(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := b.Acquire(ctx, 1); err == nil {
		t.Fatalf("expected acquisition to be aborted")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	if _, err := RateLimit([]Limit{{MaxRate: 0, Period: time.Second}}); err == nil {
		t.Fatalf("expected invalid limit error")
	}

	mw, err := RateLimit([]Limit{{MaxRate: 2, Period: 5 * time.Second}, {MaxRate: 150, Period: time.Hour}})
	if err != nil {
		t.Fatal(err)
	}
	fetcher := &countingFetcher{result: browser.Result{Outcome: browser.Success}}
	download := Chain(FromFetcher(fetcher), mw)
	if res := download(context.Background(), browser.Request{URL: "https://example.com"}); res.Outcome != browser.Success {
		t.Fatalf("unexpected result %+v", res)
	}
	if fetcher.calls.Load() != 1 {
		t.Fatalf("next was not called")
	}
}

func TestRandomAmountRange(t *testing.T) {
	for i := 0; i < 10000; i++ {
		if a := randomAmount(); a < 1 || a >= 2 {
			t.Fatalf("randomAmount() = %g, want [1, 2)", a)
		}
	}
}

func TestRateLimitConsumesJitterAmount(t *testing.T) {
	// refill over an hour is negligible during the test
	wide, err := NewBucket(Limit{MaxRate: 3, Period: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	narrow, err := NewBucket(Limit{MaxRate: 1, Period: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	fetcher := &countingFetcher{result: browser.Result{Outcome: browser.Success}}
	download := Chain(FromFetcher(fetcher), rateLimit([]*Bucket{wide}, func() float64 { return 1.5 }))

	download(context.Background(), browser.Request{URL: "https://example.com/1"})
	if tokens := wide.limiter.Tokens(); tokens < 1495 || tokens > 1505 {
		t.Fatalf("bucket holds %g milli-units after one request, want about 1500", tokens)
	}
	download(context.Background(), browser.Request{URL: "https://example.com/2"})
	if tokens := wide.limiter.Tokens(); tokens > 5 {
		t.Fatalf("bucket holds %g milli-units after two requests, want about 0", tokens)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if res := download(ctx, browser.Request{URL: "https://example.com/3"}); res.Outcome != browser.Failure {
		t.Fatalf("full bucket let a request through: %+v", res)
	}
	if fetcher.calls.Load() != 2 {
		t.Fatalf("next called %d times, want 2", fetcher.calls.Load())
	}

	// amounts above capacity are clamped to it
	clamped := Chain(FromFetcher(fetcher), rateLimit([]*Bucket{narrow}, func() float64 { return 1.5 }))
	if res := clamped(context.Background(), browser.Request{URL: "https://example.com/4"}); res.Outcome != browser.Success {
		t.Fatalf("clamped acquisition failed: %+v", res)
	}
	if tokens := narrow.limiter.Tokens(); tokens > 5 {
		t.Fatalf("narrow bucket holds %g milli-units, want about 0", tokens)
	}
}

func TestOpenBucket(t *testing.T) {
	ctx := context.Background()

	mem, err := OpenBucket(ctx, "mem://")
	if err != nil {
		t.Fatalf("OpenBucket(mem://) error = %v", err)
	}
	defer mem.Close()
	if err := mem.WriteAll(ctx, "amazon/1/key", []byte("<html>"), nil); err != nil {
		t.Fatal(err)
	}
	if got, err := mem.ReadAll(ctx, "amazon/1/key"); err != nil || string(got) != "<html>" {
		t.Fatalf("ReadAll() = %q, %v", got, err)
	}

	for _, spec := range []func(dir string) string{
		func(dir string) string { return dir },
		func(dir string) string { return "file://" + filepath.ToSlash(dir) },
	} {
		dir := filepath.Join(t.TempDir(), "pages")
		b, err := OpenBucket(ctx, spec(dir))
		if err != nil {
			t.Fatalf("OpenBucket(%s) error = %v", spec(dir), err)
		}
		if err := b.WriteAll(ctx, "bing/1/key", []byte("page"), nil); err != nil {
			t.Fatal(err)
		}
		b.Close()
		if _, err := os.Stat(filepath.Join(dir, "bing", "1", "key")); err != nil {
			t.Fatalf("page not written under %s: %v", dir, err)
		}
	}

	if _, err := OpenBucket(ctx, "nosuchdriver://bucket"); err == nil {
		t.Fatalf("expected error for unregistered scheme")
	}
}

func TestLocalPath(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"file:///var/lib/pages", filepath.FromSlash("/var/lib/pages")},
		{"file://./pages", filepath.FromSlash("./pages")},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.url)
		if err != nil {
			t.Fatal(err)
		}
		if got := localPath(u); got != tt.want {
			t.Errorf("localPath(%s) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
