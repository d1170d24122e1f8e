package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aluiziolira/go-tap-menu/config"
	"github.com/aluiziolira/go-tap-menu/metrics"
	"github.com/jarcoal/httpmock"
)

const (
	listURL = "http://proxies.test/list"
	testURL = "http://ip.test/"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.ProxyListURL = listURL
	cfg.ProxyTestURL = testURL
	cfg.ProbeTimeout = time.Second
	return cfg
}

// probeRouter answers the probe endpoint with 200 only for the given hosts.
func probeRouter(good ...string) func(*url.URL) http.RoundTripper {
	ok := make(map[string]bool, len(good))
	for _, h := range good {
		ok[h] = true
	}
	return func(candidate *url.URL) http.RoundTripper {
		transport := httpmock.NewMockTransport()
		status := http.StatusServiceUnavailable
		if ok[candidate.Host] {
			status = http.StatusOK
		}
		transport.RegisterResponder("GET", testURL, httpmock.NewStringResponder(status, "203.0.113.7"))
		return transport
	}
}

func keepOrder([]*url.URL) {}

func TestRotateSelectsFirstWorkingCandidate(t *testing.T) {
	source := httpmock.NewMockTransport()
	source.RegisterResponder("GET", listURL, httpmock.NewStringResponder(http.StatusOK, "1.2.3.4:8080\n5.6.7.8:3128\n"))

	p := NewPool(testConfig(),
		WithSourceTransport(source),
		WithProbeTransport(probeRouter("5.6.7.8:3128")),
		WithMetrics(metrics.New()),
	)

	if p.Current() != nil {
		t.Fatalf("pool should start without a proxy")
	}
	if err := p.Rotate(context.Background()); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if got := p.Current(); got == nil || got.Host != "5.6.7.8:3128" {
		t.Fatalf("current=%v, want 5.6.7.8:3128", got)
	}

	proxyURL, err := p.ProxyFunc(nil)
	if err != nil || proxyURL.Host != "5.6.7.8:3128" {
		t.Fatalf("ProxyFunc=%v, %v", proxyURL, err)
	}
}

func TestRotateStopsAtFirstSuccess(t *testing.T) {
	source := httpmock.NewMockTransport()
	source.RegisterResponder("GET", listURL, httpmock.NewStringResponder(http.StatusOK, "1.1.1.1:80\n2.2.2.2:80\n3.3.3.3:80\n"))

	var probed []string
	var mu sync.Mutex
	router := probeRouter("1.1.1.1:80", "2.2.2.2:80", "3.3.3.3:80")
	p := NewPool(testConfig(),
		WithSourceTransport(source),
		WithShuffle(keepOrder),
		WithProbeTransport(func(u *url.URL) http.RoundTripper {
			mu.Lock()
			probed = append(probed, u.Host)
			mu.Unlock()
			return router(u)
		}),
	)

	if err := p.Rotate(context.Background()); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if len(probed) != 1 || probed[0] != "1.1.1.1:80" {
		t.Fatalf("probed=%v, want only the first candidate", probed)
	}
}

func TestRotateExhaustionKeepsPreviousProxy(t *testing.T) {
	var calls int32
	source := httpmock.NewMockTransport()
	source.RegisterResponder("GET", listURL, func(*http.Request) (*http.Response, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return httpmock.NewStringResponse(http.StatusOK, "5.6.7.8:3128\n"), nil
		}
		return httpmock.NewStringResponse(http.StatusOK, "9.9.9.9:80\n8.8.8.8:80\n"), nil
	})

	p := NewPool(testConfig(),
		WithSourceTransport(source),
		WithProbeTransport(probeRouter("5.6.7.8:3128")),
	)

	if err := p.Rotate(context.Background()); err != nil {
		t.Fatalf("first rotate: %v", err)
	}
	if err := p.Rotate(context.Background()); !errors.Is(err, ErrExhausted) {
		t.Fatalf("second rotate err=%v, want ErrExhausted", err)
	}
	if got := p.Current(); got == nil || got.Host != "5.6.7.8:3128" {
		t.Fatalf("current=%v, want previous proxy 5.6.7.8:3128", got)
	}
}

func TestRotateExhaustionWithoutPreviousProxy(t *testing.T) {
	source := httpmock.NewMockTransport()
	source.RegisterResponder("GET", listURL, httpmock.NewStringResponder(http.StatusOK, "9.9.9.9:80\n"))

	p := NewPool(testConfig(),
		WithSourceTransport(source),
		WithProbeTransport(probeRouter()),
	)
	if err := p.Rotate(context.Background()); !errors.Is(err, ErrExhausted) {
		t.Fatalf("rotate err=%v, want ErrExhausted", err)
	}
	if p.Current() != nil {
		t.Fatalf("current should stay unset")
	}
}

func TestRotateSourceFailure(t *testing.T) {
	source := httpmock.NewMockTransport()
	source.RegisterResponder("GET", listURL, httpmock.NewStringResponder(http.StatusInternalServerError, ""))

	p := NewPool(testConfig(), WithSourceTransport(source), WithProbeTransport(probeRouter()))
	err := p.Rotate(context.Background())
	if err == nil || errors.Is(err, ErrExhausted) {
		t.Fatalf("expected source error, got %v", err)
	}
}

func TestRotateSingleFlight(t *testing.T) {
	const callers = 8

	release := make(chan struct{})
	source := httpmock.NewMockTransport()
	source.RegisterResponder("GET", listURL, func(*http.Request) (*http.Response, error) {
		<-release
		return httpmock.NewStringResponse(http.StatusOK, "1.2.3.4:8080\n5.6.7.8:3128\n"), nil
	})

	p := NewPool(testConfig(),
		WithSourceTransport(source),
		WithProbeTransport(probeRouter("5.6.7.8:3128")),
	)

	var started, done sync.WaitGroup
	errs := make(chan error, callers)
	started.Add(callers)
	done.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer done.Done()
			started.Done()
			errs <- p.Rotate(context.Background())
		}()
	}
	started.Wait()
	time.Sleep(100 * time.Millisecond)
	close(release)
	done.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("rotate: %v", err)
		}
	}
	if got := source.GetCallCountInfo()["GET "+listURL]; got != 1 {
		t.Fatalf("proxy list fetched %d times, want 1", got)
	}
	if got := p.Current(); got == nil || got.Host != "5.6.7.8:3128" {
		t.Fatalf("current=%v, want 5.6.7.8:3128", got)
	}
}

func TestParseCandidates(t *testing.T) {
	input := strings.Join([]string{
		"1.2.3.4:8080",
		"",
		"# comment",
		"  5.6.7.8:3128  ",
		"socks5://9.9.9.9:1080",
		"ftp://7.7.7.7:21",
		"no-port",
		"1.2.3.4:8080",
		"10.0.0.1:notaport",
	}, "\n")

	got, err := ParseCandidates(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	want := []string{"http://1.2.3.4:8080", "http://5.6.7.8:3128", "socks5://9.9.9.9:1080"}
	if len(got) != len(want) {
		t.Fatalf("got %d candidates (%v), want %d", len(got), got, len(want))
	}
	for i, u := range got {
		if u.String() != want[i] {
			t.Fatalf("candidate %d = %s, want %s", i, u, want[i])
		}
	}
}
