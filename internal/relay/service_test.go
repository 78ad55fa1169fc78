package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/voxlate/voxlate/internal/clock"
	"github.com/voxlate/voxlate/internal/config"
	"github.com/voxlate/voxlate/internal/observability/metrics"
	"github.com/voxlate/voxlate/internal/quota"
	usagedomain "github.com/voxlate/voxlate/internal/usage/domain"
)

type fakeUsage struct {
	mu       sync.Mutex
	requests []usagedomain.RecordRequest
	recorded chan struct{}
}

func newFakeUsage() *fakeUsage {
	return &fakeUsage{recorded: make(chan struct{}, 8)}
}

func (f *fakeUsage) Record(_ context.Context, req usagedomain.RecordRequest) (*usagedomain.UsageEvent, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	f.recorded <- struct{}{}
	return &usagedomain.UsageEvent{}, nil
}

func (f *fakeUsage) Stats(context.Context, string, quota.ResourceType, bool) (usagedomain.Stats, error) {
	return usagedomain.Stats{}, nil
}

func (f *fakeUsage) all() []usagedomain.RecordRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]usagedomain.RecordRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

// fakeUpstream accepts one websocket session, records every frame it
// receives after the setup handshake, emits the given frames, and closes.
type fakeUpstream struct {
	srv    *httptest.Server
	frames []string

	mu       sync.Mutex
	received []string
	setup    string
}

func newFakeUpstream(t *testing.T, frames []string) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{frames: frames}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, setup, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.setup = string(setup)
		f.mu.Unlock()

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				_, frame, err := conn.ReadMessage()
				if err != nil {
					return
				}
				f.mu.Lock()
				f.received = append(f.received, string(frame))
				f.mu.Unlock()
			}
		}()

		for _, frame := range f.frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		// Give the caller a moment to send before hanging up.
		time.Sleep(100 * time.Millisecond)
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeUpstream) wsURL() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeUpstream) snapshot() (setup string, received []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setup, append([]string(nil), f.received...)
}

func newTestService(t *testing.T, upstreamURL string, usage usagedomain.Service) *Service {
	t.Helper()
	m, err := metrics.New(metrics.Config{}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	lc := fxtest.NewLifecycle(t)
	cfg := config.Config{
		LiveUpstreamURL:   upstreamURL,
		LiveUpstreamModel: "speech-translate-live-1",
	}
	svc := New(lc, cfg, config.NewStaticPricingHolder(config.DefaultPricingConfig()), usage, clock.System(), m, zap.NewNop())
	lc.RequireStart()
	t.Cleanup(lc.RequireStop)
	return svc
}

const usageFrame1 = `{"usageMetadata":{"promptTokensDetails":[{"modality":"AUDIO","tokenCount":100}],"responseTokensDetails":[{"modality":"AUDIO","tokenCount":300},{"modality":"TEXT","tokenCount":20}]}}`
const usageFrame2 = `{"usageMetadata":{"promptTokensDetails":[{"modality":"AUDIO","tokenCount":50}],"responseTokensDetails":[{"modality":"TEXT","tokenCount":10}]}}`

func TestRelaySettlesAggregatedUsageOnce(t *testing.T) {
	upstream := newFakeUpstream(t, []string{
		`{"serverContent":{"modelTurn":{}}}`,
		usageFrame1,
		usageFrame2,
	})
	usage := newFakeUsage()
	svc := newTestService(t, upstream.wsURL(), usage)

	params := Params{
		UserID:     "user-1",
		Tier:       quota.TierPro,
		SourceLang: "en",
		TargetLang: "ja",
		Voice:      "aoede",
	}
	front := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = svc.Handle(w, r, params)
	}))
	defer front.Close()

	caller, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(front.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer caller.Close()

	// A caller-sent setup frame must be swallowed, a data frame forwarded.
	if err := caller.WriteMessage(websocket.TextMessage, []byte(`{"setup":{"model":"evil"}}`)); err != nil {
		t.Fatalf("write setup: %v", err)
	}
	if err := caller.WriteMessage(websocket.TextMessage, []byte(`{"realtimeInput":{"audio":"AAA"}}`)); err != nil {
		t.Fatalf("write data: %v", err)
	}

	// Drain forwarded frames until the upstream hangs up.
	var forwarded []string
	for {
		_, frame, err := caller.ReadMessage()
		if err != nil {
			break
		}
		forwarded = append(forwarded, string(frame))
	}
	if len(forwarded) != 3 {
		t.Fatalf("forwarded frames = %d, want 3", len(forwarded))
	}

	select {
	case <-usage.recorded:
	case <-time.After(5 * time.Second):
		t.Fatal("settlement never ran")
	}
	// Settlement must not run a second time for the same session.
	select {
	case <-usage.recorded:
		t.Fatal("settlement ran twice")
	case <-time.After(200 * time.Millisecond):
	}

	recs := usage.all()
	if len(recs) != 1 {
		t.Fatalf("usage events = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Resource != quota.ResourceLiveTranslation || rec.Tier != quota.TierPro {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.InputTokens != 150 || rec.OutputTokens != 330 {
		t.Fatalf("tokens must aggregate across snapshots: in=%d out=%d", rec.InputTokens, rec.OutputTokens)
	}
	if rec.DurationSeconds < 1 {
		t.Fatalf("duration = %d, want >= 1", rec.DurationSeconds)
	}
	if rec.CostMicros <= 0 {
		t.Fatalf("cost = %d, want > 0", rec.CostMicros)
	}

	setup, received := upstream.snapshot()
	var parsed setupFrame
	if err := json.Unmarshal([]byte(setup), &parsed); err != nil || parsed.Setup.Model != "speech-translate-live-1" {
		t.Fatalf("synthesized setup not sent, got %q", setup)
	}
	if parsed.Setup.TranslationConfig.SourceLanguage != "en" || parsed.Setup.TranslationConfig.TargetLanguage != "ja" {
		t.Fatalf("setup languages wrong: %+v", parsed.Setup)
	}
	for _, frame := range received {
		if strings.Contains(frame, `"setup"`) {
			t.Fatalf("caller setup frame leaked upstream: %s", frame)
		}
	}
}

func TestRelayZeroUsageWritesNothing(t *testing.T) {
	upstream := newFakeUpstream(t, []string{`{"serverContent":{"modelTurn":{}}}`})
	usage := newFakeUsage()
	svc := newTestService(t, upstream.wsURL(), usage)

	front := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = svc.Handle(w, r, Params{UserID: "user-1", Tier: quota.TierFree})
	}))
	defer front.Close()

	caller, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(front.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer caller.Close()
	for {
		if _, _, err := caller.ReadMessage(); err != nil {
			break
		}
	}

	select {
	case <-usage.recorded:
		t.Fatal("zero-usage session must not write an event")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestRelayUpstreamFailure(t *testing.T) {
	usage := newFakeUsage()
	svc := newTestService(t, "ws://127.0.0.1:1", usage)

	req := httptest.NewRequest(http.MethodGet, "/api/live", nil)
	rec := httptest.NewRecorder()
	if err := svc.Handle(rec, req, Params{UserID: "user-1", Tier: quota.TierFree}); err != ErrUpstreamUnavailable {
		t.Fatalf("err = %v, want ErrUpstreamUnavailable", err)
	}
	if len(usage.all()) != 0 {
		t.Fatal("failed session must not record usage")
	}
}
