package relay

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/voxlate/voxlate/internal/clock"
	"github.com/voxlate/voxlate/internal/config"
	"github.com/voxlate/voxlate/internal/observability/metrics"
	"github.com/voxlate/voxlate/internal/quota"
	usagedomain "github.com/voxlate/voxlate/internal/usage/domain"
)

var ErrUpstreamUnavailable = errors.New("upstream_unavailable")

const settleTimeout = 30 * time.Second

// Params carries the admission-time decision and the caller's session
// options into the relay.
type Params struct {
	UserID     string
	Tier       quota.Tier
	SourceLang string
	TargetLang string
	Voice      string
}

// Service dials the speech backend, owns the handshake, and settles usage
// when sessions end.
type Service struct {
	cfg     config.Config
	pricing *config.PricingHolder
	usage   usagedomain.Service
	clock   clock.Clock
	metrics *metrics.Metrics
	log     *zap.Logger

	upgrader websocket.Upgrader
	dialer   *websocket.Dialer

	// wg tracks in-flight background settlements so shutdown can drain them.
	wg sync.WaitGroup
}

func New(lc fx.Lifecycle, cfg config.Config, pricing *config.PricingHolder, usage usagedomain.Service, clk clock.Clock, m *metrics.Metrics, log *zap.Logger) *Service {
	s := &Service{
		cfg:     cfg,
		pricing: pricing,
		usage:   usage,
		clock:   clk,
		metrics: m,
		log:     log.Named("relay"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		dialer: websocket.DefaultDialer,
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			done := make(chan struct{})
			go func() {
				s.wg.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})

	return s
}

type setupFrame struct {
	Setup setupPayload `json:"setup"`
}

type setupPayload struct {
	Model             string            `json:"model"`
	TranslationConfig translationConfig `json:"translationConfig"`
}

type translationConfig struct {
	SourceLanguage string `json:"sourceLanguage"`
	TargetLanguage string `json:"targetLanguage"`
	Voice          string `json:"voice,omitempty"`
}

// Handle runs one live session to completion. The caller socket is upgraded
// only after the upstream leg is up; a failed dial surfaces as
// ErrUpstreamUnavailable with the HTTP response still writable.
func (s *Service) Handle(w http.ResponseWriter, r *http.Request, params Params) error {
	upstream, _, err := s.dialer.DialContext(r.Context(), s.cfg.LiveUpstreamURL, nil)
	if err != nil {
		s.log.Error("upstream dial failed", zap.String("user_id", params.UserID), zap.Error(err))
		return ErrUpstreamUnavailable
	}

	// The relay owns the handshake; the caller never speaks setup.
	setup := setupFrame{Setup: setupPayload{
		Model: s.cfg.LiveUpstreamModel,
		TranslationConfig: translationConfig{
			SourceLanguage: params.SourceLang,
			TargetLanguage: params.TargetLang,
			Voice:          params.Voice,
		},
	}}
	if err := upstream.WriteJSON(setup); err != nil {
		_ = upstream.Close()
		s.log.Error("upstream setup failed", zap.String("user_id", params.UserID), zap.Error(err))
		return ErrUpstreamUnavailable
	}

	caller, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		_ = upstream.Close()
		return err
	}

	session := newSession(caller, upstream, params.UserID, params.Tier, s.cfg.LiveUpstreamModel, s.clock.Now())
	s.run(session, params)
	return nil
}

func (s *Service) run(session *Session, params Params) {
	session.activate()

	errc := make(chan error, 2)
	go func() { errc <- session.pumpCallerToUpstream() }()
	go func() { errc <- session.pumpUpstreamToCaller() }()

	// First failure from either pump ends the session.
	<-errc
	s.finish(session, params)
	<-errc
}

func (s *Service) finish(session *Session, params Params) {
	agg, durationSeconds, ok := session.shutdown(s.clock.Now())
	if !ok {
		return
	}
	if agg.IsZero() {
		// Nothing was generated, e.g. the session failed before any audio.
		s.metrics.RecordRelaySettlement(context.Background(), "empty")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
		defer cancel()
		s.settle(ctx, session, params, agg, durationSeconds)
	}()
}

func (s *Service) settle(ctx context.Context, session *Session, params Params, agg ModalityTokens, durationSeconds int64) {
	cost := costMicros(agg, s.pricing.Current())
	_, err := s.usage.Record(ctx, usagedomain.RecordRequest{
		UserID:          session.userID,
		Resource:        quota.ResourceLiveTranslation,
		Model:           session.model,
		InputTokens:     agg.AudioInput + agg.TextInput,
		OutputTokens:    agg.AudioOutput + agg.TextOutput,
		CostMicros:      cost,
		DurationSeconds: durationSeconds,
		Tier:            session.tier,
		Metadata: datatypes.JSONMap{
			"source_lang": params.SourceLang,
			"target_lang": params.TargetLang,
			"voice":       params.Voice,
		},
	})
	if err != nil {
		s.metrics.RecordRelaySettlement(ctx, "error")
		s.log.Error("session settlement failed",
			zap.String("user_id", session.userID),
			zap.Int64("duration_seconds", durationSeconds),
			zap.Error(err))
		return
	}
	s.metrics.RecordRelaySettlement(ctx, "ok")
	s.log.Info("session settled",
		zap.String("user_id", session.userID),
		zap.String("tier", string(session.tier)),
		zap.Int64("duration_seconds", durationSeconds),
		zap.Int64("cost_micros", cost))
}

// costMicros prices the aggregated tokens with the per-modality table.
// Prices are micros per one million tokens; every term rounds up.
func costMicros(tokens ModalityTokens, pricing config.PricingConfig) int64 {
	return ceilDiv(tokens.AudioInput*pricing.LiveAudioInputMicros, 1_000_000) +
		ceilDiv(tokens.TextInput*pricing.LiveTextInputMicros, 1_000_000) +
		ceilDiv(tokens.AudioOutput*pricing.LiveAudioOutputMicros, 1_000_000) +
		ceilDiv(tokens.TextOutput*pricing.LiveTextOutputMicros, 1_000_000)
}

func ceilDiv(a, b int64) int64 {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
