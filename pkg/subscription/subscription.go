// Package subscription keeps a live arrival-board subscription against
// imhd.sk's push channel: it performs the polling handshake, upgrades
// to a websocket, keeps the channel alive and caches the record batches
// streamed for the watched stop/platform. Connection loss is recovered
// by transparently re-running the whole handshake; the caller only ever
// observes a longer wait.
package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"imhd2txt/pkg/eio"
	"imhd2txt/pkg/imhd"
	"imhd2txt/pkg/metrics"
	"imhd2txt/pkg/types"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrNoData is returned by Estimates when no refresh has ever populated
// the requested platform.
var ErrNoData = errors.New("no data fetched for platform")

type state int

const (
	stateUnsubscribed state = iota
	stateHandshaking
	stateConnected
	stateError
)

func (s state) String() string {
	switch s {
	case stateUnsubscribed:
		return "unsubscribed"
	case stateHandshaking:
		return "handshaking"
	case stateConnected:
		return "connected"
	case stateError:
		return "error"
	}
	return "unknown"
}

// Config describes what to subscribe to.
type Config struct {
	// BaseURL is the site root, default imhd.DefaultBaseURL.
	BaseURL string
	// StopID is the watched stop.
	StopID int
	// Platform is the watched platform at that stop.
	Platform string
	// Platforms is the set sent in the subscribe frame. The site's own
	// frontend subscribes every platform the board page lists; defaults
	// to just the watched platform.
	Platforms []string
}

// link bundles one websocket connection with its reader/keepalive
// plumbing, so a reconnect can never mix frames across generations.
type link struct {
	ws     *websocket.Conn
	frames chan string
	errs   chan error
	done   chan struct{}
}

// Subscription is the single stateful element of this client. One push
// connection, one consumer: Fetch and Estimates must not be called
// concurrently (the keepalive ticker is the only background activity).
type Subscription struct {
	cfg        Config
	baseURL    *url.URL
	httpClient *http.Client
	jar        http.CookieJar
	dialer     *websocket.Dialer
	tracer     trace.Tracer

	state state
	sid   string
	seq   int
	conn  *link

	// test seams, set to the protocol's fixed values by New
	keepaliveEvery time.Duration
	silence        time.Duration
	pollDelay      time.Duration
	upgradeDelay   time.Duration
	retryInitial   time.Duration
	retryMax       time.Duration
	retryElapsed   time.Duration

	writeMu sync.Mutex // handshake and keepalive ticker share the socket

	mu        sync.RWMutex
	cache     map[string]types.Batch // platform -> latest accepted batch
	lastFrame time.Time
}

// New prepares a subscription. No network traffic happens until the
// first Fetch.
func New(cfg Config) (*Subscription, error) {
	if cfg.StopID <= 0 {
		return nil, fmt.Errorf("a stop id is required")
	}
	if cfg.Platform == "" {
		return nil, fmt.Errorf("a platform is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = imhd.DefaultBaseURL
	}
	if len(cfg.Platforms) == 0 {
		cfg.Platforms = []string{cfg.Platform}
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	s := &Subscription{
		cfg:     cfg,
		baseURL: base,
		jar:     jar,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   30 * time.Second,
			Jar:       jar,
		},
		dialer: &websocket.Dialer{
			Jar:              jar,
			HandshakeTimeout: 15 * time.Second,
		},
		tracer: otel.Tracer("imhd-subscription"),
		state:  stateUnsubscribed,
		cache:  make(map[string]types.Batch),

		keepaliveEvery: 30 * time.Second,
		silence:        3 * time.Second,
		pollDelay:      250 * time.Millisecond,
		upgradeDelay:   100 * time.Millisecond,
		retryInitial:   500 * time.Millisecond,
		retryMax:       15 * time.Second,
		retryElapsed:   2 * time.Minute,
	}
	return s, nil
}

// Fetch refreshes the cached batch for the watched platform. It blocks
// until no new matching frame has arrived for the silence window (3 s),
// which bounds one refresh instead of streaming forever. Transient
// channel errors are recovered internally by re-running the handshake.
func (s *Subscription) Fetch(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "subscription.fetch",
		trace.WithAttributes(
			attribute.Int("stop.id", s.cfg.StopID),
			attribute.String("stop.platform", s.cfg.Platform),
		),
	)
	defer span.End()

	if err := s.ensureConnected(ctx); err != nil {
		span.RecordError(err)
		return err
	}

	matched := 0
	timer := time.NewTimer(s.silence)
	defer timer.Stop()

	for {
		conn := s.conn
		select {
		case <-ctx.Done():
			return ctx.Err()

		case frame := <-conn.frames:
			if s.accept(frame) {
				matched++
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(s.silence)
			}

		case err := <-conn.errs:
			slog.Warn("push channel lost, resubscribing", "error", err)
			s.setState(stateError)
			if metrics.IsEnabled() {
				metrics.PushReconnectsTotal.Add(ctx, 1)
			}
			if err := s.resubscribe(ctx); err != nil {
				span.RecordError(err)
				return err
			}

		case <-timer.C:
			span.SetAttributes(attribute.Int("frames.matched", matched))
			return nil
		}
	}
}

// accept processes one received frame. Control frames and frames for
// other keys are ignored; a malformed frame is logged and discarded
// without touching the cache. Only a well-formed batch for the watched
// key replaces the cache, wholesale.
func (s *Subscription) accept(frame string) bool {
	payload, ok := eio.MessagePayload(frame)
	if !ok {
		return false
	}

	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(payload), &elems); err != nil {
		slog.Debug("discarding malformed frame", "error", err)
		s.countFrame("malformed")
		return false
	}
	if len(elems) < 2 {
		s.countFrame("malformed")
		return false
	}

	var boards map[string]json.RawMessage
	if err := json.Unmarshal(elems[1], &boards); err != nil {
		slog.Debug("discarding malformed frame", "error", err)
		s.countFrame("malformed")
		return false
	}

	raw, ok := boards[types.Key(s.cfg.StopID, s.cfg.Platform)]
	if !ok {
		s.countFrame("other")
		return false
	}

	var batch types.Batch
	if err := json.Unmarshal(raw, &batch); err != nil {
		slog.Debug("discarding partial batch", "error", err)
		s.countFrame("malformed")
		return false
	}

	s.mu.Lock()
	s.cache[s.cfg.Platform] = batch
	s.lastFrame = time.Now()
	s.mu.Unlock()

	s.countFrame("matched")
	return true
}

func (s *Subscription) countFrame(result string) {
	if metrics.IsEnabled() {
		metrics.PushFramesTotal.Add(context.Background(), 1,
			metrics.WithFrameResult(result))
	}
}

// ensureConnected runs the handshake if the channel is not currently up.
func (s *Subscription) ensureConnected(ctx context.Context) error {
	if s.state == stateConnected && s.conn != nil {
		return nil
	}
	return s.resubscribe(ctx)
}

// resubscribe re-runs the full handshake under exponential backoff.
// Retries are bounded: a dead site surfaces as an error from Fetch
// rather than blocking the caller forever.
func (s *Subscription) resubscribe(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retryInitial
	bo.MaxInterval = s.retryMax
	bo.MaxElapsedTime = s.retryElapsed

	return backoff.RetryNotify(
		func() error { return s.handshake(ctx) },
		backoff.WithContext(bo, ctx),
		func(err error, d time.Duration) {
			slog.Warn("handshake failed, backing off", "delay", d, "error", err)
		},
	)
}

func (s *Subscription) setState(next state) {
	if s.state != next {
		slog.Debug("subscription state change", "from", s.state.String(), "to", next.String())
		s.state = next
	}
}

// LastFrame reports when the watched platform last received an accepted
// batch. Zero until the first one.
func (s *Subscription) LastFrame() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastFrame
}

// Close tears the push channel down. The subscription can be reused:
// the next Fetch simply re-runs the handshake.
func (s *Subscription) Close() error {
	s.teardown()
	s.setState(stateUnsubscribed)
	return nil
}
