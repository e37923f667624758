package subscription

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"imhd2txt/pkg/eio"
	"imhd2txt/pkg/imhd"
	"imhd2txt/pkg/metrics"
	"imhd2txt/pkg/otel"

	"github.com/gorilla/websocket"
)

const (
	sioPath       = "/rt/sio/"
	bootstrapPath = "/rt/sio/socket.io.js"

	// sessionCookie is the cookie the polling endpoint sets once it has
	// opened a session; its value doubles as the sid for every later
	// request on the channel.
	sessionCookie = "io"

	sessionPollLimit = 20
	probeAckTimeout  = 10 * time.Second
)

// handshake runs the full five-step sequence the site's frontend
// performs before the push channel starts streaming. The order and the
// literal frames matter: the server rejects anything else.
func (s *Subscription) handshake(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "subscription.handshake")
	defer span.End()
	started := time.Now()

	s.teardown()
	s.setState(stateHandshaking)

	// The polling endpoint checks for the probe cookie a browser would
	// have from the board page.
	s.jar.SetCookies(s.baseURL, []*http.Cookie{{Name: "testCookie", Value: "1"}})

	// 1. Transport bootstrap script. The body is unused; the request
	// exists so the server plants its cookies.
	err := s.getDiscard(ctx, s.baseURL.String()+bootstrapPath, func(h http.Header) {
		h.Set("Accept", "*/*")
		h.Set("If-None-Match", "1.3.7")
		h.Set("Referer", s.boardReferer())
	})
	if err != nil {
		s.setState(stateError)
		otel.RecordError(span, err, otel.ErrorTypeHandshake, true)
		return fmt.Errorf("bootstrap: %w", err)
	}

	// 2. Poll until the server opens a session.
	sid, err := s.pollForSession(ctx)
	if err != nil {
		s.setState(stateError)
		otel.RecordError(span, err, otel.ErrorTypeHandshake, true)
		return err
	}
	s.sid = sid

	// 3. Confirm the session with a second polling request.
	if err := s.getDiscard(ctx, s.pollingURL(sid), nil); err != nil {
		s.setState(stateError)
		otel.RecordError(span, err, otel.ErrorTypeHandshake, true)
		return fmt.Errorf("session confirm: %w", err)
	}

	// 4. Post the subscribe command.
	if err := s.postSubscribe(ctx); err != nil {
		s.setState(stateError)
		otel.RecordError(span, err, otel.ErrorTypeHandshake, true)
		return err
	}

	// 5. Upgrade to the websocket with the probe exchange.
	conn, err := s.upgrade(ctx)
	if err != nil {
		s.setState(stateError)
		otel.RecordError(span, err, otel.ErrorTypeHandshake, true)
		return err
	}

	s.conn = conn
	s.setState(stateConnected)
	go s.readLoop(conn)
	go s.keepalive(conn)

	if metrics.IsEnabled() {
		metrics.HandshakesTotal.Add(ctx, 1)
		metrics.HandshakeDuration.Record(ctx, time.Since(started).Seconds())
	}
	otel.SetSpanOk(span)
	slog.Debug("push channel connected", "sid", sid, "took", time.Since(started))
	return nil
}

// pollForSession repeats the initial polling GET until the session
// cookie appears. The site sometimes needs a couple of rounds.
func (s *Subscription) pollForSession(ctx context.Context) (string, error) {
	for attempt := 0; attempt < sessionPollLimit; attempt++ {
		if err := s.getDiscard(ctx, s.pollingURL(""), nil); err != nil {
			return "", fmt.Errorf("session poll: %w", err)
		}
		for _, ck := range s.jar.Cookies(s.baseURL) {
			if ck.Name == sessionCookie && ck.Value != "" {
				return ck.Value, nil
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.pollDelay):
		}
	}
	return "", fmt.Errorf("no %s session cookie after %d polls", sessionCookie, sessionPollLimit)
}

func (s *Subscription) postSubscribe(ctx context.Context) error {
	body := eio.EncodePayload(eio.SubscribeFrame(s.cfg.StopID, s.cfg.Platforms))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.pollingURL(s.sid), strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", imhd.UserAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	req.Header.Set("Origin", s.origin())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("subscribe: status %d", resp.StatusCode)
	}
	return nil
}

// upgrade dials the websocket and walks the probe sequence: send
// "2probe", wait for "3probe", then confirm the upgrade with "5".
func (s *Subscription) upgrade(ctx context.Context) (*link, error) {
	wsURL := *s.baseURL
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = sioPath
	wsURL.RawQuery = "EIO=3&transport=websocket&sid=" + s.sid

	hdr := http.Header{}
	hdr.Set("Origin", s.origin())
	hdr.Set("User-Agent", imhd.UserAgent)

	ws, resp, err := s.dialer.DialContext(ctx, wsURL.String(), hdr)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte(eio.ProbePing)); err != nil {
		ws.Close()
		return nil, fmt.Errorf("probe: %w", err)
	}

	ws.SetReadDeadline(time.Now().Add(probeAckTimeout))
	_, ack, err := ws.ReadMessage()
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("probe ack: %w", err)
	}
	if string(ack) != eio.ProbePong {
		ws.Close()
		return nil, fmt.Errorf("probe ack: got %q, want %q", ack, eio.ProbePong)
	}
	ws.SetReadDeadline(time.Time{})

	time.Sleep(s.upgradeDelay)
	if err := ws.WriteMessage(websocket.TextMessage, []byte(eio.PacketUpgrade)); err != nil {
		ws.Close()
		return nil, fmt.Errorf("upgrade confirm: %w", err)
	}

	return &link{
		ws:     ws,
		frames: make(chan string, 64),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}, nil
}

// readLoop delivers frames from one connection until it dies. It never
// parses anything: classification happens on the consumer side so a
// malformed frame can be logged and skipped without killing the channel.
func (s *Subscription) readLoop(l *link) {
	for {
		_, data, err := l.ws.ReadMessage()
		if err != nil {
			select {
			case l.errs <- err:
			case <-l.done:
			}
			return
		}
		select {
		case l.frames <- string(data):
		case <-l.done:
			return
		}
	}
}

// keepalive pings the channel with the literal "2" frame. A failed send
// means the socket is already gone: close it so the reader unblocks and
// the next Fetch re-runs the handshake. The ticker is owned by the
// subscription generation and stops with it.
func (s *Subscription) keepalive(l *link) {
	ticker := time.NewTicker(s.keepaliveEvery)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := l.ws.WriteMessage(websocket.TextMessage, []byte(eio.PacketPing))
			s.writeMu.Unlock()
			if err != nil {
				slog.Warn("keepalive send failed, dropping push channel", "error", err)
				l.ws.Close()
				return
			}
			if metrics.IsEnabled() {
				metrics.KeepalivesTotal.Add(context.Background(), 1)
			}
		}
	}
}

func (s *Subscription) teardown() {
	if s.conn != nil {
		close(s.conn.done)
		s.conn.ws.Close()
		s.conn = nil
	}
	s.sid = ""
}

func (s *Subscription) getDiscard(ctx context.Context, rawURL string, decorate func(http.Header)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", imhd.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if decorate != nil {
		decorate(req.Header)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("status %d from %s", resp.StatusCode, rawURL)
	}
	return nil
}

// pollingURL builds the polling endpoint URL with the millisecond
// timestamp and running sequence number the site expects in t.
func (s *Subscription) pollingURL(sid string) string {
	u := fmt.Sprintf("%s%s?EIO=3&transport=polling&t=%d-%d",
		s.baseURL.String(), sioPath, time.Now().UnixMilli(), s.seq)
	s.seq++
	if sid != "" {
		u += "&sid=" + sid
	}
	return u
}

func (s *Subscription) origin() string {
	return s.baseURL.Scheme + "://" + s.baseURL.Host
}

func (s *Subscription) boardReferer() string {
	return fmt.Sprintf("%s/ba/online-zastavkova-tabula?z=%d&skin=2&fullscreen=1", s.baseURL.String(), s.cfg.StopID)
}
