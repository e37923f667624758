package imhd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"imhd2txt/pkg/otel"
	"imhd2txt/pkg/types"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultBaseURL = "http://imhd.sk"

	// UserAgent mirrors what the site's own frontend sees from a
	// browser. The search and board endpoints behave differently for
	// clients they do not recognise.
	UserAgent = "Mozilla/5.0 (X11; Linux i686; rv:45.0) Gecko/20100101 Firefox/45.0"
)

// stopLinkPattern extracts the stop id from a timetable link such as
// /ba/online-zastavkova-tabula?z=94&skin=2.
var stopLinkPattern = regexp.MustCompile(`[?&]z=(\d+)`)

// Client performs the stateless request/response calls against imhd.sk:
// stop-name search, geolocation lookup, destination-name lookup and the
// main board page. The push channel lives in pkg/subscription.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tracer     trace.Tracer
}

// NearestStop is the response of the geolocation lookup (op=gns).
type NearestStop struct {
	StopID    int                `json:"z"`
	Platforms []types.FlexString `json:"n"`
	Distance  float64            `json:"vzdialenost"`
	Name      string             `json:"nazov"`
	Code      string             `json:"oznacenie"`
	Info      string             `json:"info"` // copyright notice, see terms of use
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	// HTTP client with OpenTelemetry instrumentation
	client := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   30 * time.Second,
	}

	return &Client{
		httpClient: client,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		tracer:     otelapi.Tracer("imhd-client"),
	}
}

// BaseURL returns the site root this client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// ResolveStopName resolves a free-text stop name (or unique fragment)
// into its numeric id by replaying the site's search form. The site
// links a timetable board only when the query matches exactly one stop;
// anything else comes back as ErrNoMatch.
func (c *Client) ResolveStopName(ctx context.Context, name string) (int, error) {
	ctx, span := c.tracer.Start(ctx, "imhd.resolve_stop_name",
		trace.WithAttributes(attribute.String("stop.query", name)),
	)
	defer span.End()

	searchURL := c.baseURL + "/ba/vyhladavanie?hladaj=" + url.QueryEscape(name)
	doc, err := c.getDocument(ctx, searchURL)
	if err != nil {
		recordError(span, err)
		return 0, err
	}

	links := doc.Find(".cestovny_poriadok_zastavkova_tabula > a")
	span.SetAttributes(attribute.Int("stop.matches", links.Length()))
	if links.Length() != 1 {
		err := fmt.Errorf("%q (%d results): %w", name, links.Length(), ErrNoMatch)
		recordError(span, err)
		return 0, err
	}

	href, ok := links.First().Attr("href")
	if !ok {
		err := &ParseError{What: "search result link"}
		recordError(span, err)
		return 0, err
	}

	m := stopLinkPattern.FindStringSubmatch(href)
	if m == nil {
		err := &ParseError{What: "stop id in link " + href}
		recordError(span, err)
		return 0, err
	}

	id, err := strconv.Atoi(m[1])
	if err != nil {
		perr := &ParseError{What: "stop id in link " + href, Err: err}
		recordError(span, perr)
		return 0, perr
	}

	span.SetAttributes(attribute.Int("stop.id", id))
	return id, nil
}

// NearestStop resolves a lat/lng pair into the closest stop via the
// site's op=gns API call.
func (c *Client) NearestStop(ctx context.Context, lat, lng float64) (*NearestStop, error) {
	ctx, span := c.tracer.Start(ctx, "imhd.nearest_stop",
		trace.WithAttributes(
			attribute.Float64("geo.lat", lat),
			attribute.Float64("geo.lng", lng),
		),
	)
	defer span.End()

	q := url.Values{}
	q.Set("op", "gns")
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lng", strconv.FormatFloat(lng, 'f', -1, 64))
	q.Set("t", strconv.FormatInt(time.Now().Unix(), 10))

	var stop NearestStop
	if err := c.getJSON(ctx, c.baseURL+"/ba/api/sk/cp?"+q.Encode(), &stop); err != nil {
		recordError(span, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("stop.id", stop.StopID),
		attribute.String("stop.name", stop.Name),
	)
	return &stop, nil
}

// DestinationNames translates destination stop ids into display names
// via the op=gsn API call. One request per call: batch the ids rather
// than calling per record.
func (c *Client) DestinationNames(ctx context.Context, ids []int) (map[int]string, error) {
	ctx, span := c.tracer.Start(ctx, "imhd.destination_names",
		trace.WithAttributes(attribute.Int("ids.count", len(ids))),
	)
	defer span.End()

	joined := make([]string, len(ids))
	for i, id := range ids {
		joined[i] = strconv.Itoa(id)
	}

	q := url.Values{}
	q.Set("op", "gsn")
	q.Set("id", strings.Join(joined, ","))
	q.Set("t", strconv.FormatInt(time.Now().Unix(), 10))

	var payload struct {
		SN map[string]string `json:"sn"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/ba/api/sk/cp?"+q.Encode(), &payload); err != nil {
		recordError(span, err)
		return nil, err
	}
	if payload.SN == nil {
		err := &ParseError{What: "sn mapping in gsn response"}
		recordError(span, err)
		return nil, err
	}

	names := make(map[int]string, len(payload.SN))
	for k, v := range payload.SN {
		id, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		names[id] = v
	}

	return names, nil
}

// StopPlatforms loads the stop's board page and extracts the embedded
// platform list. The page carries it as a javascript assignment of the
// form "nastupiste=[1,2];" on a line of its own.
func (c *Client) StopPlatforms(ctx context.Context, stopID int) ([]string, error) {
	ctx, span := c.tracer.Start(ctx, "imhd.stop_platforms",
		trace.WithAttributes(attribute.Int("stop.id", stopID)),
	)
	defer span.End()

	boardURL := c.baseURL + "/ba/online-zastavkova-tabula?z=" + strconv.Itoa(stopID) + "&skin=2&fullscreen=1"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, boardURL, nil)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	setBrowserHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		recordError(span, err)
		return nil, &ConnError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := &ConnError{Status: resp.StatusCode}
		recordError(span, err)
		return nil, err
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "nastupiste=") {
			continue
		}
		raw := strings.TrimSuffix(strings.TrimPrefix(line, "nastupiste="), ";")

		var platforms []types.FlexString
		if err := json.Unmarshal([]byte(raw), &platforms); err != nil {
			recordError(span, err)
			return nil, &ParseError{What: "platform list " + raw, Err: err}
		}

		out := make([]string, len(platforms))
		for i, p := range platforms {
			out[i] = p.String()
		}
		span.SetAttributes(attribute.StringSlice("stop.platforms", out))
		return out, nil
	}
	if err := scanner.Err(); err != nil {
		recordError(span, err)
		return nil, &ConnError{Err: err}
	}

	err = &ParseError{What: "nastupiste assignment in board page"}
	recordError(span, err)
	return nil, err
}

func (c *Client) getDocument(ctx context.Context, rawURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	setBrowserHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ConnError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ConnError{Status: resp.StatusCode}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &ParseError{What: "search result markup", Err: err}
	}
	return doc, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	setBrowserHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ConnError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ConnError{Status: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &ParseError{What: "api response", Err: err}
	}
	return nil
}

// recordError classifies an error before recording it on the span, so
// traces can be filtered by what actually went wrong: the site being
// down, an unexpected status, or markup we no longer understand.
func recordError(span trace.Span, err error) {
	var connErr *ConnError
	var parseErr *ParseError

	errorType := otel.ErrorTypeNetwork
	switch {
	case errors.As(err, &parseErr), errors.Is(err, ErrNoMatch):
		errorType = otel.ErrorTypeParse
	case errors.As(err, &connErr) && connErr.Status != 0:
		errorType = otel.ErrorTypeHTTP
	}
	otel.RecordError(span, err, errorType, false)
}

func setBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
}
