// Package xair reads raw measurements from an XR measurement server.
package xair

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"github.com/pkg/errors"
	"github.com/relvacode/iso8601"

	"github.com/airbreizh/didon/pkg/measure"
	"github.com/airbreizh/didon/pkg/source"
)

// Config configures the client
type Config struct {
	Endpoint string
	User     string
	Password string
	Base     string
	Timeout  time.Duration

	// Location is applied to returned timestamps. Nil means UTC.
	Location *time.Location
}

// Client is a source.Source over the XR HTTP API
type Client struct {
	endpoint string
	cfg      Config
	client   *http.Client
}

var _ source.Source = (*Client)(nil)

// New creates a client. The endpoint must be an absolute http(s) URL.
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid endpoint %q", cfg.Endpoint)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("invalid endpoint %q: want http or https", cfg.Endpoint)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		cfg:      cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}, nil
}

// Ping checks the server answers on /ping
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, c.endpoint+"/ping")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

type reading struct {
	Date  string     `json:"date"`
	Value null.Float `json:"valeur"`
	State string     `json:"etat"`
}

type response struct {
	Readings []reading `json:"mesures"`
}

// Fetch returns the raw readings of req.Identifier over req.Window
func (c *Client) Fetch(ctx context.Context, req source.Request) (*measure.Fetch, error) {
	q := url.Values{}
	q.Set("mes", req.Identifier)
	q.Set("debut", req.Window.Start.String())
	q.Set("fin", req.Window.End.String())
	q.Set("freq", string(req.Granularity))
	q.Set("brut", "true")
	if c.cfg.Base != "" {
		q.Set("base", c.cfg.Base)
	}

	resp, err := c.do(ctx, c.endpoint+"/mesures?"+q.Encode())
	if err != nil {
		return nil, errors.Wrapf(err, "fetching %s", req.Identifier)
	}
	defer resp.Body.Close()

	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrapf(err, "decoding %s", req.Identifier)
	}

	withCodes := source.WantsCodes(req.Granularity)
	fetch := &measure.Fetch{
		Values: make([]measure.Sample, 0, len(body.Readings)),
	}
	if withCodes {
		fetch.Codes = make([]measure.CodeSample, 0, len(body.Readings))
	}

	for _, r := range body.Readings {
		at, err := iso8601.ParseString(r.Date)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: invalid date %q", req.Identifier, r.Date)
		}
		at = at.In(c.cfg.Location)

		fetch.Values = append(fetch.Values, measure.Sample{At: at, Value: r.Value})
		if withCodes {
			fetch.Codes = append(fetch.Codes, measure.CodeSample{At: at, Code: r.State})
		}
	}

	return fetch, nil
}

// Close releases idle connections
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func (c *Client) do(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.User != "" {
		req.SetBasicAuth(c.cfg.User, c.cfg.Password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, errors.Errorf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	return resp, nil
}
