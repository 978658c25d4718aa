package tracker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

const (
	MAX_RESPONSE_SIZE = 1 << 20
)

type httpTracker struct {
	announce string
	client   *http.Client
}

func NewHTTPTracker(announce string, client *http.Client) Tracker {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpTracker{
		announce: announce,
		client:   client,
	}
}

func (tr *httpTracker) Announce(ctx context.Context, req *AnnounceRequest) (*AnnounceResponse, error) {
	u, err := AnnounceURL(tr.announce, req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := tr.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("announce to %s: %w", tr.announce, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s responded %s", ErrTracker, tr.announce, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, MAX_RESPONSE_SIZE))
	if err != nil {
		return nil, fmt.Errorf("read announce response: %w", err)
	}
	return ParseAnnounceResponse(body)
}

// NewTracker picks the transport from the announce url scheme.
func NewTracker(announce string, client *http.Client) (Tracker, error) {
	u, err := url.Parse(announce)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "udp":
		return NewUDPTracker(announce)
	case "http", "https":
		return NewHTTPTracker(announce, client), nil
	}
	return nil, fmt.Errorf("%w: unsupported announce url %q", ErrTracker, announce)
}
