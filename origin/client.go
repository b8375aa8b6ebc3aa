// Package origin fetches manifests and segments from the upstream media
// origin on behalf of the proxy.
package origin

import (
	"context"
	"io"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// Resource is one upstream response. Body is open only for 2xx responses;
// the caller owns closing it.
type Resource struct {
	Status      int
	ContentType string
	Body        io.ReadCloser
}

type Client struct {
	rest *resty.Client
}

// New builds an origin client with a hard per-request timeout. Responses are
// left unparsed so segment bodies can be streamed to the client.
func New(timeout time.Duration) *Client {
	rest := resty.New().
		SetTimeout(timeout).
		SetDoNotParseResponse(true)
	return &Client{rest: rest}
}

// Fetch GETs the given origin URL. Transient 5xx responses are retried a
// bounded number of times; 4xx responses are never retried. The request
// context is propagated so a disconnected client cancels the upstream fetch.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Resource, error) {
	var res *Resource
	err := retry.Do(
		func() error {
			resp, err := c.rest.R().SetContext(ctx).Get(rawURL)
			if err != nil {
				return errors.Wrap(err, "origin fetch")
			}
			status := resp.StatusCode()
			contentType := resp.Header().Get("Content-Type")
			if status >= 500 {
				closeBody(resp)
				res = &Resource{Status: status, ContentType: contentType}
				return errors.Errorf("origin returned %d", status)
			}
			if status < 200 || status > 299 {
				closeBody(resp)
				res = &Resource{Status: status, ContentType: contentType}
				return nil
			}
			res = &Resource{Status: status, ContentType: contentType, Body: resp.RawBody()}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		if res != nil {
			// Retries exhausted on 5xx: hand the status back so the
			// gateway can propagate it.
			return res, nil
		}
		return nil, err
	}
	return res, nil
}

func closeBody(resp *resty.Response) {
	if body := resp.RawBody(); body != nil {
		_ = body.Close()
	}
}
