// Package httpclient provides the retrying HTTP client used to reach the
// recognizer and classifier sidecars.
package httpclient

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"
)

// ignoreProxy controls whether the HTTP_PROXY environment variable should be ignored.
// Uses atomic operations for thread-safe access.
var ignoreProxy atomic.Bool

// SetIgnoreProxy sets whether to ignore the HTTP_PROXY environment variable.
// Sidecars usually run on localhost or a cluster network where a corporate proxy must not be used.
func SetIgnoreProxy(ignore bool) {
	ignoreProxy.Store(ignore)
}

// HeaderRoundTripper is an http.RoundTripper that adds default headers to requests.
// Headers are only added if they're not already present in the request.
type HeaderRoundTripper struct {
	Headers map[string]string
	Next    http.RoundTripper
}

// RoundTrip adds default headers when they're not present on the request
// and delegates to the next RoundTripper.
func (hrt *HeaderRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if hrt.Next == nil {
		return nil, http.ErrNotSupported
	}

	if hrt.Headers != nil {
		for k, v := range hrt.Headers {
			if req.Header.Get(k) == "" {
				req.Header.Set(k, v)
			}
		}
	}

	return hrt.Next.RoundTrip(req)
}

// CheckRetry retries transport errors, 429 and 5xx except 501. A cancelled
// context stops retrying.
func CheckRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx != nil && ctx.Err() != nil {
		return false, ctx.Err()
	}

	if err != nil {
		log.Debug().Err(err).Msg("Retrying HTTP request, error occurred")
		return true, nil
	}

	if resp == nil {
		log.Debug().Msg("Retrying HTTP request, no response")
		return false, nil
	}

	if resp.StatusCode == 429 || (resp.StatusCode >= 500 && resp.StatusCode != 501) {
		url := ""
		if resp.Request != nil && resp.Request.URL != nil {
			url = resp.Request.URL.String()
		}
		log.Trace().Str("url", url).Int("statusCode", resp.StatusCode).Msg("Retrying HTTP request")
		return true, nil
	}

	return false, nil
}

// NewClient creates a retryable HTTP client.
// It supports:
//   - Custom default headers
//   - Automatic retry logic for 429 and 5xx errors (except 501)
//   - HTTP proxy support via HTTP_PROXY environment variable (unless SetIgnoreProxy(true) is called)
//
// timeout bounds a single attempt. Zero leaves it to the request context.
func NewClient(defaultHeaders map[string]string, retryMax int, timeout time.Duration) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = retryMax
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = timeout
	client.CheckRetry = CheckRetry

	tr := http.DefaultTransport.(*http.Transport).Clone()

	if !ignoreProxy.Load() {
		proxyServer, useHttpProxy := os.LookupEnv("HTTP_PROXY")
		if useHttpProxy {
			proxyUrl, err := url.Parse(proxyServer)
			if err != nil {
				log.Error().Err(err).Str("HTTP_PROXY", proxyServer).Msg("Invalid Proxy URL in HTTP_PROXY environment variable, ignoring")
			} else {
				log.Debug().Str("proxy", proxyUrl.String()).Msg("Using HTTP_PROXY")
				tr.Proxy = http.ProxyURL(proxyUrl)
			}
		}
	} else {
		tr.Proxy = nil
	}

	client.HTTPClient.Transport = &HeaderRoundTripper{Headers: defaultHeaders, Next: tr}
	return client
}
