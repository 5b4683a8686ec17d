package integration

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultTimeout bounds every vendor request.
const DefaultTimeout = 10 * time.Second

// vendor clients are rebuilt on every tick; they all share one pool
var sharedHTTPClient = &http.Client{
	Timeout: DefaultTimeout,
	Transport: &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	},
}

// NewHTTPClient returns a resty client rooted at the integration's URL.
// Settings that live on the underlying *http.Client (timeout, redirects,
// transport) are shared and must not be changed on the result.
func NewHTTPClient(record Record) *resty.Client {
	return resty.NewWithClient(sharedHTTPClient).
		SetBaseURL(strings.TrimRight(record.URL, "/")).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "pulsefeed")
}

// HTTPError is a non-2xx vendor response.
type HTTPError struct {
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected response: %s", e.Status)
}

// CheckResponse converts error status codes into an [*HTTPError]. The
// request URL is left out since it may carry credentials.
func CheckResponse(resp *resty.Response) error {
	if resp.IsError() {
		return &HTTPError{StatusCode: resp.StatusCode(), Status: resp.Status()}
	}
	return nil
}

// RequestError drops the request URL from a transport error, keeping the
// operation and the underlying cause. Vendors that take credentials as
// query parameters would otherwise leak them into error messages.
func RequestError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s request: %w", strings.ToLower(urlErr.Op), urlErr.Err)
	}
	return err
}
