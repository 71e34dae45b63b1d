package provider

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-kratos/kratos/v2/errors"
)

const maxRetryAfter = 30 * time.Second

// credentialParams are query parameters that carry API keys.
var credentialParams = []string{"api_key", "key", "access_token"}

var (
	// ErrAuthentication marks rejected or missing credentials. It never
	// heals on retry and trips the provider's breaker.
	ErrAuthentication = errors.Unauthorized("PROVIDER_AUTHENTICATION", "provider rejected the credentials")
	// ErrRateLimited marks a quota or throttling response.
	ErrRateLimited = errors.New(http.StatusTooManyRequests, "PROVIDER_RATE_LIMITED", "provider rate limit exceeded")
	// ErrNetworkTimeout marks timeouts, transport failures and 5xx responses.
	ErrNetworkTimeout = errors.GatewayTimeout("PROVIDER_NETWORK_TIMEOUT", "provider did not answer in time")
	// ErrInvalidResponse marks a response that could not be decoded.
	ErrInvalidResponse = errors.New(http.StatusBadGateway, "PROVIDER_INVALID_RESPONSE", "provider returned an unreadable response")
	// ErrUnsupportedQuery is returned when a provider cannot search for the
	// given query, such as a URL-only engine without a public image URL.
	ErrUnsupportedQuery = errors.New(http.StatusUnprocessableEntity, "QUERY_UNSUPPORTED", "provider cannot search this query")
)

// Kind is the failure class recorded in search stats.
type Kind string

const (
	KindNone           Kind = ""
	KindAuthentication Kind = "authentication"
	KindRateLimited    Kind = "rate_limited"
	KindNetworkTimeout Kind = "network_timeout"
	KindUnsupported    Kind = "unsupported"
	KindProvider       Kind = "provider_error"
)

// Retryable reports whether a failure of this kind may succeed on retry.
func (k Kind) Retryable() bool {
	return k == KindRateLimited || k == KindNetworkTimeout
}

// Classify maps err onto the taxonomy. Unknown errors are provider errors.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	switch {
	case errors.Is(err, ErrAuthentication):
		return KindAuthentication
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrNetworkTimeout):
		return KindNetworkTimeout
	case errors.Is(err, ErrUnsupportedQuery):
		return KindUnsupported
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindNetworkTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindNetworkTimeout
	}
	return KindProvider
}

// RetryAfter returns the delay a rate-limited provider asked for, or zero.
func RetryAfter(err error) time.Duration {
	var se *errors.Error
	if !errors.As(err, &se) {
		return 0
	}
	seconds, perr := strconv.Atoi(se.Metadata["retry_after"])
	if perr != nil || seconds <= 0 {
		return 0
	}
	return min(time.Duration(seconds)*time.Second, maxRetryAfter)
}

// statusError classifies a non-200 HTTP response.
func statusError(provider string, code int, header http.Header, body []byte) error {
	cause := fmt.Errorf("%s returned status %d: %s", provider, code, truncate(body, 256))
	md := map[string]string{"provider": provider, "status": strconv.Itoa(code)}
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrAuthentication.WithCause(cause).WithMetadata(md)
	case code == http.StatusTooManyRequests:
		if ra := header.Get("Retry-After"); ra != "" {
			md["retry_after"] = ra
		}
		return ErrRateLimited.WithCause(cause).WithMetadata(md)
	case code == http.StatusRequestTimeout || code >= 500:
		return ErrNetworkTimeout.WithCause(cause).WithMetadata(md)
	default:
		return ErrInvalidResponse.WithCause(cause).WithMetadata(md)
	}
}

// transportError classifies a failed round trip. Cancellation of the
// caller's context is returned unchanged. The request URL embedded by
// net/http is stripped of credentials before the error leaves the package.
func transportError(ctx context.Context, provider string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s request cancelled: %w", provider, ctx.Err())
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		err = &url.Error{Op: ue.Op, URL: redactURL(ue.URL), Err: ue.Err}
	}
	return ErrNetworkTimeout.WithCause(fmt.Errorf("%s request failed: %w", provider, err)).
		WithMetadata(map[string]string{"provider": provider})
}

// redactURL replaces the value of every credential query parameter.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "[unparseable url]"
	}
	q := u.Query()
	changed := false
	for _, name := range credentialParams {
		if q.Has(name) {
			q.Set(name, "REDACTED")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	u.User = nil
	return u.String()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
