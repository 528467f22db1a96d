package httpc

import (
	"crypto/tls"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/loykin/deploypipe/internal/common"
	"github.com/loykin/deploypipe/internal/util"
)

// Options configures outbound HTTP clients: notification sinks, the HTTP
// parameter store, source archive downloads and approval announcements.
type Options struct {
	Timeout    time.Duration
	Insecure   bool
	MinVersion string // "1.0" .. "1.3"; empty leaves the default
	MaxVersion string
	Headers    map[string]string
	UserAgent  string
}

const (
	// DefaultTimeout applies when Options.Timeout is zero.
	DefaultTimeout   = 10 * time.Second
	DefaultUserAgent = "deploypipe"
)

// New returns a resty.Client configured from opts.
func New(opts Options) *resty.Client {
	c := resty.New()
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c.SetTimeout(timeout)
	c.SetHeader("User-Agent", util.TrimWithDefault(opts.UserAgent, DefaultUserAgent))
	for k, v := range opts.Headers {
		c.SetHeader(k, v)
	}
	c.OnAfterResponse(logResponse)

	if opts.Insecure {
		// #nosec G402 -- explicitly requested for self-signed endpoints
		c.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
		return c
	}
	minV := parseTLSVersion(opts.MinVersion)
	maxV := parseTLSVersion(opts.MaxVersion)
	if minV == 0 && maxV == 0 {
		return c
	}
	c.SetTLSClientConfig(&tls.Config{MinVersion: minV, MaxVersion: maxV})
	return c
}

// logResponse traces every exchange at debug level. URLs pass through the
// masker since webhook and presigned URLs embed credentials.
func logResponse(_ *resty.Client, resp *resty.Response) error {
	req := resp.Request
	common.GetLogger().WithComponent("http").WithRequest(req.Method, req.URL).
		Debug("http exchange", "status", resp.StatusCode(), "duration", resp.Time())
	return nil
}

// parseTLSVersion maps "1.2", "tls1.2", "TLS12" and friends to a tls constant, or 0.
func parseTLSVersion(s string) uint16 {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.TrimPrefix(v, "tls")
	v = strings.TrimPrefix(v, "v")
	switch v {
	case "1.0", "10":
		return tls.VersionTLS10
	case "1.1", "11":
		return tls.VersionTLS11
	case "1.2", "12":
		return tls.VersionTLS12
	case "1.3", "13":
		return tls.VersionTLS13
	default:
		return 0
	}
}
