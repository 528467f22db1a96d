package params

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/loykin/deploypipe/internal/common"
	"github.com/loykin/deploypipe/internal/httpc"
	"github.com/loykin/deploypipe/internal/retry"
	"github.com/tidwall/gjson"
)

// HTTPConfig configures an HTTP parameter service. The path is sent as the
// `name` query parameter and the value is read from the JSON response at
// ValuePath (gjson syntax, default "value").
type HTTPConfig struct {
	URL       string            `mapstructure:"url"`
	ValuePath string            `mapstructure:"value_path"`
	Headers   map[string]string `mapstructure:"headers"`
	Timeout   time.Duration     `mapstructure:"timeout"`
	Insecure  bool              `mapstructure:"insecure"`
}

// HTTPStore looks parameters up over HTTP.
type HTTPStore struct {
	url       string
	valuePath string
	client    *resty.Client
	retry     *retry.Config
}

// NewHTTPStore creates an HTTP backed store.
func NewHTTPStore(c HTTPConfig) (*HTTPStore, error) {
	if strings.TrimSpace(c.URL) == "" {
		return nil, errors.New("params: http backend requires url")
	}
	vp := strings.TrimSpace(c.ValuePath)
	if vp == "" {
		vp = "value"
	}
	return &HTTPStore{
		url:       c.URL,
		valuePath: vp,
		client:    httpc.New(httpc.Options{Timeout: c.Timeout, Insecure: c.Insecure, Headers: c.Headers}),
		retry:     retry.DefaultHTTPConfig(),
	}, nil
}

func (s *HTTPStore) Lookup(ctx context.Context, path string) (string, error) {
	logger := common.GetLogger().WithComponent("params").WithRequest(http.MethodGet, s.url)
	var value string
	err := retry.WithRetry(ctx, s.retry, func() error {
		resp, err := s.client.R().
			SetContext(ctx).
			SetHeader("Accept", "application/json").
			SetQueryParam("name", path).
			Get(s.url)
		if err != nil {
			return err
		}
		switch code := resp.StatusCode(); {
		case code == http.StatusNotFound:
			return notFound(path)
		case code >= 500 || code == http.StatusTooManyRequests:
			return retry.Transient(fmt.Errorf("parameter service returned %d", code))
		case code >= 300:
			return fmt.Errorf("parameter service returned %d", code)
		}
		res := gjson.GetBytes(resp.Body(), s.valuePath)
		if !res.Exists() {
			return notFound(path)
		}
		value = res.String()
		return nil
	})
	if err != nil {
		logger.Debug("parameter lookup failed", "path", path, "error", err)
		return "", err
	}
	return value, nil
}
