package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/loykin/deploypipe/internal/common"
	"github.com/loykin/deploypipe/internal/httpc"
	"github.com/loykin/deploypipe/internal/retry"
)

// WebhookSink posts notifications as JSON to a chat-style webhook URL.
type WebhookSink struct {
	URL    string
	client *resty.Client
	retry  *retry.Config
}

// NewWebhookSink creates a webhook sink.
func NewWebhookSink(url string, opts httpc.Options) *WebhookSink {
	return &WebhookSink{URL: url, client: httpc.New(opts), retry: retry.DefaultHTTPConfig()}
}

func (s *WebhookSink) Key() string { return "webhook:" + s.URL }

type webhookPayload struct {
	Text         string       `json:"text"`
	Notification Notification `json:"notification"`
}

func (s *WebhookSink) Send(ctx context.Context, n Notification) error {
	return post(ctx, s.client, s.retry, s.URL, webhookPayload{Text: n.Text(), Notification: n})
}

// TopicSink publishes notifications to a named topic through an HTTP publish endpoint.
type TopicSink struct {
	Endpoint string
	Topic    string
	client   *resty.Client
	retry    *retry.Config
}

// NewTopicSink creates a topic sink publishing to endpoint.
func NewTopicSink(endpoint, topic string, opts httpc.Options) *TopicSink {
	return &TopicSink{Endpoint: endpoint, Topic: topic, client: httpc.New(opts), retry: retry.DefaultHTTPConfig()}
}

func (s *TopicSink) Key() string { return "topic:" + s.Topic }

type topicPayload struct {
	Topic   string            `json:"topic"`
	Subject string            `json:"subject"`
	Message string            `json:"message"`
	Attrs   map[string]string `json:"attributes"`
}

func (s *TopicSink) Send(ctx context.Context, n Notification) error {
	return post(ctx, s.client, s.retry, s.Endpoint, topicPayload{
		Topic:   s.Topic,
		Subject: fmt.Sprintf("[%s] pipeline %s", n.Environment, strings.ToLower(string(n.Event))),
		Message: n.Text(),
		Attrs: map[string]string{
			"topology_id": n.TopologyID,
			"event":       string(n.Event),
			"run_id":      n.RunID,
		},
	})
}

func post(ctx context.Context, client *resty.Client, cfg *retry.Config, url string, body any) error {
	return retry.WithRetry(ctx, cfg, func() error {
		resp, err := client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(body).
			Post(url)
		if err != nil {
			return err
		}
		if code := resp.StatusCode(); code >= 500 || code == 429 {
			return retry.Transient(fmt.Errorf("%s returned %d", common.MaskSensitiveData(url), code))
		} else if code >= 300 {
			return fmt.Errorf("%s returned %d: %s", common.MaskSensitiveData(url), code, strings.TrimSpace(resp.String()))
		}
		return nil
	})
}

// LogSink writes notifications to a logger.
type LogSink struct {
	Logger *common.Logger
}

func (s LogSink) Key() string { return "log" }

func (s LogSink) Send(_ context.Context, n Notification) error {
	l := s.Logger
	if l == nil {
		l = common.GetLogger()
	}
	l = l.WithComponent("notify").WithTopology(n.TopologyID, n.Environment)
	if n.Event == EventFailed {
		l.Error(n.Text(), "event", string(n.Event), "run", n.RunID)
	} else {
		l.Info(n.Text(), "event", string(n.Event), "run", n.RunID)
	}
	return nil
}

// SinkFromTarget builds a sink from a resolved notification target: an http(s)
// URL becomes a WebhookSink, anything else is treated as a topic published
// through topicEndpoint. An empty topicEndpoint falls back to a LogSink.
func SinkFromTarget(target, topicEndpoint string, opts httpc.Options) Sink {
	t := strings.TrimSpace(target)
	if strings.HasPrefix(t, "http://") || strings.HasPrefix(t, "https://") {
		return NewWebhookSink(t, opts)
	}
	if topicEndpoint == "" {
		return LogSink{}
	}
	return NewTopicSink(topicEndpoint, t, opts)
}
