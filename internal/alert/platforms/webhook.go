package platforms

import "context"

// WebhookAdapter posts the alert as plain JSON, with the secret sent as a
// bearer token when present.
type WebhookAdapter struct {
	client *HTTPClient
}

func NewWebhookAdapter(client *HTTPClient) *WebhookAdapter {
	return &WebhookAdapter{client: client}
}

func (a *WebhookAdapter) Name() string {
	return "webhook"
}

func (a *WebhookAdapter) Send(ctx context.Context, endpoint, secret string, msg Message) error {
	fields := make(map[string]string, len(msg.Fields))
	for _, f := range msg.Fields {
		fields[f.Name] = f.Value
	}
	var headers map[string]string
	if secret != "" {
		headers = map[string]string{"Authorization": "Bearer " + secret}
	}
	return a.client.PostJSON(ctx, endpoint, headers, map[string]any{
		"kind":      msg.Kind,
		"title":     msg.Title,
		"key":       msg.Footer,
		"timestamp": msg.Timestamp,
		"fields":    fields,
	})
}
