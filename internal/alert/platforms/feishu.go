package platforms

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"
)

type FeishuAdapter struct {
	client *HTTPClient
	now    func() time.Time
}

func NewFeishuAdapter(client *HTTPClient) *FeishuAdapter {
	return &FeishuAdapter{client: client, now: time.Now}
}

func (a *FeishuAdapter) Name() string {
	return "feishu"
}

// Send posts an interactive card. A non-empty secret enables the bot's
// signature check: base64(hmac_sha256(key=timestamp+"\n"+secret, "")).
func (a *FeishuAdapter) Send(ctx context.Context, endpoint, secret string, msg Message) error {
	elements := make([]map[string]string, 0, len(msg.Fields)+1)
	elements = append(elements, map[string]string{"tag": "markdown", "text": msg.Content})
	for _, f := range msg.Fields {
		elements = append(elements, map[string]string{"tag": "markdown", "text": "**" + f.Name + "**: " + f.Value})
	}
	template := "blue"
	if msg.Kind == "ledger_inconsistency" {
		template = "red"
	}
	payload := map[string]any{
		"msg_type": "interactive",
		"card": map[string]any{
			"header": map[string]any{
				"title":    map[string]any{"tag": "plain_text", "content": msg.Title},
				"template": template,
			},
			"elements": elements,
		},
	}
	if secret != "" {
		ts := strconv.FormatInt(a.now().Unix(), 10)
		payload["timestamp"] = ts
		payload["sign"] = feishuSign(ts, secret)
	}
	return a.client.PostJSON(ctx, endpoint, nil, payload)
}

func feishuSign(timestamp, secret string) string {
	mac := hmac.New(sha256.New, []byte(timestamp+"\n"+secret))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
