package models

import "encoding/json"

// PushSubscription is a browser Web Push endpoint stored in a webpush
// channel's config.subscriptions list.
type PushSubscription struct {
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"keys_p256dh"`
	Auth     string `json:"keys_auth"`
}

// PushSubscriptions decodes config.subscriptions of a webpush channel.
func (c Channel) PushSubscriptions() ([]PushSubscription, error) {
	raw, ok := c.Config["subscriptions"]
	if !ok || raw == nil {
		return nil, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var subs []PushSubscription
	if err := json.Unmarshal(b, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}
