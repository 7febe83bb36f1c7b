package domain

// WebhookSubscription is a registered HTTP subscriber.
// The core only reads subscriptions; CRUD lives in the API layer.
type WebhookSubscription struct {
	ID        string
	URL       string
	Secret    string   // HMAC-SHA256 key for payload signing
	Events    []string // event names this subscriber receives
	Active    bool
	CreatedAt int64 // Unix ms
}

// WantsEvent reports whether the subscription covers the given event name.
func (w *WebhookSubscription) WantsEvent(event string) bool {
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}

// Clone returns a copy of the subscription with its own events slice.
func (w *WebhookSubscription) Clone() *WebhookSubscription {
	c := *w
	c.Events = append([]string(nil), w.Events...)
	return &c
}
