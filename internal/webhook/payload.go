package webhook

import (
	"fmt"
	"strings"
)

// Known event types emitted by the CMS.
const (
	EventPagePublish    = "page_publish"
	EventPageUpdate     = "page_update"
	EventPageUnpublish  = "page_unpublish"
	EventSettingsUpdate = "settings_update"
	EventChannelUpdate  = "channel_update"
	EventRegionUpdate   = "region_update"
)

// Entity discriminators carried by a payload.
const (
	EntityPage     = "page"
	EntitySettings = "settings"
	EntityChannel  = "channel"
	EntityRegion   = "region"
)

// Payload is one inbound content-change event. It is transient: validated,
// dispatched, and discarded, never persisted. The signature covers the exact
// raw request body, so the struct is only ever decoded, never re-serialized
// for verification.
type Payload struct {
	Event     string `json:"event"`
	Site      string `json:"site"`
	Entity    string `json:"entity"`
	PageID    string `json:"pageId,omitempty"`
	Slug      string `json:"slug,omitempty"`
	Channel   string `json:"channel,omitempty"`
	Region    string `json:"region,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
	Nonce     string `json:"nonce,omitempty"`
}

// Validate reports the required fields missing from the payload. A validation
// failure is a malformed-payload error (HTTP 400), deliberately distinct from
// the authentication failures the verifier reports.
func (p Payload) Validate() error {
	var missing []string
	if strings.TrimSpace(p.Signature) == "" {
		missing = append(missing, "signature")
	}
	if strings.TrimSpace(p.Site) == "" {
		missing = append(missing, "site")
	}
	if strings.TrimSpace(p.Event) == "" {
		missing = append(missing, "event")
	}
	if p.Timestamp == 0 {
		missing = append(missing, "timestamp")
	}
	if len(missing) > 0 {
		return fmt.Errorf("webhook: missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}
