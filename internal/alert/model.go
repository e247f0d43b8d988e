// Package alert holds the persisted records produced by the pipeline:
// organizations (read-only here) and finalized alerts.
package alert

import (
	"fmt"
	"time"
)

// Organization is provisioned outside this service. OrgKey is the short name
// derived from the inbound address local-part and is unique.
type Organization struct {
	OrgID     string `json:"org_id"`
	OrgKey    string `json:"org_key"`
	AccessKey string `json:"-"`
	Name      string `json:"name"`
}

// Alert is written exactly once per completed workflow instance. AlertID is
// the workflow instance ID.
type Alert struct {
	AlertID      string    `json:"alert_id"`
	Organization string    `json:"organization"`
	Body         string    `json:"body"`
	AudioURL     string    `json:"audio_url"`
	Timestamp    time.Time `json:"timestamp"`
	Source       string    `json:"source"`
	Nature       string    `json:"nature"`
	Address      string    `json:"address"`
	City         string    `json:"city"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
}

// AudioContentType is the content type of synthesized narration audio.
const AudioContentType = "audio/mpeg"

// AudioKey returns the object storage key for an alert's audio.
func AudioKey(alertID string) string {
	return fmt.Sprintf("%s.mp3", alertID)
}
