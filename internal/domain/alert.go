package domain

// Alert event types
const (
	EventVolumeSpike = "VOLUME_SPIKE"
	EventWhaleBuy    = "WHALE_BUY"
	EventHolderSurge = "HOLDER_SURGE"

	// EventAlertFailed is emitted through the same dispatch channel when an
	// alert evaluation errors, so subscribers can observe broken definitions.
	EventAlertFailed = "alert.failed"
)

// AlertConditions holds the per-event-type condition parameters.
// Only the fields relevant to the alert's event type are set; the struct is
// persisted as JSON. All numeric inputs are clamped server-side before
// evaluation to bound query cost.
type AlertConditions struct {
	AssetIssuer string `json:"asset_issuer"`
	AssetName   string `json:"asset_name"`

	// VOLUME_SPIKE
	PeriodMinutes    int     `json:"period_minutes,omitempty"`
	ThresholdPercent float64 `json:"threshold_percent,omitempty"`
	MinVolume        int64   `json:"min_volume,omitempty"`

	// WHALE_BUY / HOLDER_SURGE
	LookbackMinutes int   `json:"lookback_minutes,omitempty"`
	MinValue        int64 `json:"min_value,omitempty"`
	WhalesOnly      bool  `json:"whales_only,omitempty"`
	Limit           int   `json:"limit,omitempty"`
	MinNewHolders   int   `json:"min_new_holders,omitempty"`
	SampleSize      int   `json:"sample_size,omitempty"`
}

// AlertAction describes what to do when an alert triggers.
type AlertAction struct {
	Type  string `json:"type"`  // currently "webhook"
	Event string `json:"event"` // event name delivered to subscribers
}

// Alert is a user-authored alert definition.
type Alert struct {
	ID            string
	Name          string
	EventType     string
	Conditions    AlertConditions
	Actions       []AlertAction
	Active        bool
	LastTriggered int64 // Unix ms, 0 if never
	TriggerCount  int64
	CreatedAt     int64 // Unix ms
}

// Clone returns a copy of the alert with its own actions slice.
func (a *Alert) Clone() *Alert {
	c := *a
	c.Actions = append([]AlertAction(nil), a.Actions...)
	return &c
}
