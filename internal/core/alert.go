package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidSeverity is returned when an alert carries a severity outside {high, medium}.
var ErrInvalidSeverity = errors.New("invalid severity")

// Severity is the severity level attached to an alert by a detector.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

func (s Severity) String() string {
	return string(s)
}

// AlertKind names the detector heuristic that produced an alert.
type AlertKind string

const (
	KindLargeFlow           AlertKind = "large_flow"
	KindRepeatedConnections AlertKind = "repeated_connections"
	KindMLAnomaly           AlertKind = "ml_anomaly"
	KindFrequentSource      AlertKind = "frequent_source"
)

// Alert is a detection event flagging a source as suspicious. Alerts are
// treated as immutable once produced.
type Alert struct {
	ID         string                 `json:"id"`
	Time       time.Time              `json:"time"`
	Kind       AlertKind              `json:"kind"`
	SourceID   string                 `json:"source_id,omitempty"`
	Severity   Severity               `json:"severity"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// NewAlert creates an Alert with a generated ID.
func NewAlert(kind AlertKind, sourceID string, severity Severity, at time.Time) Alert {
	return Alert{
		ID:         uuid.New().String(),
		Time:       at.UTC(),
		Kind:       kind,
		SourceID:   sourceID,
		Severity:   severity,
		Attributes: make(map[string]interface{}),
	}
}

// WithAttr returns a copy of the alert with one more attribute set.
func (a Alert) WithAttr(key string, value interface{}) Alert {
	attrs := make(map[string]interface{}, len(a.Attributes)+1)
	for k, v := range a.Attributes {
		attrs[k] = v
	}
	attrs[key] = value
	a.Attributes = attrs
	return a
}

// Marshal serializes the alert to JSON.
func (a Alert) Marshal() ([]byte, error) {
	return json.Marshal(a)
}

// UnmarshalAlerts decodes either a single alert object or an array of alerts.
// Alerts without an ID get one assigned.
func UnmarshalAlerts(data []byte) ([]Alert, error) {
	trimmed := strings.TrimSpace(string(data))
	var alerts []Alert
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &alerts); err != nil {
			return nil, fmt.Errorf("decoding alert batch: %w", err)
		}
	} else {
		var a Alert
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, fmt.Errorf("decoding alert: %w", err)
		}
		alerts = []Alert{a}
	}
	for i := range alerts {
		if alerts[i].ID == "" {
			alerts[i].ID = uuid.New().String()
		}
	}
	return alerts, nil
}

func marshalAlertBatch(alerts []Alert) ([]byte, error) {
	if alerts == nil {
		alerts = []Alert{}
	}
	data, err := json.Marshal(alerts)
	if err != nil {
		return nil, fmt.Errorf("marshaling alert batch: %w", err)
	}
	return data, nil
}
