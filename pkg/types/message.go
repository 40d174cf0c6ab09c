package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EventReport describes a detector that tracks individual event durations.
type EventReport struct {
	Report    bool     `json:"report"`
	Count     int      `json:"count"`
	Durations []string `json:"durations"`
}

// CountReport describes a detector that only counts events.
type CountReport struct {
	Report bool `json:"report"`
	Count  int  `json:"count"`
}

// DrowsinessReport is the structured analysis returned for every frame.
type DrowsinessReport struct {
	Timestamp        string      `json:"timestamp"`
	EyeRubFirstHand  EventReport `json:"eye_rub_first_hand"`
	EyeRubSecondHand EventReport `json:"eye_rub_second_hand"`
	Flicker          CountReport `json:"flicker"`
	MicroSleep       EventReport `json:"micro_sleep"`
	Pitch            EventReport `json:"pitch"`
	Yawn             EventReport `json:"yawn"`
}

// Alerting reports whether any detector flagged an event.
func (r *DrowsinessReport) Alerting() bool {
	if r == nil {
		return false
	}
	return r.EyeRubFirstHand.Report || r.EyeRubSecondHand.Report || r.Flicker.Report ||
		r.MicroSleep.Report || r.Pitch.Report || r.Yawn.Report
}

// InboundMessage is a decoded response from the analysis service.
//
// The service sends an empty json_report object together with a non-empty
// error when it fails to process a frame, so JSONReport may be a zero value.
type InboundMessage struct {
	JSONReport    *DrowsinessReport `json:"json_report"`
	SketchImage   string            `json:"sketch_image"`
	OriginalImage string            `json:"original_image"`
	Error         string            `json:"error,omitempty"`
}

// HasError reports whether the service flagged this message as failed.
func (m *InboundMessage) HasError() bool {
	return m != nil && m.Error != ""
}

// DecodeInboundMessage parses a text frame received from the analysis service.
// Anything other than a JSON object is rejected.
func DecodeInboundMessage(data []byte) (InboundMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return InboundMessage{}, fmt.Errorf("decode inbound message: not a JSON object")
	}

	var msg InboundMessage
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return InboundMessage{}, fmt.Errorf("decode inbound message: %w", err)
	}
	return msg, nil
}
