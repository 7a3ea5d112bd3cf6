package types

import "time"

// Decision is the single action emitted for one tick, together with the
// inputs that produced it.
type Decision struct {
	ID                 string        `json:"id"`
	Timestamp          time.Time     `json:"timestamp"`
	Action             BatteryAction `json:"action"`
	PowerKW            float64       `json:"powerKW"`
	Reason             string        `json:"reason"`
	Confidence         float64       `json:"confidence"` // 0-1
	ExpectedValueCents float64       `json:"expectedValueCents"`
	// Factors is a freeform audit map of the inputs at decision time. It is
	// the only place raw key/value data crosses a package boundary.
	Factors map[string]any `json:"factors,omitempty"`
}
