package model

import "time"

// NoiseScore tracks how a fingerprint's alerts are handled over time, to
// surface rules that page people for nothing.
type NoiseScore struct {
	Fingerprint      string `json:"fingerprint"`
	TotalFires       int64  `json:"total_fires"`
	DismissedCount   int64  `json:"dismissed_count"`
	ActedOnCount     int64  `json:"acted_on_count"`
	AvgTimeToAckSecs int64  `json:"avg_time_to_ack_secs"`
}

// NewNoiseScore creates an empty score for a fingerprint.
func NewNoiseScore(fingerprint string) *NoiseScore {
	return &NoiseScore{Fingerprint: fingerprint}
}

func (n *NoiseScore) RecordFire() {
	n.TotalFires++
}

func (n *NoiseScore) RecordDismiss() {
	n.DismissedCount++
}

func (n *NoiseScore) RecordAction() {
	n.ActedOnCount++
}

// UpdateAvgAckTime folds one more ack duration into the running average.
func (n *NoiseScore) UpdateAvgAckTime(ackDuration time.Duration) {
	count := n.DismissedCount + n.ActedOnCount
	secs := int64(ackDuration.Seconds())
	if count <= 1 {
		n.AvgTimeToAckSecs = secs
		return
	}
	n.AvgTimeToAckSecs = (n.AvgTimeToAckSecs*(count-1) + secs) / count
}

// Score returns 0.0 (useful) to 1.0 (pure noise).
func (n *NoiseScore) Score() float64 {
	if n.TotalFires == 0 {
		return 0.0
	}
	return float64(n.DismissedCount) / float64(n.TotalFires)
}

func (n *NoiseScore) IsNoise() bool {
	return n.Score() > 0.8
}

func (n *NoiseScore) SuggestSuppression() bool {
	return n.Score() > 0.95
}

// ClassifyDismissed reports whether an ack/resolve pair looks like the
// alert was waved away rather than acted on: a reflexive ack within 5
// seconds, or a resolve within 60 seconds of the ack.
func ClassifyDismissed(timeToAck time.Duration, ackToResolve *time.Duration) bool {
	if timeToAck < 5*time.Second {
		return true
	}
	if ackToResolve != nil && *ackToResolve < time.Minute {
		return true
	}
	return false
}
