package domain

import "time"

// DefaultPollInterval is used when the provider does not advertise an interval.
const DefaultPollInterval = 5 * time.Second

// DeviceFlowSession holds the device authorization response for one connect attempt.
// It contains the code to show the user and the parameters needed for polling.
type DeviceFlowSession struct {
	DeviceCode      string
	UserCode        string
	VerificationURI string
	ExpiresIn       int // seconds until the device code expires
	Interval        int // minimum polling interval in seconds
}

// IntervalDuration returns the advertised polling interval, or DefaultPollInterval if unset.
func (s DeviceFlowSession) IntervalDuration() time.Duration {
	if s.Interval <= 0 {
		return DefaultPollInterval
	}
	return time.Duration(s.Interval) * time.Second
}

// Lifetime returns how long the device code stays valid. Zero means unknown.
func (s DeviceFlowSession) Lifetime() time.Duration {
	if s.ExpiresIn <= 0 {
		return 0
	}
	return time.Duration(s.ExpiresIn) * time.Second
}
