package reconciler

import "time"

// ReconnectPolicy controls how a dropped push channel is reopened.
// Attempts == 0 means retry forever: a single per-user subscription is
// cheap and availability wins over resource bounding.
type ReconnectPolicy struct {
	Delay    time.Duration
	Attempts int
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Delay:    5 * time.Second,
		Attempts: 0,
	}
}

// PollPolicy bounds the payment-confirmation fallback loop.
type PollPolicy struct {
	Interval time.Duration
	Attempts int
}

func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		Interval: 2 * time.Second,
		Attempts: 5,
	}
}

func (p ReconnectPolicy) withDefaults() ReconnectPolicy {
	def := DefaultReconnectPolicy()
	if p.Delay <= 0 {
		p.Delay = def.Delay
	}
	if p.Attempts < 0 {
		p.Attempts = def.Attempts
	}
	return p
}

func (p PollPolicy) withDefaults() PollPolicy {
	def := DefaultPollPolicy()
	if p.Interval <= 0 {
		p.Interval = def.Interval
	}
	if p.Attempts <= 0 {
		p.Attempts = def.Attempts
	}
	return p
}
