package config

import (
	"fmt"
	"time"

	"github.com/technomunk/gnet/pkg/connection"
)

// ProtocolConfig holds the reliability tunables applied to every connection.
type ProtocolConfig struct {
	// RTTSmoothing is the exponential moving average factor for round-trip
	// estimation, in (0, 1].
	RTTSmoothing float64 `mapstructure:"rtt_smoothing"`
	// InitialTimeoutMS is the retransmit timeout before any RTT sample.
	InitialTimeoutMS int `mapstructure:"initial_timeout_ms"`
	// MinRetransmitTimeoutMS floors the derived retransmit timeout.
	MinRetransmitTimeoutMS int `mapstructure:"min_retransmit_timeout_ms"`
	// RetryIntervalMS is how often a pending connection re-sends its request.
	RetryIntervalMS int `mapstructure:"retry_interval_ms"`
	// ConnectTimeoutMS bounds how long a connect attempt waits for an answer.
	ConnectTimeoutMS int `mapstructure:"connect_timeout_ms"`
	// TickIntervalMS is the cadence of the retransmission clock.
	TickIntervalMS int `mapstructure:"tick_interval_ms"`
}

// DefaultProtocol mirrors connection.DefaultParams in configuration form.
func DefaultProtocol() ProtocolConfig {
	d := connection.DefaultParams()
	return ProtocolConfig{
		RTTSmoothing:           d.RTTSmoothing,
		InitialTimeoutMS:       int(d.InitialTimeout / time.Millisecond),
		MinRetransmitTimeoutMS: int(d.MinRetransmitTimeout / time.Millisecond),
		RetryIntervalMS:        int(d.RetryInterval / time.Millisecond),
		ConnectTimeoutMS:       int(d.ConnectTimeout / time.Millisecond),
		TickIntervalMS:         10,
	}
}

// Params converts the configuration into connection parameters.
func (p ProtocolConfig) Params() connection.Params {
	return connection.Params{
		RTTSmoothing:         p.RTTSmoothing,
		InitialTimeout:       time.Duration(p.InitialTimeoutMS) * time.Millisecond,
		MinRetransmitTimeout: time.Duration(p.MinRetransmitTimeoutMS) * time.Millisecond,
		RetryInterval:        time.Duration(p.RetryIntervalMS) * time.Millisecond,
		ConnectTimeout:       time.Duration(p.ConnectTimeoutMS) * time.Millisecond,
	}
}

// TickInterval returns the endpoint tick cadence.
func (p ProtocolConfig) TickInterval() time.Duration {
	return time.Duration(p.TickIntervalMS) * time.Millisecond
}

func (p *ProtocolConfig) validate() error {
	if p.RTTSmoothing <= 0 || p.RTTSmoothing > 1 {
		return fmt.Errorf("invalid protocol.rtt_smoothing: %v", p.RTTSmoothing)
	}
	if p.InitialTimeoutMS <= 0 || p.MinRetransmitTimeoutMS <= 0 ||
		p.RetryIntervalMS <= 0 || p.ConnectTimeoutMS <= 0 || p.TickIntervalMS <= 0 {
		return fmt.Errorf("protocol timeouts must be positive")
	}
	return nil
}
