package eventbus

import "time"

// PwmUpdated is published whenever pwm.Registry.Set successfully applies a
// change.
type PwmUpdated struct {
	Pin       int
	Duty      int
	Frequency int
	WallTime  time.Time
}

// PulseSource identifies whether a PulseObserved event came from a real
// electrical edge or a test/demo injection.
type PulseSource string

const (
	SourceHardwareInterrupt PulseSource = "hardware_interrupt"
	SourceSimulation        PulseSource = "simulation"
)

// PulseObserved is published by the Encoder Pipeline after every accepted
// edge. RatePPS and FilteredRPM stay at their previous values (0 at first)
// until the sensor has enough samples to report a rate.
type PulseObserved struct {
	SensorID    int
	Pin         int
	PulseCount  uint64
	RatePPS     float64
	FilteredRPM float64
	WallMs      int64
	Source      PulseSource
}

// SensorState is published on sensor.enable / sensor.disable.
type SensorState struct {
	SensorID int
	Enabled  bool
}

// ControllerStatus is published after every controller tick and on
// start/stop transitions.
type ControllerStatus struct {
	Active       bool
	TargetRPM    float64
	CurrentRPM   float64
	CurrentPWM   int
	Error        float64
	IntegralTerm float64
	ControlPin   int
	SensorID     int
	WallMs       int64
}
