// Package metrics exposes the motor-control core's state as Prometheus
// collectors. A Sink subscribes to the Event Bus the same way
// internal/telemetry/mqtt does; unlike that package this one is in-process
// only and has no reconnect buffering, because scrapes are pull-based.
package metrics

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Tornadosky/server-pi/internal/eventbus"
)

// Sink owns every motorctld_* collector and keeps them current from the
// Event Bus. Errors and tick timings have no Event Bus type of their own,
// so RecordError and ObserveTickDuration are called directly by the
// command-path and the scheduling loop in cmd/motorctld.
type Sink struct {
	bus *eventbus.Bus
	sub *eventbus.Subscription

	pwmDuty *prometheus.GaugeVec

	encoderFilteredRPM *prometheus.GaugeVec
	encoderRatePPS     *prometheus.GaugeVec
	encoderPulseCount  *prometheus.GaugeVec

	controllerTargetRPM    prometheus.Gauge
	controllerCurrentRPM   prometheus.Gauge
	controllerCurrentPWM   prometheus.Gauge
	controllerError        prometheus.Gauge
	controllerIntegralTerm prometheus.Gauge
	controllerActive       prometheus.Gauge

	errorsTotal      *prometheus.CounterVec
	tickDuration     prometheus.Histogram
}

// New registers every collector against reg and subscribes to bus. Pass
// prometheus.NewRegistry() in tests to avoid the global default registry's
// cross-test collisions; cmd/motorctld also passes its own
// prometheus.NewRegistry(), which Serve then exposes.
func New(bus *eventbus.Bus, reg prometheus.Registerer) *Sink {
	s := &Sink{
		bus: bus,
		sub: bus.Subscribe(),

		pwmDuty: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "motorctld_pwm_duty",
			Help: "Current PWM duty cycle (0-255) by pin.",
		}, []string{"pin"}),

		encoderFilteredRPM: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "motorctld_encoder_filtered_rpm",
			Help: "EMA-filtered rotational speed in RPM by sensor_id.",
		}, []string{"sensor_id"}),
		encoderRatePPS: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "motorctld_encoder_rate_pps",
			Help: "Instantaneous pulse rate in pulses/second by sensor_id.",
		}, []string{"sensor_id"}),
		encoderPulseCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "motorctld_encoder_pulse_count",
			Help: "Accepted pulse count by sensor_id. A gauge, not a counter: sensor.reset zeros it.",
		}, []string{"sensor_id"}),

		controllerTargetRPM: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "motorctld_controller_target_rpm",
			Help: "Controller target RPM.",
		}),
		controllerCurrentRPM: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "motorctld_controller_current_rpm",
			Help: "Controller's most recent filtered RPM reading.",
		}),
		controllerCurrentPWM: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "motorctld_controller_current_pwm",
			Help: "Controller's most recently written PWM duty.",
		}),
		controllerError: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "motorctld_controller_error",
			Help: "target_rpm minus current_rpm at the last tick.",
		}),
		controllerIntegralTerm: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "motorctld_controller_integral_term",
			Help: "Controller's current accumulated integral term.",
		}),
		controllerActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "motorctld_controller_active",
			Help: "1 if the controller is Active, 0 if Idle.",
		}),

		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "motorctld_errors_total",
			Help: "Total command-path errors by taxonomy class.",
		}, []string{"class"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "motorctld_control_tick_duration_seconds",
			Help:    "Wall time spent in one Controller.Tick call.",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
	}

	reg.MustRegister(
		s.pwmDuty,
		s.encoderFilteredRPM,
		s.encoderRatePPS,
		s.encoderPulseCount,
		s.controllerTargetRPM,
		s.controllerCurrentRPM,
		s.controllerCurrentPWM,
		s.controllerError,
		s.controllerIntegralTerm,
		s.controllerActive,
		s.errorsTotal,
		s.tickDuration,
	)

	return s
}

// Run drains the Event Bus subscription until stop is closed, updating
// collectors as snapshots arrive.
func (s *Sink) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-s.sub.Events():
			for _, ev := range s.sub.Drain() {
				s.handle(ev)
			}
		}
	}
}

func (s *Sink) handle(ev any) {
	switch e := ev.(type) {
	case eventbus.PwmUpdated:
		s.pwmDuty.WithLabelValues(fmt.Sprint(e.Pin)).Set(float64(e.Duty))
	case eventbus.PulseObserved:
		id := fmt.Sprint(e.SensorID)
		s.encoderFilteredRPM.WithLabelValues(id).Set(e.FilteredRPM)
		s.encoderRatePPS.WithLabelValues(id).Set(e.RatePPS)
		s.encoderPulseCount.WithLabelValues(id).Set(float64(e.PulseCount))
	case eventbus.ControllerStatus:
		s.controllerTargetRPM.Set(e.TargetRPM)
		s.controllerCurrentRPM.Set(e.CurrentRPM)
		s.controllerCurrentPWM.Set(float64(e.CurrentPWM))
		s.controllerError.Set(e.Error)
		s.controllerIntegralTerm.Set(e.IntegralTerm)
		if e.Active {
			s.controllerActive.Set(1)
		} else {
			s.controllerActive.Set(0)
		}
	case eventbus.SensorState:
		if !e.Enabled {
			s.encoderFilteredRPM.WithLabelValues(fmt.Sprint(e.SensorID)).Set(0)
			s.encoderRatePPS.WithLabelValues(fmt.Sprint(e.SensorID)).Set(0)
		}
	}
}

// RecordError increments motorctld_errors_total for the given taxonomy
// class (as returned by merr.Class).
func (s *Sink) RecordError(class string) {
	s.errorsTotal.WithLabelValues(class).Inc()
}

// ObserveTickDuration records one Controller.Tick call's wall time.
func (s *Sink) ObserveTickDuration(d time.Duration) {
	s.tickDuration.Observe(d.Seconds())
}

// Close unsubscribes from the Event Bus.
func (s *Sink) Close() {
	s.sub.Close()
}

// Serve starts an HTTP server exposing reg's collectors on /metrics. Runs
// until the process exits; errors are logged, not returned, matching the
// fire-and-forget background-server shape the teacher uses for its own
// auxiliary listeners.
func Serve(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	go func() {
		log.Printf("metrics: listening on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("metrics: server error: %v", err)
		}
	}()
}
