// Command motorctld drives the PWM output, encoder pipeline and RPM
// controller for a single motor channel, forwarding telemetry to MQTT and
// Prometheus.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Tornadosky/server-pi/internal/config"
	"github.com/Tornadosky/server-pi/internal/control"
	"github.com/Tornadosky/server-pi/internal/encoder"
	"github.com/Tornadosky/server-pi/internal/eventbus"
	"github.com/Tornadosky/server-pi/internal/gpio"
	"github.com/Tornadosky/server-pi/internal/merr"
	"github.com/Tornadosky/server-pi/internal/metrics"
	"github.com/Tornadosky/server-pi/internal/pinowner"
	"github.com/Tornadosky/server-pi/internal/pwm"
	"github.com/Tornadosky/server-pi/internal/status"
	"github.com/Tornadosky/server-pi/internal/telemetry/mqtt"
)

func main() {
	configPath := flag.String("config", "", "YAML config file path (defaults applied for any unset field)")
	broker := flag.String("broker", "", "MQTT broker address, overrides config's telemetry.mqtt_broker")
	metricsPort := flag.Int("metrics-port", 0, "Prometheus /metrics port, overrides config's telemetry.metrics_port (0 disables)")
	demo := flag.Bool("demo", false, "Enable one encoder sensor and start the controller at startup, exercising the full pipeline")
	demoControlPin := flag.Int("demo-control-pin", 18, "BCM pin driving the motor, used with --demo")
	demoEncoderPin := flag.Int("demo-encoder-pin", 23, "BCM pin reading the encoder, used with --demo")
	demoSensorID := flag.Int("demo-sensor-id", 1, "Encoder sensor ID, used with --demo")
	demoTargetRPM := flag.Float64("demo-target-rpm", 60, "Target RPM, used with --demo")
	printStatus := flag.Bool("print-status", false, "Print the current status snapshot as JSON and exit")

	flag.Parse()

	if err := run(*configPath, *broker, *metricsPort, *demo, *demoControlPin, *demoEncoderPin, *demoSensorID, *demoTargetRPM, *printStatus); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(configPath, brokerOverride string, metricsPortOverride int, demo bool, demoControlPin, demoEncoderPin, demoSensorID int, demoTargetRPM float64, printStatus bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if brokerOverride != "" {
		cfg.Telemetry.MQTTBroker = brokerOverride
	}
	if metricsPortOverride != 0 {
		cfg.Telemetry.MetricsPort = metricsPortOverride
	}

	var backend gpio.Backend
	realBackend, err := gpio.NewRealBackend()
	if err != nil {
		log.Printf("native gpio unavailable (%v), falling back to simulation", err)
		backend = gpio.NewFakeBackend()
	} else {
		backend = realBackend
	}
	defer backend.Close()

	bus := eventbus.New()
	ledger := pinowner.New()

	reg := pwm.New(backend, bus, ledger)
	enc := encoder.New(backend, bus, ledger, calibrationFromConfig(cfg))
	ctrl := control.New(enc, reg, bus, tuningFromConfig(cfg))

	tracker := status.NewTracker(reg, enc, ctrl, time.Now(), status.Config{
		MQTTBroker:  cfg.Telemetry.MQTTBroker,
		MetricsPort: cfg.Telemetry.MetricsPort,
	})

	if printStatus {
		fmt.Println(string(status.FormatJSON(tracker.Snapshot())))
		return nil
	}

	stop := make(chan struct{})
	defer close(stop)

	var sink *metrics.Sink
	if cfg.Telemetry.MetricsPort > 0 {
		promReg := prometheus.NewRegistry()
		sink = metrics.New(bus, promReg)
		go sink.Run(stop)
		go metrics.Serve(fmt.Sprintf(":%d", cfg.Telemetry.MetricsPort), promReg)
	}

	if demo {
		if err := enc.Enable(demoSensorID, gpio.Pin(demoEncoderPin)); err != nil {
			recordError(sink, err)
			return fmt.Errorf("demo: enable encoder: %w", err)
		}
		if err := ctrl.Start(demoTargetRPM, gpio.Pin(demoControlPin), demoSensorID); err != nil {
			recordError(sink, err)
			return fmt.Errorf("demo: start controller: %w", err)
		}
	}

	var mqttSvc *mqtt.Service
	if cfg.Telemetry.MQTTBroker != "" {
		pub, err := mqtt.NewRealPublisher(cfg.Telemetry.MQTTBroker)
		if err != nil {
			recordError(sink, err)
			return fmt.Errorf("connect mqtt broker %s: %w", cfg.Telemetry.MQTTBroker, err)
		}
		defer pub.Close()

		mqttSvc = mqtt.New(bus, pub, pub)
		go mqttSvc.Run(stop)
		go pollMQTTConnection(pub, tracker, stop)

		mqttSvc.PublishSystem(mqtt.SystemEvent{
			Event:      "STARTUP",
			RawPayload: status.FormatStatusEvent(tracker.Snapshot(), "STARTUP", ""),
		})
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Duration(cfg.Control.UpdateRateMs) * time.Millisecond)
	defer ticker.Stop()

	return runLoop(ticker, sig, ctrl, reg, tracker, mqttSvc, sink)
}

func runLoop(ticker *time.Ticker, sig chan os.Signal, ctrl *control.Controller, reg *pwm.Registry, tracker *status.Tracker, mqttSvc *mqtt.Service, sink *metrics.Sink) error {
	for {
		select {
		case s := <-sig:
			stopAll(ctrl, reg, sink)
			if mqttSvc != nil {
				mqttSvc.PublishSystem(mqtt.SystemEvent{
					Event:      "SHUTDOWN",
					RawPayload: status.FormatStatusEvent(tracker.Snapshot(), "SHUTDOWN", s.String()),
				})
			}
			return nil
		case <-ticker.C:
			start := time.Now()
			ctrl.Tick()
			if sink != nil {
				sink.ObserveTickDuration(time.Since(start))
			}
		}
	}
}

// stopAll brings the daemon to a safe idle state: the controller first (so
// it stops writing duty through the registry), then every PWM output.
func stopAll(ctrl *control.Controller, reg *pwm.Registry, sink *metrics.Sink) {
	if err := ctrl.Stop(); err != nil {
		log.Printf("stop controller: %v", err)
		recordError(sink, err)
	}
	for _, pin := range reg.StopAll() {
		log.Printf("stopped pwm output on pin %d", pin)
	}
}

// recordError labels err by its merr taxonomy class and increments the
// corresponding metrics counter. A nil sink (metrics disabled) is a no-op.
func recordError(sink *metrics.Sink, err error) {
	if sink == nil {
		return
	}
	sink.RecordError(merr.Class(err))
}

func pollMQTTConnection(pub *mqtt.RealPublisher, tracker *status.Tracker, stop <-chan struct{}) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			tracker.SetMQTTConnected(pub.IsConnected())
		}
	}
}

func calibrationFromConfig(cfg *config.Config) encoder.Calibration {
	return encoder.Calibration{
		PulsesPerRotation: cfg.Encoder.PulsesPerRotation,
		DebounceUs:        cfg.Encoder.DebounceUs,
		WindowSecs:        cfg.Encoder.WindowSecs,
		MinWindowSecs:     cfg.Encoder.MinWindowSecs,
		FilterAlpha:       cfg.Encoder.FilterAlpha,
	}
}

func tuningFromConfig(cfg *config.Config) control.Tuning {
	return control.Tuning{
		BaseKick:              cfg.Control.BaseKick,
		LowSpeed:              control.Gains{Kp: cfg.Control.LowSpeed.Kp, Ki: cfg.Control.LowSpeed.Ki, Kd: cfg.Control.LowSpeed.Kd},
		HighSpeed:             control.Gains{Kp: cfg.Control.HighSpeed.Kp, Ki: cfg.Control.HighSpeed.Ki, Kd: cfg.Control.HighSpeed.Kd},
		LowSpeedThresholdRPM:  cfg.Control.LowSpeedThresholdRPM,
		ErrorDeadbandRPM:      cfg.Control.ErrorDeadbandRPM,
		UpdateRateMs:          cfg.Control.UpdateRateMs,
		IntegralClamp:         cfg.Control.IntegralClamp,
		SaturationBleedAfterS: cfg.Control.SaturationBleedAfterS,
		SaturationBleedFactor: cfg.Control.SaturationBleedFactor,
	}
}
