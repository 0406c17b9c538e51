package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/itohio/gotorque/pkg/angle"
	"github.com/itohio/gotorque/pkg/config"
	"github.com/itohio/gotorque/pkg/phase"
	"github.com/itohio/gotorque/pkg/sink"
)

const mqttConnectTimeout = 5 * time.Second

// frontEnd is the phase current sensor together with its shutdown and
// drive-stage hooks.
type frontEnd struct {
	sensor phase.Sensor
	mock   *phase.Mock
	closer io.Closer
}

// Drive enables the simulated drive stage. A real bridge is driven outside
// this process, so only the mock reacts.
func (f *frontEnd) Drive(on bool) {
	if f.mock != nil {
		f.mock.Drive(on)
	}
}

func (f *frontEnd) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}

func newFrontEnd(cfg *config.Config, k config.Constants, theta angle.Source, useMock bool) (*frontEnd, error) {
	if useMock {
		// The mock must see the angle the cycle is about to read without
		// advancing a ramp a second time.
		src := theta
		if r, ok := theta.(*angle.Ramp); ok {
			src = angle.Func(r.Current)
		}
		m := phase.NewMock(k, &cfg.Mock, src)
		log.Println("Using mocked phase current front-end")
		return &frontEnd{sensor: m, mock: m}, nil
	}

	dev := phase.New(cfg.Serial.Port, cfg.Serial.BaudRate, k.MaxCount())
	if err := dev.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Serial.Port, err)
	}
	log.Printf("Connected to phase current front-end: %s", cfg.Serial.Port)
	return &frontEnd{sensor: dev, closer: dev}, nil
}

func newAngleSource(cfg config.AngleConfig) (angle.Source, error) {
	switch cfg.Source {
	case "ramp":
		return angle.NewRamp(float32(cfg.Step)), nil
	case "fixed":
		return angle.NewFixed(float32(cfg.Value)), nil
	case "encoder":
		// Position is fed through Set/Add by the encoder decoder; until then
		// the cycle skips with an invalid angle.
		log.Println("Warning: encoder angle source has no position feed; cycles are skipped until a position is set")
		return angle.NewEncoder(cfg.CountsPerRev, cfg.PolePairs, float32(cfg.ZeroOffsetRad)), nil
	default:
		return nil, fmt.Errorf("unknown angle source %q", cfg.Source)
	}
}

// output is the torque sink and the resource behind it.
type output struct {
	sink   sink.Sink
	closer func() error
}

func (o *output) Close() error {
	if o.closer == nil {
		return nil
	}
	return o.closer()
}

func newSink(cfg config.OutputConfig) (*output, error) {
	switch cfg.Sink {
	case "serial":
		s, err := sink.OpenSerial(cfg.Port, cfg.BaudRate)
		if err != nil {
			return nil, err
		}
		log.Printf("Sending torque to serial port: %s", cfg.Port)
		return &output{sink: s, closer: s.Close}, nil
	case "mqtt":
		client, err := sink.DialMQTT(cfg.Broker, cfg.ClientID, mqttConnectTimeout)
		if err != nil {
			return nil, err
		}
		log.Printf("Publishing torque to %s on %s", cfg.Broker, cfg.Topic)
		return &output{
			sink: sink.NewMQTT(client, cfg.Topic),
			closer: func() error {
				client.Disconnect(250)
				return nil
			},
		}, nil
	case "stdout":
		return &output{sink: sink.NewWriter(os.Stdout)}, nil
	case "none":
		return &output{sink: sink.Discard{}}, nil
	default:
		return nil, fmt.Errorf("unknown torque sink %q", cfg.Sink)
	}
}
