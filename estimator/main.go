package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/itohio/gotorque/pkg/calib"
	"github.com/itohio/gotorque/pkg/config"
	"github.com/itohio/gotorque/pkg/cycle"
)

func main() {
	var (
		portFlag   = flag.String("p", "", "Phase current front-end port override (e.g. /dev/ttyACM0)")
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag   = flag.Bool("mock", false, "Use mocked phase current front-end instead of serial port")
		outFlag    = flag.String("out", "", "Torque sink override: serial, mqtt, stdout or none")
		angleFlag  = flag.String("angle", "", "Angle source override: ramp, fixed or encoder")
	)
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *outFlag != "" {
		cfg.Output.Sink = *outFlag
	}
	if *angleFlag != "" {
		cfg.Angle.Source = *angleFlag
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *mockFlag); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Torque estimator stopped: %v", err)
	}
}

// run wires the pipeline, calibrates and drives it until ctx is done.
func run(ctx context.Context, cfg *config.Config, useMock bool) error {
	k := cfg.Constants()

	theta, err := newAngleSource(cfg.Angle)
	if err != nil {
		return err
	}

	front, err := newFrontEnd(cfg, k, theta, useMock)
	if err != nil {
		return err
	}
	defer front.Close()

	out, err := newSink(cfg.Output)
	if err != nil {
		return err
	}
	defer out.Close()

	driver := cycle.New(k, front.sensor, theta, out.sink, cycle.WithOverrunLimit(cfg.Control.OverrunLimit))

	// The drive stage stays off until the offsets are known
	front.Drive(false)
	if err := driver.Calibrate(ctx, calib.FromConfig(cfg.Calibration)); err != nil {
		return err
	}
	front.Drive(true)

	go driver.Report(ctx, cfg.Control.ReportInterval)

	err = driver.Run(ctx)
	log.Printf("Final: %v", driver.Stats())
	return err
}
