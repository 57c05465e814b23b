package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/fako1024/kegscale/pkg/adc"
	"github.com/fako1024/kegscale/pkg/config"
	"github.com/fako1024/kegscale/pkg/display"
	"github.com/fako1024/kegscale/pkg/mock"
	"github.com/fako1024/kegscale/pkg/sampler"
	"github.com/fako1024/kegscale/pkg/scale"
)

type flags struct {
	configFile string
	mock       bool
	count      int
	interval   time.Duration
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() (err error) {

	// Parse command line options
	var f flags
	flag.StringVar(&f.configFile, "config", "kegscale.yaml", "Path to the configuration file")
	flag.BoolVar(&f.mock, "mock", false, "Use a simulated ADC instead of the I2C bus")
	flag.IntVar(&f.count, "n", 1, "Number of samples to read")
	flag.DurationVar(&f.interval, "i", 500*time.Millisecond, "Interval between samples")
	flag.Parse()

	cfg, err := config.Load(f.configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	settings, err := cfg.Settings()
	if err != nil {
		return err
	}

	logger, err := scale.NewDefaultLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to instantiate logger: %w", err)
	}

	var enumerator adc.Enumerator = adc.PeriphEnumerator{}
	if f.mock {
		enumerator = mock.NewEnumerator(func() *mock.Bus { return mock.New() }, settings.Selector)
	}

	s := sampler.New(
		sampler.WithEnumerator(enumerator),
		sampler.WithSettings(settings),
		sampler.WithPresenter(display.Multi{}),
		sampler.WithLogger(logger),
	)
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	ctx := context.Background()
	if err := s.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize ADC: %w", err)
	}

	for i := 0; i < f.count; i++ {
		if i > 0 {
			time.Sleep(f.interval)
		}

		dp, err := s.Sample(ctx)
		if err != nil {
			return fmt.Errorf("failed to read ADC: %w", err)
		}
		fmt.Printf("%s\t%d\t%.4f %s\n", dp.TimeStamp.Format(time.RFC3339Nano), dp.Raw, dp.Weight, dp.Unit)
	}

	return nil
}
