package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fako1024/kegscale/pkg/adc"
	"github.com/fako1024/kegscale/pkg/api"
	"github.com/fako1024/kegscale/pkg/config"
	"github.com/fako1024/kegscale/pkg/display"
	"github.com/fako1024/kegscale/pkg/loadcell"
	"github.com/fako1024/kegscale/pkg/mock"
	"github.com/fako1024/kegscale/pkg/sampler"
	"github.com/fako1024/kegscale/pkg/scale"
	"github.com/fako1024/kegscale/pkg/trigger"
	"go.uber.org/zap"
)

// Raw reading of a full keg in mock mode (roughly 20 lb above the baseline)
const mockFullKeg = loadcell.Baseline + 1600

type flags struct {
	configFile string
	mock       bool
	debug      bool
}

func main() {

	// Parse command line options
	var f flags
	flag.StringVar(&f.configFile, "config", "kegscale.yaml", "path to the configuration file")
	flag.BoolVar(&f.mock, "mock", false, "use a simulated ADC instead of the I2C bus")
	flag.BoolVar(&f.debug, "debug", false, "enable debug logging")
	flag.Parse()

	cfg, err := config.Load(f.configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %s\n", err)
		os.Exit(1)
	}

	logger, err := scale.NewDefaultLogger(f.debug || cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to instantiate logger: %s\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(cfg, f.mock, logger); err != nil {
		logger.Fatal(err)
	}
}

func run(cfg *config.Config, useMock bool, logger *zap.SugaredLogger) error {

	settings, err := cfg.Settings()
	if err != nil {
		return err
	}
	mode, err := cfg.AccessMode()
	if err != nil {
		return err
	}

	var enumerator adc.Enumerator = adc.PeriphEnumerator{}
	if useMock {
		logger.Infof("using simulated ADC")
		enumerator = mock.NewEnumerator(func() *mock.Bus {
			return mock.New(mock.WithReadings(mock.Draining(mockFullKeg)))
		}, settings.Selector)
	}

	board := &api.Board{}
	options := []func(*sampler.Sampler){
		sampler.WithEnumerator(enumerator),
		sampler.WithSettings(settings),
		sampler.WithInterval(cfg.Sampling.Interval),
		sampler.WithAccessMode(mode),
		sampler.WithPresenter(display.Multi{display.NewLogPresenter(logger), board}),
		sampler.WithLogger(logger),
	}

	if cfg.Trigger.Enabled && !useMock {
		pin, err := trigger.ByName(cfg.Trigger.Pin)
		if err != nil {
			logger.Warnf("trigger disabled: %s", err)
		} else {
			options = append(options, sampler.WithTriggerPin(pin))
		}
	}

	s := sampler.New(options...)
	defer func() {
		if err := s.Close(); err != nil {
			logger.Warnf("failed to close sampling session: %s", err)
		}
	}()

	s.SetStateChangeHandler(func(status scale.Status) {
		if status.Error != nil {
			logger.Warnf("state change: %s (%s)", status.State, status.Error)
			return
		}
		logger.Infof("state change: %s", status.State)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// SIGHUP re-initializes the ADC
	hupChan := make(chan os.Signal, 1)
	signal.Notify(hupChan, syscall.SIGHUP)
	defer signal.Stop(hupChan)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hupChan:
				if err := s.Reset(ctx); err != nil && !errors.Is(err, sampler.ErrClosed) {
					logger.Errorf("reset failed: %s", err)
				}
			}
		}
	}()

	if cfg.API.Endpoint != "" {
		a := api.New(s, board)
		go func() {
			if err := a.Listen(cfg.API.Endpoint); err != nil {
				logger.Errorf("failed to serve API on `%s`: %s", cfg.API.Endpoint, err)
			}
		}()
		defer func() {
			if err := a.Shutdown(); err != nil {
				logger.Warnf("failed to shut down API: %s", err)
			}
		}()
		logger.Infof("serving API on `%s`", cfg.API.Endpoint)
	}

	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sampling session: %w", err)
	}

	<-ctx.Done()
	logger.Infof("Got signal, terminating sampling session")

	return nil
}
