// Package sampler runs the sampling session of the load sensor: it initializes the
// ADC, acquires samples periodically and on trigger edges, and publishes the
// converted weights
package sampler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fako1024/kegscale/pkg/adc"
	"github.com/fako1024/kegscale/pkg/display"
	"github.com/fako1024/kegscale/pkg/loadcell"
	"github.com/fako1024/kegscale/pkg/scale"
	"github.com/fako1024/kegscale/pkg/trigger"
	"github.com/fatih/stopwatch"
	"periph.io/x/conn/v3/gpio"
)

const (
	defaultInterval = 500 * time.Millisecond
)

var (

	// ErrDeviceUnavailable denotes a sample request while no device handle is present
	ErrDeviceUnavailable = errors.New("device unavailable")

	// ErrClosed denotes an operation on a closed session
	ErrClosed = errors.New("sampling session closed")
)

var _ scale.Scale = (*Sampler)(nil)

// Sampler denotes a sampling session of the load sensor
type Sampler struct {
	status     scale.Status
	statusMu   sync.Mutex
	generation atomic.Uint64

	enumerator adc.Enumerator
	settings   adc.Settings
	interval   time.Duration
	accessMode AccessMode
	triggerPin gpio.PinIn

	slot    deviceSlot
	initMu  sync.Mutex
	trigger *trigger.Trigger

	presenter display.Presenter
	mailbox   *display.Mailbox

	uptime   atomic.Pointer[stopwatch.Stopwatch]
	lastData atomic.Pointer[scale.DataPoint]

	handlerMu          sync.RWMutex
	stateChangeHandler func(status scale.Status)
	stateChangeChan    chan scale.Status
	dataHandler        func(data scale.DataPoint)
	dataChan           chan scale.DataPoint

	lifecycleMu sync.Mutex
	started     bool
	closed      bool
	doneChan    chan struct{}
	wg          sync.WaitGroup

	logger scale.Logger
}

// New instantiates a new Sampler, executing functional options, if any. The
// session does not touch the hardware until Start() or Initialize() is called.
func New(options ...func(*Sampler)) *Sampler {

	// Initialize a new sampling session with the defaults of the load sensor
	s := &Sampler{
		enumerator: adc.PeriphEnumerator{},
		settings:   adc.DefaultSettings(),
		interval:   defaultInterval,
		accessMode: AccessGuarded,
		doneChan:   make(chan struct{}),
		logger:     &scale.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(s)
	}

	if s.presenter == nil {
		s.presenter = display.NewLogPresenter(s.logger)
	}
	s.mailbox = display.NewMailbox(s.presenter)
	s.slot = newDeviceSlot(s.accessMode)

	return s
}

// Start arms the trigger (if any) and initializes the device in the background.
// Once initialization has completed (or failed), the periodic acquisition starts
// with an immediate first tick. Cancelling ctx stops the periodic acquisition.
func (s *Sampler) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.started {
		return fmt.Errorf("sampling session already started")
	}
	s.started = true
	s.uptime.Store(stopwatch.Start(0))

	if s.triggerPin != nil {
		s.trigger = trigger.New(s.triggerPin, s.onTrigger, trigger.WithLogger(s.logger))
		if err := s.trigger.Arm(); err != nil {
			s.logger.Errorf("failed to arm trigger, continuing with periodic acquisition only: %s", err)
			s.mailbox.PostStatus(err.Error())
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		// Initialization failures are reported by initialize(), the timer runs regardless
		_ = s.initialize(ctx)
		s.runTimer(ctx)
	}()

	return nil
}

// Initialize synchronously (re-)initializes the device, releasing the current
// handle first (if any)
func (s *Sampler) Initialize(ctx context.Context) error {
	if err := s.enter(); err != nil {
		return err
	}
	defer s.wg.Done()

	return s.initialize(ctx)
}

// Reset closes the current device handle and initializes a new one. The periodic
// acquisition is neither stopped nor re-registered and keeps firing in parallel
// (cycles occurring while no handle is present report the device as unavailable).
func (s *Sampler) Reset(ctx context.Context) error {
	s.logger.Infof("resetting ADC on user request")
	return s.Initialize(ctx)
}

// Sample performs a single synchronous acquisition and publishes its result
func (s *Sampler) Sample(ctx context.Context) (scale.DataPoint, error) {
	if err := ctx.Err(); err != nil {
		return scale.DataPoint{}, err
	}

	return s.cycle(scale.SourceManual)
}

// Status returns the current status of the sampling session
func (s *Sampler) Status() scale.Status {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	return s.status
}

// Unit returns the weight unit of all data points
func (s *Sampler) Unit() scale.Unit {
	return loadcell.Unit
}

// AccessMode returns the device access mode of the session
func (s *Sampler) AccessMode() AccessMode {
	return s.accessMode
}

// LastDataPoint returns the most recent successful data point, if any
func (s *Sampler) LastDataPoint() (scale.DataPoint, bool) {
	if dp := s.lastData.Load(); dp != nil {
		return *dp, true
	}
	return scale.DataPoint{}, false
}

// ElapsedTime returns the time since the session was started
func (s *Sampler) ElapsedTime() time.Duration {
	if sw := s.uptime.Load(); sw != nil {
		return sw.ElapsedTime()
	}

	return 0
}

// SetStateChangeHandler defines a handler function that is called upon state change
func (s *Sampler) SetStateChangeHandler(fn func(status scale.Status)) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.stateChangeHandler = fn
}

// SetStateChangeChannel defines a channel that receives state changes (non-blocking)
func (s *Sampler) SetStateChangeChannel(ch chan scale.Status) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.stateChangeChan = ch
}

// SetDataHandler defines a handler function that is called upon retrieval of data
func (s *Sampler) SetDataHandler(fn func(data scale.DataPoint)) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.dataHandler = fn
}

// SetDataChannel defines a channel that receives data points (non-blocking)
func (s *Sampler) SetDataChannel(ch chan scale.DataPoint) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.dataChan = ch
}

// Close stops the periodic acquisition and the trigger, releases the device and
// terminates the session
func (s *Sampler) Close() (err error) {
	s.lifecycleMu.Lock()
	if s.closed {
		s.lifecycleMu.Unlock()
		return nil
	}
	s.closed = true
	s.lifecycleMu.Unlock()

	s.setStatus(scale.StateShuttingDown, nil)
	close(s.doneChan)

	if s.trigger != nil {
		if terr := s.trigger.Close(); terr != nil {
			s.logger.Warnf("failed to halt trigger: %s", terr)
		}
	}
	s.wg.Wait()

	if dev := s.slot.swap(nil); dev != nil {
		err = dev.Close()
	}
	s.mailbox.Close()
	if sw := s.uptime.Load(); sw != nil {
		sw.Stop()
	}

	s.setStatus(scale.StateClosed, nil)

	return
}

////////////////////////////////////////////////////////////////////////////////

func (s *Sampler) enter() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.wg.Add(1)

	return nil
}

func (s *Sampler) initialize(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	s.setStatus(scale.StateInitializing, nil)
	s.releaseDevice()

	if err := ctx.Err(); err != nil {
		s.setStatus(scale.StateFailed, err)
		return err
	}

	dev, err := adc.Initialize(s.enumerator, s.settings, adc.WithLogger(s.logger))
	if err != nil {
		s.logger.Errorf("failed to initialize ADC: %s", err)
		s.setStatus(scale.StateFailed, err)
		s.mailbox.PostDevice(err.Error())
		return err
	}
	s.slot.swap(dev)
	s.generation.Add(1)

	s.logger.Infof("initialized ADC on `%s` (%s access)", dev, s.accessMode)
	s.setStatus(scale.StateReady, nil)
	s.mailbox.PostDevice(fmt.Sprintf("ADC ready on %s at %s (%s access)", dev, s.settings.Speed, s.accessMode))

	return nil
}

func (s *Sampler) releaseDevice() {
	if dev := s.slot.swap(nil); dev != nil {
		if err := dev.Close(); err != nil {
			s.logger.Warnf("failed to release ADC `%s`: %s", dev, err)
		}
	}
}

func (s *Sampler) runTimer(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.onTick()
	for {
		select {
		case <-ctx.Done():
			s.logger.Debugf("stopping periodic acquisition: %s", ctx.Err())
			return
		case <-s.doneChan:
			return
		case <-ticker.C:
			s.onTick()
		}
	}
}

func (s *Sampler) onTick() {
	s.updateStatus(func(st *scale.Status) bool {
		if st.State != scale.StateReady {
			return false
		}
		st.State = scale.StateSampling
		return true
	})

	// Errors are published by cycle(), the timer keeps firing
	_, _ = s.cycle(scale.SourceTimer)
}

func (s *Sampler) onTrigger() {
	_, _ = s.cycle(scale.SourceTrigger)
}

// cycle performs a single acquire-and-publish cycle
func (s *Sampler) cycle(src scale.Source) (scale.DataPoint, error) {
	dp, err := s.acquire(src)
	if err != nil {
		if errors.Is(err, ErrDeviceUnavailable) {
			s.logger.Debugf("skipping %s acquisition: %s", src, err)
		} else {
			s.logger.Warnf("failed %s acquisition: %s", src, err)
		}
		s.mailbox.PostStatus(err.Error())
		return dp, err
	}

	s.publish(dp)
	return dp, nil
}

func (s *Sampler) acquire(src scale.Source) (dp scale.DataPoint, err error) {
	err = s.slot.with(func(dev *adc.Device) error {
		if dev == nil {
			return ErrDeviceUnavailable
		}

		data, err := dev.Sample()
		if err != nil {
			return err
		}

		raw, err := loadcell.Decode(data[:])
		if err != nil {
			return fmt.Errorf("%w: %s", adc.ErrTransferFailed, err)
		}

		dp = scale.DataPoint{
			TimeStamp: time.Now(),
			Unit:      loadcell.Unit,
			Raw:       raw,
			Weight:    loadcell.Convert(raw),
			Source:    src,
		}
		return nil
	})

	return
}

func (s *Sampler) publish(dp scale.DataPoint) {
	s.lastData.Store(&dp)
	s.logger.Debugf("acquired %s", dp)

	s.mailbox.PostReading(loadcell.FormatRaw(dp.Raw), loadcell.FormatWeight(dp.Weight))

	s.handlerMu.RLock()
	handler, ch := s.dataHandler, s.dataChan
	s.handlerMu.RUnlock()

	// Call handler function, if any
	if handler != nil {
		handler(dp)
	}

	// Put data point on channel, if any
	if ch != nil {
		select {
		case ch <- dp:
		default:
			s.logger.Debugf("data channel full, dropping %s", dp)
		}
	}
}

func (s *Sampler) setStatus(state scale.State, err error) {
	s.updateStatus(func(st *scale.Status) bool {
		st.State = state
		st.Error = err
		return true
	})
}

func (s *Sampler) updateStatus(fn func(st *scale.Status) bool) {
	s.statusMu.Lock()
	if !fn(&s.status) {
		s.statusMu.Unlock()
		return
	}
	s.status.Generation = s.generation.Load()
	status := s.status
	s.statusMu.Unlock()

	s.logger.Debugf("state change: %s", status.State)

	s.handlerMu.RLock()
	handler, ch := s.stateChangeHandler, s.stateChangeChan
	s.handlerMu.RUnlock()

	// Call handler function, if any
	if handler != nil {
		handler(status)
	}

	// Put state change on channel, if any
	if ch != nil {
		select {
		case ch <- status:
		default:
		}
	}
}
