package sampler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fako1024/kegscale/pkg/adc"
	"github.com/fako1024/kegscale/pkg/display"
	"github.com/fako1024/kegscale/pkg/loadcell"
	"github.com/fako1024/kegscale/pkg/mock"
	"github.com/fako1024/kegscale/pkg/scale"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type recorder struct {
	sync.Mutex
	updates []display.Update
}

func (r *recorder) ShowReading(raw, weight string) {
	r.Lock()
	defer r.Unlock()
	r.updates = append(r.updates, display.Update{Raw: raw, Weight: weight})
}

func (r *recorder) ShowStatus(msg string) {
	r.Lock()
	defer r.Unlock()
	r.updates = append(r.updates, display.Update{Status: msg})
}

func (r *recorder) ShowDevice(msg string) {
	r.Lock()
	defer r.Unlock()
	r.updates = append(r.updates, display.Update{Device: msg})
}

func (r *recorder) hasReading(raw, weight string) bool {
	r.Lock()
	defer r.Unlock()
	for _, u := range r.updates {
		if u.IsReading() && u.Raw == raw && u.Weight == weight {
			return true
		}
	}
	return false
}

func (r *recorder) hasStatus(substr string) bool {
	r.Lock()
	defer r.Unlock()
	for _, u := range r.updates {
		if !u.IsReading() && !u.IsDevice() && strings.Contains(u.Status, substr) {
			return true
		}
	}
	return false
}

func (r *recorder) hasDevice(substr string) bool {
	r.Lock()
	defer r.Unlock()
	for _, u := range r.updates {
		if u.IsDevice() && strings.Contains(u.Device, substr) {
			return true
		}
	}
	return false
}

// gate blocks conversion reads on the mock bus until released
type gate struct {
	entered chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{
		entered: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (g *gate) wait() {
	g.entered <- struct{}{}
	<-g.release
}

func (g *gate) open() {
	close(g.release)
}

func newTestSampler(t *testing.T, e adc.Enumerator, options ...func(*Sampler)) (*Sampler, *recorder) {
	r := &recorder{}
	s := New(append([]func(*Sampler){
		WithEnumerator(e),
		WithPresenter(r),
	}, options...)...)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})

	return s, r
}

func waitForState(t *testing.T, s *Sampler, state scale.State) {
	require.Eventually(t, func() bool {
		return s.Status().State == state
	}, waitFor, tick, "state %s not reached (current: %s)", state, s.Status().State)
}

func receive(t *testing.T, ch chan scale.DataPoint) scale.DataPoint {
	select {
	case dp := <-ch:
		return dp
	case <-time.After(waitFor):
		t.Fatalf("no data point received within %v", waitFor)
	}
	return scale.DataPoint{}
}

func TestInitEnumerationEmpty(t *testing.T) {
	e := mock.NewEnumerator(func() *mock.Bus { return mock.New() })
	s, r := newTestSampler(t, e, WithInterval(10*time.Millisecond))

	require.NoError(t, s.Start(context.Background()))
	waitForState(t, s, scale.StateFailed)

	status := s.Status()
	require.ErrorIs(t, status.Error, adc.ErrEnumerationEmpty)
	assert.Zero(t, status.Generation)

	// The timer keeps firing, every cycle reports the device as unavailable
	require.Eventually(t, func() bool {
		return r.hasStatus(ErrDeviceUnavailable.Error())
	}, waitFor, tick)

	// The initialization failure is not overwritten by the cycles that follow it
	require.Eventually(t, func() bool {
		return r.hasDevice(adc.ErrEnumerationEmpty.Error())
	}, waitFor, tick)
	assert.Empty(t, e.Opened())
	assert.Equal(t, scale.StateFailed, s.Status().State)
}

func TestInitOpenFailed(t *testing.T) {
	e := mock.NewEnumerator(func() *mock.Bus { return mock.New() }, "I2C1")
	e.SetOpenError(errors.New("access denied"))
	s, r := newTestSampler(t, e, WithInterval(time.Hour))

	require.ErrorIs(t, s.Initialize(context.Background()), adc.ErrDeviceOpenFailed)
	assert.Equal(t, scale.StateFailed, s.Status().State)
	require.Eventually(t, func() bool {
		return r.hasDevice("access denied")
	}, waitFor, tick)
}

func TestSampleWithoutDevice(t *testing.T) {
	e := mock.NewEnumerator(func() *mock.Bus { return mock.New() }, "I2C1")
	s, r := newTestSampler(t, e)

	_, err := s.Sample(context.Background())
	require.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.Empty(t, e.Opened())
	require.Eventually(t, func() bool {
		return r.hasStatus("device unavailable")
	}, waitFor, tick)

	_, ok := s.LastDataPoint()
	assert.False(t, ok)
}

func TestSampleCancelledContext(t *testing.T) {
	e := mock.NewEnumerator(func() *mock.Bus { return mock.New() }, "I2C1")
	s, _ := newTestSampler(t, e)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Sample(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, s.Initialize(ctx), context.Canceled)
	assert.Empty(t, e.Opened())
}

func TestEndToEnd(t *testing.T) {
	e := mock.NewEnumerator(func() *mock.Bus { return mock.New(mock.WithSequence(5226, 5242)) }, "I2C1")
	s, r := newTestSampler(t, e, WithInterval(20*time.Millisecond))

	dataChan := make(chan scale.DataPoint, 16)
	s.SetDataChannel(dataChan)

	var (
		mu     sync.Mutex
		states []scale.State
	)
	s.SetStateChangeHandler(func(status scale.Status) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, status.State)
	})

	require.NoError(t, s.Start(context.Background()))

	first := receive(t, dataChan)
	assert.Equal(t, int16(5226), first.Raw)
	assert.Zero(t, first.Weight)
	assert.Equal(t, scale.SourceTimer, first.Source)
	assert.Equal(t, scale.Unit(scale.UnitPounds), first.Unit)

	second := receive(t, dataChan)
	assert.Equal(t, int16(5242), second.Raw)
	assert.InDelta(t, 0.2007, second.Weight, 1e-4)

	require.Eventually(t, func() bool {
		return r.hasReading("5226", "0.0000") && r.hasReading("5242", "0.2007")
	}, waitFor, tick)

	status := s.Status()
	assert.Equal(t, scale.StateSampling, status.State)
	assert.NoError(t, status.Error)
	assert.Equal(t, uint64(1), status.Generation)

	last, ok := s.LastDataPoint()
	require.True(t, ok)
	assert.Equal(t, int16(5242), last.Raw)
	assert.True(t, s.ElapsedTime() > 0)

	mu.Lock()
	assert.Equal(t, []scale.State{scale.StateInitializing, scale.StateReady, scale.StateSampling}, states[:3])
	mu.Unlock()

	// Exactly one bus, configured once, one conversion read per data point
	require.NoError(t, s.Close())
	buses := e.Opened()
	require.Len(t, buses, 1)
	assert.Equal(t, []byte{0xc2, 0x20}, buses[0].Register(0x01))
	assert.Equal(t, []byte{0x00, 0x00}, buses[0].Register(0x02))
	assert.Equal(t, []byte{0xff, 0xff}, buses[0].Register(0x03))
	assert.Equal(t, buses[0].Samples()+3, buses[0].Transactions())
}

func TestFirstTickIsImmediate(t *testing.T) {
	e := mock.NewEnumerator(func() *mock.Bus { return mock.New() }, "I2C1")
	s, _ := newTestSampler(t, e, WithInterval(time.Hour))

	dataChan := make(chan scale.DataPoint, 1)
	s.SetDataChannel(dataChan)
	require.NoError(t, s.Start(context.Background()))

	dp := receive(t, dataChan)
	assert.Equal(t, int16(loadcell.Baseline), dp.Raw)
	require.ErrorContains(t, s.Start(context.Background()), "already started")
}

func TestTransferFailureIsNotFatal(t *testing.T) {
	e := mock.NewEnumerator(func() *mock.Bus { return mock.New(mock.WithSequence(5242)) }, "I2C1")
	s, r := newTestSampler(t, e, WithInterval(10*time.Millisecond))

	dataChan := make(chan scale.DataPoint, 64)
	s.SetDataChannel(dataChan)
	require.NoError(t, s.Start(context.Background()))
	receive(t, dataChan)

	bus := e.Opened()[0]
	bus.Fail(errors.New("arbitration lost"))
	require.Eventually(t, func() bool {
		return r.hasStatus("arbitration lost")
	}, waitFor, tick)

	_, err := s.Sample(context.Background())
	require.ErrorIs(t, err, adc.ErrTransferFailed)

	// Neither the timer nor the device are affected
	assert.Equal(t, scale.StateSampling, s.Status().State)
	assert.False(t, bus.IsClosed())

	bus.Fail(nil)
	for len(dataChan) > 0 {
		<-dataChan
	}
	dp := receive(t, dataChan)
	assert.Equal(t, int16(5242), dp.Raw)
	assert.Len(t, e.Opened(), 1)
}

func TestTriggerSampling(t *testing.T) {
	e := mock.NewEnumerator(func() *mock.Bus { return mock.New(mock.WithSequence(5226, 5242, 5258)) }, "I2C1")
	pin := &gpiotest.Pin{N: "GPIO27", Num: 27, EdgesChan: make(chan gpio.Level)}
	s, _ := newTestSampler(t, e, WithInterval(time.Hour), WithTriggerPin(pin))

	dataChan := make(chan scale.DataPoint, 4)
	s.SetDataChannel(dataChan)
	require.NoError(t, s.Start(context.Background()))

	assert.Equal(t, scale.SourceTimer, receive(t, dataChan).Source)

	// Every edge requests a sample, rising or falling
	pin.EdgesChan <- gpio.High
	dp := receive(t, dataChan)
	assert.Equal(t, scale.SourceTrigger, dp.Source)
	assert.Equal(t, int16(5242), dp.Raw)

	pin.EdgesChan <- gpio.Low
	dp = receive(t, dataChan)
	assert.Equal(t, scale.SourceTrigger, dp.Source)
	assert.Equal(t, int16(5258), dp.Raw)
}

func TestReset(t *testing.T) {
	var (
		mu    sync.Mutex
		value int16 = 5226
	)
	e := mock.NewEnumerator(func() *mock.Bus {
		mu.Lock()
		defer mu.Unlock()
		return mock.New(mock.WithSequence(value))
	}, "I2C1")
	s, r := newTestSampler(t, e, WithInterval(10*time.Millisecond))

	dataChan := make(chan scale.DataPoint, 64)
	s.SetDataChannel(dataChan)
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, int16(5226), receive(t, dataChan).Raw)

	mu.Lock()
	value = 5242
	mu.Unlock()

	require.NoError(t, s.Reset(context.Background()))
	assert.Equal(t, uint64(2), s.Status().Generation)

	buses := e.Opened()
	require.Len(t, buses, 2)
	assert.True(t, buses[0].IsClosed())
	assert.False(t, buses[1].IsClosed())

	// The (never re-registered) timer resumes on the new handle
	require.Eventually(t, func() bool {
		select {
		case dp := <-dataChan:
			return dp.Raw == 5242 && dp.Source == scale.SourceTimer
		default:
			return false
		}
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		return r.hasReading("5242", "0.2007")
	}, waitFor, tick)
	assert.Equal(t, scale.StateSampling, s.Status().State)
}

func TestResetRecoversFromFailure(t *testing.T) {
	e := mock.NewEnumerator(func() *mock.Bus { return mock.New(mock.WithSequence(5242)) })
	s, _ := newTestSampler(t, e, WithInterval(10*time.Millisecond))

	dataChan := make(chan scale.DataPoint, 64)
	s.SetDataChannel(dataChan)
	require.NoError(t, s.Start(context.Background()))
	waitForState(t, s, scale.StateFailed)

	e.SetNames("I2C1")
	require.NoError(t, s.Reset(context.Background()))

	dp := receive(t, dataChan)
	assert.Equal(t, int16(5242), dp.Raw)
	waitForState(t, s, scale.StateSampling)
	assert.NoError(t, s.Status().Error)
}

func TestGuardedAccessSerializesTransactions(t *testing.T) {
	g := newGate()
	e := mock.NewEnumerator(func() *mock.Bus { return mock.New(mock.WithBeforeRead(g.wait)) }, "I2C1")
	pin := &gpiotest.Pin{N: "GPIO27", Num: 27, EdgesChan: make(chan gpio.Level)}
	s, _ := newTestSampler(t, e, WithInterval(time.Hour), WithTriggerPin(pin), WithAccessMode(AccessGuarded))

	dataChan := make(chan scale.DataPoint, 4)
	s.SetDataChannel(dataChan)
	require.NoError(t, s.Start(context.Background()))

	// The first (timer) cycle is in flight, the trigger cycle has to wait for it
	<-g.entered
	pin.EdgesChan <- gpio.High
	select {
	case <-g.entered:
		t.Fatalf("trigger cycle entered the bus while the timer cycle was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	g.open()
	receive(t, dataChan)
	receive(t, dataChan)

	bus := e.Opened()[0]
	assert.Equal(t, 1, bus.MaxInFlight())
	assert.Equal(t, 2, bus.Samples())
	assert.Equal(t, 5, bus.Transactions())
}

// The legacy access mode does not serialize transactions: the timer and the trigger
// cycle can be on the bus at the same time. This is a known hazard of that mode.
func TestLegacyAccessAllowsOverlappingTransactions(t *testing.T) {
	g := newGate()
	e := mock.NewEnumerator(func() *mock.Bus { return mock.New(mock.WithBeforeRead(g.wait)) }, "I2C1")
	pin := &gpiotest.Pin{N: "GPIO27", Num: 27, EdgesChan: make(chan gpio.Level)}
	s, _ := newTestSampler(t, e, WithInterval(time.Hour), WithTriggerPin(pin), WithAccessMode(AccessLegacy))
	assert.Equal(t, AccessLegacy, s.AccessMode())

	dataChan := make(chan scale.DataPoint, 4)
	s.SetDataChannel(dataChan)
	require.NoError(t, s.Start(context.Background()))

	<-g.entered
	pin.EdgesChan <- gpio.High
	select {
	case <-g.entered:
	case <-time.After(waitFor):
		t.Fatalf("trigger cycle unexpectedly serialized in legacy mode")
	}

	g.open()
	receive(t, dataChan)
	receive(t, dataChan)

	assert.Equal(t, 2, e.Opened()[0].MaxInFlight())
}

// In legacy mode a reset releases the handle while a transaction is in flight,
// which then fails. The failure is reported for that cycle only.
func TestLegacyResetDuringTransaction(t *testing.T) {
	g := newGate()
	e := mock.NewEnumerator(func() *mock.Bus { return mock.New(mock.WithBeforeRead(g.wait)) }, "I2C1")
	s, r := newTestSampler(t, e, WithInterval(time.Hour), WithAccessMode(AccessLegacy))

	require.NoError(t, s.Start(context.Background()))
	<-g.entered

	// The reset does not wait for the in-flight timer cycle
	require.NoError(t, s.Reset(context.Background()))
	buses := e.Opened()
	require.Len(t, buses, 2)
	assert.True(t, buses[0].IsClosed())

	g.open()
	require.Eventually(t, func() bool {
		return r.hasStatus(mock.ErrBusClosed.Error())
	}, waitFor, tick)
	assert.Zero(t, buses[0].Samples())

	// Subsequent cycles use the new handle
	dp, err := s.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int16(loadcell.Baseline), dp.Raw)
	assert.Equal(t, 1, buses[1].Samples())
}

func TestGuardedResetWaitsForTransaction(t *testing.T) {
	g := newGate()
	e := mock.NewEnumerator(func() *mock.Bus { return mock.New(mock.WithBeforeRead(g.wait)) }, "I2C1")
	s, _ := newTestSampler(t, e, WithInterval(time.Hour))

	dataChan := make(chan scale.DataPoint, 4)
	s.SetDataChannel(dataChan)
	require.NoError(t, s.Start(context.Background()))
	<-g.entered

	resetDone := make(chan error, 1)
	go func() {
		resetDone <- s.Reset(context.Background())
	}()

	select {
	case <-resetDone:
		t.Fatalf("reset completed while a transaction was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	g.open()
	require.NoError(t, <-resetDone)

	// The in-flight cycle completed on the old handle before it was released
	assert.Equal(t, int16(loadcell.Baseline), receive(t, dataChan).Raw)
	buses := e.Opened()
	require.Len(t, buses, 2)
	assert.Equal(t, 1, buses[0].Samples())
	assert.True(t, buses[0].IsClosed())
}

func TestClose(t *testing.T) {
	e := mock.NewEnumerator(func() *mock.Bus { return mock.New() }, "I2C1")
	s := New(WithEnumerator(e), WithInterval(10*time.Millisecond), WithPresenter(&recorder{}))

	stateChan := make(chan scale.Status, 64)
	s.SetStateChangeChannel(stateChan)

	require.NoError(t, s.Start(context.Background()))
	waitForState(t, s, scale.StateSampling)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, scale.StateClosed, s.Status().State)
	assert.True(t, e.Opened()[0].IsClosed())

	require.ErrorIs(t, s.Start(context.Background()), ErrClosed)
	require.ErrorIs(t, s.Reset(context.Background()), ErrClosed)
	_, err := s.Sample(context.Background())
	require.ErrorIs(t, err, ErrDeviceUnavailable)

	var last scale.Status
	for len(stateChan) > 0 {
		last = <-stateChan
	}
	assert.Equal(t, scale.StateClosed, last.State)
}

func TestAccessModeString(t *testing.T) {
	assert.Equal(t, "guarded", AccessGuarded.String())
	assert.Equal(t, "legacy", AccessLegacy.String())
	assert.Equal(t, "AccessMode(7)", AccessMode(7).String())
}
