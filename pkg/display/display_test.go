package display

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	sync.Mutex
	updates []Update

	block   chan struct{}
	started chan struct{}
}

func (r *recorder) ShowReading(raw, weight string) {
	r.record(Update{Raw: raw, Weight: weight})
}

func (r *recorder) ShowStatus(msg string) {
	r.record(Update{Status: msg})
}

func (r *recorder) ShowDevice(msg string) {
	r.record(Update{Device: msg})
}

func (r *recorder) record(u Update) {
	if r.started != nil {
		select {
		case r.started <- struct{}{}:
		default:
		}
	}
	if r.block != nil {
		<-r.block
	}

	r.Lock()
	defer r.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) Updates() []Update {
	r.Lock()
	defer r.Unlock()
	return append([]Update(nil), r.updates...)
}

func TestMailboxDelivers(t *testing.T) {
	r := &recorder{}
	m := NewMailbox(r)
	defer m.Close()

	m.PostReading("5226", "0.0000")
	require.Eventually(t, func() bool { return len(r.Updates()) == 1 }, time.Second, time.Millisecond)

	m.PostStatus("device unavailable")
	require.Eventually(t, func() bool { return len(r.Updates()) == 2 }, time.Second, time.Millisecond)

	updates := r.Updates()
	assert.True(t, updates[0].IsReading())
	assert.Equal(t, Update{Raw: "5226", Weight: "0.0000"}, updates[0])
	assert.False(t, updates[1].IsReading())
	assert.Equal(t, "device unavailable", updates[1].Status)
}

func TestMailboxLastWriteWins(t *testing.T) {
	r := &recorder{
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	m := NewMailbox(r)
	defer m.Close()

	// The presenter is busy with the first update
	m.PostReading("1", "a")
	<-r.started

	// Neither of these block, only the last one of each field survives
	m.PostReading("2", "b")
	m.PostStatus("first")
	m.PostReading("3", "c")
	m.PostStatus("second")

	close(r.block)
	require.Eventually(t, func() bool { return len(r.Updates()) == 3 }, time.Second, time.Millisecond)

	// Give a stale update the chance to show up (it must not)
	time.Sleep(20 * time.Millisecond)
	updates := r.Updates()
	require.Len(t, updates, 3)
	assert.Equal(t, Update{Raw: "1", Weight: "a"}, updates[0])
	assert.ElementsMatch(t, []Update{
		{Raw: "3", Weight: "c"},
		{Status: "second"},
	}, updates[1:])
}

func TestMailboxDeviceMessageSurvivesCycleStatus(t *testing.T) {
	r := &recorder{
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	m := NewMailbox(r)
	defer m.Close()

	m.PostStatus("busy")
	<-r.started

	// A failed initialization directly followed by cycles without a device
	m.PostDevice("no matching I2C bus found")
	m.PostStatus("device unavailable")
	m.PostStatus("device unavailable")

	close(r.block)
	require.Eventually(t, func() bool { return len(r.Updates()) == 3 }, time.Second, time.Millisecond)

	updates := r.Updates()
	assert.Equal(t, Update{Status: "busy"}, updates[0])
	assert.ElementsMatch(t, []Update{
		{Device: "no matching I2C bus found"},
		{Status: "device unavailable"},
	}, updates[1:])
	assert.True(t, updates[1].IsDevice() || updates[2].IsDevice())
}

func TestMailboxPostAfterClose(t *testing.T) {
	r := &recorder{}
	m := NewMailbox(r)
	m.Close()
	m.Close()

	done := make(chan struct{})
	go func() {
		m.PostReading("1", "a")
		m.PostReading("2", "b")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("post blocked after close")
	}
}

func TestMulti(t *testing.T) {
	first, second := &recorder{}, &recorder{}
	m := Multi{first, second}

	m.ShowReading("5242", "0.2007")
	m.ShowStatus("ok")
	m.ShowDevice("ADC ready")

	for _, r := range []*recorder{first, second} {
		assert.Equal(t, []Update{{Raw: "5242", Weight: "0.2007"}, {Status: "ok"}, {Device: "ADC ready"}}, r.Updates())
	}
}
