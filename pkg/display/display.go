// Package display hands sampling results over to the presentation surface
package display

import (
	"sync"

	"github.com/fako1024/kegscale/pkg/scale"
)

// Presenter denotes a presentation surface. Its methods are only ever called from
// a single goroutine (the one owning the surface).
type Presenter interface {

	// ShowReading displays a successful reading
	ShowReading(raw, weight string)

	// ShowStatus displays the status or error message of a sampling cycle
	ShowStatus(msg string)

	// ShowDevice displays the outcome of the latest device (re-)initialization
	ShowDevice(msg string)
}

// Update denotes a single message to the presenter: a reading, a cycle status or
// a device message
type Update struct {
	Raw    string
	Weight string
	Status string
	Device string
}

// IsReading returns if the update carries a reading
func (u Update) IsReading() bool {
	return u.Status == "" && u.Device == ""
}

// IsDevice returns if the update carries a device message
func (u Update) IsDevice() bool {
	return u.Device != ""
}

// Mailbox delivers updates to a Presenter without blocking the producer. It holds
// at most one pending update per field (reading, cycle status, device message):
// posting while the presenter is busy overwrites the pending update of the same
// field (last write wins).
type Mailbox struct {
	presenter Presenter

	readings chan Update
	status   chan Update
	device   chan Update

	postMu   sync.Mutex
	doneChan chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

// NewMailbox instantiates a new Mailbox and starts delivering to the presenter
func NewMailbox(p Presenter) *Mailbox {
	m := &Mailbox{
		presenter: p,
		readings:  make(chan Update, 1),
		status:    make(chan Update, 1),
		device:    make(chan Update, 1),
		doneChan:  make(chan struct{}),
	}

	m.wg.Add(1)
	go m.deliver()

	return m
}

// PostReading posts a reading
func (m *Mailbox) PostReading(raw, weight string) {
	m.Post(Update{Raw: raw, Weight: weight})
}

// PostStatus posts a cycle status / error message
func (m *Mailbox) PostStatus(msg string) {
	m.Post(Update{Status: msg})
}

// PostDevice posts a device message
func (m *Mailbox) PostDevice(msg string) {
	m.Post(Update{Device: msg})
}

// Post replaces the pending update of the same field (if any) with u
func (m *Mailbox) Post(u Update) {
	slot := m.readings
	switch {
	case u.IsDevice():
		slot = m.device
	case !u.IsReading():
		slot = m.status
	}

	m.postMu.Lock()
	defer m.postMu.Unlock()

	select {
	case slot <- u:
		return
	default:
	}

	// Slot is full, drop the stale update (unless the consumer just took it)
	select {
	case <-slot:
	default:
	}
	slot <- u
}

// Close stops the delivery. Pending updates are discarded.
func (m *Mailbox) Close() {
	m.once.Do(func() {
		close(m.doneChan)
	})
	m.wg.Wait()
}

func (m *Mailbox) deliver() {
	defer m.wg.Done()

	for {
		select {
		case <-m.doneChan:
			return
		case u := <-m.device:
			m.presenter.ShowDevice(u.Device)
		case u := <-m.status:
			m.presenter.ShowStatus(u.Status)
		case u := <-m.readings:
			m.presenter.ShowReading(u.Raw, u.Weight)
		}
	}
}

// LogPresenter denotes a presenter that writes all updates to a logger
type LogPresenter struct {
	logger scale.Logger
}

// NewLogPresenter instantiates a new LogPresenter
func NewLogPresenter(logger scale.Logger) *LogPresenter {
	return &LogPresenter{logger: logger}
}

// ShowReading displays a successful reading
func (l *LogPresenter) ShowReading(raw, weight string) {
	l.logger.Infof("raw: %s, weight: %s lb", raw, weight)
}

// ShowStatus displays a status or error message
func (l *LogPresenter) ShowStatus(msg string) {
	l.logger.Warnf("status: %s", msg)
}

// ShowDevice displays a device message
func (l *LogPresenter) ShowDevice(msg string) {
	l.logger.Infof("device: %s", msg)
}

// Multi fans updates out to several presenters, in order
type Multi []Presenter

// ShowReading displays a successful reading on all presenters
func (m Multi) ShowReading(raw, weight string) {
	for _, p := range m {
		p.ShowReading(raw, weight)
	}
}

// ShowStatus displays a status or error message on all presenters
func (m Multi) ShowStatus(msg string) {
	for _, p := range m {
		p.ShowStatus(msg)
	}
}

// ShowDevice displays a device message on all presenters
func (m Multi) ShowDevice(msg string) {
	for _, p := range m {
		p.ShowDevice(msg)
	}
}
