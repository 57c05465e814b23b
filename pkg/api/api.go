package api

import (
	"sync"

	"github.com/fako1024/kegscale/pkg/display"
	"github.com/fako1024/kegscale/pkg/loadcell"
	"github.com/fako1024/kegscale/pkg/scale"
	"github.com/gofiber/fiber/v2"
)

// Board denotes a presenter keeping the latest reading, cycle status and device
// message for the API
type Board struct {
	mu      sync.RWMutex
	reading display.Update
	status  string
	device  string
}

// ShowReading stores the latest reading
func (b *Board) ShowReading(raw, weight string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.reading = display.Update{Raw: raw, Weight: weight}
}

// ShowStatus stores the latest status message
func (b *Board) ShowStatus(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.status = msg
}

// ShowDevice stores the latest device message
func (b *Board) ShowDevice(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.device = msg
}

func (b *Board) latest() display.Update {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return display.Update{
		Raw:    b.reading.Raw,
		Weight: b.reading.Weight,
		Status: b.status,
		Device: b.device,
	}
}

// Reading denotes the JSON representation of a reading
type Reading struct {
	Raw    string `json:"raw"`
	Weight string `json:"weight"`
	Unit   string `json:"unit"`
}

// Status denotes the JSON representation of the session status
type Status struct {
	State      string `json:"state"`
	Error      string `json:"error,omitempty"`
	Message    string `json:"message,omitempty"`
	Device     string `json:"device,omitempty"`
	Generation uint64 `json:"generation"`
	Uptime     string `json:"uptime"`
}

// API denotes a REST API for a scale
type API struct {
	scale  scale.Scale
	board  *Board
	router *fiber.App
}

// New instantiates a new API serving the readings presented on the board
func New(s scale.Scale, board *Board) *API {

	api := API{
		scale: s,
		board: board,
		router: fiber.New(fiber.Config{
			DisableStartupMessage: true,
		}),
	}

	// Setup routes
	api.router.Get("/weight", api.handleWeight())
	api.router.Get("/status", api.handleStatus())
	api.router.Post("/reset", api.handleReset())

	return &api
}

// Listen serves the API on the given endpoint (blocking until Shutdown() is called)
func (api *API) Listen(endpoint string) error {
	return api.router.Listen(endpoint)
}

// Shutdown gracefully stops serving the API
func (api *API) Shutdown() error {
	return api.router.Shutdown()
}

func (api *API) handleWeight() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		reading := api.board.latest()
		if reading.Raw == "" {
			return fiber.NewError(fiber.StatusServiceUnavailable, unavailableReason(reading))
		}

		return c.JSON(Reading{
			Raw:    reading.Raw,
			Weight: reading.Weight,
			Unit:   string(loadcell.Unit),
		})
	}
}

func (api *API) handleStatus() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		latest := api.board.latest()
		st := api.scale.Status()

		res := Status{
			State:      st.State.String(),
			Message:    latest.Status,
			Device:     latest.Device,
			Generation: st.Generation,
			Uptime:     api.scale.ElapsedTime().String(),
		}
		if st.Error != nil {
			res.Error = st.Error.Error()
		}

		return c.JSON(res)
	}
}

func (api *API) handleReset() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		if err := api.scale.Reset(c.UserContext()); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}

		return api.handleStatus()(c)
	}
}

func unavailableReason(u display.Update) string {
	switch {
	case u.Status != "" && u.Device != "":
		return u.Status + ": " + u.Device
	case u.Status != "":
		return u.Status
	case u.Device != "":
		return u.Device
	}
	return "no reading available"
}
