package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DeviceTypeFocuser is the Alpaca device type of a focuser.
const DeviceTypeFocuser = "focuser"

// Focuser is the IFocuserV3 surface served by FocuserHandler.
type Focuser interface {
	CommonDevice

	Absolute() bool
	IsMoving() bool
	MaxIncrement() int
	MaxStep() int
	Position() (int, error)
	StepSize() (float64, error)
	TempComp() bool
	SetTempComp(on bool) error
	TempCompAvailable() bool
	Temperature() (float64, error)
	Halt() error

	// Move returns once the focuser has reached position.
	Move(position int) error
}

// FocuserHandler serves /api/v1/focuser/{n}.
type FocuserHandler struct {
	*BaseHandler
	focuser Focuser
}

// NewFocuserHandler creates a focuser handler.
func NewFocuserHandler(deviceNumber int, uniqueID string, focuser Focuser, logger *zap.Logger) *FocuserHandler {
	return &FocuserHandler{
		BaseHandler: NewBaseHandler(DeviceTypeFocuser, deviceNumber, uniqueID, focuser, logger),
		focuser:     focuser,
	}
}

// RegisterRoutes registers the common and focuser endpoints.
func (h *FocuserHandler) RegisterRoutes(router *gin.RouterGroup) {
	h.registerCommonRoutes(router)

	router.GET("/absolute", func(c *gin.Context) { h.ok(c, h.focuser.Absolute()) })
	router.GET("/ismoving", func(c *gin.Context) { h.ok(c, h.focuser.IsMoving()) })
	router.GET("/maxincrement", func(c *gin.Context) { h.ok(c, h.focuser.MaxIncrement()) })
	router.GET("/maxstep", func(c *gin.Context) { h.ok(c, h.focuser.MaxStep()) })
	router.GET("/tempcompavailable", func(c *gin.Context) { h.ok(c, h.focuser.TempCompAvailable()) })
	router.GET("/tempcomp", func(c *gin.Context) { h.ok(c, h.focuser.TempComp()) })

	router.GET("/position", func(c *gin.Context) {
		pos, err := h.focuser.Position()
		h.reply(c, pos, err)
	})
	router.GET("/stepsize", func(c *gin.Context) {
		size, err := h.focuser.StepSize()
		h.reply(c, size, err)
	})
	router.GET("/temperature", func(c *gin.Context) {
		temp, err := h.focuser.Temperature()
		h.reply(c, temp, err)
	})

	router.PUT("/tempcomp", func(c *gin.Context) {
		on, valid := boolParam(c, "TempComp")
		if !valid {
			h.badRequest(c, "TempComp must be true or false")
			return
		}
		h.reply(c, nil, h.focuser.SetTempComp(on))
	})
	router.PUT("/halt", func(c *gin.Context) {
		h.reply(c, nil, h.focuser.Halt())
	})
	router.PUT("/move", func(c *gin.Context) {
		pos, valid := intParam(c, "Position")
		if !valid {
			h.badRequest(c, "Position must be an integer")
			return
		}
		h.logger.Debug("Move request", zap.Int("position", pos))
		h.reply(c, nil, h.focuser.Move(pos))
	})
}
