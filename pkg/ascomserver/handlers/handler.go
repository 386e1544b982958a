// Package handlers implements the Alpaca device endpoints on top of plain
// Go device interfaces.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/unklstewy/bigskies-focuser/pkg/ascomserver"
)

// CommonDevice is the set of members every Alpaca device implements.
type CommonDevice interface {
	Name() string
	Description() string
	DriverInfo() string
	DriverVersion() string
	InterfaceVersion() int
	SupportedActions() []string
	Connected() bool
	SetConnected(on bool) error
	Action(name, parameters string) (string, error)
}

// AlpacaError is implemented by errors that carry an Alpaca error number.
type AlpacaError interface {
	AlpacaErrorNumber() int
}

// BaseHandler provides the common device endpoints and response helpers.
// Device specific handlers embed it.
type BaseHandler struct {
	deviceType   string
	deviceNumber int
	uniqueID     string
	device       CommonDevice
	logger       *zap.Logger
}

// NewBaseHandler creates a base handler for a device.
func NewBaseHandler(deviceType string, deviceNumber int, uniqueID string, device CommonDevice, logger *zap.Logger) *BaseHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BaseHandler{
		deviceType:   deviceType,
		deviceNumber: deviceNumber,
		uniqueID:     uniqueID,
		device:       device,
		logger: logger.With(
			zap.String("handler", deviceType),
			zap.Int("device_number", deviceNumber),
		),
	}
}

// DeviceType returns the Alpaca device type.
func (b *BaseHandler) DeviceType() string { return b.deviceType }

// DeviceNumber returns the device number.
func (b *BaseHandler) DeviceNumber() int { return b.deviceNumber }

// DeviceName returns the device name.
func (b *BaseHandler) DeviceName() string { return b.device.Name() }

// UniqueID returns the device unique ID.
func (b *BaseHandler) UniqueID() string { return b.uniqueID }

// ok writes a successful response.
func (b *BaseHandler) ok(c *gin.Context, value interface{}) {
	c.JSON(http.StatusOK, ascomserver.NewSuccessResponse(
		value,
		ascomserver.ClientTransactionID(c),
		ascomserver.ServerTransactionID(c)))
}

// reply writes value, or the Alpaca error for err.
func (b *BaseHandler) reply(c *gin.Context, value interface{}, err error) {
	if err != nil {
		b.fail(c, err)
		return
	}
	b.ok(c, value)
}

// fail writes an Alpaca error response. Device errors are reported with
// HTTP 200 and the error number in the body.
func (b *BaseHandler) fail(c *gin.Context, err error) {
	number, message := mapError(err)
	b.logger.Debug("Device call failed",
		zap.String("path", c.Request.URL.Path),
		zap.Int("error_number", number),
		zap.Error(err))

	c.JSON(http.StatusOK, ascomserver.NewErrorResponse(
		ascomserver.ClientTransactionID(c),
		ascomserver.ServerTransactionID(c),
		number,
		message))
}

// badRequest rejects a missing or malformed parameter with HTTP 400.
func (b *BaseHandler) badRequest(c *gin.Context, message string) {
	c.String(http.StatusBadRequest, message)
}

func mapError(err error) (int, string) {
	var ae AlpacaError
	if errors.As(err, &ae) {
		return ae.AlpacaErrorNumber(), err.Error()
	}
	return ascomserver.ErrorCodeUnspecifiedError, err.Error()
}

// boolParam reads a required boolean form parameter.
func boolParam(c *gin.Context, name string) (bool, bool) {
	raw := ascomserver.FormValue(c, name)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

// intParam reads a required integer form parameter.
func intParam(c *gin.Context, name string) (int, bool) {
	raw := ascomserver.FormValue(c, name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

// registerCommonRoutes registers the endpoints shared by all device types.
func (b *BaseHandler) registerCommonRoutes(router *gin.RouterGroup) {
	router.GET("/connected", func(c *gin.Context) {
		b.ok(c, b.device.Connected())
	})
	router.PUT("/connected", func(c *gin.Context) {
		on, valid := boolParam(c, "Connected")
		if !valid {
			b.badRequest(c, "Connected must be true or false")
			return
		}
		b.reply(c, nil, b.device.SetConnected(on))
	})

	router.GET("/description", func(c *gin.Context) { b.ok(c, b.device.Description()) })
	router.GET("/driverinfo", func(c *gin.Context) { b.ok(c, b.device.DriverInfo()) })
	router.GET("/driverversion", func(c *gin.Context) { b.ok(c, b.device.DriverVersion()) })
	router.GET("/interfaceversion", func(c *gin.Context) { b.ok(c, b.device.InterfaceVersion()) })
	router.GET("/name", func(c *gin.Context) { b.ok(c, b.device.Name()) })
	router.GET("/supportedactions", func(c *gin.Context) { b.ok(c, b.device.SupportedActions()) })

	router.PUT("/action", func(c *gin.Context) {
		name := ascomserver.FormValue(c, "Action")
		if name == "" {
			b.badRequest(c, "Action is required")
			return
		}
		result, err := b.device.Action(name, ascomserver.FormValue(c, "Parameters"))
		b.reply(c, result, err)
	})

	for _, cmd := range []string{"/commandblind", "/commandbool", "/commandstring"} {
		router.PUT(cmd, func(c *gin.Context) {
			c.JSON(http.StatusOK, ascomserver.NewErrorResponse(
				ascomserver.ClientTransactionID(c),
				ascomserver.ServerTransactionID(c),
				ascomserver.ErrorCodeNotImplemented,
				"raw commands are not supported"))
		})
	}
}
