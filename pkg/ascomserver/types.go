// Package ascomserver provides an ASCOM Alpaca REST API server.
//
// The server owns the HTTP router, the management API and UDP discovery.
// Device endpoints are contributed by Device implementations registered
// before Start (see the handlers package).
//
// The ASCOM Alpaca protocol is a RESTful HTTP API standard for astronomical
// equipment developed by the ASCOM Initiative (https://ascom-standards.org/).
package ascomserver

import (
	"fmt"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Constants for ASCOM Alpaca protocol compliance.
const (
	// AlpacaAPIVersion is the supported Alpaca API version.
	AlpacaAPIVersion = 1

	// AlpacaDiscoveryMessage is the UDP broadcast message used for device discovery.
	AlpacaDiscoveryMessage = "alpacadiscovery1"

	// DefaultDiscoveryPort is the standard UDP port for Alpaca discovery.
	DefaultDiscoveryPort = 32227

	// DefaultAPIPort is the default HTTP port for the Alpaca REST API.
	DefaultAPIPort = 11111

	DefaultServerName   = "BigSkies Focuser"
	DefaultManufacturer = "BigSkies Framework"
	DefaultLocation     = "Observatory"

	// MaxTransactionID is the maximum value for transaction IDs before wrapping.
	MaxTransactionID = 2147483647
)

// Device is an Alpaca device exposed by the server.
type Device interface {
	DeviceType() string
	DeviceNumber() int
	DeviceName() string
	UniqueID() string

	// RegisterRoutes registers the device endpoints on a group rooted at
	// /api/v1/{type}/{number}.
	RegisterRoutes(router *gin.RouterGroup)
}

// Server is an ASCOM Alpaca server instance.
type Server struct {
	config *Config
	logger *zap.Logger

	mu      sync.RWMutex
	devices map[string]Device
	order   []string
	router  *gin.Engine

	discovery *DiscoveryService

	stopCh   chan struct{}
	stopOnce sync.Once

	// transactionCounter generates server transaction IDs.
	transactionCounter int32
}

// ConfiguredDevice is one entry of /management/v1/configureddevices.
type ConfiguredDevice struct {
	DeviceName   string `json:"DeviceName"`
	DeviceType   string `json:"DeviceType"`
	DeviceNumber int    `json:"DeviceNumber"`
	UniqueID     string `json:"UniqueID"`
}

// ServerDescription is the value of /management/v1/description.
type ServerDescription struct {
	ServerName          string `json:"ServerName"`
	Manufacturer        string `json:"Manufacturer"`
	ManufacturerVersion string `json:"ManufacturerVersion"`
	Location            string `json:"Location"`
}

// DiscoveryResponse is the JSON response sent to discovery broadcasts.
type DiscoveryResponse struct {
	AlpacaPort int `json:"AlpacaPort"`
}

// APIResponse is the standard wrapper for all ASCOM Alpaca API responses.
type APIResponse struct {
	// Value is omitted for methods that return nothing.
	Value interface{} `json:"Value,omitempty"`

	// ClientTransactionID echoes back the client's transaction ID.
	ClientTransactionID int32 `json:"ClientTransactionID"`

	// ServerTransactionID is unique per request.
	ServerTransactionID int32 `json:"ServerTransactionID"`

	// ErrorNumber is 0 on success.
	ErrorNumber int `json:"ErrorNumber"`

	ErrorMessage string `json:"ErrorMessage"`
}

// ASCOM standard error codes.
const (
	ErrorCodeSuccess              = 0x0000
	ErrorCodeNotImplemented       = 0x0400
	ErrorCodeInvalidValue         = 0x0401
	ErrorCodeValueNotSet          = 0x0402
	ErrorCodeNotConnected         = 0x0407
	ErrorCodeInvalidOperation     = 0x040B
	ErrorCodeActionNotImplemented = 0x040C
	ErrorCodeUnspecifiedError     = 0x04FF

	// ErrorCodeDriverBase is the first driver-specific error number.
	ErrorCodeDriverBase = 0x0500
)

// NewAPIResponse creates an API response with the given values.
func NewAPIResponse(value interface{}, clientTxnID, serverTxnID int32, errNum int, errMsg string) *APIResponse {
	return &APIResponse{
		Value:               value,
		ClientTransactionID: clientTxnID,
		ServerTransactionID: serverTxnID,
		ErrorNumber:         errNum,
		ErrorMessage:        errMsg,
	}
}

// NewSuccessResponse creates a successful API response.
func NewSuccessResponse(value interface{}, clientTxnID, serverTxnID int32) *APIResponse {
	return NewAPIResponse(value, clientTxnID, serverTxnID, ErrorCodeSuccess, "")
}

// NewErrorResponse creates an error API response.
func NewErrorResponse(clientTxnID, serverTxnID int32, errNum int, errMsg string) *APIResponse {
	return NewAPIResponse(nil, clientTxnID, serverTxnID, errNum, errMsg)
}

// DeviceKey generates the registry key for a device, e.g. "focuser-0".
func DeviceKey(deviceType string, deviceNumber int) string {
	return fmt.Sprintf("%s-%d", deviceType, deviceNumber)
}
