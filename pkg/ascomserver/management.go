package ascomserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ManagementAPI serves the Alpaca management endpoints:
//
//	GET /management/apiversions
//	GET /management/v1/description
//	GET /management/v1/configureddevices
type ManagementAPI struct {
	server *Server
}

// NewManagementAPI creates the management API handler.
func NewManagementAPI(server *Server) *ManagementAPI {
	return &ManagementAPI{server: server}
}

// RegisterRoutes registers the management routes.
func (m *ManagementAPI) RegisterRoutes(router *gin.RouterGroup) {
	management := router.Group("/management")
	management.GET("/apiversions", m.handleAPIVersions)

	v1 := management.Group("/v1")
	v1.GET("/description", m.handleDescription)
	v1.GET("/configureddevices", m.handleConfiguredDevices)
}

func (m *ManagementAPI) handleAPIVersions(c *gin.Context) {
	c.JSON(http.StatusOK, NewSuccessResponse(
		[]int{AlpacaAPIVersion},
		ClientTransactionID(c),
		ServerTransactionID(c)))
}

func (m *ManagementAPI) handleDescription(c *gin.Context) {
	cfg := m.server.config.Server
	c.JSON(http.StatusOK, NewSuccessResponse(
		ServerDescription{
			ServerName:          cfg.ServerName,
			Manufacturer:        cfg.Manufacturer,
			ManufacturerVersion: cfg.ManufacturerVersion,
			Location:            cfg.Location,
		},
		ClientTransactionID(c),
		ServerTransactionID(c)))
}

func (m *ManagementAPI) handleConfiguredDevices(c *gin.Context) {
	devices := m.server.ConfiguredDevices()
	c.JSON(http.StatusOK, NewSuccessResponse(
		devices,
		ClientTransactionID(c),
		ServerTransactionID(c)))
}
