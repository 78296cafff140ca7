package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/medgenius/ledger/cmd/ledger/container"
	"github.com/medgenius/ledger/cmd/ledger/handlers"
	"github.com/medgenius/ledger/cmd/ledger/middleware"
)

// RegisterRecordRoutes registers all record ledger routes
func RegisterRecordRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewRecordHandler(
		c.Ledger,
		c.Query,
		c.Components.Cache,
		c.Components.Config.Cache.DefaultTTL,
		c.Components.Logger,
	)

	api := e.Group("/api/v1")
	api.Use(middleware.ExtractActor()) // X-User-ID into context for audit events
	{
		api.POST("/records", h.MintRecord)             // POST /api/v1/records
		api.GET("/records", h.ListRecords)             // GET  /api/v1/records?filter=...
		api.GET("/records/:id", h.GetRecord)           // GET  /api/v1/records/{record_id}
		api.GET("/patients/:id/records", h.PatientRecords) // GET /api/v1/patients/{patient_id}/records
		api.GET("/doctors/:id/records", h.DoctorRecords)   // GET /api/v1/doctors/{doctor_id}/records
	}
}
