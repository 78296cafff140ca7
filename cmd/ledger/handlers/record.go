package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/medgenius/ledger/cmd/ledger/middleware"
	"github.com/medgenius/ledger/cmd/ledger/service"
	"github.com/medgenius/ledger/common/cache"
	"github.com/medgenius/ledger/common/hash"
	"github.com/medgenius/ledger/common/logger"
	"github.com/medgenius/ledger/common/models"
	"github.com/medgenius/ledger/common/store"
)

// RecordHandler handles record ledger requests
type RecordHandler struct {
	ledger   *service.Ledger
	query    *service.QueryEvaluator
	cache    cache.Cache
	cacheTTL time.Duration
	log      *logger.Logger
}

// NewRecordHandler creates a new record handler. cache may be nil.
func NewRecordHandler(ledger *service.Ledger, query *service.QueryEvaluator, c cache.Cache, cacheTTL time.Duration, log *logger.Logger) *RecordHandler {
	return &RecordHandler{
		ledger:   ledger,
		query:    query,
		cache:    c,
		cacheTTL: cacheTTL,
		log:      log,
	}
}

// MintRequest is the body of POST /api/v1/records
type MintRequest struct {
	PatientID string          `json:"patient_id"`
	DoctorID  *string         `json:"doctor_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// MintRecord creates a new ledger record
// POST /api/v1/records
func (h *RecordHandler) MintRecord(c echo.Context) error {
	var req MintRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	if req.PatientID == "" {
		return c.JSON(http.StatusBadRequest, errorBody("patient_id is required"))
	}
	if len(req.Payload) == 0 {
		return c.JSON(http.StatusBadRequest, errorBody("payload is required"))
	}

	actor := middleware.GetActor(c)

	record, err := h.ledger.Mint(c.Request().Context(), req.PatientID, req.DoctorID, req.Payload, actor)
	if err != nil {
		switch {
		case errors.Is(err, hash.ErrSerialization):
			return c.JSON(http.StatusBadRequest, errorBody("payload is not valid JSON"))
		case errors.Is(err, store.ErrConcurrentModification):
			return c.JSON(http.StatusConflict, errorBody("ledger is busy, retry the mint"))
		default:
			h.log.Error("mint failed", "patient_id", req.PatientID, "error", err)
			return c.JSON(http.StatusInternalServerError, errorBody("processing failed"))
		}
	}

	h.invalidateListCaches(c, record)

	return c.JSON(http.StatusCreated, record)
}

// GetRecord retrieves a record by id
// GET /api/v1/records/:id
func (h *RecordHandler) GetRecord(c echo.Context) error {
	id := c.Param("id")

	record, err := h.ledger.GetByID(c.Request().Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRecordNotFound):
			return c.JSON(http.StatusNotFound, errorBody("record not found"))
		case errors.Is(err, service.ErrTampered):
			return c.JSON(http.StatusConflict, map[string]interface{}{
				"error":     "record failed integrity verification",
				"record_id": id,
				"tampered":  true,
			})
		default:
			h.log.Error("get record failed", "record_id", id, "error", err)
			return c.JSON(http.StatusInternalServerError, errorBody("processing failed"))
		}
	}

	return c.JSON(http.StatusOK, record)
}

// ListRecords lists every record, optionally filtered by a CEL expression
// GET /api/v1/records?filter=record.patient_id == "PAT-001"
func (h *RecordHandler) ListRecords(c echo.Context) error {
	records, err := h.ledger.GetAll(c.Request().Context())
	if err != nil {
		h.log.Error("list records failed", "error", err)
		return c.JSON(http.StatusInternalServerError, errorBody("processing failed"))
	}

	if expr := c.QueryParam("filter"); expr != "" {
		records, err = h.query.Filter(records, expr)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		}
	}

	return c.JSON(http.StatusOK, listBody(records))
}

// PatientRecords lists a patient's records, most recent first
// GET /api/v1/patients/:id/records
func (h *RecordHandler) PatientRecords(c echo.Context) error {
	patientID := c.Param("id")

	return h.cachedList(c, patientCacheKey(patientID), func() ([]models.Record, error) {
		return h.ledger.GetByPatient(c.Request().Context(), patientID)
	})
}

// DoctorRecords lists a doctor's records, most recent first
// GET /api/v1/doctors/:id/records
func (h *RecordHandler) DoctorRecords(c echo.Context) error {
	doctorID := c.Param("id")

	return h.cachedList(c, doctorCacheKey(doctorID), func() ([]models.Record, error) {
		return h.ledger.GetByDoctor(c.Request().Context(), doctorID)
	})
}

// cachedList serves a list view through the short-TTL read cache. The
// patient and doctor dashboards poll these endpoints.
func (h *RecordHandler) cachedList(c echo.Context, key string, load func() ([]models.Record, error)) error {
	ctx := c.Request().Context()

	if h.cache != nil {
		if data, hit, err := h.cache.Get(ctx, key); err == nil && hit {
			return c.JSONBlob(http.StatusOK, data)
		}
	}

	records, err := load()
	if err != nil {
		h.log.Error("list records failed", "cache_key", key, "error", err)
		return c.JSON(http.StatusInternalServerError, errorBody("processing failed"))
	}

	body, err := json.Marshal(listBody(records))
	if err != nil {
		h.log.Error("marshal record list failed", "cache_key", key, "error", err)
		return c.JSON(http.StatusInternalServerError, errorBody("processing failed"))
	}

	if h.cache != nil {
		if err := h.cache.Set(ctx, key, body, h.cacheTTL); err != nil {
			h.log.Warn("failed to cache record list", "cache_key", key, "error", err)
		}
	}

	return c.JSONBlob(http.StatusOK, body)
}

func (h *RecordHandler) invalidateListCaches(c echo.Context, record *models.Record) {
	if h.cache == nil {
		return
	}

	ctx := c.Request().Context()
	keys := []string{patientCacheKey(record.PatientID)}
	if doctor := record.Doctor(); doctor != "" {
		keys = append(keys, doctorCacheKey(doctor))
	}

	for _, key := range keys {
		if err := h.cache.Delete(ctx, key); err != nil {
			h.log.Warn("failed to invalidate cache", "cache_key", key, "error", err)
		}
	}
}

func patientCacheKey(patientID string) string {
	return fmt.Sprintf("records:patient:%s", patientID)
}

func doctorCacheKey(doctorID string) string {
	return fmt.Sprintf("records:doctor:%s", doctorID)
}

func listBody(records []models.Record) map[string]interface{} {
	if records == nil {
		records = []models.Record{}
	}
	return map[string]interface{}{
		"records": records,
		"count":   len(records),
	}
}

func errorBody(msg string) map[string]interface{} {
	return map[string]interface{}{
		"error": msg,
	}
}
