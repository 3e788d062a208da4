package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"table-status-backend/internal/admission"
	"table-status-backend/internal/geo"
	"table-status-backend/internal/mw"
)

// positionRequest carries the position the browser measured. Lat and Lon are omitted when
// the browser could not obtain one.
type positionRequest struct {
	Lat  *float64 `json:"lat"`
	Lon  *float64 `json:"lon"`
	Site string   `json:"site"`
}

func (p positionRequest) locator() admission.Locator {
	if p.Lat == nil || p.Lon == nil {
		return admission.ReportedPosition(nil)
	}
	return admission.ReportedPosition(&geo.Position{Lat: *p.Lat, Lon: *p.Lon})
}

// bindOptionalJSON binds a JSON body if one was sent. An empty chunked body counts as none.
func bindOptionalJSON(c *gin.Context, dst any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// GetTables lists tables with their estimated wait.
// Query: capacity (exact seat count) and sort (name, capacity or waitTime).
func (h *Handler) GetTables(c *gin.Context) {
	capacity := 0
	if raw := c.Query("capacity"); raw != "" && raw != "All" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, fmt.Errorf("capacity must be a positive number"))
			return
		}
		capacity = n
	}

	tables, err := h.registry.ListTables(c.Request.Context())
	if err != nil {
		h.writeError(c, fmt.Errorf("%w: %v", admission.ErrStoreUnavailable, err))
		return
	}
	views, err := listTables(tables, capacity, c.Query("sort"), h.now())
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

// GetTable returns one table.
func (h *Handler) GetTable(c *gin.Context) {
	t, err := h.registry.GetTable(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTableView(*t, h.now()))
}

// ClaimTable claims a table for the signed-in guest, or queues them if it is busy.
func (h *Handler) ClaimTable(c *gin.Context) {
	var req positionRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.admission.AttemptClaim(c.Request.Context(), admission.ClaimRequest{
		TableID: c.Param("id"),
		User:    mw.IdentityFrom(c),
		Site:    req.Site,
		Locator: req.locator(),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetClaimQuota reports the claim attempts the guest has left.
func (h *Handler) GetClaimQuota(c *gin.Context) {
	q, err := h.admission.Quota(c.Request.Context(), mw.IdentityFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

type createTableRequest struct {
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
}

// CreateTable adds a table.
func (h *Handler) CreateTable(c *gin.Context) {
	var req createTableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	t, err := h.admission.CreateTable(c.Request.Context(), mw.IdentityFrom(c), admission.NewTable{Name: req.Name, Capacity: req.Capacity})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

type updateTableRequest struct {
	Name              *string `json:"name"`
	Capacity          *int    `json:"capacity"`
	CustomWaitMessage *string `json:"customWaitMessage"`
}

// UpdateTable edits the name, capacity or wait message of a table.
func (h *Handler) UpdateTable(c *gin.Context) {
	var req updateTableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	t, err := h.admission.EditTable(c.Request.Context(), mw.IdentityFrom(c), c.Param("id"), admission.TableEdit{
		Name:              req.Name,
		Capacity:          req.Capacity,
		CustomWaitMessage: req.CustomWaitMessage,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type noteRequest struct {
	Note string `json:"note"`
}

// PutTableNote replaces the staff note of a table.
func (h *Handler) PutTableNote(c *gin.Context) {
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	t, err := h.admission.SetNote(c.Request.Context(), mw.IdentityFrom(c), c.Param("id"), req.Note)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Note updated for %s", t.Name), "table": t})
}

// DeleteTable removes a table.
func (h *Handler) DeleteTable(c *gin.Context) {
	if err := h.admission.DeleteTable(c.Request.Context(), mw.IdentityFrom(c), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ToggleTable flips a table between Available and Occupied.
func (h *Handler) ToggleTable(c *gin.Context) {
	var req positionRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.admission.ToggleStatus(c.Request.Context(), admission.ToggleRequest{
		TableID: c.Param("id"),
		User:    mw.IdentityFrom(c),
		Site:    req.Site,
		Locator: req.locator(),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ReorderQueue shuffles the queue of a table.
func (h *Handler) ReorderQueue(c *gin.Context) {
	res, err := h.admission.ReorderQueue(c.Request.Context(), c.Param("id"), mw.IdentityFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetAnalytics reports occupancy figures for staff.
func (h *Handler) GetAnalytics(c *gin.Context) {
	tables, err := h.registry.ListTables(c.Request.Context())
	if err != nil {
		h.writeError(c, fmt.Errorf("%w: %v", admission.ErrStoreUnavailable, err))
		return
	}
	c.JSON(http.StatusOK, occupancy(tables, h.now()))
}
