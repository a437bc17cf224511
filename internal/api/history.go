package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"fridgeclinic/internal/models"
)

func (h *Handler) listHistory(c *gin.Context) {
	filter := models.DiagnosisFilter{
		Brand:         c.Query("brand"),
		IssueCategory: c.Query("issue_category"),
	}
	var ok bool
	if filter.Limit, ok = queryInt(c, "limit"); !ok {
		return
	}
	if filter.Offset, ok = queryInt(c, "offset"); !ok {
		return
	}
	rows, err := h.history.List(c.Request.Context(), filter)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"diagnoses": rows})
}

func (h *Handler) getHistory(c *gin.Context) {
	row, err := h.history.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, row)
}

func (h *Handler) deleteHistory(c *gin.Context) {
	if err := h.history.Delete(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Diagnosis deleted"})
}

// queryInt parses an optional non-negative integer query parameter. On a bad
// value it writes the 400 response and reports false.
func queryInt(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return n, true
}
