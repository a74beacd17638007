package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/finderskeepers/keeperd/internal/query"
)

// handleQuery runs a hybrid knowledge query.
func (h *Handlers) handleQuery(c echo.Context) error {
	var req query.Request
	if err := c.Bind(&req); err != nil {
		return bindError(c, err)
	}
	resp, err := h.querier.Query(c.Request().Context(), &req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}
