package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/finderskeepers/keeperd/internal/session"
)

// handleSessionLogger is the session lifecycle intake. Well-formed
// requests always get a 200, even when the session id was never seen
// before; only malformed payloads are rejected.
func (h *Handlers) handleSessionLogger(c echo.Context) error {
	var ev session.SessionEvent
	if err := c.Bind(&ev); err != nil {
		return bindError(c, err)
	}
	ack, err := h.sessions.HandleSessionEvent(c.Request().Context(), &ev)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, ack)
}

// handleActionTracker is the action log intake. Duplicate action ids ack
// successfully without writing anything, so producers can retry freely.
func (h *Handlers) handleActionTracker(c echo.Context) error {
	var ev session.ActionEvent
	if err := c.Bind(&ev); err != nil {
		return bindError(c, err)
	}
	ack, err := h.sessions.HandleActionEvent(c.Request().Context(), &ev)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, ack)
}
