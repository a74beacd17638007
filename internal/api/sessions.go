package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

// sessionList is the response body for GET /api/sessions.
type sessionList struct {
	Sessions []knowledge.Session `json:"sessions"`
	Count    int                 `json:"count"`
}

// actionList is the response body for GET /api/sessions/{id}/actions.
type actionList struct {
	SessionID string             `json:"session_id"`
	Actions   []knowledge.Action `json:"actions"`
	Count     int                `json:"count"`
}

// handleListSessions filters the session log by project and status.
func (h *Handlers) handleListSessions(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return writeError(c, knowledge.Validationf("limit must be a non-negative integer"))
		}
		limit = n
	}
	sessions, err := h.sessions.ListSessions(c.Request().Context(),
		c.QueryParam("project"),
		knowledge.SessionStatus(c.QueryParam("status")),
		limit)
	if err != nil {
		return writeError(c, err)
	}
	if sessions == nil {
		sessions = []knowledge.Session{}
	}
	return c.JSON(http.StatusOK, sessionList{Sessions: sessions, Count: len(sessions)})
}

func (h *Handlers) handleGetSession(c echo.Context) error {
	sess, err := h.sessions.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handlers) handleSessionActions(c echo.Context) error {
	sessionID := c.Param("id")
	actions, err := h.sessions.SessionActions(c.Request().Context(), sessionID)
	if err != nil {
		return writeError(c, err)
	}
	if actions == nil {
		actions = []knowledge.Action{}
	}
	return c.JSON(http.StatusOK, actionList{
		SessionID: sessionID,
		Actions:   actions,
		Count:     len(actions),
	})
}
