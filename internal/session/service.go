package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/finderskeepers/keeperd/internal/ingest"
	"github.com/finderskeepers/keeperd/internal/knowledge"
	"github.com/finderskeepers/keeperd/internal/logging"
	"github.com/finderskeepers/keeperd/internal/secrets"
)

var tracer = otel.Tracer("keeperd.session")

// Store is the slice of the relational store the session log needs.
type Store interface {
	UpsertSession(ctx context.Context, sess *knowledge.Session) error
	EnsureSession(ctx context.Context, sessionID, project string, now time.Time) error
	EndSession(ctx context.Context, sessionID string, endTime time.Time, status knowledge.SessionStatus, reason string) (bool, error)
	GetSession(ctx context.Context, sessionID string) (*knowledge.Session, error)
	ListSessions(ctx context.Context, project string, status knowledge.SessionStatus, limit int) ([]knowledge.Session, error)
	ListActiveSessions(ctx context.Context, startedBefore *time.Time) ([]knowledge.Session, error)
	InsertAction(ctx context.Context, a *knowledge.Action) error
	InsertMessage(ctx context.Context, m *knowledge.ConversationMessage) error
	InsertSnippet(ctx context.Context, sn *knowledge.CodeSnippet) error
	ListSessionMessages(ctx context.Context, sessionID string) ([]knowledge.ConversationMessage, error)
	ListSessionActions(ctx context.Context, sessionID string) ([]knowledge.Action, error)
	ListSessionSnippets(ctx context.Context, sessionID string) ([]knowledge.CodeSnippet, error)
}

// Ingestor enqueues the session-export document. Implemented by
// *ingest.Service.
type Ingestor interface {
	IngestItem(ctx context.Context, req *ingest.Request) (*ingest.Job, error)
}

// Service is the session and action log.
type Service struct {
	store    Store
	ingestor Ingestor
	scrubber secrets.Scrubber
	log      *logging.Logger
	metrics  *webhookMetrics
	now      func() time.Time
}

// New wires the session log. The scrubber may be a NoopScrubber but not
// nil.
func New(store Store, ingestor Ingestor, scrubber secrets.Scrubber, log *logging.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("session: store is required")
	}
	if ingestor == nil {
		return nil, fmt.Errorf("session: ingestor is required")
	}
	if scrubber == nil {
		return nil, fmt.Errorf("session: scrubber is required")
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Service{
		store:    store,
		ingestor: ingestor,
		scrubber: scrubber,
		log:      log.Named("session"),
		metrics:  newWebhookMetrics(log),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// HandleSessionEvent applies one session-logger webhook event.
func (s *Service) HandleSessionEvent(ctx context.Context, ev *SessionEvent) (*SessionAck, error) {
	ctx, span := tracer.Start(ctx, "Session.HandleSessionEvent")
	defer span.End()

	now := s.now()
	sessionID := ev.SessionID
	if sessionID == "" {
		sessionID = knowledge.NewSessionID()
	}
	ctx = logging.WithSessionID(ctx, sessionID)

	switch ev.ActionType {
	case EventStart, EventResume:
		sess := &knowledge.Session{
			ID:        sessionID,
			AgentType: ev.AgentType,
			UserID:    ev.UserID,
			Project:   ev.Project,
			Status:    knowledge.SessionActive,
			StartTime: now,
			Context:   ev.Context,
		}
		if ev.ActionType == EventResume && ev.Reason != "" {
			if sess.Context == nil {
				sess.Context = map[string]any{}
			}
			sess.Context["resume_reason"] = ev.Reason
		}
		if err := s.store.UpsertSession(ctx, sess); err != nil {
			return nil, err
		}
		s.metrics.event(ctx, ev.ActionType)
		s.log.Info(ctx, "session event applied",
			zap.String("action_type", ev.ActionType),
			zap.String("agent_type", ev.AgentType))

	case EventEnd:
		if err := s.store.EnsureSession(ctx, sessionID, ev.Project, now); err != nil {
			return nil, err
		}
		status := endStatus(ev.Reason)
		closed, err := s.store.EndSession(ctx, sessionID, now, status, ev.Reason)
		if err != nil {
			return nil, err
		}
		s.metrics.event(ctx, ev.ActionType)
		s.log.Info(ctx, "session end applied",
			zap.String("status", string(status)),
			zap.Bool("closed_now", closed),
			zap.String("reason", ev.Reason))
		if closed {
			// First close wins; only it materializes the export, so
			// webhook retries cannot double-ingest.
			s.exportSession(ctx, sessionID)
		}

	default:
		return nil, knowledge.Validationf("unknown action_type %q", ev.ActionType)
	}

	return &SessionAck{
		Success:   true,
		SessionID: sessionID,
		Action:    ev.ActionType,
		Timestamp: now,
	}, nil
}

// HandleActionEvent appends an action (and optionally a conversation
// message with snippet extraction) to the log. Unknown sessions get a
// placeholder; duplicate action ids are acknowledged without rewriting.
func (s *Service) HandleActionEvent(ctx context.Context, ev *ActionEvent) (*ActionAck, error) {
	ctx, span := tracer.Start(ctx, "Session.HandleActionEvent")
	defer span.End()

	if ev.SessionID == "" {
		return nil, knowledge.Validationf("session_id is required")
	}
	if ev.ActionType == "" {
		return nil, knowledge.Validationf("action_type is required")
	}
	ctx = logging.WithSessionID(ctx, ev.SessionID)
	now := s.now()

	if err := s.store.EnsureSession(ctx, ev.SessionID, "", now); err != nil {
		return nil, err
	}

	action := &knowledge.Action{
		ID:            ev.ActionID,
		SessionID:     ev.SessionID,
		ActionType:    ev.ActionType,
		Description:   ev.Description,
		Details:       ev.Details,
		FilesAffected: ev.FilesAffected,
		Success:       true,
		Timestamp:     now,
	}
	if action.ID == "" {
		action.ID = knowledge.NewActionID()
	}
	if ev.Success != nil {
		action.Success = *ev.Success
	}
	if ev.Timestamp != nil {
		action.Timestamp = ev.Timestamp.UTC()
	}

	if err := s.store.InsertAction(ctx, action); err != nil {
		if errors.Is(err, knowledge.ErrConflict) {
			// Retry of an already-recorded action.
			return &ActionAck{
				Success:   true,
				SessionID: ev.SessionID,
				ActionID:  action.ID,
				Timestamp: now,
			}, nil
		}
		return nil, err
	}
	s.metrics.event(ctx, "action")

	ack := &ActionAck{
		Success:   true,
		SessionID: ev.SessionID,
		ActionID:  action.ID,
		Timestamp: now,
	}

	messageType, content, ok := messagePayload(ev.Details)
	if !ok {
		return ack, nil
	}
	role := knowledge.MessageRole(messageType)
	if !role.Valid() {
		return nil, knowledge.Validationf("unknown message role %q", messageType)
	}

	scrubbed := content
	if result := s.scrubber.Scrub(content); result != nil {
		scrubbed = result.Scrubbed
		if result.TotalFindings > 0 {
			s.metrics.secretsScrubbed(ctx, result.TotalFindings)
			s.log.Warn(ctx, "scrubbed secrets from conversation message",
				zap.Int("findings", result.TotalFindings))
		}
	}

	msg := &knowledge.ConversationMessage{
		ID:        knowledge.NewMessageID(),
		SessionID: ev.SessionID,
		Role:      role,
		Content:   scrubbed,
		ActionID:  action.ID,
		Timestamp: action.Timestamp,
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	ack.MessageID = msg.ID

	for _, f := range extractFences(scrubbed) {
		sn := &knowledge.CodeSnippet{
			ID:              knowledge.NewSnippetID(),
			SessionID:       ev.SessionID,
			Language:        f.Language,
			Code:            f.Code,
			SourceMessageID: msg.ID,
			CreatedAt:       action.Timestamp,
		}
		if err := s.store.InsertSnippet(ctx, sn); err != nil {
			return nil, err
		}
		ack.Snippets++
	}
	return ack, nil
}

// exportSession materializes the session-export document and enqueues it.
// The session is already closed at this point: an enqueue failure is
// logged for operators rather than failing the webhook, because a retried
// end event would no-op and never reach this path again.
func (s *Service) exportSession(ctx context.Context, sessionID string) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		s.log.Error(ctx, "load session for export", zap.Error(err))
		return
	}
	messages, err := s.store.ListSessionMessages(ctx, sessionID)
	if err != nil {
		s.log.Error(ctx, "load messages for export", zap.Error(err))
		return
	}
	actions, err := s.store.ListSessionActions(ctx, sessionID)
	if err != nil {
		s.log.Error(ctx, "load actions for export", zap.Error(err))
		return
	}
	snippets, err := s.store.ListSessionSnippets(ctx, sessionID)
	if err != nil {
		s.log.Error(ctx, "load snippets for export", zap.Error(err))
		return
	}

	body := buildExport(sess, messages, actions, snippets)
	tags := []string{"session"}
	if sess.AgentType != "" {
		tags = append(tags, "agent:"+sess.AgentType)
	}
	req := &ingest.Request{
		Project:   sess.Project,
		Data:      []byte(body),
		SourceURI: "session://" + sessionID,
		Title:     exportTitle(sess),
		DocType:   knowledge.DocTypeSessionExport,
		Tags:      tags,
		Priority:  ingest.PriorityHigh,
		SessionID: sessionID,
	}
	job, err := s.ingestor.IngestItem(ctx, req)
	if err != nil {
		s.log.Error(ctx, "enqueue session export", zap.Error(err))
		return
	}
	s.metrics.event(ctx, "export")
	s.log.Info(ctx, "session export enqueued",
		zap.String("job_id", job.ID),
		zap.Int("messages", len(messages)),
		zap.Int("actions", len(actions)))
}

// GetSession returns one session.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*knowledge.Session, error) {
	return s.store.GetSession(ctx, sessionID)
}

// ListSessions returns sessions filtered by project and status.
func (s *Service) ListSessions(ctx context.Context, project string, status knowledge.SessionStatus, limit int) ([]knowledge.Session, error) {
	if status != "" {
		switch status {
		case knowledge.SessionActive, knowledge.SessionEnded, knowledge.SessionCrashed:
		default:
			return nil, knowledge.Validationf("unknown session status %q", status)
		}
	}
	return s.store.ListSessions(ctx, project, status, limit)
}

// SessionActions returns a session's action log in order.
func (s *Service) SessionActions(ctx context.Context, sessionID string) ([]knowledge.Action, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListSessionActions(ctx, sessionID)
}

// SweepStaleSessions force-closes active sessions that started before the
// cutoff, classifying them as crashed. Each swept session materializes its
// export exactly like a clean end. Returns how many were closed.
func (s *Service) SweepStaleSessions(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := s.store.ListActiveSessions(ctx, &cutoff)
	if err != nil {
		return 0, err
	}
	swept := 0
	for i := range stale {
		id := stale[i].ID
		closed, err := s.store.EndSession(ctx, id, s.now(), knowledge.SessionCrashed,
			"crashed: no session_end received")
		if err != nil {
			s.log.Warn(ctx, "sweep session", zap.Error(err), zap.String("session_id", id))
			continue
		}
		if closed {
			swept++
			s.exportSession(logging.WithSessionID(ctx, id), id)
		}
	}
	if swept > 0 {
		s.log.Info(ctx, "swept stale sessions", zap.Int("count", swept))
	}
	return swept, nil
}

// messagePayload pulls conversation capture fields out of action details.
func messagePayload(details map[string]any) (messageType, content string, ok bool) {
	if details == nil {
		return "", "", false
	}
	mt, okType := details["message_type"].(string)
	body, okBody := details["content"].(string)
	if !okType || !okBody || mt == "" {
		return "", "", false
	}
	return mt, body, true
}
