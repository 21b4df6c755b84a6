// Package services – SessionService
//
// This file implements SessionService, the application-level component that
// owns chat sessions and the message turn loop. Creating a session captures
// an immutable context snapshot (cycle day, fertility stage, active
// medications) that seeds the assistant's system preamble for the whole
// conversation. Posting a message runs the distress classifier first; a
// distress verdict short-circuits the language model entirely and answers
// with the configured supportive reply while the escalation gate handles the
// partner alert.
//
// Ordering matters in PostMessage: conversation history is read BEFORE the
// user message is persisted so the model prompt never contains the current
// utterance twice, and the user message is persisted BEFORE the completion
// call so a model failure can never lose user input.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// session/user identifiers and pagination parameters where applicable.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-companion-backend/internal/completion"
	"github.com/tbourn/go-companion-backend/internal/distress"
	"github.com/tbourn/go-companion-backend/internal/domain"
	"github.com/tbourn/go-companion-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// defaultHistoryWindow caps how many prior turns feed the model prompt.
	defaultHistoryWindow = 10

	// defaultSupportiveReply is sent instead of a model completion when a
	// message classifies as distress.
	defaultSupportiveReply = "I hear how hard this is for you right now, and I'm really glad you told me. " +
		"You don't have to carry this alone. If you feel unsafe or in crisis, please reach out to a " +
		"crisis line or someone you trust right away. I'm here with you."

	// defaultFallbackReply is sent when the language model is unavailable
	// or errors out. The user's message is already persisted by then.
	defaultFallbackReply = "I'm having trouble finding the right words just now, but I'm still here with you. " +
		"Could you tell me a little more about how you're feeling?"
)

// SessionService coordinates session lifecycle and the chat turn loop.
type SessionService struct {
	DB *gorm.DB

	// Completer produces assistant replies. May be nil (e.g. no model
	// credentials configured); every turn then uses FallbackReply.
	Completer completion.Completer

	// Gate delivers the at-most-once partner escalation.
	Gate *EscalationGate

	// HistoryWindow is the number of prior turns included in the model
	// prompt (capped at defaultHistoryWindow).
	HistoryWindow int

	// MaxPromptRunes caps user message length; 0 disables the check.
	MaxPromptRunes int

	// SupportiveReply overrides the canned distress response when non-empty.
	SupportiveReply string
	// FallbackReply overrides the canned model-failure response when non-empty.
	FallbackReply string
}

// NewSessionService constructs a SessionService with sane defaults.
func NewSessionService(db *gorm.DB, c completion.Completer, gate *EscalationGate) *SessionService {
	return &SessionService{
		DB:             db,
		Completer:      c,
		Gate:           gate,
		HistoryWindow:  defaultHistoryWindow,
		MaxPromptRunes: 4000,
	}
}

// Create opens a new chat session for userID, capturing the context snapshot
// (cycle day, stage, active medications) at this moment. The snapshot is
// immutable for the session's lifetime.
func (s *SessionService) Create(ctx context.Context, userID string) (*domain.ChatSession, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	if _, err := repo.GetUser(ctx, s.DB, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	snapshot, err := s.buildSnapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	return repo.CreateSession(ctx, s.DB, userID, snapshot)
}

// Get returns the session if it exists and belongs to userID.
func (s *SessionService) Get(ctx context.Context, userID, sessionID string) (*domain.ChatSession, error) {
	sess, err := repo.GetSession(ctx, s.DB, sessionID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return sess, nil
}

// ListPage returns a page of the user's sessions, newest first.
func (s *SessionService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.ChatSession, int64, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountSessions(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.ChatSession{}, 0, nil
	}

	items, err := repo.ListSessionsPage(ctx, s.DB, userID, offset, pageSize)
	return items, total, err
}

// Delete soft-deletes the user's session. Messages stay in place under the
// soft-deleted parent; they are unreachable through the API.
func (s *SessionService) Delete(ctx context.Context, userID, sessionID string) error {
	err := repo.DeleteSession(ctx, s.DB, sessionID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrSessionNotFound
	}
	return err
}

// PostMessageResult is the outcome of a single conversational turn: the
// persisted user message, the assistant's reply, and whether this turn
// fired the escalation gate.
type PostMessageResult struct {
	UserMessage *domain.Message
	Reply       *domain.Message
	Escalated   bool
}

// PostMessage appends a user message to the session and produces the
// assistant's reply. Distress-classified messages receive the supportive
// reply and trigger the escalation gate; everything else goes through the
// language model, falling back to a canned reply on model failure.
func (s *SessionService) PostMessage(ctx context.Context, userID, sessionID, text string) (*PostMessageResult, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "PostMessage",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if s.MaxPromptRunes > 0 && utf8.RuneCountInString(text) > s.MaxPromptRunes {
		return nil, ErrTooLong
	}

	sess, err := repo.GetSession(ctx, s.DB, sessionID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	prior, err := repo.LatestUserLevel(s.DB.WithContext(ctx), sessionID)
	if err != nil {
		return nil, err
	}
	verdict := distress.Classify(text, prior)
	span.SetAttributes(
		attribute.String("distress.emotion", verdict.Emotion),
		attribute.Int("distress.level", verdict.Level),
		attribute.Bool("distress.flag", verdict.IsDistress),
	)

	// History is read before the current message is persisted so the prompt
	// carries the prior turns only; the current utterance is passed
	// separately to the completer.
	history, err := s.recentTurns(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	userMsg, err := repo.CreateMessage(s.DB.WithContext(ctx), sessionID, domain.RoleUser, text, verdict.Emotion, verdict.Level, nil)
	if err != nil {
		return nil, err
	}

	if verdict.IsDistress {
		reply, escalated, err := s.distressTurn(ctx, sess, userID)
		if err != nil {
			return nil, err
		}
		return &PostMessageResult{UserMessage: userMsg, Reply: reply, Escalated: escalated}, nil
	}
	reply, err := s.modelTurn(ctx, sess, history, text)
	if err != nil {
		return nil, err
	}
	return &PostMessageResult{UserMessage: userMsg, Reply: reply}, nil
}

// Messages returns a page of the session's messages in chronological order,
// after verifying ownership.
func (s *SessionService) Messages(ctx context.Context, userID, sessionID string, page, pageSize int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "Messages",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	offset := (page - 1) * pageSize

	if _, err := repo.GetSession(ctx, s.DB, sessionID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, ErrSessionNotFound
		}
		return nil, 0, err
	}

	total, err := repo.CountMessages(s.DB.WithContext(ctx), sessionID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}

	items, err := repo.ListMessagesPage(s.DB.WithContext(ctx), sessionID, offset, pageSize)
	return items, total, err
}

// distressTurn records the distress verdict on the session, runs the
// escalation gate, and persists the supportive reply. Escalation failures
// are logged but never surface to the user mid-conversation.
func (s *SessionService) distressTurn(ctx context.Context, sess *domain.ChatSession, userID string) (*domain.Message, bool, error) {
	if !sess.DistressDetected {
		if err := repo.MarkDistressDetected(ctx, s.DB, sess.ID); err != nil {
			return nil, false, err
		}
		sess.DistressDetected = true
	}

	escalated := false
	if s.Gate != nil {
		user, err := repo.GetUser(ctx, s.DB, userID)
		if err != nil {
			log.Error().Err(err).
				Str("session_id", sess.ID).
				Str("user_id", userID).
				Msg("distress turn: user lookup failed, escalation skipped")
		} else if escalated, err = s.Gate.TryEscalate(ctx, sess, user); err != nil {
			log.Error().Err(err).
				Str("session_id", sess.ID).
				Str("user_id", userID).
				Msg("distress turn: escalation failed")
		}
	}

	reply := s.SupportiveReply
	if reply == "" {
		reply = defaultSupportiveReply
	}
	m, err := repo.CreateMessage(s.DB.WithContext(ctx), sess.ID, domain.RoleAssistant, reply,
		distress.EmotionNeutral, 0, map[string]string{"supportive": "true"})
	return m, escalated, err
}

// modelTurn asks the completer for a reply and persists it. Model failure
// degrades to the fallback reply; the turn still succeeds because the user
// message is already stored.
func (s *SessionService) modelTurn(ctx context.Context, sess *domain.ChatSession, history []completion.Turn, text string) (*domain.Message, error) {
	var meta map[string]string
	reply := ""
	if s.Completer != nil {
		out, err := s.Completer.Complete(ctx, s.systemPreamble(sess.Context), history, text)
		if err != nil {
			log.Warn().Err(err).
				Str("session_id", sess.ID).
				Msg("completion failed, serving fallback reply")
		} else {
			reply = strings.TrimSpace(out)
		}
	}
	if reply == "" {
		reply = s.FallbackReply
		if reply == "" {
			reply = defaultFallbackReply
		}
		meta = map[string]string{"fallback": "true"}
	}
	return repo.CreateMessage(s.DB.WithContext(ctx), sess.ID, domain.RoleAssistant, reply,
		distress.EmotionNeutral, 0, meta)
}

// recentTurns loads the latest HistoryWindow messages as completion turns,
// oldest first.
func (s *SessionService) recentTurns(ctx context.Context, sessionID string) ([]completion.Turn, error) {
	window := s.HistoryWindow
	if window <= 0 || window > defaultHistoryWindow {
		window = defaultHistoryWindow
	}
	msgs, err := repo.ListRecentMessages(s.DB.WithContext(ctx), sessionID, window)
	if err != nil {
		return nil, err
	}
	turns := make([]completion.Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, completion.Turn{Role: m.Role, Content: m.Content})
	}
	return turns, nil
}

// buildSnapshot derives the session context from the user's latest cycle
// entry and active medications. A user with no cycle data gets day 1 and an
// empty stage.
func (s *SessionService) buildSnapshot(ctx context.Context, userID string) (domain.SessionContext, error) {
	snap := domain.SessionContext{CycleDay: 1}

	entry, err := repo.LatestCycleEntry(ctx, s.DB, userID)
	if err != nil {
		return snap, err
	}
	if entry != nil {
		snap.CycleDay = cycleDay(entry.StartDate, nowFunc())
		snap.Stage = stageForCycleDay(snap.CycleDay)
	}

	meds, err := repo.ActiveMedicationNames(ctx, s.DB, userID)
	if err != nil {
		return snap, err
	}
	snap.Medications = meds
	return snap, nil
}

// nowFunc is replaced in tests to pin cycle-day arithmetic.
var nowFunc = time.Now

// cycleDay computes the 1-based day of the cycle containing now. Start dates
// in the future clamp to day 1.
func cycleDay(start, now time.Time) int {
	days := int(now.Sub(start).Hours()/24) + 1
	if days < 1 {
		return 1
	}
	return days
}

// stageForCycleDay maps a cycle day onto the coarse fertility stage used in
// the assistant preamble and the partner summary.
func stageForCycleDay(day int) string {
	switch {
	case day <= 5:
		return "menstrual"
	case day <= 13:
		return "follicular"
	case day <= 16:
		return "ovulation"
	default:
		return "luteal"
	}
}

// systemPreamble renders the session snapshot into the assistant's system
// prompt. The tone instructions stay constant; only the context line varies.
func (s *SessionService) systemPreamble(sc domain.SessionContext) string {
	var b strings.Builder
	b.WriteString("You are a warm, supportive companion for someone going through fertility treatment. ")
	b.WriteString("Listen first, validate feelings, and keep answers short and gentle. ")
	b.WriteString("Never give medical advice; suggest talking to their clinic for clinical questions.\n")
	fmt.Fprintf(&b, "Context: cycle day %d", sc.CycleDay)
	if sc.Stage != "" {
		fmt.Fprintf(&b, ", %s stage", sc.Stage)
	}
	if len(sc.Symptoms) > 0 {
		fmt.Fprintf(&b, "; reported symptoms: %s", strings.Join(sc.Symptoms, ", "))
	}
	if len(sc.Medications) > 0 {
		fmt.Fprintf(&b, "; current medications: %s", strings.Join(sc.Medications, ", "))
	}
	b.WriteString(".")
	return b.String()
}
