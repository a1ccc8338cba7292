// Package chat is the conversation orchestrator: a per-connection state
// machine that dispatches inbound events, rewrites history on edit and
// regenerate, streams generation to the client and keeps the durable
// message log consistent with what the client saw.
package chat

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parley-chat/parley/internal/db"
	"github.com/parley-chat/parley/internal/llm"
	"github.com/parley-chat/parley/internal/models"
	"github.com/parley-chat/parley/internal/rag"
	"github.com/parley-chat/parley/internal/search"
	"github.com/parley-chat/parley/internal/tools"
)

const systemPrompt = `You are a helpful AI assistant. Answer in Markdown. Use the provided document excerpts and web search results when they are relevant, and ignore them when they are not.`

// stoppedSentinel is persisted when a turn is cut off before any output.
const stoppedSentinel = "Generation stopped by user."

// Completer produces assistant text for a fixed request; it never returns
// an error (total provider failure yields apology text, cancellation
// yields "").
type Completer interface {
	Complete(ctx context.Context, req llm.Request, onChunk llm.StreamFunc, onStatus llm.StatusFunc) string
}

// IntentClassifier routes a fresh message; failures inside it already
// default to the COMPLEX path.
type IntentClassifier interface {
	Classify(ctx context.Context, message string) llm.Intent
}

// Titler summarizes a first message into a session title; never fails.
type Titler interface {
	Generate(ctx context.Context, message string) string
}

// Searcher aggregates web-search backends; never fails.
type Searcher interface {
	Consensus(ctx context.Context, query string) string
}

type Orchestrator struct {
	db         *db.Database
	gateway    Completer
	classifier IntentClassifier
	titler     Titler
	retriever  rag.Retriever
	searcher   Searcher
	tools      llm.ToolInvoker
	logger     *zap.Logger

	historyWindow    int
	historyTokens    int
	retrievalTimeout time.Duration
}

func NewOrchestrator(
	database *db.Database,
	gateway Completer,
	classifier IntentClassifier,
	titler Titler,
	retriever rag.Retriever,
	searcher Searcher,
	invoker llm.ToolInvoker,
	logger *zap.Logger,
	historyWindow int,
	historyTokens int,
	retrievalTimeout time.Duration,
) *Orchestrator {
	return &Orchestrator{
		db:               database,
		gateway:          gateway,
		classifier:       classifier,
		titler:           titler,
		retriever:        retriever,
		searcher:         searcher,
		tools:            invoker,
		logger:           logger,
		historyWindow:    historyWindow,
		historyTokens:    historyTokens,
		retrievalTimeout: retrievalTimeout,
	}
}

// turn is one dispatched generation request with its prompt and
// model-facing history fixed.
type turn struct {
	session *models.Session
	user    *models.User
	prompt  string
	images  []string
	history []llm.Message
	tempID  string

	// classify is set only on the fresh-message path; edit and regenerate
	// always take the full generation path with tools available.
	classify bool
}

// runLoop drives one connection: read, dispatch, generate, repeat.
// It returns when the socket closes. Malformed payloads are dropped and
// the loop continues.
func (o *Orchestrator) runLoop(ctx context.Context, c *conn, user *models.User, session *models.Session) {
	log := o.logger.With(zap.String("session_id", session.ID), zap.Int64("user_id", user.ID))
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			log.Debug("connection closed", zap.Error(err))
			return
		}

		var ev clientEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Debug("dropping malformed event", zap.Error(err))
			continue
		}

		var t *turn
		switch ev.Type {
		case "message", "":
			t = o.dispatchMessage(c, user, session, ev)
		case "edit":
			t = o.dispatchEdit(user, session, ev)
		case "regenerate":
			t = o.dispatchRegenerate(user, session)
		default:
			log.Debug("dropping event of unknown type", zap.String("type", ev.Type))
		}
		if t == nil {
			continue
		}

		o.generate(ctx, c, t)
	}
}

// dispatchMessage persists a fresh user message and prepares its turn.
// Empty text with no attachment is rejected without any reply.
func (o *Orchestrator) dispatchMessage(c *conn, user *models.User, session *models.Session, ev clientEvent) *turn {
	trimmed := strings.TrimSpace(ev.Message)
	if trimmed == "" && ev.Attachment == nil {
		return nil
	}

	// The last-N window is fetched before the new message is saved so the
	// prompt is not duplicated into its own history.
	recent, err := o.db.RecentMessages(session.ID, o.historyWindow)
	if err != nil {
		o.logger.Error("failed to load history", zap.Error(err))
		return nil
	}

	msg := &models.Message{
		SessionID: session.ID,
		UserID:    user.ID,
		Role:      models.RoleUser,
		Content:   ev.Message,
	}
	if ev.Attachment != nil {
		msg.Attachments = []models.Attachment{*ev.Attachment}
	}
	if err := o.db.SaveMessage(msg); err != nil {
		o.logger.Error("failed to persist user message", zap.Error(err))
		return nil
	}
	if ev.TempID != "" {
		// id_update must precede any streamed content for this turn.
		c.send(idUpdateEvent(ev.TempID, strconv.FormatInt(msg.ID, 10)))
	}

	t := &turn{
		session:  session,
		user:     user,
		prompt:   ev.Message,
		history:  buildHistory(recent),
		tempID:   ev.TempID,
		classify: true,
	}

	// Attachment content feeds the model but never pollutes the persisted
	// transcript: msg.Content above is exactly what the user typed.
	if ev.Attachment != nil {
		switch ev.Attachment.Kind {
		case models.AttachmentText:
			t.prompt += "\n\n[Attached document: " + ev.Attachment.Name + "]\n" + ev.Attachment.Content
		case models.AttachmentImage:
			t.images = append(t.images, ev.Attachment.URL)
		}
	}
	return t
}

// dispatchEdit rewrites an existing user message in place, truncates all
// later history and prepares a replay turn. Invalid ids, missing messages
// and foreign messages are all silently ignored.
func (o *Orchestrator) dispatchEdit(user *models.User, session *models.Session, ev clientEvent) *turn {
	newContent := strings.TrimSpace(ev.NewContent)
	if ev.MessageID == "" || newContent == "" {
		return nil
	}
	id, err := strconv.ParseInt(ev.MessageID, 10, 64)
	if err != nil {
		o.logger.Debug("edit with unparseable message id", zap.String("message_id", ev.MessageID))
		return nil
	}

	target, err := o.db.GetMessage(id)
	if err != nil {
		return nil
	}
	if target.SessionID != session.ID || target.UserID != user.ID || target.Role != models.RoleUser {
		o.logger.Warn("edit rejected",
			zap.Int64("message_id", id), zap.Int64("user_id", user.ID))
		return nil
	}

	if err := o.db.UpdateMessageContent(id, ev.NewContent); err != nil {
		o.logger.Error("failed to update message", zap.Error(err))
		return nil
	}
	// Hard truncation: everything after the edited message is gone for
	// good, matching what the client renders.
	if err := o.db.DeleteMessagesAfter(session.ID, target.CreatedAt); err != nil {
		o.logger.Error("failed to truncate history", zap.Error(err))
		return nil
	}

	before, err := o.db.MessagesBefore(session.ID, target.CreatedAt)
	if err != nil {
		o.logger.Error("failed to rebuild history", zap.Error(err))
		return nil
	}

	return &turn{
		session: session,
		user:    user,
		prompt:  ev.NewContent,
		history: buildHistory(before),
	}
}

// dispatchRegenerate deletes the most recent assistant message and replays
// the user message that produced it. A no-op unless the newest message is
// an assistant turn.
func (o *Orchestrator) dispatchRegenerate(user *models.User, session *models.Session) *turn {
	last, err := o.db.LastMessage(session.ID)
	if err != nil || last.Role != models.RoleAssistant {
		return nil
	}
	replay, err := o.db.PrecedingUserMessage(session.ID, last.CreatedAt)
	if err != nil {
		return nil
	}

	if err := o.db.DeleteMessage(last.ID); err != nil {
		o.logger.Error("failed to delete assistant message", zap.Error(err))
		return nil
	}

	before, err := o.db.MessagesBefore(session.ID, replay.CreatedAt)
	if err != nil {
		o.logger.Error("failed to rebuild history", zap.Error(err))
		return nil
	}

	t := &turn{
		session: session,
		user:    user,
		prompt:  replay.Content,
		history: buildHistory(before),
	}
	for _, att := range replay.Attachments {
		switch att.Kind {
		case models.AttachmentText:
			t.prompt += "\n\n[Attached document: " + att.Name + "]\n" + att.Content
		case models.AttachmentImage:
			t.images = append(t.images, att.URL)
		}
	}
	return t
}

// buildHistory maps stored messages to model-facing turns. Blank messages
// are skipped; any role other than "user" maps to the assistant role.
func buildHistory(msgs []models.Message) []llm.Message {
	history := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		role := llm.RoleAssistant
		if m.Role == models.RoleUser {
			role = llm.RoleUser
		}
		history = append(history, llm.Message{Role: role, Content: m.Content})
	}
	return history
}

// generate runs one turn end to end: start event, optional classification,
// context gathering, streaming completion, durable persistence, end event,
// and the detached title task.
func (o *Orchestrator) generate(parent context.Context, c *conn, t *turn) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	c.armCancel(cancel)

	if err := o.db.TouchSession(t.session.ID); err != nil {
		// Transient metadata bump; correctness of the turn is unaffected.
		o.logger.Warn("failed to touch session", zap.Error(err))
	}

	c.send(startEvent(t.tempID))

	var acc strings.Builder
	onChunk := func(chunk string) {
		acc.WriteString(chunk)
		c.send(chunkEvent(chunk))
	}
	onStatus := func(note string) {
		c.send(statusEvent(note))
	}

	intent := llm.IntentComplex
	if t.classify {
		intent = o.classifier.Classify(ctx, t.prompt)
	}

	var full string
	if intent == llm.IntentImage {
		// Tool-only turn: no streaming model call at all.
		onStatus("Generating image...")
		full = o.tools.Invoke(ctx, tools.GenerateImage, t.prompt)
		c.send(chunkEvent(full))
	} else {
		ragCtx, webCtx := o.gatherContext(ctx, t)
		req := o.buildRequest(t, intent, ragCtx, webCtx)
		full = o.gateway.Complete(ctx, req, onChunk, onStatus)

		switch {
		case ctx.Err() != nil:
			// Client went away mid-generation; keep what it saw.
			full = acc.String()
			if strings.TrimSpace(full) == "" {
				full = stoppedSentinel
			}
		case full != "" && acc.Len() == 0:
			// Provider answered without streaming; deliver in one chunk.
			c.send(chunkEvent(full))
		}
	}

	reply := &models.Message{
		SessionID: t.session.ID,
		UserID:    t.user.ID,
		Role:      models.RoleAssistant,
		Content:   full,
	}
	if err := o.db.SaveMessage(reply); err != nil {
		// The generated answer could not be made durable. Unlike the
		// title bump this must not be swallowed: degrade the end of turn
		// visibly instead.
		o.logger.Error("failed to persist assistant message", zap.Error(err))
		c.send(statusEvent("This reply could not be saved and will be missing from history."))
	}

	c.send(endEvent())

	o.maybeGenerateTitle(c, t)
}

// gatherContext runs the retrieval lookup and the web-search lookup
// concurrently. Retrieval is bounded by a short hard timeout; either
// result degrades to "" rather than blocking generation.
func (o *Orchestrator) gatherContext(ctx context.Context, t *turn) (ragCtx, webCtx string) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		rctx, cancel := context.WithTimeout(ctx, o.retrievalTimeout)
		defer cancel()
		found, err := o.retriever.Search(rctx, t.session.ID, t.prompt)
		if err != nil {
			o.logger.Debug("retrieval lookup degraded to none", zap.Error(err))
			return
		}
		ragCtx = found
	}()
	go func() {
		defer wg.Done()
		webCtx = o.searcher.Consensus(ctx, t.prompt)
	}()

	wg.Wait()
	return ragCtx, webCtx
}

func (o *Orchestrator) buildRequest(t *turn, intent llm.Intent, ragCtx, webCtx string) llm.Request {
	var b strings.Builder
	b.WriteString(t.prompt)
	if ragCtx != "" {
		b.WriteString("\n\nRelevant document excerpts:\n")
		b.WriteString(ragCtx)
	}
	if webCtx != "" && webCtx != search.Unavailable {
		b.WriteString("\n\nWeb search results:\n")
		b.WriteString(webCtx)
	}

	req := llm.Request{
		System:  systemPrompt,
		History: llm.TrimHistory(t.history, o.historyTokens, nil),
		Prompt:  b.String(),
		Images:  t.images,
		Light:   intent == llm.IntentSimple,
	}
	if intent == llm.IntentComplex {
		req.Tools = tools.Definitions()
	}
	return req
}

// maybeGenerateTitle spawns the detached title task when the session still
// carries the sentinel title. It never delays the end event; the
// conditional store update keeps a stale completion from overwriting a
// fresher title.
func (o *Orchestrator) maybeGenerateTitle(c *conn, t *turn) {
	s, err := o.db.GetSession(t.session.ID)
	if err != nil || s.Title != models.UntitledSession {
		return
	}
	firstMessage := t.prompt

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		title := o.titler.Generate(ctx, firstMessage)
		if title == "" {
			return
		}
		updated, err := o.db.UpdateSessionTitleIfUnset(t.session.ID, title)
		if err != nil {
			// Title persistence is best-effort; the next turn is
			// unaffected.
			o.logger.Warn("failed to persist session title", zap.Error(err))
			return
		}
		if updated {
			c.send(titleUpdateEvent(t.session.ID, title))
			c.send(refreshSessionsEvent())
		}
	}()
}
