// Package bot turns inbound events into replies: classify, authorize, run the
// bound handler on the user's worker lane and commit its session update.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"relaybot/internal/auth"
	"relaybot/internal/logging"
	"relaybot/internal/metrics"
	"relaybot/internal/models"
	"relaybot/internal/router"
	"relaybot/internal/session"
	"relaybot/internal/worker"
)

const replyDenied = "You are not authorized to use this bot."

// AIClient is the generation capability handlers depend on.
type AIClient interface {
	GenerateText(ctx context.Context, history []*models.Message, input string) (string, error)
	DescribeImage(ctx context.Context, img *models.Image, prompt string) (string, error)
}

type Authorizer interface {
	Authorize(identity models.UserID, chat models.ChatContext, route models.Route) auth.Decision
}

type SessionStore interface {
	// Acquire loads or creates the session and keeps it from idle eviction
	// until release is called.
	Acquire(ctx context.Context, id models.UserID) (se *models.Session, release func(), err error)
	Apply(ctx context.Context, id models.UserID, u session.Update) (*models.Session, error)
}

// Scheduler runs fn with every other job of the same user serialized.
type Scheduler interface {
	Do(ctx context.Context, userID models.UserID, fn func(context.Context)) error
}

type Deps struct {
	Gate      Authorizer
	Sessions  SessionStore
	Scheduler Scheduler
	AI        AIClient
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

type Dispatcher struct {
	gate      Authorizer
	sessions  SessionStore
	scheduler Scheduler
	ai        AIClient
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
	routes    map[models.Route]routeEntry
}

func New(deps Deps) (*Dispatcher, error) {
	switch {
	case deps.Gate == nil:
		return nil, errors.New("bot: authorizer required")
	case deps.Sessions == nil:
		return nil, errors.New("bot: session store required")
	case deps.Scheduler == nil:
		return nil, errors.New("bot: scheduler required")
	case deps.AI == nil:
		return nil, errors.New("bot: ai client required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	d := &Dispatcher{
		gate:      deps.Gate,
		sessions:  deps.Sessions,
		scheduler: deps.Scheduler,
		ai:        deps.AI,
		metrics:   deps.Metrics,
		logger:    logging.OrDiscard(deps.Logger),
		now:       deps.Now,
	}
	d.routes = d.routeTable()
	return d, nil
}

// Dispatch is the single entry point for inbound events. It always returns an
// Outcome and never panics.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *models.Event) (out models.Outcome) {
	start := d.now()
	route := models.RouteUnhandled
	defer func() {
		if r := recover(); r != nil {
			out = d.fail(ev, route, &HandlerError{
				Kind: models.FailureInternal,
				Err:  fmt.Errorf("dispatch panic: %v\n%s", r, debug.Stack()),
			})
		}
		d.metrics.ObserveEvent(string(out.Route), string(out.Status))
		d.logOutcome(ev, out, start)
	}()

	if ev == nil {
		return models.Outcome{Route: route, Status: models.StatusDropped, Failure: models.FailureUnhandled}
	}
	route = router.Classify(ev)
	if route == models.RouteUnhandled {
		return models.Outcome{EventID: ev.ID, Route: route, Status: models.StatusDropped, Failure: models.FailureUnhandled}
	}

	if dec := d.gate.Authorize(ev.UserID, ev.Chat, route); !dec.Allowed {
		return d.deny(ev, route, dec)
	}

	entry, ok := d.routes[route]
	if !ok {
		return d.fail(ev, route, &HandlerError{Kind: models.FailureInternal, Err: fmt.Errorf("no handler for route %s", route)})
	}

	var (
		res    Result
		runErr error
	)
	err := d.scheduler.Do(ctx, ev.UserID, func(jobCtx context.Context) {
		res, runErr = d.run(jobCtx, entry, ev, route)
	})
	switch {
	case errors.Is(err, worker.ErrSchedulerBusy), errors.Is(err, worker.ErrSchedulerStopped):
		d.metrics.SchedulerRejected()
		return d.fail(ev, route, transient(replyBusy, err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return d.fail(ev, route, &HandlerError{Kind: models.FailureCanceled, Err: err})
	case err != nil:
		return d.fail(ev, route, &HandlerError{Kind: models.FailureInternal, Err: err})
	case runErr != nil:
		return d.fail(ev, route, asHandlerError(runErr))
	}

	out = models.Outcome{EventID: ev.ID, Route: route, Status: models.StatusReplied, Reply: res.Reply}
	if res.Reply == "" {
		out.Status = models.StatusDropped
	}
	return out
}

// run executes one handler on the user's lane. The session update is applied
// only after the handler returned successfully.
func (d *Dispatcher) run(ctx context.Context, entry routeEntry, ev *models.Event, route models.Route) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerError{
				Kind: models.FailureInternal,
				Err:  fmt.Errorf("handler panic: %v\n%s", r, debug.Stack()),
			}
		}
	}()

	if err := ctx.Err(); err != nil {
		return Result{}, &HandlerError{Kind: models.FailureCanceled, Err: err}
	}

	req := Request{Event: ev, Route: route}
	if entry.needsSession {
		se, release, err := d.sessions.Acquire(ctx, ev.UserID)
		if err != nil {
			return Result{}, &HandlerError{Kind: models.FailureSessionStore, Err: fmt.Errorf("load session: %w", err)}
		}
		defer release()
		req.Session = se
	}

	res, err = entry.handler(ctx, req)
	if err != nil {
		return Result{}, err
	}
	// the caller already gave up; the reply was never delivered
	if err := ctx.Err(); err != nil {
		return Result{}, &HandlerError{Kind: models.FailureCanceled, Err: err}
	}
	if res.Update.Kind != session.UpdateNone {
		if _, err := d.sessions.Apply(ctx, ev.UserID, res.Update); err != nil {
			return Result{}, &HandlerError{Kind: models.FailureSessionStore, Err: fmt.Errorf("apply %s: %w", res.Update.Kind, err)}
		}
	}
	return res, nil
}

// deny answers direct chats with a fixed reply and drops group noise.
func (d *Dispatcher) deny(ev *models.Event, route models.Route, dec auth.Decision) models.Outcome {
	out := models.Outcome{
		EventID: ev.ID,
		Route:   route,
		Status:  models.StatusDenied,
		Failure: models.FailureDenied,
	}
	if !ev.Chat.IsGroup() {
		out.Reply = replyDenied
	}
	d.logger.Info("event denied",
		"event_id", ev.ID,
		"route", route,
		"user_id", ev.UserID,
		"chat_type", ev.Chat.Type,
		"reason", dec.Reason,
	)
	return out
}

// fail converts a failure into an Outcome and logs it at the matching level.
func (d *Dispatcher) fail(ev *models.Event, route models.Route, herr *HandlerError) models.Outcome {
	out := models.Outcome{
		Route:     route,
		Status:    models.StatusFailed,
		Failure:   herr.Kind,
		Retryable: herr.Kind == models.FailureTransient,
	}
	attrs := []any{"route", route, "failure", herr.Kind, "error", herr.Err}
	if ev != nil {
		out.EventID = ev.ID
		attrs = append(attrs, "event_id", ev.ID, "user_id", ev.UserID, "chat_type", ev.Chat.Type)
	}

	switch herr.Kind {
	case models.FailureCanceled:
		d.logger.Debug("event canceled", attrs...)
		return out
	case models.FailureTransient:
		out.Reply = orDefault(herr.Msg, replyTransient)
		d.logger.Warn("handler failed", attrs...)
	case models.FailurePermanent:
		out.Reply = orDefault(herr.Msg, replyPermanent)
		d.logger.Info("handler failed", attrs...)
	default:
		d.logger.Error("handler failed", attrs...)
		// ambient group chatter fails quietly
		if ev != nil && (route.IsCommand() || !ev.Chat.IsGroup()) {
			out.Reply = replyGeneric
		}
	}
	return out
}

func (d *Dispatcher) logOutcome(ev *models.Event, out models.Outcome, start time.Time) {
	if ev == nil {
		return
	}
	d.logger.Debug("event dispatched",
		"event_id", ev.ID,
		"route", out.Route,
		"user_id", ev.UserID,
		"chat_type", ev.Chat.Type,
		"status", out.Status,
		"duration", d.now().Sub(start),
	)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
