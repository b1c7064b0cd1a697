package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"relaybot/internal/models"
	"relaybot/internal/router"
	"relaybot/internal/session"
)

const (
	replyReset = "New chat session started."
	helpText   = `Available commands:
/help - Get help
/new - Reset chat session

In groups:
/chat <message> - Send a message to the bot
/vision - Describe what is on a photo (attach the photo)

In a private chat just send text or a photo.`
)

// Request is what a handler sees. Session is a copy and is nil for routes
// that do not need conversation state.
type Request struct {
	Event   *models.Event
	Route   models.Route
	Session *models.Session
}

// Result carries the reply and the session delta committed after success.
type Result struct {
	Reply  string
	Update session.Update
}

type Handler func(ctx context.Context, req Request) (Result, error)

type routeEntry struct {
	handler      Handler
	needsSession bool
}

// routeTable binds every routable Route to its handler.
func (d *Dispatcher) routeTable() map[models.Route]routeEntry {
	return map[models.Route]routeEntry{
		models.RouteStart:         {handler: d.handleStart},
		models.RouteHelp:          {handler: d.handleHelp},
		models.RouteResetSession:  {handler: d.handleReset},
		models.RouteGroupText:     {handler: d.handleText, needsSession: true},
		models.RouteFreeformText:  {handler: d.handleText, needsSession: true},
		models.RouteGroupImage:    {handler: d.handleVision, needsSession: true},
		models.RouteFreeformImage: {handler: d.handleVision, needsSession: true},
	}
}

func (d *Dispatcher) handleStart(_ context.Context, req Request) (Result, error) {
	name := strings.TrimSpace(req.Event.DisplayName)
	if name == "" {
		name = "there"
	}
	reply := fmt.Sprintf("Hi %s!\n\nStart sending messages with me to generate a response.\n\nSend /new to start a new chat session.", name)
	return Result{Reply: reply, Update: session.NoUpdate()}, nil
}

func (d *Dispatcher) handleHelp(context.Context, Request) (Result, error) {
	return Result{Reply: helpText, Update: session.NoUpdate()}, nil
}

func (d *Dispatcher) handleReset(context.Context, Request) (Result, error) {
	return Result{Reply: replyReset, Update: session.ResetUpdate()}, nil
}

func (d *Dispatcher) handleText(ctx context.Context, req Request) (Result, error) {
	prompt := router.Prompt(req.Event)
	if prompt == "" {
		return Result{}, permanent("Please add a message, for example: /chat What's the weather like on Mars?", nil)
	}

	start := time.Now()
	reply, err := d.ai.GenerateText(ctx, req.Session.History, prompt)
	d.metrics.ObserveAI("text", start, err)
	if err != nil {
		return Result{}, classifyAIError(err)
	}

	now := d.now()
	return Result{
		Reply: reply,
		Update: session.AppendUpdate(
			&models.Message{Role: models.RoleUser, Content: prompt, CreatedAt: req.Event.ReceivedAt},
			&models.Message{Role: models.RoleAssistant, Content: reply, CreatedAt: now},
		),
	}, nil
}

// handleVision describes one photo. It ignores the conversation history.
func (d *Dispatcher) handleVision(ctx context.Context, req Request) (Result, error) {
	if req.Event.Image.Empty() {
		return Result{}, permanent("Please attach a photo to /vision.", nil)
	}

	start := time.Now()
	reply, err := d.ai.DescribeImage(ctx, req.Event.Image, router.Prompt(req.Event))
	d.metrics.ObserveAI("vision", start, err)
	if err != nil {
		return Result{}, classifyAIError(err)
	}
	return Result{Reply: reply, Update: session.TouchUpdate()}, nil
}
