// Package router maps inbound events onto the fixed set of dispatch routes.
package router

import (
	"strings"

	"relaybot/internal/models"
)

const (
	CommandStart  = "start"
	CommandHelp   = "help"
	CommandNew    = "new"
	CommandReset  = "reset"
	CommandChat   = "chat"
	CommandVision = "vision"
)

// Command is a parsed leading bot command.
type Command struct {
	Name string
	Args string
}

// ParseCommand extracts a leading "/name[@bot] args" command from text.
// A bare "/" or a name with characters outside [a-z0-9_] is not a command.
func ParseCommand(text string) (Command, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return Command{}, false
	}
	head, args, _ := strings.Cut(text[1:], " ")
	if i := strings.IndexAny(head, "\n\t"); i >= 0 {
		args = head[i+1:] + " " + args
		head = head[:i]
	}
	name, _, _ := strings.Cut(head, "@")
	name = strings.ToLower(name)
	if name == "" || !validCommandName(name) {
		return Command{Name: name}, true
	}
	return Command{Name: name, Args: strings.TrimSpace(args)}, true
}

func validCommandName(name string) bool {
	if len(name) > 32 {
		return false
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return false
		}
	}
	return true
}

// Classify assigns exactly one route to every event. It has no side effects.
// An explicit command always wins over content-type inference.
func Classify(ev *models.Event) models.Route {
	if ev == nil {
		return models.RouteUnhandled
	}
	if cmd, ok := ParseCommand(ev.Text); ok {
		return classifyCommand(cmd, ev.Chat)
	}
	switch {
	case ev.HasImage():
		return models.RouteFreeformImage
	case ev.HasText():
		return models.RouteFreeformText
	default:
		return models.RouteUnhandled
	}
}

func classifyCommand(cmd Command, chat models.ChatContext) models.Route {
	switch cmd.Name {
	case CommandStart:
		return models.RouteStart
	case CommandHelp:
		return models.RouteHelp
	case CommandNew, CommandReset:
		return models.RouteResetSession
	case CommandChat:
		if chat.IsGroup() {
			return models.RouteGroupText
		}
	case CommandVision:
		if chat.IsGroup() {
			return models.RouteGroupImage
		}
	}
	return models.RouteUnhandled
}

// Prompt returns the text the handler should forward to the model: the command
// arguments for command routes, the trimmed text otherwise.
func Prompt(ev *models.Event) string {
	if cmd, ok := ParseCommand(ev.Text); ok {
		return cmd.Args
	}
	return strings.TrimSpace(ev.Text)
}
