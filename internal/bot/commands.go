package bot

import "relaybot/internal/router"

// Command is one entry of the command menu registered with the platform.
type Command struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

// CommandSet is the menu per scope: Private applies to direct chats, Groups to
// every group chat.
type CommandSet struct {
	Private []Command `json:"private"`
	Groups  []Command `json:"groups"`
}

// Commands returns the command surface the transport registers at startup.
func Commands() CommandSet {
	common := []Command{
		{Command: router.CommandHelp, Description: "Get help"},
		{Command: router.CommandNew, Description: "Reset chat session"},
	}
	groups := []Command{
		{Command: router.CommandChat, Description: "Send a message to the bot"},
		{Command: router.CommandVision, Description: "Describe what is on a photo"},
	}
	return CommandSet{
		Private: append([]Command(nil), common...),
		Groups:  append(groups, common...),
	}
}
