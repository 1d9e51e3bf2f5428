package tui

import "strings"

// Command is a parsed ':' command.
type Command struct {
	Name string
	Args string
}

// commandAliases maps short forms to command names.
var commandAliases = map[string]string{
	"q":  "quit",
	"h":  "help",
	"o":  "older",
	"r":  "retry",
	"re": "reset",
}

// ParseCommand parses a command string without the leading ':'.
func ParseCommand(input string) Command {
	input = strings.TrimPrefix(strings.TrimSpace(input), ":")
	parts := strings.SplitN(input, " ", 2)
	cmd := Command{Name: strings.ToLower(parts[0])}
	if full, ok := commandAliases[cmd.Name]; ok {
		cmd.Name = full
	}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	return cmd
}
