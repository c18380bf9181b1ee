package bot

import (
	"strings"
)

// CommandKind identifies a parsed ft command.
type CommandKind int

const (
	CommandInvalid CommandKind = iota
	CommandStartCall
	CommandEndCall
	CommandDevices
	CommandUse
	CommandStatus
)

// Command is a parsed "<prefix>ft ..." message.
type Command struct {
	Kind     CommandKind
	Capture  string
	Playback string
}

// ParseCommand parses a message. ok is false when the message is not
// addressed to the bot at all.
//
// Device arguments are separated by "|" so names may contain spaces:
//
//	~ft start call WhiteHole 2ch | BlackHole 2ch
//	~ft start call WhiteHole BlackHole
func ParseCommand(prefix, content string) (cmd Command, ok bool) {
	content = strings.TrimSpace(content)
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return Command{}, false
	}

	fields := strings.Fields(strings.TrimPrefix(content, prefix))
	if len(fields) == 0 || fields[0] != "ft" {
		return Command{}, false
	}
	fields = fields[1:]

	switch {
	case len(fields) >= 2 && fields[0] == "start" && fields[1] == "call":
		capture, playback, valid := parseDevices(fields[2:], false)
		if !valid {
			return Command{Kind: CommandInvalid}, true
		}
		return Command{Kind: CommandStartCall, Capture: capture, Playback: playback}, true
	case len(fields) == 2 && fields[0] == "end" && fields[1] == "call":
		return Command{Kind: CommandEndCall}, true
	case len(fields) == 1 && fields[0] == "devices":
		return Command{Kind: CommandDevices}, true
	case len(fields) == 1 && fields[0] == "status":
		return Command{Kind: CommandStatus}, true
	case len(fields) >= 1 && fields[0] == "use":
		capture, playback, valid := parseDevices(fields[1:], true)
		if !valid {
			return Command{Kind: CommandInvalid}, true
		}
		return Command{Kind: CommandUse, Capture: capture, Playback: playback}, true
	}
	return Command{Kind: CommandInvalid}, true
}

// parseDevices reads "[capture] [playback]" or "capture | playback".
func parseDevices(args []string, required bool) (capture, playback string, ok bool) {
	if len(args) == 0 {
		return "", "", !required
	}

	joined := strings.Join(args, " ")
	if strings.Contains(joined, "|") {
		parts := strings.Split(joined, "|")
		if len(parts) != 2 {
			return "", "", false
		}
		capture, playback = strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	} else {
		switch len(args) {
		case 1:
			capture = args[0]
		case 2:
			capture, playback = args[0], args[1]
		default:
			return "", "", false
		}
	}

	if required && (capture == "" || playback == "") {
		return "", "", false
	}
	return capture, playback, true
}
