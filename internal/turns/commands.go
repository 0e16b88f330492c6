package turns

import (
	"sort"
	"strings"
)

// Slash commands recognized at the start of an outgoing message. "/new" is handled
// internally; the rest are forwarded to the host's command handler.
var slashCommands = map[string]bool{
	"/new":    true,
	"/fork":   true,
	"/review": true,
	"/resume": true,
	"/status": true,
	"/mcp":    true,
	"/export": true,
	"/import": true,
	"/lsp":    true,
	"/share":  true,
}

// SlashCommands returns the recognized command names, sorted.
func SlashCommands() []string {
	out := make([]string, 0, len(slashCommands))
	for c := range slashCommands {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// matchSlashCommand reports whether text begins with a recognized command. The match
// requires the command to be the whole first token, so "/newish x" is not a command.
func matchSlashCommand(text string) (cmd, rest string, ok bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return "", "", false
	}
	head := trimmed
	tail := ""
	if i := strings.IndexAny(trimmed, " \t\n"); i >= 0 {
		head = trimmed[:i]
		tail = strings.TrimSpace(trimmed[i:])
	}
	if !slashCommands[head] {
		return "", "", false
	}
	return head, tail, true
}

// dispatchCommand handles a matched slash command. Any images attached to the message
// are dropped; commands are text-only.
func (s *Service) dispatchCommand(cmd, rest string) error {
	if cmd == "/new" {
		engine := EngineCodex
		first := rest
		remainder := ""
		if i := strings.IndexAny(rest, " \t"); i >= 0 {
			first = rest[:i]
			remainder = strings.TrimSpace(rest[i:])
		}
		if e := Engine(strings.ToLower(strings.TrimSpace(first))); validEngine(e) {
			engine = e
		} else {
			remainder = rest
		}
		s.StartThread(engine, StartThreadOptions{})
		if remainder != "" {
			return s.HandleSend(remainder, nil, SendOptions{})
		}
		return nil
	}

	if s.commandHandler == nil {
		s.log.Warn("no handler for command", "command", cmd)
		return nil
	}
	s.commandHandler(cmd, rest)
	return nil
}

func validEngine(e Engine) bool {
	for _, known := range Engines() {
		if e == known {
			return true
		}
	}
	return false
}
