package chat

import "strings"

const (
	DirectiveSubmitName   = "SUBMITNAME"
	DirectiveNameAccepted = "NAMEACCEPTED"
	DirectiveMessage      = "MESSAGE"

	whisperOpen  = "<"
	whisperDelim = "/>"
)

// InboundKind classifies one client line received in the ACTIVE state.
type InboundKind int

const (
	InboundBroadcast InboundKind = iota
	InboundWhisper
)

func (k InboundKind) String() string {
	switch k {
	case InboundWhisper:
		return "whisper"
	default:
		return "broadcast"
	}
}

// Inbound is a classified client line.
type Inbound struct {
	Kind   InboundKind
	Target string
	Text   string
}

// ParseInbound splits "<target/>payload" into a whisper; anything else is a broadcast.
// The first "/>" is the boundary. An empty target is kept and resolves to no recipient.
func ParseInbound(line string) Inbound {
	if strings.HasPrefix(line, whisperOpen) {
		if idx := strings.Index(line, whisperDelim); idx >= 0 {
			return Inbound{
				Kind:   InboundWhisper,
				Target: line[len(whisperOpen):idx],
				Text:   line[idx+len(whisperDelim):],
			}
		}
	}
	return Inbound{Kind: InboundBroadcast, Text: line}
}

// FormatWhisper renders the client line that addresses text to target.
func FormatWhisper(target, text string) string {
	return whisperOpen + target + whisperDelim + text
}

// FrameMessage renders one MESSAGE line without its terminator.
func FrameMessage(text string) string {
	return DirectiveMessage + " " + text
}

// FrameWhisper renders the MESSAGE line delivered to a whisper recipient.
func FrameWhisper(sender, text string) string {
	return FrameMessage("[Whisper from " + sender + "]: " + text)
}

// ParseServerLine splits a server line into its directive and payload.
// Unknown lines return an empty directive.
func ParseServerLine(line string) (directive string, payload string) {
	switch {
	case strings.HasPrefix(line, DirectiveSubmitName):
		return DirectiveSubmitName, ""
	case strings.HasPrefix(line, DirectiveNameAccepted):
		return DirectiveNameAccepted, ""
	case strings.HasPrefix(line, DirectiveMessage+" "):
		return DirectiveMessage, line[len(DirectiveMessage)+1:]
	case line == DirectiveMessage:
		return DirectiveMessage, ""
	default:
		return "", line
	}
}

func trimEOL(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}
