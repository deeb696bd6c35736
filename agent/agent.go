// Package agent defines the reply generator contract for rooms assigned to
// an automated persona, plus the go-plugin transport that lets generators
// run out of process.
package agent

import (
	"fmt"
	"strings"

	"github.com/negohq/negochat/types"
)

// Utterance is one line of recent room history handed to the generator.
type Utterance struct {
	Sender string
	Text   string
}

// ReplyRequest carries everything a generator needs to produce one reply.
type ReplyRequest struct {
	RoomId   string
	RoomName string
	Template string
	Product  string
	Prompt   string
	History  []Utterance
}

// Generator produces one reply to the most recent utterance. An empty reply
// with a nil error means the generator chose not to answer.
type Generator interface {
	Generate(req ReplyRequest) (string, error)
}

const historyWindow = 12

// BuildPrompt assembles the persona guidance for a reply. A nil template
// falls back to a generic assistant persona.
func BuildPrompt(tpl *types.AgentTemplate, roomName string, history []Utterance) string {
	var b strings.Builder
	if tpl != nil && tpl.Instructions != "" {
		b.WriteString(tpl.Instructions)
	} else {
		b.WriteString("You are a helpful assistant in a negotiation chat. Answer briefly and stay on topic.")
	}
	b.WriteString("\n")
	if tpl != nil && tpl.Product != "" {
		fmt.Fprintf(&b, "Product: %s\n", tpl.Product)
	}
	if tpl != nil && tpl.KPIs != "" {
		fmt.Fprintf(&b, "Goals: %s\n", tpl.KPIs)
	}
	if tpl != nil && tpl.WebsiteText != "" {
		fmt.Fprintf(&b, "Background: %s\n", tpl.WebsiteText)
	}
	if tpl != nil && tpl.DocumentText != "" {
		fmt.Fprintf(&b, "Reference material: %s\n", tpl.DocumentText)
	}
	if roomName != "" {
		fmt.Fprintf(&b, "Conversation: %s\n", roomName)
	}
	if len(history) > 0 {
		b.WriteString("Recent messages:\n")
		start := 0
		if len(history) > historyWindow {
			start = len(history) - historyWindow
		}
		for _, u := range history[start:] {
			fmt.Fprintf(&b, "%s: %s\n", u.Sender, u.Text)
		}
	}
	return b.String()
}
