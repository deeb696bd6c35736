package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/negohq/negochat/types"
)

func TestBuildPromptWithTemplate(t *testing.T) {
	tpl := &types.AgentTemplate{
		Template:     "sales-engineer",
		Product:      "Widget Pro",
		KPIs:         "close rate",
		Instructions: "You sell widgets.",
		WebsiteText:  "Widgets since 1999.",
	}
	history := []Utterance{
		{Sender: "Ann", Text: "hello"},
		{Sender: "Sales Engineer", Text: "hi"},
	}
	prompt := BuildPrompt(tpl, "Widget Chat", history)

	assert.True(t, strings.HasPrefix(prompt, "You sell widgets."))
	assert.Contains(t, prompt, "Product: Widget Pro")
	assert.Contains(t, prompt, "Goals: close rate")
	assert.Contains(t, prompt, "Widgets since 1999.")
	assert.Contains(t, prompt, "Ann: hello")
}

func TestBuildPromptFallbackPersona(t *testing.T) {
	prompt := BuildPrompt(nil, "", nil)
	assert.Contains(t, prompt, "helpful assistant")
	assert.NotContains(t, prompt, "Product:")
}

func TestBuildPromptLimitsHistoryWindow(t *testing.T) {
	history := make([]Utterance, 0, 30)
	for i := 0; i < 30; i++ {
		history = append(history, Utterance{Sender: "Ann", Text: strings.Repeat("x", i+1)})
	}
	prompt := BuildPrompt(nil, "Room", history)
	// only the tail of the conversation is included
	assert.NotContains(t, prompt, "Ann: x\n")
	assert.Contains(t, prompt, "Ann: "+strings.Repeat("x", 30))
}
