package main

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-plugin"

	"github.com/negohq/negochat/agent"
)

// A minimal reply generator for local development. It answers with canned
// responses derived from the persona template, without calling any model.

type scriptedGenerator struct{}

func (g *scriptedGenerator) Generate(req agent.ReplyRequest) (string, error) {
	last := ""
	if len(req.History) > 0 {
		last = req.History[len(req.History)-1].Text
	}
	product := req.Product
	if product == "" {
		product = "our product"
	}
	switch {
	case strings.Contains(strings.ToLower(last), "price"):
		return fmt.Sprintf("Happy to talk pricing for %s. What volume are you considering?", product), nil
	case strings.Contains(strings.ToLower(last), "hello"), strings.Contains(strings.ToLower(last), "hi"):
		return fmt.Sprintf("Hello! I can answer questions about %s.", product), nil
	default:
		return fmt.Sprintf("Thanks for your message about %s. Could you tell me a bit more about what you need?", product), nil
	}
}

func main() {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: agent.Handshake,
		Plugins: map[string]plugin.Plugin{
			"generator": &agent.GeneratorPlugin{Impl: &scriptedGenerator{}},
		},
	})
}
