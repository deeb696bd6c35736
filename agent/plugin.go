package agent

import (
	"fmt"
	"net/rpc"
	"os/exec"

	"github.com/hashicorp/go-plugin"

	"github.com/negohq/negochat/globals"
)

// Handshake guards against launching arbitrary binaries as generators.
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "NEGOCHAT_PLUGIN",
	MagicCookieValue: "6fbb019dfbf45a17",
}

// PluginMap is the set of plugins a generator binary may serve.
var PluginMap = map[string]plugin.Plugin{
	"generator": &GeneratorPlugin{},
}

// GeneratorPlugin is the net/rpc plugin wrapper around a Generator.
type GeneratorPlugin struct {
	Impl Generator
}

func (p *GeneratorPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &GeneratorRPCServer{Impl: p.Impl}, nil
}

func (p *GeneratorPlugin) Client(b *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &GeneratorRPC{client: c}, nil
}

// GeneratorRPC is the client side living in the engine process.
type GeneratorRPC struct {
	client *rpc.Client
}

func (g *GeneratorRPC) Generate(req ReplyRequest) (string, error) {
	var resp string
	err := g.client.Call("Plugin.Generate", req, &resp)
	return resp, err
}

// GeneratorRPCServer is the server side living in the plugin process.
type GeneratorRPCServer struct {
	Impl Generator
}

func (s *GeneratorRPCServer) Generate(req ReplyRequest, resp *string) error {
	reply, err := s.Impl.Generate(req)
	*resp = reply
	return err
}

// NewPluginGenerator launches the configured plugin binary and returns the
// generator client plus a cleanup function that kills the child process.
func NewPluginGenerator(command string) (Generator, func(), error) {
	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  Handshake,
		Plugins:          PluginMap,
		Cmd:              exec.Command(command),
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
		Logger:           globals.AppLogger.Named("agent-plugin"),
	})
	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, nil, err
	}
	raw, err := rpcClient.Dispense("generator")
	if err != nil {
		client.Kill()
		return nil, nil, err
	}
	gen, ok := raw.(Generator)
	if !ok {
		client.Kill()
		return nil, nil, fmt.Errorf("plugin %s does not implement the generator interface", command)
	}
	return gen, client.Kill, nil
}
