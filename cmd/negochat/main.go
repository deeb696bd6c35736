package main

import (
	"net/http"
	"os"
	"os/signal"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
	"github.com/spf13/pflag"

	"github.com/negohq/negochat/agent"
	"github.com/negohq/negochat/config"
	"github.com/negohq/negochat/globals"
	"github.com/negohq/negochat/persistence"
	"github.com/negohq/negochat/ws"
)

var (
	configPath  = pflag.StringP("config", "c", "", "path to config file or directory")
	addr        = pflag.String("addr", "", "service address (including port)")
	agentPlugin = pflag.String("agent-plugin", "", "path to a reply generator plugin binary (optional)")
	sslCert     = pflag.String("ssl-cert", "", "SSL cert for websocket (optional)")
	sslKey      = pflag.String("ssl-key", "", "SSL key for websocket (optional)")

	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
)

func main() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	go func() {
		<-c
		plugin.CleanupClients()
		os.Exit(1)
	}()

	pflag.CommandLine.AddFlagSet(config.GetFlagSet())
	pflag.Parse()

	cfg, err := config.ReadConfiguration(*configPath, pflag.CommandLine)
	if err != nil {
		panic(err)
	}
	if cfg.LogLevel != "" {
		globals.AppLogger.SetLevel(hclog.LevelFromString(cfg.LogLevel))
	}
	if *addr != "" {
		cfg.ServerConfig.Addr = *addr
	}
	if *sslCert != "" {
		cfg.ServerConfig.SSLCert = *sslCert
	}
	if *sslKey != "" {
		cfg.ServerConfig.SSLKey = *sslKey
	}
	if *agentPlugin != "" {
		cfg.AgentConfig.Plugin = *agentPlugin
	}

	persister, err := persistence.NewPersister(cfg)
	if err != nil {
		panic(err)
	}
	defer persister.Close()

	var generator agent.Generator
	if cfg.AgentConfig.Plugin != "" {
		gen, cleanup, err := agent.NewPluginGenerator(cfg.AgentConfig.Plugin)
		if err != nil {
			panic(err)
		}
		defer cleanup()
		generator = gen
	}

	hub := ws.NewHub(cfg, persister, generator)
	go hub.Run()
	defer hub.Close()

	router := mux.NewRouter()
	router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(hub, w, r)
	})
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	globals.AppLogger.Info("starting server", "addr", cfg.ServerConfig.Addr)
	if cfg.ServerConfig.SSLCert != "" && cfg.ServerConfig.SSLKey != "" {
		err = http.ListenAndServeTLS(cfg.ServerConfig.Addr, cfg.ServerConfig.SSLCert, cfg.ServerConfig.SSLKey, router)
	} else {
		err = http.ListenAndServe(cfg.ServerConfig.Addr, router)
	}
	globals.AppLogger.Error("server stopped", "error", err)
}

func serveWs(hub *ws.Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		globals.AppLogger.Error("could not upgrade connection", "error", err)
		return
	}
	client := ws.NewClient(hub, conn)
	hub.Attach(client)
	globals.AppLogger.Debug("new connection", "connection", client.Id, "remote", r.RemoteAddr)

	go client.WriteLoop()
	go client.ReadLoop()
}
