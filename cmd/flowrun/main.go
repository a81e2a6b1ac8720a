// Command flowrun serves the flow engine over http.
//
//	flowrun -c flowrun.ini
//
// Flows are loaded from .flow scripts or JSON documents. Runs are started
// through the API, through [trigger.*] event bindings, through [schedule.*]
// cron entries, or by the /flow-run chat command.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sashabaranov/go-openai"

	"flowrun/flows"
	"flowrun/history"
	"flowrun/host"
	"flowrun/kv"
	"flowrun/nodes"
	"flowrun/orchestrator"
)

const version = "1.0.0"

func main() {
	var (
		configFile string
		ver        bool
	)
	flag.StringVar(&configFile, "c", "", "config file")
	flag.BoolVar(&ver, "v", false, "print version")
	flag.Parse()

	if ver {
		fmt.Printf("flowrun v%s\n", version)
		return
	}

	if err := run(configFile); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	c, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	logger := newLogger(c.LogLevel, c.LogFormat, os.Stdout)
	logger.Info("starting flowrun", "version", version, "config", configFile)

	app, err := setup(c, logger)
	if err != nil {
		return err
	}
	defer app.close()

	srv := &http.Server{
		Addr:              c.Server,
		Handler:           app.server.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", c.Server)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-sigs:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	logger.Info("stopped server")
	return nil
}

// application holds everything main wires together.
type application struct {
	orch   *orchestrator.Orchestrator
	bag    *host.Bag
	store  kv.KVStore
	server *server
	logger *slog.Logger
}

func setup(c Config, logger *slog.Logger) (*application, error) {
	var store kv.KVStore = kv.NewInMemoryKVStore()
	if c.HistoryFile != "" {
		fileStore, err := kv.NewFileBasedKVStore(c.HistoryFile)
		if err != nil {
			return nil, err
		}
		store = fileStore
	}
	hist, err := history.NewStore(store, history.WithMaxEntries(c.HistorySize))
	if err != nil {
		store.Close()
		return nil, err
	}

	bagOpts := []host.Option{host.WithLogger(logger)}
	if c.OpenAI.APIKey != "" {
		cfg := openai.DefaultConfig(c.OpenAI.APIKey)
		if c.OpenAI.BaseURL != "" {
			cfg.BaseURL = c.OpenAI.BaseURL
		}
		bagOpts = append(bagOpts, host.WithOpenAI(openai.NewClientWithConfig(cfg), c.OpenAI.Model))
	} else {
		logger.Info("no openai api key, llm nodes use mock replies")
	}
	bag := host.New(bagOpts...)

	flowStore := orchestrator.NewMemoryFlowStore()
	if err := loadFlows(flowStore, c.Flows); err != nil {
		store.Close()
		return nil, err
	}

	registry := nodes.NewDefaultRegistry()
	events := newEventLog(maxRecordedEvents)
	orch, err := orchestrator.New(orchestrator.Config{
		Flows:          flowStore,
		Registry:       registry,
		Bag:            bag,
		History:        hist,
		Monitors:       []flows.Monitor{events},
		Logger:         logger,
		MaxDepth:       c.MaxDepth,
		AllowDangerous: c.AllowDangerous,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	registerCommands(bag, orch)

	for _, b := range c.Triggers {
		if err := orch.Bind(b); err != nil {
			store.Close()
			return nil, err
		}
	}
	for _, s := range c.Schedules {
		input, err := s.DecodeInput()
		if err == nil {
			_, err = orch.Schedule(s.Spec, s.FlowID, input)
		}
		if err != nil {
			store.Close()
			return nil, err
		}
	}
	orch.Start()

	logger.Info("flows loaded", "count", len(flowStore.List()), "triggers", len(c.Triggers), "schedules", len(c.Schedules))
	return &application{
		orch:   orch,
		bag:    bag,
		store:  store,
		server: &server{orch: orch, registry: registry, events: events, logger: logger},
		logger: logger,
	}, nil
}

// registerCommands exposes the chat commands that drive the engine.
func registerCommands(bag *host.Bag, orch *orchestrator.Orchestrator) {
	bag.RegisterSlash("/flow-run", func(ctx context.Context, args string) (string, error) {
		name, params := splitFlowArgs(args)
		if name == "" {
			return "", errors.New("usage: /flow-run <flow> [json params]")
		}
		return orch.RunFlowByName(ctx, name, params), nil
	})
	bag.RegisterSlash("/flow-stop", func(context.Context, string) (string, error) {
		return orch.StopAllFlows(), nil
	})
}

// splitFlowArgs separates the flow name from its JSON parameters. Names
// containing spaces are double quoted.
func splitFlowArgs(args string) (name, params string) {
	args = strings.TrimSpace(args)
	if rest, ok := strings.CutPrefix(args, `"`); ok {
		if name, params, ok = strings.Cut(rest, `"`); ok {
			return name, strings.TrimSpace(params)
		}
	}
	name, params, _ = strings.Cut(args, " ")
	return name, strings.TrimSpace(params)
}

// close stops the scheduler, aborts pending work and flushes storage.
func (a *application) close() {
	<-a.orch.Stop().Done()
	if msg := a.orch.AbortAllRuns(); msg != "" {
		a.logger.Info(msg)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.orch.Wait(ctx); err != nil {
		a.logger.Warn("runs still active at shutdown", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", "error", err)
	}
}
