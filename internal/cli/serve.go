package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/unrcom/llamune-chat/internal/agent"
	"github.com/unrcom/llamune-chat/internal/candidate"
	"github.com/unrcom/llamune-chat/internal/config"
	"github.com/unrcom/llamune-chat/internal/mirror"
	"github.com/unrcom/llamune-chat/internal/provider"
	"github.com/unrcom/llamune-chat/internal/server"
	"github.com/unrcom/llamune-chat/internal/store"
	"github.com/unrcom/llamune-chat/internal/tools"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and GUI",
	Run:   runServe,
}

func runServe(cmd *cobra.Command, args []string) {
	printHeader("🌐 llamune Server")

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}

	st, err := openStore(cfg)
	if err != nil {
		fmt.Printf("Store error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	client := provider.NewOllamaClient(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Model.Name)
	orch := agent.NewOrchestrator(client, tools.NewRegistry(), cfg.Model.MaxToolRounds)
	pub := agent.NewPublisher(orch, st)

	if cfg.Mirror.Enabled() {
		m := mirror.New(cfg.Mirror.Brokers, cfg.Mirror.Topic)
		defer m.Close()
		pub.OnTurn = func(r agent.TurnResult) {
			m.Publish(context.Background(), mirror.TurnEvent{
				SessionID:    r.SessionID,
				MessageID:    r.MessageID,
				Model:        r.Model,
				ContentChars: len(r.Content),
				ThinkingUsed: r.Thinking != "",
				DurationMS:   r.Duration.Milliseconds(),
			})
		}
	}

	srv := server.New(cfg, st, pub, candidate.NewManager(st))
	fmt.Printf("Listening on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	if err := srv.ListenAndServe(); err != nil {
		fmt.Printf("Server error: %v\n", err)
		os.Exit(1)
	}
}

func openStore(cfg *config.Config) (*store.Store, error) {
	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		return nil, err
	}
	return store.Open(filepath.Join(cfg.Paths.DataDir, "llamune.db"))
}
