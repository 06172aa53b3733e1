package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/unrcom/llamune-chat/internal/agent"
	"github.com/unrcom/llamune-chat/internal/candidate"
	"github.com/unrcom/llamune-chat/internal/config"
	"github.com/unrcom/llamune-chat/internal/provider"
	"github.com/unrcom/llamune-chat/internal/store"
	"github.com/unrcom/llamune-chat/internal/tools"
)

var (
	chatModel     string
	chatWorkspace string
	chatSessionID string
	chatThinking  bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the model in an interactive shell",
	Run:   runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "", "Model to use (default from config)")
	chatCmd.Flags().StringVarP(&chatWorkspace, "workspace", "w", "", "Directory to attach as a read-only workspace")
	chatCmd.Flags().StringVarP(&chatSessionID, "session", "s", "", "Session ID to resume")
	chatCmd.Flags().BoolVar(&chatThinking, "thinking", false, "Show the model's thinking stream")
}

// shell is the interactive chat state. Everything a command needs travels
// on this struct; the command handlers never reach for package globals.
type shell struct {
	cfg          *config.Config
	store        *store.Store
	publisher    *agent.Publisher
	candidates   *candidate.Manager
	sess         *store.Session
	out          io.Writer
	showThinking bool
}

func runChat(cmd *cobra.Command, args []string) {
	printHeader("💬 llamune Chat")

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

	s := &shell{
		cfg:          cfg,
		store:        st,
		publisher:    agent.NewPublisher(orch, st),
		candidates:   candidate.NewManager(st),
		out:          os.Stdout,
		showThinking: chatThinking,
	}
	if err := s.openSession(chatSessionID); err != nil {
		fmt.Printf("Session error: %v\n", err)
		os.Exit(1)
	}

	model := chatModel
	if model == "" {
		model = s.sess.Model
	}
	fmt.Printf("Model: %s    Session: %s\n", model, s.sess.ID)
	if s.sess.WorkspaceRoot != "" {
		fmt.Printf("Workspace: %s\n", s.sess.WorkspaceRoot)
	}
	fmt.Println("Commands: /retry /accept /reject /quit")

	s.repl(os.Stdin)
}

// openSession resumes the given session or creates a fresh one owned by the
// local shell user.
func (s *shell) openSession(id string) error {
	if id != "" {
		sess, err := s.store.GetSession(id)
		if err != nil {
			return fmt.Errorf("resume session %s: %w", id, err)
		}
		s.sess = sess
		return nil
	}

	u, err := s.localUser()
	if err != nil {
		return err
	}
	model := chatModel
	if model == "" {
		model = s.cfg.Model.Name
	}
	sess, err := s.store.CreateSession(&store.Session{
		UserID:        u.ID,
		Model:         model,
		WorkspaceRoot: chatWorkspace,
	})
	if err != nil {
		return err
	}
	s.sess = sess
	return nil
}

// localUser finds or creates the account the shell runs under.
func (s *shell) localUser() (*store.User, error) {
	users, err := s.store.ListUsers()
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.Name == "local" {
			return &u, nil
		}
	}
	return s.store.CreateUser("local")
}

func (s *shell) repl(in io.Reader) {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, color.GreenString("you> "))
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return
		case line == "/retry":
			s.retry()
		case line == "/accept":
			s.resolve(s.candidates.Accept, "kept the retry")
		case line == "/reject":
			s.resolve(s.candidates.Reject, "kept the original")
		case strings.HasPrefix(line, "/"):
			fmt.Fprintf(s.out, "Unknown command: %s\n", line)
		default:
			s.send(line)
		}
	}
}

func (s *shell) send(text string) {
	if _, err := s.store.Append(s.sess.ID, &store.Message{
		Role:    provider.RoleUser,
		Content: text,
	}); err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	if s.sess.Title == "" {
		s.sess.Title = agent.TitleFromPrompt(text)
		_ = s.store.UpdateSession(s.sess)
	}

	log, err := s.store.ListMessages(s.sess.ID)
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	s.runTurn(agent.HistoryMessages(log))
}

func (s *shell) retry() {
	log, err := s.store.ListMessages(s.sess.ID)
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	messages, err := agent.RetryMessages(log)
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	s.runTurn(messages)
	fmt.Fprintln(s.out, "Two answers are on record now. /accept keeps the new one, /reject keeps the old one.")
}

func (s *shell) resolve(fn func(string) error, outcome string) {
	if err := fn(s.sess.ID); err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "Done, %s.\n", outcome)
}

// runTurn streams one answer, printing content deltas as the cumulative
// frames grow.
func (s *shell) runTurn(messages []provider.Message) {
	model := chatModel
	if model == "" {
		model = s.sess.Model
	}
	req := &agent.TurnRequest{
		SessionID:     s.sess.ID,
		Model:         model,
		Temperature:   s.cfg.Model.Temperature,
		SystemPrompt:  s.cfg.Model.SystemPrompt,
		WorkspaceRoot: s.sess.WorkspaceRoot,
		Messages:      messages,
	}

	printedContent := 0
	printedThinking := 0
	for ev := range s.publisher.Run(context.Background(), req) {
		if ev.Err != nil {
			fmt.Fprintf(s.out, "\n%s %v\n", color.RedString("Error:"), ev.Err)
			return
		}
		if s.showThinking && len(ev.Thinking) > printedThinking {
			fmt.Fprint(s.out, color.HiBlackString(ev.Thinking[printedThinking:]))
			printedThinking = len(ev.Thinking)
		}
		if len(ev.Content) > printedContent {
			fmt.Fprint(s.out, ev.Content[printedContent:])
			printedContent = len(ev.Content)
		}
	}
	fmt.Fprintln(s.out)
}
