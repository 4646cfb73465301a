// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// loomctl - Interactive terminal client for the codeloom gateway.
//
// Provides a REPL with input history and line editing that streams
// assistant replies as they arrive.
//
// Examples:
//   loomctl                                 Connect to the default gateway
//   loomctl --gateway http://host:8089      Connect to a remote gateway
//   loomctl --workspace team-a --project x  Scope memory to a project
//   loomctl --no-stream                     Wait for complete replies
//
// Interactive Commands (during chat):
//   /help, /h           Show available commands
//   /clear, /c          Clear conversation history
//   /history            Show conversation history
//   /quit, /q           Exit chat
//   Ctrl+C              Cancel current generation
//   Ctrl+D              Exit chat
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/peterh/liner"

	"github.com/codeloom/codeloom/internal/chat"
	"github.com/codeloom/codeloom/internal/client"
	"github.com/codeloom/codeloom/internal/config"
	"github.com/codeloom/codeloom/internal/provider"
	"github.com/codeloom/codeloom/internal/util"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	welcomeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("99")).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	commandStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	roleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// inputReader wraps liner with persistent history in the config directory.
type inputReader struct {
	line        *liner.State
	historyFile string
}

func newInputReader() *inputReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}

	r := &inputReader{
		line:        line,
		historyFile: filepath.Join(configDir, "loomctl_history"),
	}
	r.loadHistory()
	return r
}

func (r *inputReader) loadHistory() {
	if f, err := os.Open(r.historyFile); err == nil {
		r.line.ReadHistory(f)
		f.Close()
	}
}

func (r *inputReader) saveHistory() {
	if err := config.EnsureConfigDir(); err != nil {
		return
	}
	f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	r.line.WriteHistory(f)
}

// ReadInput reads one line with history navigation.
func (r *inputReader) ReadInput(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history and closes the liner.
func (r *inputReader) Close() {
	r.saveHistory()
	r.line.Close()
}

// =============================================================================
// SESSION STATE
// =============================================================================

// session holds the state for one interactive chat session.
type session struct {
	client         *client.Client
	input          *inputReader
	conversationID string
	workspaceID    string
	projectID      string
	history        []provider.Message
	noStream       bool

	// Cancels the in-flight turn on Ctrl+C.
	cancelTurn context.CancelFunc
}

func main() {
	gateway := flag.String("gateway", "http://127.0.0.1:8089", "gateway base URL")
	workspace := flag.String("workspace", "default", "workspace identifier")
	project := flag.String("project", "", "project identifier (optional)")
	noStream := flag.Bool("no-stream", false, "wait for complete replies instead of streaming")
	flag.Parse()

	if err := run(*gateway, *workspace, *project, *noStream); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
		os.Exit(1)
	}
}

func run(gateway, workspace, project string, noStream bool) error {
	c := client.NewClient(gateway)

	if err := c.Health(context.Background()); err != nil {
		return fmt.Errorf("gateway unreachable at %s: %w", gateway, err)
	}

	s := &session{
		client:      c,
		input:       newInputReader(),
		workspaceID: workspace,
		projectID:   project,
		noStream:    noStream,
	}
	defer s.input.Close()

	printWelcome(gateway, workspace, project)

	// First Ctrl+C during generation cancels the turn instead of exiting.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			if s.cancelTurn != nil {
				s.cancelTurn()
				s.cancelTurn = nil
				fmt.Fprintln(os.Stderr, "\n"+warningStyle.Render("[Cancelled]"))
			}
		}
	}()

	for {
		input, err := s.input.ReadInput(promptStyle.Render("loom> "))
		if err != nil {
			// Ctrl+C at the prompt or Ctrl+D both exit gracefully.
			fmt.Println()
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if !handleSlashCommand(input, s) {
				return nil
			}
			continue
		}

		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			return nil
		}

		if err := s.sendTurn(input); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
		}
	}
}

// =============================================================================
// MESSAGE PROCESSING
// =============================================================================

// sendTurn sends one user message and prints the assistant reply, keeping
// the conversation history so follow-up turns carry context.
func (s *session) sendTurn(input string) error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelTurn = cancel
	defer func() {
		s.cancelTurn = nil
		cancel()
	}()

	req := s.request(input)

	var content string
	var err error
	if s.noStream {
		content, err = s.client.CompleteTurn(ctx, req)
		if err == nil {
			fmt.Println(content)
		}
	} else {
		content, err = s.client.StreamTurn(ctx, req, func(delta string) {
			fmt.Print(delta)
		})
		fmt.Println()
	}
	if err != nil {
		// A cancelled turn keeps the partial reply in history so the
		// follow-up question still has context.
		if content == "" {
			return err
		}
		fmt.Fprintf(os.Stderr, "%s %v\n", warningStyle.Render("[Interrupted]"), err)
	}

	s.history = append(s.history,
		provider.NewUserMessage(input),
		provider.NewAssistantMessage(content),
	)
	return nil
}

func (s *session) request(input string) chat.Request {
	if s.conversationID == "" {
		s.conversationID = uuid.NewString()
	}
	return chat.Request{
		ConversationID: s.conversationID,
		WorkspaceID:    s.workspaceID,
		ProjectID:      s.projectID,
		Message:        input,
		History:        s.history,
	}
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlashCommand handles in-session commands. Returns false to exit.
func handleSlashCommand(input string, s *session) bool {
	switch strings.ToLower(strings.Fields(input)[0]) {
	case "/help", "/h":
		printHelp()
	case "/clear", "/c":
		s.history = nil
		s.conversationID = ""
		fmt.Println(infoStyle.Render("Conversation history cleared."))
	case "/history":
		printHistory(s)
	case "/quit", "/q":
		return false
	default:
		fmt.Fprintf(os.Stderr, "%s unknown command %q (try /help)\n",
			errorStyle.Render("[Error]"), input)
	}
	return true
}

func printWelcome(gateway, workspace, project string) {
	fmt.Println(welcomeStyle.Render("codeloom chat"))
	scope := workspace
	if project != "" {
		scope += "/" + project
	}
	fmt.Println(infoStyle.Render(fmt.Sprintf("Connected to %s (workspace %s)", gateway, scope)))
	fmt.Println(infoStyle.Render("Type /help for commands, Ctrl+D to exit."))
	fmt.Println()
}

func printHelp() {
	fmt.Println(commandStyle.Render("Commands:"))
	fmt.Println("  /help, /h      Show this help")
	fmt.Println("  /clear, /c     Clear conversation history")
	fmt.Println("  /history       Show conversation history")
	fmt.Println("  /quit, /q      Exit chat")
	fmt.Println("  Ctrl+C         Cancel current generation")
	fmt.Println("  Ctrl+D         Exit chat")
}

func printHistory(s *session) {
	if len(s.history) == 0 {
		fmt.Println(infoStyle.Render("No conversation history yet."))
		return
	}
	for _, msg := range s.history {
		fmt.Printf("%s %s\n",
			roleStyle.Render(msg.Role+":"),
			util.TruncateRunes(msg.Content, 200))
	}
}
