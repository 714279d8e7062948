package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/monikatyab/anaya-m2m/core"
)

var chatUser string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Opens a terminal conversation with Anaya. If the user has a session
that is still open it is resumed, otherwise a fresh one begins. Typing
'quit' or 'exit' ends the conversation and folds the session into the
user's long-term profile.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := buildApp(logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	sessionID, resumed, err := a.stm.ActiveSession(ctx, chatUser)
	if err != nil || !resumed {
		sessionID = uuid.New().String()
	}

	if resumed {
		fmt.Println("\n> Anaya: Welcome back! How can I support you today?")
	} else {
		fmt.Println("\n> Anaya: Hi! How can I support you today?")
	}
	fmt.Println(strings.Repeat("-", 50))

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Printf("> %s: ", chatUser)
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if lower := strings.ToLower(line); lower == "quit" || lower == "exit" {
			break
		}

		out, err := a.engine.ProcessTurn(ctx, &core.TurnInput{
			UserID:    chatUser,
			SessionID: sessionID,
			Utterance: line,
		})
		if err != nil {
			closeApp(a)
			return err
		}
		fmt.Printf("\n> Anaya: %s\n\n", out.Response)
	}

	fmt.Println("\n> Anaya: Take care. I'll remember where we left off.")

	// Fold the session into the profile before exit so the next
	// conversation starts from it.
	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := a.manager.CloseUser(closeCtx, chatUser); err != nil {
		logger.Warn("session handoff failed", zap.Error(err))
	}
	return a.Close(closeCtx)
}

// closeApp tears the app down on an error path, keeping the original
// error as the one reported.
func closeApp(a *app) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		logger.Warn("teardown failed", zap.Error(err))
	}
}
