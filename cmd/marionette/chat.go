package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/marionette/pkg/backends/openai"
	"github.com/go-go-golems/marionette/pkg/chat"
	"github.com/go-go-golems/marionette/pkg/events"
)

const pushTopic = "chat"

func newChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation, optionally fanning out to several models",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context())
		},
	}

	cmd.Flags().StringSlice("model", []string{"gpt-4o-mini"}, "models to query, repeat to fan out")
	cmd.Flags().String("openai-api-key", "", "OpenAI-compatible API key")
	cmd.Flags().String("openai-base-url", "", "override the API base URL")
	cmd.Flags().Duration("request-timeout", 30*time.Second, "idle timeout before an unanswered request is rolled back")
	cmd.Flags().Int("max-tokens", 0, "response token limit, 0 for provider default")
	cmd.Flags().String("save", "", "write the conversation tree to this file on exit")

	return cmd
}

func runChat(ctx context.Context) error {
	apiKey := viper.GetString("openai-api-key")
	if apiKey == "" {
		return errors.New("no API key configured, set --openai-api-key or MARIONETTE_OPENAI_API_KEY")
	}

	modelIDs := viper.GetStringSlice("model")
	models := make([]chat.Model, 0, len(modelIDs))
	for _, id := range modelIDs {
		models = append(models, chat.Model{ID: id, Name: id})
	}

	eventRouter, err := events.NewEventRouter(events.WithLogger(events.NewWatermillAdapter(log.Logger)))
	if err != nil {
		return err
	}
	defer func() {
		_ = eventRouter.Close()
	}()

	publisher := events.NewPublisherManager()
	publisher.SubscribePublisher(pushTopic, eventRouter.Publisher)

	engine := openai.NewEngine(openai.Settings{
		APIKey:    apiKey,
		BaseURL:   viper.GetString("openai-base-url"),
		MaxTokens: viper.GetInt("max-tokens"),
	}, publisher)

	printer := newConsolePrinter(len(models))

	session := chat.NewSessionContext(
		chat.WithChatID("local"),
		chat.WithModels(models...),
		chat.WithCompletionService(engine),
		chat.WithTaskController(engine),
		chat.WithRequestTimeout(viper.GetDuration("request-timeout")),
		chat.WithNotifier(printer),
		chat.WithTitleHandler(func(title string) {
			fmt.Printf("\n[title] %s\n", title)
		}),
	)
	defer session.Close()
	printer.bind(session.Tracker().Len)

	eventRouter.AddHandler("session", pushTopic, session.EventHandler())
	eventRouter.AddHandler("printer", pushTopic, printer.handler())

	routerCtx, cancelRouter := context.WithCancel(ctx)
	defer cancelRouter()
	go func() {
		if err := eventRouter.Run(routerCtx); err != nil {
			log.Error().Err(err).Msg("push channel stopped")
		}
	}()
	<-eventRouter.Running()

	fmt.Printf("chatting with %s, /quit to exit\n", strings.Join(modelIDs, ", "))

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}

		if err := session.Submit(ctx, line, nil, modelIDs); err != nil {
			if chat.IsValidationError(err) {
				continue
			}
			return err
		}
		printer.waitTurn(ctx)
	}

	if path := viper.GetString("save"); path != "" {
		if err := session.History().SaveToFile(path); err != nil {
			return errors.Wrap(err, "failed to save conversation")
		}
		fmt.Printf("conversation saved to %s\n", path)
	}

	return nil
}
