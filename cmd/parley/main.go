package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/parley/pkg/content"
	"github.com/go-go-golems/parley/pkg/history"
	"github.com/go-go-golems/parley/pkg/inference/factory"
	"github.com/go-go-golems/parley/pkg/orchestrator"
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Positional-content conversations with a language model",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

func setupLogging() {
	level, err := zerolog.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if isatty.IsTerminal(os.Stderr.Fd()) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func newOrchestrator() (*orchestrator.Orchestrator, error) {
	store, err := history.NewFileStore(viper.GetString("storage"))
	if err != nil {
		return nil, err
	}
	var settings factory.Settings
	if err := viper.Unmarshal(&settings); err != nil {
		return nil, err
	}
	invoker, err := factory.NewInvoker(settings)
	if err != nil {
		return nil, err
	}
	return orchestrator.NewOrchestrator(store, invoker,
		orchestrator.WithMaxConcurrent(viper.GetInt("max-concurrent")),
	), nil
}

var chatCmd = &cobra.Command{
	Use:   "chat [text...]",
	Short: "Run one conversation turn",
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, err := newOrchestrator()
		if err != nil {
			return err
		}

		body := content.NewStructuredContent()
		for _, arg := range args {
			body.AddText(arg)
		}
		for _, ref := range viper.GetStringSlice("image") {
			unit, err := content.NewImageUnitFromFile(ref)
			if err != nil {
				return err
			}
			body.Insert(body.Len(), unit)
		}

		opts := []orchestrator.ChatOption{}
		if prompt := viper.GetString("system"); prompt != "" {
			opts = append(opts, orchestrator.WithSystemPrompt(prompt))
		}
		if deadline := viper.GetDuration("deadline"); deadline > 0 {
			opts = append(opts, orchestrator.WithDeadline(deadline))
		}

		result, err := orch.Chat(cmd.Context(), viper.GetString("id"), body, opts...)
		if err != nil {
			return err
		}
		fmt.Printf("conversation: %s (%d messages)\n", result.ConversationID, result.MessageCount)
		fmt.Println(result.Response.Content.DisplayText())
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <conversation-id>",
	Short: "Export a conversation as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, err := newOrchestrator()
		if err != nil {
			return err
		}
		data, err := orch.Export(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "zerolog level")
	rootCmd.PersistentFlags().String("storage", "./conversations", "conversation storage directory")
	rootCmd.PersistentFlags().String("provider", "", "model backend (mock, openai, ollama)")
	rootCmd.PersistentFlags().Int("max-concurrent", orchestrator.DefaultMaxConcurrent, "global concurrent conversation limit")

	chatCmd.Flags().String("id", "", "conversation id (empty starts a new conversation)")
	chatCmd.Flags().String("system", "", "system prompt (only honored on the first turn)")
	chatCmd.Flags().StringSlice("image", nil, "image file or URL to append")
	chatCmd.Flags().Duration("deadline", 0, "per-turn model deadline (e.g. 30s)")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(exportCmd)

	cobra.OnInitialize(func() {
		_ = viper.BindPFlags(rootCmd.PersistentFlags())
		_ = viper.BindPFlags(chatCmd.Flags())

		viper.SetEnvPrefix("PARLEY")
		viper.AutomaticEnv()
		_ = viper.BindEnv("provider", "LLM_TYPE")
		_ = viper.BindEnv("openai.apikey", "OPENAI_API_KEY")
		_ = viper.BindEnv("openai.model", "OPENAI_MODEL")
		_ = viper.BindEnv("openai.baseurl", "OPENAI_BASE_URL")
		_ = viper.BindEnv("ollama.model", "OLLAMA_MODEL")
		_ = viper.BindEnv("ollama.baseurl", "OLLAMA_BASE_URL")
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
