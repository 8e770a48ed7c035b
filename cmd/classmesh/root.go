package main

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// config is the merged view of flags and CLASSMESH_* environment variables.
type config struct {
	Scenario  string
	DB        string
	LLM       string
	Model     string
	LogLevel  string
	LogFormat string
	Ticks     int64
	Addr      string
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "classmesh",
		Short:         "classmesh: multi-agent classroom simulation",
		Long:          "classmesh simulates a classroom of teacher and student agents in discrete ticks, with rule-based or LLM-backed decisions, partial perception and persistent knowledge.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			return nil
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.String("scenario", "", "scenario YAML file (built-in classroom when empty)")
	pf.String("db", "", "SQLite database path (in-memory when empty)")
	pf.String("llm", "", "LLM provider override: openai, anthropic or none")
	pf.String("model", "", "LLM model override")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "text", "log format: text or json")
	pf.String("env-file", ".env", "dotenv file loaded before anything else")

	rootCmd.AddCommand(
		newRunCmd(),
		newServeCmd(),
		newValidateCmd(),
	)
	return rootCmd
}

// loadConfig binds the command's flags to viper so that every flag can also
// be set as CLASSMESH_<FLAG>, e.g. CLASSMESH_LOG_LEVEL.
func loadConfig(cmd *cobra.Command) (config, error) {
	v := viper.New()
	v.SetEnvPrefix("CLASSMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return config{}, err
	}
	return config{
		Scenario:  v.GetString("scenario"),
		DB:        v.GetString("db"),
		LLM:       v.GetString("llm"),
		Model:     v.GetString("model"),
		LogLevel:  v.GetString("log-level"),
		LogFormat: v.GetString("log-format"),
		Ticks:     v.GetInt64("ticks"),
		Addr:      v.GetString("addr"),
	}, nil
}
