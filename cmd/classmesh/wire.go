package main

import (
	"fmt"
	"os"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"

	"github.com/hupe1980/classmesh"
	"github.com/hupe1980/classmesh/core"
	"github.com/hupe1980/classmesh/logging"
	"github.com/hupe1980/classmesh/model"
	"github.com/hupe1980/classmesh/model/anthropic"
	"github.com/hupe1980/classmesh/model/openai"
	"github.com/hupe1980/classmesh/scenario"
	"github.com/hupe1980/classmesh/store/sqlite"
)

// loadScenario reads the scenario file (or the built-in default), applies
// environment overrides and then the command line overrides.
func loadScenario(cfg config) (*scenario.Scenario, error) {
	var sc *scenario.Scenario
	if cfg.Scenario == "" {
		sc = scenario.Default()
		sc.ApplyEnv(os.Getenv)
	} else {
		var err error
		if sc, err = scenario.Load(cfg.Scenario); err != nil {
			return nil, err
		}
	}
	if cfg.LLM != "" {
		sc.LLM.Provider = strings.ToLower(cfg.LLM)
		sc.LLM.APIKey = ""
		sc.ApplyEnv(func(key string) string {
			if strings.HasSuffix(key, "_API_KEY") {
				return os.Getenv(key)
			}
			return ""
		})
	}
	if cfg.Model != "" {
		sc.LLM.Model = cfg.Model
	}
	return sc, nil
}

func newLogger(cfg config, runID string) (*logging.SimLogger, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	lc := logging.DefaultLoggerConfig()
	lc.Level = level
	lc.Format = cfg.LogFormat
	lc.Component = "classmesh"
	lc.RunID = runID
	return logging.NewLogger(lc), nil
}

// newModel returns the language model of the scenario, or nil when no
// provider is configured.
func newModel(llm scenario.LLMConfig) (model.Model, error) {
	switch llm.Provider {
	case "", scenario.ProviderNone:
		return nil, nil
	case scenario.ProviderOpenAI:
		if llm.APIKey == "" {
			return nil, core.NewConfigError("llm.api_key", "OPENAI_API_KEY is not set")
		}
		return openai.NewModel(func(o *openai.Options) {
			o.APIKey = llm.APIKey
			o.Temperature = llm.Temperature
			o.MaxCompletionTokens = llm.MaxTokens
			if llm.Model != "" {
				o.Model = llm.Model
			}
		}), nil
	case scenario.ProviderAnthropic:
		if llm.APIKey == "" {
			return nil, core.NewConfigError("llm.api_key", "ANTHROPIC_API_KEY is not set")
		}
		return anthropic.NewModel(func(o *anthropic.Options) {
			o.APIKey = llm.APIKey
			o.Temperature = llm.Temperature
			o.MaxTokens = llm.MaxTokens
			if llm.Model != "" {
				o.Model = anthropicsdk.Model(llm.Model)
			}
		}), nil
	default:
		return nil, core.NewConfigError("llm.provider", "unknown provider %q", llm.Provider)
	}
}

// newSimulation wires the scenario, logger, model and store into a
// simulation. The caller closes it.
func newSimulation(cfg config) (*classmesh.Simulation, *scenario.Scenario, *logging.SimLogger, error) {
	sc, err := loadScenario(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := newLogger(cfg, uuid.NewString())
	if err != nil {
		return nil, nil, nil, err
	}
	if err := sc.Validate(); err != nil {
		return nil, nil, nil, err
	}
	m, err := newModel(sc.LLM)
	if err != nil {
		return nil, nil, nil, err
	}

	var st core.Store
	if cfg.DB != "" {
		db, err := sqlite.Open(cfg.DB)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open store: %w", err)
		}
		st = db
	}

	sim, err := classmesh.New(sc, func(o *classmesh.Options) {
		o.Store = st
		o.Model = m
		o.Logger = logger
		if st != nil {
			o.RetryableWrite = sqlite.IsConflictError
		}
	})
	if err != nil {
		if st != nil {
			_ = st.Close()
		}
		return nil, nil, nil, err
	}
	logger.Info("classmesh.ready", "scenario", sc.Name, "agents", len(sc.Agents), "llm", sc.LLM.String(), "db", cfg.DB)
	return sim, sc, logger, nil
}
