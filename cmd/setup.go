package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strconv"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/spigell/screener/internal/logger"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

// setup builds the logger and the config or exits.
func setup() (*zap.Logger, *Config) {
	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Debug("starting", zap.String("app", app), zap.String("version", version))
	return logger, config
}

func parseID(raw, what string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, raw)
	}
	return id, nil
}

// printResult writes v as json or yaml. Text output is left to the caller.
func printResult(w io.Writer, format string, v any) error {
	switch format {
	case outputJSON:
		pretty, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		_, err = fmt.Fprintln(w, string(pretty))
		return err
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format: %q", format)
	}
}

func validOutput(format string) error {
	switch format {
	case outputText, outputJSON, outputYAML:
		return nil
	}
	return fmt.Errorf("unsupported output format: %q (want text, json or yaml)", format)
}
