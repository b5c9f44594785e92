package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yoockh/casescribe/config"
	"github.com/yoockh/casescribe/internal/bootstrap"
	"github.com/yoockh/casescribe/internal/logger"
	"github.com/yoockh/casescribe/internal/services"
)

func newRootCommand() *cobra.Command {
	var envFile string
	var logLevel string

	rootCmd := &cobra.Command{
		Use:           "casectl",
		Short:         "Clinical case transcription and evidence tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "Dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override LOG_LEVEL")

	open := func(cmd *cobra.Command) (*bootstrap.App, error) {
		if envFile != "" {
			config.LoadDotenv(envFile)
		} else {
			config.LoadDotenv()
		}
		s, err := config.FromEnv()
		if err != nil {
			return nil, err
		}
		if logLevel != "" {
			s.LogLevel = logLevel
		}
		log := logger.New(s.LogLevel)
		log.SetOutput(cmd.ErrOrStderr())
		return bootstrap.New(cmd.Context(), s, bootstrap.Options{Logger: log})
	}

	rootCmd.AddCommand(newAnalyzeCommand(open))
	rootCmd.AddCommand(newEvidenceCommand(open))
	return rootCmd
}

type opener func(cmd *cobra.Command) (*bootstrap.App, error)

func newAnalyzeCommand(open opener) *cobra.Command {
	var format, provider, language string

	cmd := &cobra.Command{
		Use:   "analyze <audio-file>",
		Short: "Transcribe a recording and generate a validated case record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			audio, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read audio: %w", err)
			}
			if format == "" {
				switch ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(args[0])), "."); ext {
				case "wav", "pcm", "raw":
					format = ext
				}
			}

			app, err := open(cmd)
			if err != nil {
				return err
			}
			defer app.Close(cmd.Context())

			res, err := app.Analysis.Run(cmd.Context(), services.AnalysisInput{
				FileName: filepath.Base(args[0]),
				Format:   format,
				Provider: provider,
				Language: language,
				Audio:    audio,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "Audio format (wav or pcm); detected from the file when unset")
	cmd.Flags().StringVar(&provider, "provider", "", "Preferred generation provider")
	cmd.Flags().StringVar(&language, "language", "", "Spoken language (en, fa or mixed); left to the STT provider when unset")
	return cmd
}

func newEvidenceCommand(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "evidence <query>",
		Short: "Search for supporting literature",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := open(cmd)
			if err != nil {
				return err
			}
			defer app.Close(cmd.Context())

			res, err := app.Evidence.Search(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if res.Null {
				res.Report = app.Evidence.ExplainNull(cmd.Context(), res)
			}
			return writeJSON(cmd, res)
		},
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
