package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/eduforge/examtutor/internal/embedding"
	"github.com/eduforge/examtutor/internal/grading"
	"github.com/eduforge/examtutor/internal/handler"
	appI18n "github.com/eduforge/examtutor/internal/i18n"
	"github.com/eduforge/examtutor/internal/llm"
	"github.com/eduforge/examtutor/internal/store"
	"github.com/eduforge/examtutor/internal/vectorstore"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "examtutor",
		Short: "Retrieval-grounded exam tutoring and automated grading service",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP service",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "examtutor.db", "SQLite database path")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("embedding-model", "text-embedding-3-small", "Embedding model name (fixes the vector dimension)")
	f.Int("embedding-dim", 1536, "Expected embedding vector dimension")
	f.Int("chunk-size", 1000, "Material chunk size in characters")
	f.Int("chunk-overlap", 200, "Material chunk overlap in characters")
	f.Float64("match-threshold", vectorstore.DefaultMatchThreshold, "Similarity threshold for vector search")
	f.Int("match-count", 5, "Maximum retrieval hits per question")
	f.Int("max-context-length", 4000, "Maximum retrieval context length in bytes")
	f.Int("grading-workers", 2, "Grading worker pool size")
	f.Int("grading-buffer", 64, "Grading queue capacity")
	f.Duration("grading-timeout", 5*time.Minute, "Per-session grading deadline")
	f.StringP("lang", "l", "en", "Message language (en, ko)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export an exam's sessions and grades as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "examtutor.db", "SQLite database path")
	f.Int64("exam-id", 0, "Exam to export (required)")
	f.String("embedding-model", "text-embedding-3-small", "Embedding model name recorded in export metadata")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")

	_ = cmd.MarkFlagRequired("exam-id")

	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("EXAMTUTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("examtutor")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/examtutor")
	v.AddConfigPath("/etc/examtutor")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	llmClient := llm.New(
		v.GetString("llm-url"),
		v.GetString("llm-key"),
		v.GetString("llm-model"),
	)
	if err := llmClient.Ping(context.Background()); err != nil {
		return fmt.Errorf("LLM health check: %w", err)
	}
	slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))

	embedder := embedding.New(
		v.GetString("llm-url"),
		v.GetString("llm-key"),
		v.GetString("embedding-model"),
		v.GetInt("embedding-dim"),
	)

	vectors := vectorstore.New(db)
	orch := grading.NewOrchestrator(db, llmClient)
	queue := grading.NewQueue(orch,
		v.GetInt("grading-workers"),
		v.GetInt("grading-buffer"),
		v.GetDuration("grading-timeout"),
	)
	queue.Start()
	defer queue.Stop()

	h := handler.New(db, vectors, embedder, llmClient, orch, queue, handler.Config{
		ChunkSize:      v.GetInt("chunk-size"),
		ChunkOverlap:   v.GetInt("chunk-overlap"),
		MatchThreshold: v.GetFloat64("match-threshold"),
		MatchCount:     v.GetInt("match-count"),
		MaxContextLen:  v.GetInt("max-context-length"),
	})

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"llm_model", v.GetString("llm-model"),
		"embedding_model", v.GetString("embedding-model"),
		"lang", lang,
		"grading_workers", v.GetInt("grading-workers"),
	)
	return http.ListenAndServe(addr, r)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportExam(v.GetInt64("exam-id"), v.GetString("embedding-model"))
	if err != nil {
		return fmt.Errorf("export exam: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)

	return nil
}
