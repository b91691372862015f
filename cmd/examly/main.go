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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/examly/examly/internal/grader"
	"github.com/examly/examly/internal/handler"
	"github.com/examly/examly/internal/llm"
	"github.com/examly/examly/internal/model"
	"github.com/examly/examly/internal/parser"
	"github.com/examly/examly/internal/session"
	"github.com/examly/examly/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "examly",
		Short: "Exam authoring and AI-graded delivery server",
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `examly --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP exam server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "examly.db", "SQLite database path")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.Duration("llm-timeout", llm.DefaultTimeout, "Per-request LLM timeout")
	f.Int("db-retries", store.DefaultRetryPolicy.MaxAttempts, "Max attempts for transient database write failures")
	f.Duration("db-retry-backoff", store.DefaultRetryPolicy.Backoff, "Base backoff between database write retries")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Create an exam from question text files",
		RunE:  runImport,
	}
	f := cmd.Flags()
	f.String("db", "examly.db", "SQLite database path")
	f.String("title", "", "Exam title (required)")
	f.String("type", "Mixed", "Exam type (MCQ, Short, Mixed)")
	f.Int("duration", 3600, "Exam duration in seconds")
	f.String("mcq-file", "", "Path to a multiple-choice question text file")
	f.String("short-file", "", "Path to a short-answer question text file")
	f.Int("mcq-marks", 1, "Marks per multiple-choice question")
	f.Int("short-marks", 5, "Marks per short-answer question")
	f.StringP("output", "o", "-", "Output file path for the created exam JSON (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")

	_ = cmd.MarkFlagRequired("title")

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

	v.SetEnvPrefix("EXAMLY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("examly")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/examly")
	v.AddConfigPath("/etc/examly")
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

	retry := store.RetryPolicy{
		MaxAttempts: v.GetInt("db-retries"),
		Backoff:     v.GetDuration("db-retry-backoff"),
	}
	db, err := store.New(v.GetString("db"), retry)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	llmClient := llm.New(
		v.GetString("llm-url"),
		v.GetString("llm-key"),
		v.GetString("llm-model"),
		v.GetDuration("llm-timeout"),
	)
	if err := llmClient.Ping(context.Background()); err != nil {
		// Grading degrades to heuristic scoring, so an unreachable LLM
		// is not fatal at startup.
		slog.Warn("LLM health check failed, grading will use fallback scoring",
			"url", v.GetString("llm-url"), "error", err)
	} else {
		slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", llmClient.Model())
	}

	eng := grader.New(llmClient)
	sessions := session.New(db, eng, llmClient.Model())
	h := handler.New(db, sessions, llmClient.Model())

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"db", v.GetString("db"),
		"model", llmClient.Model(),
		"llm_url", v.GetString("llm-url"),
	)
	return http.ListenAndServe(addr, r)
}

func runImport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	mcqPath := v.GetString("mcq-file")
	shortPath := v.GetString("short-file")
	if mcqPath == "" && shortPath == "" {
		return fmt.Errorf("at least one of --mcq-file or --short-file is required")
	}

	var questions []model.Question
	if mcqPath != "" {
		data, err := os.ReadFile(mcqPath)
		if err != nil {
			return fmt.Errorf("read %s: %w", mcqPath, err)
		}
		parsed, err := parser.ParseMCQ(string(data), v.GetInt("mcq-marks"))
		if err != nil {
			return fmt.Errorf("parse %s: %w", mcqPath, err)
		}
		questions = append(questions, parsed...)
	}
	if shortPath != "" {
		data, err := os.ReadFile(shortPath)
		if err != nil {
			return fmt.Errorf("read %s: %w", shortPath, err)
		}
		parsed, err := parser.ParseShort(string(data), v.GetInt("short-marks"))
		if err != nil {
			return fmt.Errorf("parse %s: %w", shortPath, err)
		}
		questions = append(questions, parsed...)
	}

	exam := model.Exam{
		Title:           v.GetString("title"),
		Type:            model.ExamType(v.GetString("type")),
		DurationSeconds: v.GetInt("duration"),
		Questions:       questions,
	}
	if err := exam.Validate(); err != nil {
		return fmt.Errorf("validate exam: %w", err)
	}

	db, err := store.New(v.GetString("db"), store.DefaultRetryPolicy)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	saved, err := db.SaveExam(exam)
	if err != nil {
		return fmt.Errorf("save exam: %w", err)
	}
	slog.Info("imported exam", "exam_id", saved.ID, "questions", len(saved.Questions), "total_marks", saved.TotalMarks)

	data, err := json.MarshalIndent(saved, "", "  ")
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
