// Package main provides the CLI entrypoint for proofwork.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/verte-zerg/proofwork/internal/api"
	"github.com/verte-zerg/proofwork/internal/backend"
	"github.com/verte-zerg/proofwork/internal/config"
	"github.com/verte-zerg/proofwork/internal/effort"
	"github.com/verte-zerg/proofwork/internal/generator"
	"github.com/verte-zerg/proofwork/internal/metrics"
	"github.com/verte-zerg/proofwork/internal/model"
	"github.com/verte-zerg/proofwork/internal/pool"
	"github.com/verte-zerg/proofwork/internal/puzzle"
	"github.com/verte-zerg/proofwork/internal/replay"
	"github.com/verte-zerg/proofwork/internal/stats"
	"github.com/verte-zerg/proofwork/internal/store"
	"github.com/verte-zerg/proofwork/internal/task"
	"github.com/verte-zerg/proofwork/internal/tui"
)

const (
	defaultServerAddr = ":8080"
	defaultScore      = 0.5
	maxPoolEntryLen   = 48
)

var (
	globalDB               string
	globalBackendURL       string
	globalBackendTimeoutMs int
	globalVerbose          bool

	playSession      int64
	playGroup        string
	playScore        float64
	puzzleCount      int
	puzzleStep       int
	puzzleTolerance  int
	puzzlePool       string
	puzzleFeedbackMs int
	effortWaitMs     int
	effortCalcMs     int
	effortDebounceMs int
	effortSkipMarket []string

	newGroup string
	newScore float64

	sessionsGroup string
	sessionsSince string
	sessionsLast  int

	serveAddr string
)

// sessionBackend is implemented by the local store and the REST client.
type sessionBackend interface {
	task.Backend
	metrics.Sender
	CreateSession(ctx context.Context, group model.ExperimentGroup, score float64) (model.SkillsRankingSessionState, error)
	GetSession(ctx context.Context, id int64) (model.SkillsRankingSessionState, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	rootCmd := newRootCmd()
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "proofwork",
		Short:         "Proof-of-value effort task",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runPlayCmd,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&globalDB, "db", "", "SQLite database path (default: XDG data dir)")
	pf.StringVar(&globalBackendURL, "backend-url", "", "remote backend URL; empty uses the local database")
	pf.IntVar(&globalBackendTimeoutMs, "backend-timeout-ms", int(backend.DefaultTimeout/time.Millisecond), "remote backend request timeout")
	pf.BoolVarP(&globalVerbose, "verbose", "v", false, "debug logging")

	addPlayFlags(rootCmd)

	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newSessionCmd())
	rootCmd.AddCommand(newSessionsCmd())
	rootCmd.AddCommand(newReplayCmd())
	rootCmd.AddCommand(newServeCmd())

	return rootCmd
}

func addPlayFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Int64Var(&playSession, "session", 0, "session id; zero creates a new session")
	f.StringVar(&playGroup, "group", string(model.Group2), "experiment group for a new session")
	f.Float64Var(&playScore, "score", defaultScore, "score for a new session")
	addPuzzleFlags(cmd)
	f.IntVar(&effortWaitMs, "wait-ms", int(effort.DefaultWaitDuration/time.Millisecond), "time-based wait")
	f.IntVar(&effortCalcMs, "calculation-delay-ms", int(effort.DefaultCalculationDelay/time.Millisecond), "typing indicator after the last puzzle")
	f.IntVar(&effortDebounceMs, "debounce-ms", int(metrics.DefaultInterval/time.Millisecond), "metric report window")
	f.StringSliceVar(&effortSkipMarket, "skip-market-disclosure", nil, "groups that skip market disclosure")
}

func addPuzzleFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntVar(&puzzleCount, "puzzles", puzzle.DefaultPuzzles, "puzzles per task")
	f.IntVar(&puzzleStep, "rotation-step", puzzle.DefaultRotationStep, "degrees per rotation")
	f.IntVar(&puzzleTolerance, "tolerance", puzzle.DefaultTolerance, "upright tolerance in degrees")
	f.StringVar(&puzzlePool, "pool", "", "puzzle string pool (.txt or .yaml)")
	f.IntVar(&puzzleFeedbackMs, "feedback-delay-ms", int(puzzle.DefaultFeedbackDelay/time.Millisecond), "puzzle complete message duration")
}

func runPlayCmd(cmd *cobra.Command, _ []string) error {
	fileCfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyIntConfig(cmd, "wait-ms", &effortWaitMs, fileCfg.Effort.WaitMs)
	applyIntConfig(cmd, "calculation-delay-ms", &effortCalcMs, fileCfg.Effort.CalculationDelayMs)
	applyIntConfig(cmd, "debounce-ms", &effortDebounceMs, fileCfg.Effort.DebounceMs)
	applySliceConfig(cmd, "skip-market-disclosure", &effortSkipMarket, fileCfg.Effort.SkipMarketDisclosure)

	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("the effort task needs an interactive terminal")
	}
	puzzleCfg, err := puzzleConfig()
	if err != nil {
		return err
	}
	policy, err := skipPolicy(effortSkipMarket)
	if err != nil {
		return err
	}

	logger, err := newLogger(config.DefaultLogPath())
	if err != nil {
		return err
	}
	defer syncLogger(logger)

	be, closeBackend, err := openBackend(logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	state, err := resolveSession(cmd.Context(), be)
	if err != nil {
		return err
	}
	logger.Info("effort task opened",
		zap.Int64("session_id", state.SessionID),
		zap.String("group", string(state.ExperimentGroup)),
		zap.String("phase", string(state.LastPhase())))

	notifier := tui.NewNotifier()
	t, err := task.New(task.Config{
		Effort: effort.Config{
			Puzzle:           puzzleCfg,
			WaitDuration:     msDuration(effortWaitMs),
			CalculationDelay: msDuration(effortCalcMs),
		},
		DebounceInterval: msDuration(effortDebounceMs),
	}, state, task.Deps{
		Backend:   be,
		Metrics:   be,
		Policy:    policy,
		Generator: generator.New(),
		Logger:    logger,
	}, task.Callbacks{
		OnNotify: func(message string, err error) {
			logger.Warn(message, zap.Error(err))
		},
		OnChange: notifier.Notify,
	})
	if err != nil {
		return fmt.Errorf("failed to start effort task: %w", err)
	}
	defer t.Close()
	t.Start()

	program := tea.NewProgram(tui.NewModel(t, notifier), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	return nil
}

func resolveSession(ctx context.Context, be sessionBackend) (model.SkillsRankingSessionState, error) {
	if playSession > 0 {
		state, err := be.GetSession(ctx, playSession)
		if err != nil {
			return model.SkillsRankingSessionState{}, fmt.Errorf("failed to load session %d: %w", playSession, err)
		}
		return state, nil
	}
	group, err := model.ParseExperimentGroup(playGroup)
	if err != nil {
		return model.SkillsRankingSessionState{}, fmt.Errorf("invalid --group value: %w", err)
	}
	state, err := be.CreateSession(ctx, group, playScore)
	if err != nil {
		return model.SkillsRankingSessionState{}, fmt.Errorf("failed to create session: %w", err)
	}
	return state, nil
}

func newSessionCmd() *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Manage sessions",
	}
	newCmd := &cobra.Command{
		Use:   "new",
		Short: "Create a session in the proof-of-value phase",
		Args:  cobra.NoArgs,
		RunE:  runSessionNewCmd,
	}
	newCmd.Flags().StringVar(&newGroup, "group", "", "experiment group (GROUP_1..GROUP_4)")
	newCmd.Flags().Float64Var(&newScore, "score", defaultScore, "ranking score")
	_ = newCmd.MarkFlagRequired("group")
	sessionCmd.AddCommand(newCmd)
	return sessionCmd
}

func runSessionNewCmd(cmd *cobra.Command, _ []string) error {
	if _, err := loadConfig(cmd); err != nil {
		return err
	}
	group, err := model.ParseExperimentGroup(newGroup)
	if err != nil {
		return fmt.Errorf("invalid --group value: %w", err)
	}
	logger, err := newLogger(config.DefaultLogPath())
	if err != nil {
		return err
	}
	defer syncLogger(logger)
	be, closeBackend, err := openBackend(logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	state, err := be.CreateSession(cmd.Context(), group, newScore)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	effortType, _ := model.EffortTypeFor(state.ExperimentGroup)
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\n", state.SessionID, state.ExperimentGroup, effortType)
	return err
}

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Summarize stored sessions",
		Args:  cobra.NoArgs,
		RunE:  runSessionsCmd,
	}
	cmd.Flags().StringVar(&sessionsGroup, "group", "", "experiment group filter")
	cmd.Flags().StringVar(&sessionsSince, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&sessionsLast, "last", 0, "limit to last N sessions")
	return cmd
}

func runSessionsCmd(cmd *cobra.Command, _ []string) error {
	if _, err := loadConfig(cmd); err != nil {
		return err
	}
	if globalBackendURL != "" {
		return fmt.Errorf("sessions reads the local database; drop --backend-url")
	}
	filter := model.SessionFilter{Last: sessionsLast}
	if sessionsGroup != "" {
		group, err := model.ParseExperimentGroup(sessionsGroup)
		if err != nil {
			return fmt.Errorf("invalid --group value: %w", err)
		}
		filter.Group = group
	}
	if sessionsSince != "" {
		parsed, err := time.ParseInLocation("2006-01-02", sessionsSince, time.Local)
		if err != nil {
			return fmt.Errorf("invalid --since value: %w", err)
		}
		filter.Since = &parsed
	}

	st, err := store.Open(dbPath())
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()

	report, err := stats.BuildReport(cmd.Context(), st, filter)
	if err != nil {
		return fmt.Errorf("failed to load sessions: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(report.Sessions) == 0 {
		_, err := fmt.Fprintln(out, "No sessions found.")
		return err
	}
	if err := stats.RenderSummary(out, report.Sessions); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if _, err := fmt.Fprintln(out); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if err := stats.RenderSessionTable(out, report.Sessions); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <session-id>",
		Short: "Show how a session's effort step ended",
		Args:  cobra.ExactArgs(1),
		RunE:  runReplayCmd,
	}
	addPuzzleFlags(cmd)
	return cmd
}

func runReplayCmd(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid session id %q", args[0])
	}
	if _, err := loadConfig(cmd); err != nil {
		return err
	}
	puzzleCfg, err := puzzleConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(config.DefaultLogPath())
	if err != nil {
		return err
	}
	defer syncLogger(logger)
	be, closeBackend, err := openBackend(logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	state, err := be.GetSession(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("failed to load session %d: %w", id, err)
	}
	snap, err := replay.Reconstruct(state, puzzleCfg)
	if errors.Is(err, replay.ErrLiveSession) {
		return fmt.Errorf("session %d has not finished the effort step; run: proofwork --session %d", id, id)
	}
	if err != nil {
		return fmt.Errorf("failed to reconstruct session %d: %w", id, err)
	}
	width := 0
	if fd := int(os.Stdout.Fd()); term.IsTerminal(fd) {
		if w, _, err := term.GetSize(fd); err == nil {
			width = w
		}
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), tui.RenderSnapshot(snap, width))
	return err
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session backend over HTTP",
		Args:  cobra.NoArgs,
		RunE:  runServeCmd,
	}
	cmd.Flags().StringVar(&serveAddr, "addr", defaultServerAddr, "listen address")
	return cmd
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	fileCfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyStringConfig(cmd, "addr", &serveAddr, fileCfg.Server.Addr)

	logger, err := newLogger("stderr")
	if err != nil {
		return err
	}
	defer syncLogger(logger)

	st, err := store.Open(dbPath())
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logger.Warn("failed to close db", zap.Error(cerr))
		}
	}()

	logger.Info("serving", zap.String("addr", serveAddr), zap.String("db", dbPath()))
	return api.NewServer(st, logger).ListenAndServe(cmd.Context(), serveAddr)
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := config.DefaultConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(config.Template(templateDefaults())), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return fmt.Errorf("editor command is empty")
	}
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

func templateDefaults() config.Defaults {
	return config.Defaults{
		Puzzles:            puzzle.DefaultPuzzles,
		RotationStep:       puzzle.DefaultRotationStep,
		Tolerance:          puzzle.DefaultTolerance,
		FeedbackDelayMs:    puzzle.DefaultFeedbackDelay.Milliseconds(),
		WaitMs:             effort.DefaultWaitDuration.Milliseconds(),
		CalculationDelayMs: effort.DefaultCalculationDelay.Milliseconds(),
		DebounceMs:         metrics.DefaultInterval.Milliseconds(),
		BackendTimeoutMs:   backend.DefaultTimeout.Milliseconds(),
		ServerAddr:         defaultServerAddr,
	}
}

// loadConfig reads the config file and applies the settings shared by every
// command. Puzzle settings only apply to commands that declare the flags.
func loadConfig(cmd *cobra.Command) (config.FileConfig, error) {
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return config.FileConfig{}, fmt.Errorf("failed to load config: %w", err)
	}
	applyStringConfig(cmd, "backend-url", &globalBackendURL, fileCfg.Backend.URL)
	applyIntConfig(cmd, "backend-timeout-ms", &globalBackendTimeoutMs, fileCfg.Backend.TimeoutMs)
	if cmd.Flags().Lookup("puzzles") != nil {
		applyIntConfig(cmd, "puzzles", &puzzleCount, fileCfg.Puzzle.Puzzles)
		applyIntConfig(cmd, "rotation-step", &puzzleStep, fileCfg.Puzzle.RotationStep)
		applyIntConfig(cmd, "tolerance", &puzzleTolerance, fileCfg.Puzzle.Tolerance)
		applyStringConfig(cmd, "pool", &puzzlePool, fileCfg.Puzzle.Pool)
		applyIntConfig(cmd, "feedback-delay-ms", &puzzleFeedbackMs, fileCfg.Puzzle.FeedbackDelayMs)
	}
	return fileCfg, nil
}

func puzzleConfig() (puzzle.Config, error) {
	if err := validatePuzzleFlags(); err != nil {
		return puzzle.Config{}, err
	}
	path := config.ResolvePoolPath(puzzlePool)
	strs, err := pool.LoadOrDefault(path, pool.All(pool.Printable, pool.MaxLen(maxPoolEntryLen)))
	if err != nil {
		return puzzle.Config{}, fmt.Errorf("failed to load puzzle pool %s: %w", path, err)
	}
	return puzzle.Config{
		Puzzles:       puzzleCount,
		RotationStep:  puzzleStep,
		Tolerance:     puzzleTolerance,
		StringPool:    strs,
		FeedbackDelay: msDuration(puzzleFeedbackMs),
	}, nil
}

func validatePuzzleFlags() error {
	if puzzleCount <= 0 {
		return fmt.Errorf("--puzzles must be > 0")
	}
	if puzzleStep <= 0 || puzzleStep >= 360 {
		return fmt.Errorf("--rotation-step must be between 1 and 359")
	}
	if puzzleTolerance <= 0 || puzzleTolerance >= 180 {
		return fmt.Errorf("--tolerance must be between 1 and 179")
	}
	if puzzleFeedbackMs < 0 {
		return fmt.Errorf("--feedback-delay-ms must be >= 0")
	}
	return nil
}

func skipPolicy(raw []string) (effort.DisclosurePolicy, error) {
	groups := make([]model.ExperimentGroup, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		g, err := model.ParseExperimentGroup(r)
		if err != nil {
			return nil, fmt.Errorf("invalid --skip-market-disclosure value: %w", err)
		}
		groups = append(groups, g)
	}
	return effort.SkipGroups(groups...), nil
}

func openBackend(logger *zap.Logger) (sessionBackend, func(), error) {
	if globalBackendURL != "" {
		client := backend.New(globalBackendURL, msDuration(globalBackendTimeoutMs), logger)
		return client, func() {}, nil
	}
	st, err := store.Open(dbPath())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open db: %w", err)
	}
	return st, func() {
		if cerr := st.Close(); cerr != nil {
			logger.Warn("failed to close db", zap.Error(cerr))
		}
	}, nil
}

func dbPath() string {
	if globalDB != "" {
		return globalDB
	}
	return config.DefaultDBPath()
}

// newLogger writes JSON logs to path; the TUI owns the terminal.
func newLogger(path string) (*zap.Logger, error) {
	if path != "stderr" && path != "stdout" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{path}
	if globalVerbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger.With(zap.String("command", "proofwork")), nil
}

func syncLogger(logger *zap.Logger) {
	if err := logger.Sync(); err != nil {
		// Best-effort flush; stderr sync fails on some terminals.
		_ = err
	}
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func applyStringConfig(cmd *cobra.Command, name string, target, value *string) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyIntConfig(cmd *cobra.Command, name string, target, value *int) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applySliceConfig(cmd *cobra.Command, name string, target *[]string, value []string) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = value
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}
