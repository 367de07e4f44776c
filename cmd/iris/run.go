package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/talgya/iris/internal/agents"
	"github.com/talgya/iris/internal/api"
	"github.com/talgya/iris/internal/engine"
	"github.com/talgya/iris/internal/entropy"
	"github.com/talgya/iris/internal/logging"
	"github.com/talgya/iris/internal/metrics"
	"github.com/talgya/iris/internal/persistence"
	"github.com/talgya/iris/internal/report"
	"github.com/talgya/iris/internal/snapshot"
)

// runOptions are the run-level settings that are not model parameters.
type runOptions struct {
	Directory   string
	Run         uint32
	Workers     uint32
	DBPath      string
	Snapshot    bool
	Listen      string
	LogLevel    string
	ReportEvery uint64
	MetricsFile string
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().Uint32("run", 0, "Run number appended to the output directory name")
	cmd.Flags().Uint32("workers", 1, "Goroutines stepping disjoint agent partitions")
	cmd.Flags().String("db", "", "SQLite archive path (disabled when empty)")
	cmd.Flags().Bool("snapshot", false, "Write a zstd snapshot at every report and at the end")
	cmd.Flags().String("listen", "", "Serve status and /metrics on this address, e.g. :8080")
	cmd.Flags().Uint64("report-every", 10, "Steps between progress reports (0 disables)")
	cmd.Flags().String("metrics-file", "", "Write Prometheus text metrics here at every report")
}

func readRunOptions(cmd *cobra.Command) runOptions {
	var o runOptions
	o.Directory, _ = cmd.Flags().GetString("directory")
	o.Run, _ = cmd.Flags().GetUint32("run")
	o.Workers, _ = cmd.Flags().GetUint32("workers")
	o.DBPath, _ = cmd.Flags().GetString("db")
	o.Snapshot, _ = cmd.Flags().GetBool("snapshot")
	o.Listen, _ = cmd.Flags().GetString("listen")
	o.LogLevel, _ = cmd.Flags().GetString("log-level")
	o.ReportEvery, _ = cmd.Flags().GetUint64("report-every")
	o.MetricsFile, _ = cmd.Flags().GetString("metrics-file")
	return o
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate a population and simulate it",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := loadInputs(resolveInputs(cmd))
			if err != nil {
				return inPhase("Input Error", err)
			}
			if steps, _ := cmd.Flags().GetUint64("steps"); steps > 0 {
				in.Params.Steps = steps
			}
			seed, _ := cmd.Flags().GetInt64("seed")
			if !cmd.Flags().Changed("seed") {
				seed = entropy.Seed()
			}
			opts := readRunOptions(cmd)

			m, err := engine.NewModel(engine.Config{
				Params:     in.Params,
				Dimensions: in.Dims,
				Census:     in.Census,
				Seed:       seed,
				Workers:    opts.Workers,
				Verify:     true,
			})
			if err != nil {
				return inPhase("Generation Error", err)
			}
			return simulate(cmd.Context(), cmd.OutOrStdout(), opts, m, in.Census)
		},
	}
	addInputFlags(cmd)
	addRunFlags(cmd)
	cmd.Flags().Int64("seed", 0, "Random seed (default: derived from the clock and crypto/rand)")
	cmd.Flags().Uint64("steps", 0, "Override the number of steps from the parameter file")
	return cmd
}

func newResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <snapshot>",
		Short: "Continue a run from a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := snapshot.Read(args[0])
			if err != nil {
				return inPhase("Input Error", err)
			}
			runID, err := uuid.Parse(snap.Header.RunID)
			if err != nil {
				return inPhase("Input Error", fmt.Errorf("snapshot run id: %w", err))
			}
			p := snap.Params
			if steps, _ := cmd.Flags().GetUint64("steps"); steps > 0 {
				p.Steps = steps
			}
			opts := readRunOptions(cmd)

			m, err := engine.Resume(engine.Config{
				Params:     p,
				Dimensions: snap.Dimensions,
				Census:     snap.Census,
				Seed:       snap.Header.Seed,
				Workers:    opts.Workers,
			}, runID, snap.Agents, snap.Header.Time)
			if err != nil {
				return inPhase("Generation Error", err)
			}
			slog.Info("resuming run", "run", runID, "time", snap.Header.Time, "agents", humanize.Comma(int64(len(m.Agents))))
			return simulate(cmd.Context(), cmd.OutOrStdout(), opts, m, snap.Census)
		},
	}
	addRunFlags(cmd)
	cmd.Flags().Uint64("steps", 0, "Total steps to reach (default: the snapshot's parameter)")
	return cmd
}

// session holds the sinks of one run.
type session struct {
	opts    runOptions
	model   *engine.Model
	census  []float64
	dir     string
	started time.Time

	stats   *report.StatisticsWriter
	metrics *metrics.Registry
	db      *persistence.DB
	tracer  *logging.StepTracer
	closers []io.Closer
}

// stepEvent is one line of steps.jsonl.
type stepEvent struct {
	Time  uint64            `json:"time"`
	Agent agents.AgentID    `json:"agent"`
	Step  agents.StepResult `json:"step"`
}

// simulate writes the original outputs, steps the model to completion and
// writes the final outputs. Output written before a failure is kept.
func simulate(ctx context.Context, out io.Writer, opts runOptions, m *engine.Model, cen []float64) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s := &session{opts: opts, model: m, census: cen, started: time.Now(), metrics: metrics.DefaultRegistry()}
	defer s.close()

	if err := s.open(); err != nil {
		return inPhase("Generation Error", err)
	}

	eng := engine.NewEngine(m.Params.Steps)
	eng.Time = m.CurrentTime()
	eng.ReportEvery = opts.ReportEvery
	eng.OnStep = s.step
	eng.OnReport = s.report

	if opts.Listen != "" {
		srv := &api.Server{Model: m, Eng: eng, Metrics: s.metrics, DB: s.db, Addr: opts.Listen}
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	done := make(chan struct{})
	defer close(done)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("received signal, stopping after the current step", "signal", sig)
			eng.Stop()
		case <-done:
		}
	}()

	fmt.Fprintf(out, "Run %s: %s agents, %s edges, writing to %s\n",
		m.RunID, humanize.Comma(int64(len(m.Agents))), humanize.Comma(int64(m.Graph.Edges)), s.dir)

	if err := eng.Run(ctx); err != nil {
		return inPhase("Simulation Error", err)
	}
	if err := s.finish(); err != nil {
		return inPhase("Teardown Error", err)
	}
	fmt.Fprintf(out, "Run %s finished at time %d in %s\n", m.RunID, m.CurrentTime(), time.Since(s.started).Round(time.Millisecond))
	return nil
}

func (s *session) open() error {
	m := s.model
	dir, err := report.CreateRunDirectory(s.opts.Directory, s.opts.Run, s.started)
	if err != nil {
		return err
	}
	s.dir = dir

	if err := report.WriteFile(filepath.Join(dir, report.OriginalAttributesFile), func(w io.Writer) error {
		return report.WriteAttributes(w, m.Agents)
	}); err != nil {
		return err
	}
	if err := report.WriteFile(filepath.Join(dir, report.OriginalNetworkFile), func(w io.Writer) error {
		return report.WriteNetwork(w, m.Agents)
	}); err != nil {
		return err
	}

	if s.tracer = logging.NewStepTracer(dir, s.opts.LogLevel); s.tracer != nil {
		m.Trace = func(t uint64, id agents.AgentID, res agents.StepResult) {
			s.tracer.Log(stepEvent{Time: t, Agent: id, Step: res})
		}
	}

	s.metrics.RecordGraph(len(m.Agents), m.Graph)

	if s.opts.DBPath != "" {
		if err := s.openArchive(); err != nil {
			return err
		}
	}

	f, err := os.Create(filepath.Join(dir, report.StatisticsFile))
	if err != nil {
		return fmt.Errorf("creating statistics file: %w", err)
	}
	s.closers = append(s.closers, f)
	s.stats = report.NewStatisticsWriter(f, m.Dims.Behaviors)
	if err := s.stats.WriteHeader(); err != nil {
		return err
	}
	return s.recordStatistics(m.CurrentTime())
}

func (s *session) openArchive() error {
	m := s.model
	db, err := persistence.Open(s.opts.DBPath)
	if err != nil {
		return err
	}
	s.db = db
	runID := m.RunID.String()

	run, err := persistence.NewRun(runID, m.Seed, m.Params, m.Dims, s.census, s.started)
	if err != nil {
		return err
	}
	if existing, err := db.LoadRun(runID); err == nil {
		run.StartedAt = existing.StartedAt
	}
	if err := db.SaveRun(run); err != nil {
		return err
	}
	// A resumed run keeps the population it was originally generated with.
	n, err := db.AgentCount(runID, persistence.PhaseOriginal)
	if err != nil {
		return err
	}
	if n == 0 {
		if err := db.SaveRunState(runID, persistence.PhaseOriginal, m.CurrentTime(), m.Records()); err != nil {
			return err
		}
	}
	return db.SaveMeta(runID, "directory", s.dir)
}

func (s *session) recordStatistics(t uint64) error {
	snap, err := s.stats.WriteRow(s.model.Agents, t)
	if err != nil {
		return fmt.Errorf("writing statistics: %w", err)
	}
	s.metrics.SetPrivilege(snap.Privilege)
	if s.db != nil {
		if err := s.db.SaveStatistics(s.model.RunID.String(), snap); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) step(ctx context.Context, t uint64) error {
	sum, err := s.model.Step(ctx)
	if err != nil {
		return err
	}
	if sum.Time != t {
		return fmt.Errorf("model at time %d, engine at %d", sum.Time, t)
	}
	s.metrics.RecordStep(sum)
	slog.Debug("step", "time", t, "changed", sum.Changed, "direct", sum.Direct,
		"sociodynamic", sum.Sociodynamic, "duration", sum.Duration)
	return s.recordStatistics(t)
}

func (s *session) report(t uint64) error {
	last := s.model.LastStep()
	slog.Info("progress",
		"time", humanize.Comma(int64(t)),
		"of", humanize.Comma(int64(s.model.Params.Steps)),
		"changed", humanize.Comma(int64(last.Changed)),
		"elapsed", time.Since(s.started).Round(time.Millisecond),
	)
	if s.opts.Snapshot {
		if err := s.writeSnapshot(t); err != nil {
			return err
		}
	}
	if s.db != nil {
		if err := s.db.SetLastTime(s.model.RunID.String(), t); err != nil {
			return err
		}
	}
	if s.opts.MetricsFile != "" {
		if err := s.metrics.WriteTextfile(s.opts.MetricsFile); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
	}
	return nil
}

func (s *session) writeSnapshot(t uint64) error {
	m := s.model
	path := filepath.Join(s.dir, snapshot.FileName(t))
	return snapshot.Write(path, snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			RunID:   m.RunID.String(),
			Seed:    m.Seed,
			Time:    t,
		},
		Params:     m.Params,
		Dimensions: m.Dims,
		Census:     s.census,
		Agents:     m.Records(),
	})
}

// finish writes the end-of-run outputs.
func (s *session) finish() error {
	m := s.model
	t := m.CurrentTime()

	if err := report.WriteFile(filepath.Join(s.dir, report.FinalAttributesFile), func(w io.Writer) error {
		return report.WriteAttributes(w, m.Agents)
	}); err != nil {
		return err
	}
	if err := report.WriteFile(filepath.Join(s.dir, report.CommFile), func(w io.Writer) error {
		return report.WriteComm(w, m.Agents, t)
	}); err != nil {
		return err
	}
	if err := report.WriteFile(filepath.Join(s.dir, report.PowerFile), func(w io.Writer) error {
		return report.WritePower(w, m.Agents)
	}); err != nil {
		return err
	}

	// With reporting on, the engine's closing report already wrote it.
	if s.opts.Snapshot && s.opts.ReportEvery == 0 {
		if err := s.writeSnapshot(t); err != nil {
			return err
		}
	}
	if s.db != nil {
		runID := m.RunID.String()
		if err := s.db.SaveRunState(runID, persistence.PhaseFinal, t, m.Records()); err != nil {
			return err
		}
	}
	if s.opts.MetricsFile != "" {
		if err := s.metrics.WriteTextfile(s.opts.MetricsFile); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
	}
	slog.Info("run complete", "run", m.RunID, "time", t, "directory", s.dir)
	return nil
}

func (s *session) close() {
	s.tracer.Close()
	for _, c := range s.closers {
		c.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
}
