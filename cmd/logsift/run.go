package main

import (
	"context"
	stderrors "errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/logsift/logsift/internal/metrics"
	"github.com/logsift/logsift/internal/model"
	"github.com/logsift/logsift/pkg/checkpoint"
	"github.com/logsift/logsift/pkg/config"
	"github.com/logsift/logsift/pkg/errors"
	"github.com/logsift/logsift/pkg/lifecycle"
	"github.com/logsift/logsift/pkg/pipeline"
	"github.com/logsift/logsift/pkg/server"
	"github.com/logsift/logsift/pkg/sink"
	"github.com/logsift/logsift/pkg/source"
	"github.com/logsift/logsift/pkg/telemetry"
	"github.com/logsift/logsift/pkg/tui"
)

// lockTTL bounds how long a crashed run blocks its checkpoint id. Live
// runs refresh the lock well inside this window.
const lockTTL = 5 * time.Minute

var (
	runInputs   []string
	runStdin    string
	runFollow   bool
	runInstance string
	runQuiet    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the processing pipeline",
	Long: `Run the engine over the configured inputs until they are exhausted or
the process receives SIGINT/SIGTERM.

Inputs come from the config file's inputs section and from --input flags.
With --follow, file inputs are tailed as they grow and the run only ends
on a signal. Source offsets and window watermarks are checkpointed, so an
interrupted run resumes where it left off.

Examples:
  logsift run --input logs-structured=app.jsonl
  logsift run -i logs-syslog-raw=/var/log/syslog --follow
  logsift run --stdin logs-app-mixed < legacy.log
  logsift run --instance edge-7`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringArrayVarP(&runInputs, "input", "i", nil, "Additional input as stream=path (repeatable)")
	runCmd.Flags().StringVar(&runStdin, "stdin", "", "Read stdin into the named stream")
	runCmd.Flags().BoolVarP(&runFollow, "follow", "f", false, "Tail file inputs instead of stopping at EOF")
	runCmd.Flags().StringVar(&runInstance, "instance", "default", "Checkpoint instance id")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Suppress banner and progress output")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	mgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := mgr.Get()

	inputs, err := gatherInputs(cfg)
	if err != nil {
		return err
	}
	if len(inputs) == 0 && runStdin == "" {
		return errors.New(errors.CodeConfigMissing,
			"no inputs: add an inputs section to the config or pass --input/--stdin")
	}
	cfg.Inputs = inputs
	if runStdin != "" {
		if _, ok := cfg.Streams[runStdin]; !ok {
			return errors.ConfigInvalid("stdin", runStdin, "not bound in streams")
		}
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := mgr.EnsureDirs(); err != nil {
		return err
	}
	for _, in := range inputs {
		if !in.Follow {
			if _, err := os.Stat(in.Path); os.IsNotExist(err) {
				return errors.SourceNotFound(in.Path)
			}
		}
	}

	logger := newLogger(cfg)
	ctx := context.Background()
	showTUI := isTerminal() && !runQuiet

	lc := lifecycle.New(lifecycle.Config{Logger: logger})
	defer lc.Close()

	tel, err := telemetry.Setup(ctx, telemetry.Options{
		Config:  cfg.Telemetry,
		Version: version,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	lc.RegisterCloser("telemetry", tel)

	backend, err := checkpoint.NewBackend(ctx, cfg.Checkpoint)
	if err != nil {
		return err
	}
	lc.RegisterCloser("checkpoint backend", backend)

	// With the redis backend, a SetNX lock keeps two engines from
	// interleaving saves under one instance id.
	var lock *checkpoint.Lock
	stopRefresh := func() {}
	releaseLock := func() {
		stopRefresh()
		if lock == nil {
			return
		}
		if err := lock.Release(context.Background()); err != nil {
			logger.Warn("checkpoint lock release failed", "error", err)
		}
		lock = nil
	}
	if rb, ok := backend.(*checkpoint.RedisBackend); ok {
		lock, err = rb.AcquireLock(ctx, runInstance, lockTTL)
		if err != nil {
			return err
		}
		defer releaseLock()

		kaCtx, kaCancel := context.WithCancel(ctx)
		stopRefresh = kaCancel
		go refreshLock(kaCtx, lock, logger)
	}

	state, err := backend.Load(ctx, runInstance)
	if err != nil {
		if !stderrors.Is(err, os.ErrNotExist) {
			return err
		}
		state = checkpoint.NewState(runInstance)
	} else {
		logger.Info("resuming from checkpoint",
			"instance", runInstance, "offsets", len(state.Offsets), "watermarks", len(state.Watermarks))
	}

	sources, err := buildSources(cfg, state, logger)
	if err != nil {
		return err
	}

	fileSink, err := sink.NewFileSink(sink.FileConfig{Dir: cfg.Sinks.Dir})
	if err != nil {
		return err
	}
	sinks := []sink.Sink{fileSink}

	var srvCh *sink.ChannelSink
	if cfg.Server.Enabled {
		srvCh = sink.NewChannelSink(cfg.Sinks.BufferSize)
		sinks = append(sinks, srvCh)
	}
	var echoCh *sink.ChannelSink
	if showTUI && verbose {
		echoCh = sink.NewChannelSink(cfg.Sinks.BufferSize)
		sinks = append(sinks, echoCh)
	}
	out := sink.NewMultiSink(sinks...)
	lc.RegisterCloser("output sink", out)

	eng, err := pipeline.New(pipeline.Options{
		Config:     cfg,
		Sources:    sources,
		Sink:       out,
		Backend:    backend,
		InstanceID: runInstance,
		Logger:     logger,
		Metrics:    metrics.New(),
	})
	if err != nil {
		return err
	}

	if cfg.Server.Enabled {
		srv, err := server.New(server.Options{
			Config: cfg.Server,
			Stats:  eng.Stats,
			Ready:  lc.Ready,
			DLQDir: cfg.DLQ.Dir,
			Logger: logger,
		})
		if err != nil {
			return err
		}
		if err := srv.Start(); err != nil {
			return err
		}
		lc.RegisterCloser("http server", srv)
		go srv.Pump(ctx, srvCh.C())
	}

	echoDone := make(chan struct{})
	if echoCh != nil {
		go echoAlerts(echoCh.C(), echoDone)
	} else {
		close(echoDone)
	}

	if showTUI {
		tui.PrintHeader(version)
		tui.PrintRunInfo(len(sources), cfg.Sinks.Dir, backend.Name())
		eng.SetProgressCallback(tui.PrintProgress)
	}

	lc.SetReady(true)
	var stats pipeline.Stats
	runErr := lc.Run(ctx, func(ctx context.Context) error {
		st, err := eng.Run(ctx)
		stats = st
		return err
	})

	// An expired drain means the engine may still be mid-flight; skip
	// the summary and let the deferred teardown do what it can.
	if errors.IsCode(runErr, errors.CodeTimeout) {
		return runErr
	}

	releaseLock()
	if cerr := lc.Close(); cerr != nil {
		logger.Warn("shutdown finished with errors", "error", cerr)
	}
	<-echoDone

	if showTUI {
		tui.ClearLine()
		tui.PrintSummary(stats)
	}
	return runErr
}

// gatherInputs merges the config inputs with the --input flags. --follow
// switches every file input to tail mode.
func gatherInputs(cfg *config.Config) ([]config.InputConfig, error) {
	inputs := append([]config.InputConfig(nil), cfg.Inputs...)
	for _, spec := range runInputs {
		stream, path, ok := strings.Cut(spec, "=")
		if !ok || stream == "" || path == "" {
			return nil, errors.ConfigInvalid("input", spec, "must be stream=path")
		}
		inputs = append(inputs, config.InputConfig{Stream: stream, Path: path})
	}
	if runFollow {
		for i := range inputs {
			inputs[i].Follow = true
		}
	}
	return inputs, nil
}

// buildSources turns the input bindings into sources, resuming each from
// its checkpointed offset. Offsets are keyed by source name, which embeds
// the mode prefix and path.
func buildSources(cfg *config.Config, state *checkpoint.State, logger *slog.Logger) ([]source.Source, error) {
	var sources []source.Source
	for _, in := range cfg.Inputs {
		if in.Follow {
			ts, err := source.NewTailSource(source.TailConfig{
				Path:   in.Path,
				Stream: in.Stream,
				Start:  state.Offset("tail:" + in.Path),
				Logger: logger,
			})
			if err != nil {
				return nil, err
			}
			sources = append(sources, ts)
		} else {
			sources = append(sources, source.NewFileSource(in.Path, in.Stream, state.Offset("file:"+in.Path)))
		}
	}
	if runStdin != "" {
		sources = append(sources, source.NewReaderSource(runStdin, os.Stdin))
	}
	return sources, nil
}

// refreshLock extends the redis instance lock until ctx ends.
func refreshLock(ctx context.Context, lock *checkpoint.Lock, logger *slog.Logger) {
	t := time.NewTicker(lockTTL / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := lock.Refresh(ctx, lockTTL); err != nil {
				logger.Warn("checkpoint lock refresh failed", "error", err)
			}
		}
	}
}

// echoAlerts prints alerts from the sink feed to the console.
func echoAlerts(ch <-chan sink.Message, done chan<- struct{}) {
	defer close(done)
	for msg := range ch {
		switch msg.Stream {
		case sink.StreamAlertsRecord, sink.StreamAlertsWindow:
			if al, ok := msg.Value.(model.Alert); ok {
				tui.ClearLine()
				tui.PrintAlert(al)
			}
		}
	}
}
