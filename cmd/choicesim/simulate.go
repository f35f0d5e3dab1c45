package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/choicesim/internal/config"
	"github.com/ShayCichocki/choicesim/internal/decision"
	"github.com/ShayCichocki/choicesim/internal/experiment"
	"github.com/ShayCichocki/choicesim/internal/server"
	"github.com/ShayCichocki/choicesim/internal/signals"
	"github.com/ShayCichocki/choicesim/internal/simulation"
	"github.com/ShayCichocki/choicesim/internal/state"
	"github.com/ShayCichocki/choicesim/internal/tui"
	"github.com/ShayCichocki/choicesim/internal/world"
	"github.com/ShayCichocki/choicesim/pkg/models"
)

var (
	simHeadless            bool
	simDryRun              bool
	simTargetTotal         int
	simConcurrency         int
	simDecisionConcurrency int
	simSeed                uint64
	simModel               string
	simListen              string
	simNoSave              bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <experiment.yaml>",
	Short: "Run a choice experiment",
	Long: `Run a choice experiment and record one response per agent.

Agents are expanded from the experiment's segments (padded up to
--target-total with synthesized agents), shuffled, and run through the
orchestrator with bounded concurrency.

Control a running simulation from another shell with
'choicesim signal abort|pause|resume', or from the TUI with a and p.

Examples:
  choicesim simulate experiment.yaml
  choicesim simulate --dry-run --headless experiment.yaml
  choicesim simulate --target-total 200 --concurrency 20 experiment.yaml
  choicesim simulate --listen :8080 experiment.yaml   # stream progress on /ws/progress`,
	Args: cobra.ExactArgs(1),
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().BoolVar(&simHeadless, "headless", false, "Run without TUI and print progress lines")
	simulateCmd.Flags().BoolVar(&simDryRun, "dry-run", false, "Route every model to the offline mock provider")
	simulateCmd.Flags().IntVar(&simTargetTotal, "target-total", 0, "Pad the population to at least this many agents")
	simulateCmd.Flags().IntVar(&simConcurrency, "concurrency", 0, "Maximum simultaneously active agents")
	simulateCmd.Flags().IntVar(&simDecisionConcurrency, "decision-concurrency", 0, "Maximum simultaneous reasoning calls")
	simulateCmd.Flags().Uint64Var(&simSeed, "seed", 0, "Seed for a reproducible agent order")
	simulateCmd.Flags().StringVar(&simModel, "model", "", "Default model tag for segments without one")
	simulateCmd.Flags().StringVar(&simListen, "listen", "", "Serve the results API and live progress on this address")
	simulateCmd.Flags().BoolVar(&simNoSave, "no-save", false, "Do not record the run in the result store")
}

// simulationRun bundles what one simulate invocation wires together.
type simulationRun struct {
	exp      *experiment.Experiment
	cfg      *config.Config
	orch     *simulation.Orchestrator
	decider  *decision.Decider
	store    *state.DB
	hub      *server.Hub
	logger   *simulation.DebugLogger
	started  time.Time
	root     string
	headless bool
}

func runSimulate(cmd *cobra.Command, args []string) error {
	exp, err := experiment.Load(args[0])
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applySimulateFlags(cmd, cfg)

	root, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run, err := prepareRun(ctx, cmd, exp, cfg, root)
	if err != nil {
		return err
	}
	defer run.close()

	watcher, err := signals.NewWatcher(signals.Dir(root))
	if err != nil {
		log.Printf("[simulate] signal files disabled: %v", err)
	} else {
		watchCtx, cancelWatch := context.WithCancel(ctx)
		defer cancelWatch()
		go watcher.Run(watchCtx, run.orch)
	}

	if simListen != "" {
		if err := run.serve(ctx, simListen); err != nil {
			return err
		}
	}

	if run.headless {
		return run.runHeadless(ctx)
	}
	return run.runTUI(ctx)
}

func applySimulateFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("concurrency") {
		cfg.Simulation.Concurrency = simConcurrency
	}
	if flags.Changed("decision-concurrency") {
		cfg.Simulation.DecisionConcurrency = simDecisionConcurrency
	}
	if flags.Changed("model") {
		cfg.Simulation.DefaultModel = simModel
	}
}

func prepareRun(ctx context.Context, cmd *cobra.Command, exp *experiment.Experiment, cfg *config.Config, root string) (*simulationRun, error) {
	run := &simulationRun{
		exp:      exp,
		cfg:      cfg,
		root:     root,
		headless: simHeadless,
		logger:   simulation.NewDebugLoggerForProject(root),
	}

	defaultModel := cfg.Simulation.DefaultModel
	if exp.DefaultModel != "" && !cmd.Flags().Changed("model") {
		defaultModel = exp.DefaultModel
	}
	tags := append(exp.ModelTags(), defaultModel)

	decider, err := createDecider(ctx, cfg, exp.Context, tags, simDryRun)
	if err != nil {
		run.close()
		return nil, err
	}
	run.decider = decider

	if !simNoSave || simListen != "" {
		db, err := openStore(cfg, root)
		if err != nil {
			run.close()
			return nil, err
		}
		run.store = db
	}
	if simListen != "" {
		run.hub = server.NewHub()
	}

	seed := uint64(time.Now().UnixNano())
	if exp.Seed != nil {
		seed = *exp.Seed
	}
	if cmd.Flags().Changed("seed") {
		seed = simSeed
	}

	targetTotal := exp.TargetTotal
	if cmd.Flags().Changed("target-total") {
		targetTotal = simTargetTotal
	}

	opts := []simulation.Option{
		simulation.WithConcurrency(cfg.Simulation.Concurrency),
		simulation.WithDecisionConcurrency(cfg.Simulation.DecisionConcurrency),
		simulation.WithOptionSpriteConcurrency(cfg.Simulation.OptionSpriteConcurrency),
		simulation.WithWanderSteps(cfg.Simulation.WanderSteps),
		simulation.WithDefaultModel(defaultModel),
		simulation.WithTargetTotal(targetTotal),
		simulation.WithSeed(seed),
		simulation.WithLogger(run.logger),
	}
	if cfg.Simulation.InitialSpawnWindow > 0 {
		opts = append(opts, simulation.WithInitialSpawnWindow(cfg.Simulation.InitialSpawnWindow))
	}
	if run.headless {
		opts = append(opts, simulation.WithObserver(newHeadlessPrinter(os.Stdout)))
	}

	w := world.NewHeadless(world.HeadlessConfig{
		StepLatency:  cfg.World.StepLatency,
		PickMissRate: cfg.World.PickMissRate,
		Seed:         seed,
		MaxEvents:    10000,
	})

	run.orch = simulation.New(simulation.RequiredConfig{
		Decider:      decider,
		World:        w,
		Alternatives: exp.Alternatives,
		Segments:     exp.Segments,
	}, opts...)

	run.logger.Log("prepared run %s for experiment %q (seed %d, default model %s, dry run %t)",
		run.orch.RunID(), exp.Name, seed, defaultModel, simDryRun)
	return run, nil
}

func (r *simulationRun) close() {
	if r.store != nil {
		r.store.Close()
	}
	if r.logger != nil {
		r.logger.Close()
	}
}

// serve starts the results API in the background for the lifetime of ctx.
func (r *simulationRun) serve(ctx context.Context, addr string) error {
	srv, err := server.New(server.Config{
		Store:      r.store,
		Hub:        r.hub,
		Controller: r.orch,
	})
	if err != nil {
		return err
	}
	go func() {
		if err := srv.ListenAndServe(ctx, addr); err != nil {
			log.Printf("[simulate] results API stopped: %v", err)
		}
	}()
	return nil
}

// forward drains the orchestrator's event channel into the hub and, when
// set, the TUI. It subscribes before returning so Init events are delivered.
func (r *simulationRun) forward(send func(simulation.Event)) <-chan struct{} {
	events := r.orch.Events()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			if r.hub != nil {
				r.hub.Publish(ev)
			}
			if send != nil {
				send(ev)
			}
		}
		if r.hub != nil {
			r.hub.Close()
		}
	}()
	return done
}

// execute runs Init and Start and records the results.
func (r *simulationRun) execute(ctx context.Context) (*models.RunResults, error) {
	r.started = time.Now()

	if err := r.orch.Init(ctx); err != nil {
		return nil, fmt.Errorf("initialize run: %w", err)
	}

	results, err := r.orch.Start(ctx)
	if err != nil {
		return nil, fmt.Errorf("run simulation: %w", err)
	}

	if err := r.save(results); err != nil {
		return results, err
	}
	return results, nil
}

func (r *simulationRun) save(results *models.RunResults) error {
	if simNoSave || r.store == nil {
		return nil
	}
	run := state.NewRun(r.exp.Name, results, r.exp.Alternatives, r.started)
	run.InputTokens, run.OutputTokens = r.decider.Client().Tracker().Total()
	if err := r.store.SaveRun(run, results.Responses); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	r.logger.Log("saved run %s (%d responses)", run.ID, len(results.Responses))
	return nil
}

func (r *simulationRun) runHeadless(ctx context.Context) error {
	fmt.Printf("Running %s (run %s)\n", color.CyanString(r.exp.Name), r.orch.RunID())

	// The headless printer is an Observer; events are only needed for --listen.
	var forwarded <-chan struct{}
	if r.hub != nil {
		forwarded = r.forward(nil)
	}
	results, err := r.execute(ctx)
	if forwarded != nil {
		<-forwarded
	}
	if results == nil {
		return err
	}

	printResults(os.Stdout, r.orch.RunID(), results, r.exp.Alternatives)
	if !simNoSave && err == nil && r.store != nil {
		fmt.Printf("Saved to %s\n", storeLabel(r.store))
	}
	return err
}

func (r *simulationRun) runTUI(ctx context.Context) error {
	// Suppress log output while TUI is active (it corrupts the display)
	originalOutput := log.Writer()
	log.SetOutput(io.Discard)
	defer log.SetOutput(originalOutput)

	program, _ := tui.NewProgram(tui.Config{
		Title:        r.exp.Name,
		Alternatives: r.exp.Alternatives,
		Controller:   r.orch,
		RefreshRate:  r.cfg.TUI.RefreshRate,
	})

	forwarded := r.forward(func(ev simulation.Event) {
		program.Send(tui.EventMsg{Event: ev})
	})

	type outcome struct {
		results *models.RunResults
		err     error
	}
	runDone := make(chan outcome, 1)
	go func() {
		results, err := r.execute(ctx)
		program.Send(tui.DoneMsg{Results: results, Err: err})
		runDone <- outcome{results, err}
	}()

	if _, err := program.Run(); err != nil {
		r.orch.Abort()
		<-runDone
		return fmt.Errorf("run TUI: %w", err)
	}

	// Quitting the TUI early aborts the run; in-flight agents still finish.
	r.orch.Abort()
	out := <-runDone
	<-forwarded

	log.SetOutput(originalOutput)
	if out.results != nil {
		printResults(os.Stdout, r.orch.RunID(), out.results, r.exp.Alternatives)
	}
	if errors.Is(out.err, simulation.ErrNotReady) {
		return fmt.Errorf("run was not started: %w", out.err)
	}
	return out.err
}
