package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/aristath/composer/internal/composefile"
	"github.com/aristath/composer/internal/config"
	"github.com/aristath/composer/internal/events"
	"github.com/aristath/composer/internal/flow"
	"github.com/aristath/composer/internal/journal"
	"github.com/aristath/composer/internal/scheduler"
	"github.com/aristath/composer/internal/shell"
	"github.com/aristath/composer/internal/tracing"
	"github.com/aristath/composer/internal/tui"
	"github.com/aristath/composer/internal/watch"
)

var version = "dev"

// defaultTask runs when no task is named on the command line.
const defaultTask = "default"

// errTasksFailed reports a failed run whose errors were already logged.
var errTasksFailed = errors.New("tasks failed")

type options struct {
	file       string
	configPath string
	flow       string
	watch      bool
	tui        bool
	list       bool
	plan       bool
	history    int
	quiet      bool
	tasks      []string
}

func parseFlags(args []string, output io.Writer) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("composer", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.file, "f", "", "composefile path or URL (default from config, composer.yaml)")
	fs.StringVar(&opts.configPath, "config", config.ProjectPath(), "project config file")
	fs.StringVar(&opts.flow, "flow", "", "top-level flow: series, parallel, settleSeries, settleParallel")
	fs.BoolVar(&opts.watch, "watch", false, "run the composefile watches until interrupted")
	fs.BoolVar(&opts.tui, "tui", false, "show the terminal UI")
	fs.BoolVar(&opts.list, "list", false, "list tasks in dependency order and exit")
	fs.BoolVar(&opts.plan, "plan", false, "print the resolved plan and exit")
	fs.IntVar(&opts.history, "history", 0, "print the last `n` recorded runs and exit")
	fs.BoolVar(&opts.quiet, "q", false, "do not print command output")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: composer [flags] [task ...]\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.flow != "" {
		if _, err := flow.ParsePolicy(opts.flow); err != nil {
			return nil, err
		}
	}
	opts.tasks = fs.Args()
	if len(opts.tasks) == 0 {
		opts.tasks = []string{defaultTask}
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		os.Exit(2)
	}

	// Create signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errTasksFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options, stdout, stderr io.Writer) error {
	logger := log.New(stderr, "", log.Ltime)

	cfg, err := config.Load(config.GlobalPath(), opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if opts.history > 0 {
		return printHistory(ctx, cfg, opts.history, stdout)
	}

	url := opts.file
	if url == "" {
		url = cfg.Composefile
	}
	file, err := composefile.Load(ctx, url)
	if err != nil {
		return err
	}

	policy := cfg.Policy()
	if opts.flow != "" {
		policy = flow.Policy(opts.flow)
	}

	bus := events.NewEventBus()
	defer bus.Close()

	dir := composeDir(url)
	pm := shell.NewProcessManager()
	runner := &shell.Runner{
		Shell:     cfg.Shell,
		Dir:       dir,
		Env:       cfg.Env,
		Processes: pm,
		Publisher: bus,
	}

	var watcher scheduler.Watcher
	if opts.watch {
		watcher = watch.New(dir, cfg.Debounce(), logger)
	}

	c := scheduler.New(scheduler.Config{
		Publisher:        bus,
		Watcher:          watcher,
		ConcurrencyLimit: cfg.Concurrency,
		DefaultFlow:      policy,
		Logger:           logger,
	})
	defer c.Close()

	if err := file.Apply(c, runner); err != nil {
		return err
	}

	if opts.list {
		return printList(c, file, stdout)
	}

	args := make([]any, 0, len(opts.tasks))
	for _, name := range opts.tasks {
		args = append(args, name)
	}

	if opts.plan {
		steps, err := c.Plan(args...)
		if err != nil {
			return err
		}
		printPlan(steps, stdout)
		return nil
	}

	followers, err := startFollowers(cfg, bus, logger, opts)
	defer func() {
		bus.Close()
		followers.wait()
		events.LogDropped(logger, bus.Dropped())
	}()
	if err != nil {
		return err
	}

	if opts.watch {
		if len(file.Watch) == 0 {
			return fmt.Errorf("no watches defined in %s", url)
		}
		if _, err := file.Watches(c); err != nil {
			return err
		}
	}

	if opts.tui {
		return runTUI(ctx, c, bus, cfg, pm, args, logger)
	}

	err = c.Run(ctx, args...)
	if !opts.watch {
		if err != nil {
			return errTasksFailed
		}
		return nil
	}

	<-ctx.Done()
	shutdown(c, pm, logger)
	return nil
}

// followers tracks the goroutines consuming the bus.
type followers struct {
	wg      sync.WaitGroup
	cleanup []func()
}

func (f *followers) start(fn func()) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		fn()
	}()
}

// wait blocks until every follower has drained its subscription, then
// releases their resources. The bus must be closed first.
func (f *followers) wait() {
	f.wg.Wait()
	for _, fn := range f.cleanup {
		fn()
	}
}

// startFollowers subscribes the console log, journal and tracing consumers.
// The returned followers are valid even when an error is returned.
func startFollowers(cfg *config.ComposerConfig, bus *events.EventBus, logger *log.Logger, opts *options) (*followers, error) {
	f := &followers{}
	// Followers stop when the bus closes so they record everything published.
	background := context.Background()

	if !opts.tui {
		sub := bus.SubscribeAll(1024)
		f.start(func() { events.Log(background, sub, logger, !opts.quiet) })
	}

	if cfg.Journal.Enabled {
		store, err := journal.NewSQLiteStore(background, cfg.Journal.Path)
		if err != nil {
			return f, fmt.Errorf("opening journal: %w", err)
		}
		sub := bus.SubscribeAll(1024)
		f.start(func() { journal.Follow(background, sub, store, logger) })
		f.cleanup = append(f.cleanup, func() {
			if err := store.Close(); err != nil {
				logger.Printf("WARNING: closing journal: %v", err)
			}
		})
	}

	if cfg.Tracing.Enabled {
		tp, closer, err := tracing.Init("composer", version, cfg.Tracing.Output)
		if err != nil {
			return f, err
		}
		sub := bus.SubscribeAll(1024)
		tracer := tp.Tracer(tracing.InstrumentationName)
		f.start(func() { tracing.Follow(background, sub, tracer) })
		f.cleanup = append(f.cleanup, func() {
			shutdownCtx, cancel := context.WithTimeout(background, 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.Printf("WARNING: flushing traces: %v", err)
			}
			closer.Close()
		})
	}

	return f, nil
}

func runTUI(ctx context.Context, c *scheduler.Composer, bus *events.EventBus, cfg *config.ComposerConfig, pm *shell.ProcessManager, args []any, logger *log.Logger) error {
	model := tui.New(bus, cfg, config.GlobalPath(), config.ProjectPath()).
		WithRerun(func() { c.RunCallback(ctx, nil, args...) })

	// Start Bubble Tea program in a goroutine so we can handle shutdown
	p := tea.NewProgram(model, tea.WithAltScreen())
	errChan := make(chan error, 1)
	go func() {
		_, err := p.Run()
		errChan <- err
	}()

	c.RunCallback(ctx, nil, args...)

	select {
	case err := <-errChan:
		// Normal TUI exit (user pressed 'q')
		shutdown(c, pm, logger)
		return err
	case <-ctx.Done():
		shutdown(c, pm, logger)
		p.Quit()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		select {
		case err := <-errChan:
			if err != nil {
				logger.Printf("TUI exit error: %v", err)
			}
		case <-shutdownCtx.Done():
			logger.Println("Shutdown timeout exceeded, forcing exit")
		}
	}
	return nil
}

// shutdown stops the watches and kills every command still running.
func shutdown(c *scheduler.Composer, pm *shell.ProcessManager, logger *log.Logger) {
	logger.Println("Shutting down, cleaning up...")
	c.Close()
	if err := pm.KillAll(); err != nil {
		logger.Printf("Error killing subprocesses: %v", err)
	}
}

// composeDir returns the working directory for commands of the composefile
// at url: its directory for local files, the current directory otherwise.
func composeDir(url string) string {
	if strings.Contains(url, "://") && !strings.HasPrefix(url, "file://") {
		return "."
	}
	path := strings.TrimPrefix(url, "file://")
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return filepath.Dir(path)
}

func printList(c *scheduler.Composer, file *composefile.File, w io.Writer) error {
	order, err := c.Registry().Validate()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, name := range order {
		task, _ := c.Registry().Get(name)
		desc := ""
		if def, ok := file.Tasks.Get(name); ok {
			desc = def.Desc
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, strings.Join(task.DependencyNames(), ", "), desc)
	}
	return tw.Flush()
}

func printPlan(steps []*scheduler.Step, w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, step := range steps {
		deps := ""
		if names := step.DependencyNames(); len(names) > 0 {
			deps = "<- " + strings.Join(names, ", ")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", step.ID, step.Name, step.Flow, deps)
	}
	tw.Flush()
}

func printHistory(ctx context.Context, cfg *config.ComposerConfig, n int, w io.Writer) error {
	store, err := journal.NewSQLiteStore(ctx, cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer store.Close()

	runs, err := store.ListRuns(ctx, n)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range runs {
		id := r.ID
		if len(id) > 8 {
			id = id[:8]
		}
		took := "-"
		if d := r.Duration(); d > 0 {
			took = d.Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", id, r.Status, strings.Join(r.Tasks, ","), took, humanize.Time(r.StartedAt))
		if r.Error != "" {
			fmt.Fprintf(tw, "\t\t%s\t\t\n", r.Error)
		}
	}
	return tw.Flush()
}
