// Package shell runs composefile commands as task bodies.
package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aristath/composer/internal/events"
	"github.com/aristath/composer/internal/scheduler"
)

// stderrTail bounds how much stderr is kept for error messages.
const stderrTail = 4096

// Runner executes shell commands on behalf of tasks.
type Runner struct {
	Shell     string            // Interpreter invoked as `Shell -c command`, default "sh"
	Dir       string            // Working directory, default the current one
	Env       map[string]string // Added to the process environment
	Processes *ProcessManager   // Optional; tracks commands for shutdown
	Publisher events.Publisher  // Receives one TaskOutputEvent per output line
}

// Task returns a body that runs command. A "dir" option on the run context
// overrides the runner's working directory.
func (r *Runner) Task(command string) scheduler.TaskFunc {
	return func(ctx context.Context, rc *scheduler.RunContext) error {
		var dir string
		if v, ok := rc.Option("dir"); ok {
			dir, _ = v.(string)
		}
		return r.Exec(ctx, Invocation{
			Name:    rc.TaskName(),
			RunID:   rc.RunID(),
			Context: contextID(rc),
			Dir:     dir,
			Command: command,
		})
	}
}

// Invocation identifies one command execution.
type Invocation struct {
	Name    string
	RunID   string
	Context string
	Dir     string // Overrides Runner.Dir when set
	Command string
}

// Exec runs one command to completion. Stdout and stderr are read
// concurrently and each line is published as it arrives. A non-zero exit
// returns an error carrying the tail of stderr.
func (r *Runner) Exec(ctx context.Context, inv Invocation) error {
	shell := r.Shell
	if shell == "" {
		shell = "sh"
	}

	dir := inv.Dir
	if dir == "" {
		dir = r.Dir
	}

	cmd := newCommand(ctx, shell, "-c", inv.Command)
	cmd.Dir = dir
	cmd.Env = r.environ(inv)
	cmd.WaitDelay = time.Second

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %q: %w", inv.Command, err)
	}
	if r.Processes != nil {
		r.Processes.Track(cmd)
		defer r.Processes.Untrack(cmd)
	}

	// Drain both pipes before Wait so large output cannot block the child.
	var wg sync.WaitGroup
	var tail tailBuffer
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.scan(stdoutPipe, inv, false, nil)
	}()
	go func() {
		defer wg.Done()
		r.scan(stderrPipe, inv, true, &tail)
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("command %q interrupted: %w", inv.Command, ctxErr)
		}
		if stderr := strings.TrimSpace(tail.String()); stderr != "" {
			return fmt.Errorf("command %q failed: %w (stderr: %s)", inv.Command, err, stderr)
		}
		return fmt.Errorf("command %q failed: %w", inv.Command, err)
	}
	return nil
}

func (r *Runner) scan(pipe io.Reader, inv Invocation, stderr bool, tail *tailBuffer) {
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if tail != nil {
			tail.WriteLine(line)
		}
		if r.Publisher != nil {
			r.Publisher.Publish(events.TopicTask, events.TaskOutputEvent{
				Name:      inv.Name,
				RunID:     inv.RunID,
				ContextID: inv.Context,
				Line:      line,
				Stderr:    stderr,
				Timestamp: time.Now(),
			})
		}
	}
	// Keep the pipe drained if the scanner gave up on an oversized line.
	_, _ = io.Copy(io.Discard, pipe)
}

// environ returns the process environment with the runner's additions and
// the task identity.
func (r *Runner) environ(inv Invocation) []string {
	env := os.Environ()
	keys := make([]string, 0, len(r.Env))
	for k := range r.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+r.Env[k])
	}
	env = append(env, "COMPOSER_TASK="+inv.Name)
	if inv.RunID != "" {
		env = append(env, "COMPOSER_RUN_ID="+inv.RunID)
	}
	return env
}

func contextID(rc *scheduler.RunContext) string {
	if rc == nil {
		return ""
	}
	return rc.ID
}

// tailBuffer keeps the last stderrTail bytes of the lines written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *tailBuffer) WriteLine(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, line...)
	b.buf = append(b.buf, '\n')
	if over := len(b.buf) - stderrTail; over > 0 {
		b.buf = b.buf[over:]
	}
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
