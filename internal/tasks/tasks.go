// Package tasks is the developer task runner for this repository: lint,
// test, coverage, docs and a commit that is gated on the test suite.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/kballard/go-shellquote"
)

var (
	ErrUnknownTask     = errors.New("unknown task")
	ErrDependencyCycle = errors.New("task dependency cycle")
)

// TaskError reports the task and command that stopped a run
type TaskError struct {
	Task    string
	Command string
	Err     error
}

func (e *TaskError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("task %s failed: %v", e.Task, e.Err)
	}
	return fmt.Sprintf("task %s failed at %q: %v", e.Task, e.Command, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// Runner executes a single command. ExecRunner is the real one; tests use
// a recording fake.
type Runner interface {
	Run(ctx context.Context, dir string, argv []string, stdout, stderr io.Writer) error
}

// ExecRunner runs commands with os/exec
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir string, argv []string, stdout, stderr io.Writer) error {
	if len(argv) == 0 {
		return errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}

// Env is what a task action gets to work with
type Env struct {
	Dir    string
	Args   []string
	Stdout io.Writer
	Stderr io.Writer
	runner Runner
	reg    *Registry
}

// Exec splits a shell-quoted command line and runs it
func (e *Env) Exec(ctx context.Context, command string) error {
	return e.ExecTo(ctx, command, e.Stdout)
}

// ExecTo is Exec with stdout redirected to w
func (e *Env) ExecTo(ctx context.Context, command string, w io.Writer) error {
	argv, err := shellquote.Split(command)
	if err != nil {
		return fmt.Errorf("failed to parse command: %w", err)
	}
	return e.ExecArgv(ctx, argv, w)
}

// ExecArgv runs an already split command
func (e *Env) ExecArgv(ctx context.Context, argv []string, w io.Writer) error {
	fmt.Fprintf(e.Stderr, "$ %s\n", shellquote.Join(argv...))
	return e.runner.Run(ctx, e.Dir, argv, w, e.Stderr)
}

// Task is a named unit of work. Commands run first, then Action.
type Task struct {
	Name     string
	Help     string
	Depends  []string
	Commands []string
	Action   func(ctx context.Context, env *Env) error
}

// Registry holds the known tasks and how to run them
type Registry struct {
	tasks         map[string]*Task
	runner        Runner
	dir           string
	stdout        io.Writer
	stderr        io.Writer
	watchInterval time.Duration
}

// Option configures a Registry
type Option func(*Registry)

func WithRunner(r Runner) Option {
	return func(reg *Registry) { reg.runner = r }
}

func WithDir(dir string) Option {
	return func(reg *Registry) { reg.dir = dir }
}

func WithOutput(stdout, stderr io.Writer) Option {
	return func(reg *Registry) { reg.stdout, reg.stderr = stdout, stderr }
}

func WithWatchInterval(d time.Duration) Option {
	return func(reg *Registry) { reg.watchInterval = d }
}

// NewRegistry creates an empty registry
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tasks:         make(map[string]*Task),
		runner:        ExecRunner{},
		dir:           ".",
		stdout:        os.Stdout,
		stderr:        os.Stderr,
		watchInterval: time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces a task
func (r *Registry) Register(t *Task) {
	r.tasks[t.Name] = t
}

// Get retrieves a task by name
func (r *Registry) Get(name string) (*Task, error) {
	t, ok := r.tasks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return t, nil
}

// Names returns the sorted task names
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe prints a name/help table
func (r *Registry) Describe(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, name := range r.Names() {
		t := r.tasks[name]
		deps := ""
		if len(t.Depends) > 0 {
			deps = "(after " + strings.Join(t.Depends, ", ") + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, t.Help, deps)
	}
	return tw.Flush()
}

// Plan returns the tasks to run for name in execution order. Every task
// appears once, after all of its dependencies.
func (r *Registry) Plan(name string) ([]*Task, error) {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int)
	var order []*Task

	var visit func(n string, path []string) error
	visit = func(n string, path []string) error {
		switch state[n] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w: %s", ErrDependencyCycle, strings.Join(append(path, n), " -> "))
		}
		t, err := r.Get(n)
		if err != nil {
			return err
		}
		state[n] = visiting
		for _, dep := range t.Depends {
			if err := visit(dep, append(path, n)); err != nil {
				return err
			}
		}
		state[n] = done
		order = append(order, t)
		return nil
	}

	if err := visit(name, nil); err != nil {
		return nil, err
	}
	return order, nil
}

// Run executes name and its dependencies, stopping at the first failure.
// args are passed to the requested task only.
func (r *Registry) Run(ctx context.Context, name string, args []string) error {
	plan, err := r.Plan(name)
	if err != nil {
		return err
	}

	header := color.New(color.FgCyan, color.Bold)
	for _, t := range plan {
		env := &Env{
			Dir:    r.dir,
			Stdout: r.stdout,
			Stderr: r.stderr,
			runner: r.runner,
			reg:    r,
		}
		if t.Name == name {
			env.Args = args
		}

		header.Fprintf(r.stderr, "==> %s\n", t.Name)
		for _, command := range t.Commands {
			if err := env.Exec(ctx, command); err != nil {
				color.New(color.FgRed).Fprintf(r.stderr, "==> %s failed\n", t.Name)
				return &TaskError{Task: t.Name, Command: command, Err: err}
			}
		}
		if t.Action != nil {
			if err := t.Action(ctx, env); err != nil {
				color.New(color.FgRed).Fprintf(r.stderr, "==> %s failed\n", t.Name)
				return &TaskError{Task: t.Name, Err: err}
			}
		}
	}
	color.New(color.FgGreen).Fprintf(r.stderr, "==> %s ok\n", name)
	return nil
}
