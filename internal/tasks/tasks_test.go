package tasks

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeRunner records every command and fails the ones listed in fail.
type fakeRunner struct {
	mu     sync.Mutex
	calls  []string
	fail   map[string]bool
	output map[string]string
}

func (f *fakeRunner) Run(ctx context.Context, dir string, argv []string, stdout, stderr io.Writer) error {
	cmd := strings.Join(argv, " ")
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()
	if out, ok := f.output[cmd]; ok {
		io.WriteString(stdout, out)
	}
	if f.fail[cmd] {
		return errors.New("exit status 1")
	}
	return nil
}

func (f *fakeRunner) called(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func newTestRegistry(t *testing.T, runner *fakeRunner) (*Registry, *bytes.Buffer) {
	t.Helper()
	var stdout bytes.Buffer
	reg := Default(
		WithRunner(runner),
		WithDir(t.TempDir()),
		WithOutput(&stdout, io.Discard),
		WithWatchInterval(5*time.Millisecond),
	)
	return reg, &stdout
}

func TestCommitRunsOnlyAfterTestsPass(t *testing.T) {
	runner := &fakeRunner{}
	reg, _ := newTestRegistry(t, runner)

	if err := reg.Run(context.Background(), "commit", []string{"-m", "add crawler"}); err != nil {
		t.Fatalf("Run(commit) error = %v", err)
	}

	want := []string{
		"gofmt -l .",
		"go vet ./...",
		"go test ./...",
		"git commit -m add crawler",
	}
	if !reflect.DeepEqual(runner.calls, want) {
		t.Fatalf("unexpected commands:\n got %q\nwant %q", runner.calls, want)
	}
}

func TestCommitBlockedByFailingTests(t *testing.T) {
	runner := &fakeRunner{fail: map[string]bool{"go test ./...": true}}
	reg, _ := newTestRegistry(t, runner)

	err := reg.Run(context.Background(), "commit", []string{"-m", "broken"})
	if err == nil {
		t.Fatalf("expected commit to fail")
	}
	var taskErr *TaskError
	if !errors.As(err, &taskErr) || taskErr.Task != "test" {
		t.Fatalf("expected failure in test task, got %v", err)
	}
	if runner.called("git") {
		t.Fatalf("git commit executed although tests failed: %q", runner.calls)
	}
}

func TestCommitBlockedByLint(t *testing.T) {
	runner := &fakeRunner{output: map[string]string{"gofmt -l .": "internal/crawler/scraper.go\n"}}
	reg, _ := newTestRegistry(t, runner)

	err := reg.Run(context.Background(), "commit", nil)
	if err == nil || !strings.Contains(err.Error(), "scraper.go") {
		t.Fatalf("expected gofmt failure, got %v", err)
	}
	if runner.called("git") || runner.called("go test") {
		t.Fatalf("later commands executed: %q", runner.calls)
	}
}

func TestRunUnknownTask(t *testing.T) {
	reg, _ := newTestRegistry(t, &fakeRunner{})
	if err := reg.Run(context.Background(), "deploy", nil); !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
}

func TestPlanDetectsCycle(t *testing.T) {
	reg := NewRegistry(WithRunner(&fakeRunner{}))
	reg.Register(&Task{Name: "a", Depends: []string{"b"}})
	reg.Register(&Task{Name: "b", Depends: []string{"a"}})

	if _, err := reg.Plan("a"); !errors.Is(err, ErrDependencyCycle) {
		t.Fatalf("expected ErrDependencyCycle, got %v", err)
	}
}

func TestPlanRunsSharedDependencyOnce(t *testing.T) {
	reg := NewRegistry(WithRunner(&fakeRunner{}))
	reg.Register(&Task{Name: "base"})
	reg.Register(&Task{Name: "left", Depends: []string{"base"}})
	reg.Register(&Task{Name: "right", Depends: []string{"base"}})
	reg.Register(&Task{Name: "all", Depends: []string{"left", "right"}})

	plan, err := reg.Plan("all")
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	var names []string
	for _, task := range plan {
		names = append(names, task.Name)
	}
	want := []string{"base", "left", "right", "all"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("plan = %v, want %v", names, want)
	}
}

func TestGetTasksListsEverything(t *testing.T) {
	reg, stdout := newTestRegistry(t, &fakeRunner{})
	if err := reg.Run(context.Background(), "get_tasks", nil); err != nil {
		t.Fatalf("Run(get_tasks) error = %v", err)
	}
	for _, name := range []string{"lint", "doc_open", "coverage", "doc_watch", "test", "get_tasks", "commit", "test_all"} {
		if !strings.Contains(stdout.String(), name) {
			t.Fatalf("task %s missing from listing:\n%s", name, stdout.String())
		}
	}
}

func TestDocOpenWritesDocs(t *testing.T) {
	runner := &fakeRunner{output: map[string]string{
		"go list ./...":                        "rccrawler/internal/tasks\n",
		"go doc -all rccrawler/internal/tasks": "package tasks\n",
	}}
	reg, _ := newTestRegistry(t, runner)

	if err := reg.Run(context.Background(), "doc_open", nil); err != nil {
		t.Fatalf("Run(doc_open) error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(reg.dir, docsFile))
	if err != nil {
		t.Fatalf("docs not written: %v", err)
	}
	if !strings.Contains(string(data), "package tasks") {
		t.Fatalf("unexpected docs: %s", data)
	}
	opener := openCommand()[0]
	if !runner.called(opener) {
		t.Fatalf("docs were not opened with %s: %q", opener, runner.calls)
	}
}

func TestDocWatchStopsOnCancel(t *testing.T) {
	runner := &fakeRunner{output: map[string]string{"go list ./...": ""}}
	reg, _ := newTestRegistry(t, runner)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := reg.Run(ctx, "doc_watch", nil); err != nil {
		t.Fatalf("Run(doc_watch) error = %v", err)
	}
	if !runner.called("go list") {
		t.Fatalf("docs never built: %q", runner.calls)
	}
}
