package tasks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const docsFile = "docs/api.txt"

// Default returns a registry with the repository tasks registered
func Default(opts ...Option) *Registry {
	r := NewRegistry(opts...)

	r.Register(&Task{
		Name:   "lint",
		Help:   "check formatting with gofmt and run go vet",
		Action: lint,
	})
	r.Register(&Task{
		Name:     "test",
		Help:     "run the unit test suite",
		Commands: []string{"go test ./..."},
	})
	r.Register(&Task{
		Name: "coverage",
		Help: "run the tests with coverage and write coverage.html",
		Commands: []string{
			"go test -coverprofile=coverage.out ./...",
			"go tool cover -html=coverage.out -o coverage.html",
		},
	})
	r.Register(&Task{
		Name:   "doc_open",
		Help:   "build the package docs and open them",
		Action: docOpen,
	})
	r.Register(&Task{
		Name:   "doc_watch",
		Help:   "rebuild the package docs whenever a .go file changes",
		Action: docWatch,
	})
	r.Register(&Task{
		Name: "get_tasks",
		Help: "list the available tasks",
		Action: func(ctx context.Context, env *Env) error {
			return env.reg.Describe(env.Stdout)
		},
	})
	r.Register(&Task{
		Name:    "test_all",
		Help:    "lint and run the full test suite",
		Depends: []string{"lint", "test"},
	})
	r.Register(&Task{
		Name:    "commit",
		Help:    "git commit, only if lint and all tests pass",
		Depends: []string{"test_all"},
		Action: func(ctx context.Context, env *Env) error {
			return env.ExecArgv(ctx, append([]string{"git", "commit"}, env.Args...), env.Stdout)
		},
	})

	return r
}

func lint(ctx context.Context, env *Env) error {
	var unformatted bytes.Buffer
	if err := env.ExecTo(ctx, "gofmt -l .", &unformatted); err != nil {
		return err
	}
	if files := strings.Fields(unformatted.String()); len(files) > 0 {
		return fmt.Errorf("files need gofmt: %s", strings.Join(files, ", "))
	}
	return env.Exec(ctx, "go vet ./...")
}

func buildDocs(ctx context.Context, env *Env) (string, error) {
	var pkgs bytes.Buffer
	if err := env.ExecTo(ctx, "go list ./...", &pkgs); err != nil {
		return "", err
	}

	var out bytes.Buffer
	for _, pkg := range strings.Fields(pkgs.String()) {
		fmt.Fprintf(&out, "==== %s\n\n", pkg)
		if err := env.ExecArgv(ctx, []string{"go", "doc", "-all", pkg}, &out); err != nil {
			return "", err
		}
		out.WriteString("\n")
	}

	path := filepath.Join(env.Dir, docsFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create docs directory: %w", err)
	}
	if err := os.WriteFile(path, out.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("failed to write docs: %w", err)
	}
	return path, nil
}

func docOpen(ctx context.Context, env *Env) error {
	path, err := buildDocs(ctx, env)
	if err != nil {
		return err
	}
	return env.ExecArgv(ctx, append(openCommand(), path), env.Stdout)
}

func openCommand() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"open"}
	case "windows":
		return []string{"cmd", "/c", "start", ""}
	default:
		return []string{"xdg-open"}
	}
}

func docWatch(ctx context.Context, env *Env) error {
	ticker := time.NewTicker(env.reg.watchInterval)
	defer ticker.Stop()

	last := ""
	for {
		stamp, err := sourceFingerprint(env.Dir)
		if err != nil {
			return err
		}
		if stamp != last {
			if _, err := buildDocs(ctx, env); err != nil && !errors.Is(err, context.Canceled) {
				fmt.Fprintf(env.Stderr, "doc build failed: %v\n", err)
			}
			last = stamp
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// sourceFingerprint summarises the .go files under dir by count and newest
// modification time.
func sourceFingerprint(dir string) (string, error) {
	var count int
	var newest time.Time
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != dir && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "docs") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		count++
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to scan sources: %w", err)
	}
	return fmt.Sprintf("%d@%d", count, newest.UnixNano()), nil
}
