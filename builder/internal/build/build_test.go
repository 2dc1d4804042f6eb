package build

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestDetectPackageManager(t *testing.T) {
	cases := []struct {
		name  string
		files map[string]string
		want  PackageManager
	}{
		{name: "field wins", files: map[string]string{"package.json": `{"packageManager":"pnpm@8.15.0"}`, "yarn.lock": ""}, want: PNPM},
		{name: "yarn lockfile", files: map[string]string{"package.json": `{}`, "yarn.lock": ""}, want: Yarn},
		{name: "pnpm lockfile", files: map[string]string{"package.json": `{}`, "pnpm-lock.yaml": ""}, want: PNPM},
		{name: "default npm", files: map[string]string{"package.json": `{"name":"site"}`}, want: NPM},
		{name: "unknown field falls back", files: map[string]string{"package.json": `{"packageManager":"bun@1.0.0"}`, "yarn.lock": ""}, want: Yarn},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DetectPackageManager(writeFiles(t, tc.files))
			if err != nil {
				t.Fatalf("detect: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestDetectWithoutManifest(t *testing.T) {
	if _, err := Detect(t.TempDir(), ""); !errors.Is(err, ErrBuildFailed) {
		t.Fatalf("expected ErrBuildFailed, got %v", err)
	}
}

func TestDetectOverride(t *testing.T) {
	plan, err := Detect(t.TempDir(), "make site")
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	want := []Step{{Name: "sh", Args: []string{"-c", "make site"}}}
	if !reflect.DeepEqual(plan.Steps, want) {
		t.Fatalf("expected %v, got %v", want, plan.Steps)
	}
}

func TestDetectYarnPlan(t *testing.T) {
	plan, err := Detect(writeFiles(t, map[string]string{"package.json": `{}`, "yarn.lock": ""}), "")
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(plan.Steps) != 2 || plan.Steps[1].String() != "yarn run build" {
		t.Fatalf("unexpected plan %v", plan.Steps)
	}
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestRunStreamsLinesInOrder(t *testing.T) {
	requireShell(t)
	plan, _ := Detect(t.TempDir(), "echo one; echo two 1>&2; echo three")
	var lines []string
	if err := Run(context.Background(), plan, nil, func(l string) { lines = append(lines, l) }); err != nil {
		t.Fatalf("run: %v", err)
	}
	if want := []string{"one", "two", "three"}; !reflect.DeepEqual(lines, want) {
		t.Fatalf("expected %v, got %v", want, lines)
	}
}

func TestRunReportsExitStatus(t *testing.T) {
	requireShell(t)
	plan, _ := Detect(t.TempDir(), "echo compiling; exit 3")
	var lines []string
	err := Run(context.Background(), plan, nil, func(l string) { lines = append(lines, l) })
	if !errors.Is(err, ErrBuildFailed) {
		t.Fatalf("expected ErrBuildFailed, got %v", err)
	}
	if err.Error() != "build failed: exit status 3" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if len(lines) != 1 || lines[0] != "compiling" {
		t.Fatalf("expected output before failure, got %v", lines)
	}
}

func TestRunPassesEnvironment(t *testing.T) {
	requireShell(t)
	plan, _ := Detect(t.TempDir(), `echo "$CLOUDARA_TEST_VALUE"`)
	var lines []string
	if err := Run(context.Background(), plan, []string{"CLOUDARA_TEST_VALUE=hello"}, func(l string) { lines = append(lines, l) }); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(lines) != 1 || lines[0] != "hello" {
		t.Fatalf("expected env value, got %v", lines)
	}
}

func TestRunTimeoutStopsChildProcesses(t *testing.T) {
	requireShell(t)
	plan, _ := Detect(t.TempDir(), "sleep 5 & wait")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := Run(ctx, plan, nil, func(string) {})
	elapsed := time.Since(start)
	if !errors.Is(err, ErrBuildFailed) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline build failure, got %v", err)
	}
	if elapsed > 3*time.Second {
		t.Fatalf("expected Run to return soon after the timeout, took %s", elapsed)
	}
}

func TestRunChunksOverlongLines(t *testing.T) {
	requireShell(t)
	plan, _ := Detect(t.TempDir(), `head -c 1500000 /dev/zero | tr '\0' a; echo; echo after`)
	var lines []string
	if err := Run(context.Background(), plan, nil, func(l string) { lines = append(lines, l) }); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("expected 2 chunks and a trailing line, got %d lines", len(lines))
	}
	if len(lines[0]) != maxLineBytes || len(lines[0])+len(lines[1]) != 1500000 {
		t.Fatalf("unexpected chunk sizes %d and %d", len(lines[0]), len(lines[1]))
	}
	if lines[2] != "after" {
		t.Fatalf("expected output after the long line, got %q", lines[2])
	}
}
