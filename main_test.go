package main

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/kylelemons/godebug/diff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoglang/yoggc/gc"
	"github.com/yoglang/yoggc/workload"
)

// mainEnv makes the test binary behave as yoggc.
const mainEnv = "YOGGC_TEST_MAIN"

func TestMain(m *testing.M) {
	if os.Getenv(mainEnv) != "" {
		main()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

type result struct {
	stdout, stderr string
	code           int
}

// yoggc runs the command in a subprocess.
func yoggc(t *testing.T, env []string, args ...string) result {
	t.Helper()
	cmd := exec.Command(os.Args[0], args...)
	cmd.Env = append(append(os.Environ(), mainEnv+"=1", optsEnv+"="), env...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	res := result{stdout: stdout.String(), stderr: stderr.String()}
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		require.True(t, ok, "run yoggc: %v", err)
		res.code = exitErr.ExitCode()
	}
	return res
}

func TestOutOfMemoryIsFatal(t *testing.T) {
	for _, kind := range gc.Kinds() {
		t.Run(kind.String(), func(t *testing.T) {
			res := yoggc(t, nil, "--gc="+kind.String(), "--max-heap-size=1M", "--verbosity=0", "run", "oom")
			assert.Equal(t, 2, res.code)
			assert.Contains(t, res.stderr, "fatal error: out of memory")
			assert.Contains(t, res.stderr, "hint: raise --max-heap-size")
		})
	}
}

func TestStressIdempotence(t *testing.T) {
	if testing.Short() {
		t.Skip("runs every workload twice per collector")
	}
	for _, name := range []string{"barrier", "closures", "ffi", "list", "threads"} {
		for _, kind := range gc.Kinds() {
			t.Run(name+"/"+kind.String(), func(t *testing.T) {
				plain := yoggc(t, nil, "--gc="+kind.String(), "run", name)
				stressed := yoggc(t, nil, "--gc="+kind.String(), "--gc-stress", "run", name)
				if plain != stressed {
					t.Errorf("stdout differs under stress:\n%s\nstderr differs:\n%s\nexit %d, under stress %d",
						diff.Diff(plain.stdout, stressed.stdout), diff.Diff(plain.stderr, stressed.stderr),
						plain.code, stressed.code)
				}
				assert.Zero(t, plain.code, plain.stderr)
				assert.NotEmpty(t, plain.stdout)
			})
		}
	}
}

func TestAlwaysGCAlias(t *testing.T) {
	res := yoggc(t, nil, "--always-gc", "--print-gc-stat", "run", "list")
	require.Zero(t, res.code, res.stderr)
	assert.Contains(t, res.stdout, "length 1000 sum 500500")
	assert.NotContains(t, res.stderr, "collections:    0 ")
}

func TestConfigErrors(t *testing.T) {
	for _, tc := range []struct {
		env  []string
		args []string
		want string
	}{
		{nil, []string{"--gc=refcount", "run", "list"}, `yoggc: invalid gc "refcount": unknown collector`},
		{nil, []string{"--init-heap-size=42x", "run", "list"}, `yoggc: invalid init-heap-size "42x"`},
		{nil, []string{"--threshold=k", "run", "list"}, `yoggc: invalid threshold "k"`},
		{[]string{optsEnv + "=--gc=nope"}, []string{"run", "list"}, `yoggc: invalid gc "nope"`},
		{[]string{optsEnv + `="--gc=mark-sweep`}, []string{"run", "list"}, "yoggc: cannot split " + optsEnv},
		{nil, []string{"run", "nope"}, `yoggc: unknown workload "nope"`},
	} {
		res := yoggc(t, tc.env, tc.args...)
		assert.Equal(t, 1, res.code, "%v %v", tc.env, tc.args)
		assert.Contains(t, res.stderr, tc.want)
		assert.Empty(t, res.stdout)
	}
}

func TestEnvOpts(t *testing.T) {
	res := yoggc(t, []string{optsEnv + "=--gc=mark-sweep --print-gc-stat"}, "run", "dict")
	require.Zero(t, res.code, res.stderr)
	assert.Contains(t, res.stderr, "gc:             mark-sweep\n")
	assert.Equal(t, "count 300 sum 8955050\nmissing nope\n", res.stdout)
}

// runApp runs the command in process.
func runApp(t *testing.T, args ...string) (stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &errOut
	require.NoError(t, app.Run(append([]string{"yoggc"}, args...)))
	return out.String(), errOut.String()
}

func TestList(t *testing.T) {
	out, _ := runApp(t, "list")
	assert.Contains(t, out, "barrier    store young objects into an old container\n")
	assert.Contains(t, out, "oom ")
}

func TestStatAndMetricsFiles(t *testing.T) {
	dir := t.TempDir()
	stats := filepath.Join(dir, "gc.stat")
	metrics := filepath.Join(dir, "gc.prom")
	for i := 0; i < 2; i++ {
		runApp(t, "--gc=generational", "--gc-stat-file="+stats, "--metrics-file="+metrics, "run", "barrier")
	}

	data, err := os.ReadFile(stats)
	require.NoError(t, err)
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	require.Len(t, lines, 2)
	assert.True(t, bytes.HasPrefix(lines[0], []byte("gc=generational heap=")))

	data, err = os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(data), "yoggc_collections_total{kind=\"major\"} 3\n")
	assert.Contains(t, string(data), "# TYPE yoggc_pause_seconds histogram\n")
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"gc: mark-sweep\n"+
			"threshold: 64k\n"+
			"gc-verify: true\n"+
			"bdw:\n"+
			"  free-space-divisor: 4\n"+
			"  quiet: true\n"), 0o644))

	out, stderr := runApp(t, "--gc-config="+path, "--print-gc-stat", "run", "list")
	assert.Contains(t, out, "length 1000 sum 500500")
	assert.Contains(t, stderr, "gc:             mark-sweep\n")

	_, stderr = runApp(t, "--gc-config="+path, "--gc=bdw", "--print-gc-stat", "run", "list")
	assert.Contains(t, stderr, "gc:             bdw\n")

	require.NoError(t, os.WriteFile(path, []byte("collector: copying\n"), 0o644))
	app := newApp()
	app.Writer, app.ErrWriter = &bytes.Buffer{}, &bytes.Buffer{}
	err := app.Run([]string{"yoggc", "--gc-config=" + path, "run", "list"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot parse")
}

func TestFailedWorkloadReleasesEnv(t *testing.T) {
	h, err := gc.New(gc.Options{Kind: gc.MarkSweep})
	require.NoError(t, err)
	defer h.Close()

	errFailed := errors.New("failed")
	p := workload.Program{Name: "failing", Run: func(e *workload.Env) error {
		e.Intern("symbol")
		e.NewFFIStruct(8)
		return errFailed
	}}
	err = runProgram(p, h, &bytes.Buffer{})
	require.ErrorIs(t, err, errFailed)
	assert.EqualError(t, err, "workload failing: failed")
	assert.Zero(t, h.PinCount())
	assert.Empty(t, h.Roots().Threads())
}
