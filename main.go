package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gofrs/flock"
	"github.com/google/shlex"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v2"

	"github.com/yoglang/yoggc/bdwgc"
	"github.com/yoglang/yoggc/diagnostics"
	"github.com/yoglang/yoggc/gc"
	"github.com/yoglang/yoggc/log"
	"github.com/yoglang/yoggc/workload"
)

// optsEnv holds extra command line options, prepended to the arguments.
const optsEnv = "YOGGC_OPTS"

var (
	gcFlag = &cli.StringFlag{
		Name:  "gc",
		Usage: "garbage collector: " + kindList(),
		Value: gc.Copying.String(),
	}
	initHeapSizeFlag = &cli.StringFlag{
		Name:  "init-heap-size",
		Usage: "initial heap size, e.g. 1M or 42M43k44",
		Value: "1M",
	}
	thresholdFlag = &cli.StringFlag{
		Name:  "threshold",
		Usage: "bytes allocated between two mark-sweep or old generation collections",
		Value: "1M",
	}
	maxHeapSizeFlag = &cli.StringFlag{
		Name:  "max-heap-size",
		Usage: "limit of heap growth",
		Value: "256M",
	}
	nurserySizeFlag = &cli.StringFlag{
		Name:  "nursery-size",
		Usage: "size of the generational nursery (default: init-heap-size)",
	}
	tenureFlag = &cli.IntFlag{
		Name:  "tenure",
		Usage: "minor collections an object survives before promotion",
		Value: gc.DefaultTenureAge,
	}
	stressFlag = &cli.BoolFlag{
		Name:    "gc-stress",
		Aliases: []string{"always-gc"},
		Usage:   "collect before every allocation",
	}
	verifyFlag = &cli.BoolFlag{
		Name:  "gc-verify",
		Usage: "checksum the reachable heap around every collection",
	}
	printStatFlag = &cli.BoolFlag{
		Name:  "print-gc-stat",
		Usage: "print heap statistics at exit",
	}
	statFileFlag = &cli.StringFlag{
		Name:  "gc-stat-file",
		Usage: "append a line of heap statistics to `FILE` at exit",
	}
	metricsFileFlag = &cli.StringFlag{
		Name:  "metrics-file",
		Usage: "write the heap metrics in the Prometheus text format to `FILE` at exit",
	}
	configFlag = &cli.StringFlag{
		Name:  "gc-config",
		Usage: "read heap options from a YAML `FILE`; flags take precedence",
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "log level: 0=crit, 1=error, 2=warn, 3=info, 4=debug, 5=trace",
		Value: 2,
	}
)

func kindList() string {
	var names []string
	for _, k := range gc.Kinds() {
		names = append(names, k.String())
	}
	return strings.Join(names, ", ")
}

// fileConfig is the YAML form of the heap options.
type fileConfig struct {
	GC           string `yaml:"gc"`
	InitHeapSize string `yaml:"init-heap-size"`
	Threshold    string `yaml:"threshold"`
	MaxHeapSize  string `yaml:"max-heap-size"`
	NurserySize  string `yaml:"nursery-size"`
	Tenure       int    `yaml:"tenure"`
	Stress       bool   `yaml:"gc-stress"`
	Verify       bool   `yaml:"gc-verify"`
	BDW          *struct {
		FreeSpaceDivisor    uint64 `yaml:"free-space-divisor"`
		AllInteriorPointers *bool  `yaml:"all-interior-pointers"`
		DontExpand          bool   `yaml:"dont-expand"`
		Quiet               bool   `yaml:"quiet"`
	} `yaml:"bdw"`
}

func readConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg fileConfig
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "cannot parse %s", path)
	}
	return &cfg, nil
}

// heapOptions builds the heap options from the configuration file, if any,
// and the command line flags.
func heapOptions(ctx *cli.Context) (gc.Options, error) {
	var (
		opts gc.Options
		file fileConfig
	)
	if path := ctx.String(configFlag.Name); path != "" {
		cfg, err := readConfig(path)
		if err != nil {
			return opts, err
		}
		file = *cfg
	}
	// value returns the flag value when it is set or the file has nothing.
	value := func(flag *cli.StringFlag, fromFile string) string {
		if ctx.IsSet(flag.Name) || fromFile == "" {
			return ctx.String(flag.Name)
		}
		return fromFile
	}

	kind, err := gc.ParseKind(value(gcFlag, file.GC))
	if err != nil {
		return opts, err
	}
	opts.Kind = kind
	sizes := []struct {
		flag     *cli.StringFlag
		fromFile string
		dst      *uint64
	}{
		{initHeapSizeFlag, file.InitHeapSize, &opts.InitHeapSize},
		{thresholdFlag, file.Threshold, &opts.Threshold},
		{maxHeapSizeFlag, file.MaxHeapSize, &opts.MaxHeapSize},
		{nurserySizeFlag, file.NurserySize, &opts.NurserySize},
	}
	for _, s := range sizes {
		v := value(s.flag, s.fromFile)
		if v == "" {
			continue
		}
		if *s.dst, err = gc.ParseSizeOption(s.flag.Name, v); err != nil {
			return opts, err
		}
	}

	opts.TenureAge = ctx.Int(tenureFlag.Name)
	if !ctx.IsSet(tenureFlag.Name) && file.Tenure != 0 {
		opts.TenureAge = file.Tenure
	}
	opts.Stress = ctx.Bool(stressFlag.Name) || file.Stress
	opts.Verify = ctx.Bool(verifyFlag.Name) || file.Verify

	if file.BDW != nil {
		cfg := bdwgc.DefaultConfig()
		if file.BDW.FreeSpaceDivisor != 0 {
			cfg.FreeSpaceDivisor = file.BDW.FreeSpaceDivisor
		}
		if file.BDW.AllInteriorPointers != nil {
			cfg.AllInteriorPointers = *file.BDW.AllInteriorPointers
		}
		cfg.DontExpand = file.BDW.DontExpand
		if file.BDW.Quiet {
			cfg.WarnProc = bdwgc.IgnoreWarnProc
		}
		opts.BDW = &cfg
	}
	opts.Registerer = prometheus.NewRegistry()
	return opts, nil
}

func runWorkload(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return errors.New("usage: yoggc [options] run WORKLOAD")
	}
	p, ok := workload.Lookup(ctx.Args().First())
	if !ok {
		return errors.WithHint(errors.Newf("unknown workload %q", ctx.Args().First()), "yoggc list shows the workloads")
	}
	opts, err := heapOptions(ctx)
	if err != nil {
		return err
	}
	h, err := gc.New(opts)
	if err != nil {
		return err
	}
	defer h.Close()

	if err := runProgram(p, h, ctx.App.Writer); err != nil {
		return err
	}
	return report(ctx, h)
}

// runProgram runs p on h. The environment is closed also when p fails, so
// that its pins, threads and native memory do not outlive it.
func runProgram(p workload.Program, h *gc.Heap, out io.Writer) error {
	env := workload.NewEnv(h, out)
	defer env.Close()
	if err := p.Run(env); err != nil {
		return errors.Wrapf(err, "workload %s", p.Name)
	}
	return nil
}

// report writes the statistics asked for on the command line.
func report(ctx *cli.Context, h *gc.Heap) error {
	var ms gc.MemStats
	h.ReadMemStats(&ms)
	if ctx.Bool(printStatFlag.Name) {
		printStats(ctx.App.ErrWriter, h.Kind(), &ms)
	}
	if path := ctx.String(statFileFlag.Name); path != "" {
		if err := appendStats(path, h.Kind(), &ms); err != nil {
			return err
		}
	}
	if path := ctx.String(metricsFileFlag.Name); path != "" {
		if err := prometheus.WriteToTextfile(path, h.Gatherer()); err != nil {
			return errors.Wrap(err, "cannot write metrics")
		}
	}
	return nil
}

func printStats(w io.Writer, kind gc.Kind, ms *gc.MemStats) {
	fmt.Fprintf(w, "gc:             %s\n", kind)
	fmt.Fprintf(w, "heap size:      %s\n", gc.FormatSize(ms.HeapSys))
	fmt.Fprintf(w, "heap in use:    %s\n", gc.FormatSize(ms.HeapAlloc))
	fmt.Fprintf(w, "total alloc:    %s\n", gc.FormatSize(ms.TotalAlloc))
	fmt.Fprintf(w, "objects:        %d allocated, %d freed\n", ms.Mallocs, ms.Frees)
	fmt.Fprintf(w, "collections:    %d (%d minor)\n", ms.NumGC, ms.NumMinorGC)
}

// appendStats appends one line to a stat file shared by concurrent runs.
func appendStats(path string, kind gc.Kind, ms *gc.MemStats) error {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return errors.Wrapf(err, "cannot lock %s", path)
	}
	defer lock.Unlock()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(f, "gc=%s heap=%d inuse=%d total=%d mallocs=%d frees=%d numgc=%d minor=%d\n",
		kind, ms.HeapSys, ms.HeapAlloc, ms.TotalAlloc, ms.Mallocs, ms.Frees, ms.NumGC, ms.NumMinorGC)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func listWorkloads(ctx *cli.Context) error {
	for _, p := range workload.Programs() {
		fmt.Fprintf(ctx.App.Writer, "%-10s %s\n", p.Name, p.Usage)
	}
	return nil
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "yoggc"
	app.Usage = "run workloads on the Yog object memory manager"
	app.HideVersion = true
	app.Flags = []cli.Flag{
		gcFlag,
		initHeapSizeFlag,
		thresholdFlag,
		maxHeapSizeFlag,
		nurserySizeFlag,
		tenureFlag,
		stressFlag,
		verifyFlag,
		printStatFlag,
		statFileFlag,
		metricsFileFlag,
		configFlag,
		verbosityFlag,
	}
	app.Before = func(ctx *cli.Context) error {
		lvl := log.FromLegacyLevel(ctx.Int(verbosityFlag.Name))
		log.SetDefault(log.NewLogger(log.StderrHandler(lvl)))
		return nil
	}
	app.Commands = []*cli.Command{
		{
			Name:      "run",
			Usage:     "run a workload",
			ArgsUsage: "WORKLOAD",
			Action:    runWorkload,
		},
		{
			Name:   "list",
			Usage:  "list the workloads",
			Action: listWorkloads,
		},
	}
	return app
}

// withEnvOpts inserts the options from the environment after the program
// name.
func withEnvOpts(args []string) ([]string, error) {
	extra, err := shlex.Split(os.Getenv(optsEnv))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot split %s", optsEnv)
	}
	if len(extra) == 0 || len(args) == 0 {
		return args, nil
	}
	return append(append([]string{args[0]}, extra...), args[1:]...), nil
}

func main() {
	args, err := withEnvOpts(os.Args)
	if err != nil {
		diagnostics.Exit("yoggc", err)
	}
	if err := newApp().Run(args); err != nil {
		diagnostics.Exit("yoggc", err)
	}
}
