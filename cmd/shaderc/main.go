package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/shader-bridge/bridge"
	"github.com/wippyai/shader-bridge/foreign"
	"github.com/wippyai/shader-bridge/foreign/guest"
	"github.com/wippyai/shader-bridge/foreign/native"
)

type config struct {
	input       string
	manifest    bool
	target      string
	outDir      string
	guestWasm   string
	split       bool
	list        bool
	verbose     bool
	metrics     bool
	interactive bool
}

func main() {
	var cfg config
	flag.StringVar(&cfg.target, "target", "", "Target language (spirv, wgsl, glsl, msl, hlsl)")
	flag.StringVar(&cfg.outDir, "o", "", "Output directory (default: print to stdout)")
	flag.StringVar(&cfg.guestWasm, "guest", "", "Compile with a wasm compiler guest instead of the built-in compiler")
	flag.BoolVar(&cfg.split, "split", false, "Emit one output per entry point")
	flag.BoolVar(&cfg.list, "list", false, "List linked entry points and exit")
	flag.BoolVar(&cfg.verbose, "v", false, "Verbose logging")
	flag.BoolVar(&cfg.metrics, "metrics", false, "Print bridge metrics on exit")
	flag.BoolVar(&cfg.interactive, "i", false, "Interactive mode with TUI")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: shaderc [flags] <shader.wgsl | build.yaml>")
		fmt.Fprintln(os.Stderr, "       shaderc -list <shader.wgsl>")
		fmt.Fprintln(os.Stderr, "       shaderc -i <build.yaml>  (interactive mode)")
		flag.PrintDefaults()
		os.Exit(1)
	}
	cfg.input = flag.Arg(0)
	switch strings.ToLower(filepath.Ext(cfg.input)) {
	case ".yaml", ".yml":
		cfg.manifest = true
	}

	if err := run(context.Background(), cfg); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf("Error: %v", err)))
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	cfg.Encoding = "console"
	return cfg.Build()
}

// loader picks the foreign runtime backing the bridge.
func loader(cfg config) bridge.Loader {
	if cfg.guestWasm == "" {
		return func(context.Context) (foreign.Runtime, error) {
			return native.New(), nil
		}
	}
	return func(ctx context.Context) (foreign.Runtime, error) {
		wasm, err := os.ReadFile(cfg.guestWasm)
		if err != nil {
			return nil, err
		}
		return guest.Load(ctx, wasm, guest.Config{})
	}
}

func loadManifest(cfg config) (*Manifest, error) {
	var m *Manifest
	if cfg.manifest {
		var err error
		if m, err = readManifest(cfg.input); err != nil {
			return nil, err
		}
	} else {
		m = singleFile(cfg.input)
	}
	if cfg.target != "" {
		m.Target = cfg.target
	}
	if cfg.outDir != "" {
		m.Output = cfg.outDir
	} else if m.Output != "" && !filepath.IsAbs(m.Output) {
		m.Output = filepath.Join(m.dir, m.Output)
	}
	if cfg.split {
		for i := range m.Programs {
			m.Programs[i].Split = true
		}
	}
	return m, nil
}

func run(ctx context.Context, cfg config) (err error) {
	log, err := newLogger(cfg.verbose)
	if err != nil {
		return err
	}
	defer log.Sync()
	bridge.SetLogger(log)
	guest.SetLogger(log.Named("guest"))
	native.SetLogger(log.Named("native"))

	m, err := loadManifest(cfg)
	if err != nil {
		return err
	}

	opts := []bridge.Option{bridge.WithLogger(log)}
	var reg *prometheus.Registry
	if cfg.metrics {
		reg = prometheus.NewRegistry()
		metrics := bridge.NewMetrics()
		metrics.MustRegister(reg)
		opts = append(opts, bridge.WithMetrics(metrics))
	}

	c, err := bridge.Open(ctx, loader(cfg), opts...)
	if err != nil {
		return fmt.Errorf("load compiler: %w", err)
	}
	defer func() {
		if cerr := c.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
		if reg != nil {
			printMetrics(reg)
		}
	}()

	if cfg.interactive {
		return runInteractive(ctx, c, m, log)
	}

	b, err := newBuild(ctx, c, m, log)
	if err != nil {
		return err
	}
	defer b.Close(ctx)

	if cfg.list {
		printPrograms(b)
		return nil
	}

	outs, err := b.generateAll(ctx)
	if err != nil {
		return err
	}
	if m.Output != "" {
		files, err := b.write(m.Output, outs)
		for _, f := range files {
			fmt.Println(funcStyle.Render("wrote") + " " + f)
		}
		return err
	}
	return printOutputs(b, outs)
}

func styled() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func printPrograms(b *build) {
	fmt.Printf("Target: %s\n\n", typeStyle.Render(b.targetName()))
	for _, p := range b.programs {
		fmt.Printf("%s\n", titleStyle.Render(p.name))
		for i, name := range p.entryPoints {
			fmt.Printf("  %d %s\n", i, funcStyle.Render(name))
		}
	}
}

func printOutputs(b *build, outs []output) error {
	if b.binary() {
		if !styled() && len(outs) == 1 {
			_, err := os.Stdout.Write(outs[0].code)
			return err
		}
		return fmt.Errorf("%s output is binary; use -o to write files", b.targetName())
	}
	for _, o := range outs {
		if len(outs) > 1 {
			fmt.Println(helpStyle.Render("// " + o.fileName(b.targetName())))
		}
		fmt.Println(string(o.code))
	}
	return nil
}

func printMetrics(reg *prometheus.Registry) {
	families, err := reg.Gather()
	if err != nil {
		return
	}
	fmt.Fprintln(os.Stderr)
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			var labels []string
			for _, l := range metric.GetLabel() {
				labels = append(labels, l.GetName()+"="+l.GetValue())
			}
			var value float64
			switch {
			case metric.GetCounter() != nil:
				value = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				value = metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				value = float64(metric.GetHistogram().GetSampleCount())
			}
			fmt.Fprintf(os.Stderr, "%s{%s} %v\n", f.GetName(), strings.Join(labels, ","), value)
		}
	}
}
