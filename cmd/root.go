package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/inference-sim/pdes/kernel"
	"github.com/inference-sim/pdes/models"
)

var (
	// run configuration, overriding the config file when set
	configPath       string  // YAML config file
	machines         int     // machines of the run, simulated in-process
	procs            int     // universes per machine
	seed             int64   // simulation key
	endTime          vtime   // simulation end time
	tickSeconds      float64 // seconds per tick
	decade           vtime   // intra-machine window length, 0 trains it
	epoch            vtime   // cross-machine window length, 0 trains it
	trainingFraction float64 // share of the run spent training thresholds
	transportMode    string  // threaded or combined
	progress         vtime   // progress report interval, 0 disables it
	traceLevel       string  // none, training or windows

	// model parameters
	modelName  string // reference model
	timelines  int    // timelines in the model
	lookahead  vtime  // smallest channel delay
	population int    // initial messages per entity

	// output
	logLevel    string // log verbosity level
	outputPath  string // file receiving logs and the report instead of stdout
	traceDB     string // SQLite database receiving the trace
	showSummary bool   // print the trace summary after the metrics
)

// vtime is a virtual time flag. Unit suffixes depend on the tick scale, which
// may itself come from a flag, so the text is kept and resolved later.
type vtime struct {
	raw string
}

func (v *vtime) String() string { return v.raw }
func (v *vtime) Type() string   { return "vtime" }

func (v *vtime) Set(s string) error {
	if _, err := kernel.ParseVirtualTime(s); err != nil {
		return err
	}
	v.raw = s
	return nil
}

func (v *vtime) value() (kernel.VirtualTime, error) {
	return kernel.ParseVirtualTime(v.raw)
}

func vtimeVar(fs *pflag.FlagSet, v *vtime, name string, ticks kernel.VirtualTime, usage string) {
	v.raw = strconv.FormatInt(ticks.Ticks(), 10)
	fs.Var(v, name, usage)
}

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "pdes",
	Short: "Conservative parallel discrete-event simulation kernel",
}

// runCmd runs a reference model using parameters from the config file and flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a reference model",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		var out io.Writer = os.Stdout
		if outputPath != "" {
			f, err := os.Create(outputPath)
			if err != nil {
				logrus.Fatalf("Cannot open output file: %v", err)
			}
			defer f.Close()
			out = f
			logrus.SetOutput(f)
		}

		cfg, err := loadConfig(configPath)
		if err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}
		if err := applyFlags(cmd.Flags(), &cfg); err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}
		if err := cfg.Validate(); err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}
		la, err := lookahead.value()
		if err != nil {
			logrus.Fatalf("Invalid lookahead: %v", err)
		}
		params := models.Params{Timelines: timelines, Lookahead: la, Population: population}

		logrus.Infof("Starting %s on %d machines x %d universes until %s", modelName, cfg.Machines, cfg.Procs, cfg.EndTime)
		res, err := runModel(cmd.Context(), cfg, modelName, params)
		if err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}
		res.print(out, showSummary)
		if traceDB != "" {
			if err := res.saveTraces(cmd.Context(), traceDB); err != nil {
				logrus.Fatalf("Cannot save trace: %v", err)
			}
			logrus.Infof("Trace of run %s saved to %s", res.RunID, traceDB)
		}
		logrus.Info("Simulation complete.")
	},
}

// applyFlags copies the flags the user set over the file configuration. The
// tick scale is applied first so suffixed times resolve against it.
func applyFlags(fs *pflag.FlagSet, cfg *kernel.Config) error {
	if fs.Changed("tick-seconds") {
		cfg.TickSeconds = tickSeconds
	}
	if err := kernel.SetTickScale(cfg.TickSeconds); err != nil {
		return err
	}
	if fs.Changed("machines") {
		cfg.Machines = machines
	}
	if fs.Changed("procs") {
		cfg.Procs = procs
	}
	if fs.Changed("seed") {
		cfg.Seed = seed
	}
	if fs.Changed("training") {
		cfg.TrainingFraction = trainingFraction
	}
	if fs.Changed("transport-mode") {
		cfg.TransportMode = transportMode
	}
	if fs.Changed("trace-level") {
		cfg.TraceLevel = traceLevel
	}
	times := []struct {
		name string
		flag *vtime
		dst  *kernel.VirtualTime
	}{
		{"end-time", &endTime, &cfg.EndTime},
		{"decade", &decade, &cfg.Decade},
		{"epoch", &epoch, &cfg.Epoch},
		{"progress", &progress, &cfg.ProgressInterval},
	}
	for _, tf := range times {
		if !fs.Changed(tf.name) {
			continue
		}
		v, err := tf.flag.value()
		if err != nil {
			return fmt.Errorf("--%s: %w", tf.name, err)
		}
		*tf.dst = v
	}
	return nil
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// registerRunFlags binds the run flags to fs.
func registerRunFlags(fs *pflag.FlagSet) {
	def := kernel.DefaultConfig()
	defModel := models.DefaultParams()

	fs.StringVar(&configPath, "config", "", "YAML run configuration; flags override its values")
	fs.IntVar(&machines, "machines", def.Machines, "Number of machines, simulated in-process over a loopback transport")
	fs.IntVar(&procs, "procs", def.Procs, "Universes (scheduler threads) per machine")
	fs.Int64Var(&seed, "seed", def.Seed, "Simulation key seeding every timeline's random stream")
	vtimeVar(fs, &endTime, "end-time", def.EndTime, "Simulation end time, in ticks or with a unit suffix such as 5ms")
	fs.Float64Var(&tickSeconds, "tick-seconds", def.TickSeconds, "Seconds per tick")
	vtimeVar(fs, &decade, "decade", 0, "Intra-machine window length; 0 trains or derives it")
	vtimeVar(fs, &epoch, "epoch", 0, "Cross-machine window length; 0 trains or derives it")
	fs.Float64Var(&trainingFraction, "training", def.TrainingFraction, "Share of the run spent training window thresholds")
	fs.StringVar(&transportMode, "transport-mode", def.TransportMode, "Bridge mode: threaded or combined")
	vtimeVar(fs, &progress, "progress", 0, "Progress report interval; 0 disables it")
	fs.StringVar(&traceLevel, "trace-level", def.TraceLevel, "Trace detail: none, training or windows")

	fs.StringVar(&modelName, "model", "phold", fmt.Sprintf("Reference model, one of %v", models.Names()))
	fs.IntVar(&timelines, "timelines", defModel.Timelines, "Timelines in the model")
	vtimeVar(fs, &lookahead, "lookahead", defModel.Lookahead, "Smallest channel delay in the model")
	fs.IntVar(&population, "population", defModel.Population, "Initial messages per entity (phold) or tokens (ring)")

	fs.StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	fs.StringVar(&outputPath, "output", "", "Write logs and the report to this file instead of stdout")
	fs.StringVar(&traceDB, "trace-db", "", "SQLite database receiving the run trace")
	fs.BoolVar(&showSummary, "summary", false, "Print a summary of the trace after the metrics")
}

// init sets up CLI flags and subcommands
func init() {
	registerRunFlags(runCmd.Flags())
	rootCmd.AddCommand(runCmd)
}
