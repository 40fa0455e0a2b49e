// Command ecsdiag runs a small simulation on the ECS and reports on its schedule.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/profile"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	ecs "github.com/DangerosoDavo/archecs"
	"github.com/DangerosoDavo/archecs/ecs/config"
	"github.com/DangerosoDavo/archecs/ecs/schedule"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	settings   simSettings
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{
		settings: simSettings{
			entities: 1000,
			lifetime: 120,
			step:     time.Second / 60,
			bounds:   100,
		},
	}
	root := &cobra.Command{
		Use:           "ecsdiag",
		Short:         "Run and inspect a demo simulation on the ECS",
		SilenceUsage:  true,
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "TOML or YAML configuration file")
	flags.IntVar(&opts.settings.entities, "entities", opts.settings.entities, "number of bodies to spawn")
	flags.IntVar(&opts.settings.lifetime, "lifetime", opts.settings.lifetime, "minimum frames a body lives")
	flags.DurationVar(&opts.settings.step, "step", opts.settings.step, "simulated time per frame")
	flags.BoolVar(&opts.settings.unordered, "unordered", false, "drop the ordering between move and bounce")

	root.AddCommand(
		newRunCmd(opts),
		newAmbiguitiesCmd(opts),
	)
	return root
}

func (o *rootOptions) load() (*config.Config, error) {
	if o.settings.entities < 0 || o.settings.lifetime < 1 {
		return nil, eris.Errorf("entities must be >= 0 and lifetime >= 1, got %d and %d",
			o.settings.entities, o.settings.lifetime)
	}
	if o.configPath == "" {
		return config.Default(), nil
	}
	return config.Load(o.configPath)
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		frames      int
		profileMode string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the simulation for a number of frames and print a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			stop, err := startProfile(profileMode)
			if err != nil {
				return err
			}
			defer stop()
			return runSimulation(cmd.OutOrStdout(), cfg, opts.settings, frames)
		},
	}
	cmd.Flags().IntVarP(&frames, "frames", "n", 600, "frames to simulate")
	cmd.Flags().StringVar(&profileMode, "profile", "", "write a cpu, mem or trace profile to the working directory")
	return cmd
}

func startProfile(mode string) (func(), error) {
	var option func(*profile.Profile)
	switch mode {
	case "":
		return func() {}, nil
	case "cpu":
		option = profile.CPUProfile
	case "mem":
		option = profile.MemProfileAllocs
	case "trace":
		option = profile.TraceProfile
	default:
		return nil, eris.Errorf("unknown profile mode %q", mode)
	}
	p := profile.Start(option, profile.ProfilePath("."), profile.NoShutdownHook, profile.Quiet)
	return p.Stop, nil
}

func runSimulation(out io.Writer, cfg *config.Config, settings simSettings, frames int) error {
	rt, err := cfg.Build(out)
	if err != nil {
		return err
	}
	defer rt.Close()

	w, s := newSimulation(settings, rt.StageOptions()...)
	defer s.Close()
	runner := &schedule.Runner{World: w, Schedule: s}

	start := time.Now()
	for i := 0; i < frames; i++ {
		runner.Update()
	}
	elapsed := time.Since(start)

	stats := ecs.Resource[simStats](w)
	bodies := ecs.NewQuery1[ecs.Ref[Position], ecs.NoFilter](w)
	fmt.Fprintf(out, "frames:    %d\n", stats.frames)
	fmt.Fprintf(out, "simulated: %s\n", ecs.Resource[schedule.Time](w).Elapsed())
	fmt.Fprintf(out, "spawned:   %d\n", stats.spawned)
	fmt.Fprintf(out, "expired:   %d\n", stats.expired)
	fmt.Fprintf(out, "alive:     %d\n", bodies.Count())
	fmt.Fprintf(out, "wall time: %s\n", elapsed.Round(time.Microsecond))

	if rt.Prometheus != nil {
		return rt.Prometheus.WriteMetrics(out)
	}
	return nil
}

func newAmbiguitiesCmd(opts *rootOptions) *cobra.Command {
	var level string
	cmd := &cobra.Command{
		Use:   "ambiguities",
		Short: "Print the systems of each stage that conflict without an order between them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lvl, err := schedule.ParseAmbiguityLevel(level)
			if err != nil {
				return err
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			rt, err := cfg.Build(io.Discard)
			if err != nil {
				return err
			}
			defer rt.Close()

			w, s := newSimulation(opts.settings, rt.StageOptions()...)
			defer s.Close()
			return printAmbiguities(cmd.OutOrStdout(), w, s, lvl, "")
		},
	}
	cmd.Flags().StringVarP(&level, "level", "l", "warn_verbose", "ambiguity level: warn, warn_verbose, warn_internal or forbid")
	return cmd
}

// printAmbiguities reports every system stage of s, descending into nested schedules.
func printAmbiguities(out io.Writer, w *ecs.World, s *schedule.Schedule, level schedule.AmbiguityLevel, prefix string) error {
	for _, label := range s.StageLabels() {
		stage, _ := s.Stage(label)
		name := prefix + string(label)
		switch st := stage.(type) {
		case *schedule.Schedule:
			if err := printAmbiguities(out, w, st, level, name+"/"); err != nil {
				return err
			}
		case *schedule.SystemStage:
			report := st.AmbiguityReport(w, level)
			if report == "" {
				report = "no ambiguities\n"
			}
			if _, err := fmt.Fprintf(out, "== %s\n%s\n", name, report); err != nil {
				return err
			}
		}
	}
	return nil
}
