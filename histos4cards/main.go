package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/decibelcooper/vcbana"
	"github.com/decibelcooper/vcbana/internal/config"
	"github.com/decibelcooper/vcbana/internal/pipeline"
)

var (
	outDir     = flag.String("o", "histos", "output directory, category files go to <o>/<year>/")
	treeName   = flag.String("tree", "", "name of the input tree (default from the config)")
	year       = flag.Int("year", 0, "data taking year (default from the config)")
	electron   = flag.Bool("electron", false, "restrict to the electron channel")
	muon       = flag.Bool("muon", false, "restrict to the muon channel")
	extra      = flag.String("extra", "", "extra selection ANDed into every region")
	mode       = flag.String("mode", "", "derived variables: none, scores or kinematics (default from the config)")
	configPath = flag.String("config", "", "YAML configuration overlaid on the defaults")
	workers    = flag.Int("j", 0, "number of samples processed concurrently (default from the config)")
	metrics    = flag.String("metrics", "", "write run metrics in the Prometheus text format to this file")
	profileDir = flag.String("profile", "", "write a CPU profile to this directory")
	verbose    = flag.Bool("v", false, "verbose logging")
)

func printUsage() {
	fmt.Fprint(os.Stderr, `Usage: `+os.Args[0]+` [options] <input-dirs>...

Fill the per-category histograms used to build the datacards. Every
*_tree.root file found in the input directories is one sample.

options:
`,
	)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = printUsage
	flag.Parse()
	vcbana.SetupLogging("histos4cards", *verbose)
	if flag.NArg() < 1 {
		printUsage()
		log.Fatal().Msg("Invalid arguments")
	}
	defer vcbana.StartProfile(*profileDir)()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Send()
		}
	}
	ov := config.Overrides{Tree: *treeName, Year: *year, Workers: *workers, Mode: *mode}
	if err := ov.Apply(&cfg); err != nil {
		log.Fatal().Err(err).Send()
	}

	var channels []string
	if *electron {
		channels = append(channels, "electron")
	}
	if *muon {
		channels = append(channels, "muon")
	}

	inputs, err := pipeline.Discover(flag.Args(), cfg.Samples.FileSuffix)
	if err != nil {
		log.Fatal().Err(err).Send()
	}
	if len(inputs) == 0 {
		log.Fatal().Strs("dirs", flag.Args()).Msg("no input files")
	}

	m := pipeline.NewMetrics()
	opts := pipeline.Options{
		Config:   cfg,
		OutDir:   *outDir,
		Channels: channels,
		Extra:    *extra,
		Metrics:  m,
	}
	log.Info().Int("samples", len(inputs)).Int("year", cfg.Year).Str("mode", cfg.Derive.Mode.String()).Msg("starting")
	rep, err := pipeline.Run(context.Background(), opts, inputs, cfg.Workers)
	if err != nil {
		log.Fatal().Err(err).Send()
	}
	if *metrics != "" {
		if err := m.WriteTextfile(*metrics); err != nil {
			log.Error().Err(err).Msg("could not write metrics")
		}
	}
	log.Info().Str("run", rep.RunID).Int("ok", len(rep.Outcomes)).Int("failed", len(rep.Failures)).Msg("finished")
	if err := rep.Err(); err != nil {
		log.Fatal().Err(err).Msg("some samples failed")
	}
}
