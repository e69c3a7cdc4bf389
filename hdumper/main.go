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
	"github.com/decibelcooper/vcbana/internal/route"
)

var (
	varsPath   = flag.String("vars", "", "variable table (csv or xlsx): Variable,nbins,xmin,xmax")
	outDir     = flag.String("o", "dump", "output directory")
	treeName   = flag.String("tree", "", "name of the input tree (default from the config)")
	year       = flag.Int("year", 0, "data taking year (default from the config)")
	extra      = flag.String("extra", "", "extra selection ANDed into every region")
	mode       = flag.String("mode", "", "derived variables: none, scores or kinematics (default from the config)")
	syst       = flag.Bool("syst", false, "also fill the systematic variations")
	configPath = flag.String("config", "", "YAML configuration overlaid on the defaults")
	workers    = flag.Int("j", 0, "number of samples processed concurrently (default from the config)")
	profileDir = flag.String("profile", "", "write a CPU profile to this directory")
	verbose    = flag.Bool("v", false, "verbose logging")
)

func printUsage() {
	fmt.Fprint(os.Stderr, `Usage: `+os.Args[0]+` [options] -vars <table> <input-dirs>...

Write one file per sample and region, h_<sample>[_<region>].root, holding
one histogram h_<variable> per row of the variable table.

options:
`,
	)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = printUsage
	flag.Parse()
	vcbana.SetupLogging("hdumper", *verbose)
	if flag.NArg() < 1 || *varsPath == "" {
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

	vars, err := route.ReadVariables(*varsPath)
	if err != nil {
		log.Fatal().Err(err).Send()
	}
	inputs, err := pipeline.Discover(flag.Args(), cfg.Samples.FileSuffix)
	if err != nil {
		log.Fatal().Err(err).Send()
	}

	opts := pipeline.Options{
		Config:      cfg,
		Layout:      route.LayoutDump,
		OutDir:      *outDir,
		Extra:       *extra,
		Variables:   vars,
		NominalOnly: !*syst,
	}
	log.Info().Int("samples", len(inputs)).Int("variables", len(vars)).Msg("starting")
	rep, err := pipeline.Run(context.Background(), opts, inputs, cfg.Workers)
	if err != nil {
		log.Fatal().Err(err).Send()
	}
	if err := rep.Err(); err != nil {
		log.Fatal().Err(err).Msg("some samples failed")
	}
	log.Info().Str("run", rep.RunID).Int("samples", len(rep.Outcomes)).Msg("finished")
}
