package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/decibelcooper/vcbana"
	"github.com/decibelcooper/vcbana/internal/config"
	"github.com/decibelcooper/vcbana/internal/datacard"
	"github.com/decibelcooper/vcbana/internal/route"
)

var (
	inDir      = flag.String("in", "histos", "directory holding the category files, as written by histos4cards")
	outDir     = flag.String("o", "cards", "output directory")
	year       = flag.Int("year", 0, "data taking year (default from the config)")
	configPath = flag.String("config", "", "YAML configuration overlaid on the defaults")
	verbose    = flag.Bool("v", false, "verbose logging")
)

func printUsage() {
	fmt.Fprint(os.Stderr, `Usage: `+os.Args[0]+` [options] [categories]...

Write the datacard and its shapes file from the category histograms. All
configured categories are used when none is given.

options:
`,
	)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	vcbana.SetupLogging("datacard", *verbose)

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Send()
		}
	}
	if err := (config.Overrides{Year: *year}).Apply(&cfg); err != nil {
		log.Fatal().Err(err).Send()
	}

	want := make(map[string]bool)
	for _, name := range flag.Args() {
		want[name] = true
	}
	router := route.Router{OutDir: *inDir, Year: cfg.Year, Prefix: cfg.Prefix}
	var bins []datacard.Bin
	for _, cat := range cfg.Categories {
		if len(want) > 0 && !want[cat.Name] {
			continue
		}
		delete(want, cat.Name)
		bins = append(bins, datacard.Bin{Name: router.Bin(cat), File: router.CategoryFile(cat)})
	}
	for name := range want {
		log.Fatal().Str("category", name).Msg("unknown category")
	}
	if len(bins) == 0 {
		printUsage()
		log.Fatal().Msg("Invalid arguments")
	}

	card, err := datacard.Assemble(cfg.Datacard, cfg.Year, bins, nil)
	if err != nil {
		log.Fatal().Err(err).Send()
	}
	txt, shapes, err := card.Write(filepath.Join(*outDir, fmt.Sprint(cfg.Year)))
	if err != nil {
		log.Fatal().Err(err).Send()
	}
	log.Info().Str("card", txt).Str("shapes", shapes).Int("bins", len(bins)).Msg("written")
}
