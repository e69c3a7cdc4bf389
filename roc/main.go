package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/decibelcooper/vcbana"
	"github.com/decibelcooper/vcbana/internal/roc"
	"github.com/decibelcooper/vcbana/internal/rootio"
	"github.com/decibelcooper/vcbana/internal/sample"
)

var (
	histName      = flag.String("hist", "h_score_tt_Wcb", "name of the score histogram in each input file")
	sigName       = flag.String("sig", "Wcb", "signal process, matched against the file names")
	stack         = flag.Bool("stack", false, "scan against the sum of every non-data, non-signal file")
	includeSignal = flag.Bool("include-signal", false, "keep the signal in the background stack")
	step          = flag.Float64("step", 0.01, "threshold step")
	output        = flag.String("o", "rocs.root", "output file holding one TGraph per curve")
	profileDir    = flag.String("profile", "", "write a CPU profile to this directory")
	verbose       = flag.Bool("v", false, "verbose logging")

	bkgNames vcbana.StringArrayFlags
	cuts     = vcbana.FloatArrayFlags{Array: []float64{0.5}}
)

func printUsage() {
	fmt.Fprint(os.Stderr, `Usage: `+os.Args[0]+` [options] <histogram-files>...

Scan the signal and background efficiencies of a threshold on a score
histogram and write the resulting curves.

options:
`,
	)
	flag.PrintDefaults()
}

func main() {
	flag.Var(&bkgNames, "bkg", "background process, matched against the file names (repeatable)")
	flag.Var(&cuts, "cut", "threshold at which to report the efficiencies (repeatable)")
	flag.Usage = printUsage
	flag.Parse()
	vcbana.SetupLogging("roc", *verbose)
	if flag.NArg() < 1 || (!*stack && len(bkgNames.Array) == 0) {
		printUsage()
		log.Fatal().Msg("Invalid arguments")
	}
	defer vcbana.StartProfile(*profileDir)()

	rules := sample.DefaultRules()
	in := roc.Inputs{
		Signal:        *sigName,
		Backgrounds:   bkgNames.Array,
		Stack:         *stack,
		IncludeSignal: *includeSignal,
		IsData:        func(path string) bool { return rules.Classify(path).IsData() },
		Read:          rootio.ReadH1D,
	}
	sig, bkgs, err := in.Collect(flag.Args(), *histName)
	if err != nil {
		log.Fatal().Err(err).Send()
	}

	var curves []rootio.NamedXYs
	for _, b := range bkgs {
		c, err := roc.Scan(sig, b.H, *step)
		if err != nil {
			log.Fatal().Err(err).Str("background", b.Name).Send()
		}
		c.Name = "roc_" + b.Name
		log.Info().Str("signal", *sigName).Str("background", b.Name).Float64("auc", c.Area()).Msg("curve")
		for _, cut := range cuts.Array {
			p, ok := c.At(cut)
			if !ok {
				log.Warn().Float64("cut", cut).Msg("threshold outside the scanned range")
				continue
			}
			log.Info().
				Str("background", b.Name).
				Float64("cut", p.Threshold).
				Float64("sig_eff", p.X).
				Float64("bkg_eff", 1-p.Y).
				Msg("working point")
		}
		curves = append(curves, rootio.NamedXYs{Name: c.Name, XYs: c})
	}

	if err := rootio.WriteCurves(*output, curves...); err != nil {
		log.Fatal().Err(err).Send()
	}
	log.Info().Str("file", *output).Int("curves", len(curves)).Msg("written")
}
