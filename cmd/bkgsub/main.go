package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"bkgsub/pkg/bkgsub"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: bkgsub <combine|wfss> [options] <files>")
	}

	log := newLogger()

	switch args[0] {
	case "combine":
		return runCombine(args[1:], log)
	case "wfss":
		return runWFSS(args[1:], log)
	default:
		return fmt.Errorf("unknown command %q (want combine or wfss)", args[0])
	}
}

func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(zerolog.InfoLevel).
		With().
		Timestamp().
		Logger()
}

func runCombine(args []string, log zerolog.Logger) error {
	fs := flag.NewFlagSet("combine", flag.ContinueOnError)
	sigma := fs.Float64("sigma", 3.0, "clip threshold in standard deviations")
	maxIters := fs.Int("maxiters", 5, "maximum clip iterations (0 = until convergence)")
	out := fs.String("out", "bkgsub.fits", "output path for the subtracted exposure")
	bkgOut := fs.String("bkg-out", "", "optional output path for the averaged background")
	preview := fs.String("preview", "", "optional JPEG preview of the averaged background")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) < 2 {
		return fmt.Errorf("usage: bkgsub combine [options] <target> <background>...")
	}

	opener := bkgsub.FITSOpener{}
	target, err := opener.Open(rest[0])
	if err != nil {
		return err
	}
	defer target.Close()

	acc := bkgsub.NewAccumulator(log)
	acc.Sigma = *sigma
	acc.MaxIters = *maxIters

	start := time.Now()
	avg, result, err := acc.Subtract(target, rest[1:], opener)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	if err := bkgsub.WriteExposure(*out, result); err != nil {
		return err
	}
	if *bkgOut != "" {
		if err := bkgsub.WriteExposure(*bkgOut, avg); err != nil {
			return err
		}
	}
	if *preview != "" {
		if err := bkgsub.RenderPreview(avg.Data, "averaged background", *preview); err != nil {
			return err
		}
	}

	fmt.Println()
	fmt.Printf("=== Background Subtraction (%.1fs) ===\n", elapsed.Seconds())
	fmt.Printf("  Target:       %s\n", rest[0])
	fmt.Printf("  Backgrounds:  %d\n", len(rest)-1)
	fmt.Printf("  Frame size:   %d x %d\n", target.Data.W(), target.Data.H())
	fmt.Printf("  Output:       %s\n", *out)
	fmt.Println("======================================")
	return nil
}

func runWFSS(args []string, log zerolog.Logger) error {
	fs := flag.NewFlagSet("wfss", flag.ContinueOnError)
	catalog := fs.String("catalog", "", "JSON grism source catalog with per-order bounding boxes")
	wlRange := fs.String("wlrange", "", "wavelength-range reference name")
	minMag := fs.Float64("minmag", 0, "faint AB magnitude limit for source exclusion (0 = no cut)")
	out := fs.String("out", "wfss_bkgsub.fits", "output path for the subtracted exposure")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 2 {
		return fmt.Errorf("usage: bkgsub wfss [options] <target> <background-reference>")
	}

	opener := bkgsub.FITSOpener{}
	target, err := opener.Open(rest[0])
	if err != nil {
		return err
	}
	defer target.Close()

	ref, err := opener.Open(rest[1])
	if err != nil {
		return err
	}
	defer ref.Close()

	var cat bkgsub.GrismCatalog
	if *catalog != "" {
		cat = &bkgsub.FileCatalog{Path: *catalog}
		target.Meta.SourceCatalog = *catalog
	}

	scaler := bkgsub.NewWFSS(cat, log)
	result, err := scaler.Subtract(target, ref, *wlRange, *minMag)
	if errors.Is(err, bkgsub.ErrInsufficientBackground) {
		fmt.Println("Skipped: not enough background pixels outside source regions.")
		return nil
	}
	if err != nil {
		return err
	}

	if err := bkgsub.WriteExposure(*out, result); err != nil {
		return err
	}
	fmt.Printf("WFSS background subtracted: %s -> %s\n", rest[0], *out)
	return nil
}
