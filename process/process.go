// Package process drives stylesheet rewriting: every configured source is
// loaded, parsed and rewritten first, only then output directory is reset,
// results are written and remote fonts are downloaded.
package process

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gosimple/slug"
	"github.com/maruel/natural"
	"go.uber.org/zap"

	"fontdl/config"
	"fontdl/css"
	"fontdl/download"
	"fontdl/fonts"
	"fontdl/source"
)

// Output is fully prepared result for a single source.
type Output struct {
	// Into is name of rewritten stylesheet relative to output directory.
	Into     string
	Original []byte
	Sheet    *css.Stylesheet
	Fonts    []fonts.RemoteFont
	// Header is sent with font requests.
	Header http.Header
}

// Process runs all phases for configured sources. Any failure before the
// download phase leaves output directory untouched. Failed downloads do not
// stop others and are reported together when everything is finished.
func Process(ctx context.Context, cfg *config.Config, fetcher download.Fetcher, rpt *config.Report, log *zap.Logger) error {
	outputs, err := prepare(ctx, cfg, fetcher, rpt, log)
	if err != nil {
		return err
	}

	outDir, err := resetOutDir(cfg)
	if err != nil {
		return err
	}
	log.Debug("Output directory reset", zap.String("path", outDir))

	sched := download.NewScheduler(cfg.Concurrency, fetcher,
		download.WithLogger(log),
		download.WithHostLimiter(download.NewHostLimiter(cfg.Download.Rate.Requests, cfg.Download.Rate.Window)))

	// submission stops at first local failure, whatever was started is still
	// waited for
	werr := write(ctx, outDir, outputs, sched, log)
	derr := sched.Wait()

	succeeded, failed := sched.Stats()
	log.Info("Downloads finished", zap.Int("succeeded", succeeded), zap.Int("failed", failed))

	if rpt != nil {
		if err := rpt.StoreCopy("output", outDir); err != nil {
			log.Warn("Unable to store output in debug report", zap.Error(err))
		}
	}

	if werr != nil {
		if derr != nil {
			log.Warn("Some downloads failed as well", zap.Error(derr))
		}
		return werr
	}
	if derr != nil {
		return fmt.Errorf("unable to download %d font(s): %w", failed, derr)
	}
	return nil
}

// prepare loads, parses and rewrites sources in configured order. First
// failure stops processing.
func prepare(ctx context.Context, cfg *config.Config, fetcher download.Fetcher, rpt *config.Report, log *zap.Logger) ([]Output, error) {
	parser := css.NewParser(log)

	outputs := make([]Output, 0, len(cfg.Sources))
	for i := range cfg.Sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		src := &cfg.Sources[i]

		text, err := source.Load(ctx, src, cfg.BaseDir, fetcher, log)
		if err != nil {
			return nil, err
		}

		sheet, err := parser.Parse(text.Text, text.Name)
		if err != nil {
			var perr *css.ParseError
			if errors.As(err, &perr) {
				for _, d := range perr.Diagnostics {
					log.Error("Stylesheet syntax error",
						zap.String("source", text.Name),
						zap.Int("line", d.Line),
						zap.Int("column", d.Column),
						zap.String("message", d.Message),
						zap.String("context", d.Context))
				}
			}
			return nil, err
		}

		found := fonts.RewriteRemoteFonts(sheet, text.Base, log)
		log.Info("Stylesheet rewritten", zap.String("source", text.Name), zap.String("into", src.Into), zap.Int("fonts", len(found)))

		header := http.Header{}
		header.Set("User-Agent", src.Agent())

		out := Output{
			Into:     filepath.ToSlash(filepath.Clean(src.Into)),
			Original: text.Text,
			Sheet:    sheet,
			Fonts:    found,
			Header:   header,
		}
		report(rpt, out)
		outputs = append(outputs, out)
	}
	return outputs, nil
}

// resetOutDir removes output directory with everything in it and creates it
// again empty.
func resetOutDir(cfg *config.Config) (string, error) {
	dir, err := filepath.Abs(cfg.ResolvePath(cfg.OutDir))
	if err != nil {
		return "", fmt.Errorf("unable to resolve output directory: %w", err)
	}

	// never remove directory configuration lives in
	if len(cfg.BaseDir) > 0 {
		if rel, err := filepath.Rel(dir, cfg.BaseDir); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("refusing to reset output directory %s: it contains %s", dir, cfg.BaseDir)
		}
	}

	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("unable to remove output directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("unable to create output directory: %w", err)
	}
	return dir, nil
}

// write stores every output with its verbatim copy and submits its fonts.
func write(ctx context.Context, outDir string, outputs []Output, sched *download.Scheduler, log *zap.Logger) error {
	for _, out := range outputs {
		name := filepath.Join(outDir, filepath.FromSlash(out.Into))
		dir := filepath.Dir(name)

		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("unable to create directory for %s: %w", out.Into, err)
		}
		if err := writeSheet(name, out.Sheet); err != nil {
			return fmt.Errorf("unable to write %s: %w", out.Into, err)
		}
		original := filepath.Join(outDir, filepath.FromSlash(config.OriginalName(out.Into)))
		if err := os.WriteFile(original, out.Original, 0644); err != nil {
			return fmt.Errorf("unable to write original of %s: %w", out.Into, err)
		}
		log.Debug("Stylesheet written", zap.String("path", name), zap.String("original", original))

		for _, font := range out.Fonts {
			if err := sched.Submit(ctx, download.Job{Font: font, Dir: dir, Header: out.Header}); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeSheet(name string, sheet *css.Stylesheet) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	if _, err := sheet.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// report stores everything about output in debug report.
func report(rpt *config.Report, out Output) {
	if rpt == nil {
		return
	}
	base := "sources/" + slug.Make(out.Into)
	rpt.StoreData(base+".original.css", out.Original)
	rpt.StoreData(base+".css", []byte(out.Sheet.String()))
	rpt.StoreData(base+".tree.txt", []byte(out.Sheet.Dump()))

	lines := make([]string, 0, len(out.Fonts))
	for _, f := range out.Fonts {
		lines = append(lines, f.Destination+"\t"+f.Source.String())
	}
	sort.Sort(natural.StringSlice(lines))
	rpt.StoreData(base+".fonts.txt", []byte(strings.Join(lines, "\n")))
}
