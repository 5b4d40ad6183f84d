package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/marine-detect/benchmark"
	"github.com/nvr-ai/marine-detect/config"
	"github.com/nvr-ai/marine-detect/images"
	"github.com/nvr-ai/marine-detect/inference"
	"github.com/nvr-ai/marine-detect/inference/providers"
	"github.com/nvr-ai/marine-detect/logger"
	"github.com/nvr-ai/marine-detect/metrics"
	"github.com/nvr-ai/marine-detect/models"
	"github.com/nvr-ai/marine-detect/models/model"
	"github.com/nvr-ai/marine-detect/models/postprocess"
	"github.com/nvr-ai/marine-detect/render"
	"github.com/nvr-ai/marine-detect/report"
	"github.com/nvr-ai/marine-detect/server"
	"github.com/nvr-ai/marine-detect/util"
)

// fetchTimeout bounds one weights download.
const fetchTimeout = 10 * time.Minute

type flags struct {
	configPath    string
	models        string
	image         string
	dir           string
	out           string
	csv           string
	fetch         bool
	serve         bool
	addr          string
	minConfidence float64
	bench         int
}

// fileResult is one line of JSON output.
type fileResult struct {
	Path    string                 `json:"path"`
	Results []inference.Comparison `json:"results"`
}

func main() {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "Path to the YAML configuration (default $MARINE_CONFIG or marine-detect.yaml)")
	flag.StringVar(&f.models, "models", "", "Comma separated models to run (default all)")
	flag.StringVar(&f.image, "image", "", "Image file to analyze")
	flag.StringVar(&f.dir, "dir", "", "Directory of images to analyze")
	flag.StringVar(&f.out, "out", "", "Annotated PNG path, or a directory for several outputs")
	flag.StringVar(&f.csv, "csv", "", "Write detections as CSV to this path")
	flag.BoolVar(&f.fetch, "fetch", false, "Download missing model weights before running")
	flag.BoolVar(&f.serve, "serve", false, "Serve the HTTP API")
	flag.StringVar(&f.addr, "addr", "", "HTTP listen address (overrides the configuration)")
	flag.Float64Var(&f.minConfidence, "min-confidence", -1, "Display threshold for output and annotations (default from configuration)")
	flag.IntVar(&f.bench, "bench", 0, "Benchmark each model for this many iterations over -image/-dir")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, f); err != nil {
		logger.Log().Error("marine-detect failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func run(ctx context.Context, f flags) error {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	if f.addr != "" {
		cfg.Server.Addr = f.addr
	}
	if f.minConfidence >= 0 {
		if f.minConfidence > 1 {
			return errors.Errorf("-min-confidence %v outside [0, 1]", f.minConfidence)
		}
		cfg.DisplayConfidence = float32(f.minConfidence)
	}

	if err := logger.Init(cfg.LogMode); err != nil {
		return err
	}
	log := logger.Log()

	registry, err := cfg.Registry()
	if err != nil {
		return err
	}
	names, err := selectModels(registry, f.models)
	if err != nil {
		return err
	}

	if f.fetch {
		if err := fetchWeights(ctx, registry, names, cfg.ModelsDir); err != nil {
			return err
		}
	}

	collector := metrics.NewCollector()
	engine, err := inference.NewEngineBuilder().
		WithRegistry(registry).
		WithOpener(func(_ context.Context, m model.Config) (inference.Runtime, error) {
			session, err := providers.OpenModel(cfg.Provider, m, cfg.ModelsDir)
			if err != nil {
				return nil, err
			}
			return session, nil
		}).
		WithLogger(log).
		WithObserver(collector).
		Build()
	if err != nil {
		return err
	}
	defer func() {
		if err := providers.DestroyEnvironment(); err != nil {
			log.Warn("failed to destroy onnxruntime environment", zap.Error(err))
		}
	}()
	defer engine.Close()

	switch {
	case f.serve:
		srv := server.New(engine,
			server.WithLogger(log),
			server.WithMetrics(collector),
			server.WithDisplayConfidence(cfg.DisplayConfidence),
			server.WithMaxUploadBytes(cfg.Server.MaxUploadBytes),
		)
		return srv.Run(ctx, cfg.Server.Addr)
	case f.image != "" || f.dir != "":
		files, err := loadInputs(f.image, f.dir)
		if err != nil {
			return err
		}
		if f.bench > 0 {
			return runBenchmark(ctx, engine, files, names, f)
		}
		return analyze(ctx, engine, files, names, cfg.DisplayConfidence, f)
	case f.fetch:
		return nil
	default:
		flag.Usage()
		return errors.New("nothing to do: pass -image, -dir, -serve or -fetch")
	}
}

// selectModels parses the -models list, defaulting to every registered model.
func selectModels(registry *models.Registry, list string) ([]model.Name, error) {
	var names []model.Name
	for _, n := range strings.Split(list, ",") {
		if n = strings.TrimSpace(n); n == "" {
			continue
		}
		if _, err := registry.Get(model.Name(n)); err != nil {
			return nil, err
		}
		names = append(names, model.Name(n))
	}
	if len(names) == 0 {
		names = registry.Names()
	}
	return names, nil
}

func fetchWeights(ctx context.Context, registry *models.Registry, names []model.Name, dir string) error {
	client := models.NewHTTPClient(fetchTimeout)
	for _, n := range names {
		m, err := registry.Get(n)
		if err != nil {
			return err
		}
		if _, err := models.Fetch(ctx, client, m, dir); err != nil {
			return err
		}
	}
	return nil
}

func loadInputs(image, dir string) ([]util.ImageFile, error) {
	var files []util.ImageFile
	if image != "" {
		data, err := os.ReadFile(image)
		if err != nil {
			return nil, errors.Wrapf(err, "read image %s", image)
		}
		files = append(files, util.ImageFile{Path: image, Data: data, Frame: -1})
	}
	if dir != "" {
		more, err := util.LoadDirectoryImageFiles(dir)
		if err != nil {
			return nil, err
		}
		files = append(files, more...)
	}
	if len(files) == 0 {
		return nil, errors.New("no images found")
	}
	return files, nil
}

// analyze compares the models on every file, writing one JSON line per file
// to stdout and the optional annotations and CSV.
func analyze(ctx context.Context, engine *inference.Engine, files []util.ImageFile, names []model.Name, minConf float32, f flags) error {
	enc := json.NewEncoder(os.Stdout)
	var csvResults []*inference.Result

	single := len(files) == 1 && len(names) == 1
	for _, file := range files {
		img, err := images.Decode(file.Data)
		if err != nil {
			logger.Log().Warn("skipping undecodable image", zap.String("path", file.Path), zap.Error(err))
			continue
		}

		comparisons := engine.Compare(ctx, img, names...)
		for i := range comparisons {
			res := comparisons[i].Result
			if res == nil {
				continue
			}
			res.Detections = postprocess.FilterByConfidence(res.Detections, minConf)
			csvResults = append(csvResults, res)

			if f.out != "" {
				if err := writeAnnotated(file, res, outputPath(f.out, file.Path, res.Model, single)); err != nil {
					return err
				}
			}
		}

		if err := enc.Encode(fileResult{Path: file.Path, Results: comparisons}); err != nil {
			return errors.Wrap(err, "write json")
		}
	}

	if f.csv != "" {
		return writeCSV(f.csv, csvResults)
	}
	return nil
}

func writeAnnotated(file util.ImageFile, res *inference.Result, path string) error {
	opts := render.DefaultOptions()
	opts.MinConfidence = 0

	png, err := render.Annotate(file.Data, res.Detections, opts)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create output directory")
	}
	return errors.Wrapf(os.WriteFile(path, png, 0o644), "write %s", path)
}

// outputPath is out itself for a single .png output, otherwise
// out/<image>_<model>.png.
func outputPath(out, src string, name model.Name, single bool) string {
	if single && strings.EqualFold(filepath.Ext(out), ".png") {
		return out
	}
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	return filepath.Join(out, fmt.Sprintf("%s_%s.png", base, name))
}

// runBenchmark measures every selected model, saving the results into -out
// when set and printing them as JSON otherwise.
func runBenchmark(ctx context.Context, engine *inference.Engine, files []util.ImageFile, names []model.Name, f flags) error {
	suite := benchmark.NewSuite(engine, logger.Log())
	if err := suite.LoadTestImages(files); err != nil {
		return err
	}
	suite.AddScenario(benchmark.ScenariosFor(names, f.bench)...)

	results := suite.RunAllScenarios(ctx)
	if f.out != "" {
		path, err := suite.SaveResults(f.out)
		if err != nil {
			return err
		}
		logger.Log().Info("benchmark results saved", zap.String("path", path))
		return nil
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(results), "write json")
}

func writeCSV(path string, results []*inference.Result) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer file.Close()

	if err := report.WriteCSV(file, results...); err != nil {
		return err
	}
	return errors.Wrapf(file.Close(), "close %s", path)
}
