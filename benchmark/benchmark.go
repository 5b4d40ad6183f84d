package benchmark

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/marine-detect/images"
	"github.com/nvr-ai/marine-detect/inference"
	"github.com/nvr-ai/marine-detect/models/model"
	"github.com/nvr-ai/marine-detect/util"
)

// DefaultWarmupRuns absorbs session opening and allocator warmup.
const DefaultWarmupRuns = 2

// Scenario defines a specific test configuration
type Scenario struct {
	Name       string     `json:"name"`
	Model      model.Name `json:"model"`
	Iterations int        `json:"iterations"`
	WarmupRuns int        `json:"warmup_runs"`
}

// Suite manages and executes benchmark scenarios against an engine.
type Suite struct {
	engine     *inference.Engine
	logger     *zap.Logger
	testImages []image.Image

	mu        sync.RWMutex
	scenarios []Scenario
	results   []PerformanceMetrics
}

// NewSuite creates a new benchmark suite.
func NewSuite(engine *inference.Engine, logger *zap.Logger) *Suite {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Suite{engine: engine, logger: logger}
}

// ScenariosFor creates one scenario per model.
func ScenariosFor(names []model.Name, iterations int) []Scenario {
	out := make([]Scenario, len(names))
	for i, n := range names {
		out[i] = Scenario{
			Name:       fmt.Sprintf("%s_x%d", n, iterations),
			Model:      n,
			Iterations: iterations,
			WarmupRuns: DefaultWarmupRuns,
		}
	}
	return out
}

// AddScenario adds a test scenario to the benchmark suite
func (s *Suite) AddScenario(scenarios ...Scenario) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenarios = append(s.scenarios, scenarios...)
}

// LoadTestImages decodes the images iterations cycle through. Undecodable
// files are skipped.
func (s *Suite) LoadTestImages(files []util.ImageFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.testImages = s.testImages[:0]
	for _, f := range files {
		img, err := images.Decode(f.Data)
		if err != nil {
			s.logger.Warn("skipping undecodable benchmark image", zap.String("path", f.Path), zap.Error(err))
			continue
		}
		s.testImages = append(s.testImages, img)
	}

	if len(s.testImages) == 0 {
		return errors.New("no valid benchmark images")
	}
	return nil
}

// RunScenario executes a single benchmark scenario.
//
// Warmup runs open the model session and are not measured. Latency covers
// the runtime call only; FramesPerSecond covers whole decode calls.
func (s *Suite) RunScenario(ctx context.Context, scenario Scenario) (*PerformanceMetrics, error) {
	s.mu.RLock()
	imgs := s.testImages
	s.mu.RUnlock()

	if len(imgs) == 0 {
		return nil, errors.New("no benchmark images loaded")
	}
	if scenario.Iterations <= 0 {
		return nil, errors.Errorf("scenario %s: iterations must be positive", scenario.Name)
	}

	p, err := s.engine.Acquire(ctx, scenario.Model)
	if err != nil {
		return nil, err
	}

	for i := 0; i < scenario.WarmupRuns; i++ {
		if _, err := p.Decode(ctx, imgs[i%len(imgs)]); err != nil {
			s.logger.Debug("warmup run failed", zap.String("scenario", scenario.Name), zap.Error(err))
		}
	}

	var startMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&startMem)

	metrics := &PerformanceMetrics{
		Scenario:  scenario,
		Timestamp: time.Now(),
	}
	samples := make([]time.Duration, 0, scenario.Iterations)
	failures := 0

	start := time.Now()
	for i := 0; i < scenario.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := p.Decode(ctx, imgs[i%len(imgs)])
		if err != nil {
			failures++
			continue
		}
		samples = append(samples, res.InferenceTime)
		metrics.DetectionCount += len(res.Detections)
	}
	metrics.TotalDuration = time.Since(start)

	var endMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&endMem)

	metrics.Latency = NewLatencyStats(samples)
	metrics.FramesPerSecond = float64(scenario.Iterations) / metrics.TotalDuration.Seconds()
	metrics.ErrorRate = float64(failures) / float64(scenario.Iterations)
	metrics.MemoryStats = MemoryMetrics{
		AllocBytes:      endMem.Alloc,
		TotalAllocBytes: endMem.TotalAlloc - startMem.TotalAlloc,
		SysBytes:        endMem.Sys,
		NumGC:           endMem.NumGC - startMem.NumGC,
		HeapAllocBytes:  endMem.HeapAlloc,
		HeapSysBytes:    endMem.HeapSys,
	}
	metrics.CPUStats = CPUMetrics{
		NumCPU:     runtime.NumCPU(),
		GOMAXPROCS: runtime.GOMAXPROCS(0),
	}

	return metrics, nil
}

// RunAllScenarios executes every scenario in order. A failed scenario is
// logged and skipped.
func (s *Suite) RunAllScenarios(ctx context.Context) []PerformanceMetrics {
	s.mu.RLock()
	scenarios := append([]Scenario(nil), s.scenarios...)
	s.mu.RUnlock()

	for _, scenario := range scenarios {
		metrics, err := s.RunScenario(ctx, scenario)
		if err != nil {
			s.logger.Error("benchmark scenario failed", zap.String("scenario", scenario.Name), zap.Error(err))
			continue
		}

		s.mu.Lock()
		s.results = append(s.results, *metrics)
		s.mu.Unlock()

		s.logger.Info("benchmark scenario completed",
			zap.String("scenario", scenario.Name),
			zap.Float64("fps", metrics.FramesPerSecond),
			zap.Float64("p95_ms", metrics.Latency.P95MS),
		)
	}

	return s.GetResults()
}

// SaveResults writes the results as JSON and a summary CSV into outputDir.
//
// Returns:
//   - string: The JSON results path.
//   - error: An error if a file cannot be written.
func (s *Suite) SaveResults(outputDir string) (string, error) {
	results := s.GetResults()

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", errors.Wrap(err, "failed to create output directory")
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	resultsFile := filepath.Join(outputDir, fmt.Sprintf("benchmark_results_%s.json", timestamp))

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal results")
	}
	if err := os.WriteFile(resultsFile, data, 0o644); err != nil {
		return "", errors.Wrap(err, "failed to write results file")
	}

	summaryFile := filepath.Join(outputDir, fmt.Sprintf("benchmark_summary_%s.csv", timestamp))
	if err := saveSummaryCSV(summaryFile, results); err != nil {
		return "", errors.Wrap(err, "failed to save summary CSV")
	}

	return resultsFile, nil
}

func saveSummaryCSV(filename string, results []PerformanceMetrics) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	_ = w.Write([]string{"scenario", "model", "iterations", "fps", "mean_ms", "p50_ms", "p95_ms", "max_ms", "detections", "error_rate"})
	for _, r := range results {
		_ = w.Write([]string{
			r.Scenario.Name,
			string(r.Scenario.Model),
			strconv.Itoa(r.Scenario.Iterations),
			strconv.FormatFloat(r.FramesPerSecond, 'f', 2, 64),
			strconv.FormatFloat(r.Latency.MeanMS, 'f', 3, 64),
			strconv.FormatFloat(r.Latency.P50MS, 'f', 3, 64),
			strconv.FormatFloat(r.Latency.P95MS, 'f', 3, 64),
			strconv.FormatFloat(r.Latency.MaxMS, 'f', 3, 64),
			strconv.Itoa(r.DetectionCount),
			strconv.FormatFloat(r.ErrorRate, 'f', 4, 64),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return file.Close()
}

// GetResults returns all benchmark results
func (s *Suite) GetResults() []PerformanceMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]PerformanceMetrics, len(s.results))
	copy(results, s.results)
	return results
}
