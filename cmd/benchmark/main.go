// Benchmark tool for testing Kestrel against the labelled Telco churn dataset.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /path/to/telco.csv -url http://localhost:8080
//
// This tool:
//  1. Reads the Telco customer CSV (Churn column Yes/No)
//  2. Sends each customer to POST /api/churn/predict
//  3. Compares the predicted label with the ground truth
//  4. Prints accuracy, precision, recall, F1-score and the confusion matrix
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/dataset"
	"github.com/opensource-finance/kestrel/internal/domain"
	"go.uber.org/atomic"
)

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  atomic.Int64 // churned, predicted WILL_CHURN
	FalsePositives atomic.Int64 // stayed, predicted WILL_CHURN
	TrueNegatives  atomic.Int64 // stayed, predicted WILL_STAY
	FalseNegatives atomic.Int64 // churned, predicted WILL_STAY

	TotalProcessed atomic.Int64
	TotalErrors    atomic.Int64
	RemoteScored   atomic.Int64

	ProcessingTimeMs atomic.Int64
}

func main() {
	csvPath := flag.String("csv", "", "Path to the Telco churn CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	limit := flag.Int("limit", 0, "Maximum customers to send (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each prediction")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/telco.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("KESTREL BENCHMARK - Telco customer churn")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run ./cmd/kestrel")
		os.Exit(1)
	}
	fmt.Println("Kestrel is healthy")

	rows, err := readRows(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	if len(rows) == 0 {
		fmt.Println("ERROR: CSV contains no customers")
		os.Exit(1)
	}

	churned := 0
	for _, row := range rows {
		if row.Churned() {
			churned++
		}
	}
	fmt.Printf("Loaded %d customers\n", len(rows))
	fmt.Printf("  - Churned: %d (%.2f%%)\n", churned, 100*float64(churned)/float64(len(rows)))
	fmt.Printf("  - Stayed:  %d (%.2f%%)\n", len(rows)-churned, 100*float64(len(rows)-churned)/float64(len(rows)))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	start := time.Now()
	metrics := runBenchmark(rows, *baseURL, *workers, *verbose)
	printResults(metrics, time.Since(start))
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readRows(path string, limit int) ([]dataset.Row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	rows, err := dataset.Read(file)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func runBenchmark(rows []dataset.Row, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}
	work := make(chan dataset.Row, 100)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for row := range work {
				start := time.Now()
				result, err := predict(client, baseURL, row.Features)
				metrics.ProcessingTimeMs.Add(time.Since(start).Milliseconds())
				metrics.TotalProcessed.Inc()

				if err != nil {
					metrics.TotalErrors.Inc()
					if verbose {
						fmt.Printf("ERROR: row %d -> %v\n", row.Line, err)
					}
					continue
				}
				if result.Source == domain.SourceRemote {
					metrics.RemoteScored.Inc()
				}

				predicted := result.WillChurn()
				actual := row.Churned()
				switch {
				case predicted && actual:
					metrics.TruePositives.Inc()
				case predicted && !actual:
					metrics.FalsePositives.Inc()
				case !predicted && !actual:
					metrics.TrueNegatives.Inc()
				default:
					metrics.FalseNegatives.Inc()
				}

				if verbose {
					mark := "ok"
					if predicted != actual {
						mark = "XX"
					}
					fmt.Printf("%s row %-5d | tenure %3d | %-14s | actual %-5v | %-10s p=%.3f %-6s %s\n",
						mark,
						row.Line,
						row.Features.Tenure,
						row.Features.Contract,
						actual,
						result.Label,
						result.Probability,
						result.RiskLevel,
						result.Source,
					)
				}
			}
		}()
	}

	for _, row := range rows {
		work <- row
	}
	close(work)
	wg.Wait()

	return metrics
}

func predict(client *http.Client, baseURL string, f domain.Features) (*domain.PredictionResult, error) {
	body, err := json.Marshal(f.Payload())
	if err != nil {
		return nil, err
	}

	resp, err := client.Post(baseURL+"/api/churn/predict", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result domain.PredictionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Scores are the derived classification metrics.
type Scores struct {
	Precision float64
	Recall    float64
	F1        float64
	Accuracy  float64
}

func computeScores(tp, fp, tn, fn int64) Scores {
	var s Scores
	if tp+fp > 0 {
		s.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		s.Recall = float64(tp) / float64(tp+fn)
	}
	if s.Precision+s.Recall > 0 {
		s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
	}
	if total := tp + fp + tn + fn; total > 0 {
		s.Accuracy = float64(tp+tn) / float64(total)
	}
	return s
}

func printResults(m *Metrics, duration time.Duration) {
	tp, fp := m.TruePositives.Load(), m.FalsePositives.Load()
	tn, fn := m.TrueNegatives.Load(), m.FalseNegatives.Load()
	processed := m.TotalProcessed.Load()

	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Total Processed:  %d\n", processed)
	fmt.Printf("   Actual Churned:   %d\n", tp+fn)
	fmt.Printf("   Actual Stayed:    %d\n", tn+fp)
	fmt.Printf("   Remote Scored:    %d\n", m.RemoteScored.Load())
	fmt.Printf("   Errors:           %d\n", m.TotalErrors.Load())

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                          Predicted")
	fmt.Println("                   WILL_CHURN   WILL_STAY")
	fmt.Printf("   Actual churned  %10d  %10d   (TP, FN)\n", tp, fn)
	fmt.Printf("   Actual stayed   %10d  %10d   (FP, TN)\n", fp, tn)

	s := computeScores(tp, fp, tn, fn)
	fmt.Printf("\nCLASSIFICATION METRICS\n")
	fmt.Printf("   Accuracy:   %.4f\n", s.Accuracy)
	fmt.Printf("   Precision:  %.4f  (of predicted churners, how many churned)\n", s.Precision)
	fmt.Printf("   Recall:     %.4f  (of churners, how many were flagged)\n", s.Recall)
	fmt.Printf("   F1-Score:   %.4f\n", s.F1)

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if processed > 0 {
		fmt.Printf("   Avg Latency:      %.2f ms\n", float64(m.ProcessingTimeMs.Load())/float64(processed))
		fmt.Printf("   Throughput:       %.2f req/sec\n", float64(processed)/duration.Seconds())
	}
	fmt.Println()
}
