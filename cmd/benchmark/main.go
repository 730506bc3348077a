// Benchmark tool for replaying labeled transaction data through the
// scoring engine.
//
// Usage:
//
//	go run cmd/benchmark/main.go -csv /path/to/transactions.csv
//
// The CSV needs a header row with: transaction_id, user_id, amount,
// currency, device_key, is_fraud. Each row is evaluated in-process and
// the flag verdict is compared against the fraud label to produce
// precision, recall, F1, and a confusion matrix.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ledgerline/peregrine/internal/checks"
	"github.com/ledgerline/peregrine/internal/devicetrust"
	"github.com/ledgerline/peregrine/internal/domain"
	"github.com/ledgerline/peregrine/internal/engine"
	"github.com/ledgerline/peregrine/internal/repository"
	"github.com/ledgerline/peregrine/internal/velocity"
)

type labeledTx struct {
	ID        string
	UserID    string
	Amount    float64
	Currency  string
	DeviceKey string
	IsFraud   bool
}

type metrics struct {
	truePositives  int64
	falsePositives int64
	trueNegatives  int64
	falseNegatives int64
	errors         int64
	processed      int64
}

func main() {
	csvPath := flag.String("csv", "", "path to labeled transaction CSV")
	workers := flag.Int("workers", 8, "concurrent evaluation workers")
	limit := flag.Int("limit", 0, "max rows to process (0 = all)")
	flag.Parse()

	if *csvPath == "" {
		fmt.Fprintln(os.Stderr, "missing -csv flag")
		flag.Usage()
		os.Exit(1)
	}

	txs, err := loadCSV(*csvPath, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("loaded %d labeled transactions\n", len(txs))

	eng, cleanup, err := buildEngine()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build engine: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	var m metrics
	start := time.Now()
	runBenchmark(eng, txs, *workers, &m)
	elapsed := time.Since(start)

	printReport(&m, elapsed)
}

func buildEngine() (*engine.Engine, func(), error) {
	dir, err := os.MkdirTemp("", "peregrine-bench-*")
	if err != nil {
		return nil, nil, err
	}

	cfg := domain.DefaultConfig()
	cfg.Repository.SQLitePath = filepath.Join(dir, "bench.db")

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		os.RemoveAll(dir)
		return nil, nil, err
	}

	eng := engine.New(
		repo,
		velocity.NewAggregator(repo, nil, 0),
		devicetrust.NewStore(repo, cfg.DeviceTrust, nil),
		checks.DefaultChecks(cfg.Scoring),
		cfg.Scoring,
		cfg.Engine,
		nil,
		nil,
	)

	cleanup := func() {
		repo.Close()
		os.RemoveAll(dir)
	}
	return eng, cleanup, nil
}

func runBenchmark(eng *engine.Engine, txs []labeledTx, workers int, m *metrics) {
	if workers <= 0 {
		workers = 1
	}

	jobs := make(chan labeledTx)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tx := range jobs {
				result, err := eng.Evaluate(context.Background(), &domain.RiskEvaluationContext{
					TransactionID: tx.ID,
					UserID:        tx.UserID,
					Amount:        tx.Amount,
					Currency:      tx.Currency,
					DeviceKey:     tx.DeviceKey,
				})
				if err != nil {
					atomic.AddInt64(&m.errors, 1)
					continue
				}
				atomic.AddInt64(&m.processed, 1)

				switch {
				case tx.IsFraud && result.IsFlagged:
					atomic.AddInt64(&m.truePositives, 1)
				case !tx.IsFraud && result.IsFlagged:
					atomic.AddInt64(&m.falsePositives, 1)
				case tx.IsFraud && !result.IsFlagged:
					atomic.AddInt64(&m.falseNegatives, 1)
				default:
					atomic.AddInt64(&m.trueNegatives, 1)
				}
			}
		}()
	}

	for _, tx := range txs {
		jobs <- tx
	}
	close(jobs)
	wg.Wait()
}

func loadCSV(path string, limit int) ([]labeledTx, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[name] = i
	}
	for _, required := range []string{"transaction_id", "user_id", "amount", "currency", "is_fraud"} {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("missing required column %q", required)
		}
	}

	var txs []labeledTx
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		amount, err := strconv.ParseFloat(row[idx["amount"]], 64)
		if err != nil {
			continue
		}
		isFraud, _ := strconv.ParseBool(row[idx["is_fraud"]])

		tx := labeledTx{
			ID:       row[idx["transaction_id"]],
			UserID:   row[idx["user_id"]],
			Amount:   amount,
			Currency: row[idx["currency"]],
			IsFraud:  isFraud,
		}
		if col, ok := idx["device_key"]; ok {
			tx.DeviceKey = row[col]
		}
		txs = append(txs, tx)

		if limit > 0 && len(txs) >= limit {
			break
		}
	}
	return txs, nil
}

func printReport(m *metrics, elapsed time.Duration) {
	tp, fp := float64(m.truePositives), float64(m.falsePositives)
	fn := float64(m.falseNegatives)

	var precision, recall, f1 float64
	if tp+fp > 0 {
		precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		recall = tp / (tp + fn)
	}
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}

	fmt.Println()
	fmt.Println("=== Benchmark Results ===")
	fmt.Printf("processed:       %d (%d errors)\n", m.processed, m.errors)
	fmt.Printf("elapsed:         %s (%.0f tx/s)\n", elapsed.Round(time.Millisecond), float64(m.processed)/elapsed.Seconds())
	fmt.Println()
	fmt.Println("confusion matrix (flagged vs fraud label):")
	fmt.Printf("  true positives:  %d\n", m.truePositives)
	fmt.Printf("  false positives: %d\n", m.falsePositives)
	fmt.Printf("  true negatives:  %d\n", m.trueNegatives)
	fmt.Printf("  false negatives: %d\n", m.falseNegatives)
	fmt.Println()
	fmt.Printf("precision: %.3f\n", precision)
	fmt.Printf("recall:    %.3f\n", recall)
	fmt.Printf("f1:        %.3f\n", f1)
}
