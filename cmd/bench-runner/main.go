package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type benchResult struct {
	Timestamp          string         `json:"timestamp"`
	BaseURL            string         `json:"base_url"`
	Scenario           string         `json:"scenario"`
	Requests           int            `json:"requests"`
	Concurrency        int            `json:"concurrency"`
	SuccessfulRequests int            `json:"successful_requests"`
	RejectedRequests   int            `json:"rejected_requests"`
	ErrorRequests      int            `json:"error_requests"`
	DurationSeconds    float64        `json:"duration_seconds"`
	AvgLatencyMs       float64        `json:"avg_latency_ms"`
	P50LatencyMs       float64        `json:"p50_latency_ms"`
	P90LatencyMs       float64        `json:"p90_latency_ms"`
	P95LatencyMs       float64        `json:"p95_latency_ms"`
	P99LatencyMs       float64        `json:"p99_latency_ms"`
	ThroughputRPS      float64        `json:"throughput_rps"`
	StatusCounts       map[string]int `json:"status_counts"`
	RejectionClasses   map[string]int `json:"rejection_classes"`
	FirstError         string         `json:"first_error"`
	JobID              string         `json:"job_id,omitempty"`
	JobDurationSeconds float64        `json:"job_duration_seconds,omitempty"`
	JobFailures        int            `json:"job_failures,omitempty"`
}

type metrics struct {
	mu               sync.Mutex
	success          int
	rejected         int
	errors           int
	total            time.Duration
	latenciesMs      []float64
	statusCounts     map[string]int
	rejectionClasses map[string]int
	firstError       string
	orderIDs         []string
}

func newMetrics() *metrics {
	return &metrics{
		statusCounts:     make(map[string]int),
		rejectionClasses: make(map[string]int),
	}
}

func (m *metrics) record(latency time.Duration, status int, class, orderID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCounts[fmt.Sprintf("%d", status)]++
	switch {
	case err != nil:
		m.errors++
		if m.firstError == "" {
			m.firstError = err.Error()
		}
	case class != "":
		m.rejected++
		m.rejectionClasses[class]++
	default:
		m.success++
		m.total += latency
		m.latenciesMs = append(m.latenciesMs, float64(latency.Milliseconds()))
		if orderID != "" {
			m.orderIDs = append(m.orderIDs, orderID)
		}
	}
}

func main() {
	scenario := flag.String("scenario", "checkout", "checkout | bulk-ship")
	requests := flag.Int("n", 100, "number of checkout requests")
	concurrency := flag.Int("c", 10, "concurrent workers")
	productID := flag.String("product", "sku-1", "product id to order")
	quantity := flag.Int("qty", 1, "quantity per order line")
	coupon := flag.String("coupon", "", "coupon code")
	outPath := flag.String("out", "", "write JSON result to file")
	flag.Parse()

	baseURL := strings.TrimRight(getenv("FULFILLMENT_BASE_URL", "http://localhost:8080"), "/")
	client := &http.Client{Timeout: 10 * time.Second}
	m := newMetrics()

	start := time.Now()
	runCheckouts(baseURL, client, m, *requests, *concurrency, *productID, int32(*quantity), *coupon)
	elapsed := time.Since(start)

	result := buildResult(baseURL, *scenario, *requests, *concurrency, m, elapsed)

	if *scenario == "bulk-ship" && len(m.orderIDs) > 0 {
		jobID, jobDur, jobFailures, err := runBulkShip(baseURL, client, m.orderIDs)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bulk-ship error:", err)
		} else {
			result.JobID = jobID
			result.JobDurationSeconds = jobDur.Seconds()
			result.JobFailures = jobFailures
		}
	}

	data, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(data))
	if *outPath != "" {
		if err := os.WriteFile(*outPath, data, 0o644); err != nil {
			fmt.Fprintln(os.Stderr, "write error:", err)
			os.Exit(1)
		}
	}
}

func runCheckouts(baseURL string, client *http.Client, m *metrics, requests, concurrency int, productID string, quantity int32, coupon string) {
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				payload := map[string]any{
					"customer_name":  "bench",
					"customer_email": "bench@example.com",
					"coupon_code":    coupon,
					"lines": []map[string]any{
						{"product_id": productID, "quantity": quantity},
					},
				}
				start := time.Now()
				status, body, err := postJSON(client, baseURL+"/checkout", payload)
				latency := time.Since(start)
				class := ""
				orderID := ""
				if err == nil {
					if status >= 200 && status < 300 {
						orderID = parseOrderID(body)
					} else if status == http.StatusConflict {
						class = "insufficient_stock"
					} else if status == http.StatusBadRequest {
						class = "invalid_input"
					} else if status == http.StatusNotFound {
						class = "product_not_found"
					} else {
						err = fmt.Errorf("status %d: %s", status, body)
					}
				}
				m.record(latency, status, class, orderID, err)
			}
		}()
	}
	for i := 0; i < requests; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
}

func runBulkShip(baseURL string, client *http.Client, orderIDs []string) (string, time.Duration, int, error) {
	payload := map[string]any{"order_ids": orderIDs}
	status, body, err := postJSON(client, baseURL+"/jobs/ship", payload)
	if err != nil {
		return "", 0, 0, err
	}
	if status != http.StatusAccepted {
		return "", 0, 0, fmt.Errorf("status %d: %s", status, body)
	}
	var accepted struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal([]byte(body), &accepted); err != nil {
		return "", 0, 0, err
	}

	start := time.Now()
	deadline := time.Now().Add(5 * time.Minute)
	for time.Now().Before(deadline) {
		time.Sleep(200 * time.Millisecond)
		var job struct {
			State    string `json:"state"`
			Failures int    `json:"failures"`
		}
		if err := getJSON(client, baseURL+"/jobs/"+accepted.JobID, &job); err != nil {
			return accepted.JobID, 0, 0, err
		}
		if job.State == "COMPLETED" || job.State == "FAILED" {
			return accepted.JobID, time.Since(start), job.Failures, nil
		}
	}
	return accepted.JobID, 0, 0, fmt.Errorf("job %s did not finish in time", accepted.JobID)
}

func buildResult(baseURL, scenario string, requests, concurrency int, m *metrics, elapsed time.Duration) benchResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	avg := 0.0
	if m.success > 0 {
		avg = float64(m.total.Milliseconds()) / float64(m.success)
	}
	p50, p90, p95, p99 := calcPercentiles(m.latenciesMs)

	return benchResult{
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
		BaseURL:            baseURL,
		Scenario:           scenario,
		Requests:           requests,
		Concurrency:        concurrency,
		SuccessfulRequests: m.success,
		RejectedRequests:   m.rejected,
		ErrorRequests:      m.errors,
		DurationSeconds:    elapsed.Seconds(),
		AvgLatencyMs:       avg,
		P50LatencyMs:       p50,
		P90LatencyMs:       p90,
		P95LatencyMs:       p95,
		P99LatencyMs:       p99,
		ThroughputRPS:      float64(requests) / elapsed.Seconds(),
		StatusCounts:       m.statusCounts,
		RejectionClasses:   m.rejectionClasses,
		FirstError:         m.firstError,
	}
}

func postJSON(client *http.Client, url string, payload any) (int, string, error) {
	data, _ := json.Marshal(payload)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())
	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body), nil
}

func getJSON(client *http.Client, url string, v any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return json.Unmarshal(body, v)
}

func parseOrderID(body string) string {
	var out struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return ""
	}
	return out.OrderID
}

func calcPercentiles(values []float64) (float64, float64, float64, float64) {
	if len(values) == 0 {
		return 0, 0, 0, 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return percentile(sorted, 0.50), percentile(sorted, 0.90), percentile(sorted, 0.95), percentile(sorted, 0.99)
}

func percentile(sorted []float64, p float64) float64 {
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}
