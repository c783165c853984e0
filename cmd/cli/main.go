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
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
)

type scenario struct {
	Name        string
	Description string
}

type model struct {
	scenarios   []scenario
	selectedScn int
	status      string
	job         *jobProgress
	busy        bool
}

type jobProgress struct {
	JobID     string `json:"job_id"`
	State     string `json:"state"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Failures  int    `json:"failures"`
}

func initialModel() model {
	return model{
		scenarios: []scenario{
			{"checkout", "Place a demo order"},
			{"checkout-sale", "Place a demo order with a SALE coupon"},
			{"bulk-ship", "Run a bulk-ship job and watch its progress"},
		},
		status: "Ready",
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up":
			if m.selectedScn > 0 {
				m.selectedScn--
			}
		case "down":
			if m.selectedScn < len(m.scenarios)-1 {
				m.selectedScn++
			}
		case "enter":
			if m.busy {
				return m, nil
			}
			m.busy = true
			m.job = nil
			m.status = "Running..."
			return m, runScenarioCmd(m.scenarios[m.selectedScn].Name)
		}
	case scenarioResult:
		m.busy = false
		m.status = msg.status
		if msg.jobID != "" {
			m.busy = true
			return m, pollJobCmd(msg.jobID)
		}
	case jobProgressMsg:
		m.job = &msg.progress
		if msg.err != nil {
			m.busy = false
			m.status = fmt.Sprintf("Job poll failed: %v", msg.err)
			return m, nil
		}
		if msg.progress.State == "COMPLETED" || msg.progress.State == "FAILED" {
			m.busy = false
			m.status = fmt.Sprintf("Job %s: %s (failures=%d)", msg.progress.JobID, msg.progress.State, msg.progress.Failures)
			return m, nil
		}
		return m, pollJobCmd(msg.progress.JobID)
	}
	return m, nil
}

func (m model) View() string {
	b := &strings.Builder{}
	fmt.Fprintln(b, "order-fulfillment-go CLI")
	fmt.Fprintln(b, "")
	fmt.Fprintln(b, "Scenarios:")
	for i, scn := range m.scenarios {
		marker := " "
		if i == m.selectedScn {
			marker = ">"
		}
		fmt.Fprintf(b, " %s %s - %s\n", marker, scn.Name, scn.Description)
	}
	fmt.Fprintln(b, "")
	fmt.Fprintf(b, "Status: %s\n", m.status)
	if m.job != nil {
		fmt.Fprintf(b, "Job %s: %s %s (%d/%d, failures=%d)\n",
			m.job.JobID, m.job.State, progressBar(m.job.Processed, m.job.Total),
			m.job.Processed, m.job.Total, m.job.Failures)
	}
	fmt.Fprintln(b, "\nControls: up/down select scenario, enter to run, q to quit")
	return b.String()
}

func progressBar(processed, total int) string {
	const width = 20
	if total <= 0 {
		return "[" + strings.Repeat(" ", width) + "]"
	}
	filled := processed * width / total
	if filled > width {
		filled = width
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat(" ", width-filled) + "]"
}

type scenarioResult struct {
	status string
	jobID  string
}

type jobProgressMsg struct {
	progress jobProgress
	err      error
}

func runScenarioCmd(scn string) tea.Cmd {
	return func() tea.Msg {
		baseURL := getenv("FULFILLMENT_BASE_URL", "http://localhost:8080")
		switch scn {
		case "bulk-ship":
			jobID, total, err := startBulkShip(baseURL)
			if err != nil {
				return scenarioResult{status: fmt.Sprintf("Bulk ship failed: %v", err)}
			}
			return scenarioResult{status: fmt.Sprintf("Job %s started over %d orders", jobID, total), jobID: jobID}
		case "checkout-sale":
			resp, err := doCheckout(baseURL, "SALE10")
			if err != nil {
				return scenarioResult{status: fmt.Sprintf("Checkout failed: %v", err)}
			}
			return scenarioResult{status: fmt.Sprintf("Checkout OK: %s", resp)}
		default:
			resp, err := doCheckout(baseURL, "")
			if err != nil {
				return scenarioResult{status: fmt.Sprintf("Checkout failed: %v", err)}
			}
			return scenarioResult{status: fmt.Sprintf("Checkout OK: %s", resp)}
		}
	}
}

func pollJobCmd(jobID string) tea.Cmd {
	return tea.Tick(300*time.Millisecond, func(time.Time) tea.Msg {
		baseURL := getenv("FULFILLMENT_BASE_URL", "http://localhost:8080")
		var progress jobProgress
		err := getJSON(baseURL+"/jobs/"+jobID, &progress)
		return jobProgressMsg{progress: progress, err: err}
	})
}

func doCheckout(baseURL, coupon string) (string, error) {
	payload := map[string]any{
		"customer_name":  "cli-demo",
		"customer_email": "cli@example.com",
		"coupon_code":    coupon,
		"lines":          []map[string]any{{"product_id": "sku-1", "quantity": 1}},
	}
	data, _ := json.Marshal(payload)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := strings.TrimRight(baseURL, "/") + "/checkout"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return string(body), nil
}

func startBulkShip(baseURL string) (string, int, error) {
	var orders []struct {
		OrderID string `json:"order_id"`
	}
	if err := getJSON(strings.TrimRight(baseURL, "/")+"/orders", &orders); err != nil {
		return "", 0, err
	}
	if len(orders) == 0 {
		return "", 0, fmt.Errorf("no orders to ship; run a checkout first")
	}
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.OrderID)
	}

	payload := map[string]any{"order_ids": ids}
	data, _ := json.Marshal(payload)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/jobs/ship", bytes.NewReader(data))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		return "", 0, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	var out struct {
		JobID string `json:"job_id"`
		Total int    `json:"total"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", 0, err
	}
	return out.JobID, out.Total, nil
}

func getJSON(url string, v any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
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

func main() {
	runCmd := flag.String("run", "", "run scenario: checkout|checkout-sale|bulk-ship")
	flag.Parse()

	if *runCmd != "" {
		res := runScenarioCmd(*runCmd)().(scenarioResult)
		fmt.Println(res.status)
		if res.jobID != "" {
			waitForJob(res.jobID)
		}
		return
	}

	p := tea.NewProgram(initialModel())
	if _, err := p.Run(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func waitForJob(jobID string) {
	baseURL := getenv("FULFILLMENT_BASE_URL", "http://localhost:8080")
	for {
		time.Sleep(300 * time.Millisecond)
		var progress jobProgress
		if err := getJSON(baseURL+"/jobs/"+jobID, &progress); err != nil {
			fmt.Println("poll error:", err)
			return
		}
		fmt.Printf("%s %d/%d failures=%d\n", progress.State, progress.Processed, progress.Total, progress.Failures)
		if progress.State == "COMPLETED" || progress.State == "FAILED" {
			return
		}
	}
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
