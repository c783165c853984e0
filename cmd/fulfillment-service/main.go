package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nazeru/order-fulfillment-go/internal/fulfillment/batch"
	"github.com/nazeru/order-fulfillment-go/internal/fulfillment/checkout"
	"github.com/nazeru/order-fulfillment-go/internal/fulfillment/domain"
	"github.com/nazeru/order-fulfillment-go/internal/fulfillment/postgres"
	"github.com/nazeru/order-fulfillment-go/pkg/contracts"
	"github.com/nazeru/order-fulfillment-go/pkg/idempotency"
	"github.com/nazeru/order-fulfillment-go/pkg/kafka"
	"github.com/nazeru/order-fulfillment-go/pkg/logging"
	"github.com/nazeru/order-fulfillment-go/pkg/metrics"
	"github.com/nazeru/order-fulfillment-go/pkg/outbox"
)

type cfg struct {
	Port               string
	DatabaseURL        string
	KafkaBrokers       string
	EventsTopic        string
	BatchStopOnFailure bool
	OutboxPoll         time.Duration
	WatchdogInterval   time.Duration
	WatchdogMaxAge     time.Duration
}

func readCfg() (cfg, error) {
	db := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if db == "" {
		return cfg{}, errors.New("DATABASE_URL is required")
	}
	stop := strings.ToLower(getenv("BATCH_STOP_ON_FAILURE", "false"))
	outboxMS, _ := strconv.Atoi(getenv("OUTBOX_POLL_MS", "500"))
	wdIntervalS, _ := strconv.Atoi(getenv("JOB_WATCHDOG_INTERVAL_S", "0"))
	wdMaxAgeS, _ := strconv.Atoi(getenv("JOB_WATCHDOG_MAX_AGE_S", "300"))

	return cfg{
		Port:               getenv("PORT", "8080"),
		DatabaseURL:        db,
		KafkaBrokers:       getenv("KAFKA_BROKERS", ""),
		EventsTopic:        getenv("KAFKA_TOPIC", "fulfillment.events"),
		BatchStopOnFailure: stop == "1" || stop == "true" || stop == "yes",
		OutboxPoll:         time.Duration(outboxMS) * time.Millisecond,
		WatchdogInterval:   time.Duration(wdIntervalS) * time.Second,
		WatchdogMaxAge:     time.Duration(wdMaxAgeS) * time.Second,
	}, nil
}

type CheckoutRequest struct {
	CustomerName  string                 `json:"customer_name"`
	CustomerEmail string                 `json:"customer_email"`
	Lines         []checkout.LineRequest `json:"lines"`
	CouponCode    string                 `json:"coupon_code,omitempty"`
}

type OrderLineResponse struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
	Price     string `json:"price"`
}

type OrderResponse struct {
	OrderID       string              `json:"order_id"`
	CustomerName  string              `json:"customer_name"`
	CustomerEmail string              `json:"customer_email"`
	Status        string              `json:"status"`
	Total         string              `json:"total"`
	Lines         []OrderLineResponse `json:"lines,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

type ShipJobRequest struct {
	JobID        string   `json:"job_id,omitempty"`
	OrderIDs     []string `json:"order_ids"`
	TargetStatus string   `json:"target_status,omitempty"`
}

type JobStatusResponse struct {
	JobID     string    `json:"job_id"`
	State     string    `json:"state"`
	Processed int       `json:"processed"`
	Total     int       `json:"total"`
	Failures  int       `json:"failures"`
	UpdatedAt time.Time `json:"updated_at"`
}

func main() {
	cfg, err := readCfg()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect error: %v", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("db ping error: %v", err)
	}

	st := postgres.NewStore(pool, cfg.EventsTopic)
	orchestrator := checkout.NewOrchestrator(st)
	tracker := batch.NewTracker(st)

	srvMetrics := metrics.NewServerMetrics("fulfillment_service")
	checkoutMetrics := metrics.NewCheckoutMetrics()

	kafkaClient := kafka.NewClient(cfg.KafkaBrokers)
	if kafkaClient.Enabled() {
		go relayOutbox(pool, kafkaClient, cfg)
	}
	if cfg.WatchdogInterval > 0 {
		go watchJobs(st, cfg)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "db_error"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("/checkout", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		code := handleCheckout(w, r, st, orchestrator, checkoutMetrics)
		srvMetrics.Requests.WithLabelValues("checkout", strconv.Itoa(code)).Inc()
		srvMetrics.LatencyMS.WithLabelValues("checkout").Observe(float64(time.Since(start).Milliseconds()))
	})

	mux.HandleFunc("/products", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
			return
		}
		products, err := st.ListProducts(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		out := make([]map[string]any, 0, len(products))
		for _, p := range products {
			out = append(out, map[string]any{
				"id": string(p.ID), "name": p.Name, "category": p.Category,
				"price": p.Price.String(), "stock": p.Stock,
			})
		}
		writeJSON(w, http.StatusOK, out)
	})

	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
			return
		}
		orders, err := st.ListOrders(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		out := make([]OrderResponse, 0, len(orders))
		for i := range orders {
			out = append(out, toOrderResponse(&orders[i]))
		}
		writeJSON(w, http.StatusOK, out)
	})

	mux.HandleFunc("/orders/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/orders/")
		if id == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "order id is required"})
			return
		}
		order, err := st.GetOrder(r.Context(), domain.OrderID(id))
		if errors.Is(err, domain.ErrOrderNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "order not found"})
			return
		}
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, toOrderResponse(order))
	})

	mux.HandleFunc("/jobs/ship", func(w http.ResponseWriter, r *http.Request) {
		handleShipJob(w, r, pool, st, tracker, cfg)
	})

	mux.HandleFunc("/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/jobs/")
		if id == "" || id == "ship" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "job id is required"})
			return
		}
		job, err := st.GetJob(r.Context(), domain.JobID(id))
		if errors.Is(err, domain.ErrJobNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "job not found"})
			return
		}
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, JobStatusResponse{
			JobID:     string(job.JobID),
			State:     string(job.State),
			Processed: job.Processed,
			Total:     job.Total,
			Failures:  job.Failures,
			UpdatedAt: job.UpdatedAt,
		})
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("fulfillment-service listening on :%s (BATCH_STOP_ON_FAILURE=%v)", cfg.Port, cfg.BatchStopOnFailure)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http server error: %v", err)
	}
}

func handleCheckout(w http.ResponseWriter, r *http.Request, st *postgres.Store, orchestrator *checkout.Orchestrator, m *metrics.CheckoutMetrics) int {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return http.StatusMethodNotAllowed
	}
	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return http.StatusBadRequest
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	idemKey := idempotency.Key(r)
	if idemKey != "" {
		if existing, err := st.OrderIDByIdempotencyKey(ctx, idemKey); err == nil {
			return replayOrder(ctx, w, st, existing)
		}
	}

	order, err := orchestrator.Checkout(ctx, checkout.Input{
		CustomerName:   req.CustomerName,
		CustomerEmail:  req.CustomerEmail,
		Lines:          req.Lines,
		CouponCode:     req.CouponCode,
		IdempotencyKey: idemKey,
	})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrIdempotencyConflict):
		if existing, qerr := st.OrderIDByIdempotencyKey(ctx, idemKey); qerr == nil {
			return replayOrder(ctx, w, st, existing)
		}
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidInput):
		m.Outcomes.WithLabelValues("invalid_input").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return http.StatusBadRequest
	default:
		var notFound *domain.ProductNotFoundError
		var noStock *domain.InsufficientStockError
		if errors.As(err, &notFound) {
			m.Outcomes.WithLabelValues("product_not_found").Inc()
			writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error(), "product_id": string(notFound.ProductID)})
			return http.StatusNotFound
		}
		if errors.As(err, &noStock) {
			m.Outcomes.WithLabelValues("insufficient_stock").Inc()
			writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "product_id": string(noStock.ProductID)})
			return http.StatusConflict
		}
		m.Outcomes.WithLabelValues("error").Inc()
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return http.StatusInternalServerError
	}

	m.Outcomes.WithLabelValues("ok").Inc()
	logging.Log(logging.Fields{
		Service: "fulfillment-service",
		OrderID: string(order.ID),
		Step:    "checkout",
		Status:  string(order.Status),
	})
	writeJSON(w, http.StatusCreated, toOrderResponse(order))
	return http.StatusCreated
}

func replayOrder(ctx context.Context, w http.ResponseWriter, st *postgres.Store, id domain.OrderID) int {
	order, err := st.GetOrder(ctx, id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return http.StatusInternalServerError
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
	return http.StatusOK
}

func handleShipJob(w http.ResponseWriter, r *http.Request, pool *pgxpool.Pool, st *postgres.Store, tracker *batch.Tracker, cfg cfg) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	var req ShipJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	if len(req.OrderIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "order_ids is required"})
		return
	}
	target := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(req.TargetStatus)))
	if target == "" {
		target = domain.OrderStatusShipped
	}
	if !target.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unknown target_status"})
		return
	}

	jobID := domain.JobID(strings.TrimSpace(req.JobID))
	if jobID == "" {
		jobID = domain.JobID(uuid.NewString())
	}

	orderIDs := make([]domain.OrderID, 0, len(req.OrderIDs))
	for _, id := range req.OrderIDs {
		orderIDs = append(orderIDs, domain.OrderID(id))
	}

	runner := batch.NewRunner(tracker, func(ctx context.Context, id domain.OrderID) error {
		return st.UpdateOrderStatus(ctx, id, target)
	})
	runner.StopOnFailure = cfg.BatchStopOnFailure
	runner.Service = "fulfillment-service"

	// Async fire: status is polled via GET /jobs/{id}.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		res, err := runner.Run(ctx, jobID, orderIDs)
		if err != nil {
			logging.Log(logging.Fields{
				Service: "fulfillment-service", JobID: string(jobID),
				Step: "batch_run", Status: "error", Message: err.Error(),
			})
			return
		}
		emitJobEvent(ctx, pool, cfg.EventsTopic, res)
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": string(jobID),
		"state":  string(domain.JobStateRunning),
		"total":  len(orderIDs),
	})
}

func emitJobEvent(ctx context.Context, pool *pgxpool.Pool, topic string, res *batch.Result) {
	evtType := contracts.EventJobCompleted
	if res.State == domain.JobStateFailed {
		evtType = contracts.EventJobFailed
	}
	evt := contracts.Event{
		EventID:   uuid.NewString(),
		JobID:     string(res.JobID),
		CreatedAt: time.Now().UTC(),
		Type:      evtType,
		Payload: map[string]any{
			"attempted": res.Attempted,
			"failures":  len(res.Failures),
		},
	}
	if err := outbox.InsertEvent(ctx, pool, topic, evt); err != nil {
		logging.Log(logging.Fields{
			Service: "fulfillment-service", JobID: string(res.JobID),
			Step: "outbox", Status: "error", Message: err.Error(),
		})
	}
}

func relayOutbox(pool *pgxpool.Pool, client *kafka.Client, cfg cfg) {
	writer := client.NewWriter(cfg.EventsTopic)
	defer writer.Close()

	for {
		time.Sleep(cfg.OutboxPoll)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		records, err := outbox.FetchPending(ctx, pool, 100)
		if err != nil {
			log.Printf("outbox fetch error: %v", err)
			cancel()
			continue
		}
		for _, rec := range records {
			if err := kafka.PublishJSON(ctx, writer, rec.Key, json.RawMessage(rec.Payload)); err != nil {
				log.Printf("outbox publish error: %v", err)
				break
			}
			if err := outbox.MarkSent(ctx, pool, rec.ID); err != nil {
				log.Printf("outbox mark sent error: %v", err)
				break
			}
		}
		cancel()
	}
}

func watchJobs(st *postgres.Store, cfg cfg) {
	for {
		time.Sleep(cfg.WatchdogInterval)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		n, err := st.FailStuckJobs(ctx, cfg.WatchdogMaxAge)
		cancel()
		if err != nil {
			log.Printf("job watchdog error: %v", err)
			continue
		}
		if n > 0 {
			logging.Log(logging.Fields{
				Service: "fulfillment-service", Step: "watchdog",
				Status: "jobs_failed", Failures: int(n),
			})
		}
	}
}

func toOrderResponse(order *domain.Order) OrderResponse {
	lines := make([]OrderLineResponse, 0, len(order.Lines))
	for _, l := range order.Lines {
		lines = append(lines, OrderLineResponse{
			ProductID: string(l.ProductID),
			Quantity:  l.Quantity,
			Price:     l.Price.String(),
		})
	}
	return OrderResponse{
		OrderID:       string(order.ID),
		CustomerName:  order.CustomerName,
		CustomerEmail: order.CustomerEmail,
		Status:        string(order.Status),
		Total:         order.Total.String(),
		Lines:         lines,
		CreatedAt:     order.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
