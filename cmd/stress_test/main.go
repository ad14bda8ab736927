package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	maxAttempts = 6
	baseBackoff = 20 * time.Millisecond
)

type orderResult int

const (
	resultPlaced orderResult = iota
	resultSoldOut
	resultFailed
)

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type medicineBody struct {
	ID       int64  `json:"id"`
	Quantity *int64 `json:"quantity"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "server base URL")
	stock := flag.Int64("stock", 20, "initial stock of the test medicine")
	requests := flag.Int("requests", 50, "number of single-unit orders to place")
	concurrency := flag.Int("concurrency", 50, "maximum in-flight requests")
	flag.Parse()

	ctx := context.Background()
	client := &http.Client{Timeout: 30 * time.Second}

	medID, err := registerMedicine(ctx, client, *baseURL, *stock)
	if err != nil {
		log.Fatalf("failed to register medicine: %v", err)
	}
	log.Printf("registered medicine %d with stock %d", medID, *stock)

	var placed, soldOut, failed, retries atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*concurrency)
	start := time.Now()

	for i := 0; i < *requests; i++ {
		g.Go(func() error {
			res, attempts := placeWithRetry(gctx, client, *baseURL, medID)
			retries.Add(int64(attempts - 1))
			switch res {
			case resultPlaced:
				placed.Add(1)
			case resultSoldOut:
				soldOut.Add(1)
			default:
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	elapsed := time.Since(start)

	remaining, err := remainingStock(ctx, client, *baseURL, medID)
	if err != nil {
		log.Fatalf("failed to read stock: %v", err)
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", *stock)
	fmt.Printf("Total Requests:   %d\n", *requests)
	fmt.Printf("Placed:           %d\n", placed.Load())
	fmt.Printf("Sold Out:         %d\n", soldOut.Load())
	fmt.Printf("Failed:           %d\n", failed.Load())
	fmt.Printf("Retries:          %d\n", retries.Load())
	fmt.Printf("Final Stock:      %d\n", remaining)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	ok := true
	if placed.Load() > *stock {
		fmt.Printf("FAIL: oversold, %d orders placed against stock %d\n", placed.Load(), *stock)
		ok = false
	}
	if remaining != *stock-placed.Load() {
		fmt.Printf("FAIL: expected stock %d, got %d\n", *stock-placed.Load(), remaining)
		ok = false
	}
	if remaining < 0 {
		fmt.Printf("FAIL: negative stock %d\n", remaining)
		ok = false
	}
	if !ok {
		os.Exit(1)
	}
	fmt.Println("PASS: no oversell, stock matches placed orders")
}

func registerMedicine(ctx context.Context, client *http.Client, baseURL string, stock int64) (int64, error) {
	body := map[string]any{
		"name":             "stress-" + uuid.NewString()[:8],
		"form":             "Tablet",
		"strength":         "1mg",
		"unit_price":       "1.00",
		"initial_quantity": stock,
	}
	resp, err := postJSON(ctx, client, baseURL+"/api/inventory/medicine", body, "")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var med medicineBody
	if err := json.NewDecoder(resp.Body).Decode(&med); err != nil {
		return 0, err
	}
	return med.ID, nil
}

// placeWithRetry retries retryable rejections with exponential backoff under the same request id.
func placeWithRetry(ctx context.Context, client *http.Client, baseURL string, medID int64) (orderResult, int) {
	requestID := uuid.NewString()
	body := map[string]any{
		"items":      []int64{medID},
		"quantities": []int64{1},
	}
	backoff := baseBackoff
	for attempt := 1; ; attempt++ {
		resp, err := postJSON(ctx, client, baseURL+"/api/orders", body, requestID)
		if err != nil {
			log.Printf("request %s: %v", requestID, err)
			return resultFailed, attempt
		}
		var eb errorBody
		if resp.StatusCode != http.StatusCreated {
			_ = json.NewDecoder(resp.Body).Decode(&eb)
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusCreated:
			return resultPlaced, attempt
		case eb.Code == "insufficient_stock":
			return resultSoldOut, attempt
		case eb.Retryable && attempt < maxAttempts:
			select {
			case <-ctx.Done():
				return resultFailed, attempt
			case <-time.After(backoff):
			}
			backoff *= 2
		default:
			log.Printf("request %s: status %d code %s: %s", requestID, resp.StatusCode, eb.Code, eb.Message)
			return resultFailed, attempt
		}
	}
}

func remainingStock(ctx context.Context, client *http.Client, baseURL string, medID int64) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/inventory?include_inactive=true", nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	var items []medicineBody
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return 0, err
	}
	for _, it := range items {
		if it.ID == medID && it.Quantity != nil {
			return *it.Quantity, nil
		}
	}
	return 0, fmt.Errorf("medicine %d not listed", medID)
}

func postJSON(ctx context.Context, client *http.Client, url string, body any, idempotencyKey string) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor", "stress-test")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	return client.Do(req)
}
