package edge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"road-telemetry/internal/telemetry"
)

// ErrRejected: store dávku odmítl (4xx), opakování nepomůže.
var ErrRejected = errors.New("store odmítl dávku")

// StoreClient volá ingestion endpoint telemetry-store.
type StoreClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewStoreClient - http.Client má vždy timeout, jinak by hub při zaseknutém store visel.
func NewStoreClient(baseURL string, timeout time.Duration) *StoreClient {
	return &StoreClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type ingestResponse struct {
	Status   string `json:"status"`
	Inserted int    `json:"inserted"`
}

// PostBatch pošle dávku na POST /processed_agent_data/ a vrátí počet uložených řádků.
func (c *StoreClient) PostBatch(ctx context.Context, batch []telemetry.ProcessedAgentData) (int, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/processed_agent_data/", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("chyba sítě při volání store: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("store vrátil status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return 0, fmt.Errorf("%w: %w", ErrRejected, err)
		}
		return 0, err
	}

	var out ingestResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("chyba při parsování odpovědi store: %w", err)
	}
	return out.Inserted, nil
}
