// Package prometheus fetches live node usage from the Prometheus HTTP API
// so the scheduler can refresh node load between worker heartbeats.
package prometheus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/buildnet/build-scheduler/internal/core/domain"
	"github.com/buildnet/build-scheduler/internal/core/port"
)

type metricsSource struct {
	prometheusURL string
	client        *http.Client
	log           *zap.Logger
}

// NewMetricsSource creates a Prometheus-backed metrics source.
func NewMetricsSource(promURL string, log *zap.Logger) port.MetricsSource {
	return &metricsSource{
		prometheusURL: promURL,
		client:        &http.Client{Timeout: 5 * time.Second},
		log:           log,
	}
}

// Prometheus API response structure
type prometheusResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Metric map[string]string `json:"metric"`
			Value  interface{}       `json:"value"`
		} `json:"result"`
	} `json:"data"`
	Error     string `json:"error"`
	ErrorType string `json:"errorType"`
}

func (s *metricsSource) NodeMetrics(ctx context.Context, nodeID string) (float64, float64, error) {
	cpuQuery := fmt.Sprintf(`100 - (avg by (instance) (rate(node_cpu_seconds_total{mode="idle",instance="%s"}[1m])) * 100)`, nodeID)
	cpuUsage, err := s.query(ctx, cpuQuery)
	if err != nil {
		return 0, 0, fmt.Errorf("cpu query for %s: %w", nodeID, err)
	}

	memQuery := fmt.Sprintf(`node_memory_MemTotal_bytes{instance="%s"} - node_memory_MemAvailable_bytes{instance="%s"}`, nodeID, nodeID)
	memUsage, err := s.query(ctx, memQuery)
	if err != nil {
		return 0, 0, fmt.Errorf("memory query for %s: %w", nodeID, err)
	}

	// bytes to GB
	return cpuUsage, memUsage / 1024 / 1024 / 1024, nil
}

func (s *metricsSource) AllNodeMetrics(ctx context.Context) (map[string]domain.NodeMetrics, error) {
	cpuByNode, err := s.queryVector(ctx, `100 - (avg by (instance) (rate(node_cpu_seconds_total{mode="idle"}[1m])) * 100)`)
	if err != nil {
		return nil, fmt.Errorf("batch cpu query: %w", err)
	}
	memByNode, err := s.queryVector(ctx, `(node_memory_MemTotal_bytes - node_memory_MemAvailable_bytes) / 1024 / 1024 / 1024`)
	if err != nil {
		return nil, fmt.Errorf("batch memory query: %w", err)
	}

	metrics := make(map[string]domain.NodeMetrics, len(cpuByNode))
	for instance, cpu := range cpuByNode {
		metrics[instance] = domain.NodeMetrics{
			CPUUsage: cpu,
			MemUsage: memByNode[instance],
		}
	}
	return metrics, nil
}

// query runs a query expected to return a single sample.
func (s *metricsSource) query(ctx context.Context, query string) (float64, error) {
	result, err := s.fetch(ctx, query)
	if err != nil {
		return 0, err
	}
	if len(result.Data.Result) == 0 {
		return 0, fmt.Errorf("no data returned for query: %s", query)
	}
	return parseSampleValue(result.Data.Result[0].Value)
}

// queryVector runs a query returning one sample per instance label.
func (s *metricsSource) queryVector(ctx context.Context, query string) (map[string]float64, error) {
	result, err := s.fetch(ctx, query)
	if err != nil {
		return nil, err
	}

	values := make(map[string]float64, len(result.Data.Result))
	for _, sample := range result.Data.Result {
		instance := sample.Metric["instance"]
		if instance == "" {
			continue
		}
		v, err := parseSampleValue(sample.Value)
		if err != nil {
			s.log.Warn("skipping unparseable sample", zap.String("instance", instance), zap.Error(err))
			continue
		}
		values[instance] = v
	}
	return values, nil
}

func (s *metricsSource) fetch(ctx context.Context, query string) (*prometheusResponse, error) {
	reqURL := fmt.Sprintf("%s/api/v1/query?query=%s", s.prometheusURL, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("prometheus returned status %d: %s", resp.StatusCode, string(body))
	}

	var result prometheusResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("JSON decode failed: %w", err)
	}
	if result.Status != "success" {
		return nil, fmt.Errorf("prometheus error: %s (%s)", result.Error, result.ErrorType)
	}
	return &result, nil
}

// parseSampleValue handles both the standard [timestamp, "value"] pair and
// bare number/string forms some proxies emit.
func parseSampleValue(value interface{}) (float64, error) {
	switch v := value.(type) {
	case []interface{}:
		if len(v) < 2 {
			return 0, fmt.Errorf("unexpected value array length: %d", len(v))
		}
		switch raw := v[1].(type) {
		case string:
			return strconv.ParseFloat(raw, 64)
		case float64:
			return raw, nil
		default:
			return 0, fmt.Errorf("unexpected value type in array: %T", raw)
		}
	case float64:
		return v, nil
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return 0, fmt.Errorf("unexpected value format: %T (%v)", value, value)
	}
}
