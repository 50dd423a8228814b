package client

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	prommodel "github.com/prometheus/common/model"
)

// PrometheusClient queries a Prometheus server that scrapes netguard, for
// metric history beyond what the process keeps in memory.
type PrometheusClient struct {
	client  v1.API
	url     string
	timeout time.Duration
}

// Point is one sample of a range query.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// Series is one labelled result of a range query.
type Series struct {
	Labels map[string]string `json:"labels"`
	Points []Point           `json:"points"`
}

// NewPrometheusClient creates a new Prometheus client
func NewPrometheusClient(url string, timeout time.Duration) (*PrometheusClient, error) {
	promClient, err := api.NewClient(api.Config{
		Address: url,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &PrometheusClient{
		client:  v1.NewAPI(promClient),
		url:     url,
		timeout: timeout,
	}, nil
}

func (p *PrometheusClient) URL() string {
	return p.url
}

// RangeSeries runs a range query and flattens the matrix result.
func (p *PrometheusClient) RangeSeries(ctx context.Context, query string, start, end time.Time, step time.Duration) ([]Series, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result, _, err := p.client.QueryRange(ctx, query, v1.Range{Start: start, End: end, Step: step})
	if err != nil {
		return nil, fmt.Errorf("prometheus range query failed: %w", err)
	}

	matrix, ok := result.(prommodel.Matrix)
	if !ok {
		return nil, fmt.Errorf("unexpected prometheus result type %s", result.Type())
	}

	series := make([]Series, 0, len(matrix))
	for _, stream := range matrix {
		s := Series{
			Labels: make(map[string]string, len(stream.Metric)),
			Points: make([]Point, 0, len(stream.Values)),
		}
		for name, value := range stream.Metric {
			s.Labels[string(name)] = string(value)
		}
		for _, sample := range stream.Values {
			s.Points = append(s.Points, Point{Time: sample.Timestamp.Time(), Value: float64(sample.Value)})
		}
		series = append(series, s)
	}
	sort.Slice(series, func(i, j int) bool {
		return prommodel.LabelsToSignature(series[i].Labels) < prommodel.LabelsToSignature(series[j].Labels)
	})
	return series, nil
}
