// Package vehiclelookup fetches make and model details for UK registrations
// from the UK Vehicle Data API.
package vehiclelookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mcclellann/fleetfinance/pkg/models"
	"go.uber.org/zap"
)

const DefaultBaseURL = "https://uk1.ukvehicledata.co.uk/api/datapackage/VehicleData"

var (
	ErrInvalidRegistration = errors.New("registration number is required")
	ErrNotFound            = errors.New("vehicle not found")
	ErrRateLimited         = errors.New("vehicle lookup rate limited")
	ErrNotConfigured       = errors.New("vehicle lookup API key not configured")
)

// Result is what the register keeps from a lookup.
type Result struct {
	Registration      string `json:"registration"`
	Make              string `json:"make"`
	Model             string `json:"model"`
	Colour            string `json:"colour,omitempty"`
	FuelType          string `json:"fuel_type,omitempty"`
	YearOfManufacture int    `json:"year_of_manufacture,omitempty"`
}

type Options struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// Client looks up vehicles, consulting an optional cache first.
type Client struct {
	baseURL  string
	apiKey   string
	client   *http.Client
	cache    Cache
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewClient creates a lookup client. A nil cache disables caching.
func NewClient(opts Options, cache Cache, logger *zap.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		apiKey:   opts.APIKey,
		client:   &http.Client{Timeout: opts.Timeout},
		cache:    cache,
		cacheTTL: opts.CacheTTL,
		logger:   logger,
	}
}

type vehicleDataResponse struct {
	Response struct {
		StatusCode    string `json:"StatusCode"`
		StatusMessage string `json:"StatusMessage"`
		DataItems     *struct {
			Vrm               string `json:"Vrm"`
			Make              string `json:"Make"`
			Model             string `json:"Model"`
			Colour            string `json:"Colour"`
			FuelType          string `json:"FuelType"`
			YearOfManufacture int    `json:"YearOfManufacture"`
		} `json:"DataItems"`
	} `json:"Response"`
}

// Lookup returns the details registered against a vehicle registration mark.
func (c *Client) Lookup(ctx context.Context, registration string) (*Result, error) {
	reg := models.NormalizeRegistration(registration)
	if reg == "" {
		return nil, ErrInvalidRegistration
	}
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}

	if c.cache != nil {
		cached, ok, err := c.cache.Get(ctx, reg)
		if err != nil {
			c.logger.Warn("vehicle cache read failed", zap.String("op", "vehiclelookup.Lookup"), zap.String("registration", reg), zap.Error(err))
		} else if ok {
			c.logger.Debug("vehicle cache hit", zap.String("op", "vehiclelookup.Lookup"), zap.String("registration", reg))
			return cached, nil
		}
	}

	q := url.Values{}
	q.Set("v", "2")
	q.Set("api_nullitems", "1")
	q.Set("auth_apikey", c.apiKey)
	q.Set("user_tag", "")
	q.Set("key_VRM", reg)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vehicle data request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, reg)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("vehicle data API error (status %d): %s", resp.StatusCode, string(body))
	}

	var data vehicleDataResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if data.Response.StatusCode != "Success" || data.Response.DataItems == nil {
		msg := data.Response.StatusMessage
		if msg == "" {
			msg = "vehicle data not available"
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrNotFound, reg, msg)
	}

	items := data.Response.DataItems
	result := &Result{
		Registration:      models.NormalizeRegistration(items.Vrm),
		Make:              items.Make,
		Model:             items.Model,
		Colour:            items.Colour,
		FuelType:          items.FuelType,
		YearOfManufacture: items.YearOfManufacture,
	}
	if result.Registration == "" {
		result.Registration = reg
	}
	if result.Make == "" {
		result.Make = "Unknown"
	}
	if result.Model == "" {
		result.Model = "Unknown"
	}

	c.logger.Info("looked up vehicle",
		zap.String("op", "vehiclelookup.Lookup"),
		zap.String("registration", reg),
		zap.String("make", result.Make),
	)
	if c.cache != nil {
		if err := c.cache.Set(ctx, reg, result, c.cacheTTL); err != nil {
			c.logger.Warn("vehicle cache write failed", zap.String("op", "vehiclelookup.Lookup"), zap.String("registration", reg), zap.Error(err))
		}
	}
	return result, nil
}
