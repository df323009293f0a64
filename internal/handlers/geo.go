package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const geoLookupTimeout = 3 * time.Second

// Geolocator resolves an IP address to coarse location metadata using the
// ip-api.com JSON endpoint. Lookups are best effort; every failure path
// returns an error the caller is expected to ignore.
type Geolocator struct {
	baseURL string
	client  *http.Client
}

// NewGeolocator creates a Geolocator. An empty baseURL uses ip-api.com.
func NewGeolocator(baseURL string) *Geolocator {
	if baseURL == "" {
		baseURL = "http://ip-api.com/json"
	}
	return &Geolocator{
		baseURL: baseURL,
		client:  &http.Client{Timeout: geoLookupTimeout},
	}
}

type geoResponse struct {
	Status  string `json:"status"`
	Country string `json:"country"`
	Region  string `json:"regionName"`
	City    string `json:"city"`
}

// Lookup returns location metadata for an IP. Private and unroutable
// addresses come back with a non-success status and are reported as errors.
func (g *Geolocator) Lookup(ctx context.Context, ip string) (map[string]any, error) {
	if ip == "" {
		return nil, fmt.Errorf("ip is empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/"+ip, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geolocation lookup returned %d", resp.StatusCode)
	}
	var body geoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if body.Status != "success" {
		return nil, fmt.Errorf("geolocation lookup failed for %s", ip)
	}
	meta := map[string]any{"ip": ip}
	if body.Country != "" {
		meta["country"] = body.Country
	}
	if body.Region != "" {
		meta["region"] = body.Region
	}
	if body.City != "" {
		meta["city"] = body.City
	}
	return meta, nil
}
