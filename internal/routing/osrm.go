package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultOSRMBaseURL = "https://router.project-osrm.org"

// OSRM is the Open Source Routing Machine HTTP client. The public demo
// server needs no credentials, which makes OSRM the default primary
// provider.
type OSRM struct {
	baseURL string
	client  *http.Client
}

// NewOSRM builds an OSRM client against baseURL (empty = public demo
// server) with the given request timeout.
func NewOSRM(baseURL string, timeout time.Duration) *OSRM {
	if baseURL == "" {
		baseURL = defaultOSRMBaseURL
	}
	return &OSRM{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (o *OSRM) Name() string { return "osrm" }

type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Distance float64 `json:"distance"` // metres
		Duration float64 `json:"duration"` // seconds
	} `json:"routes"`
}

// Route queries the OSRM route service with the driving profile. OSRM
// orders coordinates lon,lat.
func (o *OSRM) Route(ctx context.Context, origin, destination Coordinate) (*Estimate, error) {
	url := fmt.Sprintf("%s/route/v1/driving/%f,%f;%f,%f?overview=false",
		o.baseURL, origin.Lon, origin.Lat, destination.Lon, destination.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build osrm request: %w", err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, Transient(fmt.Errorf("osrm request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, Transient(fmt.Errorf("osrm returned %s", resp.Status))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("osrm returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, Transient(fmt.Errorf("failed to read osrm response: %w", err))
	}
	var parsed osrmResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("invalid osrm response: %w", err)
	}
	if parsed.Code != "Ok" || len(parsed.Routes) == 0 {
		return nil, fmt.Errorf("osrm found no route (code %q)", parsed.Code)
	}
	return &Estimate{
		DistanceKM:      parsed.Routes[0].Distance / 1000.0,
		DurationMinutes: parsed.Routes[0].Duration / 60.0,
	}, nil
}
