package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultORSBaseURL = "https://api.openrouteservice.org"

// ORS is the OpenRouteService HTTP client. It needs an API key, so it only
// participates when one is configured, in which case it is preferred over
// the keyless primary.
type ORS struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewORS builds an ORS client (empty baseURL = public API).
func NewORS(baseURL, apiKey string, timeout time.Duration) *ORS {
	if baseURL == "" {
		baseURL = defaultORSBaseURL
	}
	return &ORS{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (o *ORS) Name() string { return "ors" }

type orsRequest struct {
	Coordinates [][2]float64 `json:"coordinates"`
}

type orsResponse struct {
	Routes []struct {
		Summary struct {
			Distance float64 `json:"distance"` // metres
			Duration float64 `json:"duration"` // seconds
		} `json:"summary"`
	} `json:"routes"`
}

// Route queries the ORS directions endpoint with the heavy-goods profile.
// ORS orders coordinates lon,lat.
func (o *ORS) Route(ctx context.Context, origin, destination Coordinate) (*Estimate, error) {
	payload, err := json.Marshal(orsRequest{
		Coordinates: [][2]float64{
			{origin.Lon, origin.Lat},
			{destination.Lon, destination.Lat},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode ors request: %w", err)
	}
	url := o.baseURL + "/v2/directions/driving-hgv"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build ors request: %w", err)
	}
	req.Header.Set("Authorization", o.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, Transient(fmt.Errorf("ors request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, Transient(fmt.Errorf("ors returned %s", resp.Status))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ors returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, Transient(fmt.Errorf("failed to read ors response: %w", err))
	}
	var parsed orsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("invalid ors response: %w", err)
	}
	if len(parsed.Routes) == 0 {
		return nil, fmt.Errorf("ors found no route")
	}
	return &Estimate{
		DistanceKM:      parsed.Routes[0].Summary.Distance / 1000.0,
		DurationMinutes: parsed.Routes[0].Summary.Duration / 60.0,
	}, nil
}
