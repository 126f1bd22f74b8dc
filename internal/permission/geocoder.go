package permission

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/user/roshambo/config"
)

// UnknownCity is reported when coordinates cannot be turned into a place name
const UnknownCity = "your location"

// Geocoder resolves coordinates to a city through a Nominatim-compatible endpoint
type Geocoder struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

// NewGeocoder creates a geocoder from configuration
func NewGeocoder(cfg config.GeocoderConfig) *Geocoder {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Geocoder{
		baseURL:   cfg.BaseURL,
		userAgent: cfg.UserAgent,
		client:    &http.Client{Timeout: timeout},
	}
}

type reverseResponse struct {
	Address struct {
		City    string `json:"city"`
		Town    string `json:"town"`
		Village string `json:"village"`
		County  string `json:"county"`
	} `json:"address"`
}

// City returns the most specific place name for the coordinates.
// A response without any place name yields UnknownCity and no error.
func (g *Geocoder) City(ctx context.Context, latitude, longitude float64) (string, error) {
	endpoint, err := url.Parse(g.baseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse geocoder url: %w", err)
	}
	query := endpoint.Query()
	query.Set("lat", strconv.FormatFloat(latitude, 'f', -1, 64))
	query.Set("lon", strconv.FormatFloat(longitude, 'f', -1, 64))
	query.Set("format", "json")
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build geocoder request: %w", err)
	}
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach geocoder: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geocoder returned status %d", resp.StatusCode)
	}

	var body reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode geocoder response: %w", err)
	}

	for _, name := range []string{body.Address.City, body.Address.Town, body.Address.Village, body.Address.County} {
		if name != "" {
			return name, nil
		}
	}
	return UnknownCity, nil
}
