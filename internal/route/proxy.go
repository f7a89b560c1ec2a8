// Package route proxies directions requests to OpenRouteService so the API
// key never reaches the browser. Successful answers are cached in memory.
package route

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"backend-geotrack/internal/logging"

	"github.com/gofiber/fiber/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultProfile  = "driving-car"
	upstreamTimeout = 10 * time.Second
)

var profiles = map[string]struct{}{
	"driving-car":      {},
	"driving-hgv":      {},
	"cycling-regular":  {},
	"cycling-road":     {},
	"cycling-mountain": {},
	"cycling-electric": {},
	"foot-walking":     {},
	"foot-hiking":      {},
	"wheelchair":       {},
}

var (
	ErrInvalidRequest = errors.New("invalid route request")
	ErrUnavailable    = errors.New("routing service unavailable")
)

// UpstreamError carries a non-200 status returned by the routing service.
type UpstreamError struct {
	Status int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("routing service returned %d", e.Status)
}

// Request is a two-point directions query. Coordinates are [lng, lat] pairs
// kept as json.Number so they are forwarded and keyed exactly as sent.
type Request struct {
	Coordinates [][]json.Number `json:"coordinates"`
	Profile     string          `json:"profile"`
}

func (r *Request) normalize() error {
	if r.Profile == "" {
		r.Profile = DefaultProfile
	}
	if _, ok := profiles[r.Profile]; !ok {
		return fmt.Errorf("unknown profile %q: %w", r.Profile, ErrInvalidRequest)
	}
	if len(r.Coordinates) != 2 {
		return fmt.Errorf("exactly two coordinate pairs required: %w", ErrInvalidRequest)
	}
	for _, pair := range r.Coordinates {
		if len(pair) != 2 {
			return fmt.Errorf("coordinates must be [lng, lat] pairs: %w", ErrInvalidRequest)
		}
	}
	return nil
}

func (r Request) cacheKey() string {
	a, b := r.Coordinates[0], r.Coordinates[1]
	return strings.Join([]string{"route", r.Profile, a[0].String(), a[1].String(), b[0].String(), b[1].String()}, "_")
}

type Cache = expirable.LRU[string, []byte]

func NewCache(size int, ttl time.Duration) *Cache {
	return expirable.NewLRU[string, []byte](size, nil, ttl)
}

type Proxy struct {
	baseURL string
	apiKey  string
	cache   *Cache
	log     *slog.Logger
}

func NewProxy(baseURL, apiKey string, cache *Cache, log *slog.Logger) *Proxy {
	if log == nil {
		log = logging.Discard()
	}
	return &Proxy{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		cache:   cache,
		log:     log,
	}
}

// Directions returns the GeoJSON route body for req, from cache when fresh.
func (p *Proxy) Directions(req Request) ([]byte, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	key := req.cacheKey()
	if body, ok := p.cache.Get(key); ok {
		return body, nil
	}

	agent := fiber.Post(p.baseURL + "/v2/directions/" + req.Profile + "/geojson")
	agent.Set(fiber.HeaderAuthorization, p.apiKey)
	agent.JSON(fiber.Map{"coordinates": req.Coordinates})
	agent.Timeout(upstreamTimeout)
	if err := agent.Parse(); err != nil {
		fiber.ReleaseAgent(agent)
		return nil, fmt.Errorf("build upstream request: %w", err)
	}

	status, body, errs := agent.Bytes()
	if len(errs) > 0 {
		p.log.Warn("routing service request failed", "profile", req.Profile, "error", errors.Join(errs...))
		return nil, ErrUnavailable
	}
	if status != fiber.StatusOK {
		p.log.Warn("routing service error", "profile", req.Profile, "status", status)
		return nil, &UpstreamError{Status: status}
	}

	p.cache.Add(key, body)
	return body, nil
}
