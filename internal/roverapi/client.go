// Package roverapi talks to the remote rover telemetry and command service.
package roverapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"rescuerover/internal/config"
	"rescuerover/internal/model"
)

var (
	// ErrUnavailable is returned once every attempt of a request has failed.
	ErrUnavailable = errors.New("rover api unavailable")
	// ErrRemote wraps an error reported in a response body.
	ErrRemote = errors.New("rover api error")
)

const (
	statusCharging = "charging"
	statusMoving   = "moving"
)

// Status is the normalized /rover/status payload.
type Status struct {
	Status      string      `json:"status"`
	Battery     int         `json:"battery"`
	Coordinates model.Point `json:"coordinates"`
}

type Client struct {
	baseURL   string
	sessionID string
	http      *http.Client
	timeout   time.Duration
	retries   int
	backoff   time.Duration
	battery   config.PowerConfig
	logger    *slog.Logger
}

func New(cfg config.RoverAPIConfig, power config.PowerConfig, logger *slog.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("rover api base_url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("rover api base_url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	return &Client{
		baseURL:   base,
		sessionID: cfg.SessionID,
		http:      &http.Client{},
		timeout:   timeout,
		retries:   retries,
		backoff:   cfg.Backoff,
		battery:   power,
		logger:    logger,
	}, nil
}

// Status fetches and normalizes the rover status. A nearly flat battery
// starts charging and a recharged one stops it; the returned status
// reflects that.
func (c *Client) Status(ctx context.Context) (Status, error) {
	data, err := c.do(ctx, http.MethodGet, "status", nil)
	if err != nil {
		return Status{}, err
	}
	st := Status{Status: "idle", Battery: 100, Coordinates: model.Point{0, 0}}
	if v, ok := data["status"].(string); ok && v != "" {
		st.Status = v
	}
	if v, ok := data["battery"]; ok {
		b, err := toInt(v)
		if err != nil {
			return Status{}, fmt.Errorf("battery: %w", err)
		}
		st.Battery = b
	}
	if v, ok := data["coordinates"].([]any); ok && len(v) >= 2 {
		x, errX := toFloat(v[0])
		y, errY := toFloat(v[1])
		if errX == nil && errY == nil {
			st.Coordinates = model.Point{x, y}
		}
	}

	switch {
	case float64(st.Battery) <= c.battery.RechargeStart && st.Status != statusCharging:
		if err := c.Charge(ctx); err != nil && c.logger != nil {
			c.logger.Warn("start charging failed", "battery", st.Battery, "err", err)
		}
		st.Status = statusCharging
	case float64(st.Battery) >= c.battery.RechargeStop && st.Status == statusCharging:
		if err := c.Stop(ctx); err != nil && c.logger != nil {
			c.logger.Warn("stop charging failed", "battery", st.Battery, "err", err)
		}
		st.Status = statusMoving
	}
	return st, nil
}

func (c *Client) Move(ctx context.Context, direction string) error {
	params := url.Values{}
	params.Set("direction", strings.ToLower(direction))
	_, err := c.do(ctx, http.MethodPost, "move", params)
	return err
}

func (c *Client) Stop(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "stop", nil)
	return err
}

func (c *Client) Charge(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "charge", nil)
	return err
}

// Dispatch forwards a core command. Commands the service has no verb for
// are ignored.
func (c *Client) Dispatch(ctx context.Context, _ string, cmd model.Command) error {
	switch cmd.Command {
	case model.CommandMove:
		return c.Move(ctx, Heading(cmd.Angle))
	case model.CommandStop:
		return c.Stop(ctx)
	case model.CommandRecharge:
		return c.Charge(ctx)
	}
	return nil
}

// Heading maps a bearing in degrees (0 along +x, counter-clockwise) to the
// service's four movement directions, with +y as forward.
func Heading(angle float64) string {
	a := math.Mod(angle, 360)
	if a < 0 {
		a += 360
	}
	switch {
	case a >= 45 && a < 135:
		return "forward"
	case a >= 135 && a < 225:
		return "left"
	case a >= 225 && a < 315:
		return "backward"
	}
	return "right"
}

func (c *Client) do(ctx context.Context, method, endpoint string, extra url.Values) (map[string]any, error) {
	params := url.Values{}
	params.Set("session_id", c.sessionID)
	for k, vs := range extra {
		for _, v := range vs {
			params.Add(k, v)
		}
	}
	target := c.baseURL + "/rover/" + endpoint + "?" + params.Encode()

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 && !sleep(ctx, c.backoff) {
			return nil, ctx.Err()
		}
		data, err := c.once(ctx, method, target)
		if err == nil {
			if msg, ok := data["error"]; ok {
				return nil, fmt.Errorf("%w: %v", ErrRemote, msg)
			}
			return data, nil
		}
		lastErr = err
		if c.logger != nil {
			c.logger.Warn("rover api request failed", "endpoint", endpoint, "attempt", attempt+1, "err", err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, endpoint, lastErr)
}

func (c *Client) once(ctx context.Context, method, target string) (map[string]any, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, method, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	data := map[string]any{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}
	return data, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	}
	return 0, fmt.Errorf("unexpected %T", v)
}

func toInt(v any) (int, error) {
	f, err := toFloat(v)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}
