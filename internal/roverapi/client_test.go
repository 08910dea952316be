package roverapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rescuerover/internal/config"
	"rescuerover/internal/model"
)

type fakeService struct {
	mu     sync.Mutex
	calls  []string
	status string
	fail   int
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path+"?"+r.URL.RawQuery)
	if f.fail > 0 {
		f.fail--
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if r.URL.Path == "/rover/status" {
		_, _ = w.Write([]byte(f.status))
		return
	}
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func (f *fakeService) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newClient(t *testing.T, svc *fakeService, retries int) *Client {
	t.Helper()
	srv := httptest.NewServer(svc)
	t.Cleanup(srv.Close)
	c, err := New(config.RoverAPIConfig{BaseURL: srv.URL + "/", SessionID: "abc", Retries: retries}, config.DefaultPowerConfig(), nil)
	require.NoError(t, err)
	return c
}

func TestStatusDefaults(t *testing.T) {
	svc := &fakeService{status: `{}`}
	c := newClient(t, svc, 0)
	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Status{Status: "idle", Battery: 100, Coordinates: model.Point{0, 0}}, st)
	assert.Equal(t, []string{"GET /rover/status?session_id=abc"}, svc.Calls())
}

func TestLowBatteryStartsCharging(t *testing.T) {
	svc := &fakeService{status: `{"status":"moving","battery":4,"coordinates":[12.5,-3]}`}
	c := newClient(t, svc, 0)
	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "charging", st.Status)
	assert.Equal(t, model.Point{12.5, -3}, st.Coordinates)
	assert.Equal(t, "POST /rover/charge?session_id=abc", svc.Calls()[1])
}

func TestRechargedStopsCharging(t *testing.T) {
	svc := &fakeService{status: `{"status":"charging","battery":"85"}`}
	c := newClient(t, svc, 0)
	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "moving", st.Status)
	assert.Equal(t, 85, st.Battery)
	assert.Equal(t, "POST /rover/stop?session_id=abc", svc.Calls()[1])
}

func TestRemoteError(t *testing.T) {
	svc := &fakeService{status: `{"error":"session expired"}`}
	c := newClient(t, svc, 0)
	_, err := c.Status(context.Background())
	assert.True(t, errors.Is(err, ErrRemote))
}

func TestRetries(t *testing.T) {
	svc := &fakeService{status: `{"battery":50}`, fail: 2}
	c := newClient(t, svc, 2)
	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50, st.Battery)
	assert.Len(t, svc.Calls(), 3)

	svc = &fakeService{status: `{}`, fail: 5}
	c = newClient(t, svc, 1)
	_, err = c.Status(context.Background())
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Len(t, svc.Calls(), 2)
}

func TestDispatch(t *testing.T) {
	svc := &fakeService{}
	c := newClient(t, svc, 0)
	ctx := context.Background()
	require.NoError(t, c.Dispatch(ctx, "rover-1", model.Command{Command: model.CommandMove, Angle: 90}))
	require.NoError(t, c.Dispatch(ctx, "rover-1", model.Stop("no_safe_path")))
	require.NoError(t, c.Dispatch(ctx, "rover-1", model.Command{Command: model.CommandRecharge}))
	require.NoError(t, c.Dispatch(ctx, "rover-1", model.Command{Command: model.CommandSearchPattern}))
	assert.Equal(t, []string{
		"POST /rover/move?direction=forward&session_id=abc",
		"POST /rover/stop?session_id=abc",
		"POST /rover/charge?session_id=abc",
	}, svc.Calls())
}

func TestHeading(t *testing.T) {
	cases := map[float64]string{
		0:    "right",
		44:   "right",
		45:   "forward",
		90:   "forward",
		180:  "left",
		-90:  "backward",
		270:  "backward",
		-10:  "right",
		405:  "forward",
		-180: "left",
	}
	for angle, want := range cases {
		assert.Equal(t, want, Heading(angle), "angle %v", angle)
	}
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(config.RoverAPIConfig{}, config.DefaultPowerConfig(), nil)
	assert.Error(t, err)
}
