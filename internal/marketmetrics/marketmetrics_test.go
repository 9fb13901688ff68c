package marketmetrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/prometheus/prometheus/prompb"
	accesstokendomain "github.com/smallbiznis/iahome/internal/accesstoken/domain"
	accesstokenrepo "github.com/smallbiznis/iahome/internal/accesstoken/repository"
	"github.com/smallbiznis/iahome/internal/clock"
	"github.com/smallbiznis/iahome/internal/config"
	ledgerdomain "github.com/smallbiznis/iahome/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/iahome/internal/ledger/repository"
	dbtest "github.com/smallbiznis/iahome/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var metricsNow = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func newCollector(t *testing.T) *Collector {
	t.Helper()
	db := dbtest.NewDB(t, &ledgerdomain.UserTokens{}, &accesstokendomain.AccessToken{})
	require.NoError(t, db.Create(&[]ledgerdomain.UserTokens{
		{ID: 1, UserID: "a", Tokens: 200, IsActive: true, CreatedAt: metricsNow, UpdatedAt: metricsNow},
		{ID: 2, UserID: "b", Tokens: 50, IsActive: true, CreatedAt: metricsNow, UpdatedAt: metricsNow},
	}).Error)
	require.NoError(t, db.Create(&[]accesstokendomain.AccessToken{
		{ID: 1, Name: "live", ModuleID: "m", AccessLevel: accesstokendomain.AccessLevelBasic, MaxUsage: 5, IsActive: true, CreatedBy: "a", JWTToken: "t1", JWTID: "j1", CreatedAt: metricsNow, ExpiresAt: metricsNow.Add(time.Hour)},
		{ID: 2, Name: "expired", ModuleID: "m", AccessLevel: accesstokendomain.AccessLevelBasic, MaxUsage: 5, IsActive: true, CreatedBy: "a", JWTToken: "t2", JWTID: "j2", CreatedAt: metricsNow, ExpiresAt: metricsNow.Add(-time.Hour)},
	}).Error)
	return NewCollector(db, clock.NewFakeClock(metricsNow), ledgerrepo.Provide(), accesstokenrepo.Provide())
}

func TestCollectorRefresh(t *testing.T) {
	c := newCollector(t)
	require.NoError(t, c.Refresh(context.Background()))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.ledgerUsers))
	assert.Equal(t, 250.0, testutil.ToFloat64(c.outstandingTokens))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.activeTokens))
}

func TestRemoteWritePusherSendsSnappyProtobuf(t *testing.T) {
	c := newCollector(t)
	require.NoError(t, c.Refresh(context.Background()))

	var got prompb.WriteRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "snappy", r.Header.Get("Content-Encoding"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		raw, err := snappy.Decode(nil, body)
		require.NoError(t, err)
		require.NoError(t, got.Unmarshal(raw))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	pusher := NewRemoteWritePusher(srv.URL, "secret")
	require.NoError(t, pusher.Push(context.Background(), c.Registry()))

	names := map[string]float64{}
	for _, ts := range got.Timeseries {
		for _, l := range ts.Labels {
			if l.Name == "__name__" {
				names[l.Value] = ts.Samples[0].Value
			}
		}
	}
	assert.Equal(t, 250.0, names["iahome_outstanding_tokens"])
	assert.Equal(t, 2.0, names["iahome_ledger_users"])
}

func TestRemoteWritePusherReportsStatus(t *testing.T) {
	c := newCollector(t)
	require.NoError(t, c.Refresh(context.Background()))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewRemoteWritePusher(srv.URL, "").Push(context.Background(), c.Registry())
	assert.Error(t, err)
}

func TestNewPusherSelection(t *testing.T) {
	log := zap.NewNop()

	assert.Nil(t, NewPusher(config.Config{}, log))
	assert.Nil(t, NewPusher(config.Config{Metrics: config.MetricsPushConfig{Enabled: true, Exporter: "prometheus_remote_write"}}, log))
	assert.Nil(t, NewPusher(config.Config{Metrics: config.MetricsPushConfig{Enabled: true, Exporter: "statsd", Endpoint: "http://x"}}, log))

	rw := NewPusher(config.Config{Metrics: config.MetricsPushConfig{Enabled: true, Exporter: "prometheus_remote_write", Endpoint: "http://collector/api/v1/write"}}, log)
	assert.IsType(t, &RemoteWritePusher{}, rw)

	pg := NewPusher(config.Config{AppName: "iahome", Metrics: config.MetricsPushConfig{Enabled: true, Exporter: "prometheus_pushgateway", Endpoint: "http://pushgateway:9091"}}, log)
	assert.IsType(t, &PushgatewayPusher{}, pg)
}
