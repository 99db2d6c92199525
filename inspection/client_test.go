package inspection

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	hits atomic.Int32
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/yolo/api/warnings/", func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "5", r.URL.Query().Get("page_size"))
		_, _ = w.Write([]byte(`{"code":0,"msg":null,"data":{"total":11,"page":2,"page_size":5,"warnings":[
			{"id":"w1","title":"No helmet","warning_level":"critical","status":"pending","camera_id":"CAM001","handled_by":null,"response_time":null,"handled_at":null}
		]}}`))
	})
	mux.HandleFunc("/yolo/api/detection-records/", func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		_, _ = w.Write([]byte(`{"code":0,"msg":"ok","data":{"total":1,"page":1,"page_size":20,"records":[
			{"id":"r1","camera_id":"CAM002","detection_type":"no_hat","confidence":0.91,"bbox_x":1,"bbox_y":2,"bbox_width":3,"bbox_height":4}
		]}}`))
	})
	mux.HandleFunc("/yolo/api/models/", func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		_, _ = w.Write([]byte(`{"code":403,"msg":"forbidden","data":null}`))
	})
	mux.HandleFunc("/yolo/api/detection-stats/", func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		_, _ = w.Write([]byte(`{"code":0,"msg":null,"data":{"stats":{"total_detections":100,"no_hat_count":7,"compliance_rate":0.93},
			"daily_stats":[{"date":"2026-10-18","total":40,"wearing_hat":37,"no_hat":3}]}}`))
	})
	mux.HandleFunc("/yolo/api/cameras/detection-stats/", func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		http.Error(w, "upstream down", http.StatusBadGateway)
	})
	return mux
}

func newTestClient(t *testing.T, ttl time.Duration) (*Client, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{}
	ts := httptest.NewServer(api.handler(t))
	t.Cleanup(ts.Close)
	c, err := New(Config{BaseURL: ts.URL + "/", CacheTTL: ttl}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, api
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)
}

func TestWarnings(t *testing.T) {
	c, _ := newTestClient(t, 0)
	data, err := c.Warnings(context.Background(), Page{Page: 2, PageSize: 5})
	require.NoError(t, err)
	assert.Equal(t, 11, data.Total)
	require.Len(t, data.Warnings, 1)
	w := data.Warnings[0]
	assert.Equal(t, "critical", w.WarningLevel)
	assert.Nil(t, w.HandledBy)
	assert.Nil(t, w.ResponseTime)
}

func TestDetectionRecordsAndStats(t *testing.T) {
	c, _ := newTestClient(t, 0)
	recs, err := c.DetectionRecords(context.Background(), Page{})
	require.NoError(t, err)
	require.Len(t, recs.Records, 1)
	assert.Equal(t, "no_hat", recs.Records[0].DetectionType)
	assert.InDelta(t, 0.91, recs.Records[0].Confidence, 1e-9)

	stats, err := c.DetectionStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, stats.Stats.TotalDetections)
	require.Len(t, stats.DailyStats, 1)
	assert.Equal(t, 3, stats.DailyStats[0].NoHat)
}

func TestAPIError(t *testing.T) {
	c, _ := newTestClient(t, 0)
	_, err := c.Models(context.Background(), Page{})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 403, apiErr.Code)
	assert.Equal(t, "forbidden", apiErr.Msg)
}

func TestStatusError(t *testing.T) {
	c, _ := newTestClient(t, 0)
	_, err := c.CameraStats(context.Background())
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	assert.Contains(t, se.Body, "upstream down")
}

func TestResponseCache(t *testing.T) {
	c, api := newTestClient(t, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := c.Warnings(ctx, Page{Page: 2, PageSize: 5})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), api.hits.Load())

	// errors are never cached
	for i := 0; i < 2; i++ {
		_, err := c.Models(ctx, Page{})
		require.Error(t, err)
	}
	assert.Equal(t, int32(3), api.hits.Load())
}

func TestContextCancelled(t *testing.T) {
	c, _ := newTestClient(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.DetectionStats(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
