package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterValue 从默认注册表中读出带指定标签的计数器值。
func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	next:
		for _, m := range family.GetMetric() {
			for _, pair := range m.GetLabel() {
				if labels[pair.GetName()] != pair.GetValue() {
					continue next
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestGinMiddlewareCountsErrorCodes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware())
	r.GET("/students/:id", func(c *gin.Context) {
		c.Set(ErrorCodeKey, 4003)
		c.Status(http.StatusForbidden)
	})
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })

	labels := map[string]string{"path": "/students/:id", "code": "4003"}
	before := counterValue(t, "dreamgarden_http_errors_total", labels)

	for i := 0; i < 2; i++ {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/students/9", nil))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))

	assert.Equal(t, before+2, counterValue(t, "dreamgarden_http_errors_total", labels))
	assert.Zero(t, counterValue(t, "dreamgarden_http_errors_total", map[string]string{"path": "/ok"}))
}

func TestAsynqMiddlewareRecordsResult(t *testing.T) {
	handler := AsynqMetricsMiddleware()(asynq.HandlerFunc(func(_ context.Context, task *asynq.Task) error {
		switch string(task.Payload()) {
		case "bad":
			return fmt.Errorf("decode: %w", asynq.SkipRetry)
		case "flaky":
			return errors.New("redis timeout")
		}
		return nil
	}))

	before := map[string]float64{}
	for _, result := range []string{taskSucceeded, taskRetrying, taskDropped} {
		before[result] = counterValue(t, "dreamgarden_asynq_tasks_total", map[string]string{"task_type": "test:metrics", "result": result})
	}

	ctx := context.Background()
	require.NoError(t, handler.ProcessTask(ctx, asynq.NewTask("test:metrics", []byte("ok"))))
	require.Error(t, handler.ProcessTask(ctx, asynq.NewTask("test:metrics", []byte("bad"))))
	require.Error(t, handler.ProcessTask(ctx, asynq.NewTask("test:metrics", []byte("flaky"))))

	for _, result := range []string{taskSucceeded, taskRetrying, taskDropped} {
		got := counterValue(t, "dreamgarden_asynq_tasks_total", map[string]string{"task_type": "test:metrics", "result": result})
		assert.Equal(t, before[result]+1, got, result)
	}
}
