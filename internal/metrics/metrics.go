// Package metrics 定义 Prometheus 指标：HTTP、任务队列以及记录/作品集相关的业务计数。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dreamgarden"

var (
	// RecordsCreated 按 school_context 统计新建记录。
	RecordsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "records",
			Name:      "created_total",
			Help:      "新建记录总数。",
		},
		[]string{"school_context"},
	)

	// LimitRejections 统计因媒体/文件上限被拒绝的写入。
	LimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "records",
			Name:      "limit_rejections_total",
			Help:      "超过媒体或文件数量上限而被拒绝的写入次数。",
		},
		[]string{"kind"},
	)

	// MediaUploads 按结果统计上传（stored / infected / rate_limited / rejected）。
	MediaUploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "media",
			Name:      "uploads_total",
			Help:      "媒体上传次数。",
		},
		[]string{"result"},
	)

	// PortfolioRegenerations 按结果统计作品集再生成。
	PortfolioRegenerations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "regenerations_total",
			Help:      "作品集再生成次数。",
		},
		[]string{"result"},
	)

	// PortfolioCacheLookups 统计作品集缓存命中情况。
	PortfolioCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "cache_lookups_total",
			Help:      "作品集缓存查询次数。",
		},
		[]string{"outcome"},
	)
)

// Handler 返回 /metrics 的 HTTP 处理器。
func Handler() http.Handler {
	return promhttp.Handler()
}
