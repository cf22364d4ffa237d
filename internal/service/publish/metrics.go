package publish

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobOutcomeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bilipub_publish_jobs_total",
		Help: "Publish job executions by outcome",
	}, []string{"outcome"})

	rateLimitTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bilipub_rate_limited_total",
		Help: "Preupload responses carrying the platform rate-limit code",
	})

	uploadedBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bilipub_uploaded_bytes_total",
		Help: "Video bytes accepted by the upload CDN",
	})

	uploadedChunksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bilipub_uploaded_chunks_total",
		Help: "Video chunks accepted by the upload CDN",
	})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bilipub_publish_job_duration_seconds",
		Help:    "Wall time of one publish job execution",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"outcome"})
)

// RecordChunk 上传分块成功后计数，作为 bilibili.Options.OnChunkUploaded 使用
func RecordChunk(size int) {
	uploadedBytesTotal.Add(float64(size))
	uploadedChunksTotal.Inc()
}
