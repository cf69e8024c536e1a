package observability

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	registerOnce sync.Once

	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zmqport",
			Name:      "commands_total",
			Help:      "Commands handled, by reply outcome.",
		},
		[]string{"command", "outcome"},
	)
	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "zmqport",
			Name:      "command_duration_seconds",
			Help:      "Command handling duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		},
		[]string{"command"},
	)
	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zmqport",
			Name:      "frames_total",
			Help:      "Frames exchanged with the parent process.",
		},
		[]string{"direction"},
	)
	frameBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zmqport",
			Name:      "frame_bytes_total",
			Help:      "Frame payload bytes exchanged with the parent process.",
		},
		[]string{"direction"},
	)
	liveHandles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "zmqport",
			Name:      "live_handles",
			Help:      "Sockets currently reachable through a handle.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(commandsTotal, commandDuration, framesTotal, frameBytesTotal, liveHandles)
	})
}

// Recorder feeds worker measurements into the Prometheus collectors.
type Recorder struct{}

func NewRecorder() Recorder {
	RegisterMetrics()
	return Recorder{}
}

func (Recorder) Command(name, outcome string, d time.Duration) {
	commandsTotal.WithLabelValues(name, outcome).Inc()
	commandDuration.WithLabelValues(name).Observe(d.Seconds())
}

func (Recorder) Frame(direction string, size int) {
	framesTotal.WithLabelValues(direction).Inc()
	frameBytesTotal.WithLabelValues(direction).Add(float64(size))
}

func (Recorder) LiveHandles(n int) {
	liveHandles.Set(float64(n))
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, log zerolog.Logger) error {
	RegisterMetrics()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("metrics listener started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
