package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "auth"

var (
	Logins = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "logins_total",
		Help:      "Login attempts by result.",
	}, []string{"result"})

	Registrations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "registrations_total",
		Help:      "Registration attempts by result.",
	}, []string{"result"})

	Refreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_refreshes_total",
		Help:      "Refresh-token rotations by result.",
	}, []string{"result"})

	TokensIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tokens_issued_total",
		Help:      "Tokens issued by kind.",
	}, []string{"kind"})

	AccessDenied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "access_denied_total",
		Help:      "Guard rejections by reason.",
	}, []string{"reason"})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests",
	}, []string{"path", "method", "code"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "http",
		Name:      "request_duration_seconds",
		Help:      "Request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"path", "method"})
)

var once sync.Once

// Register is safe to call from every entry point and test.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(Logins, Registrations, Refreshes, TokensIssued, AccessDenied, httpRequests, httpDuration)
	})
}

// Middleware records per-route request counts and latency. It uses the route
// pattern, not the raw URL, to keep label cardinality bounded.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
				status = he.Code
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			httpRequests.WithLabelValues(path, c.Request().Method, strconv.Itoa(status)).Inc()
			httpDuration.WithLabelValues(path, c.Request().Method).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func Result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
