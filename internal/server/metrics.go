package server

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	apperrors "github.com/exchangelink/exchangelink/internal/errors"
	"github.com/exchangelink/exchangelink/internal/observability"
)

var metricsProxy = resty.New().SetTimeout(5 * time.Second)

var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

func exporterURL() string {
	port := observability.GetMetricsPort()
	if port == 0 {
		port = viper.GetInt("metrics.port")
	}
	if port == 0 {
		port = 9090
	}
	return fmt.Sprintf("http://127.0.0.1:%d/metrics", port)
}

// MetricsHandler serves the Prometheus exporter's page on the admin port.
// ?family=exchange_ keeps only the series (and their HELP/TYPE lines) whose
// name contains the given fragment.
func MetricsHandler(w http.ResponseWriter, r *http.Request) {
	if observability.PrometheusExporter == nil {
		HandleError(w, r, apperrors.NewUnavailableError("Metrics exporter not initialized"))
		return
	}

	url := exporterURL()
	req := metricsProxy.R().SetContext(r.Context()).SetDoNotParseResponse(true)
	if accept := r.Header.Get("Accept"); accept != "" {
		req.SetHeader("Accept", accept)
	}
	resp, err := req.Get(url)
	if err != nil {
		envelope := apperrors.Wrap(r.Context(), apperrors.CodeExternalService, err, "Prometheus exporter unavailable")
		HandleError(w, r, envelope)
		return
	}
	body := resp.RawBody()
	defer func() { _ = body.Close() }()

	for key, values := range resp.Header() {
		if hopByHopHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	}
	w.Header().Del("Content-Length")
	w.WriteHeader(resp.StatusCode())

	family := strings.TrimSpace(r.URL.Query().Get("family"))
	if err := copyMetrics(w, body, family); err != nil && observability.ServerLogger != nil {
		observability.ServerLogger.Warn("Failed to write metrics response",
			zap.String("exporter", url),
			zap.Error(err))
	}
}

func copyMetrics(w io.Writer, body io.Reader, family string) error {
	if family == "" {
		_, err := io.Copy(w, body)
		return err
	}
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, family) {
			continue
		}
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	return scanner.Err()
}
