package emitter

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yairfalse/arbiter/telemetry"
)

// ErrNoRegistry is returned when metrics were never initialised
var ErrNoRegistry = errors.New("prometheus registry not initialised")

// WriteTextfile writes gathered metrics in node_exporter textfile-collector format.
// A nil gatherer uses the registry set up by telemetry.InitOTEL.
func WriteTextfile(path string, gatherer prometheus.Gatherer) error {
	if gatherer == nil {
		if telemetry.PrometheusRegistry == nil {
			return ErrNoRegistry
		}
		gatherer = telemetry.PrometheusRegistry
	}

	if err := prometheus.WriteToTextfile(path, gatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
