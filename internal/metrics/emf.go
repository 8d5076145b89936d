// Package metrics emits CloudWatch Embedded Metrics Format (EMF) documents.
// Each flush is one JSON line on stdout; CloudWatch Logs extracts the metrics
// when the service runs on Lambda. Outside Lambda emission is off unless
// FORENSICS_METRICS=1, so the local web server's terminal stays readable.
//
// See: https://docs.aws.amazon.com/AmazonCloudWatch/latest/monitoring/CloudWatch_Embedded_Metric_Format_Specification.html
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Namespace is the CloudWatch namespace every forensics metric lands in.
const Namespace = "AiForensics"

// Standard CloudWatch metric units.
const (
	UnitMilliseconds = "Milliseconds"
	UnitCount        = "Count"
	UnitBytes        = "Bytes"
	UnitNone         = "None"
)

type metricDef struct {
	Name string `json:"Name"`
	Unit string `json:"Unit"`
}

type emfDirective struct {
	Timestamp         int64      `json:"Timestamp"`
	CloudWatchMetrics []cwMetric `json:"CloudWatchMetrics"`
}

type cwMetric struct {
	Namespace  string      `json:"Namespace"`
	Dimensions [][]string  `json:"Dimensions"`
	Metrics    []metricDef `json:"Metrics"`
}

// Recorder accumulates dimensions, metrics, and properties for a single EMF flush.
// It is NOT safe for concurrent use; create one per operation.
type Recorder struct {
	namespace  string
	dimensions map[string]string
	metrics    map[string]metricDef
	values     map[string]interface{}
	properties map[string]interface{}
}

var (
	mu          sync.Mutex
	out         io.Writer = os.Stdout
	enabled     bool
	serviceName string
	initOnce    sync.Once
)

func initFromEnv() {
	serviceName = os.Getenv("AWS_LAMBDA_FUNCTION_NAME")
	enabled = serviceName != "" || os.Getenv("FORENSICS_METRICS") == "1"
	if serviceName == "" {
		serviceName = os.Getenv("FORENSICS_SERVICE_NAME")
	}
}

// Configure overrides the environment-derived settings. Tests use it to
// capture output; binaries may use it to force emission on.
func Configure(w io.Writer, on bool, service string) {
	initOnce.Do(initFromEnv)
	mu.Lock()
	defer mu.Unlock()
	out = w
	enabled = on
	serviceName = service
}

// New creates a Recorder in the forensics namespace. The Service dimension is
// added automatically when a service name is known.
func New() *Recorder {
	initOnce.Do(initFromEnv)
	r := &Recorder{
		namespace:  Namespace,
		dimensions: make(map[string]string),
		metrics:    make(map[string]metricDef),
		values:     make(map[string]interface{}),
		properties: make(map[string]interface{}),
	}
	mu.Lock()
	if serviceName != "" {
		r.dimensions["Service"] = serviceName
	}
	mu.Unlock()
	return r
}

// Dimension adds an indexed key-value pair.
func (r *Recorder) Dimension(key, value string) *Recorder {
	r.dimensions[key] = value
	return r
}

// Metric records a named value with a CloudWatch unit.
func (r *Recorder) Metric(name string, value float64, unit string) *Recorder {
	r.metrics[name] = metricDef{Name: name, Unit: unit}
	r.values[name] = value
	return r
}

// Count records a count metric with value 1.
func (r *Recorder) Count(name string) *Recorder {
	return r.Metric(name, 1, UnitCount)
}

// Since records the milliseconds elapsed since start.
func (r *Recorder) Since(name string, start time.Time) *Recorder {
	return r.Metric(name, float64(time.Since(start).Milliseconds()), UnitMilliseconds)
}

// Property adds a searchable, non-metric field.
func (r *Recorder) Property(key string, value interface{}) *Recorder {
	r.properties[key] = value
	return r
}

// Flush writes the EMF document as one line. Empty recorders and disabled
// emission write nothing. The Recorder must not be reused afterwards.
func (r *Recorder) Flush() {
	mu.Lock()
	defer mu.Unlock()
	if !enabled || len(r.metrics) == 0 {
		return
	}

	doc := make(map[string]interface{}, len(r.dimensions)+len(r.values)+len(r.properties)+1)

	metricDefs := make([]metricDef, 0, len(r.metrics))
	for _, m := range r.metrics {
		metricDefs = append(metricDefs, m)
	}
	dimKeys := make([]string, 0, len(r.dimensions))
	for k := range r.dimensions {
		dimKeys = append(dimKeys, k)
	}

	doc["_aws"] = emfDirective{
		Timestamp: time.Now().UnixMilli(),
		CloudWatchMetrics: []cwMetric{{
			Namespace:  r.namespace,
			Dimensions: [][]string{dimKeys},
			Metrics:    metricDefs,
		}},
	}
	for k, v := range r.properties {
		doc[k] = v
	}
	for k, v := range r.dimensions {
		doc[k] = v
	}
	for k, v := range r.values {
		doc[k] = v
	}

	data, err := json.Marshal(doc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "emf: failed to marshal metrics: %v\n", err)
		return
	}
	fmt.Fprintln(out, string(data))
}
