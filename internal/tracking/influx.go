package tracking

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	influxhttp "github.com/influxdata/influxdb-client-go/v2/api/http"
)

// InfluxSink writes one point per entry to an InfluxDB v2 bucket.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// NewInfluxSink returns a sink writing to bucket in org on the server at url.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	client := influxdb2.NewClient(url, token)
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
	}
}

// Write stores e as a point in measurement e.Project, tagged with run_id and
// the entry tags. Values become float fields next to an integer step field.
// Client errors other than 429 are permanent.
func (s *InfluxSink) Write(ctx context.Context, e Entry) error {
	tags := make(map[string]string, len(e.Tags)+1)
	for k, v := range e.Tags {
		tags[k] = v
	}
	tags["run_id"] = e.RunID

	fields := make(map[string]interface{}, len(e.Values)+1)
	for k, v := range e.Values {
		fields[k] = v
	}
	fields["step"] = e.Step

	p := influxdb2.NewPoint(e.Project, tags, fields, e.Time)
	if err := s.writeAPI.WritePoint(ctx, p); err != nil {
		var herr *influxhttp.Error
		if errors.As(err, &herr) && herr.StatusCode >= 400 && herr.StatusCode < 500 &&
			herr.StatusCode != http.StatusTooManyRequests {
			return fmt.Errorf("%w: influx: %v", ErrPermanent, err)
		}
		return fmt.Errorf("tracking: influx write: %w", err)
	}
	return nil
}

// Close releases the client's resources.
func (s *InfluxSink) Close() error {
	s.client.Close()
	return nil
}
