// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"context"
	"encoding/json"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// influxMeasurement is the measurement name events are written under.
const influxMeasurement = "research_events"

// InfluxSink persists events to InfluxDB for time-series queries over run
// history (checkpoints per hour, failure rates, phase durations).
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// NewInfluxSink connects a sink to an InfluxDB instance.
//
// Inputs:
//
//	url - The InfluxDB base URL.
//	token - The API token.
//	org - The organization name.
//	bucket - The destination bucket.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	client := influxdb2.NewClient(url, token)
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
	}
}

// Publish writes the event as one point. The payload is serialized to JSON
// in a single field; type and correlation id become tags for filtering.
func (s *InfluxSink) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	p := influxdb2.NewPoint(
		influxMeasurement,
		map[string]string{
			"event_type":     string(event.Type),
			"correlation_id": event.CorrelationID,
		},
		map[string]interface{}{
			"event_id": event.ID,
			"payload":  string(payload),
		},
		event.Timestamp,
	)

	if err := s.writeAPI.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("write event point: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *InfluxSink) Close() {
	s.client.Close()
}
