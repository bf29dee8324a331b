// Package trigger turns storage-write notifications into worker triggers.
package trigger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/imagetext/internal/common"
)

// Trigger identifies one written object.
type Trigger struct {
	Bucket string
	Key    string
}

// s3EventSchema accepts the subset of an S3 event notification the worker needs.
const s3EventSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["Records"],
	"properties": {
		"Records": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["s3"],
				"properties": {
					"eventSource": {"type": "string"},
					"eventName": {"type": "string"},
					"s3": {
						"type": "object",
						"required": ["bucket", "object"],
						"properties": {
							"bucket": {
								"type": "object",
								"required": ["name"],
								"properties": {"name": {"type": "string", "minLength": 1}}
							},
							"object": {
								"type": "object",
								"required": ["key"],
								"properties": {"key": {"type": "string", "minLength": 1}}
							}
						}
					}
				}
			}
		}
	}
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("s3event.json", bytes.NewReader([]byte(s3EventSchema))); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile("s3event.json")
	})
	return schema, schemaErr
}

// ParseS3Event validates and decodes a raw S3 event notification.
func ParseS3Event(raw []byte) (events.S3Event, error) {
	var ev events.S3Event
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ev, common.ValidationFailed("event is not valid JSON")
	}
	s, err := compiledSchema()
	if err != nil {
		return ev, fmt.Errorf("compile schema: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return ev, common.ValidationFailed("invalid S3 event: " + err.Error())
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ev, common.ValidationFailed("invalid S3 event: " + err.Error())
	}
	return ev, nil
}

// FromS3Event extracts one Trigger per record. Object keys arrive URL-encoded
// in S3 notifications and are decoded here.
func FromS3Event(ev events.S3Event) ([]Trigger, error) {
	out := make([]Trigger, 0, len(ev.Records))
	for i, rec := range ev.Records {
		key := rec.S3.Object.URLDecodedKey
		if key == "" {
			var err error
			if key, err = url.QueryUnescape(rec.S3.Object.Key); err != nil {
				return nil, common.ValidationFailed(fmt.Sprintf("record %d: undecodable object key %q", i, rec.S3.Object.Key))
			}
		}
		if rec.S3.Bucket.Name == "" || key == "" {
			return nil, common.ValidationFailed(fmt.Sprintf("record %d: bucket and key are required", i))
		}
		out = append(out, Trigger{Bucket: rec.S3.Bucket.Name, Key: key})
	}
	return out, nil
}

// NewS3Event builds the notification S3 would send for a single put.
func NewS3Event(bucket, key string) events.S3Event {
	return events.S3Event{Records: []events.S3EventRecord{{
		EventSource: "aws:s3",
		EventName:   "ObjectCreated:Put",
		S3: events.S3Entity{
			Bucket: events.S3Bucket{Name: bucket},
			Object: events.S3Object{Key: url.QueryEscape(key), URLDecodedKey: key},
		},
	}}}
}
