package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Issue is one itemized validation failure, addressed by a JSON-pointer-ish
// path into the offending document.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

const envelopeSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"tagId": {"type": "string", "minLength": 1},
		"visitorId": {"type": "string", "minLength": 1},
		"eventType": {"type": "string", "minLength": 1},
		"eventName": {"type": "string"},
		"metadata": {"type": "object"}
	},
	"required": ["tagId", "visitorId", "eventType"]
}`

var (
	envelopeSchemaOnce sync.Once
	envelopeSchema     *jsonschema.Schema
	envelopeSchemaErr  error
)

func compiledEnvelopeSchema() (*jsonschema.Schema, error) {
	envelopeSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(envelopeSchemaJSON))
		if err != nil {
			envelopeSchemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("envelope.json", doc); err != nil {
			envelopeSchemaErr = err
			return
		}
		envelopeSchema, envelopeSchemaErr = compiler.Compile("envelope.json")
	})
	return envelopeSchema, envelopeSchemaErr
}

// ValidateEnvelope checks a raw request body against the envelope schema.
// A non-nil error means the validator itself is broken, not the input; caller
// input problems come back as issues.
func ValidateEnvelope(body []byte) (Envelope, []Issue, error) {
	schema, err := compiledEnvelopeSchema()
	if err != nil {
		return Envelope{}, nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return Envelope{}, []Issue{{Path: "", Message: "body must be valid JSON"}}, nil
	}
	if err := schema.Validate(doc); err != nil {
		var validationErr *jsonschema.ValidationError
		if vErr, ok := err.(*jsonschema.ValidationError); ok {
			validationErr = vErr
		} else {
			return Envelope{}, nil, err
		}
		return Envelope{}, flattenValidationError(validationErr), nil
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, []Issue{{Path: "", Message: "body must be valid JSON"}}, nil
	}
	if env.Metadata == nil {
		env.Metadata = map[string]any{}
	}
	return env, nil, nil
}

func flattenValidationError(err *jsonschema.ValidationError) []Issue {
	printer := message.NewPrinter(language.English)
	issues := make([]Issue, 0, 4)
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			issues = append(issues, Issue{
				Path:    "/" + strings.Join(e.InstanceLocation, "/"),
				Message: e.ErrorKind.LocalizedString(printer),
			})
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(err)
	return issues
}

// EventQuery bounds a ListEvents call. A zero Since means "no lower bound";
// a zero Limit means "no cap".
type EventQuery struct {
	TagID string
	Since time.Time
	Limit int
}

// ParseListQuery validates the GET query shape. tagId, when present, must be
// non-empty; since, when present, must be an RFC 3339 timestamp.
func ParseListQuery(values url.Values) (EventQuery, []Issue) {
	var issues []Issue
	query := EventQuery{}

	if values.Has("tagId") {
		tagID := values.Get("tagId")
		if strings.TrimSpace(tagID) == "" {
			issues = append(issues, Issue{Path: "/tagId", Message: "tagId is required"})
		} else {
			query.TagID = tagID
		}
	}
	if raw := values.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			issues = append(issues, Issue{Path: "/since", Message: fmt.Sprintf("since must be an ISO timestamp: %v", err)})
		} else {
			query.Since = since
		}
	}
	if len(issues) > 0 {
		return EventQuery{}, issues
	}
	return query, nil
}
