// Package fhirstore is a minimal client for an external FHIR R4 server.
package fhirstore

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	gojson "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/ehr/ordersafety/internal/platform/fhir"
)

const contentTypeFHIR = "application/fhir+json"

type Options struct {
	BaseURL      string
	Timeout      time.Duration
	MaxRetries   int
	RetryWait    time.Duration
	RetryMaxWait time.Duration
}

// Client creates resources on the remote server. Transport errors, 429 and
// 5xx responses are retried with resty's capped exponential backoff.
type Client struct {
	http   *resty.Client
	logger zerolog.Logger
}

func New(opts Options, logger zerolog.Logger) *Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.MaxRetries).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(opts.RetryMaxWait).
		SetJSONMarshaler(gojson.Marshal).
		SetJSONUnmarshaler(gojson.Unmarshal).
		SetHeader("Content-Type", contentTypeFHIR).
		SetHeader("Accept", contentTypeFHIR).
		AddRetryCondition(retryable)

	return &Client{http: c, logger: logger.With().Str("component", "fhirstore").Logger()}
}

func retryable(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
}

// CreateResource POSTs resource to /{resourceType} and returns the id the
// server assigned, taken from the body or, failing that, the Location header.
func (c *Client) CreateResource(ctx context.Context, resourceType string, resource interface{}) (string, error) {
	var created fhir.Resource
	var outcome fhir.OperationOutcome

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(resource).
		SetResult(&created).
		SetError(&outcome).
		Post("/" + resourceType)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", resourceType, err)
	}
	if resp.IsError() {
		msg := resp.Status()
		if len(outcome.Issue) > 0 && outcome.Issue[0].Diagnostics != "" {
			msg = outcome.Issue[0].Diagnostics
		}
		return "", fmt.Errorf("create %s: server returned %d: %s", resourceType, resp.StatusCode(), msg)
	}

	id := created.ID
	if id == "" {
		id = idFromLocation(resp.Header().Get("Location"), resourceType)
	}
	if id == "" {
		return "", fmt.Errorf("create %s: server did not return an id", resourceType)
	}

	c.logger.Debug().
		Str("resource_type", resourceType).
		Str("id", id).
		Int("attempts", resp.Request.Attempt).
		Msg("resource created")
	return id, nil
}

// idFromLocation extracts the id from ".../Type/id/_history/n".
func idFromLocation(location, resourceType string) string {
	parts := strings.Split(strings.Trim(location, "/"), "/")
	for i := len(parts) - 2; i >= 0; i-- {
		if parts[i] == resourceType {
			return parts[i+1]
		}
	}
	return ""
}
