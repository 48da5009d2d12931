// Package terminologyapi is a typed client for the internal terminology API
// that stores terminologies, value sets, concept maps and the data
// normalization registry. Every endpoint has an explicit request and response
// type; responses are validated after decoding and a missing required field is
// reported as ErrMalformedPayload inside a RemoteCallError.
//
// Only GET requests are retried. Mutating calls are sent exactly once because
// the remote store does not deduplicate them.
package terminologyapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Operation names used in errors, logs and metrics.
const (
	OpGetRegistry              = "get_registry"
	OpGetConceptMapVersion     = "get_concept_map_version"
	OpExpandValueSetVersion    = "expand_value_set_version"
	OpMostRecentActiveVersion  = "most_recent_active_version"
	OpFindTerminology          = "find_terminology"
	OpGetTerminology           = "get_terminology"
	OpPostNewCode              = "post_new_code"
	OpNewValueSetVersion       = "new_value_set_version"
	OpUpdateTerminologyRules   = "update_terminology_rules"
	OpPublishValueSetVersion   = "publish_value_set_version"
	OpNewConceptMapVersion     = "new_concept_map_version"
	OpPublishConceptMapVersion = "publish_concept_map_version"
)

const maxErrorBody = 512

// Config holds the connection settings for the terminology API.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	ReadRetries int
}

// CallObserver is notified once per logical call, after retries.
type CallObserver func(operation string, err error)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client (tests use this to
// point at an httptest server transport).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.hc = hc }
}

// WithTokenSource attaches a bearer token to every request. A nil source
// leaves requests unauthenticated.
func WithTokenSource(ts *TokenSource) ClientOption {
	return func(c *Client) { c.tokens = ts }
}

// WithCallObserver registers a hook invoked after every call.
func WithCallObserver(o CallObserver) ClientOption {
	return func(c *Client) { c.observe = o }
}

// WithRetryWait overrides the backoff between read retries.
func WithRetryWait(wait, maxWait time.Duration) ClientOption {
	return func(c *Client) {
		c.retryWait = wait
		c.retryMaxWait = maxWait
	}
}

// Client talks to the terminology API.
type Client struct {
	http         *resty.Client
	hc           *http.Client
	tokens       *TokenSource
	observe      CallObserver
	logger       zerolog.Logger
	retryWait    time.Duration
	retryMaxWait time.Duration
}

// NewClient builds a Client from cfg.
func NewClient(cfg Config, logger zerolog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		logger:       logger.With().Str("component", "terminologyapi").Logger(),
		retryWait:    500 * time.Millisecond,
		retryMaxWait: 5 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}

	var rc *resty.Client
	if c.hc != nil {
		rc = resty.NewWithClient(c.hc)
	} else {
		rc = resty.New()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rc.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(cfg.ReadRetries).
		SetRetryWaitTime(c.retryWait).
		SetRetryMaxWaitTime(c.retryMaxWait).
		AddRetryCondition(retryReads).
		SetHeader("Accept", "application/json").
		SetLogger(restyLogger{c.logger})

	if c.tokens != nil {
		rc.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
			token, err := c.tokens.Token()
			if err != nil {
				return err
			}
			r.SetAuthToken(token)
			return nil
		})
	}

	c.http = rc
	return c
}

// retryReads allows retries only for GET requests that failed in transport,
// were throttled, or hit a server error.
func retryReads(r *resty.Response, err error) bool {
	if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
		return false
	}
	if err != nil {
		return true
	}
	return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
}

// call describes one endpoint invocation.
type call struct {
	op         string
	resource   string
	method     string
	path       string
	pathParams map[string]string
	query      map[string]string
	body       interface{}
}

func (c *Client) execute(ctx context.Context, cl call, out validator) error {
	err := c.send(ctx, cl, out)
	if c.observe != nil {
		c.observe(cl.op, err)
	}
	if err != nil {
		c.logger.Debug().Err(err).Str("operation", cl.op).Str("resource", cl.resource).Msg("remote call failed")
	}
	return err
}

func (c *Client) send(ctx context.Context, cl call, out validator) error {
	req := c.http.R().SetContext(ctx)
	if len(cl.pathParams) > 0 {
		req.SetPathParams(cl.pathParams)
	}
	if len(cl.query) > 0 {
		req.SetQueryParams(cl.query)
	}
	if cl.body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(cl.body)
	}

	resp, err := req.Execute(cl.method, cl.path)
	if err != nil {
		return &RemoteCallError{Operation: cl.op, Resource: cl.resource, Err: err}
	}
	if !resp.IsSuccess() {
		return &RemoteCallError{
			Operation:  cl.op,
			Resource:   cl.resource,
			StatusCode: resp.StatusCode(),
			Err:        fmt.Errorf("unexpected response: %s", truncate(resp.Body())),
		}
	}
	if out == nil {
		return nil
	}
	if err := decode(resp.Body(), out); err != nil {
		return &RemoteCallError{Operation: cl.op, Resource: cl.resource, StatusCode: resp.StatusCode(), Err: err}
	}
	return nil
}

func decode(body []byte, out validator) error {
	if len(body) == 0 {
		return malformed("empty response body")
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return out.Validate()
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// GetRegistry loads the full data normalization registry.
func (c *Client) GetRegistry(ctx context.Context) ([]RegistryEntry, error) {
	var reg Registry
	err := c.execute(ctx, call{
		op:     OpGetRegistry,
		method: http.MethodGet,
		path:   "/data_normalization/registry",
	}, &reg)
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// GetConceptMapVersion loads one concept map version, including the internal
// data that links it to its source and target value set versions.
func (c *Client) GetConceptMapVersion(ctx context.Context, conceptMapUUID uuid.UUID, version int) (*ConceptMapPayload, error) {
	var p ConceptMapPayload
	err := c.execute(ctx, call{
		op:       OpGetConceptMapVersion,
		resource: fmt.Sprintf("%s v%d", conceptMapUUID, version),
		method:   http.MethodGet,
		path:     "/ConceptMaps/",
		query: map[string]string{
			"concept_map_uuid":      conceptMapUUID.String(),
			"version":               strconv.Itoa(version),
			"include_internal_info": "true",
		},
	}, &p)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ExpandValueSetVersion loads a value set version with its expansion.
func (c *Client) ExpandValueSetVersion(ctx context.Context, versionUUID uuid.UUID) (*ValueSetVersionPayload, error) {
	var p ValueSetVersionPayload
	err := c.execute(ctx, call{
		op:         OpExpandValueSetVersion,
		resource:   versionUUID.String(),
		method:     http.MethodGet,
		path:       "/ValueSet/{uuid}/$expand",
		pathParams: map[string]string{"uuid": versionUUID.String()},
	}, &p)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// MostRecentActiveVersion returns the latest active version of a value set.
func (c *Client) MostRecentActiveVersion(ctx context.Context, valueSetUUID uuid.UUID) (*ValueSetVersionRef, error) {
	var ref ValueSetVersionRef
	err := c.execute(ctx, call{
		op:         OpMostRecentActiveVersion,
		resource:   valueSetUUID.String(),
		method:     http.MethodGet,
		path:       "/ValueSets/{id}/most_recent_active_version",
		pathParams: map[string]string{"id": valueSetUUID.String()},
	}, &ref)
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

// FindTerminology looks a terminology version up by FHIR URI and version.
// An empty version is left off the query; the store then answers with the
// current version for the URI.
func (c *Client) FindTerminology(ctx context.Context, fhirURI, version string) (*TerminologyPayload, error) {
	query := map[string]string{"fhir_uri": fhirURI}
	if version != "" {
		query["version"] = version
	}
	var p TerminologyPayload
	err := c.execute(ctx, call{
		op:       OpFindTerminology,
		resource: fmt.Sprintf("%s|%s", fhirURI, version),
		method:   http.MethodGet,
		path:     "/terminology/",
		query:    query,
	}, &p)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetTerminology loads a terminology version by uuid.
func (c *Client) GetTerminology(ctx context.Context, id uuid.UUID) (*TerminologyPayload, error) {
	var p TerminologyPayload
	err := c.execute(ctx, call{
		op:         OpGetTerminology,
		resource:   id.String(),
		method:     http.MethodGet,
		path:       "/terminology/{uuid}",
		pathParams: map[string]string{"uuid": id.String()},
	}, &p)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ---------------------------------------------------------------------------
// Mutations (never retried)
// ---------------------------------------------------------------------------

// PostNewCode adds one concept to a terminology version.
func (c *Client) PostNewCode(ctx context.Context, req NewCodeRequest) error {
	return c.execute(ctx, call{
		op:       OpPostNewCode,
		resource: fmt.Sprintf("%s code=%s", req.TerminologyVersionUUID, req.Code),
		method:   http.MethodPost,
		path:     "/terminology/new_code",
		body:     req,
	}, nil)
}

// NewValueSetVersion creates a new, unpublished version of a value set.
func (c *Client) NewValueSetVersion(ctx context.Context, valueSetUUID uuid.UUID, req NewValueSetVersionRequest) (*NewValueSetVersionResponse, error) {
	var resp NewValueSetVersionResponse
	err := c.execute(ctx, call{
		op:         OpNewValueSetVersion,
		resource:   valueSetUUID.String(),
		method:     http.MethodPost,
		path:       "/ValueSets/{id}/versions/new",
		pathParams: map[string]string{"id": valueSetUUID.String()},
		body:       req,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateTerminologyRules repoints a value set version's rules from one
// terminology version to another.
func (c *Client) UpdateTerminologyRules(ctx context.Context, versionUUID uuid.UUID, req UpdateTerminologyRequest) error {
	return c.execute(ctx, call{
		op:         OpUpdateTerminologyRules,
		resource:   versionUUID.String(),
		method:     http.MethodPost,
		path:       "/ValueSets/_/versions/{id}/rules/update_terminology",
		pathParams: map[string]string{"id": versionUUID.String()},
		body:       req,
	}, nil)
}

// PublishValueSetVersion marks a value set version live.
func (c *Client) PublishValueSetVersion(ctx context.Context, versionUUID uuid.UUID) error {
	return c.execute(ctx, call{
		op:         OpPublishValueSetVersion,
		resource:   versionUUID.String(),
		method:     http.MethodPost,
		path:       "/ValueSets/{id}/published",
		pathParams: map[string]string{"id": versionUUID.String()},
	}, nil)
}

// NewConceptMapVersion derives a new concept map version from a previous one.
func (c *Client) NewConceptMapVersion(ctx context.Context, req NewConceptMapVersionRequest) (*NewConceptMapVersionResponse, error) {
	var resp NewConceptMapVersionResponse
	err := c.execute(ctx, call{
		op:       OpNewConceptMapVersion,
		resource: req.PreviousVersionUUID.String(),
		method:   http.MethodPost,
		path:     "/ConceptMaps/actions/new_version_from_previous",
		body:     req,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// PublishConceptMapVersion marks a concept map version live.
func (c *Client) PublishConceptMapVersion(ctx context.Context, versionUUID uuid.UUID) error {
	return c.execute(ctx, call{
		op:         OpPublishConceptMapVersion,
		resource:   versionUUID.String(),
		method:     http.MethodPost,
		path:       "/ConceptMaps/{uuid}/published",
		pathParams: map[string]string{"uuid": versionUUID.String()},
	}, nil)
}

// restyLogger routes resty's internal messages through zerolog.
type restyLogger struct {
	logger zerolog.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error().Msgf(strings.TrimSpace(format), v...)
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn().Msgf(strings.TrimSpace(format), v...)
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug().Msgf(strings.TrimSpace(format), v...)
}
