package terminologyapi_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/platform/terminologyapi"
	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/platform/terminologyapi/terminologyapitest"
)

func newClient(t *testing.T, baseURL string, retries int, opts ...terminologyapi.ClientOption) *terminologyapi.Client {
	t.Helper()
	opts = append([]terminologyapi.ClientOption{terminologyapi.WithRetryWait(time.Millisecond, 5*time.Millisecond)}, opts...)
	return terminologyapi.NewClient(terminologyapi.Config{
		BaseURL:     baseURL,
		Timeout:     5 * time.Second,
		ReadRetries: retries,
	}, zerolog.Nop(), opts...)
}

func TestClient_GetRegistry(t *testing.T) {
	srv := terminologyapitest.NewServer(t)
	cm := uuid.New()
	srv.AddRegistryEntry("Condition", "", cm, 1)
	srv.AddRegistryEntry("Condition", "ronin", cm, 3)

	entries, err := newClient(t, srv.URL, 0).GetRegistry(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Condition", entries[0].DataElement)
	assert.Nil(t, entries[0].TenantID)
	require.NotNil(t, entries[1].TenantID)
	assert.Equal(t, "ronin", *entries[1].TenantID)
	assert.Equal(t, 3, *entries[1].Version)
}

func TestClient_GetConceptMapVersion_SendsQuery(t *testing.T) {
	srv := terminologyapitest.NewServer(t)
	cm, src, tgt := uuid.New(), uuid.New(), uuid.New()
	srv.AddConceptMap(cm, 2, terminologyapi.ConceptMapPayload{
		ID: uuid.New(),
		InternalData: &terminologyapi.ConceptMapInternalData{
			SourceValueSetVersionUUID: src,
			TargetValueSetVersionUUID: tgt,
		},
	})

	p, err := newClient(t, srv.URL, 0).GetConceptMapVersion(context.Background(), cm, 2)
	require.NoError(t, err)
	assert.Equal(t, src, p.InternalData.SourceValueSetVersionUUID)

	calls := srv.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Query, "include_internal_info=true")
	assert.Contains(t, calls[0].Query, "concept_map_uuid="+cm.String())
	assert.Contains(t, calls[0].Query, "version=2")
}

func TestClient_ReadsAreRetried(t *testing.T) {
	srv := terminologyapitest.NewServer(t)
	srv.Fail(terminologyapi.OpGetRegistry, http.StatusServiceUnavailable, 2)

	_, err := newClient(t, srv.URL, 2).GetRegistry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, srv.CountCalls(http.MethodGet, "/data_normalization/registry"))
}

func TestClient_ReadsNotRetriedOnClientError(t *testing.T) {
	srv := terminologyapitest.NewServer(t)
	srv.Fail(terminologyapi.OpGetRegistry, http.StatusNotFound, -1)

	_, err := newClient(t, srv.URL, 3).GetRegistry(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, srv.CountCalls(http.MethodGet, "/data_normalization/registry"))
}

func TestClient_MutationsAreNeverRetried(t *testing.T) {
	srv := terminologyapitest.NewServer(t)
	srv.Fail(terminologyapi.OpPostNewCode, http.StatusServiceUnavailable, -1)

	err := newClient(t, srv.URL, 3).PostNewCode(context.Background(), terminologyapi.NewCodeRequest{
		Code:                   "test_concept_1",
		Display:                "Test Concept 1",
		TerminologyVersionUUID: uuid.New(),
	})
	require.Error(t, err)

	var rce *terminologyapi.RemoteCallError
	require.True(t, errors.As(err, &rce))
	assert.Equal(t, terminologyapi.OpPostNewCode, rce.Operation)
	assert.Equal(t, http.StatusServiceUnavailable, rce.StatusCode)
	assert.Equal(t, 1, srv.CountCalls(http.MethodPost, "/terminology/new_code"))
}

func TestClient_MalformedPayload(t *testing.T) {
	srv := terminologyapitest.NewServer(t)
	srv.Malform(terminologyapi.OpExpandValueSetVersion)

	_, err := newClient(t, srv.URL, 0).ExpandValueSetVersion(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, errors.Is(err, terminologyapi.ErrMalformedPayload))

	var rce *terminologyapi.RemoteCallError
	require.True(t, errors.As(err, &rce))
	assert.Equal(t, terminologyapi.OpExpandValueSetVersion, rce.Operation)
}

func TestClient_MalformedRegistry(t *testing.T) {
	srv := terminologyapitest.NewServer(t)
	srv.Malform(terminologyapi.OpGetRegistry)

	_, err := newClient(t, srv.URL, 0).GetRegistry(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, terminologyapi.ErrMalformedPayload))
}

func TestClient_NotFoundIsRemoteCallError(t *testing.T) {
	srv := terminologyapitest.NewServer(t)
	id := uuid.New()

	_, err := newClient(t, srv.URL, 0).GetTerminology(context.Background(), id)
	require.Error(t, err)

	var rce *terminologyapi.RemoteCallError
	require.True(t, errors.As(err, &rce))
	assert.Equal(t, http.StatusNotFound, rce.StatusCode)
	assert.Equal(t, id.String(), rce.Resource)
	assert.Contains(t, err.Error(), "get_terminology")
}

func TestClient_TransportError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	_, err := newClient(t, url, 0).MostRecentActiveVersion(context.Background(), uuid.New())
	require.Error(t, err)

	var rce *terminologyapi.RemoteCallError
	require.True(t, errors.As(err, &rce))
	assert.Zero(t, rce.StatusCode)
}

func TestClient_ValueSetVersionLifecycle(t *testing.T) {
	srv := terminologyapitest.NewServer(t)
	c := newClient(t, srv.URL, 0)
	ctx := context.Background()
	vs := uuid.New()

	created, err := c.NewValueSetVersion(ctx, vs, terminologyapi.NewValueSetVersionRequest{Description: "incremental load"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.UUID)
	assert.Equal(t, "incremental load", created.Description)

	old, next := uuid.New(), uuid.New()
	require.NoError(t, c.UpdateTerminologyRules(ctx, created.UUID, terminologyapi.UpdateTerminologyRequest{
		OldTerminologyVersionUUID: old,
		NewTerminologyVersionUUID: next,
	}))
	require.NoError(t, c.PublishValueSetVersion(ctx, created.UUID))

	updates := srv.RulesUpdates()
	require.Len(t, updates, 1)
	assert.Equal(t, next, updates[0].NewTerminologyVersionUUID)
	assert.Equal(t, []uuid.UUID{created.UUID}, srv.Published())

	calls := srv.Mutations()
	require.Len(t, calls, 3)
	assert.Equal(t, "/ValueSets/"+vs.String()+"/versions/new", calls[0].Path)
	assert.Equal(t, "/ValueSets/_/versions/"+created.UUID.String()+"/rules/update_terminology", calls[1].Path)
	assert.Equal(t, "/ValueSets/"+created.UUID.String()+"/published", calls[2].Path)
}

func TestClient_ConceptMapVersionLifecycle(t *testing.T) {
	srv := terminologyapitest.NewServer(t)
	c := newClient(t, srv.URL, 0)
	ctx := context.Background()

	req := terminologyapi.NewConceptMapVersionRequest{
		PreviousVersionUUID:          uuid.New(),
		NewVersionDescription:        "incremental load",
		NewVersionNum:                2,
		NewSourceValueSetVersionUUID: uuid.New(),
		NewTargetValueSetVersionUUID: uuid.New(),
	}
	created, err := c.NewConceptMapVersion(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, created.Version)
	require.NoError(t, c.PublishConceptMapVersion(ctx, created.UUID))

	assert.Equal(t, []terminologyapi.NewConceptMapVersionRequest{req}, srv.ConceptMapVersionRequests())
	assert.Equal(t, []uuid.UUID{created.UUID}, srv.Published())
}

func TestClient_FindTerminology(t *testing.T) {
	srv := terminologyapitest.NewServer(t)
	id := uuid.New()
	srv.AddTerminology(terminologyapi.TerminologyPayload{
		UUID:    id,
		Name:    "ICD-10 CM",
		Version: "2023",
		FHIRURI: "http://hl7.org/fhir/sid/icd-10-cm",
	})

	got, err := newClient(t, srv.URL, 0).FindTerminology(context.Background(), "http://hl7.org/fhir/sid/icd-10-cm", "2023")
	require.NoError(t, err)
	assert.Equal(t, id, got.UUID)
	assert.Equal(t, "ICD-10 CM", got.Name)
}

func TestClient_CallObserver(t *testing.T) {
	srv := terminologyapitest.NewServer(t)
	srv.Fail(terminologyapi.OpGetRegistry, http.StatusBadGateway, -1)

	var ops []string
	var errs []error
	c := newClient(t, srv.URL, 1, terminologyapi.WithCallObserver(func(op string, err error) {
		ops = append(ops, op)
		errs = append(errs, err)
	}))

	_, err := c.GetRegistry(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{terminologyapi.OpGetRegistry}, ops)
	require.Len(t, errs, 1)
	assert.Error(t, errs[0])
}

func TestClient_BearerToken(t *testing.T) {
	var header string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	tokens := terminologyapi.NewTokenSource("secret", "incremental-load", "terminology-api")
	c := newClient(t, ts.URL, 0, terminologyapi.WithTokenSource(tokens))

	_, err := c.GetRegistry(context.Background())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(header, "Bearer "))

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), claims, func(*jwt.Token) (interface{}, error) {
		return []byte("secret"), nil
	}, jwt.WithAudience("terminology-api"), jwt.WithIssuer("incremental-load"))
	require.NoError(t, err)
}

func TestClient_NoTokenWithoutSource(t *testing.T) {
	var header string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	c := newClient(t, ts.URL, 0, terminologyapi.WithTokenSource(terminologyapi.NewTokenSource("", "", "")))
	_, err := c.GetRegistry(context.Background())
	require.NoError(t, err)
	assert.Empty(t, header)
}

func TestClient_FindTerminologyWithoutVersion(t *testing.T) {
	srv := terminologyapitest.NewServer(t)
	uri := "http://projectronin.io/fhir/CodeSystem/ronin/Condition"
	older, current := uuid.New(), uuid.New()
	srv.AddTerminology(terminologyapi.TerminologyPayload{UUID: older, Name: "Ronin Condition", Version: "1.0", FHIRURI: uri})
	srv.AddTerminology(terminologyapi.TerminologyPayload{UUID: current, Name: "Ronin Condition", Version: "2.0", FHIRURI: uri})

	got, err := newClient(t, srv.URL, 0).FindTerminology(context.Background(), uri, "")
	require.NoError(t, err)
	assert.Equal(t, current, got.UUID)

	calls := srv.Calls()
	require.Len(t, calls, 1)
	assert.NotContains(t, calls[0].Query, "version=")
}

func TestClient_EmptyTenantIDIsMalformed(t *testing.T) {
	srv := terminologyapitest.NewServer(t)
	empty, version := "", 1
	srv.AddRegistryRow(terminologyapi.RegistryEntry{
		DataElement:    "Condition",
		TenantID:       &empty,
		ConceptMapUUID: uuid.New(),
		Version:        &version,
	})

	_, err := newClient(t, srv.URL, 0).GetRegistry(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, terminologyapi.ErrMalformedPayload))
	assert.Contains(t, err.Error(), "tenant_id is empty")
}
