package valueset_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/domain/valueset"
	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/platform/terminologyapi"
	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/platform/terminologyapi/terminologyapitest"
)

func setup(t *testing.T) (*terminologyapitest.Server, *valueset.Service) {
	t.Helper()
	srv := terminologyapitest.NewServer(t)
	client := terminologyapi.NewClient(terminologyapi.Config{BaseURL: srv.URL, Timeout: 5 * time.Second}, zerolog.Nop())
	return srv, valueset.NewService(client)
}

func seedVersion(srv *terminologyapitest.Server) terminologyapi.ValueSetVersionPayload {
	p := terminologyapi.ValueSetVersionPayload{
		ResourceType: "ValueSet",
		ID:           uuid.New(),
		URL:          "http://projectronin.io/fhir/ValueSet/conditions",
		Name:         "ConditionCodes",
		Title:        "Condition Codes",
		Version:      "1",
		Status:       "active",
		Publisher:    "Project Ronin",
		Meta:         json.RawMessage(`{"profile":["http://hl7.org/fhir/StructureDefinition/shareablevalueset"]}`),
		AdditionalData: terminologyapi.ValueSetAdditionalData{
			ValueSetUUID: uuid.New(),
		},
		Expansion: &terminologyapi.ValueSetExpansion{
			Timestamp: "2023-06-01",
			Contains: []terminologyapi.ExpansionConcept{
				{Code: "E11.9", Display: "Type 2 diabetes mellitus", System: "http://hl7.org/fhir/sid/icd-10-cm", Version: "2023"},
			},
		},
	}
	srv.AddValueSetVersion(p)
	return p
}

func TestService_Load(t *testing.T) {
	srv, svc := setup(t)
	p := seedVersion(srv)

	v, err := svc.Load(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, v.UUID)
	assert.Equal(t, p.AdditionalData.ValueSetUUID, v.ValueSetUUID)
	assert.Equal(t, "Condition Codes", v.Title)
	assert.JSONEq(t, string(p.Meta), string(v.Meta))
	require.Len(t, v.Expansion.Contains, 1)
	assert.Equal(t, "E11.9", v.Expansion.Contains[0].Code)
}

func TestService_LoadNotFound(t *testing.T) {
	_, svc := setup(t)
	_, err := svc.Load(context.Background(), uuid.New())
	var rce *terminologyapi.RemoteCallError
	require.True(t, errors.As(err, &rce))
	assert.Equal(t, http.StatusNotFound, rce.StatusCode)
}

func TestService_MostRecentActiveVersion(t *testing.T) {
	srv, svc := setup(t)
	p := seedVersion(srv)

	got, err := svc.MostRecentActiveVersion(context.Background(), p.AdditionalData.ValueSetUUID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got)

	newer := uuid.New()
	srv.SetActiveVersion(p.AdditionalData.ValueSetUUID, newer)
	got, err = svc.MostRecentActiveVersion(context.Background(), p.AdditionalData.ValueSetUUID)
	require.NoError(t, err)
	assert.Equal(t, newer, got)
}

func TestService_NewVersionAndPublish(t *testing.T) {
	srv, svc := setup(t)
	p := seedVersion(srv)
	ctx := context.Background()

	from, err := svc.Load(ctx, p.ID)
	require.NoError(t, err)

	next, err := svc.NewVersion(ctx, from, "incremental load")
	require.NoError(t, err)
	assert.NotEqual(t, from.UUID, next.UUID)
	assert.Equal(t, from.ValueSetUUID, next.ValueSetUUID)
	assert.Equal(t, "incremental load", next.Description)
	assert.Empty(t, next.Expansion.Contains)
	assert.Len(t, from.Expansion.Contains, 1, "source version must not change")

	require.NoError(t, svc.Publish(ctx, next))
	assert.Equal(t, []uuid.UUID{next.UUID}, srv.Published())

	muts := srv.Mutations()
	require.Len(t, muts, 2)
	assert.Equal(t, "/ValueSets/"+from.ValueSetUUID.String()+"/versions/new", muts[0].Path)
	assert.Equal(t, "/ValueSets/"+next.UUID.String()+"/published", muts[1].Path)
}

func TestService_NewVersionRequiresDescription(t *testing.T) {
	srv, svc := setup(t)
	_, err := svc.NewVersion(context.Background(), &valueset.ValueSetVersion{ValueSetUUID: uuid.New()}, "  ")
	assert.ErrorIs(t, err, valueset.ErrDescriptionRequired)
	assert.Empty(t, srv.Mutations())
}

func TestService_UpdateRules(t *testing.T) {
	srv, svc := setup(t)
	v := &valueset.ValueSetVersion{UUID: uuid.New()}
	oldT, newT := uuid.New(), uuid.New()

	require.NoError(t, svc.UpdateRulesForNewTerminologyVersion(context.Background(), v, oldT, newT))
	assert.Equal(t, []terminologyapi.UpdateTerminologyRequest{{
		OldTerminologyVersionUUID: oldT,
		NewTerminologyVersionUUID: newT,
	}}, srv.RulesUpdates())
}

func TestService_PublishFailure(t *testing.T) {
	srv, svc := setup(t)
	srv.Fail(terminologyapi.OpPublishValueSetVersion, http.StatusConflict, -1)

	v := &valueset.ValueSetVersion{UUID: uuid.New(), Status: "pending"}
	err := svc.Publish(context.Background(), v)
	var rce *terminologyapi.RemoteCallError
	require.True(t, errors.As(err, &rce))
	assert.Equal(t, http.StatusConflict, rce.StatusCode)
	assert.Equal(t, "pending", v.Status)
}
