// Package terminologyapitest provides an in-process fake of the terminology
// API for tests. It serves the same routes as the real backend from in-memory
// state and records every request so tests can assert call order and the
// absence of mutations.
package terminologyapitest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/platform/terminologyapi"
)

// Call is one recorded request.
type Call struct {
	Method string
	Path   string
	Query  string
	Body   []byte
}

// IsMutation reports whether the call changed remote state.
func (c Call) IsMutation() bool { return c.Method != http.MethodGet }

type conceptMapKey struct {
	id      uuid.UUID
	version int
}

type failure struct {
	status    int
	remaining int // <0 means fail forever
	malformed bool
}

// Server is the fake terminology API.
type Server struct {
	*httptest.Server

	mu             sync.Mutex
	calls          []Call
	registry       []terminologyapi.RegistryEntry
	conceptMaps    map[conceptMapKey]terminologyapi.ConceptMapPayload
	valueSets      map[uuid.UUID]terminologyapi.ValueSetVersionPayload
	activeVersions map[uuid.UUID]uuid.UUID
	terminologies  map[uuid.UUID]terminologyapi.TerminologyPayload
	codes          []terminologyapi.NewCodeRequest
	published      []uuid.UUID
	rulesUpdates   []terminologyapi.UpdateTerminologyRequest
	cmVersions     []terminologyapi.NewConceptMapVersionRequest
	failures       map[string]*failure
	failCodes      map[string]int
}

// NewServer starts a fake backend that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		conceptMaps:    make(map[conceptMapKey]terminologyapi.ConceptMapPayload),
		valueSets:      make(map[uuid.UUID]terminologyapi.ValueSetVersionPayload),
		activeVersions: make(map[uuid.UUID]uuid.UUID),
		terminologies:  make(map[uuid.UUID]terminologyapi.TerminologyPayload),
		failures:       make(map[string]*failure),
		failCodes:      make(map[string]int),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(s.record)

	e.GET("/data_normalization/registry", s.getRegistry)
	e.GET("/ConceptMaps/", s.getConceptMap)
	e.POST("/ConceptMaps/actions/new_version_from_previous", s.newConceptMapVersion)
	e.POST("/ConceptMaps/:uuid/published", s.publish(terminologyapi.OpPublishConceptMapVersion))
	e.GET("/ValueSet/:uuid/$expand", s.expand)
	e.GET("/ValueSets/:id/most_recent_active_version", s.mostRecent)
	e.POST("/ValueSets/:id/versions/new", s.newValueSetVersion)
	e.POST("/ValueSets/_/versions/:id/rules/update_terminology", s.updateRules)
	e.POST("/ValueSets/:id/published", s.publish(terminologyapi.OpPublishValueSetVersion))
	e.GET("/terminology/", s.findTerminology)
	e.GET("/terminology/:uuid", s.getTerminology)
	e.POST("/terminology/new_code", s.newCode)

	s.Server = httptest.NewServer(e)
	t.Cleanup(s.Close)
	return s
}

// =========== Seeding ===========

// AddRegistryEntry appends a registry row. An empty tenant means tenant-agnostic.
func (s *Server) AddRegistryEntry(dataElement, tenant string, conceptMapUUID uuid.UUID, version int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := terminologyapi.RegistryEntry{DataElement: dataElement, ConceptMapUUID: conceptMapUUID, Version: &version}
	if tenant != "" {
		e.TenantID = &tenant
	}
	s.registry = append(s.registry, e)
}

// AddRegistryRow appends a registry row exactly as given.
func (s *Server) AddRegistryRow(e terminologyapi.RegistryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry = append(s.registry, e)
}

// AddConceptMap stores a concept map version payload under (uuid, version).
func (s *Server) AddConceptMap(conceptMapUUID uuid.UUID, version int, p terminologyapi.ConceptMapPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conceptMaps[conceptMapKey{conceptMapUUID, version}] = p
}

// AddValueSetVersion stores a value set version and marks it as the most
// recent active version of its value set.
func (s *Server) AddValueSetVersion(p terminologyapi.ValueSetVersionPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valueSets[p.ID] = p
	s.activeVersions[p.AdditionalData.ValueSetUUID] = p.ID
}

// SetActiveVersion overrides the most recent active version of a value set.
func (s *Server) SetActiveVersion(valueSetUUID, versionUUID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeVersions[valueSetUUID] = versionUUID
}

// AddTerminology stores a terminology version.
func (s *Server) AddTerminology(p terminologyapi.TerminologyPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminologies[p.UUID] = p
}

// Fail makes the route serving operation respond with status for the next
// times requests. times < 0 fails every request.
func (s *Server) Fail(operation string, status, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[operation] = &failure{status: status, remaining: times}
}

// Malform makes the route serving operation answer 200 with an empty object.
func (s *Server) Malform(operation string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[operation] = &failure{status: http.StatusOK, remaining: -1, malformed: true}
}

// FailCode rejects POST /terminology/new_code for one code.
func (s *Server) FailCode(code string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCodes[code] = status
}

// =========== Inspection ===========

// Calls returns a copy of every recorded request in arrival order.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Mutations returns the recorded non-GET requests.
func (s *Server) Mutations() []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.IsMutation() {
			out = append(out, c)
		}
	}
	return out
}

// CountCalls counts recorded requests matching method and path.
func (s *Server) CountCalls(method, path string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Method == method && c.Path == path {
			n++
		}
	}
	return n
}

// Codes returns the concepts accepted by POST /terminology/new_code.
func (s *Server) Codes() []terminologyapi.NewCodeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]terminologyapi.NewCodeRequest, len(s.codes))
	copy(out, s.codes)
	return out
}

// Published returns the version uuids published so far, value sets and
// concept maps interleaved in call order.
func (s *Server) Published() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uuid.UUID, len(s.published))
	copy(out, s.published)
	return out
}

// RulesUpdates returns the accepted update_terminology bodies.
func (s *Server) RulesUpdates() []terminologyapi.UpdateTerminologyRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]terminologyapi.UpdateTerminologyRequest, len(s.rulesUpdates))
	copy(out, s.rulesUpdates)
	return out
}

// ConceptMapVersionRequests returns the accepted new_version_from_previous bodies.
func (s *Server) ConceptMapVersionRequests() []terminologyapi.NewConceptMapVersionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]terminologyapi.NewConceptMapVersionRequest, len(s.cmVersions))
	copy(out, s.cmVersions)
	return out
}

// =========== Handlers ===========

func (s *Server) record(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, _ := io.ReadAll(c.Request().Body)
		c.Request().Body = io.NopCloser(bytes.NewReader(body))
		s.mu.Lock()
		s.calls = append(s.calls, Call{
			Method: c.Request().Method,
			Path:   c.Request().URL.Path,
			Query:  c.Request().URL.RawQuery,
			Body:   body,
		})
		s.mu.Unlock()
		return next(c)
	}
}

// injected returns true when a configured failure has answered the request.
func (s *Server) injected(c echo.Context, operation string) (bool, error) {
	s.mu.Lock()
	f, ok := s.failures[operation]
	if !ok || f.remaining == 0 {
		s.mu.Unlock()
		return false, nil
	}
	if f.remaining > 0 {
		f.remaining--
	}
	status, malformed := f.status, f.malformed
	s.mu.Unlock()

	if malformed {
		return true, c.JSON(status, map[string]interface{}{})
	}
	return true, c.JSON(status, map[string]string{"message": "injected failure"})
}

func notFound(c echo.Context, format string, args ...interface{}) error {
	return c.JSON(http.StatusNotFound, map[string]string{"message": fmt.Sprintf(format, args...)})
}

func (s *Server) getRegistry(c echo.Context) error {
	if done, err := s.injected(c, terminologyapi.OpGetRegistry); done {
		return err
	}
	s.mu.Lock()
	reg := append([]terminologyapi.RegistryEntry{}, s.registry...)
	s.mu.Unlock()
	return c.JSON(http.StatusOK, reg)
}

func (s *Server) getConceptMap(c echo.Context) error {
	if done, err := s.injected(c, terminologyapi.OpGetConceptMapVersion); done {
		return err
	}
	id, err := uuid.Parse(c.QueryParam("concept_map_uuid"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "invalid concept_map_uuid"})
	}
	version, err := strconv.Atoi(c.QueryParam("version"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "invalid version"})
	}
	s.mu.Lock()
	p, ok := s.conceptMaps[conceptMapKey{id, version}]
	s.mu.Unlock()
	if !ok {
		return notFound(c, "concept map %s v%d not found", id, version)
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) expand(c echo.Context) error {
	if done, err := s.injected(c, terminologyapi.OpExpandValueSetVersion); done {
		return err
	}
	id, err := uuid.Parse(c.Param("uuid"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "invalid uuid"})
	}
	s.mu.Lock()
	p, ok := s.valueSets[id]
	s.mu.Unlock()
	if !ok {
		return notFound(c, "value set version %s not found", id)
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) mostRecent(c echo.Context) error {
	if done, err := s.injected(c, terminologyapi.OpMostRecentActiveVersion); done {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "invalid id"})
	}
	s.mu.Lock()
	v, ok := s.activeVersions[id]
	s.mu.Unlock()
	if !ok {
		return notFound(c, "value set %s has no active version", id)
	}
	return c.JSON(http.StatusOK, terminologyapi.ValueSetVersionRef{UUID: v, Status: "active"})
}

func (s *Server) newValueSetVersion(c echo.Context) error {
	if done, err := s.injected(c, terminologyapi.OpNewValueSetVersion); done {
		return err
	}
	var req terminologyapi.NewValueSetVersionRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil || req.Description == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "description is required"})
	}
	return c.JSON(http.StatusCreated, terminologyapi.NewValueSetVersionResponse{
		UUID:        uuid.New(),
		Version:     "2",
		Description: req.Description,
		Status:      "pending",
	})
}

func (s *Server) updateRules(c echo.Context) error {
	if done, err := s.injected(c, terminologyapi.OpUpdateTerminologyRules); done {
		return err
	}
	var req terminologyapi.UpdateTerminologyRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": err.Error()})
	}
	s.mu.Lock()
	s.rulesUpdates = append(s.rulesUpdates, req)
	s.mu.Unlock()
	return c.NoContent(http.StatusOK)
}

func (s *Server) publish(operation string) echo.HandlerFunc {
	return func(c echo.Context) error {
		if done, err := s.injected(c, operation); done {
			return err
		}
		raw := c.Param("id")
		if raw == "" {
			raw = c.Param("uuid")
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"message": "invalid uuid"})
		}
		s.mu.Lock()
		s.published = append(s.published, id)
		s.mu.Unlock()
		return c.NoContent(http.StatusOK)
	}
}

func (s *Server) newConceptMapVersion(c echo.Context) error {
	if done, err := s.injected(c, terminologyapi.OpNewConceptMapVersion); done {
		return err
	}
	var req terminologyapi.NewConceptMapVersionRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": err.Error()})
	}
	s.mu.Lock()
	s.cmVersions = append(s.cmVersions, req)
	s.mu.Unlock()
	return c.JSON(http.StatusCreated, terminologyapi.NewConceptMapVersionResponse{UUID: uuid.New(), Version: req.NewVersionNum})
}

func (s *Server) findTerminology(c echo.Context) error {
	if done, err := s.injected(c, terminologyapi.OpFindTerminology); done {
		return err
	}
	uri, version := c.QueryParam("fhir_uri"), c.QueryParam("version")
	s.mu.Lock()
	defer s.mu.Unlock()
	// Without a version the highest version for the URI is current.
	var current *terminologyapi.TerminologyPayload
	for _, t := range s.terminologies {
		if t.FHIRURI != uri {
			continue
		}
		if version != "" {
			if t.Version == version {
				return c.JSON(http.StatusOK, t)
			}
			continue
		}
		if current == nil || t.Version > current.Version {
			current = &t
		}
	}
	if current != nil {
		return c.JSON(http.StatusOK, current)
	}
	return notFound(c, "terminology %s|%s not found", uri, version)
}

func (s *Server) getTerminology(c echo.Context) error {
	if done, err := s.injected(c, terminologyapi.OpGetTerminology); done {
		return err
	}
	id, err := uuid.Parse(c.Param("uuid"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "invalid uuid"})
	}
	s.mu.Lock()
	t, ok := s.terminologies[id]
	s.mu.Unlock()
	if !ok {
		return notFound(c, "terminology %s not found", id)
	}
	return c.JSON(http.StatusOK, t)
}

func (s *Server) newCode(c echo.Context) error {
	if done, err := s.injected(c, terminologyapi.OpPostNewCode); done {
		return err
	}
	var req terminologyapi.NewCodeRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": err.Error()})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if status, ok := s.failCodes[req.Code]; ok {
		return c.JSON(status, map[string]string{"message": "rejected code " + req.Code})
	}
	if _, ok := s.terminologies[req.TerminologyVersionUUID]; !ok {
		return notFound(c, "terminology %s not found", req.TerminologyVersionUUID)
	}
	s.codes = append(s.codes, req)
	return c.NoContent(http.StatusOK)
}
