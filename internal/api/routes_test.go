package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/junayed-hasan/life-trajectory-embeddings/internal/cache"
	"github.com/junayed-hasan/life-trajectory-embeddings/internal/dataset"
	"github.com/junayed-hasan/life-trajectory-embeddings/internal/lifeapi"
	"github.com/junayed-hasan/life-trajectory-embeddings/internal/placement"
	"github.com/junayed-hasan/life-trajectory-embeddings/internal/render"
	"github.com/junayed-hasan/life-trajectory-embeddings/internal/view"
)

func intPtr(v int) *int       { return &v }
func strPtr(s string) *string { return &s }

func testPersons() []lifeapi.VisualizationPerson {
	return []lifeapi.VisualizationPerson{
		{PersonID: "Q1", Name: "Ada Lovelace", Occupation: []string{"mathematician"}, X: 0.5, Y: 0, Z: 0, ClusterID: intPtr(0), ClusterLabel: strPtr("Pioneers of Computing")},
		{PersonID: "Q2", Name: "Grace Hopper", Occupation: []string{"computer scientist"}, X: -0.5, Y: 0.5, Z: 0, ClusterID: intPtr(0), ClusterLabel: strPtr("Pioneers of Computing")},
		{PersonID: "Q3", Name: "Marie Curie", Occupation: []string{"physicist", "chemist"}, X: 10, Y: 0.5, Z: 0, ClusterID: intPtr(1), ClusterLabel: strPtr("Laboratory Scientists")},
		{PersonID: "Q4", Name: "Hilma af Klint", Occupation: []string{"painter"}, X: -8, Y: -2, Z: 1, ClusterID: nil},
	}
}

func testClusters() []lifeapi.ClusterInfo {
	return []lifeapi.ClusterInfo{
		{ClusterID: 0, ClusterLabel: "Pioneers of Computing", PersonCount: 2, AvgCoordinates: lifeapi.Coordinate3D{X: 0, Y: 0.25, Z: 0}},
		{ClusterID: 1, ClusterLabel: "Laboratory Scientists", PersonCount: 1, AvgCoordinates: lifeapi.Coordinate3D{X: 10, Y: 0.5, Z: 0}},
	}
}

// upstreamStub fakes the dataset API the viewer talks to.
type upstreamStub struct {
	mu        sync.Mutex
	failLoads bool
	requests  map[string]int
}

func newUpstreamStub() *upstreamStub {
	return &upstreamStub{requests: make(map[string]int)}
}

func (s *upstreamStub) setFailLoads(v bool) {
	s.mu.Lock()
	s.failLoads = v
	s.mu.Unlock()
}

func (s *upstreamStub) failing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failLoads
}

func (s *upstreamStub) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[path]
}

func (s *upstreamStub) handler() http.Handler {
	mux := http.NewServeMux()

	writeJSON := func(w http.ResponseWriter, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v)
	}
	failJSON := func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"detail": "upstream unavailable"}`))
	}

	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, lifeapi.HealthStatus{Status: "healthy", Timestamp: time.Now().UTC().Format(time.RFC3339), Version: "1.0.0"})
	})
	mux.HandleFunc("/api/v1/visualization", func(w http.ResponseWriter, r *http.Request) {
		if s.failing() {
			failJSON(w)
			return
		}
		writeJSON(w, lifeapi.VisualizationData{
			Persons:  testPersons(),
			Metadata: lifeapi.VisualizationMetadata{TotalPersons: 4, NumClusters: 2},
		})
	})
	mux.HandleFunc("/api/v1/clusters", func(w http.ResponseWriter, r *http.Request) {
		if s.failing() {
			failJSON(w)
			return
		}
		writeJSON(w, lifeapi.ClusterList{Clusters: testClusters()})
	})
	mux.HandleFunc("/api/v1/person/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/api/v1/person/")
		if id != "Q1" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"detail": "person not found"}`))
			return
		}
		writeJSON(w, lifeapi.PersonDetail{
			PersonID:    "Q1",
			WikidataID:  "Q1",
			Name:        "Ada Lovelace",
			Occupation:  []string{"mathematician"},
			ClusterID:   intPtr(0),
			Coordinates: &lifeapi.Coordinate3D{X: 0.5},
			TotalEvents: 12,
			EventTypes:  map[string]int{"education": 3, "work": 9},
		})
	})
	mux.HandleFunc("/api/v1/persons", func(w http.ResponseWriter, r *http.Request) {
		persons := testPersons()
		out := make([]lifeapi.PersonSummary, 0, len(persons))
		for _, p := range persons {
			out = append(out, lifeapi.PersonSummary{
				PersonID:   p.PersonID,
				Name:       p.Name,
				Occupation: p.Occupation,
				ClusterID:  p.ClusterID,
			})
		}
		writeJSON(w, out)
	})
	mux.HandleFunc("/api/v1/generate-embedding", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, lifeapi.EmbedResponse{
			UserCoordinates:    lifeapi.Coordinate3D{X: 0.2, Y: 0.1, Z: 0},
			NarrativeText:      "A life in computing.",
			EmbeddingDimension: 768,
			ProcessingTimeMS:   12.5,
		})
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests[r.URL.Path]++
		s.mu.Unlock()
		mux.ServeHTTP(w, r)
	})
}

type testServer struct {
	t        *testing.T
	router   *chi.Mux
	upstream *upstreamStub
	sessions *SessionRegistry
	manager  *PlacementManager
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	stub := newUpstreamStub()
	upstream := httptest.NewServer(stub.handler())
	t.Cleanup(upstream.Close)

	client, err := lifeapi.NewClient(lifeapi.Config{DirectURL: upstream.URL, Mode: "direct", TimeoutSecs: 5})
	if err != nil {
		t.Fatalf("failed to create upstream client: %v", err)
	}

	payloads, err := cache.NewManager(cache.Config{
		FrameCacheSizeMB: 8,
		FrameTTL:         time.Minute,
		PayloadCacheSize: 64,
		PayloadTTL:       time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to create cache manager: %v", err)
	}
	t.Cleanup(func() { payloads.Close() })

	renderer := render.NewSceneRenderer(render.Config{Width: 320, Height: 240})
	sessions := NewSessionRegistry(func(id string) *view.Model {
		return view.NewModel(id, client, renderer, payloads)
	}, time.Minute, time.Minute)
	t.Cleanup(sessions.Close)

	manager, err := NewPlacementManager(PlacementManagerConfig{
		MaxConcurrent: 1,
		SQLitePath:    filepath.Join(t.TempDir(), "placements.db"),
	})
	if err != nil {
		t.Fatalf("failed to create placement manager: %v", err)
	}
	placer := placement.NewService(client, dataset.NewStore(client), manager.Store(), 5)
	manager.Executor = placer.Execute
	manager.Start()
	t.Cleanup(manager.Stop)

	router := NewRouter(RouterConfig{
		Upstream:    client,
		Sessions:    sessions,
		Payloads:    payloads,
		Placements:  manager,
		Placer:      placer,
		CORSOrigins: []string{"*"},
		Title:       "Life Trajectory Embeddings",
	})

	return &testServer{t: t, router: router, upstream: stub, sessions: sessions, manager: manager}
}

// request runs one request against the router without a listener.
func (ts *testServer) request(method, path string, body interface{}) *http.Response {
	ts.t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			ts.t.Fatalf("failed to marshal request body: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w.Result()
}

func (ts *testServer) openSession() string {
	ts.t.Helper()
	resp := ts.request(http.MethodPost, "/api/view", map[string]interface{}{})
	assertStatusCode(ts.t, resp, http.StatusCreated)
	var out struct {
		SessionID string     `json:"session_id"`
		State     view.State `json:"state"`
	}
	if err := json.Unmarshal(readBody(ts.t, resp), &out); err != nil {
		ts.t.Fatalf("failed to decode open response: %v", err)
	}
	if out.SessionID == "" {
		ts.t.Fatal("open returned an empty session id")
	}
	return out.SessionID
}

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return data
}

func assertStatusCode(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Errorf("status code = %d, want %d", resp.StatusCode, want)
	}
}

func assertContentType(t *testing.T, resp *http.Response, want string) {
	t.Helper()
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, want) {
		t.Errorf("Content-Type = %q, want prefix %q", ct, want)
	}
}

func assertPNG(t *testing.T, data []byte) {
	t.Helper()
	pngMagic := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	if len(data) < len(pngMagic) || !bytes.Equal(data[:len(pngMagic)], pngMagic) {
		t.Error("response body is not a PNG image")
	}
}

func assertJSONFields(t *testing.T, data []byte, fields []string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	for _, f := range fields {
		if _, ok := m[f]; !ok {
			t.Errorf("response missing field %q", f)
		}
	}
	return m
}

func decodeState(t *testing.T, resp *http.Response) view.State {
	t.Helper()
	var st view.State
	if err := json.Unmarshal(readBody(t, resp), &st); err != nil {
		t.Fatalf("failed to decode state: %v", err)
	}
	return st
}

func TestHealthEndpoints(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.request(http.MethodGet, "/health", nil)
	assertStatusCode(t, resp, http.StatusOK)
	if body := string(readBody(t, resp)); body != "OK" {
		t.Errorf("plain health body = %q, want %q", body, "OK")
	}

	resp = ts.request(http.MethodGet, "/api/health", nil)
	assertStatusCode(t, resp, http.StatusOK)
	assertContentType(t, resp, "application/json")
	m := assertJSONFields(t, readBody(t, resp), []string{"status", "timestamp", "services", "sessions", "cache"})
	if m["status"] != "healthy" {
		t.Errorf("health status = %v, want healthy", m["status"])
	}
}

func TestVisualizationPassthroughIsCached(t *testing.T) {
	ts := setupTestServer(t)

	for i := 0; i < 3; i++ {
		resp := ts.request(http.MethodGet, "/api/visualization", nil)
		assertStatusCode(t, resp, http.StatusOK)
		assertContentType(t, resp, "application/json")
		assertJSONFields(t, readBody(t, resp), []string{"persons", "metadata"})
	}
	if got := ts.upstream.count("/api/v1/visualization"); got != 1 {
		t.Errorf("upstream visualization requests = %d, want 1", got)
	}
}

func TestClustersKeepWrapper(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.request(http.MethodGet, "/api/clusters", nil)
	assertStatusCode(t, resp, http.StatusOK)
	var out lifeapi.ClusterList
	if err := json.Unmarshal(readBody(t, resp), &out); err != nil {
		t.Fatalf("failed to decode clusters: %v", err)
	}
	if len(out.Clusters) != 2 {
		t.Errorf("clusters = %d, want 2", len(out.Clusters))
	}
}

func TestClusterByID(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.request(http.MethodGet, "/api/cluster/1", nil)
	assertStatusCode(t, resp, http.StatusOK)
	var c lifeapi.ClusterInfo
	if err := json.Unmarshal(readBody(t, resp), &c); err != nil {
		t.Fatalf("failed to decode cluster: %v", err)
	}
	if c.ClusterID != 1 || c.ClusterLabel != "Laboratory Scientists" {
		t.Errorf("cluster = %+v, want id 1 Laboratory Scientists", c)
	}

	resp = ts.request(http.MethodGet, "/api/cluster/99", nil)
	assertStatusCode(t, resp, http.StatusNotFound)

	resp = ts.request(http.MethodGet, "/api/cluster/abc", nil)
	assertStatusCode(t, resp, http.StatusBadRequest)
}

func TestPersonPassthroughKeepsUpstreamStatus(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.request(http.MethodGet, "/api/person/Q1", nil)
	assertStatusCode(t, resp, http.StatusOK)
	assertJSONFields(t, readBody(t, resp), []string{"person_id", "name", "total_events"})

	resp = ts.request(http.MethodGet, "/api/person/Q999", nil)
	assertStatusCode(t, resp, http.StatusNotFound)
}

func TestPersonsQuery(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.request(http.MethodGet, "/api/persons?limit=2&offset=0", nil)
	assertStatusCode(t, resp, http.StatusOK)
	var out []lifeapi.PersonSummary
	if err := json.Unmarshal(readBody(t, resp), &out); err != nil {
		t.Fatalf("failed to decode persons: %v", err)
	}
	if len(out) == 0 {
		t.Error("persons listing is empty")
	}

	resp = ts.request(http.MethodGet, "/api/persons?cluster_id=abc", nil)
	assertStatusCode(t, resp, http.StatusBadRequest)
}

func TestViewSessionLifecycle(t *testing.T) {
	ts := setupTestServer(t)
	sid := ts.openSession()

	resp := ts.request(http.MethodGet, "/api/view/"+sid, nil)
	assertStatusCode(t, resp, http.StatusOK)
	st := decodeState(t, resp)
	if !st.Ready {
		t.Error("session is not ready after open")
	}
	if st.TotalPersons != 4 || st.NumClusters != 2 {
		t.Errorf("totals = %d persons %d clusters, want 4 and 2", st.TotalPersons, st.NumClusters)
	}
	if st.VisiblePersons != 4 {
		t.Errorf("visible = %d, want 4 with no filter", st.VisiblePersons)
	}

	resp = ts.request(http.MethodDelete, "/api/view/"+sid, nil)
	assertStatusCode(t, resp, http.StatusOK)

	resp = ts.request(http.MethodGet, "/api/view/"+sid, nil)
	assertStatusCode(t, resp, http.StatusNotFound)
}

func TestViewUnknownSession(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.request(http.MethodGet, "/api/view/doesnotexist", nil)
	assertStatusCode(t, resp, http.StatusNotFound)
}

func TestViewFilter(t *testing.T) {
	ts := setupTestServer(t)
	sid := ts.openSession()

	resp := ts.request(http.MethodPost, "/api/view/"+sid+"/filter", map[string]interface{}{"cluster_id": 0})
	assertStatusCode(t, resp, http.StatusOK)
	st := decodeState(t, resp)
	if st.VisiblePersons != 2 {
		t.Errorf("visible = %d, want 2 for cluster 0", st.VisiblePersons)
	}
	if st.SelectedCluster == nil || *st.SelectedCluster != 0 {
		t.Errorf("selected_cluster = %v, want 0", st.SelectedCluster)
	}

	resp = ts.request(http.MethodPost, "/api/view/"+sid+"/filter", map[string]interface{}{"cluster_id": nil})
	assertStatusCode(t, resp, http.StatusOK)
	st = decodeState(t, resp)
	if st.VisiblePersons != 4 {
		t.Errorf("visible = %d, want 4 after clearing the filter", st.VisiblePersons)
	}
	if st.SelectedCluster != nil {
		t.Errorf("selected_cluster = %v, want nil", *st.SelectedCluster)
	}
}

func TestViewSelectAndDetail(t *testing.T) {
	ts := setupTestServer(t)
	sid := ts.openSession()

	resp := ts.request(http.MethodPost, "/api/view/"+sid+"/select", map[string]interface{}{"person_id": "Q1"})
	assertStatusCode(t, resp, http.StatusOK)
	st := decodeState(t, resp)
	if st.SelectedPerson == nil || *st.SelectedPerson != "Q1" {
		t.Fatalf("selected_person = %v, want Q1", st.SelectedPerson)
	}

	// The detail panel loads asynchronously.
	var detail view.DetailState
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp = ts.request(http.MethodGet, "/api/view/"+sid+"/detail", nil)
		assertStatusCode(t, resp, http.StatusOK)
		if err := json.Unmarshal(readBody(t, resp), &detail); err != nil {
			t.Fatalf("failed to decode detail: %v", err)
		}
		if detail.Status == view.DetailReady || detail.Status == view.DetailError {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if detail.Status != view.DetailReady {
		t.Fatalf("detail status = %q, want ready", detail.Status)
	}
	if detail.Person == nil || detail.Person.PersonID != "Q1" {
		t.Fatalf("detail person = %+v, want Q1", detail.Person)
	}
	if detail.Person.TotalEvents != 12 {
		t.Errorf("detail total_events = %d, want 12", detail.Person.TotalEvents)
	}
}

func TestViewClickOnEmptySpaceKeepsSelection(t *testing.T) {
	ts := setupTestServer(t)
	sid := ts.openSession()

	resp := ts.request(http.MethodPost, "/api/view/"+sid+"/select", map[string]interface{}{"person_id": "Q1"})
	assertStatusCode(t, resp, http.StatusOK)

	resp = ts.request(http.MethodPost, "/api/view/"+sid+"/click", map[string]interface{}{"x": 1, "y": 1})
	assertStatusCode(t, resp, http.StatusOK)
	var out struct {
		Hit   bool       `json:"hit"`
		State view.State `json:"state"`
	}
	if err := json.Unmarshal(readBody(t, resp), &out); err != nil {
		t.Fatalf("failed to decode click response: %v", err)
	}
	if out.Hit {
		t.Error("click at the viewport corner reported a hit")
	}
	if out.State.SelectedPerson == nil || *out.State.SelectedPerson != "Q1" {
		t.Errorf("selected_person = %v after empty click, want Q1", out.State.SelectedPerson)
	}
}

func TestViewCamera(t *testing.T) {
	ts := setupTestServer(t)
	sid := ts.openSession()

	resp := ts.request(http.MethodPost, "/api/view/"+sid+"/camera", map[string]interface{}{
		"rotate": map[string]float64{"dyaw": 0.5, "dpitch": 0.1},
		"zoom":   map[string]float64{"factor": 2},
	})
	assertStatusCode(t, resp, http.StatusOK)
	st := decodeState(t, resp)
	if math.Abs(st.Camera.Yaw-1.1) > 1e-9 {
		t.Errorf("camera yaw = %v, want 1.1", st.Camera.Yaw)
	}
	if st.Camera.Distance >= 40 {
		t.Errorf("camera distance = %v, want closer than the default 40", st.Camera.Distance)
	}
}

func TestViewHover(t *testing.T) {
	ts := setupTestServer(t)
	sid := ts.openSession()

	resp := ts.request(http.MethodGet, "/api/view/"+sid+"/hover?x=1&y=1", nil)
	assertStatusCode(t, resp, http.StatusOK)
	var tip view.Tooltip
	if err := json.Unmarshal(readBody(t, resp), &tip); err != nil {
		t.Fatalf("failed to decode tooltip: %v", err)
	}
	if tip.Hit {
		t.Error("hover at the viewport corner reported a hit")
	}

	resp = ts.request(http.MethodGet, "/api/view/"+sid+"/hover", nil)
	assertStatusCode(t, resp, http.StatusBadRequest)
}

func TestViewFramePNG(t *testing.T) {
	ts := setupTestServer(t)
	sid := ts.openSession()

	resp := ts.request(http.MethodGet, "/api/view/"+sid+"/frame.png?width=320&height=240", nil)
	assertStatusCode(t, resp, http.StatusOK)
	assertContentType(t, resp, "image/png")
	if cc := resp.Header.Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", cc)
	}
	assertPNG(t, readBody(t, resp))
}

func TestViewSceneHTML(t *testing.T) {
	ts := setupTestServer(t)
	sid := ts.openSession()

	resp := ts.request(http.MethodGet, "/api/view/"+sid+"/scene.html", nil)
	assertStatusCode(t, resp, http.StatusOK)
	assertContentType(t, resp, "text/html")
	if body := string(readBody(t, resp)); !strings.Contains(body, "echarts") {
		t.Error("scene export does not embed an echarts chart")
	}
}

func TestViewReloadRecoversFromFailedLoad(t *testing.T) {
	ts := setupTestServer(t)
	ts.upstream.setFailLoads(true)

	// A failed initial load still opens the session.
	resp := ts.request(http.MethodPost, "/api/view", map[string]interface{}{})
	assertStatusCode(t, resp, http.StatusCreated)
	var out struct {
		SessionID string     `json:"session_id"`
		State     view.State `json:"state"`
	}
	if err := json.Unmarshal(readBody(t, resp), &out); err != nil {
		t.Fatalf("failed to decode open response: %v", err)
	}
	if out.State.Ready {
		t.Error("session reports ready after a failed load")
	}
	if out.State.LoadError == "" {
		t.Error("state carries no load error after a failed load")
	}

	ts.upstream.setFailLoads(false)
	resp = ts.request(http.MethodPost, "/api/view/"+out.SessionID+"/reload", nil)
	assertStatusCode(t, resp, http.StatusOK)
	st := decodeState(t, resp)
	if !st.Ready || st.LoadError != "" {
		t.Errorf("state after reload = ready %v load_error %q, want ready and no error", st.Ready, st.LoadError)
	}
	if st.TotalPersons != 4 {
		t.Errorf("total_persons = %d after reload, want 4", st.TotalPersons)
	}
}

func TestPlacementLifecycle(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.request(http.MethodPost, "/api/placements", map[string]interface{}{
		"name": "Test User",
		"life_events": []map[string]interface{}{
			{"event_type": "education", "event_title": "PhD in Physics", "organization": "MIT"},
		},
	})
	assertStatusCode(t, resp, http.StatusAccepted)
	m := assertJSONFields(t, readBody(t, resp), []string{"job_id", "status"})
	jobID, _ := m["job_id"].(string)
	if jobID == "" {
		t.Fatal("submit returned an empty job id")
	}

	status := ""
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp = ts.request(http.MethodGet, "/api/placements/"+jobID, nil)
		assertStatusCode(t, resp, http.StatusOK)
		m = assertJSONFields(t, readBody(t, resp), []string{"job_id", "status", "phase"})
		status, _ = m["status"].(string)
		if status == "completed" || status == "failed" || status == "cancelled" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if status != "completed" {
		t.Fatalf("placement status = %q, want completed (error: %v)", status, m["error"])
	}

	resp = ts.request(http.MethodGet, "/api/placements/"+jobID+"/result", nil)
	assertStatusCode(t, resp, http.StatusOK)
	var out struct {
		JobID  string                `json:"job_id"`
		Result lifeapi.EmbedResponse `json:"result"`
	}
	if err := json.Unmarshal(readBody(t, resp), &out); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if out.Result.UserCoordinates.X != 0.2 {
		t.Errorf("user_coordinates.x = %v, want 0.2", out.Result.UserCoordinates.X)
	}
	// Sparse upstream responses are enriched from the loaded dataset.
	if out.Result.NearestCluster == nil || out.Result.NearestCluster.ClusterID != 0 {
		t.Errorf("nearest_cluster = %+v, want cluster 0", out.Result.NearestCluster)
	}
	if len(out.Result.SimilarPersons) == 0 {
		t.Error("similar_persons is empty after enrichment")
	}

	if got := ts.upstream.count("/api/v1/generate-embedding"); got != 1 {
		t.Errorf("upstream embedding requests = %d, want 1", got)
	}
}

func TestPlacementValidation(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.request(http.MethodPost, "/api/placements", map[string]interface{}{
		"name":        "No Events",
		"life_events": []map[string]interface{}{},
	})
	assertStatusCode(t, resp, http.StatusBadRequest)

	resp = ts.request(http.MethodPost, "/api/placements", map[string]interface{}{
		"life_events": []map[string]interface{}{{"event_title": "Missing type"}},
	})
	assertStatusCode(t, resp, http.StatusBadRequest)
}

func TestPlacementUnknownJob(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.request(http.MethodGet, "/api/placements/nosuchjob", nil)
	assertStatusCode(t, resp, http.StatusNotFound)

	resp = ts.request(http.MethodGet, "/api/placements/nosuchjob/result", nil)
	assertStatusCode(t, resp, http.StatusNotFound)

	resp = ts.request(http.MethodDelete, "/api/placements/nosuchjob", nil)
	assertStatusCode(t, resp, http.StatusNotFound)
}

func TestPlacementCancelWhileRunning(t *testing.T) {
	manager, err := NewPlacementManager(PlacementManagerConfig{
		MaxConcurrent: 1,
		SQLitePath:    filepath.Join(t.TempDir(), "placements.db"),
	})
	if err != nil {
		t.Fatalf("failed to create placement manager: %v", err)
	}
	started := make(chan struct{})
	manager.Executor = func(ctx context.Context, jobID string, req lifeapi.EmbedRequest) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}
	manager.Start()
	t.Cleanup(manager.Stop)

	ts := &testServer{t: t, router: NewRouter(RouterConfig{Placements: manager}), manager: manager}

	resp := ts.request(http.MethodPost, "/api/placements", map[string]interface{}{
		"life_events": []map[string]interface{}{
			{"event_type": "work", "event_title": "First job"},
		},
	})
	assertStatusCode(t, resp, http.StatusAccepted)
	m := assertJSONFields(t, readBody(t, resp), []string{"job_id", "status"})
	jobID, _ := m["job_id"].(string)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("placement job never started")
	}

	// The result is not available while the job runs.
	resp = ts.request(http.MethodGet, "/api/placements/"+jobID+"/result", nil)
	assertStatusCode(t, resp, http.StatusBadRequest)

	resp = ts.request(http.MethodDelete, "/api/placements/"+jobID, nil)
	assertStatusCode(t, resp, http.StatusOK)
	m = assertJSONFields(t, readBody(t, resp), []string{"job_id", "cancelled"})
	if cancelled, _ := m["cancelled"].(bool); !cancelled {
		t.Error("cancel of a running job reported cancelled=false")
	}

	status := ""
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp = ts.request(http.MethodGet, "/api/placements/"+jobID, nil)
		m = assertJSONFields(t, readBody(t, resp), []string{"status"})
		status, _ = m["status"].(string)
		if status == "cancelled" || status == "failed" || status == "completed" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if status != "cancelled" {
		t.Errorf("final status = %q, want cancelled", status)
	}
}

func TestCORSHeaders(t *testing.T) {
	ts := setupTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/visualization", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	resp := w.Result()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got == "" {
		t.Error("preflight response carries no Access-Control-Allow-Origin header")
	}
}
