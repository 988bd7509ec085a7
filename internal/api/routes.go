// Package api provides HTTP handlers for the life-trajectory viewer server.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/junayed-hasan/life-trajectory-embeddings/internal/cache"
	"github.com/junayed-hasan/life-trajectory-embeddings/internal/export"
	"github.com/junayed-hasan/life-trajectory-embeddings/internal/lifeapi"
	"github.com/junayed-hasan/life-trajectory-embeddings/internal/placement"
	"github.com/junayed-hasan/life-trajectory-embeddings/internal/placestore"
	"github.com/junayed-hasan/life-trajectory-embeddings/internal/view"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Upstream    *lifeapi.Client
	Sessions    *SessionRegistry
	Payloads    *cache.Manager
	Placements  *PlacementManager
	Placer      *placement.Service
	CORSOrigins []string
	Title       string
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", healthHandler(cfg.Upstream, cfg.Sessions, cfg.Payloads))

		// Upstream passthrough with short-TTL payload caching
		r.Get("/visualization", visualizationHandler(cfg.Upstream, cfg.Payloads))
		r.Get("/clusters", clustersHandler(cfg.Upstream, cfg.Payloads))
		r.Get("/cluster/{cluster_id}", clusterHandler(cfg.Upstream, cfg.Payloads))
		r.Get("/person/{person_id}", personHandler(cfg.Upstream, cfg.Payloads))
		r.Get("/persons", personsHandler(cfg.Upstream, cfg.Payloads))

		// View sessions
		r.Post("/view", viewOpenHandler(cfg.Sessions))
		r.Route("/view/{session_id}", func(r chi.Router) {
			r.Use(sessionMiddleware(cfg.Sessions))
			r.Get("/", viewStateHandler)
			r.Delete("/", viewCloseHandler(cfg.Sessions))
			r.Post("/reload", viewReloadHandler)
			r.Post("/filter", viewFilterHandler)
			r.Post("/select", viewSelectHandler)
			r.Post("/camera", viewCameraHandler)
			r.Post("/click", viewClickHandler)
			r.Get("/hover", viewHoverHandler)
			r.Get("/frame.png", viewFrameHandler)
			r.Get("/scene.html", viewSceneHandler(cfg.Title))
			r.Get("/detail", viewDetailHandler)
		})

		// Placement job endpoints
		r.Route("/placements", func(r chi.Router) {
			r.Post("/", placementSubmitHandler(cfg.Placements, cfg.Placer))
			r.Get("/{job_id}", placementStatusHandler(cfg.Placements))
			r.Get("/{job_id}/result", placementResultHandler(cfg.Placements))
			r.Delete("/{job_id}", placementCancelHandler(cfg.Placements))
		})
	})

	return r
}

// Context key for the session's view model
type ctxKey string

const sessionModelKey ctxKey = "sessionModel"

// sessionMiddleware resolves the session from the URL and injects its view
// model into the request context.
func sessionMiddleware(sessions *SessionRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sessions == nil {
				http.Error(w, "sessions not configured", http.StatusNotImplemented)
				return
			}
			sid := chi.URLParam(r, "session_id")
			m := sessions.Get(sid)
			if m == nil {
				http.Error(w, "view session not found: "+sid, http.StatusNotFound)
				return
			}
			ctx := context.WithValue(r.Context(), sessionModelKey, m)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getSessionModel(r *http.Request) *view.Model {
	if m, ok := r.Context().Value(sessionModelKey).(*view.Model); ok {
		return m
	}
	return nil
}

// healthHandler reports viewer health plus an upstream probe.
func healthHandler(client *lifeapi.Client, sessions *SessionRegistry, payloads *cache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overall := "healthy"
		services := map[string]string{"viewer": "running"}
		if client != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			h, err := client.Health(ctx)
			cancel()
			if err != nil {
				overall = "degraded"
				services["upstream"] = "unreachable"
			} else {
				services["upstream"] = h.Status
			}
		}

		response := map[string]interface{}{
			"status":    overall,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"services":  services,
		}
		if sessions != nil {
			response["sessions"] = sessions.Len()
		}
		if payloads != nil {
			response["cache"] = payloads.Stats()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}
}

// servePayload serves an upstream JSON payload through the short-TTL payload
// cache so many sessions opening at once do not hammer the upstream.
func servePayload(w http.ResponseWriter, r *http.Request, payloads *cache.Manager, fetch func(ctx context.Context) (interface{}, error)) {
	key := cache.PayloadKey(r.URL.Path, r.URL.RawQuery)
	if payloads != nil {
		if data, ok := payloads.GetPayload(key); ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write(data)
			return
		}
	}

	out, err := fetch(r.Context())
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	data, err := json.Marshal(out)
	if err != nil {
		http.Error(w, "failed to encode payload: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if payloads != nil {
		payloads.SetPayload(key, data)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// writeUpstreamError maps an upstream failure onto the viewer's response.
// Typed HTTP errors keep their status, message and Retry-After; transport
// errors become 502.
func writeUpstreamError(w http.ResponseWriter, err error) {
	var httpErr *lifeapi.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(httpErr.RetryAfter/time.Second)))
		}
		http.Error(w, httpErr.Message, httpErr.StatusCode)
		return
	}
	http.Error(w, err.Error(), http.StatusBadGateway)
}

func visualizationHandler(client *lifeapi.Client, payloads *cache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		servePayload(w, r, payloads, func(ctx context.Context) (interface{}, error) {
			return client.Visualization(ctx)
		})
	}
}

func clustersHandler(client *lifeapi.Client, payloads *cache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		servePayload(w, r, payloads, func(ctx context.Context) (interface{}, error) {
			clusters, err := client.Clusters(ctx)
			if err != nil {
				return nil, err
			}
			return lifeapi.ClusterList{Clusters: clusters}, nil
		})
	}
}

// clusterHandler serves one cluster out of the clusters payload; the upstream
// contract has no per-cluster route.
func clusterHandler(client *lifeapi.Client, payloads *cache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(chi.URLParam(r, "cluster_id"))
		if err != nil {
			http.Error(w, "invalid cluster id", http.StatusBadRequest)
			return
		}

		key := cache.PayloadKey(r.URL.Path, "")
		if payloads != nil {
			if data, ok := payloads.GetPayload(key); ok {
				w.Header().Set("Content-Type", "application/json")
				w.Write(data)
				return
			}
		}

		clusters, err := client.Clusters(r.Context())
		if err != nil {
			writeUpstreamError(w, err)
			return
		}
		for _, c := range clusters {
			if c.ClusterID != id {
				continue
			}
			data, err := json.Marshal(c)
			if err != nil {
				http.Error(w, "failed to encode payload: "+err.Error(), http.StatusInternalServerError)
				return
			}
			if payloads != nil {
				payloads.SetPayload(key, data)
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write(data)
			return
		}
		http.Error(w, "cluster not found: "+strconv.Itoa(id), http.StatusNotFound)
	}
}

func personHandler(client *lifeapi.Client, payloads *cache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "person_id")
		servePayload(w, r, payloads, func(ctx context.Context) (interface{}, error) {
			return client.Person(ctx, id)
		})
	}
}

func personsHandler(client *lifeapi.Client, payloads *cache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := lifeapi.PersonQuery{}
		if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
			q.Limit = v
		}
		if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
			q.Offset = v
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("cluster_id")); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil {
				http.Error(w, "invalid cluster_id", http.StatusBadRequest)
				return
			}
			q.ClusterID = &v
		}
		servePayload(w, r, payloads, func(ctx context.Context) (interface{}, error) {
			return client.Persons(ctx, q)
		})
	}
}

// View session handlers

func viewOpenHandler(sessions *SessionRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sessions == nil {
			http.Error(w, "sessions not configured", http.StatusNotImplemented)
			return
		}
		m := sessions.Create()
		// A failed initial load still opens the session; the error travels in
		// state and manual reload is the only recovery.
		m.Reload(r.Context())

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"session_id": m.ID(),
			"state":      m.State(),
		})
	}
}

func viewStateHandler(w http.ResponseWriter, r *http.Request) {
	m := getSessionModel(r)
	if m == nil {
		http.Error(w, "view session not available", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m.State())
}

func viewCloseHandler(sessions *SessionRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid := chi.URLParam(r, "session_id")
		sessions.Delete(sid)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"session_id": sid,
			"closed":     true,
		})
	}
}

func viewReloadHandler(w http.ResponseWriter, r *http.Request) {
	m := getSessionModel(r)
	if m == nil {
		http.Error(w, "view session not available", http.StatusInternalServerError)
		return
	}
	m.Reload(r.Context())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m.State())
}

type filterRequest struct {
	ClusterID *int `json:"cluster_id"`
}

func viewFilterHandler(w http.ResponseWriter, r *http.Request) {
	m := getSessionModel(r)
	if m == nil {
		http.Error(w, "view session not available", http.StatusInternalServerError)
		return
	}
	var req filterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	m.SelectCluster(req.ClusterID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m.State())
}

type selectRequest struct {
	PersonID *string `json:"person_id"`
}

func viewSelectHandler(w http.ResponseWriter, r *http.Request) {
	m := getSessionModel(r)
	if m == nil {
		http.Error(w, "view session not available", http.StatusInternalServerError)
		return
	}
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	m.SelectPerson(req.PersonID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m.State())
}

type cameraRotate struct {
	DYaw   float64 `json:"dyaw"`
	DPitch float64 `json:"dpitch"`
}

type cameraPan struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

type cameraZoom struct {
	Factor float64 `json:"factor"`
}

type cameraRequest struct {
	Rotate *cameraRotate `json:"rotate"`
	Pan    *cameraPan    `json:"pan"`
	Zoom   *cameraZoom   `json:"zoom"`
}

// viewCameraHandler applies any subset of rotate/pan/zoom, in that order.
func viewCameraHandler(w http.ResponseWriter, r *http.Request) {
	m := getSessionModel(r)
	if m == nil {
		http.Error(w, "view session not available", http.StatusInternalServerError)
		return
	}
	var req cameraRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Rotate != nil {
		m.Rotate(req.Rotate.DYaw, req.Rotate.DPitch)
	}
	if req.Pan != nil {
		m.Pan(req.Pan.DX, req.Pan.DY)
	}
	if req.Zoom != nil {
		m.Zoom(req.Zoom.Factor)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m.State())
}

type clickRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func viewClickHandler(w http.ResponseWriter, r *http.Request) {
	m := getSessionModel(r)
	if m == nil {
		http.Error(w, "view session not available", http.StatusInternalServerError)
		return
	}
	var req clickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	personID, hit := m.Click(req.X, req.Y)

	response := map[string]interface{}{
		"hit":   hit,
		"state": m.State(),
	}
	if hit {
		response["person_id"] = personID
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func viewHoverHandler(w http.ResponseWriter, r *http.Request) {
	m := getSessionModel(r)
	if m == nil {
		http.Error(w, "view session not available", http.StatusInternalServerError)
		return
	}
	x, errX := strconv.ParseFloat(r.URL.Query().Get("x"), 64)
	y, errY := strconv.ParseFloat(r.URL.Query().Get("y"), 64)
	if errX != nil || errY != nil {
		http.Error(w, "missing or invalid query params: x, y", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m.Hover(x, y))
}

func viewFrameHandler(w http.ResponseWriter, r *http.Request) {
	m := getSessionModel(r)
	if m == nil {
		http.Error(w, "view session not available", http.StatusInternalServerError)
		return
	}
	width := parseFrameDimension(r.URL.Query(), "width")
	height := parseFrameDimension(r.URL.Query(), "height")

	data, err := m.Frame(width, height)
	if err != nil {
		http.Error(w, "failed to render frame: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	// Frames reflect live view state; identical renders are deduped server-side.
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

func parseFrameDimension(query url.Values, name string) int {
	raw := strings.TrimSpace(query.Get(name))
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0
	}
	if v > 4096 {
		v = 4096
	}
	return v
}

func viewSceneHandler(title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m := getSessionModel(r)
		if m == nil {
			http.Error(w, "view session not available", http.StatusInternalServerError)
			return
		}
		st := m.State()

		var buf bytes.Buffer
		err := export.WriteScene(&buf, m.Store(), export.Options{
			Title:           title,
			SelectedCluster: st.SelectedCluster,
			SelectedPerson:  st.SelectedPerson,
		})
		if err != nil {
			http.Error(w, "failed to export scene: "+err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		buf.WriteTo(w)
	}
}

func viewDetailHandler(w http.ResponseWriter, r *http.Request) {
	m := getSessionModel(r)
	if m == nil {
		http.Error(w, "view session not available", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m.Detail())
}

// Placement job handlers

func placementSubmitHandler(pm *PlacementManager, placer *placement.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pm == nil {
			http.Error(w, "placement manager not configured", http.StatusNotImplemented)
			return
		}

		var req lifeapi.EmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if placer != nil {
			if err := placer.Validate(req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		} else if len(req.LifeEvents) == 0 {
			http.Error(w, "at least one life event is required", http.StatusBadRequest)
			return
		}

		job, err := pm.Submit(req)
		if err != nil {
			http.Error(w, "failed to submit placement: "+err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"job_id": job.ID,
			"status": job.Status,
		})
	}
}

func placementStatusHandler(pm *PlacementManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pm == nil {
			http.Error(w, "placement manager not configured", http.StatusNotImplemented)
			return
		}

		jobID := chi.URLParam(r, "job_id")
		job := pm.Get(jobID)
		if job == nil {
			http.Error(w, "placement job not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"job_id":      job.ID,
			"status":      job.Status,
			"phase":       job.Phase,
			"created_at":  job.CreatedAt,
			"started_at":  job.StartedAt,
			"finished_at": job.FinishedAt,
			"error":       job.Error,
		})
	}
}

func placementResultHandler(pm *PlacementManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pm == nil {
			http.Error(w, "placement manager not configured", http.StatusNotImplemented)
			return
		}

		jobID := chi.URLParam(r, "job_id")
		job := pm.Get(jobID)
		if job == nil {
			http.Error(w, "placement job not found", http.StatusNotFound)
			return
		}
		if job.Status != placestore.JobStatusCompleted {
			http.Error(w, "placement not completed (status: "+string(job.Status)+")", http.StatusBadRequest)
			return
		}

		result, err := pm.Store().GetResult(jobID)
		if err != nil {
			http.Error(w, "failed to load result: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if result == nil {
			http.Error(w, "placement result not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"job_id": job.ID,
			"status": job.Status,
			"params": job.Params,
			"result": result,
		})
	}
}

func placementCancelHandler(pm *PlacementManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pm == nil {
			http.Error(w, "placement manager not configured", http.StatusNotImplemented)
			return
		}

		jobID := chi.URLParam(r, "job_id")
		job := pm.Get(jobID)
		if job == nil {
			http.Error(w, "placement job not found", http.StatusNotFound)
			return
		}

		cancelled := pm.Cancel(jobID)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"job_id":    jobID,
			"cancelled": cancelled,
		})
	}
}
