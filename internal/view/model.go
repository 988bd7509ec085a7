// Package view implements the per-session view model: the loaded dataset,
// the orbit camera, cluster filter and person selection, the detail panel,
// and frame rendering. A Model serializes its state with a mutex because
// requests for the same session arrive concurrently.
package view

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/junayed-hasan/life-trajectory-embeddings/internal/cache"
	"github.com/junayed-hasan/life-trajectory-embeddings/internal/dataset"
	"github.com/junayed-hasan/life-trajectory-embeddings/internal/lifeapi"
	"github.com/junayed-hasan/life-trajectory-embeddings/internal/render"
)

// DetailStatus names the detail panel states.
type DetailStatus string

const (
	DetailIdle    DetailStatus = "idle"
	DetailLoading DetailStatus = "loading"
	DetailReady   DetailStatus = "ready"
	DetailError   DetailStatus = "error"
)

// DetailState is the detail panel. An error stays local to the panel: the
// dataset and selection survive it, and reselecting the person retries the
// load.
type DetailState struct {
	Status   DetailStatus          `json:"status"`
	PersonID string                `json:"person_id,omitempty"`
	Person   *lifeapi.PersonDetail `json:"person,omitempty"`
	Error    string                `json:"error,omitempty"`
}

// Tooltip is the hover payload. Hit is false when the cursor is over empty
// space.
type Tooltip struct {
	Hit          bool   `json:"hit"`
	PersonID     string `json:"person_id,omitempty"`
	Name         string `json:"name,omitempty"`
	Occupation   string `json:"occupation,omitempty"`
	ClusterLabel string `json:"cluster_label,omitempty"`
}

// Handlers are the interaction callbacks a caller registers on the view.
// OnSelect fires on a click that hits a point, OnHover on a hover that hits
// one. Empty-space clicks fire nothing.
type Handlers struct {
	OnHover  func(personID string)
	OnSelect func(personID string)
}

// State is the JSON snapshot of a view session.
type State struct {
	Ready           bool          `json:"ready"`
	LoadError       string        `json:"load_error,omitempty"`
	TotalPersons    int           `json:"total_persons"`
	VisiblePersons  int           `json:"visible_persons"`
	NumClusters     int           `json:"num_clusters"`
	SelectedCluster *int          `json:"selected_cluster"`
	SelectedPerson  *string       `json:"selected_person"`
	Camera          render.Camera `json:"camera"`
	Detail          DetailState   `json:"detail"`
}

// Model is one view session.
type Model struct {
	id       string
	client   *lifeapi.Client
	store    *dataset.Store
	renderer *render.SceneRenderer
	frames   *cache.Manager

	mu              sync.Mutex
	version         uint64
	loadErr         string
	camera          render.Camera
	selectedCluster *int
	selectedPerson  *string
	detail          DetailState
	detailSeq       uint64
	handlers        Handlers
	lastWidth       int
	lastHeight      int
}

// NewModel creates a view model with an unloaded dataset. The frame cache
// may be nil, in which case every frame is rendered fresh.
func NewModel(id string, client *lifeapi.Client, renderer *render.SceneRenderer, frames *cache.Manager) *Model {
	w, h := renderer.DefaultSize()
	return &Model{
		id:         id,
		client:     client,
		store:      dataset.NewStore(client),
		renderer:   renderer,
		frames:     frames,
		camera:     render.NewCamera(),
		detail:     DetailState{Status: DetailIdle},
		lastWidth:  w,
		lastHeight: h,
	}
}

// NewModelWithSource creates a view model whose dataset loads from source
// instead of the upstream, for serving out of a local snapshot. The client is
// still used for person detail loads and may be nil, in which case selecting
// a person reports an error in the detail panel.
func NewModelWithSource(id string, client *lifeapi.Client, source dataset.Source, renderer *render.SceneRenderer, frames *cache.Manager) *Model {
	m := NewModel(id, client, renderer, frames)
	m.store = dataset.NewStore(source)
	return m
}

// ID returns the session id the model was created under.
func (m *Model) ID() string { return m.id }

// Store exposes the model's dataset store.
func (m *Model) Store() *dataset.Store { return m.store }

// RegisterHandlers replaces the interaction callbacks.
func (m *Model) RegisterHandlers(h Handlers) {
	m.mu.Lock()
	m.handlers = h
	m.mu.Unlock()
}

// Reload runs the all-or-nothing dataset load. On failure the store is left
// with zero persons and the error is recorded for display; manual reload is
// the only recovery. Camera, filter and selection are view state and are not
// touched either way; a selected person absent from the new dataset simply
// renders without a highlight.
func (m *Model) Reload(ctx context.Context) error {
	err := m.store.LoadAll(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.version++
	if err != nil {
		m.loadErr = err.Error()
		return err
	}
	m.loadErr = ""
	return nil
}

// SelectCluster sets the cluster filter. Any filter change closes the person
// selection and its detail panel; the cluster list and camera are untouched
// and nothing is refetched. A nil id clears the filter.
func (m *Model) SelectCluster(id *int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id == nil {
		m.selectedCluster = nil
	} else {
		v := *id
		m.selectedCluster = &v
	}
	m.selectedPerson = nil
	m.detailSeq++
	m.detail = DetailState{Status: DetailIdle}
}

// SelectPerson sets or clears the person selection without touching the
// cluster filter. Selecting starts a detail load; reselecting the same
// person retries a failed one. The newest selection always wins over slower
// earlier loads.
func (m *Model) SelectPerson(id *string) {
	m.mu.Lock()
	if id == nil {
		m.selectedPerson = nil
		m.detailSeq++
		m.detail = DetailState{Status: DetailIdle}
		m.mu.Unlock()
		return
	}
	pid := *id
	m.selectedPerson = &pid
	m.detailSeq++
	seq := m.detailSeq
	m.detail = DetailState{Status: DetailLoading, PersonID: pid}
	m.mu.Unlock()

	go m.loadDetail(seq, pid)
}

// loadDetail fetches the detail record. The response applies only while its
// sequence number is still current, so a stale response never overwrites the
// panel of a newer selection.
func (m *Model) loadDetail(seq uint64, pid string) {
	var (
		person *lifeapi.PersonDetail
		err    error
	)
	if m.client != nil {
		person, err = m.client.Person(context.Background(), pid)
	} else {
		err = errors.New("no upstream configured for detail loads")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if seq != m.detailSeq {
		return
	}
	if err != nil {
		m.detail = DetailState{Status: DetailError, PersonID: pid, Error: err.Error()}
		return
	}
	m.detail = DetailState{Status: DetailReady, PersonID: pid, Person: person}
}

// Detail returns the current detail panel state.
func (m *Model) Detail() DetailState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detail
}

// Rotate orbits the camera.
func (m *Model) Rotate(dYaw, dPitch float64) {
	m.mu.Lock()
	m.camera.Rotate(dYaw, dPitch)
	m.mu.Unlock()
}

// Pan moves the camera target in the view plane.
func (m *Model) Pan(dx, dy float64) {
	m.mu.Lock()
	m.camera.Pan(dx, dy)
	m.mu.Unlock()
}

// Zoom changes the orbit distance.
func (m *Model) Zoom(factor float64) {
	m.mu.Lock()
	m.camera.Zoom(factor)
	m.mu.Unlock()
}

// Camera returns the current camera.
func (m *Model) Camera() render.Camera {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.camera
}

// Hover hit-tests the cursor against the current visible points and returns
// tooltip data. Hovering never changes selection.
func (m *Model) Hover(x, y float64) Tooltip {
	persons, points, cam, w, h, handlers := m.scene()

	screen := render.Project(points, cam, w, h)
	idx, ok := render.HitTest(screen, x, y, m.renderer.PickRadius())
	if !ok {
		return Tooltip{}
	}
	p := persons[idx]
	if handlers.OnHover != nil {
		handlers.OnHover(p.PersonID)
	}
	return Tooltip{
		Hit:          true,
		PersonID:     p.PersonID,
		Name:         p.Name,
		Occupation:   occupationSummary(p.Occupation),
		ClusterLabel: m.store.ClusterLabel(p.ClusterID),
	}
}

// Click hit-tests the cursor. A hit selects the person and fires the select
// callback; a click on empty space keeps the current selection and fires
// nothing.
func (m *Model) Click(x, y float64) (string, bool) {
	persons, points, cam, w, h, handlers := m.scene()

	screen := render.Project(points, cam, w, h)
	idx, ok := render.HitTest(screen, x, y, m.renderer.PickRadius())
	if !ok {
		return "", false
	}
	pid := persons[idx].PersonID
	if handlers.OnSelect != nil {
		handlers.OnSelect(pid)
	}
	m.SelectPerson(&pid)
	return pid, true
}

// scene snapshots everything hit testing needs under one lock.
func (m *Model) scene() ([]lifeapi.VisualizationPerson, []render.Point, render.Camera, int, int, Handlers) {
	m.mu.Lock()
	defer m.mu.Unlock()
	persons := Visible(m.store.Persons(), m.selectedCluster)
	points := renderPoints(persons, m.selectedPerson)
	return persons, points, m.camera, m.lastWidth, m.lastHeight, m.handlers
}

// Frame renders the current visible set as a PNG at the given size, via the
// frame cache when one is configured. Non-positive dimensions fall back to
// the renderer's defaults. The rendered size becomes the hit-test viewport.
func (m *Model) Frame(width, height int) ([]byte, error) {
	m.mu.Lock()
	if width <= 0 || height <= 0 {
		width, height = m.renderer.DefaultSize()
	}
	m.lastWidth, m.lastHeight = width, height
	persons := Visible(m.store.Persons(), m.selectedCluster)
	points := renderPoints(persons, m.selectedPerson)
	cam := m.camera
	key := cache.FrameKey(m.id, m.version, width, height, m.frameState())
	m.mu.Unlock()

	if m.frames != nil {
		if data, ok := m.frames.GetFrame(key); ok {
			return data, nil
		}
	}

	data, err := m.renderer.RenderScene(points, cam, width, height)
	if err != nil {
		return nil, err
	}
	if m.frames != nil {
		_ = m.frames.SetFrame(key, data)
	}
	return data, nil
}

// frameState serializes the view state that affects frame pixels. Callers
// must hold m.mu.
func (m *Model) frameState() string {
	filter := "all"
	if m.selectedCluster != nil {
		filter = strconv.Itoa(*m.selectedCluster)
	}
	selected := "none"
	if m.selectedPerson != nil {
		selected = *m.selectedPerson
	}
	c := m.camera
	return fmt.Sprintf("cam=%.5f,%.5f,%.5f,%.5f,%.5f,%.5f;cluster=%s;person=%s",
		c.Target[0], c.Target[1], c.Target[2], c.Yaw, c.Pitch, c.Distance, filter, selected)
}

// State returns a snapshot for the session endpoints.
func (m *Model) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta := m.store.Meta()
	return State{
		Ready:           m.store.Ready(),
		LoadError:       m.loadErr,
		TotalPersons:    meta.TotalPersons,
		VisiblePersons:  len(Visible(m.store.Persons(), m.selectedCluster)),
		NumClusters:     meta.NumClusters,
		SelectedCluster: copyIntPtr(m.selectedCluster),
		SelectedPerson:  copyStrPtr(m.selectedPerson),
		Camera:          m.camera,
		Detail:          m.detail,
	}
}

func renderPoints(persons []lifeapi.VisualizationPerson, selected *string) []render.Point {
	pts := make([]render.Point, len(persons))
	for i, p := range persons {
		pts[i] = render.Point{
			ID:        p.PersonID,
			Label:     p.Name,
			X:         p.X,
			Y:         p.Y,
			Z:         p.Z,
			ClusterID: p.ClusterID,
			Selected:  selected != nil && p.PersonID == *selected,
		}
	}
	return pts
}

func occupationSummary(occ []string) string {
	if len(occ) > 3 {
		occ = occ[:3]
	}
	return strings.Join(occ, ", ")
}

func copyIntPtr(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyStrPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
