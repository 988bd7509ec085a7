package placestore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/junayed-hasan/life-trajectory-embeddings/internal/lifeapi"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "placements.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

func sampleJob(id string) *PlacementJob {
	return &PlacementJob{
		ID:     id,
		Status: JobStatusQueued,
		Params: lifeapi.EmbedRequest{
			Name: strPtr("Test User"),
			LifeEvents: []lifeapi.LifeEvent{
				{EventType: "education", EventTitle: "PhD in Physics", Organization: strPtr("MIT")},
			},
		},
		CreatedAt: time.Now(),
	}
}

func TestJobLifecycle(t *testing.T) {
	s := newTestStore(t)

	if err := s.CreateJob(sampleJob("job1")); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	job, err := s.GetJob("job1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job == nil || job.Status != JobStatusQueued {
		t.Fatalf("unexpected job after create: %+v", job)
	}
	if len(job.Params.LifeEvents) != 1 || job.Params.LifeEvents[0].EventTitle != "PhD in Physics" {
		t.Errorf("params did not round-trip: %+v", job.Params)
	}
	if job.StartedAt != nil || job.FinishedAt != nil {
		t.Error("queued job carries start/finish times")
	}

	if err := s.UpdateJobStarted("job1"); err != nil {
		t.Fatalf("UpdateJobStarted: %v", err)
	}
	if err := s.UpdateJobPhase("job1", "contacting upstream"); err != nil {
		t.Fatalf("UpdateJobPhase: %v", err)
	}

	job, _ = s.GetJob("job1")
	if job.Status != JobStatusRunning || job.StartedAt == nil {
		t.Errorf("job not marked running: %+v", job)
	}
	if job.Phase != "contacting upstream" {
		t.Errorf("phase = %q", job.Phase)
	}

	if err := s.UpdateJobStatus("job1", JobStatusCompleted, ""); err != nil {
		t.Fatalf("UpdateJobStatus: %v", err)
	}
	job, _ = s.GetJob("job1")
	if job.Status != JobStatusCompleted || job.FinishedAt == nil {
		t.Errorf("job not marked completed: %+v", job)
	}
}

func TestGetJobMissing(t *testing.T) {
	s := newTestStore(t)
	job, err := s.GetJob("nope")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job != nil {
		t.Fatalf("expected nil for missing job, got %+v", job)
	}
}

func TestResultRoundTrip(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateJob(sampleJob("job1")); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	resp := &lifeapi.EmbedResponse{
		UserCoordinates:    lifeapi.Coordinate3D{X: 1.5, Y: -2, Z: 0.25},
		NarrativeText:      "Studied PhD in Physics from MIT.",
		EmbeddingDimension: 768,
		SimilarPersons: []lifeapi.SimilarPerson{
			{PersonID: "Q1", Name: "Ada Lovelace", Distance: 0.5, SimilarityScore: 2.0 / 3.0},
		},
	}
	if err := s.SaveResult("job1", resp); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	got, err := s.GetResult("job1")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if got == nil {
		t.Fatal("result missing after save")
	}
	if got.UserCoordinates != resp.UserCoordinates || got.NarrativeText != resp.NarrativeText {
		t.Errorf("result did not round-trip: %+v", got)
	}
	if len(got.SimilarPersons) != 1 || got.SimilarPersons[0].PersonID != "Q1" {
		t.Errorf("similar persons did not round-trip: %+v", got.SimilarPersons)
	}

	if missing, err := s.GetResult("other"); err != nil || missing != nil {
		t.Fatalf("missing result: got %+v, %v", missing, err)
	}
}

func TestRestartRecovery(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().Add(-3 * time.Second)
	for i, id := range []string{"a", "b", "c"} {
		job := sampleJob(id)
		job.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := s.CreateJob(job); err != nil {
			t.Fatalf("CreateJob(%s): %v", id, err)
		}
	}
	if err := s.UpdateJobStarted("b"); err != nil {
		t.Fatalf("UpdateJobStarted: %v", err)
	}

	if err := s.MarkRunningAsFailed("server restarted"); err != nil {
		t.Fatalf("MarkRunningAsFailed: %v", err)
	}
	job, _ := s.GetJob("b")
	if job.Status != JobStatusFailed || job.Error != "server restarted" {
		t.Errorf("running job not failed on recovery: %+v", job)
	}

	queued, err := s.ListQueuedJobs()
	if err != nil {
		t.Fatalf("ListQueuedJobs: %v", err)
	}
	if len(queued) != 2 {
		t.Fatalf("queued jobs = %d, want 2", len(queued))
	}
	if queued[0].ID != "a" || queued[1].ID != "c" {
		t.Errorf("queued order = [%s %s], want [a c]", queued[0].ID, queued[1].ID)
	}
}

func TestDeleteJobAndExpiry(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateJob(sampleJob("gone")); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := s.SaveResult("gone", &lifeapi.EmbedResponse{NarrativeText: "x"}); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	if err := s.DeleteJob("gone"); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if job, _ := s.GetJob("gone"); job != nil {
		t.Error("job survived deletion")
	}
	if res, _ := s.GetResult("gone"); res != nil {
		t.Error("result survived deletion")
	}

	// A finished job and a queued one; a cutoff in the future removes only
	// the finished job.
	if err := s.CreateJob(sampleJob("old")); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := s.UpdateJobStatus("old", JobStatusCompleted, ""); err != nil {
		t.Fatalf("UpdateJobStatus: %v", err)
	}
	if err := s.CreateJob(sampleJob("fresh")); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	n, err := s.DeleteExpiredJobs(-1)
	if err != nil {
		t.Fatalf("DeleteExpiredJobs: %v", err)
	}
	if n != 1 {
		t.Errorf("expired %d jobs, want 1", n)
	}
	if job, _ := s.GetJob("fresh"); job == nil {
		t.Error("unfinished job was expired")
	}
}
