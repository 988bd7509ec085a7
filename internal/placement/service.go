// Package placement runs generate-embedding jobs against the upstream and
// enriches sparse results from the local dataset.
package placement

import (
	"context"
	"errors"
	"fmt"

	"github.com/junayed-hasan/life-trajectory-embeddings/internal/dataset"
	"github.com/junayed-hasan/life-trajectory-embeddings/internal/lifeapi"
	"github.com/junayed-hasan/life-trajectory-embeddings/internal/placestore"
)

// Upstream is the slice of the API client the service uses.
type Upstream interface {
	GenerateEmbedding(ctx context.Context, req lifeapi.EmbedRequest) (*lifeapi.EmbedResponse, error)
}

// Service executes placement jobs.
type Service struct {
	client  Upstream
	dataset *dataset.Store
	store   *placestore.Store
	topK    int
}

// NewService creates a placement service. The dataset store may be nil, in
// which case results are persisted exactly as the upstream returned them.
func NewService(client Upstream, ds *dataset.Store, store *placestore.Store, topK int) *Service {
	if topK <= 0 {
		topK = 10
	}
	return &Service{
		client:  client,
		dataset: ds,
		store:   store,
		topK:    topK,
	}
}

// Validate rejects requests the upstream would refuse, so bad submissions
// fail before a job is enqueued.
func (s *Service) Validate(req lifeapi.EmbedRequest) error {
	if len(req.LifeEvents) == 0 {
		return errors.New("at least one life event is required")
	}
	for i, ev := range req.LifeEvents {
		if ev.EventType == "" {
			return fmt.Errorf("life event %d is missing event_type", i)
		}
		if ev.EventTitle == "" {
			return fmt.Errorf("life event %d is missing event_title", i)
		}
	}
	return nil
}

// Execute runs one placement job to completion in a single attempt; an
// upstream failure fails the job and is surfaced on its status for the
// caller to retry by resubmitting.
func (s *Service) Execute(ctx context.Context, jobID string, req lifeapi.EmbedRequest) error {
	if err := s.Validate(req); err != nil {
		return err
	}

	s.store.UpdateJobPhase(jobID, "contacting upstream")
	resp, err := s.client.GenerateEmbedding(ctx, req)
	if err != nil {
		return fmt.Errorf("upstream placement failed: %w", err)
	}

	s.store.UpdateJobPhase(jobID, "enriching result")
	s.enrich(ctx, resp, req)

	s.store.UpdateJobPhase(jobID, "persisting result")
	if err := s.store.SaveResult(jobID, resp); err != nil {
		return fmt.Errorf("failed to persist result: %w", err)
	}
	return nil
}

// enrich fills fields the upstream left empty. Narrative text is rebuilt
// locally; nearest cluster and similar persons come from the dataset when
// one is available. Enrichment is best-effort and never fails the job.
func (s *Service) enrich(ctx context.Context, resp *lifeapi.EmbedResponse, req lifeapi.EmbedRequest) {
	if resp.NarrativeText == "" {
		resp.NarrativeText = BuildNarrative(req)
	}
	if s.dataset == nil {
		return
	}
	if !s.dataset.Ready() {
		if err := s.dataset.LoadAll(ctx); err != nil {
			return
		}
	}
	if resp.NearestCluster == nil {
		resp.NearestCluster = s.dataset.NearestCluster(resp.UserCoordinates)
	}
	if len(resp.SimilarPersons) == 0 {
		resp.SimilarPersons = s.dataset.SimilarPersons(resp.UserCoordinates, s.topK)
	}
}
