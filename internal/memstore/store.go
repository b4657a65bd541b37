package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/crowdsense/crowdsense-worker/internal/db"
	"github.com/crowdsense/crowdsense-worker/internal/measurement"
)

// Store is an in-memory stand-in for the Postgres repository, used by tests
// and local runs without a database.
type Store struct {
	mu sync.RWMutex

	projects      map[string]db.Project
	submissions   []measurement.Submission
	distributions map[string]db.Distribution

	// FailComplete, when set, is returned by CompleteProject before anything is written
	FailComplete error
}

// NewStore creates a store seeded with projects
func NewStore(seed ...db.Project) *Store {
	projects := make(map[string]db.Project, len(seed))
	for _, p := range seed {
		projects[p.ID] = p
	}
	return &Store{
		projects:      projects,
		distributions: make(map[string]db.Distribution),
	}
}

func (s *Store) CreateProject(_ context.Context, p *db.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.projects[p.ID] = *p
	return nil
}

func (s *Store) GetProject(_ context.Context, id string) (*db.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &p, nil
}

func (s *Store) InsertSubmission(_ context.Context, sub *measurement.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.submissions = append(s.submissions, cloneSubmission(*sub))
	return nil
}

func (s *Store) ListSubmissions(_ context.Context, projectID string) ([]measurement.Submission, error) {
	return s.filterSubmissions(func(sub measurement.Submission) bool { return sub.ProjectID == projectID }), nil
}

func (s *Store) ListSubmissionsByContributor(_ context.Context, address string) ([]measurement.Submission, error) {
	return s.filterSubmissions(func(sub measurement.Submission) bool { return sub.ContributorAddress == address }), nil
}

func (s *Store) filterSubmissions(keep func(measurement.Submission) bool) []measurement.Submission {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []measurement.Submission
	for _, sub := range s.submissions {
		if keep(sub) {
			out = append(out, cloneSubmission(sub))
		}
	}
	return out
}

func (s *Store) CompleteProject(_ context.Context, projectID string, dist *db.Distribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailComplete != nil {
		return s.FailComplete
	}

	p, ok := s.projects[projectID]
	if !ok {
		return db.ErrNotFound
	}
	if p.Status != db.ProjectStatusActive && p.Status != db.ProjectStatusCompleted {
		return db.ErrStatusConflict
	}

	completedAt := dist.ComputedAt
	p.Status = db.ProjectStatusCompleted
	p.CompletedAt = &completedAt
	s.projects[projectID] = p

	stored := *dist
	stored.Entries = append([]db.DistributionEntry{}, dist.Entries...)
	s.distributions[projectID] = stored
	return nil
}

func (s *Store) GetDistribution(_ context.Context, projectID string) (*db.Distribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dist, ok := s.distributions[projectID]
	if !ok {
		return nil, db.ErrNotFound
	}
	dist.Entries = append([]db.DistributionEntry{}, dist.Entries...)
	return &dist, nil
}

func (s *Store) ListPayoutsByContributor(_ context.Context, address string) ([]db.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []db.Payout
	for projectID, dist := range s.distributions {
		for _, e := range dist.Entries {
			if e.ContributorAddress == address {
				out = append(out, db.Payout{
					ProjectID:  projectID,
					Units:      e.Units,
					Amount:     e.Amount,
					ComputedAt: dist.ComputedAt,
				})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProjectID < out[j].ProjectID })
	return out, nil
}

func (s *Store) ExpireProjects(_ context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, p := range s.projects {
		if p.Status == db.ProjectStatusActive && !p.EndDate.After(now) {
			p.Status = db.ProjectStatusExpired
			s.projects[id] = p
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func cloneSubmission(sub measurement.Submission) measurement.Submission {
	sub.Items = append([]measurement.DataItem(nil), sub.Items...)
	return sub
}
