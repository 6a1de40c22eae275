package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pathway-labs/pathway-go/internal/domain"
	"github.com/pathway-labs/pathway-go/internal/repo"
)

// DefaultSnapshotTTL bounds how stale the in-memory adjacency snapshot may
// get before the next read rebuilds it from the durable store. Mutations
// through this store always invalidate the snapshot immediately; the TTL only
// covers edges written by other processes.
const DefaultSnapshotTTL = 5 * time.Minute

// Store owns the milestone dependency edge set. All mutations go through it
// so the acyclicity invariant is checked before any edge is persisted.
type Store struct {
	milestones repo.MilestoneRepository
	deps       repo.DependencyRepository
	ttl        time.Duration
	now        func() time.Time

	mu       sync.Mutex
	snapshot *adjacency
	loadedAt time.Time
}

// adjacency is a point-in-time index of the edge set. Nodes and edges are
// flat values keyed by id; relationships are map lookups, never embedded
// pointers.
type adjacency struct {
	edges          []domain.Dependency
	byMilestone    map[string][]domain.Dependency
	byPrerequisite map[string][]domain.Dependency
}

func NewStore(milestones repo.MilestoneRepository, deps repo.DependencyRepository) *Store {
	if milestones == nil || deps == nil {
		return nil
	}
	return &Store{
		milestones: milestones,
		deps:       deps,
		ttl:        DefaultSnapshotTTL,
		now:        time.Now,
	}
}

// AddEdge validates and persists a new dependency edge. It fails with
// domain.ErrSelfDependency, domain.ErrDuplicateEdge or
// domain.ErrWouldCreateCycle before anything is written.
func (s *Store) AddEdge(ctx context.Context, edge domain.Dependency) error {
	if s == nil {
		return fmt.Errorf("graph store not initialized")
	}
	edge.MilestoneID = strings.TrimSpace(edge.MilestoneID)
	edge.PrerequisiteID = strings.TrimSpace(edge.PrerequisiteID)
	if err := edge.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	adj, err := s.loadLocked(ctx)
	if err != nil {
		return err
	}
	for _, existing := range adj.byMilestone[edge.MilestoneID] {
		if existing.PrerequisiteID == edge.PrerequisiteID {
			return domain.ErrDuplicateEdge
		}
	}
	// A path from the prerequisite back to the milestone over existing edges
	// means the new edge would close a loop.
	if pathExists(adj, edge.PrerequisiteID, edge.MilestoneID) {
		return domain.ErrWouldCreateCycle
	}

	if err := s.deps.Insert(ctx, edge); err != nil {
		return err
	}
	s.snapshot = nil
	return nil
}

// RemoveEdge deletes an existing edge. It fails with domain.ErrEdgeNotFound
// when the pair is not present.
func (s *Store) RemoveEdge(ctx context.Context, milestoneID, prerequisiteID string) error {
	if s == nil {
		return fmt.Errorf("graph store not initialized")
	}
	milestoneID = strings.TrimSpace(milestoneID)
	prerequisiteID = strings.TrimSpace(prerequisiteID)
	if milestoneID == "" || prerequisiteID == "" {
		return fmt.Errorf("milestone id and prerequisite id are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.deps.Delete(ctx, milestoneID, prerequisiteID); err != nil {
		return err
	}
	s.snapshot = nil
	return nil
}

// Prerequisites returns the outgoing edges of a milestone: the edges it
// requires.
func (s *Store) Prerequisites(ctx context.Context, milestoneID string) ([]domain.Dependency, error) {
	adj, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return cloneEdges(adj.byMilestone[strings.TrimSpace(milestoneID)]), nil
}

// Dependents returns the incoming edges of a milestone: the edges of
// milestones that require it.
func (s *Store) Dependents(ctx context.Context, milestoneID string) ([]domain.Dependency, error) {
	adj, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return cloneEdges(adj.byPrerequisite[strings.TrimSpace(milestoneID)]), nil
}

// Invalidate drops the in-memory snapshot so the next read reloads from the
// durable store.
func (s *Store) Invalidate() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.snapshot = nil
	s.mu.Unlock()
}

// Chain walks the prerequisite tree of a milestone breadth-first and returns
// the visited edges with their depth, nearest first. Optional and parallel
// edges are included only when includeOptional is set.
func (s *Store) Chain(ctx context.Context, milestoneID string, includeOptional bool) ([]ChainEntry, error) {
	adj, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	type frame struct {
		id    string
		depth int
	}
	seen := map[string]bool{strings.TrimSpace(milestoneID): true}
	queue := []frame{{id: strings.TrimSpace(milestoneID), depth: 0}}
	entries := make([]ChainEntry, 0)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, edge := range adj.byMilestone[current.id] {
			if !includeOptional && !edge.Blocking() {
				continue
			}
			entries = append(entries, ChainEntry{Edge: edge, Depth: current.depth + 1})
			if !seen[edge.PrerequisiteID] {
				seen[edge.PrerequisiteID] = true
				queue = append(queue, frame{id: edge.PrerequisiteID, depth: current.depth + 1})
			}
		}
	}
	return entries, nil
}

// ChainEntry is one edge visited by Chain, annotated with its distance from
// the requested milestone.
type ChainEntry struct {
	Edge  domain.Dependency
	Depth int
}

// Snapshot reports the full graph for observability.
func (s *Store) Snapshot(ctx context.Context) (domain.GraphSnapshot, error) {
	adj, err := s.load(ctx)
	if err != nil {
		return domain.GraphSnapshot{}, err
	}
	nodes, err := s.milestones.List(ctx, repo.MilestoneFilter{})
	if err != nil {
		return domain.GraphSnapshot{}, fmt.Errorf("list milestones: %w", err)
	}

	byID := make(map[string]domain.Milestone, len(nodes))
	for _, node := range nodes {
		byID[node.ID] = node
	}

	edges := make([]domain.GraphEdge, 0, len(adj.edges))
	maxOut := 0
	for _, edge := range adj.edges {
		edges = append(edges, domain.GraphEdge{
			MilestoneCode:    byID[edge.MilestoneID].Code,
			PrerequisiteCode: byID[edge.PrerequisiteID].Code,
			Type:             edge.Type,
			RequiredPct:      edge.MinimumCompletionPercentage,
		})
	}
	roots := 0
	for _, node := range nodes {
		if len(adj.byMilestone[node.ID]) == 0 {
			roots++
		}
		if out := len(adj.byPrerequisite[node.ID]); out > maxOut {
			maxOut = out
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].MilestoneCode != edges[j].MilestoneCode {
			return edges[i].MilestoneCode < edges[j].MilestoneCode
		}
		return edges[i].PrerequisiteCode < edges[j].PrerequisiteCode
	})

	return domain.GraphSnapshot{
		Nodes:       nodes,
		Edges:       edges,
		NodeCount:   len(nodes),
		EdgeCount:   len(edges),
		RootCount:   roots,
		MaxOutDeg:   maxOut,
		GeneratedAt: s.now().UTC(),
	}, nil
}

func (s *Store) load(ctx context.Context) (*adjacency, error) {
	if s == nil {
		return nil, fmt.Errorf("graph store not initialized")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

func (s *Store) loadLocked(ctx context.Context) (*adjacency, error) {
	if s.snapshot != nil && s.now().Sub(s.loadedAt) < s.ttl {
		return s.snapshot, nil
	}
	edges, err := s.deps.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load edges: %w", err)
	}
	adj := &adjacency{
		edges:          edges,
		byMilestone:    make(map[string][]domain.Dependency),
		byPrerequisite: make(map[string][]domain.Dependency),
	}
	for _, edge := range edges {
		adj.byMilestone[edge.MilestoneID] = append(adj.byMilestone[edge.MilestoneID], edge)
		adj.byPrerequisite[edge.PrerequisiteID] = append(adj.byPrerequisite[edge.PrerequisiteID], edge)
	}
	s.snapshot = adj
	s.loadedAt = s.now()
	return adj, nil
}

func cloneEdges(edges []domain.Dependency) []domain.Dependency {
	out := make([]domain.Dependency, len(edges))
	copy(out, edges)
	return out
}
