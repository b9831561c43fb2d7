package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrUnknownSolution = errors.New("store: unknown solution")
	ErrInvalidState    = errors.New("store: invalid state")
)

// ConnectionState mirrors the remote client's connection lifecycle.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "Disconnected"
	StateConnected    ConnectionState = "Connected"
)

// SolutionRecord is the local accumulation for one remote solution. It is the
// single shape every component (orchestrator, gateway, HTTP API) uses.
type SolutionRecord struct {
	SolutionID string             `json:"solutionID"`
	Scores     map[string]float64 `json:"scores"`
	// PipelineSize is nil until a description has been cached for the solution.
	PipelineSize *int `json:"pipelineSize,omitempty"`
}

func (r *SolutionRecord) clone() SolutionRecord {
	out := SolutionRecord{
		SolutionID: r.SolutionID,
		Scores:     make(map[string]float64, len(r.Scores)),
	}
	for k, v := range r.Scores {
		out.Scores[k] = v
	}
	if r.PipelineSize != nil {
		size := *r.PipelineSize
		out.PipelineSize = &size
	}
	return out
}

// Summary is a point-in-time view of the session header.
type Summary struct {
	Generation      uint64          `json:"generation"`
	SearchID        string          `json:"searchID"`
	ConnectionState ConnectionState `json:"connectionState"`
	RankCutoff      int             `json:"rankCutoff"`
	SolutionCount   int             `json:"solutionCount"`
}

// Session is one search context. All methods are safe for concurrent use;
// merges are last-write-wins per metric key.
type Session struct {
	mu         sync.RWMutex
	generation uint64
	searchID   string
	connection ConnectionState
	rankCutoff int
	solutions  map[string]*SolutionRecord
}

func newSession(generation uint64, rankCutoff int) *Session {
	return &Session{
		generation: generation,
		connection: StateDisconnected,
		rankCutoff: rankCutoff,
		solutions:  make(map[string]*SolutionRecord),
	}
}

func (s *Session) Generation() uint64 {
	return s.generation
}

func (s *Session) RankCutoff() int {
	return s.rankCutoff
}

func (s *Session) SearchID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.searchID
}

// BindSearchID sets the remote search identifier. It can only happen once per session.
func (s *Session) BindSearchID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty search id", ErrInvalidState)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.searchID != "" {
		return fmt.Errorf("%w: search id already bound to %s", ErrInvalidState, s.searchID)
	}
	s.searchID = id
	return nil
}

func (s *Session) ConnectionState() ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connection
}

func (s *Session) SetConnectionState(state ConnectionState) {
	s.mu.Lock()
	s.connection = state
	s.mu.Unlock()
}

// RecordDiscovered inserts an empty record for id. It reports whether the id was new.
func (s *Session) RecordDiscovered(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.solutions[id]; ok {
		return false
	}
	s.solutions[id] = &SolutionRecord{SolutionID: id, Scores: make(map[string]float64)}
	return true
}

// MergeScores overwrites each named metric of a discovered solution.
func (s *Session) MergeScores(id string, values map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.solutions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSolution, id)
	}
	for metric, v := range values {
		rec.Scores[metric] = v
	}
	return nil
}

// AttachDescription records the pipeline step count of a discovered solution.
func (s *Session) AttachDescription(id string, pipelineStepCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.solutions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSolution, id)
	}
	size := pipelineStepCount
	rec.PipelineSize = &size
	return nil
}

func (s *Session) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.solutions[id]
	return ok
}

// SolutionIDs returns the discovered identifiers in lexical order.
func (s *Session) SolutionIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.solutions))
	for id := range s.solutions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns deep copies of all records, or of the named subset when ids are
// given. Unknown ids in the filter are skipped. Output is ordered by solution id.
func (s *Session) Snapshot(ids ...string) []SolutionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []SolutionRecord
	if len(ids) == 0 {
		out = make([]SolutionRecord, 0, len(s.solutions))
		for _, rec := range s.solutions {
			out = append(out, rec.clone())
		}
	} else {
		out = make([]SolutionRecord, 0, len(ids))
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			rec, ok := s.solutions[id]
			if !ok || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, rec.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SolutionID < out[j].SolutionID })
	return out
}

func (s *Session) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Summary{
		Generation:      s.generation,
		SearchID:        s.searchID,
		ConnectionState: s.connection,
		RankCutoff:      s.rankCutoff,
		SolutionCount:   len(s.solutions),
	}
}
