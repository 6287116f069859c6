// Package harvest defines core types shared across the harvesting pipeline.
package harvest

import (
	"strconv"
	"strings"
	"time"
)

// EntityID identifies one target entity. It is extracted once from the
// entity's source URL and never mutated afterwards.
type EntityID struct {
	// ParentID is the parent location (city) id, the "g" segment of the URL.
	ParentID string
	// LocationID is the entity id used for every API request, the "d" segment.
	LocationID string
}

// String renders the identifier for logs.
func (id EntityID) String() string {
	if id.ParentID == "" {
		return "d" + id.LocationID
	}
	return "g" + id.ParentID + "-d" + id.LocationID
}

// ReviewRecord is one normalized review as served by the source.
type ReviewRecord struct {
	ID          string  `json:"userReviewId"`
	Author      string  `json:"username"`
	Rating      float64 `json:"userRating"`
	Title       string  `json:"title"`
	TripType    string  `json:"tripTypeString"`
	Body        string  `json:"content"`
	Language    string  `json:"lang"`
	SubmittedAt string  `json:"submitTime"`
	Attribution string  `json:"attribution"`
}

// LocationInfo is the entity metadata displayed by the source. Rating and the
// declared review count are kept verbatim as the source states them.
type LocationInfo struct {
	Name                string `json:"attractionName"`
	ParentName          string `json:"cityName"`
	ParentID            int64  `json:"cityId"`
	Address             string `json:"address"`
	Rating              string `json:"rating"`
	DeclaredReviewCount string `json:"reviewCount"`
}

// HarvestResult is everything collected for one entity.
type HarvestResult struct {
	URL       string
	Entity    EntityID
	Info      LocationInfo
	InfoFound bool
	Languages []string
	// Reviews preserves the order in which pages and records were served.
	Reviews []ReviewRecord
}

// DeclaredCount parses the source-declared total review count.
func (r HarvestResult) DeclaredCount() (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(r.Info.DeclaredReviewCount))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// Coverage returns collected/declared when the source declared a positive count.
func (r HarvestResult) Coverage() (float64, bool) {
	declared, ok := r.DeclaredCount()
	if !ok {
		return 0, false
	}
	return float64(len(r.Reviews)) / float64(declared), true
}

// ReviewIDs lists record ids in harvest order so callers can deduplicate.
func (r HarvestResult) ReviewIDs() []string {
	ids := make([]string, 0, len(r.Reviews))
	for _, rec := range r.Reviews {
		ids = append(ids, rec.ID)
	}
	return ids
}

// Outcome is the per-entity result the orchestrator counts.
type Outcome string

// Outcome values.
const (
	// OutcomeCommitted means the record, document, and (best-effort) log were written.
	OutcomeCommitted Outcome = "committed"
	// OutcomeRolledBack means the document write failed and the DB record was removed.
	OutcomeRolledBack Outcome = "rolled-back"
	// OutcomeDBRejected means the DB insert failed and no other sink was touched.
	OutcomeDBRejected Outcome = "db-rejected"
	// OutcomeFailed means the entity never reached the writer.
	OutcomeFailed Outcome = "failed"
)

// Succeeded reports whether the outcome counts as a success.
func (o Outcome) Succeeded() bool {
	return o == OutcomeCommitted
}

// CollectionRecord mirrors the authoritative DB row and the audit log line.
type CollectionRecord struct {
	Source       string
	URL          string
	Collector    string
	CollectedAt  time.Time
	ReviewCount  int
	DocumentPath string
}

// Document is the structured document persisted per entity.
type Document struct {
	URL                 string         `json:"url"`
	ParentName          string         `json:"cityName"`
	ParentID            int64          `json:"cityId"`
	Name                string         `json:"attractionName"`
	Address             string         `json:"address"`
	DeclaredReviewCount string         `json:"reviewCount"`
	Rating              string         `json:"rating"`
	Languages           []string       `json:"languages,omitempty"`
	Reviews             []ReviewRecord `json:"comments"`
	CollectedAt         string         `json:"collectedAt"`
	Collector           string         `json:"collector"`
}
