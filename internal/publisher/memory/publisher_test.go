package memory

import (
	"context"
	"testing"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

func TestNotifierStoresRecords(t *testing.T) {
	t.Parallel()

	n := New()
	if err := n.Notify(context.Background(), harvest.CollectionRecord{URL: "a"}); err != nil {
		t.Fatalf("unexpected notify error: %v", err)
	}
	if err := n.Notify(context.Background(), harvest.CollectionRecord{URL: "b"}); err != nil {
		t.Fatalf("unexpected notify error: %v", err)
	}

	recs := n.Records()
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].URL != "a" || recs[1].URL != "b" {
		t.Fatalf("records not kept in order: %+v", recs)
	}

	recs[0].URL = "modified"
	if n.Records()[0].URL == "modified" {
		t.Fatal("expected Records() to return a copy")
	}
}
