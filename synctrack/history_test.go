package synctrack

import (
	"context"
	"testing"

	"bitbucket.org/mmdatafocus/shopsync_backend/utils"
)

func TestResolveHistoryStoreFallsBackToContext(t *testing.T) {
	ctx := context.Background()

	if got := resolveHistoryStore(ctx, " store-1 "); got != "store-1" {
		t.Fatalf("explicit store id must win, got %q", got)
	}

	if got := resolveHistoryStore(ctx, ""); got != "" {
		t.Fatalf("no store anywhere must stay blank, got %q", got)
	}

	ctx = utils.SetStoreIdInContext(ctx, "store-ctx")
	if got := resolveHistoryStore(ctx, ""); got != "store-ctx" {
		t.Fatalf("expected context fallback, got %q", got)
	}
	if got := resolveHistoryStore(ctx, "store-1"); got != "store-1" {
		t.Fatalf("explicit store id must win over context, got %q", got)
	}
}
