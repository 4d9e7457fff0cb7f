package ports

import (
	"context"
	"time"

	"musicbridge/internal/domain"
)

// DurationProbe resolves the playable duration of an audio file.
// Implementations bound their own run time; a failed or timed-out probe
// returns an error.
type DurationProbe interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
}

// TagProbe extracts format tags from an audio file. A failed probe returns
// an error and zero tags; the indexer still emits a record with empty tag
// fields in that case.
type TagProbe interface {
	Tags(ctx context.Context, path string) (domain.SongTags, error)
}
