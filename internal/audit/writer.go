package audit

import "context"

// Writer persists a batch of audit entries in one transactional
// operation. Implemented by internal/storage against Postgres; the
// pipeline never writes a partial batch.
type Writer interface {
	WriteBatch(ctx context.Context, entries []Entry) error
}
