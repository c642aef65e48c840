//go:build !deepwell_debug

package revision

import "context"

// assertClean is a debug-only invariant check; see check_debug.go.
func (s *Store) assertClean(ctx context.Context) {}
