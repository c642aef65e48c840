//go:build deepwell_debug

package revision

import (
	"context"
	"fmt"
	"strings"
)

// assertClean verifies the working tree is clean after a commit. A dirty
// tree here means a mutation failed to capture all of its changes, which
// is a programming error, so it panics. Compiled out of release builds;
// enable with -tags deepwell_debug.
func (s *Store) assertClean(ctx context.Context) {
	out, err := s.gitOutput(ctx, "status", "--porcelain")
	if err != nil {
		panic(fmt.Sprintf("revision: status check failed: %v", err))
	}

	if status := strings.TrimSpace(string(out)); status != "" {
		panic(fmt.Sprintf("revision: dirty working tree after commit:\n%s", status))
	}
}
