package discovery

import (
	"fmt"
	"os"

	"github.com/thesamesam/dtrace-utils/internal/config"
)

// ProcLiveChecker checks process liveness via /proc, matching the
// original's Pexists.
type ProcLiveChecker struct{}

func (ProcLiveChecker) Exists(pid uint32) bool {
	_, err := os.Stat(fmt.Sprintf("%s/%d", config.ProcBasePath, pid))
	return err == nil
}
