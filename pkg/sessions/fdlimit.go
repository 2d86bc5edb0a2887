package sessions

import (
	"os"
	"runtime"
	"syscall"

	"github.com/sirupsen/logrus"
)

// fdWarnThreshold is the fraction of the process file-descriptor limit at
// which SessionStorage starts logging warnings, per spec.md §4.4 item 1.
const fdWarnThreshold = 0.95

// checkFDLimit compares current open file descriptors against the
// process's soft RLIMIT_NOFILE, logging a warning at fdWarnThreshold and an
// error at the limit. It only logs: it returns nothing, and the cleanup
// sweep that calls it does not initiate shutdown. It is a best-effort
// diagnostic: platforms where the check cannot be performed are silently
// skipped.
func checkFDLimit(log *logrus.Logger) {
	if runtime.GOOS != "linux" || log == nil {
		return
	}

	var rlim syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rlim); err != nil {
		return
	}
	if rlim.Cur == 0 {
		return
	}

	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return
	}
	used := uint64(len(entries))
	ratio := float64(used) / float64(rlim.Cur)

	fields := logrus.Fields{"fds_used": used, "fds_limit": rlim.Cur}
	switch {
	case used >= rlim.Cur:
		log.WithFields(fields).Error("sessions: file-descriptor limit reached, shutdown required")
	case ratio >= fdWarnThreshold:
		log.WithFields(fields).Warn("sessions: approaching file-descriptor limit")
	}
}
