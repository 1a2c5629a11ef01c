//go:build linux

package plugin

import "syscall"

// applyLimits sets CPU-time and address-space caps via setrlimit and
// returns a restore func. Best-effort: a limit that cannot be read or
// set is skipped without an error and the caller still executes
// (spec.md §9(d) treats this
// as best-effort, not a hard guarantee).
func applyLimits(limits ResourceLimits) (func(), error) {
	var previous []savedLimit

	if limits.CPUSeconds > 0 {
		prev, err := setAndSave(syscall.RLIMIT_CPU, limits.CPUSeconds)
		if err == nil {
			previous = append(previous, prev)
		}
	}
	if limits.MemoryBytes > 0 {
		prev, err := setAndSave(syscall.RLIMIT_AS, limits.MemoryBytes)
		if err == nil {
			previous = append(previous, prev)
		}
	}

	return func() {
		for _, p := range previous {
			_ = syscall.Setrlimit(p.resource, &p.rlimit)
		}
	}, nil
}

type savedLimit struct {
	resource int
	rlimit   syscall.Rlimit
}

func setAndSave(resource int, value uint64) (savedLimit, error) {
	var current syscall.Rlimit
	if err := syscall.Getrlimit(resource, &current); err != nil {
		return savedLimit{}, err
	}
	saved := savedLimit{resource: resource, rlimit: current}

	next := current
	next.Cur = value
	if next.Max != syscall.RLIM_INFINITY && value > next.Max {
		next.Max = value
	}
	if err := syscall.Setrlimit(resource, &next); err != nil {
		return savedLimit{}, err
	}
	return saved, nil
}
