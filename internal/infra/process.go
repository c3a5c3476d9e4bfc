// Package infra implements infrastructure concerns (probe, process
// resolution, event storage, evidence capture).
package infra

import (
	"github.com/shirou/gopsutil/v3/process"

	"github.com/Saifurrehman2094/labguard/internal/domain"
)

// ProcessResolverImpl implements domain.ProcessResolver using gopsutil.
type ProcessResolverImpl struct{}

// NewProcessResolver creates a new process resolver.
func NewProcessResolver() domain.ProcessResolver {
	return &ProcessResolverImpl{}
}

// Resolve returns the process name and executable path for a PID.
// The executable path is best effort: the OS may deny access to it even
// when the name is readable, which is not an error.
func (r *ProcessResolverImpl) Resolve(pid int32) (string, string, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return "", "", err
	}

	name, err := p.Name()
	if err != nil {
		return "", "", err
	}

	exe, err := p.Exe()
	if err != nil {
		exe = ""
	}

	return name, exe, nil
}

// IsRunning checks if a PID exists and is running.
func (r *ProcessResolverImpl) IsRunning(pid int32) bool {
	running, err := process.PidExists(pid)
	return err == nil && running
}

// Ensure ProcessResolverImpl implements domain.ProcessResolver.
var _ domain.ProcessResolver = (*ProcessResolverImpl)(nil)
