package infra

import (
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Saifurrehman2094/labguard/internal/classify"
	"github.com/Saifurrehman2094/labguard/internal/domain"
)

// CommandRunner abstracts command execution for testing.
type CommandRunner interface {
	Output(name string, args ...string) ([]byte, error)
}

// RealCommandRunner executes real system commands.
type RealCommandRunner struct{}

// Output executes a command and returns its stdout.
func (r *RealCommandRunner) Output(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}

// NewForegroundProbe returns the platform probe for the current OS.
// Unsupported platforms get a stub whose Sample always fails with
// ProbeUnsupported, which the controller turns into a ProbeInitError at
// start time rather than failing silently mid-session.
func NewForegroundProbe(resolver domain.ProcessResolver, logger *zap.Logger) domain.ForegroundProbe {
	runner := &RealCommandRunner{}
	switch runtime.GOOS {
	case "darwin":
		return newDarwinProbe(runner, resolver, logger)
	case "linux":
		return newX11Probe(runner, resolver, logger)
	default:
		return &unsupportedProbe{platform: runtime.GOOS}
	}
}

// --- macOS ---

// frontmostScript asks System Events for the frontmost process. The window
// title read is wrapped in try: plenty of apps have no titled front window.
const frontmostScript = `tell application "System Events"
	set p to first application process whose frontmost is true
	set t to ""
	try
		set t to name of front window of p
	end try
	return (name of p) & linefeed & (unix id of p) & linefeed & t
end tell`

type darwinProbe struct {
	runner   CommandRunner
	resolver domain.ProcessResolver
	logger   *zap.Logger
}

func newDarwinProbe(runner CommandRunner, resolver domain.ProcessResolver, logger *zap.Logger) *darwinProbe {
	return &darwinProbe{runner: runner, resolver: resolver, logger: logger}
}

// Sample returns the frontmost application via osascript.
func (p *darwinProbe) Sample() (domain.ApplicationIdentity, error) {
	out, err := p.runner.Output("osascript", "-e", frontmostScript)
	if err != nil {
		return domain.ApplicationIdentity{}, classifyExecError(err)
	}

	lines := strings.SplitN(strings.TrimRight(string(out), "\n"), "\n", 3)
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		// Nothing frontmost (login window, mid-switch): valid empty sample.
		return domain.ApplicationIdentity{}, nil
	}

	identity := domain.ApplicationIdentity{Name: strings.TrimSpace(lines[0])}
	if len(lines) > 1 {
		if pid, perr := strconv.Atoi(strings.TrimSpace(lines[1])); perr == nil {
			identity.ProcessID = int32(pid)
		}
	}
	if len(lines) > 2 {
		identity.WindowTitle = strings.TrimSpace(lines[2])
	}

	if identity.ProcessID > 0 {
		if _, exe, rerr := p.resolver.Resolve(identity.ProcessID); rerr == nil {
			identity.ExecutablePath = exe
		}
	}

	identity.NormalizedName = classify.Normalize(identity.Name)
	return identity, nil
}

// --- Linux / X11 ---

type x11Probe struct {
	runner   CommandRunner
	resolver domain.ProcessResolver
	logger   *zap.Logger
}

func newX11Probe(runner CommandRunner, resolver domain.ProcessResolver, logger *zap.Logger) *x11Probe {
	return &x11Probe{runner: runner, resolver: resolver, logger: logger}
}

// Sample reads the active window from the root _NET_ACTIVE_WINDOW property
// and resolves its owner through _NET_WM_PID plus gopsutil.
func (p *x11Probe) Sample() (domain.ApplicationIdentity, error) {
	out, err := p.runner.Output("xprop", "-root", "_NET_ACTIVE_WINDOW")
	if err != nil {
		return domain.ApplicationIdentity{}, classifyExecError(err)
	}

	windowID := parseActiveWindowID(string(out))
	if windowID == "" || windowID == "0x0" {
		// No focused window: valid empty sample, not an error.
		return domain.ApplicationIdentity{}, nil
	}

	out, err = p.runner.Output("xprop", "-id", windowID, "_NET_WM_PID", "_NET_WM_NAME")
	if err != nil {
		// Window vanished between the two reads.
		return domain.ApplicationIdentity{}, domain.NewProbeError(domain.ProbeHandleInvalid, err)
	}

	pid, title := parseWindowProperties(string(out))
	identity := domain.ApplicationIdentity{
		WindowTitle: title,
		ProcessID:   pid,
	}

	if pid > 0 {
		name, exe, rerr := p.resolver.Resolve(pid)
		if rerr != nil {
			return domain.ApplicationIdentity{}, domain.NewProbeError(domain.ProbeHandleInvalid, rerr)
		}
		identity.Name = name
		identity.ExecutablePath = exe
	} else if title != "" {
		// Some windows never set _NET_WM_PID; fall back to the title.
		identity.Name = title
	}

	identity.NormalizedName = classify.Normalize(identity.Name)
	return identity, nil
}

// parseActiveWindowID extracts the window id from
// "_NET_ACTIVE_WINDOW(WINDOW): window id # 0x3c00041".
func parseActiveWindowID(out string) string {
	idx := strings.LastIndex(out, "#")
	if idx < 0 {
		return ""
	}
	id := strings.TrimSpace(out[idx+1:])
	if comma := strings.IndexByte(id, ','); comma >= 0 {
		id = id[:comma]
	}
	return strings.TrimSpace(id)
}

// parseWindowProperties extracts the PID and title from an xprop -id dump.
func parseWindowProperties(out string) (int32, string) {
	var pid int32
	var title string

	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "_NET_WM_PID"):
			if idx := strings.IndexByte(line, '='); idx >= 0 {
				if n, err := strconv.Atoi(strings.TrimSpace(line[idx+1:])); err == nil {
					pid = int32(n)
				}
			}
		case strings.HasPrefix(line, "_NET_WM_NAME"):
			if idx := strings.IndexByte(line, '='); idx >= 0 {
				title = strings.Trim(strings.TrimSpace(line[idx+1:]), `"`)
			}
		}
	}
	return pid, title
}

// --- unsupported platforms ---

type unsupportedProbe struct {
	platform string
}

func (p *unsupportedProbe) Sample() (domain.ApplicationIdentity, error) {
	return domain.ApplicationIdentity{}, domain.NewProbeError(
		domain.ProbeUnsupported,
		fmt.Errorf("foreground detection not supported on %s", p.platform))
}

// classifyExecError maps a command failure to a probe error kind.
// Assistive-access refusals on macOS surface as permission errors; anything
// else is a generic OS failure. The probe never retries.
func classifyExecError(err error) error {
	msg := err.Error()
	if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) > 0 {
		msg += ": " + string(exitErr.Stderr)
	}
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "assistive access") || strings.Contains(lower, "not authorized") || strings.Contains(lower, "permission") {
		return domain.NewProbeError(domain.ProbePermissionDenied, err)
	}
	return domain.NewProbeError(domain.ProbeOSFailure, err)
}

var (
	_ domain.ForegroundProbe = (*darwinProbe)(nil)
	_ domain.ForegroundProbe = (*x11Probe)(nil)
	_ domain.ForegroundProbe = (*unsupportedProbe)(nil)
)
