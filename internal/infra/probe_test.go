package infra

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Saifurrehman2094/labguard/internal/domain"
)

// fakeCommandRunner replays canned outputs per command invocation.
type fakeCommandRunner struct {
	outputs []fakeOutput
	pos     int
}

type fakeOutput struct {
	out []byte
	err error
}

func (r *fakeCommandRunner) Output(name string, args ...string) ([]byte, error) {
	if r.pos >= len(r.outputs) {
		return nil, errors.New("unexpected command invocation")
	}
	o := r.outputs[r.pos]
	r.pos++
	return o.out, o.err
}

// fakeResolver implements domain.ProcessResolver for testing.
type fakeResolver struct {
	name    string
	exe     string
	err     error
	running bool
}

func (r *fakeResolver) Resolve(pid int32) (string, string, error) {
	if r.err != nil {
		return "", "", r.err
	}
	return r.name, r.exe, nil
}

func (r *fakeResolver) IsRunning(pid int32) bool {
	return r.running
}

func TestDarwinProbeParsesFrontmostApp(t *testing.T) {
	runner := &fakeCommandRunner{outputs: []fakeOutput{
		{out: []byte("Safari\n412\nApple Start Page\n")},
	}}
	resolver := &fakeResolver{name: "Safari", exe: "/Applications/Safari.app/Contents/MacOS/Safari"}
	probe := newDarwinProbe(runner, resolver, zap.NewNop())

	identity, err := probe.Sample()

	require.NoError(t, err)
	assert.Equal(t, "Safari", identity.Name)
	assert.Equal(t, int32(412), identity.ProcessID)
	assert.Equal(t, "Apple Start Page", identity.WindowTitle)
	assert.Equal(t, "/Applications/Safari.app/Contents/MacOS/Safari", identity.ExecutablePath)
	assert.Equal(t, "safari", identity.NormalizedName)
}

func TestDarwinProbeUntitledWindow(t *testing.T) {
	runner := &fakeCommandRunner{outputs: []fakeOutput{
		{out: []byte("Terminal\n901\n\n")},
	}}
	probe := newDarwinProbe(runner, &fakeResolver{name: "Terminal"}, zap.NewNop())

	identity, err := probe.Sample()

	require.NoError(t, err)
	assert.Equal(t, "Terminal", identity.Name)
	assert.Empty(t, identity.WindowTitle)
}

func TestDarwinProbeEmptyOutputIsValidEmptySample(t *testing.T) {
	runner := &fakeCommandRunner{outputs: []fakeOutput{
		{out: []byte("\n")},
	}}
	probe := newDarwinProbe(runner, &fakeResolver{}, zap.NewNop())

	identity, err := probe.Sample()

	require.NoError(t, err)
	assert.True(t, identity.IsEmpty())
}

func TestDarwinProbePermissionDenied(t *testing.T) {
	runner := &fakeCommandRunner{outputs: []fakeOutput{
		{err: errors.New("osascript is not allowed assistive access")},
	}}
	probe := newDarwinProbe(runner, &fakeResolver{}, zap.NewNop())

	_, err := probe.Sample()

	var probeErr *domain.ProbeError
	require.ErrorAs(t, err, &probeErr)
	assert.Equal(t, domain.ProbePermissionDenied, probeErr.Kind)
}

func TestDarwinProbeOSFailure(t *testing.T) {
	runner := &fakeCommandRunner{outputs: []fakeOutput{
		{err: errors.New("exit status 1")},
	}}
	probe := newDarwinProbe(runner, &fakeResolver{}, zap.NewNop())

	_, err := probe.Sample()

	var probeErr *domain.ProbeError
	require.ErrorAs(t, err, &probeErr)
	assert.Equal(t, domain.ProbeOSFailure, probeErr.Kind)
}

func TestX11ProbeResolvesActiveWindow(t *testing.T) {
	runner := &fakeCommandRunner{outputs: []fakeOutput{
		{out: []byte("_NET_ACTIVE_WINDOW(WINDOW): window id # 0x3c00041\n")},
		{out: []byte("_NET_WM_PID(CARDINAL) = 2345\n_NET_WM_NAME(UTF8_STRING) = \"Mozilla Firefox\"\n")},
	}}
	resolver := &fakeResolver{name: "firefox", exe: "/usr/lib/firefox/firefox"}
	probe := newX11Probe(runner, resolver, zap.NewNop())

	identity, err := probe.Sample()

	require.NoError(t, err)
	assert.Equal(t, "firefox", identity.Name)
	assert.Equal(t, int32(2345), identity.ProcessID)
	assert.Equal(t, "Mozilla Firefox", identity.WindowTitle)
	assert.Equal(t, "/usr/lib/firefox/firefox", identity.ExecutablePath)
}

func TestX11ProbeNoFocusedWindow(t *testing.T) {
	runner := &fakeCommandRunner{outputs: []fakeOutput{
		{out: []byte("_NET_ACTIVE_WINDOW(WINDOW): window id # 0x0\n")},
	}}
	probe := newX11Probe(runner, &fakeResolver{}, zap.NewNop())

	identity, err := probe.Sample()

	require.NoError(t, err)
	assert.True(t, identity.IsEmpty())
}

func TestX11ProbeWindowVanished(t *testing.T) {
	runner := &fakeCommandRunner{outputs: []fakeOutput{
		{out: []byte("_NET_ACTIVE_WINDOW(WINDOW): window id # 0x3c00041\n")},
		{err: errors.New("X Error of failed request: BadWindow")},
	}}
	probe := newX11Probe(runner, &fakeResolver{}, zap.NewNop())

	_, err := probe.Sample()

	var probeErr *domain.ProbeError
	require.ErrorAs(t, err, &probeErr)
	assert.Equal(t, domain.ProbeHandleInvalid, probeErr.Kind)
}

func TestX11ProbeTitleFallbackWithoutPID(t *testing.T) {
	runner := &fakeCommandRunner{outputs: []fakeOutput{
		{out: []byte("_NET_ACTIVE_WINDOW(WINDOW): window id # 0x3c00041\n")},
		{out: []byte("_NET_WM_PID:  not found.\n_NET_WM_NAME(UTF8_STRING) = \"xterm\"\n")},
	}}
	probe := newX11Probe(runner, &fakeResolver{}, zap.NewNop())

	identity, err := probe.Sample()

	require.NoError(t, err)
	assert.Equal(t, "xterm", identity.Name)
	assert.Equal(t, int32(0), identity.ProcessID)
}

func TestParseActiveWindowID(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want string
	}{
		{
			name: "normal window id",
			out:  "_NET_ACTIVE_WINDOW(WINDOW): window id # 0x3c00041",
			want: "0x3c00041",
		},
		{
			name: "trailing comma",
			out:  "_NET_ACTIVE_WINDOW(WINDOW): window id # 0x3c00041, 0x0",
			want: "0x3c00041",
		},
		{
			name: "no hash marker",
			out:  "_NET_ACTIVE_WINDOW:  not found.",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseActiveWindowID(tt.out))
		})
	}
}

func TestUnsupportedProbe(t *testing.T) {
	probe := &unsupportedProbe{platform: "plan9"}

	_, err := probe.Sample()

	var probeErr *domain.ProbeError
	require.ErrorAs(t, err, &probeErr)
	assert.Equal(t, domain.ProbeUnsupported, probeErr.Kind)
	assert.Contains(t, err.Error(), "plan9")
}
