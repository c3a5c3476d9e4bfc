//go:build integration

package integration

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/Saifurrehman2094/labguard/internal/domain"
	"github.com/Saifurrehman2094/labguard/internal/infra"
	"github.com/Saifurrehman2094/labguard/internal/monitor"
)

// switchableProbe lets the test script focus changes at will.
type switchableProbe struct {
	mu       sync.Mutex
	identity domain.ApplicationIdentity
	err      error
}

func (p *switchableProbe) Sample() (domain.ApplicationIdentity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.identity, p.err
}

func (p *switchableProbe) focus(identity domain.ApplicationIdentity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.identity = identity
	p.err = nil
}

func (p *switchableProbe) breakProbe(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// fileCapturer writes a marker file per violation instead of a screenshot.
type fileCapturer struct {
	dir string
}

func (c *fileCapturer) Capture(ctx context.Context, sessionID, violationID, hint string) (string, error) {
	dir := filepath.Join(c.dir, sessionID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	path := filepath.Join(dir, violationID+".png")
	if err := os.WriteFile(path, []byte("evidence"), 0600); err != nil {
		return "", err
	}
	return path, nil
}

var _ = Describe("Monitoring Session", func() {
	var (
		tmpDir     string
		store      *infra.EncryptedEventStore
		probe      *switchableProbe
		controller *monitor.Controller
		sessionID  string
	)

	browser := domain.ApplicationIdentity{Name: "Firefox", ProcessID: 100, NormalizedName: "firefox"}
	game := domain.ApplicationIdentity{Name: "Steam", ProcessID: 200, NormalizedName: "steam"}

	eventTypes := func() []domain.EventType {
		events, err := store.ListEvents(context.Background(), sessionID)
		Expect(err).NotTo(HaveOccurred())
		types := make([]domain.EventType, len(events))
		for i, e := range events {
			types[i] = e.Type
		}
		return types
	}

	violations := func() []domain.Violation {
		vs, err := store.ListViolations(context.Background(), sessionID)
		Expect(err).NotTo(HaveOccurred())
		return vs
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "labguard-integration-*")
		Expect(err).NotTo(HaveOccurred())

		key, err := infra.EnsureKey(infra.NewFileKeyProvider(tmpDir))
		Expect(err).NotTo(HaveOccurred())

		store, err = infra.NewEncryptedEventStore(tmpDir, key)
		Expect(err).NotTo(HaveOccurred())

		probe = &switchableProbe{identity: browser}
		capturer := &fileCapturer{dir: filepath.Join(tmpDir, "evidence")}
		controller = monitor.NewController(
			monitor.ControllerConfig{ErrorThreshold: 3, EventBuffer: 256},
			probe, store, capturer, zap.NewNop())

		sessionID = "integration-session"
		err = controller.Start(domain.SessionParams{
			SessionID:    sessionID,
			SubjectID:    "student-42",
			DeviceID:     "lab-pc-07",
			AllowList:    domain.AllowList{"Firefox"},
			PollInterval: monitor.MinPollInterval,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		_ = controller.Stop()
		store.Close()
		os.RemoveAll(tmpDir)
	})

	Describe("a clean session", func() {
		Context("when only allowed applications hold focus", func() {
			It("records start and end with no violations", func() {
				Eventually(eventTypes, 2*time.Second).Should(ContainElement(domain.EventApplicationChanged))

				Expect(controller.Stop()).To(Succeed())

				types := eventTypes()
				Expect(types[0]).To(Equal(domain.EventSessionStart))
				Expect(types[len(types)-1]).To(Equal(domain.EventSessionEnd))
				Expect(types).NotTo(ContainElement(domain.EventViolationOpened))
				Expect(violations()).To(BeEmpty())
			})
		})
	})

	Describe("a focus excursion", func() {
		Context("when focus moves to a disallowed application and back", func() {
			It("records one closed violation with evidence", func() {
				probe.focus(game)
				Eventually(eventTypes, 2*time.Second).Should(ContainElement(domain.EventViolationOpened))

				probe.focus(browser)
				Eventually(eventTypes, 2*time.Second).Should(ContainElement(domain.EventViolationClosed))

				Eventually(func() bool {
					vs := violations()
					return len(vs) == 1 && vs[0].EvidenceCaptured
				}, 2*time.Second).Should(BeTrue(), "evidence lands via the keyed update")

				v := violations()[0]
				Expect(v.ApplicationName).To(Equal("Steam"))
				Expect(v.IsOpen()).To(BeFalse())
				Expect(v.EvidencePath).To(BeARegularFile())
			})
		})

		Context("when the session stops while a violation is open", func() {
			It("force-closes the violation before sessionEnd", func() {
				probe.focus(game)
				Eventually(eventTypes, 2*time.Second).Should(ContainElement(domain.EventViolationOpened))

				Expect(controller.Stop()).To(Succeed())

				types := eventTypes()
				Expect(types[len(types)-1]).To(Equal(domain.EventSessionEnd))
				Expect(types[len(types)-2]).To(Equal(domain.EventViolationClosed))

				vs := violations()
				Expect(vs).To(HaveLen(1))
				Expect(vs[0].IsOpen()).To(BeFalse())
			})
		})
	})

	Describe("probe failure", func() {
		Context("when the probe keeps failing", func() {
			It("aborts the session at the error threshold", func() {
				probe.breakProbe(domain.NewProbeError(domain.ProbeOSFailure, errors.New("display server gone")))

				Eventually(func() bool {
					return !controller.Status().Active
				}, 5*time.Second).Should(BeTrue())

				types := eventTypes()
				Expect(types).To(ContainElement(domain.EventProbeError))
				Expect(types[len(types)-1]).To(Equal(domain.EventSessionEnd))

				events, err := store.ListEvents(context.Background(), sessionID)
				Expect(err).NotTo(HaveOccurred())
				Expect(events[len(events)-1].Message).To(ContainSubstring("threshold"))
			})
		})

		Context("when the probe recovers after transient errors", func() {
			It("keeps the session alive", func() {
				probe.breakProbe(domain.NewProbeError(domain.ProbeOSFailure, errors.New("transient")))
				Eventually(func() int {
					return controller.Status().ErrorCount
				}, 2*time.Second).Should(BeNumerically(">=", 1))

				probe.focus(browser)
				Eventually(func() int {
					return controller.Status().ErrorCount
				}, 2*time.Second).Should(BeZero())
				Expect(controller.Status().Active).To(BeTrue())
			})
		})
	})

	Describe("allow list update", func() {
		Context("when the focused application is removed from the allow list", func() {
			It("opens a violation without waiting for a focus change", func() {
				Eventually(eventTypes, 2*time.Second).Should(ContainElement(domain.EventApplicationChanged))

				Expect(controller.UpdateAllowList(domain.AllowList{"Notepad"})).To(Succeed())

				Eventually(eventTypes, 2*time.Second).Should(ContainElement(domain.EventViolationOpened))
				Expect(violations()[0].ApplicationName).To(Equal("Firefox"))
			})
		})
	})
})
