package infra

import (
	"context"
	"fmt"
	"image/png"
	"os"
	"path/filepath"

	"github.com/kbinani/screenshot"
	"go.uber.org/zap"

	"github.com/Saifurrehman2094/labguard/internal/domain"
)

// ScreenCapturer implements domain.EvidenceCapturer by capturing the
// primary display to a PNG under <dataDir>/evidence/<sessionID>/.
// Capture is best effort and attempted at most once per violation; the
// coordinator never retries.
type ScreenCapturer struct {
	evidenceDir string
	logger      *zap.Logger
}

// NewScreenCapturer creates a capturer writing below dataDir.
func NewScreenCapturer(dataDir string, logger *zap.Logger) *ScreenCapturer {
	return &ScreenCapturer{
		evidenceDir: filepath.Join(dataDir, "evidence"),
		logger:      logger,
	}
}

// Capture grabs display 0 and writes it as <sessionID>/<violationID>.png.
// The hint (window title at violation open) is logged only; the capture is
// always full-display.
func (c *ScreenCapturer) Capture(ctx context.Context, sessionID, violationID, hint string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &domain.CaptureError{ViolationID: violationID, Err: err}
	}

	if screenshot.NumActiveDisplays() == 0 {
		return "", &domain.CaptureError{
			ViolationID: violationID,
			Err:         fmt.Errorf("no active display"),
		}
	}

	img, err := screenshot.CaptureDisplay(0)
	if err != nil {
		return "", &domain.CaptureError{ViolationID: violationID, Err: err}
	}

	dir := filepath.Join(c.evidenceDir, sessionID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", &domain.CaptureError{ViolationID: violationID, Err: err}
	}

	path := filepath.Join(dir, violationID+".png")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return "", &domain.CaptureError{ViolationID: violationID, Err: err}
	}

	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(path)
		return "", &domain.CaptureError{ViolationID: violationID, Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", &domain.CaptureError{ViolationID: violationID, Err: err}
	}

	c.logger.Debug("captured evidence",
		zap.String("violation_id", violationID),
		zap.String("path", path),
		zap.String("hint", hint))

	return path, nil
}

// Ensure ScreenCapturer implements domain.EvidenceCapturer.
var _ domain.EvidenceCapturer = (*ScreenCapturer)(nil)
