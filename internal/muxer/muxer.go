package muxer

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"

	"hdget/internal/domain"
)

// Muxer combines separately downloaded video and audio elementary streams
// into one container file. It is an external collaborator of the download
// engine: the engine only guarantees two complete streams and invokes it.
type Muxer interface {
	Mux(ctx context.Context, videoPath, audioPath, outputPath string) error
}

// FFmpeg muxes by shelling out to an ffmpeg binary with stream copy, so no
// re-encoding happens.
type FFmpeg struct {
	binary string
	logger *logrus.Logger
}

func NewFFmpeg(binary string, logger *logrus.Logger) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &FFmpeg{binary: binary, logger: logger}
}

func (m *FFmpeg) Mux(ctx context.Context, videoPath, audioPath, outputPath string) error {
	args := []string{
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-c", "copy",
		outputPath,
	}

	m.logger.Debugf("running %s %s", m.binary, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, m.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			err = fmt.Errorf("%w: %s", err, lastLine(detail))
		}
		return &domain.MuxError{VideoPath: videoPath, AudioPath: audioPath, Err: err}
	}
	return nil
}

// lastLine keeps error messages short; ffmpeg prints its banner first and
// the actual failure last.
func lastLine(s string) string {
	lines := strings.Split(s, "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

var _ Muxer = (*FFmpeg)(nil)
