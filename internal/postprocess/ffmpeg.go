package postprocess

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// ErrFfmpegNotFound means no transcoder binary could be located.
var ErrFfmpegNotFound = errors.New("ffmpeg binary not found")

// FfmpegError carries the transcoder's stderr after a non-zero exit.
type FfmpegError struct {
	Stderr string
}

func (e *FfmpegError) Error() string {
	return "ffmpeg failed: " + e.Stderr
}

// commonFFmpegPaths are checked last during discovery.
var commonFFmpegPaths = []string{
	"/usr/bin/ffmpeg",
	"/usr/local/bin/ffmpeg",
	"/opt/homebrew/bin/ffmpeg",
}

// LocateFFmpeg finds the transcoder: FFMPEG_PATH, then a sibling of the
// executable, then PATH, then common absolute locations.
func LocateFFmpeg() (string, error) {
	if p := os.Getenv("FFMPEG_PATH"); p != "" {
		if isExecutableFile(p) {
			return p, nil
		}
		return "", fmt.Errorf("%w: FFMPEG_PATH=%s is not executable", ErrFfmpegNotFound, p)
	}

	if exe, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(exe), "ffmpeg")
		if isExecutableFile(sibling) {
			return sibling, nil
		}
	}

	if p, err := exec.LookPath("ffmpeg"); err == nil {
		return p, nil
	}

	for _, p := range commonFFmpegPaths {
		if isExecutableFile(p) {
			return p, nil
		}
	}
	return "", ErrFfmpegNotFound
}

func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}

// Remux copies the video stream and transcodes audio to AAC into out.
func Remux(ctx context.Context, ffmpegPath, videoPath, audioPath, out string) error {
	args := []string{
		"-i", videoPath,
		"-i", audioPath,
		"-c:v", "copy",
		"-c:a", "aac",
		"-y", out,
	}
	cmd := exec.CommandContext(ctx, ffmpegPath, args...) // #nosec G204
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &FfmpegError{Stderr: stderr.String()}
		}
		return fmt.Errorf("run ffmpeg: %w", err)
	}
	return nil
}
