package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	apperrors "github.com/dygy/piano-grep/internal/errors"
	"github.com/dygy/piano-grep/internal/exec"
)

var youtubePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^https?://(www\.)?youtube\.com/watch\?v=[\w-]+`),
	regexp.MustCompile(`^https?://(www\.)?youtube\.com/shorts/[\w-]+`),
	regexp.MustCompile(`^https?://youtu\.be/[\w-]+`),
	regexp.MustCompile(`^https?://music\.youtube\.com/watch\?v=[\w-]+`),
}

// YouTubeDownloader handles downloading audio from YouTube
type YouTubeDownloader struct {
	runner *exec.Runner
}

// NewYouTubeDownloader creates a new YouTube downloader
func NewYouTubeDownloader(runner *exec.Runner) *YouTubeDownloader {
	return &YouTubeDownloader{runner: runner}
}

// IsYouTubeURL checks if the given string is a YouTube URL
func IsYouTubeURL(url string) bool {
	for _, re := range youtubePatterns {
		if re.MatchString(url) {
			return true
		}
	}
	return false
}

// Download fetches the audio track of url into outputDir using yt-dlp.
// WAV is tried first, MP3 is the fallback.
func (d *YouTubeDownloader) Download(ctx context.Context, url, outputDir string) (string, error) {
	if err := d.runner.LookPath("yt-dlp"); err != nil {
		return "", fmt.Errorf("%w (install with: pip install yt-dlp)", err)
	}

	path, err := d.download(ctx, url, outputDir, "wav")
	if err == nil || ctx.Err() != nil {
		return path, err
	}
	return d.download(ctx, url, outputDir, "mp3")
}

func (d *YouTubeDownloader) download(ctx context.Context, url, outputDir, format string) (string, error) {
	template := filepath.Join(outputDir, "input.%(ext)s")

	result, err := d.runner.Run(ctx, "yt-dlp",
		"--no-playlist",
		"--extract-audio",
		"--audio-format", format,
		"--audio-quality", "0",
		"--output", template,
		"--no-warnings",
		"--quiet",
		url,
	)
	if err != nil {
		return "", &apperrors.ProcessError{
			Stage:    "download",
			Tool:     "yt-dlp",
			ExitCode: result.ExitCode,
			Stderr:   result.Stderr,
			Cause:    err,
		}
	}

	path := filepath.Join(outputDir, "input."+format)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("yt-dlp produced no %s output: %w", format, err)
	}
	return path, nil
}

// GetVideoTitle fetches the video title for display
func (d *YouTubeDownloader) GetVideoTitle(ctx context.Context, url string) (string, error) {
	result, err := d.runner.Run(ctx, "yt-dlp", "--get-title", "--no-warnings", url)
	if err != nil {
		return "", err
	}

	title := strings.TrimSpace(result.Stdout)
	if title == "" {
		return "YouTube Video", nil
	}

	if len(title) > 50 {
		title = title[:47] + "..."
	}

	return title, nil
}
