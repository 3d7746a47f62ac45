// Package media runs ffmpeg to transcode, mux and trim downloaded streams.
package media

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	ioutils "github.com/handiism/mediadl/internal/io"
	"github.com/handiism/mediadl/internal/model"
)

// ffmpeg settings
const (
	VideoCodec  = "libx264"
	VideoPreset = "medium"
	VideoCRF    = "23"

	FastStartFlag = "+faststart"

	ProgressPipeTarget = "pipe:2"
	ProgressTimePrefix = "out_time_us="

	FFprobeLogLevel     = "error"
	FFprobeShowEntries  = "format=duration"
	FFprobeOutputFormat = "csv=p=0"

	// tempSuffix makes the in-progress output fail model.ParseOutputName.
	tempSuffix = "-ffmpeg"
)

// ErrNoInput is returned for a Job without inputs.
var ErrNoInput = errors.New("job has no input")

// Options configures FFmpeg.
type Options struct {
	FFmpegPath  string
	FFprobePath string
}

// Job describes one ffmpeg run producing Output.
type Job struct {
	// Video is the input carrying the video track, empty for audio-only jobs.
	Video string

	// Audio is the input carrying the audio track. It may equal Video for a
	// file holding both, and is empty for video-only jobs.
	Audio string

	Output string

	// TranscodeVideo re-encodes the video track as H.264 instead of copying it.
	TranscodeVideo bool

	// TimeRange trims the output when set.
	TimeRange *model.TimeRange

	// BitRate is the target bit rate in kbit/s, 0 to keep the source. It
	// applies to the video track when there is one, else to the audio track.
	BitRate float64
}

// FFmpeg runs the ffmpeg and ffprobe executables.
type FFmpeg struct {
	opts   Options
	logger *slog.Logger
}

// NewFFmpeg creates an FFmpeg runner.
func NewFFmpeg(opts Options, logger *slog.Logger) *FFmpeg {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.FFprobePath == "" {
		opts.FFprobePath = "ffprobe"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpeg{opts: opts, logger: logger.With("component", "ffmpeg")}
}

// Run executes job, reporting progress in [0, 1] to onProgress when the
// duration is known. Output appears only once ffmpeg succeeded.
func (f *FFmpeg) Run(ctx context.Context, job Job, onProgress func(float64)) error {
	if job.Video == "" && job.Audio == "" {
		return ErrNoInput
	}
	tmp := job.Output + tempSuffix
	args := job.Args(tmp)

	var total time.Duration
	if job.TimeRange != nil {
		total = job.TimeRange.End - job.TimeRange.Start
	} else if d, err := f.Duration(ctx, job.input()); err == nil {
		total = d
	} else {
		f.logger.Debug("duration unavailable", "file", filepath.Base(job.input()), "error", err)
	}

	f.logger.Debug("running ffmpeg", "args", strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, f.opts.FFmpegPath, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	// Wait closes the pipe, so the reader must reach EOF first.
	lines := <-monitorProgress(stderr, total, onProgress)
	err = cmd.Wait()
	if err != nil {
		os.Remove(tmp)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg %s: %w: %s", filepath.Base(job.Output), err, strings.Join(lines, "; "))
	}
	if onProgress != nil {
		onProgress(1)
	}
	return ioutils.MoveFile(ctx, tmp, job.Output)
}

func (j Job) input() string {
	if j.Video != "" {
		return j.Video
	}
	return j.Audio
}

// Args builds the ffmpeg arguments writing to out.
func (j Job) Args(out string) []string {
	args := []string{"-y", "-nostdin"}

	videoIdx, audioIdx := -1, -1
	if j.Video != "" {
		args = append(args, "-i", j.Video)
		videoIdx = 0
	}
	switch {
	case j.Audio == "":
	case j.Audio == j.Video:
		audioIdx = 0
	default:
		args = append(args, "-i", j.Audio)
		audioIdx = videoIdx + 1
	}

	if videoIdx >= 0 {
		args = append(args, "-map", strconv.Itoa(videoIdx)+":v:0")
	}
	switch {
	case audioIdx < 0:
	case audioIdx == videoIdx:
		// a single input may have no audio track
		args = append(args, "-map", strconv.Itoa(audioIdx)+":a:0?")
	default:
		args = append(args, "-map", strconv.Itoa(audioIdx)+":a:0")
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(j.Output)), ".")
	if videoIdx >= 0 {
		switch {
		case j.BitRate > 0:
			args = append(args, "-c:v", VideoCodec, "-preset", VideoPreset, "-b:v", kbps(j.BitRate))
		case j.TranscodeVideo:
			args = append(args, "-c:v", VideoCodec, "-preset", VideoPreset, "-crf", VideoCRF)
		default:
			args = append(args, "-c:v", "copy")
		}
	} else {
		args = append(args, "-vn")
	}

	if audioIdx >= 0 {
		if videoIdx < 0 && j.BitRate > 0 {
			args = append(args, "-c:a", audioCodec(ext), "-b:a", kbps(j.BitRate))
		} else {
			args = append(args, "-c:a", "copy")
		}
	} else {
		args = append(args, "-an")
	}

	if j.TimeRange != nil {
		args = append(args, "-ss", seconds(j.TimeRange.Start), "-to", seconds(j.TimeRange.End))
	}

	muxer := muxerFor(ext)
	if muxer == "mp4" || muxer == "ipod" {
		args = append(args, "-movflags", FastStartFlag)
	}
	return append(args,
		"-progress", ProgressPipeTarget,
		"-nostats",
		"-f", muxer,
		out,
	)
}

// Duration returns the duration of a media file using ffprobe.
func (f *FFmpeg) Duration(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, f.opts.FFprobePath, "-v", FFprobeLogLevel, "-show_entries", FFprobeShowEntries, "-of", FFprobeOutputFormat, path)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("failed to run ffprobe: %w", err)
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// monitorProgress reads ffmpeg's -progress output until EOF and returns the
// last non-progress lines, which carry the error message on failure.
func monitorProgress(stderr io.Reader, total time.Duration, onProgress func(float64)) <-chan []string {
	const keep = 5
	done := make(chan []string, 1)
	go func() {
		var tail []string
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if t, ok := parseProgressLine(line); ok {
				if total > 0 && onProgress != nil {
					onProgress(min(1, float64(t)/float64(total)))
				}
				continue
			}
			if line == "" || strings.Contains(line, "=") {
				continue
			}
			tail = append(tail, line)
			if len(tail) > keep {
				tail = tail[1:]
			}
		}
		done <- tail
	}()
	return done
}

// parseProgressLine parses "out_time_us=123456".
func parseProgressLine(line string) (time.Duration, bool) {
	s, ok := strings.CutPrefix(line, ProgressTimePrefix)
	if !ok {
		return 0, false
	}
	us, err := strconv.ParseInt(s, 10, 64)
	if err != nil || us < 0 {
		return 0, false
	}
	return time.Duration(us) * time.Microsecond, true
}

func muxerFor(ext string) string {
	switch ext {
	case "m4a":
		return "ipod"
	case "mp3":
		return "mp3"
	case "webm":
		return "webm"
	case "mkv":
		return "matroska"
	case "opus", "ogg":
		return "ogg"
	default:
		return "mp4"
	}
}

func audioCodec(ext string) string {
	switch ext {
	case "mp3":
		return "libmp3lame"
	case "opus", "ogg", "webm":
		return "libopus"
	default:
		return "aac"
	}
}

func kbps(rate float64) string {
	return strconv.FormatFloat(rate, 'f', 0, 64) + "k"
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
