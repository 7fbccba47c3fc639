package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/wolfman30/telehealth-ai-platform/pkg/logging"
	"golang.org/x/sync/errgroup"
)

// DefaultFFmpegPath resolves ffmpeg from PATH.
const DefaultFFmpegPath = "ffmpeg"

// ErrEmptyAudio is returned when there is nothing to transcode.
var ErrEmptyAudio = errors.New("audio: empty input")

// TranscodeError reports a failure of the external encoder. Stderr holds
// whatever the process printed before failing.
type TranscodeError struct {
	Stderr string
	Err    error
}

func (e *TranscodeError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("audio: transcode failed: %v", e.Err)
	}
	return fmt.Sprintf("audio: transcode failed: %v: %s", e.Err, e.Stderr)
}

func (e *TranscodeError) Unwrap() error { return e.Err }

// Runner executes an external process with streaming stdio.
type Runner interface {
	Run(ctx context.Context, name string, args []string, stdin io.Reader, stdout, stderr io.Writer) error
}

// ExecRunner runs processes through os/exec, pumping stdin and stdout
// concurrently so large inputs cannot deadlock the pipe.
type ExecRunner struct{}

// Run starts the process and blocks until it exits and both pipes drain.
func (ExecRunner) Run(ctx context.Context, name string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = stderr

	in, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	out, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	var g errgroup.Group
	g.Go(func() error {
		_, copyErr := io.Copy(in, stdin)
		closeErr := in.Close()
		if copyErr != nil {
			return copyErr
		}
		return closeErr
	})
	g.Go(func() error {
		_, copyErr := io.Copy(stdout, out)
		return copyErr
	})
	pumpErr := g.Wait()

	// Exit status explains a broken pipe better than the pipe error does.
	if err := cmd.Wait(); err != nil {
		return err
	}
	return pumpErr
}

// TranscoderConfig configures a Transcoder.
type TranscoderConfig struct {
	FFmpegPath string
	Format     Format
	Runner     Runner
	Logger     *logging.Logger
}

// Transcoder decodes compressed recordings (webm/opus, ogg, mp4, wav...) into
// raw PCM by piping them through ffmpeg.
type Transcoder struct {
	ffmpegPath string
	format     Format
	runner     Runner
	logger     *logging.Logger
}

// NewTranscoder creates a transcoder targeting cfg.Format, or ChannelFormat
// when unset.
func NewTranscoder(cfg TranscoderConfig) *Transcoder {
	if strings.TrimSpace(cfg.FFmpegPath) == "" {
		cfg.FFmpegPath = DefaultFFmpegPath
	}
	if cfg.Format.SampleRate == 0 {
		cfg.Format = ChannelFormat
	}
	if cfg.Runner == nil {
		cfg.Runner = ExecRunner{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Transcoder{
		ffmpegPath: cfg.FFmpegPath,
		format:     cfg.Format,
		runner:     cfg.Runner,
		logger:     cfg.Logger,
	}
}

// Format returns the output format.
func (t *Transcoder) Format() Format {
	return t.format
}

// Transcode converts the compressed input to PCM in the configured format.
// On failure no partial output is returned.
func (t *Transcoder) Transcode(ctx context.Context, compressed []byte) ([]byte, error) {
	if len(compressed) == 0 {
		return nil, ErrEmptyAudio
	}
	// Clients that already record WAV in the channel format skip ffmpeg.
	if f, pcm, err := DecodeWAV(compressed); err == nil && f == t.format && len(pcm) > 0 {
		t.logger.Debug("audio: wav input already in channel format", "input_bytes", len(compressed))
		return bytes.Clone(pcm), nil
	}

	var stdout, stderr bytes.Buffer
	err := t.runner.Run(ctx, t.ffmpegPath, t.args(), bytes.NewReader(compressed), &stdout, &stderr)
	if err != nil {
		terr := &TranscodeError{Stderr: strings.TrimSpace(stderr.String()), Err: err}
		t.logger.Error("audio: ffmpeg failed", "error", err, "stderr", terr.Stderr, "input_bytes", len(compressed))
		return nil, terr
	}

	t.logger.Debug("audio: transcoded",
		"input_bytes", len(compressed),
		"output_bytes", stdout.Len(),
		"sample_rate", t.format.SampleRate,
	)
	return stdout.Bytes(), nil
}

func (t *Transcoder) args() []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
		"-vn",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", strconv.Itoa(t.format.Channels),
		"-ar", strconv.Itoa(t.format.SampleRate),
		"pipe:1",
	}
}
