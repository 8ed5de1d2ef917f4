package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"stagewhisper/internal/ports"
)

// PulseDevices discovers PulseAudio sources with pactl and captures them
// through an ffmpeg subprocess producing little-endian 32-bit float samples.
type PulseDevices struct {
	pactlCommand  string
	ffmpegCommand string
}

// NewPulseDevices builds a device layer around the given binaries. Empty
// names fall back to whatever is on PATH.
func NewPulseDevices(pactlCommand, ffmpegCommand string) *PulseDevices {
	if pactlCommand == "" {
		pactlCommand = "pactl"
	}
	if ffmpegCommand == "" {
		ffmpegCommand = "ffmpeg"
	}
	return &PulseDevices{pactlCommand: pactlCommand, ffmpegCommand: ffmpegCommand}
}

type pactlSource struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// EnumerateSources lists capturable sources. Monitor sources (system audio)
// order before microphones so the first source follows what is playing.
func (d *PulseDevices) EnumerateSources(ctx context.Context) ([]ports.SourceInfo, error) {
	cmd := exec.CommandContext(ctx, d.pactlCommand, "--format=json", "list", "sources")

	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("pactl failed: %w: %s", err, bytes.TrimSpace(exitErr.Stderr))
		}
		return nil, fmt.Errorf("pactl failed: %w", err)
	}

	var parsed []pactlSource
	if err := json.Unmarshal(output, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse pactl source list: %w", err)
	}

	sources := make([]ports.SourceInfo, 0, len(parsed))
	for _, source := range parsed {
		if source.Name == "" {
			continue
		}
		sources = append(sources, ports.SourceInfo{
			ID:      source.Name,
			Name:    source.Description,
			Monitor: strings.HasSuffix(source.Name, ".monitor"),
		})
	}
	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].Monitor && !sources[j].Monitor
	})
	return sources, nil
}

// AcquireStream starts an ffmpeg capture of one source. The stream carries
// interleaved f32le samples at the requested rate until Stop.
func (d *PulseDevices) AcquireStream(ctx context.Context, source ports.SourceInfo, cfg ports.CaptureConfig) (ports.MediaStream, error) {
	if source.ID == "" {
		return nil, errors.New("audio source id is empty")
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", "pulse",
		"-i", source.ID,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "f32le",
		"-",
	}

	// The context bounds acquisition only. Once the stream is handed out
	// its lifetime belongs to Stop, so the process must not die with the
	// caller's context.
	cmd := exec.Command(d.ffmpegCommand, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	// Catch captures that die instantly, typically a bad source name.
	select {
	case err := <-waitErr:
		if err != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, errors.New("ffmpeg exited before capture started")
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		return nil, ctx.Err()
	case <-time.After(250 * time.Millisecond):
	}

	return &captureStream{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

// captureStream wraps the ffmpeg subprocess behind ports.MediaStream.
type captureStream struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

func (s *captureStream) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *captureStream) Close() error {
	return s.Stop()
}

// Stop interrupts ffmpeg and waits briefly for a clean exit before killing
// it. An interrupt-driven exit status is not an error.
func (s *captureStream) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err, ok := <-s.waitErr
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if s.stopErr == nil {
				s.stopErr = closeErr
			}
		}

		if s.stopErr != nil && s.stderr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, strings.TrimSpace(s.stderr.String()))
		}
	})

	return s.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
