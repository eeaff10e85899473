// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package media

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"iter"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"

	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

var (
	_ Decoder        = (*FFmpeg)(nil)
	_ AudioExtractor = (*FFmpeg)(nil)
)

// FFmpeg decodes through the ffprobe and ffmpeg executables.
type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
}

// NewFFmpeg resolves both tools on PATH (or uses the given paths). It fails
// with a not-found error when either is missing.
func NewFFmpeg(ffmpegPath, ffprobePath string) (*FFmpeg, error) {
	ff, err := lookTool(ffmpegPath, "ffmpeg")
	if err != nil {
		return nil, err
	}
	fp, err := lookTool(ffprobePath, "ffprobe")
	if err != nil {
		return nil, err
	}
	return &FFmpeg{FFmpegPath: ff, FFprobePath: fp}, nil
}

func lookTool(configured, name string) (string, error) {
	if configured == "" {
		configured = name
	}
	p, err := exec.LookPath(configured)
	if err != nil {
		return "", reelerr.Wrap(err, reelerr.CodeMediaToolNotFound, name+" not found; install ffmpeg or set ingest."+name,
			reelerr.Field("tool", name))
	}
	return p, nil
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType    string            `json:"codec_type"`
		Width        int               `json:"width"`
		Height       int               `json:"height"`
		RFrameRate   string            `json:"r_frame_rate"`
		NbFrames     string            `json:"nb_frames"`
		Duration     string            `json:"duration"`
		Tags         map[string]string `json:"tags"`
		SideDataList []sideData        `json:"side_data_list"`
	} `json:"streams"`
}

type sideData struct {
	Rotation float64 `json:"rotation"`
}

func (f *FFmpeg) Probe(ctx context.Context, path string) (Metadata, error) {
	if _, err := os.Stat(path); err != nil {
		return Metadata{}, reelerr.Wrap(err, reelerr.CodeMediaSourceUnreadable, "cannot open video", reelerr.FieldPath(path))
	}

	cmd := exec.CommandContext(ctx, f.FFprobePath,
		"-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", path)
	out, err := cmd.Output()
	if err != nil {
		return Metadata{}, reelerr.Wrap(err, reelerr.CodeMediaSourceUnreadable, "ffprobe failed", reelerr.FieldPath(path))
	}
	meta, err := parseProbe(out)
	if err != nil {
		return Metadata{}, reelerr.Wrap(err, reelerr.CodeMediaSourceUnreadable, "cannot read video metadata", reelerr.FieldPath(path))
	}
	return meta, nil
}

func parseProbe(raw []byte) (Metadata, error) {
	var probe probeOutput
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Metadata{}, fmt.Errorf("parsing ffprobe output: %w", err)
	}

	var meta Metadata
	meta.Duration = parseFloat(probe.Format.Duration)

	var video bool
	var nbFrames int
	for _, s := range probe.Streams {
		switch s.CodecType {
		case "video":
			if video {
				continue
			}
			video = true
			meta.Width, meta.Height = s.Width, s.Height
			// ffmpeg autorotates on decode, so frames come out in display
			// orientation.
			if quarterTurn(s.Tags["rotate"], s.SideDataList) {
				meta.Width, meta.Height = meta.Height, meta.Width
			}
			meta.FPS = parseRate(s.RFrameRate)
			nbFrames, _ = strconv.Atoi(s.NbFrames)
			if meta.Duration == 0 {
				meta.Duration = parseFloat(s.Duration)
			}
		case "audio":
			meta.HasAudio = true
		}
	}
	if !video {
		return Metadata{}, errors.New("no video stream")
	}

	meta.TotalFrames = nbFrames
	if meta.TotalFrames <= 0 {
		meta.TotalFrames = int(math.Round(meta.Duration * meta.FPS))
	}
	return meta, nil
}

// quarterTurn reports whether the stream's display rotation is 90 or 270
// degrees. Newer ffprobe reports a display matrix in side data; older builds
// use the rotate tag.
func quarterTurn(tag string, side []sideData) bool {
	rot := parseFloat(tag)
	for _, sd := range side {
		if sd.Rotation != 0 {
			rot = sd.Rotation
		}
	}
	return int(math.Abs(math.Round(rot)))%180 == 90
}

// parseRate parses ffprobe's "num/den" (or plain decimal) frame rate.
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return parseFloat(s)
	}
	n, d := parseFloat(num), parseFloat(den)
	if d == 0 {
		return 0
	}
	return n / d
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// selectFilter picks frames Start, Start+Step, ... below End by decode index.
func selectFilter(p Plan) string {
	return fmt.Sprintf(`select='gte(n\,%d)*lt(n\,%d)*not(mod(n-%d\,%d))'`, p.Start, p.End, p.Start, p.Step)
}

// videoFilter selects the planned frames and pins the output geometry to
// the probed size, so every raw frame is exactly Width x Height.
func videoFilter(p Plan) string {
	return fmt.Sprintf("%s,scale=%d:%d", selectFilter(p), p.Width, p.Height)
}

// Decode streams raw RGBA frames out of a single ffmpeg process. ffmpeg
// exiting with an error before the plan is exhausted yields a decode error
// carrying its stderr.
func (f *FFmpeg) Decode(ctx context.Context, path string, plan Plan) iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		if plan.Width <= 0 || plan.Height <= 0 {
			yield(Frame{}, reelerr.New(reelerr.CodeMediaDecodeFailure, "unknown frame geometry", reelerr.FieldPath(path)))
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		cmd := exec.CommandContext(ctx, f.FFmpegPath,
			"-v", "error", "-nostdin",
			"-i", path,
			"-vf", videoFilter(plan),
			"-vsync", "0",
			"-f", "rawvideo", "-pix_fmt", "rgba", "-")
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			yield(Frame{}, reelerr.Wrap(err, reelerr.CodeMediaDecodeFailure, "opening ffmpeg pipe"))
			return
		}
		if err := cmd.Start(); err != nil {
			yield(Frame{}, reelerr.Wrap(err, reelerr.CodeMediaDecodeFailure, "starting ffmpeg"))
			return
		}
		// Cancelling kills the process; Wait reaps it on every other exit path.
		waited := false
		defer func() {
			cancel()
			if !waited {
				_ = cmd.Wait()
			}
		}()

		r := bufio.NewReaderSize(stdout, 1<<20)
		size := plan.Width * plan.Height * 4
		for idx := range plan.Indices() {
			img := image.NewRGBA(image.Rect(0, 0, plan.Width, plan.Height))
			if _, err := io.ReadFull(r, img.Pix[:size]); err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					// Output ended early. A clean exit means the container
					// advertised more frames than it holds.
					waited = true
					if werr := cmd.Wait(); werr != nil && ctx.Err() == nil {
						yield(Frame{}, reelerr.Wrap(werr, reelerr.CodeMediaDecodeFailure,
							"ffmpeg exited early: "+strings.TrimSpace(stderr.String()), reelerr.FieldPath(path)))
					}
					return
				}
				yield(Frame{}, reelerr.Wrap(err, reelerr.CodeMediaDecodeFailure,
					"reading frame: "+strings.TrimSpace(stderr.String())))
				return
			}
			if !yield(Frame{Index: idx, Timestamp: plan.Timestamp(idx), Image: img}, nil) {
				return
			}
		}
	}
}

func (f *FFmpeg) FrameAt(ctx context.Context, path string, timestamp float64) (image.Image, error) {
	cmd := exec.CommandContext(ctx, f.FFmpegPath,
		"-v", "error", "-nostdin",
		"-ss", strconv.FormatFloat(max(0, timestamp), 'f', 3, 64),
		"-i", path,
		"-frames:v", "1",
		"-f", "image2pipe", "-vcodec", "png", "-")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, reelerr.Wrap(err, reelerr.CodeMediaDecodeFailure,
			"ffmpeg frame grab: "+strings.TrimSpace(stderr.String()), reelerr.FieldPath(path))
	}
	if len(out) == 0 {
		return nil, reelerr.New(reelerr.CodeMediaDecodeFailure,
			fmt.Sprintf("no frame at %.3fs", timestamp), reelerr.FieldPath(path))
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, reelerr.Wrap(err, reelerr.CodeMediaDecodeFailure, "decoding grabbed frame", reelerr.FieldPath(path))
	}
	return img, nil
}

// ExtractAudio writes 16 kHz mono signed 16-bit PCM WAV.
func (f *FFmpeg) ExtractAudio(ctx context.Context, src, dst string) error {
	cmd := exec.CommandContext(ctx, f.FFmpegPath,
		"-y", "-v", "error", "-nostdin",
		"-i", src,
		"-vn", "-ac", "1", "-ar", "16000", "-acodec", "pcm_s16le",
		"-f", "wav", dst)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return reelerr.Wrap(err, reelerr.CodeMediaAudioExtract,
			"ffmpeg audio extraction: "+strings.TrimSpace(stderr.String()), reelerr.FieldPath(src))
	}
	return nil
}
