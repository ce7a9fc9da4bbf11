package audio

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"time"
)

// Info holds stream properties of a recording.
type Info struct {
	DurationSeconds float64
	SampleRate      int
	Channels        int
	// Silent is set when the samples were inspected and no sample exceeded
	// the silence threshold. Only PCM WAV input is inspected.
	Silent bool
}

// silenceThreshold is the peak amplitude, as a fraction of full scale, below
// which a PCM recording counts as silent.
const silenceThreshold = 0.01

// ProbeFile inspects a recording with ffprobe when it is installed, and with
// the WAV header parser otherwise. PCM WAV files are always scanned for
// silence.
func ProbeFile(ctx context.Context, path string) (*Info, error) {
	wav, wavErr := ProbeWAV(path)
	if wavErr == nil {
		return wav, nil
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return nil, fmt.Errorf("ffprobe not found and not a PCM WAV file: %w", wavErr)
	}
	return ProbeFFprobe(ctx, path)
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
		Duration   string `json:"duration"`
	} `json:"streams"`
}

// ProbeFFprobe runs ffprobe against path.
func ProbeFFprobe(ctx context.Context, path string) (*Info, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var probe ffprobeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &Info{}
	info.DurationSeconds, _ = strconv.ParseFloat(probe.Format.Duration, 64)
	for _, s := range probe.Streams {
		if s.CodecType != "audio" {
			continue
		}
		info.SampleRate, _ = strconv.Atoi(s.SampleRate)
		info.Channels = s.Channels
		if info.DurationSeconds == 0 {
			info.DurationSeconds, _ = strconv.ParseFloat(s.Duration, 64)
		}
		break
	}
	return info, nil
}

var errNotWAV = errors.New("not a RIFF/WAVE file")

// ProbeWAV reads the header of an integer PCM WAV file and scans its samples
// for a peak amplitude.
func ProbeWAV(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var riff [12]byte
	if _, err := io.ReadFull(f, riff[:]); err != nil {
		return nil, errNotWAV
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, errNotWAV
	}

	var (
		format        uint16
		channels      uint16
		sampleRate    uint32
		byteRate      uint32
		bitsPerSample uint16
		haveFmt       bool
	)
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(f, hdr[:]); err != nil {
			return nil, fmt.Errorf("wav: no data chunk: %w", err)
		}
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			var fmtChunk [16]byte
			if size < 16 {
				return nil, fmt.Errorf("wav: fmt chunk too short")
			}
			if _, err := io.ReadFull(f, fmtChunk[:]); err != nil {
				return nil, err
			}
			format = binary.LittleEndian.Uint16(fmtChunk[0:2])
			channels = binary.LittleEndian.Uint16(fmtChunk[2:4])
			sampleRate = binary.LittleEndian.Uint32(fmtChunk[4:8])
			byteRate = binary.LittleEndian.Uint32(fmtChunk[8:12])
			bitsPerSample = binary.LittleEndian.Uint16(fmtChunk[14:16])
			haveFmt = true
			if _, err := f.Seek(size-16+size%2, io.SeekCurrent); err != nil {
				return nil, err
			}
		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("wav: data chunk before fmt chunk")
			}
			// WAVE_FORMAT_PCM and WAVE_FORMAT_EXTENSIBLE.
			if format != 1 && format != 0xFFFE {
				return nil, fmt.Errorf("wav: unsupported format tag %d", format)
			}
			info := &Info{SampleRate: int(sampleRate), Channels: int(channels)}
			if byteRate > 0 {
				info.DurationSeconds = float64(size) / float64(byteRate)
			}
			peak, err := peakAmplitude(io.LimitReader(f, size), bitsPerSample)
			if err != nil {
				return info, nil
			}
			info.Silent = peak < silenceThreshold
			return info, nil
		default:
			if _, err := f.Seek(size+size%2, io.SeekCurrent); err != nil {
				return nil, err
			}
		}
	}
}

// peakAmplitude returns the largest absolute sample value as a fraction of
// full scale.
func peakAmplitude(r io.Reader, bits uint16) (float64, error) {
	width := int(bits / 8)
	if width < 1 || width > 4 {
		return 0, fmt.Errorf("unsupported sample width %d", bits)
	}
	full := float64(int64(1) << (bits - 1))
	buf := make([]byte, 32*1024-(32*1024)%width)
	var peak int64
	for {
		n, err := io.ReadFull(r, buf)
		for i := 0; i+width <= n; i += width {
			var v int64
			switch width {
			case 1:
				v = int64(buf[i]) - 128 // 8-bit PCM is unsigned
			case 2:
				v = int64(int16(binary.LittleEndian.Uint16(buf[i:])))
			case 3:
				v = int64(int32(uint32(buf[i])<<8|uint32(buf[i+1])<<16|uint32(buf[i+2])<<24) >> 8)
			case 4:
				v = int64(int32(binary.LittleEndian.Uint32(buf[i:])))
			}
			if v < 0 {
				v = -v
			}
			peak = max(peak, v)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return float64(peak) / full, nil
		}
		if err != nil {
			return 0, err
		}
	}
}
