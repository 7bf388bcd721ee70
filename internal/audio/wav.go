package audio

import (
	"fmt"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	resampling "github.com/tphakala/go-audio-resampling"

	apperrors "github.com/dygy/piano-grep/internal/errors"
)

// LoadWAV decodes a PCM WAV file into a mono track. Channels are averaged and
// the result is resampled to targetRate when it differs from the file's rate.
// targetRate <= 0 keeps the file's rate.
func LoadWAV(path string, targetRate int) (*Track, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: invalid wav file %s", apperrors.ErrCorruptedFile, path)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", apperrors.ErrCorruptedFile, path, err)
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels < 1 {
		return nil, fmt.Errorf("%w: invalid wav buffer %s", apperrors.ErrCorruptedFile, path)
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = int(dec.BitDepth)
	}
	samples := downmix(buf.Data, buf.Format.NumChannels, bitDepth)

	track := NewTrack(samples, buf.Format.SampleRate)
	if targetRate > 0 && targetRate != track.SampleRate {
		return Resample(track, targetRate)
	}
	return track, nil
}

// downmix averages interleaved integer PCM into normalized mono samples
func downmix(data []int, channels, bitDepth int) []float64 {
	scale := 1.0
	if bitDepth > 1 {
		scale = math.Exp2(float64(bitDepth - 1))
	}
	if bitDepth == 8 {
		// 8-bit WAV is unsigned
		for i := range data {
			data[i] -= 128
		}
	}

	frames := len(data) / channels
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(data[i*channels+c])
		}
		out[i] = sum / float64(channels) / scale
	}
	return out
}

// Resample converts a track to rate
func Resample(t *Track, rate int) (*Track, error) {
	if t.SampleRate == rate || len(t.Samples) == 0 {
		return NewTrack(t.Samples, rate), nil
	}

	out, err := resampling.ResampleMono(t.Samples, float64(t.SampleRate), float64(rate), resampling.QualityHigh)
	if err != nil {
		return nil, fmt.Errorf("resample %d -> %d: %w", t.SampleRate, rate, err)
	}

	// keep the duration exact; the filter may leave a few samples either way
	want := int(math.Round(float64(len(t.Samples)) * float64(rate) / float64(t.SampleRate)))
	if len(out) > want {
		out = out[:want]
	} else if len(out) < want {
		out = append(out, make([]float64, want-len(out))...)
	}
	return NewTrack(out, rate), nil
}

// WriteWAV writes the track as 16-bit mono PCM
func WriteWAV(path string, t *Track) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, t.SampleRate, 16, 1, 1)

	data := make([]int, len(t.Samples))
	for i, s := range t.Samples {
		s = math.Max(-1, math.Min(1, s))
		data[i] = int(math.Round(s * 32767))
	}

	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			SampleRate:  t.SampleRate,
			NumChannels: 1,
		},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}
