package analysis

import (
	"context"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// spectrogram holds magnitude spectra of centered, Hann-windowed frames
type spectrogram struct {
	mags       [][]float64 // frame x bin, bins = frameLen/2+1
	frameLen   int
	hop        int
	sampleRate int
}

func (s *spectrogram) binHz(bin float64) float64 {
	return bin * float64(s.sampleRate) / float64(s.frameLen)
}

func (s *spectrogram) hzBin(hz float64) int {
	return int(math.Round(hz * float64(s.frameLen) / float64(s.sampleRate)))
}

// frameCount matches centered framing: one frame per hop plus the first
func frameCount(n, hop int) int {
	if n == 0 {
		return 0
	}
	return 1 + n/hop
}

// centeredFrame copies the frameLen samples centered on sample c, zero-padded
func centeredFrame(dst, samples []float64, c int) {
	half := len(dst) / 2
	for j := range dst {
		k := c - half + j
		if k < 0 || k >= len(samples) {
			dst[j] = 0
			continue
		}
		dst[j] = samples[k]
	}
}

func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}

// stft computes magnitude spectra. The context is checked between frames.
func stft(ctx context.Context, samples []float64, sampleRate, frameLen, hop int) (*spectrogram, error) {
	n := frameCount(len(samples), hop)
	fft := fourier.NewFFT(frameLen)
	window := hannWindow(frameLen)

	frame := make([]float64, frameLen)
	var coeffs []complex128
	mags := make([][]float64, n)
	for i := 0; i < n; i++ {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		centeredFrame(frame, samples, i*hop)
		for j := range frame {
			frame[j] *= window[j]
		}
		coeffs = fft.Coefficients(coeffs, frame)

		mag := make([]float64, len(coeffs))
		for j, c := range coeffs {
			mag[j] = cmplx.Abs(c)
		}
		mags[i] = mag
	}

	return &spectrogram{mags: mags, frameLen: frameLen, hop: hop, sampleRate: sampleRate}, nil
}

// rmsFrames returns the RMS of each centered frame
func rmsFrames(samples []float64, frameLen, hop int) []float64 {
	n := frameCount(len(samples), hop)
	out := make([]float64, n)
	frame := make([]float64, frameLen)
	for i := 0; i < n; i++ {
		centeredFrame(frame, samples, i*hop)
		var sum float64
		for _, v := range frame {
			sum += v * v
		}
		out[i] = math.Sqrt(sum / float64(frameLen))
	}
	return out
}

func hzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

func melToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
}

// melFilterBank creates triangular filters, [numMels][fftSize/2+1]
func melFilterBank(numMels, fftSize, sampleRate int, lowFreq, highFreq float64) [][]float64 {
	halfFFT := fftSize/2 + 1
	lowMel := hzToMel(lowFreq)
	highMel := hzToMel(highFreq)

	bins := make([]int, numMels+2)
	step := (highMel - lowMel) / float64(numMels+1)
	for i := range bins {
		hz := melToHz(lowMel + float64(i)*step)
		bins[i] = min(int(math.Round(hz*float64(fftSize)/float64(sampleRate))), halfFFT-1)
	}
	for i := 1; i < len(bins); i++ {
		if bins[i] <= bins[i-1] {
			bins[i] = bins[i-1] + 1
		}
	}

	bank := make([][]float64, numMels)
	for m := 0; m < numMels; m++ {
		filter := make([]float64, halfFFT)
		left, center, right := bins[m], bins[m+1], bins[m+2]
		for k := left; k < center && k < halfFFT; k++ {
			filter[k] = float64(k-left) / float64(center-left)
		}
		for k := center; k <= right && k < halfFFT; k++ {
			if right != center {
				filter[k] = float64(right-k) / float64(right-center)
			}
		}
		bank[m] = filter
	}
	return bank
}

// mfcc computes numCoeffs cepstral coefficients per frame from a power
// mel spectrum
func mfcc(sg *spectrogram, numMels, numCoeffs int) [][]float64 {
	bank := melFilterBank(numMels, sg.frameLen, sg.sampleRate, 0, float64(sg.sampleRate)/2)
	dct := fourier.NewDCT(numMels)

	logMel := make([]float64, numMels)
	cepstrum := make([]float64, numMels)
	out := make([][]float64, len(sg.mags))
	for i, mag := range sg.mags {
		for m, filter := range bank {
			var e float64
			for k, w := range filter {
				if w != 0 {
					e += w * mag[k] * mag[k]
				}
			}
			logMel[m] = math.Log(math.Max(e, 1e-10))
		}
		cepstrum = dct.Transform(cepstrum, logMel)

		coeffs := make([]float64, numCoeffs)
		copy(coeffs, cepstrum)
		out[i] = coeffs
	}
	return out
}

// spectralFlux is the summed positive magnitude change per frame. Frame 0
// is measured against silence so a note at the very start counts.
func spectralFlux(sg *spectrogram) []float64 {
	flux := make([]float64, len(sg.mags))
	var prev []float64
	for i, mag := range sg.mags {
		var sum float64
		for k, v := range mag {
			p := 0.0
			if prev != nil {
				p = prev[k]
			}
			if d := v - p; d > 0 {
				sum += d
			}
		}
		flux[i] = sum
		prev = mag
	}
	return flux
}

// pickPeaks returns frames whose flux is a local maximum within +-wait
// frames and clears relThreshold of the global maximum. Consecutive picks
// are at least wait frames apart.
func pickPeaks(flux []float64, wait int, relThreshold float64) []int {
	var peak float64
	for _, v := range flux {
		peak = math.Max(peak, v)
	}
	if peak <= 0 {
		return nil
	}
	threshold := peak * relThreshold

	var onsets []int
	last := -wait - 1
	for i, v := range flux {
		if v < threshold || i-last <= wait {
			continue
		}
		isMax := true
		for j := max(0, i-wait); j <= min(len(flux)-1, i+wait); j++ {
			if flux[j] > v {
				isMax = false
				break
			}
		}
		if isMax {
			onsets = append(onsets, i)
			last = i
		}
	}
	return onsets
}

// strongestPitch finds the loudest bin of mag within r and returns its
// interpolated frequency and magnitude
func strongestPitch(sg *spectrogram, mag []float64, r FreqRange) (float64, float64) {
	lo := max(sg.hzBin(r.Min), 1)
	hi := min(sg.hzBin(r.Max), len(mag)-2)

	best, bestMag := -1, 0.0
	for k := lo; k <= hi; k++ {
		if mag[k] > bestMag {
			best, bestMag = k, mag[k]
		}
	}
	if best < 0 {
		return 0, 0
	}

	// parabolic interpolation around the peak
	a, b, c := mag[best-1], mag[best], mag[best+1]
	offset := 0.0
	if denom := a - 2*b + c; denom != 0 {
		offset = 0.5 * (a - c) / denom
	}
	return sg.binHz(float64(best) + offset), bestMag
}

// estimateBPM autocorrelates the onset envelope over 60-200 BPM with a
// mild preference for tempos near 120
func estimateBPM(onset []float64, sampleRate, hop int) float64 {
	if len(onset) < 100 {
		return DefaultTempo
	}

	framesPerSec := float64(sampleRate) / float64(hop)
	minLag := max(int(framesPerSec*60/200), 1)
	maxLag := min(int(framesPerSec*60/60), len(onset)-1)

	bestLag, bestCorr := 0, 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		var corr float64
		count := 0
		for i := 0; i+lag < len(onset); i++ {
			corr += onset[i] * onset[i+lag]
			count++
		}
		if count == 0 {
			continue
		}
		corr /= float64(count)

		bpm := 60 * framesPerSec / float64(lag)
		weight := math.Exp(-0.5 * math.Pow((bpm-120)/40, 2))
		corr *= 0.8 + 0.2*weight

		if corr > bestCorr {
			bestCorr, bestLag = corr, lag
		}
	}
	if bestLag == 0 {
		return DefaultTempo
	}

	bpm := 60 * framesPerSec / float64(bestLag)
	for bpm > 200 {
		bpm /= 2
	}
	for bpm < 60 {
		bpm *= 2
	}
	return math.Round(bpm*10) / 10
}
