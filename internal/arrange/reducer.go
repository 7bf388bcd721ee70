package arrange

import (
	"cmp"
	"math"
	"slices"

	"github.com/dygy/piano-grep/internal/midi"
)

// Config holds the reduction constants
type Config struct {
	// SplitPitch is the lowest pitch assigned to the right hand (middle C)
	SplitPitch int
	// MaxPolyRight and MaxPolyLeft cap notes sharing one onset per hand
	MaxPolyRight int
	MaxPolyLeft  int
	// MelodyBucket is the onset quantum for right-hand melody, in seconds
	MelodyBucket float64
	// BeatBucket is the onset quantum for left-hand patterns, in seconds
	BeatBucket float64
	// HarmonyWindow is how close a harmony note must start to a melody note
	HarmonyWindow float64
}

// DefaultConfig returns the standard reduction settings
func DefaultConfig() Config {
	return Config{
		SplitPitch:    60,
		MaxPolyRight:  3,
		MaxPolyLeft:   2,
		MelodyBucket:  0.01,
		BeatBucket:    0.25,
		HarmonyWindow: 0.1,
	}
}

// harmonyIntervals are minor/major thirds and sixths in semitones
var harmonyIntervals = map[int]bool{3: true, 4: true, 8: true, 9: true}

// Reducer turns a flat transcription into a two-hand arrangement
type Reducer struct {
	cfg Config
}

// NewReducer creates a reducer. Zero fields in cfg take their defaults.
func NewReducer(cfg Config) *Reducer {
	def := DefaultConfig()
	if cfg.SplitPitch == 0 {
		cfg.SplitPitch = def.SplitPitch
	}
	if cfg.MaxPolyRight <= 0 {
		cfg.MaxPolyRight = def.MaxPolyRight
	}
	if cfg.MaxPolyLeft <= 0 {
		cfg.MaxPolyLeft = def.MaxPolyLeft
	}
	if cfg.MelodyBucket <= 0 {
		cfg.MelodyBucket = def.MelodyBucket
	}
	if cfg.BeatBucket <= 0 {
		cfg.BeatBucket = def.BeatBucket
	}
	if cfg.HarmonyWindow <= 0 {
		cfg.HarmonyWindow = def.HarmonyWindow
	}
	return &Reducer{cfg: cfg}
}

// Config returns the effective settings
func (r *Reducer) Config() Config {
	return r.cfg
}

// Reduce splits notes between hands, simplifies each hand for the given
// difficulty and enforces the per-hand polyphony cap. Empty input gives
// an empty arrangement. Notes without a positive duration are ignored.
func (r *Reducer) Reduce(notes []midi.Note, d Difficulty) midi.Arrangement {
	right, left := r.SplitHands(notes)

	switch d {
	case Beginner:
		right = r.Melody(right)
		left = r.BassLine(left)
	case Intermediate:
		right = r.MelodyWithHarmony(right)
		left = r.ChordPattern(left)
	}

	return midi.Arrangement{
		Right: tag(capPolyphony(right, r.cfg.MaxPolyRight, true), midi.HandRight),
		Left:  tag(capPolyphony(left, r.cfg.MaxPolyLeft, false), midi.HandLeft),
	}
}

// SplitHands assigns every note at or above SplitPitch to the right hand
// and the rest to the left. Both results are sorted by start time.
func (r *Reducer) SplitHands(notes []midi.Note) (right, left []midi.Note) {
	right = []midi.Note{}
	left = []midi.Note{}
	for _, n := range notes {
		if !n.Valid() {
			continue
		}
		if n.Pitch >= r.cfg.SplitPitch {
			right = append(right, n)
		} else {
			left = append(left, n)
		}
	}
	midi.SortByStart(right)
	midi.SortByStart(left)
	return right, left
}

// Melody keeps the highest note per MelodyBucket onset bucket
func (r *Reducer) Melody(notes []midi.Note) []midi.Note {
	sorted := sortedCopy(notes)
	return pick(sorted, r.melodyIndexes(sorted))
}

// BassLine keeps the lowest note per BeatBucket onset bucket
func (r *Reducer) BassLine(notes []midi.Note) []midi.Note {
	sorted := sortedCopy(notes)
	return pick(sorted, foldBuckets(sorted, bucketKey(r.cfg.BeatBucket), lower))
}

// MelodyWithHarmony keeps the melody plus any other note starting within
// HarmonyWindow of a melody note a third or a sixth away from it
func (r *Reducer) MelodyWithHarmony(notes []midi.Note) []midi.Note {
	sorted := sortedCopy(notes)
	melody := r.melodyIndexes(sorted)

	keep := make(map[int]bool, len(melody))
	for _, i := range melody {
		keep[i] = true
	}

	var harmony []int
	for i, n := range sorted {
		if keep[i] {
			continue
		}
		for _, m := range melody {
			mel := sorted[m]
			if math.Abs(n.Start-mel.Start) >= r.cfg.HarmonyWindow {
				continue
			}
			if harmonyIntervals[abs(n.Pitch-mel.Pitch)] {
				harmony = append(harmony, i)
				break
			}
		}
	}

	all := append(slices.Clone(melody), harmony...)
	slices.Sort(all)
	return pick(sorted, all)
}

// ChordPattern keeps, per BeatBucket onset bucket, the lowest note and
// the first note a perfect fifth (mod 12) above it
func (r *Reducer) ChordPattern(notes []midi.Note) []midi.Note {
	sorted := sortedCopy(notes)
	key := bucketKey(r.cfg.BeatBucket)

	groups := make(map[int64][]int)
	var order []int64
	for i, n := range sorted {
		k := key(n)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}
	slices.Sort(order)

	var out []midi.Note
	for _, k := range order {
		group := groups[k]
		slices.SortStableFunc(group, func(a, b int) int {
			return cmp.Compare(sorted[a].Pitch, sorted[b].Pitch)
		})

		root := sorted[group[0]]
		chord := []midi.Note{root}
		for _, i := range group[1:] {
			if (sorted[i].Pitch-root.Pitch)%12 == 7 {
				chord = append(chord, sorted[i])
				break
			}
		}
		out = append(out, chord...)
	}
	midi.SortByStart(out)
	return nonNil(out)
}

func (r *Reducer) melodyIndexes(notes []midi.Note) []int {
	return foldBuckets(notes, bucketKey(r.cfg.MelodyBucket), higher)
}

// better reports whether candidate should replace the note kept so far
type better func(candidate, kept midi.Note) bool

func higher(candidate, kept midi.Note) bool { return candidate.Pitch > kept.Pitch }
func lower(candidate, kept midi.Note) bool  { return candidate.Pitch < kept.Pitch }

// bucketKey quantizes a note's onset to the nearest multiple of quantum
func bucketKey(quantum float64) func(midi.Note) int64 {
	return func(n midi.Note) int64 {
		return int64(math.Round(n.Start / quantum))
	}
}

// foldBuckets walks notes in time order keeping one winner per bucket and
// returns the winners' indexes into the time-sorted notes, in bucket order.
// notes must already be sorted by start.
func foldBuckets(notes []midi.Note, key func(midi.Note) int64, replace better) []int {
	best := make(map[int64]int)
	var order []int64
	for i, n := range notes {
		k := key(n)
		cur, ok := best[k]
		switch {
		case !ok:
			best[k] = i
			order = append(order, k)
		case replace(n, notes[cur]):
			best[k] = i
		}
	}
	slices.Sort(order)

	idx := make([]int, 0, len(order))
	for _, k := range order {
		idx = append(idx, best[k])
	}
	return idx
}

// capPolyphony limits notes sharing an exact onset to limit. The right hand
// keeps the highest pitches, the left hand the lowest; equal pitches keep
// their input order. Survivors stay in input order.
func capPolyphony(notes []midi.Note, limit int, keepHigh bool) []midi.Note {
	groups := make(map[float64][]int)
	for i, n := range notes {
		groups[n.Start] = append(groups[n.Start], i)
	}

	drop := make(map[int]bool)
	for _, group := range groups {
		if len(group) <= limit {
			continue
		}
		ranked := slices.Clone(group)
		slices.SortStableFunc(ranked, func(a, b int) int {
			if keepHigh {
				return cmp.Compare(notes[b].Pitch, notes[a].Pitch)
			}
			return cmp.Compare(notes[a].Pitch, notes[b].Pitch)
		})
		for _, i := range ranked[limit:] {
			drop[i] = true
		}
	}

	out := make([]midi.Note, 0, len(notes)-len(drop))
	for i, n := range notes {
		if !drop[i] {
			out = append(out, n)
		}
	}
	return out
}

func tag(notes []midi.Note, h midi.Hand) []midi.Note {
	out := make([]midi.Note, len(notes))
	for i, n := range notes {
		out[i] = n.WithHand(h)
	}
	return out
}

func pick(notes []midi.Note, idx []int) []midi.Note {
	out := make([]midi.Note, 0, len(idx))
	for _, i := range idx {
		out = append(out, notes[i])
	}
	return out
}

func sortedCopy(notes []midi.Note) []midi.Note {
	out := slices.Clone(notes)
	midi.SortByStart(out)
	return out
}

func nonNil(notes []midi.Note) []midi.Note {
	if notes == nil {
		return []midi.Note{}
	}
	return notes
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
