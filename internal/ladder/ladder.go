// Package ladder holds the fixed table of output renditions and the rules
// for choosing which of them a source video is encoded into.
package ladder

import "fmt"

// Rung is one rendition definition. A source qualifies for a rung when its
// height is at least MinSourceHeight.
type Rung struct {
	Label           string
	Width           int
	Height          int
	BitrateKbps     int
	MinSourceHeight int
}

// Resolution formats the rung as an ffmpeg scale target, e.g. "1280:720".
func (r Rung) Resolution() string {
	return fmt.Sprintf("%d:%d", r.Width, r.Height)
}

// Bitrate formats the video bitrate as an ffmpeg rate, e.g. "2500k".
func (r Rung) Bitrate() string {
	return fmt.Sprintf("%dk", r.BitrateKbps)
}

func (r Rung) String() string {
	return r.Label
}

// Ascending by MinSourceHeight; thresholds never repeat.
var rungs = [...]Rung{
	{Label: "360p", Width: 640, Height: 360, BitrateKbps: 800, MinSourceHeight: 360},
	{Label: "480p", Width: 854, Height: 480, BitrateKbps: 1200, MinSourceHeight: 480},
	{Label: "720p", Width: 1280, Height: 720, BitrateKbps: 2500, MinSourceHeight: 720},
	{Label: "1080p", Width: 1920, Height: 1080, BitrateKbps: 5000, MinSourceHeight: 1080},
	{Label: "1440p", Width: 2560, Height: 1440, BitrateKbps: 8000, MinSourceHeight: 1440},
	{Label: "2160p", Width: 3840, Height: 2160, BitrateKbps: 10000, MinSourceHeight: 2160},
}

// All returns a copy of the ladder in ascending order.
func All() []Rung {
	out := make([]Rung, len(rungs))
	copy(out, rungs[:])
	return out
}

// Classify returns the rung with the greatest MinSourceHeight not above
// height. ok is false when height is below the lowest threshold.
func Classify(height int) (r Rung, ok bool) {
	for i := len(rungs) - 1; i >= 0; i-- {
		if height >= rungs[i].MinSourceHeight {
			return rungs[i], true
		}
	}
	return Rung{}, false
}

// RungsAtOrBelow returns the ascending ladder prefix ending at r. It returns
// nil when r is not a ladder rung.
func RungsAtOrBelow(r Rung) []Rung {
	idx := indexOf(r)
	if idx < 0 {
		return nil
	}
	out := make([]Rung, idx+1)
	copy(out, rungs[:idx+1])
	return out
}

// Lookup finds a rung by label.
func Lookup(label string) (Rung, bool) {
	for _, r := range rungs {
		if r.Label == label {
			return r, true
		}
	}
	return Rung{}, false
}

func indexOf(r Rung) int {
	for i, candidate := range rungs {
		if candidate == r {
			return i
		}
	}
	return -1
}
