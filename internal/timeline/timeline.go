// Package timeline maps a still photo's capture time onto the paired video's
// frame timeline as a single byte.
package timeline

import "math"

const maxStillImageTime = 255

// PhotoTimeSeconds converts a microsecond presentation timestamp.
func PhotoTimeSeconds(us float64) float64 {
	return us / 1_000_000
}

// StillImageTime returns the photo's relative frame position scaled to
// [0, 255]. Negative or non-finite inputs count as zero, and a video with at
// most one whole frame always maps to 0.
func StillImageTime(durationSeconds, photoTimeSeconds, fps float64) uint8 {
	duration := finiteOrZero(durationSeconds)
	photo := finiteOrZero(photoTimeSeconds)
	rate := finiteOrZero(fps)

	totalFrames := math.Floor(duration * rate)
	if totalFrames <= 1 || math.IsInf(totalFrames, 0) {
		return 0
	}

	photoFrame := math.Floor(photo * rate)
	photoFrame = math.Max(0, math.Min(photoFrame, totalFrames-1))

	ratio := photoFrame / (totalFrames - 1)
	v := math.Round(ratio * maxStillImageTime)
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > maxStillImageTime {
		return maxStillImageTime
	}
	return uint8(v)
}

func finiteOrZero(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) || x < 0 {
		return 0
	}
	return x
}
