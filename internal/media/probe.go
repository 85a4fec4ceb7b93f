package media

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  struct {
		FormatName string            `json:"format_name"`
		Duration   string            `json:"duration"`
		Tags       map[string]string `json:"tags"`
	} `json:"format"`
}

type ffprobeStream struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
	RFrameRate   string `json:"r_frame_rate"`
	Duration     string `json:"duration"`
}

// parseProbe reads `ffprobe -print_format json -show_format -show_streams`.
func parseProbe(data []byte) (*Probe, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("cannot parse ffprobe JSON: %w", err)
	}

	var video *ffprobeStream
	for i := range out.Streams {
		if out.Streams[i].CodecType == "video" {
			video = &out.Streams[i]
			break
		}
	}
	if video == nil {
		return nil, fmt.Errorf("no video stream")
	}

	p := &Probe{
		Width:  video.Width,
		Height: video.Height,
		Codec:  video.CodecName,
		Format: out.Format.FormatName,
		Tags:   out.Format.Tags,
	}

	p.FrameRate = parseRate(video.AvgFrameRate)
	if p.FrameRate <= 0 {
		p.FrameRate = parseRate(video.RFrameRate)
	}

	p.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)
	if p.Duration <= 0 {
		p.Duration, _ = strconv.ParseFloat(video.Duration, 64)
	}
	if p.Duration <= 0 {
		return nil, fmt.Errorf("no duration reported")
	}
	return p, nil
}

// parseRate accepts "30", "29.97" or "30000/1001". Anything else is 0.
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
