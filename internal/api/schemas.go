package api

import (
	"time"

	"github.com/motionlive/motionlive-agent/internal/convert"
	"github.com/motionlive/motionlive-agent/internal/jobs"
	"github.com/motionlive/motionlive-agent/internal/library"
	"github.com/motionlive/motionlive-agent/internal/media"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State       string              `json:"state"`
	LastError   string              `json:"last_error,omitempty"`
	JobsRunning int                 `json:"jobs_running"`
	Queue       map[string]int      `json:"queue"`
	AssetsCount int                 `json:"assets_count"`
	Toolchain   *media.Capabilities `json:"toolchain,omitempty"`
}

type InspectRequest struct {
	Path string `json:"path"`
}

type InspectResponse struct {
	Path                    string  `json:"path"`
	MotionPhoto             bool    `json:"motion_photo"`
	VideoOffset             int64   `json:"video_offset,omitempty"`
	PresentationTimestampUs float64 `json:"presentation_timestamp_us,omitempty"`
	ImageBytes              int64   `json:"image_bytes,omitempty"`
	VideoBytes              int64   `json:"video_bytes,omitempty"`
	VideoIsMP4              bool    `json:"video_is_mp4,omitempty"`
	Reason                  string  `json:"reason,omitempty"`
	Code                    string  `json:"code,omitempty"`
}

type ConversionRequest struct {
	SourcePath string `json:"source_path,omitempty"`
	Target     string `json:"target"`
	GIFFrames  int    `json:"gif_frames,omitempty"`
	GIFWidth   int    `json:"gif_width,omitempty"`
	ImagePath  string `json:"image_path,omitempty"`
	VideoPath  string `json:"video_path,omitempty"`
}

type JobResponse struct {
	ID             string `json:"id"`
	Target         string `json:"target"`
	Status         string `json:"status"`
	State          string `json:"state"`
	SourcePath     string `json:"source_path,omitempty"`
	ImagePath      string `json:"image_path,omitempty"`
	VideoPath      string `json:"video_path,omitempty"`
	Error          string `json:"error,omitempty"`
	ErrorCode      string `json:"error_code,omitempty"`
	OutputPath     string `json:"output_path,omitempty"`
	AssetID        string `json:"asset_id,omitempty"`
	StillImageTime int    `json:"still_image_time"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type AssetsResponse struct {
	Assets []*library.Asset `json:"assets"`
	Total  int              `json:"total"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func JobToResponse(j *jobs.Job) JobResponse {
	return JobResponse{
		ID:             j.ID,
		Target:         string(j.Target),
		Status:         j.Status,
		State:          string(j.State),
		SourcePath:     j.SourcePath,
		ImagePath:      j.ImagePath,
		VideoPath:      j.VideoPath,
		Error:          j.Error,
		ErrorCode:      j.ErrorCode,
		OutputPath:     j.OutputPath,
		AssetID:        j.AssetID,
		StillImageTime: j.StillImageTime,
		CreatedAt:      j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      j.UpdatedAt.Format(time.RFC3339),
	}
}

func InspectionToResponse(in *convert.Inspection) InspectResponse {
	resp := InspectResponse{
		Path:        in.Path,
		MotionPhoto: in.MotionPhoto,
		ImageBytes:  in.ImageBytes,
		VideoBytes:  in.VideoBytes,
		VideoIsMP4:  in.VideoIsMP4,
		Reason:      in.Reason,
		Code:        in.Code,
	}
	if in.Descriptor != nil {
		resp.VideoOffset = in.Descriptor.VideoOffset
		resp.PresentationTimestampUs = in.Descriptor.PresentationTimestampUs
	}
	return resp
}
