package webapp

import (
	"strconv"
	"time"

	"github.com/blackbee/ai-forensics/internal/chat"
	"github.com/blackbee/ai-forensics/internal/filehandler"
	"github.com/blackbee/ai-forensics/internal/report"
	"github.com/blackbee/ai-forensics/internal/session"
)

// fileView is the file info panel.
type fileView struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Size       string `json:"size"`
	Bytes      int64  `json:"bytes"`
	PreviewURL string `json:"previewUrl"`
	ThumbURL   string `json:"thumbUrl"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	Camera     string `json:"camera,omitempty"`
	DateTaken  string `json:"dateTaken,omitempty"`
}

func newFileView(p *filehandler.Payload) *fileView {
	if p == nil {
		return nil
	}
	info := report.DescribeFile(p.Filename, p.MIMEType, p.Size)
	v := &fileView{
		ID:         p.ID,
		Name:       info.Name,
		Kind:       info.Kind,
		Size:       info.Size,
		Bytes:      p.Size,
		PreviewURL: p.PreviewURL(),
		ThumbURL:   p.PreviewURL() + "?max=" + strconv.Itoa(filehandler.DefaultThumbnailMaxDimension),
		Camera:     p.Info.Camera(),
	}
	if p.Info.HasDimensions() {
		v.Width, v.Height = p.Info.Width, p.Info.Height
	}
	if p.Info.HasDate {
		v.DateTaken = p.Info.DateTaken.Format(time.DateTime)
	}
	return v
}

// stateResponse is the JSON form of a session snapshot.
type stateResponse struct {
	Status     session.Status `json:"status"`
	CanAnalyze bool           `json:"canAnalyze"`
	Error      string         `json:"error,omitempty"`
	Notice     string         `json:"notice,omitempty"`
	File       *fileView      `json:"file,omitempty"`
	Result     *chat.Result   `json:"result,omitempty"`
	Report     *report.Report `json:"report,omitempty"`
}

func newStateResponse(snap session.Snapshot) stateResponse {
	return stateResponse{
		Status:     snap.Status,
		CanAnalyze: canAnalyze(snap),
		Error:      snap.Error,
		Notice:     snap.Notice,
		File:       newFileView(snap.Payload),
		Result:     snap.Result,
		Report:     report.Build(snap.Result),
	}
}

func canAnalyze(snap session.Snapshot) bool {
	return snap.Payload != nil && snap.Status != session.StatusAnalyzing
}

// pageView feeds the HTML template.
type pageView struct {
	Status      string
	Idle        bool
	Analyzing   bool
	Complete    bool
	Failed      bool
	CanAnalyze  bool
	Error       string
	Notice      string
	File        *fileView
	Report      *report.Report
	MaxUploadMB int64
}

func newPageView(snap session.Snapshot, maxUpload int64) pageView {
	return pageView{
		Status:      snap.Status.String(),
		Idle:        snap.Status == session.StatusIdle,
		Analyzing:   snap.Status == session.StatusAnalyzing,
		Complete:    snap.Status == session.StatusComplete,
		Failed:      snap.Status == session.StatusError,
		CanAnalyze:  canAnalyze(snap),
		Error:       snap.Error,
		Notice:      snap.Notice,
		File:        newFileView(snap.Payload),
		Report:      report.Build(snap.Result),
		MaxUploadMB: maxUpload >> 20,
	}
}
