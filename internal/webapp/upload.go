package webapp

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/blackbee/ai-forensics/internal/filehandler"
)

// User-facing messages for request problems the loader does not cover.
const (
	MsgNoFile  = "请选择要上传的图片。"
	MsgNoImage = "请先上传图片。"
	MsgBusy    = "正在分析中，请稍候。"
)

// FormField is the multipart field carrying the image.
const FormField = "image"

// multipartOverhead allows for boundaries and headers on top of the file.
const multipartOverhead = 1 << 20

// uploadError carries the HTTP status and user message for a failed upload.
type uploadError struct {
	status  int
	message string
	err     error
}

func (e *uploadError) Error() string { return e.err.Error() }
func (e *uploadError) Unwrap() error { return e.err }

func (s *Server) msgTooLarge() string {
	return fmt.Sprintf("图片过大，请上传不超过 %d MB 的图片。", s.maxUpload>>20)
}

// readUpload loads the image form file into a payload.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (*filehandler.Payload, *uploadError) {
	limit := s.maxUpload + multipartOverhead
	if r.ContentLength > limit {
		return nil, &uploadError{http.StatusRequestEntityTooLarge, s.msgTooLarge(),
			fmt.Errorf("request body of %d bytes exceeds %d", r.ContentLength, limit)}
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &uploadError{http.StatusRequestEntityTooLarge, s.msgTooLarge(), err}
		}
		return nil, &uploadError{http.StatusBadRequest, MsgNoFile, err}
	}
	defer r.MultipartForm.RemoveAll()

	f, fh, err := r.FormFile(FormField)
	if err != nil {
		return nil, &uploadError{http.StatusBadRequest, MsgNoFile, err}
	}
	f.Close()
	if fh.Size > s.maxUpload {
		return nil, &uploadError{http.StatusRequestEntityTooLarge, s.msgTooLarge(),
			fmt.Errorf("upload of %d bytes exceeds %d", fh.Size, s.maxUpload)}
	}

	p, err := filehandler.LoadMultipart(fh)
	switch {
	case errors.Is(err, filehandler.ErrUnsupportedType):
		log.Info().Err(err).Str("filename", fh.Filename).Msg("Rejected non-image upload")
		return nil, &uploadError{http.StatusUnsupportedMediaType, filehandler.MsgUnsupportedType, err}
	case err != nil:
		log.Warn().Err(err).Str("filename", fh.Filename).Msg("Failed to load upload")
		return nil, &uploadError{http.StatusUnprocessableEntity, filehandler.MsgEncodingFailed, err}
	}
	return p, nil
}
