package server

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/joseph-ayodele/imagetext/internal/common"
	"github.com/joseph-ayodele/imagetext/internal/ocr"
	"github.com/joseph-ayodele/imagetext/internal/pipeline"
)

const uploadMessage = "Image uploaded successfully. Processing started."

type uploadResponse struct {
	JobID   string `json:"job_id"`
	Message string `json:"message"`
}

type textResponse struct {
	Text string `json:"text"`
}

func (h *handlers) upload(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.d.MaxUpload {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Image is too large"})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.d.MaxUpload)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Image is too large"})
			return
		}
		h.writeError(w, r, common.ValidationFailed("No image file provided"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("image")
	if err != nil {
		h.writeError(w, r, common.ValidationFailed("No image file provided"))
		return
	}
	defer file.Close()
	if strings.TrimSpace(header.Filename) == "" {
		h.writeError(w, r, common.ValidationFailed("No selected file"))
		return
	}

	body, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, r, common.WrapError(err, "read upload"))
		return
	}

	if h.d.Mode == common.UploadModeSync {
		h.convert(w, r, body)
		return
	}

	if h.d.Submitter == nil {
		h.writeError(w, r, unavailable("job submission"))
		return
	}
	jobID, err := h.d.Submitter.Submit(r.Context(), pipeline.Upload{
		Filename:    header.Filename,
		ContentType: contentType(header),
		Body:        body,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{JobID: jobID, Message: uploadMessage})
}

func (h *handlers) convert(w http.ResponseWriter, r *http.Request, body []byte) {
	kind := h.d.DefaultEngine
	if v := r.FormValue("ocr_model"); v != "" {
		k, err := ocr.ParseKind(v)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		kind = k
	}
	if h.d.Sync == nil {
		h.writeError(w, r, unavailable("synchronous conversion"))
		return
	}
	text, err := h.d.Sync.Convert(r.Context(), body, kind)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, textResponse{Text: text})
}

func contentType(fh *multipart.FileHeader) string {
	return fh.Header.Get("Content-Type")
}
