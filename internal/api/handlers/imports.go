package handlers

import (
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-booking/internal/api/middleware"
	"github.com/dvloznov/statement-booking/internal/drafts"
	"github.com/dvloznov/statement-booking/internal/gcs"
	"github.com/dvloznov/statement-booking/internal/gcsuploader"
	"github.com/dvloznov/statement-booking/internal/jobs"
)

// ImportsHandler handles statement upload endpoints.
type ImportsHandler struct {
	svc       DraftService
	publisher jobs.Publisher
	storage   gcs.Uploader
	bucket    string
	log       zerolog.Logger
}

// NewImportsHandler creates a new imports handler.
func NewImportsHandler(svc DraftService, publisher jobs.Publisher, storage gcs.Uploader, bucket string, log zerolog.Logger) *ImportsHandler {
	return &ImportsHandler{
		svc:       svc,
		publisher: publisher,
		storage:   storage,
		bucket:    bucket,
		log:       log,
	}
}

// statementPrefix is the object prefix under which an owner's statements are stored.
func statementPrefix(owner string) (string, bool) {
	if owner == "" || strings.ContainsAny(owner, "/\\") || owner == "." || owner == ".." {
		return "", false
	}
	return "statements/" + owner + "/", true
}

// ownsStatement reports whether gcsURI names an object of owner in the import bucket.
func ownsStatement(gcsURI, bucket, owner string) bool {
	prefix, ok := statementPrefix(owner)
	if !ok {
		return false
	}
	b, object, err := gcsuploader.ParseGCSURI(gcsURI)
	if err != nil || b != bucket {
		return false
	}
	return path.Clean(object) == object && strings.HasPrefix(object, prefix)
}

// uploadedFile reads the raw request body and the filename query parameter.
func uploadedFile(w http.ResponseWriter, r *http.Request) (string, []byte, bool) {
	fileName := strings.TrimSpace(r.URL.Query().Get("filename"))
	// Clean filename - remove any path
	fileName = path.Base(fileName)
	if fileName == "" || fileName == "." || fileName == "/" {
		middleware.WriteError(w, http.StatusBadRequest, "filename is required")
		return "", nil, false
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxUploadBytes))
	if err != nil {
		middleware.WriteError(w, http.StatusRequestEntityTooLarge, "Statement file is too large")
		return "", nil, false
	}
	if len(data) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "Statement file is empty")
		return "", nil, false
	}
	return fileName, data, true
}

// ImportStatement handles POST /api/imports?filename=
// It parses the request body and creates the drafts before answering.
func (h *ImportsHandler) ImportStatement(w http.ResponseWriter, r *http.Request) {
	fileName, data, ok := uploadedFile(w, r)
	if !ok {
		return
	}

	res, err := h.svc.Import(r.Context(), drafts.ImportRequest{
		OwnerID:  middleware.OwnerID(r.Context()),
		FileName: fileName,
		Data:     data,
	})
	if err != nil {
		middleware.WriteServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"upload_group_id": res.UploadGroupID,
		"account_id":      res.AccountID,
		"split_info":      res.SplitInfo,
		"drafts":          toDrafts(res.Drafts),
	})
}

// UploadAndEnqueue handles POST /api/imports/async?filename=
// The body is stored in the bucket and an import job is queued for it.
func (h *ImportsHandler) UploadAndEnqueue(w http.ResponseWriter, r *http.Request) {
	if h.storage == nil || h.bucket == "" || h.publisher == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Asynchronous imports are not configured")
		return
	}
	fileName, data, ok := uploadedFile(w, r)
	if !ok {
		return
	}
	owner := middleware.OwnerID(r.Context())
	prefix, ok := statementPrefix(owner)
	if !ok {
		middleware.WriteError(w, http.StatusBadRequest, "Owner id cannot be used in an object name")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	objectName := fmt.Sprintf("%s%s/%s-%s", prefix, time.Now().Format("2006/01/02"), uuid.NewString(), fileName)

	gcsURI, err := h.storage.Upload(r.Context(), h.bucket, objectName, data, contentType)
	if err != nil {
		h.log.Error().Err(err).Str("object", objectName).Msg("Failed to upload statement")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to upload file")
		return
	}
	h.log.Info().
		Str("gcs_uri", gcsURI).
		Int("bytes", len(data)).
		Msg("Statement uploaded")

	h.publish(w, r, &jobs.ImportStatementJob{OwnerID: owner, GCSURI: gcsURI, FileName: fileName})
}

// EnqueueImport handles POST /api/imports/jobs for statements already stored in the import
// bucket. Only objects under the caller's own statements/<owner>/ prefix are accepted.
func (h *ImportsHandler) EnqueueImport(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil || h.bucket == "" {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Asynchronous imports are not configured")
		return
	}
	var req struct {
		GCSURI   string `json:"gcs_uri"`
		FileName string `json:"file_name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteServiceError(w, r, err)
		return
	}
	if !strings.HasPrefix(req.GCSURI, "gs://") {
		middleware.WriteError(w, http.StatusBadRequest, "gcs_uri must be a gs:// URI")
		return
	}
	owner := middleware.OwnerID(r.Context())
	if !ownsStatement(req.GCSURI, h.bucket, owner) {
		h.log.Warn().Str("owner_id", owner).Str("gcs_uri", req.GCSURI).Msg("Rejected import of a foreign object")
		middleware.WriteError(w, http.StatusForbidden, "gcs_uri must name one of your statements in the import bucket")
		return
	}

	h.publish(w, r, &jobs.ImportStatementJob{
		OwnerID:  owner,
		GCSURI:   req.GCSURI,
		FileName: req.FileName,
	})
}

func (h *ImportsHandler) publish(w http.ResponseWriter, r *http.Request, job *jobs.ImportStatementJob) {
	if err := h.publisher.PublishImportStatement(r.Context(), job); err != nil {
		h.log.Error().Err(err).Str("gcs_uri", job.GCSURI).Msg("Failed to enqueue import job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue import job")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Str("gcs_uri", job.GCSURI).Msg("Import job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id":  job.JobID,
		"gcs_uri": job.GCSURI,
		"status":  string(job.Status),
	})
}
