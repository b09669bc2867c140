package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/dmitrijs2005/intakevault/internal/common"
	"github.com/dmitrijs2005/intakevault/internal/intake"
	"github.com/dmitrijs2005/intakevault/internal/models"
	"github.com/dmitrijs2005/intakevault/internal/validate"
)

type fileView struct {
	Field        string              `json:"field"`
	VerifiedType models.VerifiedType `json:"verifiedType"`
	SizeBytes    int64               `json:"sizeBytes"`
	Digest       string              `json:"digest"`
}

type createResponse struct {
	SubmissionID  string            `json:"submissionId"`
	ObjectKey     string            `json:"objectKey"`
	ArchiveDigest string            `json:"archiveDigest"`
	FileCount     int               `json:"fileCount"`
	ScanStatus    models.ScanStatus `json:"scanStatus"`
	StatusToken   string            `json:"statusToken"`
	Files         []fileView        `json:"files"`
}

type validationResponse struct {
	Error   string                `json:"error"`
	Details []validate.FieldError `json:"details"`
}

type malwareResponse struct {
	Error        string `json:"error"`
	SubmissionID string `json:"submissionId"`
	Quarantined  bool   `json:"quarantined"`
}

// Create accepts a multipart submission.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxTotalBytes+bodySlack)
	req, verrs, err := h.parseMultipart(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeValidation(w, validate.Errors{{Field: "files", Message: "request body too large"}})
			return
		}
		h.writeValidation(w, validate.Errors{{Field: "request", Message: "malformed multipart body"}})
		return
	}
	if len(verrs) > 0 {
		h.writeValidation(w, verrs)
		return
	}

	receipt, err := h.service.Submit(ctx, *req)
	switch {
	case errors.Is(err, common.ErrMalwareDetected) && receipt != nil:
		writeJSON(w, http.StatusForbidden, malwareResponse{
			Error:        "MalwareDetected",
			SubmissionID: receipt.SubmissionID,
			Quarantined:  receipt.Quarantined,
		})
		return
	case err != nil:
		var fieldErrs validate.Errors
		if errors.As(err, &fieldErrs) {
			h.writeValidation(w, fieldErrs)
			return
		}
		h.logger.Error(ctx, "submission failed", "error", err)
		writeError(w, http.StatusInternalServerError, "UploadFailed")
		return
	}

	token, err := h.tokens.Issue(receipt.SubmissionID, receipt.Location)
	if err != nil {
		h.logger.Error(ctx, "status token", "submission_id", receipt.SubmissionID, "error", err)
		writeError(w, http.StatusInternalServerError, "UploadFailed")
		return
	}

	files := make([]fileView, 0, len(receipt.Files))
	for _, f := range receipt.Files {
		files = append(files, fileView{Field: f.FieldName, VerifiedType: f.VerifiedType, SizeBytes: f.SizeBytes, Digest: f.Digest})
	}
	writeJSON(w, http.StatusCreated, createResponse{
		SubmissionID:  receipt.SubmissionID,
		ObjectKey:     receipt.Location.Key,
		ArchiveDigest: receipt.ArchiveDigest,
		FileCount:     len(files),
		ScanStatus:    receipt.ScanStatus,
		StatusToken:   token,
		Files:         files,
	})
}

func (h *Handler) writeValidation(w http.ResponseWriter, errs validate.Errors) {
	writeJSON(w, http.StatusBadRequest, validationResponse{Error: "ValidationFailed", Details: errs})
}

// parseMultipart streams the body part by part. File parts are read up to
// one byte past the per-file ceiling so oversize files are reported without
// buffering them whole.
func (h *Handler) parseMultipart(r *http.Request) (*intake.Request, validate.Errors, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, nil, err
	}

	req := &intake.Request{Fields: map[string]string{}}
	var errs validate.Errors

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, err
		}

		name := part.FormName()
		if part.FileName() != "" {
			content, err := readPart(part, h.opts.MaxFileBytes+1)
			if err != nil {
				return nil, nil, err
			}
			req.Files = append(req.Files, intake.FilePart{Field: name, Filename: part.FileName(), Content: content})
			continue
		}

		raw, err := readPart(part, maxTextPart+1)
		if err != nil {
			return nil, nil, err
		}
		if len(raw) > maxTextPart {
			errs.Add(name, "value too long")
			continue
		}
		value := string(raw)

		switch name {
		case "formId":
			req.FormID = value
		case "submitterIdentity":
			req.SubmitterIdentity = value
		case "tags":
			if err := json.Unmarshal(raw, &req.Tags); err != nil {
				errs.Add("tags", "tags must be a JSON object of strings")
			}
		case "":
			errs.Add("request", "part without a name")
		default:
			req.Fields[name] = value
		}
	}
	return req, errs, nil
}

// readPart reads at most limit bytes and discards the rest of the part.
func readPart(p *multipart.Part, limit int64) ([]byte, error) {
	defer p.Close()
	b, err := io.ReadAll(io.LimitReader(p, limit))
	if err != nil {
		return nil, fmt.Errorf("read part %q: %w", p.FormName(), err)
	}
	if _, err := io.Copy(io.Discard, p); err != nil {
		return nil, fmt.Errorf("read part %q: %w", p.FormName(), err)
	}
	return b, nil
}
