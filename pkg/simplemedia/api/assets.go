package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/backfill"
	"github.com/tendant/simple-media/pkg/simplemedia/upload"
)

// BackfillRequest scopes a backfill run. Empty fields match everything.
type BackfillRequest struct {
	OwnerID     string `json:"owner_id,omitempty"`
	Kind        string `json:"kind,omitempty"`
	DryRun      bool   `json:"dry_run,omitempty"`
	Concurrency int    `json:"concurrency,omitempty"`
}

// AssetListResponse is one page of an owner's assets.
type AssetListResponse struct {
	Assets []*simplemedia.MediaAsset `json:"assets"`
	Limit  int                       `json:"limit"`
	Offset int                       `json:"offset"`
}

// Upload accepts multipart fields file, kind and owner_id.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.uploads == nil {
		notConfigured(w, r, "upload")
		return
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			render.Status(r, http.StatusRequestEntityTooLarge)
			render.JSON(w, r, ErrorResponse{Error: ErrorBody{Code: "too_large", Message: err.Error()}})
			return
		}
		badRequest(w, r, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	ownerID, err := uuid.Parse(r.FormValue("owner_id"))
	if err != nil {
		badRequest(w, r, "Invalid owner ID")
		return
	}
	kind, err := simplemedia.ParseKind(r.FormValue("kind"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	part, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, r, "Missing file")
		return
	}
	defer part.Close()
	data, err := io.ReadAll(part)
	if err != nil {
		badRequest(w, r, "Failed to read file")
		return
	}

	res, err := h.uploads.Upload(r.Context(), upload.Request{
		OwnerID: ownerID,
		Kind:    kind,
		File: simplemedia.File{
			Name:     header.Filename,
			Size:     header.Size,
			MimeType: header.Header.Get("Content-Type"),
			Data:     data,
		},
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "upload handled", "asset_id", res.AssetID, "kind", kind, "success", res.Success)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, res)
}

// GetAsset returns one asset by ID.
func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, r, "Invalid asset ID")
		return
	}
	asset, err := h.repo.GetAsset(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, asset)
}

// ListOwnerAssets lists an owner's assets, optionally by kind.
func (h *Handler) ListOwnerAssets(w http.ResponseWriter, r *http.Request) {
	ownerID, err := uuid.Parse(chi.URLParam(r, "owner_id"))
	if err != nil {
		badRequest(w, r, "Invalid owner ID")
		return
	}
	q := r.URL.Query()
	filter := simplemedia.AssetFilter{OwnerID: &ownerID, Limit: 50}
	if k := q.Get("kind"); k != "" {
		kind, err := simplemedia.ParseKind(k)
		if err != nil {
			writeError(w, r, err)
			return
		}
		filter.Kind = &kind
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(w, r, "Invalid limit")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(w, r, "Invalid offset")
			return
		}
		filter.Offset = n
	}
	filter.MissingVariants = q.Get("missing_variants") == "true"

	assets, err := h.repo.ListAssets(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if assets == nil {
		assets = []*simplemedia.MediaAsset{}
	}
	render.JSON(w, r, AssetListResponse{Assets: assets, Limit: filter.Limit, Offset: filter.Offset})
}

// Backfill derives missing variants for the requested scope.
func (h *Handler) Backfill(w http.ResponseWriter, r *http.Request) {
	if h.backfill == nil {
		notConfigured(w, r, "backfill")
		return
	}
	var req BackfillRequest
	if r.ContentLength != 0 {
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			badRequest(w, r, "Invalid request body")
			return
		}
	}

	opts := backfill.Options{DryRun: req.DryRun, Concurrency: req.Concurrency}
	if req.OwnerID != "" {
		id, err := uuid.Parse(req.OwnerID)
		if err != nil {
			badRequest(w, r, "Invalid owner ID")
			return
		}
		opts.Scope.OwnerID = &id
	}
	if req.Kind != "" {
		kind, err := simplemedia.ParseKind(req.Kind)
		if err != nil {
			writeError(w, r, err)
			return
		}
		opts.Scope.Kind = &kind
	}

	res, err := h.backfill.Run(r.Context(), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, res)
}
