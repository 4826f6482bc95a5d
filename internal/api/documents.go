package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Document routes proxy the local server's document library so clients talk
// to one origin.

func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.docs.List(r.Context())
	if err != nil {
		Error(w, http.StatusBadGateway, "document service unavailable")
		return
	}
	JSON(w, http.StatusOK, docs)
}

func (h *Handler) SearchDocuments(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		Error(w, http.StatusBadRequest, "missing query")
		return
	}
	docs, err := h.docs.Search(r.Context(), query)
	if err != nil {
		Error(w, http.StatusBadGateway, "document service unavailable")
		return
	}
	JSON(w, http.StatusOK, docs)
}

func (h *Handler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		Error(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()

	doc, err := h.docs.Upload(r.Context(), header.Filename, file)
	if err != nil {
		Error(w, http.StatusBadGateway, "document upload failed")
		return
	}
	JSON(w, http.StatusCreated, doc)
}

func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.docs.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		Error(w, http.StatusBadGateway, "document delete failed")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
