package receipt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
)

// UploadResponse is the body of POST /api/upload
type UploadResponse struct {
	Success   bool     `json:"success"`
	ReceiptID string   `json:"receipt_id,omitempty"`
	Receipt   *Receipt `json:"receipt,omitempty"`
	Message   string   `json:"message"`
	Error     string   `json:"error,omitempty"`
}

// SearchResponse is the body of GET /api/search
type SearchResponse struct {
	Total   int         `json:"total"`
	Results []SearchHit `json:"results"`
	Query   SearchQuery `json:"query"`
}

type listedReceipt struct {
	ID      string   `json:"receipt_id"`
	Receipt *Receipt `json:"receipt"`
}

// ListResponse is the body of GET /api/receipts
type ListResponse struct {
	Total    int             `json:"total"`
	Skip     int             `json:"skip"`
	Limit    int             `json:"limit"`
	Receipts []listedReceipt `json:"receipts"`
}

type errorResponse struct {
	Detail string   `json:"detail"`
	Errors []string `json:"errors,omitempty"`
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeDetail(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, errorResponse{Detail: detail})
}

// handleIndex serves the HTML interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

func (s *Server) allowedExtension(filename string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	for _, a := range s.cfg.AllowedExtensions {
		if ext == a {
			return true
		}
	}
	return false
}

// handleUpload runs an uploaded file through the extraction pipeline
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxMB := float64(s.cfg.MaxUploadSize) / 1024 / 1024
	tooLarge := fmt.Sprintf("File too large. Maximum size: %.1fMB", maxMB)

	// Leave room for the multipart framing around the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeDetail(w, http.StatusBadRequest, tooLarge)
			return
		}
		writeDetail(w, http.StatusBadRequest, "Error parsing form")
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "No file was selected. Please choose a file to upload.")
		return
	}
	defer f.Close()

	if !s.allowedExtension(header.Filename) {
		writeDetail(w, http.StatusBadRequest,
			"Invalid file type. Allowed: "+strings.Join(s.cfg.AllowedExtensions, ", "))
		return
	}
	if header.Size > s.cfg.MaxUploadSize {
		writeDetail(w, http.StatusBadRequest, tooLarge)
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeDetail(w, http.StatusInternalServerError, "Error reading file. Please try again.")
		return
	}

	slog.Info("Analyzing receipt", "filename", header.Filename, "file_size", len(data))
	res, err := s.service.Upload(r.Context(), header.Filename, data)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, UploadResponse{
			Success:   true,
			ReceiptID: res.ID,
			Receipt:   res.Receipt,
			Message:   "Receipt analyzed and saved successfully",
		})
	case errors.Is(err, ErrSchemaValidation):
		var verr *ValidationError
		resp := errorResponse{Detail: err.Error()}
		if errors.As(err, &verr) {
			resp.Errors = verr.Messages
		}
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	case errors.Is(err, ErrIndexing) && res != nil:
		writeJSON(w, http.StatusOK, UploadResponse{
			Success:   false,
			ReceiptID: res.ID,
			Receipt:   res.Receipt,
			Message:   "Receipt saved but could not be indexed",
			Error:     err.Error(),
		})
	default:
		slog.Error("Upload failed", "filename", header.Filename, "error", err)
		writeJSON(w, http.StatusOK, UploadResponse{
			Success: false,
			Message: "Failed to process receipt",
			Error:   err.Error(),
		})
	}
}

// parsePage reads skip and limit with the bounds shared by search and listing
func parsePage(r *http.Request) (skip, limit int, err error) {
	skip, limit = 0, 20
	if v := r.URL.Query().Get("skip"); v != "" {
		if skip, err = strconv.Atoi(v); err != nil || skip < 0 {
			return 0, 0, fmt.Errorf("skip must be a non-negative integer")
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 || limit > 100 {
			return 0, 0, fmt.Errorf("limit must be an integer between 1 and 100")
		}
	}
	return skip, limit, nil
}

func parsePrice(r *http.Request, name string) (*float64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	p, err := strconv.ParseFloat(v, 64)
	if err != nil || p < 0 {
		return nil, fmt.Errorf("%s must be a non-negative number", name)
	}
	return &p, nil
}

// handleSearch searches the index with optional filters
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	q := SearchQuery{
		Text:     strings.TrimSpace(qs.Get("q")),
		Store:    strings.TrimSpace(qs.Get("store")),
		DateFrom: strings.TrimSpace(qs.Get("date_from")),
		DateTo:   strings.TrimSpace(qs.Get("date_to")),
	}

	var err error
	if q.Skip, q.Limit, err = parsePage(r); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if q.MinPrice, err = parsePrice(r, "min_price"); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if q.MaxPrice, err = parsePrice(r, "max_price"); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	res, err := s.service.Search(r.Context(), q)
	if err != nil {
		slog.Error("Search failed", "error", err)
		writeDetail(w, http.StatusInternalServerError, "Search failed: "+err.Error())
		return
	}

	hits := res.Hits
	if hits == nil {
		hits = []SearchHit{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Total: res.Total, Results: hits, Query: q})
}

// handleListReceipts returns a page of receipts
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	skip, limit, err := parsePage(r)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	docs, total, err := s.service.List(r.Context(), skip, limit)
	if err != nil {
		slog.Error("Error listing receipts", "error", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to list receipts")
		return
	}

	resp := ListResponse{Total: total, Skip: skip, Limit: limit, Receipts: make([]listedReceipt, 0, len(docs))}
	for _, d := range docs {
		resp.Receipts = append(resp.Receipts, listedReceipt{ID: d.ID, Receipt: &d.Receipt})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetReceipt returns a single receipt
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	doc, err := s.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeDetail(w, http.StatusNotFound, "Receipt not found")
			return
		}
		slog.Error("Failed to retrieve receipt", "error", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to retrieve receipt")
		return
	}
	writeJSON(w, http.StatusOK, doc.Receipt)
}

// handleGetReceiptFile returns the original upload for a receipt
func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.File(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeDetail(w, http.StatusNotFound, "File not found")
			return
		}
		slog.Error("Failed to read receipt file", "error", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to read receipt file")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleDeleteReceipt deletes a receipt from the index and the store
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Delete(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeDetail(w, http.StatusNotFound, "Receipt not found")
			return
		}
		slog.Error("Error deleting receipt", "error", err)
		writeDetail(w, http.StatusInternalServerError, "Error deleting receipt")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReindexReceipt indexes a stored receipt again
func (s *Server) handleReindexReceipt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.service.Reindex(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeDetail(w, http.StatusNotFound, "Receipt not found")
			return
		}
		slog.Error("Error reindexing receipt", "receipt_id", id, "error", err)
		writeDetail(w, http.StatusBadGateway, "Failed to index receipt: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "receipt_id": id})
}

// handleExport downloads every receipt as a spreadsheet
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.service.ExportXLSX(r.Context(), &buf); err != nil {
		slog.Error("Export failed", "error", err)
		writeDetail(w, http.StatusInternalServerError, "Export failed")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="receipts.xlsx"`)
	w.Write(buf.Bytes())
}

// handleHealth reports backend health; it always answers 200
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Health(r.Context()))
}
