// Package httpapi is the JSON over HTTP surface of GeoCrypt.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/geocrypt/internal/blobstore"
	"github.com/dmitrijs2005/geocrypt/internal/common"
	"github.com/dmitrijs2005/geocrypt/internal/geo"
	"github.com/dmitrijs2005/geocrypt/internal/logging"
	"github.com/dmitrijs2005/geocrypt/internal/server/models"
	"github.com/dmitrijs2005/geocrypt/internal/server/services"
)

// multipartMemory is how much of a multipart body is held in memory before
// spilling to temp files.
const multipartMemory = 8 << 20

type UserService interface {
	Register(ctx context.Context, username, password string) (*models.User, error)
	Login(ctx context.Context, username, password string) (string, error)
	Authenticate(token string) (string, error)
}

type FileService interface {
	Upload(ctx context.Context, ownerID string, in services.UploadInput) (*services.UploadResult, error)
	Download(ctx context.Context, requesterID, id, token string) (*services.DownloadResult, error)
	List(ctx context.Context, ownerID string) ([]*models.File, error)
	Get(ctx context.Context, ownerID, id string) (*models.File, error)
	Delete(ctx context.Context, ownerID, id string) (blobstore.DeleteResult, error)
}

type Server struct {
	users         UserService
	files         FileService
	logger        logging.Logger
	maxUploadSize int64
}

func NewServer(users UserService, files FileService, logger logging.Logger, maxUploadSize int64) *Server {
	return &Server{
		users:         users,
		files:         files,
		logger:        logger.With("module", "httpapi"),
		maxUploadSize: maxUploadSize,
	}
}

// Handler wires every route and wraps them with the request logger.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("POST /register", s.register)
	mux.HandleFunc("POST /token", s.token)
	mux.HandleFunc("POST /files", s.requireAuth(s.uploadFile))
	mux.HandleFunc("GET /files", s.requireAuth(s.listFiles))
	mux.HandleFunc("GET /files/{id}", s.requireAuth(s.getFile))
	mux.HandleFunc("GET /files/{id}/download", s.requireAuth(s.downloadFile))
	mux.HandleFunc("DELETE /files/{id}", s.requireAuth(s.deleteFile))
	return RequestLogger(s.logger, mux)
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type fileResponse struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	Geohash     string    `json:"geohash"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	Tier        string    `json:"tier"`
	CreatedAt   time.Time `json:"created_at"`
}

type uploadResponse struct {
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
	Geohash  string `json:"geohash"`
	Tier     string `json:"tier"`
}

type deleteResponse struct {
	Deleted    bool   `json:"deleted"`
	Partial    bool   `json:"partial"`
	FailedTier string `json:"failed_tier,omitempty"`
}

func toFileResponse(f *models.File) fileResponse {
	return fileResponse{
		ID:          f.ID,
		Filename:    f.Filename,
		Geohash:     f.GeoToken,
		Size:        f.Size,
		ContentType: f.ContentType,
		Tier:        f.Tier,
		CreatedAt:   f.CreatedAt,
	}
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func decodeCredentials(r *http.Request) (credentials, error) {
	var c credentials
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return c, fmt.Errorf("%w: invalid json", common.ErrorValidation)
	}
	return c, nil
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	c, err := decodeCredentials(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	u, err := s.users.Register(r.Context(), c.Username, c.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info(r.Context(), "user registered", "user_id", u.ID)
	writeJSON(w, http.StatusCreated, userResponse{ID: u.ID, Username: u.UserName, CreatedAt: u.CreatedAt})
}

func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	c, err := decodeCredentials(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	tok, err := s.users.Login(r.Context(), c.Username, c.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: tok, TokenType: "bearer"})
}

func parseCoordinate(r *http.Request, name string) (float64, error) {
	raw := r.FormValue(name)
	if raw == "" {
		return 0, fmt.Errorf("%w: %s is required", common.ErrorValidation, name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s is not a number", common.ErrorValidation, name)
	}
	return v, nil
}

func (s *Server) uploadFile(w http.ResponseWriter, r *http.Request) {
	if s.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			s.writeError(w, r, err)
			return
		}
		s.writeError(w, r, fmt.Errorf("%w: expected multipart form", common.ErrorValidation))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	lat, err := parseCoordinate(r, "latitude")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	lon, err := parseCoordinate(r, "longitude")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: file is required", common.ErrorValidation))
		return
	}
	defer f.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, f); err != nil {
		s.writeError(w, r, fmt.Errorf("read upload: %w", err))
		return
	}

	res, err := s.files.Upload(r.Context(), UserID(r.Context()), services.UploadInput{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Content:     buf.Bytes(),
		Latitude:    lat,
		Longitude:   lon,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if res.Tier == blobstore.TierFallback {
		s.logger.Warn(r.Context(), "upload committed to fallback tier", "file_id", res.File.ID)
	}
	writeJSON(w, http.StatusCreated, uploadResponse{
		FileID:   res.File.ID,
		Filename: res.File.Filename,
		Geohash:  res.File.GeoToken,
		Tier:     res.Tier.String(),
	})
}

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	list, err := s.files.List(r.Context(), UserID(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]fileResponse, 0, len(list))
	for _, f := range list {
		out = append(out, toFileResponse(f))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getFile(w http.ResponseWriter, r *http.Request) {
	f, err := s.files.Get(r.Context(), UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFileResponse(f))
}

func (s *Server) downloadFile(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("geohash")
	if err := geo.Validate(token); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.files.Download(r.Context(), UserID(r.Context()), r.PathValue("id"), token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	contentType := res.File.ContentType
	if contentType == "" {
		contentType = common.DefaultContentType
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Content)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": res.File.Filename}))
	w.Header().Set("X-Blob-Tier", res.Tier.String())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Content)
}

func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request) {
	result, err := s.files.Delete(r.Context(), UserID(r.Context()), r.PathValue("id"))

	var partial *blobstore.PartialDeleteError
	if errors.As(err, &partial) {
		writeJSON(w, http.StatusOK, deleteResponse{Deleted: true, Partial: true, FailedTier: partial.Failed.String()})
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, deleteResponse{Deleted: result == blobstore.Deleted})
}
