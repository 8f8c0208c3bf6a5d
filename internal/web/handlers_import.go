package web

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/JonMunkholm/ingest/internal/core"
	"github.com/JonMunkholm/ingest/internal/logging"
)

// uploadMemory is how much of a multipart body is held in memory before
// the rest spills to disk.
const uploadMemory = 32 << 20

// importRequest is the JSON body of POST /api/imports. Multipart uploads
// carry the same names as form fields next to the "file" part.
type importRequest struct {
	Path           string `json:"path"`
	SourceURI      string `json:"source_uri"`
	Dialect        string `json:"dialect"`
	Force          bool   `json:"force"`
	Stream         bool   `json:"stream"`
	ChunkSize      int    `json:"chunk_size"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (req importRequest) job() core.Job {
	return core.Job{
		Path:           req.Path,
		SourceURI:      req.SourceURI,
		Dialect:        req.Dialect,
		Force:          req.Force,
		Streaming:      req.Stream,
		ChunkSize:      req.ChunkSize,
		IdempotencyKey: req.IdempotencyKey,
	}
}

// handleImport runs one job synchronously and answers with its Result.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.deps.Limiter.Acquire(ctx); err != nil {
		s.respondError(w, r, err)
		return
	}
	defer s.deps.Limiter.Release()

	var (
		job     core.Job
		cleanup func()
		err     error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		job, cleanup, err = s.uploadJob(w, r)
	} else {
		job, err = s.pathJob(r)
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if cleanup != nil {
		defer cleanup()
	}

	log := logging.WithFields(ctx, "source_uri", job.SourceURI, "dialect", job.Dialect)
	log.Debug("import requested", "stream", job.Streaming, "force", job.Force)

	res, err := s.deps.Importer.Import(ctx, job)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// pathJob decodes a JSON request naming a file below the import root.
func (s *Server) pathJob(r *http.Request) (core.Job, error) {
	var req importRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return core.Job{}, badRequest("invalid import request: %v", err)
	}
	if req.ChunkSize < 0 {
		return core.Job{}, badRequest("chunk_size must be non-negative")
	}
	if req.Path == "" {
		return core.Job{}, badRequest("path is required for JSON imports")
	}

	p, err := resolveImportPath(s.cfg.Server.ImportRoot, req.Path)
	if err != nil {
		return core.Job{}, err
	}
	if req.SourceURI == "" {
		req.SourceURI = req.Path
	}
	req.Path = p
	return req.job(), nil
}

// resolveImportPath confines p to root. Relative paths are taken relative
// to root.
func resolveImportPath(root, p string) (string, error) {
	if root == "" {
		return "", badRequest("path imports are disabled; upload the file instead")
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return "", badRequest("invalid import root: %v", err)
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)
	if !within(root, p) {
		return "", badRequest("path %q is outside the import root", p)
	}

	// Symlinks below root must not lead out of it.
	target, err := filepath.EvalSymlinks(p)
	if errors.Is(err, fs.ErrNotExist) {
		return p, nil // the engine reports missing files
	}
	if err != nil {
		return "", badRequest("invalid path %q: %v", p, err)
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", badRequest("invalid import root: %v", err)
	}
	if !within(realRoot, target) {
		return "", badRequest("path %q is outside the import root", p)
	}
	return p, nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// uploadJob spools the uploaded file to a temporary file that keeps the
// original extension, since the extension drives format sniffing.
func (s *Server) uploadJob(w http.ResponseWriter, r *http.Request) (core.Job, func(), error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadSize)
	if err := r.ParseMultipartForm(uploadMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return core.Job{}, nil, badRequest("file exceeds the %d byte upload limit", tooLarge.Limit)
		}
		return core.Job{}, nil, badRequest("invalid multipart form: %v", err)
	}

	req, err := formRequest(r)
	if err != nil {
		return core.Job{}, nil, err
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return core.Job{}, nil, badRequest("no file provided")
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	tmp, err := os.CreateTemp("", "ingest-upload-*"+ext)
	if err != nil {
		return core.Job{}, nil, err
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
		if r.MultipartForm != nil {
			r.MultipartForm.RemoveAll()
		}
	}
	if _, err := io.Copy(tmp, file); err != nil {
		cleanup()
		return core.Job{}, nil, err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return core.Job{}, nil, err
	}

	req.Path = tmp.Name()
	if req.SourceURI == "" {
		req.SourceURI = "upload:" + filepath.Base(header.Filename)
	}
	return req.job(), cleanup, nil
}

func formRequest(r *http.Request) (importRequest, error) {
	req := importRequest{
		SourceURI:      r.FormValue("source_uri"),
		Dialect:        r.FormValue("dialect"),
		IdempotencyKey: r.FormValue("idempotency_key"),
	}
	var err error
	if req.Force, err = formBool(r, "force"); err != nil {
		return req, err
	}
	if req.Stream, err = formBool(r, "stream"); err != nil {
		return req, err
	}
	if v := r.FormValue("chunk_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return req, badRequest("chunk_size must be a non-negative integer")
		}
		req.ChunkSize = n
	}
	return req, nil
}

func formBool(r *http.Request, name string) (bool, error) {
	v := r.FormValue(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, badRequest("%s must be a boolean", name)
	}
	return b, nil
}
