package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/andrebq/famvault/auth"
	authapi "github.com/andrebq/famvault/auth/api"
	"github.com/andrebq/famvault/internal/logutil"
	"github.com/andrebq/famvault/session"
	"github.com/andrebq/famvault/vault"
	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
)

type (
	// FileStore is the part of the vault that holds uploaded documents
	FileStore interface {
		StoreFile(ctx context.Context, f *vault.File, content []byte) error
		LookupFile(ctx context.Context, name string) (*vault.File, error)
		CopyFile(ctx context.Context, out io.Writer, name string) (int64, error)
		ListFiles(ctx context.Context, ownerID string) ([]vault.File, error)
	}

	// Gate decides if the session may read a file owned by ownerID
	Gate interface {
		Authorize(ctx context.Context, sess *session.Session, ownerID string) error
	}

	fileType struct {
		mime  string
		sniff string
	}

	files struct {
		store     FileStore
		gate      Gate
		maxUpload int64
		dev       bool
	}

	fileBody struct {
		File vault.File `json:"file"`
	}

	fileListBody struct {
		Files []vault.File `json:"files"`
	}
)

var (
	allowedTypes = map[string]fileType{
		".pdf":  {mime: "application/pdf", sniff: "application/pdf"},
		".jpg":  {mime: "image/jpeg", sniff: "image/jpeg"},
		".jpeg": {mime: "image/jpeg", sniff: "image/jpeg"},
		".png":  {mime: "image/png", sniff: "image/png"},
		// docx is a zip container
		".docx": {mime: "application/vnd.openxmlformats-officedocument.wordprocessingml.document", sniff: "application/zip"},
	}
)

// AsHandler exposes the uploaded files. Reading goes through gate,
// uploads are always owned by the session user.
func AsHandler(ctx context.Context, store FileStore, gate Gate, realm *authapi.SecurityRealm, maxUpload int64) http.Handler {
	f := &files{
		store:     store,
		gate:      gate,
		maxUpload: maxUpload,
		dev:       realm.Dev(),
	}
	router := httprouter.New()
	router.Handler("GET", "/uploads/:filename", realm.RequireAuth(http.HandlerFunc(f.serveFile)))
	router.Handler("POST", "/uploads", realm.RequireAuth(http.HandlerFunc(f.upload)))
	router.Handler("GET", "/api/files", realm.RequireAuth(http.HandlerFunc(f.list)))
	return router
}

func (f *files) serveFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logutil.GetOrDefault(ctx)
	name := httprouter.ParamsFromContext(ctx).ByName("filename")
	sess := session.FromContext(ctx)

	meta, err := f.store.LookupFile(ctx, name)
	if err != nil {
		authapi.WriteError(w, r, err, f.dev)
		return
	}
	if err := f.gate.Authorize(ctx, sess, meta.OwnerID); err != nil {
		log.Warn().Str("user_id", sess.UserID).Str("filename", meta.Name).Msg("File access denied")
		authapi.WriteError(w, r, err, f.dev)
		return
	}

	// copy to memory first, the database is released before
	// the (possibly slow) client starts reading
	var buf bytes.Buffer
	_, err = f.store.CopyFile(ctx, &buf, meta.Name)
	if err != nil {
		authapi.WriteError(w, r, err, f.dev)
		return
	}
	w.Header().Set("Content-Type", meta.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if r.URL.Query().Get("download") == "true" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": meta.Name}))
	}
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (f *files) upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := session.FromContext(ctx)
	// leave some room for the multipart envelope
	r.Body = http.MaxBytesReader(w, r.Body, f.maxUpload+(1<<20))
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		authapi.WriteError(w, r, auth.ValidationError{Field: "file", Reason: "upload is too large or not multipart"}, f.dev)
		return
	}
	defer r.MultipartForm.RemoveAll()
	in, header, err := r.FormFile("file")
	if err != nil {
		authapi.WriteError(w, r, auth.ValidationError{Field: "file", Reason: "is required"}, f.dev)
		return
	}
	defer in.Close()

	content, err := io.ReadAll(io.LimitReader(in, f.maxUpload+1))
	if err != nil {
		authapi.WriteError(w, r, err, f.dev)
		return
	}
	ext, mimeType, err := CheckFile(header.Filename, content, f.maxUpload)
	if err != nil {
		authapi.WriteError(w, r, err, f.dev)
		return
	}

	stored := &vault.File{
		Name:     uuid.NewString() + ext,
		OwnerID:  sess.UserID,
		MimeType: mimeType,
	}
	if err := f.store.StoreFile(ctx, stored, content); err != nil {
		authapi.WriteError(w, r, err, f.dev)
		return
	}
	log := logutil.GetOrDefault(ctx)
	log.Info().
		Str("user_id", sess.UserID).
		Str("filename", stored.Name).
		Int64("size", stored.Size).
		Msg("File uploaded")
	authapi.WriteJSON(w, http.StatusCreated, fileBody{File: *stored})
}

func (f *files) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list, err := f.store.ListFiles(ctx, session.FromContext(ctx).UserID)
	if err != nil {
		authapi.WriteError(w, r, err, f.dev)
		return
	}
	if list == nil {
		list = []vault.File{}
	}
	authapi.WriteJSON(w, http.StatusOK, fileListBody{Files: list})
}

// CheckFile validates an upload named name and returns the extension and
// mime type it will be stored with. Only pdf, jpg, jpeg, png and docx files
// up to max bytes are accepted, and their content must look like what the
// extension says.
func CheckFile(name string, content []byte, max int64) (string, string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	kind, ok := allowedTypes[ext]
	if !ok {
		return "", "", auth.ValidationError{Field: "file", Reason: "only pdf, jpg, jpeg, png and docx files are accepted"}
	}
	if int64(len(content)) > max {
		return "", "", auth.ValidationError{Field: "file", Reason: fmt.Sprintf("must be smaller than %v bytes", max)}
	}
	if sniffed := http.DetectContentType(content); !strings.HasPrefix(sniffed, kind.sniff) {
		return "", "", auth.ValidationError{Field: "file", Reason: "content does not match the file extension"}
	}
	return ext, kind.mime, nil
}
