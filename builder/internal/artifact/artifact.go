// Package artifact publishes build output to blob storage under the
// project's namespace.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ErrUploadFailed marks any failure to store an output file.
var ErrUploadFailed = errors.New("upload failed")

const fallbackContentType = "application/octet-stream"

// Store writes one object.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
}

// File is a build output file.
type File struct {
	// Path is the absolute location on disk.
	Path string
	// Rel is the slash-separated path relative to the output directory.
	Rel string
}

// Key joins the optional prefix, the project id and the relative path.
func Key(prefix, projectID, rel string) string {
	rel = strings.TrimPrefix(filepath.ToSlash(rel), "/")
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return path.Join(projectID, rel)
	}
	return path.Join(prefix, projectID, rel)
}

// ContentType picks a type from the extension, then by sniffing the file.
func ContentType(filePath string) string {
	if ct := mime.TypeByExtension(filepath.Ext(filePath)); ct != "" {
		return ct
	}
	if mt, err := mimetype.DetectFile(filePath); err == nil && mt != nil {
		return mt.String()
	}
	return fallbackContentType
}

// Collect walks root recursively and returns regular files in lexical order.
func Collect(root string) ([]File, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("output directory %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("output path %s is not a directory", root)
	}
	var files []File
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, File{Path: p, Rel: filepath.ToSlash(rel)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk output directory: %w", err)
	}
	return files, nil
}

// Uploader stores files under {prefix}/{projectId}/{rel}.
type Uploader struct {
	store  Store
	prefix string
}

// NewUploader wraps a store.
func NewUploader(store Store, prefix string) Uploader {
	return Uploader{store: store, prefix: prefix}
}

// Upload stores one file. Every error wraps ErrUploadFailed.
func (u Uploader) Upload(ctx context.Context, projectID string, f File) error {
	file, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUploadFailed, f.Rel, err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUploadFailed, f.Rel, err)
	}
	key := Key(u.prefix, projectID, f.Rel)
	if err := u.store.Put(ctx, key, file, info.Size(), ContentType(f.Path)); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUploadFailed, f.Rel, err)
	}
	return nil
}
