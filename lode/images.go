package lode

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/llmer/types"
)

// fallbackImageType is assumed when the upload cannot be sniffed as an image.
const fallbackImageType = "image/jpeg"

// ImageStore persists uploaded images before they are referenced from a
// multimodal turn.
type ImageStore interface {
	// PutImage stores the seq-th upload of a session.
	PutImage(ctx context.Context, sessionID string, seq int, data []byte) (types.Image, error)
}

// SniffImageType detects the MIME type of image bytes.
func SniffImageType(data []byte) string {
	ct := http.DetectContentType(data)
	if strings.HasPrefix(ct, "image/") {
		return ct
	}
	return fallbackImageType
}

// imageFileName names an upload: whiteboard-<seq>.<ext>.
func imageFileName(seq int, contentType string) string {
	ext := "jpg"
	switch contentType {
	case "image/png":
		ext = "png"
	case "image/gif":
		ext = "gif"
	case "image/webp":
		ext = "webp"
	case "image/bmp":
		ext = "bmp"
	}
	return fmt.Sprintf("whiteboard-%d.%s", seq, ext)
}

// FileImageStore writes uploads to <Dir>/images/<session>/.
type FileImageStore struct {
	Dir string
}

// PutImage implements ImageStore.
func (s FileImageStore) PutImage(_ context.Context, sessionID string, seq int, data []byte) (types.Image, error) {
	if err := validName(sessionID); err != nil {
		return types.Image{}, err
	}
	dir := filepath.Join(s.Dir, "images", sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.Image{}, WrapWriteError(err, dir)
	}

	contentType := SniffImageType(data)
	path := filepath.Join(dir, imageFileName(seq, contentType))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return types.Image{}, WrapWriteError(err, path)
	}
	return types.Image{Ref: path, ContentType: contentType, Data: data}, nil
}

// LodeImageStore writes uploads as sidecar files to a Lode store, next to
// the session's dataset partitions. Files bypass the dataset's manifest
// machinery entirely.
type LodeImageStore struct {
	dataset string
	factory lode.StoreFactory
	now     func() time.Time

	storeOnce sync.Once
	store     lode.Store
	storeErr  error
}

// NewLodeImageStore creates an image store on the given factory.
func NewLodeImageStore(dataset string, factory lode.StoreFactory) *LodeImageStore {
	if dataset == "" {
		dataset = DefaultDataset
	}
	return &LodeImageStore{dataset: dataset, factory: factory, now: time.Now}
}

// PutImage implements ImageStore.
func (s *LodeImageStore) PutImage(ctx context.Context, sessionID string, seq int, data []byte) (types.Image, error) {
	if err := validName(sessionID); err != nil {
		return types.Image{}, err
	}
	store, err := s.getOrCreateStore()
	if err != nil {
		return types.Image{}, WrapInitError(err, s.dataset)
	}

	contentType := SniffImageType(data)
	path := s.buildFilePath(sessionID, imageFileName(seq, contentType))
	if err := store.Put(ctx, path, bytes.NewReader(data)); err != nil {
		return types.Image{}, WrapWriteError(err, path)
	}
	return types.Image{Ref: path, ContentType: contentType, Data: data}, nil
}

// getOrCreateStore lazily initializes the Store from the factory.
func (s *LodeImageStore) getOrCreateStore() (lode.Store, error) {
	s.storeOnce.Do(func() {
		s.store, s.storeErr = s.factory()
	})
	return s.store, s.storeErr
}

// buildFilePath computes the Hive-partitioned path for an image.
// Format: datasets/<dataset>/partitions/day=<d>/session_id=<s>/files/<name>
func (s *LodeImageStore) buildFilePath(sessionID, name string) string {
	return fmt.Sprintf("datasets/%s/partitions/day=%s/session_id=%s/files/%s",
		s.dataset, DeriveDay(s.now()), sessionID, name)
}

var (
	_ ImageStore = FileImageStore{}
	_ ImageStore = (*LodeImageStore)(nil)
)
