package intake

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/veridoc/briefd/safety"
)

// ErrFileTooLarge is returned when an upload exceeds the configured size cap.
var ErrFileTooLarge = errors.New("intake: file exceeds maximum size")

// UploadResult holds the result of receiving a file upload.
type UploadResult struct {
	SHA256       string `json:"sha256"`
	SizeBytes    int64  `json:"size_bytes"`
	Path         string `json:"-"`
	Deduplicated bool   `json:"deduplicated"`
}

// ReceiveFile streams r into the spool directory while hashing, enforces the
// size cap, checks dedup against the store, and records the document in state
// "received". The spooled file keeps the upload's extension so format
// detection can fall back on it when the MIME type is missing.
func ReceiveFile(r io.Reader, matterID, filename string, cfg *Config, store *Store) (*UploadResult, error) {
	// Path traversal guard: matterID is used in file paths.
	if err := safety.ValidateIdentifier(matterID); err != nil {
		return nil, fmt.Errorf("invalid matter ID: %w", err)
	}

	// Stage 1: stream into a uniquely named incoming dir while hashing.
	// The random suffix prevents collisions between concurrent uploads
	// for the same matter.
	var suffix [8]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return nil, fmt.Errorf("generate upload suffix: %w", err)
	}
	incomingDir := filepath.Join(cfg.SpoolDir, matterID, "incoming-"+hex.EncodeToString(suffix[:]))
	if err := os.MkdirAll(incomingDir, 0o755); err != nil {
		return nil, fmt.Errorf("prepare spool dir: %w", err)
	}

	spoolName := "document" + spoolExt(filename)
	spoolPath := filepath.Join(incomingDir, spoolName)
	f, err := os.Create(spoolPath)
	if err != nil {
		os.RemoveAll(incomingDir)
		return nil, fmt.Errorf("create spool file: %w", err)
	}

	limited := io.LimitReader(r, cfg.MaxFileBytes()+1) // +1 to detect overflow
	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(limited, hasher))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.RemoveAll(incomingDir)
		return nil, fmt.Errorf("spool upload: %w", err)
	}
	if size > cfg.MaxFileBytes() {
		os.RemoveAll(incomingDir)
		return nil, fmt.Errorf("%w (%d MB)", ErrFileTooLarge, cfg.MaxFileMB)
	}

	hash := hex.EncodeToString(hasher.Sum(nil))

	// Stage 2: dedup. An existing document with the same content short-circuits
	// the pipeline; the caller serves the stored summary.
	existing, err := store.GetDocument(hash, matterID)
	if err != nil {
		os.RemoveAll(incomingDir)
		return nil, fmt.Errorf("dedup check: %w", err)
	}
	if existing != nil {
		os.RemoveAll(incomingDir)
		return &UploadResult{
			SHA256:       hash,
			SizeBytes:    size,
			Path:         existing.SpoolPath,
			Deduplicated: true,
		}, nil
	}

	// Stage 3: move the incoming dir to its final location keyed by hash.
	finalDir := filepath.Join(cfg.SpoolDir, matterID, hash)
	finalPath := filepath.Join(finalDir, spoolName)
	if err := os.Rename(incomingDir, finalDir); err != nil {
		// Rename can fail across filesystems; fall back to keeping the incoming dir.
		finalPath = spoolPath
	}

	// Stage 4: record the document.
	now := nowRFC3339()
	if err := store.InsertDocument(&Document{
		SHA256:    hash,
		MatterID:  matterID,
		State:     StateReceived,
		Filename:  filepath.Base(filename),
		SizeBytes: size,
		SpoolPath: finalPath,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}

	return &UploadResult{
		SHA256:    hash,
		SizeBytes: size,
		Path:      finalPath,
	}, nil
}

// spoolExt returns a safe lowercase extension taken from the upload's
// filename, or empty when there is none.
func spoolExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if len(ext) < 2 || len(ext) > 8 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
