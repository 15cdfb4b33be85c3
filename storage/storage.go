package storage

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/kubebox/config"
	"github.com/isdmx/kubebox/sandbox"
)

// ErrEmptyInput is returned when an uploaded input file has no content.
var ErrEmptyInput = errors.New("empty file received")

// outputDir is where guests write their output artifacts, relative to the shared root.
const outputDir = "output"

// SharedStorage stages input files on, and reads artifacts from, the volume shared with the executor pods.
type SharedStorage struct {
	logger *zap.Logger
	root   string
	fs     sandbox.FileSystem
}

// Option defines a functional option for SharedStorage
type Option func(*SharedStorage)

// WithFileSystem sets the FileSystem for SharedStorage
func WithFileSystem(fs sandbox.FileSystem) Option {
	return func(s *SharedStorage) {
		s.fs = fs
	}
}

// New creates a SharedStorage rooted at sandbox.shared_root.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) *SharedStorage {
	s := &SharedStorage{
		logger: logger.Named("storage"),
		root:   cfg.Sandbox.SharedRoot,
		fs:     &sandbox.RealFileSystem{},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Root returns the shared root directory.
func (s *SharedStorage) Root() string {
	return s.root
}

// EnsureLayout creates the output directory guests write artifacts into.
func (s *SharedStorage) EnsureLayout() error {
	dir := filepath.Join(s.root, outputDir)
	if err := s.fs.MkdirAll(dir, sandbox.DirPermission); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return nil
}

// SaveInput writes r to {root}/{uuid}{ext}, where ext is taken from filename, and returns the path.
func (s *SharedStorage) SaveInput(r io.Reader, filename string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read input file: %w", err)
	}
	if len(data) == 0 {
		return "", ErrEmptyInput
	}

	name := uuid.NewString() + inputExtension(filename)
	path := filepath.Join(s.root, name)
	if err := s.fs.WriteFile(path, data, sandbox.FilePermission); err != nil {
		return "", fmt.Errorf("failed to save input file: %w", err)
	}

	s.logger.Debug("staged input file", zap.String("path", path), zap.Int("bytes", len(data)))
	return path, nil
}

// AttachArtifact fills OutputArtifactContent with the base64 of the artifact the guest wrote.
// A missing artifact leaves the content empty.
func (s *SharedStorage) AttachArtifact(outcome *sandbox.ExecutionOutcome) {
	if outcome.OutputArtifactPath == "" || outcome.ErrorText != "" {
		return
	}

	data, err := s.fs.ReadFile(outcome.OutputArtifactPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to read output artifact", zap.String("path", outcome.OutputArtifactPath), zap.Error(err))
		}
		return
	}

	outcome.OutputArtifactContent = base64.StdEncoding.EncodeToString(data)
}

// Remove deletes a staged file. Missing files are ignored.
func (s *SharedStorage) Remove(path string) {
	if path == "" {
		return
	}
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("failed to remove staged file", zap.String("path", path), zap.Error(err))
	}
}

func inputExtension(filename string) string {
	ext := filepath.Ext(filepath.Base(filename))
	if ext == "." || strings.ContainsAny(ext, `/\'"`) {
		return ""
	}
	return ext
}
