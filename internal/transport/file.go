package transport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/sungwon/mail-dispatch/internal/message"
)

const defaultOutputDir = "./mail_output"

// File implements Transport by writing each message as an .eml file in the
// configured output directory. Intended for development and debugging;
// messages are never actually delivered.
type File struct {
	outputDir string
	signer    *DKIMSigner
}

// NewFile creates a File transport writing to cfg.OutputDir (default
// "./mail_output"). signer may be nil.
func NewFile(cfg Config, signer *DKIMSigner) *File {
	dir := cfg.OutputDir
	if dir == "" {
		dir = defaultOutputDir
	}
	return &File{outputDir: dir, signer: signer}
}

func (f *File) Name() string { return "file" }

// Send writes the rendered message to <timestamp>_<id>.eml.
func (f *File) Send(_ context.Context, env *message.Envelope) (*Result, error) {
	if err := os.MkdirAll(f.outputDir, 0o750); err != nil {
		return nil, fmt.Errorf("file: create output dir: %w", err)
	}

	now := time.Now()
	id := uuid.NewString() + "@" + messageIDDomain(env.From, "")
	raw, err := buildMessage(env, id, now)
	if err != nil {
		return nil, fmt.Errorf("file: build message: %w", err)
	}
	if raw, err = f.signer.Sign(raw, env.From); err != nil {
		return nil, fmt.Errorf("file: %w", err)
	}

	filename := fmt.Sprintf("%s_%s.eml", now.Format("20060102_150405"), uuid.NewString())
	path := filepath.Join(f.outputDir, filename)
	if err := os.WriteFile(path, raw, 0o640); err != nil {
		return nil, fmt.Errorf("file: write %s: %w", path, err)
	}

	return &Result{MessageID: id, Response: "250 OK " + path}, nil
}

// HealthCheck verifies the output directory is writable.
func (f *File) HealthCheck(_ context.Context) error {
	if err := os.MkdirAll(f.outputDir, 0o750); err != nil {
		return fmt.Errorf("file: output dir not writable: %w", err)
	}
	return nil
}
