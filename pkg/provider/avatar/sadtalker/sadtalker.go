// Package sadtalker provides an avatar.Renderer that runs the SadTalker
// inference script as a subprocess.
//
// SadTalker writes its result into a timestamped directory below
// --result_dir. The renderer points it at a private temporary directory,
// picks the newest mp4 found there and moves it to <outDir>/<name>.mp4.
package sadtalker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/voxdesk/pkg/provider/avatar"
)

// Compile-time interface assertion.
var _ avatar.Renderer = (*Renderer)(nil)

// DefaultArgs are the quality flags passed after the input and output paths.
var DefaultArgs = []string{"--still", "--enhancer", "gfpgan", "--preprocess", "full"}

// Renderer implements avatar.Renderer with SadTalker's inference.py.
type Renderer struct {
	python  string
	script  string
	workDir string
	outDir  string
	args    []string
}

// Option is a functional option for configuring a Renderer.
type Option func(*Renderer)

// WithWorkDir sets the working directory of the subprocess, normally the
// SadTalker checkout so its relative checkpoint paths resolve.
func WithWorkDir(dir string) Option {
	return func(r *Renderer) { r.workDir = dir }
}

// WithArgs replaces DefaultArgs.
func WithArgs(args ...string) Option {
	return func(r *Renderer) { r.args = args }
}

// New creates a Renderer that runs "python script ..." and stores finished
// videos in outDir, which is created if missing.
func New(python, script, outDir string, opts ...Option) (*Renderer, error) {
	if python == "" || script == "" {
		return nil, errors.New("sadtalker: python and script must not be empty")
	}
	if outDir == "" {
		return nil, errors.New("sadtalker: outDir must not be empty")
	}
	r := &Renderer{python: python, script: script, outDir: outDir, args: DefaultArgs}
	for _, o := range opts {
		o(r)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("sadtalker: create output dir: %w", err)
	}
	return r, nil
}

// Render implements avatar.Renderer.
func (r *Renderer) Render(ctx context.Context, req avatar.Request) (string, error) {
	if req.Portrait == "" || req.Audio == "" || req.Name == "" {
		return "", errors.New("sadtalker: portrait, audio and name are required")
	}

	tmp, err := os.MkdirTemp("", "sadtalker_")
	if err != nil {
		return "", fmt.Errorf("sadtalker: create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	args := []string{
		r.script,
		"--driven_audio", req.Audio,
		"--source_image", req.Portrait,
		"--result_dir", tmp,
	}
	args = append(args, r.args...)

	cmd := exec.CommandContext(ctx, r.python, args...)
	cmd.Dir = r.workDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("sadtalker: %w", ctx.Err())
		}
		return "", fmt.Errorf("sadtalker: run: %w: %s", err, tail(stderr.String(), 512))
	}

	src, err := newestMP4(tmp)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(r.outDir, req.Name+".mp4")
	if err := moveFile(src, dst); err != nil {
		return "", fmt.Errorf("sadtalker: move video: %w", err)
	}
	return dst, nil
}

// newestMP4 returns the most recently modified .mp4 below dir.
func newestMP4(dir string) (string, error) {
	var (
		best    string
		bestMod time.Time
	)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".mp4") {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if best == "" || info.ModTime().After(bestMod) {
			best, bestMod = path, info.ModTime()
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("sadtalker: scan results: %w", err)
	}
	if best == "" {
		return "", avatar.ErrNoVideo
	}
	return best, nil
}

// moveFile renames src to dst, copying when they are on different devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}
