// Package library provides the file-system collaborators of the capture
// flow: unique recording paths, removal of discarded recordings, and an
// on-disk media library that committed captures are saved to.
package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cjeanneret/CapGo/internal/debug"
	"github.com/cjeanneret/CapGo/internal/logic/result"
	"github.com/cjeanneret/CapGo/internal/permission"
)

// ErrNotAuthorized is passed to save callbacks when photo-library access is not granted.
var ErrNotAuthorized = errors.New("library: photo library access not authorized")

// ErrOutsideTempDir is returned when asked to remove a file it did not create.
var ErrOutsideTempDir = errors.New("library: path outside temp dir")

// TempFiles allocates in-progress recording files and removes them on discard.
type TempFiles struct {
	dir string
}

// NewTempFiles uses dir for recordings, creating it if needed.
func NewTempFiles(dir string) (*TempFiles, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &TempFiles{dir: abs}, nil
}

// Dir returns the directory recordings are written to.
func (t *TempFiles) Dir() string { return t.dir }

// NewRecordingPath returns <dir>/<UPPERCASE-UUID>.mov.
func (t *TempFiles) NewRecordingPath() string {
	return filepath.Join(t.dir, strings.ToUpper(uuid.NewString())+".mov")
}

// Remove deletes a recording. A missing file is not an error.
func (t *TempFiles) Remove(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if filepath.Dir(abs) != t.dir {
		return fmt.Errorf("%w: %s", ErrOutsideTempDir, path)
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	debug.Trace("removed recording %s", abs)
	return nil
}

// Dir is a media library rooted at a directory. Saves run on their own
// goroutine and are written atomically.
type Dir struct {
	root string
	log  zerolog.Logger
	wg   sync.WaitGroup
}

// NewDir creates the library directory if needed.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create library dir: %w", err)
	}
	return &Dir{root: root, log: debug.Component("library")}, nil
}

// Root returns the library directory.
func (d *Dir) Root() string { return d.root }

// SavePhoto writes data as IMG_<uuid>.jpg.
func (d *Dir) SavePhoto(data []byte, done func(error)) {
	d.async(done, func() error {
		name := filepath.Join(d.root, "IMG_"+strings.ToUpper(uuid.NewString())+".jpg")
		if err := renameio.WriteFile(name, data, 0o644); err != nil {
			return fmt.Errorf("write photo: %w", err)
		}
		d.log.Info().Str("file", filepath.Base(name)).Int("bytes", len(data)).Msg("photo saved")
		return nil
	})
}

// SaveVideo copies the recording at path into the library as VID_<uuid>.mov.
// The recording itself stays where it is; it belongs to the delegate.
func (d *Dir) SaveVideo(path string, done func(error)) {
	d.async(done, func() error {
		name := filepath.Join(d.root, "VID_"+strings.ToUpper(uuid.NewString())+".mov")
		if err := copyFile(path, name); err != nil {
			return fmt.Errorf("save video: %w", err)
		}
		d.log.Info().Str("file", filepath.Base(name)).Msg("video saved")
		return nil
	})
}

func (d *Dir) async(done func(error), fn func() error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		err := fn()
		if done != nil {
			done(err)
		}
	}()
}

// Wait blocks until all pending saves finished.
func (d *Dir) Wait() {
	d.wg.Wait()
}

// List returns the saved file names, sorted.
func (d *Dir) List() ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		n := e.Name()
		if e.Type().IsRegular() && (strings.HasPrefix(n, "IMG_") || strings.HasPrefix(n, "VID_")) {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names, nil
}

// copyFile copies src into an atomically replaced dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	pf, err := renameio.NewPendingFile(dst, renameio.WithPermissions(0o644))
	if err != nil {
		return err
	}
	defer pf.Cleanup()

	if _, err := io.Copy(pf, in); err != nil {
		return err
	}
	return pf.CloseAtomicallyReplace()
}

// Guarded saves through lib only while photo-library access is authorized.
// A NotDetermined status is requested once per save.
type Guarded struct {
	lib   result.Library
	perms permission.Service
	log   zerolog.Logger
}

// NewGuarded wraps lib with an authorization check.
func NewGuarded(lib result.Library, perms permission.Service) *Guarded {
	return &Guarded{lib: lib, perms: perms, log: debug.Component("library")}
}

func (g *Guarded) authorized() bool {
	st, err := permission.Ensure(context.Background(), g.perms, permission.PhotoLibrary)
	if err != nil || st != permission.Authorized {
		g.log.Warn().Stringer("status", st).AnErr("err", err).Msg("photo library not authorized, save skipped")
		return false
	}
	return true
}

func (g *Guarded) SavePhoto(data []byte, done func(error)) {
	if !g.authorized() {
		if done != nil {
			done(ErrNotAuthorized)
		}
		return
	}
	g.lib.SavePhoto(data, done)
}

func (g *Guarded) SaveVideo(path string, done func(error)) {
	if !g.authorized() {
		if done != nil {
			done(ErrNotAuthorized)
		}
		return
	}
	g.lib.SaveVideo(path, done)
}

// LogDelegate is a result.Delegate that logs committed captures and
// forwards them to optional hooks.
type LogDelegate struct {
	OnPhoto func(data []byte, err error)
	OnVideo func(path string, err error)
}

func (d LogDelegate) PhotoFinished(data []byte, err error) {
	if err != nil {
		debug.Info("photo finished with error: %v", err)
	} else {
		debug.Info("photo finished (%d bytes)", len(data))
	}
	if d.OnPhoto != nil {
		d.OnPhoto(data, err)
	}
}

func (d LogDelegate) VideoFinished(path string, err error) {
	if err != nil {
		debug.Info("video %s finished with error: %v", filepath.Base(path), err)
	} else {
		debug.Info("video finished: %s", filepath.Base(path))
	}
	if d.OnVideo != nil {
		d.OnVideo(path, err)
	}
}
