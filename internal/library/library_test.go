package library

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/CapGo/internal/logic/result"
	"github.com/cjeanneret/CapGo/internal/permission"
)

var recordingName = regexp.MustCompile(`^[0-9A-F]{8}-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{12}\.mov$`)

func TestTempFiles_NewRecordingPath(t *testing.T) {
	dir := t.TempDir()
	tf, err := NewTempFiles(dir)
	require.NoError(t, err)

	a, b := tf.NewRecordingPath(), tf.NewRecordingPath()
	assert.NotEqual(t, a, b)
	assert.Regexp(t, recordingName, filepath.Base(a))
	assert.Equal(t, tf.Dir(), filepath.Dir(a))
}

func TestTempFiles_Remove(t *testing.T) {
	tf, err := NewTempFiles(t.TempDir())
	require.NoError(t, err)
	p := tf.NewRecordingPath()
	require.NoError(t, os.WriteFile(p, []byte("mov"), 0o644))

	require.NoError(t, tf.Remove(p))
	_, err = os.Stat(p)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	assert.NoError(t, tf.Remove(p), "missing file is not an error")
	assert.ErrorIs(t, tf.Remove(filepath.Join(t.TempDir(), "other.mov")), ErrOutsideTempDir)
}

func TestDir_SavePhotoAndVideo(t *testing.T) {
	root := filepath.Join(t.TempDir(), "library")
	lib, err := NewDir(root)
	require.NoError(t, err)

	errs := make(chan error, 2)
	lib.SavePhoto([]byte{0xFF, 0xD8, 0xFF}, func(err error) { errs <- err })

	src := filepath.Join(t.TempDir(), "CLIP.mov")
	require.NoError(t, os.WriteFile(src, []byte("movie"), 0o644))
	lib.SaveVideo(src, func(err error) { errs <- err })

	lib.Wait()
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	names, err := lib.List()
	require.NoError(t, err)
	require.Len(t, names, 2)
	assert.Regexp(t, `^IMG_.*\.jpg$`, names[0])
	assert.Regexp(t, `^VID_.*\.mov$`, names[1])

	data, err := os.ReadFile(filepath.Join(root, names[1]))
	require.NoError(t, err)
	assert.Equal(t, "movie", string(data))
	assert.FileExists(t, src, "source recording is left in place")
}

func TestCommitVideo_DelegatePathStaysReadable(t *testing.T) {
	dir, err := NewDir(filepath.Join(t.TempDir(), "library"))
	require.NoError(t, err)
	tf, err := NewTempFiles(t.TempDir())
	require.NoError(t, err)
	p := tf.NewRecordingPath()
	require.NoError(t, os.WriteFile(p, []byte("movie"), 0o644))

	var handed string
	c := result.NewCoordinator(result.Options{
		Delegate: LogDelegate{OnVideo: func(path string, err error) { handed = path }},
		Library:  dir,
		Remover:  tf,
	})
	c.Hold(result.NewVideo(p, nil))
	_, err = c.Commit()
	require.NoError(t, err)
	dir.Wait()

	assert.Equal(t, p, handed)
	data, err := os.ReadFile(handed)
	require.NoError(t, err, "delegate file reference must outlive the library save")
	assert.Equal(t, "movie", string(data))
	names, err := dir.List()
	require.NoError(t, err)
	assert.Len(t, names, 1)
}

func TestDir_SaveVideoMissingSource(t *testing.T) {
	lib, err := NewDir(t.TempDir())
	require.NoError(t, err)
	errs := make(chan error, 1)
	lib.SaveVideo(filepath.Join(t.TempDir(), "nope.mov"), func(err error) { errs <- err })
	lib.Wait()
	assert.Error(t, <-errs)
}

type countingLibrary struct {
	photos, videos int
}

func (c *countingLibrary) SavePhoto(_ []byte, done func(error)) { c.photos++; done(nil) }
func (c *countingLibrary) SaveVideo(_ string, done func(error)) { c.videos++; done(nil) }

func TestGuarded(t *testing.T) {
	cases := []struct {
		name    string
		status  permission.Status
		grant   permission.Status
		allowed bool
	}{
		{"authorized", permission.Authorized, permission.Authorized, true},
		{"denied", permission.Denied, permission.Authorized, false},
		{"restricted", permission.Restricted, permission.Authorized, false},
		{"requested_granted", permission.NotDetermined, permission.Authorized, true},
		{"requested_denied", permission.NotDetermined, permission.Denied, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			perms := permission.NewStatic(map[permission.Media]permission.Status{permission.PhotoLibrary: tc.status})
			perms.Grant(permission.PhotoLibrary, tc.grant)
			inner := &countingLibrary{}
			g := NewGuarded(inner, perms)

			var got error
			g.SavePhoto([]byte{1}, func(err error) { got = err })
			g.SaveVideo("/tmp/x.mov", func(err error) { got = err })

			if tc.allowed {
				assert.NoError(t, got)
				assert.Equal(t, 1, inner.photos)
				assert.Equal(t, 1, inner.videos)
			} else {
				assert.ErrorIs(t, got, ErrNotAuthorized)
				assert.Zero(t, inner.photos+inner.videos)
			}
		})
	}
}

func TestGuarded_DeniedWithoutCallback(t *testing.T) {
	perms := permission.NewStatic(map[permission.Media]permission.Status{permission.PhotoLibrary: permission.Denied})
	inner := &countingLibrary{}
	g := NewGuarded(inner, perms)

	assert.NotPanics(t, func() {
		g.SavePhoto([]byte{1}, nil)
		g.SaveVideo("/tmp/x.mov", nil)
	})
	assert.Zero(t, inner.photos+inner.videos)
}

func TestLogDelegate_Forwards(t *testing.T) {
	var photo, video bool
	d := LogDelegate{
		OnPhoto: func([]byte, error) { photo = true },
		OnVideo: func(string, error) { video = true },
	}
	d.PhotoFinished([]byte{1}, nil)
	d.VideoFinished("/tmp/a.mov", errors.New("x"))
	assert.True(t, photo)
	assert.True(t, video)
}
