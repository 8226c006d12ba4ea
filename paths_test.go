package ftpstore

import (
	"context"
	"net"
	"path"
	"strings"
	"syscall"
	"testing"

	"github.com/gonzalop/ftpstore/ftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		root string
		rel  string
		want string
	}{
		{"/srv/data", "a/b.txt", "/srv/data/a/b.txt"},
		{"/srv/data", "/a/b.txt", "/srv/data/a/b.txt"},
		{"/srv/data", "a/./b/../c.txt", "/srv/data/a/c.txt"},
		{"/srv/data", "/a/../b", "/srv/data/b"},
		{"/srv/data", "", "/srv/data"},
		{"/srv/data", ".", "/srv/data"},
		{"/srv/data/", "x", "/srv/data/x"},
		{"/", "x/y", "/x/y"},
		{"", "x/y", "x/y"},
		{"relative", "x", "relative/x"},
	}

	for _, tt := range tests {
		got, err := ResolvePath(tt.root, tt.rel)
		require.NoError(t, err, "ResolvePath(%q, %q)", tt.root, tt.rel)
		assert.Equal(t, tt.want, got, "ResolvePath(%q, %q)", tt.root, tt.rel)
		assert.True(t, strings.HasPrefix(got, path.Clean(tt.root)) || tt.root == "", "%q escapes %q", got, tt.root)
	}
}

func TestResolvePath_Escape(t *testing.T) {
	t.Parallel()

	for _, rel := range []string{
		"..", "../escape", "a/../../b", "/../x", "a/b/../../../c",
		"x\r\nDELE /victim.txt", "a\nb", "a\rb", "a\x00b",
	} {
		got, err := ResolvePath("/srv/data", rel)
		assert.Empty(t, got)
		assert.ErrorIs(t, err, ErrInvalidPath, "ResolvePath(%q)", rel)
	}
}

// fakeDirs is an in-memory DirMaker. With ambiguous set it answers every
// failed MKD with a bare 550, as some servers do.
type fakeDirs struct {
	dirs      map[string]bool
	ambiguous bool
	denied    string
	fail      error
	calls     []string
	created   []string
}

func newFakeDirs(ambiguous bool) *fakeDirs {
	return &fakeDirs{dirs: map[string]bool{".": true, "/": true}, ambiguous: ambiguous}
}

func (f *fakeDirs) MakeDir(dir string) error {
	f.calls = append(f.calls, "MKD "+dir)
	switch {
	case f.fail != nil:
		return f.fail
	case dir == f.denied:
		return &ftp.ProtocolError{Command: "MKD", Code: 550, Response: "Permission denied."}
	case f.dirs[dir]:
		if f.ambiguous {
			return &ftp.ProtocolError{Command: "MKD", Code: 550, Response: "Create directory operation failed."}
		}
		return &ftp.ProtocolError{Command: "MKD", Code: 550, Response: dir + ": File exists"}
	case !f.dirs[path.Dir(dir)]:
		if f.ambiguous {
			return &ftp.ProtocolError{Command: "MKD", Code: 550, Response: "Create directory operation failed."}
		}
		return &ftp.ProtocolError{Command: "MKD", Code: 550, Response: dir + ": No such file or directory"}
	}
	f.dirs[dir] = true
	f.created = append(f.created, dir)
	return nil
}

func (f *fakeDirs) ChangeDir(dir string) error {
	f.calls = append(f.calls, "CWD "+dir)
	if f.fail != nil {
		return f.fail
	}
	if !f.dirs[dir] {
		return &ftp.ProtocolError{Command: "CWD", Code: 550, Response: "Failed to change directory."}
	}
	return nil
}

func TestEnsureDirectory(t *testing.T) {
	t.Parallel()

	for _, ambiguous := range []bool{false, true} {
		f := newFakeDirs(ambiguous)
		ctx := context.Background()

		require.NoError(t, EnsureDirectory(ctx, f, "a/b/c"))
		assert.Equal(t, []string{"a", "a/b", "a/b/c"}, f.created, "ambiguous=%t", ambiguous)

		// Idempotent.
		f.calls = nil
		require.NoError(t, EnsureDirectory(ctx, f, "a/b/c"))
		assert.Equal(t, []string{"a", "a/b", "a/b/c"}, f.created)
		if ambiguous {
			assert.Equal(t, []string{"MKD a/b/c", "CWD a/b/c"}, f.calls)
		} else {
			assert.Equal(t, []string{"MKD a/b/c"}, f.calls)
		}
	}
}

func TestEnsureDirectory_Absolute(t *testing.T) {
	t.Parallel()
	f := newFakeDirs(false)
	f.dirs["/srv"] = true

	require.NoError(t, EnsureDirectory(context.Background(), f, "/srv/x/y"))
	assert.Equal(t, []string{"/srv/x", "/srv/x/y"}, f.created)
}

func TestEnsureDirectory_BaseCases(t *testing.T) {
	t.Parallel()
	f := newFakeDirs(false)

	for _, dir := range []string{"", ".", "/"} {
		require.NoError(t, EnsureDirectory(context.Background(), f, dir))
	}
	assert.Empty(t, f.calls)
}

func TestEnsureDirectory_Denied(t *testing.T) {
	t.Parallel()
	f := newFakeDirs(false)
	f.denied = "a"

	err := EnsureDirectory(context.Background(), f, "a/b")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)

	var pe *ftp.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 550, pe.Code)
	assert.Empty(t, f.created)
}

func TestEnsureDirectory_OtherFailures(t *testing.T) {
	t.Parallel()

	reset := &net.OpError{Op: "write", Net: "tcp", Err: syscall.ECONNRESET}
	tests := []struct {
		name string
		err  error
	}{
		{"network", reset},
		{"service closing", &ftp.ProtocolError{Command: "MKD", Code: 421, Response: "Timeout."}},
		{"syntax", &ftp.ProtocolError{Command: "MKD", Code: 501, Response: "Bad name."}},
		{"name not allowed", &ftp.ProtocolError{Command: "MKD", Code: 553, Response: "Bad file name."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFakeDirs(true)
			f.fail = tt.err

			err := EnsureDirectory(context.Background(), f, "/a/b/c")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrTransport)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, []string{"MKD /a/b/c"}, f.calls)

			var se *Error
			require.ErrorAs(t, err, &se)
			assert.Equal(t, "/a/b/c", se.Path)
		})
	}
}

func TestEnsureDirectory_Canceled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := newFakeDirs(false)
	err := EnsureDirectory(ctx, f, "a")
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.calls)
}
