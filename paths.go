package ftpstore

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/gonzalop/ftpstore/ftp"
)

// ResolvePath joins rel to root. rel is always taken relative to root, a
// leading "/" included, and may not climb above it; such paths fail with
// ErrInvalidPath. The result always has root as its prefix.
//
//	ResolvePath("/srv/data", "a/b.txt")    // "/srv/data/a/b.txt"
//	ResolvePath("/srv/data", "/a/../b")    // "/srv/data/b"
//	ResolvePath("/srv/data", "../escape")  // ErrInvalidPath
func ResolvePath(root, rel string) (string, error) {
	clean, err := cleanRelative(rel)
	if err != nil {
		return "", err
	}
	return joinRoot(root, clean), nil
}

// controlChars may not appear in a remote path; they would end the FTP
// command line.
const controlChars = "\r\n\x00"

// cleanRelative normalizes rel to a root-relative path ("." for the root).
func cleanRelative(rel string) (string, error) {
	if strings.ContainsAny(rel, controlChars) {
		return "", newError("resolve", rel, ErrInvalidPath, fmt.Errorf("path contains a line break or NUL"))
	}
	clean := path.Clean("/" + strings.TrimLeft(rel, "/"))
	// Cleaning against "/" drops any ".." that would climb above the root;
	// compare with the raw clean to detect it.
	raw := path.Clean(strings.TrimLeft(rel, "/"))
	if raw == ".." || strings.HasPrefix(raw, "../") {
		return "", newError("resolve", rel, ErrInvalidPath, fmt.Errorf("path escapes the backend root"))
	}
	clean = strings.TrimPrefix(clean, "/")
	if clean == "" {
		clean = "."
	}
	return clean, nil
}

func joinRoot(root, clean string) string {
	if root == "" {
		return clean
	}
	if clean == "." {
		return path.Clean(root)
	}
	return path.Join(root, clean)
}

// DirMaker is the part of an FTP session EnsureDirectory needs.
// *ftp.Client implements it.
type DirMaker interface {
	MakeDir(path string) error
	ChangeDir(path string) error
}

// EnsureDirectory creates dir and any missing parents, parent first.
// An existing directory is success, so calling it twice is harmless.
//
// Servers that answer MKD on an existing directory with a bare 550 are
// handled by probing the directory with CWD. Note that a successful probe
// changes the session's working directory. Any other failure is returned
// as is, for dir, without touching the parents.
func EnsureDirectory(ctx context.Context, m DirMaker, dir string) error {
	if dir == "" || dir == "." || dir == "/" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return newError("mkdir", dir, ErrTransport, err)
	}

	err := m.MakeDir(dir)
	switch {
	case err == nil, ftp.IsExist(err):
		return nil
	case ftp.IsNotExist(err):
	case ftp.IsUnavailable(err) && !ftp.IsPermission(err):
		// Bare 450/550: either the directory exists or a parent is missing.
		if m.ChangeDir(dir) == nil {
			return nil
		}
	default:
		return newError("mkdir", dir, ErrTransport, err)
	}

	parent := path.Dir(dir)
	if parent == dir {
		return newError("mkdir", dir, ErrTransport, err)
	}
	if perr := EnsureDirectory(ctx, m, parent); perr != nil {
		return perr
	}
	if err := m.MakeDir(dir); err != nil && !ftp.IsExist(err) {
		return newError("mkdir", dir, ErrTransport, err)
	}
	return nil
}

// missing reports whether a CWD or NLST failure means the path is absent.
// A bare 450/550 that is neither a permission nor an exists reply counts.
func missing(err error) bool {
	if ftp.IsNotExist(err) {
		return true
	}
	return ftp.IsUnavailable(err) && !ftp.IsPermission(err) && !ftp.IsExist(err)
}
