package pathmap

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

const maxLinkHops = 40

// Contained reports whether p stays inside root once symlinks are followed.
// Both are host paths on this machine. A p that does not exist yet is
// resolved through its nearest existing ancestor; a dangling symlink is
// judged by where it points.
func Contained(root, p string) (bool, error) {
	if root == "" {
		return true, nil
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return false, err
	}
	realPath, err := resolve(p)
	if err != nil {
		return false, err
	}
	return Within(realRoot, realPath), nil
}

// resolve follows every symlink in p that exists, keeping the missing tail.
func resolve(p string) (string, error) {
	p = filepath.Clean(p)
	var tail []string
	for hops := 0; hops < maxLinkHops; {
		real, err := filepath.EvalSymlinks(p)
		if err == nil {
			return filepath.Join(append([]string{real}, tail...)...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		if info, lerr := os.Lstat(p); lerr == nil && info.Mode()&fs.ModeSymlink != 0 {
			target, err := os.Readlink(p)
			if err != nil {
				return "", err
			}
			if !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(p), target)
			}
			p = filepath.Clean(target)
			hops++
			continue
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", err
		}
		tail = append([]string{filepath.Base(p)}, tail...)
		p = parent
	}
	return "", errors.New("too many levels of symbolic links")
}
