package host

import (
	"archive/zip"
	"bufio"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/starbridge/errors"
)

// ClassPath is an Index populated by scanning class path entries:
//
//	*.jar, *.zip    archives; every "pkg/sub/Name.class" entry is a class
//	directories     walked recursively for *.class files
//	*.txt, *.lst    class lists, one "pkg/sub/Name" per line
//
// Inner classes ('$') and classes without a package are skipped. Entries that
// do not exist or cannot be read are skipped with a warning, matching how a
// JVM treats a stale class path.
type ClassPath struct {
	*Index
	entries []string
}

// ScanClassPath builds a ClassPath from the given entries.
func ScanClassPath(entries ...string) (*ClassPath, error) {
	cp := &ClassPath{Index: NewIndex()}
	for _, entry := range entries {
		if err := cp.Add(entry); err != nil {
			return nil, err
		}
	}
	return cp, nil
}

// SplitClassPath splits an os.PathListSeparator separated class path string.
func SplitClassPath(s string) []string {
	return filepath.SplitList(s)
}

// Entries returns the scanned entries in scan order.
func (cp *ClassPath) Entries() []string {
	out := make([]string, len(cp.entries))
	copy(out, cp.entries)
	return out
}

// Add scans one more class path entry. The index only grows.
func (cp *ClassPath) Add(entry string) error {
	if entry == "" {
		return nil
	}
	info, err := os.Stat(entry)
	if err != nil {
		Logger().Warn("skipping class path entry", zap.String("entry", entry), zap.Error(err))
		return nil
	}

	var added int
	switch {
	case info.IsDir():
		added, err = cp.scanDir(entry)
	case hasExt(entry, ".jar", ".zip"):
		added, err = cp.scanArchive(entry)
	case hasExt(entry, ".txt", ".lst"):
		added, err = cp.scanList(entry)
	default:
		Logger().Debug("ignoring class path entry", zap.String("entry", entry))
		return nil
	}
	if err != nil {
		return errors.Wrap(errors.PhaseEnquire, errors.KindInvalidData, err, "scan class path entry "+entry)
	}

	cp.entries = append(cp.entries, entry)
	Logger().Debug("scanned class path entry", zap.String("entry", entry), zap.Int("classes", added))
	return nil
}

func (cp *ClassPath) scanArchive(path string) (int, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	added := 0
	for _, f := range r.File {
		if f.FileInfo().IsDir() || !strings.HasSuffix(strings.ToLower(f.Name), ".class") {
			continue
		}
		if name, ok := classNameFromPath(f.Name); ok {
			if cp.AddClass(ClassHandle{Name: name, Source: path}) {
				added++
			}
		}
	}
	return added, nil
}

func (cp *ClassPath) scanDir(root string) (int, error) {
	added := 0
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".class") {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if name, ok := classNameFromPath(filepath.ToSlash(rel)); ok {
			if cp.AddClass(ClassHandle{Name: name, Source: root}) {
				added++
			}
		}
		return nil
	})
	return added, err
}

func (cp *ClassPath) scanList(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return cp.readList(f, path)
}

func (cp *ClassPath) readList(r io.Reader, source string) (int, error) {
	added := 0
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if name, ok := classNameFromPath(line); ok {
			if cp.AddClass(ClassHandle{Name: name, Source: source}) {
				added++
			}
		}
	}
	return added, sc.Err()
}

func hasExt(path string, exts ...string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}
