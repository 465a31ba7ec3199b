package chunk

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/ulikunitz/xz"

	"github.com/randomizedcoder/go-decoder-bench/internal/histogram"
)

const (
	artifactExt = ".profile"
	xzExt       = ".xz"
	mergedExt   = ".hist"
	ledgerExt   = ".chunks"
)

// ArtifactPath returns <dir>/<name>_<index>.profile.
func ArtifactPath(dir, name string, index int) string {
	return filepath.Join(dir, name+"_"+strconv.Itoa(index)+artifactExt)
}

// MergedPath returns <dir>/<name>.hist.
func MergedPath(dir, name string) string {
	return filepath.Join(dir, name+mergedExt)
}

// LedgerPath returns <dir>/<name>.chunks.
func LedgerPath(dir, name string) string {
	return filepath.Join(dir, name+ledgerExt)
}

// Retention selects what happens to raw chunk artifacts after a merge.
type Retention string

const (
	RetainKeep     Retention = "keep"
	RetainDelete   Retention = "delete"
	RetainCompress Retention = "compress"
)

// ParseRetention validates a retention policy name.
func ParseRetention(s string) (Retention, error) {
	switch r := Retention(s); r {
	case RetainKeep, RetainDelete, RetainCompress:
		return r, nil
	case "":
		return RetainKeep, nil
	default:
		return "", fmt.Errorf("unknown retention policy %q (want keep, delete or compress)", s)
	}
}

// existingArtifact returns the on-disk path of an artifact, plain or xz
// compressed, or "" when neither exists.
func existingArtifact(path string) string {
	for _, p := range []string{path, path + xzExt} {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

// LoadArtifact reads the histogram from an artifact. When label is set the
// line must start with it (e.g. "latency_benchmarker"); otherwise the first
// histogram line is used. Files ending in .xz are decompressed.
func LoadArtifact(path, label string) (*histogram.Histogram, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, xzExt) {
		xr, err := xz.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to create xz reader: %w", err)
		}
		r = xr
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !histogram.ContainsLine(line) {
			continue
		}
		if label != "" && !strings.HasPrefix(line, label+"<lower>") {
			continue
		}
		h, err := histogram.FromLine(line)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return h, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return nil, fmt.Errorf("%s: %w", path, &histogram.ParseError{Reason: "no histogram line" + labelSuffix(label)})
}

func labelSuffix(label string) string {
	if label == "" {
		return ""
	}
	return " labelled " + label
}

// compressFile replaces path with path.xz.
func compressFile(path string) (err error) {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := path + xzExt + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(tmp)
		}
	}()

	w, err := xz.NewWriter(out)
	if err != nil {
		return fmt.Errorf("failed to create xz writer: %w", err)
	}
	if _, err = io.Copy(w, in); err != nil {
		return fmt.Errorf("compress %s: %w", path, err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("compress %s: %w", path, err)
	}
	if err = out.Sync(); err != nil {
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp, path+xzExt); err != nil {
		return err
	}
	return os.Remove(path)
}

// applyRetention deletes or compresses one artifact.
func applyRetention(policy Retention, path string) error {
	switch policy {
	case RetainDelete:
		err := os.Remove(path)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	case RetainCompress:
		if strings.HasSuffix(path, xzExt) {
			return nil
		}
		return compressFile(path)
	default:
		return nil
	}
}

// writeFileAtomic writes data to a temporary file and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// Artifact is a chunk artifact found on disk.
type Artifact struct {
	Path       string
	Index      int
	Compressed bool
	Size       int64
}

// Discover lists the chunk artifacts of name below dir, in any
// subdirectory, ordered by index.
func Discover(dir, name string) ([]Artifact, error) {
	pattern := filepath.Join(dir, "**", name+"_*"+artifactExt+"*")
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("pattern matching failed: %w", err)
	}

	var out []Artifact
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		base := filepath.Base(m)
		compressed := strings.HasSuffix(base, xzExt)
		base = strings.TrimSuffix(base, xzExt)
		if !strings.HasSuffix(base, artifactExt) {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(base, name+"_"), artifactExt))
		if err != nil || idx < 0 {
			continue
		}
		out = append(out, Artifact{Path: m, Index: idx, Compressed: compressed, Size: info.Size()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Index != out[j].Index {
			return out[i].Index < out[j].Index
		}
		return out[i].Path < out[j].Path
	})
	return out, nil
}
