package resources

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const invalidUrlFileName = "invalidUrl.txt"

// DiskCache persists fetched resource bytes under a root directory. Files
// are zstd compressed and keyed by a sanitized form of the URL: the scheme
// is stripped, path separators stay directory boundaries and every other
// non-alphanumeric character except '-' and '.' becomes '_'.
type DiskCache struct {
	root string
}

func NewDiskCache(root string) (*DiskCache, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &DiskCache{root: root}, nil
}

func (d *DiskCache) Root() string { return d.root }

// Path maps a resource name to its cache file path.
func (d *DiskCache) Path(name string) string {
	if i := strings.Index(name, "://"); i >= 0 {
		name = name[i+3:]
	}
	return filepath.Join(d.root, sanitizePath(name))
}

func sanitizePath(p string) string {
	var b strings.Builder
	b.Grow(len(p))
	for _, c := range p {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == '.':
			b.WriteRune(c)
		case c == '/' || c == '\\':
			b.WriteByte('/')
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (d *DiskCache) Exists(name string) bool {
	_, err := os.Stat(d.Path(name))
	return err == nil
}

func (d *DiskCache) Read(name string) ([]byte, error) {
	raw, err := os.ReadFile(d.Path(name))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(raw, nil)
}

func (d *DiskCache) Write(name string, data []byte) error {
	p := d.Path(name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return err
	}
	compressed := enc.EncodeAll(data, nil)
	_ = enc.Close()

	// Write-then-rename so readers never see a torn file.
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, compressed, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

// LoadInvalidUrls reads the persisted set of known-invalid names, one per
// line. A missing file yields an empty set.
func (d *DiskCache) LoadInvalidUrls() map[string]struct{} {
	set := map[string]struct{}{}
	f, err := os.Open(filepath.Join(d.root, invalidUrlFileName))
	if err != nil {
		return set
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			set[line] = struct{}{}
		}
	}
	return set
}

// SaveInvalidUrls rewrites the invalid-name file. Best effort: the memo is
// an optimization, losing it only costs repeated futile fetches.
func (d *DiskCache) SaveInvalidUrls(set map[string]struct{}) error {
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, n := range names {
		b.WriteString(n)
		b.WriteByte('\n')
	}
	return os.WriteFile(filepath.Join(d.root, invalidUrlFileName), []byte(b.String()), 0o644)
}
