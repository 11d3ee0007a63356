// Package archive ingests case collections: a ZIP or a directory of
// (image, report-text) pairs, either flat (paired by file stem) or one
// folder per case. Malformed entries become per-case failures, never
// archive-level ones.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/carmmmm/RadiologyTrustLayer/internal/pipeline"
	"github.com/carmmmm/RadiologyTrustLayer/internal/worker"
)

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true,
	".bmp": true, ".tiff": true, ".tif": true, ".webp": true,
}

var reportExts = map[string]bool{".txt": true, ".md": true}

// maxEntryBytes bounds a single archive entry to guard against zip bombs.
const maxEntryBytes = 64 << 20

// Load reads cases from path, which may be a ZIP file or a directory.
// It returns the parseable cases plus a failure entry for every malformed
// case. An error is returned only when the archive itself is unreadable or
// holds no case candidates at all.
func Load(path string) ([]pipeline.CaseInput, []worker.CaseFailure, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open archive: %w", err)
	}
	if info.IsDir() {
		return loadDir(path)
	}
	return loadZip(path)
}

// entry is one candidate file extracted from the collection.
type entry struct {
	name string // slash path inside the collection
	data []byte
}

func loadZip(path string) ([]pipeline.CaseInput, []worker.CaseFailure, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open zip: %w", err)
	}
	defer func() { _ = reader.Close() }()

	var entries []entry
	var failures []worker.CaseFailure
	for _, f := range reader.File {
		if f.FileInfo().IsDir() || strings.HasPrefix(filepath.Base(f.Name), ".") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(f.Name))
		if !imageExts[ext] && !reportExts[ext] {
			continue
		}
		data, err := readZipEntry(f)
		if err != nil {
			failures = append(failures, worker.CaseFailure{
				CaseID: stemOf(f.Name),
				Err:    fmt.Errorf("read %s: %w", f.Name, err),
			})
			continue
		}
		entries = append(entries, entry{name: filepath.ToSlash(f.Name), data: data})
	}

	cases, pairFailures, err := pair(entries)
	return cases, append(failures, pairFailures...), err
}

func readZipEntry(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > maxEntryBytes {
		return nil, fmt.Errorf("entry exceeds %d bytes", int64(maxEntryBytes))
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(io.LimitReader(rc, maxEntryBytes))
}

func loadDir(root string) ([]pipeline.CaseInput, []worker.CaseFailure, error) {
	var entries []entry
	var failures []worker.CaseFailure

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if !imageExts[ext] && !reportExts[ext] {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			failures = append(failures, worker.CaseFailure{
				CaseID: stemOf(rel),
				Err:    fmt.Errorf("read %s: %w", rel, err),
			})
			return nil
		}
		entries = append(entries, entry{name: filepath.ToSlash(rel), data: data})
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("walk directory: %w", err)
	}

	cases, pairFailures, err := pair(entries)
	return cases, append(failures, pairFailures...), err
}

// pair groups entries into cases. Per-folder layout wins when folders are
// present; otherwise flat entries are paired by shared stem. An entry that
// cannot be paired is a per-case failure.
func pair(entries []entry) ([]pipeline.CaseInput, []worker.CaseFailure, error) {
	if len(entries) == 0 {
		return nil, nil, fmt.Errorf("no case candidates found: each case needs an image (.png/.jpg/...) paired with a report (.txt/.md)")
	}

	type parts struct {
		image  []byte
		report []byte
	}
	groups := make(map[string]*parts)

	for _, e := range entries {
		key := caseKey(e.name)
		g, ok := groups[key]
		if !ok {
			g = &parts{}
			groups[key] = g
		}
		ext := strings.ToLower(filepath.Ext(e.name))
		if imageExts[ext] {
			g.image = e.data
		} else {
			g.report = e.data
		}
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var cases []pipeline.CaseInput
	var failures []worker.CaseFailure
	for _, key := range keys {
		g := groups[key]
		switch {
		case g.image == nil:
			failures = append(failures, worker.CaseFailure{CaseID: key, Err: fmt.Errorf("case %s: report without image", key)})
		case g.report == nil:
			failures = append(failures, worker.CaseFailure{CaseID: key, Err: fmt.Errorf("case %s: image without report", key)})
		case len(strings.TrimSpace(string(g.report))) == 0:
			failures = append(failures, worker.CaseFailure{CaseID: key, Err: fmt.Errorf("case %s: report is empty", key)})
		default:
			cases = append(cases, pipeline.CaseInput{
				Label:      key,
				Image:      g.image,
				ReportText: strings.TrimSpace(string(g.report)),
			})
		}
	}
	return cases, failures, nil
}

// caseKey groups by containing folder when the entry is nested, by file
// stem when flat.
func caseKey(name string) string {
	if dir := filepath.ToSlash(filepath.Dir(name)); dir != "." {
		return dir
	}
	return stemOf(name)
}

func stemOf(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
