package textproc

import (
	"archive/zip"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// ExtractArchive unpacks the files of a ZIP archive of CV text files into
// destDir and returns their paths. Directories, macOS resource forks and
// hidden files are skipped.
func ExtractArchive(zipPath, destDir string) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrap(err, "textproc: open archive")
	}
	defer r.Close() //nolint:errcheck

	var extracted []string
	for _, f := range r.File {
		if skipEntry(f) {
			continue
		}
		path, err := extractEntry(f, destDir)
		if err != nil {
			return extracted, err
		}
		extracted = append(extracted, path)
	}
	return extracted, nil
}

// archiveSep separates an archive path from an entry name in a source path.
const archiveSep = "!"

// ArchiveSource names the entry of the archive at zipPath as a source path,
// e.g. /data/cvs.zip!batch/ana.txt. It stays readable by ReadFile after the
// extracted copy is gone.
func ArchiveSource(zipPath, entry string) string {
	return zipPath + archiveSep + path.Clean(filepath.ToSlash(entry))
}

// SplitArchiveSource splits a source path made by ArchiveSource.
func SplitArchiveSource(src string) (zipPath, entry string, ok bool) {
	i := strings.LastIndex(strings.ToLower(src), ".zip"+archiveSep)
	if i < 0 {
		return "", "", false
	}
	zipPath, entry = src[:i+len(".zip")], src[i+len(".zip"+archiveSep):]
	if entry == "" {
		return "", "", false
	}
	return zipPath, entry, true
}

// readArchiveEntry decodes the named entry of the archive at zipPath.
func readArchiveEntry(zipPath, entry, charset string) (string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", eris.Wrap(err, "textproc: open archive")
	}
	defer r.Close() //nolint:errcheck

	for _, f := range r.File {
		if f.FileInfo().IsDir() || path.Clean(f.Name) != entry {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", eris.Wrap(err, "textproc: open archive entry")
		}
		defer rc.Close() //nolint:errcheck
		return Decode(rc, charset)
	}
	return "", eris.Errorf("textproc: archive %s has no entry %q", zipPath, entry)
}

func skipEntry(f *zip.File) bool {
	if f.FileInfo().IsDir() || strings.HasPrefix(f.Name, "__MACOSX/") {
		return true
	}
	return strings.HasPrefix(filepath.Base(f.Name), ".")
}

func extractEntry(f *zip.File, destDir string) (string, error) {
	destPath := filepath.Join(destDir, f.Name)
	if !strings.HasPrefix(filepath.Clean(destPath), filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", eris.Errorf("textproc: illegal archive path %q", f.Name)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", eris.Wrap(err, "textproc: create parent directory")
	}

	rc, err := f.Open()
	if err != nil {
		return "", eris.Wrap(err, "textproc: open archive entry")
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(destPath)
	if err != nil {
		return "", eris.Wrap(err, "textproc: create file")
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, rc); err != nil {
		return "", eris.Wrap(err, "textproc: write file")
	}
	return destPath, nil
}
