// Package archive reads entries out of jar/zip files. Archives are
// treated as read-only; every call may reopen the file.
package archive

import (
	"archive/zip"
	"io"
	"strings"

	"github.com/plainprince/mc-launcher/errs"
)

// Entry is one file pulled out of an archive during bulk enumeration.
type Entry struct {
	Name  string
	Data  []byte
	IsDir bool
}

// ReadEntry returns the contents of the named entry, or (nil, nil) when
// the entry does not exist. Failure to open the archive itself is
// reported as ArchiveInvalid.
func ReadEntry(archivePath, entryName string) ([]byte, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, errs.Wrapf(errs.ArchiveInvalid, err, "open %s", archivePath)
	}
	defer r.Close()

	for _, f := range r.File {
		if f.Name != entryName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, errs.Wrapf(errs.ArchiveInvalid, err, "open entry %s", entryName)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, errs.Wrapf(errs.ArchiveInvalid, err, "read entry %s", entryName)
		}
		return data, nil
	}
	return nil, nil
}

// ListWithPrefix enumerates non-directory entry names starting with
// prefix. Loader installers use this to walk embedded maven/ trees.
func ListWithPrefix(archivePath, prefix string) ([]string, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, errs.Wrapf(errs.ArchiveInvalid, err, "open %s", archivePath)
	}
	defer r.Close()

	var names []string
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if strings.HasPrefix(f.Name, prefix) {
			names = append(names, f.Name)
		}
	}
	return names, nil
}

// ListAll enumerates every entry with its contents. Directories are
// included only when includeDirs is set, with nil Data.
func ListAll(archivePath string, includeDirs bool) ([]Entry, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, errs.Wrapf(errs.ArchiveInvalid, err, "open %s", archivePath)
	}
	defer r.Close()

	var entries []Entry
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			if includeDirs {
				entries = append(entries, Entry{Name: f.Name, IsDir: true})
			}
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, errs.Wrapf(errs.ArchiveInvalid, err, "open entry %s", f.Name)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, errs.Wrapf(errs.ArchiveInvalid, err, "read entry %s", f.Name)
		}
		entries = append(entries, Entry{Name: f.Name, Data: data})
	}
	return entries, nil
}

// MainClass extracts the Main-Class attribute from a jar's manifest.
func MainClass(jarPath string) (string, error) {
	data, err := ReadEntry(jarPath, "META-INF/MANIFEST.MF")
	if err != nil {
		return "", err
	}
	if data == nil {
		return "", errs.New(errs.ArchiveInvalid, "%s has no META-INF/MANIFEST.MF", jarPath)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "Main-Class:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "Main-Class:")), nil
		}
	}
	return "", errs.New(errs.ArchiveInvalid, "no Main-Class in %s", jarPath)
}
