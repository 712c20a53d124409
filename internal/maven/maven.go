// Package maven resolves Maven-style artifact coordinates to library
// paths and provides streaming file hashing.
package maven

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path"
	"strings"
)

// Artifact is a parsed "group:artifact:version[:classifier][@ext]"
// coordinate resolved against the libraries tree.
type Artifact struct {
	Group      string
	Name       string
	Version    string
	Classifier string
	Ext        string
}

// Parse splits a Maven coordinate. A fourth colon-separated element is
// the classifier; "@ext" in the version replaces the default jar
// extension. Only the group segment has dots converted to slashes.
func Parse(coord string) (Artifact, error) {
	parts := strings.Split(coord, ":")
	if len(parts) < 3 {
		return Artifact{}, fmt.Errorf("invalid maven coordinate %q", coord)
	}

	a := Artifact{
		Group:   parts[0],
		Name:    parts[1],
		Version: parts[2],
		Ext:     "jar",
	}
	if len(parts) >= 4 {
		a.Classifier = parts[3]
	}

	// The @ marker may sit on the classifier when present, otherwise on
	// the version.
	if a.Classifier != "" {
		if i := strings.Index(a.Classifier, "@"); i >= 0 {
			a.Ext = a.Classifier[i+1:]
			a.Classifier = a.Classifier[:i]
		}
	} else if i := strings.Index(a.Version, "@"); i >= 0 {
		a.Ext = a.Version[i+1:]
		a.Version = a.Version[:i]
	}

	return a, nil
}

// Dir is the artifact's directory relative to the libraries root,
// always slash-separated.
func (a Artifact) Dir() string {
	return path.Join(strings.ReplaceAll(a.Group, ".", "/"), a.Name, a.Version)
}

// File is the artifact's file name, with the classifier suffixed when set.
func (a Artifact) File() string {
	if a.Classifier != "" {
		return fmt.Sprintf("%s-%s-%s.%s", a.Name, a.Version, a.Classifier, a.Ext)
	}
	return fmt.Sprintf("%s-%s.%s", a.Name, a.Version, a.Ext)
}

// Path is the artifact's full path relative to the libraries root.
func (a Artifact) Path() string {
	return path.Join(a.Dir(), a.File())
}

// String reassembles the coordinate without extension override.
func (a Artifact) String() string {
	if a.Classifier != "" {
		return fmt.Sprintf("%s:%s:%s:%s", a.Group, a.Name, a.Version, a.Classifier)
	}
	return fmt.Sprintf("%s:%s:%s", a.Group, a.Name, a.Version)
}

// CoordPath is the common parse-then-path shortcut. It returns the
// coordinate unchanged when it does not parse, matching how loader
// profiles occasionally carry pre-resolved paths.
func CoordPath(coord string) string {
	a, err := Parse(coord)
	if err != nil {
		return coord
	}
	return a.Path()
}

// Sha1File computes the hex SHA-1 of a file, streaming its contents.
func Sha1File(filePath string) (string, error) {
	return hashFile(filePath, sha1.New())
}

// Md5File computes the hex MD5 of a file, streaming its contents.
func Md5File(filePath string) (string, error) {
	return hashFile(filePath, md5.New())
}

func hashFile(filePath string, h hash.Hash) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
