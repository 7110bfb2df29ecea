package util

import (
	"path/filepath"
	"strings"
)

// archiveSep separates an archive path from the entry path inside it.
const archiveSep = "!/"

// PathToURI converts a source path to a URI. Entries of source jars, written
// as "/lib/x-sources.jar!/a/B.java", become jar: URIs.
func PathToURI(path string) string {
	if archive, entry, ok := strings.Cut(path, archiveSep); ok {
		return "jar:" + fileURI(archive) + archiveSep + entry
	}
	return fileURI(path)
}

// URIToPath is the inverse of PathToURI.
func URIToPath(uri string) string {
	if rest, ok := strings.CutPrefix(uri, "jar:"); ok {
		archive, entry, _ := strings.Cut(rest, archiveSep)
		return URIToPath(archive) + archiveSep + entry
	}
	if rest, ok := strings.CutPrefix(uri, "file://"); ok {
		return filepath.FromSlash(rest)
	}
	return uri
}

func fileURI(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "file://" + filepath.ToSlash(path)
	}
	return "file://" + filepath.ToSlash(abs)
}
