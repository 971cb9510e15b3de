package routing

import "os"

// OSMediaStorage checks media files on the local filesystem.
type OSMediaStorage struct{}

// Exists reports whether path names a regular file.
func (OSMediaStorage) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
