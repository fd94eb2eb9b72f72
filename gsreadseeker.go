package reactivity

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/pfx"
)

// IsGoogleStorage reports whether path points to a Google Storage object or
// prefix.
func IsGoogleStorage(path string) bool {
	return strings.HasPrefix(path, "gs://")
}

// SplitGoogleStoragePath splits gs://bucket/some/path into the bucket name and
// the object path. The object path may be empty when only a bucket is given.
func SplitGoogleStoragePath(path string) (bucket, object string, err error) {
	if !IsGoogleStorage(path) {
		return "", "", fmt.Errorf("%s is not a gs:// path", path)
	}

	pathParts := strings.SplitN(strings.TrimPrefix(path, "gs://"), "/", 2)
	if pathParts[0] == "" {
		return "", "", fmt.Errorf("Tried to find a bucket name in %s, but it was empty", path)
	}
	if len(pathParts) == 1 {
		return pathParts[0], "", nil
	}

	return pathParts[0], pathParts[1], nil
}

// JoinPath joins path elements with "/" for Google Storage paths and with the
// OS separator otherwise.
func JoinPath(base string, elem ...string) string {
	if IsGoogleStorage(base) {
		parts := append([]string{strings.TrimSuffix(base, "/")}, elem...)
		return strings.Join(parts, "/")
	}

	return filepath.Join(append([]string{base}, elem...)...)
}

// ReadFile loads a whole file into memory, transparently decompressing it.
// Files under gs:// are fetched with client, which must then be non-nil.
// Experiment files are small, so the whole object is held at once.
func ReadFile(ctx context.Context, client *storage.Client, path string) ([]byte, error) {
	raw, err := readRaw(ctx, client, path)
	if err != nil {
		return nil, err
	}

	rc, err := MaybeDecompressReadCloser(bytes.NewReader(raw))
	if err != nil {
		return nil, pfx.Err(fmt.Errorf("%s: %w", path, err))
	}
	defer rc.Close()

	out, err := io.ReadAll(rc)
	if err != nil {
		return nil, pfx.Err(fmt.Errorf("%s: %w", path, err))
	}

	return out, nil
}

func readRaw(ctx context.Context, client *storage.Client, path string) ([]byte, error) {
	if !IsGoogleStorage(path) {
		return os.ReadFile(path)
	}

	if client == nil {
		return nil, fmt.Errorf("%s: a Google Storage client is required for gs:// paths", path)
	}

	bucketName, objectName, err := SplitGoogleStoragePath(path)
	if err != nil {
		return nil, err
	}

	rdr, err := client.Bucket(bucketName).Object(objectName).NewReader(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return nil, fmt.Errorf("%s: %w", path, os.ErrNotExist)
		}
		return nil, pfx.Err(fmt.Errorf("%s: %s", path, err))
	}
	defer rdr.Close()

	return io.ReadAll(rdr)
}
