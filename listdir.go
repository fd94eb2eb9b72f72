package reactivity

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/pfx"
	"google.golang.org/api/iterator"
)

// ListFolders returns the names of the immediate subfolders of root. Local
// directories are read from disk; gs://bucket/prefix roots are listed through
// client, treating "/"-delimited prefixes as folders. Hidden entries (leading
// ".") are ignored.
func ListFolders(ctx context.Context, client *storage.Client, root string) ([]string, error) {
	if IsGoogleStorage(root) {
		return listGoogleStorage(ctx, client, root)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, pfx.Err(err)
	}

	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		out = append(out, entry.Name())
	}

	return out, nil
}

// ListFiles returns the names of the regular files directly inside folder.
func ListFiles(ctx context.Context, client *storage.Client, folder string) ([]string, error) {
	if IsGoogleStorage(folder) {
		return listGoogleStorageObjects(ctx, client, folder)
	}

	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		out = append(out, entry.Name())
	}

	return out, nil
}

func googleStorageQuery(client *storage.Client, root string) (*storage.BucketHandle, *storage.Query, error) {
	if client == nil {
		return nil, nil, fmt.Errorf("%s: a Google Storage client is required for gs:// paths", root)
	}

	bucketName, prefix, err := SplitGoogleStoragePath(root)
	if err != nil {
		return nil, nil, err
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return client.Bucket(bucketName), &storage.Query{Prefix: prefix, Delimiter: "/"}, nil
}

func listGoogleStorage(ctx context.Context, client *storage.Client, root string) ([]string, error) {
	bkt, query, err := googleStorageQuery(client, root)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0)
	it := bkt.Objects(ctx, query)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		} else if err != nil {
			return nil, pfx.Err(fmt.Errorf("%s: %w", root, err))
		}

		// With a delimiter set, synthetic folders come back as prefixes
		if attrs.Prefix == "" {
			continue
		}

		name := path.Base(strings.TrimSuffix(attrs.Prefix, "/"))
		if strings.HasPrefix(name, ".") {
			continue
		}
		out = append(out, name)
	}

	return out, nil
}

func listGoogleStorageObjects(ctx context.Context, client *storage.Client, folder string) ([]string, error) {
	bkt, query, err := googleStorageQuery(client, folder)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0)
	it := bkt.Objects(ctx, query)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		} else if err != nil {
			return nil, pfx.Err(fmt.Errorf("%s: %w", folder, err))
		}

		if attrs.Prefix != "" || strings.HasSuffix(attrs.Name, "/") {
			continue
		}

		name := path.Base(attrs.Name)
		if strings.HasPrefix(name, ".") {
			continue
		}
		out = append(out, name)
	}

	return out, nil
}
