package stevedore

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// compressDirectory writes a gzipped tar of directory to a temporary file
// and returns its path. Entries are named relative to the directory root
// and symlinks keep their targets. The caller owns deletion of the
// returned file.
func compressDirectory(directory string) (string, error) {
	file, err := os.CreateTemp("", "stevedore-build-context-*.tar.gz")
	if err != nil {
		return "", fmt.Errorf("failed to create build context archive: %w\nCheck disk space and temp directory permissions", err)
	}
	defer file.Close()

	gw := gzip.NewWriter(file)
	tw := tar.NewWriter(gw)

	err = filepath.Walk(directory, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(directory, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path: %w", err)
		}
		if relPath == "." {
			return nil
		}
		name := filepath.ToSlash(relPath)

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return fmt.Errorf("failed to read symlink %q: %w", path, err)
			}
			return tw.WriteHeader(&tar.Header{
				Name:     name,
				Mode:     int64(info.Mode().Perm()),
				ModTime:  info.ModTime(),
				Typeflag: tar.TypeSymlink,
				Linkname: target,
			})
		case info.IsDir():
			return tw.WriteHeader(&tar.Header{
				Name:     name + "/",
				Mode:     int64(info.Mode().Perm()),
				ModTime:  info.ModTime(),
				Typeflag: tar.TypeDir,
			})
		case !info.Mode().IsRegular():
			// Sockets and devices have no place in a build context.
			return nil
		default:
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open %q: %w", path, err)
			}
			defer f.Close()

			header := &tar.Header{
				Name:    name,
				Mode:    int64(info.Mode().Perm()),
				Size:    info.Size(),
				ModTime: info.ModTime(),
			}
			if err := tw.WriteHeader(header); err != nil {
				return fmt.Errorf("failed to write header for %s: %w", name, err)
			}
			if _, err := io.Copy(tw, f); err != nil {
				return fmt.Errorf("failed to write file %s: %w", name, err)
			}
			return nil
		}
	})

	if err == nil {
		err = tw.Close()
	} else {
		tw.Close()
	}
	if gzErr := gw.Close(); err == nil {
		err = gzErr
	}
	if err != nil {
		os.Remove(file.Name())
		return "", fmt.Errorf("failed to archive build context %q: %w", directory, err)
	}

	return file.Name(), nil
}
