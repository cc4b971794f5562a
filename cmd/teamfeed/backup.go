package main

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/mtzanidakis/teamfeed/internal/config"
)

// Archive entries live under one top-level directory per data area.
const (
	areaStore = "store"
	areaNATS  = "nats"
)

func parseArchiveArgs(args []string) (file string, overwrite bool, err error) {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return "", false, fmt.Errorf("missing value for -f")
			}
			i++
			file = args[i]
		case "-overwrite":
			overwrite = true
		}
	}
	return file, overwrite, nil
}

// areaDirs maps each data area to the directory it is restored into.
func areaDirs(cfg *config.Config) map[string]string {
	dirs := map[string]string{areaStore: filepath.Dir(cfg.Store.Path)}
	if cfg.NATS.DataDir != "" {
		dirs[areaNATS] = cfg.NATS.DataDir
	}
	return dirs
}

func runBackup(args []string) error {
	outputPath, _, err := parseArchiveArgs(args)
	if err != nil {
		return err
	}
	if outputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: teamfeed backup -f <output.tar.zst>\n")
		return fmt.Errorf("missing -f flag")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// A consistent copy of the database, taken while the service may be
	// writing to it.
	snapshot, err := os.CreateTemp("", "teamfeed-backup-*.db")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	snapshot.Close()
	os.Remove(snapshot.Name())
	defer os.Remove(snapshot.Name())

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	_, err = db.DB().Exec("VACUUM INTO ?", snapshot.Name())
	db.Close()
	if err != nil {
		return fmt.Errorf("snapshot store: %w", err)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	files := 0
	if err := addFile(tw, path.Join(areaStore, filepath.Base(cfg.Store.Path)), snapshot.Name()); err != nil {
		return fmt.Errorf("archive store: %w", err)
	}
	files++

	if dir := cfg.NATS.DataDir; dir != "" {
		n, err := addDir(tw, areaNATS, dir)
		if err != nil {
			return fmt.Errorf("archive nats data: %w", err)
		}
		files += n
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}

	info, _ := os.Stat(outputPath)
	size := int64(0)
	if info != nil {
		size = info.Size()
	}

	fmt.Printf("Backup complete: %d files, %s\n", files, formatSize(size))
	return nil
}

func addFile(tw *tar.Writer, name, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write tar header: %w", err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("write tar data: %w", err)
	}
	return nil
}

// addDir archives the regular files below dir under prefix. A missing dir
// adds nothing.
func addDir(tw *tar.Writer, prefix, dir string) (int, error) {
	n := 0
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == dir {
				return filepath.SkipDir
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if err := addFile(tw, path.Join(prefix, filepath.ToSlash(rel)), p); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}

func runRestore(args []string) error {
	inputPath, overwrite, err := parseArchiveArgs(args)
	if err != nil {
		return err
	}
	if inputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: teamfeed restore -f <backup.tar.zst> [-overwrite]\n")
		return fmt.Errorf("missing -f flag")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	dirs := areaDirs(cfg)

	areas, err := scanArchiveAreas(inputPath)
	if err != nil {
		return fmt.Errorf("scan archive: %w", err)
	}
	if len(areas) == 0 {
		fmt.Println("Archive contains no data.")
		return nil
	}

	if !overwrite {
		if _, err := os.Stat(cfg.Store.Path); err == nil {
			return fmt.Errorf("store %s already exists, add -overwrite to replace it", cfg.Store.Path)
		}
		if dir, ok := dirs[areaNATS]; ok && !emptyDir(dir) {
			return fmt.Errorf("nats data %s already exists, add -overwrite to replace it", dir)
		}
	}

	// Stale write-ahead files would be replayed onto the restored database.
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(cfg.Store.Path + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", cfg.Store.Path+suffix, err)
		}
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	n, err := extractArchive(f, dirs)
	if err != nil {
		return err
	}
	fmt.Printf("Restore complete: %d files\n", n)
	return nil
}

// extractArchive writes the archive's files below the directory of their
// area. Entries of unknown areas are skipped.
func extractArchive(r io.Reader, dirs map[string]string) (int, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	n := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, fmt.Errorf("read tar entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		area, rel := splitArchivePath(hdr.Name)
		dir, ok := dirs[area]
		if !ok || rel == "" {
			continue
		}
		dest := filepath.Join(dir, filepath.FromSlash(rel))
		if !strings.HasPrefix(dest, filepath.Clean(dir)+string(filepath.Separator)) {
			return n, fmt.Errorf("entry %s escapes %s", hdr.Name, dir)
		}

		if err := writeFile(dest, tr, hdr.FileInfo().Mode().Perm()); err != nil {
			return n, fmt.Errorf("restore %s: %w", hdr.Name, err)
		}
		slog.Debug("restored file", "path", dest)
		n++
	}
	return n, nil
}

func writeFile(dest string, r io.Reader, perm fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// scanArchiveAreas reads tar headers to collect the data areas present
// without extracting file data.
func scanArchiveAreas(p string) ([]string, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	tr := tar.NewReader(zr)

	seen := make(map[string]bool)
	var areas []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		area, _ := splitArchivePath(hdr.Name)
		if area != "" && !seen[area] {
			seen[area] = true
			areas = append(areas, area)
		}
	}
	return areas, nil
}

// splitArchivePath splits "store/teamfeed.db" into ("store", "teamfeed.db").
// Unknown areas and paths that climb out of their area yield "".
func splitArchivePath(name string) (area, rel string) {
	name = strings.TrimLeft(name, "./")
	if name == "" {
		return "", ""
	}

	area, rel, _ = strings.Cut(name, "/")
	if area != areaStore && area != areaNATS {
		return "", ""
	}
	if rel != "" {
		rel = path.Clean(rel)
		if rel == "." {
			rel = ""
		}
		if rel == ".." || strings.HasPrefix(rel, "../") {
			return "", ""
		}
	}
	return area, rel
}

func emptyDir(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err != nil || len(entries) == 0
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
