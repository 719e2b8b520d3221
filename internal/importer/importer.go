// Package importer flattens a project into path/content records for prompt
// construction.
package importer

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/evolab/evolab/internal/domain"
)

const (
	DefaultAPIBase         = "https://api.github.com"
	DefaultRef             = "main"
	DefaultMaxFileBytes    = 256 << 10
	DefaultMaxArchiveBytes = 64 << 20
	defaultReadParallelism = 8
)

// File is one imported text file. Path is slash-separated and relative to the
// project root.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Importer reads projects from GitHub or the local filesystem. Directories and
// binary files are skipped, as are files over MaxFileBytes.
type Importer struct {
	Client          *http.Client
	APIBase         string
	Ref             string
	MaxFileBytes    int64
	MaxArchiveBytes int64
	Logger          *slog.Logger
}

// New creates an Importer with default limits.
func New(logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		Client:          &http.Client{Timeout: 60 * time.Second},
		APIBase:         DefaultAPIBase,
		Ref:             DefaultRef,
		MaxFileBytes:    DefaultMaxFileBytes,
		MaxArchiveBytes: DefaultMaxArchiveBytes,
		Logger:          logger,
	}
}

var githubRepo = regexp.MustCompile(`github\.com[/:]([^/\s]+)/([^/\s#?]+)`)

// ParseGitHubURL extracts owner and repository from a GitHub URL.
func ParseGitHubURL(raw string) (owner, repo string, err error) {
	m := githubRepo.FindStringSubmatch(raw)
	if m == nil {
		return "", "", domain.WrapError(domain.ErrImportSource.Code, fmt.Sprintf("invalid GitHub URL %q", raw), nil)
	}
	return m[1], strings.TrimSuffix(m[2], ".git"), nil
}

// FromGitHub downloads the repository zipball at the configured ref and
// flattens it. The archive's top-level directory is stripped from paths.
func (im *Importer) FromGitHub(ctx context.Context, url string) ([]File, error) {
	owner, repo, err := ParseGitHubURL(url)
	if err != nil {
		return nil, err
	}
	ref := im.Ref
	if ref == "" {
		ref = DefaultRef
	}
	endpoint := fmt.Sprintf("%s/repos/%s/%s/zipball/%s", strings.TrimSuffix(im.APIBase, "/"), owner, repo, ref)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, domain.WrapError(domain.ErrImportFetch.Code, "build request", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := im.client().Do(req)
	if err != nil {
		return nil, domain.WrapError(domain.ErrImportFetch.Code, "download "+endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, domain.WrapError(domain.ErrImportFetch.Code, fmt.Sprintf("download %s: status %d", endpoint, resp.StatusCode), nil)
	}

	limit := im.MaxArchiveBytes
	if limit <= 0 {
		limit = DefaultMaxArchiveBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, domain.WrapError(domain.ErrImportFetch.Code, "read archive", err)
	}
	if int64(len(data)) > limit {
		return nil, domain.WrapError(domain.ErrImportTooLarge.Code, fmt.Sprintf("archive exceeds %d bytes", limit), nil)
	}

	files, err := im.FromZip(data)
	if err != nil {
		return nil, err
	}
	im.logger().Info("project imported", "source", "github", "repo", owner+"/"+repo, "ref", ref, "files", len(files))
	return files, nil
}

// FromZip flattens a zip archive, stripping a single shared top-level
// directory when every entry has one.
func (im *Importer) FromZip(data []byte) ([]File, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, domain.WrapError(domain.ErrImportSource.Code, "open archive", err)
	}

	prefix := commonRoot(zr.File)
	files := []File{}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if int64(f.UncompressedSize64) > im.maxFileBytes() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, domain.WrapError(domain.ErrImportSource.Code, "open "+f.Name, err)
		}
		content, err := io.ReadAll(io.LimitReader(rc, im.maxFileBytes()+1))
		rc.Close()
		if err != nil {
			return nil, domain.WrapError(domain.ErrImportSource.Code, "read "+f.Name, err)
		}
		if !isText(content) || int64(len(content)) > im.maxFileBytes() {
			continue
		}
		p := strings.TrimPrefix(f.Name, prefix)
		if p == "" {
			continue
		}
		files = append(files, File{Path: p, Content: string(content)})
	}
	sortFiles(files)
	return files, nil
}

// FromDir walks root and reads its text files concurrently. Hidden
// directories such as .git are skipped.
func (im *Importer) FromDir(ctx context.Context, root string) ([]File, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, domain.WrapError(domain.ErrImportSource.Code, "stat "+root, err)
	}
	if !info.IsDir() {
		return nil, domain.WrapError(domain.ErrImportSource.Code, root+" is not a directory", nil)
	}

	var paths []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrImportSource.Code, "walk "+root, err)
	}

	var mu sync.Mutex
	files := []File{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultReadParallelism)
	for _, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			f, ok, err := im.readFile(root, p)
			if err != nil || !ok {
				return err
			}
			mu.Lock()
			files = append(files, f)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sortFiles(files)
	im.logger().Info("project imported", "source", "dir", "root", root, "files", len(files))
	return files, nil
}

func (im *Importer) readFile(root, p string) (File, bool, error) {
	info, err := os.Stat(p)
	if err != nil {
		return File{}, false, domain.WrapError(domain.ErrImportSource.Code, "stat "+p, err)
	}
	if info.Size() > im.maxFileBytes() {
		return File{}, false, nil
	}
	content, err := os.ReadFile(p)
	if err != nil {
		return File{}, false, domain.WrapError(domain.ErrImportSource.Code, "read "+p, err)
	}
	if !isText(content) {
		return File{}, false, nil
	}
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return File{}, false, err
	}
	return File{Path: filepath.ToSlash(rel), Content: string(content)}, true, nil
}

// ToPrompt renders files as a project structure listing followed by each
// file's contents.
func ToPrompt(files []File) string {
	var b strings.Builder
	b.WriteString("Project Structure:\n\n")
	for i, f := range files {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- " + f.Path)
	}
	b.WriteString("\n\nFile Contents:\n\n")
	for _, f := range files {
		fmt.Fprintf(&b, "%s:\n```\n%s\n```\n\n", f.Path, f.Content)
	}
	return b.String()
}

func (im *Importer) client() *http.Client {
	if im.Client == nil {
		return http.DefaultClient
	}
	return im.Client
}

func (im *Importer) logger() *slog.Logger {
	if im.Logger == nil {
		return slog.Default()
	}
	return im.Logger
}

func (im *Importer) maxFileBytes() int64 {
	if im.MaxFileBytes <= 0 {
		return DefaultMaxFileBytes
	}
	return im.MaxFileBytes
}

// commonRoot returns "dir/" when every entry lives under the same top-level
// directory, and "" otherwise.
func commonRoot(files []*zip.File) string {
	root := ""
	for _, f := range files {
		first, _, found := strings.Cut(f.Name, "/")
		if !found {
			return ""
		}
		if root == "" {
			root = first
		} else if first != root {
			return ""
		}
	}
	if root == "" {
		return ""
	}
	return path.Clean(root) + "/"
}

// isText rejects content with NUL bytes or invalid UTF-8.
func isText(content []byte) bool {
	return !bytes.ContainsRune(content, 0) && utf8.Valid(content)
}

func sortFiles(files []File) {
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
}
