package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/connexus-ai/personal-vault/internal/ingest"
	"github.com/connexus-ai/personal-vault/internal/model"
)

// defaultMaxFileSize bounds individual files read by the files connector.
const defaultMaxFileSize = 10 * 1024 * 1024

// maxFileTextChars truncates very long files before chunking/embedding.
const maxFileTextChars = 50_000

var docSuffixes = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".rst": true, ".rtf": true,
	".csv": true, ".tsv": true,
	".json": true, ".yaml": true, ".yml": true, ".toml": true, ".xml": true,
	".log": true, ".ini": true, ".cfg": true, ".conf": true,
	".org": true, ".tex": true, ".bib": true,
	".html": true, ".htm": true,
}

var codeSuffixes = map[string]bool{
	".py": true, ".js": true, ".ts": true, ".jsx": true, ".tsx": true,
	".java": true, ".kt": true, ".scala": true,
	".c": true, ".cpp": true, ".h": true, ".hpp": true, ".cs": true,
	".go": true, ".rs": true, ".rb": true, ".php": true,
	".swift": true, ".m": true, ".mm": true,
	".sh": true, ".bash": true, ".zsh": true, ".fish": true,
	".sql": true, ".graphql": true,
	".r": true, ".jl": true,
	".lua": true, ".pl": true, ".pm": true,
	".tf": true, ".hcl": true,
	".proto": true,
	".ipynb": true,
}

var namedFiles = map[string]bool{
	"makefile": true, "dockerfile": true, "readme": true, "license": true, "changelog": true,
}

var skipDirs = map[string]bool{
	".Trash": true, "Library": true, ".cache": true, ".local": true, ".npm": true, ".nvm": true,
	".cargo": true, ".rustup": true, ".gem": true, ".rbenv": true, ".pyenv": true,
	".docker": true, ".colima": true, ".lima": true,
	".ssh": true, ".gnupg": true, ".kube": true, ".aws": true,
	".vscode": true, ".idea": true, ".eclipse": true, ".vs": true,
	"node_modules": true, "__pycache__": true, ".git": true, ".svn": true, ".hg": true,
	".tox": true, ".mypy_cache": true, ".ruff_cache": true, ".pytest_cache": true,
	"venv": true, ".venv": true, "env": true, ".env": true,
	"dist": true, "build": true, "target": true, "out": true, "bin": true, "obj": true,
	".next": true, ".nuxt": true, ".turbo": true,
	".gradle": true, ".m2": true, ".sbt": true,
	"Pods": true, "DerivedData": true,
	".Spotlight-V100": true, ".fseventsd": true, ".TemporaryItems": true,
	"Photos Library.photoslibrary": true,
	"Music": true, "Movies": true,
}

const defaultScanDirs = "Documents,Desktop,Downloads,Projects,Code,GitHub,Developer,repos,src,work,notes"

// AllowlistSource supplies the user-approved root paths, if any have been
// configured, overriding the default $HOME scan directories.
type AllowlistSource interface {
	ListAllowlist(ctx context.Context) ([]model.FileAllowlistEntry, error)
}

// FilesConnector recursively scans local directories for documents and
// code, filtered by a skip-list and a max file size, with an mtime cursor.
type FilesConnector struct {
	allowlist AllowlistSource
}

// NewFilesConnector creates a FilesConnector. allowlist may be nil, in
// which case the connector falls back to scanning default directories
// under $HOME.
func NewFilesConnector(allowlist AllowlistSource) *FilesConnector {
	return &FilesConnector{allowlist: allowlist}
}

func (c *FilesConnector) Source() model.Source { return model.SourceFiles }

type filesCursor struct {
	LastMtime float64 `json:"last_mtime"`
}

func (c *FilesConnector) Sync(ctx context.Context, cursorJSON json.RawMessage) (ingest.SyncResult, error) {
	var cursor filesCursor
	if len(cursorJSON) > 0 {
		_ = json.Unmarshal(cursorJSON, &cursor)
	}

	roots := c.resolveScanRoots(ctx)
	maxSize := int64(readPositiveInt("VAULT_FILES_MAX_SIZE", defaultMaxFileSize))

	var docs []model.Document
	maxMtime := cursor.LastMtime
	filesScanned, filesSkipped := 0, 0

	for _, root := range roots {
		if _, err := os.Stat(root); err != nil {
			continue
		}
		walkFiltered(root, func(path string) {
			filesScanned++
			info, err := os.Stat(path)
			if err != nil {
				filesSkipped++
				return
			}
			mtime := float64(info.ModTime().Unix())
			if mtime <= cursor.LastMtime {
				return
			}
			if info.Size() > maxSize {
				filesSkipped++
				return
			}

			text, err := readFileText(path)
			if err != nil || strings.TrimSpace(text) == "" {
				filesSkipped++
				return
			}
			if len(text) > maxFileTextChars {
				text = text[:maxFileTextChars]
			}

			sum := checksum(text)
			suffix := strings.ToLower(filepath.Ext(path))
			category := "document"
			if codeSuffixes[suffix] {
				category = "code"
			}
			metadataBytes, _ := json.Marshal(map[string]any{
				"path": path, "size": info.Size(), "suffix": suffix, "category": category,
			})
			ts := info.ModTime().UTC()

			docs = append(docs, model.Document{
				Source:       model.SourceFiles,
				ExternalID:   fmt.Sprintf("files:%s", sum[:32]),
				ThreadID:     ptr(filepath.Dir(path)),
				AccountID:    ptr("local"),
				Title:        ptr(filepath.Base(path)),
				BodyText:     text,
				TimestampUTC: &ts,
				DeepLink:     ptr("file://" + path),
				Metadata:     metadataBytes,
				Checksum:     sum,
			})
			if mtime > maxMtime {
				maxMtime = mtime
			}
		})
	}

	nextCursor, err := json.Marshal(filesCursor{LastMtime: maxMtime})
	if err != nil {
		return ingest.SyncResult{}, fmt.Errorf("connector.files: marshal cursor: %w", err)
	}
	slog.Info("files sync", "scanned", filesScanned, "indexed", len(docs), "skipped", filesSkipped)
	return ingest.SyncResult{Documents: docs, Cursor: nextCursor}, nil
}

func (c *FilesConnector) resolveScanRoots(ctx context.Context) []string {
	if c.allowlist != nil {
		entries, err := c.allowlist.ListAllowlist(ctx)
		if err == nil && len(entries) > 0 {
			roots := make([]string, len(entries))
			for i, e := range entries {
				roots[i] = expandHome(e.Path)
			}
			return roots
		}
	}

	home := os.Getenv("HOME")
	names := os.Getenv("VAULT_FILES_SCAN_DIRS")
	if names == "" {
		names = defaultScanDirs
	}

	var roots []string
	for _, name := range strings.Split(names, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		candidate := filepath.Join(home, name)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			roots = append(roots, candidate)
		}
	}
	return roots
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~") {
		return filepath.Join(os.Getenv("HOME"), strings.TrimPrefix(path, "~"))
	}
	return path
}

// walkFiltered visits eligible files under root, skipping directories named
// in skipDirs and files whose suffix isn't recognized.
func walkFiltered(root string, visit func(path string)) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		full := filepath.Join(root, name)
		if entry.IsDir() {
			if skipDirs[name] {
				continue
			}
			walkFiltered(full, visit)
			continue
		}
		suffix := strings.ToLower(filepath.Ext(name))
		lowerName := strings.ToLower(name)
		if docSuffixes[suffix] || codeSuffixes[suffix] || namedFiles[lowerName] {
			visit(full)
		}
	}
}

func readFileText(path string) (string, error) {
	suffix := strings.ToLower(filepath.Ext(path))
	if suffix == ".ipynb" {
		return readNotebook(path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// readNotebook extracts markdown and code cells from a Jupyter notebook.
func readNotebook(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var nb struct {
		Cells []struct {
			CellType string   `json:"cell_type"`
			Source   []string `json:"source"`
		} `json:"cells"`
	}
	if err := json.Unmarshal(raw, &nb); err != nil {
		return "", err
	}

	var parts []string
	for _, cell := range nb.Cells {
		source := strings.Join(cell.Source, "")
		switch cell.CellType {
		case "markdown":
			parts = append(parts, source)
		case "code":
			parts = append(parts, fmt.Sprintf("```python\n%s\n```", source))
		}
	}
	return strings.Join(parts, "\n\n"), nil
}
