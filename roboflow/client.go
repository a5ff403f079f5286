// Package roboflow is a thin client for the Roboflow REST API, used to
// trigger dataset downloads for discovered projects.
package roboflow

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrNoAPIKey means downloads are configured off; callers skip quietly.
	ErrNoAPIKey = errors.New("roboflow: no API key configured")
	// ErrNotFound means the project or version does not exist upstream.
	ErrNotFound = errors.New("roboflow: dataset not found")
	// ErrUnauthorized means the API key was rejected.
	ErrUnauthorized = errors.New("roboflow: unauthorized")
	// ErrNoVersions means the project has no downloadable version yet.
	ErrNoVersions = errors.New("roboflow: project has no versions")
)

const downloadTimeout = 5 * time.Minute

// Client calls the Roboflow API. Zero-value is not usable; use NewClient.
type Client struct {
	baseURL    string
	apiKey     string
	resultsDir string
	httpClient *http.Client
}

// NewClient builds a client. An empty apiKey is allowed; Download then
// returns ErrNoAPIKey instead of calling out.
func NewClient(baseURL, apiKey, resultsDir string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		resultsDir: resultsDir,
		httpClient: &http.Client{Timeout: downloadTimeout},
	}
}

// HasKey reports whether an API key is configured.
func (c *Client) HasKey() bool {
	return c.apiKey != ""
}

// ProjectInfo is the subset of the project endpoint response we consume.
type ProjectInfo struct {
	Versions []Version `json:"versions"`
}

// Version identifies one generated dataset version.
type Version struct {
	ID int `json:"id"`
}

// Latest returns the highest-numbered version, or ErrNoVersions.
func (p *ProjectInfo) Latest() (Version, error) {
	if len(p.Versions) == 0 {
		return Version{}, ErrNoVersions
	}
	latest := p.Versions[0]
	for _, v := range p.Versions[1:] {
		if v.ID > latest.ID {
			latest = v
		}
	}
	return latest, nil
}

// GetProjectInfo fetches project metadata, primarily the version list.
func (c *Client) GetProjectInfo(ctx context.Context, workspaceID, projectID string) (*ProjectInfo, error) {
	if !c.HasKey() {
		return nil, ErrNoAPIKey
	}

	url := fmt.Sprintf("%s/%s/%s?api_key=%s", c.baseURL, workspaceID, projectID, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build project info request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("project info %s/%s: %w", workspaceID, projectID, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode); err != nil {
		return nil, err
	}

	var info ProjectInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode project info: %w", err)
	}
	return &info, nil
}

// Download fetches the latest version of a dataset in the given format and
// returns the local path the caller should record: the extracted directory,
// or the archive itself when extraction is impossible. An archive that is
// already on disk short-circuits the network entirely.
func (c *Client) Download(ctx context.Context, workspaceID, projectID, format string) (string, error) {
	if !c.HasKey() {
		return "", ErrNoAPIKey
	}

	projectDir := filepath.Join(c.resultsDir, fmt.Sprintf("%s_%s", workspaceID, projectID))
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return "", fmt.Errorf("create project dir: %w", err)
	}

	zipPath := filepath.Join(projectDir, fmt.Sprintf("%s_%s.zip", projectID, format))
	if _, err := os.Stat(zipPath); err == nil {
		slog.Info("dataset archive already present, skipping download",
			slog.String("path", zipPath))
		return zipPath, nil
	}

	info, err := c.GetProjectInfo(ctx, workspaceID, projectID)
	if err != nil {
		return "", err
	}
	version, err := info.Latest()
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/%s/%s/%d/%s?api_key=%s",
		c.baseURL, workspaceID, projectID, version.ID, format, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s/%s: %w", workspaceID, projectID, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode); err != nil {
		return "", err
	}

	if err := saveStream(zipPath, resp.Body); err != nil {
		return "", err
	}
	slog.Info("dataset archive saved",
		slog.String("workspace", workspaceID),
		slog.String("project", projectID),
		slog.Int("version", version.ID),
		slog.String("path", zipPath),
	)

	extractDir := filepath.Join(projectDir, fmt.Sprintf("%s_%s", projectID, format))
	if err := unzip(zipPath, extractDir); err != nil {
		// Keep the archive; the record still points at usable bytes.
		slog.Warn("archive extraction failed, recording archive path",
			slog.String("path", zipPath),
			slog.Any("error", err),
		)
		return zipPath, nil
	}
	return extractDir, nil
}

// ValidateKey issues a cheap request to check the configured key. A 404 on
// the root endpoint still proves the key was accepted.
func (c *Client) ValidateKey(ctx context.Context) bool {
	if !c.HasKey() {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/?api_key="+c.apiKey, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNotFound
}

func statusError(code int) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrUnauthorized
	default:
		return fmt.Errorf("roboflow: unexpected status %d", code)
	}
}

func saveStream(path string, body io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("save archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return nil
}

func unzip(zipPath, destDir string) error {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer reader.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create extract dir: %w", err)
	}

	for _, entry := range reader.File {
		target := filepath.Join(destDir, entry.Name)
		// Reject entries that escape the destination directory.
		if !strings.HasPrefix(filepath.Clean(target)+string(os.PathSeparator),
			filepath.Clean(destDir)+string(os.PathSeparator)) && filepath.Clean(target) != filepath.Clean(destDir) {
			return fmt.Errorf("archive entry escapes destination: %s", entry.Name)
		}

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", entry.Name, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("create dir for %s: %w", entry.Name, err)
		}
		if err := extractFile(entry, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(entry *zip.File, target string) error {
	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open archive entry %s: %w", entry.Name, err)
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("extract %s: %w", entry.Name, err)
	}
	return dst.Close()
}
