// Package autoupdate checks GitHub releases for a newer meetagent build and
// can download and install it in place.
package autoupdate

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"
)

// ReleaseChannel defines which releases to consider.
type ReleaseChannel string

const (
	ChannelStable     ReleaseChannel = "stable"     // only stable releases
	ChannelPrerelease ReleaseChannel = "prerelease" // stable + pre-releases (beta, rc)
	ChannelDev        ReleaseChannel = "dev"        // all releases including dev builds
)

// Release represents a GitHub release.
type Release struct {
	TagName    string    `json:"tag_name"`
	Name       string    `json:"name"`
	Body       string    `json:"body"`
	Published  time.Time `json:"published_at"`
	Assets     []Asset   `json:"assets"`
	Prerelease bool      `json:"prerelease"`
	Draft      bool      `json:"draft"`
}

// Asset represents a release asset (binary archive).
type Asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
}

// binaryName is the installed binary this updater replaces.
const binaryName = "meetagent"

// UpdateChecker handles version checking and updates.
type UpdateChecker struct {
	repoOwner      string
	repoName       string
	currentVersion string
	apiURL         string
	installDir     string
	channel        ReleaseChannel
}

// NewUpdateChecker creates a checker for the given GitHub repo.
func NewUpdateChecker(owner, repo, currentVersion, installDir string) *UpdateChecker {
	return &UpdateChecker{
		repoOwner:      owner,
		repoName:       repo,
		currentVersion: currentVersion,
		apiURL:         fmt.Sprintf("https://api.github.com/repos/%s/%s", owner, repo),
		installDir:     installDir,
		channel:        ChannelStable,
	}
}

// SetChannel sets the release channel for this checker.
func (uc *UpdateChecker) SetChannel(channel ReleaseChannel) {
	uc.channel = channel
}

// GetLatestRelease fetches the latest release matching the current channel.
func (uc *UpdateChecker) GetLatestRelease() (*Release, error) {
	if uc.channel == ChannelStable {
		return uc.getLatestStableRelease()
	}
	return uc.getLatestReleaseInChannel()
}

func (uc *UpdateChecker) getLatestStableRelease() (*Release, error) {
	url := fmt.Sprintf("%s/releases/latest", uc.apiURL)

	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch release: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github API returned status %d", resp.StatusCode)
	}

	var release Release
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("failed to parse release: %w", err)
	}
	return &release, nil
}

func (uc *UpdateChecker) getLatestReleaseInChannel() (*Release, error) {
	url := fmt.Sprintf("%s/releases?per_page=30", uc.apiURL)

	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch releases: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github API returned status %d", resp.StatusCode)
	}

	var releases []Release
	if err := json.NewDecoder(resp.Body).Decode(&releases); err != nil {
		return nil, fmt.Errorf("failed to parse releases: %w", err)
	}

	for _, release := range releases {
		if uc.matchesChannel(&release) {
			return &release, nil
		}
	}
	return nil, fmt.Errorf("no releases found matching channel %s", uc.channel)
}

func (uc *UpdateChecker) matchesChannel(release *Release) bool {
	if release.Draft {
		return false
	}
	switch uc.channel {
	case ChannelStable:
		return !release.Prerelease
	case ChannelPrerelease, ChannelDev:
		return true
	default:
		return false
	}
}

// IsUpdateAvailable checks whether a newer version is published.
func (uc *UpdateChecker) IsUpdateAvailable() (bool, *Release, error) {
	release, err := uc.GetLatestRelease()
	if err != nil {
		return false, nil, err
	}

	latestVer := normalizeVersion(strings.TrimPrefix(release.TagName, "v"))
	currentVer := normalizeVersion(strings.TrimPrefix(uc.currentVersion, "v"))

	if isNewer(latestVer, currentVer) {
		return true, release, nil
	}
	return false, nil, nil
}

// DownloadAndInstall downloads and installs the given release.
func (uc *UpdateChecker) DownloadAndInstall(release *Release) error {
	asset := uc.findBinaryAsset(release)
	if asset == nil {
		return fmt.Errorf("no compatible binary found for %s/%s", runtime.GOOS, runtime.GOARCH)
	}

	tempFile, err := uc.downloadAsset(asset)
	if err != nil {
		return err
	}
	defer func() {
		if err := os.Remove(tempFile); err != nil && !os.IsNotExist(err) {
			log.Printf("Warning: failed to remove temp file: %v", err)
		}
	}()

	return uc.installFromArchive(tempFile, asset.Name)
}

// findBinaryAsset finds the archive for the running platform. Assets are
// named meetagent-<os>-<arch>.zip.
func (uc *UpdateChecker) findBinaryAsset(release *Release) *Asset {
	pattern := fmt.Sprintf("%s-%s-%s", binaryName, runtime.GOOS, runtime.GOARCH)

	for i := range release.Assets {
		if strings.Contains(release.Assets[i].Name, pattern) {
			return &release.Assets[i]
		}
	}
	// Fallback to any asset for this OS.
	for i := range release.Assets {
		if strings.Contains(release.Assets[i].Name, runtime.GOOS) {
			return &release.Assets[i]
		}
	}
	return nil
}

func (uc *UpdateChecker) downloadAsset(asset *Asset) (string, error) {
	tempFile := filepath.Join(os.TempDir(), asset.Name)

	resp, err := http.Get(asset.BrowserDownloadURL)
	if err != nil {
		return "", fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	file, err := os.Create(tempFile)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, resp.Body); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return tempFile, nil
}

func (uc *UpdateChecker) installFromArchive(archivePath, archiveName string) error {
	if strings.HasSuffix(archiveName, ".zip") {
		return uc.installFromZip(archivePath)
	}
	return fmt.Errorf("unsupported archive format: %s", archiveName)
}

func (uc *UpdateChecker) installFromZip(zipPath string) error {
	file, err := os.Open(zipPath)
	if err != nil {
		return fmt.Errorf("failed to open zip: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat zip: %w", err)
	}

	reader, err := zip.NewReader(file, info.Size())
	if err != nil {
		return fmt.Errorf("failed to create zip reader: %w", err)
	}

	tempDir := filepath.Join(os.TempDir(), "meetagent-update")
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tempDir); err != nil {
			log.Printf("Warning: failed to remove temp dir: %v", err)
		}
	}()

	for _, f := range reader.File {
		fpath := filepath.Join(tempDir, f.Name)

		// Keep extraction inside the temp dir.
		if !strings.HasPrefix(fpath, filepath.Clean(tempDir)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry escapes extraction dir: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(fpath, os.ModePerm); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(fpath), os.ModePerm); err != nil {
			return fmt.Errorf("failed to create parent directory: %w", err)
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("failed to open file in zip: %w", err)
		}
		outFile, err := os.Create(fpath)
		if err != nil {
			rc.Close()
			return fmt.Errorf("failed to create extracted file: %w", err)
		}
		_, err = io.Copy(outFile, rc)
		outFile.Close()
		rc.Close()
		if err != nil {
			return fmt.Errorf("failed to extract file: %w", err)
		}
	}

	return uc.installBinary(tempDir)
}

// installBinary copies the extracted binary into the install directory.
func (uc *UpdateChecker) installBinary(sourceDir string) error {
	var sourcePath string
	err := filepath.Walk(sourceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.Contains(info.Name(), binaryName) {
			sourcePath = path
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil || sourcePath == "" {
		return fmt.Errorf("binary %s not found in archive", binaryName)
	}

	destPath := filepath.Join(uc.installDir, binaryName)
	if err := copyFile(sourcePath, destPath); err != nil {
		return fmt.Errorf("failed to install %s: %w", binaryName, err)
	}
	if err := os.Chmod(destPath, 0755); err != nil {
		log.Printf("Warning: failed to chmod %s: %v", destPath, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	source, err := os.Open(src)
	if err != nil {
		return err
	}
	defer source.Close()

	destination, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destination.Close()

	_, err = io.Copy(destination, source)
	return err
}

// normalizeVersion strips git-describe suffixes ("-2-g5ea24ba", "-dirty")
// while keeping deliberate pre-release tags ("-rc1", "-beta.1", "-dev").
func normalizeVersion(version string) string {
	version = strings.TrimSuffix(version, "-dirty")
	re := regexp.MustCompile(`-\d+-g[0-9a-f]+$`)
	return re.ReplaceAllString(version, "")
}

// isNewer reports whether version1 > version2 (numeric dot-segment compare;
// non-numeric segments count as zero).
func isNewer(version1, version2 string) bool {
	parts1 := strings.Split(version1, ".")
	parts2 := strings.Split(version2, ".")

	for i := 0; i < len(parts1) && i < len(parts2); i++ {
		var v1, v2 int
		if _, err := fmt.Sscanf(parts1[i], "%d", &v1); err != nil {
			v1 = 0
		}
		if _, err := fmt.Sscanf(parts2[i], "%d", &v2); err != nil {
			v2 = 0
		}
		if v1 > v2 {
			return true
		}
		if v1 < v2 {
			return false
		}
	}
	return len(parts1) > len(parts2)
}
