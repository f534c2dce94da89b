package autoupdate

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// fakeRelease builds a GitHub release payload pointing its asset at the
// given download URL.
func fakeRelease(tag, downloadURL string, prerelease bool) Release {
	return Release{
		TagName:    tag,
		Name:       "MeetAgent " + tag,
		Prerelease: prerelease,
		Assets: []Asset{{
			Name:               fmt.Sprintf("meetagent-%s-%s.zip", runtime.GOOS, runtime.GOARCH),
			BrowserDownloadURL: downloadURL,
			Size:               128,
		}},
	}
}

func TestIsUpdateAvailable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/releases/latest" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(fakeRelease("v0.5.0", "http://unused", false))
	}))
	defer ts.Close()

	tests := []struct {
		current string
		want    bool
	}{
		{"0.4.0", true},
		{"v0.4.9", true},
		{"0.5.0", false},
		{"0.6.0", false},
		{"0.5.0-3-gabcdef0-dirty", false}, // dev build of the released version
	}
	for _, tt := range tests {
		t.Run(tt.current, func(t *testing.T) {
			uc := NewUpdateChecker("tiroq", "meetagent", tt.current, t.TempDir())
			uc.apiURL = ts.URL

			got, release, err := uc.IsUpdateAvailable()
			if err != nil {
				t.Fatalf("IsUpdateAvailable: %v", err)
			}
			if got != tt.want {
				t.Errorf("available = %v, want %v", got, tt.want)
			}
			if got && release.TagName != "v0.5.0" {
				t.Errorf("release = %+v", release)
			}
		})
	}
}

func TestChannelFiltering(t *testing.T) {
	releases := []Release{
		fakeRelease("v0.6.0-rc1", "http://unused", true),
		fakeRelease("v0.5.0", "http://unused", false),
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/releases/latest":
			_ = json.NewEncoder(w).Encode(releases[1])
		case "/releases":
			_ = json.NewEncoder(w).Encode(releases)
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	uc := NewUpdateChecker("tiroq", "meetagent", "0.1.0", t.TempDir())
	uc.apiURL = ts.URL

	stable, err := uc.GetLatestRelease()
	if err != nil {
		t.Fatal(err)
	}
	if stable.TagName != "v0.5.0" {
		t.Errorf("stable channel picked %s", stable.TagName)
	}

	uc.SetChannel(ChannelPrerelease)
	pre, err := uc.GetLatestRelease()
	if err != nil {
		t.Fatal(err)
	}
	if pre.TagName != "v0.6.0-rc1" {
		t.Errorf("prerelease channel picked %s", pre.TagName)
	}
}

func TestFindBinaryAsset_PrefersExactPlatform(t *testing.T) {
	release := &Release{Assets: []Asset{
		{Name: "meetagent-otheros-otherarch.zip"},
		{Name: fmt.Sprintf("meetagent-%s-%s.zip", runtime.GOOS, runtime.GOARCH)},
	}}

	uc := NewUpdateChecker("tiroq", "meetagent", "0.1.0", t.TempDir())
	asset := uc.findBinaryAsset(release)
	if asset == nil || asset.Name != release.Assets[1].Name {
		t.Errorf("asset = %+v", asset)
	}
}

func TestDownloadAndInstall(t *testing.T) {
	// Build a zip holding the replacement binary.
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("meetagent")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte("#!/bin/sh\necho new version\n")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(buf.Bytes())
	}))
	defer ts.Close()

	installDir := t.TempDir()
	uc := NewUpdateChecker("tiroq", "meetagent", "0.1.0", installDir)

	release := fakeRelease("v0.5.0", ts.URL+"/meetagent.zip", false)
	if err := uc.DownloadAndInstall(&release); err != nil {
		t.Fatalf("DownloadAndInstall: %v", err)
	}

	installed := filepath.Join(installDir, "meetagent")
	info, err := os.Stat(installed)
	if err != nil {
		t.Fatalf("installed binary missing: %v", err)
	}
	if info.Size() == 0 {
		t.Error("installed binary is empty")
	}
	if info.Mode()&0111 == 0 {
		t.Errorf("installed binary not executable: %s", info.Mode())
	}
}

func TestInstallFromZip_RejectsPathTraversal(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("../escape")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.Write([]byte("nope"))
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	zipPath := filepath.Join(t.TempDir(), "evil.zip")
	if err := os.WriteFile(zipPath, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	uc := NewUpdateChecker("tiroq", "meetagent", "0.1.0", t.TempDir())
	if err := uc.installFromZip(zipPath); err == nil {
		t.Fatal("expected path traversal rejection")
	}
}
