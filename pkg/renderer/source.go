package renderer

import (
	"fmt"
	"strings"
)

// DefaultVersions are tried newest first.
var DefaultVersions = []string{"0.34.0", "0.33.8", "0.33.7"}

const releaseURL = "https://github.com/tidbyt/pixlet/releases/download/v%s/pixlet_%s_%s_%s.tar.gz"

// Source is one place the renderer archive can be fetched from.
type Source struct {
	URL string `json:"url"`
	// SignatureURL points at a detached OpenPGP signature of the archive.
	SignatureURL string `json:"signatureUrl,omitempty"`
}

func (s Source) String() string {
	return s.URL
}

// ReleaseSources builds the GitHub release URLs for each version on the
// given platform, in the order given.
func ReleaseSources(versions []string, goos, goarch string) ([]Source, error) {
	osName, err := mapOS(goos)
	if err != nil {
		return nil, err
	}
	archName, err := mapArch(goarch)
	if err != nil {
		return nil, err
	}

	sources := make([]Source, 0, len(versions))
	for _, v := range versions {
		v = strings.TrimPrefix(strings.TrimSpace(v), "v")
		if v == "" {
			continue
		}
		sources = append(sources, Source{URL: fmt.Sprintf(releaseURL, v, v, osName, archName)})
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no renderer versions configured")
	}
	return sources, nil
}

// ParseSources reads explicit source entries of the form "URL" or
// "URL,SIGNATURE_URL". Blank entries are ignored.
func ParseSources(entries []string) []Source {
	var sources []Source
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		url, sig, _ := strings.Cut(e, ",")
		sources = append(sources, Source{URL: strings.TrimSpace(url), SignatureURL: strings.TrimSpace(sig)})
	}
	return sources
}

func mapOS(goos string) (string, error) {
	switch goos {
	case "linux", "darwin":
		return goos, nil
	default:
		return "", fmt.Errorf("unsupported OS for renderer releases: %s", goos)
	}
}

func mapArch(goarch string) (string, error) {
	switch goarch {
	case "amd64", "arm64":
		return goarch, nil
	default:
		return "", fmt.Errorf("unsupported architecture for renderer releases: %s", goarch)
	}
}
