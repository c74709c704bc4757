// Package image loads the images backends produce on disk.
package image

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/layout"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/opencontainers/go-digest"

	"github.com/steigerbuild/steiger/pkg/platform"
)

// Image is a built image ready to be pushed under Name.
type Image struct {
	Name   string
	Image  v1.Image
	Digest v1.Hash
	// Source is the layout directory or archive the image was read from.
	Source string
}

// New wraps img, computing and validating its manifest digest.
func New(name string, img v1.Image, source string) (*Image, error) {
	h, err := img.Digest()
	if err != nil {
		return nil, fmt.Errorf("computing digest of %s: %w", name, err)
	}
	if err := ValidateDigest(h.String()); err != nil {
		return nil, fmt.Errorf("image %s: %w", name, err)
	}
	return &Image{Name: name, Image: img, Digest: h, Source: source}, nil
}

// ValidateDigest checks s is a well-formed "algorithm:hex" content digest.
func ValidateDigest(s string) error {
	d, err := digest.Parse(s)
	if err != nil {
		return fmt.Errorf("malformed digest %q: %w", s, err)
	}
	if d.Algorithm() != digest.SHA256 {
		return fmt.Errorf("unsupported digest algorithm %s", d.Algorithm())
	}
	return nil
}

// Load reads the image for p from path, which is either an OCI layout
// directory or a docker-archive tarball, optionally gzip compressed.
func Load(path string, p platform.Platform) (v1.Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return loadLayout(path, p)
	}
	return loadArchive(path, p)
}

func loadLayout(path string, p platform.Platform) (v1.Image, error) {
	lp, err := layout.FromPath(path)
	if err != nil {
		return nil, fmt.Errorf("open OCI layout at %s: %w", path, err)
	}

	idx, err := lp.ImageIndex()
	if err != nil {
		return nil, fmt.Errorf("read OCI layout index: %w", err)
	}

	var candidates []candidate
	if err := collect(idx, &candidates); err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("OCI layout %s contains no images", path)
	}

	return selectImage(candidates, p)
}

type candidate struct {
	desc v1.Descriptor
	load func() (v1.Image, error)
}

// collect walks idx and nested indexes, skipping attestation manifests.
func collect(idx v1.ImageIndex, out *[]candidate) error {
	manifest, err := idx.IndexManifest()
	if err != nil {
		return fmt.Errorf("read index manifest: %w", err)
	}

	for _, desc := range manifest.Manifests {
		switch desc.MediaType {
		case types.OCIImageIndex, types.DockerManifestList:
			child, err := idx.ImageIndex(desc.Digest)
			if err != nil {
				return fmt.Errorf("load nested index %s: %w", desc.Digest, err)
			}
			if err := collect(child, out); err != nil {
				return err
			}
		case types.OCIManifestSchema1, types.DockerManifestSchema2:
			if isAttestation(desc) {
				continue
			}
			d := desc.Digest
			*out = append(*out, candidate{desc: desc, load: func() (v1.Image, error) { return idx.Image(d) }})
		}
	}
	return nil
}

func isAttestation(desc v1.Descriptor) bool {
	if desc.Annotations["vnd.docker.reference.type"] == "attestation-manifest" {
		return true
	}
	return desc.Platform != nil && desc.Platform.OS == "unknown"
}

func selectImage(candidates []candidate, p platform.Platform) (v1.Image, error) {
	for _, c := range candidates {
		if c.desc.Platform != nil && platformOf(*c.desc.Platform) == p {
			return c.load()
		}
	}

	// Single platform layouts often carry no platform on the descriptor, so
	// fall back to the image config.
	var seen []string
	for _, c := range candidates {
		img, err := c.load()
		if err != nil {
			return nil, err
		}
		actual, known, err := configPlatform(img)
		if err != nil {
			return nil, err
		}
		if !known || actual == p {
			return img, nil
		}
		seen = append(seen, actual.String())
	}
	return nil, fmt.Errorf("no image for %s, found %v", p, seen)
}

func configPlatform(img v1.Image) (platform.Platform, bool, error) {
	cfg, err := img.ConfigFile()
	if err != nil {
		return platform.Platform{}, false, fmt.Errorf("read image config: %w", err)
	}
	if cfg.OS == "" || cfg.Architecture == "" {
		return platform.Platform{}, false, nil
	}
	return platformOf(v1.Platform{OS: cfg.OS, Architecture: cfg.Architecture}), true, nil
}

func platformOf(p v1.Platform) platform.Platform {
	return platform.Normalize(p.OS, p.Architecture)
}

func loadArchive(path string, p platform.Platform) (v1.Image, error) {
	img, err := tarball.Image(archiveOpener(path), nil)
	if err != nil {
		return nil, fmt.Errorf("load image archive %s: %w", path, err)
	}
	actual, known, err := configPlatform(img)
	if err != nil {
		return nil, err
	}
	if known && actual != p {
		return nil, fmt.Errorf("image archive %s is %s, not %s", path, actual, p)
	}
	return img, nil
}

// archiveOpener transparently decompresses gzip'd archives such as the
// output of nix dockerTools.buildImage.
func archiveOpener(path string) tarball.Opener {
	return func() (io.ReadCloser, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		br := bufio.NewReader(f)
		magic, err := br.Peek(2)
		if err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
			gz, err := gzip.NewReader(br)
			if err != nil {
				f.Close()
				return nil, err
			}
			return &readCloser{Reader: gz, closers: []io.Closer{gz, f}}, nil
		}
		return &readCloser{Reader: br, closers: []io.Closer{f}}, nil
	}
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r *readCloser) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
