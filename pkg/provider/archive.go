package provider

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/latticehq/hostd/pkg/claims"
	"github.com/latticehq/hostd/pkg/errs"
	"github.com/latticehq/hostd/pkg/types"
)

// Archive is a decoded provider archive per spec.md §6.5: a tar
// stream containing claims.jwt plus one binary per (arch, os) target,
// named "<arch>-<os>.bin" (optionally gzip-compressed).
type Archive struct {
	Claims  *types.Claims
	targets map[string][]byte
}

// LoadArchive reads a tar stream, verifies claims.jwt against
// expectedSubject, and indexes the per-target binaries by "<arch>-<os>".
func LoadArchive(r io.Reader, expectedSubject string) (*Archive, error) {
	tr := tar.NewReader(r)

	a := &Archive{targets: make(map[string][]byte)}
	var jwtToken string

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errs.Wrap(errs.KindDataCorruption, "read provider archive", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, errs.Wrap(errs.KindDataCorruption, "read archive entry "+hdr.Name, err)
		}

		switch {
		case hdr.Name == "claims.jwt":
			jwtToken = string(bytes.TrimSpace(data))
		default:
			name, decompressed, err := maybeGunzip(hdr.Name, data)
			if err != nil {
				return nil, err
			}
			a.targets[name] = decompressed
		}
	}

	if jwtToken == "" {
		return nil, errs.New(errs.KindDataCorruption, "provider archive missing claims.jwt")
	}

	c, err := claims.Decode(jwtToken, expectedSubject)
	if err != nil {
		return nil, err
	}
	if c.Kind != types.ClaimKindProvider {
		return nil, errs.New(errs.KindDataCorruption, "claims.jwt does not assert a provider identity")
	}
	a.Claims = c

	return a, nil
}

func maybeGunzip(name string, data []byte) (string, []byte, error) {
	const gzSuffix = ".gz"
	if len(name) > len(gzSuffix) && name[len(name)-len(gzSuffix):] == gzSuffix {
		name = name[:len(name)-len(gzSuffix)]
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return "", nil, errs.Wrap(errs.KindDataCorruption, "decompress "+name, err)
		}
		defer gz.Close()
		out, err := io.ReadAll(gz)
		if err != nil {
			return "", nil, errs.Wrap(errs.KindDataCorruption, "decompress "+name, err)
		}
		return name, out, nil
	}
	return name, data, nil
}

// Binary returns the archived binary matching goos/goarch, e.g.
// Binary("amd64", "linux") looks up "amd64-linux.bin".
func (a *Archive) Binary(goarch, goos string) ([]byte, error) {
	name := fmt.Sprintf("%s-%s.bin", goarch, goos)
	bin, ok := a.targets[name]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "no provider binary for target "+name)
	}
	return bin, nil
}
