package host

import (
	"context"
	"io"
	"os"

	"github.com/latticehq/hostd/pkg/errs"
)

// Fetcher resolves an image reference to bytes. OCI artifact pull/push
// is explicitly out of this system's core (spec.md §1, "Deliberately
// excluded") and specified only "at the bytes level a host consumes" —
// this interface is that boundary. LocalFileFetcher is the one
// implementation the host core ships; a real deployment swaps in an
// OCI-aware Fetcher without anything in pkg/host changing.
type Fetcher interface {
	FetchComponent(ctx context.Context, imageRef string) ([]byte, error)
	FetchProviderArchive(ctx context.Context, imageRef string) (io.ReadCloser, error)
}

// LocalFileFetcher treats an image reference as a path on the host's
// local filesystem, for development and the test suite.
type LocalFileFetcher struct{}

func (LocalFileFetcher) FetchComponent(_ context.Context, imageRef string) ([]byte, error) {
	data, err := os.ReadFile(imageRef)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "fetch component image "+imageRef, err)
	}
	return data, nil
}

func (LocalFileFetcher) FetchProviderArchive(_ context.Context, imageRef string) (io.ReadCloser, error) {
	f, err := os.Open(imageRef)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "fetch provider archive "+imageRef, err)
	}
	return f, nil
}
