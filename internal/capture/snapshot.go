package capture

import (
	"context"
	"io"

	"github.com/tphakala/gordon-go/internal/errors"
	"github.com/tphakala/gordon-go/internal/httpclient"
)

// SnapshotSource reads frames from an HTTP endpoint that returns a single
// still image per request, as IP cameras commonly expose.
type SnapshotSource struct {
	client *httpclient.Client
	url    string
}

// NewSnapshotSource creates a snapshot source for url.
func NewSnapshotSource(client *httpclient.Client, url string) (*SnapshotSource, error) {
	if url == "" {
		return nil, errors.Newf("snapshot url is not configured").
			Component("capture").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if client == nil {
		client = httpclient.New(nil)
	}
	return &SnapshotSource{client: client, url: url}, nil
}

// Open returns a stream over the endpoint. Opening never fails; errors
// surface on read.
func (s *SnapshotSource) Open(_ context.Context) (Stream, error) {
	return &snapshotStream{src: s}, nil
}

type snapshotStream struct {
	src *SnapshotSource
}

func (st *snapshotStream) ReadFrame(ctx context.Context) ([]byte, error) {
	resp, err := st.src.client.Get(ctx, st.src.url)
	if err != nil {
		return nil, st.readError(err)
	}
	if err := httpclient.CheckStatus(resp); err != nil {
		return nil, st.readError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameSize))
	if err != nil {
		return nil, st.readError(err)
	}
	if len(data) == 0 {
		return nil, st.readError(errors.NewStd("empty snapshot"))
	}
	return data, nil
}

func (st *snapshotStream) readError(err error) error {
	return errors.New(err).
		Component("capture").
		Category(errors.CategoryCaptureSource).
		Context("url", st.src.url).
		Build()
}

func (st *snapshotStream) Close() error { return nil }
