package transfer

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mavleo96/remote-test-harness/internal/models"
	"github.com/mavleo96/remote-test-harness/internal/utils"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

var (
	// ErrNotFound is returned when the requested file does not exist at the destination
	ErrNotFound = errors.New("file not found")
	// ErrIO is returned when a transfer fails part way
	ErrIO = errors.New("transfer failed")
)

// Client moves files to and from a stream service
type Client struct {
	conn      *grpc.ClientConn
	client    StreamServiceClient
	blockSize int
}

// CreateClient connects to the stream service at addr
func CreateClient(addr string, blockSize int) (*Client, error) {
	ep, err := models.ParseEndpoint(addr)
	if err != nil {
		return nil, err
	}
	conn, err := utils.Connect(ep.Address())
	if err != nil {
		return nil, err
	}
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Client{conn: conn, client: NewStreamServiceClient(conn), blockSize: blockSize}, nil
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Upload streams r to the destination as name and blocks until it is fully sent
func (c *Client) Upload(ctx context.Context, name string, r io.Reader) (int64, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, filenameKey, name)

	start := time.Now()
	stream, err := c.client.UpLoadFile(ctx)
	if err != nil {
		return 0, transferError(name, err)
	}

	var total int64
	buf := make([]byte, c.blockSize)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if err := stream.Send(&wrapperspb.BytesValue{Value: chunk}); err != nil {
				// the real status is reported by CloseAndRecv
				_, err = stream.CloseAndRecv()
				return total, transferError(name, err)
			}
			total += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return total, errors.Wrapf(ErrIO, "%s: %v", name, rerr)
		}
	}
	if _, err := stream.CloseAndRecv(); err != nil {
		return total, transferError(name, err)
	}
	log.Infof("[Transfer] uploaded %s: %d bytes in %d µs", name, total, time.Since(start).Microseconds())
	return total, nil
}

// UploadFile uploads the file at path under its base name
func (c *Client) UploadFile(ctx context.Context, path string) (int64, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, errors.Wrapf(ErrNotFound, "%s", path)
	}
	if err != nil {
		return 0, errors.Wrapf(ErrIO, "%s: %v", path, err)
	}
	defer f.Close()
	return c.Upload(ctx, filepath.Base(path), f)
}

// Download returns a reader positioned at the start of the remote file name
func (c *Client) Download(ctx context.Context, name string) (io.ReadCloser, error) {
	ctx, cancel := context.WithCancel(ctx)
	stream, err := c.client.DownLoadFile(ctx, &wrapperspb.StringValue{Value: name})
	if err != nil {
		cancel()
		return nil, transferError(name, err)
	}

	// the first chunk carries the server's verdict on the file
	first, err := stream.Recv()
	r := &chunkReader{name: name, stream: stream, cancel: cancel}
	switch {
	case err == io.EOF:
		r.err = io.EOF
	case err != nil:
		cancel()
		return nil, transferError(name, err)
	default:
		r.buf = first.GetValue()
	}
	return r, nil
}

// DownloadTo downloads name into dir, creating dir if needed, and returns the bytes written
func (c *Client) DownloadTo(ctx context.Context, name, dir string) (int64, error) {
	base, err := cleanName(name)
	if err != nil {
		return 0, errors.Wrapf(ErrIO, "%v", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, errors.Wrapf(ErrIO, "failed to create %s: %v", dir, err)
	}

	start := time.Now()
	r, err := c.Download(ctx, base)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	path := filepath.Join(dir, base)
	f, err := os.Create(path)
	if err != nil {
		return 0, errors.Wrapf(ErrIO, "failed to create %s: %v", path, err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		if errors.Is(err, ErrIO) || errors.Is(err, ErrNotFound) {
			return n, err
		}
		return n, errors.Wrapf(ErrIO, "%s: %v", name, err)
	}
	log.Infof("[Transfer] downloaded %s: %d bytes in %d µs", base, n, time.Since(start).Microseconds())
	return n, nil
}

type chunkReader struct {
	name   string
	stream grpc.ServerStreamingClient[wrapperspb.BytesValue]
	cancel context.CancelFunc
	buf    []byte
	err    error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		chunk, err := r.stream.Recv()
		if err == io.EOF {
			r.err = io.EOF
			continue
		}
		if err != nil {
			r.err = transferError(r.name, err)
			continue
		}
		r.buf = chunk.GetValue()
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *chunkReader) Close() error {
	r.cancel()
	return nil
}

// transferError maps a gRPC status onto ErrNotFound or ErrIO
func transferError(name string, err error) error {
	if status.Code(err) == codes.NotFound {
		return errors.Wrapf(ErrNotFound, "%s", name)
	}
	return errors.Wrapf(ErrIO, "%s: %v", name, err)
}
