package transfer

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/mavleo96/remote-test-harness/internal/models"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// DefaultBlockSize is the chunk size used in both directions
const DefaultBlockSize = 1024

// Server serves uploads into SavePath and downloads from SendPath
type Server struct {
	SavePath  string
	SendPath  string
	BlockSize int

	// OnUpload is called after a file has been fully written
	OnUpload func(name string, size int64)

	server   *grpc.Server
	endpoint string
	wg       sync.WaitGroup
}

// CreateServer creates a stream server reading and writing files under dir
func CreateServer(dir string, blockSize int) *Server {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Server{SavePath: dir, SendPath: dir, BlockSize: blockSize}
}

// Listen starts serving the stream service on the host and port of addr
func (s *Server) Listen(addr string) error {
	ep, err := models.ParseEndpoint(addr)
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", ep.Address())
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	if tcpAddr, ok := lis.Addr().(*net.TCPAddr); ok {
		ep.Port = strconv.Itoa(tcpAddr.Port)
	}
	s.endpoint = ep.String()

	s.server = grpc.NewServer()
	RegisterStreamServiceServer(s.server, s)
	s.wg.Go(func() {
		if err := s.server.Serve(lis); err != nil {
			log.Warnf("[Transfer] server stopped: %v", err)
		}
	})
	log.Infof("[Transfer] stream service listening on %s", s.endpoint)
	return nil
}

// Endpoint returns the bound endpoint address
func (s *Server) Endpoint() string {
	return s.endpoint
}

// Close stops the server
func (s *Server) Close() {
	if s.server != nil {
		s.server.Stop()
	}
	s.wg.Wait()
}

// UpLoadFile writes the streamed chunks to SavePath under the name found in the stream metadata
func (s *Server) UpLoadFile(stream grpc.ClientStreamingServer[wrapperspb.BytesValue, emptypb.Empty]) error {
	md, _ := metadata.FromIncomingContext(stream.Context())
	names := md.Get(filenameKey)
	if len(names) == 0 {
		return status.Error(codes.InvalidArgument, "missing file name")
	}
	name, err := cleanName(names[0])
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	if err := os.MkdirAll(s.SavePath, 0755); err != nil {
		return status.Errorf(codes.Internal, "failed to create %s: %v", s.SavePath, err)
	}
	path := filepath.Join(s.SavePath, name)
	f, err := os.Create(path)
	if err != nil {
		return status.Errorf(codes.Internal, "failed to create %s: %v", name, err)
	}

	start := time.Now()
	var total int64
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			discard(f, path)
			return err
		}
		n, err := f.Write(chunk.GetValue())
		total += int64(n)
		if err != nil {
			discard(f, path)
			return status.Errorf(codes.Internal, "failed to write %s: %v", name, err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return status.Errorf(codes.Internal, "failed to write %s: %v", name, err)
	}
	log.Infof("[Transfer] received %s: %d bytes in %d µs", name, total, time.Since(start).Microseconds())

	if s.OnUpload != nil {
		s.OnUpload(name, total)
	}
	return stream.SendAndClose(&emptypb.Empty{})
}

// DownLoadFile streams SendPath/name in BlockSize chunks
func (s *Server) DownLoadFile(req *wrapperspb.StringValue, stream grpc.ServerStreamingServer[wrapperspb.BytesValue]) error {
	name, err := cleanName(req.GetValue())
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	f, err := os.Open(filepath.Join(s.SendPath, name))
	if os.IsNotExist(err) {
		log.Warnf("[Transfer] %s not found", name)
		return status.Errorf(codes.NotFound, "file %s not found", name)
	}
	if err != nil {
		return status.Errorf(codes.Internal, "failed to open %s: %v", name, err)
	}
	defer f.Close()

	start := time.Now()
	var total int64
	buf := make([]byte, s.BlockSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if err := stream.Send(&wrapperspb.BytesValue{Value: chunk}); err != nil {
				return err
			}
			total += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return status.Errorf(codes.Internal, "failed to read %s: %v", name, err)
		}
	}
	log.Infof("[Transfer] sent %s: %d bytes in %d µs", name, total, time.Since(start).Microseconds())
	return nil
}

// discard closes and removes a partially written upload
func discard(f *os.File, path string) {
	f.Close()
	if err := os.Remove(path); err != nil {
		log.Warnf("[Transfer] failed to remove partial upload %s: %v", path, err)
	}
}

// cleanName reduces name to a plain file name
func cleanName(name string) (string, error) {
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." || base == "" {
		return "", errors.Errorf("invalid file name %q", name)
	}
	return base, nil
}
