package testutils

import (
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// ProjectRoot walks up from the working directory to the directory holding go.mod.
func ProjectRoot(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	require.NoError(t, err)

	root := wd
	for {
		if _, err := os.Stat(filepath.Join(root, "go.mod")); err == nil {
			return root
		}
		parent := filepath.Dir(root)
		if parent == root {
			t.Fatal("could not find project root (go.mod)")
		}
		root = parent
	}
}

// BuildFixture compiles a Go program from tests/fixtures/targets into a temp binary.
func BuildFixture(t *testing.T, dirName string) string {
	t.Helper()

	sourcePath := filepath.Join(ProjectRoot(t), "tests", "fixtures", "targets", dirName)

	exeName := dirName
	if runtime.GOOS == "windows" {
		exeName += ".exe"
	}
	destPath := filepath.Join(t.TempDir(), exeName)

	cmd := exec.Command("go", "build", "-o", destPath, sourcePath)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "Failed to build fixture %s: %s", dirName, string(out))

	return destPath
}

// FreeAddr returns a loopback address that was free a moment ago.
func FreeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

// Handler answers one request read from a connection. Returning nil sends nothing.
type Handler func(req []byte) []byte

// FakeServer is an in-process TCP server recording every request it receives.
type FakeServer struct {
	Addr     string
	ln       net.Listener
	greeting []byte
	handler  Handler

	mu       sync.Mutex
	requests [][]byte
	conns    []net.Conn
	wg       sync.WaitGroup
}

// NewFakeServer listens on a loopback port and serves until the test ends.
// A non-empty greeting is written as soon as a client connects.
func NewFakeServer(t *testing.T, greeting string, handler Handler) *FakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &FakeServer{Addr: ln.Addr().String(), ln: ln, greeting: []byte(greeting), handler: handler}
	s.wg.Add(1)
	go s.accept()

	t.Cleanup(func() {
		_ = ln.Close()
		s.mu.Lock()
		for _, c := range s.conns {
			_ = c.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
	})
	return s
}

// Requests returns a copy of the requests received so far.
func (s *FakeServer) Requests() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *FakeServer) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *FakeServer) serve(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	if len(s.greeting) > 0 {
		if _, err := conn.Write(s.greeting); err != nil {
			return
		}
	}

	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		req := make([]byte, n)
		copy(req, buf[:n])

		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()

		if s.handler == nil {
			continue
		}
		if resp := s.handler(req); resp != nil {
			if _, err := conn.Write(resp); err != nil {
				return
			}
		}
	}
}
