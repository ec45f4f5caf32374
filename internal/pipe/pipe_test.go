package pipe_test

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zwxxb/pivot/internal/pipe"
	"github.com/zwxxb/pivot/internal/stream"
)

func TestSpliceByteFaithful(t *testing.T) {
	a1, a2 := net.Pipe()
	b1, b2 := net.Pipe()

	done := make(chan struct{})
	go func() {
		pipe.Splice(context.Background(), stream.FromTCP(a2), stream.FromTCP(b2))
		close(done)
	}()

	go func() {
		_, _ = a1.Write([]byte("hello"))
		_ = a1.Close()
	}()

	buf := make([]byte, 5)
	_, err := io.ReadFull(b1, buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf))
	_ = b1.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("splice did not terminate after one side closed")
	}
}

func TestSpliceTerminatesOnFirstCompletion(t *testing.T) {
	ln1, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln1.Close()
	ln2, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln2.Close()

	var serverA, serverB net.Conn
	acceptDone := make(chan struct{})
	go func() {
		serverA, _ = ln1.Accept()
		serverB, _ = ln2.Accept()
		close(acceptDone)
	}()

	clientA, err := net.Dial("tcp", ln1.Addr().String())
	require.NoError(t, err)
	clientB, err := net.Dial("tcp", ln2.Addr().String())
	require.NoError(t, err)
	<-acceptDone

	done := make(chan struct{})
	go func() {
		pipe.Splice(context.Background(), stream.FromTCP(serverA), stream.FromTCP(serverB))
		close(done)
	}()

	_ = clientA.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("splice did not terminate after one endpoint closed")
	}

	buf := make([]byte, 1)
	_, err = clientB.Read(buf)
	require.Error(t, err)
}
