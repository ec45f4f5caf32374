package stream_test

import (
	"crypto/tls"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zwxxb/pivot/internal/stream"
	"github.com/zwxxb/pivot/internal/tlsctx"
)

func TestWrapServerNoTLSPassesThrough(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c2.Close()

	s, err := stream.WrapServer(c1, nil)
	require.NoError(t, err)
	require.Equal(t, stream.KindTCP, s.Kind)
	require.Equal(t, c1, s.Conn)
}

func TestWrapClientNoTLSPassesThrough(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c2.Close()

	s, err := stream.WrapClient(c1, nil)
	require.NoError(t, err)
	require.Equal(t, stream.KindTCP, s.Kind)
}

func TestWrapServerClientHandshake(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverCfg := selfSignedServerConfig(t)
	clientCfg := &tls.Config{InsecureSkipVerify: true}

	serverDone := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverDone <- err
			return
		}
		s, err := stream.WrapServer(conn, serverCfg)
		if err != nil {
			serverDone <- err
			return
		}
		require.Equal(t, stream.KindServerTLS, s.Kind)
		buf := make([]byte, 5)
		if _, err := s.Conn.Read(buf); err != nil {
			serverDone <- err
			return
		}
		serverDone <- nil
	}()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	cs, err := stream.WrapClient(clientConn, clientCfg)
	require.NoError(t, err)
	require.Equal(t, stream.KindClientTLS, cs.Kind)

	_, err = cs.Conn.Write([]byte("hello"))
	require.NoError(t, err)

	require.NoError(t, <-serverDone)
}

func TestCloseWriteHalfCloses(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	acceptDone := make(chan net.Conn, 1)
	go func() {
		conn, _ := ln.Accept()
		acceptDone <- conn
	}()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	serverConn := <-acceptDone
	defer serverConn.Close()

	s := stream.FromTCP(clientConn)
	require.NoError(t, s.CloseWrite())

	buf := make([]byte, 1)
	n, err := serverConn.Read(buf)
	require.Equal(t, 0, n)
	require.Error(t, err)
}

func selfSignedServerConfig(t *testing.T) *tls.Config {
	t.Helper()
	cfg, err := tlsctx.Server("127.0.0.1")
	require.NoError(t, err)
	return cfg
}
