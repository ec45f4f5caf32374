package forward_test

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zwxxb/pivot/internal/forward"
)

func TestConfigValidateAcceptsFiveTopologies(t *testing.T) {
	cases := []forward.Config{
		{Local: []forward.Endpoint{{}, {}}},
		{Local: []forward.Endpoint{{}}, Remote: []forward.Endpoint{{}}},
		{Remote: []forward.Endpoint{{}, {}}},
		{Local: []forward.Endpoint{{}}, Socket: "/tmp/x.sock"},
		{Remote: []forward.Endpoint{{}}, Socket: "/tmp/x.sock"},
	}
	for _, c := range cases {
		require.NoError(t, c.Validate())
	}
}

func TestConfigValidateRejectsOtherCombinations(t *testing.T) {
	cases := []forward.Config{
		{},
		{Local: []forward.Endpoint{{}, {}, {}}},
		{Local: []forward.Endpoint{{}}, Remote: []forward.Endpoint{{}}, Socket: "/tmp/x.sock"},
	}
	for _, c := range cases {
		require.Error(t, c.Validate())
	}
}

func TestLocalToRemoteTCPByteFaithful(t *testing.T) {
	echo := startEcho(t)
	defer echo.Close()

	localLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	localAddr := localLn.Addr().String()
	localLn.Close()

	cfg := forward.Config{
		Local:  []forward.Endpoint{{Addr: localAddr}},
		Remote: []forward.Endpoint{{Addr: echo.Addr().String()}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = forward.Start(ctx, cfg) }()

	var conn net.Conn
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("tcp", localAddr)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello"))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	buf := make([]byte, 5)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = reader.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf))
}

func startEcho(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				buf := make([]byte, 4096)
				for {
					n, err := conn.Read(buf)
					if n > 0 {
						if _, werr := conn.Write(buf[:n]); werr != nil {
							return
						}
					}
					if err != nil {
						return
					}
				}
			}()
		}
	}()
	return ln
}
