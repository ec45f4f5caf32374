package reverse_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zwxxb/pivot/internal/reverse"
)

func TestRunServerPairsControlAndProxy(t *testing.T) {
	controlLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	controlAddr := controlLn.Addr().String()
	controlLn.Close()

	proxyLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	proxyAddr := proxyLn.Addr().String()
	proxyLn.Close()

	cfg := reverse.ServerConfig{
		Control: reverse.Endpoint{Addr: controlAddr},
		Proxy:   reverse.Endpoint{Addr: proxyAddr},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = reverse.RunServer(ctx, cfg) }()

	var controlConn, proxyConn net.Conn
	for i := 0; i < 50; i++ {
		if controlConn == nil {
			controlConn, _ = net.Dial("tcp", controlAddr)
		}
		if proxyConn == nil {
			proxyConn, _ = net.Dial("tcp", proxyAddr)
		}
		if controlConn != nil && proxyConn != nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NotNil(t, controlConn)
	require.NotNil(t, proxyConn)
	defer controlConn.Close()
	defer proxyConn.Close()

	_, err = controlConn.Write([]byte("relayed"))
	require.NoError(t, err)

	buf := make([]byte, 7)
	_ = proxyConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = proxyConn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "relayed", string(buf))
}
