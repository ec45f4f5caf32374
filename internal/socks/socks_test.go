package socks_test

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zwxxb/pivot/internal/socks"
	"github.com/zwxxb/pivot/internal/stream"
)

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

func TestNoAuthGreetingAndConnect(t *testing.T) {
	echo := startEcho(t)
	defer echo.Close()

	clientConn, serverConn := net.Pipe()
	errCh := make(chan error, 1)
	go func() {
		errCh <- socks.HandleConnection(context.Background(), stream.FromTCP(serverConn), nil)
	}()

	_, err := clientConn.Write([]byte{0x05, 0x01, 0x00})
	require.NoError(t, err)

	reply := make([]byte, 2)
	_, err = clientConn.Read(reply)
	require.NoError(t, err)
	require.Equal(t, []byte{0x05, 0x00}, reply)

	host, portStr, err := net.SplitHostPort(echo.Addr().String())
	require.NoError(t, err)
	ip := net.ParseIP(host).To4()
	require.NotNil(t, ip)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	req := []byte{0x05, 0x01, 0x00, 0x01, ip[0], ip[1], ip[2], ip[3], byte(port >> 8), byte(port)}
	_, err = clientConn.Write(req)
	require.NoError(t, err)

	connectReply := make([]byte, 10)
	_, err = clientConn.Read(connectReply)
	require.NoError(t, err)
	require.Equal(t, []byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0}, connectReply)

	_, err = clientConn.Write([]byte("ping"))
	require.NoError(t, err)
	echoBuf := make([]byte, 4)
	_ = clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = clientConn.Read(echoBuf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(echoBuf))

	_ = clientConn.Close()
	<-errCh
}

func TestAuthRejectsWrongCredentials(t *testing.T) {
	auth := socks.AuthInfo{User: "user1", Pass: "pw1"}
	clientConn, serverConn := net.Pipe()
	errCh := make(chan error, 1)
	go func() {
		errCh <- socks.HandleConnection(context.Background(), stream.FromTCP(serverConn), &auth)
	}()

	_, err := clientConn.Write([]byte{0x05, 0x01, 0x02})
	require.NoError(t, err)

	methodReply := make([]byte, 2)
	_, err = clientConn.Read(methodReply)
	require.NoError(t, err)
	require.Equal(t, []byte{0x05, 0x02}, methodReply)

	user := "user1"
	pass := "wrong"
	subneg := append([]byte{0x01, byte(len(user))}, user...)
	subneg = append(subneg, byte(len(pass)))
	subneg = append(subneg, pass...)
	_, err = clientConn.Write(subneg)
	require.NoError(t, err)

	authReply := make([]byte, 2)
	_, err = clientConn.Read(authReply)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x01}, authReply)

	require.Error(t, <-errCh)
}

func TestAuthAcceptsMatchingCredentials(t *testing.T) {
	echo := startEcho(t)
	defer echo.Close()

	auth := socks.AuthInfo{User: "user1", Pass: "pw1"}
	clientConn, serverConn := net.Pipe()
	errCh := make(chan error, 1)
	go func() {
		errCh <- socks.HandleConnection(context.Background(), stream.FromTCP(serverConn), &auth)
	}()

	_, err := clientConn.Write([]byte{0x05, 0x01, 0x02})
	require.NoError(t, err)

	methodReply := make([]byte, 2)
	_, err = clientConn.Read(methodReply)
	require.NoError(t, err)
	require.Equal(t, []byte{0x05, 0x02}, methodReply)

	user := "user1"
	pass := "pw1"
	subneg := append([]byte{0x01, byte(len(user))}, user...)
	subneg = append(subneg, byte(len(pass)))
	subneg = append(subneg, pass...)
	_, err = clientConn.Write(subneg)
	require.NoError(t, err)

	authReply := make([]byte, 2)
	_, err = clientConn.Read(authReply)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x00}, authReply)

	_ = clientConn.Close()
	<-errCh
}
