package client

import (
	"bufio"
	"crypto/tls"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sid3xyz/irctest/internal/controller"
	"github.com/sid3xyz/irctest/internal/ircmsg"
)

// pipe returns a connected Conn and the peer's side of the socket, backed
// by a loopback listener.
func pipe(t *testing.T) (*Conn, net.Conn) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	conn, err := Dial(listener.Addr().String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	peer := <-accepted
	t.Cleanup(func() { peer.Close() })
	return conn, peer
}

func TestReadMessage(t *testing.T) {
	conn, peer := pipe(t)

	_, err := peer.Write([]byte(":srv.example PONG srv.example abcdef\r\n"))
	require.NoError(t, err)

	msg, err := conn.ReadMessage(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "PONG", msg.Command)
	assert.Equal(t, []string{"srv.example", "abcdef"}, msg.Params)
	assert.Equal(t, "srv.example", msg.Prefix)
	assert.Equal(t, 1, conn.ReadCount())
}

func TestReadMessageReassemblesPartialLines(t *testing.T) {
	conn, peer := pipe(t)

	go func() {
		for _, chunk := range []string{":srv 0", "01 foo :Wel", "come\r\n:srv 002 f"} {
			peer.Write([]byte(chunk))
			time.Sleep(10 * time.Millisecond)
		}
		peer.Write([]byte("oo :Your host\r\n"))
	}()

	first, err := conn.ReadMessage(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "001", first.Command)
	assert.Equal(t, []string{"foo", "Welcome"}, first.Params)

	second, err := conn.ReadMessage(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "002", second.Command)
	assert.Equal(t, []string{"foo", "Your host"}, second.Params)
}

func TestReadMessagePreservesWireOrder(t *testing.T) {
	conn, peer := pipe(t)

	var lines []string
	for _, n := range []string{"001", "002", "003", "004", "005"} {
		lines = append(lines, ":srv "+n+" foo :x\r\n")
	}
	_, err := peer.Write([]byte(strings.Join(lines, "")))
	require.NoError(t, err)

	for _, want := range []string{"001", "002", "003", "004", "005"} {
		msg, err := conn.ReadMessage(time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, msg.Command)
	}
	assert.Equal(t, 5, conn.ReadCount())
}

func TestReadMessageTimeout(t *testing.T) {
	conn, _ := pipe(t)

	start := time.Now()
	_, err := conn.ReadMessage(100 * time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestReadMessagePeerClose(t *testing.T) {
	conn, peer := pipe(t)

	peer.Close()
	_, err := conn.ReadMessage(time.Second)
	require.ErrorIs(t, err, ErrClosed)

	// Subsequent reads keep failing the same way, they do not hang.
	_, err = conn.ReadMessage(time.Second)
	require.Error(t, err)
}

func TestReadMessageLineTooLong(t *testing.T) {
	conn, peer := pipe(t)

	_, err := peer.Write([]byte(strings.Repeat("a", ircmsg.MaxLineLen+64)))
	require.NoError(t, err)

	_, err = conn.ReadMessage(time.Second)
	require.ErrorIs(t, err, ErrLineTooLong)
}

func TestReadMessageParseErrorIsRecoverable(t *testing.T) {
	conn, peer := pipe(t)

	_, err := peer.Write([]byte("\r\nPING ok\r\n"))
	require.NoError(t, err)

	_, err = conn.ReadMessage(time.Second)
	var parseErr *ircmsg.ParseError
	require.ErrorAs(t, err, &parseErr)

	msg, err := conn.ReadMessage(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "PING", msg.Command)
}

func TestDrainBuffered(t *testing.T) {
	conn, peer := pipe(t)

	_, err := peer.Write([]byte("PING a\r\nPING b\r\nPING c\r\n"))
	require.NoError(t, err)

	// The first blocking read guarantees the bytes have arrived; the
	// rest must come out of the buffer without further waiting.
	first, err := conn.ReadMessage(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, first.Params)

	start := time.Now()
	rest := conn.DrainBuffered()
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	require.Len(t, rest, 2)
	assert.Equal(t, []string{"b"}, rest[0].Params)
	assert.Equal(t, []string{"c"}, rest[1].Params)

	// Nothing left.
	assert.Empty(t, conn.DrainBuffered())
}

func TestDrain(t *testing.T) {
	conn, peer := pipe(t)

	_, err := peer.Write([]byte("PING a\r\nPING b\r\n"))
	require.NoError(t, err)

	msgs := conn.Drain(200 * time.Millisecond)
	require.Len(t, msgs, 2)
	assert.Equal(t, []string{"a"}, msgs[0].Params)
	assert.Equal(t, []string{"b"}, msgs[1].Params)
}

func TestDialTLS(t *testing.T) {
	material, err := controller.GenerateCert("tls.test.server")
	require.NoError(t, err)
	keyPair, err := tls.X509KeyPair(material.CertPEM, material.KeyPEM)
	require.NoError(t, err)

	listener, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{
		Certificates: []tls.Certificate{keyPair},
	})
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		peer, err := listener.Accept()
		if err != nil {
			return
		}
		defer peer.Close()
		// Completing the handshake happens on first I/O.
		peer.Write([]byte(":tls.test.server NOTICE * :hello over TLS\r\n"))

		reader := bufio.NewReader(peer)
		if line, err := reader.ReadString('\n'); err == nil && strings.HasPrefix(line, "PING") {
			peer.Write([]byte(":tls.test.server PONG tls.test.server :tok\r\n"))
		}
	}()

	conn, err := DialTLS(listener.Addr().String(), &tls.Config{InsecureSkipVerify: true}, 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	msg, err := conn.ReadMessage(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "NOTICE", msg.Command)
	assert.Equal(t, "tls.test.server", msg.Prefix)

	require.NoError(t, conn.SendLine("PING tok"))
	msg, err = conn.ReadMessage(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "PONG", msg.Command)
	assert.Equal(t, []string{"tls.test.server", "tok"}, msg.Params)
}

func TestSendLine(t *testing.T) {
	conn, peer := pipe(t)

	require.NoError(t, conn.SendLine("PING abcdef"))

	reader := bufio.NewReader(peer)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "PING abcdef\r\n", line)
}

func TestSendLineAfterClose(t *testing.T) {
	conn, _ := pipe(t)

	require.NoError(t, conn.Close())
	require.ErrorIs(t, conn.SendLine("PING x"), ErrClosed)
}

func TestCloseIdempotent(t *testing.T) {
	conn, _ := pipe(t)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	_, err := conn.ReadMessage(time.Second)
	require.ErrorIs(t, err, ErrClosed)
}
