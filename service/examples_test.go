package service_test

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/raid5/internal/logx"
	"github.com/joeycumines/raid5/netutil"
	"github.com/joeycumines/raid5/reactor"
	"github.com/joeycumines/raid5/service"
)

// startTestServer wires a real reactor + ListenerSocket serving
// TimeService/MulService on loopback, returning its bound address and a
// cleanup func. Exercising the protocol over a real TCP socket (rather
// than mocking ServiceSocket's fd) is the only way to honestly test the
// GET_REQUEST..SEND_CONTENT state machine spec.md §4.5 describes.
func startTestServer(t *testing.T) (addr string, stop func()) {
	t.Helper()

	r, err := reactor.New(reactor.Config{PollTimeout: 20 * time.Millisecond, Logger: logx.Discard()})
	require.NoError(t, err)

	lfd, err := netutil.ListenTCP("127.0.0.1", 0)
	require.NoError(t, err)
	port, err := netutil.BoundPort(lfd)
	require.NoError(t, err)

	reg := service.NewRegistry()
	reg.Register("/clock", service.NewTimeService())
	reg.Register("/mul", service.NewMulService())

	ln := service.NewListenerSocket(lfd, reg, r, 64*1024, nil, logx.Discard())
	r.Submit(ln)

	done := make(chan error, 1)
	go func() { done <- r.Run() }()

	stop = func() {
		r.Close()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("reactor did not shut down in time")
		}
	}
	return "127.0.0.1:" + itoa(port), stop
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [12]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func dialAndWait(t *testing.T, addr string) net.Conn {
	t.Helper()
	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			return conn
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	return conn
}

func TestMulService_SimpleRequest(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	conn := dialAndWait(t, addr)
	defer conn.Close()

	_, err := conn.Write([]byte("GET /mul?a=6&b=7 HTTP/1.1\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	r := bufio.NewReader(conn)
	status, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, status, "200")

	headers := readHeaders(t, r)
	require.Equal(t, "2", headers["content-length"])

	body := make([]byte, 2)
	_, err = readFull(r, body)
	require.NoError(t, err)
	require.Equal(t, "42", string(body))
}

func TestServiceSocket_PipelinedKeepAliveRequests(t *testing.T) {
	// Spec scenario S3: two pipelined requests on one keep-alive
	// connection yield two responses, in order.
	addr, stop := startTestServer(t)
	defer stop()

	conn := dialAndWait(t, addr)
	defer conn.Close()

	_, err := conn.Write([]byte("GET /clock HTTP/1.1\r\n\r\nGET /clock HTTP/1.1\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	r := bufio.NewReader(conn)
	for i := 0; i < 2; i++ {
		status, err := r.ReadString('\n')
		require.NoError(t, err)
		require.Contains(t, status, "200", "response %d", i)
		headers := readHeaders(t, r)
		n := atoiHeader(t, headers["content-length"])
		body := make([]byte, n)
		_, err = readFull(r, body)
		require.NoError(t, err)
	}
}

func TestMulService_MissingArgsYields400(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	conn := dialAndWait(t, addr)
	defer conn.Close()

	_, err := conn.Write([]byte("GET /mul?a=6 HTTP/1.1\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	r := bufio.NewReader(conn)
	status, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, status, "400")
}

func TestListenerSocket_UnknownURIYields404(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	conn := dialAndWait(t, addr)
	defer conn.Close()

	_, err := conn.Write([]byte("GET /does-not-exist HTTP/1.1\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	r := bufio.NewReader(conn)
	status, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, status, "404")
}

func readHeaders(t *testing.T, r *bufio.Reader) map[string]string {
	t.Helper()
	headers := map[string]string{}
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = trimCRLF(line)
		if line == "" {
			return headers
		}
		i := indexByte(line, ':')
		if i < 0 {
			continue
		}
		headers[toLower(trimSpace(line[:i]))] = trimSpace(line[i+1:])
	}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func atoiHeader(t *testing.T, s string) int {
	t.Helper()
	n := 0
	for _, c := range s {
		require.True(t, c >= '0' && c <= '9', "non-digit in content-length %q", s)
		n = n*10 + int(c-'0')
	}
	return n
}

func trimCRLF(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func trimSpace(s string) string {
	for len(s) > 0 && s[0] == ' ' {
		s = s[1:]
	}
	for len(s) > 0 && s[len(s)-1] == ' ' {
		s = s[:len(s)-1]
	}
	return s
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func toLower(s string) string {
	buf := []byte(s)
	for i, c := range buf {
		if c >= 'A' && c <= 'Z' {
			buf[i] = c + ('a' - 'A')
		}
	}
	return string(buf)
}
