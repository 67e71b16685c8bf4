package blockdevice_test

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/raid5/blockdevice"
)

func startTestBlockDevice(t *testing.T, blockSize int) (addr string, stop func()) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "disk.img")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	srv, err := blockdevice.New(blockdevice.Config{
		BindAddress:     "127.0.0.1",
		BindPort:        0,
		DiskName:        path,
		DiskUUID:        "disk-1",
		VolumeUUID:      "vol-1",
		LongPassword:    "hunter2",
		BlockSize:       blockSize,
		PollTimeout:     20 * time.Millisecond,
		LoginMaxFailure: 5,
		LoginWindow:     time.Minute,
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Run() }()

	stop = func() {
		srv.Close()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("blockdevice server did not shut down in time")
		}
	}
	return srv.Addr(), stop
}

func dial(t *testing.T, addr string) net.Conn {
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

func TestBlockDevice_SetThenGetBlockRoundTrip(t *testing.T) {
	addr, stop := startTestBlockDevice(t, 8)
	defer stop()

	block := []byte("raidraid")

	conn := dial(t, addr)
	req := fmt.Sprintf("POST /set_block?block=0 HTTP/1.1\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s", len(block), block)
	_, err := conn.Write([]byte(req))
	require.NoError(t, err)
	r := bufio.NewReader(conn)
	status, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, status, "200")
	conn.Close()

	conn = dial(t, addr)
	defer conn.Close()
	_, err = conn.Write([]byte("GET /get_block?block=0 HTTP/1.1\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)
	r = bufio.NewReader(conn)
	status, err = r.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, status, "200")
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if line == "\r\n" {
			break
		}
	}
	body := make([]byte, len(block))
	_, err = readFullConn(r, body)
	require.NoError(t, err)
	require.Equal(t, block, body)
}

func TestBlockDevice_LoginSucceedsWithCorrectPassword(t *testing.T) {
	addr, stop := startTestBlockDevice(t, 8)
	defer stop()

	conn := dial(t, addr)
	defer conn.Close()

	body := "password=hunter2"
	req := fmt.Sprintf("POST /login HTTP/1.1\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s", len(body), body)
	_, err := conn.Write([]byte(req))
	require.NoError(t, err)

	r := bufio.NewReader(conn)
	status, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, status, "200")
}

func TestBlockDevice_LoginRejectsWrongPassword(t *testing.T) {
	addr, stop := startTestBlockDevice(t, 8)
	defer stop()

	conn := dial(t, addr)
	defer conn.Close()

	body := "password=wrong"
	req := fmt.Sprintf("POST /login HTTP/1.1\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s", len(body), body)
	_, err := conn.Write([]byte(req))
	require.NoError(t, err)

	r := bufio.NewReader(conn)
	status, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, status, "401")
}

func TestBlockDevice_GetDiskInfoServesHeaderBlock(t *testing.T) {
	addr, stop := startTestBlockDevice(t, 128)
	defer stop()

	conn := dial(t, addr)
	defer conn.Close()

	_, err := conn.Write([]byte("GET /get_disk_info HTTP/1.1\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	r := bufio.NewReader(conn)
	status, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, status, "200")
}

func readFullConn(r *bufio.Reader, buf []byte) (int, error) {
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
