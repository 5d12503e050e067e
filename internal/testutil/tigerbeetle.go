package testutil

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// TigerBeetleBinEnv names the variable that points at a tigerbeetle binary.
const TigerBeetleBinEnv = "TB_BIN"

// TigerBeetle is a throwaway single-replica cluster backing ledger
// integration tests.
type TigerBeetle struct {
	ClusterID uint32
	Addresses []string

	cmd    *exec.Cmd
	output *lockedBuffer
	once   sync.Once
}

// StartTigerBeetle formats a development data file in a temp dir and starts
// one replica on a free port. The test is skipped when no binary is found.
// Server output is attached to the test log when the test fails.
func StartTigerBeetle(t testing.TB) *TigerBeetle {
	t.Helper()
	bin := tigerBeetleBinary(t)
	dataFile := filepath.Join(t.TempDir(), "0_0.tigerbeetle")
	address := fmt.Sprintf("127.0.0.1:%d", freePort(t))

	var formatOut bytes.Buffer
	format := exec.Command(bin, "format", "--cluster=0", "--replica=0", "--replica-count=1", "--development", dataFile)
	format.Stdout = &formatOut
	format.Stderr = &formatOut
	if err := format.Run(); err != nil {
		t.Fatalf("tigerbeetle format: %v\n%s", err, formatOut.String())
	}

	tb := &TigerBeetle{ClusterID: 0, Addresses: []string{address}, output: &lockedBuffer{}}
	tb.cmd = exec.Command(bin, "start", "--addresses="+address, "--development", dataFile)
	tb.cmd.Stdout = tb.output
	tb.cmd.Stderr = tb.output
	if err := tb.cmd.Start(); err != nil {
		t.Fatalf("tigerbeetle start: %v", err)
	}
	t.Cleanup(func() {
		tb.Stop()
		if t.Failed() {
			t.Logf("tigerbeetle output:\n%s", tb.output.String())
		}
	})
	if err := waitForListener(address, DefaultTimeout); err != nil {
		t.Fatalf("tigerbeetle not ready: %v\n%s", err, tb.output.String())
	}
	return tb
}

// Stop kills the replica. It is safe to call more than once.
func (tb *TigerBeetle) Stop() {
	tb.once.Do(func() {
		_ = tb.cmd.Process.Kill()
		_, _ = tb.cmd.Process.Wait()
	})
}

func tigerBeetleBinary(t testing.TB) string {
	t.Helper()
	if bin := os.Getenv(TigerBeetleBinEnv); bin != "" {
		return bin
	}
	bin, err := exec.LookPath("tigerbeetle")
	if err != nil {
		t.Skipf("%s not set and tigerbeetle not on PATH", TigerBeetleBinEnv)
	}
	return bin
}

func freePort(t testing.TB) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port
}

func waitForListener(address string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", address, 200*time.Millisecond)
		if err == nil {
			return conn.Close()
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(PollInterval * 5)
	}
}

// lockedBuffer collects process output written from the exec goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
