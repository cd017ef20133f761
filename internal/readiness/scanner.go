package readiness

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
)

// Scanner retrieves the public host keys offered by an SSH service without
// completing authentication.
type Scanner interface {
	// Scan probes addr and returns the host keys it offers, at most one per
	// key algorithm family. An empty result with a nil error means the
	// service answered but offered nothing usable.
	Scan(ctx context.Context, addr string, timeout time.Duration) ([]ssh.PublicKey, error)
}

// keyScanAlgos groups host-key algorithms by the underlying key type. One
// handshake per family retrieves that family's key if the server offers it.
var keyScanAlgos = [][]string{
	{ssh.KeyAlgoED25519},
	{ssh.KeyAlgoECDSA256, ssh.KeyAlgoECDSA384, ssh.KeyAlgoECDSA521},
	{ssh.KeyAlgoRSASHA512, ssh.KeyAlgoRSASHA256, ssh.KeyAlgoRSA},
}

// errKeyCaptured aborts the SSH handshake once the host key has been seen.
var errKeyCaptured = fmt.Errorf("host key captured")

// HostKeyScanner implements Scanner by starting an SSH handshake per key
// family and recording the host key presented during key exchange. The
// handshake is aborted from the host-key callback, so no authentication is
// ever attempted.
type HostKeyScanner struct {
	Port int // defaults to 22
}

func (s *HostKeyScanner) Scan(ctx context.Context, addr string, timeout time.Duration) ([]ssh.PublicKey, error) {
	port := s.Port
	if port == 0 {
		port = 22
	}

	var keys []ssh.PublicKey
	var lastErr error
	for _, algos := range keyScanAlgos {
		key, err := s.scanFamily(ctx, addr, port, timeout, algos)
		if err != nil {
			// The family may simply not be offered; remember the error in
			// case nothing at all answers.
			lastErr = err
			continue
		}
		keys = append(keys, key)
	}

	if len(keys) == 0 && lastErr != nil {
		return nil, fmt.Errorf("key scan %s: %w", addr, lastErr)
	}
	return keys, nil
}

func (s *HostKeyScanner) scanFamily(ctx context.Context, addr string, port int, timeout time.Duration, algos []string) (ssh.PublicKey, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(addr, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	var captured ssh.PublicKey
	cfg := &ssh.ClientConfig{
		User:              "labvm-keyscan",
		HostKeyAlgorithms: algos,
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			captured = key
			return errKeyCaptured
		},
		Timeout: timeout,
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err == nil {
		// Only reachable if the server let us in without auth; we still
		// have the key from the callback path, so just hang up.
		ssh.NewClient(c, chans, reqs).Close()
	}
	if captured == nil {
		return nil, fmt.Errorf("handshake with %s: %w", addr, err)
	}
	return captured, nil
}
