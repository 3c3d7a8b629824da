package upload

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/dutchcoders/go-clamd"
)

// ErrInfected is returned when the antivirus reports a match.
var ErrInfected = errors.New("malicious file detected")

// Scanner inspects file contents before they are stored.
type Scanner interface {
	Scan(r io.Reader) error
}

// ClamdScanner streams files to a clamd daemon.
type ClamdScanner struct {
	addr string
}

// NewClamdScanner returns a scanner for the daemon at addr (tcp://host:port or a unix socket path).
func NewClamdScanner(addr string) *ClamdScanner {
	return &ClamdScanner{addr: addr}
}

// Scan returns ErrInfected when clamd flags the stream.
func (s *ClamdScanner) Scan(r io.Reader) error {
	client := clamd.NewClamd(s.addr)

	abortChan := make(chan bool)
	defer close(abortChan)

	results, err := client.ScanStream(r, abortChan)
	if err != nil {
		return fmt.Errorf("scan file: %w", err)
	}

	var verdict error
	for result := range results {
		switch result.Status {
		case clamd.RES_OK:
		case clamd.RES_FOUND:
			verdict = ErrInfected
		default:
			if verdict == nil {
				verdict = fmt.Errorf("scan file: %s %s", result.Status, result.Description)
			}
		}
	}
	return verdict
}

func scanBytes(s Scanner, data []byte) error {
	if s == nil {
		return nil
	}
	return s.Scan(bytes.NewReader(data))
}
