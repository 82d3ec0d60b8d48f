package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// demoMessage is long enough to force many DATA/DATA_ACK pairs at the
// default chunk size.
func demoMessage() []byte {
	var b strings.Builder
	b.WriteString("Hello from RUDP initiator!\n")
	b.WriteString("This demo exercises the handshake, stop-and-wait DATA+ACK, and FIN teardown.\n")
	b.WriteString("Below are numbered lines to create many packets.\n")
	for i := 1; i <= 100; i++ {
		fmt.Fprintf(&b, "Line %d\n", i)
	}
	return []byte(b.String())
}

// loadMessage reads the payload named by src: "" is the demo message, "-"
// reads stdin, anything else is a file path.
func loadMessage(src string, stdin io.Reader) ([]byte, error) {
	switch src {
	case "":
		return demoMessage(), nil
	case "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read message from stdin: %w", err)
		}
		return data, nil
	default:
		data, err := os.ReadFile(src)
		if err != nil {
			return nil, fmt.Errorf("failed to read message: %w", err)
		}
		return data, nil
	}
}
