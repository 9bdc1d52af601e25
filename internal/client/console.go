package client

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// QuitCommand ends an interactive session without notifying the server.
const QuitCommand = ":quit"

// Prompt is printed once when an interactive session starts.
const Prompt = "Type a message (:quit to exit), ENTER to send."

// RunConsole forwards trimmed lines from in to the server, empty lines
// included, and prints every received text to out until QuitCommand, EOF
// on in, or the connection ends. The client is closed before RunConsole
// returns. It returns ErrNotConnected when the server went away first.
func RunConsole(c *Client, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, Prompt)

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for text := range c.Messages() {
			fmt.Fprintf(out, "received: %s\n", text)
		}
	}()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-c.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	err := forward(c, lines)
	c.Close()
	<-printed

	if err != nil {
		return err
	}
	select {
	case err := <-scanErr:
		if err != nil {
			return fmt.Errorf("error reading input: %w", err)
		}
	default:
	}
	return nil
}

func forward(c *Client, lines <-chan string) error {
	for {
		select {
		case <-c.Done():
			return ErrNotConnected
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text := strings.TrimSpace(line)
			if text == QuitCommand {
				return nil
			}
			if err := c.Send(text); err != nil {
				return err
			}
		}
	}
}
