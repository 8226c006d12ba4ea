package ftp

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Response is a complete reply read from the control connection.
type Response struct {
	// Code is the three-digit reply code (e.g., 220, 550)
	Code int

	// Message is the reply text without the code prefix. Lines of a
	// multi-line reply are joined with "\n".
	Message string

	// Lines holds every raw line of the reply.
	Lines []string
}

// Is1xx reports a positive preliminary reply.
func (r *Response) Is1xx() bool { return r.Code >= 100 && r.Code < 200 }

// Is2xx reports a positive completion reply.
func (r *Response) Is2xx() bool { return r.Code >= 200 && r.Code < 300 }

func (r *Response) err(command string) *ProtocolError {
	return &ProtocolError{Command: command, Response: r.Message, Code: r.Code}
}

// readResponse reads one reply from r.
//
// A single-line reply is "220 Welcome". A multi-line reply opens with the
// code followed by '-' and ends at the first line carrying the same code
// followed by a space; lines in between are free text:
//
//	220-Welcome
//	 continuation lines may start with a space
//	220 Ready
func readResponse(r *bufio.Reader) (*Response, error) {
	first, err := readLine(r)
	if err != nil {
		return nil, err
	}
	if len(first) < 4 {
		return nil, fmt.Errorf("invalid response line: %q", first)
	}

	code, err := strconv.Atoi(first[:3])
	if err != nil {
		return nil, fmt.Errorf("invalid response code: %q", first[:3])
	}

	resp := &Response{Code: code, Lines: []string{first}}
	switch first[3] {
	case ' ':
		resp.Message = first[4:]
		return resp, nil
	case '-':
	default:
		return nil, fmt.Errorf("invalid response format: %q", first)
	}

	prefix := first[:3]
	for {
		line, err := readLine(r)
		if err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("unexpected EOF reading response")
			}
			return nil, err
		}
		resp.Lines = append(resp.Lines, line)

		// Only "<code> " ends the reply; anything else is a continuation.
		if len(line) >= 4 && line[:3] == prefix && line[3] == ' ' {
			break
		}
	}

	msg := make([]string, 0, len(resp.Lines))
	for _, l := range resp.Lines {
		if len(l) >= 4 && l[:3] == prefix && (l[3] == ' ' || l[3] == '-') {
			msg = append(msg, l[4:])
		} else {
			msg = append(msg, strings.TrimSpace(l))
		}
	}
	resp.Message = strings.Join(msg, "\n")
	return resp, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// sendCommand writes one command line and reads the reply.
func (c *Client) sendCommand(command string, args ...string) (*Response, error) {
	for _, a := range args {
		if strings.ContainsAny(a, "\r\n") {
			return nil, fmt.Errorf("%s argument contains a line break", command)
		}
	}

	line := command
	if len(args) > 0 {
		line = command + " " + strings.Join(args, " ")
	}

	if command == "PASS" {
		c.logger.Debug("ftp command", "cmd", "PASS ***")
	} else {
		c.logger.Debug("ftp command", "cmd", line)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return nil, fmt.Errorf("failed to set write deadline: %w", err)
		}
	}
	if _, err := io.WriteString(c.conn, line+"\r\n"); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	resp, err := c.readReply()
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	c.logger.Debug("ftp response", "code", resp.Code, "message", resp.Message)
	return resp, nil
}

// readReply reads the next reply with the read deadline applied.
// The caller holds c.mu or owns the client exclusively.
func (c *Client) readReply() (*Response, error) {
	if c.timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return nil, fmt.Errorf("failed to set read deadline: %w", err)
		}
	}
	return readResponse(c.reader)
}

// expectCode sends a command and fails unless the reply carries want.
func (c *Client) expectCode(want int, command string, args ...string) (*Response, error) {
	resp, err := c.sendCommand(command, args...)
	if err != nil {
		return nil, err
	}
	if resp.Code != want {
		return resp, resp.err(command)
	}
	return resp, nil
}

// expect2xx sends a command and fails unless the reply is a positive completion.
func (c *Client) expect2xx(command string, args ...string) (*Response, error) {
	resp, err := c.sendCommand(command, args...)
	if err != nil {
		return nil, err
	}
	if !resp.Is2xx() {
		return resp, resp.err(command)
	}
	return resp, nil
}
