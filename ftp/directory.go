package ftp

import (
	"bufio"
	"fmt"
	"strings"
)

// NameList returns the names the server reports for path (NLST).
// If path is empty, it lists the current directory. Names are returned as
// the server sends them, which for most servers means relative to path when
// path is a directory and path itself when it names a file.
//
// Example:
//
//	names, err := client.NameList("/pub")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, name := range names {
//	    fmt.Println(name)
//	}
func (c *Client) NameList(path string) ([]string, error) {
	args := []string{}
	if path != "" {
		args = append(args, path)
	}

	// NLST is defined as an ASCII transfer.
	if err := c.Type("A"); err != nil {
		return nil, fmt.Errorf("failed to set ascii mode: %w", err)
	}

	dataConn, err := c.cmdDataConn("NLST", args...)
	if err != nil {
		return nil, err
	}
	if dataConn == nil {
		return nil, nil
	}

	var names []string
	scanner := bufio.NewScanner(c.limitReader(dataConn))
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name != "" {
			names = append(names, name)
		}
	}
	scanErr := scanner.Err()

	if err := c.finishDataConn("NLST", dataConn); err != nil {
		return nil, err
	}
	if scanErr != nil {
		return nil, fmt.Errorf("failed to read name list: %w", scanErr)
	}
	return names, nil
}

// ChangeDir changes the current working directory.
func (c *Client) ChangeDir(path string) error {
	_, err := c.expect2xx("CWD", path)
	return err
}

// CurrentDir returns the current working directory.
func (c *Client) CurrentDir() (string, error) {
	resp, err := c.expect2xx("PWD")
	if err != nil {
		return "", err
	}
	return parsePWD(resp.Message)
}

// parsePWD extracts the directory from a 257 reply, where embedded quotes
// are doubled: 257 "/home/say ""hi""" is the current directory
func parsePWD(msg string) (string, error) {
	start := strings.Index(msg, "\"")
	if start == -1 {
		return "", fmt.Errorf("invalid PWD response: %s", msg)
	}

	var b strings.Builder
	for i := start + 1; i < len(msg); i++ {
		if msg[i] != '"' {
			b.WriteByte(msg[i])
			continue
		}
		if i+1 < len(msg) && msg[i+1] == '"' {
			b.WriteByte('"')
			i++
			continue
		}
		return b.String(), nil
	}
	return "", fmt.Errorf("invalid PWD response: %s", msg)
}

// MakeDir creates a new directory.
func (c *Client) MakeDir(path string) error {
	_, err := c.expect2xx("MKD", path)
	return err
}

// Delete deletes a file.
func (c *Client) Delete(path string) error {
	_, err := c.expect2xx("DELE", path)
	return err
}

// Rename renames a file or directory (RNFR followed by RNTO).
func (c *Client) Rename(from, to string) error {
	if _, err := c.expectCode(350, "RNFR", from); err != nil {
		return err
	}
	_, err := c.expect2xx("RNTO", to)
	return err
}
