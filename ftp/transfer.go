package ftp

import (
	"fmt"
	"io"
)

// Store uploads data from an io.Reader to the remote path.
// The transfer is performed in binary mode (TYPE I).
//
// Example:
//
//	err = client.Store("remote.bin", bytes.NewReader(payload))
func (c *Client) Store(remotePath string, r io.Reader) (int64, error) {
	if err := c.Type("I"); err != nil {
		return 0, fmt.Errorf("failed to set binary mode: %w", err)
	}

	dataConn, err := c.cmdDataConn("STOR", remotePath)
	if err != nil {
		return 0, err
	}
	if dataConn == nil {
		return 0, nil
	}

	n, copyErr := io.Copy(c.limitWriter(dataConn), r)

	// Closing the data connection marks the end of the file.
	finishErr := c.finishDataConn("STOR", dataConn)

	if copyErr != nil {
		return n, fmt.Errorf("upload failed: %w", copyErr)
	}
	return n, finishErr
}

// Retrieve downloads the remote path into an io.Writer.
// The transfer is performed in binary mode (TYPE I).
//
// Example:
//
//	var buf bytes.Buffer
//	err = client.Retrieve("remote.bin", &buf)
func (c *Client) Retrieve(remotePath string, w io.Writer) (int64, error) {
	if err := c.Type("I"); err != nil {
		return 0, fmt.Errorf("failed to set binary mode: %w", err)
	}

	dataConn, err := c.cmdDataConn("RETR", remotePath)
	if err != nil {
		return 0, err
	}
	if dataConn == nil {
		return 0, nil
	}

	n, copyErr := io.Copy(w, c.limitReader(dataConn))
	finishErr := c.finishDataConn("RETR", dataConn)

	if copyErr != nil {
		return n, fmt.Errorf("download failed: %w", copyErr)
	}
	return n, finishErr
}
