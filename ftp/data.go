package ftp

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"time"
)

var (
	// pasvRegex matches the PASV response format: 227 Entering Passive Mode (h1,h2,h3,h4,p1,p2)
	pasvRegex = regexp.MustCompile(`\((\d+),(\d+),(\d+),(\d+),(\d+),(\d+)\)`)

	// epsvRegex matches the EPSV response format: 229 Entering Extended Passive Mode (|||port|)
	epsvRegex = regexp.MustCompile(`\(\|\|\|(\d+)\|\)`)
)

// parsePASV parses a PASV response and returns the host and port.
// Example: "227 Entering Passive Mode (192,168,1,1,195,149)"
// Returns: "192.168.1.1:50069" (195*256 + 149 = 50069)
func parsePASV(response string) (string, error) {
	matches := pasvRegex.FindStringSubmatch(response)
	if len(matches) != 7 {
		return "", fmt.Errorf("invalid PASV response: %s", response)
	}

	var h [4]int
	for i := range 4 {
		val, err := strconv.Atoi(matches[i+1])
		if err != nil || val < 0 || val > 255 {
			return "", fmt.Errorf("invalid PASV IP part: %s", matches[i+1])
		}
		h[i] = val
	}
	host := fmt.Sprintf("%d.%d.%d.%d", h[0], h[1], h[2], h[3])

	p1, err1 := strconv.Atoi(matches[5])
	p2, err2 := strconv.Atoi(matches[6])
	if err1 != nil || err2 != nil || p1 > 255 || p2 > 255 {
		return "", fmt.Errorf("invalid PASV port parts: %s, %s", matches[5], matches[6])
	}

	return net.JoinHostPort(host, strconv.Itoa(p1*256+p2)), nil
}

// parseEPSV parses an EPSV response and returns the port.
// Example: "229 Entering Extended Passive Mode (|||6446|)"
// Returns: "6446"
func parseEPSV(response string) (string, error) {
	matches := epsvRegex.FindStringSubmatch(response)
	if len(matches) != 2 {
		return "", fmt.Errorf("invalid EPSV response: %s", response)
	}

	port, err := strconv.Atoi(matches[1])
	if err != nil || port < 1 || port > 65535 {
		return "", fmt.Errorf("invalid EPSV port: %s", matches[1])
	}
	return matches[1], nil
}

// formatPORT formats an address for the PORT command.
// Converts "192.168.1.100:50000" to "192,168,1,100,195,80"
func formatPORT(addr string) (string, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", err
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return "", fmt.Errorf("invalid IP address: %s", host)
	}
	ip = ip.To4()
	if ip == nil {
		return "", fmt.Errorf("PORT requires IPv4 address")
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return "", fmt.Errorf("invalid port: %s", portStr)
	}

	return fmt.Sprintf("%d,%d,%d,%d,%d,%d", ip[0], ip[1], ip[2], ip[3], port/256, port%256), nil
}

// formatEPRT formats an address for the EPRT command: |proto|addr|port|
// where proto is 1 for IPv4 and 2 for IPv6.
func formatEPRT(addr string) (string, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", err
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return "", fmt.Errorf("invalid IP address: %s", host)
	}

	netPrt := 2
	if ip.To4() != nil {
		netPrt = 1
	}
	return fmt.Sprintf("|%d|%s|%s|", netPrt, host, portStr), nil
}

// resolveDataAddr replaces an unroutable address advertised in a PASV reply
// with the control connection host.
func resolveDataAddr(pasvAddr, controlHost string) string {
	host, port, err := net.SplitHostPort(pasvAddr)
	if err != nil {
		return pasvAddr
	}
	if host == "0.0.0.0" {
		return net.JoinHostPort(controlHost, port)
	}
	return pasvAddr
}

// dataChannel is a data connection being set up. In passive mode the
// socket is dialed before the transfer command is sent; in active mode the
// client listens and accepts once the server has acknowledged the command.
// Either way the TLS handshake runs only after the preliminary reply, which
// is when servers start serving the data socket.
type dataChannel struct {
	conn     net.Conn
	listener net.Listener
}

func (d *dataChannel) close() {
	if d.conn != nil {
		_ = d.conn.Close()
	}
	if d.listener != nil {
		_ = d.listener.Close()
	}
}

// openDataChannel prepares a data channel using the configured mode.
func (c *Client) openDataChannel() (*dataChannel, error) {
	if c.activeMode {
		return c.openActiveDataChannel()
	}
	return c.openPassiveDataChannel()
}

// openPassiveDataChannel tries EPSV first and falls back to PASV. A 502
// reply to EPSV disables it for the rest of the session.
func (c *Client) openPassiveDataChannel() (*dataChannel, error) {
	var addr string

	if !c.disableEPSV {
		resp, err := c.sendCommand("EPSV")
		if err != nil {
			return nil, fmt.Errorf("EPSV failed: %w", err)
		}
		switch {
		case resp.Code == 502:
			c.disableEPSV = true
		case resp.Is2xx():
			if port, err := parseEPSV(resp.Message); err == nil {
				addr = net.JoinHostPort(c.host, port)
			}
		}
	}

	if addr == "" {
		resp, err := c.expect2xx("PASV")
		if err != nil {
			return nil, err
		}
		pasvAddr, err := parsePASV(resp.Message)
		if err != nil {
			return nil, err
		}
		addr = resolveDataAddr(pasvAddr, c.host)
	}

	raw, err := c.dialer.DialContext(c.ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to data port: %w", err)
	}
	conn := c.attach("data", raw, c.secureData())
	c.trackData(conn)
	return &dataChannel{conn: conn}, nil
}

// openActiveDataChannel listens on the control connection's local address
// and announces it with PORT, or EPRT for IPv6.
func (c *Client) openActiveDataChannel() (*dataChannel, error) {
	host, _, err := net.SplitHostPort(c.conn.LocalAddr().String())
	if err != nil {
		host = "127.0.0.1"
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(c.ctx, "tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}
	addr := listener.Addr().String()

	cmd, format := "PORT", formatPORT
	if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
		cmd, format = "EPRT", formatEPRT
	}
	arg, err := format(addr)
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to format %s command: %w", cmd, err)
	}
	if _, err := c.expect2xx(cmd, arg); err != nil {
		listener.Close()
		return nil, err
	}
	return &dataChannel{listener: listener}, nil
}

// establish finishes the data channel after the preliminary reply.
func (c *Client) establish(d *dataChannel) (net.Conn, error) {
	if d.listener != nil {
		if tl, ok := d.listener.(*net.TCPListener); ok && c.timeout > 0 {
			_ = tl.SetDeadline(time.Now().Add(c.timeout))
		}
		raw, err := d.listener.Accept()
		d.listener.Close()
		d.listener = nil
		if err != nil {
			return nil, fmt.Errorf("failed to accept data connection: %w", err)
		}
		d.conn = c.attach("data", raw, c.secureData())
		c.trackData(d.conn)
	}

	if err := c.handshake(d.conn); err != nil {
		return nil, fmt.Errorf("data connection: %w", err)
	}
	return &deadlineConn{Conn: d.conn, timeout: c.timeout}, nil
}

// cmdDataConn sends a command that transfers over a data connection and
// returns the established connection. The caller copies data and then calls
// finishDataConn. A nil connection with a nil error means the server
// completed the command without using the channel.
func (c *Client) cmdDataConn(cmd string, args ...string) (net.Conn, error) {
	d, err := c.openDataChannel()
	if err != nil {
		return nil, err
	}

	resp, err := c.sendCommand(cmd, args...)
	if err != nil {
		d.close()
		c.trackData(nil)
		return nil, err
	}

	switch {
	case resp.Is1xx():
	case resp.Is2xx():
		d.close()
		c.trackData(nil)
		return nil, nil
	default:
		d.close()
		c.trackData(nil)
		return nil, resp.err(cmd)
	}

	conn, err := c.establish(d)
	if err != nil {
		d.close()
		c.trackData(nil)
		// The server still sends a completion reply for the failed transfer.
		_, _ = c.readReply()
		return nil, err
	}
	return conn, nil
}

// finishDataConn closes the data connection and reads the final response.
func (c *Client) finishDataConn(cmd string, conn net.Conn) error {
	_ = conn.Close()
	c.trackData(nil)

	resp, err := c.readReply()
	if err != nil {
		return fmt.Errorf("failed to read completion response: %w", err)
	}
	c.logger.Debug("ftp data transfer complete", "code", resp.Code, "message", resp.Message)

	if !resp.Is2xx() {
		return resp.err(cmd)
	}
	return nil
}

func (c *Client) trackData(conn net.Conn) {
	c.dataMu.Lock()
	c.activeData = conn
	c.dataMu.Unlock()
}
