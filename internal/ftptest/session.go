package ftptest

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
)

const dataTimeout = 10 * time.Second

type session struct {
	server *Server
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	loggedIn   bool
	user       string
	cwd        string
	renameFrom string
	prot       string

	pasvList   net.Listener
	activeAddr string
}

// commandHandlers maps FTP commands to their handlers.
// USER, PASS, QUIT and the security commands work before login.
var commandHandlers = map[string]func(*session, string){
	"CWD":  (*session).handleCWD,
	"PWD":  (*session).handlePWD,
	"NLST": (*session).handleNLST,
	"MKD":  (*session).handleMKD,
	"RMD":  (*session).handleRMD,
	"DELE": (*session).handleDELE,
	"RNFR": (*session).handleRNFR,
	"RNTO": (*session).handleRNTO,
	"RETR": (*session).handleRETR,
	"STOR": (*session).handleSTOR,
	"TYPE": (*session).handleTYPE,
	"PASV": (*session).handlePASV,
	"EPSV": (*session).handleEPSV,
	"PORT": (*session).handlePORT,
	"EPRT": (*session).handleEPRT,
}

func newSession(server *Server, conn net.Conn) *session {
	s := &session{
		server: server,
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		cwd:    "/",
		prot:   "C",
	}
	if server.implicit {
		s.prot = "P"
	}
	return s
}

func (s *session) serve() {
	defer s.close()

	s.sendWelcome()
	if s.server.implicit {
		s.server.recordConn("control", s.conn)
	}

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err != io.EOF && s.server.ctx.Err() == nil {
				s.server.logger.Debug("read error", "error", err)
			}
			return
		}
		line = strings.TrimRight(line, "\r\n")
		s.server.record(line)

		if !s.handleCommand(line) {
			return
		}
	}
}

func (s *session) close() {
	if s.pasvList != nil {
		_ = s.pasvList.Close()
	}
	_ = s.conn.Close()
}

func (s *session) sendWelcome() {
	lines := strings.Split(s.server.welcome, "\n")
	for i, l := range lines {
		if i < len(lines)-1 {
			fmt.Fprintf(s.writer, "220-%s\r\n", l)
		} else {
			fmt.Fprintf(s.writer, "220 %s\r\n", l)
		}
	}
	_ = s.writer.Flush()
}

// handleCommand runs one command line and reports whether the session
// should continue.
func (s *session) handleCommand(line string) bool {
	verb, arg, _ := strings.Cut(line, " ")
	verb = strings.ToUpper(verb)

	target := arg
	if verb != "USER" && verb != "PASS" && verb != "TYPE" && arg != "" {
		target = s.resolve(arg)
	}
	if f, ok := s.server.failureFor(verb, target); ok {
		s.reply(f.code, f.message)
		return true
	}

	switch verb {
	case "USER":
		s.user = arg
		s.loggedIn = false
		s.reply(331, "Please specify the password.")
		return true
	case "PASS":
		s.handlePASS(arg)
		return true
	case "QUIT":
		s.reply(221, "Goodbye.")
		return false
	case "NOOP":
		s.reply(200, "NOOP ok.")
		return true
	case "SYST":
		s.reply(215, "UNIX Type: L8")
		return true
	case "AUTH":
		s.handleAUTH(arg)
		return true
	case "PBSZ":
		s.handlePBSZ(arg)
		return true
	case "PROT":
		s.handlePROT(arg)
		return true
	}

	handler, ok := commandHandlers[verb]
	if !ok {
		s.reply(502, "Command not implemented.")
		return true
	}
	if !s.loggedIn {
		s.reply(530, "Please login with USER and PASS.")
		return true
	}
	handler(s, arg)
	return true
}

func (s *session) handlePASS(arg string) {
	if s.user == "" {
		s.reply(503, "Login with USER first.")
		return
	}
	if s.user != s.server.user || arg != s.server.password {
		s.reply(530, "Login incorrect.")
		return
	}
	s.loggedIn = true
	s.reply(230, "Login successful.")
}

func (s *session) handleAUTH(arg string) {
	if s.server.tlsConfig == nil || s.server.implicit {
		s.reply(502, "TLS not configured.")
		return
	}
	if strings.ToUpper(arg) != "TLS" {
		s.reply(504, "Only AUTH TLS is supported.")
		return
	}
	s.reply(234, "AUTH TLS successful.")

	tlsConn := tls.Server(s.conn, s.server.tlsConfig)
	_ = tlsConn.SetDeadline(time.Now().Add(dataTimeout))
	if err := tlsConn.Handshake(); err != nil {
		s.server.logger.Debug("control TLS handshake failed", "error", err)
		_ = tlsConn.Close()
		return
	}
	_ = tlsConn.SetDeadline(time.Time{})
	s.server.recordConn("control", tlsConn)

	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	s.writer = bufio.NewWriter(tlsConn)
}

func (s *session) handlePBSZ(string) {
	if s.server.tlsConfig == nil {
		s.reply(502, "TLS not configured.")
		return
	}
	s.reply(200, "PBSZ=0")
}

func (s *session) handlePROT(arg string) {
	if s.server.tlsConfig == nil {
		s.reply(502, "TLS not configured.")
		return
	}
	switch strings.ToUpper(arg) {
	case "P", "C":
		s.prot = strings.ToUpper(arg)
		s.reply(200, "PROT "+s.prot+" OK.")
	default:
		s.reply(504, "PROT not implemented.")
	}
}

func (s *session) handleTYPE(arg string) {
	switch strings.ToUpper(arg) {
	case "A", "I", "L 8":
		s.reply(200, "Type set to "+strings.ToUpper(arg)+".")
	default:
		s.reply(504, "Type not implemented.")
	}
}

func (s *session) resolve(p string) string {
	if !path.IsAbs(p) {
		p = path.Join(s.cwd, p)
	}
	return path.Clean(p)
}

func (s *session) isDir(p string) bool {
	info, err := s.server.fs.Stat(p)
	return err == nil && info.IsDir()
}

func (s *session) handleCWD(arg string) {
	p := s.resolve(arg)
	if !s.isDir(p) {
		s.reply(550, "Failed to change directory: no such directory.")
		return
	}
	s.cwd = p
	s.reply(250, "Directory successfully changed.")
}

func (s *session) handlePWD(string) {
	s.reply(257, fmt.Sprintf("%q is the current directory", s.cwd))
}

func (s *session) handleMKD(arg string) {
	p := s.resolve(arg)
	if _, err := s.server.fs.Stat(p); err == nil {
		s.reply(550, "Directory already exists.")
		return
	}
	// Parents are required; the in-memory filesystem would create them.
	if !s.isDir(path.Dir(p)) {
		s.reply(550, "No such file or directory.")
		return
	}
	if err := s.server.fs.Mkdir(p, 0o755); err != nil {
		s.replyError(err)
		return
	}
	s.reply(257, fmt.Sprintf("%q created.", p))
}

func (s *session) handleRMD(arg string) {
	p := s.resolve(arg)
	if !s.isDir(p) {
		s.reply(550, "No such directory.")
		return
	}
	entries, err := afero.ReadDir(s.server.fs, p)
	if err != nil {
		s.replyError(err)
		return
	}
	if len(entries) > 0 {
		s.reply(550, "Directory not empty.")
		return
	}
	if err := s.server.fs.Remove(p); err != nil {
		s.replyError(err)
		return
	}
	s.reply(250, "Directory removed.")
}

func (s *session) handleDELE(arg string) {
	p := s.resolve(arg)
	info, err := s.server.fs.Stat(p)
	if err != nil {
		s.replyError(err)
		return
	}
	if info.IsDir() {
		s.reply(550, "Is a directory.")
		return
	}
	if err := s.server.fs.Remove(p); err != nil {
		s.replyError(err)
		return
	}
	s.reply(250, "Delete operation successful.")
}

func (s *session) handleRNFR(arg string) {
	p := s.resolve(arg)
	if _, err := s.server.fs.Stat(p); err != nil {
		s.replyError(err)
		return
	}
	s.renameFrom = p
	s.reply(350, "Ready for RNTO.")
}

func (s *session) handleRNTO(arg string) {
	from := s.renameFrom
	s.renameFrom = ""
	if from == "" {
		s.reply(503, "Bad sequence of commands. Send RNFR first.")
		return
	}

	to := s.resolve(arg)
	if _, err := s.server.fs.Stat(to); err == nil {
		s.reply(553, "File exists.")
		return
	}
	if !s.isDir(path.Dir(to)) {
		s.reply(550, "No such file or directory.")
		return
	}
	if err := s.server.fs.Rename(from, to); err != nil {
		s.replyError(err)
		return
	}
	s.reply(250, "Rename successful.")
}

func (s *session) handleNLST(arg string) {
	p := s.cwd
	if arg != "" {
		p = s.resolve(arg)
	}

	info, err := s.server.fs.Stat(p)
	if err != nil {
		s.replyError(err)
		return
	}

	var names []string
	if info.IsDir() {
		entries, err := afero.ReadDir(s.server.fs, p)
		if err != nil {
			s.replyError(err)
			return
		}
		for _, e := range entries {
			names = append(names, e.Name())
		}
	} else {
		names = []string{arg}
	}

	s.transfer("NLST", func(conn net.Conn) error {
		w := bufio.NewWriter(conn)
		for _, name := range names {
			fmt.Fprintf(w, "%s\r\n", name)
		}
		return w.Flush()
	})
}

func (s *session) handleRETR(arg string) {
	p := s.resolve(arg)
	info, err := s.server.fs.Stat(p)
	if err != nil {
		s.replyError(err)
		return
	}
	if info.IsDir() {
		s.reply(550, "Not a plain file.")
		return
	}
	file, err := s.server.fs.Open(p)
	if err != nil {
		s.replyError(err)
		return
	}
	defer file.Close()

	s.transfer("RETR", func(conn net.Conn) error {
		_, err := io.Copy(conn, file)
		return err
	})
}

func (s *session) handleSTOR(arg string) {
	p := s.resolve(arg)
	if !s.isDir(path.Dir(p)) {
		s.reply(550, "No such file or directory.")
		return
	}
	if s.isDir(p) {
		s.reply(550, "Is a directory.")
		return
	}
	file, err := s.server.fs.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		s.replyError(err)
		return
	}
	defer file.Close()

	s.transfer("STOR", func(conn net.Conn) error {
		_, err := io.Copy(file, conn)
		return err
	})
}

// transfer announces the transfer with 150, then opens the data connection
// (including any TLS handshake), runs fn and sends the final reply.
func (s *session) transfer(cmd string, fn func(net.Conn) error) {
	s.reply(150, "Opening data connection for "+cmd+".")

	conn, err := s.connData()
	if err != nil {
		s.server.logger.Debug("data connection failed", "cmd", cmd, "error", err)
		s.reply(425, "Can't open data connection.")
		return
	}

	err = fn(conn)
	_ = conn.Close()
	if err != nil {
		s.server.logger.Debug("transfer failed", "cmd", cmd, "error", err)
		s.reply(426, "Connection closed; transfer aborted.")
		return
	}
	s.reply(226, "Transfer complete.")
}

func (s *session) connData() (net.Conn, error) {
	var (
		conn net.Conn
		err  error
	)
	switch {
	case s.pasvList != nil:
		if tl, ok := s.pasvList.(*net.TCPListener); ok {
			_ = tl.SetDeadline(time.Now().Add(dataTimeout))
		}
		conn, err = s.pasvList.Accept()
		_ = s.pasvList.Close()
		s.pasvList = nil
	case s.activeAddr != "":
		conn, err = net.DialTimeout("tcp", s.activeAddr, dataTimeout)
		s.activeAddr = ""
	default:
		return nil, errors.New("no data connection setup")
	}
	if err != nil {
		return nil, err
	}

	_ = conn.SetDeadline(time.Now().Add(dataTimeout))
	if s.prot == "P" {
		// RFC 4217: the FTP server acts as the TLS server.
		tlsConn := tls.Server(conn, s.server.tlsConfig)
		if err := tlsConn.Handshake(); err != nil {
			_ = conn.Close()
			s.server.recordConn("data", conn)
			return nil, fmt.Errorf("data TLS handshake: %w", err)
		}
		conn = tlsConn
	}
	s.server.recordConn("data", conn)
	return conn, nil
}

func (s *session) listenPassive() (net.Listener, error) {
	if s.pasvList != nil {
		_ = s.pasvList.Close()
		s.pasvList = nil
	}
	host, _, _ := net.SplitHostPort(s.conn.LocalAddr().String())
	return net.Listen("tcp", net.JoinHostPort(host, "0"))
}

func (s *session) handlePASV(string) {
	ln, err := s.listenPassive()
	if err != nil {
		s.reply(425, "Can't open passive connection.")
		return
	}
	addr := ln.Addr().(*net.TCPAddr)
	ip := addr.IP.To4()
	if ip == nil {
		_ = ln.Close()
		s.reply(425, "Can't open passive connection.")
		return
	}
	s.pasvList = ln
	s.reply(227, fmt.Sprintf("Entering Passive Mode (%d,%d,%d,%d,%d,%d).",
		ip[0], ip[1], ip[2], ip[3], addr.Port/256, addr.Port%256))
}

func (s *session) handleEPSV(string) {
	if s.server.noEPSV {
		s.reply(502, "EPSV not implemented.")
		return
	}
	ln, err := s.listenPassive()
	if err != nil {
		s.reply(425, "Can't open passive connection.")
		return
	}
	s.pasvList = ln
	s.reply(229, fmt.Sprintf("Entering Extended Passive Mode (|||%d|)", ln.Addr().(*net.TCPAddr).Port))
}

func (s *session) handlePORT(arg string) {
	parts := strings.Split(arg, ",")
	if len(parts) != 6 {
		s.reply(501, "Syntax error in parameters or arguments.")
		return
	}
	p1, err1 := strconv.Atoi(parts[4])
	p2, err2 := strconv.Atoi(parts[5])
	if err1 != nil || err2 != nil || p1 < 0 || p1 > 255 || p2 < 0 || p2 > 255 {
		s.reply(501, "Invalid port number.")
		return
	}
	ip := net.ParseIP(strings.Join(parts[:4], "."))
	if ip == nil {
		s.reply(501, "Invalid IP address.")
		return
	}
	s.activeAddr = net.JoinHostPort(ip.String(), strconv.Itoa(p1*256+p2))
	s.reply(200, "PORT command successful.")
}

func (s *session) handleEPRT(arg string) {
	if len(arg) < 4 {
		s.reply(501, "Syntax error in parameters or arguments.")
		return
	}
	// |proto|addr|port|
	parts := strings.Split(arg, arg[:1])
	if len(parts) != 5 {
		s.reply(501, "Syntax error in parameters or arguments.")
		return
	}
	ip := net.ParseIP(parts[2])
	port, err := strconv.Atoi(parts[3])
	if ip == nil || err != nil || port < 1 || port > 65535 {
		s.reply(501, "Invalid EPRT address.")
		return
	}
	s.activeAddr = net.JoinHostPort(ip.String(), parts[3])
	s.reply(200, "EPRT command successful.")
}

// replyError maps filesystem errors to 550 replies.
func (s *session) replyError(err error) {
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.reply(550, "File not found.")
	case errors.Is(err, os.ErrPermission):
		s.reply(550, "Permission denied.")
	case errors.Is(err, os.ErrExist):
		s.reply(550, "File already exists.")
	default:
		s.reply(550, "Action failed: "+err.Error())
	}
}

func (s *session) reply(code int, message string) {
	fmt.Fprintf(s.writer, "%d %s\r\n", code, message)
	_ = s.writer.Flush()
}
