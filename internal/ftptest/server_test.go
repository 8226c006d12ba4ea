package ftptest

import (
	"net/textproto"
	"slices"
	"testing"

	"github.com/spf13/afero"
)

func dial(t *testing.T, s *Server) *textproto.Conn {
	t.Helper()
	conn, err := textproto.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if _, _, err := conn.ReadResponse(220); err != nil {
		t.Fatalf("greeting: %v", err)
	}
	return conn
}

func cmd(t *testing.T, conn *textproto.Conn, expect int, format string, args ...any) string {
	t.Helper()
	id, err := conn.Cmd(format, args...)
	if err != nil {
		t.Fatalf("send %q: %v", format, err)
	}
	conn.StartResponse(id)
	defer conn.EndResponse(id)
	code, msg, err := conn.ReadResponse(expect)
	if err != nil {
		t.Fatalf("%s: got %d %q, want %d", format, code, msg, expect)
	}
	return msg
}

func login(t *testing.T, conn *textproto.Conn) {
	t.Helper()
	cmd(t, conn, 331, "USER %s", DefaultUser)
	cmd(t, conn, 230, "PASS %s", DefaultPassword)
}

func TestServer_LoginRequired(t *testing.T) {
	t.Parallel()
	s := Start(t)
	conn := dial(t, s)

	cmd(t, conn, 530, "PWD")
	cmd(t, conn, 331, "USER %s", DefaultUser)
	cmd(t, conn, 530, "PASS wrong")
	cmd(t, conn, 331, "USER %s", DefaultUser)
	cmd(t, conn, 230, "PASS %s", DefaultPassword)
	cmd(t, conn, 257, "PWD")
	cmd(t, conn, 502, "SITE CHMOD 777 x")

	want := []string{"PWD", "USER user", "PASS ***", "USER user", "PASS ***", "PWD", "SITE CHMOD 777 x"}
	if got := s.Commands(); !slices.Equal(got, want) {
		t.Errorf("Commands = %q, want %q", got, want)
	}
}

func TestServer_Directories(t *testing.T) {
	t.Parallel()
	s := Start(t)
	conn := dial(t, s)
	login(t, conn)

	cmd(t, conn, 550, "MKD /a/b")
	cmd(t, conn, 257, "MKD /a")
	cmd(t, conn, 250, "CWD /a")
	cmd(t, conn, 257, "MKD b")
	msg := cmd(t, conn, 550, "MKD /a/b")
	if msg != "Directory already exists." {
		t.Errorf("MKD existing = %q", msg)
	}

	cmd(t, conn, 257, "PWD")
	cmd(t, conn, 250, "CWD /a/b")
	cmd(t, conn, 550, "CWD /nope")
	cmd(t, conn, 550, "RMD /a")
	cmd(t, conn, 250, "RMD /a/b")

	if ok, _ := afero.DirExists(s.Fs(), "/a/b"); ok {
		t.Error("/a/b still exists")
	}
}

func TestServer_Rename(t *testing.T) {
	t.Parallel()
	s := Start(t)
	if err := afero.WriteFile(s.Fs(), "/from.txt", []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(s.Fs(), "/taken.txt", []byte("y"), 0o644); err != nil {
		t.Fatal(err)
	}
	conn := dial(t, s)
	login(t, conn)

	cmd(t, conn, 503, "RNTO /to.txt")
	cmd(t, conn, 350, "RNFR /from.txt")
	cmd(t, conn, 553, "RNTO /taken.txt")
	cmd(t, conn, 350, "RNFR /from.txt")
	cmd(t, conn, 250, "RNTO /to.txt")
	cmd(t, conn, 550, "DELE /from.txt")
	cmd(t, conn, 250, "DELE /to.txt")
}

func TestServer_Fail(t *testing.T) {
	t.Parallel()
	s := Start(t)
	s.FailPath("DELE", "/locked.txt", 550, "Permission denied.")
	s.Fail("NOOP", 421, "Going away.")
	if err := afero.WriteFile(s.Fs(), "/locked.txt", []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	conn := dial(t, s)
	login(t, conn)

	cmd(t, conn, 421, "NOOP")
	msg := cmd(t, conn, 550, "DELE locked.txt")
	if msg != "Permission denied." {
		t.Errorf("DELE = %q", msg)
	}

	s.Reset()
	cmd(t, conn, 200, "NOOP")
	cmd(t, conn, 250, "DELE /locked.txt")
}

func TestServer_WithoutEPSV(t *testing.T) {
	t.Parallel()
	s := Start(t, WithoutEPSV())
	conn := dial(t, s)
	login(t, conn)

	cmd(t, conn, 502, "EPSV")
	cmd(t, conn, 227, "PASV")
}

func TestServer_AuthWithoutTLS(t *testing.T) {
	t.Parallel()
	s := Start(t)
	conn := dial(t, s)

	cmd(t, conn, 502, "AUTH TLS")
	cmd(t, conn, 502, "PBSZ 0")
}

func TestServer_Close(t *testing.T) {
	t.Parallel()
	s, err := New(WithWelcome("one\ntwo"))
	if err != nil {
		t.Fatal(err)
	}
	conn, err := textproto.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	_, msg, err := conn.ReadResponse(220)
	if err != nil {
		t.Fatal(err)
	}
	if msg != "one\ntwo" {
		t.Errorf("welcome = %q", msg)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := conn.ReadLine(); err == nil {
		t.Error("connection still open after Close")
	}
}

func TestOptions_Nil(t *testing.T) {
	t.Parallel()
	for _, opt := range []Option{WithFs(nil), WithTLS(nil), WithImplicitTLS(nil)} {
		if _, err := New(opt); err == nil {
			t.Error("nil option value accepted")
		}
	}
}
