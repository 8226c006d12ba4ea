// Package ftp implements the FTP client used by ftpstore, with support for
// plain and secure (FTPS) connections.
//
// # Overview
//
// The client supports:
//   - Plain FTP connections
//   - Explicit TLS (FTPS with AUTH TLS)
//   - Implicit TLS (FTPS on port 990)
//   - Passive (EPSV, PASV) and active (PORT, EPRT) data connections
//   - TLS session reuse for data connections
//   - Bandwidth limiting and cancellation through context.Context
//
// # Basic Usage
//
//	client, err := ftp.Dial(ctx, "ftp.example.com:21")
//	if err != nil {
//	    return err
//	}
//	defer client.Quit()
//
//	if err := client.Login("username", "password"); err != nil {
//	    return err
//	}
//
// # TLS Support
//
// Explicit TLS: the client connects in plaintext and upgrades with AUTH TLS.
// Call ProtectData after Login to encrypt data connections as well:
//
//	client, err := ftp.Dial(ctx, "ftp.example.com:21",
//	    ftp.WithExplicitTLS(&tls.Config{ServerName: "ftp.example.com"}),
//	)
//
// Implicit TLS: every socket the client attaches, the control connection and
// each data connection, is TLS from its first byte:
//
//	client, err := ftp.Dial(ctx, "ftp.example.com:990",
//	    ftp.WithImplicitTLS(&tls.Config{ServerName: "ftp.example.com"}),
//	)
//
// Data connection handshakes run once the server has answered the transfer
// command with a preliminary reply, which is when servers start serving the
// data socket.
//
// # File Transfers
//
//	n, err := client.Store("remote.bin", bytes.NewReader(payload))
//
//	var buf bytes.Buffer
//	n, err = client.Retrieve("remote.bin", &buf)
//
// # Error Handling
//
// Negative replies are returned as *ProtocolError, carrying the command, the
// reply code and its text. IsNotExist, IsExist, IsPermission and
// IsUnavailable classify them:
//
//	if err := client.Delete("old.txt"); ftp.IsNotExist(err) {
//	    // already gone
//	}
package ftp
