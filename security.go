package ftpstore

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
)

// Security is a TLS version preference for implicit TLS connections.
type Security string

const (
	SecurityTLS    Security = "tls"
	SecurityTLSv1  Security = "tlsv1"
	SecurityTLSv11 Security = "tlsv1_1"
	SecurityTLSv12 Security = "tlsv1_2"
	SecurityTLSv13 Security = "tlsv1_3"
	SecuritySSLv2  Security = "sslv2"
	SecuritySSLv23 Security = "sslv23"
	SecuritySSLv3  Security = "sslv3"
)

type securityEntry struct {
	// version pins both ends of the handshake; zero negotiates.
	version uint16

	// disabled, when set, is why the preference is refused.
	disabled string
}

var securityTable = map[Security]securityEntry{
	SecurityTLS:    {},
	SecuritySSLv23: {},
	SecurityTLSv1:  {version: tls.VersionTLS10},
	SecurityTLSv11: {version: tls.VersionTLS11},
	SecurityTLSv12: {version: tls.VersionTLS12},
	SecurityTLSv13: {version: tls.VersionTLS13},
	SecuritySSLv2:  {disabled: "sslv2 has been deprecated due to security issues"},
	SecuritySSLv3:  {disabled: "sslv3 has been deprecated due to security issues"},
}

// ParseSecurity parses a security preference. Disabled preferences parse
// successfully and are refused when a session is opened.
func ParseSecurity(s string) (Security, error) {
	sec := Security(strings.ToLower(strings.TrimSpace(s)))
	if sec == "" {
		return SecurityTLS, nil
	}
	if _, ok := securityTable[sec]; !ok {
		return "", configErrorf("unknown security %q", s)
	}
	return sec, nil
}

// ProtocolChoice is the TLS version policy applied to a session.
// The zero value leaves negotiation to crypto/tls.
type ProtocolChoice struct {
	Version uint16
}

// Pinned reports whether a single TLS version is enforced.
func (p ProtocolChoice) Pinned() bool {
	return p.Version != 0
}

// Apply sets cfg's version bounds.
func (p ProtocolChoice) Apply(cfg *tls.Config) {
	if !p.Pinned() {
		return
	}
	cfg.MinVersion = p.Version
	cfg.MaxVersion = p.Version
}

func (p ProtocolChoice) String() string {
	if !p.Pinned() {
		return "negotiate"
	}
	return tls.VersionName(p.Version)
}

// ResolveSecurity maps a security preference to a protocol choice. It is
// only consulted for implicit TLS; every other mode gets the zero choice.
// Disabled and unknown preferences fail with ErrConfiguration.
func ResolveSecurity(enc Encryption, sec Security) (ProtocolChoice, error) {
	if enc != EncryptionImplicitTLS {
		return ProtocolChoice{}, nil
	}
	if sec == "" {
		sec = SecurityTLS
	}

	entry, ok := securityTable[sec]
	if !ok {
		return ProtocolChoice{}, newError("security", string(sec), ErrConfiguration, fmt.Errorf("unknown security preference"))
	}
	if entry.disabled != "" {
		return ProtocolChoice{}, newError("security", string(sec), ErrConfiguration, errors.New(entry.disabled))
	}
	return ProtocolChoice{Version: entry.version}, nil
}
