// Package identity describes the system on the other end of a connection,
// either by its verified certificate chain or, in insecure mode, by name
// and address alone.
package identity

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	ErrNoAddress     = errors.New("identity: remote address missing")
	ErrNoCertificate = errors.New("identity: empty certificate chain")
	ErrNoName        = errors.New("identity: certificate has no usable common name")
	ErrInsecure      = errors.New("identity: system has no certificate identity")
)

// System is an immutable description of a peer.
type System struct {
	name      string
	addr      net.Addr
	chain     []*x509.Certificate
	publicKey crypto.PublicKey
}

// FromChain builds a verified identity. The chain must already have been
// verified by the TLS layer; the leaf comes first.
func FromChain(chain []*x509.Certificate, addr net.Addr) (*System, error) {
	if addr == nil {
		return nil, ErrNoAddress
	}
	if len(chain) == 0 {
		return nil, ErrNoCertificate
	}
	name, err := NameOf(chain[0])
	if err != nil {
		return nil, err
	}
	cp := make([]*x509.Certificate, len(chain))
	copy(cp, chain)
	return &System{name: name, addr: addr, chain: cp, publicKey: chain[0].PublicKey}, nil
}

// Insecure builds a name-only identity. An empty name is replaced by the
// host part of addr.
func Insecure(name string, addr net.Addr) (*System, error) {
	if addr == nil {
		return nil, ErrNoAddress
	}
	if name == "" {
		name = hostOf(addr)
	}
	return &System{name: name, addr: addr}, nil
}

// Derive picks FromChain when the TLS session carries peer certificates
// and Insecure otherwise.
func Derive(state *tls.ConnectionState, addr net.Addr, name string) (*System, error) {
	if state != nil && len(state.PeerCertificates) > 0 {
		return FromChain(state.PeerCertificates, addr)
	}
	return Insecure(name, addr)
}

// NameOf extracts the system name from an Arrowhead certificate, whose
// common name reads "<system>.<cloud>.<company>.arrowhead.eu".
func NameOf(cert *x509.Certificate) (string, error) {
	cn := strings.TrimSpace(cert.Subject.CommonName)
	name, _, _ := strings.Cut(cn, ".")
	if name == "" {
		return "", fmt.Errorf("%w: %q", ErrNoName, cn)
	}
	return name, nil
}

func hostOf(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func (s *System) Name() string   { return s.name }
func (s *System) Addr() net.Addr { return s.addr }
func (s *System) IsSecure() bool { return len(s.chain) > 0 }

// Chain returns a copy of the certificate chain, leaf first.
func (s *System) Chain() ([]*x509.Certificate, error) {
	if !s.IsSecure() {
		return nil, ErrInsecure
	}
	cp := make([]*x509.Certificate, len(s.chain))
	copy(cp, s.chain)
	return cp, nil
}

func (s *System) Certificate() (*x509.Certificate, error) {
	if !s.IsSecure() {
		return nil, ErrInsecure
	}
	return s.chain[0], nil
}

func (s *System) PublicKey() (crypto.PublicKey, error) {
	if !s.IsSecure() {
		return nil, ErrInsecure
	}
	return s.publicKey, nil
}

// PublicKeyBase64 is the standard base64 of the PKIX DER form of the
// public key, as published in service records.
func (s *System) PublicKeyBase64() (string, error) {
	key, err := s.PublicKey()
	if err != nil {
		return "", err
	}
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return "", fmt.Errorf("identity: marshal public key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

func (s *System) String() string {
	mode := "insecure"
	if s.IsSecure() {
		mode = "secure"
	}
	return fmt.Sprintf("%s@%s (%s)", s.name, s.addr, mode)
}
