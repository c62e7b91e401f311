package identity

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selfSigned(t *testing.T, cn string) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

var remote = &net.TCPAddr{IP: net.IPv4(10, 0, 0, 7), Port: 8443}

func TestDeriveSecure(t *testing.T) {
	cert := selfSigned(t, "sensor.cloud.company.arrowhead.eu")
	sys, err := Derive(&tls.ConnectionState{PeerCertificates: []*x509.Certificate{cert}}, remote, "ignored")
	require.NoError(t, err)

	assert.True(t, sys.IsSecure())
	assert.Equal(t, "sensor", sys.Name())
	assert.Equal(t, remote, sys.Addr())

	key, err := sys.PublicKey()
	require.NoError(t, err)
	assert.Equal(t, cert.PublicKey, key)

	encoded, err := sys.PublicKeyBase64()
	require.NoError(t, err)
	der, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	parsed, err := x509.ParsePKIXPublicKey(der)
	require.NoError(t, err)
	assert.True(t, cert.PublicKey.(*ecdsa.PublicKey).Equal(parsed))
}

func TestDeriveInsecure(t *testing.T) {
	sys, err := Derive(nil, remote, "consumer")
	require.NoError(t, err)
	assert.False(t, sys.IsSecure())
	assert.Equal(t, "consumer", sys.Name())

	_, err = sys.PublicKey()
	assert.ErrorIs(t, err, ErrInsecure)
	_, err = sys.Certificate()
	assert.ErrorIs(t, err, ErrInsecure)

	sys, err = Derive(&tls.ConnectionState{}, remote, "")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.7", sys.Name())
}

func TestDeriveRequiresAddress(t *testing.T) {
	_, err := Derive(nil, nil, "x")
	assert.ErrorIs(t, err, ErrNoAddress)

	cert := selfSigned(t, "a.b")
	_, err = FromChain([]*x509.Certificate{cert}, nil)
	assert.ErrorIs(t, err, ErrNoAddress)
}

func TestFromChainRejectsUnnamedCertificate(t *testing.T) {
	_, err := FromChain(nil, remote)
	assert.ErrorIs(t, err, ErrNoCertificate)

	_, err = FromChain([]*x509.Certificate{selfSigned(t, "")}, remote)
	assert.ErrorIs(t, err, ErrNoName)
}

func TestChainIsCopied(t *testing.T) {
	chain := []*x509.Certificate{selfSigned(t, "leaf.c"), selfSigned(t, "root.c")}
	sys, err := FromChain(chain, remote)
	require.NoError(t, err)
	chain[0] = nil

	got, err := sys.Chain()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.NotNil(t, got[0])
	assert.Equal(t, "leaf", sys.Name())
}
