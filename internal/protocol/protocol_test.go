package protocol

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMethodClassification(t *testing.T) {
	tests := []struct {
		method     Method
		standard   bool
		safe       bool
		idempotent bool
	}{
		{MethodGet, true, true, true},
		{MethodHead, true, true, true},
		{MethodOptions, true, true, true},
		{MethodTrace, true, true, true},
		{MethodPut, true, false, true},
		{MethodDelete, true, false, true},
		{MethodPost, true, false, false},
		{MethodPatch, true, false, false},
		{MethodConnect, true, false, false},
		{Method("PURGE"), false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.method.String(), func(t *testing.T) {
			assert.Equal(t, tt.standard, tt.method.IsStandard())
			assert.Equal(t, tt.safe, tt.method.IsSafe())
			assert.Equal(t, tt.idempotent, tt.method.IsIdempotent())
		})
	}
}

func TestParseMethod(t *testing.T) {
	m, ok := ParseMethod("MKCOL")
	require.True(t, ok)
	assert.False(t, m.IsStandard())

	_, ok = ParseMethod("GE T")
	assert.False(t, ok)
	_, ok = ParseMethod("")
	assert.False(t, ok)

	// case sensitive
	m, ok = ParseMethod("get")
	require.True(t, ok)
	assert.False(t, m.IsStandard())
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("HTTP/1.1")
	require.NoError(t, err)
	assert.Equal(t, Version1_1, v)
	assert.True(t, v.KeepAliveByDefault())
	assert.False(t, Version1_0.KeepAliveByDefault())

	_, err = ParseVersion("HTTP/11")
	assert.ErrorIs(t, err, ErrMalformedMessage)
	_, err = ParseVersion("SPDY/3.0")
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestCheckOutgoing(t *testing.T) {
	assert.NoError(t, Version1_0.CheckOutgoing())
	assert.NoError(t, Version1_1.CheckOutgoing())
	assert.ErrorIs(t, Version{Major: 2}.CheckOutgoing(), ErrUnsupportedVersion)
}

func TestHeaders(t *testing.T) {
	var h Headers
	h.Add("Content-Type", "application/json")
	h.Add("Accept", "text/plain")
	h.Add("accept", "application/json;q=0.5")

	v, ok := h.Get("content-type")
	require.True(t, ok)
	assert.Equal(t, "application/json", v)
	assert.Equal(t, []string{"text/plain", "application/json;q=0.5"}, h.Values("ACCEPT"))

	h.Set("Accept", "*/*")
	assert.Equal(t, []string{"*/*"}, h.Values("accept"))

	h.Add("Connection", "keep-alive, Upgrade")
	assert.True(t, h.HasToken("connection", "upgrade"))
	assert.False(t, h.HasToken("connection", "close"))

	clone := h.Clone()
	h.Del("connection")
	assert.False(t, h.Has("connection"))
	assert.True(t, clone.Has("connection"))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindRouting, KindOf(fmt.Errorf("lookup: %w", ErrNoService)))
	assert.Equal(t, KindNegotiation, KindOf(ErrUnsupportedEncoding))
	assert.Equal(t, KindContract, KindOf(ErrStatusNotSet))
	assert.Equal(t, KindHandler, KindOf(errors.New("database down")))
	assert.Equal(t, KindTransport, KindOf(NewError(KindTransport, "read", errors.New("reset"))))

	assert.Equal(t, StatusNotFound, KindRouting.Status())
	assert.Equal(t, StatusUnsupportedMediaType, KindNegotiation.Status())
	assert.Equal(t, StatusInternalServerError, KindContract.Status())
	assert.Equal(t, Status(0), KindTransport.Status())
}

func TestStatus(t *testing.T) {
	assert.Equal(t, "404 Not Found", StatusNotFound.String())
	assert.Equal(t, "299", Status(299).String())
	assert.False(t, StatusNoContent.PermitsBody())
	assert.True(t, StatusOK.PermitsBody())
}
