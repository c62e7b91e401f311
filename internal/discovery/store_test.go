package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"arrowhead-go/internal/codec"
	"arrowhead-go/internal/identity"
	"arrowhead-go/internal/protocol"
	"arrowhead-go/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "test:", 10*time.Second, nil), mr
}

func record(name, provider string) Record {
	return Record{
		Name:      name,
		URI:       "/" + name,
		Encodings: []string{"JSON"},
		Version:   1,
		Provider:  Provider{Name: provider, Address: provider + ":8443"},
	}
}

func TestPublishAndLookup(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Publish(ctx, record("temperature", "beta")))
	require.NoError(t, store.Publish(ctx, record("temperature", "alpha")))
	require.NoError(t, store.Publish(ctx, record("humidity", "alpha")))

	got, err := store.Lookup(ctx, "temperature")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "alpha", got[0].Provider.Name)
	assert.Equal(t, "beta", got[1].Provider.Name)
	assert.Equal(t, []codec.Encoding{codec.JSON}, got[0].ParsedEncodings())

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "humidity", all[0].Name)

	_, err = store.Lookup(ctx, "pressure")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPublishReplacesRecord(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	rec := record("temperature", "alpha")
	require.NoError(t, store.Publish(ctx, rec))
	rec.Version = 2
	require.NoError(t, store.Publish(ctx, rec))

	got, err := store.Lookup(ctx, "temperature")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Version)
}

func TestRecordsExpire(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Publish(ctx, record("temperature", "alpha")))
	mr.FastForward(5 * time.Second)
	require.NoError(t, store.Publish(ctx, record("temperature", "beta")))
	mr.FastForward(6 * time.Second)

	got, err := store.Lookup(ctx, "temperature")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "beta", got[0].Provider.Name)

	members, err := mr.Members("test:service:temperature:providers")
	require.NoError(t, err)
	assert.Equal(t, []string{"beta"}, members, "expired provider pruned from the index")
}

func TestUnpublish(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Publish(ctx, record("temperature", "alpha")))
	require.NoError(t, store.Unpublish(ctx, "temperature", "alpha"))

	_, err := store.Lookup(ctx, "temperature")
	assert.ErrorIs(t, err, ErrNotFound)
	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestInvalidRecordsAreRejected(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	bad := []Record{
		{},
		{Name: "x", URI: "x", Encodings: []string{"JSON"}, Provider: Provider{Name: "a", Address: "a:1"}},
		{Name: "x", URI: "/x", Provider: Provider{Name: "a", Address: "a:1"}},
		{Name: "x", URI: "/x", Encodings: []string{"JSON"}},
		{Name: "x", URI: "/x", Encodings: []string{"JSON"}, Secure: true, Provider: Provider{Name: "a", Address: "a:1"}},
	}
	for _, rec := range bad {
		assert.ErrorIs(t, store.Publish(ctx, rec), ErrInvalidRecord, "%+v", rec)
	}
}

func TestKeepPublished(t *testing.T) {
	store, mr := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, store.KeepPublished(ctx, []Record{record("temperature", "alpha")}, 10*time.Millisecond))
	assert.True(t, mr.Exists("test:service:temperature:provider:alpha"))

	cancel()
	assert.Eventually(t, func() bool {
		return !mr.Exists("test:service:temperature:provider:alpha")
	}, time.Second, 10*time.Millisecond)
}

func TestRecordsForDefinitions(t *testing.T) {
	def := service.MustDefinition(service.Params{
		Name:      "echo",
		Pattern:   "/echo/#",
		Methods:   []protocol.Method{protocol.MethodPost},
		Encodings: []codec.Encoding{codec.JSON, codec.XML},
		Handler:   service.HandlerFunc(func(*service.Request, *service.Response) error { return nil }).Async(),
	})

	sys, err := identity.Insecure("alpha", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8080})
	require.NoError(t, err)
	provider, err := NewProvider(sys, "127.0.0.1:8080")
	require.NoError(t, err)
	assert.Empty(t, provider.PublicKey)

	records := RecordsFor([]*service.Definition{def}, provider)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "echo", rec.Name)
	assert.Equal(t, "/echo/#", rec.URI)
	assert.Equal(t, []string{"POST"}, rec.Methods)
	assert.Equal(t, []string{"JSON", "XML"}, rec.Encodings)
	assert.False(t, rec.Secure)
	assert.NoError(t, rec.Validate())
	assert.Equal(t, "echo@alpha", rec.String())
}

func TestNewClientFailsFast(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewClient(context.Background(), RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = NewClient(context.Background(), RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
