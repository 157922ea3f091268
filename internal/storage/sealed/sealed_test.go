package sealed

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daktarihub/daktari-client/internal/crypto/clientcrypto"
	"github.com/daktarihub/daktari-client/internal/errs"
	"github.com/daktarihub/daktari-client/internal/storage"
	"github.com/daktarihub/daktari-client/internal/storage/memory"
)

func TestStore_SealsOnlyConfiguredKeys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	shared := memory.New()
	master, _ := clientcrypto.Rand(clientcrypto.KeyLen)

	s, err := New(shared.Client(), master)
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, storage.KeyToken, "secret-token"))
	require.NoError(t, s.Set(ctx, storage.KeyUser, `{"id":"1"}`))

	raw := shared.Snapshot()
	require.True(t, strings.HasPrefix(raw[storage.KeyToken], prefix))
	require.NotContains(t, raw[storage.KeyToken], "secret-token")
	require.Equal(t, `{"id":"1"}`, raw[storage.KeyUser])

	v, ok, err := s.Get(ctx, storage.KeyToken)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "secret-token", v)

	_, ok, err = s.Get(ctx, storage.KeyProfile)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_WrongKeyOrPlainValueIsCorrupt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	shared := memory.New()
	k1, _ := clientcrypto.Rand(clientcrypto.KeyLen)
	k2, _ := clientcrypto.Rand(clientcrypto.KeyLen)

	a, _ := New(shared.Client(), k1)
	b, _ := New(shared.Client(), k2)
	require.NoError(t, a.Set(ctx, storage.KeyToken, "tok"))

	_, _, err := b.Get(ctx, storage.KeyToken)
	require.ErrorIs(t, err, errs.ErrCorruptStorage)

	require.NoError(t, shared.Client().Set(ctx, storage.KeyToken, "plain"))
	_, _, err = a.Get(ctx, storage.KeyToken)
	require.ErrorIs(t, err, errs.ErrCorruptStorage)
}

func TestFromPassphrase_ReusesSalt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	inner := memory.New().Client()

	_, err := FromPassphrase(ctx, inner, "")
	require.Error(t, err)

	a, err := FromPassphrase(ctx, inner, "pass")
	require.NoError(t, err)
	require.NoError(t, a.Set(ctx, storage.KeyToken, "tok"))

	b, err := FromPassphrase(ctx, inner, "pass")
	require.NoError(t, err)
	v, _, err := b.Get(ctx, storage.KeyToken)
	require.NoError(t, err)
	require.Equal(t, "tok", v)

	require.NoError(t, inner.Set(ctx, SaltKey, "%%%"))
	_, err = FromPassphrase(ctx, inner, "pass")
	require.ErrorIs(t, err, errs.ErrCorruptStorage)
}

func TestNew_RejectsShortKey(t *testing.T) {
	t.Parallel()
	_, err := New(memory.New().Client(), []byte("short"))
	require.Error(t, err)
}
