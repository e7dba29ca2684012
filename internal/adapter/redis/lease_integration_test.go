package redis

import (
	"context"
	"testing"
	"time"

	"github.com/pscheid92/keyrelay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quiz = domain.GroupRef{Namespace: domain.NamespaceArbitrated, Key: "quiz"}

func TestLeaseAuthorizer_FirstMasterHoldsLease(t *testing.T) {
	a := NewLeaseAuthorizer(setupTestClient(t), time.Minute)
	ctx := context.Background()

	ok, err := a.Authorize(ctx, quiz, "conn-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.Authorize(ctx, quiz, "conn-a")
	require.NoError(t, err)
	assert.True(t, ok, "holder refreshes its own lease")

	ok, err = a.Authorize(ctx, quiz, "conn-b")
	require.NoError(t, err)
	assert.False(t, ok)

	holder, err := a.Holder(ctx, quiz)
	require.NoError(t, err)
	assert.Equal(t, "conn-a", holder)
}

func TestLeaseAuthorizer_NamespacesAreSeparate(t *testing.T) {
	a := NewLeaseAuthorizer(setupTestClient(t), time.Minute)
	ctx := context.Background()
	broadcast := domain.GroupRef{Namespace: domain.NamespaceBroadcast, Key: "quiz"}

	ok, err := a.Authorize(ctx, quiz, "conn-a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = a.Authorize(ctx, broadcast, "conn-b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLeaseAuthorizer_ReleaseOnlyByHolder(t *testing.T) {
	a := NewLeaseAuthorizer(setupTestClient(t), time.Minute)
	ctx := context.Background()

	_, err := a.Authorize(ctx, quiz, "conn-a")
	require.NoError(t, err)

	require.NoError(t, a.Release(ctx, quiz, "conn-b"))
	holder, err := a.Holder(ctx, quiz)
	require.NoError(t, err)
	assert.Equal(t, "conn-a", holder)

	require.NoError(t, a.Release(ctx, quiz, "conn-a"))
	holder, err = a.Holder(ctx, quiz)
	require.NoError(t, err)
	assert.Empty(t, holder)

	ok, err := a.Authorize(ctx, quiz, "conn-b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLeaseAuthorizer_ExpiredLeaseIsTaken(t *testing.T) {
	a := NewLeaseAuthorizer(setupTestClient(t), 100*time.Millisecond)
	ctx := context.Background()

	ok, err := a.Authorize(ctx, quiz, "conn-a")
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		ok, err := a.Authorize(ctx, quiz, "conn-b")
		return err == nil && ok
	}, 2*time.Second, 20*time.Millisecond)
}
