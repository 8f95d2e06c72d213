package authority

import (
	"context"
	"testing"

	"github.com/sharetube/watchparty/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorize(t *testing.T) {
	room := domain.Room{ID: "9", OwnerUsername: "hlong"}
	var notices []Notice
	notifier := NotifierFunc(func(_ context.Context, n Notice) { notices = append(notices, n) })

	owner := NewGuard(domain.User{Username: "hlong"}, room, notifier, nil)
	require.NoError(t, owner.Authorize(context.Background(), ActionPlay))
	assert.True(t, owner.IsOwner())
	assert.Empty(t, notices)

	guest := NewGuard(domain.User{Username: "hlongdayy"}, room, notifier, nil)
	err := guest.Authorize(context.Background(), ActionRemoveVideo)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	require.Len(t, notices, 1)
	assert.Equal(t, ActionRemoveVideo, notices[0].Action)
}

func TestAnonymousIsNeverOwner(t *testing.T) {
	guard := NewGuard(domain.AnonymousUser(), domain.Room{OwnerUsername: domain.AnonymousUsername}, nil, nil)

	assert.False(t, guard.IsOwner())
	assert.ErrorIs(t, guard.Authorize(context.Background(), ActionSeek), ErrPermissionDenied)
}
