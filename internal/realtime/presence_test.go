package realtime

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ManoDarpan/ManoDarpan/internal/model"
)

func TestPresenceHub_CounsellorEdges(t *testing.T) {
	t.Parallel()

	p := NewPresenceHub()
	counsellor := model.Identity{ID: "c1", Role: model.RoleCounsellor}

	require.True(t, p.MarkOnline(counsellor))
	require.False(t, p.MarkOnline(counsellor)) // second tab, no edge
	require.True(t, p.IsOnline("c1"))

	require.False(t, p.MarkOffline(counsellor)) // one tab left
	require.True(t, p.IsOnline("c1"))
	require.True(t, p.MarkOffline(counsellor))
	require.False(t, p.IsOnline("c1"))
}

func TestPresenceHub_UsersNeverTransition(t *testing.T) {
	t.Parallel()

	p := NewPresenceHub()
	user := model.Identity{ID: "u1", Role: model.RoleUser}

	require.False(t, p.MarkOnline(user))
	require.False(t, p.IsOnline("u1"))
	require.False(t, p.MarkOffline(user))
}

func TestPresenceHub_OfflineWithoutOnline(t *testing.T) {
	t.Parallel()

	p := NewPresenceHub()
	counsellor := model.Identity{ID: "c1", Role: model.RoleCounsellor}

	require.False(t, p.MarkOffline(counsellor))
}

func TestPresenceHub_OnlineSet(t *testing.T) {
	t.Parallel()

	p := NewPresenceHub()
	p.MarkOnline(model.Identity{ID: "c1", Role: model.RoleCounsellor})
	p.MarkOnline(model.Identity{ID: "c2", Role: model.RoleCounsellor})

	require.ElementsMatch(t, []string{"c1", "c2"}, p.OnlineSet())

	p.MarkOffline(model.Identity{ID: "c1", Role: model.RoleCounsellor})
	require.ElementsMatch(t, []string{"c2"}, p.OnlineSet())
}
