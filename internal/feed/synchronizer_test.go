package feed

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adi-253/livefeed/internal/models"
	"github.com/adi-253/livefeed/internal/store"
)

func newTestSynchronizer() (*Synchronizer, *fakeCollection) {
	coll := newFakeCollection()
	return NewSynchronizer(coll, "messages", zerolog.Nop()), coll
}

func TestStartSetsLoadingBeforeFirstSnapshot(t *testing.T) {
	s, coll := newTestSynchronizer()

	var seen []State
	s.OnChange(func(st State) { seen = append(seen, st) })

	require.NoError(t, s.Start(5))

	st := s.State()
	assert.True(t, st.Loading)
	assert.False(t, st.Empty, "loading must not look like an empty collection")
	assert.Equal(t, 5, st.PageLimit)
	require.Len(t, seen, 1)
	assert.True(t, seen[0].Loading)

	q := coll.sub(0).query
	assert.Equal(t, store.OrderByCreatedAt, q.OrderBy)
	assert.Equal(t, 5, q.Limit)
}

func TestStartRejectsInvalidLimit(t *testing.T) {
	s, coll := newTestSynchronizer()
	assert.ErrorIs(t, s.Start(0), ErrInvalidPageLimit)
	assert.Equal(t, 0, coll.subscribeCount())
}

func TestEmptySnapshot(t *testing.T) {
	s, coll := newTestSynchronizer()
	require.NoError(t, s.Start(5))

	coll.sub(0).onSnapshot(models.Snapshot{})

	st := s.State()
	assert.Nil(t, st.Items)
	assert.True(t, st.Empty)
	assert.False(t, st.Loading)
	assert.False(t, st.CanLoadMore())
}

func TestSnapshotMaterializesNewestFirst(t *testing.T) {
	s, coll := newTestSynchronizer()
	require.NoError(t, s.Start(5))

	coll.sub(0).onSnapshot(snapshotOf(map[string]models.Record{
		"a": rec("first", "u1", 100),
		"c": rec("third", "u1", 300),
		"b": rec("second", "u2", 200),
	}))

	st := s.State()
	require.Len(t, st.Items, 3)
	assert.Equal(t, []string{"c", "b", "a"}, ids(st.Items))
	assert.Equal(t, "third", st.Items[0].Text)
	assert.False(t, st.Loading)
	assert.False(t, st.Empty)
	assert.True(t, st.CanLoadMore())
}

func TestSnapshotReplacesWholeWindow(t *testing.T) {
	s, coll := newTestSynchronizer()
	require.NoError(t, s.Start(5))
	sub := coll.sub(0)

	sub.onSnapshot(snapshotOf(map[string]models.Record{
		"a": rec("one", "u1", 1),
		"b": rec("two", "u1", 2),
	}))
	// b deleted, a edited, c added, all in one delivery
	edited := rec("one!", "u1", 1)
	edited.EditedAt = 9
	sub.onSnapshot(snapshotOf(map[string]models.Record{
		"a": edited,
		"c": rec("three", "u2", 3),
	}))

	st := s.State()
	assert.Equal(t, []string{"c", "a"}, ids(st.Items))
	assert.Equal(t, "one!", st.Items[1].Text)
	assert.True(t, st.Items[1].Edited())
}

func TestStartTwiceKeepsOneSubscription(t *testing.T) {
	s, coll := newTestSynchronizer()
	require.NoError(t, s.Start(5))
	require.NoError(t, s.Start(5))

	assert.Equal(t, 2, coll.subscribeCount())
	assert.Equal(t, 1, coll.activeCount())

	// the first subscription's late delivery must not land
	coll.sub(0).onSnapshot(snapshotOf(map[string]models.Record{"x": rec("stale", "u1", 1)}))
	assert.True(t, s.State().Loading)

	coll.sub(1).onSnapshot(snapshotOf(map[string]models.Record{"y": rec("fresh", "u1", 2)}))
	st := s.State()
	assert.Equal(t, []string{"y"}, ids(st.Items))
}

func TestNextPageWidensWindow(t *testing.T) {
	s, coll := newTestSynchronizer()
	require.NoError(t, s.Start(5))

	assert.ErrorIs(t, s.NextPage(), ErrNoMorePages, "not while loading")

	coll.sub(0).onSnapshot(snapshotOf(seed(5)))
	require.NoError(t, s.NextPage())

	st := s.State()
	assert.Equal(t, 10, st.PageLimit)
	assert.True(t, st.Loading)
	assert.Len(t, st.Items, 5, "previous page stays visible while loading")
	assert.Equal(t, 10, coll.sub(1).query.Limit)
	assert.Equal(t, 1, coll.activeCount())
}

func TestNextPageRejectedWhenEmpty(t *testing.T) {
	s, coll := newTestSynchronizer()
	require.NoError(t, s.Start(5))
	coll.sub(0).onSnapshot(models.Snapshot{})

	assert.ErrorIs(t, s.NextPage(), ErrNoMorePages)
	assert.Equal(t, 1, coll.subscribeCount())
}

func TestNextPageRejectedWhenStopped(t *testing.T) {
	s, _ := newTestSynchronizer()
	assert.ErrorIs(t, s.NextPage(), ErrNoMorePages)
}

func TestStaleSnapshotAfterPageChange(t *testing.T) {
	s, coll := newTestSynchronizer()
	require.NoError(t, s.Start(5))
	coll.sub(0).onSnapshot(snapshotOf(seed(5)))
	require.NoError(t, s.NextPage())

	// in flight from the limit-5 subscription
	coll.sub(0).onSnapshot(snapshotOf(seed(3)))
	st := s.State()
	assert.True(t, st.Loading)
	assert.Equal(t, 10, st.PageLimit)
	assert.Len(t, st.Items, 5)
}

func TestStopIsIdempotentAndSuppressesDelivery(t *testing.T) {
	s, coll := newTestSynchronizer()
	s.Stop()

	require.NoError(t, s.Start(5))
	s.Stop()
	s.Stop()
	assert.Equal(t, 0, coll.activeCount())

	coll.sub(0).onSnapshot(snapshotOf(seed(2)))
	assert.True(t, s.State().Loading)
	assert.Empty(t, s.State().Items)
}

func TestDeliveryErrorKeepsItems(t *testing.T) {
	s, coll := newTestSynchronizer()
	require.NoError(t, s.Start(5))

	boom := errors.New("transport down")
	coll.sub(0).onError(boom)
	st := s.State()
	assert.True(t, st.Loading, "no snapshot yet, loading stays set")
	assert.ErrorIs(t, st.Err, boom)

	coll.sub(0).onSnapshot(snapshotOf(seed(2)))
	coll.sub(0).onError(boom)
	st = s.State()
	assert.False(t, st.Loading)
	assert.Len(t, st.Items, 2)
	assert.ErrorIs(t, st.Err, boom)

	coll.sub(0).onSnapshot(snapshotOf(seed(3)))
	assert.NoError(t, s.State().Err)
}

func TestSubscribeFailure(t *testing.T) {
	s, coll := newTestSynchronizer()
	coll.subErr = errors.New("refused")

	err := s.Start(5)
	require.Error(t, err)
	st := s.State()
	assert.True(t, st.Loading)
	assert.Error(t, st.Err)
}

func TestMaterializeInvariants(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		limit := r.Intn(10) + 1
		n := r.Intn(15)
		recs := make(map[string]models.Record, n)
		for i := 0; i < n; i++ {
			recs[fmt.Sprintf("k%03d", i)] = rec("t", "u", int64(r.Intn(50)))
		}

		items := Materialize(snapshotOf(recs), limit)
		require.LessOrEqual(t, len(items), limit)
		seen := map[string]bool{}
		for i, m := range items {
			require.False(t, seen[m.ID], "duplicate id %s", m.ID)
			seen[m.ID] = true
			if i > 0 {
				prev := items[i-1]
				require.True(t, prev.CreatedAt > m.CreatedAt ||
					(prev.CreatedAt == m.CreatedAt && prev.ID > m.ID))
			}
		}
	}
}

func TestFindReturnsLatestCopy(t *testing.T) {
	s, coll := newTestSynchronizer()
	require.NoError(t, s.Start(5))
	coll.sub(0).onSnapshot(snapshotOf(map[string]models.Record{"a": rec("v1", "u1", 1)}))
	coll.sub(0).onSnapshot(snapshotOf(map[string]models.Record{"a": rec("v2", "u1", 1)}))

	m, ok := s.Find("a")
	require.True(t, ok)
	assert.Equal(t, "v2", m.Text)

	_, ok = s.Find("zzz")
	assert.False(t, ok)
}

func seed(n int) map[string]models.Record {
	recs := make(map[string]models.Record, n)
	for i := 1; i <= n; i++ {
		recs[fmt.Sprintf("m%02d", i)] = rec(fmt.Sprintf("msg %d", i), "u1", int64(i))
	}
	return recs
}

func ids(items []models.Message) []string {
	out := make([]string, len(items))
	for i, m := range items {
		out[i] = m.ID
	}
	return out
}
