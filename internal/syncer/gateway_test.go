package syncer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/brandon/rss-bridge/pkg/types"
)

func TestGateway_RejectsNonNumericID(t *testing.T) {
	store := scenarioStore()
	gw := NewGateway(store, quietLogger())

	for _, id := range []string{"abc", "", "-1", "1.5", "12a"} {
		assert.False(t, gw.MarkRead(context.Background(), id), id)
	}
	assert.Empty(t, store.setReadCalls)
}

func TestGateway_MarkReadIdempotent(t *testing.T) {
	store := scenarioStore()
	gw := NewGateway(store, quietLogger())

	assert.True(t, gw.MarkRead(context.Background(), "1"))
	assert.True(t, gw.MarkRead(context.Background(), "1"))
	assert.Equal(t, []types.MessageID{1, 1}, store.setReadCalls)
	assert.True(t, store.messages[1].Read)
}

func TestGateway_StoreFailure(t *testing.T) {
	store := scenarioStore()
	store.setReadErr = errors.New("read-only mailbox")
	gw := NewGateway(store, quietLogger())

	assert.False(t, gw.MarkRead(context.Background(), "1"))
	assert.Len(t, store.setReadCalls, 1)
}

func TestParseID(t *testing.T) {
	id, ok := ParseID("18446744073709551615")
	assert.True(t, ok)
	assert.Equal(t, types.MessageID(18446744073709551615), id)

	_, ok = ParseID("18446744073709551616")
	assert.False(t, ok)
}
