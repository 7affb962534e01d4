package ports_test

import (
	"context"
	"testing"

	"github.com/aretw0/texrender/pkg/adapters/memory"
	"github.com/aretw0/texrender/pkg/domain"
	"github.com/aretw0/texrender/pkg/ports"
	"github.com/stretchr/testify/assert"
)

func TestGetJSON_Errors(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	var v map[string]string
	err := ports.GetJSON(ctx, store, "blame", "nope", &v)
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)

	_ = store.Set(ctx, "blame", "garbage", []byte("{not json"), 0)
	err = ports.GetJSON(ctx, store, "blame", "garbage", &v)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrKeyNotFound)
}

func TestSetJSON_Unencodable(t *testing.T) {
	err := ports.SetJSON(context.Background(), memory.NewStore(), "blame", "k", make(chan int), 0)
	assert.Error(t, err)
}
