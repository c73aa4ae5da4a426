package backend

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/entity-dao/internal/core"
	"github.com/rzpsarthak13/entity-dao/internal/registry"
)

type fakeFactory struct {
	typ     string
	invalid error
	created int
}

func (f *fakeFactory) Type() string                             { return f.typ }
func (f *fakeFactory) Validate(*registry.InternalConfig) error { return f.invalid }

func (f *fakeFactory) Create(*registry.InternalConfig, *slog.Logger) (core.Backend, error) {
	f.created++
	return nil, nil
}

func TestRegisterAndCreate(t *testing.T) {
	ok := &fakeFactory{typ: "fake-ok"}
	bad := &fakeFactory{typ: "fake-bad", invalid: errors.New("no endpoints")}
	RegisterFactory(ok)
	RegisterFactory(bad)

	assert.True(t, IsTypeRegistered("fake-ok"))
	assert.Contains(t, GetRegisteredTypes(), "fake-bad")
	_, found := registry.GetValidator("fake-ok")
	assert.True(t, found)

	cfg := registry.DefaultConfig()
	cfg.Backend.Type = "fake-ok"
	_, err := Create(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, ok.created)

	cfg.Backend.Type = "fake-bad"
	_, err = Create(cfg, nil)
	assert.ErrorContains(t, err, "no endpoints")
	assert.Zero(t, bad.created)

	cfg.Backend.Type = "fake-missing"
	_, err = Create(cfg, nil)
	assert.ErrorContains(t, err, "unsupported backend type")

	assert.Panics(t, func() { RegisterFactory(&fakeFactory{typ: "fake-ok"}) })
	assert.Panics(t, func() { RegisterFactory(&fakeFactory{}) })
}
