package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapState map[string]string

func (m mapState) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m mapState) Set(_ context.Context, key, value string) error {
	m[key] = value
	return nil
}

func (m mapState) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m, k)
	}
	return nil
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"1", true},
		{"true", true},
		{"yes", true},
		{"on", true},
		{"0", false},
		{"", false},
		{"TRUE", false},
		{"off", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseBool(tt.in))
		})
	}
}

func TestGetBool(t *testing.T) {
	ctx := context.Background()
	s := mapState{KeyAutoSync: "1", KeySyncFrequency: "0"}

	on, err := GetBool(ctx, s, KeyAutoSync)
	require.NoError(t, err)
	assert.True(t, on)

	off, err := GetBool(ctx, s, KeySyncFrequency)
	require.NoError(t, err)
	assert.False(t, off)

	unset, err := GetBool(ctx, s, "missing")
	require.NoError(t, err)
	assert.False(t, unset)
}

func TestGetTimeCorrupt(t *testing.T) {
	s := mapState{KeyLastSyncTime: "yesterday"}
	_, err := GetTime(context.Background(), s, KeyLastSyncTime)
	assert.ErrorIs(t, err, ErrStorageCorrupt)
}
