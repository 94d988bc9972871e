package consumer

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter(t *testing.T) {
	var got []string
	r := NewRouter(slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	r.Register("a", HandlerFunc(func(_ context.Context, msg *Message) error {
		got = append(got, "a:"+string(msg.Value))
		return nil
	}))

	require.NoError(t, r.Handle(context.Background(), &Message{Topic: "a", Value: []byte("1")}))
	require.NoError(t, r.Handle(context.Background(), &Message{Topic: "unknown", Value: []byte("2")}))

	assert.Equal(t, []string{"a:1"}, got)
	assert.Equal(t, []string{"a"}, r.Topics())
}
