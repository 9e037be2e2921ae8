package discord

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dyncmd/internal/command"
	"dyncmd/internal/dispatch"
	"dyncmd/internal/logging"
)

type sent struct {
	channel, content string
}

type fakeSender struct {
	msgs []sent
	err  error
}

func (f *fakeSender) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.msgs = append(f.msgs, sent{channelID, content})
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func (f *fakeSender) contents() []string {
	var out []string
	for _, m := range f.msgs {
		out = append(out, m.content)
	}
	return out
}

// fakeDispatcher answers every prefixed input with fn.
type fakeDispatcher struct {
	prefix string
	calls  []*command.Context
	extras []map[string]any
	fn     func(cc *command.Context) error
}

func (f *fakeDispatcher) Prefix() string { return f.prefix }

func (f *fakeDispatcher) Parse(_ context.Context, cc *command.Context, extras map[string]any) error {
	f.calls = append(f.calls, cc)
	f.extras = append(f.extras, extras)
	if f.fn == nil {
		return nil
	}
	return f.fn(cc)
}

func message(author *discordgo.User, content string) *discordgo.Message {
	return &discordgo.Message{ChannelID: "c1", Author: author, Content: content}
}

var alice = &discordgo.User{ID: "1", Username: "alice"}

func newBot(d Dispatcher, opts Options) *Bot {
	opts.Logger = logging.NewNop(logging.CategoryTransport)
	return New(d, opts)
}

func TestPermission(t *testing.T) {
	b := newBot(&fakeDispatcher{}, Options{
		DefaultPermission: 5,
		AdminPermission:   1000,
		UserPermissions:   map[string]int{"42": 500, "7": 0},
	})

	tests := []struct {
		user  string
		perms int64
		want  int
	}{
		{"1", 0, 5},
		{"1", discordgo.PermissionAdministrator, 1000},
		{"1", discordgo.PermissionManageMessages, 5},
		{"42", 0, 500},
		{"7", discordgo.PermissionAdministrator, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Permission(tt.user, tt.perms), "user=%s perms=%d", tt.user, tt.perms)
	}
}

func TestHandleMessageFeedback(t *testing.T) {
	d := &fakeDispatcher{prefix: "!", fn: func(cc *command.Context) error {
		cc.Source().SendFeedback("pong for " + cc.Source().DisplayName)
		return nil
	}}
	b := newBot(d, Options{DefaultPermission: 3})
	s := &fakeSender{}

	b.HandleMessage(context.Background(), s, message(alice, "!ping"), 0)

	require.Len(t, d.calls, 1)
	assert.Equal(t, "!ping", d.calls[0].WorkingString())
	assert.Equal(t, 3, d.calls[0].Source().Permission)
	assert.Same(t, alice, d.extras[0][KwargAuthor])
	assert.Equal(t, []sent{{"c1", "pong for alice"}}, s.msgs)
}

func TestHandleMessageSkips(t *testing.T) {
	d := &fakeDispatcher{prefix: "!"}
	b := newBot(d, Options{})
	s := &fakeSender{}

	b.HandleMessage(context.Background(), s, message(alice, "hello"), 0)
	b.HandleMessage(context.Background(), s, message(&discordgo.User{ID: "2", Bot: true}, "!ping"), 0)
	b.HandleMessage(context.Background(), s, &discordgo.Message{Content: "!ping"}, 0)
	b.HandleMessage(context.Background(), s, nil, 0)

	assert.Empty(t, d.calls)
	assert.Empty(t, s.msgs)
}

func TestHandleMessageErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want []string
	}{
		{"not found", command.NotFound("nope", nil), nil},
		{"usage", command.ImproperUsage("use it right"), nil},
		{"disabled", &command.Error{Kind: command.KindDisabled, Name: "test"}, []string{"'test' is disabled, enable to execute."}},
		{"script", errors.New("boom"), []string{"Something went wrong while running that command."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDispatcher{prefix: "!", fn: func(*command.Context) error { return tt.err }}
			s := &fakeSender{}
			newBot(d, Options{}).HandleMessage(context.Background(), s, message(alice, "!x"), 0)
			assert.Equal(t, tt.want, s.contents())
		})
	}
}

func TestRateLimit(t *testing.T) {
	d := &fakeDispatcher{prefix: "!"}
	b := newBot(d, Options{RateLimit: 0.001, Burst: 2})
	s := &fakeSender{}

	for i := 0; i < 5; i++ {
		b.HandleMessage(context.Background(), s, message(alice, "!ping"), 0)
	}
	assert.Len(t, d.calls, 2)

	b.HandleMessage(context.Background(), s, message(&discordgo.User{ID: "9", Username: "bob"}, "!ping"), 0)
	assert.Len(t, d.calls, 3, "buckets are per user")
}

func TestSendFailureStops(t *testing.T) {
	d := &fakeDispatcher{prefix: "!", fn: func(cc *command.Context) error {
		cc.Source().SendFeedback("one")
		cc.Source().SendFeedback("two")
		return nil
	}}
	s := &fakeSender{err: errors.New("offline")}
	newBot(d, Options{}).HandleMessage(context.Background(), s, message(alice, "!x"), 0)
	assert.Empty(t, s.msgs)
}

func TestSplitMessage(t *testing.T) {
	assert.Nil(t, splitMessage("", 10))
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))
	assert.Equal(t, []string{"line one", "line two"}, splitMessage("line one\nline two", 12))
	assert.Equal(t, []string{"abcde", "fghij", "k"}, splitMessage("abcdefghijk", 5))

	// Multi-byte runes are never cut in half.
	chunks := splitMessage(strings.Repeat("é", 5), 3)
	for _, c := range chunks {
		assert.True(t, len(c) <= 3)
		assert.Equal(t, "é", c)
	}

	long := strings.Repeat("x", MaxMessageLength+10)
	chunks = splitMessage(long, MaxMessageLength)
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], MaxMessageLength)
}

func TestWithRegistry(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join("..", "..", "dispatch", "testdata", "commands")
	entries, err := os.ReadDir(src)
	require.NoError(t, err)
	for _, e := range entries {
		b, err := os.ReadFile(filepath.Join(src, e.Name()))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, e.Name()), b, 0644))
	}
	r, err := dispatch.New(dispatch.Options{Dir: dir, Logger: logging.NewNop(logging.CategoryRegistry)})
	require.NoError(t, err)

	b := newBot(dispatch.NewLocked(r), Options{AdminPermission: 1000})
	s := &fakeSender{}

	b.HandleMessage(context.Background(), s, message(alice, "!test hi"), discordgo.PermissionAdministrator)
	b.HandleMessage(context.Background(), s, message(alice, "!test hi"), 0)
	b.HandleMessage(context.Background(), s, message(alice, "!commands"), 0)

	assert.Equal(t, []string{
		"'!test hi' is correct usage of the 'test' command.",
		"'alice' did not have the required permissions (0/500) to use the 'test' command.",
		"Incorrect usage of 'commands'. To view usage information, use '!help commands'.",
	}, s.contents())
}
