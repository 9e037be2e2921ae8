// Package discord connects the command registry to Discord: every message
// is offered to the registry, with the author's permission level derived
// from configuration and guild permissions.
package discord

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"dyncmd/internal/command"
	"dyncmd/internal/logging"
)

// MaxMessageLength is Discord's per-message content limit.
const MaxMessageLength = 2000

// Extra keyword arguments handed to scripts for Discord invocations.
const (
	KwargMessage = "message"
	KwargAuthor  = "author"
)

// Dispatcher is the registry side of the bot. *dispatch.Locked satisfies it.
type Dispatcher interface {
	Parse(ctx context.Context, cc *command.Context, extras map[string]any) error
	Prefix() string
}

// Sender posts to a channel. *discordgo.Session satisfies it.
type Sender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Options configures a Bot.
type Options struct {
	DefaultPermission int
	AdminPermission   int
	// UserPermissions overrides the level of specific user IDs.
	UserPermissions map[string]int
	// RateLimit is commands per second per user; zero disables throttling.
	RateLimit float64
	Burst     int
	Logger    *logging.Logger
}

// Bot routes Discord messages to a Dispatcher.
type Bot struct {
	d    Dispatcher
	opts Options
	log  *logging.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a bot for d.
func New(d Dispatcher, opts Options) *Bot {
	if opts.Logger == nil {
		opts.Logger = logging.Get(logging.CategoryTransport)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Bot{
		d:        d,
		opts:     opts,
		log:      opts.Logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Run opens a gateway session with token and serves messages until ctx is
// done.
func (b *Bot) Run(ctx context.Context, token string) error {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	dg.AddHandler(b.onReady)
	dg.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		b.onMessageCreate(ctx, s, m)
	})

	if err := dg.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	defer dg.Close()

	<-ctx.Done()
	b.log.Info("shutdown signal received, closing Discord session")
	return nil
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.log.Info("Discord bot %s is running in %d guilds", r.User.Username, len(r.Guilds))
}

func (b *Bot) onMessageCreate(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || (s.State.User != nil && m.Author.ID == s.State.User.ID) {
		return
	}

	var perms int64
	if m.GuildID != "" {
		p, err := s.State.UserChannelPermissions(m.Author.ID, m.ChannelID)
		if err != nil {
			p, err = s.UserChannelPermissions(m.Author.ID, m.ChannelID)
		}
		if err != nil {
			b.log.Debug("failed to get permissions for %s in %s: %v", m.Author.ID, m.ChannelID, err)
		}
		perms = p
	}
	b.HandleMessage(ctx, s, m.Message, perms)
}

// Permission maps a user to a registry permission level. Explicit user
// entries win; guild administrators get AdminPermission.
func (b *Bot) Permission(userID string, guildPerms int64) int {
	if level, ok := b.opts.UserPermissions[userID]; ok {
		return level
	}
	if guildPerms&discordgo.PermissionAdministrator != 0 {
		return b.opts.AdminPermission
	}
	return b.opts.DefaultPermission
}

// allow takes a token from the user's bucket.
func (b *Bot) allow(userID string) bool {
	if b.opts.RateLimit <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.limiters[userID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(b.opts.RateLimit), b.opts.Burst)
		b.limiters[userID] = l
	}
	return l.Allow()
}

// HandleMessage dispatches one message and posts the replies to its
// channel. Replies are sent after dispatch returns, outside the registry.
func (b *Bot) HandleMessage(ctx context.Context, s Sender, m *discordgo.Message, guildPerms int64) {
	if m == nil || m.Author == nil || m.Author.Bot {
		return
	}
	if !strings.HasPrefix(m.Content, b.d.Prefix()) {
		return
	}
	if !b.allow(m.Author.ID) {
		b.log.Debug("rate limited %s (%s)", m.Author.Username, m.Author.ID)
		return
	}

	var replies []string
	src := command.NewSource(m.Author.Username, b.Permission(m.Author.ID, guildPerms), func(text, _ string) {
		replies = append(replies, text)
	})
	extras := map[string]any{
		KwargMessage: m,
		KwargAuthor:  m.Author,
	}

	err := b.d.Parse(ctx, command.NewContext(m.Content, src), extras)
	if text := b.errorReply(err); text != "" {
		replies = append(replies, text)
	}

	for _, reply := range replies {
		for _, chunk := range splitMessage(reply, MaxMessageLength) {
			if _, err := s.ChannelMessageSend(m.ChannelID, chunk); err != nil {
				b.log.Warn("send failed %s: %v", m.ChannelID, err)
				return
			}
		}
	}
}

// errorReply is the text posted for a failed dispatch. Unknown commands are
// ignored and usage errors were already relayed by the registry.
func (b *Bot) errorReply(err error) string {
	if err == nil {
		return ""
	}
	ce, ok := command.AsError(err)
	if !ok {
		b.log.Warn("command failed: %v", err)
		return "Something went wrong while running that command."
	}
	switch ce.Kind {
	case command.KindNotFound:
		b.log.Debug("%v", err)
		return ""
	case command.KindImproperUsage:
		return ""
	default:
		return ce.Error()
	}
}

// splitMessage breaks msg into chunks of at most limit bytes, preferring
// line breaks and never splitting a rune.
func splitMessage(msg string, limit int) []string {
	var result []string
	for len(msg) > limit {
		cut := strings.LastIndex(msg[:limit], "\n")
		if cut <= 0 {
			cut = limit
			for cut > 0 && !utf8.RuneStart(msg[cut]) {
				cut--
			}
			if cut == 0 {
				_, cut = utf8.DecodeRuneInString(msg)
			}
		}
		result = append(result, strings.TrimSpace(msg[:cut]))
		msg = strings.TrimSpace(msg[cut:])
	}
	if msg != "" {
		result = append(result, msg)
	}
	return result
}
