package welcome

import (
	"context"
	"sync"
	"time"

	"verifybot/internal/config"
	"verifybot/internal/metrics"
	"verifybot/internal/platform"
	"verifybot/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type Module struct {
	store   *storage.Store
	client  platform.Client
	metrics *metrics.Metrics
	logger  *zap.Logger
	cfg     config.WelcomeConfig
	color   int
	dedup   *Deduplicator

	mu       sync.Mutex
	clock    Clock
	pending  map[string]Timer
	inflight map[string]struct{}
}

func New(store *storage.Store, client platform.Client, m *metrics.Metrics, logger *zap.Logger, cfg config.WelcomeConfig, color int) *Module {
	if logger == nil {
		logger = zap.NewNop()
	}
	mod := &Module{
		store:    store,
		client:   client,
		metrics:  m,
		logger:   logger,
		cfg:      cfg,
		color:    color,
		clock:    realClock{},
		pending:  make(map[string]Timer),
		inflight: make(map[string]struct{}),
	}
	mod.dedup = NewDeduplicator(cfg.Retention(), mod.now)
	return mod
}

func (m *Module) WithClock(clock Clock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
}

func (m *Module) now() time.Time {
	m.mu.Lock()
	clock := m.clock
	m.mu.Unlock()
	return clock.Now()
}

// HandleJoin gives the new member the not-verified role and schedules the
// deferred welcome check, leaving time for membership screening.
func (m *Module) HandleJoin(ctx context.Context, member *discordgo.Member) {
	if member == nil || member.User == nil || member.User.Bot || member.GuildID == "" {
		return
	}
	cfg, ok := m.store.Get(member.GuildID)
	if !ok {
		return
	}
	guildID, userID := member.GuildID, member.User.ID

	if cfg.NotVerifiedRoleID != "" {
		platform.BestEffort(m.logger, "add not-verified role", func() error {
			return m.client.AddRole(ctx, guildID, userID, cfg.NotVerifiedRoleID, "New member awaiting verification")
		}, zap.String("guild_id", guildID), zap.String("user_id", userID))
	}

	m.schedule(guildID, userID)
}

// HandleMemberUpdate posts the welcome as soon as screening completes.
func (m *Module) HandleMemberUpdate(ctx context.Context, update *discordgo.GuildMemberUpdate) {
	if update == nil || update.Member == nil || update.Member.User == nil || update.Member.Pending {
		return
	}
	if !m.screeningCompleted(update) {
		return
	}
	m.MaybePostWelcome(ctx, update.GuildID, update.Member.User.ID)
}

// screeningCompleted detects the pending to not-pending transition. Without
// a cached previous state, only recent joins count.
func (m *Module) screeningCompleted(update *discordgo.GuildMemberUpdate) bool {
	if update.BeforeUpdate != nil {
		return update.BeforeUpdate.Pending
	}
	if update.Member.JoinedAt.IsZero() {
		return false
	}
	window := m.cfg.Retention()
	if window <= 0 {
		window = time.Hour
	}
	return m.now().Sub(update.Member.JoinedAt) <= window
}

// HandleLeave drops the member's welcome record and cancels a pending check.
func (m *Module) HandleLeave(guildID, userID string) {
	m.dedup.Forget(guildID, userID)
	m.mu.Lock()
	timer := m.pending[key(guildID, userID)]
	delete(m.pending, key(guildID, userID))
	m.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

func (m *Module) schedule(guildID, userID string) {
	k := key(guildID, userID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if previous := m.pending[k]; previous != nil {
		previous.Stop()
	}
	var timer Timer
	timer = m.clock.AfterFunc(m.cfg.Delay(), func() {
		m.mu.Lock()
		if m.pending[k] == timer {
			delete(m.pending, k)
		}
		m.mu.Unlock()
		m.MaybePostWelcome(context.Background(), guildID, userID)
	})
	m.pending[k] = timer
}

// MaybePostWelcome sends the welcome message unless this join was already
// welcomed or the member cannot see the verification channel yet.
func (m *Module) MaybePostWelcome(ctx context.Context, guildID, userID string) {
	cfg, ok := m.store.Get(guildID)
	if !ok || cfg.VerificationChannelID == "" {
		return
	}
	k := key(guildID, userID)
	m.mu.Lock()
	if _, busy := m.inflight[k]; busy {
		m.mu.Unlock()
		return
	}
	m.inflight[k] = struct{}{}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.inflight, k)
		m.mu.Unlock()
	}()

	member, err := m.client.Member(ctx, guildID, userID)
	if err != nil {
		m.logger.Debug("welcome skipped, member unavailable", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
		return
	}
	joinedAt := member.JoinedAt
	if !m.dedup.ShouldPost(guildID, userID, joinedAt) {
		return
	}

	channel, err := m.client.Channel(ctx, cfg.VerificationChannelID)
	if err != nil || !platform.IsTextChannel(channel) {
		m.logger.Debug("welcome skipped, channel unavailable", zap.String("guild_id", guildID), zap.String("channel_id", cfg.VerificationChannelID), zap.Error(err))
		return
	}
	visible, err := m.client.CanView(ctx, userID, channel.ID)
	if err != nil || !visible {
		m.logger.Debug("welcome skipped, channel hidden from member", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
		return
	}

	send, err := Render(cfg, userID, m.color)
	if err != nil {
		m.logger.Error("render welcome failed", zap.String("guild_id", guildID), zap.Error(err))
		return
	}
	if _, err := m.client.SendMessage(ctx, channel.ID, send); err != nil {
		m.logger.Warn("send welcome failed", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
		return
	}
	m.dedup.MarkPosted(guildID, userID, joinedAt)
	m.metrics.Welcome()
	m.logger.Info("welcome posted", zap.String("guild_id", guildID), zap.String("user_id", userID))
}
