package verification

import (
	"context"
	"time"

	"verifybot/internal/config"
	"verifybot/internal/metrics"
	"verifybot/internal/modules/audit"
	"verifybot/internal/platform"
	"verifybot/internal/storage"

	"go.uber.org/zap"
)

type Module struct {
	store   *storage.Store
	client  platform.Client
	audit   *audit.Logger
	metrics *metrics.Metrics
	logger  *zap.Logger
	colors  config.EmbedColors
	guard   *guard
}

func New(store *storage.Store, client platform.Client, auditLogger *audit.Logger, m *metrics.Metrics, logger *zap.Logger, colors config.EmbedColors) *Module {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Module{
		store:   store,
		client:  client,
		audit:   auditLogger,
		metrics: m,
		logger:  logger,
		colors:  colors,
		guard:   newGuard(resolvedRetention, time.Now),
	}
}

// liveRoles fetches the guild's roles. On failure the lookup is empty, so
// labels fall back to role ids and assignments see every role as deleted.
func (m *Module) liveRoles(ctx context.Context, guildID string) RoleLookup {
	roles, err := m.client.Roles(ctx, guildID)
	if err != nil {
		m.logger.Warn("fetch roles failed", zap.String("guild_id", guildID), zap.Error(err))
		return RolesByID(nil)
	}
	return RolesByID(roles)
}
