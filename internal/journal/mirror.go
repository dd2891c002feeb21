package journal

import (
	"context"
	"log/slog"

	"github.com/atmx/risk-gate/internal/model"
	"github.com/atmx/risk-gate/internal/store"
)

// MirrorStore copies every decision receipt written to the primary store
// into a journal. Every other method passes through to the primary.
type MirrorStore struct {
	store.Store
	journal *SQLiteJournal
}

// NewMirrorStore wraps primary.
func NewMirrorStore(primary store.Store, j *SQLiteJournal) *MirrorStore {
	return &MirrorStore{Store: primary, journal: j}
}

// InsertDecisionReceipt writes the primary first; its error is the only
// one returned. A journal failure is logged, never surfaced, so the local
// copy cannot block gate traffic.
func (m *MirrorStore) InsertDecisionReceipt(ctx context.Context, r *model.DecisionReceipt) error {
	if err := m.Store.InsertDecisionReceipt(ctx, r); err != nil {
		return err
	}
	if err := m.journal.RecordReceipt(ctx, r); err != nil {
		slog.Warn("journal receipt write failed", "id", r.ID, "user", r.UserID, "err", err)
	}
	return nil
}
