package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/booklend/lending-engine/internal/notifier"
	"github.com/booklend/lending-engine/internal/repository"
)

// Clock supplies the current instant. Injected so tests can pin time for
// due-date arithmetic.
type Clock func() time.Time

// notifyBorrower routes a message to the user's linked chat. Users without a
// linked channel are skipped; delivery failures come back as DISPATCH_FAILURE
// and are never fatal to the calling operation.
func notifyBorrower(
	ctx context.Context,
	users repository.UserRepository,
	dispatcher notifier.Dispatcher,
	userID uuid.UUID,
	kind, text string,
) error {
	user, err := users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if user.TelegramChatID == nil {
		return nil
	}

	return dispatcher.Send(ctx, *user.TelegramChatID, kind, text)
}
