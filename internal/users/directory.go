package users

import (
	"context"
	"time"

	"github.com/bottlepoint/waterbot/internal/store"
	"github.com/bottlepoint/waterbot/pkg/db"
	"github.com/bottlepoint/waterbot/pkg/db/models"
	pkgerrors "github.com/bottlepoint/waterbot/pkg/errors"
	"github.com/bottlepoint/waterbot/pkg/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Directory maps usernames to the chats they last wrote from.
type Directory struct {
	conn *gorm.DB
	now  func() time.Time
}

func NewDirectory(conn *gorm.DB) *Directory {
	return &Directory{conn: conn, now: time.Now}
}

// Touch records that who has written to the bot.
func (d *Directory) Touch(ctx context.Context, who types.Identity) error {
	if who.ChatID == 0 {
		return nil
	}
	account := models.ChatAccount{
		ChatID:     who.ChatID,
		Username:   strPtr(who.Handle()),
		FirstName:  who.FirstName,
		LastSeenAt: d.now().UTC(),
	}
	err := d.conn.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "first_name", "last_seen_at"}),
	}).Create(&account).Error
	return db.Classify(err, "touch chat account")
}

// ChatIDFor returns the most recently seen chat for username.
func (d *Directory) ChatIDFor(ctx context.Context, username string) (int64, bool, error) {
	handle := types.NormalizeUsername(username)
	if handle == "" {
		return 0, false, nil
	}
	var account models.ChatAccount
	err := d.conn.WithContext(ctx).
		Where("username = ?", handle).
		Order("last_seen_at DESC").
		Take(&account).Error
	if err != nil {
		classified := db.Classify(err, "lookup chat account")
		if pkgerrors.Is(classified, pkgerrors.CodeNotFound) {
			return 0, false, nil
		}
		return 0, false, classified
	}
	return account.ChatID, true, nil
}

// Lookup returns the directory entry for chatID.
func (d *Directory) Lookup(ctx context.Context, chatID int64) (*models.ChatAccount, error) {
	return store.FetchOne[models.ChatAccount](ctx, d.conn, store.Where{"chat_id": chatID})
}
