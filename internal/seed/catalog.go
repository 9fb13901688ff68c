package seed

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	catalogdomain "github.com/smallbiznis/iahome/internal/catalog/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type catalogEntry struct {
	Slug        string
	Title       string
	Description string
	Category    string
	Price       int64
	TokenCost   int64
}

var defaultCatalog = []catalogEntry{
	{"librespeed", "LibreSpeed", "Self-hosted network speed test.", "network", 0, 10},
	{"metube", "MeTube", "Video downloader with a web interface.", "media", 0, 10},
	{"whisper", "Whisper", "Speech to text transcription.", "ai", 0, 20},
	{"stablediffusion", "Stable Diffusion", "Text to image generation.", "ai", 0, 50},
	{"pdf", "PDF Tools", "Merge, split and convert PDF documents.", "documents", 0, 10},
	{"psitransfer", "PsiTransfer", "Simple file sharing.", "files", 0, 10},
	{"qrcodes", "QR Codes", "Dynamic QR code generator.", "tools", 0, 5},
}

// EnsureCatalog inserts the default modules that are not present yet and
// returns how many were added.
func EnsureCatalog(ctx context.Context, db *gorm.DB, now time.Time) (int, error) {
	if db == nil {
		return 0, errors.New("seed database handle is required")
	}

	inserted := 0
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, entry := range defaultCatalog {
			m := catalogdomain.Module{
				ID:          uuid.NewString(),
				Slug:        entry.Slug,
				Title:       entry.Title,
				Description: entry.Description,
				Category:    entry.Category,
				Price:       entry.Price,
				TokenCost:   entry.TokenCost,
				IsActive:    true,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			result := tx.WithContext(ctx).
				Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "slug"}},
					DoNothing: true,
				}).
				Create(&m)
			if result.Error != nil {
				return result.Error
			}
			inserted += int(result.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}
