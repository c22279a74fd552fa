// workers/identity_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"social-rewards-system/models"
	"social-rewards-system/utils"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IdentityProfile matches the JSON the identity service returns for one
// account. Only the fields the ledger mirrors are decoded.
type IdentityProfile struct {
	ID            string    `json:"id"`
	WalletAddress string    `json:"wallet_address"`
	Username      string    `json:"username"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type identityChangesResponse struct {
	Profiles []IdentityProfile `json:"profiles"`
}

// IdentitySyncWorker mirrors wallet/account identities from the external
// identity service into the local users table. Engagement tracking only
// awards points to users this worker has mirrored.
type IdentitySyncWorker struct {
	db           *gorm.DB
	interval     time.Duration
	baseURL      string
	endpointPath string
	serviceToken string
	httpClient   *http.Client
	log          zerolog.Logger
}

func NewIdentitySyncWorker(db *gorm.DB, identityServiceURL, endpointPath, serviceToken string) *IdentitySyncWorker {
	return &IdentitySyncWorker{
		db:           db,
		interval:     1 * time.Minute,
		baseURL:      identityServiceURL,
		endpointPath: endpointPath,
		serviceToken: serviceToken,
		httpClient:   utils.HTTPClient,
		log:          log.With().Str("component", "identity_sync").Logger(),
	}
}

func (w *IdentitySyncWorker) Start(ctx context.Context) {
	w.log.Info().Msg("starting identity sync worker")
	go w.run(ctx)
}

func (w *IdentitySyncWorker) run(ctx context.Context) {
	// Initial backfill from the beginning of time.
	if err := w.syncBatch(ctx, time.Time{}); err != nil {
		w.log.Warn().Err(err).Msg("initial identity sync failed")
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.syncBatch(ctx, w.lastSyncTime()); err != nil {
				w.log.Error().Err(err).Msg("identity sync batch failed")
			}
		case <-ctx.Done():
			w.log.Info().Msg("identity sync worker stopped")
			return
		}
	}
}

// lastSyncTime is the most recent UpdatedAt in the local users table; the
// next batch asks only for profiles changed after it.
func (w *IdentitySyncWorker) lastSyncTime() time.Time {
	var lastTime time.Time
	w.db.Model(&models.User{}).Select("COALESCE(MAX(updated_at), '0001-01-01')").Scan(&lastTime)
	return lastTime
}

func (w *IdentitySyncWorker) syncBatch(ctx context.Context, since time.Time) error {
	endpoint := fmt.Sprintf("%s%s?updated_after=%s", w.baseURL, w.endpointPath,
		url.QueryEscape(since.UTC().Format(time.RFC3339)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("identity service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("identity service returned %d: %s", resp.StatusCode, body)
	}

	var changes identityChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&changes); err != nil {
		return fmt.Errorf("failed to decode identity response: %w", err)
	}
	if len(changes.Profiles) == 0 {
		return nil
	}

	for _, profile := range changes.Profiles {
		if profile.WalletAddress == "" {
			continue
		}
		user := models.User{
			ID:            profile.ID,
			WalletAddress: profile.WalletAddress,
			Username:      profile.Username,
		}
		// Never touch point totals here; this worker only mirrors identity.
		err := w.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "wallet_address"}},
			DoUpdates: clause.AssignmentColumns([]string{"username"}),
		}).Create(&user).Error
		if err != nil {
			w.log.Error().Err(err).Str("wallet", profile.WalletAddress).Msg("failed to upsert user")
		}
	}

	w.log.Info().Int("profiles", len(changes.Profiles)).Msg("identity batch synced")
	return nil
}
