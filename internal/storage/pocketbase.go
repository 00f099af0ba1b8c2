package storage

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/daos"
	"github.com/pocketbase/pocketbase/migrations"
	pbModels "github.com/pocketbase/pocketbase/models"
	"github.com/pocketbase/pocketbase/models/schema"
	"github.com/pocketbase/pocketbase/tools/migrate"
	"go.uber.org/zap"

	"resultados/internal/logging"
	"resultados/internal/models"
)

// StationResultsCollection holds one record per exported (station, party) row
const StationResultsCollection = "station_results"

// PocketBaseStore mirrors the export into an embedded PocketBase data dir
type PocketBaseStore struct {
	app    *pocketbase.PocketBase
	logger *zap.Logger
}

// NewPocketBaseStore bootstraps PocketBase in dataDir and makes sure the results collection exists
func NewPocketBaseStore(dataDir string, logger *zap.Logger) (*PocketBaseStore, error) {
	app := pocketbase.NewWithConfig(pocketbase.Config{
		DefaultDataDir:  dataDir,
		HideStartBanner: true,
	})

	if err := app.Bootstrap(); err != nil {
		return nil, fmt.Errorf("failed to bootstrap PocketBase: %w", err)
	}

	// Bootstrap opens the databases; the system tables come from the app migrations
	runner, err := migrate.NewRunner(app.DB(), migrations.AppMigrations)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrations runner: %w", err)
	}
	if _, err := runner.Up(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := app.RefreshSettings(); err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	if err := ensureCollection(app); err != nil {
		return nil, fmt.Errorf("failed to ensure collection exists: %w", err)
	}

	return &PocketBaseStore{app: app, logger: logging.OrNop(logger)}, nil
}

func ensureCollection(app *pocketbase.PocketBase) error {
	if _, err := app.Dao().FindCollectionByNameOrId(StationResultsCollection); err == nil {
		return nil
	}

	text := func(name string, required bool) *schema.SchemaField {
		return &schema.SchemaField{
			Name:     name,
			Type:     schema.FieldTypeText,
			Required: required,
		}
	}

	collection := &pbModels.Collection{
		Name: StationResultsCollection,
		Type: pbModels.CollectionTypeBase,
		Schema: schema.NewSchema(
			text("station_id", true),
			text("levels", false),
			text("party_code", false),
			text("party_name", false),
			text("votes", false),
			text("percentage", false),
			text("seats_percentage", false),
			text("seats", false),
			text("candidates", false),
			text("fields", false),
		),
	}

	if err := app.Dao().SaveCollection(collection); err != nil {
		return fmt.Errorf("failed to save collection: %w", err)
	}
	return nil
}

// ReplaceRows swaps the collection contents for rows in one transaction
func (s *PocketBaseStore) ReplaceRows(rows []models.Row) error {
	err := s.app.Dao().RunInTransaction(func(txDao *daos.Dao) error {
		collection, err := txDao.FindCollectionByNameOrId(StationResultsCollection)
		if err != nil {
			return fmt.Errorf("failed to find collection: %w", err)
		}

		if _, err := txDao.DB().Delete(collection.Name, dbx.NewExp("1=1")).Execute(); err != nil {
			return fmt.Errorf("failed to clear collection: %w", err)
		}

		for _, row := range rows {
			levels, err := json.Marshal(row.Levels)
			if err != nil {
				return fmt.Errorf("failed to encode levels of %s: %w", row.StationID, err)
			}
			fields, err := json.Marshal(row.Fields)
			if err != nil {
				return fmt.Errorf("failed to encode fields of %s: %w", row.StationID, err)
			}

			record := pbModels.NewRecord(collection)
			record.Set("station_id", row.StationID)
			record.Set("levels", string(levels))
			record.Set("party_code", row.PartyCode)
			record.Set("party_name", row.PartyName)
			record.Set("votes", row.Votes)
			record.Set("percentage", row.Percent)
			record.Set("seats_percentage", row.SeatsPerc)
			record.Set("seats", row.Seats)
			record.Set("candidates", row.Candidates)
			record.Set("fields", string(fields))

			if err := txDao.SaveRecord(record); err != nil {
				return fmt.Errorf("failed to save record for %s: %w", row.StationID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("results stored in PocketBase",
		zap.String("collection", StationResultsCollection),
		zap.Int("records", len(rows)))
	return nil
}

// StationRows returns the stored records of one station
func (s *PocketBaseStore) StationRows(stationID string) ([]models.Row, error) {
	records, err := s.app.Dao().FindRecordsByExpr(StationResultsCollection, dbx.HashExp{"station_id": stationID})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch records of %s: %w", stationID, err)
	}

	rows := make([]models.Row, len(records))
	for i, record := range records {
		var levels map[int]string
		if raw := record.GetString("levels"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &levels); err != nil {
				return nil, fmt.Errorf("failed to decode levels of %s: %w", record.Id, err)
			}
		}
		var fields map[string]string
		if raw := record.GetString("fields"); raw != "" && raw != "null" {
			if err := json.Unmarshal([]byte(raw), &fields); err != nil {
				return nil, fmt.Errorf("failed to decode fields of %s: %w", record.Id, err)
			}
		}
		rows[i] = models.Row{
			StationID:  record.GetString("station_id"),
			Levels:     levels,
			PartyCode:  record.GetString("party_code"),
			PartyName:  record.GetString("party_name"),
			Votes:      record.GetString("votes"),
			Percent:    record.GetString("percentage"),
			SeatsPerc:  record.GetString("seats_percentage"),
			Seats:      record.GetString("seats"),
			Candidates: record.GetString("candidates"),
			Fields:     fields,
		}
	}
	return rows, nil
}

// Count returns the number of stored records
func (s *PocketBaseStore) Count() (int, error) {
	var total int
	err := s.app.Dao().DB().
		Select("count(*)").
		From(StationResultsCollection).
		Row(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return total, nil
}

// Close releases the PocketBase databases
func (s *PocketBaseStore) Close() error {
	return s.app.ResetBootstrapState()
}
