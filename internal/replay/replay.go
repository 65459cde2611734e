// Package replay reads recorded runs back out of a database: it rebuilds JSON exports
// and moves runs from local SQLite dumps into the central database.
package replay

import (
	"errors"
	"fmt"
	"os"

	"github.com/nowa-engine/raycastvehicle/internal/database"
	"github.com/nowa-engine/raycastvehicle/internal/model"
	"github.com/nowa-engine/raycastvehicle/internal/model/convert"
	v1 "github.com/nowa-engine/raycastvehicle/internal/storage/memory/export/v1"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const batchSize = 2000

// LoadRunData reads a run and all its rows into the shape the export builder takes.
func LoadRunData(db *gorm.DB, runID uint) (*v1.RunData, error) {
	var run model.Run
	if err := db.First(&run, runID).Error; err != nil {
		return nil, fmt.Errorf("error getting run %d: %w", runID, err)
	}

	var vehicles []model.Vehicle
	if err := db.Where("run_id = ?", runID).Order("object_id").Find(&vehicles).Error; err != nil {
		return nil, fmt.Errorf("error getting vehicles: %w", err)
	}
	var wheels []model.Wheel
	if err := db.Where("run_id = ?", runID).Order("vehicle_object_id, handle").Find(&wheels).Error; err != nil {
		return nil, fmt.Errorf("error getting wheels: %w", err)
	}

	coreRun := convert.RunToCore(&run)
	data := &v1.RunData{
		Run:              &coreRun,
		SimulatorVersion: run.SimulatorVersion,
		Vehicles:         make(map[uint16]*v1.VehicleRecord, len(vehicles)),
	}
	for _, v := range vehicles {
		data.Vehicles[v.ObjectID] = &v1.VehicleRecord{Vehicle: convert.VehicleToCore(v, wheels)}
	}

	var samples []model.VehicleSample
	if err := db.Where("run_id = ?", runID).Order("capture_frame, id").Find(&samples).Error; err != nil {
		return nil, fmt.Errorf("error getting vehicle samples: %w", err)
	}
	for _, s := range samples {
		if rec, ok := data.Vehicles[s.VehicleObjectID]; ok {
			rec.Samples = append(rec.Samples, convert.VehicleSampleToCore(s))
		}
	}

	var events []model.RecoveryEvent
	if err := db.Where("run_id = ?", runID).Order("capture_frame, id").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("error getting recovery events: %w", err)
	}
	for _, e := range events {
		if rec, ok := data.Vehicles[e.VehicleObjectID]; ok {
			rec.Events = append(rec.Events, convert.RecoveryEventToCore(e))
		}
	}

	return data, nil
}

// BuildExport loads a run and builds its v1 export.
func BuildExport(db *gorm.DB, runID uint) (v1.Export, error) {
	data, err := LoadRunData(db, runID)
	if err != nil {
		return v1.Export{}, err
	}
	return v1.Build(data), nil
}

// MigrateBackups copies every run in the SQLite files at paths into dst. Runs whose
// UUID dst already holds are skipped. Each migrated file is renamed with a
// ".migrated" suffix. Returns the files that were migrated.
func MigrateBackups(dst *gorm.DB, paths []string, log zerolog.Logger) ([]string, error) {
	if err := database.Migrate(dst, log); err != nil {
		return nil, err
	}

	var migrated []string
	for _, path := range paths {
		src, err := database.OpenSqlite(path)
		if err != nil {
			return migrated, fmt.Errorf("error opening %s: %w", path, err)
		}

		n, err := migrateDB(src, dst, log)
		closeDB(src, log)
		if err != nil {
			return migrated, fmt.Errorf("error migrating %s: %w", path, err)
		}
		log.Info().Str("path", path).Int("runs", n).Msg("Migrated backup")

		if err := os.Rename(path, path+".migrated"); err != nil {
			log.Error().Err(err).Str("path", path).Msg("Error renaming sqlite file")
		}
		migrated = append(migrated, path)
	}
	return migrated, nil
}

func closeDB(db *gorm.DB, log zerolog.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Error().Err(err).Msg("Error getting sqlite connection")
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing sqlite connection")
	}
}

// migrateDB copies all runs from src to dst, one transaction per run.
func migrateDB(src, dst *gorm.DB, log zerolog.Logger) (int, error) {
	var runs []model.Run
	if err := src.Order("id").Find(&runs).Error; err != nil {
		return 0, fmt.Errorf("error reading runs: %w", err)
	}

	count := 0
	for _, run := range runs {
		var existing model.Run
		err := dst.Where("uuid = ?", run.UUID).First(&existing).Error
		if err == nil {
			log.Info().Str("run", run.UUID).Msg("Run already migrated, skipping")
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return count, err
		}

		err = dst.Transaction(func(tx *gorm.DB) error {
			return copyRun(src, tx, run)
		})
		if err != nil {
			return count, fmt.Errorf("run %s: %w", run.UUID, err)
		}
		count++
	}
	return count, nil
}

func copyRun(src, tx *gorm.DB, run model.Run) error {
	oldID := run.ID
	run.ID = 0
	run.Vehicles = nil
	if err := tx.Omit(clause.Associations).Create(&run).Error; err != nil {
		return fmt.Errorf("error inserting run: %w", err)
	}
	newID := run.ID

	if err := copyTable(src, tx, oldID, func(v *model.Vehicle) {
		v.RunID = newID
	}); err != nil {
		return fmt.Errorf("vehicles: %w", err)
	}
	if err := copyTable(src, tx, oldID, func(w *model.Wheel) {
		w.ID, w.RunID = 0, newID
	}); err != nil {
		return fmt.Errorf("wheels: %w", err)
	}
	if err := copyTable(src, tx, oldID, func(s *model.VehicleSample) {
		s.ID, s.RunID = 0, newID
	}); err != nil {
		return fmt.Errorf("vehicle samples: %w", err)
	}
	if err := copyTable(src, tx, oldID, func(e *model.RecoveryEvent) {
		e.ID, e.RunID = 0, newID
	}); err != nil {
		return fmt.Errorf("recovery events: %w", err)
	}
	if err := copyTable(src, tx, oldID, func(p *model.RecorderPerformance) {
		p.RunID = newID
	}); err != nil {
		return fmt.Errorf("performance: %w", err)
	}
	return nil
}

// copyTable copies every row of M belonging to runID, remapping keys with rekey.
func copyTable[M any](src, tx *gorm.DB, runID uint, rekey func(*M)) error {
	var rows []M
	if err := src.Where("run_id = ?", runID).Find(&rows).Error; err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	for i := range rows {
		rekey(&rows[i])
	}
	// parents were inserted already
	return tx.Omit(clause.Associations).CreateInBatches(&rows, batchSize).Error
}
