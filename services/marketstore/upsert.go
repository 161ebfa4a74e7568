package marketstore

import (
	"context"
	"fmt"
	"time"

	"twmarket_backend/models"
	"twmarket_backend/syncerr"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const upsertBatchSize = 500

// RowError describes one rejected record. The batch keeps going: a bad row
// never takes down the rows around it.
type RowError struct {
	Index  int    `json:"index"`
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// UpsertResult reports what one batch did to stored state. Re-applying an
// identical batch yields Inserted=0 and Updated=0: rows whose stored values
// already match are written through the conflict clause but not counted.
type UpsertResult struct {
	Inserted  int        `json:"inserted"`
	Updated   int        `json:"updated"`
	Rejected  int        `json:"rejected"`
	RowErrors []RowError `json:"row_errors,omitempty"`
}

// Partial reports whether some rows were rejected while others were written.
func (r UpsertResult) Partial() bool {
	return r.Rejected > 0 && (r.Inserted > 0 || r.Updated > 0)
}

func (r UpsertResult) String() string {
	return fmt.Sprintf("inserted=%d updated=%d rejected=%d", r.Inserted, r.Updated, r.Rejected)
}

func barKey(b *models.Bar) string {
	return fmt.Sprintf("%s/%s/%s", b.StockID, b.Timeframe, b.TS.UTC().Format(time.RFC3339))
}

// UpsertBars validates and writes a batch of bars with insert-or-update
// semantics on the natural key (stock_id, timeframe, ts). Row validation
// failures reject only the row; the surviving rows are written in a single
// transaction. A failed transaction rolls the whole batch back and surfaces
// as a storage error, distinct from row rejections.
func (s *Store) UpsertBars(ctx context.Context, bars []models.Bar) (UpsertResult, error) {
	var res UpsertResult

	valid := make([]models.Bar, 0, len(bars))
	for i := range bars {
		b := bars[i]
		if err := b.Validate(); err != nil {
			res.Rejected++
			res.RowErrors = append(res.RowErrors, RowError{Index: i, Key: barKey(&b), Reason: err.Error()})
			continue
		}
		valid = append(valid, b)
	}

	// Vendors occasionally repeat a key inside one payload; the newest value
	// wins, mirroring the store's last-writer conflict resolution.
	valid = dedupeBars(valid)
	if len(valid) == 0 {
		return res, nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		toWrite := make([]models.Bar, 0, len(valid))
		for i := range valid {
			b := valid[i]
			var existing models.Bar
			err := tx.Where("stock_id = ? AND timeframe = ? AND ts = ?", b.StockID, b.Timeframe, b.TS).
				First(&existing).Error
			switch {
			case err == gorm.ErrRecordNotFound:
				res.Inserted++
				toWrite = append(toWrite, b)
			case err != nil:
				return err
			case existing.SameValues(&b):
				// identical re-apply, leave the row untouched
			default:
				res.Updated++
				toWrite = append(toWrite, b)
			}
		}
		if len(toWrite) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "stock_id"}, {Name: "timeframe"}, {Name: "ts"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"open", "high", "low", "close", "adj_close", "volume", "updated_at",
			}),
		}).CreateInBatches(&toWrite, upsertBatchSize).Error
	})
	if err != nil {
		res.Inserted = 0
		res.Updated = 0
		return res, syncerr.Storage("marketstore.UpsertBars", err)
	}
	return res, nil
}

// UpsertFlows validates and writes institutional order-flow records on the
// natural key (date, stock_id, category). NetVolume is recomputed from the
// buy and sell legs before every write.
func (s *Store) UpsertFlows(ctx context.Context, flows []models.InstitutionalFlow) (UpsertResult, error) {
	var res UpsertResult

	valid := make([]models.InstitutionalFlow, 0, len(flows))
	for i := range flows {
		f := flows[i]
		f.Recompute()
		if err := f.Validate(); err != nil {
			res.Rejected++
			key := fmt.Sprintf("%s/%s/%s", f.Date.Format("2006-01-02"), f.StockID, f.Category)
			res.RowErrors = append(res.RowErrors, RowError{Index: i, Key: key, Reason: err.Error()})
			continue
		}
		valid = append(valid, f)
	}
	valid = dedupeFlows(valid)
	if len(valid) == 0 {
		return res, nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		toWrite := make([]models.InstitutionalFlow, 0, len(valid))
		for i := range valid {
			f := valid[i]
			var existing models.InstitutionalFlow
			err := tx.Where("date = ? AND stock_id = ? AND category = ?", f.Date, f.StockID, f.Category).
				First(&existing).Error
			switch {
			case err == gorm.ErrRecordNotFound:
				res.Inserted++
				toWrite = append(toWrite, f)
			case err != nil:
				return err
			case existing.SameValues(&f):
			default:
				res.Updated++
				toWrite = append(toWrite, f)
			}
		}
		if len(toWrite) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "date"}, {Name: "stock_id"}, {Name: "category"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"buy_volume", "sell_volume", "net_volume", "updated_at",
			}),
		}).CreateInBatches(&toWrite, upsertBatchSize).Error
	})
	if err != nil {
		res.Inserted = 0
		res.Updated = 0
		return res, syncerr.Storage("marketstore.UpsertFlows", err)
	}
	return res, nil
}

// UpsertOptionFactors validates and writes derivative factor records on the
// natural key (date, contract_id).
func (s *Store) UpsertOptionFactors(ctx context.Context, factors []models.OptionFactor) (UpsertResult, error) {
	var res UpsertResult

	valid := make([]models.OptionFactor, 0, len(factors))
	for i := range factors {
		o := factors[i]
		if err := o.Validate(); err != nil {
			res.Rejected++
			key := fmt.Sprintf("%s/%s", o.Date.Format("2006-01-02"), o.ContractID)
			res.RowErrors = append(res.RowErrors, RowError{Index: i, Key: key, Reason: err.Error()})
			continue
		}
		valid = append(valid, o)
	}
	valid = dedupeFactors(valid)
	if len(valid) == 0 {
		return res, nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		toWrite := make([]models.OptionFactor, 0, len(valid))
		for i := range valid {
			o := valid[i]
			var existing models.OptionFactor
			err := tx.Where("date = ? AND contract_id = ?", o.Date, o.ContractID).
				First(&existing).Error
			switch {
			case err == gorm.ErrRecordNotFound:
				res.Inserted++
				toWrite = append(toWrite, o)
			case err != nil:
				return err
			case existing.SameValues(&o):
			default:
				res.Updated++
				toWrite = append(toWrite, o)
			}
		}
		if len(toWrite) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "date"}, {Name: "contract_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"close_price", "settlement", "implied_vol", "open_interest", "updated_at",
			}),
		}).CreateInBatches(&toWrite, upsertBatchSize).Error
	})
	if err != nil {
		res.Inserted = 0
		res.Updated = 0
		return res, syncerr.Storage("marketstore.UpsertOptionFactors", err)
	}
	return res, nil
}

// RepairCompressedBars repairs bars inside the compressed region: the chunks
// covering [start, end] are decompressed, the batch applied, and the chunks
// compressed again. Operator-gated; the scheduled pipeline never calls this.
func (s *Store) RepairCompressedBars(ctx context.Context, start, end time.Time, bars []models.Bar) (UpsertResult, error) {
	if err := models.DecompressRange(s.db, "bars", start, end); err != nil {
		return UpsertResult{}, syncerr.Storage("marketstore.RepairCompressedBars", err)
	}
	res, upsertErr := s.UpsertBars(ctx, bars)
	if err := models.RecompressRange(s.db, "bars", start, end); err != nil {
		return res, syncerr.Storage("marketstore.RepairCompressedBars", err)
	}
	return res, upsertErr
}

func dedupeBars(bars []models.Bar) []models.Bar {
	seen := make(map[string]int, len(bars))
	out := make([]models.Bar, 0, len(bars))
	for i := range bars {
		key := barKey(&bars[i])
		if j, ok := seen[key]; ok {
			out[j] = bars[i]
			continue
		}
		seen[key] = len(out)
		out = append(out, bars[i])
	}
	return out
}

func dedupeFlows(flows []models.InstitutionalFlow) []models.InstitutionalFlow {
	seen := make(map[string]int, len(flows))
	out := make([]models.InstitutionalFlow, 0, len(flows))
	for i := range flows {
		key := fmt.Sprintf("%s/%s/%s", flows[i].Date.Format("2006-01-02"), flows[i].StockID, flows[i].Category)
		if j, ok := seen[key]; ok {
			out[j] = flows[i]
			continue
		}
		seen[key] = len(out)
		out = append(out, flows[i])
	}
	return out
}

func dedupeFactors(factors []models.OptionFactor) []models.OptionFactor {
	seen := make(map[string]int, len(factors))
	out := make([]models.OptionFactor, 0, len(factors))
	for i := range factors {
		key := fmt.Sprintf("%s/%s", factors[i].Date.Format("2006-01-02"), factors[i].ContractID)
		if j, ok := seen[key]; ok {
			out[j] = factors[i]
			continue
		}
		seen[key] = len(out)
		out = append(out, factors[i])
	}
	return out
}
