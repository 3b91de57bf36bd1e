package kustoingest

// FilterStats counts the rows removed by each filter stage.
type FilterStats struct {
	Read              int `json:"read" yaml:"read"`
	NotAfterWatermark int `json:"not_after_watermark" yaml:"not_after_watermark"`
	Missing           int `json:"missing" yaml:"missing"`
	Kept              int `json:"kept" yaml:"kept"`
}

// FilterRecords keeps the rows of batch strictly newer than wm, then drops
// rows with a missing value. Row order is preserved. A row whose timestamp
// could not be parsed never passes a valid watermark.
func FilterRecords(batch *RecordBatch, wm Watermark) (*RecordBatch, FilterStats) {
	out := &RecordBatch{}
	stats := FilterStats{}
	if batch == nil {
		return out, stats
	}
	out.Header = batch.Header
	stats.Read = len(batch.Records)

	width := len(batch.Header)
	for _, r := range batch.Records {
		if wm.Valid && (!r.TimestampValid || !r.Timestamp.After(wm.Time)) {
			stats.NotAfterWatermark++
			continue
		}
		if r.Missing(width) {
			stats.Missing++
			continue
		}
		out.Records = append(out.Records, r)
	}
	stats.Kept = len(out.Records)
	return out, stats
}
