package auditlog

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type parquetRow struct {
	Seq        int64  `parquet:"name=seq, type=INT64"`
	Type       string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Attributes string `parquet:"name=attributes, type=BYTE_ARRAY, convertedtype=UTF8"`
	PrevDigest string `parquet:"name=prev_digest, type=BYTE_ARRAY, convertedtype=UTF8"`
	Digest     string `parquet:"name=digest, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt  string `parquet:"name=created_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ExportParquet writes every record created at or after since to path and
// returns the number of rows written.
func (s *Store) ExportParquet(ctx context.Context, path string, since time.Time) (int, error) {
	var rows []EventRecord
	err := s.db.WithContext(ctx).Where("created_at >= ?", since.UTC()).Order("seq ASC").Find(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("auditlog: load export rows: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("auditlog: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return 0, fmt.Errorf("auditlog: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		pr := &parquetRow{
			Seq:        int64(row.Seq),
			Type:       row.Type,
			Attributes: row.Attributes,
			PrevDigest: row.PrevDigest,
			Digest:     row.Digest,
			CreatedAt:  row.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return 0, fmt.Errorf("auditlog: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return 0, fmt.Errorf("auditlog: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return 0, fmt.Errorf("auditlog: close parquet file: %w", err)
	}
	return len(rows), nil
}
