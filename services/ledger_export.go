package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"stepschool_go/models"
	"stepschool_go/services/ledger"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

const (
	exportStatusPending   = "pending"
	exportStatusCompleted = "completed"
	exportStatusFailed    = "failed"

	exportPageSize = 100
	voucherSheet   = "Vouchers"
	xlsxMIME       = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var voucherColumns = []interface{}{
	"Voucher Number", "Client", "Campus ID", "Kind", "Label", "Amount", "Amount Paid",
	"Balance", "Status", "Due Date", "Payment Method", "Payment Date", "Cancelled At",
}

// ObjectPutter is the slice of the S3 v2 client the export job needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// LedgerExportService writes the voucher ledger to xlsx and keeps a copy in S3.
type LedgerExportService struct {
	ledger *ledger.Service
	db     *gorm.DB
	putter ObjectPutter
	bucket string
	now    func() time.Time
}

// NewS3Client loads the default AWS v2 configuration for region.
func NewS3Client(ctx context.Context, region string) (*s3.Client, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// NewLedgerExportService creates the export job. putter may be nil when exports are disabled.
func NewLedgerExportService(ledgerSvc *ledger.Service, db *gorm.DB, putter ObjectPutter, bucket string) *LedgerExportService {
	return &LedgerExportService{
		ledger: ledgerSvc,
		db:     db,
		putter: putter,
		bucket: bucket,
		now:    time.Now,
	}
}

// WriteVoucherWorkbook writes one row per voucher into a single-sheet workbook.
func WriteVoucherWorkbook(w io.Writer, views []ledger.VoucherView) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", voucherSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(voucherSheet, "A1", &voucherColumns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	last, _ := excelize.ColumnNumberToName(len(voucherColumns))
	if err := f.SetCellStyle(voucherSheet, "A1", last+"1", header); err != nil {
		return fmt.Errorf("apply header style: %w", err)
	}
	if err := f.SetColWidth(voucherSheet, "A", last, 18); err != nil {
		return fmt.Errorf("column width: %w", err)
	}

	for i, v := range views {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{
			v.VoucherNumber,
			v.ClientName,
			v.CampusID,
			v.Kind,
			v.Label,
			v.Amount.InexactFloat64(),
			v.AmountPaid.InexactFloat64(),
			v.Balance.InexactFloat64(),
			string(v.Status),
			sheetDate(v.DueDate),
			v.PaymentMethod,
			sheetDate(v.PaymentDate),
			sheetDate(v.CancelledAt),
		}
		if err := f.SetSheetRow(voucherSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	return f.Write(w)
}

func sheetDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

// ExportLedger snapshots every voucher to S3 and records the outcome.
func (s *LedgerExportService) ExportLedger(ctx context.Context) (models.LedgerExport, error) {
	now := s.now().UTC()
	fileName := fmt.Sprintf("ledger_%s.xlsx", now.Format("2006-01-02"))
	record := models.LedgerExport{
		FileName: fileName,
		S3Key:    fmt.Sprintf("exports/ledger/%d/%02d/%s", now.Year(), now.Month(), fileName),
		Status:   exportStatusPending,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return record, fmt.Errorf("create export record: %w", err)
	}

	size, count, err := s.export(ctx, record.S3Key)
	updates := map[string]interface{}{
		"record_count": count,
		"file_size":    size,
		"status":       exportStatusCompleted,
	}
	if err != nil {
		updates["status"] = exportStatusFailed
		updates["error"] = err.Error()
	}
	if uerr := s.db.WithContext(ctx).Model(&record).Updates(updates).Error; uerr != nil {
		logrus.WithError(uerr).WithField("export_id", record.ID).Error("Failed to update export record")
	}
	if ferr := s.db.WithContext(ctx).First(&record, record.ID).Error; ferr != nil {
		logrus.WithError(ferr).WithField("export_id", record.ID).Warn("Failed to reload export record")
	}
	if err != nil {
		return record, err
	}

	logrus.WithFields(logrus.Fields{
		"s3_key":  record.S3Key,
		"records": count,
		"bytes":   size,
	}).Info("Ledger export uploaded")
	return record, nil
}

func (s *LedgerExportService) export(ctx context.Context, key string) (int64, int, error) {
	if s.putter == nil || s.bucket == "" {
		return 0, 0, fmt.Errorf("export bucket not configured")
	}

	var all []ledger.VoucherView
	for offset := 0; ; offset += exportPageSize {
		page, total, err := s.ledger.ListVouchers(ctx, ledger.System, ledger.VoucherFilter{
			Limit:  exportPageSize,
			Offset: offset,
		})
		if err != nil {
			return 0, 0, fmt.Errorf("load vouchers: %w", err)
		}
		all = append(all, page...)
		if len(page) == 0 || int64(len(all)) >= total {
			break
		}
	}

	var buf bytes.Buffer
	if err := WriteVoucherWorkbook(&buf, all); err != nil {
		return 0, len(all), fmt.Errorf("build workbook: %w", err)
	}
	size := int64(buf.Len())

	_, err := s.putter.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String(xlsxMIME),
	})
	if err != nil {
		return size, len(all), fmt.Errorf("upload export: %w", err)
	}
	return size, len(all), nil
}

// ListExports returns the most recent export records first.
func (s *LedgerExportService) ListExports(ctx context.Context, limit int) ([]models.LedgerExport, error) {
	if limit <= 0 || limit > 100 {
		limit = 30
	}
	var exports []models.LedgerExport
	if err := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Limit(limit).Find(&exports).Error; err != nil {
		return nil, fmt.Errorf("failed to retrieve ledger exports: %w", err)
	}
	return exports, nil
}

// StartScheduler runs ExportLedger on schedule (UTC). Overlapping runs are skipped.
func (s *LedgerExportService) StartScheduler(schedule string) (*cron.Cron, error) {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := s.ExportLedger(ctx); err != nil {
			logrus.WithError(err).Warn("scheduled ledger export failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid export schedule %q: %w", schedule, err)
	}
	c.Start()
	logrus.WithField("schedule", schedule).Info("Ledger export scheduler started")
	return c, nil
}
