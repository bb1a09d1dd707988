package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/himanishpuri/abrpeaks/internal/waveform"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const DefaultDBFile = "abrpeaks.sqlite3"
const errDBClientNil = "db client is nil"

type DBClient struct {
	DB *gorm.DB
	db *sql.DB
}

// Analysis is one saved analysis: a recording, one frequency and the person
// who scored it.
type Analysis struct {
	ID        string  `gorm:"primaryKey;type:varchar(36)"`
	Filename  string  `gorm:"uniqueIndex:idx_analysis_unique,priority:1;index:idx_analysis_file" json:"filename"`
	Frequency float64 `gorm:"uniqueIndex:idx_analysis_unique,priority:2" json:"frequency"`
	Analyzer  string  `gorm:"uniqueIndex:idx_analysis_unique,priority:3" json:"analyzer"`
	// Threshold is stored as text so that NaN (unset) and the infinities
	// survive the round trip.
	Threshold string `json:"threshold"`
	Filter    string `json:"filter"`
	Levels    int    `json:"levels"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PointRecord is one feature of one level. Latency and Amplitude are NULL
// for unscorable points.
type PointRecord struct {
	ID         uint     `gorm:"primaryKey;autoIncrement"`
	AnalysisID string   `gorm:"type:varchar(36);index:idx_point_analysis" json:"analysis_id"`
	Level      float64  `json:"level"`
	Feature    string   `gorm:"type:varchar(8)" json:"feature"`
	SampleIdx  int      `json:"index"`
	Latency    *float64 `json:"latency"`
	Amplitude  *float64 `json:"amplitude"`
	Unscorable bool     `json:"unscorable"`
	Estimated  bool     `json:"estimated"`
}

func NewDBClient() (*DBClient, error) {
	dbPath := os.Getenv("ABR_DB_PATH")
	if dbPath == "" {
		dbPath = DefaultDBFile
	}
	return NewDBClientWithPath(dbPath)
}

func NewDBClientWithPath(dbPath string) (*DBClient, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil && !os.IsExist(err) {
		if filepath.Dir(dbPath) != "." {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?_foreign_keys=on"), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Analysis{}, &PointRecord{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &DBClient{DB: db, db: sqlDB}, nil
}

func (c *DBClient) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// SaveAnalysis stores a and its points, replacing any earlier analysis of the
// same recording, frequency and analyzer. It returns the analysis ID, which
// is kept across replacements.
func (c *DBClient) SaveAnalysis(a *Analysis, points []PointRecord) (string, error) {
	if c == nil || c.DB == nil {
		return "", errors.New(errDBClientNil)
	}

	err := c.DB.Transaction(func(tx *gorm.DB) error {
		var existing Analysis
		err := tx.Where("filename = ? AND frequency = ? AND analyzer = ?", a.Filename, a.Frequency, a.Analyzer).
			First(&existing).Error
		switch {
		case err == nil:
			a.ID = existing.ID
			a.CreatedAt = existing.CreatedAt
			if err := tx.Where("analysis_id = ?", a.ID).Delete(&PointRecord{}).Error; err != nil {
				return fmt.Errorf("deleting old points: %w", err)
			}
			if err := tx.Save(a).Error; err != nil {
				return fmt.Errorf("updating analysis: %w", err)
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			a.ID = uuid.NewString()
			if err := tx.Create(a).Error; err != nil {
				return fmt.Errorf("creating analysis: %w", err)
			}
		default:
			return fmt.Errorf("querying existing analysis: %w", err)
		}

		if len(points) == 0 {
			return nil
		}
		for i := range points {
			points[i].ID = 0
			points[i].AnalysisID = a.ID
		}
		if err := tx.CreateInBatches(points, 500).Error; err != nil {
			return fmt.Errorf("batch insert points: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return a.ID, nil
}

// GetAnalysis returns an analysis and its points ordered by level (highest
// first) and feature.
func (c *DBClient) GetAnalysis(id string) (*Analysis, []PointRecord, error) {
	if c == nil || c.DB == nil {
		return nil, nil, errors.New(errDBClientNil)
	}
	var a Analysis
	if err := c.DB.Where("id = ?", id).First(&a).Error; err != nil {
		return nil, nil, notFound(err, "analysis "+id)
	}
	points, err := c.points(a.ID)
	if err != nil {
		return nil, nil, err
	}
	return &a, points, nil
}

// FindAnalysis looks an analysis up by recording, frequency and analyzer.
func (c *DBClient) FindAnalysis(filename string, frequency float64, analyzer string) (*Analysis, []PointRecord, error) {
	if c == nil || c.DB == nil {
		return nil, nil, errors.New(errDBClientNil)
	}
	var a Analysis
	err := c.DB.Where("filename = ? AND frequency = ? AND analyzer = ?", filename, frequency, analyzer).First(&a).Error
	if err != nil {
		return nil, nil, notFound(err, fmt.Sprintf("analysis of %s at %g Hz", filepath.Base(filename), frequency))
	}
	points, err := c.points(a.ID)
	if err != nil {
		return nil, nil, err
	}
	return &a, points, nil
}

func (c *DBClient) points(id string) ([]PointRecord, error) {
	var rows []PointRecord
	if err := c.DB.Where("analysis_id = ?", id).Order("level desc").Order("feature").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying points: %w", err)
	}
	return rows, nil
}

// IsAnalyzed reports whether anyone saved an analysis of the recording at
// this frequency.
func (c *DBClient) IsAnalyzed(filename string, frequency float64) (bool, error) {
	if c == nil || c.DB == nil {
		return false, errors.New(errDBClientNil)
	}
	var count int64
	err := c.DB.Model(&Analysis{}).Where("filename = ? AND frequency = ?", filename, frequency).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("counting analyses: %w", err)
	}
	return count > 0, nil
}

// ListAnalyses returns all analyses, most recently updated first.
func (c *DBClient) ListAnalyses() ([]Analysis, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var rows []Analysis
	if err := c.DB.Order("updated_at desc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing analyses: %w", err)
	}
	return rows, nil
}

func (c *DBClient) GetPointCount(id string) (int, error) {
	if c == nil || c.DB == nil {
		return 0, errors.New(errDBClientNil)
	}
	var count int64
	if err := c.DB.Model(&PointRecord{}).Where("analysis_id = ?", id).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting points: %w", err)
	}
	return int(count), nil
}

func (c *DBClient) DeleteAnalysis(id string) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	return c.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("analysis_id = ?", id).Delete(&PointRecord{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&Analysis{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("analysis %s: %w", id, waveform.ErrNotFound)
		}
		return nil
	})
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, waveform.ErrNotFound)
	}
	return fmt.Errorf("querying %s: %w", what, err)
}

// EncodeFloat and DecodeFloat keep NaN and the infinities intact in text
// columns.
func EncodeFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func DecodeFloat(s string) (float64, error) {
	if s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// Nullable maps NaN to NULL.
func Nullable(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

// FromNullable maps NULL back to NaN.
func FromNullable(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
