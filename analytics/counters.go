// Package analytics implements xronox's counters subsystem (spec §4.8):
// per-scope created/updated/deleted totals, named rule counters, and
// unique-value tracking, persisted to PostgreSQL the way the teacher's
// db/postgres.go persists RabbitLog rows — gorm.Open, AutoMigrate, and
// plain Create/Updates calls.
package analytics

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nx-intelligence/xronox/common"
	"github.com/nx-intelligence/xronox/config"
)

var log = common.NewLogger("analytics")

// CounterTotals is the per-scope row: one per (dbName, collection,
// tenantId). NamedRules holds each CounterRule's running count, keyed
// by rule name, marshaled to JSON the way the teacher's RabbitLog.Log
// field stores base64 text in a plain column.
type CounterTotals struct {
	ID         uint `gorm:"primaryKey"`
	DBName     string `gorm:"uniqueIndex:idx_scope"`
	Collection string `gorm:"uniqueIndex:idx_scope"`
	TenantID   string `gorm:"uniqueIndex:idx_scope"`
	Created    int64
	Updated    int64
	Deleted    int64
	NamedRules string `gorm:"type:text"` // JSON-encoded map[string]int64
	UpdatedAt  time.Time
}

func (CounterTotals) TableName() string { return "xronox_counter_totals" }

// UniqueValue is one row per distinct (ruleName, propertyName,
// propertyValue) seen within a scope (spec §4.8's countUnique).
type UniqueValue struct {
	ID            uint `gorm:"primaryKey"`
	DBName        string `gorm:"uniqueIndex:idx_unique"`
	Collection    string `gorm:"uniqueIndex:idx_unique"`
	TenantID      string `gorm:"uniqueIndex:idx_unique"`
	RuleName      string `gorm:"uniqueIndex:idx_unique"`
	PropertyName  string `gorm:"uniqueIndex:idx_unique"`
	PropertyValue string `gorm:"uniqueIndex:idx_unique"`
	FirstSeenAt   time.Time
}

func (UniqueValue) TableName() string { return "xronox_counter_unique" }

// Event is one committed write the counters subsystem observes.
type Event struct {
	DBName     string
	Collection string
	TenantID   string
	OpKind     string // CREATE, UPDATE, DELETE, RESTORE
	MetaScope  map[string]any
	PayloadScope map[string]any
}

func scopeKey(dbName, collection, tenantID string) string {
	return dbName + "|" + collection + "|" + tenantID
}

// Open connects to dsn and migrates the counter tables.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgresOpen(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("analytics: connecting to postgres: %w", err)
	}
	if err := db.AutoMigrate(&CounterTotals{}, &UniqueValue{}); err != nil {
		return nil, fmt.Errorf("analytics: migrating counter tables: %w", err)
	}
	return db, nil
}

// applyDelta adds one scope's accumulated totals/rule deltas to its row:
// FirstOrCreate loads (or creates) the row, then one Updates call adds
// the totals with `col + ?` expressions so a row counter is additive
// rather than last-write-wins. Named rule counts are merged in memory and
// written back as a whole.
func applyDelta(db *gorm.DB, d scopeDelta) error {
	var existing CounterTotals
	err := db.Where(CounterTotals{DBName: d.dbName, Collection: d.collection, TenantID: d.tenantID}).
		Attrs(CounterTotals{NamedRules: "{}"}).
		FirstOrCreate(&existing).Error
	if err != nil {
		return fmt.Errorf("analytics: loading counter row for %s: %w", d.key(), err)
	}

	rules := map[string]int64{}
	if existing.NamedRules != "" {
		_ = json.Unmarshal([]byte(existing.NamedRules), &rules)
	}
	for name, delta := range d.rules {
		rules[name] += delta
	}
	rulesJSON, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("analytics: encoding rule counters for %s: %w", d.key(), err)
	}

	return db.Model(&CounterTotals{}).Where("id = ?", existing.ID).
		Updates(map[string]any{
			"created":     gorm.Expr("created + ?", d.created),
			"updated":     gorm.Expr("updated + ?", d.updated),
			"deleted":     gorm.Expr("deleted + ?", d.deleted),
			"named_rules": string(rulesJSON),
			"updated_at":  time.Now().UTC(),
		}).Error
}

func insertUniqueValues(db *gorm.DB, rows []UniqueValue) error {
	if len(rows) == 0 {
		return nil
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

func ruleApplies(rule config.CounterRule, opKind string) bool {
	for _, on := range rule.On {
		if on == opKind {
			return true
		}
	}
	return false
}
