// Package analytics answers the administrator's household and consumption
// questions straight from the ledger tables.
package analytics

import (
	"context"
	"fmt"
	"strings"

	"github.com/bottlepoint/waterbot/pkg/db"
	"github.com/bottlepoint/waterbot/pkg/enums"
	"gorm.io/gorm"
)

// Report names one analysis offered to administrators.
type Report string

const (
	ReportHouseholdDistribution Report = "household_distribution"
	ReportWaterConsumption      Report = "water_consumption"
	ReportAverageBottles        Report = "avg_bottles"
)

// Reports lists the analyses in menu order.
var Reports = []Report{ReportHouseholdDistribution, ReportWaterConsumption, ReportAverageBottles}

func (r Report) Title() string {
	switch r {
	case ReportHouseholdDistribution:
		return "Household Distribution"
	case ReportWaterConsumption:
		return "Water Consumption Analysis"
	case ReportAverageBottles:
		return "Average Bottles Per Person"
	}
	return string(r)
}

func ParseReport(value string) (Report, bool) {
	for _, r := range Reports {
		if string(r) == value {
			return r, true
		}
	}
	return "", false
}

const (
	householdSizesSQL = `
SELECT member_count AS household_size, COUNT(*) AS households
FROM (
  SELECT h.id, COUNT(u.id) AS member_count
  FROM households h
  LEFT JOIN users u ON u.household_id = h.id
  GROUP BY h.id
) sizes
GROUP BY member_count
ORDER BY member_count ASC
`

	consumptionBySizeSQL = `
SELECT member_count AS household_size,
       COUNT(*) AS households,
       AVG(collected) AS avg_collected
FROM (
  SELECT h.id,
         (SELECT COUNT(*) FROM users u WHERE u.household_id = h.id) AS member_count,
         (SELECT COALESCE(SUM(t.bottles_charged), 0) FROM transactions t
           WHERE t.household_id = h.id AND t.kind = ?) AS collected
  FROM households h
) per_household
WHERE member_count > 0
GROUP BY member_count
ORDER BY member_count ASC
`

	totalsSQL = `
SELECT
  (SELECT COALESCE(SUM(bottle_balance), 0) FROM households) AS bottles,
  (SELECT COUNT(*) FROM users) AS residents
`
)

// SizeBucket is the number of households having Size members.
type SizeBucket struct {
	Size       int `gorm:"column:household_size"`
	Households int `gorm:"column:households"`
}

// ConsumptionBucket is the mean bottles collected by households of one size.
type ConsumptionBucket struct {
	Size         int     `gorm:"column:household_size"`
	Households   int     `gorm:"column:households"`
	AvgCollected float64 `gorm:"column:avg_collected"`
}

type Totals struct {
	Bottles   int `gorm:"column:bottles"`
	Residents int `gorm:"column:residents"`
}

// PerPerson is the mean bottle balance per registered resident.
func (t Totals) PerPerson() float64 {
	if t.Residents == 0 {
		return 0
	}
	return float64(t.Bottles) / float64(t.Residents)
}

type Service struct {
	conn *gorm.DB
}

func NewService(conn *gorm.DB) *Service {
	return &Service{conn: conn}
}

func (s *Service) HouseholdDistribution(ctx context.Context) ([]SizeBucket, error) {
	var rows []SizeBucket
	if err := s.conn.WithContext(ctx).Raw(householdSizesSQL).Scan(&rows).Error; err != nil {
		return nil, db.Classify(err, "household distribution")
	}
	return rows, nil
}

func (s *Service) WaterConsumption(ctx context.Context) ([]ConsumptionBucket, error) {
	var rows []ConsumptionBucket
	if err := s.conn.WithContext(ctx).Raw(consumptionBySizeSQL, string(enums.TransactionKindCollect)).Scan(&rows).Error; err != nil {
		return nil, db.Classify(err, "water consumption")
	}
	return rows, nil
}

func (s *Service) Totals(ctx context.Context) (Totals, error) {
	var totals Totals
	if err := s.conn.WithContext(ctx).Raw(totalsSQL).Scan(&totals).Error; err != nil {
		return Totals{}, db.Classify(err, "bottle totals")
	}
	return totals, nil
}

// Render runs report and formats it as chat text.
func (s *Service) Render(ctx context.Context, report Report) (string, error) {
	var b strings.Builder
	b.WriteString(report.Title())
	b.WriteString("\n")

	switch report {
	case ReportHouseholdDistribution:
		rows, err := s.HouseholdDistribution(ctx)
		if err != nil {
			return "", err
		}
		if len(rows) == 0 {
			b.WriteString("No households yet.")
		}
		for _, row := range rows {
			fmt.Fprintf(&b, "\n%d %s: %d %s", row.Size, plural(row.Size, "person", "people"), row.Households, plural(row.Households, "household", "households"))
		}

	case ReportWaterConsumption:
		rows, err := s.WaterConsumption(ctx)
		if err != nil {
			return "", err
		}
		if len(rows) == 0 {
			b.WriteString("No residents yet.")
		}
		for _, row := range rows {
			fmt.Fprintf(&b, "\nHousehold size %d: %.2f bottles collected on average (%d %s)",
				row.Size, row.AvgCollected, row.Households, plural(row.Households, "household", "households"))
		}

	case ReportAverageBottles:
		totals, err := s.Totals(ctx)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "\nAverage Bottles Per Person: %.2f", totals.PerPerson())

	default:
		return "", fmt.Errorf("unknown report %q", report)
	}
	return b.String(), nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
