package repository

import (
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestBuildLoadQuery_NoFilter(t *testing.T) {
	query, args := buildLoadQuery(ObservationFilter{})
	assert.Equal(t, "SELECT "+observationColumns+" FROM observations ORDER BY phenomenon_time, site_id, analyte_id, id", query)
	assert.Empty(t, args)
}

func TestBuildLoadQuery_NumbersPlaceholdersInOrder(t *testing.T) {
	snap := "SNAP"
	from := time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC)

	query, args := buildLoadQuery(ObservationFilter{
		SnapshotID: &snap,
		AnalyteIDs: []string{"7887", "348"},
		From:       &from,
		To:         &to,
	})

	assert.Contains(t, query, "WHERE snapshot_id = $1 AND analyte_id = ANY($2) AND phenomenon_time >= $3 AND phenomenon_time <= $4")
	assert.Equal(t, []interface{}{"SNAP", pq.Array([]string{"7887", "348"}), from, to}, args)
}

func TestBuildLoadQuery_Sites(t *testing.T) {
	query, args := buildLoadQuery(ObservationFilter{SiteIDs: []string{"S1"}})
	assert.Contains(t, query, "WHERE site_id = ANY($1)")
	assert.Len(t, args, 1)
}
