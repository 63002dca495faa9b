package dedup

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-ingest/internal/config"
	"github.com/sells-group/catalog-ingest/internal/model"
)

const crmDescription = "Customer relationship management suite used by the sales and account teams for pipeline tracking and forecasting"

func rawItem(order int, name, desc, vendor string) model.RawExtractedItem {
	it := model.RawExtractedItem{
		Name:          name,
		Description:   desc,
		RawFields:     map[string]model.FieldValue{},
		SourceChunkID: fmt.Sprintf("chunk-%04d", order),
		SourceType:    model.SourceTextBlock,
		Order:         order,
	}
	if vendor != "" {
		it.RawFields["vendor"] = model.StringValue(vendor)
	}
	return it
}

func crmItems() []model.RawExtractedItem {
	return []model.RawExtractedItem{
		rawItem(0, "Cloud CRM", crmDescription, "Salesforce"),
		rawItem(1, "Jira", "Issue tracking for engineering sprints", "Atlassian"),
		rawItem(2, "Cloud CRM Platform", crmDescription, "Salesforce"),
		rawItem(3, "Cloud CRM SaaS", crmDescription, "Salesforce"),
	}
}

func TestDedupe_NearDuplicates(t *testing.T) {
	d := New(config.DedupConfig{})
	res := d.Dedupe(crmItems())

	require.Len(t, res.Items, 2)
	assert.Equal(t, 2, res.DuplicatesRemoved)
	assert.Equal(t, "Cloud CRM", res.Items[0].Name)
	assert.Equal(t, "Jira", res.Items[1].Name)
	assert.Equal(t, 2, res.Items[0].DuplicateCount)
	assert.ElementsMatch(t, []string{"chunk-0002", "chunk-0003"}, res.Items[0].MergedChunkIDs)

	require.Len(t, res.Groups, 1)
	assert.ElementsMatch(t, []string{"Cloud CRM Platform", "Cloud CRM SaaS"}, res.Groups[0].Merged)
	assert.GreaterOrEqual(t, res.Groups[0].Similarity, DefaultThreshold)
}

func TestDedupe_ScenarioThreeVariants(t *testing.T) {
	items := crmItems()
	res := New(config.DedupConfig{Threshold: 0.85}).Dedupe([]model.RawExtractedItem{items[0], items[2], items[3]})
	require.Len(t, res.Items, 1)
	assert.Equal(t, 2, res.DuplicatesRemoved)
}

func TestDedupe_WinnerHasMostFields(t *testing.T) {
	items := crmItems()
	items[3].RawFields["budget"] = model.NumberValue(120000)
	res := New(config.DedupConfig{}).Dedupe(items)

	require.Len(t, res.Items, 2)
	assert.Equal(t, "Cloud CRM SaaS", res.Items[1].Name)
	assert.Equal(t, 3, res.Items[1].Order)
	assert.Equal(t, "Jira", res.Items[0].Name)
}

func TestDedupe_Idempotent(t *testing.T) {
	d := New(config.DedupConfig{})
	first := d.Dedupe(crmItems())
	second := d.Dedupe(first.Items)

	assert.Equal(t, 0, second.DuplicatesRemoved)
	assert.Equal(t, first.Items, second.Items)
}

func TestDedupe_DistinctItemsUntouched(t *testing.T) {
	items := []model.RawExtractedItem{
		rawItem(0, "Slack", "Team messaging", "Salesforce"),
		rawItem(1, "Zoom", "Video conferencing", "Zoom"),
		rawItem(2, "Okta", "Identity provider and SSO", "Okta"),
		rawItem(3, "", "", ""),
	}
	res := New(config.DedupConfig{}).Dedupe(items)
	assert.Len(t, res.Items, 4)
	assert.Equal(t, 0, res.DuplicatesRemoved)
	assert.Empty(t, res.Groups)
}

func TestDedupe_CaseAndAccentInsensitive(t *testing.T) {
	items := []model.RawExtractedItem{
		rawItem(0, "Café Ordering System", "Point of sale for the cafeteria and coffee bars", "Toast"),
		rawItem(1, "CAFE  ordering system", "point of sale for the cafeteria and coffee bars", "toast"),
	}
	res := New(config.DedupConfig{}).Dedupe(items)
	require.Len(t, res.Items, 1)
	assert.Equal(t, 1, res.DuplicatesRemoved)
}

func TestDedupe_Empty(t *testing.T) {
	res := New(config.DedupConfig{}).Dedupe(nil)
	assert.Empty(t, res.Items)
}

func TestDedupe_ManyItems(t *testing.T) {
	gen := func(order, i int) model.RawExtractedItem {
		return rawItem(order,
			fmt.Sprintf("App %06x", (i*2654435761)&0xffffff),
			fmt.Sprintf("owned by cost center %06x", (i*40503+7)%0xffffff),
			"")
	}
	var items []model.RawExtractedItem
	for i := 0; i < 2000; i++ {
		items = append(items, gen(i, i))
	}
	items = append(items, gen(2000, 5))

	res := New(config.DedupConfig{}).Dedupe(items)
	assert.Equal(t, 1, res.DuplicatesRemoved)
	assert.Len(t, res.Items, 2000)
	assert.Equal(t, 1, res.Items[5].DuplicateCount)
}

func TestSimilarityEstimate(t *testing.T) {
	d := New(config.DedupConfig{})
	items := crmItems()
	assert.Greater(t, d.Similarity(items[0], items[2]), 0.75)
	assert.Less(t, d.Similarity(items[0], items[1]), 0.3)
	assert.Equal(t, 1.0, d.Similarity(items[0], items[0]))
}

func TestNew_Defaults(t *testing.T) {
	d := New(config.DedupConfig{NumHashes: 100, Bands: 32})
	assert.Equal(t, 32, d.bands)
	assert.Equal(t, 3, d.rows)
	assert.Len(t, d.seeds, 96)
	assert.Equal(t, DefaultThreshold, d.threshold)
}

func TestSeedsDeterministic(t *testing.T) {
	assert.Equal(t, seeds(8), seeds(8))
	set := shingles("cloud crm")
	assert.Equal(t, signature(set, seeds(16)), signature(set, seeds(16)))
}
