package extract

import (
	"strings"

	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/parse"
)

// fieldAliases maps normalized header text onto canonical raw field keys.
var fieldAliases = map[string]string{
	"name":             "name",
	"product":          "name",
	"product name":     "name",
	"service":          "name",
	"service name":     "name",
	"application":      "name",
	"application name": "name",
	"app":              "name",
	"tool":             "name",
	"title":            "name",
	"item":             "name",
	"description":      "description",
	"desc":             "description",
	"details":          "description",
	"summary":          "description",
	"notes":            "description",
	"vendor":           "vendor",
	"supplier":         "vendor",
	"provider":         "vendor",
	"manufacturer":     "vendor",
	"publisher":        "vendor",
	"budget":           "budget",
	"cost":             "budget",
	"annual cost":      "budget",
	"annual spend":     "budget",
	"spend":            "budget",
	"price":            "budget",
	"amount":           "budget",
	"owner":            "owner",
	"business owner":   "owner",
	"owned by":         "owner",
	"department":       "owner",
	"team":             "owner",
	"status":           "status",
	"state":            "status",
	"priority":         "priority",
	"category":         "category",
	"type":             "type",
	"kind":             "type",
}

// CanonicalField maps a column header or completion key to the raw field
// key consumers look up. Unknown headers become snake_case.
func CanonicalField(header string) string {
	h := strings.Join(strings.Fields(strings.ToLower(strings.NewReplacer("_", " ", "-", " ").Replace(header))), " ")
	if k, ok := fieldAliases[h]; ok {
		return k
	}
	return strings.ReplaceAll(h, " ", "_")
}

// rowItems converts table rows into raw items without a completion call.
// Rows with no name are counted in skipped.
func rowItems(tbl parse.Table, chunkID string, src model.SourceType) (items []model.RawExtractedItem, skipped int) {
	keys := make([]string, len(tbl.Header))
	nameCol, descCol := -1, -1
	for i, h := range tbl.Header {
		keys[i] = CanonicalField(h)
		switch {
		case keys[i] == "name" && nameCol < 0:
			nameCol = i
		case keys[i] == "description" && descCol < 0:
			descCol = i
		}
	}
	if nameCol < 0 {
		nameCol = 0
	}

	for _, row := range tbl.Rows {
		item := model.RawExtractedItem{
			RawFields:     make(map[string]model.FieldValue),
			SourceChunkID: chunkID,
			SourceType:    src,
		}
		for i, cell := range row {
			if i >= len(keys) || cell == "" {
				continue
			}
			switch i {
			case nameCol:
				item.Name = cell
			case descCol:
				item.Description = cell
			default:
				if _, dup := item.RawFields[keys[i]]; !dup && keys[i] != "" {
					item.RawFields[keys[i]] = model.ParseFieldValue(cell)
				}
			}
		}
		if strings.TrimSpace(item.Name) == "" {
			skipped++
			continue
		}
		items = append(items, item)
	}
	return items, skipped
}
