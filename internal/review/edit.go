package review

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/scorer"
)

// ErrInvalidEdit marks an edit that cannot be parsed or would leave the item
// malformed.
var ErrInvalidEdit = eris.New("review: invalid edit")

// Edit is a reviewer's partial change to an item. Nil members are left as
// they are; an empty Owner clears the owner.
type Edit struct {
	Name        *string  `json:"name,omitempty"`
	Description *string  `json:"description,omitempty"`
	Type        *string  `json:"type,omitempty"`
	Category    *string  `json:"category,omitempty"`
	Vendor      *string  `json:"vendor,omitempty"`
	Budget      *float64 `json:"budget,omitempty"`
	Owner       *string  `json:"owner,omitempty"`
	Status      *string  `json:"status,omitempty"`
	Priority    *string  `json:"priority,omitempty"`
}

// ParseEdit builds an Edit from key=value pairs, as given on the command
// line.
func ParseEdit(pairs []string) (Edit, error) {
	var e Edit
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return Edit{}, eris.Wrapf(ErrInvalidEdit, "%q is not key=value", pair)
		}
		v = strings.TrimSpace(v)
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "name":
			e.Name = &v
		case "description":
			e.Description = &v
		case "type":
			e.Type = &v
		case "category":
			e.Category = &v
		case "vendor":
			e.Vendor = &v
		case "owner":
			e.Owner = &v
		case "status":
			e.Status = &v
		case "priority":
			e.Priority = &v
		case "budget":
			fv := model.ParseFieldValue(v)
			n, ok := fv.AsNumber()
			if !ok {
				return Edit{}, eris.Wrapf(ErrInvalidEdit, "budget %q is not a number", v)
			}
			e.Budget = &n
		default:
			return Edit{}, eris.Wrapf(ErrInvalidEdit, "field %q cannot be edited", k)
		}
	}
	return e, nil
}

// Validate rejects edits that would leave the item malformed.
func (e Edit) Validate() error {
	if e.Name != nil && strings.TrimSpace(*e.Name) == "" {
		return eris.Wrap(ErrInvalidEdit, "name cannot be empty")
	}
	if e.Type != nil {
		switch model.ItemType(strings.ToLower(strings.TrimSpace(*e.Type))) {
		case model.ItemTypeProduct, model.ItemTypeService:
		default:
			return eris.Wrapf(ErrInvalidEdit, "type must be product or service, got %q", *e.Type)
		}
	}
	if e.Budget != nil && *e.Budget < 0 {
		return eris.Wrap(ErrInvalidEdit, "budget cannot be negative")
	}
	return nil
}

// apply returns the edited item with a new version and rescored confidence.
// Fields the reviewer set are treated as confirmed.
func (e Edit) apply(item model.NormalizedItem) model.NormalizedItem {
	out := item.Clone()
	bd := scorer.Extend(item.Confidence)

	confirm := func(field string) {
		bd.Field(field, 1, fmt.Sprintf("%s confirmed by reviewer", field))
	}
	setString := func(field string, v *string) {
		if v == nil {
			return
		}
		s := strings.TrimSpace(*v)
		if field == "owner" && s == "" {
			out.SetField(field, "")
			bd.Drop(field).Reason("owner cleared by reviewer")
			return
		}
		if field == "status" || field == "priority" {
			s = strings.ToLower(s)
		}
		out.SetField(field, s)
		confirm(field)
	}

	if e.Name != nil {
		out.Name = strings.TrimSpace(*e.Name)
		confirm("name")
	}
	if e.Description != nil {
		out.Description = strings.TrimSpace(*e.Description)
		confirm("description")
	}
	if e.Type != nil {
		out.Type = model.ItemType(strings.ToLower(strings.TrimSpace(*e.Type)))
		bd.Type(1, "type confirmed by reviewer")
	}
	setString("category", e.Category)
	setString("vendor", e.Vendor)
	setString("owner", e.Owner)
	setString("status", e.Status)
	setString("priority", e.Priority)
	if e.Budget != nil {
		b := *e.Budget
		out.Budget = &b
		confirm("budget")
	}
	if e.Category != nil {
		out.Metadata.CategorySource = "reviewer"
	}

	out.Version = item.Version + 1
	out.Confidence = bd.Build()
	return out
}
