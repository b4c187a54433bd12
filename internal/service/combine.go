package service

import (
	"strings"

	"github.com/google/uuid"

	"tabshare/internal/errs"
	"tabshare/internal/models"
)

// combineItems merges the selected items into one entry at the position of
// the first selected item. The merged entry keeps the first item's id, joins
// the names with " + ", sums the prices and records the pre-merge items in
// CombinedFrom so uncombineItem can restore them exactly. Inputs that were
// already merged are flattened into their own origins.
func combineItems(items []models.LineItem, selectedIDs []string) ([]models.LineItem, error) {
	if len(selectedIDs) < 2 {
		return nil, errs.New(errs.KindInvalidInput, "combining requires at least 2 items, got %d", len(selectedIDs))
	}

	selected := make(map[string]bool, len(selectedIDs))
	for _, id := range selectedIDs {
		selected[id] = true
	}

	var toMerge []models.LineItem
	for _, item := range items {
		if selected[item.ID] {
			toMerge = append(toMerge, item)
		}
	}
	if len(toMerge) != len(selectedIDs) {
		return nil, errs.New(errs.KindNotFound, "one or more selected items do not exist")
	}

	names := make([]string, len(toMerge))
	var price float64
	var origins []models.ItemOrigin
	for i, item := range toMerge {
		names[i] = item.Name
		price += item.Price
		if len(item.CombinedFrom) > 0 {
			origins = append(origins, item.CombinedFrom...)
		} else {
			origins = append(origins, models.ItemOrigin{ID: item.ID, Name: item.Name, Price: item.Price})
		}
	}

	combined := models.LineItem{
		ID:           toMerge[0].ID,
		Name:         strings.Join(names, " + "),
		Price:        price,
		CombinedFrom: origins,
	}

	result := make([]models.LineItem, 0, len(items)-len(toMerge)+1)
	for _, item := range items {
		switch {
		case item.ID == combined.ID:
			result = append(result, combined)
		case selected[item.ID]:
			// dropped into the merge
		default:
			result = append(result, item)
		}
	}
	return result, nil
}

// uncombineItem splits a merged entry back into its original items. The
// first restored item takes over the combined entry's id; the rest get fresh
// identifiers. Names and prices are restored exactly.
func uncombineItem(items []models.LineItem, itemID string) ([]models.LineItem, error) {
	var target *models.LineItem
	for i := range items {
		if items[i].ID == itemID {
			target = &items[i]
			break
		}
	}
	if target == nil {
		return nil, errs.New(errs.KindNotFound, "item not found: %s", itemID)
	}
	if len(target.CombinedFrom) < 2 {
		return nil, errs.New(errs.KindInvalidInput, "item %s is not a combined item", itemID)
	}

	restored := make([]models.LineItem, len(target.CombinedFrom))
	for i, origin := range target.CombinedFrom {
		id := uuid.New().String()
		if i == 0 {
			id = target.ID
		}
		restored[i] = models.LineItem{ID: id, Name: origin.Name, Price: origin.Price}
	}

	result := make([]models.LineItem, 0, len(items)+len(restored)-1)
	for _, item := range items {
		if item.ID == itemID {
			result = append(result, restored...)
			continue
		}
		result = append(result, item)
	}
	return result, nil
}
