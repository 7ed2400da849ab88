package graph

import "log/slog"

// normalizeChildren drops children that are neither a file nor a folder.
// OneNote packages (and any future facet) cannot be listed as directories
// nor downloaded as files, so they never reach a listing.
func normalizeChildren(items []Item, logger *slog.Logger) []Item {
	result := make([]Item, 0, len(items))

	for i := range items {
		if items[i].IsFile == items[i].IsFolder {
			logger.Debug("filtering out item without a single file/folder facet",
				slog.String("item_id", items[i].ID),
				slog.String("name", items[i].Name),
				slog.Bool("is_package", items[i].IsPackage),
			)

			continue
		}

		result = append(result, items[i])
	}

	if filtered := len(items) - len(result); filtered > 0 {
		logger.Info("filtered non-file items from listing",
			slog.Int("filtered_count", filtered),
			slog.Int("remaining_count", len(result)),
		)
	}

	return result
}
