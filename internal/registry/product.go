package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
)

// Archive statuses accepted by SetArchiveStatus.
var ArchiveStatuses = []string{"archived", "certified", "restricted", "staged"}

// ArchiveStatusField is the document field holding the archive status.
const ArchiveStatusField = "ops:Tracking_Meta/ops:archive_status"

// ValidArchiveStatus reports whether s is a known archive status.
func ValidArchiveStatus(s string) bool {
	return slices.Contains(ArchiveStatuses, s)
}

// ProductClass returns the product class of the registered product lidvid.
// An unknown product returns ErrNotFound.
func (c *Client) ProductClass(ctx context.Context, lidvid string) (string, error) {
	src, err := c.GetDocument(ctx, c.index, lidvid, "product_class")
	if err != nil {
		return "", err
	}
	var doc struct {
		ProductClass string `json:"product_class"`
	}
	if err := json.Unmarshal(src, &doc); err != nil {
		return "", fmt.Errorf("decode product %s: %w", lidvid, err)
	}
	return doc.ProductClass, nil
}

// SetArchiveStatus updates the archive status of a registered product.
func (c *Client) SetArchiveStatus(ctx context.Context, lidvid, status string) error {
	if !ValidArchiveStatus(status) {
		return fmt.Errorf("invalid archive status %q", status)
	}
	if err := c.UpdateDocument(ctx, c.index, lidvid, map[string]any{ArchiveStatusField: status}); err != nil {
		return fmt.Errorf("set archive status of %s: %w", lidvid, err)
	}
	return nil
}
