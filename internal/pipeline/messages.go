package pipeline

import (
	"fmt"
)

// ProductMessage asks for a batch of label files to be registered.
type ProductMessage struct {
	JobID     string `json:"jobId"`
	NodeName  string `json:"nodeName"`
	Overwrite bool   `json:"overwrite"`

	// Files and IDs are parallel: IDs[i] is the lidvid of Files[i].
	Files []string `json:"files"`
	IDs   []string `json:"ids"`

	// FileRefRules are "prefix|replacement" path rewrites.
	FileRefRules []string `json:"fileRefRules"`
	DateFields   []string `json:"dateFields"`
}

// Validate rejects batches whose files cannot be matched to their ids.
func (m ProductMessage) Validate() error {
	if !m.Overwrite && len(m.Files) != len(m.IDs) {
		return fmt.Errorf("product batch %s has %d files but %d ids", m.JobID, len(m.Files), len(m.IDs))
	}
	return nil
}

// CollectionMessage asks for a collection's inventory to be written to the
// reference index.
type CollectionMessage struct {
	JobID             string `json:"jobId"`
	CollectionID      string `json:"collectionId"`
	InventoryFilePath string `json:"inventoryFilePath"`
}

// CommandMessage is an administrative request.
type CommandMessage struct {
	Command   string            `json:"command"`
	RequestID string            `json:"requestId"`
	Params    map[string]string `json:"params"`
}
